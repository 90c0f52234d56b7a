package cookies

import (
	"context"
	"fmt"

	"github.com/huru0825/kenpo-watcher/internal/db"
	"go.uber.org/zap"
)

const keepSnapshots = 20

// PostgresStore appends snapshots to cookie_snapshots and reads the newest.
type PostgresStore struct {
	db    *db.DB
	codec Codec
	log   *zap.Logger
}

func NewPostgresStore(d *db.DB, codec Codec, log *zap.Logger) *PostgresStore {
	return &PostgresStore{db: d, codec: codec, log: log.Named("cookiestore")}
}

func (s *PostgresStore) Read(ctx context.Context) (Snapshot, error) {
	var payload []byte
	err := s.db.QueryRow(ctx, `SELECT payload FROM cookie_snapshots ORDER BY captured_at DESC, id DESC LIMIT 1`).Scan(&payload)
	if db.IsNotFound(err) {
		return Snapshot{}, ErrNoSnapshot
	}
	if err != nil {
		return Snapshot{}, db.WrapNotFound(err)
	}
	return s.codec.Unmarshal(payload)
}

func (s *PostgresStore) Write(ctx context.Context, snap Snapshot) error {
	payload, err := s.codec.Marshal(snap)
	if err != nil {
		return err
	}
	if err := s.db.Exec(ctx, `INSERT INTO cookie_snapshots(captured_at, payload) VALUES ($1, $2)`, snap.CapturedAt, payload); err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	// pruning is best effort
	if err := s.db.Exec(ctx, `DELETE FROM cookie_snapshots WHERE id NOT IN (SELECT id FROM cookie_snapshots ORDER BY id DESC LIMIT $1)`, keepSnapshots); err != nil {
		s.log.Warn("prune snapshots failed", zap.Error(err))
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.db.Close()
	return nil
}
