package cookies

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/huru0825/kenpo-watcher/internal/db"
	"github.com/huru0825/kenpo-watcher/internal/migrate"
	"go.uber.org/zap"
)

// ClosableStore is a Store holding resources.
type ClosableStore interface {
	Store
	io.Closer
}

// Open selects a backend from dsn:
//
//	postgres://... or postgresql://...   Postgres (migrations applied)
//	sqlite://path                        SQLite file
//	file://path or a bare path           single YAML file
//
// A nil codec picks the backend default: YAML for files, JSON otherwise.
func Open(ctx context.Context, dsn string, codec Codec, log *zap.Logger) (ClosableStore, error) {
	switch {
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		d, err := db.Open(ctx, dsn)
		if err != nil {
			return nil, err
		}
		if err := migrate.Up(ctx, d); err != nil {
			d.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		return NewPostgresStore(d, orDefault(codec, JSONCodec{}), log), nil

	case strings.HasPrefix(dsn, "sqlite://"):
		return OpenSQLite(strings.TrimPrefix(dsn, "sqlite://"), orDefault(codec, JSONCodec{}))

	case strings.HasPrefix(dsn, "file://"):
		return NewFileStore(strings.TrimPrefix(dsn, "file://"), orDefault(codec, YAMLCodec{})), nil

	case dsn == "":
		return nil, fmt.Errorf("cookie store dsn is empty")

	case strings.Contains(dsn, "://"):
		return nil, fmt.Errorf("unsupported cookie store %q", dsn)

	default:
		return NewFileStore(dsn, orDefault(codec, YAMLCodec{})), nil
	}
}

func orDefault(c, def Codec) Codec {
	if c == nil {
		return def
	}
	return c
}
