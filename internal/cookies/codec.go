package cookies

import (
	"encoding/json"
	"fmt"

	"github.com/gorilla/securecookie"
	"gopkg.in/yaml.v3"
)

// Codec serializes snapshots for a Store.
type Codec interface {
	Marshal(Snapshot) ([]byte, error)
	Unmarshal([]byte) (Snapshot, error)
}

// JSONCodec is the plain JSON encoding, also used for the seed in config.
type JSONCodec struct{}

func (JSONCodec) Marshal(s Snapshot) ([]byte, error) { return json.Marshal(s) }

func (JSONCodec) Unmarshal(b []byte) (Snapshot, error) {
	var s Snapshot
	if err := json.Unmarshal(b, &s); err != nil {
		return Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	return s, nil
}

// YAMLCodec keeps file-backed snapshots human editable.
type YAMLCodec struct{}

func (YAMLCodec) Marshal(s Snapshot) ([]byte, error) { return yaml.Marshal(s) }

func (YAMLCodec) Unmarshal(b []byte) (Snapshot, error) {
	var s Snapshot
	if err := yaml.Unmarshal(b, &s); err != nil {
		return Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	return s, nil
}

const sealName = "kenpo_cookie_snapshot"

// SealedCodec signs and encrypts snapshots with securecookie so session
// values are not stored in the clear.
type SealedCodec struct {
	sc *securecookie.SecureCookie
}

// NewSealedCodec requires a 32 or 64 byte hash key; blockKey may be nil to
// sign without encrypting.
func NewSealedCodec(hashKey, blockKey []byte) (*SealedCodec, error) {
	if len(hashKey) != 32 && len(hashKey) != 64 {
		return nil, fmt.Errorf("cookie hash key must be 32 or 64 bytes, got %d", len(hashKey))
	}
	if n := len(blockKey); n != 0 && n != 16 && n != 24 && n != 32 {
		return nil, fmt.Errorf("cookie block key must be 16, 24 or 32 bytes, got %d", n)
	}
	sc := securecookie.New(hashKey, blockKey)
	sc.SetSerializer(securecookie.JSONEncoder{})
	sc.MaxAge(0)
	sc.MaxLength(0)
	return &SealedCodec{sc: sc}, nil
}

func (c *SealedCodec) Marshal(s Snapshot) ([]byte, error) {
	v, err := c.sc.Encode(sealName, s)
	if err != nil {
		return nil, fmt.Errorf("seal snapshot: %w", err)
	}
	return []byte(v), nil
}

func (c *SealedCodec) Unmarshal(b []byte) (Snapshot, error) {
	var s Snapshot
	if err := c.sc.Decode(sealName, string(b), &s); err != nil {
		return Snapshot{}, fmt.Errorf("unseal snapshot: %w", err)
	}
	return s, nil
}
