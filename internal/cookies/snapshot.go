// Package cookies captures, persists and rotates the site session cookie.
package cookies

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/huru0825/kenpo-watcher/internal/browser"
)

// SessionKey names the cookie that identifies the site session.
const SessionKey = "_src_session"

// ErrNoSnapshot is returned by a Store that has nothing persisted yet.
var ErrNoSnapshot = errors.New("cookies: no snapshot stored")

// Entry is one persisted cookie.
type Entry struct {
	Name     string  `json:"name" yaml:"name"`
	Value    string  `json:"value" yaml:"value"`
	Domain   string  `json:"domain,omitempty" yaml:"domain,omitempty"`
	Path     string  `json:"path,omitempty" yaml:"path,omitempty"`
	Expires  float64 `json:"expires,omitempty" yaml:"expires,omitempty"`
	HTTPOnly bool    `json:"httpOnly,omitempty" yaml:"httpOnly,omitempty"`
	Secure   bool    `json:"secure,omitempty" yaml:"secure,omitempty"`
	SameSite string  `json:"sameSite,omitempty" yaml:"sameSite,omitempty"`
}

// Snapshot is the cookie jar at a point in time.
type Snapshot struct {
	CapturedAt time.Time `json:"capturedAt" yaml:"capturedAt"`
	Entries    []Entry   `json:"entries" yaml:"entries"`
}

// Store persists the latest snapshot.
type Store interface {
	Read(ctx context.Context) (Snapshot, error)
	Write(ctx context.Context, snap Snapshot) error
}

// Value returns the value of the named entry.
func (s Snapshot) Value(name string) (string, bool) {
	for _, e := range s.Entries {
		if e.Name == name {
			return e.Value, true
		}
	}
	return "", false
}

// Empty reports whether the snapshot carries no cookies.
func (s Snapshot) Empty() bool { return len(s.Entries) == 0 }

// FromBrowser builds a snapshot from a session's cookie jar.
func FromBrowser(jar []browser.Cookie, at time.Time) Snapshot {
	snap := Snapshot{CapturedAt: at.UTC(), Entries: make([]Entry, 0, len(jar))}
	for _, c := range jar {
		snap.Entries = append(snap.Entries, Entry{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  c.Expires,
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
			SameSite: c.SameSite,
		})
	}
	return snap
}

// Browser converts the snapshot back into session cookies.
func (s Snapshot) Browser() []browser.Cookie {
	out := make([]browser.Cookie, 0, len(s.Entries))
	for _, e := range s.Entries {
		out = append(out, browser.Cookie{
			Name:     e.Name,
			Value:    e.Value,
			Domain:   e.Domain,
			Path:     e.Path,
			Expires:  e.Expires,
			HTTPOnly: e.HTTPOnly,
			Secure:   e.Secure,
			SameSite: e.SameSite,
		})
	}
	return out
}

// Seed returns the stored snapshot, or fallback when the store is empty.
func Seed(ctx context.Context, st Store, fallback Snapshot) (Snapshot, error) {
	snap, err := st.Read(ctx)
	if errors.Is(err, ErrNoSnapshot) {
		return fallback, nil
	}
	if err != nil {
		return Snapshot{}, err
	}
	if snap.Empty() {
		return fallback, nil
	}
	return snap, nil
}

// ParseSeed reads operator-supplied cookies: either a JSON array of entries
// (as exported by browser devtools) or a full snapshot object. Blank input
// yields an empty snapshot. Entries without a domain are scoped to
// defaultDomain, and devtools sameSite spellings are mapped onto the
// Strict, Lax and None values the browser accepts.
func ParseSeed(raw, defaultDomain string) (Snapshot, error) {
	b := bytes.TrimSpace([]byte(raw))
	if len(b) == 0 {
		return Snapshot{}, nil
	}
	var snap Snapshot
	if b[0] == '[' {
		if err := json.Unmarshal(b, &snap.Entries); err != nil {
			return Snapshot{}, fmt.Errorf("parse seed cookies: %w", err)
		}
	} else {
		var err error
		if snap, err = (JSONCodec{}).Unmarshal(b); err != nil {
			return Snapshot{}, fmt.Errorf("parse seed cookies: %w", err)
		}
	}
	for i, e := range snap.Entries {
		n, err := e.normalize(defaultDomain)
		if err != nil {
			return Snapshot{}, fmt.Errorf("parse seed cookies: entry %d: %w", i, err)
		}
		snap.Entries[i] = n
	}
	return snap, nil
}

func (e Entry) normalize(domain string) (Entry, error) {
	if e.Name == "" {
		return e, errors.New("cookie without a name")
	}
	if e.Domain == "" {
		if domain == "" {
			return e, fmt.Errorf("cookie %q has no domain", e.Name)
		}
		e.Domain = domain
	}
	if e.Path == "" {
		e.Path = "/"
	}
	ss, err := sameSite(e.SameSite)
	if err != nil {
		return e, fmt.Errorf("cookie %q: %w", e.Name, err)
	}
	e.SameSite = ss
	// browsers drop SameSite=None cookies that are not Secure
	if ss == "None" {
		e.Secure = true
	}
	return e, nil
}

func sameSite(v string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "", "unspecified":
		return "", nil
	case "strict":
		return "Strict", nil
	case "lax":
		return "Lax", nil
	case "none", "no_restriction":
		return "None", nil
	default:
		return "", fmt.Errorf("unknown sameSite %q", v)
	}
}
