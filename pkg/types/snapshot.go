package types

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// PlaceholderText is served before the first successful fetch.
const PlaceholderText = "The time is not set"

// Error kinds reported by a snapshot source. Both are recoverable: the
// refresher logs them and keeps serving the last good snapshot.
var (
	// ErrFetch means the upstream could not be reached or answered with a
	// non-success status.
	ErrFetch = errors.New("fetch failed")

	// ErrParse means a response arrived but lacked the expected shape.
	ErrParse = errors.New("parse failed")
)

// Snapshot is one published value. The zero value is not useful; build one
// with Encode or Placeholder.
type Snapshot struct {
	version     uint64
	payload     []byte
	fetchedAt   time.Time
	placeholder bool
}

// Encode serializes v to JSON and wraps it in a Snapshot fetched at t.
func Encode(v any, t time.Time) (*Snapshot, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("types: encode snapshot: %w", err)
	}
	return &Snapshot{payload: b, fetchedAt: t.UTC()}, nil
}

// FromPayload wraps an already serialized JSON payload. b is copied.
func FromPayload(b []byte, t time.Time) (*Snapshot, error) {
	if !json.Valid(b) {
		return nil, fmt.Errorf("types: payload is not valid json: %w", ErrParse)
	}
	return &Snapshot{payload: bytes.Clone(b), fetchedAt: t.UTC()}, nil
}

// Placeholder returns the snapshot a store holds before anything is published.
func Placeholder() *Snapshot {
	b, _ := json.Marshal(PlaceholderText)
	return &Snapshot{payload: b, placeholder: true}
}

// WithVersion returns a copy of s carrying version v. s itself is unchanged.
func (s *Snapshot) WithVersion(v uint64) *Snapshot {
	c := *s
	c.version = v
	return &c
}

// Version is the store-assigned sequence number; 0 for the placeholder.
func (s *Snapshot) Version() uint64 { return s.version }

// FetchedAt is when the upstream data was obtained (zero for the placeholder).
func (s *Snapshot) FetchedAt() time.Time { return s.fetchedAt }

// IsPlaceholder reports whether s is the pre-fetch placeholder.
func (s *Snapshot) IsPlaceholder() bool { return s.placeholder }

// Payload returns the serialized JSON. Callers must not modify it.
func (s *Snapshot) Payload() []byte { return s.payload }

// Equal reports whether s and o carry byte-identical payloads. A nil snapshot
// is equal only to another nil.
func (s *Snapshot) Equal(o *Snapshot) bool {
	if s == nil || o == nil {
		return s == o
	}
	return bytes.Equal(s.payload, o.payload)
}
