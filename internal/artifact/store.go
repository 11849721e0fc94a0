// Package artifact provides the session-scoped store for large result
// objects (tables and chart specs). Artifacts are stored by reference: the
// transcript records (kind, index) pairs instead of inlining payloads.
package artifact

import (
	"errors"
	"fmt"
	"sync"
)

var ErrNotFound = errors.New("artifact: not found")

type Kind string

const (
	KindTable Kind = "table"
	KindChart Kind = "chart"
)

func (k Kind) Valid() bool {
	switch k {
	case KindTable, KindChart:
		return true
	default:
		return false
	}
}

func ParseKind(raw string) (Kind, error) {
	kind := Kind(raw)
	if !kind.Valid() {
		return "", fmt.Errorf("invalid artifact kind %q", raw)
	}
	return kind, nil
}

// Ref is a structured pointer to a stored artifact.
type Ref struct {
	Kind  Kind `json:"kind"`
	Index int  `json:"index"`
}

// Store is an append-only, index-addressable artifact store. Indices are
// assigned per kind, monotonically from 0, and never reused. Slots are
// write-once: no update or delete exists. The mutex makes index assignment
// the sole serialization point should callers ever overlap.
type Store struct {
	mu      sync.Mutex
	entries map[Kind][]any
}

func NewStore() *Store {
	return &Store{entries: map[Kind][]any{}}
}

// Append stores payload under the next available index for kind and returns
// the assigned reference.
func (s *Store) Append(kind Kind, payload any) Ref {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[kind] = append(s.entries[kind], payload)
	return Ref{Kind: kind, Index: len(s.entries[kind]) - 1}
}

// Get returns the payload stored at (kind, index). It fails with ErrNotFound
// when the index was never assigned for that kind.
func (s *Store) Get(kind Kind, index int) (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	slots := s.entries[kind]
	if index < 0 || index >= len(slots) {
		return nil, fmt.Errorf("%w: %s/%d", ErrNotFound, kind, index)
	}
	return slots[index], nil
}

// Count returns the number of artifacts stored for kind.
func (s *Store) Count(kind Kind) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries[kind])
}
