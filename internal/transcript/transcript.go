// Package transcript maintains the ordered, append-only chat log of a
// session. Large results never appear inline; turns reference them through
// the artifact store.
package transcript

import (
	"fmt"
	"iter"
	"sync"

	"github.com/tabletalk/tabletalk/internal/artifact"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one immutable transcript entry: either literal text or a
// structured artifact reference, never both.
type Turn struct {
	Role Role          `json:"role"`
	Text string        `json:"text,omitempty"`
	Ref  *artifact.Ref `json:"ref,omitempty"`
}

func (t Turn) IsRef() bool {
	return t.Ref != nil
}

// ArtifactLookup is the subset of the artifact store the log needs to uphold
// its reference precondition.
type ArtifactLookup interface {
	Get(kind artifact.Kind, index int) (any, error)
}

// Log records turns in insertion order. Appended turns are never mutated,
// reordered, or deleted.
type Log struct {
	mu        sync.Mutex
	turns     []Turn
	artifacts ArtifactLookup
}

func NewLog(artifacts ArtifactLookup) *Log {
	return &Log{artifacts: artifacts}
}

// AppendText appends a literal turn.
func (l *Log) AppendText(role Role, text string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.turns = append(l.turns, Turn{Role: role, Text: text})
}

// AppendArtifactRef appends a turn referencing an already-stored artifact.
// A dangling reference is a programming error, not an expected condition.
func (l *Log) AppendArtifactRef(role Role, ref artifact.Ref) error {
	if l.artifacts != nil {
		if _, err := l.artifacts.Get(ref.Kind, ref.Index); err != nil {
			return fmt.Errorf("transcript: refusing dangling reference %s/%d: %w", ref.Kind, ref.Index, err)
		}
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	r := ref
	l.turns = append(l.turns, Turn{Role: role, Ref: &r})
	return nil
}

// All returns a restartable iterator over the turns in append order. The
// sequence is a snapshot: appends made after the call do not appear.
func (l *Log) All() iter.Seq[Turn] {
	l.mu.Lock()
	snapshot := make([]Turn, len(l.turns))
	copy(snapshot, l.turns)
	l.mu.Unlock()

	return func(yield func(Turn) bool) {
		for _, turn := range snapshot {
			if !yield(turn) {
				return
			}
		}
	}
}

// Len returns the number of recorded turns.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.turns)
}

// Since returns a copy of the turns appended at or after offset. Used by the
// orchestrator to report the turns a single question produced.
func (l *Log) Since(offset int) []Turn {
	l.mu.Lock()
	defer l.mu.Unlock()
	if offset < 0 {
		offset = 0
	}
	if offset >= len(l.turns) {
		return nil
	}
	out := make([]Turn, len(l.turns)-offset)
	copy(out, l.turns[offset:])
	return out
}
