package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/tabletalk/tabletalk/internal/observability"
)

var ErrSessionNotFound = errors.New("session: not found")

// Options are the caller-supplied overrides for a new session. Empty fields
// fall back to the service defaults the builder was composed with.
type Options struct {
	Driver     string `json:"driver,omitempty"`
	DSN        string `json:"dsn,omitempty"`
	SQLModel   string `json:"sql_model,omitempty"`
	ChartModel string `json:"chart_model,omitempty"`
}

// BuildFunc assembles a ready Session (connection opened and pinged, runner
// wired) for the given options. Connection failures here are fatal for the
// session: no question is ever accepted on a session that failed to build.
type BuildFunc func(ctx context.Context, id string, opts Options) (*Session, error)

// Registry tracks the open sessions of one service instance.
type Registry struct {
	build BuildFunc

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewRegistry(build BuildFunc) *Registry {
	return &Registry{
		build:    build,
		sessions: map[string]*Session{},
	}
}

func (r *Registry) Open(ctx context.Context, opts Options) (*Session, error) {
	if r.build == nil {
		return nil, errors.New("session builder is not configured")
	}
	id := newSessionID()
	sess, err := r.build(ctx, id, opts)
	if err != nil {
		return nil, fmt.Errorf("build session: %w", err)
	}

	r.mu.Lock()
	r.sessions[id] = sess
	r.mu.Unlock()

	observability.SessionOpened()
	return sess, nil
}

func (r *Registry) Get(id string) (*Session, error) {
	r.mu.Lock()
	sess, ok := r.sessions[id]
	r.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return sess, nil
}

// Close ends a session: its connection is released and its transcript and
// artifacts are dropped with it.
func (r *Registry) Close(id string) error {
	r.mu.Lock()
	sess, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}

	observability.SessionClosed()
	return sess.Close()
}

// CloseAll is used at shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, sess := range r.sessions {
		sessions = append(sessions, sess)
	}
	r.sessions = map[string]*Session{}
	r.mu.Unlock()

	for _, sess := range sessions {
		observability.SessionClosed()
		_ = sess.Close()
	}
}

func newSessionID() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return strconv.FormatInt(time.Now().UnixNano(), 16)
	}
	return hex.EncodeToString(buf)
}
