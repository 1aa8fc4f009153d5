package bot

import (
	"context"
	"sync"

	"github.com/quenby/streamwarden/platform"
)

// Registry owns all live sessions, one per user. Constructed once by the
// composition root and shared with the admin HTTP surface, so single-
// instance semantics hold without package-level state.
type Registry struct {
	store    Storage
	gen      ContentGenerator
	factory  ConnectorFactory
	observer Observer
	opts     Options

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewRegistry(store Storage, gen ContentGenerator, factory ConnectorFactory, observer Observer, opts Options) *Registry {
	return &Registry{
		store:    store,
		gen:      gen,
		factory:  factory,
		observer: observer,
		opts:     opts,
		sessions: make(map[string]*Session),
	}
}

// StartSession brings up a session for the user. Starting a user who
// already has a running session returns ErrSessionRunning.
func (r *Registry) StartSession(ctx context.Context, userID string) error {
	r.mu.Lock()
	if s, ok := r.sessions[userID]; ok && s.Running() {
		r.mu.Unlock()
		return ErrSessionRunning
	}
	s := NewSession(userID, r.store, r.gen, r.factory, r.observer, r.opts)
	r.sessions[userID] = s
	r.mu.Unlock()

	if err := s.Start(ctx); err != nil {
		r.mu.Lock()
		delete(r.sessions, userID)
		r.mu.Unlock()
		return err
	}
	return nil
}

// StopSession tears the user's session down. Stopping a user with no
// session returns ErrNoSession.
func (r *Registry) StopSession(userID string) error {
	r.mu.Lock()
	s, ok := r.sessions[userID]
	if ok {
		delete(r.sessions, userID)
	}
	r.mu.Unlock()
	if !ok {
		return ErrNoSession
	}
	s.Stop()
	return nil
}

// RestartSession stops then starts the user's session.
func (r *Registry) RestartSession(ctx context.Context, userID string) error {
	if err := r.StopSession(userID); err != nil && err != ErrNoSession {
		return err
	}
	return r.StartSession(ctx, userID)
}

// PostManualFact posts generated content on demand through the user's
// running session.
func (r *Registry) PostManualFact(userID string, targets []platform.ID) error {
	r.mu.Lock()
	s, ok := r.sessions[userID]
	r.mu.Unlock()
	if !ok {
		return ErrNoSession
	}
	return s.PostManualFact(targets)
}

// Statuses snapshots every live session for the admin surface.
func (r *Registry) Statuses() []Status {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.Unlock()

	out := make([]Status, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.SessionStatus())
	}
	return out
}

// StatusOf reports one user's session state.
func (r *Registry) StatusOf(userID string) (Status, error) {
	r.mu.Lock()
	s, ok := r.sessions[userID]
	r.mu.Unlock()
	if !ok {
		return Status{UserID: userID}, ErrNoSession
	}
	return s.SessionStatus(), nil
}

// StopAll tears down every session; used at shutdown.
func (r *Registry) StopAll() {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	for _, s := range sessions {
		s.Stop()
	}
}
