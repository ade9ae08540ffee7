package rtdb

import (
	"context"
	"sync"
)

// Session represents one connected client. Updates registered via
// OnDisconnect are applied exactly once when the session ends, whether Close
// runs on graceful exit or from the deferred teardown after an ungraceful
// one. This is how presence flips to offline without the client's help.
type Session struct {
	db     *DB
	mu     sync.Mutex
	hooks  []disconnectHook
	closed bool
}

type disconnectHook struct {
	path   string
	fields map[string]any
}

// NewSession creates a client session on the store.
func (db *DB) NewSession() *Session {
	return &Session{db: db}
}

// OnDisconnect registers a field update to apply when the session closes.
func (s *Session) OnDisconnect(path string, fields map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.hooks = append(s.hooks, disconnectHook{path: path, fields: fields})
}

// Close ends the session and fires all registered disconnect hooks.
// Subsequent calls are no-ops.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	hooks := s.hooks
	s.hooks = nil
	s.mu.Unlock()

	var firstErr error
	for _, h := range hooks {
		if err := s.db.Update(ctx, h.path, h.fields); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
