package identity

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const signInAttempts = 3

// Provider issues anonymous user identities. The id is minted once and
// persisted in the session directory, so the same user comes back across
// runs, mirroring how a hosted anonymous-auth service pins the identity to
// the client.
type Provider struct {
	path   string
	logger *zap.Logger

	mu        sync.Mutex
	userID    string
	callbacks []func(userID string)
}

// New creates a provider persisting the identity at path.
func New(path string, logger *zap.Logger) *Provider {
	return &Provider{path: path, logger: logger}
}

// SignInAnonymous returns the stable anonymous user id, creating and
// persisting one on first use. Failures are retried with doubling backoff;
// after the final attempt the error is returned and the app must not start.
func (p *Provider) SignInAnonymous(ctx context.Context) (string, error) {
	p.mu.Lock()
	if p.userID != "" {
		id := p.userID
		p.mu.Unlock()
		return id, nil
	}
	p.mu.Unlock()

	var lastErr error
	backoff := 100 * time.Millisecond
	for attempt := 1; attempt <= signInAttempts; attempt++ {
		id, err := p.loadOrCreate()
		if err == nil {
			p.mu.Lock()
			p.userID = id
			callbacks := append([]func(string){}, p.callbacks...)
			p.mu.Unlock()
			for _, cb := range callbacks {
				cb(id)
			}
			return id, nil
		}
		lastErr = err
		p.logger.Warn("anonymous sign-in failed",
			zap.Int("attempt", attempt), zap.Error(err))
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return "", ctx.Err()
		}
		backoff *= 2
	}
	return "", fmt.Errorf("anonymous sign-in: %w", lastErr)
}

// OnAuthChange registers fn to run when the identity becomes available. If
// sign-in already happened, fn runs immediately.
func (p *Provider) OnAuthChange(fn func(userID string)) {
	p.mu.Lock()
	id := p.userID
	p.callbacks = append(p.callbacks, fn)
	p.mu.Unlock()
	if id != "" {
		fn(id)
	}
}

// CurrentUser returns the signed-in user id, or "" before sign-in.
func (p *Provider) CurrentUser() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.userID
}

func (p *Provider) loadOrCreate() (string, error) {
	data, err := os.ReadFile(p.path)
	if err == nil {
		id := strings.TrimSpace(string(data))
		if _, perr := uuid.Parse(id); perr == nil {
			return id, nil
		}
		// Corrupt identity file: mint a fresh id below.
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("read identity: %w", err)
	}

	id := uuid.NewString()
	if err := os.MkdirAll(filepath.Dir(p.path), 0700); err != nil {
		return "", fmt.Errorf("create identity dir: %w", err)
	}
	if err := os.WriteFile(p.path, []byte(id+"\n"), 0600); err != nil {
		return "", fmt.Errorf("persist identity: %w", err)
	}
	return id, nil
}
