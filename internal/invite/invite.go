package invite

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
)

// ErrInvalidInvite is returned when a token resolves to no pending
// conversation.
var ErrInvalidInvite = errors.New("invite does not resolve")

const (
	tokenAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"
	tokenLength   = 10
	createRetries = 5
)

// TokenQuerier is the slice of the store the resolver needs: an equality
// query over conversation invitation tokens.
type TokenQuerier interface {
	QueryConversationsByToken(ctx context.Context, token string) ([]string, error)
}

// NewToken generates a random base36 invite token. At 36^10 the keyspace
// makes an accidental collision negligible, and Create still re-checks.
func NewToken() string {
	buf := make([]byte, tokenLength)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand failing means the platform is broken; nothing
		// sensible to return.
		panic(fmt.Sprintf("invite token entropy: %v", err))
	}
	for i, b := range buf {
		buf[i] = tokenAlphabet[int(b)%len(tokenAlphabet)]
	}
	return string(buf)
}

// Resolver resolves invite tokens to conversations.
type Resolver struct {
	q TokenQuerier
}

// NewResolver creates a resolver over the given store view.
func NewResolver(q TokenQuerier) *Resolver {
	return &Resolver{q: q}
}

// Resolve returns the conversation id holding the given live invite token.
// If duplicates ever exist the lowest conversation key wins, so every
// resolver picks the same one.
func (r *Resolver) Resolve(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", ErrInvalidInvite
	}
	ids, err := r.q.QueryConversationsByToken(ctx, token)
	if err != nil {
		return "", fmt.Errorf("resolve invite: %w", err)
	}
	if len(ids) == 0 {
		return "", ErrInvalidInvite
	}
	return ids[0], nil
}

// FreshToken generates a token that no pending conversation currently holds,
// retrying generation a bounded number of times.
func (r *Resolver) FreshToken(ctx context.Context) (string, error) {
	for i := 0; i < createRetries; i++ {
		token := NewToken()
		ids, err := r.q.QueryConversationsByToken(ctx, token)
		if err != nil {
			return "", fmt.Errorf("check invite token: %w", err)
		}
		if len(ids) == 0 {
			return token, nil
		}
	}
	return "", errors.New("invite token generation: exhausted retries")
}
