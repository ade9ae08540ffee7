package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/pairtalk/pairtalk/internal/bus"
	"github.com/pairtalk/pairtalk/internal/invite"
	"github.com/pairtalk/pairtalk/internal/rtdb"
)

var (
	// ErrConversationFull is returned when a join targets a conversation
	// that already has both members.
	ErrConversationFull = errors.New("conversation is already full")

	// ErrNotMember is returned when a user acts on a conversation they do
	// not belong to.
	ErrNotMember = errors.New("not a member of this conversation")
)

const (
	conversationsPath = "conversations"
	messagesPath      = "messages"
)

// Manager owns the conversation lifecycle: pending on create, active once
// the second member joins, gone on delete.
type Manager struct {
	db       *rtdb.DB
	resolver *invite.Resolver
	logger   *zap.Logger
}

// NewManager creates a conversation lifecycle manager.
func NewManager(db *rtdb.DB, logger *zap.Logger) *Manager {
	m := &Manager{db: db, logger: logger}
	m.resolver = invite.NewResolver(m)
	return m
}

// Resolver returns the invitation resolver bound to this manager's store.
func (m *Manager) Resolver() *invite.Resolver {
	return m.resolver
}

// QueryConversationsByToken implements invite.TokenQuerier: conversation ids
// whose live invitation holds the token, ascending by key.
func (m *Manager) QueryConversationsByToken(ctx context.Context, token string) ([]string, error) {
	snaps, err := m.db.QueryEqual(ctx, conversationsPath, "invitation/inviteId", token)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(snaps))
	for _, s := range snaps {
		ids = append(ids, s.Key)
	}
	return ids, nil
}

// Create starts a new pending conversation with the creator as its only
// member and a fresh invite token. The caller distributes the invite link.
func (m *Manager) Create(ctx context.Context, creatorID string) (*Conversation, error) {
	token, err := m.resolver.FreshToken(ctx)
	if err != nil {
		return nil, err
	}

	conv := &Conversation{
		ID:         m.db.Push(),
		Members:    map[string]bool{creatorID: true},
		Invitation: &Invitation{InviteID: token, Creator: creatorID},
	}
	if err := m.db.Write(ctx, conversationsPath+"/"+conv.ID, conv); err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	m.logger.Info("conversation created",
		zap.String("conversation", conv.ID), zap.String("creator", creatorID))
	return conv, nil
}

// Join adds userID to the conversation behind token and clears the
// invitation, moving the conversation from pending to active. The membership
// check and the write happen inside one store transaction, so two concurrent
// joins cannot both win. Joining a conversation the user already belongs to
// returns its id unchanged.
func (m *Manager) Join(ctx context.Context, token, userID string) (string, error) {
	convID, err := m.resolver.Resolve(ctx, token)
	if err != nil {
		return "", err
	}
	if err := m.join(ctx, convID, token, userID); err != nil {
		return "", err
	}
	m.logger.Info("conversation joined",
		zap.String("conversation", convID), zap.String("user", userID))
	return convID, nil
}

func (m *Manager) join(ctx context.Context, convID, token, userID string) error {
	return m.db.Txn(ctx, conversationsPath+"/"+convID, func(cur []byte) ([]byte, error) {
		if cur == nil {
			// Deleted between resolve and the transaction.
			return nil, invite.ErrInvalidInvite
		}
		var conv Conversation
		if err := json.Unmarshal(cur, &conv); err != nil {
			return nil, fmt.Errorf("decode conversation %s: %w", convID, err)
		}
		if conv.Members[userID] {
			return cur, nil
		}
		if len(conv.Members) >= MaxMembers {
			return nil, ErrConversationFull
		}
		if conv.Invitation == nil || conv.Invitation.InviteID != token {
			// The invitation changed under us; the token no longer stands.
			return nil, invite.ErrInvalidInvite
		}
		if conv.Members == nil {
			conv.Members = map[string]bool{}
		}
		conv.Members[userID] = true
		conv.Invitation = nil
		return json.Marshal(&conv)
	})
}

// WatchConversation returns raw change events for one conversation
// document, for consumers that cache membership and need to know when to
// re-read it. Teardown is mandatory.
func (m *Manager) WatchConversation(convID string, bufSize int) (<-chan bus.Event, func()) {
	return m.db.Watch(conversationsPath+"/"+convID, bufSize)
}

// Get reads a single conversation.
func (m *Manager) Get(ctx context.Context, convID string) (*Conversation, error) {
	snap, err := m.db.ReadOnce(ctx, conversationsPath+"/"+convID)
	if err != nil {
		return nil, err
	}
	return decode(snap)
}

// Delete removes the conversation and its whole message log. Only members
// may delete.
func (m *Manager) Delete(ctx context.Context, convID, userID string) error {
	conv, err := m.Get(ctx, convID)
	if err != nil {
		return err
	}
	if !conv.Members[userID] {
		return ErrNotMember
	}
	if err := m.db.Delete(ctx, conversationsPath+"/"+convID); err != nil {
		return err
	}
	if err := m.db.Delete(ctx, messagesPath+"/"+convID); err != nil {
		return fmt.Errorf("cascade message log: %w", err)
	}
	m.logger.Info("conversation deleted",
		zap.String("conversation", convID), zap.String("user", userID))
	return nil
}

func decode(snap rtdb.Snapshot) (*Conversation, error) {
	var conv Conversation
	if err := snap.Decode(&conv); err != nil {
		return nil, fmt.Errorf("decode conversation %s: %w", snap.Key, err)
	}
	conv.ID = snap.Key
	return &conv, nil
}
