package app

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/pairtalk/pairtalk/internal/bus"
	"github.com/pairtalk/pairtalk/internal/conversation"
	"github.com/pairtalk/pairtalk/internal/message"
	"github.com/pairtalk/pairtalk/internal/presence"
	"github.com/pairtalk/pairtalk/internal/rtdb"
)

// Exercises the whole happy path over one shared store: alice creates a
// conversation, bob joins through the invite token, and a message alice
// sends arrives on bob's live subscription.
func TestInviteToDeliveryFlow(t *testing.T) {
	db, err := rtdb.Open(filepath.Join(t.TempDir(), "flow.db"), bus.New())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })

	ctx := context.Background()
	logger := zap.NewNop()
	convs := conversation.NewManager(db, logger)
	msgs := message.NewLog(db, logger)

	conv, err := convs.Create(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}

	convID, err := convs.Join(ctx, conv.Invitation.InviteID, "bob")
	if err != nil {
		t.Fatal(err)
	}
	if convID != conv.ID {
		t.Fatalf("joined %q, want %q", convID, conv.ID)
	}

	// Bob is already watching when the message lands.
	ch, teardown := msgs.Watch(convID, 16)
	defer teardown()
	drainUntil(t, ch, 0)

	if _, err := msgs.Append(ctx, convID, "alice", "hi", ""); err != nil {
		t.Fatal(err)
	}
	got := drainUntil(t, ch, 1)
	if got[0].SenderID != "alice" || got[0].Text != "hi" {
		t.Errorf("delivered = %+v, want hi from alice", got[0])
	}

	active, err := convs.Get(ctx, convID)
	if err != nil {
		t.Fatal(err)
	}
	if active.Pending() {
		t.Error("conversation still pending after join")
	}
	if active.Peer("bob") != "alice" {
		t.Errorf("Peer(bob) = %q, want alice", active.Peer("bob"))
	}
}

// Presence flows through the same store: bob's status watcher sees alice
// come online and start typing in their conversation.
func TestPresenceVisibleToPeer(t *testing.T) {
	db, err := rtdb.Open(filepath.Join(t.TempDir(), "presence.db"), bus.New())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })

	ctx := context.Background()
	logger := zap.NewNop()
	convs := conversation.NewManager(db, logger)

	conv, err := convs.Create(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := convs.Join(ctx, conv.Invitation.InviteID, "bob"); err != nil {
		t.Fatal(err)
	}
	active, err := convs.Get(ctx, conv.ID)
	if err != nil {
		t.Fatal(err)
	}

	alice := presence.NewTracker(db, db.NewSession(), "alice", time.Second, logger)
	bob := presence.NewTracker(db, db.NewSession(), "bob", time.Second, logger)

	ch, teardown := bob.WatchStatus(16)
	defer teardown()

	if err := alice.GoOnline(ctx); err != nil {
		t.Fatal(err)
	}
	waitForState(t, ch, active, "bob", presence.StateOnline)

	if err := alice.Touch(ctx, active.ID); err != nil {
		t.Fatal(err)
	}
	waitForState(t, ch, active, "bob", presence.StateTyping)

	if err := alice.ClearTyping(ctx); err != nil {
		t.Fatal(err)
	}
	waitForState(t, ch, active, "bob", presence.StateOnline)
}

func drainUntil(t *testing.T, ch <-chan []message.Message, want int) []message.Message {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case msgs := <-ch:
			if len(msgs) == want {
				return msgs
			}
		case <-deadline:
			t.Fatalf("timeout waiting for %d messages", want)
		}
	}
}

func waitForState(t *testing.T, ch <-chan map[string]presence.Record, conv *conversation.Conversation, selfID string, want presence.State) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case statuses := <-ch:
			if presence.PeerState(statuses, conv, selfID) == want {
				return
			}
		case <-deadline:
			t.Fatalf("timeout waiting for peer state %v", want)
		}
	}
}
