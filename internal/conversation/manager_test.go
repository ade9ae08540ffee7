package conversation

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/pairtalk/pairtalk/internal/bus"
	"github.com/pairtalk/pairtalk/internal/invite"
	"github.com/pairtalk/pairtalk/internal/rtdb"
)

func testManager(t *testing.T) *Manager {
	t.Helper()
	db, err := rtdb.Open(filepath.Join(t.TempDir(), "test.db"), bus.New())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewManager(db, zap.NewNop())
}

func TestCreateIsPending(t *testing.T) {
	m := testManager(t)
	ctx := context.Background()

	conv, err := m.Create(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if !conv.Pending() {
		t.Error("new conversation should be pending")
	}
	if len(conv.Members) != 1 || !conv.Members["alice"] {
		t.Errorf("members = %v, want {alice}", conv.Members)
	}
	if conv.Invitation.Creator != "alice" {
		t.Errorf("invitation creator = %q, want alice", conv.Invitation.Creator)
	}
	if got := len(conv.Invitation.InviteID); got != 10 {
		t.Errorf("token length = %d, want 10", got)
	}
}

func TestResolveUntilActive(t *testing.T) {
	m := testManager(t)
	ctx := context.Background()

	conv, err := m.Create(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	token := conv.Invitation.InviteID

	id, err := m.Resolver().Resolve(ctx, token)
	if err != nil {
		t.Fatal(err)
	}
	if id != conv.ID {
		t.Errorf("resolved id = %q, want %q", id, conv.ID)
	}

	if _, err := m.Join(ctx, token, "bob"); err != nil {
		t.Fatal(err)
	}
	// Active conversations no longer resolve: the token died with the
	// invitation.
	if _, err := m.Resolver().Resolve(ctx, token); !errors.Is(err, invite.ErrInvalidInvite) {
		t.Errorf("resolve after activation err = %v, want ErrInvalidInvite", err)
	}
}

func TestJoinTransitionsToActive(t *testing.T) {
	m := testManager(t)
	ctx := context.Background()

	conv, err := m.Create(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}

	id, err := m.Join(ctx, conv.Invitation.InviteID, "bob")
	if err != nil {
		t.Fatal(err)
	}
	if id != conv.ID {
		t.Errorf("joined id = %q, want %q", id, conv.ID)
	}

	got, err := m.Get(ctx, conv.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Pending() {
		t.Error("conversation still pending after join")
	}
	if len(got.Members) != 2 || !got.Members["alice"] || !got.Members["bob"] {
		t.Errorf("members = %v, want {alice, bob}", got.Members)
	}
	if got.Peer("alice") != "bob" {
		t.Errorf("Peer(alice) = %q, want bob", got.Peer("alice"))
	}
}

func TestJoinActiveConversationIsFull(t *testing.T) {
	m := testManager(t)
	ctx := context.Background()

	conv, err := m.Create(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	token := conv.Invitation.InviteID
	if _, err := m.Join(ctx, token, "bob"); err != nil {
		t.Fatal(err)
	}

	// A third user who resolved the conversation before it went active
	// must be rejected by the conditional write.
	err = m.join(ctx, conv.ID, token, "carol")
	if !errors.Is(err, ErrConversationFull) {
		t.Errorf("err = %v, want ErrConversationFull", err)
	}

	got, _ := m.Get(ctx, conv.ID)
	if len(got.Members) != 2 {
		t.Errorf("members = %v, want exactly 2", got.Members)
	}
}

func TestJoinInvalidToken(t *testing.T) {
	m := testManager(t)

	_, err := m.Join(context.Background(), "nosuchtoken", "bob")
	if !errors.Is(err, invite.ErrInvalidInvite) {
		t.Errorf("err = %v, want ErrInvalidInvite", err)
	}
}

func TestJoinOwnConversationIsNoop(t *testing.T) {
	m := testManager(t)
	ctx := context.Background()

	conv, err := m.Create(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}

	// The creator opening their own invite link must not consume the
	// invitation.
	id, err := m.Join(ctx, conv.Invitation.InviteID, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if id != conv.ID {
		t.Errorf("id = %q, want %q", id, conv.ID)
	}
	got, _ := m.Get(ctx, conv.ID)
	if !got.Pending() {
		t.Error("conversation should still be pending for its second member")
	}
}

func TestJoinConcurrentExactlyOneWinner(t *testing.T) {
	m := testManager(t)
	ctx := context.Background()

	conv, err := m.Create(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	token := conv.Invitation.InviteID

	// Both joiners resolve while the conversation is still pending, then
	// race the conditional write.
	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i, user := range []string{"bob", "carol"} {
		wg.Add(1)
		go func(i int, user string) {
			defer wg.Done()
			err := m.join(ctx, conv.ID, token, user)
			errs[i] = err
		}(i, user)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
		} else if !errors.Is(err, ErrConversationFull) && !errors.Is(err, invite.ErrInvalidInvite) {
			t.Errorf("loser err = %v, want ErrConversationFull or ErrInvalidInvite", err)
		}
	}
	if wins != 1 {
		t.Errorf("winners = %d, want exactly 1", wins)
	}

	got, err := m.Get(ctx, conv.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Members) > MaxMembers {
		t.Errorf("members = %v, cap of %d violated", got.Members, MaxMembers)
	}
	if got.Pending() {
		t.Error("conversation should be active after the winning join")
	}
}

func TestDeleteCascadesAndChecksMembership(t *testing.T) {
	m := testManager(t)
	ctx := context.Background()

	conv, err := m.Create(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if err := m.db.Write(ctx, messagesPath+"/"+conv.ID+"/m1", map[string]any{"text": "hi"}); err != nil {
		t.Fatal(err)
	}

	if err := m.Delete(ctx, conv.ID, "mallory"); !errors.Is(err, ErrNotMember) {
		t.Errorf("non-member delete err = %v, want ErrNotMember", err)
	}

	if err := m.Delete(ctx, conv.ID, "alice"); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Get(ctx, conv.ID); !errors.Is(err, rtdb.ErrNotFound) {
		t.Errorf("get after delete err = %v, want ErrNotFound", err)
	}
	kids, err := m.db.Children(ctx, messagesPath+"/"+conv.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(kids) != 0 {
		t.Errorf("message log has %d entries after cascade, want 0", len(kids))
	}
}

func TestInboxWatch(t *testing.T) {
	m := testManager(t)
	inbox := NewInbox(m.db, zap.NewNop())
	ctx := context.Background()

	if _, err := m.Create(ctx, "alice"); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Create(ctx, "someone-else"); err != nil {
		t.Fatal(err)
	}

	ch, teardown := inbox.Watch("alice", 16)
	defer teardown()

	convs := waitForList(t, ch, 1)
	if len(convs) != 1 {
		t.Fatalf("got %d conversations, want 1", len(convs))
	}

	second, err := m.Create(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	convs = waitForList(t, ch, 2)
	if len(convs) != 2 {
		t.Fatalf("got %d conversations, want 2", len(convs))
	}
	if convs[0].ID != second.ID {
		t.Errorf("newest conversation = %q, want %q first", convs[0].ID, second.ID)
	}
}

func waitForList(t *testing.T, ch <-chan []Conversation, want int) []Conversation {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case convs := <-ch:
			if len(convs) == want {
				return convs
			}
		case <-deadline:
			t.Fatalf("timeout waiting for %d conversations", want)
		}
	}
}
