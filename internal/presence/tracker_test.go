package presence

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/pairtalk/pairtalk/internal/bus"
	"github.com/pairtalk/pairtalk/internal/conversation"
	"github.com/pairtalk/pairtalk/internal/rtdb"
)

const testTimeout = 50 * time.Millisecond

func testTracker(t *testing.T, userID string) (*Tracker, *rtdb.DB, *rtdb.Session) {
	t.Helper()
	db, err := rtdb.Open(filepath.Join(t.TempDir(), "test.db"), bus.New())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	sess := db.NewSession()
	return NewTracker(db, sess, userID, testTimeout, zap.NewNop()), db, sess
}

func readRecord(t *testing.T, db *rtdb.DB, userID string) Record {
	t.Helper()
	snap, err := db.ReadOnce(context.Background(), "status/"+userID)
	if err != nil {
		t.Fatal(err)
	}
	var rec Record
	if err := snap.Decode(&rec); err != nil {
		t.Fatal(err)
	}
	return rec
}

func TestGoOnlineAndUngracefulDisconnect(t *testing.T) {
	tracker, db, sess := testTracker(t, "alice")
	ctx := context.Background()

	if err := tracker.GoOnline(ctx); err != nil {
		t.Fatal(err)
	}
	if rec := readRecord(t, db, "alice"); !rec.Online {
		t.Error("online = false after GoOnline")
	}

	// Session teardown stands in for the connection dropping.
	if err := sess.Close(ctx); err != nil {
		t.Fatal(err)
	}
	if rec := readRecord(t, db, "alice"); rec.Online {
		t.Error("online = true after disconnect, want forced offline")
	}
}

func TestTypingExpiresWithoutInput(t *testing.T) {
	tracker, db, _ := testTracker(t, "alice")
	ctx := context.Background()

	if err := tracker.GoOnline(ctx); err != nil {
		t.Fatal(err)
	}
	if err := tracker.Touch(ctx, "c1"); err != nil {
		t.Fatal(err)
	}
	if rec := readRecord(t, db, "alice"); rec.Typing != "c1" {
		t.Errorf("typing = %q, want c1", rec.Typing)
	}

	deadline := time.After(2 * time.Second)
	for {
		rec := readRecord(t, db, "alice")
		if rec.Typing == "" {
			if !rec.Online {
				t.Error("expiry cleared online too, want typing only")
			}
			return
		}
		select {
		case <-deadline:
			t.Fatal("typing never expired")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestTouchKeepsTypingAlive(t *testing.T) {
	tracker, db, _ := testTracker(t, "alice")
	ctx := context.Background()

	if err := tracker.Touch(ctx, "c1"); err != nil {
		t.Fatal(err)
	}
	// Keep touching past the timeout window; the timer must keep resetting.
	for i := 0; i < 5; i++ {
		time.Sleep(testTimeout / 2)
		if err := tracker.Touch(ctx, "c1"); err != nil {
			t.Fatal(err)
		}
	}
	if rec := readRecord(t, db, "alice"); rec.Typing != "c1" {
		t.Errorf("typing = %q after continuous touches, want c1", rec.Typing)
	}
}

func TestClearTypingOnSend(t *testing.T) {
	tracker, db, _ := testTracker(t, "alice")
	ctx := context.Background()

	if err := tracker.Touch(ctx, "c1"); err != nil {
		t.Fatal(err)
	}
	if err := tracker.ClearTyping(ctx); err != nil {
		t.Fatal(err)
	}
	if rec := readRecord(t, db, "alice"); rec.Typing != "" {
		t.Errorf("typing = %q after send, want cleared", rec.Typing)
	}
}

func TestWatchStatusDeliversFullTable(t *testing.T) {
	tracker, db, _ := testTracker(t, "alice")
	ctx := context.Background()

	if err := tracker.GoOnline(ctx); err != nil {
		t.Fatal(err)
	}
	if err := db.Write(ctx, "status/bob", Record{Online: true}); err != nil {
		t.Fatal(err)
	}

	ch, teardown := tracker.WatchStatus(16)
	defer teardown()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case statuses := <-ch:
			if len(statuses) == 2 && statuses["alice"].Online && statuses["bob"].Online {
				return
			}
		case <-deadline:
			t.Fatal("never saw both presence records")
		}
	}
}

func TestPeerState(t *testing.T) {
	active := &conversation.Conversation{
		ID:      "c1",
		Members: map[string]bool{"alice": true, "bob": true},
	}
	pending := &conversation.Conversation{
		ID:      "c2",
		Members: map[string]bool{"alice": true},
	}

	tests := []struct {
		name     string
		statuses map[string]Record
		conv     *conversation.Conversation
		want     State
	}{
		{"typing here", map[string]Record{"bob": {Online: true, Typing: "c1"}}, active, StateTyping},
		{"typing elsewhere", map[string]Record{"bob": {Online: true, Typing: "c9"}}, active, StateOnline},
		{"online", map[string]Record{"bob": {Online: true}}, active, StateOnline},
		{"offline", map[string]Record{"bob": {Online: false}}, active, StateOffline},
		{"no record", map[string]Record{}, active, StateOffline},
		{"membership not loaded", map[string]Record{"bob": {Online: true}}, nil, StateOffline},
		{"no peer yet", map[string]Record{"bob": {Online: true}}, pending, StateOffline},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := PeerState(tt.statuses, tt.conv, "alice"); got != tt.want {
				t.Errorf("PeerState = %v, want %v", got, tt.want)
			}
		})
	}
}
