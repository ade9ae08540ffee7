package presence

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pairtalk/pairtalk/internal/conversation"
	"github.com/pairtalk/pairtalk/internal/rtdb"
)

const statusPath = "status"

// Tracker maintains the current user's presence record and watches
// everyone's. The store session's disconnect hook guarantees the record
// flips offline even when the client never says goodbye.
type Tracker struct {
	db      *rtdb.DB
	sess    *rtdb.Session
	userID  string
	timeout time.Duration
	logger  *zap.Logger

	mu       sync.Mutex
	hooked   bool
	typingIn string
	timer    *time.Timer
}

// NewTracker creates a presence tracker for userID. timeout is the typing
// inactivity window.
func NewTracker(db *rtdb.DB, sess *rtdb.Session, userID string, timeout time.Duration, logger *zap.Logger) *Tracker {
	return &Tracker{
		db:      db,
		sess:    sess,
		userID:  userID,
		timeout: timeout,
		logger:  logger,
	}
}

// GoOnline marks the user online. The first call also registers the
// on-disconnect fallback that forces offline on ungraceful termination.
func (t *Tracker) GoOnline(ctx context.Context) error {
	t.mu.Lock()
	if !t.hooked {
		t.sess.OnDisconnect(t.path(), map[string]any{"online": false, "typing": nil})
		t.hooked = true
	}
	t.mu.Unlock()

	if err := t.db.Update(ctx, t.path(), map[string]any{"online": true}); err != nil {
		return fmt.Errorf("go online: %w", err)
	}
	return nil
}

// GoOffline is the graceful sign-off.
func (t *Tracker) GoOffline(ctx context.Context) error {
	t.stopTimer()
	if err := t.db.Update(ctx, t.path(), map[string]any{"online": false, "typing": nil}); err != nil {
		return fmt.Errorf("go offline: %w", err)
	}
	return nil
}

// Touch records a keystroke in convID: typing points at the conversation
// and the inactivity timer restarts. When the timer expires without another
// Touch, typing clears on its own.
func (t *Tracker) Touch(ctx context.Context, convID string) error {
	t.mu.Lock()
	changed := t.typingIn != convID
	t.typingIn = convID
	if t.timer != nil {
		t.timer.Stop()
	}
	t.timer = time.AfterFunc(t.timeout, t.expireTyping)
	t.mu.Unlock()

	if !changed {
		return nil
	}
	if err := t.db.Update(ctx, t.path(), map[string]any{"typing": convID}); err != nil {
		return fmt.Errorf("set typing: %w", err)
	}
	return nil
}

// ClearTyping drops the typing marker immediately; called on send.
func (t *Tracker) ClearTyping(ctx context.Context) error {
	t.stopTimer()
	if err := t.db.Update(ctx, t.path(), map[string]any{"typing": nil}); err != nil {
		return fmt.Errorf("clear typing: %w", err)
	}
	return nil
}

// WatchStatus returns a live full mapping of user id to presence record,
// starting with the current state. Teardown is mandatory on view close.
func (t *Tracker) WatchStatus(bufSize int) (<-chan map[string]Record, func()) {
	out := make(chan map[string]Record, 1)
	events, unsub := t.db.Watch(statusPath, bufSize)
	stop := make(chan struct{})

	go func() {
		defer close(out)
		t.deliver(out)
		for {
			select {
			case <-events:
				t.deliver(out)
			case <-stop:
				return
			}
		}
	}()

	var once sync.Once
	return out, func() {
		once.Do(func() {
			unsub()
			close(stop)
		})
	}
}

// PeerState derives the display state of the other member of conv. Without
// loaded membership there is no peer to look up, so the state is offline.
func PeerState(statuses map[string]Record, conv *conversation.Conversation, selfID string) State {
	if conv == nil {
		return StateOffline
	}
	peer := conv.Peer(selfID)
	if peer == "" {
		return StateOffline
	}
	rec, ok := statuses[peer]
	switch {
	case ok && rec.Typing == conv.ID:
		return StateTyping
	case ok && rec.Online:
		return StateOnline
	default:
		return StateOffline
	}
}

func (t *Tracker) expireTyping() {
	t.mu.Lock()
	t.typingIn = ""
	t.mu.Unlock()
	if err := t.db.Update(context.Background(), t.path(), map[string]any{"typing": nil}); err != nil {
		t.logger.Warn("typing expiry write failed", zap.Error(err))
	}
}

func (t *Tracker) stopTimer() {
	t.mu.Lock()
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.typingIn = ""
	t.mu.Unlock()
}

func (t *Tracker) deliver(out chan map[string]Record) {
	snaps, err := t.db.Children(context.Background(), statusPath)
	if err != nil {
		t.logger.Error("presence refresh failed", zap.Error(err))
		return
	}
	statuses := make(map[string]Record, len(snaps))
	for _, snap := range snaps {
		var rec Record
		if err := snap.Decode(&rec); err != nil {
			t.logger.Warn("bad presence record", zap.String("user", snap.Key), zap.Error(err))
			continue
		}
		statuses[snap.Key] = rec
	}
	// Replace a stale undelivered snapshot instead of queueing behind it.
	select {
	case <-out:
	default:
	}
	out <- statuses
}

func (t *Tracker) path() string {
	return statusPath + "/" + t.userID
}
