package conversation

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/pairtalk/pairtalk/internal/rtdb"
)

// Inbox is a live view of the conversations a user belongs to. Each change
// under the conversations collection re-derives the whole filtered list, so
// consumers re-render from scratch on every delivery.
type Inbox struct {
	db     *rtdb.DB
	logger *zap.Logger
}

// NewInbox creates an inbox view driver.
func NewInbox(db *rtdb.DB, logger *zap.Logger) *Inbox {
	return &Inbox{db: db, logger: logger}
}

// Watch returns a channel of full conversation lists for userID, newest
// first, starting with the current state. Stale intermediate snapshots are
// replaced rather than queued. The returned teardown must be called when the
// view closes.
func (i *Inbox) Watch(userID string, bufSize int) (<-chan []Conversation, func()) {
	out := make(chan []Conversation, 1)
	events, unsub := i.db.Watch(conversationsPath, bufSize)
	stop := make(chan struct{})

	go func() {
		defer close(out)
		i.deliver(out, userID)
		for {
			select {
			case <-events:
				i.deliver(out, userID)
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

// List returns the user's conversations, newest first.
func (i *Inbox) List(ctx context.Context, userID string) ([]Conversation, error) {
	snaps, err := i.db.Children(ctx, conversationsPath)
	if err != nil {
		return nil, err
	}
	var convs []Conversation
	for _, snap := range snaps {
		conv, err := decode(snap)
		if err != nil {
			return nil, err
		}
		if conv.Members[userID] {
			convs = append(convs, *conv)
		}
	}
	// Children come back in creation order; the inbox shows newest first.
	for l, r := 0, len(convs)-1; l < r; l, r = l+1, r-1 {
		convs[l], convs[r] = convs[r], convs[l]
	}
	return convs, nil
}

func (i *Inbox) deliver(out chan []Conversation, userID string) {
	convs, err := i.List(context.Background(), userID)
	if err != nil {
		i.logger.Error("inbox refresh failed", zap.Error(err), zap.String("user", userID))
		return
	}
	// Replace a stale undelivered snapshot instead of queueing behind it.
	select {
	case <-out:
	default:
	}
	out <- convs
}
