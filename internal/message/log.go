package message

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pairtalk/pairtalk/internal/rtdb"
)

// ErrReplyDepth is returned when a reply targets a message that is itself a
// reply. Only one level of reply is modeled.
var ErrReplyDepth = errors.New("replies to replies are not supported")

const messagesPath = "messages"

// Log is the append-only message log of the conversations store. Messages
// are never physically removed one by one; deletion flips a flag, and only
// a whole-conversation cascade drops entries.
type Log struct {
	db     *rtdb.DB
	logger *zap.Logger
}

// NewLog creates a message log over the store.
func NewLog(db *rtdb.DB, logger *zap.Logger) *Log {
	return &Log{db: db, logger: logger}
}

// Append adds a message to the conversation's log and returns its id.
// Whitespace-only text is a silent no-op returning an empty id. replyTo, if
// set, must name an existing non-deleted top-level message in the same
// conversation.
func (l *Log) Append(ctx context.Context, convID, senderID, text, replyTo string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", nil
	}

	if replyTo != "" {
		target, err := l.Get(ctx, convID, replyTo)
		if err != nil {
			return "", fmt.Errorf("reply target: %w", err)
		}
		if target.IsDeleted {
			return "", fmt.Errorf("reply target %s: %w", replyTo, rtdb.ErrNotFound)
		}
		if target.ReplyTo != "" {
			return "", ErrReplyDepth
		}
	}

	id := l.db.Push()
	msg := &Message{
		SenderID:  senderID,
		Text:      text,
		Timestamp: time.Now().UnixMilli(),
		IsDeleted: false,
		ReplyTo:   replyTo,
	}
	if err := l.db.Write(ctx, entryPath(convID, id), msg); err != nil {
		return "", fmt.Errorf("append message: %w", err)
	}
	return id, nil
}

// SoftDelete flags the message as deleted. Idempotent: re-deleting a
// tombstone is a no-op. The flag never reverts.
func (l *Log) SoftDelete(ctx context.Context, convID, msgID string) error {
	msg, err := l.Get(ctx, convID, msgID)
	if err != nil {
		return err
	}
	if msg.IsDeleted {
		return nil
	}
	if err := l.db.Update(ctx, entryPath(convID, msgID), map[string]any{"isDeleted": true}); err != nil {
		return fmt.Errorf("soft delete %s: %w", msgID, err)
	}
	return nil
}

// Get reads a single message. The text of a deleted message is scrubbed.
func (l *Log) Get(ctx context.Context, convID, msgID string) (*Message, error) {
	snap, err := l.db.ReadOnce(ctx, entryPath(convID, msgID))
	if err != nil {
		return nil, err
	}
	return decode(snap)
}

// List returns the full current log in ascending order.
func (l *Log) List(ctx context.Context, convID string) ([]Message, error) {
	snaps, err := l.db.Children(ctx, messagesPath+"/"+convID)
	if err != nil {
		return nil, err
	}
	msgs := make([]Message, 0, len(snaps))
	for _, snap := range snaps {
		msg, err := decode(snap)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, *msg)
	}
	return msgs, nil
}

// Watch returns a channel delivering the entire current message set on
// every change, ascending log order, starting with the current state.
// Consumers re-render the full list per delivery. The returned teardown
// must be called when the chat view closes.
func (l *Log) Watch(convID string, bufSize int) (<-chan []Message, func()) {
	out := make(chan []Message, 1)
	events, unsub := l.db.Watch(messagesPath+"/"+convID, bufSize)
	stop := make(chan struct{})

	go func() {
		defer close(out)
		l.deliver(out, convID)
		for {
			select {
			case <-events:
				l.deliver(out, convID)
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

func (l *Log) deliver(out chan []Message, convID string) {
	msgs, err := l.List(context.Background(), convID)
	if err != nil {
		l.logger.Error("message log refresh failed",
			zap.Error(err), zap.String("conversation", convID))
		return
	}
	// Replace a stale undelivered snapshot instead of queueing behind it.
	select {
	case <-out:
	default:
	}
	out <- msgs
}

func entryPath(convID, msgID string) string {
	return messagesPath + "/" + convID + "/" + msgID
}

func decode(snap rtdb.Snapshot) (*Message, error) {
	var msg Message
	if err := snap.Decode(&msg); err != nil {
		return nil, fmt.Errorf("decode message %s: %w", snap.Key, err)
	}
	msg.ID = snap.Key
	if msg.IsDeleted {
		// The original body never leaves the log layer once deleted.
		msg.Text = ""
	}
	return &msg, nil
}
