package tui

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rivo/tview"
	"go.uber.org/zap"

	"github.com/pairtalk/pairtalk/internal/conversation"
	"github.com/pairtalk/pairtalk/internal/invite"
	"github.com/pairtalk/pairtalk/internal/message"
	"github.com/pairtalk/pairtalk/internal/presence"
)

const (
	pageInbox = "inbox"
	pageRoom  = "room"
)

// App is the terminal UI shell: an inbox page and a chat room page over the
// live domain watchers. Every watcher opened for a page is torn down before
// the next page starts its own.
type App struct {
	ui     *tview.Application
	pages  *tview.Pages
	logger *zap.Logger
	userID string

	convs   *conversation.Manager
	inbox   *conversation.Inbox
	msgs    *message.Log
	tracker *presence.Tracker

	statusBar *StatusBar
	inboxView *InboxView
	roomView  *RoomView

	mu        sync.Mutex
	current   *conversation.Conversation
	replyTo   string
	teardowns []func()
}

// New creates the TUI application.
func New(
	userID string,
	convs *conversation.Manager,
	inbox *conversation.Inbox,
	msgs *message.Log,
	tracker *presence.Tracker,
	logger *zap.Logger,
) *App {
	a := &App{
		ui:        tview.NewApplication(),
		pages:     tview.NewPages(),
		logger:    logger,
		userID:    userID,
		convs:     convs,
		inbox:     inbox,
		msgs:      msgs,
		tracker:   tracker,
		statusBar: NewStatusBar(userID),
		inboxView: NewInboxView(),
		roomView:  NewRoomView(),
	}
	a.wireInbox()
	a.wireRoom()

	root := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(a.pages, 0, 1, true).
		AddItem(a.statusBar, 1, 0, false)
	a.pages.AddPage(pageInbox, a.inboxView, true, true)
	a.pages.AddPage(pageRoom, a.roomView, true, false)
	a.ui.SetRoot(root, true)

	return a
}

// Run starts the UI loop and blocks until the user quits. A non-empty
// inviteToken routes straight into the join flow instead of the inbox.
func (a *App) Run(inviteToken string) error {
	if inviteToken != "" {
		a.joinFlow(inviteToken)
	} else {
		a.showInbox()
	}
	return a.ui.Run()
}

// Stop terminates the UI loop and tears down open watchers.
func (a *App) Stop() {
	a.teardownWatches()
	a.ui.Stop()
}

func (a *App) wireInbox() {
	a.inboxView.OnOpen(func(convID string) { a.openRoomByID(convID) })
	a.inboxView.OnNew(func() {
		conv, err := a.convs.Create(context.TODO(), a.userID)
		if err != nil {
			a.flashErr("create conversation", err)
			return
		}
		a.showInviteModal(conv, func() { a.openRoom(conv) })
	})
	a.inboxView.OnInvite(func(convID string) {
		conv, err := a.convs.Get(context.TODO(), convID)
		if err != nil {
			a.flashErr("load conversation", err)
			return
		}
		if !conv.Pending() {
			a.statusBar.Flash("conversation already has both members")
			return
		}
		a.showInviteModal(conv, nil)
	})
	a.inboxView.OnQuit(func() { a.ui.Stop() })
	a.inboxView.OnDelete(func(convID string) {
		a.confirm("Delete this conversation and all its messages?", func() {
			if err := a.convs.Delete(context.TODO(), convID, a.userID); err != nil {
				a.flashErr("delete conversation", err)
			}
		})
	})
}

func (a *App) wireRoom() {
	a.roomView.OnSend(func(text string) {
		a.mu.Lock()
		conv := a.current
		replyTo := a.replyTo
		a.replyTo = ""
		a.mu.Unlock()
		if conv == nil {
			return
		}
		a.roomView.SetReplying("")
		if _, err := a.msgs.Append(context.TODO(), conv.ID, a.userID, text, replyTo); err != nil {
			a.flashErr("send", err)
			return
		}
		if err := a.tracker.ClearTyping(context.TODO()); err != nil {
			a.logger.Warn("clear typing failed", zap.Error(err))
		}
	})
	a.roomView.OnType(func() {
		a.mu.Lock()
		conv := a.current
		a.mu.Unlock()
		if conv == nil {
			return
		}
		if err := a.tracker.Touch(context.TODO(), conv.ID); err != nil {
			a.logger.Warn("typing update failed", zap.Error(err))
		}
	})
	a.roomView.OnReply(func(msg *message.Message) {
		if !msg.Actionable() {
			a.statusBar.Flash("cannot reply to a deleted message")
			return
		}
		a.mu.Lock()
		a.replyTo = msg.ID
		a.mu.Unlock()
		a.roomView.SetReplying(msg.DisplayText())
	})
	a.roomView.OnDelete(func(msg *message.Message) {
		if !msg.Actionable() {
			return
		}
		a.mu.Lock()
		conv := a.current
		a.mu.Unlock()
		if conv == nil {
			return
		}
		if err := a.msgs.SoftDelete(context.TODO(), conv.ID, msg.ID); err != nil {
			a.flashErr("delete message", err)
		}
	})
	a.roomView.OnBack(func() { a.showInbox() })
}

func (a *App) showInbox() {
	a.teardownWatches()
	a.mu.Lock()
	a.current = nil
	a.replyTo = ""
	a.mu.Unlock()

	ch, teardown := a.inbox.Watch(a.userID, 64)
	a.trackTeardown(teardown)
	go func() {
		for convs := range ch {
			convs := convs
			a.ui.QueueUpdateDraw(func() {
				a.inboxView.Update(convs, a.userID)
			})
		}
	}()
	a.pages.SwitchToPage(pageInbox)
	a.ui.SetFocus(a.inboxView)
}

func (a *App) joinFlow(token string) {
	convID, err := a.convs.Join(context.TODO(), token, a.userID)
	if err != nil {
		a.notice(joinErrorText(err), func() { a.showInbox() })
		return
	}
	a.openRoomByID(convID)
}

func (a *App) openRoomByID(convID string) {
	conv, err := a.convs.Get(context.TODO(), convID)
	if err != nil {
		a.flashErr("open conversation", err)
		return
	}
	a.openRoom(conv)
}

func (a *App) openRoom(conv *conversation.Conversation) {
	a.teardownWatches()
	a.mu.Lock()
	a.current = conv
	a.replyTo = ""
	a.mu.Unlock()
	a.roomView.Reset()

	msgCh, msgTeardown := a.msgs.Watch(conv.ID, 64)
	a.trackTeardown(msgTeardown)
	go func() {
		for msgs := range msgCh {
			msgs := msgs
			a.ui.QueueUpdateDraw(func() {
				a.roomView.Update(msgs, a.userID)
			})
		}
	}()

	statusCh, statusTeardown := a.tracker.WatchStatus(64)
	a.trackTeardown(statusTeardown)
	go func() {
		for statuses := range statusCh {
			a.mu.Lock()
			current := a.current
			a.mu.Unlock()
			state := presence.PeerState(statuses, current, a.userID)
			a.ui.QueueUpdateDraw(func() {
				a.roomView.SetPeerState(state.String())
			})
		}
	}()

	// Membership can change underneath an open room (the peer joins or
	// deletes); keep the cached conversation fresh.
	a.watchMembership(conv.ID)

	a.pages.SwitchToPage(pageRoom)
	a.ui.SetFocus(a.roomView.Composer())
}

func (a *App) watchMembership(convID string) {
	events, unsub := a.convs.WatchConversation(convID, 16)
	a.trackTeardown(unsub)
	go func() {
		for range events {
			conv, err := a.convs.Get(context.TODO(), convID)
			if err == nil {
				a.mu.Lock()
				a.current = conv
				a.mu.Unlock()
				continue
			}
			// Conversation gone: the peer deleted it.
			a.ui.QueueUpdateDraw(func() {
				a.statusBar.Flash("conversation was deleted")
				a.showInbox()
			})
			return
		}
	}()
}

func (a *App) teardownWatches() {
	a.mu.Lock()
	teardowns := a.teardowns
	a.teardowns = nil
	a.mu.Unlock()
	for _, td := range teardowns {
		td()
	}
}

func (a *App) trackTeardown(td func()) {
	a.mu.Lock()
	a.teardowns = append(a.teardowns, td)
	a.mu.Unlock()
}

func (a *App) flashErr(op string, err error) {
	a.logger.Error(op+" failed", zap.Error(err))
	a.statusBar.Flash(fmt.Sprintf("%s failed: %v", op, err))
}

// notice shows a blocking modal with a single dismiss action.
func (a *App) notice(text string, onDismiss func()) {
	modal := tview.NewModal().
		SetText(text).
		AddButtons([]string{"OK"}).
		SetDoneFunc(func(int, string) {
			a.pages.RemovePage("notice")
			if onDismiss != nil {
				onDismiss()
			}
		})
	a.pages.AddPage("notice", modal, true, true)
}

func (a *App) confirm(text string, onYes func()) {
	modal := tview.NewModal().
		SetText(text).
		AddButtons([]string{"Cancel", "Delete"}).
		SetDoneFunc(func(_ int, label string) {
			a.pages.RemovePage("confirm")
			if label == "Delete" {
				onYes()
			}
		})
	a.pages.AddPage("confirm", modal, true, true)
}

func joinErrorText(err error) string {
	switch {
	case errors.Is(err, invite.ErrInvalidInvite):
		return "Invalid invite link."
	case errors.Is(err, conversation.ErrConversationFull):
		return "This conversation is already full!"
	default:
		return fmt.Sprintf("Could not join: %v", err)
	}
}
