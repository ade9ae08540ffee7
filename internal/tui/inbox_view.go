package tui

import (
	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/pairtalk/pairtalk/internal/conversation"
)

// InboxView lists the user's conversations. Keys: Enter opens, n starts a
// new conversation, i shows the invite link, d deletes.
type InboxView struct {
	*tview.Table
	convs []conversation.Conversation

	onOpen   func(convID string)
	onNew    func()
	onInvite func(convID string)
	onDelete func(convID string)
	onQuit   func()
}

// NewInboxView creates the inbox table.
func NewInboxView() *InboxView {
	table := tview.NewTable().
		SetSelectable(true, false).
		SetBorders(false)
	table.SetBorder(true).SetTitle(" Inbox  (n:new  i:invite  d:delete  q:quit) ")

	v := &InboxView{Table: table}

	table.SetSelectedFunc(func(row, _ int) {
		if conv := v.convAt(row); conv != nil && v.onOpen != nil {
			v.onOpen(conv.ID)
		}
	})
	table.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		if event.Key() != tcell.KeyRune {
			return event
		}
		switch event.Rune() {
		case 'n':
			if v.onNew != nil {
				v.onNew()
			}
		case 'i':
			if conv := v.selected(); conv != nil && v.onInvite != nil {
				v.onInvite(conv.ID)
			}
		case 'd':
			if conv := v.selected(); conv != nil && v.onDelete != nil {
				v.onDelete(conv.ID)
			}
		case 'q':
			if v.onQuit != nil {
				v.onQuit()
			}
		default:
			return event
		}
		return nil
	})

	return v
}

// OnOpen sets the open-conversation callback.
func (v *InboxView) OnOpen(fn func(convID string)) { v.onOpen = fn }

// OnNew sets the new-conversation callback.
func (v *InboxView) OnNew(fn func()) { v.onNew = fn }

// OnInvite sets the show-invite callback.
func (v *InboxView) OnInvite(fn func(convID string)) { v.onInvite = fn }

// OnDelete sets the delete-conversation callback.
func (v *InboxView) OnDelete(fn func(convID string)) { v.onDelete = fn }

// OnQuit sets the quit callback.
func (v *InboxView) OnQuit(fn func()) { v.onQuit = fn }

// Update re-renders the whole list; deliveries are full snapshots.
func (v *InboxView) Update(convs []conversation.Conversation, selfID string) {
	v.convs = convs
	v.Clear()

	v.SetCell(0, 0, tview.NewTableCell(" Conversation").SetSelectable(false).SetTextColor(tview.Styles.SecondaryTextColor))
	v.SetCell(0, 1, tview.NewTableCell(" State").SetSelectable(false).SetTextColor(tview.Styles.SecondaryTextColor))

	for i, conv := range convs {
		row := i + 1
		label := "chat with " + shortID(conv.Peer(selfID))
		state := "active"
		if conv.Pending() {
			label = "new conversation"
			state = "waiting for invite"
		}
		v.SetCell(row, 0, tview.NewTableCell(" "+label).SetExpansion(1))
		v.SetCell(row, 1, tview.NewTableCell(" "+state))
	}
	if len(convs) == 0 {
		v.SetCell(1, 0, tview.NewTableCell(" no conversations yet, press n").SetSelectable(false))
	}
}

func (v *InboxView) selected() *conversation.Conversation {
	row, _ := v.GetSelection()
	return v.convAt(row)
}

func (v *InboxView) convAt(row int) *conversation.Conversation {
	i := row - 1
	if i < 0 || i >= len(v.convs) {
		return nil
	}
	return &v.convs[i]
}
