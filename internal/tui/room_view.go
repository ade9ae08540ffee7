package tui

import (
	"fmt"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/pairtalk/pairtalk/internal/message"
)

// RoomView is the chat room page: peer status line, the message table and
// the composer. Keys on the table: r replies to the selected message, x
// deletes it; Esc goes back to the inbox.
type RoomView struct {
	*tview.Flex
	status   *tview.TextView
	table    *tview.Table
	composer *tview.InputField
	msgs     []message.Message

	onSend   func(text string)
	onType   func()
	onReply  func(msg *message.Message)
	onDelete func(msg *message.Message)
	onBack   func()
}

// NewRoomView creates the chat room page.
func NewRoomView() *RoomView {
	v := &RoomView{
		status:   tview.NewTextView().SetDynamicColors(true),
		table:    tview.NewTable().SetSelectable(true, false).SetBorders(false),
		composer: tview.NewInputField().SetLabel(" > ").SetFieldWidth(0),
	}
	v.table.SetBorder(true).SetTitle(" Messages  (r:reply  x:delete  Esc:back) ")

	v.composer.SetChangedFunc(func(string) {
		if v.onType != nil {
			v.onType()
		}
	})
	v.composer.SetDoneFunc(func(key tcell.Key) {
		if key != tcell.KeyEnter || v.onSend == nil {
			return
		}
		text := v.composer.GetText()
		if text == "" {
			return
		}
		v.onSend(text)
		v.composer.SetText("")
	})

	v.table.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		if event.Key() != tcell.KeyRune {
			return event
		}
		switch event.Rune() {
		case 'r':
			if msg := v.selected(); msg != nil && v.onReply != nil {
				v.onReply(msg)
			}
		case 'x':
			if msg := v.selected(); msg != nil && v.onDelete != nil {
				v.onDelete(msg)
			}
		default:
			return event
		}
		return nil
	})

	v.Flex = tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(v.status, 1, 0, false).
		AddItem(v.table, 0, 1, false).
		AddItem(v.composer, 1, 0, true)
	v.Flex.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		switch event.Key() {
		case tcell.KeyEscape:
			if v.onBack != nil {
				v.onBack()
			}
			return nil
		case tcell.KeyTab:
			// Toggle focus between composer and message table.
			return event
		}
		return event
	})

	return v
}

// OnSend sets the send callback.
func (v *RoomView) OnSend(fn func(text string)) { v.onSend = fn }

// OnType sets the per-keystroke callback driving the typing indicator.
func (v *RoomView) OnType(fn func()) { v.onType = fn }

// OnReply sets the reply-selection callback.
func (v *RoomView) OnReply(fn func(msg *message.Message)) { v.onReply = fn }

// OnDelete sets the per-message delete callback.
func (v *RoomView) OnDelete(fn func(msg *message.Message)) { v.onDelete = fn }

// OnBack sets the navigate-back callback.
func (v *RoomView) OnBack(fn func()) { v.onBack = fn }

// Composer exposes the input field for focus handling.
func (v *RoomView) Composer() tview.Primitive { return v.composer }

// Reset clears the view for a newly opened conversation.
func (v *RoomView) Reset() {
	v.msgs = nil
	v.table.Clear()
	v.composer.SetText("")
	v.SetReplying("")
	v.SetPeerState("Offline")
}

// SetPeerState updates the peer status line.
func (v *RoomView) SetPeerState(state string) {
	v.status.Clear()
	_, _ = fmt.Fprintf(v.status, " peer: [::b]%s[-:-:-]", state)
}

// SetReplying shows which message the composer is answering; empty clears.
func (v *RoomView) SetReplying(preview string) {
	if preview == "" {
		v.composer.SetLabel(" > ")
		return
	}
	v.composer.SetLabel(fmt.Sprintf(" re %q > ", truncate(preview, 20)))
}

// Update re-renders the full message list; the log re-delivers the entire
// set on every change, so this always starts from scratch.
func (v *RoomView) Update(msgs []message.Message, selfID string) {
	v.msgs = msgs
	v.table.Clear()

	for i, msg := range msgs {
		who := "them"
		color := tview.Styles.PrimaryTextColor
		if msg.SenderID == selfID {
			who = "you"
			color = tview.Styles.TertiaryTextColor
		}
		stamp := time.UnixMilli(msg.Timestamp).Format("15:04")

		text := sanitizeForTerminal(msg.DisplayText())
		if msg.IsDeleted {
			text = "[::d]" + tview.Escape(text) + "[-:-:-]"
		} else {
			if msg.ReplyTo != "" {
				text = "↳ " + tview.Escape(text)
			} else {
				text = tview.Escape(text)
			}
		}

		v.table.SetCell(i, 0, tview.NewTableCell(fmt.Sprintf(" %s %s:", stamp, who)).SetTextColor(color))
		v.table.SetCell(i, 1, tview.NewTableCell(text).SetExpansion(1))
	}
	if len(msgs) > 0 {
		v.table.Select(len(msgs)-1, 0)
		v.table.ScrollToEnd()
	}
}

func (v *RoomView) selected() *message.Message {
	row, _ := v.table.GetSelection()
	if row < 0 || row >= len(v.msgs) {
		return nil
	}
	return &v.msgs[row]
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}
