package tui

import (
	"fmt"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
	qrcode "github.com/skip2/go-qrcode"
	"go.uber.org/zap"

	"github.com/pairtalk/pairtalk/internal/conversation"
)

// InviteLink renders the shareable join command for a token. The token is
// the whole secret; whoever runs this joins the conversation.
func InviteLink(token string) string {
	return "pairtalk --invite " + token
}

// showInviteModal displays the invite link and a scannable QR of it.
// onDismiss, if set, runs after the modal closes.
func (a *App) showInviteModal(conv *conversation.Conversation, onDismiss func()) {
	if conv.Invitation == nil {
		return
	}
	link := InviteLink(conv.Invitation.InviteID)

	body := fmt.Sprintf("Your new conversation is created.\nShare this to invite someone:\n\n%s\n", link)
	if qr, err := qrcode.New(link, qrcode.Low); err == nil {
		body += "\n" + qr.ToSmallString(false)
	} else {
		a.logger.Warn("qr render failed", zap.Error(err))
	}

	text := tview.NewTextView().SetText(body).SetTextAlign(tview.AlignCenter)
	text.SetBorder(true).SetTitle(" Invite  (Enter to close) ")
	text.SetDoneFunc(func(tcell.Key) {
		a.pages.RemovePage("invite")
		if onDismiss != nil {
			onDismiss()
		}
	})

	a.pages.AddPage("invite", text, true, true)
	a.ui.SetFocus(text)
}
