package tui

import (
	"fmt"

	"github.com/rivo/tview"
)

// StatusBar is the persistent one-line footer: who you are plus a transient
// flash message for non-blocking failures.
type StatusBar struct {
	*tview.TextView
	userID string
	flash  string
}

// NewStatusBar creates the footer for the given user.
func NewStatusBar(userID string) *StatusBar {
	tv := tview.NewTextView().
		SetDynamicColors(true)
	tv.SetBackgroundColor(tview.Styles.MoreContrastBackgroundColor)

	sb := &StatusBar{TextView: tv, userID: userID}
	sb.render()
	return sb
}

// Flash sets a temporary message.
func (sb *StatusBar) Flash(msg string) {
	sb.flash = msg
	sb.render()
}

func (sb *StatusBar) render() {
	sb.Clear()
	line := fmt.Sprintf(" [::b]you: %s[-:-:-]", shortID(sb.userID))
	if sb.flash != "" {
		line += fmt.Sprintf(" | [yellow]%s[-]", tview.Escape(sb.flash))
	}
	_, _ = fmt.Fprint(sb, line)
}

// shortID abbreviates a uuid for display.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
