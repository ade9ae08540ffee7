package presence

// Record is one user's ephemeral presence document under status/<uid>.
// Typing, when set, names the conversation the user is composing in.
type Record struct {
	Online bool   `json:"online"`
	Typing string `json:"typing,omitempty"`
}

// State is the derived display state for a peer in an open conversation.
type State int

const (
	StateOffline State = iota
	StateOnline
	StateTyping
)

func (s State) String() string {
	switch s {
	case StateTyping:
		return "Typing…"
	case StateOnline:
		return "Online"
	default:
		return "Offline"
	}
}
