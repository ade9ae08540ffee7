package message

// Tombstone is the fixed placeholder renderers show for deleted messages.
const Tombstone = "This message was deleted."

// Message is one entry in a conversation's append-only log. Keys are
// generated log-ordered, so ascending key order is send order.
type Message struct {
	ID        string `json:"-"`
	SenderID  string `json:"senderId"`
	Text      string `json:"text"`
	Timestamp int64  `json:"timestamp"`
	IsDeleted bool   `json:"isDeleted"`
	ReplyTo   string `json:"replyTo,omitempty"`
}

// DisplayText returns what a renderer may show for this message. Deleted
// messages only ever surface the tombstone.
func (m *Message) DisplayText() string {
	if m.IsDeleted {
		return Tombstone
	}
	return m.Text
}

// Actionable reports whether reply and delete actions apply; tombstones
// take neither.
func (m *Message) Actionable() bool {
	return !m.IsDeleted
}
