package conversation

// MaxMembers is the hard cap on conversation membership. This is a
// one-on-one chat; there is no group mode.
const MaxMembers = 2

// Conversation is a two-party chat. A populated Invitation is the signal of
// the pending state; its absence means the conversation is active.
type Conversation struct {
	ID         string          `json:"-"`
	Members    map[string]bool `json:"members"`
	Invitation *Invitation     `json:"invitation,omitempty"`
}

// Invitation holds the live invite token while a conversation waits for its
// second member.
type Invitation struct {
	InviteID string `json:"inviteId"`
	Creator  string `json:"creator"`
}

// Pending reports whether the conversation still waits for a second member.
func (c *Conversation) Pending() bool {
	return c.Invitation != nil
}

// Peer returns the other member's id, or "" while the conversation is
// pending.
func (c *Conversation) Peer(selfID string) string {
	for id := range c.Members {
		if id != selfID {
			return id
		}
	}
	return ""
}
