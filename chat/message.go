package chat

import (
	"time"
)

// Origin says who authored a message.
type Origin string

const (
	OriginUser      Origin = "user"
	OriginAssistant Origin = "assistant"
)

// Message is one entry of the conversation. Published messages are never
// modified; a growing assistant reply is republished as a new value with the same ID.
type Message struct {
	ID           string    `json:"id"`
	Content      string    `json:"content"`
	Origin       Origin    `json:"origin"`
	Timestamp    time.Time `json:"timestamp"`
	OwnerUserID  string    `json:"ownerUserId"`
	ConnectionID string    `json:"connectionId,omitempty"`
}

// IsUser reports whether the message was written by the user.
func (m Message) IsUser() bool {
	return m.Origin == OriginUser
}

// State is the connection state of the channel.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Reconnecting
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// Snapshot is an immutable view of the channel.
// Messages holds only the messages owned by ActiveUserID.
type Snapshot struct {
	State        State
	ConnectionID string
	ActiveUserID string
	Streaming    bool
	Messages     []Message
}

// Connected reports whether the channel can send.
func (s Snapshot) Connected() bool {
	return s.State == Connected
}

// ownedBy returns the messages of userID, in order, as a new slice.
func ownedBy(history []Message, userID string) []Message {
	visible := make([]Message, 0, len(history))
	if userID == "" {
		return visible
	}
	for _, m := range history {
		if m.OwnerUserID == userID {
			visible = append(visible, m)
		}
	}
	return visible
}

// withMessage returns a copy of history with m appended.
func withMessage(history []Message, m Message) []Message {
	next := make([]Message, len(history), len(history)+1)
	copy(next, history)
	return append(next, m)
}

// withReplaced returns a copy of history where the message with m.ID is replaced by m.
func withReplaced(history []Message, m Message) []Message {
	next := make([]Message, len(history))
	copy(next, history)
	for i := range next {
		if next[i].ID == m.ID {
			next[i] = m
			break
		}
	}
	return next
}

// without returns a copy of history minus the messages of userID.
func without(history []Message, userID string) []Message {
	next := make([]Message, 0, len(history))
	for _, m := range history {
		if m.OwnerUserID != userID {
			next = append(next, m)
		}
	}
	return next
}
