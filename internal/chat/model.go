package chat

import (
	"errors"
	"time"
)

const (
	StatusSent      = "sent"
	StatusDelivered = "delivered"
)

var (
	ErrNotFound          = errors.New("conversation not found")
	ErrForbidden         = errors.New("not a participant of this conversation")
	ErrInvalidPeer       = errors.New("cannot start a conversation with yourself")
	ErrUnsupportedStatus = errors.New("unsupported status")
)

// Conversation is the summary row of a 1:1 thread. Participant1ID is always
// the lexicographically smaller id; the unread counters follow the same slots.
type Conversation struct {
	ID                   string     `json:"conversationId"`
	Participant1ID       string     `json:"participant1Id"`
	Participant2ID       string     `json:"participant2Id"`
	LastMessageText      string     `json:"lastMessageText,omitempty"`
	LastMessageTimestamp *time.Time `json:"lastMessageTimestamp,omitempty"`
	LastMessageSenderID  string     `json:"lastMessageSenderId,omitempty"`
	UnreadCountUser1     int        `json:"unreadCountUser1"`
	UnreadCountUser2     int        `json:"unreadCountUser2"`
}

// Slot returns which participant slot userID occupies.
func (c *Conversation) Slot(userID string) (Slot, bool) {
	switch userID {
	case c.Participant1ID:
		return Slot1, true
	case c.Participant2ID:
		return Slot2, true
	default:
		return 0, false
	}
}

type Message struct {
	ID             string    `json:"messageId"`
	ConversationID string    `json:"conversationId"`
	SenderID       string    `json:"senderId"`
	ReceiverID     string    `json:"receiverId"`
	Content        string    `json:"content"`
	Timestamp      time.Time `json:"timestamp"`
	Status         string    `json:"status"`
}

type Slot int

const (
	Slot1 Slot = iota + 1
	Slot2
)

// DeriveConversationID is order-independent: DeriveConversationID(a, b) ==
// DeriveConversationID(b, a).
func DeriveConversationID(a, b string) string {
	p1, p2 := Participants(a, b)
	return p1 + "_" + p2
}

// Participants orders a pair into (participant1, participant2).
func Participants(a, b string) (string, string) {
	if b < a {
		return b, a
	}
	return a, b
}

// ReceiverSlot is the unread slot incremented when senderID messages receiverID.
func ReceiverSlot(senderID, receiverID string) Slot {
	p1, _ := Participants(senderID, receiverID)
	if receiverID == p1 {
		return Slot1
	}
	return Slot2
}
