package push

import (
	"time"

	"github.com/goccy/go-json"
)

type FrameType string

// Change notifications.
const (
	TypeUserUpdate            FrameType = "USER_UPDATE"
	TypeFriendAdded           FrameType = "FRIEND_ADDED"
	TypeFriendRemoved         FrameType = "FRIEND_REMOVED"
	TypeFriendRequestSent     FrameType = "FRIEND_REQUEST_SENT"
	TypeFriendRequestReceived FrameType = "FRIEND_REQUEST_RECEIVED"
	TypeFriendRequestAccepted FrameType = "FRIEND_REQUEST_ACCEPTED"
	TypeFriendRequestDeleted  FrameType = "FRIEND_REQUEST_DELETED"
)

// Chat protocol.
const (
	TypeNewMessage       FrameType = "new_message"
	TypeMessageSent      FrameType = "message_sent"
	TypeMessageError     FrameType = "message_error"
	TypeTypingIndicator  FrameType = "typing_indicator"
	TypeMessageDelivered FrameType = "message_delivered"
)

// Frame is an outbound server -> client payload. The type field is the
// discriminator clients switch on.
type Frame interface {
	FrameType() FrameType
}

func Encode(f Frame) ([]byte, error) {
	return json.Marshal(f)
}

type UserUpdate struct {
	Type              FrameType  `json:"type"`
	UserID            string     `json:"userId"`
	Username          string     `json:"username"`
	Latitude          *float64   `json:"latitude,omitempty"`
	Longitude         *float64   `json:"longitude,omitempty"`
	IsLocationSharing bool       `json:"isLocationSharing"`
	LocationUpdatedAt *time.Time `json:"locationUpdatedAt,omitempty"`
	Timestamp         time.Time  `json:"timestamp"`
}

func (f UserUpdate) FrameType() FrameType { return TypeUserUpdate }

// FriendChange is sent for FRIEND_ADDED and FRIEND_REMOVED. FriendID and
// FriendUsername always name the other party from the recipient's view.
type FriendChange struct {
	Type           FrameType `json:"type"`
	FriendshipID   string    `json:"friendshipId"`
	FriendID       string    `json:"friendId"`
	FriendUsername string    `json:"friendUsername"`
	Timestamp      time.Time `json:"timestamp"`
}

func (f FriendChange) FrameType() FrameType { return f.Type }

type FriendRequestSent struct {
	Type             FrameType `json:"type"`
	RequestID        string    `json:"requestId"`
	ReceiverID       string    `json:"receiverId"`
	ReceiverUsername string    `json:"receiverUsername"`
	Status           string    `json:"status"`
	Timestamp        time.Time `json:"timestamp"`
}

func (f FriendRequestSent) FrameType() FrameType { return TypeFriendRequestSent }

type FriendRequestReceived struct {
	Type           FrameType `json:"type"`
	RequestID      string    `json:"requestId"`
	SenderID       string    `json:"senderId"`
	SenderUsername string    `json:"senderUsername"`
	Status         string    `json:"status"`
	Timestamp      time.Time `json:"timestamp"`
}

func (f FriendRequestReceived) FrameType() FrameType { return TypeFriendRequestReceived }

// FriendRequestAccepted carries the other party in ReceiverID and
// ReceiverUsername, so each side can add the friend entry without a fetch.
type FriendRequestAccepted struct {
	Type             FrameType `json:"type"`
	RequestID        string    `json:"requestId"`
	ReceiverID       string    `json:"receiverId"`
	ReceiverUsername string    `json:"receiverUsername"`
	Status           string    `json:"status"`
	Timestamp        time.Time `json:"timestamp"`
}

func (f FriendRequestAccepted) FrameType() FrameType { return TypeFriendRequestAccepted }

type FriendRequestDeleted struct {
	Type       FrameType `json:"type"`
	RequestID  string    `json:"requestId"`
	SenderID   string    `json:"senderId"`
	ReceiverID string    `json:"receiverId"`
	Timestamp  time.Time `json:"timestamp"`
}

func (f FriendRequestDeleted) FrameType() FrameType { return TypeFriendRequestDeleted }

type MessagePayload struct {
	MessageID      string    `json:"messageId"`
	ConversationID string    `json:"conversationId"`
	SenderID       string    `json:"senderId"`
	ReceiverID     string    `json:"receiverId"`
	Content        string    `json:"content"`
	Timestamp      time.Time `json:"timestamp"`
	Status         string    `json:"status"`
}

type NewMessage struct {
	Type    FrameType      `json:"type"`
	Message MessagePayload `json:"message"`
}

func (f NewMessage) FrameType() FrameType { return TypeNewMessage }

type MessageSent struct {
	Type           FrameType `json:"type"`
	MessageID      string    `json:"messageId"`
	ConversationID string    `json:"conversationId"`
	Status         string    `json:"status"`
	Timestamp      time.Time `json:"timestamp"`
}

func (f MessageSent) FrameType() FrameType { return TypeMessageSent }

type MessageError struct {
	Type           FrameType `json:"type"`
	ConversationID string    `json:"conversationId,omitempty"`
	Error          string    `json:"error"`
	Timestamp      time.Time `json:"timestamp"`
}

func (f MessageError) FrameType() FrameType { return TypeMessageError }

type TypingIndicator struct {
	Type           FrameType `json:"type"`
	ConversationID string    `json:"conversationId"`
	SenderID       string    `json:"senderId"`
	IsTyping       bool      `json:"isTyping"`
}

func (f TypingIndicator) FrameType() FrameType { return TypeTypingIndicator }

type MessageDelivered struct {
	Type           FrameType `json:"type"`
	ConversationID string    `json:"conversationId,omitempty"`
	MessageIDs     []string  `json:"messageIds"`
	Status         string    `json:"status"`
	Timestamp      time.Time `json:"timestamp"`
}

func (f MessageDelivered) FrameType() FrameType { return TypeMessageDelivered }
