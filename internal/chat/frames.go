package chat

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
)

var (
	ErrMalformedFrame = errors.New("malformed frame")
	ErrUnknownFrame   = errors.New("unknown frame")
)

type FrameKind string

const (
	KindPing          FrameKind = "ping"
	KindChatMessage   FrameKind = "CHAT_MESSAGE"
	KindTyping        FrameKind = "typing"
	KindMarkDelivered FrameKind = "MARK_DELIVERED"
)

// InboundFrame is the closed set of frames a client may send. Only types in
// this package implement it.
type InboundFrame interface {
	Kind() FrameKind
	inbound()
}

type PingFrame struct{}

type ChatMessageFrame struct {
	ConversationID string
	SenderID       string
	ReceiverID     string `validate:"required"`
	MessageText    string `validate:"required,max=4000"`
}

type TypingFrame struct {
	ConversationID string
	SenderID       string
	ReceiverID     string `validate:"required"`
	IsTyping       bool
}

type MarkDeliveredFrame struct {
	ConversationID string
	MessageIDs     []string `validate:"required,min=1,max=100,dive,required"`
}

func (PingFrame) Kind() FrameKind          { return KindPing }
func (ChatMessageFrame) Kind() FrameKind   { return KindChatMessage }
func (TypingFrame) Kind() FrameKind        { return KindTyping }
func (MarkDeliveredFrame) Kind() FrameKind { return KindMarkDelivered }

func (PingFrame) inbound()          {}
func (ChatMessageFrame) inbound()   {}
func (TypingFrame) inbound()        {}
func (MarkDeliveredFrame) inbound() {}

// wireFrame is the loose client envelope: {action, type, ...payload}.
type wireFrame struct {
	Action         string   `json:"action"`
	Type           string   `json:"type"`
	ConversationID string   `json:"conversationId"`
	SenderID       string   `json:"senderId"`
	ReceiverID     string   `json:"receiverId"`
	MessageText    string   `json:"messageText"`
	MessageIDs     []string `json:"messageIds"`
	IsTyping       *bool    `json:"isTyping"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// DecodeFrame parses raw into one of the inbound frame kinds.
func DecodeFrame(raw []byte) (InboundFrame, error) {
	var w wireFrame
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	var frame InboundFrame
	switch {
	case w.Action == "ping":
		return PingFrame{}, nil
	case w.Action != "message":
		return nil, fmt.Errorf("%w: action %q", ErrUnknownFrame, w.Action)
	}

	switch w.Type {
	case "CHAT_MESSAGE":
		frame = ChatMessageFrame{
			ConversationID: w.ConversationID,
			SenderID:       w.SenderID,
			ReceiverID:     w.ReceiverID,
			MessageText:    w.MessageText,
		}
	case "TYPING_START", "TYPING_STOP":
		frame = TypingFrame{
			ConversationID: w.ConversationID,
			SenderID:       w.SenderID,
			ReceiverID:     w.ReceiverID,
			IsTyping:       w.Type == "TYPING_START",
		}
	case "TYPING_INDICATOR":
		if w.IsTyping == nil {
			return nil, fmt.Errorf("%w: TYPING_INDICATOR without isTyping", ErrMalformedFrame)
		}
		frame = TypingFrame{
			ConversationID: w.ConversationID,
			SenderID:       w.SenderID,
			ReceiverID:     w.ReceiverID,
			IsTyping:       *w.IsTyping,
		}
	case "MARK_DELIVERED":
		frame = MarkDeliveredFrame{
			ConversationID: w.ConversationID,
			MessageIDs:     w.MessageIDs,
		}
	default:
		return nil, fmt.Errorf("%w: message type %q", ErrUnknownFrame, w.Type)
	}

	if err := validate.Struct(frame); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	return frame, nil
}
