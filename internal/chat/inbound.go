package chat

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"go-friendchat/internal/gateway"
	"go-friendchat/internal/metrics"
	"go-friendchat/internal/push"
	"go-friendchat/internal/registry"
)

// InboundHandler processes one frame received on an open connection.
type InboundHandler struct {
	registry registry.Registry
	store    Store
	notifier Notifier
	delivery deliveryMarker
	timeout  time.Duration
	now      func() time.Time
	newID    func() string
	log      zerolog.Logger
}

func NewInboundHandler(reg registry.Registry, store Store, notifier Notifier, timeout time.Duration, log zerolog.Logger) *InboundHandler {
	h := &InboundHandler{
		registry: reg,
		store:    store,
		notifier: notifier,
		timeout:  timeout,
		now:      time.Now,
		newID:    uuid.NewString,
		log:      log,
	}
	h.delivery = deliveryMarker{store: store, notifier: notifier, now: h.now, log: log}
	return h
}

// Handle never panics and never asks the caller to close the connection;
// the returned Response only reports what happened.
func (h *InboundHandler) Handle(ctx context.Context, connectionID string, raw []byte) (resp gateway.Response) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			h.log.Error().Str("connection_id", connectionID).Interface("panic", r).Msg("inbound handler panic")
			resp = gateway.InternalError("internal error")
		}
		metrics.HandlerDuration.WithLabelValues("inbound").Observe(time.Since(start).Seconds())
	}()

	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	frame, err := DecodeFrame(raw)
	if err != nil {
		metrics.InboundFrames.WithLabelValues("invalid").Inc()
		h.log.Warn().Err(err).Str("connection_id", connectionID).Msg("ignoring inbound frame")
		return gateway.BadRequest(err.Error())
	}
	metrics.InboundFrames.WithLabelValues(string(frame.Kind())).Inc()

	switch f := frame.(type) {
	case PingFrame:
		return h.ping(ctx, connectionID)
	case ChatMessageFrame:
		return h.chatMessage(ctx, connectionID, f)
	case TypingFrame:
		return h.typing(ctx, connectionID, f)
	case MarkDeliveredFrame:
		return h.markDelivered(ctx, connectionID, f)
	default:
		h.log.Warn().Str("kind", string(frame.Kind())).Msg("unhandled frame kind")
		return gateway.BadRequest("unhandled frame")
	}
}

func (h *InboundHandler) ping(ctx context.Context, connectionID string) gateway.Response {
	if err := h.registry.Touch(ctx, connectionID); err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			return gateway.Unauthorized("connection not registered")
		}
		h.log.Error().Err(err).Str("connection_id", connectionID).Msg("touch connection")
		return gateway.InternalError("ping failed")
	}
	return gateway.OK("pong")
}

func (h *InboundHandler) owner(ctx context.Context, connectionID string) (string, error) {
	conn, err := h.registry.Get(ctx, connectionID)
	if err != nil {
		return "", err
	}
	return conn.UserID, nil
}

func (h *InboundHandler) chatMessage(ctx context.Context, connectionID string, f ChatMessageFrame) gateway.Response {
	senderID, err := h.owner(ctx, connectionID)
	if err != nil {
		h.log.Warn().Err(err).Str("connection_id", connectionID).Msg("chat message from unknown connection")
		h.sendError(ctx, connectionID, f.ConversationID, "connection not registered")
		return gateway.Unauthorized("connection not registered")
	}
	if f.SenderID != "" && f.SenderID != senderID {
		h.sendError(ctx, connectionID, f.ConversationID, "sender does not match connection")
		return gateway.Forbidden("sender mismatch")
	}
	if f.ReceiverID == senderID {
		h.sendError(ctx, connectionID, f.ConversationID, "cannot message yourself")
		return gateway.BadRequest("receiver is sender")
	}

	conversationID := DeriveConversationID(senderID, f.ReceiverID)
	if f.ConversationID != "" && f.ConversationID != conversationID {
		h.sendError(ctx, connectionID, f.ConversationID, "conversation does not match participants")
		return gateway.BadRequest("conversation mismatch")
	}

	msg := Message{
		ID:             h.newID(),
		ConversationID: conversationID,
		SenderID:       senderID,
		ReceiverID:     f.ReceiverID,
		Content:        f.MessageText,
		Timestamp:      h.now().UTC(),
		Status:         StatusSent,
	}

	if err := h.store.SaveMessage(ctx, msg); err != nil {
		h.log.Error().Err(err).
			Str("conversation_id", conversationID).
			Str("sender_id", senderID).
			Msg("persist chat message")
		h.sendError(ctx, connectionID, conversationID, "failed to send message")
		return gateway.InternalError("persist failed")
	}

	h.notifier.ToUsers(ctx, push.NewMessage{
		Type:    push.TypeNewMessage,
		Message: payload(msg),
	}, msg.ReceiverID)

	h.notifier.ToConnections(ctx, push.MessageSent{
		Type:           push.TypeMessageSent,
		MessageID:      msg.ID,
		ConversationID: msg.ConversationID,
		Status:         msg.Status,
		Timestamp:      msg.Timestamp,
	}, connectionID)

	return gateway.OK(msg.ID)
}

func (h *InboundHandler) sendError(ctx context.Context, connectionID, conversationID, reason string) {
	h.notifier.ToConnections(ctx, push.MessageError{
		Type:           push.TypeMessageError,
		ConversationID: conversationID,
		Error:          reason,
		Timestamp:      h.now().UTC(),
	}, connectionID)
}

// typing is best effort: every failure is swallowed after logging.
func (h *InboundHandler) typing(ctx context.Context, connectionID string, f TypingFrame) gateway.Response {
	senderID, err := h.owner(ctx, connectionID)
	if err != nil {
		h.log.Debug().Err(err).Str("connection_id", connectionID).Msg("typing from unknown connection")
		return gateway.OK("ignored")
	}
	if f.SenderID != "" && f.SenderID != senderID {
		h.log.Debug().Str("connection_id", connectionID).Msg("typing sender mismatch")
		return gateway.OK("ignored")
	}

	conversationID := f.ConversationID
	if conversationID == "" {
		conversationID = DeriveConversationID(senderID, f.ReceiverID)
	}

	h.notifier.ToUsers(ctx, push.TypingIndicator{
		Type:           push.TypeTypingIndicator,
		ConversationID: conversationID,
		SenderID:       senderID,
		IsTyping:       f.IsTyping,
	}, f.ReceiverID)

	return gateway.OK("typing")
}

func (h *InboundHandler) markDelivered(ctx context.Context, connectionID string, f MarkDeliveredFrame) gateway.Response {
	receiverID, err := h.owner(ctx, connectionID)
	if err != nil {
		h.log.Warn().Err(err).Str("connection_id", connectionID).Msg("ack from unknown connection")
		return gateway.Unauthorized("connection not registered")
	}

	n, err := h.delivery.markDelivered(ctx, receiverID, f.MessageIDs)
	if err != nil {
		return gateway.InternalError("failed to update message status")
	}
	return gateway.OK(deliveredSummary(n))
}

func payload(m Message) push.MessagePayload {
	return push.MessagePayload{
		MessageID:      m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		ReceiverID:     m.ReceiverID,
		Content:        m.Content,
		Timestamp:      m.Timestamp,
		Status:         m.Status,
	}
}

func deliveredSummary(n int) string {
	return fmt.Sprintf("%d message(s) marked as delivered", n)
}
