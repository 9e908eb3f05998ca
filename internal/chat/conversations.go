package chat

import (
	"context"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

// ConversationService covers the authenticated HTTP conversation endpoints.
type ConversationService struct {
	store Store
}

func NewConversationService(store Store) *ConversationService {
	return &ConversationService{store: store}
}

func (s *ConversationService) Start(ctx context.Context, callerID, targetID string) (*Conversation, error) {
	if targetID == "" || targetID == callerID {
		return nil, ErrInvalidPeer
	}
	return s.store.GetOrCreateConversation(ctx, callerID, targetID)
}

func (s *ConversationService) List(ctx context.Context, callerID string) ([]Conversation, error) {
	convs, err := s.store.ListConversations(ctx, callerID)
	if err != nil {
		return nil, err
	}
	if convs == nil {
		convs = []Conversation{}
	}
	return convs, nil
}

// participant loads the conversation and checks callerID belongs to it.
func (s *ConversationService) participant(ctx context.Context, callerID, conversationID string) (*Conversation, Slot, error) {
	c, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, 0, err
	}
	slot, ok := c.Slot(callerID)
	if !ok {
		return nil, 0, ErrForbidden
	}
	return c, slot, nil
}

func (s *ConversationService) History(ctx context.Context, callerID, conversationID string, limit int) ([]Message, error) {
	if _, _, err := s.participant(ctx, callerID, conversationID); err != nil {
		return nil, err
	}
	switch {
	case limit <= 0:
		limit = defaultHistoryLimit
	case limit > maxHistoryLimit:
		limit = maxHistoryLimit
	}
	msgs, err := s.store.ListMessages(ctx, conversationID, limit)
	if err != nil {
		return nil, err
	}
	if msgs == nil {
		msgs = []Message{}
	}
	return msgs, nil
}

// MarkRead resets only the caller's unread counter.
func (s *ConversationService) MarkRead(ctx context.Context, callerID, conversationID string) error {
	_, slot, err := s.participant(ctx, callerID, conversationID)
	if err != nil {
		return err
	}
	return s.store.ResetUnread(ctx, conversationID, slot)
}

func (s *ConversationService) Delete(ctx context.Context, callerID, conversationID string) error {
	if _, _, err := s.participant(ctx, callerID, conversationID); err != nil {
		return err
	}
	return s.store.DeleteConversation(ctx, conversationID)
}
