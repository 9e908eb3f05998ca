package chat

import (
	"context"
	"sort"
	"sync"

	"github.com/stretchr/testify/mock"
)

// memStore applies the same conditional and atomic rules as the SQL
// repository under a single mutex.
type memStore struct {
	mu            sync.Mutex
	messages      map[string]Message
	conversations map[string]*Conversation
	createErr     error
	applyErr      error
}

func newMemStore() *memStore {
	return &memStore{
		messages:      make(map[string]Message),
		conversations: make(map[string]*Conversation),
	}
}

// SaveMessage fails before touching any state, mirroring the transaction.
func (s *memStore) SaveMessage(_ context.Context, msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return s.createErr
	}
	if s.applyErr != nil {
		return s.applyErr
	}
	s.messages[msg.ID] = msg
	s.applyLocked(msg)
	return nil
}

func (s *memStore) applyLocked(msg Message) {
	c, ok := s.conversations[msg.ConversationID]
	if !ok {
		p1, p2 := Participants(msg.SenderID, msg.ReceiverID)
		c = &Conversation{ID: msg.ConversationID, Participant1ID: p1, Participant2ID: p2}
		s.conversations[msg.ConversationID] = c
	}
	if ReceiverSlot(msg.SenderID, msg.ReceiverID) == Slot1 {
		c.UnreadCountUser1++
	} else {
		c.UnreadCountUser2++
	}
	if c.LastMessageTimestamp == nil || !msg.Timestamp.Before(*c.LastMessageTimestamp) {
		ts := msg.Timestamp
		c.LastMessageTimestamp = &ts
		c.LastMessageText = msg.Content
		c.LastMessageSenderID = msg.SenderID
	}
}

func (s *memStore) MarkDelivered(_ context.Context, messageID, receiverID string) (Message, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[messageID]
	if !ok || m.ReceiverID != receiverID || m.Status != StatusSent {
		return Message{}, false, nil
	}
	m.Status = StatusDelivered
	s.messages[messageID] = m
	return m, true, nil
}

func (s *memStore) GetConversation(_ context.Context, id string) (*Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *memStore) GetOrCreateConversation(ctx context.Context, a, b string) (*Conversation, error) {
	id := DeriveConversationID(a, b)
	s.mu.Lock()
	if _, ok := s.conversations[id]; !ok {
		p1, p2 := Participants(a, b)
		s.conversations[id] = &Conversation{ID: id, Participant1ID: p1, Participant2ID: p2}
	}
	s.mu.Unlock()
	return s.GetConversation(ctx, id)
}

func (s *memStore) ListConversations(_ context.Context, userID string) ([]Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Conversation
	for _, c := range s.conversations {
		if c.Participant1ID == userID || c.Participant2ID == userID {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memStore) ResetUnread(_ context.Context, conversationID string, slot Slot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[conversationID]
	if !ok {
		return ErrNotFound
	}
	if slot == Slot1 {
		c.UnreadCountUser1 = 0
	} else {
		c.UnreadCountUser2 = 0
	}
	return nil
}

func (s *memStore) DeleteConversation(_ context.Context, conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conversations[conversationID]; !ok {
		return ErrNotFound
	}
	delete(s.conversations, conversationID)
	for id, m := range s.messages {
		if m.ConversationID == conversationID {
			delete(s.messages, id)
		}
	}
	return nil
}

func (s *memStore) ListMessages(_ context.Context, conversationID string, limit int) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Message
	for _, m := range s.messages {
		if m.ConversationID == conversationID {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memStore) message(id string) Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.messages[id]
}

func (s *memStore) messageCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

// MockStore is a testify mock for failure paths the fake cannot express.
type MockStore struct {
	mock.Mock
}

func (m *MockStore) SaveMessage(ctx context.Context, msg Message) error {
	return m.Called(ctx, msg).Error(0)
}

func (m *MockStore) MarkDelivered(ctx context.Context, messageID, receiverID string) (Message, bool, error) {
	args := m.Called(ctx, messageID, receiverID)
	return args.Get(0).(Message), args.Bool(1), args.Error(2)
}

func (m *MockStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Conversation), args.Error(1)
}

func (m *MockStore) GetOrCreateConversation(ctx context.Context, a, b string) (*Conversation, error) {
	args := m.Called(ctx, a, b)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Conversation), args.Error(1)
}

func (m *MockStore) ListConversations(ctx context.Context, userID string) ([]Conversation, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]Conversation), args.Error(1)
}

func (m *MockStore) ResetUnread(ctx context.Context, conversationID string, slot Slot) error {
	return m.Called(ctx, conversationID, slot).Error(0)
}

func (m *MockStore) DeleteConversation(ctx context.Context, conversationID string) error {
	return m.Called(ctx, conversationID).Error(0)
}

func (m *MockStore) ListMessages(ctx context.Context, conversationID string, limit int) ([]Message, error) {
	args := m.Called(ctx, conversationID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]Message), args.Error(1)
}
