package chat

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"go-friendchat/internal/push"
	"go-friendchat/internal/push/pushtest"
	"go-friendchat/internal/registry/registrytest"
)

func newStatusService(t *testing.T, store Store) (*StatusService, *registrytest.Memory, *pushtest.Recorder) {
	t.Helper()
	reg := registrytest.NewMemory()
	rec := pushtest.NewRecorder()
	fan := push.NewFanout(reg, rec, 4, zerolog.Nop())
	return NewStatusService(store, fan, time.Second, zerolog.Nop()), reg, rec
}

func TestUpdateMessageStatusValidation(t *testing.T) {
	tests := []struct {
		name     string
		caller   string
		req      StatusRequest
		contains string
	}{
		{
			name:     "missing caller",
			req:      StatusRequest{MessageIDs: []string{"m1"}, Status: StatusDelivered},
			contains: "unauthorized",
		},
		{
			name:     "read is unsupported",
			caller:   "bob",
			req:      StatusRequest{MessageIDs: []string{"m1"}, Status: "read"},
			contains: "unsupported status",
		},
		{
			name:     "no message ids",
			caller:   "bob",
			req:      StatusRequest{Status: StatusDelivered},
			contains: "MessageIDs",
		},
		{
			name:     "missing status",
			caller:   "bob",
			req:      StatusRequest{MessageIDs: []string{"m1"}},
			contains: "Status",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &MockStore{}
			svc, _, _ := newStatusService(t, store)

			res := svc.UpdateMessageStatus(context.Background(), tt.caller, tt.req)

			assert.False(t, res.Success)
			assert.Contains(t, res.Message, tt.contains)
			store.AssertNotCalled(t, "MarkDelivered", mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestUpdateMessageStatusBatchesPerSender(t *testing.T) {
	ctx := context.Background()
	store := &MockStore{}
	svc, reg, rec := newStatusService(t, store)
	require.NoError(t, reg.Put(ctx, "a1", "alice"))
	require.NoError(t, reg.Put(ctx, "c1", "carol"))

	store.On("MarkDelivered", mock.Anything, "m1", "bob").
		Return(Message{ID: "m1", ConversationID: "alice_bob", SenderID: "alice"}, true, nil)
	store.On("MarkDelivered", mock.Anything, "m2", "bob").
		Return(Message{}, false, nil)
	store.On("MarkDelivered", mock.Anything, "m3", "bob").
		Return(Message{ID: "m3", ConversationID: "bob_carol", SenderID: "carol"}, true, nil)

	res := svc.UpdateMessageStatus(ctx, "bob", StatusRequest{
		MessageIDs: []string{"m1", "m2", "m3"},
		Status:     StatusDelivered,
	})

	assert.Equal(t, StatusResult{Success: true, Message: "2 message(s) marked as delivered"}, res)
	store.AssertExpectations(t)

	alice := rec.Frames("a1")
	require.Len(t, alice, 1)
	assert.Equal(t, "message_delivered", alice[0]["type"])
	assert.Equal(t, []any{"m1"}, alice[0]["messageIds"])

	carol := rec.Frames("c1")
	require.Len(t, carol, 1)
	assert.Equal(t, []any{"m3"}, carol[0]["messageIds"])
}

func TestUpdateMessageStatusNothingToUpdate(t *testing.T) {
	store := &MockStore{}
	svc, _, rec := newStatusService(t, store)
	store.On("MarkDelivered", mock.Anything, "m1", "bob").Return(Message{}, false, nil)

	res := svc.UpdateMessageStatus(context.Background(), "bob", StatusRequest{
		MessageIDs: []string{"m1"},
		Status:     StatusDelivered,
	})

	assert.True(t, res.Success)
	assert.Equal(t, "0 message(s) marked as delivered", res.Message)
	assert.Zero(t, rec.Total())
}

func TestUpdateMessageStatusStoreFailure(t *testing.T) {
	store := &MockStore{}
	svc, _, _ := newStatusService(t, store)
	store.On("MarkDelivered", mock.Anything, "m1", "bob").Return(Message{}, false, errors.New("db down"))
	store.On("MarkDelivered", mock.Anything, "m2", "bob").Return(Message{}, false, errors.New("db down"))

	res := svc.UpdateMessageStatus(context.Background(), "bob", StatusRequest{
		MessageIDs: []string{"m1", "m2"},
		Status:     StatusDelivered,
	})

	assert.False(t, res.Success)
	assert.Equal(t, "failed to update message status", res.Message)
}

func TestUpdateMessageStatusPartialFailureStillSucceeds(t *testing.T) {
	store := &MockStore{}
	svc, _, _ := newStatusService(t, store)
	store.On("MarkDelivered", mock.Anything, "m1", "bob").Return(Message{}, false, errors.New("db down"))
	store.On("MarkDelivered", mock.Anything, "m2", "bob").
		Return(Message{ID: "m2", ConversationID: "alice_bob", SenderID: "alice"}, true, nil)

	res := svc.UpdateMessageStatus(context.Background(), "bob", StatusRequest{
		MessageIDs: []string{"m1", "m2"},
		Status:     StatusDelivered,
	})

	assert.True(t, res.Success)
	assert.Equal(t, "1 message(s) marked as delivered", res.Message)
}
