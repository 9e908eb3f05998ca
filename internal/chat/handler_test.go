package chat

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	myMiddleware "go-friendchat/internal/middleware"
	"go-friendchat/internal/push"
	"go-friendchat/internal/push/pushtest"
	"go-friendchat/internal/registry/registrytest"
)

func newTestRouter(store Store) http.Handler {
	fan := push.NewFanout(registrytest.NewMemory(), pushtest.NewRecorder(), 4, zerolog.Nop())
	h := NewHandler(NewConversationService(store), NewStatusService(store, fan, time.Second, zerolog.Nop()), zerolog.Nop())

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if u := r.Header.Get("X-Test-User"); u != "" {
				r = r.WithContext(myMiddleware.WithUser(r.Context(), u, u))
			}
			next.ServeHTTP(w, r)
		})
	})
	h.Routes(r)
	return r
}

func do(t *testing.T, h http.Handler, method, path, user, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if user != "" {
		req.Header.Set("X-Test-User", user)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func seedConversation(t *testing.T, store *memStore) {
	t.Helper()
	ctx := context.Background()
	for i, text := range []string{"one", "two"} {
		msg := Message{
			ID:             []string{"m1", "m2"}[i],
			ConversationID: "alice_bob",
			SenderID:       "alice",
			ReceiverID:     "bob",
			Content:        text,
			Timestamp:      fixedNow.Add(time.Duration(i) * time.Minute),
			Status:         StatusSent,
		}
		require.NoError(t, store.SaveMessage(ctx, msg))
	}
}

func TestStartAndListConversations(t *testing.T) {
	store := newMemStore()
	h := newTestRouter(store)

	rr := do(t, h, http.MethodPost, "/api/conversations", "bob", `{"targetId":"alice"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	var conv Conversation
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &conv))
	assert.Equal(t, "alice_bob", conv.ID)
	assert.Equal(t, "alice", conv.Participant1ID)

	rr = do(t, h, http.MethodPost, "/api/conversations", "bob", `{"targetId":"bob"}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(t, h, http.MethodGet, "/api/conversations", "alice", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var convs []Conversation
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &convs))
	assert.Len(t, convs, 1)

	rr = do(t, h, http.MethodGet, "/api/conversations", "", "")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestChatHistory(t *testing.T) {
	store := newMemStore()
	seedConversation(t, store)
	h := newTestRouter(store)

	rr := do(t, h, http.MethodGet, "/api/conversations/alice_bob/messages?limit=1", "bob", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var msgs []Message
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &msgs))
	require.Len(t, msgs, 1)
	assert.Equal(t, "two", msgs[0].Content)

	rr = do(t, h, http.MethodGet, "/api/conversations/alice_bob/messages", "carol", "")
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = do(t, h, http.MethodGet, "/api/conversations/nope/messages", "bob", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestMarkReadResetsOnlyCallerSlot(t *testing.T) {
	store := newMemStore()
	seedConversation(t, store)
	require.NoError(t, store.SaveMessage(context.Background(), Message{
		ID: "m3", ConversationID: "alice_bob", SenderID: "bob", ReceiverID: "alice",
		Content: "reply", Timestamp: fixedNow.Add(time.Hour),
	}))
	h := newTestRouter(store)

	rr := do(t, h, http.MethodPost, "/api/conversations/alice_bob/read", "bob", "")
	require.Equal(t, http.StatusOK, rr.Code)

	c, err := store.GetConversation(context.Background(), "alice_bob")
	require.NoError(t, err)
	assert.Equal(t, 0, c.UnreadCountUser2)
	assert.Equal(t, 1, c.UnreadCountUser1)

	assert.Equal(t, http.StatusForbidden, do(t, h, http.MethodPost, "/api/conversations/alice_bob/read", "carol", "").Code)
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodPost, "/api/conversations/x_y/read", "x", "").Code)
}

func TestDeleteConversation(t *testing.T) {
	store := newMemStore()
	seedConversation(t, store)
	h := newTestRouter(store)

	assert.Equal(t, http.StatusForbidden, do(t, h, http.MethodDelete, "/api/conversations/alice_bob", "carol", "").Code)
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodDelete, "/api/conversations/alice_bob", "alice", "").Code)

	_, err := store.GetConversation(context.Background(), "alice_bob")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Empty(t, store.message("m1").ID)
}

func TestUpdateStatusEndpoint(t *testing.T) {
	store := newMemStore()
	seedConversation(t, store)
	h := newTestRouter(store)

	rr := do(t, h, http.MethodPost, "/api/messages/status", "bob", `{"messageIds":["m1","m2"],"status":"delivered"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	var res StatusResult
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &res))
	assert.Equal(t, StatusResult{Success: true, Message: "2 message(s) marked as delivered"}, res)

	rr = do(t, h, http.MethodPost, "/api/messages/status", "bob", `{"messageIds":["m1"],"status":"read"}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(t, h, http.MethodPost, "/api/messages/status", "", `{"messageIds":["m1"],"status":"delivered"}`)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = do(t, h, http.MethodPost, "/api/messages/status", "bob", `not json`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}
