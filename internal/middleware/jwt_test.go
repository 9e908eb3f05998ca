package myMiddleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

type stubValidator struct{}

func (stubValidator) ValidateToken(tok string) (string, string, error) {
	if tok == "good" {
		return "u1", "alice", nil
	}
	return "", "", errors.New("bad token")
}

func TestAuthMiddleware(t *testing.T) {
	am := NewAuthMiddleware(stubValidator{})

	var gotID string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotID, _ = UserID(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})

	tcases := []struct {
		name   string
		header string
		query  string
		code   int
		userID string
	}{
		{name: "bearer header", header: "Bearer good", code: http.StatusNoContent, userID: "u1"},
		{name: "query token", query: "?token=good", code: http.StatusNoContent, userID: "u1"},
		{name: "missing token", code: http.StatusUnauthorized},
		{name: "invalid token", header: "Bearer nope", code: http.StatusUnauthorized},
		{name: "malformed header", header: "good", code: http.StatusUnauthorized},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			gotID = ""
			req := httptest.NewRequest(http.MethodGet, "/ws"+tc.query, nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rr := httptest.NewRecorder()

			am.Handle(next).ServeHTTP(rr, req)

			assert.Equal(t, tc.code, rr.Code)
			assert.Equal(t, tc.userID, gotID)
		})
	}
}
