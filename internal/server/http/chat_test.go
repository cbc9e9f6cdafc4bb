package httpserver

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/research-pipeline-service/internal/chat"
	"github.com/helixir/research-pipeline-service/internal/domain"
)

type stubChat struct {
	reply   *chat.Reply
	sendErr error
	history []domain.ChatMessage
	histErr error

	gotSession string
	gotMessage string
	gotLimit   int
}

func (s *stubChat) Send(_ context.Context, sessionID, message string) (*chat.Reply, error) {
	s.gotSession, s.gotMessage = sessionID, message
	return s.reply, s.sendErr
}

func (s *stubChat) History(_ context.Context, sessionID string, limit int) ([]domain.ChatMessage, error) {
	s.gotSession, s.gotLimit = sessionID, limit
	return s.history, s.histErr
}

func TestPostChat(t *testing.T) {
	at := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)

	t.Run("answers a turn", func(t *testing.T) {
		ts := newTestHTTPServer(t, nil, nil)
		c := &stubChat{reply: &chat.Reply{SessionID: "s1", Message: "Carriers.", ConversationLength: 4, Timestamp: at}}
		ts.WithChat(c)

		rr := ts.do(httptest.NewRequest(http.MethodPost, "/api/v1/chat",
			bytes.NewBufferString(`{"message":"  who pays?  ","session_id":"s1"}`)))
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

		resp := decode[chatResponse](t, rr)
		assert.Equal(t, chatResponse{SessionID: "s1", Message: "Carriers.", ConversationLength: 4, Timestamp: at}, resp)
		assert.Equal(t, "s1", c.gotSession)
		assert.Equal(t, "who pays?", c.gotMessage)
	})

	t.Run("disabled", func(t *testing.T) {
		ts := newTestHTTPServer(t, nil, nil)
		rr := ts.do(httptest.NewRequest(http.MethodPost, "/api/v1/chat", bytes.NewBufferString(`{"message":"hi"}`)))
		assert.Equal(t, http.StatusNotFound, rr.Code)
	})

	for name, tc := range map[string]struct {
		body  string
		field string
	}{
		"missing message": {`{"session_id":"s1"}`, "message"},
		"blank message":   {`{"message":"   "}`, "message"},
		"bad session id":  {`{"message":"hi","session_id":"sé"}`, "session_id"},
		"malformed body":  {`{"message":`, ""},
	} {
		t.Run(name, func(t *testing.T) {
			ts := newTestHTTPServer(t, nil, nil)
			c := &stubChat{}
			ts.WithChat(c)

			rr := ts.do(httptest.NewRequest(http.MethodPost, "/api/v1/chat", bytes.NewBufferString(tc.body)))
			require.Equal(t, http.StatusBadRequest, rr.Code, rr.Body.String())
			assert.Equal(t, tc.field, decode[errorResponse](t, rr).Field)
			assert.Empty(t, c.gotMessage)
		})
	}

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"service validation", domain.NewValidationError("message", "too long"), http.StatusBadRequest},
		{"completion failed", fmt.Errorf("%w: %w", chat.ErrCompletion, errors.New("bad request")), http.StatusBadGateway},
		{"completion rate limited", fmt.Errorf("%w: %w", chat.ErrCompletion, domain.ErrRateLimited), http.StatusTooManyRequests},
		{"completion unavailable", fmt.Errorf("%w: %w", chat.ErrCompletion, domain.ErrServiceUnavailable), http.StatusServiceUnavailable},
		{"store down", domain.NewStoreError("append chat messages", errors.New("down")), http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestHTTPServer(t, nil, nil)
			ts.WithChat(&stubChat{sendErr: tt.err})

			rr := ts.do(httptest.NewRequest(http.MethodPost, "/api/v1/chat", bytes.NewBufferString(`{"message":"hi"}`)))
			assert.Equal(t, tt.want, rr.Code, rr.Body.String())
			assert.NotContains(t, rr.Body.String(), "down")
		})
	}
}

func TestGetChatHistory(t *testing.T) {
	at := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)

	t.Run("lists messages", func(t *testing.T) {
		ts := newTestHTTPServer(t, nil, nil)
		c := &stubChat{history: []domain.ChatMessage{
			{Seq: 1, SessionID: "s1", Role: domain.ChatRoleUser, Content: "q", CreatedAt: at},
			{Seq: 2, SessionID: "s1", Role: domain.ChatRoleAssistant, Content: "a", CreatedAt: at},
		}}
		ts.WithChat(c)

		rr := ts.do(httptest.NewRequest(http.MethodGet, "/api/v1/sessions/s1/chat?limit=10", nil))
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

		resp := decode[chatHistoryResponse](t, rr)
		assert.Equal(t, "s1", resp.SessionID)
		assert.Equal(t, []chatMessageResponse{
			{Seq: 1, Role: "user", Content: "q", CreatedAt: at},
			{Seq: 2, Role: "assistant", Content: "a", CreatedAt: at},
		}, resp.Messages)
		assert.Equal(t, 10, c.gotLimit)
	})

	t.Run("empty session", func(t *testing.T) {
		ts := newTestHTTPServer(t, nil, nil)
		ts.WithChat(&stubChat{history: []domain.ChatMessage{}})

		rr := ts.do(httptest.NewRequest(http.MethodGet, "/api/v1/sessions/s1/chat", nil))
		require.Equal(t, http.StatusOK, rr.Code)
		assert.JSONEq(t, `{"session_id":"s1","messages":[]}`, rr.Body.String())
	})

	t.Run("bad limit", func(t *testing.T) {
		ts := newTestHTTPServer(t, nil, nil)
		ts.WithChat(&stubChat{})

		rr := ts.do(httptest.NewRequest(http.MethodGet, "/api/v1/sessions/s1/chat?limit=-3", nil))
		require.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Equal(t, "limit", decode[errorResponse](t, rr).Field)
	})

	t.Run("store error", func(t *testing.T) {
		ts := newTestHTTPServer(t, nil, nil)
		ts.WithChat(&stubChat{histErr: domain.NewStoreError("load chat history", errors.New("down"))})

		rr := ts.do(httptest.NewRequest(http.MethodGet, "/api/v1/sessions/s1/chat", nil))
		assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	})

	t.Run("disabled", func(t *testing.T) {
		ts := newTestHTTPServer(t, nil, nil)
		rr := ts.do(httptest.NewRequest(http.MethodGet, "/api/v1/sessions/s1/chat", nil))
		assert.Equal(t, http.StatusNotFound, rr.Code)
	})
}
