package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/helixir/research-pipeline-service/internal/chat"
	"github.com/helixir/research-pipeline-service/internal/domain"
)

// ChatService answers chat turns and reads session history.
type ChatService interface {
	Send(ctx context.Context, sessionID, message string) (*chat.Reply, error)
	History(ctx context.Context, sessionID string, limit int) ([]domain.ChatMessage, error)
}

// WithChat enables the chat endpoints. Without it they answer 404.
func (s *Server) WithChat(c ChatService) *Server {
	s.chat = c
	return s
}

// chatRequest is the JSON request body of one chat turn.
type chatRequest struct {
	Message   string `json:"message" validate:"required,max=32000"`
	SessionID string `json:"session_id,omitempty" validate:"omitempty,max=128,printascii"`
}

// postChat handles POST /chat.
func (s *Server) postChat(w http.ResponseWriter, r *http.Request) {
	if s.chat == nil {
		writeError(w, http.StatusNotFound, "chat is disabled")
		return
	}

	defer r.Body.Close()
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBodySize))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	var req chatRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}
	req.Message = strings.TrimSpace(req.Message)
	req.SessionID = strings.TrimSpace(req.SessionID)

	if err := s.validate.Struct(req); err != nil {
		writeDomainError(w, validationFromValidator(err))
		return
	}

	reply, err := s.chat.Send(r.Context(), req.SessionID, req.Message)
	if err != nil {
		writeChatError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, chatResponse{
		SessionID:          reply.SessionID,
		Message:            reply.Message,
		ConversationLength: reply.ConversationLength,
		Timestamp:          reply.Timestamp,
	})
}

// getChatHistory handles GET /sessions/{sessionID}/chat.
func (s *Server) getChatHistory(w http.ResponseWriter, r *http.Request) {
	if s.chat == nil {
		writeError(w, http.StatusNotFound, "chat is disabled")
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "limit must be a positive integer", Field: "limit"})
			return
		}
		limit = n
	}

	sessionID := sessionIDFromContext(r.Context())
	msgs, err := s.chat.History(r.Context(), sessionID, limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	out := make([]chatMessageResponse, len(msgs))
	for i, m := range msgs {
		out[i] = chatMessageResponse{Seq: m.Seq, Role: string(m.Role), Content: m.Content, CreatedAt: m.CreatedAt}
	}
	writeJSON(w, http.StatusOK, chatHistoryResponse{SessionID: sessionID, Messages: out})
}

// writeChatError answers 502 when the completion service failed for a reason
// other than throttling or unavailability.
func writeChatError(w http.ResponseWriter, err error) {
	if errors.Is(err, chat.ErrCompletion) &&
		!errors.Is(err, domain.ErrRateLimited) &&
		!errors.Is(err, domain.ErrServiceUnavailable) {
		writeError(w, http.StatusBadGateway, "chat completion failed")
		return
	}
	writeDomainError(w, err)
}
