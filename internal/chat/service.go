// Package chat runs the conversation of a research session: each turn sends
// the session's recent history and the new message to the completion
// service and stores both sides of the exchange.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/helixir/research-pipeline-service/internal/domain"
	"github.com/helixir/research-pipeline-service/internal/llm"
	"github.com/helixir/research-pipeline-service/internal/observability"
	"github.com/helixir/research-pipeline-service/internal/repository"
)

// ErrCompletion marks a turn the completion service could not answer.
var ErrCompletion = errors.New("chat completion failed")

const systemPrompt = `You are a research assistant helping a founder explore a business problem.
Answer concisely and concretely. When the conversation refers to earlier
research results, build on them rather than repeating them.`

// Config holds the limits of one chat turn.
type Config struct {
	HistoryLimit     int
	MaxMessageLength int
	MaxTokens        int
	Timeout          time.Duration
}

// Reply is the outcome of one turn.
type Reply struct {
	SessionID string
	Message   string
	// ConversationLength counts the history sent with the turn plus the two
	// new messages.
	ConversationLength int
	Timestamp          time.Time
}

// Service answers chat turns.
type Service struct {
	history   repository.ChatRepository
	completer llm.Completer
	cfg       Config
	metrics   *observability.Metrics
	logger    zerolog.Logger
}

// NewService creates a chat service. metrics may be nil.
func NewService(history repository.ChatRepository, completer llm.Completer, cfg Config, metrics *observability.Metrics, logger zerolog.Logger) *Service {
	return &Service{
		history:   history,
		completer: completer,
		cfg:       cfg,
		metrics:   metrics,
		logger:    logger.With().Str("component", "chat").Logger(),
	}
}

// Send answers message within sessionID. An empty sessionID starts a new
// session. Nothing is stored when the completion fails.
func (s *Service) Send(ctx context.Context, sessionID, message string) (*Reply, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		s.metrics.RecordChatTurn("invalid")
		return nil, domain.NewValidationError("message", "is required")
	}
	if s.cfg.MaxMessageLength > 0 && utf8.RuneCountInString(message) > s.cfg.MaxMessageLength {
		s.metrics.RecordChatTurn("invalid")
		return nil, domain.NewValidationError("message", fmt.Sprintf("must be at most %d characters", s.cfg.MaxMessageLength))
	}
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	logger := s.logger.With().Str("session_id", sessionID).Logger()

	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}

	past, err := s.history.History(ctx, sessionID, s.cfg.HistoryLimit)
	if err != nil {
		s.metrics.RecordChatTurn("failed")
		return nil, fmt.Errorf("load history: %w", err)
	}
	turns := conversation(past)

	resp, err := s.completer.Complete(ctx, llm.CompletionRequest{
		System:    systemPrompt,
		History:   turns,
		Prompt:    message,
		MaxTokens: s.cfg.MaxTokens,
	})
	if err != nil {
		s.metrics.RecordChatTurn("failed")
		logger.Error().Err(err).Msg("chat completion failed")
		return nil, fmt.Errorf("%w: %w", ErrCompletion, err)
	}
	answer := strings.TrimSpace(resp.Text)
	if answer == "" {
		s.metrics.RecordChatTurn("failed")
		return nil, fmt.Errorf("%w: empty answer", ErrCompletion)
	}

	user := &domain.ChatMessage{SessionID: sessionID, Role: domain.ChatRoleUser, Content: message}
	assistant := &domain.ChatMessage{SessionID: sessionID, Role: domain.ChatRoleAssistant, Content: answer}
	if err := s.history.Append(ctx, user, assistant); err != nil {
		s.metrics.RecordChatTurn("failed")
		return nil, fmt.Errorf("store messages: %w", err)
	}

	s.metrics.RecordChatTurn("ok")
	logger.Info().Int("history", len(turns)).Msg("chat turn answered")
	return &Reply{
		SessionID:          sessionID,
		Message:            answer,
		ConversationLength: len(turns) + 2,
		Timestamp:          assistant.CreatedAt,
	}, nil
}

// History returns the stored messages of a session, oldest first.
func (s *Service) History(ctx context.Context, sessionID string, limit int) ([]domain.ChatMessage, error) {
	if sessionID == "" {
		return nil, domain.NewValidationError("session_id", "session ID is required")
	}
	return s.history.History(ctx, sessionID, limit)
}

// conversation converts stored messages into completion turns. A window cut
// by the history limit may start with an assistant message; providers expect
// the first turn to be the user's, so leading assistant turns are dropped.
func conversation(msgs []domain.ChatMessage) []llm.Message {
	i := 0
	for i < len(msgs) && msgs[i].Role != domain.ChatRoleUser {
		i++
	}
	out := make([]llm.Message, 0, len(msgs)-i)
	for _, m := range msgs[i:] {
		out = append(out, llm.Message{Role: string(m.Role), Content: m.Content})
	}
	return out
}
