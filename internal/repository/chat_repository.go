package repository

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/helixir/research-pipeline-service/internal/domain"
)

// Chat history limits.
const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

// ChatRepository stores the conversation history of chat sessions.
type ChatRepository interface {
	// Append stores msgs atomically, in order, and assigns each its Seq and
	// CreatedAt. Returns domain.ErrInvalidInput when a message is incomplete.
	Append(ctx context.Context, msgs ...*domain.ChatMessage) error

	// History returns the most recent limit messages of a session, oldest
	// first. limit <= 0 selects the default of 50; it is capped at 200.
	History(ctx context.Context, sessionID string, limit int) ([]domain.ChatMessage, error)
}

func clampHistoryLimit(limit int) int {
	if limit <= 0 {
		return defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		return maxHistoryLimit
	}
	return limit
}

func validateMessages(msgs []*domain.ChatMessage) error {
	if len(msgs) == 0 {
		return domain.NewValidationError("messages", "at least one message is required")
	}
	for _, m := range msgs {
		if m == nil {
			return domain.NewValidationError("messages", "message is nil")
		}
		if err := m.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Compile-time interface verification.
var (
	_ ChatRepository = (*PgChatRepository)(nil)
	_ ChatRepository = (*MemoryChatRepository)(nil)
)

// PgChatRepository is a PostgreSQL implementation of ChatRepository.
type PgChatRepository struct {
	db DBTX
}

// NewPgChatRepository creates a chat repository over db.
func NewPgChatRepository(db DBTX) *PgChatRepository {
	return &PgChatRepository{db: db}
}

// Append inserts every message with one statement.
func (r *PgChatRepository) Append(ctx context.Context, msgs ...*domain.ChatMessage) error {
	if err := validateMessages(msgs); err != nil {
		return err
	}

	values := make([]string, 0, len(msgs))
	args := make([]interface{}, 0, len(msgs)*3)
	for i, m := range msgs {
		values = append(values, fmt.Sprintf("($%d, $%d, $%d)", i*3+1, i*3+2, i*3+3))
		args = append(args, m.SessionID, string(m.Role), m.Content)
	}
	query := `
		INSERT INTO chat_messages (session_id, role, content)
		VALUES ` + strings.Join(values, ", ") + `
		RETURNING seq, created_at`

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return domain.NewStoreError("append chat messages", err)
	}
	defer rows.Close()

	i := 0
	for rows.Next() {
		if i >= len(msgs) {
			break
		}
		if err := rows.Scan(&msgs[i].Seq, &msgs[i].CreatedAt); err != nil {
			return domain.NewStoreError("scan chat message", err)
		}
		i++
	}
	if err := rows.Err(); err != nil {
		return domain.NewStoreError("append chat messages", err)
	}
	return nil
}

// History returns the tail of a session's conversation.
func (r *PgChatRepository) History(ctx context.Context, sessionID string, limit int) ([]domain.ChatMessage, error) {
	query := `
		SELECT seq, session_id, role, content, created_at FROM (
			SELECT seq, session_id, role, content, created_at
			FROM chat_messages
			WHERE session_id = $1
			ORDER BY seq DESC
			LIMIT $2
		) recent
		ORDER BY seq ASC`

	rows, err := r.db.Query(ctx, query, sessionID, clampHistoryLimit(limit))
	if err != nil {
		return nil, domain.NewStoreError("load chat history", err)
	}
	defer rows.Close()

	out := []domain.ChatMessage{}
	for rows.Next() {
		var (
			m    domain.ChatMessage
			role string
		)
		if err := rows.Scan(&m.Seq, &m.SessionID, &role, &m.Content, &m.CreatedAt); err != nil {
			return nil, domain.NewStoreError("scan chat message", err)
		}
		m.Role = domain.ChatRole(role)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.NewStoreError("load chat history", err)
	}
	return out, nil
}

// MemoryChatRepository keeps chat history in process memory.
type MemoryChatRepository struct {
	mu       sync.Mutex
	seq      int64
	sessions map[string][]domain.ChatMessage
	now      func() time.Time
}

// NewMemoryChatRepository creates an empty in-memory chat repository.
func NewMemoryChatRepository() *MemoryChatRepository {
	return &MemoryChatRepository{
		sessions: make(map[string][]domain.ChatMessage),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Append stores copies of msgs.
func (r *MemoryChatRepository) Append(_ context.Context, msgs ...*domain.ChatMessage) error {
	if err := validateMessages(msgs); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	for _, m := range msgs {
		r.seq++
		m.Seq = r.seq
		m.CreatedAt = now
		r.sessions[m.SessionID] = append(r.sessions[m.SessionID], *m)
	}
	return nil
}

// History returns copies of the tail of a session's conversation.
func (r *MemoryChatRepository) History(_ context.Context, sessionID string, limit int) ([]domain.ChatMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	all := r.sessions[sessionID]
	limit = clampHistoryLimit(limit)
	if len(all) > limit {
		all = all[len(all)-limit:]
	}
	return append([]domain.ChatMessage{}, all...), nil
}
