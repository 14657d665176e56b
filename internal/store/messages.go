package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hattiebot/familiar/internal/core"
)

// DefaultConversation is the scope used when a message names none.
const DefaultConversation = "default"

// ToolCallRecord is a persisted tool call requested by an assistant turn.
type ToolCallRecord struct {
	CallID    string `json:"call_id"`
	ToolName  string `json:"tool_name"`
	Arguments string `json:"raw_argument_json"`
}

// Metadata is free-form structured annotation stored alongside a message.
type Metadata map[string]any

// Message is a stored conversation turn. Messages are never updated once written.
type Message struct {
	ID           int64            `json:"id"`
	Conversation string           `json:"conversation"`
	Role         string           `json:"role"`
	Content      *string          `json:"content"`
	Model        *string          `json:"model,omitempty"`
	Provider     *string          `json:"provider,omitempty"`
	ToolCalls    []ToolCallRecord `json:"tool_calls,omitempty"`
	ToolCallID   *string          `json:"tool_call_id,omitempty"`
	Metadata     Metadata         `json:"metadata,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
}

// NewMessage is a message to be appended. Empty Conversation means DefaultConversation.
type NewMessage struct {
	Conversation string
	Role         string
	Content      *string
	Model        *string
	Provider     *string
	ToolCalls    []ToolCallRecord
	ToolCallID   *string
	Metadata     Metadata
}

// Text returns a pointer to s, for optional message fields.
func Text(s string) *string {
	return &s
}

// Validate checks the role-specific field rules.
func (m NewMessage) Validate() error {
	switch m.Role {
	case core.RoleSystem, core.RoleUser:
		if m.Model != nil || m.Provider != nil {
			return fmt.Errorf("%w: %s message cannot carry model or provider", ErrInvalidMessage, m.Role)
		}
		if m.Content == nil {
			return fmt.Errorf("%w: %s message requires content", ErrInvalidMessage, m.Role)
		}
	case core.RoleAssistant:
		if m.Content == nil && len(m.ToolCalls) == 0 {
			return fmt.Errorf("%w: assistant message requires content or tool calls", ErrInvalidMessage)
		}
	case core.RoleTool:
		if m.ToolCallID == nil || *m.ToolCallID == "" {
			return fmt.Errorf("%w: tool message requires tool_call_id", ErrInvalidMessage)
		}
		if m.Content == nil {
			return fmt.Errorf("%w: tool message requires content", ErrInvalidMessage)
		}
	default:
		return fmt.Errorf("%w: unknown role %q", ErrInvalidMessage, m.Role)
	}
	if m.Role != core.RoleTool && m.ToolCallID != nil {
		return fmt.Errorf("%w: tool_call_id is only valid on tool messages", ErrInvalidMessage)
	}
	if m.Role != core.RoleAssistant && len(m.ToolCalls) > 0 {
		return fmt.Errorf("%w: tool_calls are only valid on assistant messages", ErrInvalidMessage)
	}
	seen := make(map[string]bool, len(m.ToolCalls))
	for _, tc := range m.ToolCalls {
		if tc.CallID == "" || tc.ToolName == "" {
			return fmt.Errorf("%w: tool call requires call_id and tool_name", ErrInvalidMessage)
		}
		if seen[tc.CallID] {
			return fmt.Errorf("%w: duplicate call_id %q", ErrInvalidMessage, tc.CallID)
		}
		seen[tc.CallID] = true
	}
	return nil
}

// AppendMessage validates and durably inserts a message, returning its id.
func (db *DB) AppendMessage(ctx context.Context, m NewMessage) (int64, error) {
	if err := m.Validate(); err != nil {
		return 0, err
	}
	conversation := m.Conversation
	if conversation == "" {
		conversation = DefaultConversation
	}
	var toolCalls, metadata sql.NullString
	if len(m.ToolCalls) > 0 {
		b, err := json.Marshal(m.ToolCalls)
		if err != nil {
			return 0, fmt.Errorf("%w: encode tool_calls: %w", ErrInvalidMessage, err)
		}
		toolCalls = sql.NullString{String: string(b), Valid: true}
	}
	if len(m.Metadata) > 0 {
		b, err := json.Marshal(m.Metadata)
		if err != nil {
			return 0, fmt.Errorf("%w: encode metadata: %w", ErrInvalidMessage, err)
		}
		metadata = sql.NullString{String: string(b), Valid: true}
	}
	createdAt := time.Now().UTC().Format(time.RFC3339Nano)

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: begin: %w", ErrStoreUnavailable, err)
	}
	defer tx.Rollback()

	if m.Role == core.RoleTool {
		if err := checkToolCallID(ctx, tx, conversation, *m.ToolCallID); err != nil {
			return 0, err
		}
	}
	res, err := tx.ExecContext(ctx,
		`INSERT INTO messages (conversation, role, content, model, provider, tool_calls, tool_call_id, metadata, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		conversation, m.Role, nullable(m.Content), nullable(m.Model), nullable(m.Provider), toolCalls, nullable(m.ToolCallID), metadata, createdAt,
	)
	if err != nil {
		return 0, fmt.Errorf("%w: insert message: %w", ErrStoreUnavailable, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("%w: last insert id: %w", ErrStoreUnavailable, err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("%w: commit: %w", ErrStoreUnavailable, err)
	}
	return id, nil
}

// checkToolCallID requires an earlier assistant message in the conversation to
// have issued callID.
func checkToolCallID(ctx context.Context, tx *sql.Tx, conversation, callID string) error {
	rows, err := tx.QueryContext(ctx,
		`SELECT tool_calls FROM messages WHERE conversation = ? AND role = ? AND tool_calls IS NOT NULL ORDER BY id DESC`,
		conversation, core.RoleAssistant)
	if err != nil {
		return fmt.Errorf("%w: query tool calls: %w", ErrStoreUnavailable, err)
	}
	defer rows.Close()
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return fmt.Errorf("%w: scan tool calls: %w", ErrStoreUnavailable, err)
		}
		var calls []ToolCallRecord
		if err := json.Unmarshal([]byte(raw), &calls); err != nil {
			continue
		}
		for _, c := range calls {
			if c.CallID == callID {
				return nil
			}
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("%w: read tool calls: %w", ErrStoreUnavailable, err)
	}
	return fmt.Errorf("%w: tool_call_id %q matches no assistant tool call", ErrInvalidMessage, callID)
}

// RecentMessages returns the last limit messages of a conversation, oldest first.
// An empty conversation reads across all conversations; limit <= 0 returns everything.
func (db *DB) RecentMessages(ctx context.Context, conversation string, limit int) ([]Message, error) {
	query := `SELECT id, conversation, role, content, model, provider, tool_calls, tool_call_id, metadata, created_at
		 FROM messages`
	var args []any
	if conversation != "" {
		query += ` WHERE conversation = ?`
		args = append(args, conversation)
	}
	if limit <= 0 {
		limit = -1
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: query messages: %w", ErrStoreUnavailable, err)
	}
	defer rows.Close()
	var out []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: read messages: %w", ErrStoreUnavailable, err)
	}
	// Reverse to get chronological order
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// CountMessages returns the number of stored messages; empty conversation counts all.
func (db *DB) CountMessages(ctx context.Context, conversation string) (int, error) {
	query := `SELECT COUNT(*) FROM messages`
	var args []any
	if conversation != "" {
		query += ` WHERE conversation = ?`
		args = append(args, conversation)
	}
	var count int
	if err := db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("%w: count messages: %w", ErrStoreUnavailable, err)
	}
	return count, nil
}

// ClearMessages removes every message in every conversation.
func (db *DB) ClearMessages(ctx context.Context) error {
	if _, err := db.ExecContext(ctx, `DELETE FROM messages`); err != nil {
		return fmt.Errorf("%w: clear messages: %w", ErrStoreUnavailable, err)
	}
	return nil
}

// ClearConversation removes every message in one conversation.
func (db *DB) ClearConversation(ctx context.Context, conversation string) error {
	if conversation == "" {
		conversation = DefaultConversation
	}
	if _, err := db.ExecContext(ctx, `DELETE FROM messages WHERE conversation = ?`, conversation); err != nil {
		return fmt.Errorf("%w: clear conversation: %w", ErrStoreUnavailable, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (Message, error) {
	var m Message
	var content, model, provider, toolCalls, toolCallID, metadata sql.NullString
	var createdAt string
	if err := row.Scan(&m.ID, &m.Conversation, &m.Role, &content, &model, &provider, &toolCalls, &toolCallID, &metadata, &createdAt); err != nil {
		return m, fmt.Errorf("%w: scan message: %w", ErrStoreUnavailable, err)
	}
	m.Content = fromNullable(content)
	m.Model = fromNullable(model)
	m.Provider = fromNullable(provider)
	m.ToolCallID = fromNullable(toolCallID)
	if toolCalls.Valid && toolCalls.String != "" {
		if err := json.Unmarshal([]byte(toolCalls.String), &m.ToolCalls); err != nil {
			return m, fmt.Errorf("message %d: decode tool_calls: %w", m.ID, err)
		}
	}
	if metadata.Valid && metadata.String != "" {
		if err := json.Unmarshal([]byte(metadata.String), &m.Metadata); err != nil {
			return m, fmt.Errorf("message %d: decode metadata: %w", m.ID, err)
		}
	}
	t, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return m, fmt.Errorf("message %d: parse created_at: %w", m.ID, err)
	}
	m.CreatedAt = t
	return m, nil
}

func nullable(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func fromNullable(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

// MessageStore is the conversation storage used by the agent and the outer surfaces.
type MessageStore interface {
	AppendMessage(ctx context.Context, m NewMessage) (int64, error)
	RecentMessages(ctx context.Context, conversation string, limit int) ([]Message, error)
	ProviderMessages(ctx context.Context, conversation string, limit int) ([]core.Message, error)
	CountMessages(ctx context.Context, conversation string) (int, error)
	ClearMessages(ctx context.Context) error
	ClearConversation(ctx context.Context, conversation string) error
}

// Ensure *DB implements MessageStore.
var _ MessageStore = (*DB)(nil)
