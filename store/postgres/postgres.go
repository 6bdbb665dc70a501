// Package postgres implements saturn.Store using PostgreSQL.
//
// Store accepts an externally-owned *pgxpool.Pool via constructor injection.
// The caller creates and closes the pool.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spotty118/saturn"
)

// Store implements saturn.Store backed by PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

var _ saturn.Store = (*Store)(nil)

// New creates a Store using an existing pgxpool.Pool.
// The caller owns the pool and is responsible for closing it.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Init creates all required tables.
func (s *Store) Init(ctx context.Context) error {
	tables := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			type TEXT NOT NULL,
			parent_id TEXT,
			agent_name TEXT NOT NULL,
			model TEXT NOT NULL,
			system_prompt TEXT,
			temperature DOUBLE PRECISION,
			max_tokens INTEGER,
			created_at BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id BIGSERIAL PRIMARY KEY,
			session_id TEXT NOT NULL REFERENCES sessions(id),
			role TEXT NOT NULL,
			content TEXT,
			tool_calls JSONB,
			tool_call_id TEXT,
			name TEXT,
			created_at BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS tool_calls (
			id BIGSERIAL PRIMARY KEY,
			message_id BIGINT NOT NULL,
			session_id TEXT NOT NULL REFERENCES sessions(id),
			tool_name TEXT NOT NULL,
			args JSONB NOT NULL,
			agent_name TEXT NOT NULL,
			result TEXT,
			error TEXT,
			elapsed_ms BIGINT,
			created_at BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id)`,
		`CREATE INDEX IF NOT EXISTS idx_tool_calls_session ON tool_calls(session_id)`,
	}
	for _, ddl := range tables {
		if _, err := s.pool.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("postgres: init: %w", err)
		}
	}
	return nil
}

// CreateSession persists a new session row.
func (s *Store) CreateSession(ctx context.Context, sess saturn.Session) (string, error) {
	if sess.ID == "" {
		sess.ID = saturn.NewID()
	}
	if sess.CreatedAt == 0 {
		sess.CreatedAt = time.Now().Unix()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO sessions (id, name, type, parent_id, agent_name, model, system_prompt, temperature, max_tokens, created_at)
		 VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7, $8, $9, $10)`,
		sess.ID, sess.Name, sess.Type, sess.ParentID, sess.AgentName,
		sess.Model, sess.SystemPrompt, sess.Temperature, sess.MaxTokens, sess.CreatedAt)
	if err != nil {
		return "", fmt.Errorf("postgres: create session: %w", err)
	}
	return sess.ID, nil
}

// SaveMessage appends a message. BIGSERIAL ids are monotonic with append
// order.
func (s *Store) SaveMessage(ctx context.Context, sessionID string, m saturn.ChatMessage) (int64, error) {
	var toolCalls any
	if len(m.ToolCalls) > 0 {
		raw, err := json.Marshal(m.ToolCalls)
		if err != nil {
			return 0, fmt.Errorf("postgres: marshal tool calls: %w", err)
		}
		toolCalls = string(raw)
	}
	var id int64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO messages (session_id, role, content, tool_calls, tool_call_id, name, created_at)
		 VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''), $7) RETURNING id`,
		sessionID, m.Role, m.Content, toolCalls, m.ToolCallID, m.Name, time.Now().UnixMilli()).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("postgres: save message: %w", err)
	}
	return id, nil
}

// SaveToolCall records a tool invocation under a message.
func (s *Store) SaveToolCall(ctx context.Context, messageID int64, sessionID, toolName string, args json.RawMessage, agentName string) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO tool_calls (message_id, session_id, tool_name, args, agent_name, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		messageID, sessionID, toolName, string(args), agentName, time.Now().UnixMilli()).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("postgres: save tool call: %w", err)
	}
	return id, nil
}

// UpdateToolCallResult records the outcome of a previously saved call.
func (s *Store) UpdateToolCallResult(ctx context.Context, toolCallID int64, result, errMsg string, elapsed time.Duration) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE tool_calls SET result = $1, error = NULLIF($2, ''), elapsed_ms = $3 WHERE id = $4`,
		result, errMsg, elapsed.Milliseconds(), toolCallID)
	if err != nil {
		return fmt.Errorf("postgres: update tool call: %w", err)
	}
	return nil
}

// Close is a no-op; the pool is externally owned.
func (s *Store) Close() error { return nil }
