// Package sqlite implements saturn.Store using pure-Go SQLite. Zero CGO
// required.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/spotty118/saturn"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// StoreOption configures a SQLite Store.
type StoreOption func(*Store)

// WithLogger sets a structured logger for the store. When set, the store
// emits debug logs for every operation. If not set, no logs are emitted.
func WithLogger(l *slog.Logger) StoreOption {
	return func(s *Store) { s.logger = l }
}

// Store implements saturn.Store backed by a local SQLite file.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ saturn.Store = (*Store)(nil)

// New creates a Store using a local SQLite file at dbPath.
// It opens a single shared connection pool with SetMaxOpenConns(1) so that
// all goroutines serialize through one connection, eliminating SQLITE_BUSY
// errors caused by concurrent writers opening independent connections.
func New(dbPath string, opts ...StoreOption) *Store {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		// sql.Open only fails when the driver is not registered; with the
		// blank import above that never happens.
		panic(fmt.Sprintf("sqlite: open driver: %v", err))
	}
	db.SetMaxOpenConns(1)
	s := &Store{db: db, logger: slog.New(slog.DiscardHandler)}
	for _, o := range opts {
		o(s)
	}
	s.logger.Debug("sqlite: store opened", "path", dbPath)
	return s
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
			temperature REAL,
			max_tokens INTEGER,
			created_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL REFERENCES sessions(id),
			role TEXT NOT NULL,
			content TEXT,
			tool_calls TEXT,
			tool_call_id TEXT,
			name TEXT,
			created_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS tool_calls (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			message_id INTEGER NOT NULL,
			session_id TEXT NOT NULL REFERENCES sessions(id),
			tool_name TEXT NOT NULL,
			args TEXT NOT NULL,
			agent_name TEXT NOT NULL,
			result TEXT,
			error TEXT,
			elapsed_ms INTEGER,
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id)`,
		`CREATE INDEX IF NOT EXISTS idx_tool_calls_session ON tool_calls(session_id)`,
	}
	for _, ddl := range tables {
		if _, err := s.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("sqlite: init: %w", err)
		}
	}
	s.logger.Debug("sqlite: init done")
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
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, name, type, parent_id, agent_name, model, system_prompt, temperature, max_tokens, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.Name, sess.Type, nullStr(sess.ParentID), sess.AgentName,
		sess.Model, sess.SystemPrompt, sess.Temperature, sess.MaxTokens, sess.CreatedAt)
	if err != nil {
		return "", fmt.Errorf("sqlite: create session: %w", err)
	}
	s.logger.Debug("sqlite: session created", "id", sess.ID, "agent", sess.AgentName)
	return sess.ID, nil
}

// SaveMessage appends a message. AUTOINCREMENT ids are monotonic with append
// order.
func (s *Store) SaveMessage(ctx context.Context, sessionID string, m saturn.ChatMessage) (int64, error) {
	var toolCalls any
	if len(m.ToolCalls) > 0 {
		raw, err := json.Marshal(m.ToolCalls)
		if err != nil {
			return 0, fmt.Errorf("sqlite: marshal tool calls: %w", err)
		}
		toolCalls = string(raw)
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (session_id, role, content, tool_calls, tool_call_id, name, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sessionID, m.Role, m.Content, toolCalls, nullStr(m.ToolCallID), nullStr(m.Name), time.Now().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("sqlite: save message: %w", err)
	}
	return res.LastInsertId()
}

// SaveToolCall records a tool invocation under a message.
func (s *Store) SaveToolCall(ctx context.Context, messageID int64, sessionID, toolName string, args json.RawMessage, agentName string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO tool_calls (message_id, session_id, tool_name, args, agent_name, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		messageID, sessionID, toolName, string(args), agentName, time.Now().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("sqlite: save tool call: %w", err)
	}
	return res.LastInsertId()
}

// UpdateToolCallResult records the outcome of a previously saved call.
func (s *Store) UpdateToolCallResult(ctx context.Context, toolCallID int64, result, errMsg string, elapsed time.Duration) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE tool_calls SET result = ?, error = ?, elapsed_ms = ? WHERE id = ?`,
		result, nullStr(errMsg), elapsed.Milliseconds(), toolCallID)
	if err != nil {
		return fmt.Errorf("sqlite: update tool call: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func nullStr(v string) any {
	if v == "" {
		return nil
	}
	return v
}
