// Package store provides durable persistence for sessions and messages.
// It is the single source of truth for message history; the in-memory
// registry cache is a read optimization layered on top.
package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Session lifecycle states.
const (
	StateIdle       = "idle"
	StateProcessing = "processing"
	StateClosed     = "closed"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Session is the persisted form of a chat session.
type Session struct {
	ID           string    `json:"session_id"`
	Provider     string    `json:"provider"`
	Model        string    `json:"model"`
	SystemPrompt string    `json:"system_prompt,omitempty"`
	APIKey       string    `json:"-"`
	State        string    `json:"state"`
	CreatedAt    time.Time `json:"created_at"`
	LastActiveAt time.Time `json:"last_active_at"`
}

// Message is one entry in a session's append-only history. Seq is assigned
// by the store and is strictly increasing and gapless within a session.
type Message struct {
	SessionID  string    `json:"session_id"`
	Seq        int64     `json:"seq"`
	Role       string    `json:"role"`
	Content    string    `json:"content"`
	ToolName   string    `json:"tool_name,omitempty"`
	ToolUseID  string    `json:"tool_use_id,omitempty"`
	ToolInput  string    `json:"tool_input,omitempty"`  // JSON blob
	ToolResult string    `json:"tool_result,omitempty"` // JSON blob
	Timestamp  time.Time `json:"timestamp"`
}

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	session_id TEXT PRIMARY KEY,
	provider TEXT NOT NULL,
	model TEXT NOT NULL,
	system_prompt TEXT DEFAULT '',
	api_key TEXT DEFAULT '',
	state TEXT NOT NULL DEFAULT 'idle',
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	last_active_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS messages (
	session_id TEXT NOT NULL,
	seq INTEGER NOT NULL,
	role TEXT NOT NULL,
	content TEXT NOT NULL DEFAULT '',
	tool_name TEXT DEFAULT '',
	tool_use_id TEXT DEFAULT '',
	tool_input TEXT DEFAULT '',
	tool_result TEXT DEFAULT '',
	timestamp DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (session_id, seq),
	FOREIGN KEY (session_id) REFERENCES sessions (session_id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id);
CREATE INDEX IF NOT EXISTS idx_sessions_last_active ON sessions(last_active_at);
`

// Store wraps the sqlite database holding sessions and messages.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the store at dbPath.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", "file:"+dbPath+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open session db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// PutSession inserts or replaces a session row.
func (s *Store) PutSession(sess *Session) error {
	_, err := s.db.Exec(`
		INSERT INTO sessions (session_id, provider, model, system_prompt, api_key, state, created_at, last_active_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			provider = excluded.provider,
			model = excluded.model,
			system_prompt = excluded.system_prompt,
			api_key = excluded.api_key,
			state = excluded.state,
			last_active_at = excluded.last_active_at`,
		sess.ID, sess.Provider, sess.Model, sess.SystemPrompt, sess.APIKey,
		sess.State, sess.CreatedAt.UTC(), sess.LastActiveAt.UTC())
	if err != nil {
		return fmt.Errorf("put session %s: %w", sess.ID, err)
	}
	return nil
}

// GetSession loads a session row. Returns sql.ErrNoRows if absent.
func (s *Store) GetSession(id string) (*Session, error) {
	row := s.db.QueryRow(`
		SELECT session_id, provider, model, system_prompt, api_key, state, created_at, last_active_at
		FROM sessions WHERE session_id = ?`, id)
	sess := &Session{}
	err := row.Scan(&sess.ID, &sess.Provider, &sess.Model, &sess.SystemPrompt,
		&sess.APIKey, &sess.State, &sess.CreatedAt, &sess.LastActiveAt)
	if err != nil {
		return nil, err
	}
	return sess, nil
}

// UpdateSessionState updates a session's lifecycle state and activity time.
func (s *Store) UpdateSessionState(id, state string) error {
	res, err := s.db.Exec(`UPDATE sessions SET state = ?, last_active_at = ? WHERE session_id = ?`,
		state, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update session state: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ListSessions returns the most recently active sessions, newest first.
func (s *Store) ListSessions(limit int) ([]*Session, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`
		SELECT session_id, provider, model, system_prompt, api_key, state, created_at, last_active_at
		FROM sessions ORDER BY last_active_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []*Session
	for rows.Next() {
		sess := &Session{}
		if err := rows.Scan(&sess.ID, &sess.Provider, &sess.Model, &sess.SystemPrompt,
			&sess.APIKey, &sess.State, &sess.CreatedAt, &sess.LastActiveAt); err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// DeleteSession removes a session and, via cascade, its messages.
func (s *Store) DeleteSession(id string) error {
	res, err := s.db.Exec(`DELETE FROM sessions WHERE session_id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete session %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// AppendMessage assigns the next sequence number for the session and inserts
// the message in a single transaction. The assigned seq is written back into
// msg before returning.
func (s *Store) AppendMessage(msg *Message) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("append message: begin: %w", err)
	}
	defer tx.Rollback()

	var seq int64
	if err := tx.QueryRow(`SELECT COALESCE(MAX(seq), 0) + 1 FROM messages WHERE session_id = ?`,
		msg.SessionID).Scan(&seq); err != nil {
		return fmt.Errorf("append message: next seq: %w", err)
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	if _, err := tx.Exec(`
		INSERT INTO messages (session_id, seq, role, content, tool_name, tool_use_id, tool_input, tool_result, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.SessionID, seq, msg.Role, msg.Content, msg.ToolName, msg.ToolUseID,
		msg.ToolInput, msg.ToolResult, msg.Timestamp.UTC()); err != nil {
		return fmt.Errorf("append message: insert: %w", err)
	}
	if _, err := tx.Exec(`UPDATE sessions SET last_active_at = ? WHERE session_id = ?`,
		msg.Timestamp.UTC(), msg.SessionID); err != nil {
		return fmt.Errorf("append message: touch session: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("append message: commit: %w", err)
	}
	msg.Seq = seq
	return nil
}

// ListMessages returns a session's messages in sequence order.
func (s *Store) ListMessages(sessionID string) ([]*Message, error) {
	rows, err := s.db.Query(`
		SELECT session_id, seq, role, content, tool_name, tool_use_id, tool_input, tool_result, timestamp
		FROM messages WHERE session_id = ? ORDER BY seq ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var out []*Message
	for rows.Next() {
		m := &Message{}
		if err := rows.Scan(&m.SessionID, &m.Seq, &m.Role, &m.Content, &m.ToolName,
			&m.ToolUseID, &m.ToolInput, &m.ToolResult, &m.Timestamp); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// MessageCount returns the number of messages recorded for a session.
func (s *Store) MessageCount(sessionID string) (int64, error) {
	var n int64
	err := s.db.QueryRow(`SELECT COUNT(*) FROM messages WHERE session_id = ?`, sessionID).Scan(&n)
	return n, err
}

// CleanupSessions deletes closed or stale sessions older than the cutoff and
// returns the number removed. Processing sessions are never touched.
func (s *Store) CleanupSessions(olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan).UTC()
	res, err := s.db.Exec(`
		DELETE FROM sessions WHERE last_active_at < ? AND state != ?`, cutoff, StateProcessing)
	if err != nil {
		return 0, fmt.Errorf("cleanup sessions: %w", err)
	}
	return res.RowsAffected()
}
