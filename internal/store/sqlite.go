// Package store persists conversations and their transcripts in SQLite.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"papermind/internal/logging"
	"papermind/internal/types"

	_ "modernc.org/sqlite"
)

// SQLite stores conversations keyed by owner (the account email), so two
// accounts sharing one client home never see each other's transcripts.
type SQLite struct {
	db     *sql.DB
	mu     sync.RWMutex
	dbPath string
}

// Open creates or opens the conversation database at path.
func Open(path string) (*SQLite, error) {
	logging.Store("Opening conversation store at %s", path)

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.StoreDebug("Failed to set sqlite busy_timeout: %v", err)
	}
	if path != ":memory:" {
		if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
			logging.StoreDebug("Failed to set sqlite journal_mode=WAL: %v", err)
		}
	}

	s := &SQLite{db: db, dbPath: path}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *SQLite) Path() string {
	return s.dbPath
}

func (s *SQLite) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS conversations (
		id TEXT PRIMARY KEY,
		owner TEXT NOT NULL,
		title TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_conversations_owner ON conversations(owner, created_at);

	-- Transcripts are append-only: rows are inserted, never updated.
	CREATE TABLE IF NOT EXISTS messages (
		conversation_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		is_image INTEGER NOT NULL DEFAULT 0,
		timestamp INTEGER NOT NULL,
		PRIMARY KEY (conversation_id, seq),
		FOREIGN KEY (conversation_id) REFERENCES conversations(id) ON DELETE CASCADE
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// CONVERSATIONS
// =============================================================================

// SaveConversation inserts the conversation header or updates its title.
// Messages are written separately through AppendMessage.
func (s *SQLite) SaveConversation(ctx context.Context, owner string, c types.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (id, owner, title, created_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET title = excluded.title`,
		c.ID, owner, c.Title, c.CreatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to save conversation %s: %w", c.ID, err)
	}
	logging.StoreDebug("Saved conversation %s (%q)", c.ID, c.Title)
	return nil
}

// AppendMessage adds m at the end of the conversation's transcript.
func (s *SQLite) AppendMessage(ctx context.Context, conversationID string, m types.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	isImage := 0
	if m.IsImage {
		isImage = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (conversation_id, seq, role, content, is_image, timestamp)
		 VALUES (?, (SELECT COALESCE(MAX(seq), -1) + 1 FROM messages WHERE conversation_id = ?), ?, ?, ?, ?)`,
		conversationID, conversationID, m.Role.String(), m.Content, isImage, m.Timestamp.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to append message to %s: %w", conversationID, err)
	}
	return nil
}

// LoadConversations returns the owner's conversations, oldest first, with
// their transcripts in append order.
func (s *SQLite) LoadConversations(ctx context.Context, owner string) ([]types.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, created_at FROM conversations WHERE owner = ? ORDER BY created_at, id`,
		owner,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query conversations: %w", err)
	}

	var out []types.Conversation
	index := make(map[string]int)
	for rows.Next() {
		var c types.Conversation
		var created int64
		if err := rows.Scan(&c.ID, &c.Title, &created); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan conversation: %w", err)
		}
		c.CreatedAt = time.Unix(0, created)
		index[c.ID] = len(out)
		out = append(out, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, nil
	}

	mrows, err := s.db.QueryContext(ctx,
		`SELECT m.conversation_id, m.role, m.content, m.is_image, m.timestamp
		 FROM messages m JOIN conversations c ON c.id = m.conversation_id
		 WHERE c.owner = ?
		 ORDER BY m.conversation_id, m.seq`,
		owner,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer mrows.Close()

	for mrows.Next() {
		var (
			convID, role, content string
			isImage               int
			ts                    int64
		)
		if err := mrows.Scan(&convID, &role, &content, &isImage, &ts); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		r, err := types.ParseRole(role)
		if err != nil {
			logging.StoreWarn("Skipping message in %s: %v", convID, err)
			continue
		}
		i := index[convID]
		out[i].Messages = append(out[i].Messages, types.Message{
			Role:      r,
			Content:   content,
			IsImage:   isImage != 0,
			Timestamp: time.Unix(0, ts),
		})
	}
	if err := mrows.Err(); err != nil {
		return nil, err
	}

	logging.StoreDebug("Loaded %d conversations for %s", len(out), owner)
	return out, nil
}
