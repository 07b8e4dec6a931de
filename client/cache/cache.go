// Package cache is a local SQLite store of confirmed messages, so a room can
// render something before the network is up.
package cache

import (
	"database/sql"
	"fmt"

	"chat-sync/internal/models"

	_ "github.com/mattn/go-sqlite3"
)

type Store struct {
	db *sql.DB
}

// New opens or creates the cache database at path. ":memory:" works for tests.
func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate cache: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS cached_messages (
			room_id TEXT NOT NULL,
			message_id TEXT NOT NULL,
			sender_id INTEGER NOT NULL,
			sender_name TEXT NOT NULL,
			content TEXT NOT NULL,
			content_type TEXT NOT NULL,
			status TEXT NOT NULL,
			sent_at DATETIME NOT NULL,
			PRIMARY KEY (room_id, message_id)
		);

		CREATE INDEX IF NOT EXISTS idx_cached_messages_room
			ON cached_messages(room_id, sent_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Put upserts confirmed messages. Optimistic placeholders (sending/failed)
// are skipped; they are never authoritative.
func (s *Store) Put(messages ...models.Message) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO cached_messages (room_id, message_id, sender_id, sender_name, content, content_type, status, sent_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(room_id, message_id) DO UPDATE SET
			status = excluded.status
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, msg := range messages {
		if msg.Status == models.StatusSending || msg.Status == models.StatusFailed {
			continue
		}
		if _, err := stmt.Exec(msg.RoomID, msg.ID, msg.SenderID, msg.SenderName,
			msg.Content, msg.ContentType, msg.Status, msg.SentAt); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Messages returns up to limit cached messages for a room, oldest first.
func (s *Store) Messages(roomID string, limit int) ([]models.Message, error) {
	rows, err := s.db.Query(`
		SELECT message_id, room_id, sender_id, sender_name, content, content_type, status, sent_at
		FROM cached_messages
		WHERE room_id = ?
		ORDER BY sent_at ASC
		LIMIT ?
	`, roomID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []models.Message
	for rows.Next() {
		var msg models.Message
		if err := rows.Scan(&msg.ID, &msg.RoomID, &msg.SenderID, &msg.SenderName,
			&msg.Content, &msg.ContentType, &msg.Status, &msg.SentAt); err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// Close closes the cache database.
func (s *Store) Close() error {
	return s.db.Close()
}
