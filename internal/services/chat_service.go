package services

import (
	"context"
	"errors"

	"chat-sync/internal/db"
	"chat-sync/internal/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

var ErrMessageNotFound = errors.New("message not found")

type ChatService struct{}

func NewChatService() *ChatService {
	return &ChatService{}
}

func (s *ChatService) GetOrCreateDirectRoom(ctx context.Context, userID1, userID2 int) (*models.RoomResponse, error) {
	// Check if room exists
	query := `
		SELECT r.id
		FROM rooms r
		JOIN room_participants p1 ON r.id = p1.room_id
		JOIN room_participants p2 ON r.id = p2.room_id
		WHERE r.type = 'direct'
		AND p1.user_id = $1
		AND p2.user_id = $2
		LIMIT 1
	`
	var roomID string
	err := db.Pool.QueryRow(ctx, query, userID1, userID2).Scan(&roomID)
	if err == nil {
		return &models.RoomResponse{RoomID: roomID, IsNew: false}, nil
	}

	// Create new room
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	newRoomID := uuid.New().String()
	_, err = tx.Exec(ctx, "INSERT INTO rooms (id, type) VALUES ($1, 'direct')", newRoomID)
	if err != nil {
		return nil, err
	}

	_, err = tx.Exec(ctx, "INSERT INTO room_participants (room_id, user_id) VALUES ($1, $2), ($1, $3)", newRoomID, userID1, userID2)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	return &models.RoomResponse{RoomID: newRoomID, IsNew: true}, nil
}

// SaveMessage assigns the authoritative ID and timestamp and persists the message.
func (s *ChatService) SaveMessage(ctx context.Context, msg *models.Message) error {
	msg.ID = uuid.New().String()
	msg.Status = models.StatusSent
	if msg.ContentType == "" {
		msg.ContentType = models.ContentText
	}
	query := `
		INSERT INTO messages (id, room_id, sender_id, sender_name, content, content_type, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING sent_at
	`
	return db.Pool.QueryRow(ctx, query,
		msg.ID, msg.RoomID, msg.SenderID, msg.SenderName, msg.Content, msg.ContentType, msg.Status,
	).Scan(&msg.SentAt)
}

// GetMessagesPage returns one page of a room's messages, oldest first.
// Page numbering starts at 0.
func (s *ChatService) GetMessagesPage(ctx context.Context, roomID string, page, size int) ([]models.Message, error) {
	query := `
		SELECT id, room_id, sender_id, sender_name, content, content_type, status, sent_at
		FROM messages
		WHERE room_id = $1
		ORDER BY sent_at ASC
		LIMIT $2 OFFSET $3
	`
	rows, err := db.Pool.Query(ctx, query, roomID, size, page*size)
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

func (s *ChatService) GetMessageByID(ctx context.Context, id string) (*models.Message, error) {
	var msg models.Message
	query := `
		SELECT id, room_id, sender_id, sender_name, content, content_type, status, sent_at
		FROM messages WHERE id = $1
	`
	err := db.Pool.QueryRow(ctx, query, id).Scan(&msg.ID, &msg.RoomID, &msg.SenderID,
		&msg.SenderName, &msg.Content, &msg.ContentType, &msg.Status, &msg.SentAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrMessageNotFound
	}
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

// SetMessageStatus replaces the delivery status of one message.
func (s *ChatService) SetMessageStatus(ctx context.Context, messageID string, status models.Status) error {
	tag, err := db.Pool.Exec(ctx, `UPDATE messages SET status = $1 WHERE id = $2`, status, messageID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrMessageNotFound
	}
	return nil
}

// MarkMessageRead flips one message to read and returns its room for fan-out.
func (s *ChatService) MarkMessageRead(ctx context.Context, messageID string) (string, error) {
	var roomID string
	query := `UPDATE messages SET status = $1 WHERE id = $2 RETURNING room_id`
	err := db.Pool.QueryRow(ctx, query, models.StatusRead, messageID).Scan(&roomID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrMessageNotFound
	}
	return roomID, err
}

// MarkRoomRead flips every message in the room not sent by readerID to read.
// Returns the IDs of the messages that changed.
func (s *ChatService) MarkRoomRead(ctx context.Context, roomID string, readerID int) ([]string, error) {
	query := `
		UPDATE messages SET status = $1
		WHERE room_id = $2 AND sender_id <> $3 AND status <> $1
		RETURNING id
	`
	rows, err := db.Pool.Query(ctx, query, models.StatusRead, roomID, readerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// DeleteMessage removes a message. Only the sender may delete.
func (s *ChatService) DeleteMessage(ctx context.Context, messageID string, senderID int) (string, error) {
	var roomID string
	query := `DELETE FROM messages WHERE id = $1 AND sender_id = $2 RETURNING room_id`
	err := db.Pool.QueryRow(ctx, query, messageID, senderID).Scan(&roomID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrMessageNotFound
	}
	return roomID, err
}

func (s *ChatService) GetRoomParticipants(ctx context.Context, roomID string) ([]int, error) {
	rows, err := db.Pool.Query(ctx, `SELECT user_id FROM room_participants WHERE room_id = $1`, roomID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var participants []int
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		participants = append(participants, id)
	}
	return participants, rows.Err()
}

// IsParticipant reports whether the user belongs to the room.
func (s *ChatService) IsParticipant(ctx context.Context, roomID string, userID int) (bool, error) {
	var exists bool
	query := `SELECT EXISTS(SELECT 1 FROM room_participants WHERE room_id = $1 AND user_id = $2)`
	err := db.Pool.QueryRow(ctx, query, roomID, userID).Scan(&exists)
	return exists, err
}
