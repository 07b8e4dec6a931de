package models

import "time"

// Status is the delivery state of a message.
type Status string

const (
	StatusSending   Status = "sending"
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusRead      Status = "read"
	StatusFailed    Status = "failed"
)

// ContentType tags what a message body carries.
type ContentType string

const (
	ContentText       ContentType = "text"
	ContentTyping     ContentType = "typing"
	ContentAttachment ContentType = "attachment"
)

type Message struct {
	ID          string      `json:"id"`
	RoomID      string      `json:"room_id"`
	SenderID    int         `json:"sender_id"`
	SenderName  string      `json:"sender_name"`
	Content     string      `json:"content"`
	ContentType ContentType `json:"content_type"`
	SentAt      time.Time   `json:"sent_at"`
	Status      Status      `json:"status"`
}

// SendMessageRequest is the REST payload for posting a message to a room.
type SendMessageRequest struct {
	Content     string      `json:"content"`
	ContentType ContentType `json:"content_type"`
}

// HistoryPage is one bounded batch of a room's messages, oldest first.
type HistoryPage struct {
	RoomID   string    `json:"room_id"`
	Page     int       `json:"page"`
	Size     int       `json:"size"`
	Messages []Message `json:"messages"`
}

// TypingSignal is an ephemeral composing notification. It is never persisted;
// a newer signal for the same (room, user) pair supersedes the previous one.
type TypingSignal struct {
	RoomID   string `json:"room_id"`
	UserID   int    `json:"user_id"`
	UserName string `json:"user_name"`
	IsTyping bool   `json:"is_typing"`
}
