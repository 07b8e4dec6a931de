// Package client is the message repository for the chat backend: a REST
// adapter for history, sends, read-marking and deletion, plus a WebSocket
// subscription for live messages and delivery-status updates.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"chat-sync/internal/models"

	"github.com/rs/zerolog"
)

// Client talks to the chat backend. It is safe for concurrent use once
// authenticated; Login/Register must complete before other calls.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client

	token    string
	userID   int
	username string
	logger   zerolog.Logger
}

// New creates a client for the given base URL, e.g. "http://localhost:3001".
func New(baseURL string, logger zerolog.Logger) *Client {
	return &Client{
		BaseURL:    baseURL,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger,
	}
}

// UserID returns the authenticated user's ID (0 before login).
func (c *Client) UserID() int { return c.userID }

// Username returns the authenticated user's name ("" before login).
func (c *Client) Username() string { return c.username }

// Register creates an account.
func (c *Client) Register(ctx context.Context, username, password string) error {
	return c.do(ctx, http.MethodPost, "/api/register",
		models.RegisterRequest{Username: username, Password: password}, nil)
}

// Login authenticates and stores the bearer token for subsequent calls.
func (c *Client) Login(ctx context.Context, username, password string) error {
	var res models.AuthResponse
	if err := c.do(ctx, http.MethodPost, "/api/login",
		models.LoginRequest{Username: username, Password: password}, &res); err != nil {
		return err
	}
	c.token = res.Token
	c.userID = res.UserID
	c.username = res.Username
	return nil
}

// CreateDirectRoom returns the direct room shared with the recipient,
// creating it if needed.
func (c *Client) CreateDirectRoom(ctx context.Context, recipientID int) (*models.RoomResponse, error) {
	var res models.RoomResponse
	err := c.do(ctx, http.MethodPost, "/api/rooms/direct",
		models.CreateDirectRoomRequest{RecipientID: recipientID}, &res)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// ListUsers returns the user directory with presence.
func (c *Client) ListUsers(ctx context.Context) ([]models.UserStatus, error) {
	var res []models.UserStatus
	if err := c.do(ctx, http.MethodGet, "/api/users", nil, &res); err != nil {
		return nil, err
	}
	return res, nil
}

// FetchHistory returns one page of a room's messages, oldest first.
func (c *Client) FetchHistory(ctx context.Context, roomID string, page, size int) ([]models.Message, error) {
	path := fmt.Sprintf("/api/rooms/%s/messages?page=%s&size=%s",
		url.PathEscape(roomID), strconv.Itoa(page), strconv.Itoa(size))
	var res models.HistoryPage
	if err := c.do(ctx, http.MethodGet, path, nil, &res); err != nil {
		return nil, err
	}
	return res.Messages, nil
}

// SendMessage posts a message and returns the authoritative stored record.
func (c *Client) SendMessage(ctx context.Context, roomID, content string, contentType models.ContentType) (models.Message, error) {
	var res models.Message
	err := c.do(ctx, http.MethodPost, "/api/rooms/"+url.PathEscape(roomID)+"/messages",
		models.SendMessageRequest{Content: content, ContentType: contentType}, &res)
	return res, err
}

// MarkRead marks one message as read.
func (c *Client) MarkRead(ctx context.Context, messageID string) error {
	return c.do(ctx, http.MethodPost, "/api/messages/"+url.PathEscape(messageID)+"/read", nil, nil)
}

// MarkAllRead marks every unread message in the room as read.
func (c *Client) MarkAllRead(ctx context.Context, roomID string) error {
	return c.do(ctx, http.MethodPost, "/api/rooms/"+url.PathEscape(roomID)+"/read", nil, nil)
}

// DeleteMessage removes a message the user sent.
func (c *Client) DeleteMessage(ctx context.Context, messageID string) error {
	return c.do(ctx, http.MethodDelete, "/api/messages/"+url.PathEscape(messageID), nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%w: encoding request: %v", ErrUnexpected, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("%w: building request: %v", ErrUnexpected, err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: reading response: %v", ErrNetwork, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errorFromResponse(resp.StatusCode, data)
	}

	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("%w: decoding response: %v", ErrUnexpected, err)
		}
	}
	return nil
}
