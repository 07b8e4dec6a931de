package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"chat-sync/internal/models"

	"github.com/rs/zerolog"
)

func TestErrorKindMapping(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{http.StatusNotFound, ErrNotFound},
		{http.StatusBadRequest, ErrBadRequest},
		{http.StatusUnauthorized, ErrForbidden},
		{http.StatusForbidden, ErrForbidden},
		{http.StatusInternalServerError, ErrServer},
		{http.StatusBadGateway, ErrServer},
		{http.StatusTeapot, ErrUnexpected},
	}

	for _, tt := range tests {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.status)
			json.NewEncoder(w).Encode(map[string]string{"error": "nope"})
		}))

		c := New(srv.URL, zerolog.Nop())
		err := c.MarkRead(context.Background(), "m1")
		if !errors.Is(err, tt.want) {
			t.Errorf("status %d: got %v, want kind %v", tt.status, err, tt.want)
		}
		srv.Close()
	}
}

func TestNetworkErrorKind(t *testing.T) {
	c := New("http://127.0.0.1:1", zerolog.Nop())
	c.HTTPClient.Timeout = 200 * time.Millisecond

	_, err := c.FetchHistory(context.Background(), "r1", 0, 20)
	if !errors.Is(err, ErrNetwork) {
		t.Fatalf("got %v, want kind %v", err, ErrNetwork)
	}
}

func TestLoginStoresTokenAndSendsBearer(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/login":
			json.NewEncoder(w).Encode(models.AuthResponse{Token: "tok123", Username: "alice", UserID: 1})
		case "/api/rooms/r1/messages":
			gotAuth = r.Header.Get("Authorization")
			json.NewEncoder(w).Encode(models.HistoryPage{RoomID: "r1"})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := New(srv.URL, zerolog.Nop())
	if err := c.Login(context.Background(), "alice", "pw"); err != nil {
		t.Fatal(err)
	}
	if c.UserID() != 1 || c.Username() != "alice" {
		t.Fatalf("identity not stored: %d %q", c.UserID(), c.Username())
	}

	if _, err := c.FetchHistory(context.Background(), "r1", 0, 20); err != nil {
		t.Fatal(err)
	}
	if gotAuth != "Bearer tok123" {
		t.Fatalf("authorization header = %q", gotAuth)
	}
}

func TestFetchHistoryDecodesPage(t *testing.T) {
	sent := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("page"); got != "2" {
			t.Errorf("page query = %q, want 2", got)
		}
		if got := r.URL.Query().Get("size"); got != "10" {
			t.Errorf("size query = %q, want 10", got)
		}
		json.NewEncoder(w).Encode(models.HistoryPage{
			RoomID: "r1",
			Page:   2,
			Size:   10,
			Messages: []models.Message{
				{ID: "m1", RoomID: "r1", Content: "hi", ContentType: models.ContentText, SentAt: sent, Status: models.StatusSent},
			},
		})
	}))
	defer srv.Close()

	c := New(srv.URL, zerolog.Nop())
	messages, err := c.FetchHistory(context.Background(), "r1", 2, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(messages) != 1 || messages[0].ID != "m1" || !messages[0].SentAt.Equal(sent) {
		t.Fatalf("unexpected messages: %+v", messages)
	}
}

func TestSendMessageReturnsAuthoritativeRecord(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req models.SendMessageRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Error(err)
		}
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(models.Message{
			ID: "srv-1", RoomID: "r1", Content: req.Content,
			ContentType: req.ContentType, Status: models.StatusSent,
		})
	}))
	defer srv.Close()

	c := New(srv.URL, zerolog.Nop())
	msg, err := c.SendMessage(context.Background(), "r1", "hello", models.ContentText)
	if err != nil {
		t.Fatal(err)
	}
	if msg.ID != "srv-1" || msg.Content != "hello" {
		t.Fatalf("unexpected message: %+v", msg)
	}
}
