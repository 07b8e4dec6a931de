package cache

import (
	"testing"
	"time"

	"chat-sync/internal/models"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPutAndMessages(t *testing.T) {
	s := newStore(t)
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	err := s.Put(
		models.Message{ID: "b", RoomID: "r1", SenderID: 2, SenderName: "bob", Content: "second", ContentType: models.ContentText, SentAt: base.Add(time.Minute), Status: models.StatusSent},
		models.Message{ID: "a", RoomID: "r1", SenderID: 2, SenderName: "bob", Content: "first", ContentType: models.ContentText, SentAt: base, Status: models.StatusSent},
		models.Message{ID: "z", RoomID: "r2", SenderID: 3, SenderName: "eve", Content: "elsewhere", ContentType: models.ContentText, SentAt: base, Status: models.StatusSent},
	)
	if err != nil {
		t.Fatal(err)
	}

	messages, err := s.Messages("r1", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(messages))
	}
	if messages[0].ID != "a" || messages[1].ID != "b" {
		t.Fatalf("messages not ordered by sent time: %+v", messages)
	}
}

func TestPutUpdatesStatus(t *testing.T) {
	s := newStore(t)
	base := time.Now().UTC()

	msg := models.Message{ID: "a", RoomID: "r1", SenderName: "bob", Content: "hi", ContentType: models.ContentText, SentAt: base, Status: models.StatusSent}
	if err := s.Put(msg); err != nil {
		t.Fatal(err)
	}

	msg.Status = models.StatusRead
	if err := s.Put(msg); err != nil {
		t.Fatal(err)
	}

	messages, err := s.Messages("r1", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(messages) != 1 || messages[0].Status != models.StatusRead {
		t.Fatalf("status not updated: %+v", messages)
	}
}

func TestPutSkipsPlaceholders(t *testing.T) {
	s := newStore(t)

	err := s.Put(
		models.Message{ID: "local-1", RoomID: "r1", Content: "pending", ContentType: models.ContentText, SentAt: time.Now(), Status: models.StatusSending},
		models.Message{ID: "local-2", RoomID: "r1", Content: "broken", ContentType: models.ContentText, SentAt: time.Now(), Status: models.StatusFailed},
	)
	if err != nil {
		t.Fatal(err)
	}

	messages, err := s.Messages("r1", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(messages) != 0 {
		t.Fatalf("placeholders must not be cached: %+v", messages)
	}
}
