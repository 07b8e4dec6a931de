package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"chat-sync/internal/models"
	"chat-sync/internal/protocol"

	"github.com/rs/zerolog"
)

var baseTime = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func mkMsg(id string, offset time.Duration) models.Message {
	return models.Message{
		ID:          id,
		RoomID:      "r1",
		SenderID:    2,
		SenderName:  "bob",
		Content:     "hello " + id,
		ContentType: models.ContentText,
		SentAt:      baseTime.Add(offset),
		Status:      models.StatusSent,
	}
}

type fakeRepo struct {
	mu          sync.Mutex
	pages       map[int][]models.Message
	historyErr  error
	sendErr     error
	markReadErr error
	deleteErr   error
	sendCount   int
}

func (f *fakeRepo) FetchHistory(_ context.Context, _ string, page, _ int) ([]models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.historyErr != nil {
		return nil, f.historyErr
	}
	return f.pages[page], nil
}

func (f *fakeRepo) SendMessage(_ context.Context, roomID, content string, contentType models.ContentType) (models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return models.Message{}, f.sendErr
	}
	f.sendCount++
	return models.Message{
		ID:          "srv-sent",
		RoomID:      roomID,
		SenderID:    1,
		SenderName:  "alice",
		Content:     content,
		ContentType: contentType,
		SentAt:      baseTime.Add(time.Hour),
		Status:      models.StatusSent,
	}, nil
}

func (f *fakeRepo) MarkRead(_ context.Context, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.markReadErr
}

func (f *fakeRepo) MarkAllRead(_ context.Context, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.markReadErr
}

func (f *fakeRepo) DeleteMessage(_ context.Context, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.deleteErr
}

type harness struct {
	repo     *fakeRepo
	msgs     chan models.Message
	statuses chan protocol.StatusEvent
	closed   chan struct{}
	sess     *Session
}

func newHarness(t *testing.T, repo *fakeRepo) *harness {
	t.Helper()
	h := &harness{
		repo:     repo,
		msgs:     make(chan models.Message, 16),
		statuses: make(chan protocol.StatusEvent, 16),
		closed:   make(chan struct{}),
	}
	var once sync.Once
	h.sess = New("r1", repo, Feed{
		Messages: h.msgs,
		Statuses: h.statuses,
		Close:    func() { once.Do(func() { close(h.closed) }) },
	}, Options{SelfID: 1, SelfName: "alice", Logger: zerolog.Nop()})
	t.Cleanup(h.sess.Close)

	if _, ok := h.next(t).(Idle); !ok {
		t.Fatal("expected initial Idle state")
	}
	return h
}

func (h *harness) next(t *testing.T) State {
	t.Helper()
	select {
	case state, ok := <-h.sess.States():
		if !ok {
			t.Fatal("states channel closed unexpectedly")
		}
		return state
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for state")
		return nil
	}
}

func (h *harness) nextReady(t *testing.T) Ready {
	t.Helper()
	state := h.next(t)
	ready, ok := state.(Ready)
	if !ok {
		t.Fatalf("expected Ready, got %T (%+v)", state, state)
	}
	return ready
}

func assertOrderedUnique(t *testing.T, messages []models.Message) {
	t.Helper()
	seen := make(map[string]bool, len(messages))
	for i, msg := range messages {
		if seen[msg.ID] {
			t.Fatalf("duplicate message ID %q", msg.ID)
		}
		seen[msg.ID] = true
		if i > 0 && messages[i-1].SentAt.After(msg.SentAt) {
			t.Fatalf("messages out of order at index %d", i)
		}
	}
}

func TestLoadHistoryPagination(t *testing.T) {
	repo := &fakeRepo{pages: map[int][]models.Message{}}
	for i := 0; i < 20; i++ {
		repo.pages[0] = append(repo.pages[0], mkMsg(string(rune('a'+i)), time.Duration(i)*time.Minute))
	}
	for i := 0; i < 5; i++ {
		repo.pages[1] = append(repo.pages[1], mkMsg(string(rune('A'+i)), time.Duration(20+i)*time.Minute))
	}

	h := newHarness(t, repo)

	h.sess.LoadHistory(0, 20)
	if _, ok := h.next(t).(LoadingHistory); !ok {
		t.Fatal("page 0 must pass through LoadingHistory")
	}
	ready := h.nextReady(t)
	if len(ready.Messages) != 20 || ready.Page != 0 {
		t.Fatalf("expected 20 messages on page 0, got %d on page %d", len(ready.Messages), ready.Page)
	}
	if ready.ReachedEnd {
		t.Fatal("a full page must not set ReachedEnd")
	}

	h.sess.LoadHistory(1, 20)
	ready = h.nextReady(t)
	if len(ready.Messages) != 25 || ready.Page != 1 {
		t.Fatalf("expected 25 messages on page 1, got %d on page %d", len(ready.Messages), ready.Page)
	}
	if !ready.ReachedEnd {
		t.Fatal("a short page must set ReachedEnd")
	}
	assertOrderedUnique(t, ready.Messages)
}

func TestHistoryAndLiveMergeNeverDuplicates(t *testing.T) {
	repo := &fakeRepo{pages: map[int][]models.Message{
		0: {mkMsg("a", 0), mkMsg("b", time.Minute)},
	}}
	h := newHarness(t, repo)

	// Live copy of "b" arrives before history.
	h.msgs <- mkMsg("b", time.Minute)
	ready := h.nextReady(t)
	if len(ready.Messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(ready.Messages))
	}

	h.sess.LoadHistory(0, 20)
	h.next(t) // LoadingHistory
	ready = h.nextReady(t)
	if len(ready.Messages) != 2 {
		t.Fatalf("expected 2 messages after merge, got %d", len(ready.Messages))
	}
	assertOrderedUnique(t, ready.Messages)

	// A duplicate live receive emits nothing; a fresh one emits a deduplicated view.
	h.msgs <- mkMsg("a", 0)
	h.msgs <- mkMsg("c", 2*time.Minute)
	ready = h.nextReady(t)
	if len(ready.Messages) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(ready.Messages))
	}
	assertOrderedUnique(t, ready.Messages)
}

func TestReceiveSortsByTimestamp(t *testing.T) {
	repo := &fakeRepo{pages: map[int][]models.Message{}}
	h := newHarness(t, repo)

	h.msgs <- mkMsg("late", 10*time.Minute)
	h.nextReady(t)
	h.msgs <- mkMsg("early", time.Minute)
	ready := h.nextReady(t)

	if ready.Messages[0].ID != "early" || ready.Messages[1].ID != "late" {
		t.Fatalf("messages not sorted by sent time: %+v", ready.Messages)
	}
}

func TestReceiveForeignRoomIgnored(t *testing.T) {
	repo := &fakeRepo{pages: map[int][]models.Message{}}
	h := newHarness(t, repo)

	foreign := mkMsg("x", 0)
	foreign.RoomID = "other-room"
	h.msgs <- foreign

	h.msgs <- mkMsg("a", time.Minute)
	ready := h.nextReady(t)
	if len(ready.Messages) != 1 || ready.Messages[0].ID != "a" {
		t.Fatalf("foreign-room message leaked into view: %+v", ready.Messages)
	}
}

func TestSendReconcilesPlaceholder(t *testing.T) {
	repo := &fakeRepo{pages: map[int][]models.Message{}}
	h := newHarness(t, repo)

	h.sess.Send("hi there", models.ContentText)

	ready := h.nextReady(t)
	if len(ready.Messages) != 1 || ready.Messages[0].Status != models.StatusSending {
		t.Fatalf("expected a sending placeholder, got %+v", ready.Messages)
	}
	placeholderID := ready.Messages[0].ID

	ready = h.nextReady(t)
	if len(ready.Messages) != 1 {
		t.Fatalf("expected placeholder replaced, got %d messages", len(ready.Messages))
	}
	if ready.Messages[0].ID == placeholderID {
		t.Fatal("placeholder ID was not reconciled with the server-assigned one")
	}
	if ready.Messages[0].ID != "srv-sent" || ready.Messages[0].Status != models.StatusSent {
		t.Fatalf("unexpected authoritative message: %+v", ready.Messages[0])
	}
}

func TestSendFailurePreservesConfirmedMessages(t *testing.T) {
	repo := &fakeRepo{pages: map[int][]models.Message{
		0: {mkMsg("a", 0)},
	}}
	h := newHarness(t, repo)

	h.sess.LoadHistory(0, 20)
	h.next(t) // LoadingHistory
	h.nextReady(t)

	repo.mu.Lock()
	repo.sendErr = errors.New("boom")
	repo.mu.Unlock()

	h.sess.Send("will fail", models.ContentText)
	h.nextReady(t) // placeholder

	state := h.next(t)
	failed, ok := state.(Failed)
	if !ok {
		t.Fatalf("expected Failed, got %T", state)
	}
	if failed.Op != OpSend {
		t.Fatalf("expected op %q, got %q", OpSend, failed.Op)
	}

	var confirmed, placeholderFailed bool
	for _, msg := range failed.Messages {
		if msg.ID == "a" {
			confirmed = true
		}
		if msg.Status == models.StatusFailed {
			placeholderFailed = true
		}
	}
	if !confirmed {
		t.Fatal("confirmed message was removed by a failed send")
	}
	if !placeholderFailed {
		t.Fatal("placeholder was not marked failed")
	}
}

func TestLoadHistoryFailureRetainsMessages(t *testing.T) {
	repo := &fakeRepo{pages: map[int][]models.Message{
		0: {mkMsg("a", 0)},
	}}
	h := newHarness(t, repo)

	h.sess.LoadHistory(0, 20)
	h.next(t)
	h.nextReady(t)

	repo.mu.Lock()
	repo.historyErr = errors.New("network down")
	repo.mu.Unlock()

	h.sess.LoadHistory(1, 20)
	state := h.next(t)
	failed, ok := state.(Failed)
	if !ok {
		t.Fatalf("expected Failed, got %T", state)
	}
	if failed.Op != OpLoadHistory || len(failed.Messages) != 1 {
		t.Fatalf("failure state dropped loaded messages: %+v", failed)
	}
}

func TestStatusUpdateReplacesStatus(t *testing.T) {
	repo := &fakeRepo{pages: map[int][]models.Message{
		0: {mkMsg("a", 0)},
	}}
	h := newHarness(t, repo)

	h.sess.LoadHistory(0, 20)
	h.next(t)
	h.nextReady(t)

	// Unknown ID is a no-op; a known one flips the status.
	h.statuses <- protocol.StatusEvent{MessageID: "nope", RoomID: "r1", Status: models.StatusRead}
	h.statuses <- protocol.StatusEvent{MessageID: "a", RoomID: "r1", Status: models.StatusRead}

	ready := h.nextReady(t)
	if ready.Messages[0].Status != models.StatusRead {
		t.Fatalf("expected read status, got %s", ready.Messages[0].Status)
	}
}

func TestMarkReadFailureIsSwallowed(t *testing.T) {
	repo := &fakeRepo{
		pages:       map[int][]models.Message{0: {mkMsg("a", 0)}},
		markReadErr: errors.New("read marking broken"),
	}
	h := newHarness(t, repo)

	h.sess.LoadHistory(0, 20)
	h.next(t)
	h.nextReady(t)

	h.sess.MarkRead("a")
	h.sess.MarkAllRead()

	// The very next state must come from a later mutation, never a Failed.
	h.msgs <- mkMsg("b", time.Minute)
	state := h.next(t)
	if _, ok := state.(Failed); ok {
		t.Fatal("mark-read failure surfaced as a failure state")
	}
}

func TestMarkAllReadFlipsOthersMessages(t *testing.T) {
	mine := mkMsg("mine", 0)
	mine.SenderID = 1
	theirs := mkMsg("theirs", time.Minute)

	repo := &fakeRepo{pages: map[int][]models.Message{0: {mine, theirs}}}
	h := newHarness(t, repo)

	h.sess.LoadHistory(0, 20)
	h.next(t)
	h.nextReady(t)

	h.sess.MarkAllRead()
	ready := h.nextReady(t)
	for _, msg := range ready.Messages {
		switch msg.ID {
		case "theirs":
			if msg.Status != models.StatusRead {
				t.Fatalf("expected theirs read, got %s", msg.Status)
			}
		case "mine":
			if msg.Status == models.StatusRead {
				t.Fatal("own message must not be flipped to read")
			}
		}
	}
}

func TestDelete(t *testing.T) {
	repo := &fakeRepo{pages: map[int][]models.Message{
		0: {mkMsg("a", 0), mkMsg("b", time.Minute)},
	}}
	h := newHarness(t, repo)

	h.sess.LoadHistory(0, 20)
	h.next(t)
	h.nextReady(t)

	h.sess.Delete("a")
	ready := h.nextReady(t)
	if len(ready.Messages) != 1 || ready.Messages[0].ID != "b" {
		t.Fatalf("expected only b left, got %+v", ready.Messages)
	}

	repo.mu.Lock()
	repo.deleteErr = errors.New("forbidden")
	repo.mu.Unlock()

	h.sess.Delete("b")
	state := h.next(t)
	failed, ok := state.(Failed)
	if !ok {
		t.Fatalf("expected Failed, got %T", state)
	}
	if failed.Op != OpDelete || len(failed.Messages) != 1 {
		t.Fatalf("failed delete must not remove the message: %+v", failed)
	}
}

func TestTypingControlFramesNeverEnterTheView(t *testing.T) {
	repo := &fakeRepo{pages: map[int][]models.Message{}}
	h := newHarness(t, repo)

	frame := mkMsg("t1", 0)
	frame.Content = "TYPING:true:Alice"
	h.msgs <- frame

	select {
	case sig := <-h.sess.Typing():
		if sig.RoomID != "r1" || sig.UserName != "Alice" || !sig.IsTyping {
			t.Fatalf("unexpected signal: %+v", sig)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("typing signal not emitted")
	}

	// Malformed frame: missing name. Dropped with no signal.
	malformed := mkMsg("t2", time.Second)
	malformed.Content = "TYPING:true"
	h.msgs <- malformed

	h.msgs <- mkMsg("a", time.Minute)
	ready := h.nextReady(t)
	if len(ready.Messages) != 1 || ready.Messages[0].ID != "a" {
		t.Fatalf("control frames leaked into the view: %+v", ready.Messages)
	}

	select {
	case sig := <-h.sess.Typing():
		t.Fatalf("malformed frame emitted a signal: %+v", sig)
	default:
	}
}

func TestCloseReleasesFeedAndClosesStreams(t *testing.T) {
	repo := &fakeRepo{pages: map[int][]models.Message{}}
	h := newHarness(t, repo)

	h.sess.Close()

	select {
	case <-h.closed:
	case <-time.After(2 * time.Second):
		t.Fatal("feed was not released on close")
	}

	for {
		select {
		case _, ok := <-h.sess.States():
			if !ok {
				return
			}
		case <-time.After(2 * time.Second):
			t.Fatal("states channel not closed after teardown")
		}
	}
}
