// Package session holds the per-room synchronization state machine: it merges
// paginated history with live messages and status updates into one ordered,
// deduplicated view, emitted as a sequence of immutable state snapshots.
package session

import (
	"context"
	"math/rand"
	"sort"
	"sync"
	"time"

	"chat-sync/internal/models"
	"chat-sync/internal/protocol"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
)

// Repository is the REST surface the session drives. *client.Client
// implements it.
type Repository interface {
	FetchHistory(ctx context.Context, roomID string, page, size int) ([]models.Message, error)
	SendMessage(ctx context.Context, roomID, content string, contentType models.ContentType) (models.Message, error)
	MarkRead(ctx context.Context, messageID string) error
	MarkAllRead(ctx context.Context, roomID string) error
	DeleteMessage(ctx context.Context, messageID string) error
}

// Feed is the pair of live streams the session consumes, with the handle that
// releases the underlying subscription. The session owns the feed: Close is
// called exactly once on teardown, whatever the exit path.
type Feed struct {
	Messages <-chan models.Message
	Statuses <-chan protocol.StatusEvent
	Close    func()
}

// MessageCache persists confirmed messages for offline reads. Optional; cache
// failures are logged and never affect the view.
type MessageCache interface {
	Put(messages ...models.Message) error
}

// Options configures a Session.
type Options struct {
	SelfID   int    // authenticated user ID, stamped on optimistic placeholders
	SelfName string // authenticated display name
	Cache    MessageCache
	Logger   zerolog.Logger
}

// Session is the synchronization state machine for one open room. All
// mutations run on a single event-loop goroutine: each command, live message
// and status update is applied atomically, and no two mutations interleave.
type Session struct {
	roomID   string
	repo     Repository
	feed     Feed
	cache    MessageCache
	logger   zerolog.Logger
	selfID   int
	selfName string

	ctx      context.Context
	cancel   context.CancelFunc
	commands chan command
	states   chan State
	typing   chan models.TypingSignal

	closeOnce sync.Once
	entropy   *ulid.MonotonicEntropy

	// View state, owned by the event loop.
	messages   []models.Message
	page       int
	reachedEnd bool
}

type command interface{ isCommand() }

type loadHistoryCmd struct{ page, size int }
type sendCmd struct {
	content     string
	contentType models.ContentType
}
type markReadCmd struct{ id string }
type markAllReadCmd struct{}
type deleteCmd struct{ id string }

func (loadHistoryCmd) isCommand() {}
func (sendCmd) isCommand()        {}
func (markReadCmd) isCommand()    {}
func (markAllReadCmd) isCommand() {}
func (deleteCmd) isCommand()      {}

// New opens a session for one room and starts its event loop. The caller must
// Close it when the room view goes away.
func New(roomID string, repo Repository, feed Feed, opts Options) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		roomID:   roomID,
		repo:     repo,
		feed:     feed,
		cache:    opts.Cache,
		logger:   opts.Logger.With().Str("room", roomID).Logger(),
		ctx:      ctx,
		cancel:   cancel,
		commands: make(chan command, 16),
		states:   make(chan State, 64),
		typing:   make(chan models.TypingSignal, 16),
		entropy:  ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0),
		selfID:   opts.SelfID,
		selfName: opts.SelfName,
	}
	go s.run()
	return s
}

// States is the sequence of immutable view snapshots, starting with Idle.
// Closed on teardown.
func (s *Session) States() <-chan State { return s.states }

// Typing is the stream of decoded typing signals for this room. Closed on
// teardown; signals are dropped rather than buffered when the consumer lags,
// since each one is superseded by the next anyway.
func (s *Session) Typing() <-chan models.TypingSignal { return s.typing }

// LoadHistory requests one page of persisted messages.
func (s *Session) LoadHistory(page, size int) { s.enqueue(loadHistoryCmd{page: page, size: size}) }

// Send optimistically reflects a placeholder, then issues the send.
func (s *Session) Send(content string, contentType models.ContentType) {
	s.enqueue(sendCmd{content: content, contentType: contentType})
}

// MarkRead marks one message as read. Best-effort: failures are swallowed.
func (s *Session) MarkRead(messageID string) { s.enqueue(markReadCmd{id: messageID}) }

// MarkAllRead marks the whole room as read. Best-effort: failures are swallowed.
func (s *Session) MarkAllRead() { s.enqueue(markAllReadCmd{}) }

// Delete removes a message.
func (s *Session) Delete(messageID string) { s.enqueue(deleteCmd{id: messageID}) }

// Close tears the session down: the event loop stops, the owned feed is
// released, and the States and Typing channels are closed. Idempotent.
func (s *Session) Close() {
	s.closeOnce.Do(s.cancel)
}

func (s *Session) enqueue(cmd command) {
	select {
	case s.commands <- cmd:
	case <-s.ctx.Done():
	}
}

func (s *Session) run() {
	defer func() {
		if s.feed.Close != nil {
			s.feed.Close()
		}
		close(s.states)
		close(s.typing)
	}()

	s.emit(Idle{})

	msgs := s.feed.Messages
	statuses := s.feed.Statuses

	for {
		select {
		case <-s.ctx.Done():
			return

		case cmd := <-s.commands:
			s.apply(cmd)

		case msg, ok := <-msgs:
			if !ok {
				msgs = nil
				continue
			}
			s.receive(msg)

		case ev, ok := <-statuses:
			if !ok {
				statuses = nil
				continue
			}
			s.applyStatus(ev.MessageID, ev.Status)
		}
	}
}

func (s *Session) apply(cmd command) {
	switch c := cmd.(type) {
	case loadHistoryCmd:
		s.loadHistory(c.page, c.size)
	case sendCmd:
		s.send(c.content, c.contentType)
	case markReadCmd:
		s.markRead(c.id)
	case markAllReadCmd:
		s.markAllRead()
	case deleteCmd:
		s.delete(c.id)
	}
}

func (s *Session) loadHistory(page, size int) {
	if page == 0 {
		s.emit(LoadingHistory{RoomID: s.roomID})
	}

	fetched, err := s.repo.FetchHistory(s.ctx, s.roomID, page, size)
	if err != nil {
		s.fail(OpLoadHistory, err)
		return
	}

	for _, msg := range fetched {
		s.insert(msg)
	}
	s.sortMessages()
	s.page = page
	s.reachedEnd = len(fetched) < size
	s.writeCache(fetched...)
	s.emitReady()
}

func (s *Session) send(content string, contentType models.ContentType) {
	if contentType == "" {
		contentType = models.ContentText
	}

	// Optimistic placeholder under a session-local ULID; reconciled with the
	// server-assigned ID when the send completes.
	placeholder := models.Message{
		ID:          "local-" + ulid.MustNew(ulid.Timestamp(time.Now()), s.entropy).String(),
		RoomID:      s.roomID,
		SenderID:    s.selfID,
		SenderName:  s.selfName,
		Content:     content,
		ContentType: contentType,
		SentAt:      time.Now(),
		Status:      models.StatusSending,
	}
	s.messages = append(s.messages, placeholder)
	s.sortMessages()
	s.emitReady()

	stored, err := s.repo.SendMessage(s.ctx, s.roomID, content, contentType)
	if err != nil {
		s.setStatus(placeholder.ID, models.StatusFailed)
		s.fail(OpSend, err)
		return
	}

	s.remove(placeholder.ID)
	s.insert(stored)
	s.sortMessages()
	s.writeCache(stored)
	s.emitReady()
}

func (s *Session) receive(msg models.Message) {
	if sig, control := ExtractTypingSignal(msg); control {
		if sig == nil {
			s.logger.Debug().Str("content", msg.Content).Msg("dropping malformed typing frame")
			return
		}
		if sig.RoomID != s.roomID {
			return
		}
		select {
		case s.typing <- *sig:
		default:
			// Stale signal; the next one supersedes it.
		}
		return
	}

	if msg.RoomID != s.roomID {
		return
	}
	if !s.insert(msg) {
		return
	}
	s.sortMessages()
	s.writeCache(msg)
	s.emitReady()
}

func (s *Session) applyStatus(messageID string, status models.Status) {
	if len(s.messages) == 0 {
		return
	}
	if !s.setStatus(messageID, status) {
		return
	}
	s.emitReady()
}

func (s *Session) markRead(messageID string) {
	if err := s.repo.MarkRead(s.ctx, messageID); err != nil {
		// Read-state is best-effort; never surface a failure state.
		s.logger.Warn().Err(err).Str("message", messageID).Msg("mark read failed")
		return
	}
	if s.setStatus(messageID, models.StatusRead) {
		s.emitReady()
	}
}

func (s *Session) markAllRead() {
	if err := s.repo.MarkAllRead(s.ctx, s.roomID); err != nil {
		s.logger.Warn().Err(err).Msg("mark all read failed")
		return
	}
	changed := false
	for i := range s.messages {
		if s.messages[i].SenderID != s.selfID && s.messages[i].Status != models.StatusRead {
			s.messages[i].Status = models.StatusRead
			changed = true
		}
	}
	if changed {
		s.emitReady()
	}
}

func (s *Session) delete(messageID string) {
	if err := s.repo.DeleteMessage(s.ctx, messageID); err != nil {
		s.fail(OpDelete, err)
		return
	}
	s.remove(messageID)
	s.emitReady()
}

// insert adds the message unless its ID is already present. Identity is
// always by ID: the merge of paginated and live messages never duplicates.
func (s *Session) insert(msg models.Message) bool {
	for _, existing := range s.messages {
		if existing.ID == msg.ID {
			return false
		}
	}
	s.messages = append(s.messages, msg)
	return true
}

func (s *Session) remove(messageID string) bool {
	for i, msg := range s.messages {
		if msg.ID == messageID {
			s.messages = append(s.messages[:i], s.messages[i+1:]...)
			return true
		}
	}
	return false
}

func (s *Session) setStatus(messageID string, status models.Status) bool {
	for i := range s.messages {
		if s.messages[i].ID == messageID {
			s.messages[i].Status = status
			return true
		}
	}
	return false
}

// sortMessages re-sorts ascending by sent timestamp. Stable: ties keep
// arrival order.
func (s *Session) sortMessages() {
	sort.SliceStable(s.messages, func(i, j int) bool {
		return s.messages[i].SentAt.Before(s.messages[j].SentAt)
	})
}

func (s *Session) writeCache(messages ...models.Message) {
	if s.cache == nil || len(messages) == 0 {
		return
	}
	if err := s.cache.Put(messages...); err != nil {
		s.logger.Warn().Err(err).Msg("message cache write failed")
	}
}

func (s *Session) emitReady() {
	s.emit(Ready{
		RoomID:     s.roomID,
		Messages:   s.snapshot(),
		Page:       s.page,
		ReachedEnd: s.reachedEnd,
	})
}

func (s *Session) fail(op string, err error) {
	s.emit(Failed{
		RoomID:   s.roomID,
		Op:       op,
		Reason:   err.Error(),
		Messages: s.snapshot(),
	})
}

func (s *Session) snapshot() []models.Message {
	out := make([]models.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

func (s *Session) emit(state State) {
	select {
	case s.states <- state:
	case <-s.ctx.Done():
	}
}
