package session

import "chat-sync/internal/models"

// State is a sealed union of room-view snapshots. Exactly one of Idle,
// LoadingHistory, Ready or Failed is emitted per transition; snapshots are
// immutable and safe to retain.
type State interface{ isState() }

// Idle is the initial state before anything has been loaded.
type Idle struct{}

// LoadingHistory is emitted while the first page is being fetched.
type LoadingHistory struct {
	RoomID string
}

// Ready is the ordered, paginated view of the room.
type Ready struct {
	RoomID     string
	Messages   []models.Message
	Page       int
	ReachedEnd bool
}

// Failed reports a history-load, send or delete failure. Previously loaded
// messages are always retained.
type Failed struct {
	RoomID   string
	Op       string
	Reason   string
	Messages []models.Message
}

func (Idle) isState()           {}
func (LoadingHistory) isState() {}
func (Ready) isState()          {}
func (Failed) isState()         {}

// Operation names carried by Failed states.
const (
	OpLoadHistory = "load_history"
	OpSend        = "send"
	OpDelete      = "delete"
)
