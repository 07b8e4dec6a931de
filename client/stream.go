package client

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"chat-sync/internal/models"
	"chat-sync/internal/protocol"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 65536
)

// Subscription is one live WebSocket feed of messages and delivery-status
// updates. It is not restartable: once closed (or once the connection drops)
// both channels are closed and a fresh Subscribe call is required.
type Subscription struct {
	// Messages carries live chat messages. First-class typing events are
	// surfaced here too, as messages with ContentType == ContentTyping, so a
	// single consumer sees the whole multiplexed stream.
	Messages <-chan models.Message
	// Statuses carries delivery-status transitions.
	Statuses <-chan protocol.StatusEvent

	conn      *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once

	messages chan models.Message
	statuses chan protocol.StatusEvent
}

// Subscribe dials the backend's WebSocket endpoint and starts the read/write
// pumps. The client must be authenticated first.
func (c *Client) Subscribe(ctx context.Context) (*Subscription, error) {
	if c.token == "" {
		return nil, fmt.Errorf("%w: subscribe requires login", ErrForbidden)
	}

	wsURL := strings.Replace(c.BaseURL, "http", "ws", 1) + "/ws?access_token=" + c.token
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: dialing websocket: %v", ErrNetwork, err)
	}

	s := &Subscription{
		conn:     conn,
		send:     make(chan []byte, 256),
		done:     make(chan struct{}),
		messages: make(chan models.Message, 64),
		statuses: make(chan protocol.StatusEvent, 64),
	}
	s.Messages = s.messages
	s.Statuses = s.statuses

	go s.writePump()
	go s.readPump(c)

	return s, nil
}

// Join subscribes the connection to a room's live events.
func (s *Subscription) Join(roomID string) error {
	return s.enqueue(protocol.TypeJoin, protocol.JoinEvent{RoomID: roomID})
}

// Leave unsubscribes the connection from its current room.
func (s *Subscription) Leave() error {
	return s.enqueue(protocol.TypeLeave, protocol.LeaveEvent{})
}

// SendTyping publishes a typing indicator for the room. Best-effort; the
// server stamps the sender identity.
func (s *Subscription) SendTyping(roomID string, isTyping bool) error {
	return s.enqueue(protocol.TypeTyping, protocol.TypingEvent{RoomID: roomID, IsTyping: isTyping})
}

// Close tears the subscription down. Idempotent.
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.conn.Close()
	})
}

func (s *Subscription) enqueue(eventType protocol.EventType, data interface{}) error {
	env, err := protocol.NewEnvelope(eventType, data)
	if err != nil {
		return fmt.Errorf("%w: encoding event: %v", ErrUnexpected, err)
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("%w: encoding event: %v", ErrUnexpected, err)
	}
	select {
	case s.send <- raw:
		return nil
	case <-s.done:
		return fmt.Errorf("%w: subscription closed", ErrNetwork)
	}
}

func (s *Subscription) readPump(c *Client) {
	defer func() {
		s.Close()
		close(s.messages)
		close(s.statuses)
	}()

	s.conn.SetReadLimit(maxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.logger.Warn().Err(err).Msg("websocket read failed")
			}
			return
		}
		s.dispatch(c, raw)
	}
}

func (s *Subscription) dispatch(c *Client, raw []byte) {
	env, err := protocol.ParseEnvelope(raw)
	if err != nil {
		c.logger.Debug().Err(err).Msg("dropping malformed frame")
		return
	}

	switch env.Type {
	case protocol.TypeMessage:
		var ev protocol.MessageEvent
		if err := json.Unmarshal(env.Data, &ev); err != nil {
			c.logger.Debug().Err(err).Msg("dropping malformed message event")
			return
		}
		s.deliver(ev.Message)

	case protocol.TypeStatus:
		var ev protocol.StatusEvent
		if err := json.Unmarshal(env.Data, &ev); err != nil {
			c.logger.Debug().Err(err).Msg("dropping malformed status event")
			return
		}
		select {
		case s.statuses <- ev:
		case <-s.done:
		}

	case protocol.TypeTyping:
		var ev protocol.TypingEvent
		if err := json.Unmarshal(env.Data, &ev); err != nil {
			c.logger.Debug().Err(err).Msg("dropping malformed typing event")
			return
		}
		// Surface typing as a control message on the message stream; the
		// session's extractor turns it into a TypingSignal.
		s.deliver(models.Message{
			RoomID:      ev.RoomID,
			SenderID:    ev.UserID,
			SenderName:  ev.UserName,
			Content:     strconv.FormatBool(ev.IsTyping),
			ContentType: models.ContentTyping,
			SentAt:      time.Now(),
		})

	case protocol.TypeError:
		var ev protocol.ErrorEvent
		if err := json.Unmarshal(env.Data, &ev); err == nil {
			c.logger.Warn().Str("code", ev.Code).Str("message", ev.Message).Msg("server error event")
		}

	case protocol.TypeConnected, protocol.TypeJoined:
		// Informational only.

	default:
		c.logger.Debug().Str("type", string(env.Type)).Msg("ignoring unknown event")
	}
}

func (s *Subscription) deliver(msg models.Message) {
	select {
	case s.messages <- msg:
	case <-s.done:
	}
}

func (s *Subscription) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case raw := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
				return
			}

		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-s.done:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
