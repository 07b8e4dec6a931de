package utils

import (
	"github.com/gofiber/websocket/v2"
)

// SendJSON sends a JSON payload to a WebSocket connection.
// Fiber's websocket implementation is not thread-safe for concurrent writes;
// the caller (the room manager) must serialize writes per connection.
func SendJSON(c *websocket.Conn, payload interface{}) error {
	return c.WriteJSON(payload)
}
