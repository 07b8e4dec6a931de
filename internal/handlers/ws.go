package handlers

import (
	"encoding/json"

	"chat-sync/internal/metrics"
	"chat-sync/internal/protocol"
	"chat-sync/internal/services"
	"chat-sync/internal/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// WebSocketHandler handles the websocket connection
func WebSocketHandler() fiber.Handler {
	return websocket.New(func(c *websocket.Conn) {
		// Retrieve user info from locals (set by middleware)
		userID := c.Locals("user_id").(int)
		username := c.Locals("username").(string)

		// Generate a unique ID for this connection
		connID := uuid.New().String()

		Manager.RegisterConnection(connID, userID, username, c)
		metrics.WSConnections.Inc()

		var currentRoom string

		defer func() {
			Manager.UnregisterConnection(connID)
			metrics.WSConnections.Dec()
			c.Close()
		}()

		if env, err := protocol.NewEnvelope(protocol.TypeConnected, fiber.Map{"message": "connected"}); err == nil {
			utils.SendJSON(c, env)
		}

		for {
			msgType, msg, err := c.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					log.Warn().Err(err).Str("conn_id", connID).Msg("websocket read failed")
				}
				break
			}
			if msgType != websocket.TextMessage {
				continue
			}

			handleEvent(c, msg, userID, username, &currentRoom, connID)
		}
	})
}

func handleEvent(c *websocket.Conn, raw []byte, userID int, username string, currentRoom *string, connID string) {
	env, err := protocol.ParseEnvelope(raw)
	if err != nil {
		sendError(c, protocol.ErrCodeInvalidEvent, "malformed envelope")
		return
	}

	switch env.Type {
	case protocol.TypeJoin:
		var ev protocol.JoinEvent
		if err := json.Unmarshal(env.Data, &ev); err != nil || ev.RoomID == "" {
			sendError(c, protocol.ErrCodeInvalidEvent, "join requires room_id")
			return
		}
		if *currentRoom != "" {
			Manager.Leave(*currentRoom, connID)
		}
		*currentRoom = ev.RoomID
		Manager.Join(ev.RoomID, connID, c, userID, username)
		if out, err := protocol.NewEnvelope(protocol.TypeJoined, protocol.JoinEvent{RoomID: ev.RoomID}); err == nil {
			utils.SendJSON(c, out)
		}

	case protocol.TypeLeave:
		if *currentRoom != "" {
			Manager.Leave(*currentRoom, connID)
			*currentRoom = ""
		}

	case protocol.TypeTyping:
		var ev protocol.TypingEvent
		if err := json.Unmarshal(env.Data, &ev); err != nil {
			sendError(c, protocol.ErrCodeInvalidEvent, "malformed typing event")
			return
		}
		if ev.RoomID == "" {
			ev.RoomID = *currentRoom
		}
		if ev.RoomID == "" {
			sendError(c, protocol.ErrCodeNotInRoom, "typing requires a room")
			return
		}
		// Stamp the authenticated sender; never trust the client's identity.
		ev.UserID = userID
		ev.UserName = username
		out, err := protocol.NewEnvelope(protocol.TypeTyping, ev)
		if err != nil {
			return
		}
		metrics.TypingEvents.Inc()
		// Typing is ephemeral: fan out, never persist.
		Manager.Broadcast(ev.RoomID, out, connID)

	default:
		log.Debug().Str("type", string(env.Type)).Msg("unknown ws event")
	}
}

func sendError(c *websocket.Conn, code, message string) {
	if env, err := protocol.NewEnvelope(protocol.TypeError, protocol.ErrorEvent{Code: code, Message: message}); err == nil {
		utils.SendJSON(c, env)
	}
}

// WSUpgradeMiddleware upgrades the connection to WebSocket
func WSUpgradeMiddleware(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		c.Locals("allowed", true)
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}

// AuthMiddleware verifies the JWT token before upgrading
func AuthMiddleware(c *fiber.Ctx) error {
	// Get token from query param `access_token` or Authorization header
	token := c.Query("access_token")
	if token == "" {
		authHeader := c.Get("Authorization")
		if len(authHeader) > 7 && authHeader[:7] == "Bearer " {
			token = authHeader[7:]
		}
	}

	if token == "" {
		return fiber.NewError(fiber.StatusUnauthorized, "Missing token")
	}

	claims, err := services.ValidateToken(token)
	if err != nil {
		return fiber.NewError(fiber.StatusUnauthorized, "Invalid token")
	}

	// claims["user_id"] comes as float64 from JSON
	if uid, ok := claims["user_id"].(float64); ok {
		c.Locals("user_id", int(uid))
	} else {
		return fiber.NewError(fiber.StatusUnauthorized, "Invalid token claims")
	}

	if u, ok := claims["username"].(string); ok {
		c.Locals("username", u)
	}

	return c.Next()
}
