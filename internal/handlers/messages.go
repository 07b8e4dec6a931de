package handlers

import (
	"errors"

	"chat-sync/internal/metrics"
	"chat-sync/internal/models"
	"chat-sync/internal/protocol"
	"chat-sync/internal/services"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// GetHistoryHandler serves one page of a room's messages, oldest first.
func GetHistoryHandler(chatService *services.ChatService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID := c.Locals("user_id").(int)
		roomID := c.Params("room")

		ok, err := chatService.IsParticipant(c.Context(), roomID, userID)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
		}
		if !ok {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "not a participant of this room"})
		}

		page := c.QueryInt("page", 0)
		size := c.QueryInt("size", defaultPageSize)
		if page < 0 || size < 1 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid page or size"})
		}
		if size > maxPageSize {
			size = maxPageSize
		}

		messages, err := chatService.GetMessagesPage(c.Context(), roomID, page, size)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
		}

		metrics.HistoryPagesServed.Inc()
		if messages == nil {
			messages = []models.Message{}
		}
		return c.JSON(models.HistoryPage{
			RoomID:   roomID,
			Page:     page,
			Size:     size,
			Messages: messages,
		})
	}
}

// SendMessageHandler persists a message and fans it out to the room.
func SendMessageHandler(chatService *services.ChatService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID := c.Locals("user_id").(int)
		username := c.Locals("username").(string)
		roomID := c.Params("room")

		var req models.SendMessageRequest
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request"})
		}
		if req.Content == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "content required"})
		}

		ok, err := chatService.IsParticipant(c.Context(), roomID, userID)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
		}
		if !ok {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "not a participant of this room"})
		}

		msg := &models.Message{
			RoomID:      roomID,
			SenderID:    userID,
			SenderName:  username,
			Content:     req.Content,
			ContentType: req.ContentType,
		}
		if err := chatService.SaveMessage(c.Context(), msg); err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
		}
		metrics.MessagesStored.WithLabelValues(string(msg.ContentType)).Inc()

		if env, err := protocol.NewEnvelope(protocol.TypeMessage, protocol.MessageEvent{Message: *msg}); err == nil {
			Manager.Broadcast(roomID, env, "")
		}

		// If anyone besides the sender currently has the room open, the message
		// is delivered right away.
		if delivered := anyOtherParticipantInRoom(c, chatService, roomID, userID); delivered {
			if err := chatService.SetMessageStatus(c.Context(), msg.ID, models.StatusDelivered); err == nil {
				msg.Status = models.StatusDelivered
				broadcastStatus(roomID, msg.ID, models.StatusDelivered)
			}
		}

		return c.Status(fiber.StatusCreated).JSON(msg)
	}
}

func anyOtherParticipantInRoom(c *fiber.Ctx, chatService *services.ChatService, roomID string, senderID int) bool {
	participants, err := chatService.GetRoomParticipants(c.Context(), roomID)
	if err != nil {
		log.Warn().Err(err).Str("room", roomID).Msg("participant lookup failed")
		return false
	}
	for _, id := range participants {
		if id != senderID && Manager.IsUserInRoom(id, roomID) {
			return true
		}
	}
	return false
}

func broadcastStatus(roomID, messageID string, status models.Status) {
	env, err := protocol.NewEnvelope(protocol.TypeStatus, protocol.StatusEvent{
		MessageID: messageID,
		RoomID:    roomID,
		Status:    status,
	})
	if err != nil {
		return
	}
	metrics.StatusUpdates.WithLabelValues(string(status)).Inc()
	Manager.Broadcast(roomID, env, "")
}

// MarkReadHandler flips one message to read and notifies the room.
func MarkReadHandler(chatService *services.ChatService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		messageID := c.Params("id")

		roomID, err := chatService.MarkMessageRead(c.Context(), messageID)
		if errors.Is(err, services.ErrMessageNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "message not found"})
		}
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
		}

		broadcastStatus(roomID, messageID, models.StatusRead)
		return c.SendStatus(fiber.StatusNoContent)
	}
}

// MarkRoomReadHandler flips every unread message from other senders to read.
func MarkRoomReadHandler(chatService *services.ChatService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID := c.Locals("user_id").(int)
		roomID := c.Params("room")

		ok, err := chatService.IsParticipant(c.Context(), roomID, userID)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
		}
		if !ok {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "not a participant of this room"})
		}

		ids, err := chatService.MarkRoomRead(c.Context(), roomID, userID)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
		}
		for _, id := range ids {
			broadcastStatus(roomID, id, models.StatusRead)
		}
		return c.JSON(fiber.Map{"updated": len(ids)})
	}
}

// DeleteMessageHandler removes a message. Only the sender may delete.
func DeleteMessageHandler(chatService *services.ChatService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID := c.Locals("user_id").(int)
		messageID := c.Params("id")

		_, err := chatService.DeleteMessage(c.Context(), messageID, userID)
		if errors.Is(err, services.ErrMessageNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "message not found"})
		}
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
		}
		return c.SendStatus(fiber.StatusNoContent)
	}
}
