package handlers

import (
	"chat-sync/internal/models"
	"chat-sync/internal/services"

	"github.com/gofiber/fiber/v2"
)

// ListUsersHandler returns the user directory with live presence, excluding
// the requesting user.
func ListUsersHandler(userService *services.UserService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authUserID := c.Locals("user_id").(int)

		users, err := userService.ListUsers(c.Context())
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to fetch users"})
		}

		resp := make([]models.UserStatus, 0, len(users))
		for _, u := range users {
			if u.ID == authUserID {
				continue
			}
			status := "offline"
			if Manager.IsUserOnline(u.ID) {
				status = "online"
			}
			resp = append(resp, models.UserStatus{
				ID:        u.ID,
				Username:  u.Username,
				CreatedAt: u.CreatedAt,
				Status:    status,
			})
		}

		return c.JSON(resp)
	}
}
