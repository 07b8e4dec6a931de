package app

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"chat-sync/internal/db"
	"chat-sync/internal/handlers"
	"chat-sync/internal/logging"
	"chat-sync/internal/models"
	"chat-sync/internal/services"
	"chat-sync/internal/utils"

	"github.com/gofiber/adaptor/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	zlog "github.com/rs/zerolog/log"
)

func Run() {
	// Load Env
	if err := utils.LoadEnv(); err != nil {
		zlog.Warn().Msg(".env file not found")
	}

	zlog.Logger = logging.New(utils.GetEnv("ENV", "development"))

	// Init DB
	connString := utils.GetEnv("DATABASE_URL", "")
	if connString == "" {
		// Fallback to individual vars
		connString = "postgres://" + utils.GetEnv("POSTGRES_USER", "postgres") + ":" +
			utils.GetEnv("POSTGRES_PASSWORD", "postgres") + "@" +
			utils.GetEnv("POSTGRES_HOST", "localhost") + ":" +
			utils.GetEnv("POSTGRES_PORT", "5432") + "/" +
			utils.GetEnv("POSTGRES_DB", "chatdb") + "?sslmode=disable"
	}

	if err := db.InitDB(context.Background(), connString); err != nil {
		zlog.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.CloseDB()
	zlog.Info().Msg("connected to PostgreSQL")

	// Services
	userService := services.NewUserService()
	chatService := services.NewChatService()

	// Fiber App
	app := fiber.New()

	// Middleware
	app.Use(logger.New())
	app.Use(recover.New())
	app.Use(cors.New())

	// Routes
	api := app.Group("/api")

	// Public Routes
	api.Post("/register", func(c *fiber.Ctx) error {
		var req models.RegisterRequest
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request"})
		}
		user, err := userService.Register(c.Context(), req)
		if err != nil {
			if errors.Is(err, services.ErrUserExists) {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "username already exists"})
			}
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
		}
		return c.Status(fiber.StatusCreated).JSON(user)
	})

	api.Post("/login", func(c *fiber.Ctx) error {
		var req models.LoginRequest
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request"})
		}
		res, err := userService.Login(c.Context(), req)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(res)
	})

	// Protected Routes
	protected := api.Group("/")
	protected.Use(handlers.AuthMiddleware)

	// Room Routes
	protected.Post("/rooms/direct", func(c *fiber.Ctx) error {
		userID := c.Locals("user_id").(int)

		var req models.CreateDirectRoomRequest
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request"})
		}
		if req.RecipientID == 0 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Recipient ID required"})
		}

		res, err := chatService.GetOrCreateDirectRoom(c.Context(), userID, req.RecipientID)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(res)
	})

	// Message Routes
	protected.Get("/rooms/:room/messages", handlers.GetHistoryHandler(chatService))
	protected.Post("/rooms/:room/messages", handlers.SendMessageHandler(chatService))
	protected.Post("/rooms/:room/read", handlers.MarkRoomReadHandler(chatService))
	protected.Post("/messages/:id/read", handlers.MarkReadHandler(chatService))
	protected.Delete("/messages/:id", handlers.DeleteMessageHandler(chatService))

	// User directory with presence
	protected.Get("/users", handlers.ListUsersHandler(userService))

	// Health Check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	// Prometheus metrics
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	// WebSocket Route
	// Note: Middleware order matters. AuthMiddleware checks token.
	// WSUpgradeMiddleware checks if it's a WS request.
	app.Use("/ws", handlers.WSUpgradeMiddleware)
	app.Use("/ws", handlers.AuthMiddleware)
	app.Get("/ws", handlers.WebSocketHandler())

	// Start Server
	port := utils.GetEnv("PORT", "3001")
	go func() {
		if err := app.Listen(":" + port); err != nil {
			zlog.Fatal().Err(err).Msg("server stopped")
		}
	}()

	// Graceful Shutdown
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	<-c // Block until signal
	zlog.Info().Msg("gracefully shutting down")
	_ = app.Shutdown()
	zlog.Info().Msg("server shutdown complete")
}
