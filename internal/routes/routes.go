package routes

import (
	websocket "github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/deividyBarbosa/Transcend-sub001/internal/config"
	"github.com/deividyBarbosa/Transcend-sub001/internal/handlers"
	"github.com/deividyBarbosa/Transcend-sub001/internal/middleware"
	"github.com/deividyBarbosa/Transcend-sub001/internal/realtime"
	"github.com/deividyBarbosa/Transcend-sub001/internal/repository"
	"github.com/deividyBarbosa/Transcend-sub001/internal/services"
	chatws "github.com/deividyBarbosa/Transcend-sub001/internal/websocket"
)

func RegisterRoutes(
	app *fiber.App,
	cfg *config.Config,
	db *pgxpool.Pool,
	redisClient *redis.Client,
	log *zap.Logger,
) {
	userRepo := repository.NewUserRepository(db)
	conversationRepo := repository.NewConversationRepository(db)
	messageRepo := repository.NewMessageRepository(db, cfg.ChatEncryptionKey)
	presenceRepo := repository.NewPresenceRepository(redisClient)

	feed := realtime.NewRedisFeed(redisClient)
	presenceService := services.NewPresenceService(presenceRepo, feed, log)
	chatService := services.NewChatService(
		db,
		conversationRepo,
		messageRepo,
		userRepo,
		feed,
		log,
		cfg.ChatEncryptionKey,
		cfg.MaxMessageLength,
	)

	chatHub := chatws.NewHub(log)
	go chatHub.Run()

	authHandler := handlers.NewAuthHandler(userRepo, cfg.JWTSecret)
	chatHandler := handlers.NewChatHandler(chatService, chatHub, feed, presenceService, cfg.JWTSecret)

	api := app.Group("/api")

	auth := api.Group("/auth")
	auth.Post("/register", authHandler.Register)
	auth.Post("/login", authHandler.Login)
	auth.Get("/me", middleware.AuthRequired(cfg.JWTSecret), authHandler.Me)

	authProtected := api.Group("/v1", middleware.AuthRequired(cfg.JWTSecret))

	conversations := authProtected.Group("/conversations")
	conversations.Get("", chatHandler.ListConversations)
	conversations.Post("", chatHandler.CreateConversation)
	conversations.Get("/:id/messages", chatHandler.GetMessages)
	conversations.Post("/:id/messages", chatHandler.SendMessage)
	conversations.Post("/:id/read", chatHandler.MarkConversationRead)

	messages := authProtected.Group("/messages")
	messages.Post("/:id/read", chatHandler.MarkMessageRead)

	api.Use("/v1/ws", chatHandler.WebSocketAuth)
	api.Get("/v1/ws", websocket.New(chatHandler.HandleWebSocket))
}
