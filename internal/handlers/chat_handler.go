package handlers

import (
	"context"
	"errors"
	"strconv"
	"strings"

	websocket "github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"

	"github.com/deividyBarbosa/Transcend-sub001/internal/models"
	"github.com/deividyBarbosa/Transcend-sub001/internal/realtime"
	"github.com/deividyBarbosa/Transcend-sub001/internal/services"
	chatws "github.com/deividyBarbosa/Transcend-sub001/internal/websocket"
	"github.com/deividyBarbosa/Transcend-sub001/pkg/utils"
)

type chatApplicationService interface {
	FindOrCreateConversation(ctx context.Context, actorID int64, actorRole string, counterpartID int64) (*models.Conversation, error)
	ConversationForParticipant(ctx context.Context, actorID int64, conversationID int64) (*models.Conversation, error)
	ListConversations(ctx context.Context, actorID int64) ([]models.ConversationSummary, error)
	SendMessage(ctx context.Context, actorID int64, conversationID int64, content string, kind string, clientKey *string) (*services.ChatDelivery, error)
	FetchHistory(ctx context.Context, actorID int64, conversationID int64, page int, limit int) ([]models.Message, int, error)
	MarkConversationRead(ctx context.Context, actorID int64, conversationID int64) (*models.Conversation, error)
	MarkMessageRead(ctx context.Context, actorID int64, messageID int64) error
}

type ChatHandler struct {
	service   chatApplicationService
	hub       *chatws.Hub
	feed      realtime.Feed
	presence  *services.PresenceService
	jwtSecret string
}

type createConversationRequest struct {
	CounterpartID int64 `json:"interlocutor_id"`
}

type sendMessageRequest struct {
	Content   string  `json:"conteudo"`
	Kind      string  `json:"tipo"`
	ClientKey *string `json:"chave_cliente"`
}

func NewChatHandler(
	service chatApplicationService,
	hub *chatws.Hub,
	feed realtime.Feed,
	presence *services.PresenceService,
	jwtSecret string,
) *ChatHandler {
	return &ChatHandler{
		service:   service,
		hub:       hub,
		feed:      feed,
		presence:  presence,
		jwtSecret: jwtSecret,
	}
}

func (h *ChatHandler) ListConversations(c *fiber.Ctx) error {
	actorID, err := parseActorID(c)
	if err != nil {
		return respondError(c, fiber.StatusUnauthorized, CodeNotAuthenticated, "Invalid token")
	}

	conversations, err := h.service.ListConversations(c.Context(), actorID)
	if err != nil {
		return mapChatError(c, err)
	}

	return respondOK(c, fiber.StatusOK, fiber.Map{"conversas": conversations})
}

func (h *ChatHandler) CreateConversation(c *fiber.Ctx) error {
	actorID, err := parseActorID(c)
	if err != nil {
		return respondError(c, fiber.StatusUnauthorized, CodeNotAuthenticated, "Invalid token")
	}
	role, _ := c.Locals("role").(string)

	var req createConversationRequest
	if err := c.BodyParser(&req); err != nil {
		return respondError(c, fiber.StatusBadRequest, CodeInvalidInput, "Invalid request body")
	}

	conversation, err := h.service.FindOrCreateConversation(c.Context(), actorID, role, req.CounterpartID)
	if err != nil {
		return mapChatError(c, err)
	}

	return respondOK(c, fiber.StatusCreated, fiber.Map{"conversa": conversation})
}

// GetMessages serves history pages newest-first: page 1 carries the most
// recent messages.
func (h *ChatHandler) GetMessages(c *fiber.Ctx) error {
	actorID, err := parseActorID(c)
	if err != nil {
		return respondError(c, fiber.StatusUnauthorized, CodeNotAuthenticated, "Invalid token")
	}

	conversationID, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil || conversationID <= 0 {
		return respondError(c, fiber.StatusBadRequest, CodeInvalidInput, "Invalid conversation id")
	}

	page := parsePositiveInt(c.Query("page"), 1)
	limit := parsePositiveInt(c.Query("limit"), defaultPageLimit)
	if limit > maxPageLimit {
		limit = maxPageLimit
	}

	messages, total, err := h.service.FetchHistory(c.Context(), actorID, conversationID, page, limit)
	if err != nil {
		return mapChatError(c, err)
	}

	return respondOK(c, fiber.StatusOK, fiber.Map{
		"mensagens": messages,
		"paginacao": buildPaginationMeta(page, limit, total),
	})
}

func (h *ChatHandler) SendMessage(c *fiber.Ctx) error {
	actorID, err := parseActorID(c)
	if err != nil {
		return respondError(c, fiber.StatusUnauthorized, CodeNotAuthenticated, "Invalid token")
	}

	conversationID, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil || conversationID <= 0 {
		return respondError(c, fiber.StatusBadRequest, CodeInvalidInput, "Invalid conversation id")
	}

	var req sendMessageRequest
	if err := c.BodyParser(&req); err != nil {
		return respondError(c, fiber.StatusBadRequest, CodeInvalidInput, "Invalid request body")
	}

	delivery, err := h.service.SendMessage(c.Context(), actorID, conversationID, req.Content, req.Kind, req.ClientKey)
	if err != nil {
		return mapChatError(c, err)
	}

	status := fiber.StatusCreated
	if delivery.Duplicate {
		status = fiber.StatusOK
	}
	return respondOK(c, status, fiber.Map{"mensagem": delivery.Message})
}

func (h *ChatHandler) MarkConversationRead(c *fiber.Ctx) error {
	actorID, err := parseActorID(c)
	if err != nil {
		return respondError(c, fiber.StatusUnauthorized, CodeNotAuthenticated, "Invalid token")
	}

	conversationID, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil || conversationID <= 0 {
		return respondError(c, fiber.StatusBadRequest, CodeInvalidInput, "Invalid conversation id")
	}

	conversation, err := h.service.MarkConversationRead(c.Context(), actorID, conversationID)
	if err != nil {
		return mapChatError(c, err)
	}

	return respondOK(c, fiber.StatusOK, fiber.Map{"conversa": conversation})
}

func (h *ChatHandler) MarkMessageRead(c *fiber.Ctx) error {
	actorID, err := parseActorID(c)
	if err != nil {
		return respondError(c, fiber.StatusUnauthorized, CodeNotAuthenticated, "Invalid token")
	}

	messageID, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil || messageID <= 0 {
		return respondError(c, fiber.StatusBadRequest, CodeInvalidInput, "Invalid message id")
	}

	if err := h.service.MarkMessageRead(c.Context(), actorID, messageID); err != nil {
		return mapChatError(c, err)
	}

	return respondOK(c, fiber.StatusOK, nil)
}

func (h *ChatHandler) WebSocketAuth(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return respondError(c, fiber.StatusUpgradeRequired, CodeInvalidInput, "WebSocket upgrade required")
	}

	claims, err := h.parseWSClaims(c)
	if err != nil {
		return respondError(c, fiber.StatusUnauthorized, CodeNotAuthenticated, "Invalid or expired token")
	}

	c.Locals("user_id", claims.UserID)
	c.Locals("role", claims.Role)
	return c.Next()
}

func (h *ChatHandler) HandleWebSocket(conn *websocket.Conn) {
	rawUserID, _ := conn.Locals("user_id").(string)
	userID, err := strconv.ParseInt(rawUserID, 10, 64)
	if err != nil || userID <= 0 {
		_ = conn.Close()
		return
	}

	client := chatws.NewClient(h.hub, conn, userID, h.feed, h.presence)
	h.hub.Register(client)
	go client.WritePump()
	client.ReadPump(h.service)
}

func (h *ChatHandler) parseWSClaims(c *fiber.Ctx) (*utils.Claims, error) {
	tokenString := strings.TrimSpace(c.Query("token"))
	if tokenString == "" {
		authHeader := strings.TrimSpace(c.Get("Authorization"))
		if authHeader != "" {
			parts := strings.Split(authHeader, " ")
			if len(parts) == 2 && parts[0] == "Bearer" {
				tokenString = parts[1]
			}
		}
	}

	if tokenString == "" {
		return nil, errors.New("missing token")
	}

	return utils.ValidateToken(tokenString, h.jwtSecret)
}

func parseActorID(c *fiber.Ctx) (int64, error) {
	rawUserID, _ := c.Locals("user_id").(string)
	actorID, err := strconv.ParseInt(rawUserID, 10, 64)
	if err != nil || actorID <= 0 {
		return 0, errors.New("invalid user id")
	}
	return actorID, nil
}

func mapChatError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, services.ErrNotAuthenticated):
		return respondError(c, fiber.StatusUnauthorized, CodeNotAuthenticated, "Not authenticated")
	case errors.Is(err, services.ErrPermissionDenied):
		return respondError(c, fiber.StatusForbidden, CodePermissionDenied, "Permission denied")
	case errors.Is(err, services.ErrInvalidInput):
		return respondError(c, fiber.StatusBadRequest, CodeInvalidInput, "Invalid request")
	case errors.Is(err, services.ErrConversationNotFound):
		return respondError(c, fiber.StatusNotFound, CodeConversationNotFound, "Conversation not found")
	case errors.Is(err, services.ErrMessageNotFound):
		return respondError(c, fiber.StatusNotFound, CodeMessageNotFound, "Message not found")
	case errors.Is(err, services.ErrUserNotFound):
		return respondError(c, fiber.StatusNotFound, CodeUserNotFound, "User not found")
	default:
		return respondError(c, fiber.StatusServiceUnavailable, CodeStoreUnavailable, "Store unavailable")
	}
}
