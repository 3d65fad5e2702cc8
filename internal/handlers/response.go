package handlers

import "github.com/gofiber/fiber/v2"

// Result is the uniform envelope every endpoint returns. Callers branch on
// sucesso; codigo carries the machine-readable error kind.
type Result struct {
	Success bool   `json:"sucesso"`
	Data    any    `json:"dados,omitempty"`
	Error   string `json:"erro,omitempty"`
	Code    string `json:"codigo,omitempty"`
}

const (
	CodeNotAuthenticated     = "NOT_AUTHENTICATED"
	CodeInvalidInput         = "INVALID_INPUT"
	CodeConversationNotFound = "CONVERSATION_NOT_FOUND"
	CodeMessageNotFound      = "MESSAGE_NOT_FOUND"
	CodePermissionDenied     = "PERMISSION_DENIED"
	CodeUserNotFound         = "USER_NOT_FOUND"
	CodeEmailInUse           = "EMAIL_IN_USE"
	CodeStoreUnavailable     = "STORE_UNAVAILABLE"
)

func respondOK(c *fiber.Ctx, status int, data any) error {
	return c.Status(status).JSON(Result{Success: true, Data: data})
}

func respondError(c *fiber.Ctx, status int, code string, message string) error {
	return c.Status(status).JSON(Result{Success: false, Error: message, Code: code})
}
