package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/deividyBarbosa/Transcend-sub001/pkg/utils"
)

func AuthRequired(secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authHeader := c.Get("Authorization")
		if authHeader == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"sucesso": false,
				"erro":    "Missing authorization header",
				"codigo":  "NOT_AUTHENTICATED",
			})
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"sucesso": false,
				"erro":    "Invalid authorization header format",
				"codigo":  "NOT_AUTHENTICATED",
			})
		}

		tokenString := parts[1]
		claims, err := utils.ValidateToken(tokenString, secret)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"sucesso": false,
				"erro":    "Invalid or expired token",
				"codigo":  "NOT_AUTHENTICATED",
			})
		}

		c.Locals("user_id", claims.UserID)
		c.Locals("role", claims.Role)

		return c.Next()
	}
}
