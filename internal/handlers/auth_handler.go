package handlers

import (
	"errors"
	"net/mail"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/deividyBarbosa/Transcend-sub001/internal/models"
	"github.com/deividyBarbosa/Transcend-sub001/internal/repository"
	"github.com/deividyBarbosa/Transcend-sub001/pkg/utils"
)

type AuthHandler struct {
	userRepo  *repository.UserRepository
	jwtSecret string
}

func NewAuthHandler(userRepo *repository.UserRepository, jwtSecret string) *AuthHandler {
	return &AuthHandler{
		userRepo:  userRepo,
		jwtSecret: jwtSecret,
	}
}

type registerRequest struct {
	Name     string `json:"nome"`
	Email    string `json:"email"`
	Password string `json:"senha"`
	Role     string `json:"role"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"senha"`
}

func (h *AuthHandler) Register(c *fiber.Ctx) error {
	var req registerRequest
	if err := c.BodyParser(&req); err != nil {
		return respondError(c, fiber.StatusBadRequest, CodeInvalidInput, "Invalid request body")
	}

	parsedEmail, err := mail.ParseAddress(strings.TrimSpace(req.Email))
	if err != nil {
		return respondError(c, fiber.StatusBadRequest, CodeInvalidInput, "Invalid email format")
	}
	req.Email = strings.ToLower(parsedEmail.Address)

	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return respondError(c, fiber.StatusBadRequest, CodeInvalidInput, "Name is required")
	}
	if len(req.Password) < 8 {
		return respondError(c, fiber.StatusBadRequest, CodeInvalidInput, "Password must be at least 8 characters")
	}
	if req.Role != models.RolePatient && req.Role != models.RolePsychologist {
		return respondError(c, fiber.StatusBadRequest, CodeInvalidInput, "Invalid role")
	}

	hashed, err := utils.HashPassword(req.Password)
	if err != nil {
		return respondError(c, fiber.StatusInternalServerError, CodeStoreUnavailable, "Failed to hash password")
	}

	user := &models.User{
		Name:         req.Name,
		Email:        req.Email,
		PasswordHash: hashed,
		Role:         req.Role,
	}
	if err := h.userRepo.CreateUser(c.Context(), user); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return respondError(c, fiber.StatusConflict, CodeEmailInUse, "Email already exists")
		}
		return respondError(c, fiber.StatusServiceUnavailable, CodeStoreUnavailable, "Failed to create user")
	}

	token, err := utils.GenerateToken(strconv.FormatInt(user.ID, 10), user.Role, h.jwtSecret)
	if err != nil {
		return respondError(c, fiber.StatusInternalServerError, CodeStoreUnavailable, "Failed to generate token")
	}

	return respondOK(c, fiber.StatusCreated, fiber.Map{
		"token":   token,
		"usuario": user,
	})
}

func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var req loginRequest
	if err := c.BodyParser(&req); err != nil {
		return respondError(c, fiber.StatusBadRequest, CodeInvalidInput, "Invalid request body")
	}

	parsedEmail, err := mail.ParseAddress(strings.TrimSpace(req.Email))
	if err != nil {
		return respondError(c, fiber.StatusBadRequest, CodeInvalidInput, "Invalid email format")
	}
	req.Email = strings.ToLower(parsedEmail.Address)

	user, err := h.userRepo.GetByEmail(c.Context(), req.Email)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return respondError(c, fiber.StatusUnauthorized, CodeNotAuthenticated, "Invalid email or password")
		}
		return respondError(c, fiber.StatusServiceUnavailable, CodeStoreUnavailable, "Failed to lookup user")
	}

	if !utils.CheckPassword(req.Password, user.PasswordHash) {
		return respondError(c, fiber.StatusUnauthorized, CodeNotAuthenticated, "Invalid email or password")
	}

	token, err := utils.GenerateToken(strconv.FormatInt(user.ID, 10), user.Role, h.jwtSecret)
	if err != nil {
		return respondError(c, fiber.StatusInternalServerError, CodeStoreUnavailable, "Failed to generate token")
	}

	return respondOK(c, fiber.StatusOK, fiber.Map{
		"token":   token,
		"usuario": user,
	})
}

func (h *AuthHandler) Me(c *fiber.Ctx) error {
	actorID, err := parseActorID(c)
	if err != nil {
		return respondError(c, fiber.StatusUnauthorized, CodeNotAuthenticated, "Invalid token")
	}

	user, err := h.userRepo.GetByID(c.Context(), actorID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return respondError(c, fiber.StatusNotFound, CodeUserNotFound, "User not found")
		}
		return respondError(c, fiber.StatusServiceUnavailable, CodeStoreUnavailable, "Failed to lookup user")
	}

	return respondOK(c, fiber.StatusOK, fiber.Map{"usuario": user})
}
