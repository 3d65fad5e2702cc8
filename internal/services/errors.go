package services

import "errors"

var (
	ErrNotAuthenticated     = errors.New("not authenticated")
	ErrInvalidInput         = errors.New("invalid input")
	ErrConversationNotFound = errors.New("conversation not found")
	ErrMessageNotFound      = errors.New("message not found")
	ErrPermissionDenied     = errors.New("permission denied")
	ErrUserNotFound         = errors.New("user not found")
)
