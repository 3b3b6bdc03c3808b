package errors

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

var (
	// ErrRoomNotFound is returned when a room cannot be found.
	ErrRoomNotFound = errors.New("room not found")
	// ErrUserNotFound is returned when a user cannot be found.
	ErrUserNotFound = errors.New("user not found")
	// ErrNotRoomMember is returned when a user is not an active member of a room.
	ErrNotRoomMember = errors.New("user is not an active member of the room")
	// ErrInvalidInput is returned when input validation fails.
	ErrInvalidInput = errors.New("invalid input")
	// ErrInvalidToken is returned when a token is invalid.
	ErrInvalidToken = errors.New("invalid token")
)

// New creates a new error with the given message.
func New(msg string) error {
	return errors.New(msg)
}

// Wrap wraps an error with additional context.
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return errors.New(msg + ": " + err.Error())
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// LogWithError logs the error with context and returns a wrapped error. Use this for standardized error logging across services.
func LogWithError(ctx context.Context, log *zap.Logger, msg string, err error, fields ...zap.Field) error {
	if log != nil {
		if ctx != nil {
			if reqID, ok := ctx.Value("request_id").(string); ok && reqID != "" {
				fields = append(fields, zap.String("request_id", reqID))
			}
		}
		log.Error(msg, append(fields, zap.Error(err))...)
	}
	return Wrap(err, msg)
}
