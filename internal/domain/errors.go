package domain

import (
	"errors"
	"fmt"
)

// Error categories. Every error returned by the ranking engine or the session
// registry matches exactly one of these via errors.Is.
var (
	ErrNotFound        = errors.New("not found")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrConflict        = errors.New("conflict")
	ErrUnavailable     = errors.New("store unavailable")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrForbidden       = errors.New("forbidden")
)

// Domain errors
var (
	ErrUserNotFound       = fmt.Errorf("user %w", ErrNotFound)
	ErrSessionNotFound    = fmt.Errorf("live session %w", ErrNotFound)
	ErrNegativeScore      = fmt.Errorf("%w: score cannot be negative", ErrInvalidArgument)
	ErrScoreTooLarge      = fmt.Errorf("%w: score exceeds %d", ErrInvalidArgument, MaxScore)
	ErrInvalidMode        = fmt.Errorf("%w: invalid game mode", ErrInvalidArgument)
	ErrInvalidStatus      = fmt.Errorf("%w: invalid session status", ErrInvalidArgument)
	ErrInvalidRequest     = fmt.Errorf("%w: invalid request", ErrInvalidArgument)
	ErrUsernameTaken      = fmt.Errorf("%w: username already taken", ErrConflict)
	ErrEmailTaken         = fmt.Errorf("%w: email already registered", ErrConflict)
	ErrInvalidCredentials = fmt.Errorf("%w: invalid email or password", ErrUnauthorized)
	ErrNotSessionOwner    = fmt.Errorf("%w: session belongs to another player", ErrForbidden)
	ErrInternalError      = errors.New("internal server error")
)

// Unavailable wraps a failed store operation so that it matches both
// ErrUnavailable and the underlying cause.
func Unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrUnavailable, op, err)
}

// IsNotFoundError checks if an error is a not-found type error
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsInvalidArgument checks if an error was caused by bad caller input
func IsInvalidArgument(err error) bool {
	return errors.Is(err, ErrInvalidArgument)
}

// IsUnavailable reports whether the Record Store failed to answer
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}
