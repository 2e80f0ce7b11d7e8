package crisis

import (
	"errors"

	"civicguard.org/internal/auth"
)

var (
	// ErrPermissionDenied is auth.ErrPermissionDenied so one errors.Is check
	// covers both the engine and the machine.
	ErrPermissionDenied        = auth.ErrPermissionDenied
	ErrInvalidTransition       = errors.New("crisis: invalid transition")
	ErrSessionConflict         = errors.New("crisis: another activation is pending")
	ErrIncompleteAuthorization = errors.New("crisis: both authorization tokens are required")
	ErrInvalidInput            = errors.New("crisis: invalid input")
	ErrUnknownSession          = errors.New("crisis: unknown activation session")
	ErrTokenRejected           = errors.New("crisis: authorization token rejected")
)
