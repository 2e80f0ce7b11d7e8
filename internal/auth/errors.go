package auth

import "errors"

var (
	ErrPermissionDenied = errors.New("auth: permission denied")
	ErrUnknownRole      = errors.New("auth: unknown role")
	ErrInvalidMatrix    = errors.New("auth: invalid permission matrix")
	ErrInvalidToken     = errors.New("auth: invalid token")
	ErrInvalidInput     = errors.New("auth: invalid input")
	ErrUnauthorized     = errors.New("auth: unauthorized")
)
