package repository

import "errors"

// Sentinel kinds for repository errors.
var (
	ErrNotFound      = errors.New("session not found")
	ErrInvalidPage   = errors.New("invalid page")
	ErrUnknownDriver = errors.New("unknown storage driver")
)
