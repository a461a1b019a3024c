package engine

import (
	"errors"
)

// Sentinel error kinds for the engine. Callers match them with errors.Is.
var (
	ErrInvalidSettings  = errors.New("invalid session settings")
	ErrMalformedFrame   = errors.New("malformed frame")
	ErrSessionFinalized = errors.New("session finalized")
)
