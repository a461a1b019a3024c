package service

import "errors"

// Sentinel errors returned by the service.
var (
	ErrNotStarted       = errors.New("service not started")
	ErrTooManyFrames    = errors.New("recording has too many frames")
	ErrUploadInProgress = errors.New("upload is already being processed")
	ErrSessionDiscarded = errors.New("session discarded before completion")
)
