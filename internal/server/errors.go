package server

import "errors"

// Server-specific errors
var (
	ErrServerAlreadyRunning = errors.New("server is already running")
	ErrGrinderNotFound      = errors.New("grinder not found")
	ErrSegmentNotFound      = errors.New("segment not found")
	ErrUnknownAction        = errors.New("unknown action")
	ErrCommandQueueFull     = errors.New("command queue is full")
	ErrNoTrack              = errors.New("no track loaded")
	ErrUnauthorized         = errors.New("unauthorized")
)
