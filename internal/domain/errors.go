package domain

import "errors"

var (
	ErrNotFound              = errors.New("not found")
	ErrInvalidInput          = errors.New("invalid input")
	ErrTaskRunning           = errors.New("task is running")
	ErrInvalidTransition     = errors.New("invalid status transition")
	ErrNoTaskAvailable       = errors.New("no task available")
	ErrUnsupportedOwner      = errors.New("unsupported owner type")
	ErrProviderNotConfigured = errors.New("provider not configured")
	ErrProviderFailure       = errors.New("provider failure")
)
