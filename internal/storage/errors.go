package storage

import "errors"

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrInvalidData     = errors.New("invalid data")
	ErrInvalidID       = errors.New("invalid session id")
	ErrStorageInit     = errors.New("storage initialization failed")
	ErrFileOperation   = errors.New("file operation failed")
)
