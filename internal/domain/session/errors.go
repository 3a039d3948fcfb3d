package session

import "errors"

var (
	ErrNoSession      = errors.New("no active session")
	ErrCorruptSession = errors.New("stored session is unreadable")
	ErrInvalidSealKey = errors.New("seal key must be 32 bytes")
)
