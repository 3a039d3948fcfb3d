package request

import "errors"

var (
	ErrInvalidTransition  = errors.New("no stage is actionable for this viewer")
	ErrInvalidAction      = errors.New("action must be approve or reject")
	ErrCannotCancel       = errors.New("request can no longer be cancelled")
	ErrUnknownRequestType = errors.New("unknown request type")
	ErrRequestNotFound    = errors.New("request not found")
)
