package apiclient

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	ErrSessionExpired = errors.New("session expired")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrNotFound       = errors.New("resource not found")
	ErrServer         = errors.New("server error")
	ErrRequestFailed  = errors.New("request failed")
	ErrNetwork        = errors.New("server unreachable")
)

// APIError describes a failed upstream call. It matches its Kind and its
// Cause with errors.Is.
type APIError struct {
	Kind       error
	StatusCode int
	Method     string
	Path       string
	Body       []byte
	Cause      error
}

func (e *APIError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s: %v", e.Method, e.Path, e.Kind)
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (status %d)", e.StatusCode)
	}
	if msg := e.ServerMessage(); msg != "" {
		fmt.Fprintf(&b, ": %s", msg)
	} else if e.Cause != nil && e.StatusCode == 0 {
		fmt.Fprintf(&b, ": %v", e.Cause)
	}
	return b.String()
}

func (e *APIError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Cause != nil {
		errs = append(errs, e.Cause)
	}
	return errs
}

// ServerMessage extracts a "message" or "error" string from a JSON body.
func (e *APIError) ServerMessage() string {
	if len(e.Body) == 0 {
		return ""
	}
	var body struct {
		Message string          `json:"message"`
		Error   json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(e.Body, &body); err != nil {
		return ""
	}
	if body.Message != "" {
		return body.Message
	}
	var s string
	if err := json.Unmarshal(body.Error, &s); err == nil {
		return s
	}
	return ""
}

func classify(status int) error {
	switch {
	case status == http.StatusUnauthorized:
		return ErrUnauthorized
	case status == http.StatusNotFound:
		return ErrNotFound
	case status >= 500:
		return ErrServer
	default:
		return ErrRequestFailed
	}
}

// Message returns the user-facing text for err's category.
func Message(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrSessionExpired):
		return "Your session has expired. Please log in again."
	case errors.Is(err, ErrUnauthorized):
		return "You are not authorized to do that. Please log in again."
	case errors.Is(err, ErrNotFound):
		return "The requested resource was not found."
	case errors.Is(err, ErrServer):
		return "Something went wrong on the server. Please try again later."
	case errors.Is(err, ErrNetwork):
		return "Unable to reach the server. Check your connection and try again."
	case errors.Is(err, ErrRequestFailed):
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			if msg := apiErr.ServerMessage(); msg != "" {
				return msg
			}
		}
		return "The request could not be completed."
	default:
		return "An unexpected error occurred."
	}
}
