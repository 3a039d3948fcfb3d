package response

import (
	"errors"
	"net/http"

	"github.com/cmlabs-hris/hris-selfservice-go/internal/domain/auth"
	"github.com/cmlabs-hris/hris-selfservice-go/internal/domain/request"
	"github.com/cmlabs-hris/hris-selfservice-go/internal/domain/session"
	"github.com/cmlabs-hris/hris-selfservice-go/internal/pkg/apiclient"
	"github.com/cmlabs-hris/hris-selfservice-go/internal/pkg/validator"
)

// HandleError maps domain and upstream errors to HTTP responses
func HandleError(w http.ResponseWriter, err error) {
	// Check if it's a validation error
	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) {
		ValidationError(w, validationErrs.ToMap())
		return
	}

	switch {
	// Session errors
	case errors.Is(err, apiclient.ErrSessionExpired):
		SessionExpired(w, apiclient.Message(err))
	case errors.Is(err, session.ErrNoSession):
		SessionExpired(w, "Please log in to continue.")

	// Auth domain errors
	case errors.Is(err, auth.ErrInvalidCredentials):
		Unauthorized(w, "Invalid email or password")
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrTokenRevoked):
		Unauthorized(w, err.Error())
	case errors.Is(err, apiclient.ErrUnauthorized):
		Unauthorized(w, apiclient.Message(err))

	// Request domain errors
	case errors.Is(err, request.ErrRequestNotFound), errors.Is(err, apiclient.ErrNotFound):
		NotFound(w, "Request not found")
	case errors.Is(err, request.ErrInvalidTransition):
		Conflict(w, "You cannot act on this request at its current stage")
	case errors.Is(err, request.ErrCannotCancel):
		Conflict(w, "Request can no longer be cancelled")
	case errors.Is(err, request.ErrInvalidAction):
		UnprocessableEntity(w, err.Error())
	case errors.Is(err, request.ErrUnknownRequestType):
		UnprocessableEntity(w, err.Error())

	// Upstream errors
	case errors.Is(err, apiclient.ErrServer), errors.Is(err, apiclient.ErrNetwork):
		BadGateway(w, apiclient.Message(err))
	case errors.Is(err, apiclient.ErrRequestFailed):
		UnprocessableEntity(w, apiclient.Message(err))

	// Default
	default:
		InternalServerError(w, "An unexpected error occurred")
	}
}
