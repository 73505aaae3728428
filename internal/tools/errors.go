package tools

import (
	"context"
	"errors"

	"github.com/haasonsaas/elisa/internal/domain"
	"github.com/haasonsaas/elisa/pkg/models"
)

var (
	// ErrInvalidArgs marks malformed tool arguments.
	ErrInvalidArgs = errors.New("invalid tool arguments")
	// ErrUnknownTool is reported for calls to unregistered tools.
	ErrUnknownTool = errors.New("unknown tool")
)

const genericFailure = "the operation could not be completed"

// classify maps an error raised by a tool to a failure kind and the message
// that is safe to show to the model and the user.
func classify(err error) (models.ErrorKind, string) {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return models.KindTimeout, "the operation took too long"
	case errors.Is(err, ErrInvalidArgs), errors.Is(err, ErrUnknownTool):
		return models.KindValidation, err.Error()
	case errors.Is(err, domain.ErrValidation), errors.Is(err, domain.ErrConflict):
		return models.KindValidation, domain.Message(err)
	case errors.Is(err, domain.ErrNotFound):
		return models.KindNotFound, domain.Message(err)
	case errors.Is(err, domain.ErrForbidden):
		return models.KindAuthorization, domain.Message(err)
	default:
		return models.KindExecution, genericFailure
	}
}
