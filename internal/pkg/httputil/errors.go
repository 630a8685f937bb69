package httputil

import (
	"context"
	"errors"
	"net/http"

	"github.com/bissquit/mention-relay/internal/pkg/ctxlog"
)

// ErrorMapping maps a sentinel error to a status. An empty Message falls back
// to err.Error().
type ErrorMapping struct {
	Error   error
	Status  int
	Message string
}

// HandleError writes the response of the first mapping err matches. Anything
// unmapped is logged and answered with a 500 without leaking the cause.
func HandleError(ctx context.Context, w http.ResponseWriter, err error, mappings []ErrorMapping) {
	for _, m := range mappings {
		if errors.Is(err, m.Error) {
			msg := m.Message
			if msg == "" {
				msg = err.Error()
			}
			ctxlog.FromContext(ctx).Debug("request rejected", "status", m.Status, "error", err)
			Error(w, m.Status, msg)
			return
		}
	}
	ctxlog.FromContext(ctx).Error("internal error", "error", err)
	Error(w, http.StatusInternalServerError, "internal error")
}
