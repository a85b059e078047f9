package handlers

import (
	"net/http"
	"runtime/debug"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"outsy/services/auth/internal/apperr"
)

// fail maps err to its status code and writes {"error": msg}. Internal
// detail only reaches the client outside production.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := apperr.Status(err)

	lg := hlog.FromRequest(r)
	if lg.GetLevel() == zerolog.Disabled {
		lg = &h.log
	}
	var ev *zerolog.Event
	if status >= http.StatusInternalServerError {
		ev = lg.Error().Str("stack", string(debug.Stack()))
	} else {
		ev = lg.Warn()
	}
	ev = ev.Err(err).
		Int("status", status).
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Str("req_id", middleware.GetReqID(r.Context()))
	if body := redactBody(capturedBody(r.Context())); body != nil {
		ev = ev.RawJSON("body", body)
	}
	ev.Msg("request failed")

	msg := apperr.Message(err)
	if status >= http.StatusInternalServerError && !h.production {
		msg = err.Error()
	}
	respondJSON(w, status, map[string]any{"error": msg})
}
