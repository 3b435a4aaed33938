package httpapi

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	apperrors "github.com/nightstudio/paywall/internal/errors"
	"github.com/nightstudio/paywall/internal/httputil"
	"github.com/nightstudio/paywall/internal/middleware"
)

func writeJSON(w http.ResponseWriter, status int, data any) {
	httputil.WriteJSON(w, status, data)
}

// writeError renders err and logs server-side failures with their cause.
func (h *handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	if status := apperrors.HTTPStatus(err); status >= http.StatusInternalServerError {
		h.log.WithContext(r.Context()).WithError(err).Error("request failed")
	}
	httputil.WriteError(w, r, err)
}

func (h *handler) notFound(w http.ResponseWriter, r *http.Request) {
	httputil.WriteError(w, r, apperrors.NotFound("route", r.URL.Path))
}

func (h *handler) methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	httputil.WriteErrorResponse(w, r, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed", nil)
}

func viewerID(r *http.Request) string {
	return middleware.GetUserID(r.Context())
}

func pathVar(r *http.Request, name string) string {
	return mux.Vars(r)[name]
}

// queryInt parses an optional non-negative integer query parameter.
func queryInt(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, apperrors.Validation(name + " must be a non-negative integer")
	}
	return n, nil
}
