// Package httputil holds the JSON request and response helpers shared by the
// HTTP layer.
package httputil

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	apperrors "github.com/nightstudio/paywall/internal/errors"
	"github.com/nightstudio/paywall/internal/logging"
)

// maxJSONBody bounds request bodies decoded by DecodeJSON.
const maxJSONBody = 1 << 20

// ErrorResponse is the error envelope returned to clients.
type ErrorResponse struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	TraceID string         `json:"trace_id,omitempty"`
}

// WriteJSON writes data with the given status.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// WriteErrorResponse writes the error envelope.
func WriteErrorResponse(w http.ResponseWriter, r *http.Request, status int, code, message string, details map[string]any) {
	resp := ErrorResponse{Code: code, Message: message, Details: details}
	if r != nil {
		resp.TraceID = logging.GetTraceID(r.Context())
	}
	WriteJSON(w, status, resp)
}

// WriteError renders err. Service errors keep their code and status; anything
// else becomes an opaque internal error.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	svcErr := apperrors.GetServiceError(err)
	if svcErr == nil {
		svcErr = apperrors.Internal("", err)
	}
	WriteErrorResponse(w, r, apperrors.HTTPStatus(svcErr), string(svcErr.Code), svcErr.Message, svcErr.Details)
}

// Unauthorized writes a 401 envelope.
func Unauthorized(w http.ResponseWriter, r *http.Request, message string) {
	WriteError(w, r, apperrors.Unauthorized(message))
}

// DecodeJSON decodes a bounded JSON body into dst, rejecting unknown fields.
func DecodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	body := http.MaxBytesReader(w, r.Body, maxJSONBody)
	defer body.Close()

	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxErr):
			return apperrors.Validation("request body too large")
		case errors.Is(err, io.EOF):
			return apperrors.Validation("request body required")
		default:
			return apperrors.Validation(fmt.Sprintf("invalid request body: %v", err))
		}
	}
	return nil
}
