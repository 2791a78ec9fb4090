// Package response writes JSON and plain-text responses for the routes served
// directly by chi, outside huma: the WebSocket upgrade, middleware rejections
// and the router's fallbacks. Error bodies match the huma error model.
package response

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	domainerrors "github.com/barcodedrop/barcodedrop-server/internal/errors"
	"github.com/barcodedrop/barcodedrop-server/internal/store"
)

// ErrorBody is the JSON error shape shared with the huma routes.
type ErrorBody struct {
	Code    domainerrors.Code `json:"code"`
	Message string            `json:"message"`
	Details any               `json:"details,omitempty"`
}

// JSON writes data as a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, data any, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		if logger != nil {
			logger.Error("Failed to encode JSON response", "error", err)
		}
	}
}

// Text writes a plain-text response.
func Text(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

// NoContent writes a no content response (204 No Content).
func NoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// Error writes err as an ErrorBody.
// Domain and store errors keep their status, unknown errors become 500.
func Error(w http.ResponseWriter, err error, logger *slog.Logger) {
	status, body := Describe(err)
	if status >= http.StatusInternalServerError && logger != nil {
		logger.Error("Unhandled error", "error", err)
	}
	if status == http.StatusTooManyRequests {
		w.Header().Set("Retry-After", "1")
	}
	JSON(w, status, body, logger)
}

// Describe maps err to a status and error body.
func Describe(err error) (int, ErrorBody) {
	var domainErr *domainerrors.Error
	if errors.As(err, &domainErr) {
		return domainErr.HTTPStatus(), ErrorBody{
			Code:    domainErr.Code,
			Message: domainErr.Message,
			Details: domainErr.Details,
		}
	}

	var storeErr *store.Error
	if errors.As(err, &storeErr) {
		status := storeErr.HTTPCode()
		return status, ErrorBody{Code: domainerrors.CodeForStatus(status), Message: storeErr.Message}
	}

	return http.StatusInternalServerError, ErrorBody{
		Code:    domainerrors.CodeInternal,
		Message: "internal server error",
	}
}

// NotFound is a chi NotFound handler.
func NotFound(logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		Error(w, domainerrors.NotFoundf("no route for %s", r.URL.Path), logger)
	}
}

// MethodNotAllowed is a chi MethodNotAllowed handler.
func MethodNotAllowed(logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		JSON(w, http.StatusMethodNotAllowed, ErrorBody{
			Code:    domainerrors.CodeBadRequest,
			Message: r.Method + " is not allowed on " + r.URL.Path,
		}, logger)
	}
}
