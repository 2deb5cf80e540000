package webserver

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/nantokaworks/choice-wheel/internal/coordinator"
	"github.com/nantokaworks/choice-wheel/internal/docstore"
	"github.com/nantokaworks/choice-wheel/internal/localdb"
	"github.com/nantokaworks/choice-wheel/internal/shared/logger"
	"github.com/nantokaworks/choice-wheel/internal/spin"
	"github.com/nantokaworks/choice-wheel/internal/types"
	"go.uber.org/zap"
)

const maxBodyBytes = 1 << 20

// Error codes returned in the "code" field of error responses.
const (
	CodeBadRequest        = "bad_request"
	CodeUnauthorized      = "unauthorized"
	CodePermissionDenied  = "permission_denied"
	CodeNotFound          = "not_found"
	CodeConflict          = "conflict"
	CodeAlreadySpinning   = "already_spinning"
	CodeEmptyWheel        = "empty_wheel"
	CodeUnknownWinner     = "unknown_winner"
	CodeInvalidSlices     = "invalid_slices"
	CodeInvalidTransition = "invalid_transition"
	CodeInternal          = "internal"
)

// apiError is a request error with a fixed status.
type apiError struct {
	message string
	status  int
	code    string
}

func (e *apiError) Error() string {
	return e.message
}

var (
	errUnauthorized      = &apiError{message: "Sign-in required", status: http.StatusUnauthorized, code: CodeUnauthorized}
	errInvalidToken      = &apiError{message: "Invalid token", status: http.StatusUnauthorized, code: CodeUnauthorized}
	errInvalidBody       = &apiError{message: "Invalid request body", status: http.StatusBadRequest, code: CodeBadRequest}
	errInvalidVisibility = &apiError{message: "Invalid visibility", status: http.StatusBadRequest, code: CodeBadRequest}
)

func badRequest(message string) *apiError {
	return &apiError{message: message, status: http.StatusBadRequest, code: CodeBadRequest}
}

// statusFor maps domain errors to an HTTP status and error code.
func statusFor(err error) (int, string) {
	var apiErr *apiError
	switch {
	case errors.As(err, &apiErr):
		return apiErr.status, apiErr.code
	case errors.Is(err, spin.ErrEmptyWheel):
		return http.StatusBadRequest, CodeEmptyWheel
	case errors.Is(err, spin.ErrUnknownWinner):
		return http.StatusBadRequest, CodeUnknownWinner
	case errors.Is(err, types.ErrTooManySlices), errors.Is(err, types.ErrNoSlices):
		return http.StatusBadRequest, CodeInvalidSlices
	case errors.Is(err, coordinator.ErrInvalidTransition):
		return http.StatusBadRequest, CodeInvalidTransition
	case errors.Is(err, coordinator.ErrAlreadySpinning):
		return http.StatusConflict, CodeAlreadySpinning
	case errors.Is(err, docstore.ErrConflict):
		return http.StatusConflict, CodeConflict
	case errors.Is(err, coordinator.ErrPermissionDenied):
		return http.StatusForbidden, CodePermissionDenied
	case errors.Is(err, docstore.ErrNotFound):
		return http.StatusNotFound, CodeNotFound
	case errors.Is(err, localdb.ErrUserNotFound):
		return http.StatusUnauthorized, CodeUnauthorized
	}
	return http.StatusInternalServerError, CodeInternal
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("Failed to encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		logger.Error("Request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err))
		message = "Internal server error"
	}
	writeJSON(w, status, map[string]interface{}{
		"success": false,
		"error":   message,
		"code":    code,
	})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return errInvalidBody
	}
	return nil
}
