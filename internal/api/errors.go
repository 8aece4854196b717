package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/nerrad567/gray-logic-identity/internal/auth"
	"github.com/nerrad567/gray-logic-identity/internal/clientsettings"
	"github.com/nerrad567/gray-logic-identity/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-identity/internal/session"
	"github.com/nerrad567/gray-logic-identity/internal/verification"
)

// Error represents a structured error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Common error codes.
const (
	ErrCodeBadRequest      = "bad_request"
	ErrCodeNotFound        = "not_found"
	ErrCodeUnauthorized    = "unauthorised"
	ErrCodeForbidden       = "forbidden"
	ErrCodeConflict        = "conflict"
	ErrCodeInternal        = "internal_error"
	ErrCodeValidation      = "validation_error"
	ErrCodeRateLimited     = "rate_limited"
	ErrCodeTokenExpired    = "token_expired"
	ErrCodeTokenRevoked    = "token_revoked"
	ErrCodeVersionConflict = "version_conflict"
)

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{
		Status:  status,
		Code:    code,
		Message: message,
	})
}

func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

func writeValidation(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeValidation, message)
}

func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

func writeUnauthorized(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

func writeForbidden(w http.ResponseWriter) {
	writeError(w, http.StatusForbidden, ErrCodeForbidden, "forbidden")
}

func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

func writeRateLimited(w http.ResponseWriter, retryAfterSeconds int, message string) {
	if retryAfterSeconds < 1 {
		retryAfterSeconds = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds))
	writeError(w, http.StatusTooManyRequests, ErrCodeRateLimited, message)
}

// writeServiceError maps a service error onto the HTTP taxonomy. Anything
// unrecognised is logged and reported as a bare 500.
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var rl *verification.RateLimitError
	var pv *auth.PolicyViolation

	switch {
	case errors.As(err, &rl):
		writeRateLimited(w, int(rl.RetryAfter.Seconds()), rl.Error())

	case errors.As(err, &pv):
		writeValidation(w, pv.Message)
	case errors.Is(err, auth.ErrDecryption):
		writeValidation(w, "password could not be decrypted")
	case errors.Is(err, verification.ErrCodeNotFound),
		errors.Is(err, verification.ErrCodeExpired),
		errors.Is(err, verification.ErrTooManyAttempts),
		errors.Is(err, verification.ErrCodeMismatch),
		errors.Is(err, verification.ErrInvalidEmail),
		errors.Is(err, verification.ErrUnsupportedReason),
		errors.Is(err, auth.ErrUnknownPermission),
		errors.Is(err, session.ErrInvalidOnlineTime),
		errors.Is(err, clientsettings.ErrInvalidPatch):
		writeValidation(w, err.Error())
	case errors.Is(err, session.ErrSessionEnded):
		writeBadRequest(w, "session already ended")

	case errors.Is(err, auth.ErrTokenExpired):
		writeError(w, http.StatusUnauthorized, ErrCodeTokenExpired, "token expired")
	case errors.Is(err, auth.ErrTokenInvalid):
		writeUnauthorized(w, "invalid token")
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeUnauthorized(w, "invalid email or password")

	case errors.Is(err, auth.ErrEmailNotVerified):
		writeError(w, http.StatusForbidden, ErrCodeForbidden, "email not verified")
	case errors.Is(err, auth.ErrClientLoginDisabled),
		errors.Is(err, auth.ErrForbidden):
		writeForbidden(w)
	case errors.Is(err, auth.ErrRoleProtected):
		writeError(w, http.StatusForbidden, ErrCodeForbidden, "role is protected")
	case errors.Is(err, auth.ErrPermissionProtected):
		writeError(w, http.StatusForbidden, ErrCodeForbidden, "permission is protected")

	case errors.Is(err, session.ErrSessionNotFound):
		writeNotFound(w, "session not found")
	case errors.Is(err, auth.ErrUserNotFound):
		writeNotFound(w, "user not found")
	case errors.Is(err, auth.ErrRoleNotFound):
		writeNotFound(w, "role not found")
	case errors.Is(err, auth.ErrPermissionNotFound):
		writeNotFound(w, "permission not found")

	case errors.Is(err, auth.ErrTokenRevoked):
		writeError(w, http.StatusConflict, ErrCodeTokenRevoked, "token has been revoked")
	case errors.Is(err, clientsettings.ErrVersionConflict):
		writeError(w, http.StatusConflict, ErrCodeVersionConflict, "settings were changed by another client")
	case errors.Is(err, auth.ErrEmailExists):
		writeError(w, http.StatusConflict, ErrCodeConflict, "email already registered")
	case errors.Is(err, auth.ErrUsernameExists):
		writeError(w, http.StatusConflict, ErrCodeConflict, "username already taken")
	case errors.Is(err, auth.ErrRoleExists):
		writeError(w, http.StatusConflict, ErrCodeConflict, "role already exists")
	case errors.Is(err, auth.ErrPermissionExists):
		writeError(w, http.StatusConflict, ErrCodeConflict, "permission already exists")

	default:
		logging.FromContext(r.Context(), s.logger).Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"error", err,
		)
		writeInternalError(w, "internal server error")
	}
}
