package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/MrEthical07/mindgate"
	"github.com/MrEthical07/mindgate/authclient"
	"github.com/MrEthical07/mindgate/authflow"
	"github.com/MrEthical07/mindgate/catalog"
)

// Error is the JSON error envelope.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes.
const (
	ErrCodeBadRequest         = "bad_request"
	ErrCodeNotFound           = "not_found"
	ErrCodeUnauthorized       = "unauthorized"
	ErrCodeInvalidCredentials = "invalid_credentials"
	ErrCodeUnverified         = "account_unverified"
	ErrCodeAccountExists      = "account_exists"
	ErrCodeValidation         = "validation_error"
	ErrCodeRateLimited        = "rate_limited"
	ErrCodeSessionExpired     = "session_expired"
	ErrCodeInvalidCode        = "invalid_code"
	ErrCodeUnavailable        = "unavailable"
	ErrCodeTimeout            = "timeout"
	ErrCodeInternal           = "internal_error"
)

// httpMappings maps domain errors to responses. First match wins.
var httpMappings = []struct {
	err    error
	status int
	code   string
}{
	// Credentials
	{mindgate.ErrInvalidCredentials, http.StatusUnauthorized, ErrCodeInvalidCredentials},
	{mindgate.ErrAccountUnverified, http.StatusForbidden, ErrCodeUnverified},
	{mindgate.ErrAccountExists, http.StatusConflict, ErrCodeAccountExists},
	{mindgate.ErrPasswordPolicy, http.StatusUnprocessableEntity, ErrCodeValidation},
	{mindgate.ErrInvalidEmail, http.StatusUnprocessableEntity, ErrCodeValidation},
	{mindgate.ErrVerificationInvalid, http.StatusBadRequest, ErrCodeInvalidCode},

	// Throttles
	{mindgate.ErrSignInRateLimited, http.StatusTooManyRequests, ErrCodeRateLimited},
	{mindgate.ErrSignUpRateLimited, http.StatusTooManyRequests, ErrCodeRateLimited},
	{mindgate.ErrRefreshRateLimited, http.StatusTooManyRequests, ErrCodeRateLimited},

	// Session
	{mindgate.ErrUnauthorized, http.StatusUnauthorized, ErrCodeUnauthorized},
	{mindgate.ErrSessionNotFound, http.StatusUnauthorized, ErrCodeSessionExpired},
	{mindgate.ErrRefreshInvalid, http.StatusUnauthorized, ErrCodeSessionExpired},
	{mindgate.ErrRefreshReuse, http.StatusUnauthorized, ErrCodeSessionExpired},

	// Catalogue
	{catalog.ErrInvalidTrackType, http.StatusBadRequest, ErrCodeBadRequest},
	{catalog.ErrInvalidTrackID, http.StatusBadRequest, ErrCodeBadRequest},
	{catalog.ErrTrackNotFound, http.StatusNotFound, ErrCodeNotFound},

	// Availability
	{mindgate.ErrBackendUnavailable, http.StatusServiceUnavailable, ErrCodeUnavailable},
	{mindgate.ErrEngineNotReady, http.StatusServiceUnavailable, ErrCodeUnavailable},
	{authclient.ErrClosed, http.StatusServiceUnavailable, ErrCodeUnavailable},
	{errTooManyDevices, http.StatusServiceUnavailable, ErrCodeUnavailable},
	{context.DeadlineExceeded, http.StatusGatewayTimeout, ErrCodeTimeout},
}

// toHTTP returns the status and code for err. Unknown errors are 500.
func toHTTP(err error) (int, string) {
	for _, m := range httpMappings {
		if errors.Is(err, m.err) {
			return m.status, m.code
		}
	}
	return http.StatusInternalServerError, ErrCodeInternal
}

// messageFor is the client-facing text. Flow errors carry their own; other
// errors never leak details.
func messageFor(err error, status int) string {
	var ae *authflow.AuthError
	if errors.As(err, &ae) {
		return ae.UserMessage()
	}
	switch {
	case errors.Is(err, catalog.ErrInvalidTrackType):
		return "unknown track type"
	case errors.Is(err, catalog.ErrInvalidTrackID):
		return "invalid track id"
	}
	return http.StatusText(status)
}

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{Status: status, Code: code, Message: message})
}

// writeErr maps err through httpMappings.
func writeErr(w http.ResponseWriter, err error) {
	status, code := toHTTP(err)
	writeError(w, status, code, messageFor(err, status))
}

func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}
