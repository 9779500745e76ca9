package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	gateway "github.com/eugener/smaug/internal"
	"github.com/eugener/smaug/internal/provider"
)

// apiError is the wire error body: { code, message, request_id, details? }.
type apiError struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	RequestID string         `json:"request_id,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// jsonCT is a pre-allocated header value slice. Direct map assignment
// (w.Header()["Content-Type"] = jsonCT) avoids the []string{v} alloc
// that Header.Set would create per response.
var jsonCT = []string{"application/json"}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header()["Content-Type"] = jsonCT
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

// writeError translates a domain error into the taxonomy body. Client-class
// errors carry the underlying message; server-class errors get a generic one
// unless debug is on.
func (s *server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := errorStatus(err)
	body := apiError{
		Code:      code,
		RequestID: gateway.RequestIDFromContext(r.Context()),
	}

	if status < http.StatusInternalServerError {
		body.Message = err.Error()
	} else {
		switch code {
		case gateway.CodeLLMError:
			body.Message = "llm provider error"
		case gateway.CodeLLMTimeout:
			body.Message = "llm provider timed out"
		default:
			body.Message = "internal server error"
		}
		slog.LogAttrs(r.Context(), slog.LevelError, "request failed",
			slog.String("code", code),
			slog.String("path", r.URL.Path),
			slog.Any("error", err),
		)
		if s.deps.Debug {
			body.Details = map[string]any{"error": err.Error()}
		}
	}
	writeJSON(w, status, body)
}

// errorStatus maps a domain error to (HTTP status, taxonomy code). Provider
// auth failures deliberately surface as LLM_ERROR 500, never 401: they mean
// the operator misconfigured credentials, not the caller.
func errorStatus(err error) (int, string) {
	var pe *provider.Error
	if errors.As(err, &pe) {
		if pe.Kind == provider.KindTimeout {
			return http.StatusGatewayTimeout, gateway.CodeLLMTimeout
		}
		return http.StatusInternalServerError, gateway.CodeLLMError
	}

	switch {
	case errors.Is(err, gateway.ErrValidation):
		return http.StatusBadRequest, gateway.CodeValidation
	case errors.Is(err, gateway.ErrUnauthorized):
		return http.StatusUnauthorized, gateway.CodeUnauthorized
	case errors.Is(err, gateway.ErrInsufficientTokens):
		return http.StatusPaymentRequired, gateway.CodeInsufficientTokens
	case errors.Is(err, gateway.ErrForbidden):
		return http.StatusForbidden, gateway.CodeForbidden
	case errors.Is(err, gateway.ErrNotFound):
		return http.StatusNotFound, gateway.CodeNotFound
	case errors.Is(err, gateway.ErrRateLimited):
		return http.StatusTooManyRequests, gateway.CodeRateLimited
	default:
		return http.StatusInternalServerError, gateway.CodeInternal
	}
}
