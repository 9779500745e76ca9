package gateway

import "errors"

// Sentinel errors for the gateway domain.
var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
	ErrNotFound           = errors.New("not found")
	ErrValidation         = errors.New("validation error")
	ErrInsufficientTokens = errors.New("insufficient tokens")
	ErrRateLimited        = errors.New("rate limited")
)

// Wire error codes from the API taxonomy.
const (
	CodeValidation         = "VALIDATION_ERROR"
	CodeUnauthorized       = "UNAUTHORIZED"
	CodeInsufficientTokens = "INSUFFICIENT_TOKENS"
	CodeForbidden          = "FORBIDDEN"
	CodeNotFound           = "NOT_FOUND"
	CodeRateLimited        = "RATE_LIMIT_EXCEEDED"
	CodeLLMError           = "LLM_ERROR"
	CodeLLMTimeout         = "LLM_TIMEOUT"
	CodeInternal           = "INTERNAL_ERROR"
)
