package service

import (
	"errors"

	"github.com/wricardo/mcp-training/chesslive/game/engine"
	"github.com/wricardo/mcp-training/chesslive/game/payment"
	"github.com/wricardo/mcp-training/chesslive/game/session"
)

var ErrInvalidRequest = errors.New("invalid request")

// Error codes sent to clients.
const (
	CodeSessionNotFound   = "session_not_found"
	CodeEngineTimeout     = "engine_timeout"
	CodeEngineUnavailable = "engine_unavailable"
	CodeGatewayRejected   = "gateway_rejected"
	CodeInvalidRequest    = "invalid_request"
	CodeRateLimited       = "rate_limited"
	CodeInternal          = "internal"
)

// ErrorCode classifies err into one of the client-facing codes.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, session.ErrSessionNotFound):
		return CodeSessionNotFound
	case errors.Is(err, engine.ErrEngineTimeout):
		return CodeEngineTimeout
	case errors.Is(err, engine.ErrEngineUnavailable):
		return CodeEngineUnavailable
	case errors.Is(err, payment.ErrGatewayRejected):
		return CodeGatewayRejected
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, session.ErrInvalidSessionID),
		errors.Is(err, engine.ErrInvalidPosition),
		errors.Is(err, payment.ErrInvalidCharge):
		return CodeInvalidRequest
	default:
		return CodeInternal
	}
}

// NewErrorPayload builds the client-facing description of err.
func NewErrorPayload(err error) ErrorPayload {
	return ErrorPayload{Code: ErrorCode(err), Message: err.Error()}
}
