// Package apierr provides the canonical API error envelope and HTTP status
// mapping. The envelope shape is part of the wire contract:
//
//	{"type":"error","error":{"type":"<taxonomy>","message":"..."}}
package apierr

import (
	"encoding/json"

	"github.com/valyala/fasthttp"
)

// Canonical error types.
const (
	TypeInvalidRequest = "invalid_request_error"
	TypeAuthentication = "authentication_error"
	TypePermission     = "permission_error"
	TypeNotFound       = "not_found_error"
	TypeRateLimit      = "rate_limit_error"
	TypeAPIError       = "api_error"
	TypeOverloaded     = "overloaded_error"
)

type (
	// APIError is the inner error object.
	APIError struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	}
	envelope struct {
		Type  string   `json:"type"`
		Error APIError `json:"error"`
	}
)

// StatusFor returns the HTTP status associated with a canonical error type.
func StatusFor(errType string) int {
	switch errType {
	case TypeInvalidRequest:
		return fasthttp.StatusBadRequest
	case TypeAuthentication:
		return fasthttp.StatusUnauthorized
	case TypePermission:
		return fasthttp.StatusForbidden
	case TypeNotFound:
		return fasthttp.StatusNotFound
	case TypeRateLimit:
		return fasthttp.StatusTooManyRequests
	case TypeOverloaded:
		return fasthttp.StatusServiceUnavailable
	default:
		return fasthttp.StatusInternalServerError
	}
}

// TypeForStatus maps an upstream HTTP status to a canonical error type.
// 529 is the overloaded status some bearer-token backends use.
func TypeForStatus(status int) string {
	switch status {
	case fasthttp.StatusBadRequest:
		return TypeInvalidRequest
	case fasthttp.StatusUnauthorized:
		return TypeAuthentication
	case fasthttp.StatusForbidden:
		return TypePermission
	case fasthttp.StatusNotFound:
		return TypeNotFound
	case fasthttp.StatusTooManyRequests:
		return TypeRateLimit
	case fasthttp.StatusServiceUnavailable, 529:
		return TypeOverloaded
	default:
		return TypeAPIError
	}
}

// Envelope returns the marshalled canonical error body.
func Envelope(errType, message string) []byte {
	body, _ := json.Marshal(envelope{
		Type:  "error",
		Error: APIError{Type: errType, Message: message},
	})
	return body
}

// Write writes the error envelope with the given status.
func Write(ctx *fasthttp.RequestCtx, status int, errType, message string) {
	ctx.SetStatusCode(status)
	ctx.SetContentType("application/json")
	ctx.SetBody(Envelope(errType, message))
}

// WriteType writes the error envelope with the status implied by errType.
func WriteType(ctx *fasthttp.RequestCtx, errType, message string) {
	Write(ctx, StatusFor(errType), errType, message)
}

// WriteRateLimit writes a 429 with a Retry-After hint.
func WriteRateLimit(ctx *fasthttp.RequestCtx) {
	ctx.Response.Header.Set("Retry-After", "60")
	WriteType(ctx, TypeRateLimit, "rate limit exceeded")
}
