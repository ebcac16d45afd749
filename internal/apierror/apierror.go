// Package apierror writes the proxy's JSON error bodies. Proxy-level
// rejections (unknown route, oversized body, rate limit, panics) carry a
// stable error code; route failures carry the route's fixed message.
package apierror

import (
	"encoding/json"
	"net/http"
)

// ErrorCode is a machine-readable error classification string.
type ErrorCode string

// Proxy error codes. Clients may program against these; do not rename.
const (
	RouteNotFound     ErrorCode = "PROXY_ROUTE_NOT_FOUND"
	MethodNotAllowed  ErrorCode = "PROXY_METHOD_NOT_ALLOWED"
	InvalidBody       ErrorCode = "PROXY_INVALID_BODY"
	BodyTooLarge      ErrorCode = "PROXY_BODY_TOO_LARGE"
	RateLimitExceeded ErrorCode = "PROXY_RATE_LIMIT_EXCEEDED"
	Forbidden         ErrorCode = "PROXY_FORBIDDEN"
	InternalError     ErrorCode = "PROXY_INTERNAL_ERROR"
)

// ErrorResponse is the body of a proxy-level rejection.
type ErrorResponse struct {
	Error     string `json:"error"`
	ErrorCode string `json:"error_code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

// Failure is the body of a failed forwarded route.
type Failure struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
}

// Pre-serialized bodies for the hot rejection paths, without request_id.
var (
	preRouteNotFound     = mustMarshal(http.StatusNotFound, RouteNotFound, "no matching route")
	preRateLimitExceeded = mustMarshal(http.StatusTooManyRequests, RateLimitExceeded, "rate limit exceeded, retry later")
)

func mustMarshal(status int, code ErrorCode, message string) []byte {
	b, _ := json.Marshal(ErrorResponse{
		Error:     http.StatusText(status),
		ErrorCode: string(code),
		Message:   message,
	})
	return append(b, '\n')
}

// WriteJSON writes a proxy-level error. The request ID is taken from the
// X-Request-ID request header when r is non-nil.
func WriteJSON(w http.ResponseWriter, r *http.Request, status int, code ErrorCode, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	requestID := ""
	if r != nil {
		requestID = r.Header.Get("X-Request-ID")
	}

	if requestID == "" {
		if body := preSerialized(status, code, message); body != nil {
			w.Write(body) //nolint:errcheck
			return
		}
	}

	json.NewEncoder(w).Encode(ErrorResponse{
		Error:     http.StatusText(status),
		ErrorCode: string(code),
		Message:   message,
		RequestID: requestID,
	})
}

func preSerialized(status int, code ErrorCode, message string) []byte {
	switch {
	case code == RouteNotFound && status == http.StatusNotFound && message == "no matching route":
		return preRouteNotFound
	case code == RateLimitExceeded && status == http.StatusTooManyRequests && message == "rate limit exceeded, retry later":
		return preRateLimitExceeded
	}
	return nil
}

// WriteFailure writes the 500 reply of a failed route:
// {"status":500,"message":"<message>"}.
func WriteFailure(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusInternalServerError)
	json.NewEncoder(w).Encode(Failure{ //nolint:errcheck
		Status:  http.StatusInternalServerError,
		Message: message,
	})
}
