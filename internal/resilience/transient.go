package resilience

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/aws/smithy-go"
	"github.com/openai/openai-go"
)

// ErrTransient marks an error as worth retrying regardless of its message.
var ErrTransient = errors.New("transient failure")

// MarkTransient wraps err so that [IsTransient] reports true for it.
func MarkTransient(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrTransient, err)
}

// transientMarkers are lower-case substrings that identify retryable failures
// in provider error messages.
var transientMarkers = []string{
	"rate limit",
	"ratelimit",
	"too many requests",
	"429",
	"service unavailable",
	"503",
	"timeout",
	"timed out",
	"deadline",
	"network",
	"connection",
	"econnreset",
	"econnrefused",
}

// transientAPICodes are AWS error codes that signal throttling.
var transientAPICodes = map[string]bool{
	"TooManyRequestsException": true,
	"ThrottlingException":      true,
	"ServiceUnavailable":       true,
}

// IsTransient reports whether err is a rate limit, a temporary service
// outage, a timeout, or a network failure. Context cancellation is never
// transient; an expired deadline is.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, ErrTransient) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && transientAPICodes[apiErr.ErrorCode()] {
		return true
	}

	var oaiErr *openai.Error
	if errors.As(err, &oaiErr) {
		return transientStatus(oaiErr.StatusCode)
	}

	var status interface{ HTTPStatusCode() int }
	if errors.As(err, &status) && transientStatus(status.HTTPStatusCode()) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, m := range transientMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

// transientStatus reports whether an HTTP status is worth retrying.
func transientStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}
