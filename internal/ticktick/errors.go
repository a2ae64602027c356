package ticktick

import (
	"errors"
	"fmt"
	"time"
)

// AuthError means the bearer token was rejected (invalid or revoked).
// It is user-actionable and never retried automatically; the caller should
// surface a re-authorization prompt.
type AuthError struct {
	Message string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("ticktick: authentication failed: %s", e.Message)
}

// RateLimitError means the API answered 429. RetryAfter is zero when the
// response carried no Retry-After header.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("ticktick: rate limit exceeded, retry after %s", e.RetryAfter)
	}
	return "ticktick: rate limit exceeded"
}

// APIError covers every other request failure: 4xx/5xx responses and
// transport errors. StatusCode is zero for transport failures.
type APIError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("ticktick: request failed: %v", e.Err)
	}
	return fmt.Sprintf("ticktick: API error %d: %s", e.StatusCode, e.Body)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// Temporary reports whether the failure is transient: server errors and
// transport failures are worth retrying on the next poll tick, client
// errors are not.
func (e *APIError) Temporary() bool {
	return e.StatusCode == 0 || e.StatusCode >= 500
}

// IsAuth reports whether err is an authentication failure.
func IsAuth(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}

// IsRateLimit reports whether err is a rate-limit response, returning the
// server-suggested delay when one was given.
func IsRateLimit(err error) (time.Duration, bool) {
	var re *RateLimitError
	if errors.As(err, &re) {
		return re.RetryAfter, true
	}
	return 0, false
}
