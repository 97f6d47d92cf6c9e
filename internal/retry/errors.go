package retry

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Failure kinds reported by upstream capabilities. Wrap one of these to let
// the engine classify an error.
var (
	ErrTransient   = errors.New("transient upstream error")
	ErrRateLimited = errors.New("upstream rate limited")
	ErrPermanent   = errors.New("permanent upstream error")
)

// rateLimitMarkers are matched against error text for backends that only
// signal quota exhaustion in their message body. A status code only counts
// next to a status word, never as a bare number.
var rateLimitMarkers = []string{
	"rate limit",
	"quota",
	"too many requests",
	"status 429",
	"http 429",
	"code 429",
	"error 429",
	"throttled",
	"resource_exhausted",
	"quota_exceeded",
	"rate_limited",
}

// IsRateLimited reports whether err is a rate or quota signal.
func IsRateLimited(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrRateLimited) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, m := range rateLimitMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

// IsPermanent reports whether retrying err cannot help.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrPermanent)
}

// StatusError wraps an HTTP failure in the matching failure kind.
func StatusError(op string, status int, body string) error {
	return fmt.Errorf("%w: %s: status %d: %s", KindForStatus(status), op, status, body)
}

// KindForStatus maps an HTTP status code to a failure kind.
func KindForStatus(status int) error {
	switch {
	case status == http.StatusTooManyRequests:
		return ErrRateLimited
	case status == http.StatusRequestTimeout, status >= 500:
		return ErrTransient
	case status >= 400:
		return ErrPermanent
	}
	return ErrTransient
}
