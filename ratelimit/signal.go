// Package ratelimit contains the sole retry policy of the subsystem: rate
// limit detection and bounded backoff for outbound platform calls. Generic
// transient failures are deliberately not retried here.
package ratelimit

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	headerRemaining = "x-ratelimit-remaining"
	headerReset     = "x-ratelimit-reset"
	headerLimit     = "x-ratelimit-limit"
)

// RateLimitError is the throttle signal: the platform answers 403 with a
// zero remaining-call budget and an absolute reset timestamp.
type RateLimitError struct {
	StatusCode int
	Remaining  int
	ResetAt    time.Time
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf(
		"ratelimit: rate limit exhausted, resets at %s",
		e.ResetAt.UTC().Format(time.RFC3339),
	)
}

// SignalFromResponse inspects a platform response for the rate-limit signal.
// Only the exact combination of status 403, remaining 0, and a parseable
// reset timestamp qualifies; anything else is not a throttle.
func SignalFromResponse(statusCode int, headers map[string]string) (*RateLimitError, bool) {
	if statusCode != http.StatusForbidden {
		return nil, false
	}
	remaining, ok := parseHeaderInt(headers, headerRemaining)
	if !ok || remaining != 0 {
		return nil, false
	}
	resetAt, ok := parseHeaderEpoch(headers, headerReset)
	if !ok {
		return nil, false
	}
	return &RateLimitError{
		StatusCode: statusCode,
		Remaining:  remaining,
		ResetAt:    resetAt,
	}, true
}

func parseHeaderInt(headers map[string]string, key string) (int, bool) {
	value := headerValue(headers, key)
	if value == "" {
		return 0, false
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, false
	}
	return parsed, true
}

func parseHeaderEpoch(headers map[string]string, key string) (time.Time, bool) {
	value := headerValue(headers, key)
	if value == "" {
		return time.Time{}, false
	}
	unix, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	if unix <= 0 {
		return time.Time{}, false
	}
	return time.Unix(unix, 0).UTC(), true
}

func headerValue(headers map[string]string, key string) string {
	if len(headers) == 0 {
		return ""
	}
	for existing, value := range headers {
		if strings.EqualFold(strings.TrimSpace(existing), strings.TrimSpace(key)) {
			return strings.TrimSpace(value)
		}
	}
	return ""
}
