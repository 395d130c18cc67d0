// Package ratelimit shares LingQ throttle state between exporter processes.
// When one process is answered with 429 it announces a cooldown in Redis;
// every other process using the same account waits it out before its next
// request instead of stampeding the API.
package ratelimit

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// RedisKeyPrefix namespaces the per-account throttle state.
const RedisKeyPrefix = "lingq:rate_limit"

// StateKey returns the Redis key holding the throttle state of an account.
func StateKey(account string) string {
	if account == "" {
		account = "default"
	}
	return fmt.Sprintf("%s:%s:state", RedisKeyPrefix, account)
}

// ThrottleState is the throttle state of one account as stored in Redis.
type ThrottleState struct {
	// CooldownUntil is the earliest time any process should issue its next request.
	CooldownUntil time.Time `json:"cooldown_until"`

	// LastThrottle is when the most recent 429 was observed.
	LastThrottle time.Time `json:"last_throttle"`

	// LastLanguage is the partition that observed the most recent 429.
	LastLanguage string `json:"last_language"`

	// Throttles counts the 429 responses of the current burst.
	Throttles int64 `json:"throttles"`
}

// IsCoolingDown reports whether a cooldown is in effect.
func (s *ThrottleState) IsCoolingDown() bool {
	return s.Remaining() > 0
}

// Remaining returns the time left until the cooldown ends, or 0.
func (s *ThrottleState) Remaining() time.Duration {
	d := time.Until(s.CooldownUntil)
	if d < 0 {
		return 0
	}
	return d
}

// IsStale returns true if no throttle was observed within maxAge.
func (s *ThrottleState) IsStale(maxAge time.Duration) bool {
	return time.Since(s.LastThrottle) > maxAge
}

// Extend moves the cooldown to now+wait unless a later cooldown is already set.
func (s *ThrottleState) Extend(now time.Time, wait time.Duration, language string) {
	until := now.Add(wait)
	if until.After(s.CooldownUntil) {
		s.CooldownUntil = until
	}
	s.LastThrottle = now
	s.LastLanguage = language
	s.Throttles++
}

// ParseRetryAfter reads a Retry-After header given either in seconds or as
// an HTTP date.
func ParseRetryAfter(headers http.Header) (time.Duration, bool) {
	value := strings.TrimSpace(headers.Get("Retry-After"))
	if value == "" {
		return 0, false
	}

	if secs, err := strconv.Atoi(value); err == nil {
		if secs < 0 {
			return 0, false
		}
		return time.Duration(secs) * time.Second, true
	}

	if at, err := http.ParseTime(value); err == nil {
		d := time.Until(at)
		if d < 0 {
			d = 0
		}
		return d, true
	}

	return 0, false
}
