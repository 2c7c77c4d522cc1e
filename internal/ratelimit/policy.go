// Package ratelimit computes how long the bars client should wait, either
// before retrying a 429 or before issuing the next page when the server says
// the quota is nearly spent. Every function here is pure: headers, attempt
// index and the current time go in, a duration comes out.
package ratelimit

import (
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	// Retry configuration
	MaxRetries        = 5
	MaxRetrySleep     = 5 * time.Second
	initialRetryDelay = 500 * time.Millisecond
	retryMultiplier   = 2.0

	// Proactive throttle configuration
	SafetyBuffer      = 250 * time.Millisecond
	MaxProactiveSleep = 10 * time.Second

	// Remaining quota at or below which the next request is delayed until reset
	exhaustedThreshold = 1
)

// Header names read from every bars response.
const (
	HeaderRetryAfter = "Retry-After"
	HeaderLimit      = "X-RateLimit-Limit"
	HeaderRemaining  = "X-RateLimit-Remaining"
	HeaderReset      = "X-RateLimit-Reset"
)

// Strategy names the rule that produced a retry delay.
type Strategy string

const (
	StrategyRetryAfter Strategy = "Retry-After"
	StrategyReset      Strategy = "X-RateLimit-Reset"
	StrategyBackoff    Strategy = "backoff"
)

// ComputeRetryDelay returns the wait before retry number attempt (0-based)
// of a request that drew a 429 carrying headers h.
//
// Retry-After wins over X-RateLimit-Reset, which wins over exponential
// backoff (0.5s, 1s, 2s, 4s, then 5s). Unparseable headers fall through to
// the next rule. The result never exceeds MaxRetrySleep.
func ComputeRetryDelay(h http.Header, attempt int, now time.Time) (time.Duration, Strategy) {
	if raw := strings.TrimSpace(h.Get(HeaderRetryAfter)); raw != "" {
		// Out-of-range values parse as ±Inf with ErrRange and clamp like any other.
		secs, err := strconv.ParseFloat(raw, 64)
		if (err == nil || errors.Is(err, strconv.ErrRange)) && !math.IsNaN(secs) {
			secs = math.Max(0, math.Min(secs, MaxRetrySleep.Seconds()))
			return time.Duration(secs * float64(time.Second)), StrategyRetryAfter
		}
	}

	if reset, ok := parseInt64(h.Get(HeaderReset)); ok {
		// Compare before subtracting so extreme resets cannot wrap around.
		if reset <= now.Unix() {
			return 0, StrategyReset
		}
		secs := reset - now.Unix()
		if secs > int64(MaxRetrySleep/time.Second) {
			return MaxRetrySleep, StrategyReset
		}
		return time.Duration(secs) * time.Second, StrategyReset
	}

	return backoffDelay(attempt), StrategyBackoff
}

// backoffDelay walks a jitter-free exponential schedule attempt+1 steps.
func backoffDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initialRetryDelay
	b.Multiplier = retryMultiplier
	b.RandomizationFactor = 0
	b.MaxInterval = MaxRetrySleep
	b.MaxElapsedTime = 0
	b.Reset()

	delay := b.NextBackOff()
	for i := 0; i < attempt && delay < MaxRetrySleep; i++ {
		delay = b.NextBackOff()
	}
	return clamp(delay, MaxRetrySleep)
}

// Headers is the parsed X-RateLimit-* triple of one response.
// A nil field was absent or not an integer.
type Headers struct {
	Limit     *int
	Remaining *int
	Reset     *int64
}

// ParseHeaders extracts the X-RateLimit-* values from h.
func ParseHeaders(h http.Header) Headers {
	var out Headers
	if v, ok := parseInt64(h.Get(HeaderLimit)); ok {
		limit := int(v)
		out.Limit = &limit
	}
	if v, ok := parseInt64(h.Get(HeaderRemaining)); ok {
		remaining := int(v)
		out.Remaining = &remaining
	}
	if v, ok := parseInt64(h.Get(HeaderReset)); ok {
		reset := v
		out.Reset = &reset
	}
	return out
}

// State is the quota snapshot carried from one page request to the next.
// The zero value means nothing has been observed yet.
type State struct {
	Remaining *int
	Reset     *int64
}

// Observe returns a new State updated from the headers of a response of any
// status. Each field is replaced only when the response carries a parseable
// value for it; the receiver is not modified.
func (s State) Observe(h http.Header) State {
	parsed := ParseHeaders(h)
	next := s
	if parsed.Remaining != nil {
		next.Remaining = parsed.Remaining
	}
	if parsed.Reset != nil {
		next.Reset = parsed.Reset
	}
	return next
}

// Exhausted reports whether the last response left at most one request of quota
// and announced when the window resets.
func (s State) Exhausted() bool {
	return s.Remaining != nil && s.Reset != nil && *s.Remaining <= exhaustedThreshold
}

// ComputeProactiveDelay returns how long to wait before the next request given
// the carried state. It is zero unless the state is exhausted, in which case it
// is the time until reset plus SafetyBuffer, capped at MaxProactiveSleep.
func ComputeProactiveDelay(s State, now time.Time) time.Duration {
	if !s.Exhausted() {
		return 0
	}
	// Sub saturates, so cap before adding the buffer.
	until := time.Unix(*s.Reset, 0).Sub(now)
	if until >= MaxProactiveSleep {
		return MaxProactiveSleep
	}
	return clamp(until+SafetyBuffer, MaxProactiveSleep)
}

func parseInt64(raw string) (int64, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, false
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func clamp(d, max time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	if d > max {
		return max
	}
	return d
}
