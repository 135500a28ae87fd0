package relay

import (
	"sync"
	"time"
)

// quotaWindow is the length of the sliding usage window.
const quotaWindow = time.Minute

// DefaultFailoverThreshold is the usage fraction at which the router
// proactively routes around a backend before it is fully exhausted.
const DefaultFailoverThreshold = 0.8

// RateLimitConfig is the static per-backend rate limit configuration.
// A zero value in either dimension means unlimited for that dimension.
type RateLimitConfig struct {
	RequestsPerMinute int
	TokensPerMinute   int
}

// Fraction reports current usage as a fraction of the configured limits.
// Values can exceed 1.0 between the moment a limit is passed and the next
// window prune. A dimension with no limit reports 0.
type Fraction struct {
	Requests float64 `json:"rpm"`
	Tokens   float64 `json:"tpm"`
}

// tokenEvent is one recorded token consumption.
type tokenEvent struct {
	at     time.Time
	tokens int
}

// usageWindow holds the sliding-window entries for one backend. Entries
// older than quotaWindow are pruned before every read and write.
type usageWindow struct {
	requests []time.Time
	tokens   []tokenEvent
}

// QuotaTracker tracks per-backend request and token usage over a sliding
// 60-second window, keyed by wall-clock time. It owns all usage windows;
// the router and command layer only read through its methods.
type QuotaTracker struct {
	mu      sync.Mutex
	limits  map[string]RateLimitConfig
	windows map[string]*usageWindow

	// now is the clock; replaced in tests.
	now func() time.Time
}

// NewQuotaTracker creates a tracker for the given per-backend limits.
// Backends absent from limits are unlimited.
func NewQuotaTracker(limits map[string]RateLimitConfig) *QuotaTracker {
	t := &QuotaTracker{
		limits:  make(map[string]RateLimitConfig, len(limits)),
		windows: make(map[string]*usageWindow, len(limits)),
		now:     time.Now,
	}
	for name, cfg := range limits {
		t.limits[name] = cfg
		t.windows[name] = &usageWindow{}
	}
	return t
}

// SetLimit replaces the limit configuration for one backend. Existing
// window entries are kept; only the thresholds change.
func (t *QuotaTracker) SetLimit(name string, cfg RateLimitConfig) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.limits[name] = cfg
	if t.windows[name] == nil {
		t.windows[name] = &usageWindow{}
	}
}

// prune drops entries older than the window. Callers must hold t.mu.
func (t *QuotaTracker) prune(name string) *usageWindow {
	w := t.windows[name]
	if w == nil {
		w = &usageWindow{}
		t.windows[name] = w
	}

	cutoff := t.now().Add(-quotaWindow)

	i := 0
	for i < len(w.requests) && !w.requests[i].After(cutoff) {
		i++
	}
	w.requests = w.requests[i:]

	j := 0
	for j < len(w.tokens) && !w.tokens[j].at.After(cutoff) {
		j++
	}
	w.tokens = w.tokens[j:]

	return w
}

// CanRequest reports whether a request to the backend is within its
// request-per-minute limit. Backends with no configured limit (or a zero
// request limit) are always allowed.
func (t *QuotaTracker) CanRequest(name string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	limit, ok := t.limits[name]
	if !ok || limit.RequestsPerMinute <= 0 {
		return true
	}

	w := t.prune(name)
	return len(w.requests) < limit.RequestsPerMinute
}

// CanRequestTokens reports whether a request estimated at estTokens is
// within both the request and token limits.
func (t *QuotaTracker) CanRequestTokens(name string, estTokens int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	limit, ok := t.limits[name]
	if !ok {
		return true
	}

	w := t.prune(name)

	if limit.RequestsPerMinute > 0 && len(w.requests) >= limit.RequestsPerMinute {
		return false
	}

	if limit.TokensPerMinute > 0 {
		current := 0
		for _, e := range w.tokens {
			current += e.tokens
		}
		if current+estTokens > limit.TokensPerMinute {
			return false
		}
	}

	return true
}

// RecordRequest appends the current time to the backend's request window
// and, when tokens > 0, a token event.
func (t *QuotaTracker) RecordRequest(name string, tokens int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	w := t.prune(name)
	now := t.now()
	w.requests = append(w.requests, now)
	if tokens > 0 {
		w.tokens = append(w.tokens, tokenEvent{at: now, tokens: tokens})
	}
}

// Usage returns the request and token counts currently in the window.
func (t *QuotaTracker) Usage(name string) (requests, tokens int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	w := t.prune(name)
	for _, e := range w.tokens {
		tokens += e.tokens
	}
	return len(w.requests), tokens
}

// UsageFraction returns current usage as fractions of the limits.
func (t *QuotaTracker) UsageFraction(name string) Fraction {
	t.mu.Lock()
	defer t.mu.Unlock()

	limit, ok := t.limits[name]
	if !ok {
		return Fraction{}
	}

	w := t.prune(name)

	var f Fraction
	if limit.RequestsPerMinute > 0 {
		f.Requests = float64(len(w.requests)) / float64(limit.RequestsPerMinute)
	}
	if limit.TokensPerMinute > 0 {
		tokens := 0
		for _, e := range w.tokens {
			tokens += e.tokens
		}
		f.Tokens = float64(tokens) / float64(limit.TokensPerMinute)
	}
	return f
}

// AllUsage returns usage fractions for every backend with configured
// limits, for reporting.
func (t *QuotaTracker) AllUsage() map[string]Fraction {
	t.mu.Lock()
	names := make([]string, 0, len(t.limits))
	for name := range t.limits {
		names = append(names, name)
	}
	t.mu.Unlock()

	out := make(map[string]Fraction, len(names))
	for _, name := range names {
		out[name] = t.UsageFraction(name)
	}
	return out
}

// ShouldFailover reports whether usage has reached the default proactive
// failover threshold in either dimension.
func (t *QuotaTracker) ShouldFailover(name string) bool {
	return t.ShouldFailoverAt(name, DefaultFailoverThreshold)
}

// ShouldFailoverAt is ShouldFailover with an explicit threshold.
func (t *QuotaTracker) ShouldFailoverAt(name string, threshold float64) bool {
	f := t.UsageFraction(name)
	return f.Requests >= threshold || f.Tokens >= threshold
}

// TimeUntilReset returns how long until the oldest recorded request ages
// out of the window, or zero when no requests are recorded.
func (t *QuotaTracker) TimeUntilReset(name string) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()

	w := t.prune(name)
	if len(w.requests) == 0 {
		return 0
	}

	remaining := w.requests[0].Add(quotaWindow).Sub(t.now())
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Limits returns a copy of the configured limits, for reporting.
func (t *QuotaTracker) Limits() map[string]RateLimitConfig {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make(map[string]RateLimitConfig, len(t.limits))
	for name, cfg := range t.limits {
		out[name] = cfg
	}
	return out
}
