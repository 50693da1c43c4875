package gateway

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// RateLimitConfig holds the global sliding window plus per-command
// overrides. An override is evaluated independently of the global limit;
// a request must clear both.
type RateLimitConfig struct {
	Window        time.Duration
	MaxRequests   int
	CommandLimits map[CommandType]int
}

// DefaultRateLimitConfig mirrors production tuning: 100 requests per
// minute globally, with tighter caps on label mutations and a generous
// ping allowance.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Window:      time.Minute,
		MaxRequests: 100,
		CommandLimits: map[CommandType]int{
			CmdCreateLabel: 10,
			CmdUpdateLabel: 20,
			CmdDeleteLabel: 5,
			CmdPing:        60,
		},
	}
}

type principalRecord struct {
	requests  []time.Time
	byCommand map[CommandType][]time.Time
}

func (r *principalRecord) prune(cutoff time.Time) {
	r.requests = pruneBefore(r.requests, cutoff)
	for cmd, ts := range r.byCommand {
		kept := pruneBefore(ts, cutoff)
		if len(kept) == 0 {
			delete(r.byCommand, cmd)
		} else {
			r.byCommand[cmd] = kept
		}
	}
}

func pruneBefore(ts []time.Time, cutoff time.Time) []time.Time {
	// Timestamps are appended in order, so find the first one inside the
	// window and slice.
	idx := 0
	for idx < len(ts) && ts[idx].Before(cutoff) {
		idx++
	}
	if idx == 0 {
		return ts
	}
	return append(ts[:0:0], ts[idx:]...)
}

// RateLimiter admits or rejects commands per principal using sliding
// windows. Rejected requests are not recorded, so being limited does not
// extend the limitation.
type RateLimiter struct {
	config RateLimitConfig

	mu      sync.Mutex
	records map[uuid.UUID]*principalRecord
}

func NewRateLimiter(config RateLimitConfig) *RateLimiter {
	if config.Window <= 0 {
		config.Window = time.Minute
	}
	if config.MaxRequests <= 0 {
		config.MaxRequests = 100
	}
	return &RateLimiter{
		config:  config,
		records: make(map[uuid.UUID]*principalRecord),
	}
}

// Check admits or rejects one request. When admitted, the request is
// recorded against both the global and per-command windows. When
// rejected, retryAfter is the wait until the oldest counted request
// leaves the window; it is always positive.
func (l *RateLimiter) Check(principal uuid.UUID, cmd CommandType) (admitted bool, retryAfter time.Duration) {
	now := time.Now()
	cutoff := now.Add(-l.config.Window)

	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.records[principal]
	if !ok {
		rec = &principalRecord{byCommand: make(map[CommandType][]time.Time)}
		l.records[principal] = rec
	}
	rec.prune(cutoff)

	if len(rec.requests) >= l.config.MaxRequests {
		return false, l.retryAfter(rec.requests[0], now)
	}
	if limit, has := l.config.CommandLimits[cmd]; has {
		if cmdRequests := rec.byCommand[cmd]; len(cmdRequests) >= limit {
			return false, l.retryAfter(cmdRequests[0], now)
		}
	}

	rec.requests = append(rec.requests, now)
	rec.byCommand[cmd] = append(rec.byCommand[cmd], now)
	return true, 0
}

func (l *RateLimiter) retryAfter(oldest, now time.Time) time.Duration {
	wait := oldest.Add(l.config.Window).Sub(now)
	if wait < time.Second {
		wait = time.Second
	}
	return wait
}

// PrincipalStats is a window snapshot for diagnostics.
type PrincipalStats struct {
	TotalRequests int                 `json:"total_requests"`
	CommandCounts map[CommandType]int `json:"command_counts"`
	WindowSeconds int64               `json:"window_seconds"`
	MaxRequests   int                 `json:"max_requests"`
}

// Stats returns the principal's activity inside the current window, or
// nil if the principal has no recorded activity.
func (l *RateLimiter) Stats(principal uuid.UUID) *PrincipalStats {
	cutoff := time.Now().Add(-l.config.Window)

	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.records[principal]
	if !ok {
		return nil
	}
	rec.prune(cutoff)

	counts := make(map[CommandType]int, len(rec.byCommand))
	for cmd, ts := range rec.byCommand {
		counts[cmd] = len(ts)
	}
	return &PrincipalStats{
		TotalRequests: len(rec.requests),
		CommandCounts: counts,
		WindowSeconds: int64(l.config.Window.Seconds()),
		MaxRequests:   l.config.MaxRequests,
	}
}

// Reset clears all recorded activity for one principal.
func (l *RateLimiter) Reset(principal uuid.UUID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.records, principal)
}

// Prune drops principals with no activity inside the window and returns
// how many were removed. Runs on the maintenance schedule to bound memory.
func (l *RateLimiter) Prune() int {
	cutoff := time.Now().Add(-l.config.Window)

	l.mu.Lock()
	defer l.mu.Unlock()
	removed := 0
	for principal, rec := range l.records {
		rec.prune(cutoff)
		if len(rec.requests) == 0 {
			delete(l.records, principal)
			removed++
		}
	}
	return removed
}

// TrackedPrincipals reports how many principals currently hold state.
func (l *RateLimiter) TrackedPrincipals() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}
