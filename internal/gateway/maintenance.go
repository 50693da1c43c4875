package gateway

import (
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Maintenance runs the periodic sweeps: idempotency expiry, rate-limiter
// pruning, stale-connection cleanup and replay-set trimming. Each sweep
// holds its lock briefly; none blocks command processing for its full
// duration.
type Maintenance struct {
	cron          *cron.Cron
	authenticator *MessageAuthenticator
	cache         *IdempotencyCache
	limiter       *RateLimiter
	registry      *Registry
	staleAfter    time.Duration
	metrics       *Metrics
	log           *zap.Logger
}

func NewMaintenance(
	authenticator *MessageAuthenticator,
	cache *IdempotencyCache,
	limiter *RateLimiter,
	registry *Registry,
	staleAfter time.Duration,
	metrics *Metrics,
	log *zap.Logger,
) *Maintenance {
	return &Maintenance{
		cron:          cron.New(cron.WithSeconds()),
		authenticator: authenticator,
		cache:         cache,
		limiter:       limiter,
		registry:      registry,
		staleAfter:    staleAfter,
		metrics:       metrics,
		log:           log.With(zap.String("module", "maintenance")),
	}
}

// Start schedules the sweeps and begins running them. Expiry, pruning
// and stale cleanup run every minute; the replay set is trimmed every
// five, matching the message expiry horizon.
func (m *Maintenance) Start() error {
	if _, err := m.cron.AddFunc("0 * * * * *", m.sweepIdempotency); err != nil {
		return err
	}
	if _, err := m.cron.AddFunc("15 * * * * *", m.sweepRateLimiter); err != nil {
		return err
	}
	if _, err := m.cron.AddFunc("30 * * * * *", m.sweepStaleConnections); err != nil {
		return err
	}
	if _, err := m.cron.AddFunc("45 */5 * * * *", m.sweepReplaySet); err != nil {
		return err
	}
	m.cron.Start()
	m.log.Info("maintenance sweeps scheduled")
	return nil
}

// Stop halts the scheduler and waits for any running sweep to finish.
func (m *Maintenance) Stop() {
	<-m.cron.Stop().Done()
}

func (m *Maintenance) sweepIdempotency() {
	removed := m.cache.CleanupExpired()
	if removed > 0 {
		m.log.Debug("idempotency sweep", zap.Int("removed", removed), zap.Int("remaining", m.cache.Len()))
	}
}

func (m *Maintenance) sweepRateLimiter() {
	removed := m.limiter.Prune()
	if removed > 0 {
		m.log.Debug("rate limiter sweep", zap.Int("removed", removed), zap.Int("tracked", m.limiter.TrackedPrincipals()))
	}
}

func (m *Maintenance) sweepStaleConnections() {
	removed := m.registry.CleanupStale(m.staleAfter)
	if removed > 0 {
		m.log.Info("stale connection sweep", zap.Int("removed", removed), zap.Int("remaining", m.registry.Count()))
	}
	if m.metrics != nil {
		m.metrics.ConnectionsActive.Set(float64(m.registry.Count()))
	}
}

func (m *Maintenance) sweepReplaySet() {
	removed := m.authenticator.SweepReplay()
	if removed > 0 {
		m.log.Debug("replay set sweep", zap.Int("removed", removed), zap.Int("remaining", m.authenticator.ReplaySetSize()))
	}
}
