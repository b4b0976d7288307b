package pool

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// Sweeper runs the pool's periodic maintenance: idle-session eviction and
// proactive health revalidation. Both passes run on fixed intervals and stop
// together when the context is cancelled at process shutdown.
type Sweeper struct {
	pool           *Pool
	evictInterval  time.Duration
	idleThreshold  time.Duration
	healthInterval time.Duration
}

// NewSweeper creates a sweeper for pool. Zero durations fall back to
// conservative defaults.
func NewSweeper(pool *Pool, evictInterval, idleThreshold, healthInterval time.Duration) *Sweeper {
	if evictInterval <= 0 {
		evictInterval = 5 * time.Minute
	}
	if idleThreshold <= 0 {
		idleThreshold = 30 * time.Minute
	}
	if healthInterval <= 0 {
		healthInterval = 2 * time.Minute
	}
	return &Sweeper{
		pool:           pool,
		evictInterval:  evictInterval,
		idleThreshold:  idleThreshold,
		healthInterval: healthInterval,
	}
}

// Start begins both maintenance loops. Must be called in a goroutine.
func (s *Sweeper) Start(ctx context.Context) {
	logger := log.With().Str("component", "pool_sweeper").Logger()
	logger.Info().
		Dur("evict_interval", s.evictInterval).
		Dur("idle_threshold", s.idleThreshold).
		Dur("health_interval", s.healthInterval).
		Msg("starting pool sweeper")

	evictTicker := time.NewTicker(s.evictInterval)
	defer evictTicker.Stop()
	healthTicker := time.NewTicker(s.healthInterval)
	defer healthTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("shutting down pool sweeper")
			return
		case <-evictTicker.C:
			if evicted := s.pool.CleanupInactive(ctx, s.idleThreshold); evicted > 0 {
				logger.Info().Int("evicted", evicted).Msg("evicted idle sessions")
			}
		case <-healthTicker.C:
			s.revalidate(ctx)
		}
	}
}

// revalidate probes every live session and proactively refreshes the ones the
// monitor flags. Sessions that cannot be refreshed are marked as needing a
// full reauthentication; the pipelines then return AUTH_REQUIRED instead of
// hitting a dead broker session.
func (s *Sweeper) revalidate(ctx context.Context) {
	logger := log.With().Str("component", "pool_sweeper").Logger()

	for _, sess := range s.pool.Snapshot() {
		if !sess.Connected {
			continue
		}

		result := s.pool.monitor.ValidateSession(ctx, sess.Key, sess.Adapter)
		if result.IsValid && !s.pool.monitor.NeedsRefresh(sess.Key) {
			continue
		}

		if s.pool.monitor.RefreshToken(ctx, sess.Key, sess.Adapter) {
			logger.Info().Str("session", sess.Key.String()).Msg("session refreshed proactively")
			continue
		}

		if !result.IsValid {
			logger.Warn().
				Str("session", sess.Key.String()).
				Int("health_score", result.HealthScore).
				Msg("session invalid and not refreshable; reauthentication required")
			s.pool.MarkDisconnected(sess.Key)
		}
	}
}
