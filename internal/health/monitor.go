// Package health scores live broker sessions from validate/refresh outcomes
// and decides when a session should be proactively refreshed or flagged for
// reauthentication.
package health

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ravitejakamalapuram/copytradepro-sub006/internal/brokers"
	"github.com/ravitejakamalapuram/copytradepro-sub006/internal/types"
)

const (
	maxScore          = 100
	minScore          = 0
	successReward     = 10
	healthyThreshold  = 40
	refreshThreshold  = 70
	errorHistoryCap   = 10
	validationTimeout = 5 * time.Second
)

// failurePenalties scales the score decrement by the severity of the
// classified failure. Auth failures are the strongest signal that a session
// is dying; rate limits say little about session health.
var failurePenalties = map[brokers.ErrorCode]int{
	brokers.CodeAuthError:    30,
	brokers.CodeTimeout:      15,
	brokers.CodeNetworkError: 10,
	brokers.CodeBrokerError:  10,
	brokers.CodeRateLimit:    5,
}

const defaultPenalty = 10

// ErrorEvent is one recorded failure in a session's bounded history.
type ErrorEvent struct {
	Code       brokers.ErrorCode `json:"code"`
	Message    string            `json:"message"`
	OccurredAt time.Time         `json:"occurred_at"`
}

// Record is the health state of one session. Mutated only by the Monitor.
type Record struct {
	Key                 types.ConnectionKey `json:"key"`
	HealthScore         int                 `json:"health_score"`
	ConsecutiveFailures int                 `json:"consecutive_failures"`
	IsHealthy           bool                `json:"is_healthy"`
	ErrorHistory        []ErrorEvent        `json:"error_history"`
	LastValidatedAt     time.Time           `json:"last_validated_at"`
	SessionExpiry       time.Time           `json:"session_expiry,omitempty"`
}

// Statistics aggregates health across all tracked sessions.
type Statistics struct {
	Total          int     `json:"total_sessions"`
	Healthy        int     `json:"healthy_sessions"`
	Unhealthy      int     `json:"unhealthy_sessions"`
	AverageScore   float64 `json:"average_score"`
	NeedingRefresh int     `json:"sessions_needing_refresh"`
}

// Monitor owns all session health records. Other components read through its
// accessors and never mutate records directly.
type Monitor struct {
	mu      sync.RWMutex
	records map[types.ConnectionKey]*Record
}

// NewMonitor creates an empty health monitor.
func NewMonitor() *Monitor {
	return &Monitor{
		records: make(map[types.ConnectionKey]*Record),
	}
}

// Register starts tracking key at full health. An optional session expiry
// lets the monitor flag sessions approaching their broker-side deadline.
func (m *Monitor) Register(key types.ConnectionKey, sessionExpiry time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[key] = &Record{
		Key:           key,
		HealthScore:   maxScore,
		IsHealthy:     true,
		SessionExpiry: sessionExpiry,
	}
}

// Deregister stops tracking key.
func (m *Monitor) Deregister(key types.ConnectionKey) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, key)
}

// RecordSuccess moves the score back toward 100 and clears the failure streak.
func (m *Monitor) RecordSuccess(key types.ConnectionKey) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[key]
	if !ok {
		return
	}
	r.HealthScore += successReward
	if r.HealthScore > maxScore {
		r.HealthScore = maxScore
	}
	r.ConsecutiveFailures = 0
	r.IsHealthy = r.HealthScore > healthyThreshold
	r.LastValidatedAt = time.Now()
}

// RecordFailure applies the severity-scaled penalty, extends the failure
// streak, and prepends the event to the bounded history.
func (m *Monitor) RecordFailure(key types.ConnectionKey, err error) {
	classified := brokers.Classify(err)

	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[key]
	if !ok {
		return
	}

	penalty := defaultPenalty
	if p, ok := failurePenalties[classified.Code]; ok {
		penalty = p
	}

	r.HealthScore -= penalty
	if r.HealthScore < minScore {
		r.HealthScore = minScore
	}
	r.ConsecutiveFailures++
	r.IsHealthy = r.HealthScore > healthyThreshold
	r.LastValidatedAt = time.Now()

	r.ErrorHistory = append([]ErrorEvent{{
		Code:       classified.Code,
		Message:    classified.Error(),
		OccurredAt: time.Now(),
	}}, r.ErrorHistory...)
	if len(r.ErrorHistory) > errorHistoryCap {
		r.ErrorHistory = r.ErrorHistory[:errorHistoryCap]
	}

	if !r.IsHealthy {
		log.Warn().
			Str("session", key.String()).
			Int("health_score", r.HealthScore).
			Int("consecutive_failures", r.ConsecutiveFailures).
			Msg("session flagged unhealthy")
	}
}

// Get returns a copy of the record for key, or nil if untracked.
func (m *Monitor) Get(key types.ConnectionKey) *Record {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.records[key]
	if !ok {
		return nil
	}
	snapshot := *r
	snapshot.ErrorHistory = append([]ErrorEvent(nil), r.ErrorHistory...)
	return &snapshot
}

// ValidateSession probes the adapter's session under a timeout and feeds the
// outcome back into the score. It always returns a result rather than an
// error so callers can branch without error handling.
func (m *Monitor) ValidateSession(ctx context.Context, key types.ConnectionKey, adapter brokers.Broker) types.SessionValidation {
	ctx, cancel := context.WithTimeout(ctx, validationTimeout)
	defer cancel()

	start := time.Now()
	err := adapter.ValidateSession(ctx)
	elapsed := time.Since(start)

	if err != nil {
		m.RecordFailure(key, err)
	} else {
		m.RecordSuccess(key)
	}

	score := 0
	if r := m.Get(key); r != nil {
		score = r.HealthScore
	}
	return types.SessionValidation{
		IsValid:      err == nil,
		HealthScore:  score,
		ResponseTime: elapsed,
	}
}

// RefreshToken asks the adapter to renew its session. Returns false when the
// broker does not support refresh, in which case the caller must fall back to
// a full reauthentication.
func (m *Monitor) RefreshToken(ctx context.Context, key types.ConnectionKey, adapter brokers.Broker) bool {
	refreshed, err := adapter.RefreshSession(ctx)
	if err != nil {
		m.RecordFailure(key, err)
		return false
	}
	if !refreshed {
		return false
	}
	m.RecordSuccess(key)
	return true
}

// NeedsRefresh reports whether key's session should be proactively refreshed:
// score below the refresh threshold, unhealthy, or nearing its expiry.
func (m *Monitor) NeedsRefresh(key types.ConnectionKey) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.records[key]
	if !ok {
		return false
	}
	if !r.IsHealthy || r.HealthScore < refreshThreshold {
		return true
	}
	return !r.SessionExpiry.IsZero() && time.Until(r.SessionExpiry) < 15*time.Minute
}

// Stats aggregates counts across all tracked sessions.
func (m *Monitor) Stats() Statistics {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := Statistics{Total: len(m.records)}
	totalScore := 0
	for _, r := range m.records {
		totalScore += r.HealthScore
		if r.IsHealthy {
			stats.Healthy++
		} else {
			stats.Unhealthy++
		}
		if !r.IsHealthy || r.HealthScore < refreshThreshold {
			stats.NeedingRefresh++
		}
	}
	if stats.Total > 0 {
		stats.AverageScore = float64(totalScore) / float64(stats.Total)
	}
	return stats
}
