// Package oauth holds the short-lived state records that bridge a
// redirect-based broker authentication round trip.
package oauth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ravitejakamalapuram/copytradepro-sub006/internal/brokers"
)

// DefaultTTL is how long an issued state token stays consumable.
const DefaultTTL = 10 * time.Minute

// StateRecord is one pending OAuth flow, keyed by an opaque single-use token.
type StateRecord struct {
	Token       string
	UserID      string
	BrokerName  string
	AccountID   string
	Credentials brokers.Credentials
	RedirectURI string
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

// Store issues and consumes OAuth state tokens. Records are single-use and
// expire after the TTL whether or not the redirect ever arrives.
type Store struct {
	mu      sync.RWMutex
	records map[string]*StateRecord
	ttl     time.Duration
}

// NewStore creates a store with the given TTL. A zero ttl uses DefaultTTL.
func NewStore(ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{
		records: make(map[string]*StateRecord),
		ttl:     ttl,
	}
}

// Issue stores a new record and returns its token: 32 bytes of crypto/rand,
// hex encoded, well above the 128-bit entropy floor.
func (s *Store) Issue(userID, brokerName, accountID string, creds brokers.Credentials, redirectURI string) (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	token := hex.EncodeToString(raw)

	now := time.Now()
	s.mu.Lock()
	s.records[token] = &StateRecord{
		Token:       token,
		UserID:      userID,
		BrokerName:  brokerName,
		AccountID:   accountID,
		Credentials: creds,
		RedirectURI: redirectURI,
		CreatedAt:   now,
		ExpiresAt:   now.Add(s.ttl),
	}
	s.mu.Unlock()

	return token, nil
}

// Consume returns and deletes the record for token. A second call with the
// same token, or a call after the TTL has elapsed, returns nil. A miss is not
// an error: callers decide whether to fall back to persisted pending accounts.
func (s *Store) Consume(token string) *StateRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[token]
	if !ok {
		return nil
	}
	delete(s.records, token)

	if time.Now().After(record.ExpiresAt) {
		return nil
	}
	return record
}

// Sweep deletes all records past their expiry and returns how many it removed.
// Handles flows the user abandoned without ever hitting the callback.
func (s *Store) Sweep() int {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for token, record := range s.records {
		if now.After(record.ExpiresAt) {
			delete(s.records, token)
			removed++
		}
	}
	return removed
}

// Len reports the number of live records, for observability.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// RunSweeper purges expired records on a fixed interval until ctx is done.
// Run in a goroutine alongside the other background processors.
func (s *Store) RunSweeper(ctx context.Context, interval time.Duration) {
	logger := log.With().Str("component", "oauth_sweeper").Logger()
	logger.Info().Dur("interval", interval).Msg("starting oauth state sweeper")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("shutting down oauth state sweeper")
			return
		case <-ticker.C:
			if removed := s.Sweep(); removed > 0 {
				logger.Debug().Int("removed", removed).Msg("swept expired oauth state records")
			}
		}
	}
}
