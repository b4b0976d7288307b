// Package pool owns the set of live broker sessions. It is the single place
// the rest of the system asks for "the live session for (user, broker,
// account)", and the only component that creates or destroys sessions.
package pool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ravitejakamalapuram/copytradepro-sub006/internal/accounts"
	"github.com/ravitejakamalapuram/copytradepro-sub006/internal/brokers"
	"github.com/ravitejakamalapuram/copytradepro-sub006/internal/health"
	"github.com/ravitejakamalapuram/copytradepro-sub006/internal/oauth"
	"github.com/ravitejakamalapuram/copytradepro-sub006/internal/types"
)

const logoutTimeout = 5 * time.Second

// Session is one live, authenticated handle to a broker account. Exactly one
// Session exists per ConnectionKey at any time; creating a new one for an
// existing key replaces the old one after disconnecting it. Get and Snapshot
// hand out copies, so field reads never race with pool mutations; the Adapter
// is the shared live handle.
type Session struct {
	Key             types.ConnectionKey
	Adapter         brokers.Broker
	Connected       bool
	AccountRecordID string
	CreatedAt       time.Time
	LastActivity    time.Time
}

// Stats is a read-only snapshot of the pool for observability.
type Stats struct {
	Total    int            `json:"total_sessions"`
	Active   int            `json:"active_sessions"`
	Inactive int            `json:"inactive_sessions"`
	ByBroker map[string]int `json:"by_broker"`
	ByUser   map[string]int `json:"by_user"`
}

// Pool is the unified broker manager. Sessions are keyed by ConnectionKey;
// a per-key mutex serializes connect/disconnect/replace on the same key while
// operations on different keys stay fully independent.
type Pool struct {
	mu       sync.RWMutex
	sessions map[types.ConnectionKey]*Session

	keyMu    sync.Mutex
	keyLocks map[types.ConnectionKey]*keyLock

	registry *brokers.Registry
	states   *oauth.Store
	monitor  *health.Monitor
	accounts *accounts.Database
}

// NewPool creates a pool wired to its collaborators. All four are required.
func NewPool(registry *brokers.Registry, states *oauth.Store, monitor *health.Monitor, accountsDB *accounts.Database) *Pool {
	return &Pool{
		sessions: make(map[types.ConnectionKey]*Session),
		keyLocks: make(map[types.ConnectionKey]*keyLock),
		registry: registry,
		states:   states,
		monitor:  monitor,
		accounts: accountsDB,
	}
}

// keyLock is a refcounted per-key mutex. The refcount lets releaseKey drop
// the map entry once the last holder or waiter is gone, so keyLocks does not
// grow with every ConnectionKey ever seen.
type keyLock struct {
	mu   sync.Mutex
	refs int
}

// lockKey acquires the mutex serializing operations on one ConnectionKey.
// Every lockKey must be paired with releaseKey.
func (p *Pool) lockKey(key types.ConnectionKey) *keyLock {
	p.keyMu.Lock()
	l, ok := p.keyLocks[key]
	if !ok {
		l = &keyLock{}
		p.keyLocks[key] = l
	}
	l.refs++
	p.keyMu.Unlock()

	l.mu.Lock()
	return l
}

// releaseKey unlocks l and removes the map entry when no goroutine holds or
// waits on it.
func (p *Pool) releaseKey(key types.ConnectionKey, l *keyLock) {
	l.mu.Unlock()
	p.keyMu.Lock()
	l.refs--
	if l.refs == 0 {
		delete(p.keyLocks, key)
	}
	p.keyMu.Unlock()
}

// Connect authenticates a user against a broker. Three outcomes:
//
//  1. immediate success: a Session is stored under its ConnectionKey and an
//     activated response is returned;
//  2. the broker requires a redirect: no session is created; the response
//     carries the auth URL and a single-use state token for CompleteOAuth;
//  3. failure: a classified error, and no session.
func (p *Pool) Connect(ctx context.Context, userID, brokerName string, creds brokers.Credentials) (*types.ConnectResponse, error) {
	logger := log.With().
		Str("user_id", userID).
		Str("broker_name", brokerName).
		Logger()

	adapter, err := p.registry.Create(brokerName)
	if err != nil {
		return nil, err
	}

	result, err := adapter.Login(ctx, creds)
	if err != nil {
		classified := brokers.Classify(err)
		logger.Warn().Err(err).Str("code", string(classified.Code)).Msg("broker login failed")
		return nil, fmt.Errorf("%w: %s", brokers.ErrAuthFailed, classified.Message)
	}

	if !result.Completed {
		// Redirect-based flow: persist a pending account carrying the
		// credentials, then issue the state token embedded in the auth URL.
		account, err := p.pendingAccount(userID, brokerName, creds)
		if err != nil {
			return nil, err
		}

		token, err := p.states.Issue(userID, brokerName, account.AccountID, creds, creds["redirect_uri"])
		if err != nil {
			return nil, err
		}

		logger.Info().Str("account_id", account.AccountID).Msg("oauth challenge issued")
		return &types.ConnectResponse{
			AuthURL:    result.AuthURL,
			StateToken: token,
			AccountID:  account.AccountID,
		}, nil
	}

	key := types.ConnectionKey{UserID: userID, BrokerName: brokerName, AccountID: result.AccountID}
	account, err := p.activateAccount(userID, brokerName, result.AccountID, creds)
	if err != nil {
		return nil, err
	}

	p.storeSession(ctx, key, adapter, account.AccountID)

	logger.Info().Str("account_id", result.AccountID).Msg("broker session established")
	return &types.ConnectResponse{Activated: true, AccountID: result.AccountID}, nil
}

// CompleteOAuth finishes a redirect round trip. The state token is consumed
// (single use); when it is missing or already consumed the persisted pending
// accounts are scanned as a best-effort fallback, which tolerates a process
// restart mid-flow at the cost of ambiguity under concurrent pending flows.
func (p *Pool) CompleteOAuth(ctx context.Context, userID, brokerName, authCode, stateToken string) (*types.AccountInfo, error) {
	logger := log.With().
		Str("user_id", userID).
		Str("broker_name", brokerName).
		Logger()

	var creds brokers.Credentials
	var accountRecordID string

	if stateToken != "" {
		if record := p.states.Consume(stateToken); record != nil {
			creds = record.Credentials
			accountRecordID = record.AccountID
			userID = record.UserID
			brokerName = record.BrokerName
		}
	}

	if creds == nil {
		logger.Warn().Msg("oauth state token missing or consumed; falling back to pending account scan")
		account, err := p.accounts.FindPendingOAuth(userID, brokerName)
		if err != nil {
			return nil, err
		}
		if account == nil {
			return nil, fmt.Errorf("%w: no pending authentication found", brokers.ErrAuthFailed)
		}
		accountRecordID = account.AccountID
		creds, err = p.accounts.GetCredentials(account.AccountID)
		if err != nil || creds == nil {
			return nil, fmt.Errorf("%w: pending account has no usable credentials", brokers.ErrAuthFailed)
		}
	}

	adapter, err := p.registry.Create(brokerName)
	if err != nil {
		return nil, err
	}

	result, err := adapter.CompleteAuth(ctx, authCode, creds)
	if err != nil {
		classified := brokers.Classify(err)
		logger.Warn().Err(err).Str("code", string(classified.Code)).Msg("oauth completion failed")
		return nil, fmt.Errorf("%w: %s", brokers.ErrAuthFailed, classified.Message)
	}

	account, err := p.accounts.GetAccount(accountRecordID)
	if err != nil {
		return nil, err
	}
	if account == nil {
		account = &accounts.ConnectedAccount{
			UserID:     userID,
			BrokerName: brokerName,
		}
		if err := p.accounts.CreateAccount(account); err != nil {
			return nil, err
		}
	}
	account.BrokerAccountID = result.AccountID
	account.Status = accounts.StatusActive
	account.ConnectedAt = time.Now()
	if err := p.accounts.SetCredentials(account, creds); err != nil {
		return nil, err
	}

	key := types.ConnectionKey{UserID: userID, BrokerName: brokerName, AccountID: result.AccountID}
	p.storeSession(ctx, key, adapter, account.AccountID)

	logger.Info().Str("account_id", result.AccountID).Msg("oauth flow completed, session established")
	return &types.AccountInfo{
		AccountID:       account.AccountID,
		UserID:          userID,
		BrokerName:      brokerName,
		BrokerAccountID: result.AccountID,
		Status:          account.Status,
		ConnectedAt:     account.ConnectedAt,
	}, nil
}

// storeSession inserts a session under key, replacing (disconnect-then-create)
// any existing one so at most one live adapter exists per key.
func (p *Pool) storeSession(ctx context.Context, key types.ConnectionKey, adapter brokers.Broker, accountRecordID string) {
	l := p.lockKey(key)
	defer p.releaseKey(key, l)

	p.mu.Lock()
	old := p.sessions[key]
	now := time.Now()
	p.sessions[key] = &Session{
		Key:             key,
		Adapter:         adapter,
		Connected:       true,
		AccountRecordID: accountRecordID,
		CreatedAt:       now,
		LastActivity:    now,
	}
	p.mu.Unlock()

	if old != nil {
		log.Info().Str("session", key.String()).Msg("replacing existing session for key")
		logoutCtx, cancel := context.WithTimeout(ctx, logoutTimeout)
		if err := old.Adapter.Logout(logoutCtx); err != nil {
			log.Warn().Err(err).Str("session", key.String()).Msg("logout of replaced session failed")
		}
		cancel()
	}

	p.monitor.Register(key, time.Time{})
}

// Get returns a copy of the live session for key, or nil. It never creates a
// session as a side effect. A hit refreshes the session's activity timestamp.
// The copy keeps readers of Connected off the pool's locks; the sweeper may
// mark the underlying session disconnected concurrently.
func (p *Pool) Get(key types.ConnectionKey) *Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	sess, ok := p.sessions[key]
	if !ok {
		return nil
	}
	sess.LastActivity = time.Now()
	snapshot := *sess
	return &snapshot
}

// Disconnect logs out and removes the session for key. Idempotent: a missing
// key is a no-op. Logout failures are logged, never fatal.
func (p *Pool) Disconnect(ctx context.Context, key types.ConnectionKey) {
	l := p.lockKey(key)
	defer p.releaseKey(key, l)

	p.mu.Lock()
	sess, ok := p.sessions[key]
	if ok {
		delete(p.sessions, key)
	}
	p.mu.Unlock()

	if !ok {
		return
	}

	logoutCtx, cancel := context.WithTimeout(ctx, logoutTimeout)
	defer cancel()
	if err := sess.Adapter.Logout(logoutCtx); err != nil {
		log.Warn().Err(err).Str("session", key.String()).Msg("broker logout failed during disconnect")
	}

	p.monitor.Deregister(key)

	if sess.AccountRecordID != "" {
		if account, err := p.accounts.GetAccount(sess.AccountRecordID); err == nil && account != nil {
			account.Status = accounts.StatusInactive
			if err := p.accounts.UpdateAccount(account); err != nil {
				log.Warn().Err(err).Str("account_id", sess.AccountRecordID).Msg("failed to mark account inactive")
			}
		}
	}

	log.Info().Str("session", key.String()).Msg("session disconnected")
}

// CleanupInactive evicts sessions with no activity within idleThreshold and
// returns how many were removed. Meant for the background sweeper, never for
// the request path.
func (p *Pool) CleanupInactive(ctx context.Context, idleThreshold time.Duration) int {
	cutoff := time.Now().Add(-idleThreshold)

	p.mu.RLock()
	var stale []types.ConnectionKey
	for key, sess := range p.sessions {
		if sess.LastActivity.Before(cutoff) {
			stale = append(stale, key)
		}
	}
	p.mu.RUnlock()

	for _, key := range stale {
		log.Info().Str("session", key.String()).Dur("idle_threshold", idleThreshold).Msg("evicting idle session")
		p.Disconnect(ctx, key)
	}
	return len(stale)
}

// MarkDisconnected flags a session as needing reauthentication without
// tearing it down, so callers get AUTH_REQUIRED instead of broker errors.
func (p *Pool) MarkDisconnected(key types.ConnectionKey) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if sess, ok := p.sessions[key]; ok {
		sess.Connected = false
	}
}

// Snapshot returns copies of the current sessions for sweeps.
func (p *Pool) Snapshot() []Session {
	p.mu.RLock()
	defer p.mu.RUnlock()
	list := make([]Session, 0, len(p.sessions))
	for _, sess := range p.sessions {
		list = append(list, *sess)
	}
	return list
}

// Stats returns read-only pool counts for observability.
func (p *Pool) Stats() Stats {
	p.mu.RLock()
	defer p.mu.RUnlock()

	stats := Stats{
		Total:    len(p.sessions),
		ByBroker: make(map[string]int),
		ByUser:   make(map[string]int),
	}
	for key, sess := range p.sessions {
		stats.ByBroker[key.BrokerName]++
		stats.ByUser[key.UserID]++
		if sess.Connected {
			stats.Active++
		} else {
			stats.Inactive++
		}
	}
	return stats
}

// pendingAccount finds or creates the PENDING_OAUTH account row that anchors
// a redirect flow, storing the credentials needed to complete it.
func (p *Pool) pendingAccount(userID, brokerName string, creds brokers.Credentials) (*accounts.ConnectedAccount, error) {
	account, err := p.accounts.FindPendingOAuth(userID, brokerName)
	if err != nil {
		return nil, err
	}
	if account == nil {
		account = &accounts.ConnectedAccount{
			UserID:     userID,
			BrokerName: brokerName,
			Status:     accounts.StatusPendingOAuth,
		}
		if err := p.accounts.CreateAccount(account); err != nil {
			return nil, err
		}
	}
	if err := p.accounts.SetCredentials(account, creds); err != nil {
		return nil, err
	}
	return account, nil
}

// activateAccount finds or creates the ACTIVE account row for a completed
// direct login.
func (p *Pool) activateAccount(userID, brokerName, brokerAccountID string, creds brokers.Credentials) (*accounts.ConnectedAccount, error) {
	existing, err := p.accounts.GetAccountsByUser(userID)
	if err != nil {
		return nil, err
	}

	var account *accounts.ConnectedAccount
	for i := range existing {
		if existing[i].BrokerName == brokerName && existing[i].BrokerAccountID == brokerAccountID {
			account = &existing[i]
			break
		}
	}
	if account == nil {
		account = &accounts.ConnectedAccount{
			UserID:          userID,
			BrokerName:      brokerName,
			BrokerAccountID: brokerAccountID,
		}
		if err := p.accounts.CreateAccount(account); err != nil {
			return nil, err
		}
	}

	account.Status = accounts.StatusActive
	account.ConnectedAt = time.Now()
	if err := p.accounts.SetCredentials(account, creds); err != nil {
		return nil, err
	}
	return account, nil
}
