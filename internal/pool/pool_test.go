package pool

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/ravitejakamalapuram/copytradepro-sub006/internal/accounts"
	"github.com/ravitejakamalapuram/copytradepro-sub006/internal/brokers"
	"github.com/ravitejakamalapuram/copytradepro-sub006/internal/health"
	"github.com/ravitejakamalapuram/copytradepro-sub006/internal/oauth"
	"github.com/ravitejakamalapuram/copytradepro-sub006/internal/types"
)

// script drives every fakeBroker instance a test registry produces, so the
// test can observe logins and logouts across replaced adapter instances.
type script struct {
	loginResult brokers.LoginResult
	loginErr    error
	completeErr error
	logins      atomic.Int32
	logouts     atomic.Int32
	validateErr error
}

type fakeBroker struct {
	s *script
}

func (f *fakeBroker) Name() string { return "fake" }

func (f *fakeBroker) Login(context.Context, brokers.Credentials) (*brokers.LoginResult, error) {
	f.s.logins.Add(1)
	if f.s.loginErr != nil {
		return nil, f.s.loginErr
	}
	result := f.s.loginResult
	return &result, nil
}

func (f *fakeBroker) CompleteAuth(context.Context, string, brokers.Credentials) (*brokers.LoginResult, error) {
	if f.s.completeErr != nil {
		return nil, f.s.completeErr
	}
	return &brokers.LoginResult{Completed: true, AccountID: "F100"}, nil
}

func (f *fakeBroker) ValidateSession(context.Context) error { return f.s.validateErr }

func (f *fakeBroker) RefreshSession(context.Context) (bool, error) { return false, nil }

func (f *fakeBroker) PlaceOrder(context.Context, *types.OrderRequest) (*brokers.PlaceResult, error) {
	return nil, errors.New("not supported")
}
func (f *fakeBroker) ModifyOrder(context.Context, string, *types.OrderRequest) error {
	return errors.New("not supported")
}
func (f *fakeBroker) CancelOrder(context.Context, string) error { return errors.New("not supported") }
func (f *fakeBroker) OrderStatus(context.Context, string) (*brokers.OrderDetail, error) {
	return nil, errors.New("not supported")
}
func (f *fakeBroker) OrderHistory(context.Context) ([]brokers.OrderDetail, error) { return nil, nil }
func (f *fakeBroker) Positions(context.Context) ([]types.Position, error)         { return nil, nil }
func (f *fakeBroker) Quote(context.Context, string, string) (*types.Quote, error) {
	return nil, errors.New("not supported")
}
func (f *fakeBroker) Logout(context.Context) error {
	f.s.logouts.Add(1)
	return nil
}

var _ brokers.Broker = (*fakeBroker)(nil)

func testPool(t *testing.T, s *script) (*Pool, *accounts.Database, *oauth.Store) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "pool.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&accounts.ConnectedAccount{}))

	registry := brokers.NewRegistry()
	require.NoError(t, registry.Register("fake", func() brokers.Broker { return &fakeBroker{s: s} }))

	accountsDB := accounts.NewDatabase(db)
	states := oauth.NewStore(0)
	p := NewPool(registry, states, health.NewMonitor(), accountsDB)
	return p, accountsDB, states
}

func TestConnectImmediateSuccess(t *testing.T) {
	s := &script{loginResult: brokers.LoginResult{Completed: true, AccountID: "F100"}}
	p, accountsDB, _ := testPool(t, s)

	resp, err := p.Connect(context.Background(), "u1", "fake", brokers.Credentials{"api_key": "k"})
	require.NoError(t, err)
	assert.True(t, resp.Activated)
	assert.Equal(t, "F100", resp.AccountID)
	assert.Empty(t, resp.AuthURL)

	key := types.ConnectionKey{UserID: "u1", BrokerName: "fake", AccountID: "F100"}
	require.NotNil(t, p.Get(key))

	list, err := accountsDB.GetAccountsByUser("u1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, accounts.StatusActive, list[0].Status)
	assert.Equal(t, "F100", list[0].BrokerAccountID)
}

func TestConnectUnknownBroker(t *testing.T) {
	p, _, _ := testPool(t, &script{})
	_, err := p.Connect(context.Background(), "u1", "ghost", nil)
	assert.ErrorIs(t, err, brokers.ErrUnknownBroker)
}

func TestConnectLoginFailure(t *testing.T) {
	s := &script{loginErr: errors.New("invalid credentials")}
	p, _, _ := testPool(t, s)

	_, err := p.Connect(context.Background(), "u1", "fake", nil)
	assert.ErrorIs(t, err, brokers.ErrAuthFailed)

	key := types.ConnectionKey{UserID: "u1", BrokerName: "fake", AccountID: "F100"}
	assert.Nil(t, p.Get(key))
}

func TestConnectOAuthRedirect(t *testing.T) {
	s := &script{loginResult: brokers.LoginResult{AuthURL: "https://fake.example/authorize"}}
	p, accountsDB, states := testPool(t, s)

	resp, err := p.Connect(context.Background(), "u1", "fake", brokers.Credentials{"api_key": "k"})
	require.NoError(t, err)
	assert.False(t, resp.Activated)
	assert.Equal(t, "https://fake.example/authorize", resp.AuthURL)
	assert.NotEmpty(t, resp.StateToken)

	// No session until the callback completes the flow.
	assert.Equal(t, 0, p.Stats().Total)

	pending, err := accountsDB.FindPendingOAuth("u1", "fake")
	require.NoError(t, err)
	require.NotNil(t, pending)
	assert.Equal(t, accounts.StatusPendingOAuth, pending.Status)
	assert.Equal(t, 1, states.Len())
}

func TestCompleteOAuthWithStateToken(t *testing.T) {
	s := &script{loginResult: brokers.LoginResult{AuthURL: "https://fake.example/authorize"}}
	p, accountsDB, _ := testPool(t, s)

	resp, err := p.Connect(context.Background(), "u1", "fake", brokers.Credentials{"api_key": "k"})
	require.NoError(t, err)

	// Identity comes from the state record, not from the caller.
	info, err := p.CompleteOAuth(context.Background(), "", "", "auth-code", resp.StateToken)
	require.NoError(t, err)
	assert.Equal(t, "u1", info.UserID)
	assert.Equal(t, "F100", info.BrokerAccountID)
	assert.Equal(t, accounts.StatusActive, info.Status)

	key := types.ConnectionKey{UserID: "u1", BrokerName: "fake", AccountID: "F100"}
	require.NotNil(t, p.Get(key))

	account, err := accountsDB.GetAccount(info.AccountID)
	require.NoError(t, err)
	assert.Equal(t, accounts.StatusActive, account.Status)
}

func TestCompleteOAuthFallbackToPendingAccount(t *testing.T) {
	s := &script{loginResult: brokers.LoginResult{AuthURL: "https://fake.example/authorize"}}
	p, _, _ := testPool(t, s)

	_, err := p.Connect(context.Background(), "u1", "fake", brokers.Credentials{"api_key": "k"})
	require.NoError(t, err)

	// Simulates a lost or expired state token: the persisted pending
	// account still lets the flow complete.
	info, err := p.CompleteOAuth(context.Background(), "u1", "fake", "auth-code", "")
	require.NoError(t, err)
	assert.Equal(t, "F100", info.BrokerAccountID)
}

func TestCompleteOAuthNoPendingFlow(t *testing.T) {
	p, _, _ := testPool(t, &script{})
	_, err := p.CompleteOAuth(context.Background(), "u1", "fake", "auth-code", "")
	assert.ErrorIs(t, err, brokers.ErrAuthFailed)
}

func TestReplaceDisconnectsOldSession(t *testing.T) {
	s := &script{loginResult: brokers.LoginResult{Completed: true, AccountID: "F100"}}
	p, _, _ := testPool(t, s)

	_, err := p.Connect(context.Background(), "u1", "fake", nil)
	require.NoError(t, err)
	_, err = p.Connect(context.Background(), "u1", "fake", nil)
	require.NoError(t, err)

	assert.Equal(t, 1, p.Stats().Total)
	assert.Equal(t, int32(1), s.logouts.Load())
}

func TestConcurrentConnectsOneSessionPerKey(t *testing.T) {
	s := &script{loginResult: brokers.LoginResult{Completed: true, AccountID: "F100"}}
	p, _, _ := testPool(t, s)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := p.Connect(context.Background(), "u1", "fake", nil)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, p.Stats().Total)
	// Every replaced predecessor was logged out exactly once.
	assert.Equal(t, int32(7), s.logouts.Load())
}

func TestDisconnectIdempotent(t *testing.T) {
	s := &script{loginResult: brokers.LoginResult{Completed: true, AccountID: "F100"}}
	p, accountsDB, _ := testPool(t, s)

	_, err := p.Connect(context.Background(), "u1", "fake", nil)
	require.NoError(t, err)

	key := types.ConnectionKey{UserID: "u1", BrokerName: "fake", AccountID: "F100"}
	p.Disconnect(context.Background(), key)
	p.Disconnect(context.Background(), key)

	assert.Nil(t, p.Get(key))
	assert.Equal(t, int32(1), s.logouts.Load())

	list, err := accountsDB.GetAccountsByUser("u1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, accounts.StatusInactive, list[0].Status)
}

func TestCleanupInactiveEvictsIdleSessions(t *testing.T) {
	s := &script{loginResult: brokers.LoginResult{Completed: true, AccountID: "F100"}}
	p, _, _ := testPool(t, s)

	_, err := p.Connect(context.Background(), "u1", "fake", nil)
	require.NoError(t, err)

	key := types.ConnectionKey{UserID: "u1", BrokerName: "fake", AccountID: "F100"}
	p.mu.Lock()
	p.sessions[key].LastActivity = time.Now().Add(-time.Hour)
	p.mu.Unlock()

	assert.Equal(t, 1, p.CleanupInactive(context.Background(), 30*time.Minute))
	assert.Nil(t, p.Get(key))
}

func TestGetRefreshesActivity(t *testing.T) {
	s := &script{loginResult: brokers.LoginResult{Completed: true, AccountID: "F100"}}
	p, _, _ := testPool(t, s)

	_, err := p.Connect(context.Background(), "u1", "fake", nil)
	require.NoError(t, err)

	key := types.ConnectionKey{UserID: "u1", BrokerName: "fake", AccountID: "F100"}
	p.mu.Lock()
	p.sessions[key].LastActivity = time.Now().Add(-time.Hour)
	p.mu.Unlock()

	p.Get(key)
	assert.Equal(t, 0, p.CleanupInactive(context.Background(), 30*time.Minute))
}

func TestMarkDisconnected(t *testing.T) {
	s := &script{loginResult: brokers.LoginResult{Completed: true, AccountID: "F100"}}
	p, _, _ := testPool(t, s)

	_, err := p.Connect(context.Background(), "u1", "fake", nil)
	require.NoError(t, err)

	key := types.ConnectionKey{UserID: "u1", BrokerName: "fake", AccountID: "F100"}
	p.MarkDisconnected(key)

	sess := p.Get(key)
	require.NotNil(t, sess)
	assert.False(t, sess.Connected)

	stats := p.Stats()
	assert.Equal(t, 1, stats.Total)
	assert.Equal(t, 0, stats.Active)
	assert.Equal(t, 1, stats.Inactive)
}

func TestGetReturnsCopy(t *testing.T) {
	s := &script{loginResult: brokers.LoginResult{Completed: true, AccountID: "F100"}}
	p, _, _ := testPool(t, s)

	_, err := p.Connect(context.Background(), "u1", "fake", nil)
	require.NoError(t, err)

	key := types.ConnectionKey{UserID: "u1", BrokerName: "fake", AccountID: "F100"}
	sess := p.Get(key)
	require.NotNil(t, sess)
	require.True(t, sess.Connected)

	p.MarkDisconnected(key)

	// The earlier snapshot is untouched; a fresh Get sees the change.
	assert.True(t, sess.Connected)
	assert.False(t, p.Get(key).Connected)
}

func TestGetConcurrentWithMarkDisconnected(t *testing.T) {
	s := &script{loginResult: brokers.LoginResult{Completed: true, AccountID: "F100"}}
	p, _, _ := testPool(t, s)

	_, err := p.Connect(context.Background(), "u1", "fake", nil)
	require.NoError(t, err)

	key := types.ConnectionKey{UserID: "u1", BrokerName: "fake", AccountID: "F100"}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			if sess := p.Get(key); sess != nil {
				_ = sess.Connected
			}
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			p.MarkDisconnected(key)
		}
	}()
	wg.Wait()
}

func TestDisconnectReleasesKeyLock(t *testing.T) {
	s := &script{loginResult: brokers.LoginResult{Completed: true, AccountID: "F100"}}
	p, _, _ := testPool(t, s)

	_, err := p.Connect(context.Background(), "u1", "fake", nil)
	require.NoError(t, err)

	key := types.ConnectionKey{UserID: "u1", BrokerName: "fake", AccountID: "F100"}
	p.Disconnect(context.Background(), key)

	p.keyMu.Lock()
	remaining := len(p.keyLocks)
	p.keyMu.Unlock()
	assert.Equal(t, 0, remaining)
}

func TestStatsGroupsByBrokerAndUser(t *testing.T) {
	s := &script{loginResult: brokers.LoginResult{Completed: true, AccountID: "F100"}}
	p, _, _ := testPool(t, s)

	_, err := p.Connect(context.Background(), "u1", "fake", nil)
	require.NoError(t, err)
	_, err = p.Connect(context.Background(), "u2", "fake", nil)
	require.NoError(t, err)

	stats := p.Stats()
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 2, stats.ByBroker["fake"])
	assert.Equal(t, 1, stats.ByUser["u1"])
	assert.Equal(t, 1, stats.ByUser["u2"])
}
