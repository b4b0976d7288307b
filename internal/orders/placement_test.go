package orders

import (
	"context"
	"errors"
	"path/filepath"
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
	"github.com/ravitejakamalapuram/copytradepro-sub006/internal/pool"
	"github.com/ravitejakamalapuram/copytradepro-sub006/internal/types"
)

// script drives the fake adapter's order behavior across a test.
type script struct {
	accountID  string
	placeCalls atomic.Int32
	placeFn    func(context.Context, *types.OrderRequest) (*brokers.PlaceResult, error)
	statusFn   func() (*brokers.OrderDetail, error)
}

type fakeBroker struct {
	s *script
}

func (f *fakeBroker) Name() string { return "fake" }

func (f *fakeBroker) Login(context.Context, brokers.Credentials) (*brokers.LoginResult, error) {
	return &brokers.LoginResult{Completed: true, AccountID: f.s.accountID}, nil
}

func (f *fakeBroker) CompleteAuth(context.Context, string, brokers.Credentials) (*brokers.LoginResult, error) {
	return nil, errors.New("not supported")
}

func (f *fakeBroker) ValidateSession(context.Context) error { return nil }

func (f *fakeBroker) RefreshSession(context.Context) (bool, error) { return false, nil }

func (f *fakeBroker) PlaceOrder(ctx context.Context, req *types.OrderRequest) (*brokers.PlaceResult, error) {
	f.s.placeCalls.Add(1)
	if f.s.placeFn != nil {
		return f.s.placeFn(ctx, req)
	}
	return &brokers.PlaceResult{BrokerOrderID: "B1", Status: "OPEN"}, nil
}

func (f *fakeBroker) ModifyOrder(context.Context, string, *types.OrderRequest) error { return nil }

func (f *fakeBroker) CancelOrder(context.Context, string) error { return nil }

func (f *fakeBroker) OrderStatus(context.Context, string) (*brokers.OrderDetail, error) {
	if f.s.statusFn != nil {
		return f.s.statusFn()
	}
	return &brokers.OrderDetail{Status: "OPEN"}, nil
}

func (f *fakeBroker) OrderHistory(context.Context) ([]brokers.OrderDetail, error) { return nil, nil }

func (f *fakeBroker) Positions(context.Context) ([]types.Position, error) { return nil, nil }

func (f *fakeBroker) Quote(context.Context, string, string) (*types.Quote, error) {
	return nil, errors.New("not supported")
}

func (f *fakeBroker) Logout(context.Context) error { return nil }

var _ brokers.Broker = (*fakeBroker)(nil)

type env struct {
	script    *script
	pool      *pool.Pool
	accounts  *accounts.Database
	orders    *Database
	placement *Placement
}

func newEnv(t *testing.T) *env {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "orders.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&accounts.ConnectedAccount{}, &Order{}))

	s := &script{accountID: "F100"}
	registry := brokers.NewRegistry()
	require.NoError(t, registry.Register("fake", func() brokers.Broker { return &fakeBroker{s: s} }))

	accountsDB := accounts.NewDatabase(db)
	p := pool.NewPool(registry, oauth.NewStore(0), health.NewMonitor(), accountsDB)
	ordersDB := NewDatabase(db)

	return &env{
		script:    s,
		pool:      p,
		accounts:  accountsDB,
		orders:    ordersDB,
		placement: NewPlacement(p, accountsDB, nil, ordersDB),
	}
}

// connect establishes a live session for (u1, fake, brokerAccountID) and
// returns its key plus the persisted account's internal id.
func (e *env) connect(t *testing.T, brokerAccountID string) (types.ConnectionKey, string) {
	t.Helper()
	e.script.accountID = brokerAccountID
	_, err := e.pool.Connect(context.Background(), "u1", "fake", nil)
	require.NoError(t, err)

	key := types.ConnectionKey{UserID: "u1", BrokerName: "fake", AccountID: brokerAccountID}
	list, err := e.accounts.GetAccountsByUser("u1")
	require.NoError(t, err)
	for _, a := range list {
		if a.BrokerAccountID == brokerAccountID {
			return key, a.AccountID
		}
	}
	t.Fatalf("no persisted account for %s", brokerAccountID)
	return key, ""
}

func marketOrder() *types.OrderRequest {
	return &types.OrderRequest{
		Symbol:   "RELIANCE",
		Exchange: "NSE",
		Action:   types.ActionBuy,
		Quantity: 10,
		Kind:     types.KindMarket,
		Product:  types.ProductIntraday,
		Validity: types.ValidityDay,
	}
}

func TestPlaceOrderValidationFailsFast(t *testing.T) {
	e := newEnv(t)
	key, _ := e.connect(t, "F100")

	req := marketOrder()
	req.Quantity = 0
	resp := e.placement.PlaceOrder(context.Background(), key, req)

	assert.False(t, resp.Success)
	assert.Equal(t, ErrorTypeValidation, resp.ErrorType)
	// The broker is never consulted for a malformed request.
	assert.Equal(t, int32(0), e.script.placeCalls.Load())
}

func TestPlaceOrderValidationRules(t *testing.T) {
	e := newEnv(t)
	key, _ := e.connect(t, "F100")

	limit := marketOrder()
	limit.Kind = types.KindLimit
	resp := e.placement.PlaceOrder(context.Background(), key, limit)
	assert.Equal(t, ErrorTypeValidation, resp.ErrorType)

	stop := marketOrder()
	stop.Kind = types.KindSLMarket
	resp = e.placement.PlaceOrder(context.Background(), key, stop)
	assert.Equal(t, ErrorTypeValidation, resp.ErrorType)

	bad := marketOrder()
	bad.Action = "HOLD"
	resp = e.placement.PlaceOrder(context.Background(), key, bad)
	assert.Equal(t, ErrorTypeValidation, resp.ErrorType)
}

func TestPlaceOrderWithoutSession(t *testing.T) {
	e := newEnv(t)
	key := types.ConnectionKey{UserID: "u1", BrokerName: "fake", AccountID: "F100"}

	resp := e.placement.PlaceOrder(context.Background(), key, marketOrder())

	assert.False(t, resp.Success)
	assert.Equal(t, ErrorTypeAuthRequired, resp.ErrorType)
	assert.Equal(t, int32(0), e.script.placeCalls.Load())
}

func TestPlaceOrderSuccess(t *testing.T) {
	e := newEnv(t)
	key, accountID := e.connect(t, "F100")

	resp := e.placement.PlaceOrder(context.Background(), key, marketOrder())

	require.True(t, resp.Success)
	assert.Equal(t, types.StatusPlaced, resp.Status)
	assert.Equal(t, "B1", resp.BrokerOrderID)
	assert.NotEmpty(t, resp.OrderID)

	order, err := e.orders.GetOrder(resp.OrderID)
	require.NoError(t, err)
	require.NotNil(t, order)
	assert.Equal(t, types.StatusPlaced, order.Status)
	assert.Equal(t, "B1", order.BrokerOrderID)
	assert.Equal(t, accountID, order.AccountID)
	assert.Equal(t, "F100", order.BrokerAccountID)
}

func TestPlaceOrderRetriesTransientFailure(t *testing.T) {
	e := newEnv(t)
	key, _ := e.connect(t, "F100")

	e.script.placeFn = func(context.Context, *types.OrderRequest) (*brokers.PlaceResult, error) {
		if e.script.placeCalls.Load() < 3 {
			return nil, brokers.NewClassifiedError(brokers.CodeNetworkError, errors.New("connection reset"))
		}
		return &brokers.PlaceResult{BrokerOrderID: "B1", Status: "OPEN"}, nil
	}

	resp := e.placement.PlaceOrder(context.Background(), key, marketOrder())

	assert.True(t, resp.Success)
	assert.Equal(t, int32(3), e.script.placeCalls.Load())
}

func TestPlaceOrderNonRetryableStopsImmediately(t *testing.T) {
	e := newEnv(t)
	key, _ := e.connect(t, "F100")

	e.script.placeFn = func(context.Context, *types.OrderRequest) (*brokers.PlaceResult, error) {
		return nil, brokers.NewClassifiedError(brokers.CodeInsufficientFunds, errors.New("margin shortfall"))
	}

	resp := e.placement.PlaceOrder(context.Background(), key, marketOrder())

	assert.False(t, resp.Success)
	assert.Equal(t, string(brokers.CodeInsufficientFunds), resp.ErrorType)
	assert.False(t, resp.Retryable)
	assert.Equal(t, int32(1), e.script.placeCalls.Load())

	// Raw broker text never reaches the response.
	assert.NotContains(t, resp.Message, "margin shortfall")

	order, err := e.orders.GetOrder(resp.OrderID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusFailed, order.Status)
	assert.Equal(t, string(brokers.CodeInsufficientFunds), order.ErrorType)
}

func TestPlaceOrderExhaustsRetries(t *testing.T) {
	e := newEnv(t)
	key, _ := e.connect(t, "F100")

	e.script.placeFn = func(context.Context, *types.OrderRequest) (*brokers.PlaceResult, error) {
		return nil, brokers.NewClassifiedError(brokers.CodeBrokerError, errors.New("service unavailable"))
	}

	resp := e.placement.PlaceOrder(context.Background(), key, marketOrder())

	assert.False(t, resp.Success)
	assert.True(t, resp.Retryable)
	assert.Equal(t, types.StatusFailed, resp.Status)
	assert.Equal(t, int32(3), e.script.placeCalls.Load())
}

func TestPlaceOrderTimeout(t *testing.T) {
	e := newEnv(t)
	key, _ := e.connect(t, "F100")

	// The adapter hangs until the placement deadline expires.
	e.script.placeFn = func(ctx context.Context, _ *types.OrderRequest) (*brokers.PlaceResult, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	resp := e.placement.PlaceOrder(ctx, key, marketOrder())

	assert.False(t, resp.Success)
	assert.Equal(t, string(brokers.CodeTimeout), resp.ErrorType)
	assert.True(t, resp.Retryable)
	assert.Equal(t, types.StatusFailed, resp.Status)

	order, err := e.orders.GetOrder(resp.OrderID)
	require.NoError(t, err)
	require.NotNil(t, order)
	assert.Equal(t, types.StatusFailed, order.Status)
	assert.Equal(t, string(brokers.CodeTimeout), order.ErrorType)
}

func TestPlaceMultiAccountPartialSuccess(t *testing.T) {
	e := newEnv(t)
	_, firstID := e.connect(t, "F100")
	_, secondID := e.connect(t, "F200")

	// Disconnect the second account's session so its placement fails.
	e.pool.Disconnect(context.Background(), types.ConnectionKey{
		UserID:     "u1",
		BrokerName: "fake",
		AccountID:  "F200",
	})

	resp := e.placement.PlaceMultiAccount(context.Background(), "u1", []string{firstID, secondID}, marketOrder())

	assert.True(t, resp.Success)
	assert.Equal(t, 1, resp.SuccessCount)
	assert.Equal(t, 1, resp.FailureCount)
	require.Len(t, resp.Results, 2)
	assert.True(t, resp.Results[0].Success)
	assert.Equal(t, firstID, resp.Results[0].AccountID)
	assert.False(t, resp.Results[1].Success)
	assert.Equal(t, ErrorTypeAuthRequired, resp.Results[1].ErrorType)
}

func TestPlaceMultiAccountOneAccountTimesOut(t *testing.T) {
	e := newEnv(t)
	_, firstID := e.connect(t, "F100")
	_, secondID := e.connect(t, "F200")

	// The second account's broker call hangs; the first fills immediately.
	e.script.placeFn = func(ctx context.Context, req *types.OrderRequest) (*brokers.PlaceResult, error) {
		if req.AccountID == secondID {
			<-ctx.Done()
			return nil, ctx.Err()
		}
		return &brokers.PlaceResult{BrokerOrderID: "B1", Status: "OPEN"}, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	resp := e.placement.PlaceMultiAccount(ctx, "u1", []string{firstID, secondID}, marketOrder())

	assert.True(t, resp.Success)
	assert.Equal(t, 1, resp.SuccessCount)
	assert.Equal(t, 1, resp.FailureCount)
	require.Len(t, resp.Results, 2)
	assert.True(t, resp.Results[0].Success)
	assert.Equal(t, firstID, resp.Results[0].AccountID)
	assert.False(t, resp.Results[1].Success)
	assert.Equal(t, string(brokers.CodeTimeout), resp.Results[1].ErrorType)
	assert.Equal(t, secondID, resp.Results[1].AccountID)
}

func TestPlaceMultiAccountAllFail(t *testing.T) {
	e := newEnv(t)
	resp := e.placement.PlaceMultiAccount(context.Background(), "u1", []string{"ACC_missing"}, marketOrder())

	assert.False(t, resp.Success)
	assert.Equal(t, 0, resp.SuccessCount)
	assert.Equal(t, 1, resp.FailureCount)
}

func TestPlaceForAccountRejectsForeignAccount(t *testing.T) {
	e := newEnv(t)
	_, accountID := e.connect(t, "F100")

	resp := e.placement.PlaceForAccount(context.Background(), "intruder", accountID, marketOrder())

	assert.False(t, resp.Success)
	assert.Equal(t, ErrorTypeAuthRequired, resp.ErrorType)
	assert.Equal(t, int32(0), e.script.placeCalls.Load())
}
