package brokers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ravitejakamalapuram/copytradepro-sub006/internal/types"
)

// deterministicPaper disables the latency and failure simulation so tests
// observe fixed outcomes.
func deterministicPaper(t *testing.T) *PaperBroker {
	t.Helper()
	b := NewPaperBroker()
	b.MinLatency = 0
	b.MaxLatency = 0
	b.SuccessRate = 1
	b.LiquidityFactor = 1
	return b
}

func TestPaperLoginAndValidate(t *testing.T) {
	b := deterministicPaper(t)
	ctx := context.Background()

	assert.Error(t, b.ValidateSession(ctx))

	result, err := b.Login(ctx, Credentials{"client_id": "P1"})
	require.NoError(t, err)
	assert.True(t, result.Completed)
	assert.Equal(t, "P1", result.AccountID)
	assert.NoError(t, b.ValidateSession(ctx))

	require.NoError(t, b.Logout(ctx))
	assert.Error(t, b.ValidateSession(ctx))
}

func TestPaperRequiresLoginToTrade(t *testing.T) {
	b := deterministicPaper(t)
	_, err := b.PlaceOrder(context.Background(), &types.OrderRequest{
		Symbol: "INFY", Action: types.ActionBuy, Quantity: 5, Kind: types.KindMarket,
	})
	require.Error(t, err)
	assert.Equal(t, CodeAuthError, Classify(err).Code)
}

func TestPaperMarketOrderFillsImmediately(t *testing.T) {
	b := deterministicPaper(t)
	ctx := context.Background()
	_, err := b.Login(ctx, nil)
	require.NoError(t, err)

	placed, err := b.PlaceOrder(ctx, &types.OrderRequest{
		Symbol: "INFY", Action: types.ActionBuy, Quantity: 5, Kind: types.KindMarket,
	})
	require.NoError(t, err)
	require.NotEmpty(t, placed.BrokerOrderID)

	detail, err := b.OrderStatus(ctx, placed.BrokerOrderID)
	require.NoError(t, err)
	assert.Equal(t, "COMPLETE", detail.Status)
	assert.Equal(t, 5, detail.FilledQuantity)
	assert.Greater(t, detail.AveragePrice, 0.0)

	positions, err := b.Positions(ctx)
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, "INFY", positions[0].Symbol)
	assert.Equal(t, 5, positions[0].Quantity)
}

func TestPaperLimitOrderRestsAndCancels(t *testing.T) {
	b := deterministicPaper(t)
	ctx := context.Background()
	_, err := b.Login(ctx, nil)
	require.NoError(t, err)

	placed, err := b.PlaceOrder(ctx, &types.OrderRequest{
		Symbol: "INFY", Action: types.ActionBuy, Quantity: 5, Kind: types.KindLimit, Price: 90,
	})
	require.NoError(t, err)

	require.NoError(t, b.ModifyOrder(ctx, placed.BrokerOrderID, &types.OrderRequest{Quantity: 8}))
	require.NoError(t, b.CancelOrder(ctx, placed.BrokerOrderID))

	detail, err := b.OrderStatus(ctx, placed.BrokerOrderID)
	require.NoError(t, err)
	assert.Equal(t, "CANCELLED", detail.Status)
	assert.Equal(t, 8, detail.Quantity)

	// Cancelling again is rejected rather than silently accepted.
	assert.Error(t, b.CancelOrder(ctx, "PAPER-unknown"))
}

func TestPaperSimulatedFailure(t *testing.T) {
	b := deterministicPaper(t)
	b.SuccessRate = 0
	ctx := context.Background()
	_, err := b.Login(ctx, nil)
	require.NoError(t, err)

	_, err = b.PlaceOrder(ctx, &types.OrderRequest{
		Symbol: "INFY", Action: types.ActionBuy, Quantity: 5, Kind: types.KindMarket,
	})
	require.Error(t, err)

	classified := Classify(err)
	assert.Equal(t, CodeBrokerError, classified.Code)
	assert.True(t, classified.Retryable)
}

func TestPaperQuote(t *testing.T) {
	b := deterministicPaper(t)
	quote, err := b.Quote(context.Background(), "INFY", "NSE")
	require.NoError(t, err)
	assert.Equal(t, "INFY", quote.Symbol)
	assert.Greater(t, quote.LastPrice, 0.0)
	assert.GreaterOrEqual(t, quote.High, quote.Low)
}
