package brokers

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ravitejakamalapuram/copytradepro-sub006/internal/types"
)

// Compile-time interface check.
var _ Broker = (*PaperBroker)(nil)

// PaperBroker is an in-memory broker simulation used for paper trading and
// development. It models latency, liquidity, and execution success rates so
// the pipelines above it exercise their retry and partial-fill paths.
type PaperBroker struct {
	mu        sync.Mutex
	loggedIn  bool
	accountID string
	orders    map[string]*OrderDetail

	// Simulation knobs.
	MinLatency      time.Duration
	MaxLatency      time.Duration
	SuccessRate     float64 // 0-1, probability a placement is accepted
	LiquidityFactor float64 // 0-1, share of quantity filled immediately
}

// NewPaperBroker creates a paper adapter with default simulation parameters.
func NewPaperBroker() *PaperBroker {
	return &PaperBroker{
		orders:          make(map[string]*OrderDetail),
		MinLatency:      5 * time.Millisecond,
		MaxLatency:      30 * time.Millisecond,
		SuccessRate:     0.95,
		LiquidityFactor: 0.9,
	}
}

// Name returns "paper".
func (b *PaperBroker) Name() string { return "paper" }

func (b *PaperBroker) simulateLatency(ctx context.Context) error {
	span := b.MaxLatency - b.MinLatency
	latency := b.MinLatency
	if span > 0 {
		latency += time.Duration(rand.Int63n(int64(span)))
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(latency):
		return nil
	}
}

// Login always succeeds immediately with a synthetic account id.
func (b *PaperBroker) Login(ctx context.Context, creds Credentials) (*LoginResult, error) {
	if err := b.simulateLatency(ctx); err != nil {
		return nil, Classify(err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.loggedIn = true
	b.accountID = creds["client_id"]
	if b.accountID == "" {
		b.accountID = fmt.Sprintf("PAPER-%06d", rand.Intn(1000000))
	}
	return &LoginResult{Completed: true, AccountID: b.accountID}, nil
}

// CompleteAuth is unsupported: paper trading has no redirect flow.
func (b *PaperBroker) CompleteAuth(_ context.Context, _ string, _ Credentials) (*LoginResult, error) {
	return nil, NewClassifiedError(CodeAuthError, fmt.Errorf("paper broker does not use redirect authentication"))
}

// ValidateSession succeeds while logged in.
func (b *PaperBroker) ValidateSession(ctx context.Context) error {
	if err := b.simulateLatency(ctx); err != nil {
		return Classify(err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.loggedIn {
		return NewClassifiedError(CodeAuthError, fmt.Errorf("paper session not logged in"))
	}
	return nil
}

// RefreshSession is a no-op success for a live paper session.
func (b *PaperBroker) RefreshSession(_ context.Context) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.loggedIn {
		return false, NewClassifiedError(CodeAuthError, fmt.Errorf("paper session not logged in"))
	}
	return true, nil
}

// PlaceOrder simulates acceptance against the configured success rate, then
// fills according to the liquidity factor. Unfilled remainders stay open as
// partially filled orders.
func (b *PaperBroker) PlaceOrder(ctx context.Context, req *types.OrderRequest) (*PlaceResult, error) {
	if err := b.simulateLatency(ctx); err != nil {
		return nil, Classify(err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.loggedIn {
		return nil, NewClassifiedError(CodeAuthError, fmt.Errorf("paper session not logged in"))
	}

	if rand.Float64() > b.SuccessRate {
		log.Warn().Str("broker", "paper").Str("symbol", req.Symbol).Msg("simulated placement failure")
		return nil, NewClassifiedError(CodeBrokerError, fmt.Errorf("simulated execution failure"))
	}

	filled := req.Quantity
	status := "COMPLETE"
	if rand.Float64() > b.LiquidityFactor {
		filled = int(float64(req.Quantity) * b.LiquidityFactor)
		if filled <= 0 {
			return nil, NewClassifiedError(CodeOrderRejected, fmt.Errorf("insufficient simulated liquidity"))
		}
		if filled < req.Quantity {
			status = "PARTIALLY_FILLED"
		}
	}

	// Limit-style orders rest instead of filling immediately.
	if req.Kind != types.KindMarket {
		status = "OPEN"
		filled = 0
	}

	orderID := fmt.Sprintf("PAPER-%d", rand.Int63())
	price := req.Price
	if price == 0 {
		price = 100 + rand.Float64()*50
	}
	b.orders[orderID] = &OrderDetail{
		BrokerOrderID:  orderID,
		Symbol:         req.Symbol,
		Status:         status,
		Quantity:       req.Quantity,
		FilledQuantity: filled,
		AveragePrice:   price * (1 + (rand.Float64()*0.04 - 0.02)),
		UpdatedAt:      time.Now(),
	}

	return &PlaceResult{BrokerOrderID: orderID, Status: "PLACED"}, nil
}

// ModifyOrder updates quantity and price on a resting order.
func (b *PaperBroker) ModifyOrder(ctx context.Context, brokerOrderID string, req *types.OrderRequest) error {
	if err := b.simulateLatency(ctx); err != nil {
		return Classify(err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	o, ok := b.orders[brokerOrderID]
	if !ok {
		return NewClassifiedError(CodeOrderRejected, fmt.Errorf("paper order %s not found", brokerOrderID))
	}
	o.Quantity = req.Quantity
	o.UpdatedAt = time.Now()
	return nil
}

// CancelOrder cancels a resting order.
func (b *PaperBroker) CancelOrder(ctx context.Context, brokerOrderID string) error {
	if err := b.simulateLatency(ctx); err != nil {
		return Classify(err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	o, ok := b.orders[brokerOrderID]
	if !ok {
		return NewClassifiedError(CodeOrderRejected, fmt.Errorf("paper order %s not found", brokerOrderID))
	}
	if o.Status == "COMPLETE" {
		return NewClassifiedError(CodeOrderRejected, fmt.Errorf("paper order %s already executed", brokerOrderID))
	}
	o.Status = "CANCELLED"
	o.UpdatedAt = time.Now()
	return nil
}

// OrderStatus returns the stored order. Resting orders drift toward execution
// so reconciliation cycles observe genuine status changes.
func (b *PaperBroker) OrderStatus(ctx context.Context, brokerOrderID string) (*OrderDetail, error) {
	if err := b.simulateLatency(ctx); err != nil {
		return nil, Classify(err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	o, ok := b.orders[brokerOrderID]
	if !ok {
		return nil, NewClassifiedError(CodeOrderRejected, fmt.Errorf("paper order %s not found", brokerOrderID))
	}

	if o.Status == "OPEN" && rand.Float64() < 0.5 {
		o.Status = "COMPLETE"
		o.FilledQuantity = o.Quantity
		o.UpdatedAt = time.Now()
	}

	detail := *o
	return &detail, nil
}

// OrderHistory returns all simulated orders.
func (b *PaperBroker) OrderHistory(ctx context.Context) ([]OrderDetail, error) {
	if err := b.simulateLatency(ctx); err != nil {
		return nil, Classify(err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	details := make([]OrderDetail, 0, len(b.orders))
	for _, o := range b.orders {
		details = append(details, *o)
	}
	return details, nil
}

// Positions derives positions from executed simulated orders.
func (b *PaperBroker) Positions(ctx context.Context) ([]types.Position, error) {
	if err := b.simulateLatency(ctx); err != nil {
		return nil, Classify(err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	bySymbol := make(map[string]*types.Position)
	for _, o := range b.orders {
		if o.FilledQuantity == 0 {
			continue
		}
		p, ok := bySymbol[o.Symbol]
		if !ok {
			p = &types.Position{Symbol: o.Symbol, Product: string(types.ProductDelivery)}
			bySymbol[o.Symbol] = p
		}
		p.Quantity += o.FilledQuantity
		p.AveragePrice = o.AveragePrice
	}

	positions := make([]types.Position, 0, len(bySymbol))
	for _, p := range bySymbol {
		positions = append(positions, *p)
	}
	return positions, nil
}

// Quote synthesizes a quote around a stable pseudo-price per symbol.
func (b *PaperBroker) Quote(ctx context.Context, symbol, exchange string) (*types.Quote, error) {
	if err := b.simulateLatency(ctx); err != nil {
		return nil, Classify(err)
	}
	base := 100.0 + float64(len(symbol)*37%400)
	last := base * (1 + (rand.Float64()*0.02 - 0.01))
	return &types.Quote{
		Symbol:    symbol,
		Exchange:  exchange,
		LastPrice: last,
		Open:      base,
		High:      last * 1.01,
		Low:       last * 0.99,
		Close:     base,
		Volume:    rand.Int63n(1_000_000),
	}, nil
}

// Logout clears the simulated session.
func (b *PaperBroker) Logout(_ context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.loggedIn = false
	return nil
}
