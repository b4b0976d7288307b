// Package orders implements the order placement and status reconciliation
// pipelines that sit between API callers and the broker adapters.
package orders

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/ravitejakamalapuram/copytradepro-sub006/internal/accounts"
	"github.com/ravitejakamalapuram/copytradepro-sub006/internal/brokers"
	"github.com/ravitejakamalapuram/copytradepro-sub006/internal/pool"
	"github.com/ravitejakamalapuram/copytradepro-sub006/internal/symbols"
	"github.com/ravitejakamalapuram/copytradepro-sub006/internal/types"
	"github.com/ravitejakamalapuram/copytradepro-sub006/pkg/retry"
)

const (
	placementAttempts = 3
	placementBackoff  = time.Second
	placementTimeout  = 30 * time.Second
)

// Error types surfaced on structured placement failures, alongside the
// classified broker codes.
const (
	ErrorTypeValidation   = "VALIDATION_ERROR"
	ErrorTypeAuthRequired = "AUTH_REQUIRED"
)

var validKinds = map[types.OrderKind]bool{
	types.KindMarket:   true,
	types.KindLimit:    true,
	types.KindSLLimit:  true,
	types.KindSLMarket: true,
}

var validActions = map[types.OrderAction]bool{
	types.ActionBuy:  true,
	types.ActionSell: true,
}

// Placement is the order placement pipeline: validate, resolve the live
// session, translate, and delegate to the adapter under bounded retries.
// Failures surface as structured OrderResponses, never as errors, so
// multi-account fan-out can continue past individual failures.
type Placement struct {
	pool     *pool.Pool
	accounts *accounts.Database
	symbols  *symbols.Database
	db       *Database
}

// NewPlacement wires the placement pipeline. symbolsDB may be nil; symbol
// metadata is optional and its absence never blocks placement.
func NewPlacement(p *pool.Pool, accountsDB *accounts.Database, symbolsDB *symbols.Database, db *Database) *Placement {
	return &Placement{
		pool:     p,
		accounts: accountsDB,
		symbols:  symbolsDB,
		db:       db,
	}
}

// validate checks the request shape before any broker call is made.
func validate(req *types.OrderRequest) error {
	switch {
	case req.Symbol == "":
		return fmt.Errorf("%w: symbol is required", brokers.ErrValidation)
	case req.Quantity <= 0:
		return fmt.Errorf("%w: quantity must be positive", brokers.ErrValidation)
	case !validKinds[req.Kind]:
		return fmt.Errorf("%w: unsupported order type %q", brokers.ErrValidation, req.Kind)
	case !validActions[req.Action]:
		return fmt.Errorf("%w: action must be BUY or SELL", brokers.ErrValidation)
	case req.Kind == types.KindLimit && req.Price <= 0:
		return fmt.Errorf("%w: limit orders require a positive price", brokers.ErrValidation)
	case (req.Kind == types.KindSLLimit || req.Kind == types.KindSLMarket) && req.TriggerPrice <= 0:
		return fmt.Errorf("%w: stop orders require a positive trigger price", brokers.ErrValidation)
	}
	return nil
}

// PlaceOrder runs the placement pipeline for one ConnectionKey. The returned
// response is always non-nil; failures carry a machine-readable error type
// and a user-facing message.
func (s *Placement) PlaceOrder(ctx context.Context, key types.ConnectionKey, req *types.OrderRequest) *types.OrderResponse {
	logger := log.With().
		Str("session", key.String()).
		Str("symbol", req.Symbol).
		Str("action", string(req.Action)).
		Int("quantity", req.Quantity).
		Logger()

	if err := validate(req); err != nil {
		logger.Debug().Err(err).Msg("order failed validation")
		return &types.OrderResponse{
			Success:   false,
			AccountID: key.AccountID,
			ErrorType: ErrorTypeValidation,
			Message:   err.Error(),
		}
	}

	sess := s.pool.Get(key)
	if sess == nil || !sess.Connected {
		logger.Debug().Msg("no live session for key; order not sent")
		return &types.OrderResponse{
			Success:   false,
			AccountID: key.AccountID,
			ErrorType: ErrorTypeAuthRequired,
			Message:   "No active broker session. Please reconnect your account.",
		}
	}

	s.resolveSymbol(req)

	order := &Order{
		OrderID:         uuid.New().String(),
		UserID:          key.UserID,
		AccountID:       sess.AccountRecordID,
		BrokerName:      key.BrokerName,
		BrokerAccountID: key.AccountID,
		Symbol:          req.Symbol,
		Exchange:        req.Exchange,
		Action:          req.Action,
		Kind:            req.Kind,
		Quantity:        req.Quantity,
		Price:           req.Price,
		TriggerPrice:    req.TriggerPrice,
		Product:         req.Product,
		Validity:        req.Validity,
		Status:          types.StatusPending,
		CreatedAt:       time.Now(),
		UpdatedAt:       time.Now(),
	}
	if err := s.db.CreateOrder(order); err != nil {
		logger.Error().Err(err).Msg("failed to persist order record")
		return &types.OrderResponse{
			Success:   false,
			AccountID: key.AccountID,
			ErrorType: string(brokers.CodeUnknown),
			Message:   "Could not record the order. Please try again.",
		}
	}

	// The overall deadline is independent of the retry loop's own bounds so
	// a hung broker call cannot block the caller.
	callCtx, cancel := context.WithTimeout(ctx, placementTimeout)
	defer cancel()

	var placed *brokers.PlaceResult
	policy := retry.Policy{
		MaxAttempts: placementAttempts,
		BaseDelay:   placementBackoff,
		RetryIf: func(err error) bool {
			return brokers.Classify(err).Retryable
		},
	}
	result := policy.Do(callCtx, func() error {
		res, err := sess.Adapter.PlaceOrder(callCtx, req)
		if err != nil {
			return err
		}
		placed = res
		return nil
	})

	if result.Err != nil {
		classified := brokers.Classify(result.Err)
		logger.Warn().
			Err(result.Err).
			Str("code", string(classified.Code)).
			Int("attempts", result.Attempts).
			Msg("order placement failed")

		order.Status = types.StatusFailed
		order.ErrorType = string(classified.Code)
		order.ErrorMessage = classified.Message
		if err := s.db.UpdateOrder(order); err != nil {
			logger.Error().Err(err).Msg("failed to record order failure")
		}

		return &types.OrderResponse{
			Success:   false,
			OrderID:   order.OrderID,
			AccountID: key.AccountID,
			Status:    types.StatusFailed,
			ErrorType: string(classified.Code),
			Message:   classified.Message,
			Retryable: classified.Retryable,
		}
	}

	order.Status = types.StatusPlaced
	order.BrokerOrderID = placed.BrokerOrderID
	if err := s.db.UpdateOrder(order); err != nil {
		logger.Error().Err(err).Msg("failed to record broker order id")
	}

	logger.Info().
		Str("order_id", order.OrderID).
		Str("broker_order_id", placed.BrokerOrderID).
		Int("attempts", result.Attempts).
		Msg("order placed")

	return &types.OrderResponse{
		Success:       true,
		OrderID:       order.OrderID,
		BrokerOrderID: placed.BrokerOrderID,
		AccountID:     key.AccountID,
		Status:        types.StatusPlaced,
	}
}

// resolveSymbol fills in exchange metadata when the symbol store knows the
// instrument. Unknown symbols pass through unchanged.
func (s *Placement) resolveSymbol(req *types.OrderRequest) {
	if s.symbols == nil || req.Exchange == "" {
		return
	}
	meta, err := s.symbols.GetByTradingSymbol(req.Symbol, req.Exchange)
	if err != nil || meta == nil {
		return
	}
	if meta.LotSize > 1 && req.Quantity%meta.LotSize != 0 {
		log.Debug().
			Str("symbol", req.Symbol).
			Int("lot_size", meta.LotSize).
			Int("quantity", req.Quantity).
			Msg("quantity is not a lot-size multiple")
	}
}

// PlaceMultiAccount fans a single order request out across several of the
// user's accounts concurrently. Partial success is a first-class outcome:
// the aggregate succeeds when at least one account accepted the order.
func (s *Placement) PlaceMultiAccount(ctx context.Context, userID string, accountIDs []string, req *types.OrderRequest) *types.MultiAccountOrderResponse {
	results := make([]types.OrderResponse, len(accountIDs))

	var wg sync.WaitGroup
	for i, accountID := range accountIDs {
		wg.Add(1)
		go func(i int, accountID string) {
			defer wg.Done()
			results[i] = s.PlaceForAccount(ctx, userID, accountID, req)
		}(i, accountID)
	}
	wg.Wait()

	resp := &types.MultiAccountOrderResponse{Results: results}
	for _, r := range results {
		if r.Success {
			resp.SuccessCount++
		} else {
			resp.FailureCount++
		}
	}
	resp.Success = resp.SuccessCount > 0

	log.Info().
		Str("user_id", userID).
		Int("success_count", resp.SuccessCount).
		Int("failure_count", resp.FailureCount).
		Msg("multi-account placement completed")
	return resp
}

// PlaceForAccount resolves a persisted account id to its ConnectionKey and
// runs the single-account pipeline.
func (s *Placement) PlaceForAccount(ctx context.Context, userID, accountID string, req *types.OrderRequest) types.OrderResponse {
	account, err := s.accounts.GetAccount(accountID)
	if err != nil || account == nil || account.UserID != userID {
		return types.OrderResponse{
			Success:   false,
			AccountID: accountID,
			ErrorType: ErrorTypeAuthRequired,
			Message:   "Account not found or not connected.",
		}
	}

	key := types.ConnectionKey{
		UserID:     userID,
		BrokerName: account.BrokerName,
		AccountID:  account.BrokerAccountID,
	}
	reqCopy := *req
	reqCopy.AccountID = accountID
	resp := s.PlaceOrder(ctx, key, &reqCopy)
	resp.AccountID = accountID
	return *resp
}
