package orders

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ravitejakamalapuram/copytradepro-sub006/internal/brokers"
	"github.com/ravitejakamalapuram/copytradepro-sub006/internal/pool"
	"github.com/ravitejakamalapuram/copytradepro-sub006/internal/types"
	"github.com/ravitejakamalapuram/copytradepro-sub006/pkg/retry"
)

const (
	// Status checks are less urgent than placement, so the retry cap is lower.
	reconcileAttempts = 2
	reconcileBackoff  = time.Second
)

// ErrOrderNotFound distinguishes a missing order record from a missing
// session (brokers.ErrBrokerConnection).
var ErrOrderNotFound = fmt.Errorf("order not found")

// Broadcaster pushes order events to a user's connected clients. Delivery is
// best-effort, at most once; the implementation bounds its own retries.
type Broadcaster interface {
	SendToUser(ctx context.Context, userID, eventName string, payload interface{}) types.Delivery
}

// ReconcileResult reports whether a reconciliation pass observed a change.
type ReconcileResult struct {
	Changed   bool              `json:"changed"`
	NewStatus types.OrderStatus `json:"new_status"`
}

// Reconciler polls brokers for authoritative order state and, only on a
// genuine change, persists and broadcasts the update. Persisted status takes
// priority over delivery: a failed broadcast never rolls back the write.
type Reconciler struct {
	pool        *pool.Pool
	db          *Database
	broadcaster Broadcaster
}

// NewReconciler wires the reconciliation pipeline. broadcaster may be nil,
// in which case updates are persisted without client push.
func NewReconciler(p *pool.Pool, db *Database, broadcaster Broadcaster) *Reconciler {
	return &Reconciler{
		pool:        p,
		db:          db,
		broadcaster: broadcaster,
	}
}

// Reconcile fetches the broker's view of one order and reflects any change.
// A second call with no intervening broker-side change is an idempotent
// no-op: no write, no broadcast.
func (r *Reconciler) Reconcile(ctx context.Context, orderID string) (*ReconcileResult, error) {
	order, err := r.db.GetOrder(orderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}

	logger := log.With().
		Str("order_id", orderID).
		Str("broker_order_id", order.BrokerOrderID).
		Logger()

	key := types.ConnectionKey{
		UserID:     order.UserID,
		BrokerName: order.BrokerName,
		AccountID:  order.BrokerAccountID,
	}
	sess := r.pool.Get(key)
	if sess == nil || !sess.Connected {
		return nil, fmt.Errorf("%w: %s", brokers.ErrBrokerConnection, key.String())
	}

	var detail *brokers.OrderDetail
	policy := retry.Policy{
		MaxAttempts: reconcileAttempts,
		BaseDelay:   reconcileBackoff,
		RetryIf: func(err error) bool {
			return brokers.Classify(err).Retryable
		},
	}
	result := policy.Do(ctx, func() error {
		d, err := sess.Adapter.OrderStatus(ctx, order.BrokerOrderID)
		if err != nil {
			return err
		}
		detail = d
		return nil
	})
	if result.Err != nil {
		classified := brokers.Classify(result.Err)
		logger.Warn().
			Err(result.Err).
			Str("code", string(classified.Code)).
			Int("attempts", result.Attempts).
			Msg("order status fetch failed")
		return nil, classified
	}

	mapped := types.MapBrokerStatus(detail.Status)
	if mapped == order.Status {
		return &ReconcileResult{Changed: false, NewStatus: order.Status}, nil
	}

	if !order.Status.CanTransitionTo(mapped) {
		logger.Warn().
			Str("stored_status", string(order.Status)).
			Str("broker_status", detail.Status).
			Str("mapped_status", string(mapped)).
			Msg("ignoring disallowed status transition")
		return &ReconcileResult{Changed: false, NewStatus: order.Status}, nil
	}

	if err := r.db.UpdateOrderStatus(order.OrderID, mapped, detail.FilledQuantity, detail.AveragePrice); err != nil {
		return nil, err
	}

	logger.Info().
		Str("old_status", string(order.Status)).
		Str("new_status", string(mapped)).
		Msg("order status changed")

	if r.broadcaster != nil {
		delivery := r.broadcaster.SendToUser(ctx, order.UserID, "order_status_changed", map[string]interface{}{
			"order_id":      order.OrderID,
			"account_id":    order.AccountID,
			"symbol":        order.Symbol,
			"old_status":    order.Status,
			"new_status":    mapped,
			"filled_qty":    detail.FilledQuantity,
			"average_price": detail.AveragePrice,
		})
		if !delivery.Delivered {
			// Status durability beats delivery; the write stands.
			logger.Warn().
				Int("retries_used", delivery.RetriesUsed).
				Msg("order update broadcast failed")
		}
	}

	return &ReconcileResult{Changed: true, NewStatus: mapped}, nil
}

// ReconcileOpen runs one reconciliation pass over every non-terminal order.
// Designed for a periodic poller; per-order failures are logged and skipped.
func (r *Reconciler) ReconcileOpen(ctx context.Context) {
	open, err := r.db.GetOpenOrders()
	if err != nil {
		log.Error().Err(err).Msg("failed to list open orders for reconciliation")
		return
	}

	for i := range open {
		if _, err := r.Reconcile(ctx, open[i].OrderID); err != nil {
			log.Debug().Err(err).Str("order_id", open[i].OrderID).Msg("reconciliation skipped")
		}
	}
}

// RunPoller reconciles open orders on a fixed interval until ctx is done.
func (r *Reconciler) RunPoller(ctx context.Context, interval time.Duration) {
	logger := log.With().Str("component", "order_reconciler").Logger()
	logger.Info().Dur("interval", interval).Msg("starting order status poller")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("shutting down order status poller")
			return
		case <-ticker.C:
			r.ReconcileOpen(ctx)
		}
	}
}
