package orders

import (
	"github.com/gin-gonic/gin"

	"github.com/ravitejakamalapuram/copytradepro-sub006/internal/brokers"
	"github.com/ravitejakamalapuram/copytradepro-sub006/internal/pool"
	"github.com/ravitejakamalapuram/copytradepro-sub006/internal/types"
	"github.com/ravitejakamalapuram/copytradepro-sub006/pkg/response"
)

// GinHandlers contains HTTP handlers for order endpoints.
type GinHandlers struct {
	placement  *Placement
	reconciler *Reconciler
	db         *Database
	pool       *pool.Pool
}

// NewGinHandlers creates the order endpoint handlers.
func NewGinHandlers(placement *Placement, reconciler *Reconciler, db *Database, p *pool.Pool) *GinHandlers {
	return &GinHandlers{
		placement:  placement,
		reconciler: reconciler,
		db:         db,
		pool:       p,
	}
}

type placeOrderRequest struct {
	AccountID string `json:"account_id" binding:"required"`
	types.OrderRequest
}

// PlaceOrderHandler handles POST requests to place one order on one account.
// Pipeline failures come back as structured data, not HTTP errors.
func (h *GinHandlers) PlaceOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetString("user_id")
		if userID == "" {
			response.Unauthorized(c, "Missing authentication")
			return
		}

		var req placeOrderRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		result := h.placement.PlaceForAccount(c.Request.Context(), userID, req.AccountID, &req.OrderRequest)
		response.Success(c, result)
	}
}

type multiOrderRequest struct {
	AccountIDs []string `json:"account_ids" binding:"required"`
	types.OrderRequest
}

// PlaceMultiAccountHandler fans one order out across several accounts.
// Partial success is reported per account.
func (h *GinHandlers) PlaceMultiAccountHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetString("user_id")
		if userID == "" {
			response.Unauthorized(c, "Missing authentication")
			return
		}

		var req multiOrderRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}
		if len(req.AccountIDs) == 0 {
			response.BadRequest(c, "account_ids must not be empty")
			return
		}

		result := h.placement.PlaceMultiAccount(c.Request.Context(), userID, req.AccountIDs, &req.OrderRequest)
		response.Success(c, result)
	}
}

// GetOrderHandler returns one of the user's orders.
func (h *GinHandlers) GetOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetString("user_id")
		order, err := h.db.GetOrderByUser(c.Param("order_id"), userID)
		if err == nil && order == nil {
			response.NotFound(c, "Order not found")
			return
		}
		response.Handle(c, order, err)
	}
}

// ListOrdersHandler returns the user's orders, newest first.
func (h *GinHandlers) ListOrdersHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetString("user_id")
		list, err := h.db.GetOrdersByUser(userID)
		response.Handle(c, list, err)
	}
}

// ReconcileHandler triggers a reconciliation pass for one order.
func (h *GinHandlers) ReconcileHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		result, err := h.reconciler.Reconcile(c.Request.Context(), c.Param("order_id"))
		response.Handle(c, result, err)
	}
}

// CancelOrderHandler requests broker-side cancellation of an open order.
func (h *GinHandlers) CancelOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetString("user_id")
		order, err := h.db.GetOrderByUser(c.Param("order_id"), userID)
		if err != nil || order == nil {
			response.NotFound(c, "Order not found")
			return
		}

		sess, failErr := h.resolveSession(order)
		if failErr != nil {
			response.Handle(c, nil, failErr)
			return
		}

		if err := sess.Adapter.CancelOrder(c.Request.Context(), order.BrokerOrderID); err != nil {
			response.Handle(c, nil, brokers.Classify(err))
			return
		}

		if order.Status.CanTransitionTo(types.StatusCancelled) {
			if err := h.db.UpdateOrderStatus(order.OrderID, types.StatusCancelled, order.FilledQuantity, order.AveragePrice); err != nil {
				response.Handle(c, nil, err)
				return
			}
		}
		response.Success(c, gin.H{"order_id": order.OrderID, "status": types.StatusCancelled})
	}
}

// ModifyOrderHandler amends an open order's quantity and prices.
func (h *GinHandlers) ModifyOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetString("user_id")
		order, err := h.db.GetOrderByUser(c.Param("order_id"), userID)
		if err != nil || order == nil {
			response.NotFound(c, "Order not found")
			return
		}

		var req types.OrderRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		sess, failErr := h.resolveSession(order)
		if failErr != nil {
			response.Handle(c, nil, failErr)
			return
		}

		if err := sess.Adapter.ModifyOrder(c.Request.Context(), order.BrokerOrderID, &req); err != nil {
			response.Handle(c, nil, brokers.Classify(err))
			return
		}

		order.Quantity = req.Quantity
		order.Price = req.Price
		order.TriggerPrice = req.TriggerPrice
		if err := h.db.UpdateOrder(order); err != nil {
			response.Handle(c, nil, err)
			return
		}
		response.Success(c, order)
	}
}

// PositionsHandler returns open positions for one connected account.
func (h *GinHandlers) PositionsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetString("user_id")
		key := types.ConnectionKey{
			UserID:     userID,
			BrokerName: c.Param("broker"),
			AccountID:  c.Param("account_id"),
		}
		sess := h.pool.Get(key)
		if sess == nil || !sess.Connected {
			response.Handle(c, nil, brokers.ErrAuthRequired)
			return
		}

		positions, err := sess.Adapter.Positions(c.Request.Context())
		if err != nil {
			response.Handle(c, nil, brokers.Classify(err))
			return
		}
		response.Success(c, positions)
	}
}

// QuoteHandler returns a market quote via one connected account.
func (h *GinHandlers) QuoteHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetString("user_id")
		key := types.ConnectionKey{
			UserID:     userID,
			BrokerName: c.Param("broker"),
			AccountID:  c.Param("account_id"),
		}
		sess := h.pool.Get(key)
		if sess == nil || !sess.Connected {
			response.Handle(c, nil, brokers.ErrAuthRequired)
			return
		}

		quote, err := sess.Adapter.Quote(c.Request.Context(), c.Query("symbol"), c.Query("exchange"))
		if err != nil {
			response.Handle(c, nil, brokers.Classify(err))
			return
		}
		response.Success(c, quote)
	}
}

func (h *GinHandlers) resolveSession(order *Order) (*pool.Session, error) {
	key := types.ConnectionKey{
		UserID:     order.UserID,
		BrokerName: order.BrokerName,
		AccountID:  order.BrokerAccountID,
	}
	sess := h.pool.Get(key)
	if sess == nil || !sess.Connected {
		return nil, brokers.ErrBrokerConnection
	}
	return sess, nil
}
