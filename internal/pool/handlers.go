package pool

import (
	"github.com/gin-gonic/gin"

	"github.com/ravitejakamalapuram/copytradepro-sub006/internal/accounts"
	"github.com/ravitejakamalapuram/copytradepro-sub006/internal/brokers"
	"github.com/ravitejakamalapuram/copytradepro-sub006/internal/health"
	"github.com/ravitejakamalapuram/copytradepro-sub006/internal/types"
	"github.com/ravitejakamalapuram/copytradepro-sub006/pkg/response"
)

// GinHandlers contains HTTP handlers for broker connection endpoints.
type GinHandlers struct {
	pool     *Pool
	monitor  *health.Monitor
	accounts *accounts.Database
}

// NewGinHandlers creates the connection endpoint handlers.
func NewGinHandlers(pool *Pool, monitor *health.Monitor, accountsDB *accounts.Database) *GinHandlers {
	return &GinHandlers{
		pool:     pool,
		monitor:  monitor,
		accounts: accountsDB,
	}
}

type connectRequest struct {
	BrokerName  string              `json:"broker_name" binding:"required"`
	Credentials brokers.Credentials `json:"credentials" binding:"required"`
}

// ConnectHandler handles POST requests to connect a broker account.
// Returns either an activated session or an OAuth challenge.
func (h *GinHandlers) ConnectHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetString("user_id")
		if userID == "" {
			response.Unauthorized(c, "Missing authentication")
			return
		}

		var req connectRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		result, err := h.pool.Connect(c.Request.Context(), userID, req.BrokerName, req.Credentials)
		response.Handle(c, result, err)
	}
}

type completeOAuthRequest struct {
	BrokerName string `json:"broker_name" binding:"required"`
	AuthCode   string `json:"auth_code" binding:"required"`
	StateToken string `json:"state_token"`
}

// CompleteOAuthHandler finishes a redirect flow for the authenticated user.
// The state token is optional: without it the persisted pending accounts are
// scanned as a best-effort fallback.
func (h *GinHandlers) CompleteOAuthHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetString("user_id")
		if userID == "" {
			response.Unauthorized(c, "Missing authentication")
			return
		}

		var req completeOAuthRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		info, err := h.pool.CompleteOAuth(c.Request.Context(), userID, req.BrokerName, req.AuthCode, req.StateToken)
		response.Handle(c, info, err)
	}
}

// OAuthCallbackHandler is the public callback target the broker redirects
// the user agent to, carrying code, state, and broker as query parameters.
func (h *GinHandlers) OAuthCallbackHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		code := c.Query("code")
		state := c.Query("state")
		brokerName := c.Query("broker")
		if code == "" || state == "" {
			response.BadRequest(c, "code and state are required")
			return
		}

		// The user identity rides inside the state record; the redirect
		// itself is unauthenticated.
		info, err := h.pool.CompleteOAuth(c.Request.Context(), "", brokerName, code, state)
		response.Handle(c, info, err)
	}
}

// DisconnectHandler handles DELETE requests to tear down a session.
// Idempotent: disconnecting an unknown key succeeds.
func (h *GinHandlers) DisconnectHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetString("user_id")
		key := types.ConnectionKey{
			UserID:     userID,
			BrokerName: c.Param("broker"),
			AccountID:  c.Param("account_id"),
		}
		h.pool.Disconnect(c.Request.Context(), key)
		response.Success(c, gin.H{"disconnected": true})
	}
}

// ValidateSessionHandler probes one session's health.
func (h *GinHandlers) ValidateSessionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetString("user_id")
		key := types.ConnectionKey{
			UserID:     userID,
			BrokerName: c.Param("broker"),
			AccountID:  c.Param("account_id"),
		}

		sess := h.pool.Get(key)
		if sess == nil {
			response.Handle(c, nil, brokers.ErrAuthRequired)
			return
		}

		result := h.monitor.ValidateSession(c.Request.Context(), key, sess.Adapter)
		response.Success(c, result)
	}
}

// AccountsHandler lists the authenticated user's connected accounts.
func (h *GinHandlers) AccountsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetString("user_id")
		list, err := h.accounts.GetAccountsByUser(userID)
		response.Handle(c, list, err)
	}
}

// BrokersHandler lists the registered broker names.
func (h *GinHandlers) BrokersHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		response.Success(c, h.pool.registry.Available())
	}
}

// StatsHandler exposes pool and health statistics for observability.
func (h *GinHandlers) StatsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		response.Success(c, gin.H{
			"pool":   h.pool.Stats(),
			"health": h.monitor.Stats(),
		})
	}
}
