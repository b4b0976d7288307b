package types

import "time"

// ConnectResponse is returned from a connect call. Exactly one of the two
// shapes is populated: an activated session, or an OAuth challenge the caller
// must complete via the redirect callback.
type ConnectResponse struct {
	Activated  bool   `json:"activated"`
	AccountID  string `json:"account_id,omitempty"`
	AuthURL    string `json:"auth_url,omitempty"`
	StateToken string `json:"state_token,omitempty"`
}

// AccountInfo describes a connected broker account as returned to API callers.
type AccountInfo struct {
	AccountID       string    `json:"account_id"`
	UserID          string    `json:"user_id"`
	BrokerName      string    `json:"broker_name"`
	BrokerAccountID string    `json:"broker_account_id"`
	Status          string    `json:"status"`
	ConnectedAt     time.Time `json:"connected_at"`
}

// Delivery reports the outcome of a best-effort, at-most-once push to a
// user's connected clients.
type Delivery struct {
	Delivered   bool `json:"delivered"`
	RetriesUsed int  `json:"retries_used"`
}

// SessionValidation is the result of probing a live session's health.
type SessionValidation struct {
	IsValid      bool          `json:"is_valid"`
	HealthScore  int           `json:"health_score"`
	ResponseTime time.Duration `json:"response_time_ms"`
}
