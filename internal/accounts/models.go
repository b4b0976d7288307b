package accounts

import (
	"time"

	"gorm.io/gorm"
)

// Account statuses.
const (
	StatusActive       = "ACTIVE"
	StatusPendingOAuth = "PENDING_OAUTH"
	StatusInactive     = "INACTIVE"
)

// ConnectedAccount is one persisted (user, broker) account link. Credentials
// are stored as an opaque JSON blob; encryption at rest is the store's
// deployment concern, not modelled here.
type ConnectedAccount struct {
	gorm.Model      `json:"-"`
	AccountID       string    `gorm:"uniqueIndex" json:"account_id"`
	UserID          string    `gorm:"index" json:"user_id"`
	BrokerName      string    `gorm:"index" json:"broker_name"`
	BrokerAccountID string    `json:"broker_account_id"`
	CredentialsJSON string    `json:"-"`
	Status          string    `json:"status"`
	ConnectedAt     time.Time `json:"connected_at"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}
