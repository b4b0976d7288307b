package orders

import (
	"time"

	"gorm.io/gorm"

	"github.com/ravitejakamalapuram/copytradepro-sub006/internal/types"
)

// Order is the persisted record of one placement attempt against one broker
// account. BrokerAccountID plus UserID and BrokerName reconstruct the
// ConnectionKey that owns the session for reconciliation.
type Order struct {
	gorm.Model      `json:"-"`
	OrderID         string            `gorm:"uniqueIndex" json:"order_id"`
	UserID          string            `gorm:"index" json:"user_id"`
	AccountID       string            `gorm:"index" json:"account_id"`
	BrokerName      string            `json:"broker_name"`
	BrokerAccountID string            `json:"broker_account_id"`
	BrokerOrderID   string            `gorm:"index" json:"broker_order_id"`
	Symbol          string            `json:"symbol"`
	Exchange        string            `json:"exchange"`
	Action          types.OrderAction `json:"action"`
	Kind            types.OrderKind   `json:"order_type"`
	Quantity        int               `json:"quantity"`
	Price           float64           `json:"price"`
	TriggerPrice    float64           `json:"trigger_price"`
	Product         types.ProductType `json:"product_type"`
	Validity        types.Validity    `json:"validity"`
	Status          types.OrderStatus `json:"status"`
	FilledQuantity  int               `json:"filled_quantity"`
	AveragePrice    float64           `json:"average_price"`
	ErrorType       string            `json:"error_type,omitempty"`
	ErrorMessage    string            `json:"error_message,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}
