package types

import "strings"

// OrderAction is the direction of an order.
type OrderAction string

const (
	ActionBuy  OrderAction = "BUY"
	ActionSell OrderAction = "SELL"
)

// OrderKind is the execution style of an order.
type OrderKind string

const (
	KindMarket   OrderKind = "MARKET"
	KindLimit    OrderKind = "LIMIT"
	KindSLLimit  OrderKind = "SL-LIMIT"
	KindSLMarket OrderKind = "SL-MARKET"
)

// ProductType is the broker product bucket an order settles under.
type ProductType string

const (
	ProductDelivery ProductType = "CNC"
	ProductIntraday ProductType = "MIS"
	ProductNormal   ProductType = "NRML"
)

// Validity controls how long an order rests at the exchange.
type Validity string

const (
	ValidityDay Validity = "DAY"
	ValidityIOC Validity = "IOC"
)

// OrderStatus is the internal order state machine:
//
//	PENDING -> PLACED -> {PARTIALLY_FILLED -> EXECUTED | REJECTED | CANCELLED}
//
// FAILED is terminal and reachable only from PENDING (submission error).
// Transitions are one-directional; terminal states never transition.
type OrderStatus string

const (
	StatusPending         OrderStatus = "PENDING"
	StatusPlaced          OrderStatus = "PLACED"
	StatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	StatusExecuted        OrderStatus = "EXECUTED"
	StatusRejected        OrderStatus = "REJECTED"
	StatusCancelled       OrderStatus = "CANCELLED"
	StatusFailed          OrderStatus = "FAILED"
)

// Terminal reports whether no further transitions are allowed from s.
func (s OrderStatus) Terminal() bool {
	switch s {
	case StatusExecuted, StatusRejected, StatusCancelled, StatusFailed:
		return true
	}
	return false
}

var allowedTransitions = map[OrderStatus][]OrderStatus{
	StatusPending:         {StatusPlaced, StatusFailed},
	StatusPlaced:          {StatusPartiallyFilled, StatusExecuted, StatusRejected, StatusCancelled},
	StatusPartiallyFilled: {StatusExecuted, StatusRejected, StatusCancelled},
}

// CanTransitionTo reports whether the state machine permits moving from s to next.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	for _, allowed := range allowedTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// MapBrokerStatus normalizes a broker-native status string into the internal
// state machine. Unrecognized statuses map to PLACED, the safest non-terminal
// assumption for an order the broker has acknowledged.
func MapBrokerStatus(brokerStatus string) OrderStatus {
	switch strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(brokerStatus), " ", "_")) {
	case "COMPLETE", "COMPLETED", "FILLED", "EXECUTED", "TRADED", "FULL_EXECUTED":
		return StatusExecuted
	case "PARTIALLY_FILLED", "PARTIAL_FILL", "PARTIAL":
		return StatusPartiallyFilled
	case "REJECTED", "REJECT":
		return StatusRejected
	case "CANCELLED", "CANCELED", "CANCELLED_AMO":
		return StatusCancelled
	case "OPEN", "PLACED", "PENDING", "TRIGGER_PENDING", "OPEN_PENDING", "VALIDATION_PENDING", "PUT_ORDER_REQ_RECEIVED", "AMO_REQ_RECEIVED":
		return StatusPlaced
	case "FAILED":
		return StatusFailed
	default:
		return StatusPlaced
	}
}

// OrderRequest is the normalized order shape accepted by the placement
// pipeline, independent of any broker's wire format.
type OrderRequest struct {
	Symbol       string      `json:"symbol" binding:"required"`
	Exchange     string      `json:"exchange"`
	Action       OrderAction `json:"action" binding:"required"`
	Quantity     int         `json:"quantity" binding:"required"`
	Kind         OrderKind   `json:"order_type" binding:"required"`
	Price        float64     `json:"price"`
	TriggerPrice float64     `json:"trigger_price"`
	Product      ProductType `json:"product_type"`
	Validity     Validity    `json:"validity"`
	AccountID    string      `json:"account_id"`
	Remarks      string      `json:"remarks"`
}

// OrderResponse is the normalized result of a placement attempt. Failures are
// carried as data rather than errors so multi-account fan-out can report
// per-account outcomes.
type OrderResponse struct {
	Success       bool        `json:"success"`
	OrderID       string      `json:"order_id,omitempty"`
	BrokerOrderID string      `json:"broker_order_id,omitempty"`
	Status        OrderStatus `json:"status,omitempty"`
	AccountID     string      `json:"account_id,omitempty"`
	ErrorType     string      `json:"error_type,omitempty"`
	Message       string      `json:"message,omitempty"`
	Retryable     bool        `json:"retryable,omitempty"`
}

// MultiAccountOrderResponse aggregates a placement fanned out across several
// accounts. Partial success is a first-class outcome: Success is true when at
// least one account accepted the order.
type MultiAccountOrderResponse struct {
	Success      bool            `json:"success"`
	SuccessCount int             `json:"success_count"`
	FailureCount int             `json:"failure_count"`
	Results      []OrderResponse `json:"results"`
}
