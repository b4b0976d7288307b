package types

import "fmt"

// ConnectionKey identifies a single broker session: one user, one broker, one
// broker-assigned account. Immutable once created.
type ConnectionKey struct {
	UserID     string `json:"user_id"`
	BrokerName string `json:"broker_name"`
	AccountID  string `json:"account_id"`
}

// String renders the key in the canonical user_broker_account form used for
// map keys and log fields.
func (k ConnectionKey) String() string {
	return fmt.Sprintf("%s_%s_%s", k.UserID, k.BrokerName, k.AccountID)
}

// Position is a normalized open position reported by a broker.
type Position struct {
	Symbol        string  `json:"symbol"`
	Exchange      string  `json:"exchange"`
	Product       string  `json:"product_type"`
	Quantity      int     `json:"quantity"`
	AveragePrice  float64 `json:"average_price"`
	CurrentPrice  float64 `json:"current_price"`
	UnrealizedPnL float64 `json:"unrealized_pnl"`
}

// Quote is a normalized market quote for one symbol.
type Quote struct {
	Symbol    string  `json:"symbol"`
	Exchange  string  `json:"exchange"`
	LastPrice float64 `json:"last_price"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    int64   `json:"volume"`
}
