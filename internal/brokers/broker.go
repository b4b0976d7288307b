// Package brokers defines the unified Broker capability set, the plugin
// registry that constructs adapters by name, and the fixed error taxonomy
// shared by every adapter implementation.
package brokers

import (
	"context"
	"time"

	"github.com/ravitejakamalapuram/copytradepro-sub006/internal/types"
)

// Credentials carries broker-specific authentication fields (api key, client
// id, password hash, TOTP, redirect URI) as an opaque bag. The persisted
// account store returns these decrypted.
type Credentials map[string]string

// LoginResult is the outcome of an authentication attempt. Either the login
// completed and AccountID carries the broker-assigned account id, or the
// broker requires a redirect round trip and AuthURL carries the URL the user
// agent must visit.
type LoginResult struct {
	Completed bool
	AccountID string
	AuthURL   string
}

// PlaceResult is a broker's acknowledgement of an accepted order.
type PlaceResult struct {
	BrokerOrderID string
	Status        string
}

// OrderDetail is the broker-native view of a previously placed order.
type OrderDetail struct {
	BrokerOrderID  string
	Symbol         string
	Status         string
	Quantity       int
	FilledQuantity int
	AveragePrice   float64
	RejectReason   string
	UpdatedAt      time.Time
}

// Broker is the fixed capability set every adapter implements, translating
// between the internal order model and one external broker's wire format.
// All calls take a context and must honor its deadline.
type Broker interface {
	// Name returns the broker identifier (e.g. "nexa", "flux", "paper").
	Name() string

	// Login authenticates with the broker. It either completes immediately
	// or reports that a redirect-based flow must be driven via CompleteAuth.
	Login(ctx context.Context, creds Credentials) (*LoginResult, error)

	// CompleteAuth finishes a redirect-based flow using the authorization
	// code the broker sent to the callback URL.
	CompleteAuth(ctx context.Context, authCode string, creds Credentials) (*LoginResult, error)

	// ValidateSession probes whether the session is still usable.
	ValidateSession(ctx context.Context) error

	// RefreshSession renews the session token if the broker supports it.
	// Returns false when refresh is unsupported and the caller must fall
	// back to a full reauthentication.
	RefreshSession(ctx context.Context) (bool, error)

	// PlaceOrder submits an order in the broker's wire format.
	PlaceOrder(ctx context.Context, req *types.OrderRequest) (*PlaceResult, error)

	// ModifyOrder amends an open order identified by the broker's order id.
	ModifyOrder(ctx context.Context, brokerOrderID string, req *types.OrderRequest) error

	// CancelOrder requests cancellation of an open order.
	CancelOrder(ctx context.Context, brokerOrderID string) error

	// OrderStatus fetches the authoritative state of one order.
	OrderStatus(ctx context.Context, brokerOrderID string) (*OrderDetail, error)

	// OrderHistory returns today's orders for the account.
	OrderHistory(ctx context.Context) ([]OrderDetail, error)

	// Positions returns the account's open positions.
	Positions(ctx context.Context) ([]types.Position, error)

	// Quote returns a market quote for one symbol.
	Quote(ctx context.Context, symbol, exchange string) (*types.Quote, error)

	// Logout tears down the broker-side session. Best effort.
	Logout(ctx context.Context) error
}

// Factory constructs a fresh, unauthenticated adapter instance.
type Factory func() Broker
