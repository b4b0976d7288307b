package brokers

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ravitejakamalapuram/copytradepro-sub006/internal/types"
)

// Compile-time interface check.
var _ Broker = (*NexaBroker)(nil)

const nexaDefaultBaseURL = "https://api.nexatrade.in"

// NexaBroker adapts the Nexa REST API. Nexa authenticates directly with a
// client id, SHA-256 hashed password, TOTP, and vendor api key; there is no
// redirect flow. Session tokens are short-lived and renewable.
type NexaBroker struct {
	baseURL   string
	client    *http.Client
	token     string
	accountID string
	apiKey    string
}

// NewNexaBroker creates an unauthenticated Nexa adapter.
func NewNexaBroker() *NexaBroker {
	return &NexaBroker{
		baseURL: nexaDefaultBaseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// Name returns "nexa".
func (b *NexaBroker) Name() string { return "nexa" }

type nexaEnvelope struct {
	Status  string `json:"stat"`
	Message string `json:"emsg"`
}

func (e nexaEnvelope) ok() bool { return e.Status == "Ok" }

// Login performs Nexa's direct credential login. Nexa never requires a
// redirect, so the result is always Completed on success.
func (b *NexaBroker) Login(ctx context.Context, creds Credentials) (*LoginResult, error) {
	if base := creds["base_url"]; base != "" {
		b.baseURL = base
	}
	b.apiKey = creds["api_key"]

	passwordHash := sha256.Sum256([]byte(creds["password"]))

	var resp struct {
		nexaEnvelope
		SessionToken string `json:"session_token"`
		AccountID    string `json:"account_id"`
	}
	err := postJSON(ctx, b.client, b.baseURL+"/api/v1/auth/login", nil, map[string]string{
		"client_id":     creds["client_id"],
		"password_hash": hex.EncodeToString(passwordHash[:]),
		"totp":          creds["totp"],
		"api_key":       b.apiKey,
		"vendor_code":   creds["vendor_code"],
	}, &resp)
	if err != nil {
		return nil, err
	}
	if !resp.ok() {
		return nil, NewClassifiedError(CodeAuthError, fmt.Errorf("nexa login: %s", resp.Message))
	}

	b.token = resp.SessionToken
	b.accountID = resp.AccountID

	log.Debug().Str("broker", "nexa").Str("account_id", b.accountID).Msg("login succeeded")
	return &LoginResult{Completed: true, AccountID: b.accountID}, nil
}

// CompleteAuth is unsupported: Nexa has no redirect-based flow.
func (b *NexaBroker) CompleteAuth(_ context.Context, _ string, _ Credentials) (*LoginResult, error) {
	return nil, NewClassifiedError(CodeAuthError, fmt.Errorf("nexa does not use redirect authentication"))
}

func (b *NexaBroker) authHeaders() map[string]string {
	return map[string]string{"Authorization": "Bearer " + b.token}
}

// ValidateSession probes the lightweight user-details endpoint.
func (b *NexaBroker) ValidateSession(ctx context.Context) error {
	if b.token == "" {
		return NewClassifiedError(CodeAuthError, fmt.Errorf("no nexa session token"))
	}
	var resp nexaEnvelope
	if err := getJSON(ctx, b.client, b.baseURL+"/api/v1/user/details", b.authHeaders(), &resp); err != nil {
		return err
	}
	if !resp.ok() {
		return NewClassifiedError(CodeAuthError, fmt.Errorf("nexa session invalid: %s", resp.Message))
	}
	return nil
}

// RefreshSession renews the session token. Nexa supports token renewal off
// the current token without re-entering credentials.
func (b *NexaBroker) RefreshSession(ctx context.Context) (bool, error) {
	var resp struct {
		nexaEnvelope
		SessionToken string `json:"session_token"`
	}
	err := postJSON(ctx, b.client, b.baseURL+"/api/v1/auth/refresh", b.authHeaders(), nil, &resp)
	if err != nil {
		return false, err
	}
	if !resp.ok() {
		return false, NewClassifiedError(CodeAuthError, fmt.Errorf("nexa refresh: %s", resp.Message))
	}
	b.token = resp.SessionToken
	return true, nil
}

// nexaOrderKinds maps the internal order kind onto Nexa's price type codes.
var nexaOrderKinds = map[types.OrderKind]string{
	types.KindMarket:   "MKT",
	types.KindLimit:    "LMT",
	types.KindSLLimit:  "SL-LMT",
	types.KindSLMarket: "SL-MKT",
}

// PlaceOrder submits an order in Nexa's wire shape.
func (b *NexaBroker) PlaceOrder(ctx context.Context, req *types.OrderRequest) (*PlaceResult, error) {
	priceType, ok := nexaOrderKinds[req.Kind]
	if !ok {
		return nil, NewClassifiedError(CodeOrderRejected, fmt.Errorf("nexa does not support order type %s", req.Kind))
	}

	var resp struct {
		nexaEnvelope
		OrderNumber string `json:"order_number"`
	}
	err := postJSON(ctx, b.client, b.baseURL+"/api/v1/orders", b.authHeaders(), map[string]interface{}{
		"account_id":    b.accountID,
		"exchange":      req.Exchange,
		"symbol":        req.Symbol,
		"side":          string(req.Action),
		"quantity":      req.Quantity,
		"price_type":    priceType,
		"price":         req.Price,
		"trigger_price": req.TriggerPrice,
		"product":       string(req.Product),
		"validity":      string(req.Validity),
		"remarks":       req.Remarks,
	}, &resp)
	if err != nil {
		return nil, err
	}
	if !resp.ok() {
		return nil, Classify(fmt.Errorf("nexa order: %s", resp.Message))
	}
	return &PlaceResult{BrokerOrderID: resp.OrderNumber, Status: "PLACED"}, nil
}

// ModifyOrder amends an open order.
func (b *NexaBroker) ModifyOrder(ctx context.Context, brokerOrderID string, req *types.OrderRequest) error {
	var resp nexaEnvelope
	err := postJSON(ctx, b.client, b.baseURL+"/api/v1/orders/"+brokerOrderID+"/modify", b.authHeaders(), map[string]interface{}{
		"quantity":      req.Quantity,
		"price":         req.Price,
		"trigger_price": req.TriggerPrice,
	}, &resp)
	if err != nil {
		return err
	}
	if !resp.ok() {
		return Classify(fmt.Errorf("nexa modify: %s", resp.Message))
	}
	return nil
}

// CancelOrder requests cancellation of an open order.
func (b *NexaBroker) CancelOrder(ctx context.Context, brokerOrderID string) error {
	var resp nexaEnvelope
	err := postJSON(ctx, b.client, b.baseURL+"/api/v1/orders/"+brokerOrderID+"/cancel", b.authHeaders(), nil, &resp)
	if err != nil {
		return err
	}
	if !resp.ok() {
		return Classify(fmt.Errorf("nexa cancel: %s", resp.Message))
	}
	return nil
}

type nexaOrder struct {
	OrderNumber    string  `json:"order_number"`
	Symbol         string  `json:"symbol"`
	Status         string  `json:"status"`
	Quantity       int     `json:"quantity"`
	FilledQuantity int     `json:"filled_quantity"`
	AveragePrice   float64 `json:"average_price"`
	RejectReason   string  `json:"reject_reason"`
}

func (o nexaOrder) detail() OrderDetail {
	return OrderDetail{
		BrokerOrderID:  o.OrderNumber,
		Symbol:         o.Symbol,
		Status:         o.Status,
		Quantity:       o.Quantity,
		FilledQuantity: o.FilledQuantity,
		AveragePrice:   o.AveragePrice,
		RejectReason:   o.RejectReason,
		UpdatedAt:      time.Now(),
	}
}

// OrderStatus fetches the authoritative state of one order.
func (b *NexaBroker) OrderStatus(ctx context.Context, brokerOrderID string) (*OrderDetail, error) {
	var resp struct {
		nexaEnvelope
		nexaOrder
	}
	err := getJSON(ctx, b.client, b.baseURL+"/api/v1/orders/"+brokerOrderID, b.authHeaders(), &resp)
	if err != nil {
		return nil, err
	}
	if !resp.ok() {
		return nil, Classify(fmt.Errorf("nexa order status: %s", resp.Message))
	}
	detail := resp.detail()
	return &detail, nil
}

// OrderHistory returns today's orders.
func (b *NexaBroker) OrderHistory(ctx context.Context) ([]OrderDetail, error) {
	var resp struct {
		nexaEnvelope
		Orders []nexaOrder `json:"orders"`
	}
	err := getJSON(ctx, b.client, b.baseURL+"/api/v1/orders", b.authHeaders(), &resp)
	if err != nil {
		return nil, err
	}
	if !resp.ok() {
		return nil, Classify(fmt.Errorf("nexa order history: %s", resp.Message))
	}
	details := make([]OrderDetail, len(resp.Orders))
	for i, o := range resp.Orders {
		details[i] = o.detail()
	}
	return details, nil
}

// Positions returns open positions.
func (b *NexaBroker) Positions(ctx context.Context) ([]types.Position, error) {
	var resp struct {
		nexaEnvelope
		Positions []types.Position `json:"positions"`
	}
	err := getJSON(ctx, b.client, b.baseURL+"/api/v1/positions", b.authHeaders(), &resp)
	if err != nil {
		return nil, err
	}
	if !resp.ok() {
		return nil, Classify(fmt.Errorf("nexa positions: %s", resp.Message))
	}
	return resp.Positions, nil
}

// Quote returns a market quote for one symbol.
func (b *NexaBroker) Quote(ctx context.Context, symbol, exchange string) (*types.Quote, error) {
	var resp struct {
		nexaEnvelope
		types.Quote
	}
	err := getJSON(ctx, b.client, fmt.Sprintf("%s/api/v1/quotes?symbol=%s&exchange=%s", b.baseURL, symbol, exchange), b.authHeaders(), &resp)
	if err != nil {
		return nil, err
	}
	if !resp.ok() {
		return nil, Classify(fmt.Errorf("nexa quote: %s", resp.Message))
	}
	return &resp.Quote, nil
}

// Logout invalidates the broker-side session.
func (b *NexaBroker) Logout(ctx context.Context) error {
	if b.token == "" {
		return nil
	}
	var resp nexaEnvelope
	err := postJSON(ctx, b.client, b.baseURL+"/api/v1/auth/logout", b.authHeaders(), nil, &resp)
	b.token = ""
	if err != nil {
		return err
	}
	if !resp.ok() {
		return Classify(fmt.Errorf("nexa logout: %s", resp.Message))
	}
	return nil
}
