package brokers

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ravitejakamalapuram/copytradepro-sub006/internal/types"
)

// Compile-time interface check.
var _ Broker = (*FluxBroker)(nil)

const fluxDefaultBaseURL = "https://api.fluxbroker.in"

// FluxBroker adapts the Flux REST API. Flux authenticates through an OAuth
// redirect: Login only yields the authorization URL, and the session becomes
// live when CompleteAuth exchanges the callback code for an access token.
type FluxBroker struct {
	baseURL     string
	client      *http.Client
	accessToken string
	accountID   string
}

// NewFluxBroker creates an unauthenticated Flux adapter.
func NewFluxBroker() *FluxBroker {
	return &FluxBroker{
		baseURL: fluxDefaultBaseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// Name returns "flux".
func (b *FluxBroker) Name() string { return "flux" }

type fluxEnvelope struct {
	Status  string `json:"s"`
	Message string `json:"message"`
}

func (e fluxEnvelope) ok() bool { return e.Status == "ok" }

// Login builds the authorization URL for Flux's redirect flow. No broker call
// is made; the session is not live until CompleteAuth succeeds.
func (b *FluxBroker) Login(_ context.Context, creds Credentials) (*LoginResult, error) {
	if base := creds["base_url"]; base != "" {
		b.baseURL = base
	}
	clientID := creds["client_id"]
	redirectURI := creds["redirect_uri"]
	if clientID == "" || redirectURI == "" {
		return nil, NewClassifiedError(CodeAuthError, fmt.Errorf("flux requires client_id and redirect_uri"))
	}

	authURL := fmt.Sprintf("%s/oauth/authorize?client_id=%s&redirect_uri=%s&response_type=code",
		b.baseURL, url.QueryEscape(clientID), url.QueryEscape(redirectURI))

	return &LoginResult{Completed: false, AuthURL: authURL}, nil
}

// CompleteAuth exchanges the authorization code for an access token. Flux
// requires the app id hash (SHA-256 of "client_id:secret") alongside the code.
func (b *FluxBroker) CompleteAuth(ctx context.Context, authCode string, creds Credentials) (*LoginResult, error) {
	if base := creds["base_url"]; base != "" {
		b.baseURL = base
	}
	appIDHash := sha256.Sum256([]byte(creds["client_id"] + ":" + creds["secret"]))

	var resp struct {
		fluxEnvelope
		AccessToken string `json:"access_token"`
		AccountID   string `json:"account_id"`
	}
	err := postJSON(ctx, b.client, b.baseURL+"/oauth/token", nil, map[string]string{
		"grant_type":  "authorization_code",
		"code":        authCode,
		"app_id_hash": hex.EncodeToString(appIDHash[:]),
	}, &resp)
	if err != nil {
		return nil, err
	}
	if !resp.ok() {
		return nil, NewClassifiedError(CodeAuthError, fmt.Errorf("flux token exchange: %s", resp.Message))
	}

	b.accessToken = resp.AccessToken
	b.accountID = resp.AccountID

	log.Debug().Str("broker", "flux").Str("account_id", b.accountID).Msg("oauth exchange succeeded")
	return &LoginResult{Completed: true, AccountID: b.accountID}, nil
}

func (b *FluxBroker) authHeaders() map[string]string {
	return map[string]string{"Authorization": "Bearer " + b.accessToken}
}

// ValidateSession probes the profile endpoint.
func (b *FluxBroker) ValidateSession(ctx context.Context) error {
	if b.accessToken == "" {
		return NewClassifiedError(CodeAuthError, fmt.Errorf("no flux access token"))
	}
	var resp fluxEnvelope
	if err := getJSON(ctx, b.client, b.baseURL+"/api/v2/profile", b.authHeaders(), &resp); err != nil {
		return err
	}
	if !resp.ok() {
		return NewClassifiedError(CodeAuthError, fmt.Errorf("flux session invalid: %s", resp.Message))
	}
	return nil
}

// RefreshSession is unsupported: Flux access tokens cannot be renewed without
// a fresh OAuth round trip, so callers must reauthenticate.
func (b *FluxBroker) RefreshSession(_ context.Context) (bool, error) {
	return false, nil
}

var fluxOrderKinds = map[types.OrderKind]int{
	types.KindLimit:    1,
	types.KindMarket:   2,
	types.KindSLMarket: 3,
	types.KindSLLimit:  4,
}

var fluxActions = map[types.OrderAction]int{
	types.ActionBuy:  1,
	types.ActionSell: -1,
}

// PlaceOrder submits an order in Flux's numeric wire shape. Symbols are
// formatted as EXCHANGE:SYMBOL per Flux convention.
func (b *FluxBroker) PlaceOrder(ctx context.Context, req *types.OrderRequest) (*PlaceResult, error) {
	kind, ok := fluxOrderKinds[req.Kind]
	if !ok {
		return nil, NewClassifiedError(CodeOrderRejected, fmt.Errorf("flux does not support order type %s", req.Kind))
	}

	symbol := req.Symbol
	if req.Exchange != "" {
		symbol = req.Exchange + ":" + req.Symbol
	}

	var resp struct {
		fluxEnvelope
		OrderID string `json:"id"`
	}
	err := postJSON(ctx, b.client, b.baseURL+"/api/v2/orders", b.authHeaders(), map[string]interface{}{
		"symbol":      symbol,
		"qty":         req.Quantity,
		"type":        kind,
		"side":        fluxActions[req.Action],
		"limit_price": req.Price,
		"stop_price":  req.TriggerPrice,
		"product":     string(req.Product),
		"validity":    string(req.Validity),
	}, &resp)
	if err != nil {
		return nil, err
	}
	if !resp.ok() {
		return nil, Classify(fmt.Errorf("flux order: %s", resp.Message))
	}
	return &PlaceResult{BrokerOrderID: resp.OrderID, Status: "PLACED"}, nil
}

// ModifyOrder amends an open order.
func (b *FluxBroker) ModifyOrder(ctx context.Context, brokerOrderID string, req *types.OrderRequest) error {
	var resp fluxEnvelope
	err := postJSON(ctx, b.client, b.baseURL+"/api/v2/orders/"+brokerOrderID, b.authHeaders(), map[string]interface{}{
		"qty":         req.Quantity,
		"limit_price": req.Price,
		"stop_price":  req.TriggerPrice,
	}, &resp)
	if err != nil {
		return err
	}
	if !resp.ok() {
		return Classify(fmt.Errorf("flux modify: %s", resp.Message))
	}
	return nil
}

// CancelOrder requests cancellation of an open order.
func (b *FluxBroker) CancelOrder(ctx context.Context, brokerOrderID string) error {
	var resp fluxEnvelope
	err := postJSON(ctx, b.client, b.baseURL+"/api/v2/orders/"+brokerOrderID+"/cancel", b.authHeaders(), nil, &resp)
	if err != nil {
		return err
	}
	if !resp.ok() {
		return Classify(fmt.Errorf("flux cancel: %s", resp.Message))
	}
	return nil
}

type fluxOrder struct {
	ID           string  `json:"id"`
	Symbol       string  `json:"symbol"`
	Status       string  `json:"status"`
	Qty          int     `json:"qty"`
	FilledQty    int     `json:"filled_qty"`
	AveragePrice float64 `json:"avg_price"`
	RejectReason string  `json:"rejection_reason"`
}

func (o fluxOrder) detail() OrderDetail {
	return OrderDetail{
		BrokerOrderID:  o.ID,
		Symbol:         o.Symbol,
		Status:         o.Status,
		Quantity:       o.Qty,
		FilledQuantity: o.FilledQty,
		AveragePrice:   o.AveragePrice,
		RejectReason:   o.RejectReason,
		UpdatedAt:      time.Now(),
	}
}

// OrderStatus fetches the authoritative state of one order.
func (b *FluxBroker) OrderStatus(ctx context.Context, brokerOrderID string) (*OrderDetail, error) {
	var resp struct {
		fluxEnvelope
		fluxOrder
	}
	err := getJSON(ctx, b.client, b.baseURL+"/api/v2/orders/"+brokerOrderID, b.authHeaders(), &resp)
	if err != nil {
		return nil, err
	}
	if !resp.ok() {
		return nil, Classify(fmt.Errorf("flux order status: %s", resp.fluxEnvelope.Message))
	}
	detail := resp.detail()
	return &detail, nil
}

// OrderHistory returns today's orders.
func (b *FluxBroker) OrderHistory(ctx context.Context) ([]OrderDetail, error) {
	var resp struct {
		fluxEnvelope
		Orders []fluxOrder `json:"orderBook"`
	}
	err := getJSON(ctx, b.client, b.baseURL+"/api/v2/orders", b.authHeaders(), &resp)
	if err != nil {
		return nil, err
	}
	if !resp.ok() {
		return nil, Classify(fmt.Errorf("flux order history: %s", resp.Message))
	}
	details := make([]OrderDetail, len(resp.Orders))
	for i, o := range resp.Orders {
		details[i] = o.detail()
	}
	return details, nil
}

// Positions returns open positions.
func (b *FluxBroker) Positions(ctx context.Context) ([]types.Position, error) {
	var resp struct {
		fluxEnvelope
		NetPositions []types.Position `json:"netPositions"`
	}
	err := getJSON(ctx, b.client, b.baseURL+"/api/v2/positions", b.authHeaders(), &resp)
	if err != nil {
		return nil, err
	}
	if !resp.ok() {
		return nil, Classify(fmt.Errorf("flux positions: %s", resp.Message))
	}
	return resp.NetPositions, nil
}

// Quote returns a market quote for one symbol.
func (b *FluxBroker) Quote(ctx context.Context, symbol, exchange string) (*types.Quote, error) {
	var resp struct {
		fluxEnvelope
		types.Quote
	}
	err := getJSON(ctx, b.client, fmt.Sprintf("%s/api/v2/quotes?symbols=%s:%s", b.baseURL, exchange, symbol), b.authHeaders(), &resp)
	if err != nil {
		return nil, err
	}
	if !resp.ok() {
		return nil, Classify(fmt.Errorf("flux quote: %s", resp.Message))
	}
	return &resp.Quote, nil
}

// Logout invalidates the broker-side token.
func (b *FluxBroker) Logout(ctx context.Context) error {
	if b.accessToken == "" {
		return nil
	}
	var resp fluxEnvelope
	err := postJSON(ctx, b.client, b.baseURL+"/oauth/revoke", b.authHeaders(), nil, &resp)
	b.accessToken = ""
	if err != nil {
		return err
	}
	if !resp.ok() {
		return Classify(fmt.Errorf("flux logout: %s", resp.Message))
	}
	return nil
}
