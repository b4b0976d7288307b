package brokers

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ravitejakamalapuram/copytradepro-sub006/internal/types"
)

func TestFluxLoginReturnsAuthURL(t *testing.T) {
	b := NewFluxBroker()
	result, err := b.Login(context.Background(), Credentials{
		"client_id":    "app-1",
		"redirect_uri": "https://gw.example/oauth/callback",
	})
	require.NoError(t, err)

	assert.False(t, result.Completed)
	assert.Empty(t, result.AccountID)
	assert.Contains(t, result.AuthURL, "/oauth/authorize")
	assert.Contains(t, result.AuthURL, "client_id=app-1")
	assert.Contains(t, result.AuthURL, "response_type=code")
}

func TestFluxLoginMissingCredentials(t *testing.T) {
	b := NewFluxBroker()
	_, err := b.Login(context.Background(), Credentials{"client_id": "app-1"})
	require.Error(t, err)
	assert.Equal(t, CodeAuthError, Classify(err).Code)
}

func TestFluxCompleteAuthExchangesCode(t *testing.T) {
	var body map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/oauth/token", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		json.NewEncoder(w).Encode(map[string]string{
			"s":            "ok",
			"access_token": "flux-tok",
			"account_id":   "FX100",
		})
	}))
	t.Cleanup(srv.Close)

	b := NewFluxBroker()
	result, err := b.CompleteAuth(context.Background(), "the-code", Credentials{
		"base_url":  srv.URL,
		"client_id": "app-1",
		"secret":    "s3cret",
	})
	require.NoError(t, err)
	assert.True(t, result.Completed)
	assert.Equal(t, "FX100", result.AccountID)

	assert.Equal(t, "authorization_code", body["grant_type"])
	assert.Equal(t, "the-code", body["code"])
	// The app secret only ever travels as a hash.
	want := sha256.Sum256([]byte("app-1:s3cret"))
	assert.Equal(t, hex.EncodeToString(want[:]), body["app_id_hash"])
	assert.NotContains(t, body, "secret")
}

func TestFluxPlaceOrderWireShape(t *testing.T) {
	var body map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/oauth/token":
			json.NewEncoder(w).Encode(map[string]string{"s": "ok", "access_token": "flux-tok", "account_id": "FX100"})
		case "/api/v2/orders":
			require.Equal(t, "Bearer flux-tok", r.Header.Get("Authorization"))
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			json.NewEncoder(w).Encode(map[string]string{"s": "ok", "id": "FO-3"})
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	}))
	t.Cleanup(srv.Close)

	b := NewFluxBroker()
	_, err := b.CompleteAuth(context.Background(), "code", Credentials{"base_url": srv.URL})
	require.NoError(t, err)

	placed, err := b.PlaceOrder(context.Background(), &types.OrderRequest{
		Symbol: "SBIN", Exchange: "NSE", Action: types.ActionSell, Quantity: 3, Kind: types.KindLimit, Price: 820,
	})
	require.NoError(t, err)
	assert.Equal(t, "FO-3", placed.BrokerOrderID)

	assert.Equal(t, "NSE:SBIN", body["symbol"])
	assert.Equal(t, float64(1), body["type"])
	assert.Equal(t, float64(-1), body["side"])
	assert.Equal(t, float64(820), body["limit_price"])
}

func TestFluxOrderStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/oauth/token":
			json.NewEncoder(w).Encode(map[string]string{"s": "ok", "access_token": "flux-tok", "account_id": "FX100"})
		case "/api/v2/orders/FO-7":
			json.NewEncoder(w).Encode(map[string]interface{}{
				"s": "ok", "id": "FO-7", "symbol": "NSE:SBIN", "status": "REJECTED",
				"qty": 3, "filled_qty": 0, "rejection_reason": "insufficient margin",
			})
		case "/api/v2/orders/FO-8":
			json.NewEncoder(w).Encode(map[string]string{"s": "error", "message": "order not found"})
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	}))
	t.Cleanup(srv.Close)

	b := NewFluxBroker()
	_, err := b.CompleteAuth(context.Background(), "code", Credentials{"base_url": srv.URL})
	require.NoError(t, err)

	detail, err := b.OrderStatus(context.Background(), "FO-7")
	require.NoError(t, err)
	assert.Equal(t, "REJECTED", detail.Status)
	assert.Equal(t, "insufficient margin", detail.RejectReason)

	_, err = b.OrderStatus(context.Background(), "FO-8")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "order not found")
}

func TestFluxRefreshUnsupported(t *testing.T) {
	b := NewFluxBroker()
	refreshed, err := b.RefreshSession(context.Background())
	require.NoError(t, err)
	assert.False(t, refreshed)
}
