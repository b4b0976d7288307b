package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ravitejakamalapuram/copytradepro-sub006/internal/auth"
	"github.com/ravitejakamalapuram/copytradepro-sub006/internal/types"
)

const (
	minOrders     = 15
	maxOrders     = 150
	numWorkers    = 5
	serverAddress = "http://localhost:8080"
)

var (
	symbols = []string{"RELIANCE", "INFY", "TCS", "HDFCBANK", "SBIN"}
	actions = []types.OrderAction{types.ActionBuy, types.ActionSell}
)

// init configures the logger for the simulation with pretty printing and timestamp
func init() {
	// Configure pretty logging
	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}
	log.Logger = zerolog.New(output).With().Timestamp().Logger()
}

// routeStats tracks performance statistics for an API endpoint
type routeStats struct {
	name       string
	durations  []time.Duration
	totalCalls int
	failures   int
}

// addDuration records a new duration measurement for the route
func (rs *routeStats) addDuration(d time.Duration) {
	rs.durations = append(rs.durations, d)
	rs.totalCalls++
}

// calculate computes performance statistics from recorded durations
// Returns min, max, mean, median, 95th percentile, and 99th percentile durations
func (rs *routeStats) calculate() (min, max, mean, median, p95, p99 time.Duration) {
	if len(rs.durations) == 0 {
		return 0, 0, 0, 0, 0, 0
	}

	// Sort durations for percentile calculations
	sort.Slice(rs.durations, func(i, j int) bool {
		return rs.durations[i] < rs.durations[j]
	})

	min = rs.durations[0]
	max = rs.durations[len(rs.durations)-1]

	// Calculate mean
	var sum time.Duration
	for _, d := range rs.durations {
		sum += d
	}
	mean = sum / time.Duration(len(rs.durations))

	// Calculate median
	median = rs.durations[len(rs.durations)/2]

	// Calculate percentiles
	p95idx := int(math.Ceil(float64(len(rs.durations))*0.95)) - 1
	p99idx := int(math.Ceil(float64(len(rs.durations))*0.99)) - 1
	p95 = rs.durations[p95idx]
	p99 = rs.durations[p99idx]

	return
}

// envelope mirrors the gateway's standard response wrapper.
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// gatewayClient handles HTTP communication with the gateway API
type gatewayClient struct {
	baseURL   string
	authToken string
	client    *http.Client
	mu        sync.Mutex
	stats     map[string]*routeStats
}

// newGatewayClient creates the client and authenticates against the gateway
func newGatewayClient() (*gatewayClient, error) {
	gc := &gatewayClient{
		baseURL: serverAddress,
		client:  &http.Client{Timeout: 10 * time.Second},
		stats: map[string]*routeStats{
			"auth":      {name: "Authentication"},
			"connect":   {name: "Connect Broker"},
			"place":     {name: "Place Order"},
			"reconcile": {name: "Reconcile Order"},
			"list":      {name: "List Orders"},
		},
	}

	var tokenResp struct {
		Token string `json:"jwt_token"`
	}
	err := gc.call("auth", http.MethodPost, "/api/v1/auth/token", map[string]string{
		"user_id":  auth.DemoUserID,
		"password": auth.DemoPassword,
	}, &tokenResp)
	if err != nil {
		return nil, fmt.Errorf("authentication failed: %w", err)
	}
	gc.authToken = tokenResp.Token
	return gc, nil
}

// call issues one API request, records its latency under the named route,
// and decodes the data payload from the response envelope into out.
func (gc *gatewayClient) call(route, method, path string, body, out interface{}) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}

	req, err := http.NewRequest(method, gc.baseURL+path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if gc.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+gc.authToken)
	}

	start := time.Now()
	resp, err := gc.client.Do(req)
	elapsed := time.Since(start)

	gc.mu.Lock()
	rs := gc.stats[route]
	rs.addDuration(elapsed)
	if err != nil {
		rs.failures++
	}
	gc.mu.Unlock()

	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("malformed response from %s: %w", path, err)
	}
	if !env.Success {
		gc.mu.Lock()
		rs.failures++
		gc.mu.Unlock()
		if env.Error != nil {
			return fmt.Errorf("%s: %s (%s)", path, env.Error.Message, env.Error.Code)
		}
		return fmt.Errorf("%s returned failure", path)
	}
	if out != nil && env.Data != nil {
		return json.Unmarshal(env.Data, out)
	}
	return nil
}

// connectPaperBroker establishes a simulated trading session and returns the
// internal account id used for order placement. The connect response carries
// the broker-side account id, so the persisted id is resolved through the
// accounts listing.
func (gc *gatewayClient) connectPaperBroker() (string, error) {
	var resp types.ConnectResponse
	err := gc.call("connect", http.MethodPost, "/api/v1/connections", map[string]interface{}{
		"broker_name": "paper",
		"credentials": map[string]string{"client_id": "SIM-1"},
	}, &resp)
	if err != nil {
		return "", err
	}
	if !resp.Activated {
		return "", fmt.Errorf("paper broker unexpectedly requested oauth")
	}

	var list []struct {
		AccountID  string `json:"account_id"`
		BrokerName string `json:"broker_name"`
		Status     string `json:"status"`
	}
	if err := gc.call("connect", http.MethodGet, "/api/v1/connections/accounts", nil, &list); err != nil {
		return "", err
	}
	for _, a := range list {
		if a.BrokerName == "paper" && a.Status == "ACTIVE" {
			return a.AccountID, nil
		}
	}
	return "", fmt.Errorf("no active simulated account after connect")
}

// placeRandomOrder submits one randomized order for the account.
func (gc *gatewayClient) placeRandomOrder(accountID string) (*types.OrderResponse, error) {
	kind := types.KindMarket
	price := 0.0
	if rand.Float64() < 0.3 {
		kind = types.KindLimit
		price = 80 + rand.Float64()*40
	}

	var resp types.OrderResponse
	err := gc.call("place", http.MethodPost, "/api/v1/orders", map[string]interface{}{
		"account_id":   accountID,
		"symbol":       symbols[rand.Intn(len(symbols))],
		"exchange":     "NSE",
		"action":       actions[rand.Intn(len(actions))],
		"quantity":     1 + rand.Intn(100),
		"order_type":   kind,
		"price":        price,
		"product_type": types.ProductIntraday,
		"validity":     types.ValidityDay,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// reconcile triggers a status reconciliation pass for one order.
func (gc *gatewayClient) reconcile(orderID string) error {
	return gc.call("reconcile", http.MethodPost, "/api/v1/internal/reconcile/"+orderID, nil, nil)
}

// printStats renders the per-route latency table once the run completes.
func (gc *gatewayClient) printStats() {
	fmt.Println("\nAPI Performance Statistics:")
	fmt.Println(strings.Repeat("-", 110))
	fmt.Printf("%-20s %-8s %-8s %-10s %-10s %-10s %-10s %-10s %-10s\n",
		"Route", "Calls", "Fails", "Min", "Max", "Mean", "Median", "P95", "P99")
	fmt.Println(strings.Repeat("-", 110))

	for _, key := range []string{"auth", "connect", "place", "reconcile", "list"} {
		rs := gc.stats[key]
		min, max, mean, median, p95, p99 := rs.calculate()
		fmt.Printf("%-20s %-8d %-8d %-10s %-10s %-10s %-10s %-10s %-10s\n",
			rs.name, rs.totalCalls, rs.failures,
			min.Round(time.Millisecond), max.Round(time.Millisecond),
			mean.Round(time.Millisecond), median.Round(time.Millisecond),
			p95.Round(time.Millisecond), p99.Round(time.Millisecond))
	}
	fmt.Println(strings.Repeat("-", 110))
}

// main runs an end-to-end simulation against a locally running gateway:
// authenticate, connect the paper broker, fan randomized orders out across
// workers, reconcile each placed order, and report per-route latencies.
func main() {
	client, err := newGatewayClient()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize simulation client")
	}

	accountID, err := client.connectPaperBroker()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect paper broker")
	}
	log.Info().Str("account_id", accountID).Msg("paper broker connected")

	numOrders := minOrders + rand.Intn(maxOrders-minOrders+1)
	log.Info().
		Int("orders", numOrders).
		Int("workers", numWorkers).
		Msg("starting order simulation")

	jobs := make(chan int)
	placed := make(chan string, numOrders)
	var wg sync.WaitGroup

	for w := 0; w < numWorkers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range jobs {
				resp, err := client.placeRandomOrder(accountID)
				if err != nil {
					log.Warn().Err(err).Msg("order placement call failed")
					continue
				}
				if !resp.Success {
					log.Warn().
						Str("error_type", resp.ErrorType).
						Str("message", resp.Message).
						Msg("order rejected")
					continue
				}
				placed <- resp.OrderID
			}
		}()
	}

	for i := 0; i < numOrders; i++ {
		jobs <- i
	}
	close(jobs)
	wg.Wait()
	close(placed)

	// Resting simulated orders only progress when the reconciler polls them,
	// so force a pass per order instead of waiting for the background poller.
	reconciled := 0
	for orderID := range placed {
		if err := client.reconcile(orderID); err != nil {
			log.Warn().Err(err).Str("order_id", orderID).Msg("reconciliation failed")
			continue
		}
		reconciled++
	}

	var orderList []json.RawMessage
	if err := client.call("list", http.MethodGet, "/api/v1/orders", nil, &orderList); err != nil {
		log.Warn().Err(err).Msg("failed to list orders")
	}

	log.Info().
		Int("persisted", len(orderList)).
		Int("reconciled", reconciled).
		Msg("simulation complete")

	client.printStats()
}
