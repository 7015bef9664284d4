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
	"time"

	"github.com/gin-gonic/gin"
	"github.com/oddslab/tradegate/internal/auth"
	"github.com/oddslab/tradegate/internal/database"
	"github.com/oddslab/tradegate/internal/events"
	"github.com/oddslab/tradegate/internal/exchange"
	"github.com/oddslab/tradegate/internal/idempotency"
	"github.com/oddslab/tradegate/internal/killswitch"
	"github.com/oddslab/tradegate/internal/orders"
	"github.com/oddslab/tradegate/internal/pnl"
	"github.com/oddslab/tradegate/internal/positions"
	"github.com/oddslab/tradegate/internal/pretrade"
	"github.com/oddslab/tradegate/internal/strategy"
	"github.com/oddslab/tradegate/internal/types"
	"github.com/oddslab/tradegate/pkg/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	numRuns       = 20
	serverAddress = "http://localhost:8080"
	jwtSecret     = "tradegate-secret-key"
)

// simMarket describes a prediction market seeded into the simulated venue.
type simMarket struct {
	externalID string
	title      string
	category   string
	yesBid     float64
	yesAsk     float64
}

var simMarkets = []simMarket{
	{"FED-CUT-SEP", "Fed cuts rates in September", "economics", 55, 58},
	{"CPI-ABOVE-3", "August CPI above 3 percent", "economics", 30, 33},
	{"SHUTDOWN-OCT", "Government shutdown by October", "politics", 18, 21},
	{"BTC-100K-EOY", "Bitcoin above 100k at year end", "crypto", 62, 65},
	{"ETH-ETF-FLOW", "ETH ETF net inflows this week", "crypto", 44, 47},
}

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

// simulationClient handles HTTP communication with the control plane API
type simulationClient struct {
	baseURL   string
	authToken string
	client    *http.Client
	stats     map[string]*routeStats
}

// newSimulationClient creates and initializes a new simulation client
// It authenticates with the API and prepares performance tracking
func newSimulationClient() (*simulationClient, error) {
	// Create HTTP client with timeout
	client := &http.Client{
		Timeout: 10 * time.Second,
	}

	sc := &simulationClient{
		baseURL: serverAddress,
		client:  client,
		stats: map[string]*routeStats{
			"auth":     {name: "Authentication"},
			"strategy": {name: "Upsert Strategy"},
			"caps":     {name: "Set Global Cap"},
			"run":      {name: "Executor Run"},
			"status":   {name: "Executor Status"},
			"stop":     {name: "Emergency Stop"},
			"reset":    {name: "Switch Reset"},
		},
	}

	// Get auth token
	token, err := sc.authenticate()
	if err != nil {
		return nil, fmt.Errorf("failed to authenticate: %w", err)
	}
	sc.authToken = token

	return sc, nil
}

// authenticate performs API authentication and returns a JWT token
func (sc *simulationClient) authenticate() (string, error) {
	start := time.Now()
	defer func() {
		sc.stats["auth"].addDuration(time.Since(start))
	}()

	credentials := map[string]string{
		"api_key":    auth.TestAPIKey,
		"api_secret": auth.TestAPISecret,
	}

	body, err := json.Marshal(credentials)
	if err != nil {
		return "", err
	}

	resp, err := sc.client.Post(
		fmt.Sprintf("%s/api/v1/auth/token", sc.baseURL),
		"application/json",
		bytes.NewBuffer(body),
	)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("authentication failed with status: %d", resp.StatusCode)
	}

	var result struct {
		Token string `json:"jwt_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", err
	}

	return result.Token, nil
}

// do performs an authenticated request and decodes the standard response
// envelope into out, recording latency against the named route.
func (sc *simulationClient) do(route, method, path string, payload, out interface{}) error {
	start := time.Now()
	defer func() {
		sc.stats[route].addDuration(time.Since(start))
	}()

	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewBuffer(encoded)
	}

	req, err := http.NewRequest(method, sc.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", sc.authToken))
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := sc.client.Do(req)
	if err != nil {
		sc.stats[route].failures++
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}
	log.Debug().Str("route", route).Str("response", string(respBody)).Msg("API response")

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		sc.stats[route].failures++
		return fmt.Errorf("%s %s failed with status %d: %s", method, path, resp.StatusCode, string(respBody))
	}

	if out != nil {
		var envelope struct {
			Success bool            `json:"success"`
			Data    json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(respBody, &envelope); err != nil {
			return fmt.Errorf("failed to decode response: %w, body: %s", err, string(respBody))
		}
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			return fmt.Errorf("failed to decode response data: %w, body: %s", err, string(respBody))
		}
	}

	return nil
}

// upsertStrategy registers the momentum strategy used by the simulation
func (sc *simulationClient) upsertStrategy() error {
	cfg := strategy.Config{
		StrategyID:    "sim-momentum",
		Name:          "Simulation Momentum",
		Type:          strategy.TypeMomentum,
		Enabled:       true,
		AutoExecute:   true,
		MinEdge:       2,
		MinConfidence: 0.5,
		MaxSpread:     10,
		MinLiquidity:  100,
		Params:        `{"target_bias": 6, "order_size": 10, "signal_ttl_minutes": 15}`,
	}
	return sc.do("strategy", "PUT", "/api/v1/strategies", cfg, nil)
}

// setGlobalCaps applies portfolio-wide position and notional limits
func (sc *simulationClient) setGlobalCaps() error {
	capRequest := map[string]interface{}{
		"cap_type": positions.CapTypePositionSize,
		"limit":    500.0,
	}
	if err := sc.do("caps", "PUT", "/api/v1/markets/caps", capRequest, nil); err != nil {
		return err
	}

	capRequest = map[string]interface{}{
		"cap_type": positions.CapTypeNotional,
		"limit":    50000.0,
	}
	return sc.do("caps", "PUT", "/api/v1/markets/caps", capRequest, nil)
}

// triggerRun requests one executor run and returns its result
func (sc *simulationClient) triggerRun() (*types.ExecutionResult, error) {
	var result types.ExecutionResult
	if err := sc.do("run", "POST", "/api/v1/executor/run", nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// getStatus retrieves the executor's run counters
func (sc *simulationClient) getStatus() (*strategy.ExecutorStatus, error) {
	var status strategy.ExecutorStatus
	if err := sc.do("status", "GET", "/api/v1/executor/status", nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// emergencyStop activates the global kill switch and returns its ID
func (sc *simulationClient) emergencyStop(reason string) (string, error) {
	var sw killswitch.KillSwitch
	payload := map[string]string{"reason": reason}
	if err := sc.do("stop", "POST", "/api/v1/controls/emergency-stop", payload, &sw); err != nil {
		return "", err
	}
	if sw.SwitchID == "" {
		return "", fmt.Errorf("no switch ID in emergency stop response")
	}
	return sw.SwitchID, nil
}

// expectHaltedRun asserts that an executor run is refused outright while the
// global kill switch is active.
func (sc *simulationClient) expectHaltedRun() error {
	start := time.Now()
	defer func() {
		sc.stats["run"].addDuration(time.Since(start))
	}()

	req, err := http.NewRequest("POST", sc.baseURL+"/api/v1/executor/run", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", sc.authToken))

	resp, err := sc.client.Do(req)
	if err != nil {
		sc.stats["run"].failures++
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode != http.StatusLocked || !strings.Contains(string(body), "TRADING_HALTED") {
		sc.stats["run"].failures++
		return fmt.Errorf("expected halted run refusal, got status %d: %s", resp.StatusCode, string(body))
	}
	return nil
}

// resetSwitch deactivates a kill switch by ID
func (sc *simulationClient) resetSwitch(switchID string) error {
	path := fmt.Sprintf("/api/v1/controls/kill-switches/%s/reset", switchID)
	return sc.do("reset", "POST", path, nil, nil)
}

// printPerformanceStats outputs formatted performance statistics for all API endpoints
func (sc *simulationClient) printPerformanceStats() {
	fmt.Println("\n API Performance Statistics")
	fmt.Println(strings.Repeat("-", 100))
	fmt.Printf("%-20s %10s %10s %10s %10s %10s %10s %10s %10s\n",
		"Endpoint", "Calls", "Errors", "Min", "Max", "Mean", "Median", "P95", "P99")
	fmt.Println(strings.Repeat("-", 100))

	for _, stats := range sc.stats {
		min, max, mean, median, p95, p99 := stats.calculate()
		fmt.Printf("%-20s %10d %10d %10s %10s %10s %10s %10s %10s\n",
			stats.name,
			stats.totalCalls,
			stats.failures,
			min.Round(time.Millisecond),
			max.Round(time.Millisecond),
			mean.Round(time.Millisecond),
			median.Round(time.Millisecond),
			p95.Round(time.Millisecond),
			p99.Round(time.Millisecond))
	}
	fmt.Println(strings.Repeat("-", 100))
}

// main runs the trading control plane simulation
// It starts a local API server, registers a momentum strategy and drives
// executor runs against the simulated venue, including a kill switch drill
func main() {
	// Start the server in a goroutine
	go func() {
		if err := startServer(); err != nil {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Wait for server to start
	time.Sleep(2 * time.Second)

	// Initialize simulation client
	simClient, err := newSimulationClient()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize simulation client")
	}

	if err := simClient.upsertStrategy(); err != nil {
		log.Fatal().Err(err).Msg("Failed to register strategy")
	}
	if err := simClient.setGlobalCaps(); err != nil {
		log.Fatal().Err(err).Msg("Failed to set global caps")
	}

	log.Info().Int("runs", numRuns).Msg("Starting simulation")

	// Collect statistics during processing
	stats := struct {
		TotalRuns      int
		TotalSignals   int
		Executed       int
		Rejected       int
		Errors         int
		HaltedRuns     int
		StartTime      time.Time
		Markets        map[string]int
		SignalStatuses map[string]int
	}{
		StartTime:      time.Now(),
		Markets:        make(map[string]int),
		SignalStatuses: make(map[string]int),
	}

	halfway := numRuns / 2
	for i := 0; i < numRuns; i++ {
		// Midway through, run the kill switch drill: run requests made while
		// the global switch is active must be refused outright.
		if i == halfway {
			switchID, err := simClient.emergencyStop("simulation drill")
			if err != nil {
				log.Fatal().Err(err).Msg("Failed to trigger emergency stop")
			}
			log.Warn().Str("switch_id", switchID).Msg("Global kill switch active")

			if err := simClient.expectHaltedRun(); err != nil {
				log.Error().Err(err).Msg("Halted run drill failed")
			} else {
				stats.HaltedRuns++
				log.Info().Msg("Run refused while halted")
			}

			if err := simClient.resetSwitch(switchID); err != nil {
				log.Fatal().Err(err).Str("switch_id", switchID).Msg("Failed to reset kill switch")
			}
			log.Info().Str("switch_id", switchID).Msg("Kill switch reset, resuming")
		}

		result, err := simClient.triggerRun()
		if err != nil {
			log.Error().Err(err).Int("run", i).Msg("Executor run failed")
			continue
		}

		stats.TotalRuns++
		stats.TotalSignals += len(result.Signals)
		stats.Errors += len(result.Errors)
		for _, signal := range result.Signals {
			stats.Markets[signal.Ticker]++
			stats.SignalStatuses[string(signal.Status)]++
		}
		for _, exec := range result.Executions {
			if exec.Executed {
				stats.Executed++
			} else if exec.RejectionReason != "" {
				stats.Rejected++
			}
		}

		log.Info().
			Int("run", i).
			Int("signals", len(result.Signals)).
			Int("executions", len(result.Executions)).
			Int("errors", len(result.Errors)).
			Dur("duration", result.Duration).
			Msg("Executor run complete")

		// Random sleep between runs
		time.Sleep(time.Duration(rand.Intn(500)) * time.Millisecond)
	}

	status, err := simClient.getStatus()
	if err != nil {
		log.Error().Err(err).Msg("Failed to fetch executor status")
	}

	// Print summary
	duration := time.Since(stats.StartTime)
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println(" TRADING SIMULATION SUMMARY")
	fmt.Println(strings.Repeat("=", 80))

	fmt.Printf(`
 Run Statistics
------------------
Executor Runs:    %d
Signals:          %d
Executed:         %d
Rejected:         %d
Run Errors:       %d
Halted Runs:      %d
Duration:         %v

 Market Distribution
--------------------
`, stats.TotalRuns, stats.TotalSignals, stats.Executed, stats.Rejected,
		stats.Errors, stats.HaltedRuns, duration.Round(time.Millisecond))

	// Print market distribution with simple ASCII bar chart
	maxMarketCount := 0
	for _, count := range stats.Markets {
		if count > maxMarketCount {
			maxMarketCount = count
		}
	}

	for ticker, count := range stats.Markets {
		barLength := int(float64(count) / float64(maxMarketCount) * 20)
		bar := strings.Repeat("#", barLength)
		fmt.Printf("%-14s: %s (%d)\n", ticker, bar, count)
	}

	fmt.Println("\n Signal Status Distribution")
	fmt.Println("------------------")
	for signalStatus, count := range stats.SignalStatuses {
		barLength := 0
		if stats.TotalSignals > 0 {
			barLength = int(float64(count) / float64(stats.TotalSignals) * 20)
		}
		bar := strings.Repeat("#", barLength)
		fmt.Printf("%-10s: %s (%d)\n", signalStatus, bar, count)
	}

	fmt.Println("\n" + strings.Repeat("=", 80))

	if status != nil {
		log.Info().
			Int64("total_runs", status.TotalRuns).
			Int64("total_signals", status.TotalSignals).
			Int64("total_executions", status.TotalExecutions).
			Dur("duration", duration).
			Msg("Simulation completed")
	}

	simClient.printPerformanceStats()
}

// startServer initializes and starts the control plane API server
// Sets up all required services, handlers and routes backed by the
// simulated venue
func startServer() error {
	// Initialize database
	db, err := database.NewDatabase("tradegate_simulation.db")
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	middleware.SetJWTSecret(jwtSecret)

	// Initialize services
	authService := auth.NewService(jwtSecret)
	authService.RegisterAPICredentials(auth.TestAPIKey, auth.TestAPISecret)

	orderService := orders.NewService(orders.NewDatabase(db), orders.NewMachine())
	idemService := idempotency.NewService(idempotency.NewDatabase(db), idempotency.DefaultTTL)
	killSwitchService := killswitch.NewService(killswitch.NewDatabase(db))
	positionService := positions.NewService(positions.NewDatabase(db))
	pnlTracker := pnl.NewTracker(pnl.NewDatabase(db), 0)
	checker := pretrade.NewChecker(killSwitchService, pnlTracker, positionService)

	strategyDB := strategy.NewDatabase(db)
	registry := strategy.NewRegistry(strategyDB, strategyDB, checker)
	registry.RegisterFactory(strategy.TypeMomentum, strategy.NewMomentumFactory())

	// Register the simulated markets and seed the venue's quote model
	quotes := make([]types.MarketQuote, 0, len(simMarkets))
	for _, m := range simMarkets {
		market, err := positionService.EnsureMarket(m.externalID, m.title, m.category, 100, 10000)
		if err != nil {
			return fmt.Errorf("failed to register market %s: %w", m.externalID, err)
		}
		quotes = append(quotes, types.MarketQuote{
			MarketID:  market.MarketID,
			Ticker:    market.ExternalID,
			Category:  market.Category,
			YesBid:    m.yesBid,
			YesAsk:    m.yesAsk,
			Liquidity: 1000,
		})
	}
	venue := exchange.NewSimulated(42, quotes)

	executor := strategy.NewExecutor(strategy.ExecutorDeps{
		Registry:  registry,
		Configs:   strategyDB,
		States:    strategyDB,
		Orders:    orderService,
		Idem:      idemService,
		Positions: positionService,
		Pnl:       pnlTracker,
		Submitter: venue,
		Bus:       events.NewBus(),
	})

	// Initialize router
	router := gin.Default()
	authHandlers := auth.NewGinHandlers(authService)
	orderHandlers := orders.NewGinHandlers(orderService)
	killSwitchHandlers := killswitch.NewGinHandlers(killSwitchService)
	positionHandlers := positions.NewGinHandlers(positionService)
	strategyHandlers := strategy.NewGinHandlers(executor, strategyDB, strategyDB, venue, killSwitchService)

	// Setup routes
	setupRoutes(router, authHandlers, orderHandlers, killSwitchHandlers, positionHandlers, strategyHandlers)

	// Start the server
	return router.Run(":8080")
}

// setupRoutes configures all API endpoints and their handlers
// Groups routes by functionality and applies appropriate middleware
func setupRoutes(
	router *gin.Engine,
	authHandlers *auth.GinHandlers,
	orderHandlers *orders.GinHandlers,
	killSwitchHandlers *killswitch.GinHandlers,
	positionHandlers *positions.GinHandlers,
	strategyHandlers *strategy.GinHandlers,
) {
	v1 := router.Group("/api/v1")
	{
		// Auth routes
		authGroup := v1.Group("/auth")
		{
			authGroup.POST("/token", authHandlers.GenerateTokenHandler())
		}

		// Read routes
		read := v1.Group("")
		read.Use(middleware.JWTAuth())
		{
			read.GET("/orders/:order_id", orderHandlers.GetOrderHandler())
			read.GET("/markets", positionHandlers.ListMarketsHandler())
			read.GET("/markets/positions", positionHandlers.ListPositionsHandler())
			read.GET("/strategies/state", strategyHandlers.ListStatesHandler())
			read.GET("/executor/status", strategyHandlers.StatusHandler())
		}

		// Control routes
		controls := v1.Group("")
		controls.Use(middleware.OperatorAuth())
		{
			controls.POST("/controls/emergency-stop", killSwitchHandlers.EmergencyStopHandler())
			controls.POST("/controls/kill-switches/:switch_id/reset", killSwitchHandlers.ResetHandler())
			controls.PUT("/markets/caps", positionHandlers.SetGlobalCapHandler())
			controls.PUT("/strategies", strategyHandlers.UpsertConfigHandler())
			controls.POST("/executor/run", strategyHandlers.RunHandler())
		}
	}
}
