package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

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

	"github.com/gin-gonic/gin"
)

// init configures the application logging based on environment settings
// In development mode, it enables pretty printing with timestamps
// Debug logging can be enabled via DEBUG environment variable
func init() {
	if os.Getenv("ENV") != "production" {
		output := zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}
		zlog.Logger = zerolog.New(output).With().Timestamp().Logger()
	}

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if os.Getenv("DEBUG") == "true" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
}

// main initializes and runs the trading control plane with graceful
// shutdown support. It wires every service with its collaborators passed in
// explicitly; nothing is reached through package-level singletons.
func main() {
	db, err := database.NewDatabase(os.Getenv("DB_PATH"))
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to initialize database")
	}

	router := gin.Default()

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		jwtSecret = "tradegate-secret-key"
	}
	middleware.SetJWTSecret(jwtSecret)

	authService := auth.NewService(jwtSecret)
	authHandlers := auth.NewGinHandlers(authService)
	// Register test credentials
	authService.RegisterAPICredentials(auth.TestAPIKey, auth.TestAPISecret)

	orderService := orders.NewService(orders.NewDatabase(db), orders.NewMachine())
	orderHandlers := orders.NewGinHandlers(orderService)

	idemService := idempotency.NewService(idempotency.NewDatabase(db), idempotencyTTL())

	killSwitchService := killswitch.NewService(killswitch.NewDatabase(db))
	killSwitchHandlers := killswitch.NewGinHandlers(killSwitchService)

	positionService := positions.NewService(positions.NewDatabase(db))
	positionHandlers := positions.NewGinHandlers(positionService)

	pnlTracker := pnl.NewTracker(pnl.NewDatabase(db), envFloat("MAX_DAILY_LOSS", 0))

	checker := pretrade.NewChecker(killSwitchService, pnlTracker, positionService)

	strategyDB := strategy.NewDatabase(db)
	registry := strategy.NewRegistry(strategyDB, strategyDB, checker)
	registry.RegisterFactory(strategy.TypeMomentum, strategy.NewMomentumFactory())

	bus := events.NewBus()

	// The simulated exchange stands in for the real client; swap in a live
	// OrderSubmitter implementation for production deployments.
	venue := exchange.NewSimulated(time.Now().UnixNano(), seedMarkets(positionService))

	executor := strategy.NewExecutor(strategy.ExecutorDeps{
		Registry:  registry,
		Configs:   strategyDB,
		States:    strategyDB,
		Orders:    orderService,
		Idem:      idemService,
		Positions: positionService,
		Pnl:       pnlTracker,
		Submitter: venue,
		Bus:       bus,
	})
	strategyHandlers := strategy.NewGinHandlers(executor, strategyDB, strategyDB, venue, killSwitchService)

	// Start the run-loop processor
	processor := strategy.NewProcessor(executor, venue, envDuration("RUN_INTERVAL_SECONDS", 60))
	processorCtx, processorCancel := context.WithCancel(context.Background())
	defer processorCancel()

	go processor.Start(processorCtx)

	// Periodic idempotency record cleanup
	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-processorCtx.Done():
				return
			case <-ticker.C:
				if _, err := idemService.Cleanup(); err != nil {
					zlog.Error().Err(err).Msg("idempotency cleanup failed")
				}
			}
		}
	}()

	router.Use(middleware.RateLimit())

	setupRoutes(router, authHandlers, orderHandlers, killSwitchHandlers, positionHandlers, strategyHandlers)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	srv := &http.Server{
		Addr:    ":" + port,
		Handler: router,
	}

	// Graceful shutdown setup
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Fatal().Err(err).Msg("listen")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zlog.Info().Msg("Shutting down server...")

	// Give outstanding operations 5 seconds to complete
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	zlog.Info().Msg("Server exiting")
}

// setupRoutes configures all API endpoints and their handlers:
// - Auth routes: public endpoints for token issuance
// - Read routes: order/market/strategy inspection behind JWT auth
// - Control routes: kill switches, caps, strategy config and executor runs
//   behind the operate permission
func setupRoutes(
	router *gin.Engine,
	authHandlers *auth.GinHandlers,
	orderHandlers *orders.GinHandlers,
	killSwitchHandlers *killswitch.GinHandlers,
	positionHandlers *positions.GinHandlers,
	strategyHandlers *strategy.GinHandlers,
) {
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

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
			read.GET("/orders/:order_id/transitions", orderHandlers.GetOrderTransitionsHandler())
			read.GET("/markets", positionHandlers.ListMarketsHandler())
			read.GET("/markets/positions", positionHandlers.ListPositionsHandler())
			read.GET("/strategies", strategyHandlers.ListConfigsHandler())
			read.GET("/strategies/state", strategyHandlers.ListStatesHandler())
			read.GET("/executor/status", strategyHandlers.StatusHandler())
			read.GET("/controls/kill-switches", killSwitchHandlers.ListActiveHandler())
		}

		// Control routes
		controls := v1.Group("")
		controls.Use(middleware.OperatorAuth())
		{
			controls.POST("/controls/emergency-stop", killSwitchHandlers.EmergencyStopHandler())
			controls.POST("/controls/kill-switches", killSwitchHandlers.TriggerHandler())
			controls.POST("/controls/kill-switches/:switch_id/reset", killSwitchHandlers.ResetHandler())
			controls.PUT("/controls/kill-switch-config", killSwitchHandlers.SetConfigHandler())
			controls.POST("/markets", positionHandlers.EnsureMarketHandler())
			controls.PUT("/markets/caps", positionHandlers.SetGlobalCapHandler())
			controls.PUT("/strategies", strategyHandlers.UpsertConfigHandler())
			controls.DELETE("/strategies/:strategy_id", strategyHandlers.DeleteConfigHandler())
			controls.POST("/executor/run", strategyHandlers.RunHandler())
			controls.POST("/orders/:order_id/cancel", orderHandlers.CancelOrderHandler())
		}
	}
}

// seedMarkets loads registered markets into the simulated venue's quote
// model, with mid-book starting quotes.
func seedMarkets(positionService *positions.Service) []types.MarketQuote {
	markets, err := positionService.ListMarkets()
	if err != nil {
		zlog.Error().Err(err).Msg("failed to list markets for quote seeding")
		return nil
	}

	quotes := make([]types.MarketQuote, 0, len(markets))
	for _, m := range markets {
		quotes = append(quotes, types.MarketQuote{
			MarketID:  m.MarketID,
			Ticker:    m.ExternalID,
			Category:  m.Category,
			YesBid:    48,
			YesAsk:    51,
			Liquidity: 1000,
		})
	}
	return quotes
}

func idempotencyTTL() time.Duration {
	hours := envFloat("IDEMPOTENCY_TTL_HOURS", 24)
	return time.Duration(hours * float64(time.Hour))
}

func envFloat(key string, fallback float64) float64 {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fallback
	}
	return v
}

func envDuration(key string, fallbackSeconds int) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return time.Duration(fallbackSeconds) * time.Second
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return time.Duration(fallbackSeconds) * time.Second
	}
	return time.Duration(v) * time.Second
}
