package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"github.com/ravitejakamalapuram/copytradepro-sub006/internal/accounts"
	"github.com/ravitejakamalapuram/copytradepro-sub006/internal/auth"
	"github.com/ravitejakamalapuram/copytradepro-sub006/internal/broadcast"
	"github.com/ravitejakamalapuram/copytradepro-sub006/internal/brokers"
	"github.com/ravitejakamalapuram/copytradepro-sub006/internal/config"
	"github.com/ravitejakamalapuram/copytradepro-sub006/internal/database"
	"github.com/ravitejakamalapuram/copytradepro-sub006/internal/health"
	"github.com/ravitejakamalapuram/copytradepro-sub006/internal/oauth"
	"github.com/ravitejakamalapuram/copytradepro-sub006/internal/orders"
	"github.com/ravitejakamalapuram/copytradepro-sub006/internal/pool"
	"github.com/ravitejakamalapuram/copytradepro-sub006/internal/symbols"
	"github.com/ravitejakamalapuram/copytradepro-sub006/pkg/middleware"

	"github.com/gin-gonic/gin"
)

// init configures the application logging based on environment settings
// In development mode, it enables pretty printing with timestamps
// Debug logging can be enabled via DEBUG environment variable
func init() {
	// Configure pretty logging for development
	if os.Getenv("ENV") != "production" {
		output := zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}
		zlog.Logger = zerolog.New(output).With().Timestamp().Logger()
	}

	// Set global log level
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if os.Getenv("DEBUG") == "true" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
}

// main initializes and runs the broker gateway server with graceful shutdown
// support. It wires the broker registry, connection pool, order pipelines
// and API routes, and starts the background maintenance loops.
func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Initialize database
	db, err := database.NewDatabase(cfg.Storage.SQLitePath)
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to initialize database")
	}

	// Initialize router
	router := gin.Default()

	// Broker adapter registry
	registry := brokers.NewRegistry()
	mustRegister(registry, "nexa", func() brokers.Broker { return brokers.NewNexaBroker() })
	mustRegister(registry, "flux", func() brokers.Broker { return brokers.NewFluxBroker() })
	mustRegister(registry, "paper", func() brokers.Broker { return brokers.NewPaperBroker() })

	// Initialize services and handlers
	authService := auth.NewService(cfg.Auth.JWTSecret)
	authHandlers := auth.NewGinHandlers(authService)
	// Register demo credentials for development use
	authService.RegisterUser(auth.DemoUserID, auth.DemoPassword)

	accountsDB := accounts.NewDatabase(db)
	symbolsDB := symbols.NewDatabase(db)
	ordersDB := orders.NewDatabase(db)

	states := oauth.NewStore(cfg.Sessions.OAuthStateTTL.Std())
	monitor := health.NewMonitor()
	connPool := pool.NewPool(registry, states, monitor, accountsDB)
	poolHandlers := pool.NewGinHandlers(connPool, monitor, accountsDB)

	hub := broadcast.NewHub()
	placement := orders.NewPlacement(connPool, accountsDB, symbolsDB, ordersDB)
	reconciler := orders.NewReconciler(connPool, ordersDB, hub)
	orderHandlers := orders.NewGinHandlers(placement, reconciler, ordersDB, connPool)

	// Background maintenance loops share a single lifecycle context
	bgCtx, bgCancel := context.WithCancel(context.Background())
	defer bgCancel()

	go states.RunSweeper(bgCtx, cfg.Sessions.OAuthSweepEvery.Std())
	go reconciler.RunPoller(bgCtx, cfg.Orders.ReconcileInterval.Std())

	sweeper := pool.NewSweeper(connPool, cfg.Sessions.EvictInterval.Std(), cfg.Sessions.IdleThreshold.Std(), cfg.Sessions.HealthInterval.Std())
	go sweeper.Start(bgCtx)

	// Setup middleware
	limiter := middleware.NewRateLimiter()
	router.Use(limiter.Middleware())

	// Setup API routes
	setupRoutes(router, cfg.Auth.JWTSecret, authHandlers, poolHandlers, orderHandlers, hub)

	// Create server
	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: router,
	}

	// Graceful shutdown setup
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Fatal().Err(err).Msg("listen")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zlog.Info().Msg("Shutting down server...")

	// Stop background loops before dropping broker sessions
	bgCancel()

	// Give outstanding operations 5 seconds to complete
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	zlog.Info().Msg("Server exiting")
}

// mustRegister registers a broker factory and aborts startup on a duplicate
// name, which indicates a wiring mistake.
func mustRegister(registry *brokers.Registry, name string, factory brokers.Factory) {
	if err := registry.Register(name, factory); err != nil {
		zlog.Fatal().Err(err).Str("broker", name).Msg("Failed to register broker")
	}
}

// setupRoutes configures all API endpoints and their handlers
// It groups routes by functionality and applies appropriate middleware:
// - Auth routes: Public endpoints for authentication
// - Connection routes: Broker session lifecycle, protected by JWT
// - Order routes: Order placement and tracking, protected by JWT
// - Internal routes: Reconciliation triggers for internal callers
func setupRoutes(
	router *gin.Engine,
	jwtSecret string,
	authHandlers *auth.GinHandlers,
	poolHandlers *pool.GinHandlers,
	orderHandlers *orders.GinHandlers,
	hub *broadcast.Hub,
) {
	v1 := router.Group("/api/v1")
	{
		// Auth routes
		authGroup := v1.Group("/auth")
		{
			authGroup.POST("/token", authHandlers.GenerateTokenHandler())
		}

		// OAuth redirect landing, identity comes from the state token
		v1.GET("/oauth/callback", poolHandlers.OAuthCallbackHandler())

		// Broker connection routes
		connections := v1.Group("/connections")
		connections.Use(middleware.JWTAuth(jwtSecret))
		{
			connections.POST("", poolHandlers.ConnectHandler())
			connections.POST("/oauth/complete", poolHandlers.CompleteOAuthHandler())
			connections.DELETE("/:broker/:account_id", poolHandlers.DisconnectHandler())
			connections.GET("/:broker/:account_id/validate", poolHandlers.ValidateSessionHandler())
			connections.GET("/accounts", poolHandlers.AccountsHandler())
			connections.GET("/brokers", poolHandlers.BrokersHandler())
		}

		// Order routes
		orderGroup := v1.Group("/orders")
		orderGroup.Use(middleware.JWTAuth(jwtSecret))
		{
			orderGroup.POST("", orderHandlers.PlaceOrderHandler())
			orderGroup.POST("/multi", orderHandlers.PlaceMultiAccountHandler())
			orderGroup.GET("", orderHandlers.ListOrdersHandler())
			orderGroup.GET("/:order_id", orderHandlers.GetOrderHandler())
			orderGroup.POST("/:order_id/cancel", orderHandlers.CancelOrderHandler())
			orderGroup.PUT("/:order_id", orderHandlers.ModifyOrderHandler())
		}

		// Market data routes
		market := v1.Group("/market")
		market.Use(middleware.JWTAuth(jwtSecret))
		{
			market.GET("/positions/:broker/:account_id", orderHandlers.PositionsHandler())
			market.GET("/quote/:broker/:account_id", orderHandlers.QuoteHandler())
		}

		// Order update stream
		ws := v1.Group("/ws")
		ws.Use(middleware.JWTAuth(jwtSecret))
		{
			ws.GET("", hub.ServeWS())
		}

		// Internal routes (should be protected by internal network)
		internal := v1.Group("/internal")
		internal.Use(middleware.InternalAuth(jwtSecret))
		{
			internal.POST("/reconcile/:order_id", orderHandlers.ReconcileHandler())
			internal.GET("/pool/stats", poolHandlers.StatsHandler())
		}
	}
}
