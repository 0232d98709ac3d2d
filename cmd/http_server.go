package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"
	gormpostgres "gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/frahmantamala/storefront-payments/internal"
	"github.com/frahmantamala/storefront-payments/internal/auth"
	authpostgres "github.com/frahmantamala/storefront-payments/internal/auth/postgres"
	"github.com/frahmantamala/storefront-payments/internal/core/events"
	orderpostgres "github.com/frahmantamala/storefront-payments/internal/order/postgres"
	"github.com/frahmantamala/storefront-payments/internal/payment"
	paymentpostgres "github.com/frahmantamala/storefront-payments/internal/payment/postgres"
	"github.com/frahmantamala/storefront-payments/internal/provider"
	"github.com/frahmantamala/storefront-payments/internal/provider/mpesa"
	"github.com/frahmantamala/storefront-payments/internal/provider/paypal"
	"github.com/frahmantamala/storefront-payments/internal/provider/stripe"
	"github.com/frahmantamala/storefront-payments/internal/transport"
	"github.com/frahmantamala/storefront-payments/internal/transport/rest"
	"github.com/frahmantamala/storefront-payments/pkg/logger"
)

var httpServerCmd = &cobra.Command{
	Use:   "server",
	Short: "Start HTTP server",
	Long:  `Start the HTTP server to handle API requests`,
	Run: func(cmd *cobra.Command, args []string) {
		startHTTPServer()
	},
}

type Dependencies struct {
	Config         *internal.Config
	DB             *sqlx.DB
	GormDB         *gorm.DB
	Router         *chi.Mux
	AuthHandler    *auth.Handler
	PaymentHandler *payment.Handler
	WebhookHandler *payment.WebhookHandler
	Sweeper        *payment.Sweeper
	Logger         *slog.Logger
}

func startHTTPServer() {
	deps, err := initializeDependencies()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize dependencies: %v\n", err)
		os.Exit(1)
	}

	rest.RegisterAllRoutes(deps.Router, deps.DB.DB, deps.AuthHandler, deps.PaymentHandler, deps.WebhookHandler, deps.Logger)

	// Background expiry of abandoned attempts runs alongside the server
	// and stops with it.
	sweepCtx, stopSweeper := context.WithCancel(context.Background())
	go deps.Sweeper.Run(sweepCtx)

	addr := fmt.Sprintf(":%d", deps.Config.Server.Port)
	deps.Logger.Info("starting HTTP server", "address", addr)

	server := &http.Server{
		Addr:              addr,
		Handler:           deps.Router,
		ReadHeaderTimeout: deps.Config.Server.ReadHeaderTimeout,
		ReadTimeout:       deps.Config.Server.ReadTimeout,
		WriteTimeout:      deps.Config.Server.WriteTimeout,
		IdleTimeout:       deps.Config.Server.IdleTimeout,
	}

	// Signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	serverErrChan := make(chan error, 1)
	go func() {
		serverErrChan <- server.ListenAndServe()
	}()

	select {
	case sig := <-sigChan:
		deps.Logger.Info("received signal, shutting down", "signal", sig)
		stopSweeper()
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			deps.Logger.Error("server shutdown error", "error", err)
		}
		if err := deps.DB.Close(); err != nil {
			deps.Logger.Error("database close error", "error", err)
		}
	case err := <-serverErrChan:
		stopSweeper()
		if err != nil && err != http.ErrServerClosed {
			deps.Logger.Error("server failed to start", "error", err)
			os.Exit(1)
		}
	}

	deps.Logger.Info("server stopped")
}

func initializeDependencies() (*Dependencies, error) {
	config, err := loadConfig(".")
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger.Init(os.Getenv("APP_ENV"))
	lg := logger.L()

	db, err := initDB(config.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	gormDB, err := gorm.Open(gormpostgres.New(gormpostgres.Config{Conn: db.DB}), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize orm: %w", err)
	}

	eventBus := events.NewEventBus(lg)
	payment.NewEventHandler(lg).RegisterEventHandlers(eventBus)

	mpesaAdapter := mpesa.NewAdapter(mpesa.Config{
		BaseURL:        config.Providers.Mpesa.BaseURL,
		ConsumerKey:    config.Providers.Mpesa.ConsumerKey,
		ConsumerSecret: config.Providers.Mpesa.ConsumerSecret,
		ShortCode:      config.Providers.Mpesa.ShortCode,
		Passkey:        config.Providers.Mpesa.Passkey,
		CallbackURL:    config.Providers.Mpesa.CallbackURL,
	}, lg)

	stripeAdapter := stripe.NewAdapter(stripe.Config{
		APIKey:        config.Providers.Stripe.APIKey,
		WebhookSecret: config.Providers.Stripe.WebhookSecret,
	}, lg)

	paypalAdapter := paypal.NewAdapter(paypal.Config{
		BaseURL:      config.Providers.Paypal.BaseURL,
		ClientID:     config.Providers.Paypal.ClientID,
		ClientSecret: config.Providers.Paypal.ClientSecret,
	}, lg)

	adapters := map[provider.Name]provider.Adapter{
		provider.Mpesa:  mpesaAdapter,
		provider.Stripe: stripeAdapter,
		provider.Paypal: paypalAdapter,
	}

	attemptRepo := paymentpostgres.NewAttemptRepository(gormDB)
	orderRepo := orderpostgres.NewOrderRepository(gormDB)

	engine := payment.NewEngine(adapters, mpesaAdapter, attemptRepo, orderRepo, eventBus, lg, payment.EngineConfig{
		InitiateTimeout: config.Payments.InitiateTimeout,
		PollInterval:    config.Payments.PollInterval,
		PollMaxAttempts: config.Payments.PollMaxAttempts,
	})

	sweeper := payment.NewSweeper(attemptRepo, eventBus, lg, config.Payments.SweepInterval, config.Payments.PendingMaxAge)

	authRepo := authpostgres.NewRepository(gormDB)
	tokenGen := auth.NewJWTTokenGenerator(config.Security.AccessTokenSecret, config.Security.RefreshTokenSecret)
	authService := auth.NewService(authRepo, tokenGen)
	authHandler := auth.NewHandler(authService)

	baseHandler := transport.NewBaseHandler(lg)
	paymentHandler := payment.NewHandler(baseHandler, engine, lg)
	webhookHandler := payment.NewWebhookHandler(baseHandler, engine, mpesaAdapter, stripeAdapter, paypalAdapter, lg)

	return &Dependencies{
		Config:         config,
		DB:             db,
		GormDB:         gormDB,
		Router:         chi.NewRouter(),
		AuthHandler:    authHandler,
		PaymentHandler: paymentHandler,
		WebhookHandler: webhookHandler,
		Sweeper:        sweeper,
		Logger:         lg,
	}, nil
}

// initDB initializes the database connection
func initDB(cfg internal.DatabaseConfig) (*sqlx.DB, error) {
	const driver = "pgx"

	dbConn, err := sqlx.Connect(driver, cfg.Source)
	if err != nil {
		return nil, fmt.Errorf("failed to open db connection: %w", err)
	}

	dbConn.SetMaxIdleConns(cfg.MaxIdleConns)
	dbConn.SetMaxOpenConns(cfg.MaxOpenConns)
	dbConn.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	dbConn.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	// verify connection; close underlying *sql.DB on failure
	if err := dbConn.Ping(); err != nil {
		_ = dbConn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return dbConn, nil
}
