package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	gormpostgres "gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/frahmantamala/storefront-payments/internal/core/events"
	"github.com/frahmantamala/storefront-payments/internal/payment"
	paymentpostgres "github.com/frahmantamala/storefront-payments/internal/payment/postgres"
	"github.com/frahmantamala/storefront-payments/pkg/logger"
)

var sweepOnce bool

// sweepCmd runs the stale-attempt sweeper standalone. The server embeds the
// same sweeper; this command exists for deployments that schedule expiry
// out of process, and for one-shot manual runs.
var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Expire stale pending payment attempts",
	Long:  `Expire payment attempts stuck in pending_confirmation longer than the configured maximum age.`,
	Run: func(cmd *cobra.Command, args []string) {
		runSweeper()
	},
}

func runSweeper() {
	config, err := loadConfig(".")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(os.Getenv("APP_ENV"))
	lg := logger.L()

	sqlxDB, err := initDB(config.Database)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize database: %v\n", err)
		os.Exit(1)
	}
	defer sqlxDB.Close()

	gormDB, err := gorm.Open(gormpostgres.New(gormpostgres.Config{Conn: sqlxDB.DB}), &gorm.Config{})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize orm: %v\n", err)
		os.Exit(1)
	}

	eventBus := events.NewEventBus(lg)
	payment.NewEventHandler(lg).RegisterEventHandlers(eventBus)

	attemptRepo := paymentpostgres.NewAttemptRepository(gormDB)
	sweeper := payment.NewSweeper(attemptRepo, eventBus, lg, config.Payments.SweepInterval, config.Payments.PendingMaxAge)

	if sweepOnce {
		ctx, cancel := context.WithTimeout(context.Background(), 1*time.Minute)
		defer cancel()

		expired, err := sweeper.Sweep(ctx)
		if err != nil {
			lg.Error("sweep failed", "error", err)
			os.Exit(1)
		}
		lg.Info("sweep complete", "expired", expired)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	go sweeper.Run(ctx)

	lg.Info("sweeper running, press Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	lg.Info("received signal, stopping sweeper", "signal", sig)
	cancel()
}

func init() {
	sweepCmd.Flags().BoolVar(&sweepOnce, "once", false, "Run a single sweep and exit")
}
