package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
	"github.com/rs/cors"

	"github.com/creatorpay/backend/internal/config"
	"github.com/creatorpay/backend/internal/conversion"
	"github.com/creatorpay/backend/internal/credits"
	"github.com/creatorpay/backend/internal/db"
	"github.com/creatorpay/backend/internal/earnings"
	"github.com/creatorpay/backend/internal/handlers"
	"github.com/creatorpay/backend/internal/history"
	"github.com/creatorpay/backend/internal/identity"
	"github.com/creatorpay/backend/internal/payout"
	"github.com/creatorpay/backend/internal/repository"
	"github.com/creatorpay/backend/internal/router"
	"github.com/creatorpay/backend/internal/settlement"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg := config.Load()

	ctx := context.Background()
	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("Cannot reach PostgreSQL (connection refused or invalid). Ensure Postgres is running, e.g. docker-compose up -d", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	slog.Info("Connected to PostgreSQL database successfully!")

	if err := db.Migrate(ctx, pool); err != nil {
		slog.Error("Ledger schema migration failed", "error", err)
		os.Exit(1)
	}

	// River migrations
	migrator, err := rivermigrate.New(riverpgxv5.New(pool), nil)
	if err != nil {
		slog.Error("Failed to create River migrator", "error", err)
		os.Exit(1)
	}
	if _, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil); err != nil {
		slog.Error("River migrate up failed. If the error is 'connection refused', start PostgreSQL first", "error", err)
		os.Exit(1)
	}
	slog.Info("River migrations applied")

	// Repositories
	accountRepo := repository.NewCreditAccountRepo(pool)
	txnRepo := repository.NewCreditTransactionRepo(pool)
	earningsRepo := repository.NewEarningsRepo(pool)
	paymentRepo := repository.NewPaymentRepo(pool)
	conversionRepo := repository.NewConversionRepo(pool)
	payoutRepo := repository.NewPayoutRepo(pool)

	// Services
	creditsSvc := credits.NewService(accountRepo, accountRepo, txnRepo)
	earningsSvc := earnings.NewService(earningsRepo, earningsRepo, paymentRepo, logger)
	conversionSvc := conversion.NewService(earningsRepo, earningsRepo, creditsSvc, conversionRepo)

	// Payouts: dispatch insert func is set after the River client is
	// created (breaks the init cycle).
	var insertMu sync.Mutex
	var insertFn payout.InsertDispatchTxFunc
	insertDispatch := func(ctx context.Context, tx pgx.Tx, args payout.DispatchPayoutArgs) error {
		insertMu.Lock()
		fn := insertFn
		insertMu.Unlock()
		if fn == nil {
			panic("river insert not wired")
		}
		return fn(ctx, tx, args)
	}
	payoutSvc := payout.NewService(payoutRepo, payoutRepo, earningsRepo, cfg.MinPayoutCents, insertDispatch, logger)

	rail := settlement.NewHTTPRail(cfg.SettlementRailURL)

	workers := river.NewWorkers()
	river.AddWorker(workers, payout.NewDispatchPayoutWorker(payoutSvc, rail, cfg.PublicBaseURL, logger))
	river.AddWorker(workers, payout.NewReconcilePayoutsWorker(payoutSvc, cfg.PayoutProcessingTimeout, logger))

	riverClient, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues: map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: 10},
		},
		Workers: workers,
		PeriodicJobs: []*river.PeriodicJob{
			river.NewPeriodicJob(
				river.PeriodicInterval(10*time.Minute),
				func() (river.JobArgs, *river.InsertOpts) {
					return payout.ReconcilePayoutsArgs{}, nil
				},
				&river.PeriodicJobOpts{RunOnStart: true},
			),
		},
	})
	if err != nil {
		slog.Error("Failed to create River client", "error", err)
		os.Exit(1)
	}

	insertMu.Lock()
	insertFn = func(ctx context.Context, tx pgx.Tx, args payout.DispatchPayoutArgs) error {
		_, err := riverClient.InsertTx(ctx, tx, args, nil)
		return err
	}
	insertMu.Unlock()

	// HTTP surface
	verifier := identity.NewVerifier(cfg.JWTSecret)
	facade := history.NewFacade(txnRepo, paymentRepo, payoutRepo)

	ledgerHandler := &handlers.LedgerHandler{
		Credits:    creditsSvc,
		Earnings:   earningsSvc,
		Conversion: conversionSvc,
		Payouts:    payoutSvc,
		Logger:     logger,
	}
	historyHandler := &handlers.HistoryHandler{Facade: facade, Logger: logger}
	webhookHandler := &handlers.WebhookHandler{
		Credits:  creditsSvc,
		Earnings: earningsSvc,
		Payouts:  payoutSvc,
		Logger:   logger,
	}

	mux := router.New(ledgerHandler, historyHandler, webhookHandler, verifier, cfg.WebhookTokenHash)

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}).Handler(mux)

	// Start River client (processes payout dispatch + reconciliation)
	riverCtx, stopRiver := context.WithCancel(ctx)
	defer stopRiver()
	go func() {
		if err := riverClient.Start(riverCtx); err != nil && riverCtx.Err() == nil {
			slog.Error("River client stopped", "error", err)
		}
	}()

	serverAddr := "0.0.0.0:" + cfg.Port
	slog.Info("Starting HTTP server", "addr", serverAddr)
	if err := http.ListenAndServe(serverAddr, corsHandler); err != nil {
		slog.Error("HTTP server failed", "error", err)
		os.Exit(1)
	}
}
