package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"dicebet/internal/config"
	"dicebet/internal/db"
	"dicebet/internal/game"
	"dicebet/internal/handlers"
	"dicebet/internal/lock"
	"dicebet/internal/logger"
	"dicebet/internal/money"
	"dicebet/internal/services"
	"dicebet/internal/storage"
	"dicebet/internal/store"
	"dicebet/internal/websocket"
	"dicebet/internal/worker"
)

func main() {
	cfg := config.Load()
	if err := logger.Init(logger.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		File:   cfg.LogFile,
	}); err != nil {
		panic(err)
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	minWithdrawal, err := money.ParseMinor(cfg.MinWithdrawal)
	if err != nil || minWithdrawal <= 0 {
		logger.Fatal(ctx).Str("value", cfg.MinWithdrawal).Msg("invalid MIN_WITHDRAWAL")
	}
	referralRate, err := money.ParseRate(cfg.ReferralRate)
	if err != nil {
		logger.Fatal(ctx).Str("value", cfg.ReferralRate).Msg("invalid REFERRAL_RATE")
	}

	database, err := db.Connect(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal(ctx).Err(err).Msg("failed to connect database")
	}
	defer database.Close()
	if _, err := db.MigrateUp(database.DB); err != nil {
		logger.Fatal(ctx).Err(err).Msg("failed to apply migrations")
	}

	proofs, err := storage.NewProofStore(cfg.UploadDir)
	if err != nil {
		logger.Fatal(ctx).Err(err).Str("dir", cfg.UploadDir).Msg("failed to prepare upload dir")
	}

	accounts := store.NewAccountStore(database)
	rounds := store.NewRoundStore(database)
	wagers := store.NewWagerStore(database)
	deposits := store.NewDepositStore(database)
	withdrawals := store.NewWithdrawalStore(database)
	paymentMethods := store.NewPaymentMethodStore(database)
	settings := store.NewSettingsStore(database)
	ledger := store.NewLedgerStore(database)
	admin := store.NewAdminStore(database)
	audit := store.NewAuditStore(database)
	txRunner := db.NewTxRunner(database)
	hub := websocket.NewHub()

	clock := game.Clock{Betting: cfg.BettingPhase, Drawing: cfg.DrawingPhase}
	roundService := services.NewRoundService(txRunner, clock, rounds, wagers, accounts, ledger, audit, hub)
	wagerService := services.NewWagerService(txRunner, clock, roundService, rounds, wagers, accounts, ledger, audit, hub)
	fundsService := services.NewFundsService(txRunner, accounts, deposits, withdrawals, ledger, audit, hub, referralRate, minWithdrawal)

	var lease lock.Lease = lock.Local{}
	if cfg.RedisURL != "" {
		client, err := lock.Connect(ctx, cfg.RedisURL)
		if err != nil {
			logger.Fatal(ctx).Err(err).Msg("failed to connect redis")
		}
		defer client.Close()
		lease = lock.NewRedis(client)
		logger.Info(ctx).Msg("settle lease shared through redis")
	}
	settler := worker.NewSettler(roundService, lease, cfg.SettleInterval)
	go settler.Run(ctx)

	handler := handlers.New(cfg, handlers.Dependencies{
		TxRunner:       txRunner,
		Accounts:       accounts,
		Wagers:         wagers,
		Rounds:         rounds,
		Deposits:       deposits,
		Withdrawals:    withdrawals,
		PaymentMethods: paymentMethods,
		Settings:       settings,
		Ledger:         ledger,
		Admin:          admin,
		Audit:          audit,
		Proofs:         proofs,
		RoundService:   roundService,
		WagerService:   wagerService,
		FundsService:   fundsService,
		Hub:            hub,
	})
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler.Routes(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info(ctx).Str("addr", server.Addr).Str("env", cfg.AppEnv).Msg("dicebet API listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(ctx).Err(err).Msg("server error")
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info(context.Background()).Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error(shutdownCtx).Err(err).Msg("shutdown error")
	}
}
