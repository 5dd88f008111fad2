package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/zjoart/go-cleaner-wallet/cmd/routes"
	"github.com/zjoart/go-cleaner-wallet/internal/key"
	"github.com/zjoart/go-cleaner-wallet/internal/user"
	"github.com/zjoart/go-cleaner-wallet/internal/wallet"
	"github.com/zjoart/go-cleaner-wallet/pkg/config"
	"github.com/zjoart/go-cleaner-wallet/pkg/database"
	"github.com/zjoart/go-cleaner-wallet/pkg/events"
	"github.com/zjoart/go-cleaner-wallet/pkg/logger"
)

func main() {
	defer logger.Sync()

	cfg := config.LoadConfig()

	db, err := database.Connect(cfg.DBUrl)
	if err != nil {
		logger.Fatal("Database unavailable", logger.WithError(err))
	}

	models := append(wallet.Models(), &user.User{}, &key.APIKey{})
	if err := database.Migrate(db, models...); err != nil {
		logger.Fatal("Migration failed", logger.WithError(err))
	}

	redisClient := events.NewRedisClient(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// start background worker
	ledger := wallet.NewMutator(wallet.NewRepository(db), wallet.Policy{
		Currency:      cfg.Currency,
		AllowNegative: cfg.AllowNegativeBalance,
	}, redisClient)
	worker := wallet.NewLedgerEventWorker(redisClient, wallet.NewEventLedger(ledger, user.NewRepository(db)))
	worker.Start(ctx)

	r := mux.NewRouter()
	handler := routes.RegisterRoutes(r, cfg, db, redisClient)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		logger.Info("Server starting", logger.Fields{"port": cfg.Port, "env": cfg.Env})
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Could not listen", logger.Fields{"port": cfg.Port, "error": err.Error()})
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown failed", logger.WithError(err))
	}
	if err := redisClient.Client.Close(); err != nil {
		logger.Warn("Failed to close Redis client", logger.WithError(err))
	}
	logger.Info("Server gracefully shut down")
}
