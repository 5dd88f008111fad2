package routes

import (
	"net/http"
	"os"
	"strings"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	httpSwagger "github.com/swaggo/http-swagger"
	"github.com/zjoart/go-cleaner-wallet/internal/auth"
	"github.com/zjoart/go-cleaner-wallet/internal/key"
	"github.com/zjoart/go-cleaner-wallet/internal/middleware"
	"github.com/zjoart/go-cleaner-wallet/internal/user"
	"github.com/zjoart/go-cleaner-wallet/internal/wallet"
	"github.com/zjoart/go-cleaner-wallet/pkg/config"
	"github.com/zjoart/go-cleaner-wallet/pkg/events"
	"github.com/zjoart/go-cleaner-wallet/pkg/logger"
	"gorm.io/gorm"
)

// RegisterRoutes wires the wallet API onto r. redisClient may be nil, in which
// case balance notifications and queued ledger events are disabled.
func RegisterRoutes(r *mux.Router, cfg config.Config, db *gorm.DB, redisClient *events.RedisClient) http.Handler {
	userRepo := user.NewRepository(db)
	keyRepo := key.NewRepository(db)
	walletRepo := wallet.NewRepository(db)

	var (
		notifier  wallet.Notifier
		publisher wallet.EventPublisher
	)
	if redisClient != nil {
		notifier = redisClient
		publisher = redisClient
	}

	ledger := wallet.NewMutator(walletRepo, wallet.Policy{
		Currency:      cfg.Currency,
		AllowNegative: cfg.AllowNegativeBalance,
	}, notifier)

	walletHandler := wallet.NewHandler(
		cfg,
		wallet.NewProjections(walletRepo, cfg.Currency),
		wallet.NewTopUpService(walletRepo, ledger, userRepo, notifier, cfg.Currency, cfg.MinTopUpAmount),
		wallet.NewAdminGateway(walletRepo, ledger, userRepo, userRepo, notifier),
		wallet.NewEventLedger(ledger, userRepo),
		publisher,
	)
	keyHandler := key.NewHandler(cfg, keyRepo)

	r.Use(middleware.LoggingMiddleware)

	submitR := r.PathPrefix("/api/wallet/topups").Subrouter()
	submitR.Use(auth.JWTMiddleware(cfg, userRepo))
	submitR.Use(middleware.PerMinute(cfg.TopUpRatePerMinute).Limit)
	submitR.HandleFunc("", walletHandler.SubmitTopUp).Methods("POST")

	walletR := r.PathPrefix("/api/wallet").Subrouter()
	walletR.Use(auth.UnifiedAuthMiddleware(cfg, userRepo, keyRepo))

	readR := walletR.PathPrefix("").Subrouter()
	readR.Use(auth.RequirePermission(string(key.PermissionRead)))
	readR.HandleFunc("", walletHandler.GetWallet).Methods("GET")
	readR.HandleFunc("/transactions", walletHandler.GetTransactions).Methods("GET")
	readR.HandleFunc("/topups", walletHandler.ListMyTopUps).Methods("GET")

	adminR := r.PathPrefix("/api/admin").Subrouter()
	adminR.Use(auth.JWTMiddleware(cfg, userRepo))
	adminR.Use(auth.RequireAdmin)
	adminR.HandleFunc("/wallets/aggregate", walletHandler.GetAggregate).Methods("GET")
	adminR.HandleFunc("/wallets/{user_id}", walletHandler.GetUserWallet).Methods("GET")
	adminR.HandleFunc("/wallets/{user_id}/transactions", walletHandler.GetUserTransactions).Methods("GET")
	adminR.HandleFunc("/wallets/{user_id}/reconcile", walletHandler.ReconcileUserWallet).Methods("GET")
	adminR.HandleFunc("/wallets/{user_id}/credit", walletHandler.AdminCredit).Methods("POST")
	adminR.HandleFunc("/wallets/{user_id}/debit", walletHandler.AdminDebit).Methods("POST")
	adminR.HandleFunc("/ledgers/{wallet_id}/transactions", walletHandler.GetLedgerTransactions).Methods("GET")
	adminR.HandleFunc("/topups", walletHandler.ListTopUps).Methods("GET")
	adminR.HandleFunc("/topups/{id}/verify", walletHandler.VerifyTopUp).Methods("POST")
	adminR.HandleFunc("/topups/{id}/reject", walletHandler.RejectTopUp).Methods("POST")
	adminR.HandleFunc("/audit", walletHandler.ListAuditLog).Methods("GET")
	adminR.HandleFunc("/keys", keyHandler.CreateAPIKey).Methods("POST")
	adminR.HandleFunc("/keys", keyHandler.ListAPIKeys).Methods("GET")
	adminR.HandleFunc("/keys/revoke", keyHandler.RevokeAPIKey).Methods("POST")

	internalR := r.PathPrefix("/api/internal").Subrouter()
	internalR.Use(auth.APIKeyMiddleware(keyRepo, userRepo))
	internalR.Use(auth.RequirePermission(string(key.PermissionLedgerEvents)))
	internalR.HandleFunc("/ledger/events", walletHandler.PostLedgerEvent).Methods("POST")

	if cfg.Env != "production" {
		r.HandleFunc("/swagger.yaml", func(w http.ResponseWriter, r *http.Request) {
			content, err := os.ReadFile("docs/swagger.yaml")
			if err != nil {
				logger.Error("Failed to read swagger.yaml", logger.Fields{"error": err.Error()})
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				return
			}

			replacer := strings.NewReplacer(
				"{{BASE_URL}}", "/",
				"{{MIN_TOPUP_AMOUNT}}", cfg.MinTopUpAmount.StringFixed(2),
				"{{CURRENCY}}", cfg.Currency,
			)

			w.Header().Set("Content-Type", "application/yaml")
			w.Write([]byte(replacer.Replace(string(content))))
		})

		r.PathPrefix("/swagger/").Handler(httpSwagger.Handler(
			httpSwagger.URL("/swagger.yaml"),
		))
		logger.Info("Swagger documentation enabled at /swagger/index.html")
	}

	corsObj := handlers.CORS(
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{"GET", "POST", "OPTIONS"}),
		handlers.AllowedHeaders([]string{"Content-Type", "Authorization", "x-api-key"}),
	)

	return corsObj(r)
}
