package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/markjakearzadon/propertypay-gobackend/internal/config"
	"github.com/markjakearzadon/propertypay-gobackend/internal/db"
	"github.com/markjakearzadon/propertypay-gobackend/internal/handlers"
	"github.com/markjakearzadon/propertypay-gobackend/internal/logger"
	"github.com/markjakearzadon/propertypay-gobackend/internal/services"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	zlog, err := logger.New(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer zlog.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect to MongoDB
	client, err := db.Connect(ctx, cfg.MongoURI, zlog)
	if err != nil {
		zlog.Fatal("failed to connect to MongoDB", zap.Error(err))
	}
	defer func() {
		disconnectCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := client.Disconnect(disconnectCtx); err != nil {
			zlog.Warn("error disconnecting from MongoDB", zap.Error(err))
		}
	}()

	database := client.Database(cfg.MongoDB)
	if err := db.EnsureIndexes(ctx, database); err != nil {
		zlog.Fatal("failed to create indexes", zap.Error(err))
	}

	// Initialize services and handlers
	store := services.NewMongoTransactionStore(database, zlog)
	marketplace := services.NewMarketplaceRepository(database)
	alerts := services.NewAlertService(database, zlog)
	gateway := services.NewCinetPayClient(cfg.Gateway.BaseURL, cfg.Gateway.APIKey, cfg.Gateway.SiteID, cfg.Gateway.Timeout, zlog)
	normalizer := services.NewAmountNormalizer(cfg.Payment.AmountUnit, cfg.Payment.AmountMinimum, cfg.Payment.DefaultCurrency, cfg.Payment.Methods)

	paymentService := services.NewPaymentService(store, gateway, services.NewUserService(database), normalizer, alerts, cfg.Payment, zlog)
	appliers := services.NewDefaultRegistry(marketplace, marketplace, marketplace, zlog)
	reconciler := services.NewReconciliationService(store, gateway, appliers, alerts, zlog)

	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		defer rdb.Close()
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			zlog.Warn("redis unavailable, verification lock disabled", zap.String("addr", cfg.RedisAddr), zap.Error(err))
		} else {
			reconciler.WithLocker(services.NewRedisLocker(rdb, 2*cfg.Gateway.Timeout))
			zlog.Info("verification lock enabled", zap.String("addr", cfg.RedisAddr))
		}
		cancel()
	}

	paymentHandler := handlers.NewPaymentHandler(paymentService, reconciler, marketplace, cfg.Gateway.WebhookToken, zlog)

	// Set up router
	router := mux.NewRouter()
	router.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if err := db.Ping(r.Context(), client); err != nil {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods("GET", "HEAD")
	paymentHandler.Register(router, handlers.NewAuthenticator(cfg.JWTSecret))

	// Start server
	server := &http.Server{
		Addr:         "0.0.0.0:" + cfg.Port,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.Gateway.Timeout + 15*time.Second,
	}

	go func() {
		zlog.Info("server running", zap.String("port", cfg.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zlog.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	zlog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		zlog.Warn("graceful shutdown failed", zap.Error(err))
	}
}
