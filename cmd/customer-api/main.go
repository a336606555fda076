package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-order-orchestrator/internal/config"
	"github.com/ariefcatur/go-order-orchestrator/internal/customers"
	"github.com/ariefcatur/go-order-orchestrator/internal/httpx"
	"github.com/ariefcatur/go-order-orchestrator/internal/logx"
	"github.com/ariefcatur/go-order-orchestrator/internal/postgres"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	if os.Getenv("SERVICE_NAME") == "" {
		cfg.ServiceName = "customer-api"
	}
	log, err := logx.New(cfg.ServiceName, cfg.LogLevel, cfg.LogFile)
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()
	if cfg.ServiceToken == "" || cfg.PostgresDSN == "" {
		log.Fatal("service_token and postgres_dsn required")
	}

	ctx := context.Background()
	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal("db connect", zap.Error(err))
	}
	defer db.Close()
	if err := postgres.Migrate(ctx, db); err != nil {
		log.Fatal("db migrate", zap.Error(err))
	}

	router := httpx.NewRouter(log)
	(&httpx.CustomersHandler{Repo: &customers.Repo{DB: db}, ServiceToken: cfg.ServiceToken}).Register(router)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		log.Info("http listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("listen", zap.Error(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info("shutting down")

	ctx2, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx2)
}
