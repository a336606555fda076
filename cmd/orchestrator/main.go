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

	"github.com/ariefcatur/go-order-orchestrator/internal/auth"
	"github.com/ariefcatur/go-order-orchestrator/internal/config"
	"github.com/ariefcatur/go-order-orchestrator/internal/customers"
	"github.com/ariefcatur/go-order-orchestrator/internal/httpx"
	"github.com/ariefcatur/go-order-orchestrator/internal/logx"
	"github.com/ariefcatur/go-order-orchestrator/internal/orchestrator"
	"github.com/ariefcatur/go-order-orchestrator/internal/telemetry"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	if os.Getenv("SERVICE_NAME") == "" {
		cfg.ServiceName = "orchestrator"
	}
	log, err := logx.New(cfg.ServiceName, cfg.LogLevel, cfg.LogFile)
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()
	if cfg.JWTSecret == "" || cfg.ServiceToken == "" {
		log.Fatal("jwt_secret and service_token required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	shutdownTracing, err := telemetry.Setup(ctx, cfg.ServiceName, cfg.OtelEndpoint)
	if err != nil {
		log.Fatal("telemetry", zap.Error(err))
	}

	orch := &orchestrator.Orchestrator{
		Customers: customers.NewClient(cfg.CustomersAPIBase, cfg.ServiceToken, cfg.CustomerLookupTimeout),
		Orders: orchestrator.NewOrderClient(cfg.OrdersAPIBase,
			auth.Issuer{Secret: []byte(cfg.JWTSecret), Issuer: cfg.JWTIssuer},
			cfg.OrderCallTimeout),
	}

	router := httpx.NewRouter(log)
	(&httpx.OrchestrateHandler{Orch: orch}).Register(router)

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

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	_ = srv.Shutdown(ctx2)
	if err := shutdownTracing(ctx2); err != nil {
		log.Warn("tracing shutdown", zap.Error(err))
	}
}
