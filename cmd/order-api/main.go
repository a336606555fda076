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
	kafkax "github.com/ariefcatur/go-order-orchestrator/internal/kafka"
	"github.com/ariefcatur/go-order-orchestrator/internal/logx"
	"github.com/ariefcatur/go-order-orchestrator/internal/memstore"
	"github.com/ariefcatur/go-order-orchestrator/internal/orders"
	"github.com/ariefcatur/go-order-orchestrator/internal/postgres"
	"github.com/ariefcatur/go-order-orchestrator/internal/redisx"
	"github.com/ariefcatur/go-order-orchestrator/internal/telemetry"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	log, err := logx.New(cfg.ServiceName, cfg.LogLevel, cfg.LogFile)
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	if err := cfg.Validate(); err != nil {
		log.Fatal("invalid config", zap.Error(err))
	}
	if cfg.JWTSecret == "" {
		log.Fatal("jwt_secret required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := telemetry.Setup(ctx, cfg.ServiceName, cfg.OtelEndpoint)
	if err != nil {
		log.Fatal("telemetry", zap.Error(err))
	}

	// Store
	var store orders.Store
	switch cfg.StoreDriver {
	case config.DriverMemory:
		store = memstore.New()
		log.Warn("using in-memory store; data is lost on restart")
	default:
		db, err := postgres.Connect(ctx, cfg.PostgresDSN)
		if err != nil {
			log.Fatal("db connect", zap.Error(err))
		}
		defer db.Close()
		if err := postgres.Migrate(ctx, db); err != nil {
			log.Fatal("db migrate", zap.Error(err))
		}
		store = &postgres.Store{DB: db}
	}

	svc := &orders.Service{
		Store:        store,
		Customers:    customers.NewClient(cfg.CustomersAPIBase, cfg.ServiceToken, cfg.CustomerLookupTimeout),
		Idempotency:  orders.IdempotencyStore{TTL: cfg.IdempotencyTTL},
		ServiceName:  cfg.ServiceName,
		CancelWindow: cfg.CancelWindow,
	}

	// Kafka producer (optional)
	var prod *kafkax.Producer
	if len(cfg.KafkaBrokers) > 0 {
		prod = kafkax.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopicOrders, 1024, log)
		prod.Start(ctx)
		svc.Events = prod
	}

	oh := &httpx.OrdersHandler{Svc: svc}
	if cfg.RedisAddr != "" {
		rdb := redisx.New(cfg.RedisAddr)
		defer rdb.Close()
		oh.Cache = &redisx.StatusCache{RDB: rdb}
	}

	router := httpx.NewOrderAPI(log,
		auth.Verifier{Secret: []byte(cfg.JWTSecret), Issuer: cfg.JWTIssuer},
		&httpx.AuthHandler{
			Issuer:   auth.Issuer{Secret: []byte(cfg.JWTSecret), Issuer: cfg.JWTIssuer},
			Email:    cfg.AdminEmail,
			Password: cfg.AdminPassword,
		},
		oh,
		&httpx.ProductsHandler{Svc: svc},
	)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		log.Info("http listening", zap.String("addr", cfg.HTTPAddr), zap.String("store", cfg.StoreDriver))
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
	if prod != nil {
		prod.Close() // drain buffered events
		prod.WaitClosed()
	}
	cancel()
	if err := shutdownTracing(ctx2); err != nil {
		log.Warn("tracing shutdown", zap.Error(err))
	}
}
