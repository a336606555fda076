package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-order-orchestrator/internal/config"
	kafkax "github.com/ariefcatur/go-order-orchestrator/internal/kafka"
	"github.com/ariefcatur/go-order-orchestrator/internal/logx"
	"github.com/ariefcatur/go-order-orchestrator/internal/projector"
	"github.com/ariefcatur/go-order-orchestrator/internal/redisx"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	if os.Getenv("SERVICE_NAME") == "" {
		cfg.ServiceName = "order-events"
	}
	log, err := logx.New(cfg.ServiceName, cfg.LogLevel, cfg.LogFile)
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()
	if len(cfg.KafkaBrokers) == 0 || cfg.RedisAddr == "" {
		log.Fatal("kafka_brokers and redis_addr required")
	}

	ctx, cancel := context.WithCancel(logx.WithContext(context.Background(), log))
	defer cancel()

	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	proj := &projector.StatusProjector{
		Dedup: &redisx.Dedup{RDB: rdb, Consumer: cfg.KafkaGroup},
		Cache: &redisx.StatusCache{RDB: rdb},
	}

	cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.KafkaGroup, cfg.KafkaTopicOrders, cfg.KafkaWorkers, log)
	done := make(chan struct{})
	go func() {
		defer close(done)
		log.Info("consumer started",
			zap.String("group", cfg.KafkaGroup), zap.String("topic", cfg.KafkaTopicOrders), zap.Int("workers", cfg.KafkaWorkers))
		if err := cons.Start(ctx, proj.HandleMessage); err != nil {
			log.Error("consumer exit", zap.Error(err))
			cancel()
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
		log.Info("shutting down consumer")
	case <-ctx.Done():
	}
	cancel()
	<-done
}
