package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/congo-pay/walletledger/internal/config"
	"github.com/congo-pay/walletledger/internal/infra"
	"github.com/congo-pay/walletledger/internal/logging"
	"github.com/congo-pay/walletledger/internal/messaging"
	"github.com/congo-pay/walletledger/internal/routes"
	"github.com/congo-pay/walletledger/internal/server"
	"github.com/congo-pay/walletledger/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := infra.NewPostgresPool(ctx, cfg.DatabaseURL, cfg.AppName)
	if err != nil {
		logger.Error("connect postgres", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	db := store.NewDB(pool, cfg.DBTimeout)
	if cfg.AutoMigrate {
		if err := db.Migrate(ctx); err != nil {
			logger.Error("migrate schema", "error", err)
			os.Exit(1)
		}
	}

	cache, err := infra.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		logger.Error("connect redis", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := cache.Close(); err != nil {
			logger.Warn("close redis", "error", err)
		}
	}()

	writer, err := infra.NewKafkaWriter(cfg.KafkaBrokers)
	if err != nil {
		logger.Error("configure kafka", "error", err)
		os.Exit(1)
	}
	publisher := messaging.NewKafkaPublisher(writer)
	defer func() {
		if err := publisher.Close(); err != nil {
			logger.Warn("close kafka writer", "error", err)
		}
	}()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	srv, err := server.New(server.Options{
		Config:    cfg,
		Backends:  server.PostgresBackends(db),
		Redis:     cache,
		Publisher: publisher,
		Registry:  registry,
		Checks: map[string]routes.Check{
			"postgres": pool.Ping,
			"redis":    func(ctx context.Context) error { return cache.Ping(ctx).Err() },
			"kafka":    func(ctx context.Context) error { return infra.PingKafka(ctx, cfg.KafkaBrokers) },
		},
		Logger: logger,
	})
	if err != nil {
		logger.Error("build server", "error", err)
		os.Exit(1)
	}

	err = srv.Run(ctx, func(topic string) (messaging.MessageReader, error) {
		return infra.NewKafkaReader(cfg.KafkaBrokers, cfg.ConsumerGroup, topic)
	})
	if err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}

	logger.Info("server exited cleanly")
}
