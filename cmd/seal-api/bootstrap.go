package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BearBump/SealTrip/config"
	"github.com/BearBump/SealTrip/internal/api/sealapi"
	"github.com/BearBump/SealTrip/internal/broker/kafka"
	"github.com/BearBump/SealTrip/internal/cache/rediscache"
	"github.com/BearBump/SealTrip/internal/services/ledger"
	"github.com/BearBump/SealTrip/internal/services/trips"
	"github.com/BearBump/SealTrip/internal/services/verification"
	"github.com/BearBump/SealTrip/internal/storage/pgstore"
)

type sealAPIApp struct {
	ctx      context.Context
	cancel   context.CancelFunc
	opts     sealAPIOpts
	api      *sealapi.API
	verify   *verification.Service
	consumer *kafka.Consumer
	producer *kafka.Producer
	closeDB  func()
}

func mustBootstrapSealAPI() *sealAPIApp {
	cfgPath := os.Getenv("configPath")
	if cfgPath == "" {
		panic("configPath env var is required")
	}

	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	httpAddr := cfg.SealTrip.HTTPAddr
	if httpAddr == "" {
		httpAddr = ":8080"
	}
	consumerGroup := cfg.SealTrip.KafkaConsumerGroup
	if consumerGroup == "" {
		consumerGroup = "seal-api"
	}
	topic := cfg.Kafka.SealScannedTopicName
	if topic == "" {
		topic = "seal.scanned"
	}

	detailTTL := time.Duration(cfg.SealTrip.TripDetailTTLSeconds) * time.Second
	if detailTTL <= 0 {
		detailTTL = 10 * time.Minute
	}

	sslMode := cfg.Database.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	connString := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.Database.Username, cfg.Database.Password, cfg.Database.Host, cfg.Database.Port, cfg.Database.DBName, sslMode)
	st := mustOpenPostgresWithRetry(connString, 60*time.Second)

	redisAddr := fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port)
	rc := rediscache.New(redisAddr)

	brokers := []string{fmt.Sprintf("%s:%d", cfg.Kafka.Host, cfg.Kafka.Port)}
	producer := kafka.NewProducer(brokers)
	consumer := kafka.NewConsumer(brokers, topic, consumerGroup)

	tripsSvc := trips.New(st, producer, rc, detailTTL)
	verifySvc := verification.New(st, tripsSvc)
	ledgerSvc := ledger.New(st)

	var rl sealapi.RateLimiter
	if cfg.SealTrip.CreateRateLimitPerMinute > 0 {
		rl = rediscache.NewRateLimiter(redisAddr)
	}
	api := sealapi.New(tripsSvc, verifySvc, ledgerSvc, rl, int64(cfg.SealTrip.CreateRateLimitPerMinute))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	return &sealAPIApp{
		ctx:    ctx,
		cancel: cancel,
		opts: sealAPIOpts{
			httpAddr:      httpAddr,
			topic:         topic,
			consumerGroup: consumerGroup,
		},
		api:      api,
		verify:   verifySvc,
		consumer: consumer,
		producer: producer,
		closeDB:  st.Close,
	}
}

func mustOpenPostgresWithRetry(connString string, wait time.Duration) *pgstore.Storage {
	deadline := time.Now().Add(wait)
	var lastErr error
	for time.Now().Before(deadline) {
		st, err := pgstore.New(connString)
		if err == nil {
			return st
		}
		lastErr = err
		time.Sleep(1 * time.Second)
	}
	panic(fmt.Sprintf("postgres is not ready after %s: %v", wait, lastErr))
}

func (a *sealAPIApp) Close() {
	if a.cancel != nil {
		a.cancel()
	}
	if a.consumer != nil {
		_ = a.consumer.Close()
	}
	if a.producer != nil {
		_ = a.producer.Close()
	}
	if a.closeDB != nil {
		a.closeDB()
	}
}

func (a *sealAPIApp) Run() error {
	return runSealAPI(a.ctx, a.opts, a.api, a.verify, a.consumer)
}
