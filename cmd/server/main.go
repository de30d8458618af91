package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/playrhq/messaging-service/internal/api"
	"github.com/playrhq/messaging-service/internal/auth"
	"github.com/playrhq/messaging-service/internal/cache"
	"github.com/playrhq/messaging-service/internal/config"
	"github.com/playrhq/messaging-service/internal/events"
	"github.com/playrhq/messaging-service/internal/kafka"
	"github.com/playrhq/messaging-service/internal/logger"
	"github.com/playrhq/messaging-service/internal/metrics"
	"github.com/playrhq/messaging-service/internal/realtime"
	"github.com/playrhq/messaging-service/internal/repository"
	"github.com/playrhq/messaging-service/internal/service"
	"github.com/playrhq/messaging-service/internal/unread"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		log.Fatalf("config load: %v", err)
	}

	zlog, err := logger.New(logger.Config{Development: cfg.App.Env == "development"})
	if err != nil {
		log.Fatalf("logger init: %v", err)
	}
	defer func() { _ = zlog.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mc, err := repository.NewMongoClient(ctx, cfg.Mongo.URI)
	if err != nil {
		zlog.Fatalw("mongo connect", "err", err)
	}
	defer func() { _ = mc.Disconnect(context.Background()) }()

	repo := repository.NewMongoRepository(mc.Database(cfg.Mongo.Database))
	if err := repo.EnsureIndexes(ctx); err != nil {
		zlog.Fatalw("mongo indexes", "err", err)
	}

	rdb, err := cache.NewRedisClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		zlog.Fatalw("redis connect", "err", err)
	}
	defer rdb.Close()

	cacheLayer := cache.NewLayer(cache.NewRedisStore(rdb))
	aggregator := unread.New(repo, cacheLayer, cfg.UnreadTTL, zlog)

	bus := realtime.NewBus(64, zlog)
	hub := realtime.NewHub(bus, rdb, zlog)

	producer := kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic)
	defer func() { _ = producer.Close() }()
	// every node consumes the full event stream: fan-out needs a consumer
	// group per instance, not a shared one
	groupID := fmt.Sprintf("%s-%s", cfg.Kafka.GroupID, uuid.NewString()[:8])
	consumer := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.Topic, groupID, zlog)
	defer func() { _ = consumer.Close() }()
	go consumer.Run(ctx, hub)

	// local sessions get the event straight off the bus; kafka carries it to
	// the other nodes, whose consumers deliver through their own hubs. The
	// local consumer replays it too; subscribers dedupe by event key.
	sink := service.MultiSink{realtime.NewBusSink(bus), producer}

	var notifier service.Notifier
	if cfg.NATS.URL != "" {
		pub, err := events.NewPublisher(cfg.NATS.URL, zlog)
		if err != nil {
			zlog.Fatalw("nats connect", "err", err)
		}
		defer pub.Close()
		notifier = pub
	}

	svc := service.New(service.Options{
		Conversations: repo,
		Messages:      repo,
		Unread:        aggregator,
		Cache:         cacheLayer,
		ConvListTTL:   cfg.ConvListTTL,
		Sink:          sink,
		Notifier:      notifier,
		Presence:      hub,
		Log:           zlog,
	})

	validator, err := auth.NewValidator(cfg.App.JWTSecret)
	if err != nil {
		zlog.Fatalw("jwt validator", "err", err)
	}

	app := api.NewServer(cfg, svc, hub, validator, sink, zlog)

	metricsSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.App.MetricsPort),
		Handler: metrics.Handler(),
	}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Errorw("metrics listen", "err", err)
		}
	}()

	go func() {
		if err := app.Listen(fmt.Sprintf(":%d", cfg.App.Port)); err != nil {
			zlog.Fatalw("server listen", "err", err)
		}
	}()
	zlog.Infow("messaging-service started", "port", cfg.App.Port)

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = app.ShutdownWithContext(shutdownCtx)
	_ = metricsSrv.Shutdown(shutdownCtx)
	zlog.Info("messaging-service stopped")
}
