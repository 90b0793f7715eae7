package main

import (
	"context"
	"database/sql"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/sourcegraph/conc"
	"go.uber.org/zap"

	"github.com/radieske/sportsbook-ledger/internal/feed"
	"github.com/radieske/sportsbook-ledger/internal/ledger"
	"github.com/radieske/sportsbook-ledger/internal/notify"
	"github.com/radieske/sportsbook-ledger/internal/shared/cache"
	"github.com/radieske/sportsbook-ledger/internal/shared/config"
	"github.com/radieske/sportsbook-ledger/internal/shared/db"
	"github.com/radieske/sportsbook-ledger/internal/shared/kafka"
	"github.com/radieske/sportsbook-ledger/internal/shared/logger"
	"github.com/radieske/sportsbook-ledger/internal/shared/metrics"
	"github.com/radieske/sportsbook-ledger/internal/shared/retry"
	"github.com/radieske/sportsbook-ledger/internal/wager"
)

func main() {
	cfg := config.Load()
	if cfg.ServiceName == "" {
		cfg.ServiceName = "settlement-worker"
	}
	log, err := logger.New(cfg.ServiceName, cfg.Env, cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	pg, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal("postgres connect", zap.Error(err))
	}
	defer pg.Close()

	rdb, err := cache.ConnectRedis(ctx, cfg.RedisAddr)
	if err != nil {
		log.Fatal("redis connect", zap.Error(err))
	}
	defer rdb.Close()

	m := metrics.New(prometheus.DefaultRegisterer)

	eventsWriter := kafka.NewWriter(cfg.KafkaBrokers, cfg.TopicAccountEvents)
	defer eventsWriter.Close()
	pub := notify.Multi{
		notify.NewKafkaPublisher(eventsWriter),
		notify.NewRedisBroadcaster(rdb, cfg.RedisEventsChannel),
	}

	retryCfg := retry.Config{MaxTries: cfg.RetryMaxTries, InitialInterval: cfg.RetryInitial, MaxInterval: cfg.RetryMax}
	led := ledger.New(ledger.NewPostgresStore(pg),
		ledger.WithLogger(log), ledger.WithMetrics(m), ledger.WithRetry(retryCfg))
	wagers := wager.NewService(wager.NewPostgresStore(pg), led,
		wager.WithLogger(log),
		wager.WithMetrics(m),
		wager.WithPublisher(pub),
		wager.WithRetry(retryCfg),
		wager.WithSettleWorkers(cfg.SettleWorkers))

	results := newProcessor(cfg, log, m, cfg.TopicMarketResults, cfg.TopicMarketResultsDLQ, feed.SettlementHandler(wagers), retryCfg)
	results.Critical = true
	odds := newProcessor(cfg, log, m, cfg.TopicOddsUpdates, cfg.TopicOddsUpdatesDLQ, feed.OddsHandler(wagers.Store()), retryCfg)

	metricsSrv := metrics.StartMetricsServer(cfg.MetricsPort, healthCheck(pg, rdb), log)
	log.Info("metrics/health listening", zap.String("port", cfg.MetricsPort))

	var lifecycle conc.WaitGroup
	for _, p := range []*processor{results, odds} {
		lifecycle.Go(func() {
			defer p.close()
			log.Info("feed consumer started", zap.String("topic", p.topic))
			if err := p.Run(ctx); err != nil && ctx.Err() == nil {
				log.Error("feed consumer stopped with error", zap.String("topic", p.topic), zap.Error(err))
				cancel()
			}
		})
	}

	<-ctx.Done()
	log.Info("shutdown signal received")
	lifecycle.Wait()
	_ = metricsSrv.Shutdown(context.Background())
	log.Info("settlement-worker stopped")
}

type processor struct {
	*feed.Processor
	topic string
	close func()
}

func newProcessor(cfg config.Config, log *zap.Logger, m *metrics.Metrics, topic, dlqTopic string, h feed.Handler, rc retry.Config) *processor {
	reader := kafka.NewReader(cfg.KafkaBrokers, topic, cfg.ConsumerGroup)
	dlq := kafka.NewWriter(cfg.KafkaBrokers, dlqTopic)
	return &processor{
		Processor: &feed.Processor{
			Log:        log.With(zap.String("topic", topic)),
			Reader:     reader,
			Handler:    h,
			DLQ:        dlq,
			Retry:      rc,
			OnConsumed: func() { m.FeedMessage(topic, "consumed") },
			OnHandled:  func() { m.FeedMessage(topic, "handled") },
			OnError:    func(stage string) { m.FeedMessage(topic, stage) },
		},
		topic: topic,
		close: func() {
			_ = reader.Close()
			_ = dlq.Close()
		},
	}
}

func healthCheck(pg *sql.DB, rdb *redis.Client) metrics.HealthFunc {
	return func(ctx context.Context) error {
		if err := pg.PingContext(ctx); err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		return nil
	}
}
