package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/sourcegraph/conc"
	"go.uber.org/zap"

	"github.com/radieske/sportsbook-ledger/internal/api"
	"github.com/radieske/sportsbook-ledger/internal/cryptotx"
	"github.com/radieske/sportsbook-ledger/internal/jobs"
	"github.com/radieske/sportsbook-ledger/internal/ledger"
	"github.com/radieske/sportsbook-ledger/internal/notify"
	"github.com/radieske/sportsbook-ledger/internal/push"
	"github.com/radieske/sportsbook-ledger/internal/rates"
	"github.com/radieske/sportsbook-ledger/internal/shared/cache"
	"github.com/radieske/sportsbook-ledger/internal/shared/config"
	"github.com/radieske/sportsbook-ledger/internal/shared/db"
	"github.com/radieske/sportsbook-ledger/internal/shared/kafka"
	"github.com/radieske/sportsbook-ledger/internal/shared/logger"
	"github.com/radieske/sportsbook-ledger/internal/shared/metrics"
	"github.com/radieske/sportsbook-ledger/internal/shared/migrations"
	"github.com/radieske/sportsbook-ledger/internal/shared/retry"
	"github.com/radieske/sportsbook-ledger/internal/wager"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg := config.Load()
	if cfg.ServiceName == "" {
		cfg.ServiceName = "wager-service"
	}
	log, err := logger.New(cfg.ServiceName, cfg.Env, cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	// Sinalização para shutdown gracioso (SIGINT/SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if cfg.MigrateOnStart {
		if err := migrations.Apply(ctx, cfg.PostgresDSN, log); err != nil {
			log.Fatal("migrate", zap.Error(err))
		}
	}

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

	// Eventos de conta: Kafka para consumidores externos, Redis para o push WS
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
		wager.WithPlaceTimeout(cfg.PlaceTimeout),
		wager.WithSettleWorkers(cfg.SettleWorkers))

	provider, err := newRateProvider(cfg, rdb, log, m)
	if err != nil {
		log.Fatal("rate provider", zap.Error(err))
	}
	workflow := cryptotx.NewWorkflow(cryptotx.NewPostgresStore(pg), led, provider,
		cryptotx.WithLogger(log),
		cryptotx.WithMetrics(m),
		cryptotx.WithPublisher(pub),
		cryptotx.WithMaxPendingWithdrawals(cfg.MaxPendingWithdrawals))

	hub := push.NewHub(log, func(*http.Request) bool { return true })
	push.StartRedisSubscriber(ctx, rdb, cfg.RedisEventsChannel, hub, log)

	runner := jobs.New(ctx, log)
	if err := jobs.RegisterCrypto(runner, workflow, jobs.CryptoSchedule{
		ResnapshotSpec: cfg.CronResnapshot,
		ExpireSpec:     cfg.CronExpire,
		PendingTimeout: cfg.CryptoPendingTimeout,
	}); err != nil {
		log.Fatal("cron", zap.Error(err))
	}
	runner.Start()

	metricsSrv := metrics.StartMetricsServer(cfg.MetricsPort, healthCheck(pg, rdb), log)
	log.Info("metrics/health listening", zap.String("port", cfg.MetricsPort))

	server := api.NewServer(log, wagers, led, workflow,
		api.WithWebSocket(hub.HandleWS),
		api.WithRateLimit(cfg.HTTPRateLimit, cfg.HTTPRateBurst))
	apiSrv := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.HTTPPort),
		Handler:           server.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	var lifecycle conc.WaitGroup
	lifecycle.Go(func() {
		log.Info("wager-service listening", zap.String("addr", apiSrv.Addr))
		if err := apiSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("api server failed", zap.Error(err))
			cancel()
		}
	})

	<-ctx.Done()
	log.Info("shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := apiSrv.Shutdown(shutdownCtx); err != nil {
		log.Warn("api shutdown", zap.Error(err))
	}
	runner.Stop()
	_ = metricsSrv.Shutdown(shutdownCtx)
	lifecycle.Wait()
	log.Info("wager-service stopped")
}

func newRateProvider(cfg config.Config, rdb *redis.Client, log *zap.Logger, m *metrics.Metrics) (*rates.Provider, error) {
	table := rates.DefaultTable()
	if cfg.RateFallbackFile != "" {
		t, err := rates.LoadTable(cfg.RateFallbackFile)
		if err != nil {
			return nil, err
		}
		table = t
	}
	opts := []rates.Option{
		rates.WithCache(rates.NewRedisCache(rdb, cfg.RateCacheTTL)),
		rates.WithFallback(table),
		rates.WithLogger(log),
		rates.WithMetrics(m),
	}
	if cfg.RateLiveURL != "" {
		opts = append(opts, rates.WithSource(rates.NewHTTPSource(cfg.RateLiveURL, cfg.RateLivePerSecond, nil)))
	} else {
		log.Warn("no live rate source configured, quotes come from the fallback table")
	}
	return rates.NewProvider(opts...), nil
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
