package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsPerService(t *testing.T) {
	t.Setenv("SERVICE_NAME", "wager-service")
	t.Setenv("ENV", "prod")

	cfg := Load()
	require.Equal(t, "8083", cfg.HTTPPort)
	require.Equal(t, "9099", cfg.MetricsPort)
	require.Equal(t, "market_results", cfg.TopicMarketResults)
	require.Equal(t, 3, cfg.MaxPendingWithdrawals)
	require.False(t, cfg.MigrateOnStart)
	require.Equal(t, 30*time.Second, cfg.RateCacheTTL)
}

func TestLoadOverridesAndMalformedValues(t *testing.T) {
	t.Setenv("SERVICE_NAME", "settlement-worker")
	t.Setenv("CRYPTO_MAX_PENDING_WITHDRAWALS", "5")
	t.Setenv("CRYPTO_PENDING_TIMEOUT", "90m")
	t.Setenv("SETTLE_WORKERS", "lots")
	t.Setenv("HTTP_RATE_LIMIT", "-1")
	t.Setenv("MIGRATE_ON_START", "true")

	cfg := Load()
	require.Equal(t, "", cfg.HTTPPort)
	require.Equal(t, 5, cfg.MaxPendingWithdrawals)
	require.Equal(t, 90*time.Minute, cfg.CryptoPendingTimeout)
	require.Equal(t, 8, cfg.SettleWorkers)
	require.Zero(t, cfg.HTTPRateLimit)
	require.True(t, cfg.MigrateOnStart)
}
