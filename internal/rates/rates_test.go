package rates

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/radieske/sportsbook-ledger/internal/errs"
)

func priceServer(t *testing.T, status int, body string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func TestLiveQuoteIsCached(t *testing.T) {
	ctx := context.Background()
	srv, hits := priceServer(t, http.StatusOK, `{"symbol":"BTCUSDT","price":"43125.50"}`)
	p := NewProvider(
		WithSource(NewHTTPSource(srv.URL+"/price?symbol={asset}USDT", 100, srv.Client())),
		WithCache(NewMemoryCache(time.Minute)),
	)

	q, err := p.Quote(ctx, "btc")
	require.NoError(t, err)
	require.Equal(t, "BTC", q.Asset)
	require.Equal(t, SourceLive, q.Source)
	require.Equal(t, "43125.5", q.Rate.String())
	require.NoError(t, q.Warning())

	q, err = p.Quote(ctx, "BTC")
	require.NoError(t, err)
	require.Equal(t, SourceCache, q.Source)
	require.Equal(t, int32(1), hits.Load())

	require.NoError(t, p.Invalidate(ctx, "btc"))
	_, err = p.Quote(ctx, "BTC")
	require.NoError(t, err)
	require.Equal(t, int32(2), hits.Load())
}

func TestFallbackIsStale(t *testing.T) {
	srv, _ := priceServer(t, http.StatusServiceUnavailable, `down`)
	p := NewProvider(WithSource(NewHTTPSource(srv.URL, 100, srv.Client())))

	q, err := p.Quote(context.Background(), "BTC")
	require.NoError(t, err)
	require.True(t, q.Stale)
	require.Equal(t, SourceFallback, q.Source)
	require.Equal(t, "43000.00", q.Rate.StringFixed(2))
	require.ErrorIs(t, q.Warning(), errs.ErrStaleRate)
}

func TestUnknownAsset(t *testing.T) {
	p := NewProvider()
	_, err := p.Quote(context.Background(), "DOGE")
	require.ErrorIs(t, err, errs.ErrInvalidRequest)
	_, err = p.Quote(context.Background(), " ")
	require.ErrorIs(t, err, errs.ErrInvalidRequest)
}

func TestMemoryCacheExpires(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	c := NewMemoryCache(30 * time.Second)
	c.now = func() time.Time { return now }

	require.NoError(t, c.Set(ctx, Quote{Asset: "ETH", FetchedAt: now}))
	_, ok, _ := c.Get(ctx, "ETH")
	require.True(t, ok)

	now = now.Add(31 * time.Second)
	_, ok, _ = c.Get(ctx, "ETH")
	require.False(t, ok)
}

func TestParseTable(t *testing.T) {
	tbl, err := ParseTable([]byte("rates:\n  btc: \"50000\"\n"))
	require.NoError(t, err)
	require.Equal(t, "50000", tbl["BTC"].String())

	_, err = ParseTable([]byte("rates:\n  btc: \"-1\"\n"))
	require.Error(t, err)
	_, err = ParseTable([]byte("rates:\n  btc: abc\n"))
	require.Error(t, err)

	require.Contains(t, DefaultTable(), "USDT")
}
