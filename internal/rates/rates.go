// Package rates cota ativos cripto em USD.
// Ordem de consulta: cache, fonte ao vivo, tabela estática de fallback.
package rates

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/radieske/sportsbook-ledger/internal/errs"
	"github.com/radieske/sportsbook-ledger/internal/shared/metrics"
)

// Origens de uma cotação.
const (
	SourceCache    = "cache"
	SourceLive     = "live"
	SourceFallback = "fallback"
)

// Quote é uma cotação de 1 unidade do ativo em USD.
type Quote struct {
	Asset     string          `json:"asset"`
	Rate      decimal.Decimal `json:"rate"`
	Stale     bool            `json:"stale"`
	Source    string          `json:"source"`
	FetchedAt time.Time       `json:"fetchedAt"`
}

// Warning retorna ErrStaleRate quando a cotação veio da tabela estática.
func (q Quote) Warning() error {
	if !q.Stale {
		return nil
	}
	return errs.New("rates.quote", errs.KindStaleRate, "rate for "+q.Asset+" is a static fallback")
}

// Cache guarda cotações ao vivo; o TTL é responsabilidade do cache.
type Cache interface {
	Get(ctx context.Context, asset string) (Quote, bool, error)
	Set(ctx context.Context, q Quote) error
	Invalidate(ctx context.Context, asset string) error
}

// Source consulta a cotação atual.
type Source interface {
	Rate(ctx context.Context, asset string) (decimal.Decimal, error)
}

// Provider resolve cotações.
type Provider struct {
	cache    Cache
	source   Source
	fallback Table
	log      *zap.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
}

type Option func(*Provider)

func WithCache(c Cache) Option { return func(p *Provider) { p.cache = c } }

func WithSource(s Source) Option { return func(p *Provider) { p.source = s } }

// WithFallback troca a tabela estática embutida.
func WithFallback(t Table) Option { return func(p *Provider) { p.fallback = t } }

func WithLogger(l *zap.Logger) Option { return func(p *Provider) { p.log = l } }

func WithMetrics(m *metrics.Metrics) Option { return func(p *Provider) { p.metrics = m } }

func WithClock(now func() time.Time) Option { return func(p *Provider) { p.now = now } }

func NewProvider(opts ...Option) *Provider {
	p := &Provider{
		fallback: DefaultTable(),
		log:      zap.NewNop(),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.log == nil {
		p.log = zap.NewNop()
	}
	return p
}

// Quote retorna a cotação do ativo. Erros de cache e da fonte ao vivo não
// são fatais: a consulta desce para o próximo nível.
func (p *Provider) Quote(ctx context.Context, asset string) (Quote, error) {
	asset = strings.ToUpper(strings.TrimSpace(asset))
	if asset == "" {
		return Quote{}, errs.New("rates.quote", errs.KindInvalidRequest, "asset required")
	}

	if p.cache != nil {
		q, ok, err := p.cache.Get(ctx, asset)
		if err != nil {
			p.log.Warn("rate cache get failed", zap.String("asset", asset), zap.Error(err))
		}
		if ok {
			q.Source = SourceCache
			p.metrics.RateQuote(SourceCache)
			return q, nil
		}
	}

	if p.source != nil {
		rate, err := p.source.Rate(ctx, asset)
		if err == nil && rate.IsPositive() {
			q := Quote{Asset: asset, Rate: rate, Source: SourceLive, FetchedAt: p.now()}
			if p.cache != nil {
				if err := p.cache.Set(ctx, q); err != nil {
					p.log.Warn("rate cache set failed", zap.String("asset", asset), zap.Error(err))
				}
			}
			p.metrics.RateQuote(SourceLive)
			return q, nil
		}
		p.log.Warn("live rate unavailable, using fallback", zap.String("asset", asset), zap.Error(err))
	}

	rate, ok := p.fallback[asset]
	if !ok {
		return Quote{}, errs.New("rates.quote", errs.KindInvalidRequest, "unknown asset "+asset)
	}
	p.metrics.RateQuote(SourceFallback)
	return Quote{Asset: asset, Rate: rate, Stale: true, Source: SourceFallback, FetchedAt: p.now()}, nil
}

// Invalidate descarta a cotação em cache do ativo.
func (p *Provider) Invalidate(ctx context.Context, asset string) error {
	if p.cache == nil {
		return nil
	}
	return p.cache.Invalidate(ctx, strings.ToUpper(strings.TrimSpace(asset)))
}
