package wager

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/radieske/sportsbook-ledger/internal/ledger"
	"github.com/radieske/sportsbook-ledger/internal/notify"
	"github.com/radieske/sportsbook-ledger/internal/shared/metrics"
	"github.com/radieske/sportsbook-ledger/internal/shared/retry"
)

// Ledger é o que o serviço usa do dono dos saldos.
type Ledger interface {
	Balance(ctx context.Context, accountID string) (decimal.Decimal, error)
	Debit(ctx context.Context, accountID string, amount decimal.Decimal, opKey string) (ledger.Entry, error)
	Credit(ctx context.Context, accountID string, amount decimal.Decimal, opKey string) (ledger.Entry, error)
	Lookup(ctx context.Context, opKey string) (ledger.Entry, bool, error)
}

const (
	defaultPlaceTimeout  = 5 * time.Second
	defaultSettleWorkers = 8
	compensationTimeout  = 5 * time.Second
	publishTimeout       = 2 * time.Second
)

// Service coloca e liquida múltiplas.
type Service struct {
	store   Store
	ledger  Ledger
	pub     notify.Publisher
	log     *zap.Logger
	metrics *metrics.Metrics
	retry   retry.Config

	placeTimeout  time.Duration
	settleWorkers int
	newID         func() string
	now           func() time.Time
}

type Option func(*Service)

func WithLogger(l *zap.Logger) Option { return func(s *Service) { s.log = l } }

func WithMetrics(m *metrics.Metrics) Option { return func(s *Service) { s.metrics = m } }

func WithPublisher(p notify.Publisher) Option { return func(s *Service) { s.pub = p } }

func WithRetry(c retry.Config) Option { return func(s *Service) { s.retry = c } }

// WithPlaceTimeout limita a duração total da colocação. Zero desliga o limite.
func WithPlaceTimeout(d time.Duration) Option { return func(s *Service) { s.placeTimeout = d } }

// WithSettleWorkers limita as múltiplas liquidadas em paralelo por SettleOdd.
func WithSettleWorkers(n int) Option { return func(s *Service) { s.settleWorkers = n } }

func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

func WithIDGenerator(f func() string) Option { return func(s *Service) { s.newID = f } }

func NewService(store Store, l Ledger, opts ...Option) *Service {
	s := &Service{
		store:         store,
		ledger:        l,
		pub:           notify.Nop{},
		log:           zap.NewNop(),
		retry:         retry.Default,
		placeTimeout:  defaultPlaceTimeout,
		settleWorkers: defaultSettleWorkers,
		newID:         uuid.NewString,
		now:           func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	if s.pub == nil {
		s.pub = notify.Nop{}
	}
	if s.settleWorkers <= 0 {
		s.settleWorkers = 1
	}
	return s
}

// Store expõe o catálogo para o consumidor do feed.
func (s *Service) Store() Store { return s.store }

// Parlay retorna a múltipla e suas seleções.
func (s *Service) Parlay(ctx context.Context, id string) (Parlay, []Leg, error) {
	return s.store.Parlay(ctx, id)
}

// publish entrega o evento sem bloquear o chamador por muito tempo; falhas só geram log.
func (s *Service) publish(ctx context.Context, e notify.Event) {
	if e.Ts.IsZero() {
		e.Ts = s.now()
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := s.pub.Publish(ctx, e); err != nil {
		s.log.Warn("publish event failed",
			zap.String("type", e.Type),
			zap.String("entity_id", e.EntityID),
			zap.Error(err))
	}
}
