// Package ledger é o dono dos saldos. Débitos e créditos são atômicos por conta,
// sequenciados e idempotentes por chave de operação.
package ledger

import (
	"context"
	"errors"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/radieske/sportsbook-ledger/internal/errs"
	"github.com/radieske/sportsbook-ledger/internal/odds"
	"github.com/radieske/sportsbook-ledger/internal/shared/metrics"
	"github.com/radieske/sportsbook-ledger/internal/shared/retry"
)

const defaultEntriesLimit = 100

// Ledger aplica as regras de validação e retry sobre um Store.
type Ledger struct {
	store   Store
	log     *zap.Logger
	metrics *metrics.Metrics
	retry   retry.Config
}

// Option customiza o Ledger.
type Option func(*Ledger)

func WithLogger(l *zap.Logger) Option { return func(lg *Ledger) { lg.log = l } }

func WithMetrics(m *metrics.Metrics) Option { return func(lg *Ledger) { lg.metrics = m } }

func WithRetry(c retry.Config) Option { return func(lg *Ledger) { lg.retry = c } }

// New cria o Ledger sobre o store informado.
func New(store Store, opts ...Option) *Ledger {
	l := &Ledger{store: store, log: zap.NewNop(), retry: retry.Default}
	for _, opt := range opts {
		opt(l)
	}
	if l.log == nil {
		l.log = zap.NewNop()
	}
	return l
}

// Open cria a conta com saldo zero se ainda não existir.
func (l *Ledger) Open(ctx context.Context, accountID string) (Account, error) {
	if strings.TrimSpace(accountID) == "" {
		return Account{}, errs.New("ledger.open", errs.KindInvalidRequest, "account id required")
	}
	return l.store.Open(ctx, accountID)
}

// Balance retorna o saldo atual.
func (l *Ledger) Balance(ctx context.Context, accountID string) (decimal.Decimal, error) {
	acc, err := l.store.Account(ctx, accountID)
	if err != nil {
		return decimal.Zero, err
	}
	return acc.Balance, nil
}

// Entries retorna os lançamentos mais recentes da conta, do mais novo ao mais antigo.
func (l *Ledger) Entries(ctx context.Context, accountID string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = defaultEntriesLimit
	}
	return l.store.Entries(ctx, accountID, limit)
}

// Lookup retorna o lançamento já aplicado com a chave opKey, se houver.
func (l *Ledger) Lookup(ctx context.Context, opKey string) (Entry, bool, error) {
	return l.store.Lookup(ctx, opKey)
}

// Debit retira amount da conta. Falha sem efeito se o saldo não cobrir o valor.
func (l *Ledger) Debit(ctx context.Context, accountID string, amount decimal.Decimal, opKey string) (Entry, error) {
	return l.apply(ctx, "ledger.debit", Mutation{AccountID: accountID, Kind: Debit, Amount: amount, OpKey: opKey})
}

// Credit adiciona amount à conta.
func (l *Ledger) Credit(ctx context.Context, accountID string, amount decimal.Decimal, opKey string) (Entry, error) {
	return l.apply(ctx, "ledger.credit", Mutation{AccountID: accountID, Kind: Credit, Amount: amount, OpKey: opKey})
}

// apply não arredonda: valores com mais de duas casas são recusados.
func (l *Ledger) apply(ctx context.Context, op string, m Mutation) (Entry, error) {
	if !m.Amount.Equal(odds.RoundUSD(m.Amount)) {
		return Entry{}, errs.New(op, errs.KindInvalidStake, "amount must have at most 2 decimals, got "+m.Amount.String())
	}
	if err := odds.ValidateStake(m.Amount); err != nil {
		return Entry{}, errs.New(op, errs.KindInvalidStake, "amount must be >= 0.01, got "+m.Amount.String())
	}
	if strings.TrimSpace(m.AccountID) == "" || strings.TrimSpace(m.OpKey) == "" {
		return Entry{}, errs.New(op, errs.KindInvalidRequest, "account id and op key required")
	}

	entry, err := retry.Do(ctx, l.retry, func(err error) bool { return errors.Is(err, ErrRetry) }, func() (Entry, error) {
		return l.store.Apply(ctx, m)
	})
	kind := strings.ToLower(string(m.Kind))
	if err != nil {
		l.metrics.LedgerOp(kind, string(errs.KindOf(err)))
		if errors.Is(err, ErrRetry) {
			return Entry{}, errs.Wrap(op, errs.KindConflict, err)
		}
		return Entry{}, err
	}

	if entry.Replayed {
		if !m.sameAs(entry) {
			l.metrics.LedgerOp(kind, "op_key_mismatch")
			return Entry{}, errs.New(op, errs.KindConflict, "op key "+m.OpKey+" already used by a different mutation")
		}
		l.metrics.LedgerOp(kind, "replayed")
		l.log.Debug("ledger op replayed", zap.String("account_id", m.AccountID), zap.String("op_key", m.OpKey))
		return entry, nil
	}

	l.metrics.LedgerOp(kind, "ok")
	l.log.Info("ledger op applied",
		zap.String("account_id", entry.AccountID),
		zap.String("kind", string(entry.Kind)),
		zap.String("amount", entry.Amount.StringFixed(odds.USDScale)),
		zap.String("balance_after", entry.BalanceAfter.StringFixed(odds.USDScale)),
		zap.Int64("seq", entry.Seq),
		zap.String("op_key", entry.OpKey),
	)
	return entry, nil
}
