package cryptotx

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/radieske/sportsbook-ledger/internal/errs"
	"github.com/radieske/sportsbook-ledger/internal/ledger"
	"github.com/radieske/sportsbook-ledger/internal/notify"
	"github.com/radieske/sportsbook-ledger/internal/odds"
	"github.com/radieske/sportsbook-ledger/internal/rates"
	"github.com/radieske/sportsbook-ledger/internal/shared/metrics"
)

// DefaultMaxPendingWithdrawals é o limite de saques pendentes por conta.
const DefaultMaxPendingWithdrawals = 3

const (
	publishTimeout  = 2 * time.Second
	reversalTimeout = 5 * time.Second
)

type Ledger interface {
	Balance(ctx context.Context, accountID string) (decimal.Decimal, error)
	Debit(ctx context.Context, accountID string, amount decimal.Decimal, opKey string) (ledger.Entry, error)
	Credit(ctx context.Context, accountID string, amount decimal.Decimal, opKey string) (ledger.Entry, error)
	Lookup(ctx context.Context, opKey string) (ledger.Entry, bool, error)
}

type RateQuoter interface {
	Quote(ctx context.Context, asset string) (rates.Quote, error)
}

func approvalOpKey(tx Transaction) string { return "crypto:" + tx.ID + ":" + tx.ApprovalAttempt }

func reversalOpKey(tx Transaction) string {
	return "crypto-reversal:" + tx.ID + ":" + tx.ApprovalAttempt
}

// Workflow executa pedidos e resoluções de transações cripto.
type Workflow struct {
	store   Store
	ledger  Ledger
	rates   RateQuoter
	pub     notify.Publisher
	log     *zap.Logger
	metrics *metrics.Metrics
	locks   *keyedMutex

	maxPending int
	newID      func() string
	now        func() time.Time
}

type Option func(*Workflow)

func WithLogger(l *zap.Logger) Option { return func(w *Workflow) { w.log = l } }

func WithMetrics(m *metrics.Metrics) Option { return func(w *Workflow) { w.metrics = m } }

func WithPublisher(p notify.Publisher) Option { return func(w *Workflow) { w.pub = p } }

func WithMaxPendingWithdrawals(n int) Option { return func(w *Workflow) { w.maxPending = n } }

func WithClock(now func() time.Time) Option { return func(w *Workflow) { w.now = now } }

func NewWorkflow(store Store, l Ledger, q RateQuoter, opts ...Option) *Workflow {
	w := &Workflow{
		store:      store,
		ledger:     l,
		rates:      q,
		pub:        notify.Nop{},
		log:        zap.NewNop(),
		locks:      newKeyedMutex(),
		maxPending: DefaultMaxPendingWithdrawals,
		newID:      uuid.NewString,
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.log == nil {
		w.log = zap.NewNop()
	}
	if w.pub == nil {
		w.pub = notify.Nop{}
	}
	return w
}

// RequestInput é o pedido do usuário.
type RequestInput struct {
	AccountID    string
	Type         Type
	Asset        string
	CryptoAmount decimal.Decimal
	WalletID     string
}

// Request cria a transação PENDIENTE com a cotação do momento.
// Saques são recusados sem saldo ou acima do limite de pendentes.
func (w *Workflow) Request(ctx context.Context, actor Actor, in RequestInput) (Transaction, error) {
	tx, err := w.request(ctx, actor, in)
	w.metrics.CryptoAction("request", resultOf(err))
	return tx, err
}

func (w *Workflow) request(ctx context.Context, actor Actor, in RequestInput) (Transaction, error) {
	const op = "cryptotx.request"
	if strings.TrimSpace(in.AccountID) == "" {
		return Transaction{}, errs.New(op, errs.KindInvalidRequest, "account id required")
	}
	if actor.ID != in.AccountID && !actor.Admin && !actor.System {
		return Transaction{}, errs.New(op, errs.KindUnauthorized, "actor cannot request for account "+in.AccountID)
	}
	if !in.Type.Valid() {
		return Transaction{}, errs.New(op, errs.KindInvalidRequest, "unknown type "+string(in.Type))
	}
	if !in.CryptoAmount.IsPositive() {
		return Transaction{}, errs.New(op, errs.KindInvalidStake, "crypto amount must be > 0")
	}

	q, err := w.rates.Quote(ctx, in.Asset)
	if err != nil {
		return Transaction{}, err
	}
	if warn := q.Warning(); warn != nil {
		w.log.Warn("stale conversion rate", zap.String("asset", q.Asset), zap.Error(warn))
	}
	usd := odds.RoundUSD(in.CryptoAmount.Mul(q.Rate))
	if !usd.IsPositive() {
		return Transaction{}, errs.New(op, errs.KindInvalidStake, "usd amount rounds to zero")
	}

	balance, err := w.ledger.Balance(ctx, in.AccountID)
	if err != nil {
		return Transaction{}, err
	}
	if in.Type == Withdrawal && usd.GreaterThan(balance) {
		return Transaction{}, errs.New(op, errs.KindInsufficientFunds,
			"withdrawal "+usd.StringFixed(odds.USDScale)+" exceeds balance "+balance.StringFixed(odds.USDScale))
	}

	now := w.now()
	tx := Transaction{
		ID:             w.newID(),
		AccountID:      in.AccountID,
		Type:           in.Type,
		Asset:          q.Asset,
		CryptoAmount:   in.CryptoAmount,
		ConversionRate: q.Rate,
		USDAmount:      usd,
		RateStale:      q.Stale,
		RateSource:     q.Source,
		State:          Pending,
		WalletID:       in.WalletID,
		Version:        1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := w.store.Create(ctx, tx, w.maxPending); err != nil {
		return Transaction{}, err
	}

	w.log.Info("crypto transaction requested",
		zap.String("tx_id", tx.ID),
		zap.String("account_id", tx.AccountID),
		zap.String("type", string(tx.Type)),
		zap.String("asset", tx.Asset),
		zap.String("usd_amount", usd.StringFixed(odds.USDScale)),
		zap.Bool("rate_stale", tx.RateStale))
	w.publish(ctx, tx, notify.CryptoRequested, "")
	return tx, nil
}

// ApproveInput carrega dados opcionais da aprovação.
type ApproveInput struct {
	ExternalRef string
}

// Approve aplica o efeito no ledger e marca APROBADO. Sem saldo para o saque,
// a transação continua PENDIENTE.
func (w *Workflow) Approve(ctx context.Context, actor Actor, id string, in ApproveInput) (Transaction, error) {
	tx, err := w.approve(ctx, actor, id, in)
	w.metrics.CryptoAction("approve", resultOf(err))
	return tx, err
}

func (w *Workflow) approve(ctx context.Context, actor Actor, id string, in ApproveInput) (Transaction, error) {
	const op = "cryptotx.approve"
	if !actor.Admin {
		return Transaction{}, errs.New(op, errs.KindUnauthorized, "approval requires admin")
	}

	unlock := w.locks.Lock(id)
	defer unlock()

	tx, err := w.store.Get(ctx, id)
	if err != nil {
		return Transaction{}, err
	}
	next, err := tx.State.Transition(ActionApprove)
	if err != nil {
		return tx, err
	}

	tx, entry, err := w.applyEffect(ctx, tx)
	if err != nil {
		return tx, err
	}

	now := w.now()
	updated := tx
	updated.State = next
	updated.USDAmount = entry.Amount
	updated.ResolvedBy = actor.ID
	updated.ExternalRef = strings.TrimSpace(in.ExternalRef)
	updated.ResolvedAt = &now
	updated.UpdatedAt = now
	updated.Version = tx.Version + 1

	if err := w.store.Update(ctx, updated, tx.Version); err != nil {
		cur, lerr := w.approvalLost(ctx, tx, err)
		if lerr != nil {
			return cur, lerr
		}
		updated = cur
	}

	w.log.Info("crypto transaction approved",
		zap.String("tx_id", id),
		zap.String("resolved_by", actor.ID),
		zap.String("balance_after", entry.BalanceAfter.StringFixed(odds.USDScale)))
	w.publishWithBalance(ctx, updated, entry.BalanceAfter)
	return updated, nil
}

// applyEffect credita o depósito ou debita o saque sob a chave de uma
// tentativa. O efeito ainda aberto da tentativa anterior é reaproveitado;
// senão uma nova tentativa é gravada antes de tocar no ledger.
func (w *Workflow) applyEffect(ctx context.Context, tx Transaction) (Transaction, ledger.Entry, error) {
	const op = "cryptotx.approve"
	if prev, ok, err := w.openEffect(ctx, tx); err != nil {
		return tx, ledger.Entry{}, err
	} else if ok {
		prev.Replayed = true
		return tx, prev, nil
	}
	if !tx.Type.Valid() {
		return tx, ledger.Entry{}, errs.New(op, errs.KindInvalidRequest, "unknown type "+string(tx.Type))
	}

	claimed := tx
	claimed.ApprovalAttempt = w.newID()
	claimed.UpdatedAt = w.now()
	claimed.Version = tx.Version + 1
	if err := w.store.Update(ctx, claimed, tx.Version); err != nil {
		return tx, ledger.Entry{}, w.writeFailed(ctx, op, tx.ID, err)
	}

	var (
		entry ledger.Entry
		err   error
	)
	if claimed.Type == Deposit {
		entry, err = w.ledger.Credit(ctx, claimed.AccountID, claimed.USDAmount, approvalOpKey(claimed))
	} else {
		entry, err = w.ledger.Debit(ctx, claimed.AccountID, claimed.USDAmount, approvalOpKey(claimed))
	}
	if err == nil {
		return claimed, entry, nil
	}
	switch errs.KindOf(err) {
	case errs.KindInsufficientFunds, errs.KindInvalidStake, errs.KindNotFound:
		return claimed, ledger.Entry{}, err
	}
	// O commit pode ter acontecido mesmo com erro; nesse caso é desfeito.
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), reversalTimeout)
	defer cancel()
	if rerr := w.reverseEffect(rctx, claimed); rerr != nil {
		return claimed, ledger.Entry{}, errors.Join(err, rerr)
	}
	return claimed, ledger.Entry{}, err
}

// openEffect retorna o efeito da tentativa corrente que ainda não foi desfeito.
func (w *Workflow) openEffect(ctx context.Context, tx Transaction) (ledger.Entry, bool, error) {
	if tx.ApprovalAttempt == "" {
		return ledger.Entry{}, false, nil
	}
	applied, ok, err := w.ledger.Lookup(ctx, approvalOpKey(tx))
	if err != nil || !ok {
		return ledger.Entry{}, false, err
	}
	_, reversed, err := w.ledger.Lookup(ctx, reversalOpKey(tx))
	if err != nil || reversed {
		return ledger.Entry{}, false, err
	}
	return applied, true, nil
}

// approvalLost trata a falha ao gravar APROBADO depois do efeito no ledger.
// Se a gravação de fato ocorreu, a aprovação vale. Caso contrário o efeito
// da tentativa é desfeito na hora e a transação segue sem efeito no saldo.
func (w *Workflow) approvalLost(ctx context.Context, tx Transaction, cause error) (Transaction, error) {
	const op = "cryptotx.approve"
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), reversalTimeout)
	defer cancel()

	cur, gerr := w.store.Get(rctx, tx.ID)
	if gerr == nil && cur.State == Approved && cur.ApprovalAttempt == tx.ApprovalAttempt {
		return cur, nil
	}
	if err := w.reverseEffect(rctx, tx); err != nil {
		return tx, errors.Join(cause, err)
	}
	if gerr != nil {
		return tx, errors.Join(cause, gerr)
	}
	if !errors.Is(cause, ErrVersionConflict) {
		return cur, cause
	}
	if cur.State.Terminal() {
		return cur, errs.New(op, errs.KindAlreadyTerminal, "transaction already "+string(cur.State))
	}
	return cur, errs.Wrap(op, errs.KindConflict, cause)
}

// writeFailed traduz a falha de gravação de estado. Conflito de versão vira
// already_terminal quando outra resolução venceu.
func (w *Workflow) writeFailed(ctx context.Context, op, id string, err error) error {
	if !errors.Is(err, ErrVersionConflict) {
		return err
	}
	cur, gerr := w.store.Get(ctx, id)
	if gerr == nil && cur.State.Terminal() {
		return errs.New(op, errs.KindAlreadyTerminal, "transaction already "+string(cur.State))
	}
	return errs.Wrap(op, errs.KindConflict, err)
}

// reverseEffect desfaz o efeito ainda aberto da tentativa corrente, se existir.
func (w *Workflow) reverseEffect(ctx context.Context, tx Transaction) error {
	applied, ok, err := w.openEffect(ctx, tx)
	if err != nil || !ok {
		return err
	}
	switch applied.Kind {
	case ledger.Credit:
		_, err = w.ledger.Debit(ctx, tx.AccountID, applied.Amount, reversalOpKey(tx))
	case ledger.Debit:
		_, err = w.ledger.Credit(ctx, tx.AccountID, applied.Amount, reversalOpKey(tx))
	}
	if err != nil {
		w.log.Error("crypto approval reversal failed",
			zap.String("tx_id", tx.ID),
			zap.String("attempt", tx.ApprovalAttempt),
			zap.String("account_id", tx.AccountID),
			zap.Error(err))
		return fmt.Errorf("reverse approval of %s: %w", tx.ID, err)
	}
	w.log.Warn("crypto approval reversed", zap.String("tx_id", tx.ID), zap.String("attempt", tx.ApprovalAttempt))
	return nil
}

// Reject encerra a transação sem efeito no saldo. Exige admin e motivo.
func (w *Workflow) Reject(ctx context.Context, actor Actor, id, reason string) (Transaction, error) {
	const op = "cryptotx.reject"
	var tx Transaction
	err := func() error {
		if !actor.Admin {
			return errs.New(op, errs.KindUnauthorized, "rejection requires admin")
		}
		if strings.TrimSpace(reason) == "" {
			return errs.New(op, errs.KindInvalidRequest, "rejection reason required")
		}
		var err error
		tx, err = w.resolve(ctx, actor, id, ActionReject, reason, nil)
		return err
	}()
	w.metrics.CryptoAction("reject", resultOf(err))
	return tx, err
}

// Cancel encerra a transação a pedido do próprio solicitante ou do sistema.
func (w *Workflow) Cancel(ctx context.Context, actor Actor, id, reason string) (Transaction, error) {
	const op = "cryptotx.cancel"
	tx, err := w.resolve(ctx, actor, id, ActionCancel, reason, func(t Transaction) error {
		if actor.System || actor.ID == t.AccountID {
			return nil
		}
		return errs.New(op, errs.KindUnauthorized, "only the requester or the system can cancel")
	})
	w.metrics.CryptoAction("cancel", resultOf(err))
	return tx, err
}

func (w *Workflow) resolve(ctx context.Context, actor Actor, id string, a Action, reason string, authorize func(Transaction) error) (Transaction, error) {
	unlock := w.locks.Lock(id)
	defer unlock()

	tx, err := w.store.Get(ctx, id)
	if err != nil {
		return Transaction{}, err
	}
	if authorize != nil {
		if err := authorize(tx); err != nil {
			return Transaction{}, err
		}
	}
	next, err := tx.State.Transition(a)
	if err != nil {
		return tx, err
	}

	// Efeito de uma aprovação interrompida é desfeito antes do estado final;
	// se a reversão falhar, a transação segue PENDIENTE.
	if err := w.reverseEffect(ctx, tx); err != nil {
		return tx, err
	}

	now := w.now()
	updated := tx
	updated.State = next
	updated.ResolvedBy = actor.ID
	updated.Reason = strings.TrimSpace(reason)
	updated.ResolvedAt = &now
	updated.UpdatedAt = now
	updated.Version = tx.Version + 1

	if err := w.store.Update(ctx, updated, tx.Version); err != nil {
		return tx, w.writeFailed(ctx, "cryptotx."+string(a), id, err)
	}

	w.log.Info("crypto transaction resolved",
		zap.String("tx_id", id),
		zap.String("state", string(updated.State)),
		zap.String("resolved_by", actor.ID),
		zap.String("reason", updated.Reason))
	w.publish(ctx, updated, notify.CryptoResolved, "")
	return updated, nil
}

// Get retorna a transação.
func (w *Workflow) Get(ctx context.Context, id string) (Transaction, error) {
	return w.store.Get(ctx, id)
}

// CancelExpired cancela pelo sistema as PENDIENTE mais antigas que maxAge.
func (w *Workflow) CancelExpired(ctx context.Context, maxAge time.Duration) (int, error) {
	pending, err := w.store.ListPending(ctx, w.now().Add(-maxAge))
	if err != nil {
		return 0, err
	}
	var (
		n       int
		errList []error
	)
	for _, t := range pending {
		_, err := w.Cancel(ctx, SystemActor, t.ID, "expired")
		switch {
		case err == nil:
			n++
		case errors.Is(err, errs.ErrAlreadyTerminal):
		default:
			errList = append(errList, err)
		}
	}
	if n > 0 {
		w.log.Info("expired crypto transactions cancelled", zap.Int("count", n))
	}
	return n, errors.Join(errList...)
}

// Resnapshot recota todas as PENDIENTE sem mudar seu estado.
func (w *Workflow) Resnapshot(ctx context.Context) (int, error) {
	pending, err := w.store.ListPending(ctx, time.Time{})
	if err != nil {
		return 0, err
	}
	var (
		n       int
		errList []error
	)
	for _, t := range pending {
		ok, err := w.resnapshotOne(ctx, t.ID)
		if err != nil {
			errList = append(errList, err)
			continue
		}
		if ok {
			n++
		}
	}
	w.metrics.CryptoAction("resnapshot", resultOf(errors.Join(errList...)))
	return n, errors.Join(errList...)
}

func (w *Workflow) resnapshotOne(ctx context.Context, id string) (bool, error) {
	unlock := w.locks.Lock(id)
	defer unlock()

	tx, err := w.store.Get(ctx, id)
	if err != nil {
		return false, err
	}
	if tx.State != Pending {
		return false, nil
	}
	q, err := w.rates.Quote(ctx, tx.Asset)
	if err != nil {
		return false, err
	}
	updated := tx
	updated.ConversionRate = q.Rate
	updated.USDAmount = odds.RoundUSD(tx.CryptoAmount.Mul(q.Rate))
	updated.RateStale = q.Stale
	updated.RateSource = q.Source
	updated.UpdatedAt = w.now()
	updated.Version = tx.Version + 1
	if err := w.store.Update(ctx, updated, tx.Version); err != nil {
		if errors.Is(err, ErrVersionConflict) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (w *Workflow) publish(ctx context.Context, tx Transaction, typ, balance string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	e := notify.Event{
		Type:      typ,
		AccountID: tx.AccountID,
		EntityID:  tx.ID,
		State:     string(tx.State),
		Amount:    tx.USDAmount.StringFixed(odds.USDScale),
		Balance:   balance,
		Ts:        w.now(),
	}
	if err := w.pub.Publish(ctx, e); err != nil {
		w.log.Warn("publish event failed", zap.String("type", typ), zap.String("tx_id", tx.ID), zap.Error(err))
	}
}

func (w *Workflow) publishWithBalance(ctx context.Context, tx Transaction, balance decimal.Decimal) {
	w.publish(ctx, tx, notify.CryptoResolved, balance.StringFixed(odds.USDScale))
}

func resultOf(err error) string {
	if err == nil {
		return "ok"
	}
	return string(errs.KindOf(err))
}
