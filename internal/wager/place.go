package wager

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/radieske/sportsbook-ledger/internal/errs"
	"github.com/radieske/sportsbook-ledger/internal/notify"
	"github.com/radieske/sportsbook-ledger/internal/odds"
)

// Selection é uma seleção pedida pelo apostador, com a odd que ele viu.
type Selection struct {
	OddID    string
	Stake    decimal.Decimal
	OddValue decimal.Decimal
	BetType  string
}

type PlaceRequest struct {
	AccountID  string
	Selections []Selection
}

// Placement é o resultado de uma colocação aceita.
type Placement struct {
	Parlay  Parlay
	Legs    []Leg
	Balance decimal.Decimal
}

// StakeOpKey é a chave do débito de colocação.
func StakeOpKey(parlayID string) string { return "stake:" + parlayID }

func stakeReversalOpKey(parlayID string) string { return "stake-reversal:" + parlayID }

// Place valida, debita o stake total e grava a múltipla.
// Falhas antes do débito não têm efeito; falha ao gravar devolve o stake.
func (s *Service) Place(ctx context.Context, req PlaceRequest) (Placement, error) {
	start := time.Now()
	res, err := s.place(ctx, req)
	result := "ok"
	if err != nil {
		result = string(errs.KindOf(err))
	}
	s.metrics.Placement(result, time.Since(start).Seconds())
	return res, err
}

func (s *Service) place(ctx context.Context, req PlaceRequest) (Placement, error) {
	const op = "wager.place"
	if s.placeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.placeTimeout)
		defer cancel()
	}

	sels, total, err := normalize(req)
	if err != nil {
		return Placement{}, err
	}

	balance, err := s.ledger.Balance(ctx, req.AccountID)
	if err != nil {
		return Placement{}, err
	}
	if total.GreaterThan(balance) {
		return Placement{}, errs.New(op, errs.KindInsufficientFunds,
			"stake "+total.StringFixed(odds.USDScale)+" exceeds balance "+balance.StringFixed(odds.USDScale))
	}

	values := make([]decimal.Decimal, len(sels))
	for i, sel := range sels {
		o, err := s.store.Odd(ctx, sel.OddID)
		if errors.Is(err, errs.ErrNotFound) {
			return Placement{}, errs.New(op, errs.KindInvalidOdd, "odd "+sel.OddID+" not found")
		}
		if err != nil {
			return Placement{}, err
		}
		if !o.Value.Equal(sel.OddValue) {
			return Placement{}, errs.New(op, errs.KindInvalidOdd,
				"odd "+sel.OddID+" changed: quoted "+sel.OddValue.String()+", current "+o.Value.String())
		}
		values[i] = o.Value
	}

	combined, err := odds.Combine(values)
	if err != nil {
		return Placement{}, err
	}
	payout, err := odds.PotentialPayout(total, combined)
	if err != nil {
		return Placement{}, err
	}

	// Sem débito ainda: um prazo estourado aqui sai sem efeito.
	if err := ctx.Err(); err != nil {
		return Placement{}, fmt.Errorf("%s: %w", op, err)
	}

	now := s.now()
	parlay := Parlay{
		ID:              s.newID(),
		AccountID:       req.AccountID,
		TotalStake:      total,
		CombinedOdds:    combined,
		PotentialPayout: payout,
		RealizedPayout:  decimal.Zero,
		Legs:            len(sels),
		Pending:         len(sels),
		State:           ParlayActive,
		Result:          ResultPending,
		Version:         1,
		CreatedAt:       now,
	}
	legs := make([]Leg, len(sels))
	for i, sel := range sels {
		legPayout, err := odds.PotentialPayout(sel.Stake, sel.OddValue)
		if err != nil {
			return Placement{}, err
		}
		legs[i] = Leg{
			ID:              s.newID(),
			ParlayID:        parlay.ID,
			AccountID:       req.AccountID,
			OddID:           sel.OddID,
			Position:        i,
			BetType:         sel.BetType,
			Stake:           sel.Stake,
			OddValue:        sel.OddValue,
			PotentialPayout: legPayout,
			State:           LegActive,
			CreatedAt:       now,
		}
		parlay.LegIDs = append(parlay.LegIDs, legs[i].ID)
	}

	entry, err := s.ledger.Debit(ctx, req.AccountID, total, StakeOpKey(parlay.ID))
	if err != nil {
		return Placement{}, s.debitFailed(ctx, parlay, err)
	}

	if err := s.store.CreateParlay(ctx, parlay, legs); err != nil {
		return Placement{}, s.compensate(ctx, parlay, fmt.Errorf("persist parlay %s: %w", parlay.ID, err))
	}

	s.log.Info("parlay placed",
		zap.String("parlay_id", parlay.ID),
		zap.String("account_id", parlay.AccountID),
		zap.Int("legs", parlay.Legs),
		zap.String("total_stake", total.StringFixed(odds.USDScale)),
		zap.String("combined_odds", combined.StringFixed(odds.OddsScale)),
		zap.String("potential_payout", payout.StringFixed(odds.USDScale)))

	s.publish(ctx, notify.Event{
		Type:      notify.ParlayPlaced,
		AccountID: parlay.AccountID,
		EntityID:  parlay.ID,
		State:     string(parlay.State),
		Amount:    total.StringFixed(odds.USDScale),
		Balance:   entry.BalanceAfter.StringFixed(odds.USDScale),
	})

	return Placement{Parlay: parlay, Legs: legs, Balance: entry.BalanceAfter}, nil
}

// debitFailed confere se um débito que falhou por erro de infraestrutura
// chegou a ser gravado. Se chegou, o stake é devolvido.
func (s *Service) debitFailed(ctx context.Context, p Parlay, cause error) error {
	switch errs.KindOf(cause) {
	case errs.KindInsufficientFunds, errs.KindInvalidStake, errs.KindInvalidRequest, errs.KindNotFound:
		return cause
	}
	lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), compensationTimeout)
	defer cancel()

	_, applied, err := s.ledger.Lookup(lctx, StakeOpKey(p.ID))
	if err != nil {
		s.log.Error("stake debit outcome unknown",
			zap.String("parlay_id", p.ID),
			zap.String("account_id", p.AccountID),
			zap.Error(err))
		return errors.Join(cause, fmt.Errorf("lookup stake: %w", err))
	}
	if !applied {
		return cause
	}
	return s.compensate(ctx, p, fmt.Errorf("debit stake of parlay %s: %w", p.ID, cause))
}

// compensate devolve o stake debitado quando a múltipla não pôde ser gravada.
// Usa contexto próprio: o do pedido pode ter expirado justamente por isso.
func (s *Service) compensate(ctx context.Context, p Parlay, cause error) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), compensationTimeout)
	defer cancel()

	if _, err := s.ledger.Credit(ctx, p.AccountID, p.TotalStake, stakeReversalOpKey(p.ID)); err != nil {
		s.log.Error("stake compensation failed",
			zap.String("parlay_id", p.ID),
			zap.String("account_id", p.AccountID),
			zap.String("amount", p.TotalStake.StringFixed(odds.USDScale)),
			zap.Error(err))
		return errors.Join(cause, fmt.Errorf("compensate stake: %w", err))
	}
	s.log.Warn("parlay not persisted, stake returned",
		zap.String("parlay_id", p.ID),
		zap.String("account_id", p.AccountID),
		zap.Error(cause))
	return cause
}

// normalize valida o pedido e arredonda stakes e odds às escalas armazenadas.
func normalize(req PlaceRequest) ([]Selection, decimal.Decimal, error) {
	const op = "wager.place"
	if strings.TrimSpace(req.AccountID) == "" {
		return nil, decimal.Zero, errs.New(op, errs.KindInvalidRequest, "account id required")
	}
	if len(req.Selections) == 0 {
		return nil, decimal.Zero, errs.New(op, errs.KindInvalidRequest, "at least one selection required")
	}

	seen := make(map[string]struct{}, len(req.Selections))
	out := make([]Selection, len(req.Selections))
	total := decimal.Zero
	for i, sel := range req.Selections {
		if strings.TrimSpace(sel.OddID) == "" {
			return nil, decimal.Zero, errs.New(op, errs.KindInvalidOdd, "odd id required")
		}
		if _, dup := seen[sel.OddID]; dup {
			return nil, decimal.Zero, errs.New(op, errs.KindInvalidOdd, "odd "+sel.OddID+" selected twice")
		}
		seen[sel.OddID] = struct{}{}

		sel.Stake = odds.RoundUSD(sel.Stake)
		if err := odds.ValidateStake(sel.Stake); err != nil {
			return nil, decimal.Zero, err
		}
		sel.OddValue = odds.RoundOdds(sel.OddValue)
		if err := odds.ValidateOdd(sel.OddValue); err != nil {
			return nil, decimal.Zero, err
		}
		out[i] = sel
		total = total.Add(sel.Stake)
	}
	return out, total, nil
}
