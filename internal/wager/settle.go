package wager

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"

	"github.com/radieske/sportsbook-ledger/internal/errs"
	"github.com/radieske/sportsbook-ledger/internal/notify"
	"github.com/radieske/sportsbook-ledger/internal/odds"
	"github.com/radieske/sportsbook-ledger/internal/shared/retry"
)

// OutcomeReport é o resultado de um mercado para uma odd, vindo do feed.
type OutcomeReport struct {
	OddID   string   `json:"oddId"`
	Outcome LegState `json:"outcome"`
}

// Settlement é o estado após liquidar uma seleção.
type Settlement struct {
	Parlay   Parlay
	Leg      Leg
	Balance  decimal.Decimal
	Credited decimal.Decimal
}

func refundOpKey(legID string) string { return "refund:" + legID }

// PayoutOpKey é a chave do crédito de prêmio da múltipla.
func PayoutOpKey(parlayID string) string { return "payout:" + parlayID }

// SettleLeg aplica o resultado informado à seleção e recalcula a múltipla.
// Um relatório repetido para seleção já encerrada reemite os créditos devidos
// (deduplicados pelo ledger) e retorna already_terminal.
func (s *Service) SettleLeg(ctx context.Context, legID string, outcome LegState) (Settlement, error) {
	const op = "wager.settle_leg"
	leg, err := s.store.Leg(ctx, legID)
	if err != nil {
		return Settlement{}, err
	}

	res, err := retry.Do(ctx, s.retry, func(err error) bool { return errors.Is(err, ErrVersionConflict) },
		func() (Settlement, error) { return s.settleOnce(ctx, leg.ParlayID, legID, outcome) })
	if err != nil {
		s.metrics.Settlement(string(outcome), string(errs.KindOf(err)))
		if errors.Is(err, ErrVersionConflict) {
			return Settlement{}, errs.Wrap(op, errs.KindConflict, err)
		}
		return res, err
	}
	s.metrics.Settlement(string(res.Leg.State), "ok")

	e := notify.Event{
		Type:      notify.LegSettled,
		AccountID: res.Parlay.AccountID,
		EntityID:  res.Parlay.ID,
		State:     string(res.Parlay.State),
		Result:    string(res.Parlay.Result),
		Balance:   res.Balance.StringFixed(odds.USDScale),
	}
	if res.Parlay.State == ParlaySettled {
		e.Type = notify.ParlaySettled
		e.Amount = res.Parlay.RealizedPayout.StringFixed(odds.USDScale)
	}
	s.publish(ctx, e)
	return res, nil
}

func (s *Service) settleOnce(ctx context.Context, parlayID, legID string, outcome LegState) (Settlement, error) {
	const op = "wager.settle_leg"
	p, legs, err := s.store.Parlay(ctx, parlayID)
	if err != nil {
		return Settlement{}, err
	}
	idx := -1
	for i := range legs {
		if legs[i].ID == legID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return Settlement{}, errs.New(op, errs.KindNotFound, "leg "+legID+" not in parlay "+parlayID)
	}
	leg := legs[idx]

	if leg.State.Terminal() {
		if err := s.repairCredits(ctx, p, legs); err != nil {
			return Settlement{Parlay: p, Leg: leg}, err
		}
		return Settlement{Parlay: p, Leg: leg}, errs.New(op, errs.KindAlreadyTerminal,
			"leg "+legID+" already "+string(leg.State))
	}

	next, err := leg.State.Transition(outcome)
	if err != nil {
		return Settlement{}, err
	}
	if next == leg.State {
		bal, err := s.ledger.Balance(ctx, p.AccountID)
		if err != nil {
			return Settlement{}, err
		}
		return Settlement{Parlay: p, Leg: leg, Balance: bal}, nil
	}

	now := s.now()
	leg.State = next
	if next.Terminal() {
		leg.SettledAt = &now
	}
	legs[idx] = leg

	updated, err := aggregate(p, legs, leg)
	if err != nil {
		return Settlement{}, err
	}
	if updated.State == ParlaySettled {
		updated.SettledAt = &now
	}
	updated.Version = p.Version + 1

	if err := s.store.SaveSettlement(ctx, updated, leg, p.Version); err != nil {
		return Settlement{}, err
	}

	s.log.Info("leg settled",
		zap.String("leg_id", leg.ID),
		zap.String("parlay_id", updated.ID),
		zap.String("leg_state", string(leg.State)),
		zap.String("parlay_state", string(updated.State)),
		zap.String("result", string(updated.Result)),
		zap.Int("pending", updated.Pending))

	credited, balance, err := s.creditOwed(ctx, updated, leg)
	if err != nil {
		return Settlement{Parlay: updated, Leg: leg}, fmt.Errorf("credit after settlement of %s: %w", leg.ID, err)
	}
	return Settlement{Parlay: updated, Leg: leg, Balance: balance, Credited: credited}, nil
}

// aggregate recalcula contadores, stake, odd combinada e resultado após
// a seleção changed mudar de estado. legs já contém changed atualizada.
func aggregate(p Parlay, legs []Leg, changed Leg) (Parlay, error) {
	switch changed.State {
	case LegWon:
		p.Pending--
		p.Won++
	case LegLost:
		p.Pending--
		p.Lost++
	case LegCancelled:
		p.Pending--
		p.Legs--
		p.TotalStake = p.TotalStake.Sub(changed.Stake)
	case LegActive, LegPending:
	}

	if changed.State == LegCancelled {
		var values []decimal.Decimal
		for _, l := range legs {
			if l.State != LegCancelled {
				values = append(values, l.OddValue)
			}
		}
		if len(values) == 0 {
			p.CombinedOdds = decimal.NewFromInt(1)
			p.PotentialPayout = decimal.Zero
		} else {
			combined, err := odds.Combine(values)
			if err != nil {
				return Parlay{}, err
			}
			payout, err := odds.PotentialPayout(p.TotalStake, combined)
			if err != nil {
				return Parlay{}, err
			}
			p.CombinedOdds, p.PotentialPayout = combined, payout
		}
	}

	target := ParlayActive
	switch {
	case p.Pending == 0:
		target = ParlaySettled
	case anyPending(legs):
		target = ParlayPending
	}
	state, err := p.State.Transition(target)
	if err != nil {
		return Parlay{}, err
	}
	p.State = state

	if p.State == ParlaySettled {
		switch {
		case p.Lost > 0:
			p.Result = ResultLost
		case p.Won > 0 && p.Won == p.Legs:
			p.Result = ResultWon
			p.RealizedPayout = p.PotentialPayout
		default:
			p.Result = ResultCancelled
		}
	}
	return p, nil
}

func anyPending(legs []Leg) bool {
	for _, l := range legs {
		if l.State == LegPending {
			return true
		}
	}
	return false
}

// creditOwed aplica o reembolso da seleção anulada e o prêmio da múltipla ganha.
func (s *Service) creditOwed(ctx context.Context, p Parlay, leg Leg) (decimal.Decimal, decimal.Decimal, error) {
	credited := decimal.Zero
	if leg.State == LegCancelled {
		if _, err := s.ledger.Credit(ctx, p.AccountID, leg.Stake, refundOpKey(leg.ID)); err != nil {
			return credited, decimal.Zero, err
		}
		credited = credited.Add(leg.Stake)
	}
	if p.State == ParlaySettled && p.Result == ResultWon && p.RealizedPayout.IsPositive() {
		if _, err := s.ledger.Credit(ctx, p.AccountID, p.RealizedPayout, PayoutOpKey(p.ID)); err != nil {
			return credited, decimal.Zero, err
		}
		credited = credited.Add(p.RealizedPayout)
	}
	balance, err := s.ledger.Balance(ctx, p.AccountID)
	return credited, balance, err
}

// repairCredits reemite todos os créditos que o estado persistido já deve.
func (s *Service) repairCredits(ctx context.Context, p Parlay, legs []Leg) error {
	for _, l := range legs {
		if l.State != LegCancelled {
			continue
		}
		if _, err := s.ledger.Credit(ctx, p.AccountID, l.Stake, refundOpKey(l.ID)); err != nil {
			return fmt.Errorf("repair refund %s: %w", l.ID, err)
		}
	}
	if p.State == ParlaySettled && p.Result == ResultWon && p.RealizedPayout.IsPositive() {
		if _, err := s.ledger.Credit(ctx, p.AccountID, p.RealizedPayout, PayoutOpKey(p.ID)); err != nil {
			return fmt.Errorf("repair payout %s: %w", p.ID, err)
		}
	}
	return nil
}

// SettleOdd liquida todas as seleções da odd reportada. Múltiplas distintas
// rodam em paralelo num pool limitado; seleções já encerradas só passam pelo
// reparo de créditos.
func (s *Service) SettleOdd(ctx context.Context, r OutcomeReport) ([]Settlement, error) {
	const op = "wager.settle_odd"
	if r.OddID == "" {
		return nil, errs.New(op, errs.KindInvalidRequest, "odd id required")
	}
	switch r.Outcome {
	case LegWon, LegLost, LegCancelled, LegPending, LegActive:
	default:
		return nil, errs.New(op, errs.KindInvalidRequest, "unknown outcome "+string(r.Outcome))
	}

	legs, err := s.store.LegsByOdd(ctx, r.OddID)
	if err != nil {
		return nil, err
	}

	p := pool.NewWithResults[Settlement]().WithContext(ctx).WithMaxGoroutines(s.settleWorkers)
	for _, l := range legs {
		p.Go(func(ctx context.Context) (Settlement, error) {
			res, err := s.SettleLeg(ctx, l.ID, r.Outcome)
			if errors.Is(err, errs.ErrAlreadyTerminal) {
				return Settlement{}, nil
			}
			return res, err
		})
	}
	results, err := p.Wait()

	out := results[:0]
	for _, res := range results {
		if res.Leg.ID != "" {
			out = append(out, res)
		}
	}
	s.log.Info("odd settled",
		zap.String("odd_id", r.OddID),
		zap.String("outcome", string(r.Outcome)),
		zap.Int("legs", len(legs)),
		zap.Int("applied", len(out)),
		zap.Error(err))
	return out, err
}
