package feed

import (
	"context"
	"errors"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"

	"github.com/radieske/sportsbook-ledger/internal/errs"
	"github.com/radieske/sportsbook-ledger/internal/odds"
	"github.com/radieske/sportsbook-ledger/internal/wager"
	"github.com/radieske/sportsbook-ledger/pkg/contracts/events"
)

// Settler liquida todas as seleções de uma odd.
type Settler interface {
	SettleOdd(ctx context.Context, r wager.OutcomeReport) ([]wager.Settlement, error)
}

// Catalog recebe atualizações de odds.
type Catalog interface {
	UpsertOdd(ctx context.Context, o wager.Odd) error
}

// SettlementHandler trata mensagens de market_results.
func SettlementHandler(s Settler) Handler {
	return func(ctx context.Context, m kafka.Message) error {
		var ev events.MarketResult
		if err := json.Unmarshal(m.Value, &ev); err != nil {
			return Permanent(err)
		}
		_, err := s.SettleOdd(ctx, wager.OutcomeReport{
			OddID:   strings.TrimSpace(ev.OddID),
			Outcome: wager.LegState(strings.ToUpper(strings.TrimSpace(ev.Outcome))),
		})
		return classify(err)
	}
}

// OddsHandler trata mensagens de odds_updates.
func OddsHandler(c Catalog) Handler {
	return func(ctx context.Context, m kafka.Message) error {
		var ev events.OddsUpdate
		if err := json.Unmarshal(m.Value, &ev); err != nil {
			return Permanent(err)
		}
		v, err := decimal.NewFromString(strings.TrimSpace(ev.Value))
		if err != nil {
			return Permanent(err)
		}
		v = odds.RoundOdds(v)
		if err := odds.ValidateOdd(v); err != nil {
			return Permanent(err)
		}
		if strings.TrimSpace(ev.OddID) == "" {
			return Permanent(errors.New("odd_id required"))
		}
		return c.UpsertOdd(ctx, wager.Odd{ID: ev.OddID, MarketID: ev.MarketID, Value: v})
	}
}

// classify separa erros de negócio (não adianta repetir) de falhas transitórias.
func classify(err error) error {
	switch errs.KindOf(err) {
	case errs.KindInvalidRequest, errs.KindNotFound, errs.KindInvalidOdd:
		return Permanent(err)
	}
	return err
}
