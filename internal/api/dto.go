package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/radieske/sportsbook-ledger/internal/cryptotx"
	"github.com/radieske/sportsbook-ledger/internal/ledger"
	"github.com/radieske/sportsbook-ledger/internal/odds"
	"github.com/radieske/sportsbook-ledger/internal/wager"
)

// SelectionRequest é uma seleção no corpo de POST /v1/parlays.
// Valores monetários e odds trafegam como string decimal.
type SelectionRequest struct {
	OddID    string          `json:"oddId"`
	Stake    decimal.Decimal `json:"stake"`
	OddValue decimal.Decimal `json:"oddValue"`
	BetType  string          `json:"betType,omitempty"`
}

type PlaceParlayRequest struct {
	AccountID  string             `json:"accountId"`
	Selections []SelectionRequest `json:"selections"`
}

type SettleLegRequest struct {
	Outcome string `json:"outcome"`
}

type CryptoRequest struct {
	AccountID    string          `json:"accountId"`
	Type         string          `json:"type"`
	Asset        string          `json:"asset"`
	CryptoAmount decimal.Decimal `json:"cryptoAmount"`
	WalletID     string          `json:"walletId,omitempty"`
}

// ResolveRequest é o corpo de approve/reject/cancel.
type ResolveRequest struct {
	Reason      string `json:"reason,omitempty"`
	ExternalRef string `json:"externalRef,omitempty"`
}

type LegResponse struct {
	ID              string     `json:"id"`
	OddID           string     `json:"oddId"`
	Position        int        `json:"position"`
	BetType         string     `json:"betType,omitempty"`
	Stake           string     `json:"stake"`
	OddValue        string     `json:"oddValue"`
	PotentialPayout string     `json:"potentialPayout"`
	State           string     `json:"state"`
	SettledAt       *time.Time `json:"settledAt,omitempty"`
}

type ParlayResponse struct {
	ID              string        `json:"id"`
	AccountID       string        `json:"accountId"`
	TotalStake      string        `json:"totalStake"`
	CombinedOdds    string        `json:"combinedOdds"`
	PotentialPayout string        `json:"potentialPayout"`
	RealizedPayout  string        `json:"realizedPayout"`
	Legs            int           `json:"legs"`
	Won             int           `json:"won"`
	Lost            int           `json:"lost"`
	Pending         int           `json:"pending"`
	State           string        `json:"state"`
	Result          string        `json:"result"`
	CreatedAt       time.Time     `json:"createdAt"`
	SettledAt       *time.Time    `json:"settledAt,omitempty"`
	Selections      []LegResponse `json:"selections,omitempty"`
	Balance         string        `json:"balance,omitempty"`
}

type SettlementResponse struct {
	Parlay   ParlayResponse `json:"parlay"`
	Leg      LegResponse    `json:"leg"`
	Credited string         `json:"credited"`
	Balance  string         `json:"balance"`
}

type BalanceResponse struct {
	AccountID string `json:"accountId"`
	Balance   string `json:"balance"`
}

type EntryResponse struct {
	Seq          int64     `json:"seq"`
	Kind         string    `json:"kind"`
	Amount       string    `json:"amount"`
	BalanceAfter string    `json:"balanceAfter"`
	OpKey        string    `json:"opKey"`
	CreatedAt    time.Time `json:"createdAt"`
}

type CryptoResponse struct {
	ID             string     `json:"id"`
	AccountID      string     `json:"accountId"`
	Type           string     `json:"type"`
	Asset          string     `json:"asset"`
	CryptoAmount   string     `json:"cryptoAmount"`
	ConversionRate string     `json:"conversionRate"`
	USDAmount      string     `json:"usdAmount"`
	RateStale      bool       `json:"rateStale"`
	State          string     `json:"state"`
	ResolvedBy     string     `json:"resolvedBy,omitempty"`
	Reason         string     `json:"reason,omitempty"`
	ExternalRef    string     `json:"externalRef,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	ResolvedAt     *time.Time `json:"resolvedAt,omitempty"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func toLeg(l wager.Leg) LegResponse {
	return LegResponse{
		ID:              l.ID,
		OddID:           l.OddID,
		Position:        l.Position,
		BetType:         l.BetType,
		Stake:           l.Stake.StringFixed(odds.USDScale),
		OddValue:        l.OddValue.StringFixed(odds.OddsScale),
		PotentialPayout: l.PotentialPayout.StringFixed(odds.USDScale),
		State:           string(l.State),
		SettledAt:       l.SettledAt,
	}
}

func toParlay(p wager.Parlay, legs []wager.Leg) ParlayResponse {
	out := ParlayResponse{
		ID:              p.ID,
		AccountID:       p.AccountID,
		TotalStake:      p.TotalStake.StringFixed(odds.USDScale),
		CombinedOdds:    p.CombinedOdds.StringFixed(odds.OddsScale),
		PotentialPayout: p.PotentialPayout.StringFixed(odds.USDScale),
		RealizedPayout:  p.RealizedPayout.StringFixed(odds.USDScale),
		Legs:            p.Legs,
		Won:             p.Won,
		Lost:            p.Lost,
		Pending:         p.Pending,
		State:           string(p.State),
		Result:          string(p.Result),
		CreatedAt:       p.CreatedAt,
		SettledAt:       p.SettledAt,
	}
	for _, l := range legs {
		out.Selections = append(out.Selections, toLeg(l))
	}
	return out
}

func toEntry(e ledger.Entry) EntryResponse {
	return EntryResponse{
		Seq:          e.Seq,
		Kind:         string(e.Kind),
		Amount:       e.Amount.StringFixed(odds.USDScale),
		BalanceAfter: e.BalanceAfter.StringFixed(odds.USDScale),
		OpKey:        e.OpKey,
		CreatedAt:    e.CreatedAt,
	}
}

func toCrypto(t cryptotx.Transaction) CryptoResponse {
	return CryptoResponse{
		ID:             t.ID,
		AccountID:      t.AccountID,
		Type:           string(t.Type),
		Asset:          t.Asset,
		CryptoAmount:   t.CryptoAmount.String(),
		ConversionRate: t.ConversionRate.String(),
		USDAmount:      t.USDAmount.StringFixed(odds.USDScale),
		RateStale:      t.RateStale,
		State:          string(t.State),
		ResolvedBy:     t.ResolvedBy,
		Reason:         t.Reason,
		ExternalRef:    t.ExternalRef,
		CreatedAt:      t.CreatedAt,
		ResolvedAt:     t.ResolvedAt,
	}
}
