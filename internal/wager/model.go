// Package wager coloca múltiplas (parlays) e liquida suas seleções.
package wager

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/radieske/sportsbook-ledger/internal/errs"
)

// LegState é o estado de uma seleção.
type LegState string

const (
	LegActive    LegState = "ACTIVE"
	LegWon       LegState = "WON"
	LegLost      LegState = "LOST"
	LegCancelled LegState = "CANCELLED"
	LegPending   LegState = "PENDING"
)

// Terminal indica que a seleção não muda mais.
func (s LegState) Terminal() bool {
	switch s {
	case LegWon, LegLost, LegCancelled:
		return true
	default:
		return false
	}
}

// Transition valida o movimento s → to. Repetir o estado atual em uma seleção
// aberta é aceito e não muda nada.
func (s LegState) Transition(to LegState) (LegState, error) {
	const op = "wager.leg_transition"
	switch s {
	case LegActive:
		switch to {
		case LegActive, LegWon, LegLost, LegCancelled, LegPending:
			return to, nil
		}
	case LegPending:
		switch to {
		case LegPending, LegWon, LegLost, LegCancelled, LegActive:
			return to, nil
		}
	case LegWon, LegLost, LegCancelled:
		return s, errs.New(op, errs.KindAlreadyTerminal, "leg already "+string(s))
	}
	return s, errs.New(op, errs.KindInvalidRequest, "illegal leg transition "+string(s)+" -> "+string(to))
}

// ParlayState é o estado agregado da múltipla.
type ParlayState string

const (
	ParlayActive    ParlayState = "ACTIVO"
	ParlaySettled   ParlayState = "LIQUIDADO"
	ParlayCancelled ParlayState = "CANCELADO"
	ParlayPending   ParlayState = "PENDIENTE"
)

func (s ParlayState) Terminal() bool {
	switch s {
	case ParlaySettled, ParlayCancelled:
		return true
	default:
		return false
	}
}

// Transition valida o movimento s → to do agregado.
// ACTIVO e PENDIENTE alternam entre si (mercado suspenso) e fecham em LIQUIDADO.
// CANCELADO só existe para registros anulados fora do motor de liquidação.
func (s ParlayState) Transition(to ParlayState) (ParlayState, error) {
	const op = "wager.parlay_transition"
	switch s {
	case ParlayActive, ParlayPending:
		switch to {
		case ParlayActive, ParlayPending, ParlaySettled:
			return to, nil
		}
	case ParlaySettled, ParlayCancelled:
		return s, errs.New(op, errs.KindAlreadyTerminal, "parlay already "+string(s))
	}
	return s, errs.New(op, errs.KindInvalidRequest, "illegal parlay transition "+string(s)+" -> "+string(to))
}

// Result é o resultado final da múltipla.
type Result string

const (
	ResultWon       Result = "GANADO"
	ResultLost      Result = "PERDIDO"
	ResultCancelled Result = "CANCELADO"
	ResultPending   Result = "PENDIENTE"
)

// Odd é uma cotação do catálogo com a exposição acumulada.
type Odd struct {
	ID          string
	MarketID    string
	Value       decimal.Decimal
	Bets        int64
	TotalStaked decimal.Decimal
	UpdatedAt   time.Time
}

// Leg é uma seleção dentro da múltipla.
type Leg struct {
	ID              string
	ParlayID        string
	AccountID       string
	OddID           string
	Position        int
	BetType         string
	Stake           decimal.Decimal
	OddValue        decimal.Decimal
	PotentialPayout decimal.Decimal
	State           LegState
	CreatedAt       time.Time
	SettledAt       *time.Time
}

// Parlay é o agregado. Legs, Won, Lost e Pending contam apenas seleções
// que continuam na múltipla: Legs == Won + Lost + Pending.
type Parlay struct {
	ID              string
	AccountID       string
	TotalStake      decimal.Decimal
	CombinedOdds    decimal.Decimal
	PotentialPayout decimal.Decimal
	RealizedPayout  decimal.Decimal
	Legs            int
	Won             int
	Lost            int
	Pending         int
	State           ParlayState
	Result          Result
	Version         int64
	CreatedAt       time.Time
	SettledAt       *time.Time
	LegIDs          []string
}

// Store persiste catálogo, múltiplas e seleções.
type Store interface {
	UpsertOdd(ctx context.Context, o Odd) error
	Odd(ctx context.Context, id string) (Odd, error)
	// CreateParlay grava múltipla, seleções e exposição das odds numa só transação.
	CreateParlay(ctx context.Context, p Parlay, legs []Leg) error
	Parlay(ctx context.Context, id string) (Parlay, []Leg, error)
	Leg(ctx context.Context, id string) (Leg, error)
	LegsByOdd(ctx context.Context, oddID string) ([]Leg, error)
	// SaveSettlement grava o agregado e a seleção se a versão ainda for expectedVersion.
	SaveSettlement(ctx context.Context, p Parlay, leg Leg, expectedVersion int64) error
}

// ErrVersionConflict indica que outra liquidação gravou a múltipla antes.
var ErrVersionConflict = errors.New("wager: parlay version conflict")
