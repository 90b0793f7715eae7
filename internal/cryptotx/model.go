// Package cryptotx implementa o fluxo de depósitos e saques em cripto:
// o pedido nasce PENDIENTE e só mexe no saldo quando um administrador aprova.
package cryptotx

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/radieske/sportsbook-ledger/internal/errs"
)

type Type string

const (
	Deposit    Type = "DEPOSITO"
	Withdrawal Type = "RETIRO"
)

func (t Type) Valid() bool { return t == Deposit || t == Withdrawal }

type State string

const (
	Pending   State = "PENDIENTE"
	Approved  State = "APROBADO"
	Rejected  State = "RECHAZADO"
	Cancelled State = "CANCELADO"
)

func (s State) Terminal() bool {
	switch s {
	case Approved, Rejected, Cancelled:
		return true
	default:
		return false
	}
}

// Action é o gatilho de uma transição.
type Action string

const (
	ActionApprove Action = "approve"
	ActionReject  Action = "reject"
	ActionCancel  Action = "cancel"
)

// Transition aplica a ação ao estado. Estados terminais são finais.
func (s State) Transition(a Action) (State, error) {
	const op = "cryptotx.transition"
	switch s {
	case Pending:
		switch a {
		case ActionApprove:
			return Approved, nil
		case ActionReject:
			return Rejected, nil
		case ActionCancel:
			return Cancelled, nil
		}
		return s, errs.New(op, errs.KindInvalidRequest, "unknown action "+string(a))
	case Approved, Rejected, Cancelled:
		return s, errs.New(op, errs.KindAlreadyTerminal, "transaction already "+string(s))
	}
	return s, errs.New(op, errs.KindInvalidRequest, "unknown state "+string(s))
}

// Transaction é um pedido de depósito ou saque. ApprovalAttempt identifica a
// tentativa de aprovação corrente; cada tentativa tem chaves próprias no ledger.
type Transaction struct {
	ID              string
	AccountID       string
	Type            Type
	Asset           string
	CryptoAmount    decimal.Decimal
	ConversionRate  decimal.Decimal
	USDAmount       decimal.Decimal
	RateStale       bool
	RateSource      string
	State           State
	WalletID        string
	ResolvedBy      string
	Reason          string
	ExternalRef     string
	ApprovalAttempt string
	Version         int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
	ResolvedAt      *time.Time
}

// Actor é quem executa a ação. A autenticação acontece antes do núcleo.
type Actor struct {
	ID     string
	Admin  bool
	System bool
}

// SystemActor é usado pelos jobs de manutenção.
var SystemActor = Actor{ID: "system", System: true}

// Store persiste transações.
type Store interface {
	// Create grava a transação. Para RETIRO, a contagem de saques pendentes da
	// conta e a inserção são atômicas; com maxPending ou mais, retorna throttle_exceeded.
	Create(ctx context.Context, tx Transaction, maxPending int) error
	Get(ctx context.Context, id string) (Transaction, error)
	// Update grava tx se a versão persistida ainda for expectedVersion.
	Update(ctx context.Context, tx Transaction, expectedVersion int64) error
	// ListPending lista PENDIENTE criadas antes de createdBefore (zero = todas).
	ListPending(ctx context.Context, createdBefore time.Time) ([]Transaction, error)
}

var ErrVersionConflict = errors.New("cryptotx: version conflict")
