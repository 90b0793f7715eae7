package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// EntryKind indica a direção do lançamento.
type EntryKind string

const (
	Debit  EntryKind = "DEBIT"
	Credit EntryKind = "CREDIT"
)

// Account é o saldo gastável de um usuário. Nunca negativo.
type Account struct {
	ID        string
	Balance   decimal.Decimal
	Seq       int64 // último número de sequência aplicado
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Entry é uma linha do diário de auditoria.
type Entry struct {
	AccountID    string
	Seq          int64
	Kind         EntryKind
	Amount       decimal.Decimal
	BalanceAfter decimal.Decimal
	OpKey        string
	CreatedAt    time.Time

	// Replayed indica que OpKey já tinha sido aplicada e nada mudou.
	Replayed bool
}

// Mutation é o pedido de débito/crédito entregue ao Store.
type Mutation struct {
	AccountID string
	Kind      EntryKind
	Amount    decimal.Decimal
	OpKey     string
}

func (m Mutation) delta() decimal.Decimal {
	if m.Kind == Debit {
		return m.Amount.Neg()
	}
	return m.Amount
}

// sameAs diz se uma entrada existente corresponde ao mesmo pedido.
func (m Mutation) sameAs(e Entry) bool {
	return e.AccountID == m.AccountID && e.Kind == m.Kind && e.Amount.Equal(m.Amount)
}

// ErrRetry é retornado pelo Store quando uma corrida de concorrência pode ser
// resolvida repetindo a operação.
var ErrRetry = errors.New("ledger: retryable conflict")

// Store persiste contas e lançamentos. Apply deve ser atômico: checagem de
// idempotência, atualização condicional do saldo e inserção no diário na mesma unidade.
//
// Erros esperados: errs.ErrNotFound (conta), errs.ErrInsufficientFunds (débito
// levaria o saldo abaixo de zero), ErrRetry.
type Store interface {
	Open(ctx context.Context, accountID string) (Account, error)
	Account(ctx context.Context, accountID string) (Account, error)
	Apply(ctx context.Context, m Mutation) (Entry, error)
	Entries(ctx context.Context, accountID string, limit int) ([]Entry, error)
	// Lookup busca o lançamento de uma chave de operação.
	Lookup(ctx context.Context, opKey string) (Entry, bool, error)
}
