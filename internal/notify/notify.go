// Package notify entrega eventos de liquidação e aprovação aos clientes.
// A entrega é fire-and-forget: falhas são logadas e nunca desfazem a operação.
package notify

import (
	"context"
	"errors"
	"time"
)

// Tipos de evento publicados pelo núcleo.
const (
	ParlayPlaced    = "parlay_placed"
	LegSettled      = "leg_settled"
	ParlaySettled   = "parlay_settled"
	CryptoRequested = "crypto_requested"
	CryptoResolved  = "crypto_resolved"
)

// Event é o payload entregue ao colaborador de push.
type Event struct {
	Type      string    `json:"type"`
	AccountID string    `json:"accountId"`
	EntityID  string    `json:"entityId"`
	State     string    `json:"state"`
	Result    string    `json:"result,omitempty"`
	Amount    string    `json:"amount,omitempty"`
	Balance   string    `json:"balance,omitempty"`
	Ts        time.Time `json:"ts"`
}

// Publisher recebe eventos de saída.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Nop descarta todos os eventos.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

// Multi replica o evento para todos os publishers e junta os erros.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, e Event) error {
	var errs []error
	for _, p := range m {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
