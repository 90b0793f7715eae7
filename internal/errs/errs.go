// Package errs define os tipos de erro do núcleo de apostas e ledger.
// Toda falha de negócio é um *E com um Kind; errors.Is compara por Kind.
package errs

import (
	"errors"
	"strconv"
	"strings"
)

// Kind classifica a falha de forma independente da operação.
type Kind string

const (
	KindUnknown           Kind = "unknown"
	KindInsufficientFunds Kind = "insufficient_funds"
	KindInvalidStake      Kind = "invalid_stake"
	KindInvalidOdd        Kind = "invalid_odd"
	KindAlreadyTerminal   Kind = "already_terminal"
	KindUnauthorized      Kind = "unauthorized"
	KindThrottleExceeded  Kind = "throttle_exceeded"
	KindStaleRate         Kind = "stale_rate"
	KindNotFound          Kind = "not_found"
	KindInvalidRequest    Kind = "invalid_request"
	// KindConflict indica conflito de concorrência que esgotou as tentativas.
	KindConflict Kind = "conflict"
)

// Sentinelas para uso com errors.Is.
var (
	ErrInsufficientFunds = &E{Kind: KindInsufficientFunds}
	ErrInvalidStake      = &E{Kind: KindInvalidStake}
	ErrInvalidOdd        = &E{Kind: KindInvalidOdd}
	ErrAlreadyTerminal   = &E{Kind: KindAlreadyTerminal}
	ErrUnauthorized      = &E{Kind: KindUnauthorized}
	ErrThrottleExceeded  = &E{Kind: KindThrottleExceeded}
	ErrStaleRate         = &E{Kind: KindStaleRate}
	ErrNotFound          = &E{Kind: KindNotFound}
	ErrInvalidRequest    = &E{Kind: KindInvalidRequest}
	ErrConflict          = &E{Kind: KindConflict}
)

// E é o envelope de erro retornado pelos serviços.
type E struct {
	Op      string
	Kind    Kind
	Message string

	cause error
}

// New cria um erro para a operação op.
func New(op string, kind Kind, message string) *E {
	return &E{Op: strings.TrimSpace(op), Kind: kind, Message: strings.TrimSpace(message)}
}

// Wrap cria um erro com causa associada.
func Wrap(op string, kind Kind, cause error) *E {
	e := New(op, kind, "")
	e.cause = cause
	return e
}

func (e *E) Error() string {
	if e == nil {
		return "<nil>"
	}
	var parts []string
	if e.Op != "" {
		parts = append(parts, e.Op)
	}
	kind := string(e.Kind)
	if kind == "" {
		kind = string(KindUnknown)
	}
	parts = append(parts, "kind="+kind)
	if e.Message != "" {
		parts = append(parts, "message="+strconv.Quote(e.Message))
	}
	if e.cause != nil {
		parts = append(parts, "cause="+strconv.Quote(e.cause.Error()))
	}
	return strings.Join(parts, " ")
}

func (e *E) Unwrap() error { return e.cause }

// Is casa com qualquer *E de mesmo Kind.
func (e *E) Is(target error) bool {
	t, ok := target.(*E)
	if !ok || e == nil || t == nil {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf retorna o Kind do primeiro *E na cadeia, ou KindUnknown.
func KindOf(err error) Kind {
	var e *E
	if errors.As(err, &e) && e.Kind != "" {
		return e.Kind
	}
	return KindUnknown
}
