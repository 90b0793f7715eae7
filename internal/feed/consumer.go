// Package feed consome o feed de mercado: atualizações de odds e resultados.
package feed

import (
	"context"
	"errors"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/radieske/sportsbook-ledger/internal/shared/retry"
)

// MessageReader é o subconjunto de *kafka.Reader usado pelo Processor.
// O commit acontece só depois do processamento (at-least-once).
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
}

type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// Handler processa uma mensagem. Erros marcados com Permanent vão direto para a DLQ.
type Handler func(ctx context.Context, m kafka.Message) error

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marca um erro que não adianta repetir.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func isPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// Processor consome um tópico, aplica o Handler e confirma o offset.
// Callbacks de métricas recebem o estágio. Com Critical, mensagem enviada à
// DLQ é logada como erro: o efeito no saldo só sai com replay manual.
type Processor struct {
	Log      *zap.Logger
	Reader   MessageReader
	Handler  Handler
	DLQ      MessageWriter
	Retry    retry.Config
	Critical bool

	OnConsumed func()
	OnHandled  func()
	OnError    func(stage string)
}

// Run processa mensagens até o contexto ser cancelado.
func (p *Processor) Run(ctx context.Context) error {
	for {
		m, err := p.Reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.Log.Warn("kafka fetch failed", zap.Error(err))
			p.fail("read")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(500 * time.Millisecond):
			}
			continue
		}
		if p.OnConsumed != nil {
			p.OnConsumed()
		}

		if err := p.handle(ctx, m); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.deadLetter(ctx, m, err)
		} else if p.OnHandled != nil {
			p.OnHandled()
		}

		if err := p.Reader.CommitMessages(ctx, m); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.Log.Warn("kafka commit failed", zap.Error(err), zap.Int64("offset", m.Offset))
			p.fail("commit")
		}
	}
}

func (p *Processor) handle(ctx context.Context, m kafka.Message) error {
	_, err := retry.Do(ctx, p.Retry, func(err error) bool { return !isPermanent(err) }, func() (struct{}, error) {
		return struct{}{}, p.Handler(ctx, m)
	})
	return err
}

func (p *Processor) deadLetter(ctx context.Context, m kafka.Message, cause error) {
	stage := "handle"
	if isPermanent(cause) {
		stage = "permanent"
	}
	p.fail(stage)
	logf := p.Log.Warn
	if p.Critical {
		logf = p.Log.Error
	}
	logf("message sent to dlq",
		zap.String("topic", m.Topic),
		zap.Int("partition", m.Partition),
		zap.Int64("offset", m.Offset),
		zap.Error(cause))
	if p.DLQ == nil {
		return
	}
	dl := kafka.Message{
		Key:   m.Key,
		Value: m.Value,
		Time:  time.Now(),
		Headers: []kafka.Header{
			{Key: "source_topic", Value: []byte(m.Topic)},
			{Key: "error", Value: []byte(cause.Error())},
		},
	}
	if err := p.DLQ.WriteMessages(ctx, dl); err != nil {
		p.Log.Error("dlq write failed", zap.Error(err))
		p.fail("dlq")
	}
}

func (p *Processor) fail(stage string) {
	if p.OnError != nil {
		p.OnError(stage)
	}
}
