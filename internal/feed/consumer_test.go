package feed

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/radieske/sportsbook-ledger/internal/ledger"
	"github.com/radieske/sportsbook-ledger/internal/shared/retry"
	"github.com/radieske/sportsbook-ledger/internal/wager"
	"github.com/radieske/sportsbook-ledger/pkg/contracts/events"
	"github.com/radieske/sportsbook-ledger/pkg/contracts/topics"
)

type fakeReader struct {
	mu        sync.Mutex
	msgs      []kafka.Message
	committed []kafka.Message
	cancel    context.CancelFunc
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.msgs) == 0 {
		r.cancel()
		return kafka.Message{}, ctx.Err()
	}
	m := r.msgs[0]
	r.msgs = r.msgs[1:]
	return m, nil
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.committed = append(r.committed, msgs...)
	return nil
}

type fakeWriter struct{ msgs []kafka.Message }

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func msg(t *testing.T, topic string, v any) kafka.Message {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return kafka.Message{Topic: topic, Value: b}
}

var fastRetry = retry.Config{MaxTries: 3, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond}

func TestOddsUpdatesAreUpsertedAndGarbageDeadLettered(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	store := wager.NewMemoryStore()
	reader := &fakeReader{cancel: cancel, msgs: []kafka.Message{
		msg(t, topics.OddsUpdates, events.OddsUpdate{OddID: "odd-1", MarketID: "m-1", Value: "1.90"}),
		{Topic: topics.OddsUpdates, Value: []byte("{not json")},
		msg(t, topics.OddsUpdates, events.OddsUpdate{OddID: "odd-2", MarketID: "m-1", Value: "0.90"}),
	}}
	dlq := &fakeWriter{}
	stages := map[string]int{}
	p := &Processor{
		Log:     zap.NewNop(),
		Reader:  reader,
		Handler: OddsHandler(store),
		DLQ:     dlq,
		Retry:   fastRetry,
		OnError: func(stage string) { stages[stage]++ },
	}

	err := p.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)

	o, err := store.Odd(context.Background(), "odd-1")
	require.NoError(t, err)
	require.Equal(t, "1.900", o.Value.StringFixed(3))
	require.Len(t, reader.committed, 3)
	require.Len(t, dlq.msgs, 2)
	require.Equal(t, 2, stages["permanent"])
	require.Equal(t, topics.OddsUpdates, string(dlq.msgs[0].Headers[0].Value))
}

func TestMarketResultsSettleAndTolerateDuplicates(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bg := context.Background()

	l := ledger.New(ledger.NewMemoryStore())
	_, err := l.Open(bg, "acc-1")
	require.NoError(t, err)
	_, err = l.Credit(bg, "acc-1", decimal.NewFromInt(10), "seed")
	require.NoError(t, err)
	store := wager.NewMemoryStore()
	require.NoError(t, store.UpsertOdd(bg, wager.Odd{ID: "odd-1", Value: decimal.RequireFromString("2.50")}))
	svc := wager.NewService(store, l)
	_, err = svc.Place(bg, wager.PlaceRequest{AccountID: "acc-1", Selections: []wager.Selection{
		{OddID: "odd-1", Stake: decimal.NewFromInt(10), OddValue: decimal.RequireFromString("2.50")},
	}})
	require.NoError(t, err)

	result := events.MarketResult{OddID: "odd-1", Outcome: "won"}
	reader := &fakeReader{cancel: cancel, msgs: []kafka.Message{
		msg(t, topics.MarketResults, result),
		msg(t, topics.MarketResults, result),
		msg(t, topics.MarketResults, events.MarketResult{OddID: "odd-1", Outcome: "MAYBE"}),
	}}
	dlq := &fakeWriter{}
	p := &Processor{Log: zap.NewNop(), Reader: reader, Handler: SettlementHandler(svc), DLQ: dlq, Retry: fastRetry}

	require.ErrorIs(t, p.Run(ctx), context.Canceled)

	bal, err := l.Balance(bg, "acc-1")
	require.NoError(t, err)
	// 10 × 2.5 − 10
	require.Equal(t, "15.00", bal.StringFixed(2))
	require.Len(t, reader.committed, 3)
	require.Len(t, dlq.msgs, 1)
}

func TestTransientErrorsAreRetriedBeforeDeadLetter(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	calls := 0
	reader := &fakeReader{cancel: cancel, msgs: []kafka.Message{{Topic: "t", Value: []byte("{}")}}}
	dlq := &fakeWriter{}
	p := &Processor{
		Log:    zap.NewNop(),
		Reader: reader,
		Handler: func(context.Context, kafka.Message) error {
			calls++
			return errors.New("db down")
		},
		DLQ:   dlq,
		Retry: fastRetry,
	}

	require.ErrorIs(t, p.Run(ctx), context.Canceled)
	require.Equal(t, 3, calls)
	require.Len(t, dlq.msgs, 1)
}

func TestDeadLetterSeverityFollowsTopic(t *testing.T) {
	for _, tc := range []struct {
		critical bool
		level    zapcore.Level
	}{
		{critical: true, level: zapcore.ErrorLevel},
		{critical: false, level: zapcore.WarnLevel},
	} {
		ctx, cancel := context.WithCancel(context.Background())
		core, logs := observer.New(zapcore.DebugLevel)
		reader := &fakeReader{cancel: cancel, msgs: []kafka.Message{{Topic: topics.MarketResults, Value: []byte("{}")}}}
		p := &Processor{
			Log:      zap.New(core),
			Reader:   reader,
			Handler:  func(context.Context, kafka.Message) error { return errors.New("ledger down") },
			DLQ:      &fakeWriter{},
			Retry:    fastRetry,
			Critical: tc.critical,
		}

		require.ErrorIs(t, p.Run(ctx), context.Canceled)
		cancel()
		sent := logs.FilterMessage("message sent to dlq").All()
		require.Len(t, sent, 1)
		require.Equal(t, tc.level, sent[0].Level)
		require.Len(t, reader.committed, 1)
	}
}
