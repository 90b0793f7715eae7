package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

type recorder struct{ events []Event }

func (r *recorder) Publish(_ context.Context, e Event) error {
	r.events = append(r.events, e)
	return nil
}

func TestKafkaPublisherKeysByAccount(t *testing.T) {
	w := &fakeWriter{}
	p := NewKafkaPublisher(w)

	err := p.Publish(context.Background(), Event{Type: ParlaySettled, AccountID: "acc-1", EntityID: "p-1", State: "LIQUIDADO", Result: "GANADO"})
	require.NoError(t, err)
	require.Len(t, w.msgs, 1)
	require.Equal(t, "acc-1", string(w.msgs[0].Key))

	var got Event
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &got))
	require.Equal(t, "GANADO", got.Result)
	require.False(t, got.Ts.IsZero())
}

func TestMultiJoinsErrorsAndKeepsDelivering(t *testing.T) {
	rec := &recorder{}
	failing := NewKafkaPublisher(&fakeWriter{err: errors.New("broker down")})
	m := Multi{failing, nil, rec, Nop{}}

	err := m.Publish(context.Background(), Event{Type: CryptoResolved, AccountID: "acc-1", Ts: time.Now()})
	require.Error(t, err)
	require.Len(t, rec.events, 1)
}
