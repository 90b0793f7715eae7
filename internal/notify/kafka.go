package notify

import (
	"context"
	"time"

	json "github.com/goccy/go-json"
	"github.com/segmentio/kafka-go"
)

// MessageWriter é o subconjunto de *kafka.Writer usado aqui.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// KafkaPublisher publica eventos no tópico de resultados.
// A chave é o AccountID para manter a ordem por conta na partição.
type KafkaPublisher struct {
	Writer MessageWriter
}

func NewKafkaPublisher(w MessageWriter) *KafkaPublisher {
	return &KafkaPublisher{Writer: w}
}

func (p *KafkaPublisher) Publish(ctx context.Context, e Event) error {
	if e.Ts.IsZero() {
		e.Ts = time.Now().UTC()
	}
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return p.Writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(e.AccountID),
		Value: b,
		Time:  e.Ts,
	})
}
