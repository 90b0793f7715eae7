package push

import (
	"context"

	json "github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/radieske/sportsbook-ledger/internal/notify"
)

// StartRedisSubscriber escuta o canal de eventos de conta e repassa ao Hub.
// Cada instância da API assina o canal; o Hub entrega só às contas conectadas nela.
func StartRedisSubscriber(ctx context.Context, r *redis.Client, channel string, hub *Hub, log *zap.Logger) {
	sub := r.Subscribe(ctx, channel)
	go Relay(ctx, sub.Channel(), hub, log, func() { _ = sub.Close() })
}

// Relay decodifica mensagens do pub/sub até ch fechar ou ctx terminar.
func Relay(ctx context.Context, ch <-chan *redis.Message, hub *Hub, log *zap.Logger, done func()) {
	if done != nil {
		defer done()
	}
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			if msg == nil {
				continue
			}
			var e notify.Event
			if err := json.Unmarshal([]byte(msg.Payload), &e); err != nil {
				log.Warn("ws subscriber unmarshal error", zap.Error(err))
				continue
			}
			hub.Broadcast(e)
		}
	}
}
