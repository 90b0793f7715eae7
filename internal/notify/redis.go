package notify

import (
	"context"
	"time"

	json "github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
)

// ChannelAccountEvents é o canal Pub/Sub lido pelo relay de WebSocket.
const ChannelAccountEvents = "account_events_broadcast"

// RedisBroadcaster publica eventos no Redis Pub/Sub.
type RedisBroadcaster struct {
	r       *redis.Client
	channel string
}

func NewRedisBroadcaster(r *redis.Client, channel string) *RedisBroadcaster {
	if channel == "" {
		channel = ChannelAccountEvents
	}
	return &RedisBroadcaster{r: r, channel: channel}
}

func (b *RedisBroadcaster) Publish(ctx context.Context, e Event) error {
	if e.Ts.IsZero() {
		e.Ts = time.Now().UTC()
	}
	payload, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return b.r.Publish(ctx, b.channel, payload).Err()
}
