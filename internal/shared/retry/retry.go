package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Config define o orçamento de tentativas para conflitos de concorrência.
type Config struct {
	MaxTries        uint
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// Default é usado quando o chamador não configura nada.
var Default = Config{MaxTries: 5, InitialInterval: 5 * time.Millisecond, MaxInterval: 200 * time.Millisecond}

func (c Config) withDefaults() Config {
	if c.MaxTries == 0 {
		c.MaxTries = Default.MaxTries
	}
	if c.InitialInterval <= 0 {
		c.InitialInterval = Default.InitialInterval
	}
	if c.MaxInterval <= 0 {
		c.MaxInterval = Default.MaxInterval
	}
	return c
}

// Do executa op repetindo apenas enquanto retryable(err) for verdadeiro.
// Esgotadas as tentativas, o último erro é retornado.
func Do[T any](ctx context.Context, cfg Config, retryable func(error) bool, op func() (T, error)) (T, error) {
	cfg = cfg.withDefaults()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.InitialInterval
	b.MaxInterval = cfg.MaxInterval

	return backoff.Retry(ctx, func() (T, error) {
		v, err := op()
		if err != nil && !retryable(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(cfg.MaxTries))
}
