package jobs

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// CryptoMaintainer é o lado de manutenção do fluxo de transações cripto.
type CryptoMaintainer interface {
	Resnapshot(ctx context.Context) (int, error)
	CancelExpired(ctx context.Context, maxAge time.Duration) (int, error)
}

type CryptoSchedule struct {
	ResnapshotSpec string
	ExpireSpec     string
	PendingTimeout time.Duration
}

// RegisterCrypto agenda a recotação dos pendentes e o cancelamento por prazo.
func RegisterCrypto(r *Runner, m CryptoMaintainer, s CryptoSchedule) error {
	if err := r.Add("crypto_resnapshot", s.ResnapshotSpec, ResnapshotJob(m, r.log)); err != nil {
		return err
	}
	if s.PendingTimeout <= 0 {
		return nil
	}
	return r.Add("crypto_expire", s.ExpireSpec, ExpireJob(m, s.PendingTimeout, r.log))
}

func ResnapshotJob(m CryptoMaintainer, log *zap.Logger) func(context.Context) error {
	return func(ctx context.Context) error {
		n, err := m.Resnapshot(ctx)
		if n > 0 {
			log.Info("pending crypto transactions repriced", zap.Int("count", n))
		}
		return err
	}
}

func ExpireJob(m CryptoMaintainer, maxAge time.Duration, log *zap.Logger) func(context.Context) error {
	return func(ctx context.Context) error {
		n, err := m.CancelExpired(ctx, maxAge)
		if n > 0 {
			log.Info("stale crypto transactions cancelled", zap.Int("count", n), zap.Duration("max_age", maxAge))
		}
		return err
	}
}
