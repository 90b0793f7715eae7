// Package jobs agenda as tarefas de manutenção do fluxo cripto.
package jobs

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Runner envolve um cron com segundos; cada job recebe o contexto base.
type Runner struct {
	cron    *cron.Cron
	log     *zap.Logger
	baseCtx context.Context
}

// New cria o runner. ctx é repassado a cada execução dos jobs.
func New(ctx context.Context, log *zap.Logger) *Runner {
	if log == nil {
		log = zap.NewNop()
	}
	return &Runner{
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
		),
		log:     log,
		baseCtx: ctx,
	}
}

// Add registra job na expressão spec. Spec vazia desativa o job.
func (r *Runner) Add(name, spec string, job func(context.Context) error) error {
	if spec == "" {
		r.log.Info("job disabled", zap.String("job", name))
		return nil
	}
	_, err := r.cron.AddFunc(spec, func() {
		start := time.Now()
		if err := job(r.baseCtx); err != nil {
			r.log.Warn("job failed", zap.String("job", name), zap.Duration("took", time.Since(start)), zap.Error(err))
			return
		}
		r.log.Debug("job done", zap.String("job", name), zap.Duration("took", time.Since(start)))
	})
	return err
}

func (r *Runner) Start() {
	r.log.Info("cron started", zap.Int("jobs", len(r.cron.Entries())))
	r.cron.Start()
}

// Stop espera os jobs em andamento terminarem.
func (r *Runner) Stop() {
	<-r.cron.Stop().Done()
	r.log.Info("cron stopped")
}
