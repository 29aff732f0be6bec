package job

import (
	"context"
	"time"

	"coffeeshop/internal/config"
	"coffeeshop/internal/service"

	"go.uber.org/zap"
)

// ReconcileJob looks for tokens marked redeemed that never produced a
// deposit entry. It only reports them; an operator settles each one.
type ReconcileJob struct {
	qr        *service.QRService
	log       *zap.Logger
	stopCh    chan struct{}
	interval  time.Duration
	batchSize int
}

func NewReconcileJob(qr *service.QRService, cfg *config.Config, log *zap.Logger) *ReconcileJob {
	interval := time.Duration(cfg.Business.ReconcileIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &ReconcileJob{
		qr:        qr,
		log:       log.Named("reconcile"),
		stopCh:    make(chan struct{}),
		interval:  interval,
		batchSize: 100,
	}
}

func (j *ReconcileJob) Start(ctx context.Context) {
	j.log.Info("reconcile job started", zap.Duration("interval", j.interval))

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			j.log.Info("context done, reconcile job exiting")
			return
		case <-j.stopCh:
			j.log.Info("reconcile job stopped")
			return
		case <-ticker.C:
			j.RunOnce(ctx)
		}
	}
}

func (j *ReconcileJob) Stop() {
	close(j.stopCh)
}

// RunOnce returns the number of unreconciled tokens found in this pass.
func (j *ReconcileJob) RunOnce(ctx context.Context) int {
	tokens, err := j.qr.FindUnreconciled(ctx, j.batchSize)
	if err != nil {
		j.log.Error("scan unreconciled qr tokens", zap.Error(err))
		return 0
	}
	if len(tokens) > 0 {
		j.log.Warn("qr tokens need manual reconciliation", zap.Int("count", len(tokens)))
	}
	return len(tokens)
}
