package job

import (
	"context"
	"time"

	"coffeeshop/internal/config"
	"coffeeshop/internal/service"

	"go.uber.org/zap"
)

// QRExpiryJob flips active tokens past their expiry to expired. Redeem
// already refuses them; the sweep keeps the table honest for audit.
type QRExpiryJob struct {
	qr        *service.QRService
	log       *zap.Logger
	stopCh    chan struct{}
	interval  time.Duration
	batchSize int
}

func NewQRExpiryJob(qr *service.QRService, cfg *config.Config, log *zap.Logger) *QRExpiryJob {
	interval := time.Duration(cfg.Business.QRSweepIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &QRExpiryJob{
		qr:        qr,
		log:       log.Named("qr_expiry"),
		stopCh:    make(chan struct{}),
		interval:  interval,
		batchSize: 100,
	}
}

func (j *QRExpiryJob) Start(ctx context.Context) {
	j.log.Info("qr expiry job started", zap.Duration("interval", j.interval))

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			j.log.Info("context done, qr expiry job exiting")
			return
		case <-j.stopCh:
			j.log.Info("qr expiry job stopped")
			return
		case <-ticker.C:
			j.RunOnce(ctx)
		}
	}
}

func (j *QRExpiryJob) Stop() {
	close(j.stopCh)
}

// RunOnce expires one batch and returns how many tokens changed state.
func (j *QRExpiryJob) RunOnce(ctx context.Context) int64 {
	n, err := j.qr.ExpireStale(ctx, j.batchSize)
	if err != nil {
		j.log.Error("expire stale qr tokens", zap.Error(err))
		return 0
	}
	if n > 0 {
		j.log.Info("expired stale qr tokens", zap.Int64("count", n))
	}
	return n
}
