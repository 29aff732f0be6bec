package job

import (
	"context"
	"time"

	"coffeeshop/internal/config"
	"coffeeshop/internal/metrics"
	"coffeeshop/internal/model"
	"coffeeshop/internal/repository"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

type MessagePublisher interface {
	SendMessage(topic, key, value string, headers map[string]string) error
}

// OutboxSender publishes pending outbox rows in id order. A message that
// keeps failing is parked as FAILED after MaxRetryCount attempts.
type OutboxSender struct {
	outboxRepo *repository.OutboxRepository
	publisher  MessagePublisher
	cfg        *config.Config
	log        *zap.Logger
	stopCh     chan struct{}
	interval   time.Duration
	batchSize  int
}

func NewOutboxSender(db *gorm.DB, publisher MessagePublisher, cfg *config.Config, log *zap.Logger) *OutboxSender {
	interval := time.Duration(cfg.Business.OutboxIntervalMillis) * time.Millisecond
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	return &OutboxSender{
		outboxRepo: repository.NewOutboxRepository(db),
		publisher:  publisher,
		cfg:        cfg,
		log:        log.Named("outbox_sender"),
		stopCh:     make(chan struct{}),
		interval:   interval,
		batchSize:  100,
	}
}

func (s *OutboxSender) Start(ctx context.Context) {
	s.log.Info("outbox sender started", zap.Duration("interval", s.interval))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("context done, outbox sender exiting")
			return
		case <-s.stopCh:
			s.log.Info("outbox sender stopped")
			return
		case <-ticker.C:
			s.ProcessPending(ctx)
		}
	}
}

func (s *OutboxSender) Stop() {
	close(s.stopCh)
}

// ProcessPending publishes one batch and returns how many messages were sent.
func (s *OutboxSender) ProcessPending(ctx context.Context) int {
	messages, err := s.outboxRepo.GetPendingMessages(ctx, s.batchSize)
	if err != nil {
		s.log.Error("load pending outbox messages", zap.Error(err))
		return 0
	}

	sent := 0
	for _, msg := range messages {
		if s.sendMessage(ctx, msg) {
			sent++
		}
	}
	return sent
}

func (s *OutboxSender) sendMessage(ctx context.Context, msg *model.OutboxMessage) bool {
	fields := []zap.Field{
		zap.Int64("id", msg.ID),
		zap.String("topic", msg.Topic),
		zap.String("key", msg.MessageKey),
		zap.String("event_type", msg.EventType),
	}

	err := s.publisher.SendMessage(msg.Topic, msg.MessageKey, msg.Payload, map[string]string{"event_type": msg.EventType})
	if err == nil {
		if updateErr := s.outboxRepo.MarkSent(ctx, msg.ID); updateErr != nil {
			s.log.Error("mark outbox message sent", append(fields, zap.Error(updateErr))...)
			return false
		}
		metrics.OutboxMessages.WithLabelValues("sent").Inc()
		s.log.Debug("outbox message sent", fields...)
		return true
	}

	fields = append(fields, zap.Int("retry_count", msg.RetryCount+1), zap.Error(err))

	if msg.RetryCount+1 >= s.cfg.Business.MaxRetryCount {
		if markErr := s.outboxRepo.MarkAsFailed(ctx, msg.ID); markErr != nil {
			s.log.Error("mark outbox message failed", append(fields, zap.NamedError("mark_error", markErr))...)
			return false
		}
		metrics.OutboxMessages.WithLabelValues("failed").Inc()
		s.log.Error("outbox message exceeded max retries", fields...)
		return false
	}

	if incErr := s.outboxRepo.IncrementRetryCount(ctx, msg.ID); incErr != nil {
		s.log.Error("increment outbox retry count", append(fields, zap.NamedError("increment_error", incErr))...)
		return false
	}
	metrics.OutboxMessages.WithLabelValues("retry").Inc()
	s.log.Warn("outbox publish failed, will retry", fields...)
	return false
}
