package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"coffeeshop/internal/model"
	"coffeeshop/internal/repository"

	"gorm.io/gorm"
)

const (
	RoleCustomer = "customer"
	RoleStaff    = "staff"
	RoleAdmin    = "admin"
)

func IsValidRole(role string) bool {
	return role == RoleCustomer || role == RoleStaff || role == RoleAdmin
}

func isStaff(role string) bool {
	return role == RoleStaff || role == RoleAdmin
}

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// NormalizePage clamps paging input: page starts at 1, page size defaults to
// 20 and is capped at 100.
func NormalizePage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return page, pageSize
}

func utcNow() time.Time {
	return time.Now().UTC()
}

// eventWriter stages integration events in the outbox inside the caller's
// transaction, so an event exists if and only if its state change committed.
type eventWriter struct {
	outboxRepo *repository.OutboxRepository
}

func newEventWriter(db *gorm.DB) eventWriter {
	return eventWriter{outboxRepo: repository.NewOutboxRepository(db)}
}

func (w eventWriter) write(ctx context.Context, tx *gorm.DB, topic, eventType, key string, payload map[string]interface{}) error {
	payload["event_type"] = eventType
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", eventType, err)
	}

	msg := &model.OutboxMessage{
		MessageKey: key,
		EventType:  eventType,
		Topic:      topic,
		Payload:    string(body),
		Status:     model.OutboxStatusPending,
	}
	if err := w.outboxRepo.Create(ctx, tx, msg); err != nil {
		return fmt.Errorf("write outbox message: %w", err)
	}
	return nil
}
