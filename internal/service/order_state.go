package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"coffeeshop/internal/metrics"
	"coffeeshop/internal/model"
	"coffeeshop/internal/repository"

	"gorm.io/gorm"
)

// OrderStateMachine guards the order lifecycle. Transitions are serialized per
// order by a conditional update on the expected status, not by locking.
type OrderStateMachine struct {
	orderRepo *repository.OrderRepository
	now       func() time.Time
}

func NewOrderStateMachine(db *gorm.DB) *OrderStateMachine {
	return &OrderStateMachine{
		orderRepo: repository.NewOrderRepository(db),
		now:       utcNow,
	}
}

// Transition moves orderNo from fromExpected to to. It writes nothing but the
// status and its timestamp; reversals are the coordinator's job.
func (m *OrderStateMachine) Transition(ctx context.Context, tx *gorm.DB, orderNo, fromExpected, to string) (*model.Order, error) {
	if !model.CanTransitionTo(fromExpected, to) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, fromExpected, to)
	}

	order, err := m.orderRepo.GetByOrderNo(ctx, tx, orderNo)
	if err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrOrderNotFound, orderNo)
		}
		return nil, err
	}
	if order.Status != fromExpected {
		return nil, fmt.Errorf("%w: order %s is %s, expected %s", ErrConcurrentModification, orderNo, order.Status, fromExpected)
	}

	at := m.now()
	if err := m.orderRepo.UpdateStatus(ctx, tx, orderNo, fromExpected, to, at); err != nil {
		if errors.Is(err, repository.ErrStatusConflict) {
			return nil, fmt.Errorf("%w: order %s left %s", ErrConcurrentModification, orderNo, fromExpected)
		}
		return nil, fmt.Errorf("update order status: %w", err)
	}

	metrics.OrderTransitions.WithLabelValues(fromExpected, to).Inc()
	order.Status = to
	order.StatusChangedAt = at
	return order, nil
}
