package repository

import (
	"context"
	"errors"
	"time"

	"coffeeshop/internal/model"

	"gorm.io/gorm"
)

var (
	ErrOrderNotFound  = errors.New("order not found")
	ErrStatusConflict = errors.New("order status changed concurrently")
)

type OrderRepository struct {
	db *gorm.DB
}

func NewOrderRepository(db *gorm.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

// Create inserts the order together with its items.
func (r *OrderRepository) Create(ctx context.Context, tx *gorm.DB, order *model.Order) error {
	return conn(r.db, tx).WithContext(ctx).Create(order).Error
}

func (r *OrderRepository) GetByOrderNo(ctx context.Context, tx *gorm.DB, orderNo string) (*model.Order, error) {
	var order model.Order
	err := conn(r.db, tx).WithContext(ctx).
		Preload("Items").
		Where("order_no = ?", orderNo).
		First(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	return &order, nil
}

// GetByRequestID returns nil, nil when no order carries requestID.
func (r *OrderRepository) GetByRequestID(ctx context.Context, tx *gorm.DB, requestID string) (*model.Order, error) {
	var order model.Order
	err := conn(r.db, tx).WithContext(ctx).
		Preload("Items").
		Where("request_id = ?", requestID).
		First(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &order, nil
}

// UpdateStatus moves the order from fromStatus to toStatus only if it is still
// in fromStatus. Legality of the edge is the caller's concern.
func (r *OrderRepository) UpdateStatus(ctx context.Context, tx *gorm.DB, orderNo string, fromStatus, toStatus string, at time.Time) error {
	result := conn(r.db, tx).WithContext(ctx).
		Model(&model.Order{}).
		Where("order_no = ? AND status = ?", orderNo, fromStatus).
		Updates(map[string]interface{}{
			"status":            toStatus,
			"status_changed_at": at,
		})

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		return ErrStatusConflict
	}

	return nil
}

func (r *OrderRepository) ListByUserID(ctx context.Context, userID int64, page, pageSize int) ([]*model.Order, int64, error) {
	return r.list(ctx, r.db.Where("user_id = ?", userID), page, pageSize)
}

// ListByStatus serves the staff queue; an empty status lists every order.
func (r *OrderRepository) ListByStatus(ctx context.Context, status string, page, pageSize int) ([]*model.Order, int64, error) {
	scope := r.db
	if status != "" {
		scope = r.db.Where("status = ?", status)
	}
	return r.list(ctx, scope, page, pageSize)
}

func (r *OrderRepository) list(ctx context.Context, scope *gorm.DB, page, pageSize int) ([]*model.Order, int64, error) {
	var orders []*model.Order
	var total int64

	query := scope.WithContext(ctx).Model(&model.Order{})

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := query.
		Preload("Items").
		Order("created_at DESC").
		Order("id DESC").
		Offset(pageOffset(page, pageSize)).
		Limit(pageSize).
		Find(&orders).Error

	return orders, total, err
}
