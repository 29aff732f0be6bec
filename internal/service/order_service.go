package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"coffeeshop/internal/config"
	"coffeeshop/internal/infrastructure/lock"
	"coffeeshop/internal/metrics"
	"coffeeshop/internal/model"
	"coffeeshop/internal/repository"
	"coffeeshop/pkg/idgen"
	"coffeeshop/pkg/money"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// OrderService coordinates orders with the balance ledger and the loyalty
// counter. It is the only component that changes more than one of them, and it
// does so inside a single database transaction.
type OrderService struct {
	db        *gorm.DB
	rdb       *redis.Client
	cfg       *config.Config
	log       *zap.Logger
	orderRepo *repository.OrderRepository
	balance   *BalanceService
	loyalty   *LoyaltyService
	states    *OrderStateMachine
	catalog   ProductCatalog
	events    eventWriter
	now       func() time.Time
}

// NewOrderService wires the coordinator. rdb may be nil, in which case the
// per-user redis lock is skipped and row locks alone serialize placements.
func NewOrderService(db *gorm.DB, rdb *redis.Client, cfg *config.Config, balance *BalanceService,
	loyalty *LoyaltyService, catalog ProductCatalog, log *zap.Logger) *OrderService {
	return &OrderService{
		db:        db,
		rdb:       rdb,
		cfg:       cfg,
		log:       log.Named("order"),
		orderRepo: repository.NewOrderRepository(db),
		balance:   balance,
		loyalty:   loyalty,
		states:    NewOrderStateMachine(db),
		catalog:   catalog,
		events:    newEventWriter(db),
		now:       utcNow,
	}
}

type PlaceOrderItem struct {
	ProductID     int64
	Quantity      int
	Customization map[string]interface{}
}

type PlaceOrderRequest struct {
	// RequestID makes placement idempotent when set.
	RequestID     string
	UserID        int64
	Items         []PlaceOrderItem
	PaymentMethod string
	UseFreeCoffee bool
	PickupTime    *time.Time
	Notes         string
}

type UpdateStatusRequest struct {
	OrderNo   string
	NewStatus string
	// ExpectedStatus is the status the caller last saw. Empty means the
	// order's current status.
	ExpectedStatus string
	ActingUserID   int64
	ActingRole     string
}

func (s *OrderService) PlaceOrder(ctx context.Context, req *PlaceOrderRequest) (*model.Order, error) {
	var order *model.Order
	err := lock.WithUserLock(ctx, s.rdb, req.UserID, s.cfg.Business.LockTTL(), func() error {
		var err error
		order, err = s.placeOrder(ctx, req)
		return err
	})
	if err != nil {
		metrics.OrdersRejected.WithLabelValues(rejectReason(err)).Inc()
		if !isDomainError(err) {
			s.log.Error("place order failed", zap.Int64("user_id", req.UserID), zap.Error(err))
		}
		return nil, err
	}
	return order, nil
}

func (s *OrderService) placeOrder(ctx context.Context, req *PlaceOrderRequest) (*model.Order, error) {
	if req.RequestID != "" {
		existing, err := s.orderRepo.GetByRequestID(ctx, nil, req.RequestID)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return s.replay(existing, req)
		}
	}

	if !model.IsValidPaymentMethod(req.PaymentMethod) {
		return nil, fmt.Errorf("%w: unknown payment method %q", ErrInvalidRequest, req.PaymentMethod)
	}

	items, subtotal, err := s.priceItems(ctx, req.Items)
	if err != nil {
		return nil, err
	}
	if req.UseFreeCoffee && !isSingleCoffee(items) {
		return nil, fmt.Errorf("%w: got %d line(s)", ErrInvalidFreeCoffeeUsage, len(items))
	}

	now := s.now()
	order := &model.Order{
		OrderNo:         idgen.GenerateOrderNo(),
		UserID:          req.UserID,
		Items:           items,
		Subtotal:        subtotal,
		TotalAmount:     subtotal,
		PaymentMethod:   req.PaymentMethod,
		IsFreeCoffee:    req.UseFreeCoffee,
		PickupTime:      req.PickupTime,
		Notes:           req.Notes,
		Status:          model.OrderStatusPending,
		StatusChangedAt: now,
		CreatedAt:       now,
	}
	if req.RequestID != "" {
		requestID := req.RequestID
		order.RequestID = &requestID
	}
	if req.UseFreeCoffee {
		order.TotalAmount = 0
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if order.IsFreeCoffee {
			if _, err := s.loyalty.RedeemFreeCoffeeTx(ctx, tx, order.UserID); err != nil {
				return err
			}
			order.FreeCoffeeRedeemed = true
		}

		if order.PaymentMethod == model.PaymentMethodBalance && order.TotalAmount > 0 {
			if _, err := s.balance.DebitTx(ctx, tx, order.UserID, order.TotalAmount, order.OrderNo, "order payment"); err != nil {
				return err
			}
			order.BalanceDebited = order.TotalAmount
		}

		order.LoyaltyRecorded = IsQualifyingPurchase(order.Items, order.FreeCoffeeRedeemed)

		if err := s.orderRepo.Create(ctx, tx, order); err != nil {
			return fmt.Errorf("create order: %w", err)
		}

		if order.LoyaltyRecorded {
			if _, err := s.loyalty.RecordQualifyingPurchaseTx(ctx, tx, order.UserID); err != nil {
				return err
			}
		}

		return s.events.write(ctx, tx, s.cfg.Kafka.Topic.OrderEvents, model.EventOrderPlaced, order.OrderNo, map[string]interface{}{
			"order_no":        order.OrderNo,
			"user_id":         order.UserID,
			"total_amount":    order.TotalAmount,
			"payment_method":  order.PaymentMethod,
			"is_free_coffee":  order.IsFreeCoffee,
			"balance_debited": order.BalanceDebited,
			"created_at":      order.CreatedAt.Format(time.RFC3339),
		})
	})
	if err != nil {
		// A concurrent retry with the same request id may have won the unique index.
		if req.RequestID != "" && !isDomainError(err) {
			if existing, getErr := s.orderRepo.GetByRequestID(ctx, nil, req.RequestID); getErr == nil && existing != nil {
				return s.replay(existing, req)
			}
		}
		return nil, err
	}

	metrics.OrdersPlaced.WithLabelValues(order.PaymentMethod, fmt.Sprint(order.IsFreeCoffee)).Inc()
	s.log.Info("order placed",
		zap.String("order_no", order.OrderNo),
		zap.Int64("user_id", order.UserID),
		zap.String("total", money.Format(order.TotalAmount)),
		zap.String("payment_method", order.PaymentMethod),
		zap.Bool("free_coffee", order.IsFreeCoffee),
	)
	return order, nil
}

func (s *OrderService) replay(existing *model.Order, req *PlaceOrderRequest) (*model.Order, error) {
	if existing.UserID != req.UserID {
		return nil, fmt.Errorf("%w: request id %s already used", ErrInvalidRequest, req.RequestID)
	}
	s.log.Info("order request replayed", zap.String("request_id", req.RequestID), zap.String("order_no", existing.OrderNo))
	return existing, nil
}

// priceItems snapshots current catalog prices. Client-supplied prices are
// never consulted.
func (s *OrderService) priceItems(ctx context.Context, reqItems []PlaceOrderItem) ([]model.OrderItem, int64, error) {
	if len(reqItems) == 0 {
		return nil, 0, ErrEmptyOrder
	}

	items := make([]model.OrderItem, 0, len(reqItems))
	var subtotal int64
	for _, ri := range reqItems {
		if ri.Quantity <= 0 {
			return nil, 0, fmt.Errorf("%w: quantity %d for product %d", ErrInvalidRequest, ri.Quantity, ri.ProductID)
		}

		product, err := s.catalog.GetProduct(ctx, ri.ProductID)
		if err != nil {
			return nil, 0, err
		}
		if !product.IsAvailable {
			return nil, 0, fmt.Errorf("%w: %s", ErrProductUnavailable, product.Name)
		}

		item := model.OrderItem{
			ProductID:         product.ID,
			ProductName:       product.Name,
			Category:          product.Category,
			Quantity:          ri.Quantity,
			UnitPriceSnapshot: product.Price,
		}
		if len(ri.Customization) > 0 {
			item.Customization = datatypes.JSONMap(ri.Customization)
		}
		subtotal += item.LineTotal()
		items = append(items, item)
	}
	return items, subtotal, nil
}

// CancelOrder cancels the acting user's own pending order and reverses its
// balance debit and free-coffee redemption. Loyalty progress stays.
func (s *OrderService) CancelOrder(ctx context.Context, orderNo string, actingUserID int64) (*model.Order, error) {
	order, err := s.getOrder(ctx, orderNo)
	if err != nil {
		return nil, err
	}
	if order.UserID != actingUserID {
		// Other customers' orders are indistinguishable from missing ones.
		return nil, fmt.Errorf("%w: %s", ErrOrderNotFound, orderNo)
	}
	if order.Status != model.OrderStatusPending {
		return nil, fmt.Errorf("%w: order is %s, only pending orders can be cancelled", ErrInvalidTransition, order.Status)
	}
	return s.cancel(ctx, order, model.OrderStatusPending, actingUserID)
}

func (s *OrderService) cancel(ctx context.Context, order *model.Order, fromExpected string, actingUserID int64) (*model.Order, error) {
	var cancelled *model.Order
	err := lock.WithUserLock(ctx, s.rdb, order.UserID, s.cfg.Business.LockTTL(), func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			current, err := s.states.Transition(ctx, tx, order.OrderNo, fromExpected, model.OrderStatusCancelled)
			if err != nil {
				return err
			}

			if current.BalanceDebited > 0 {
				_, err := s.balance.CreditTx(ctx, tx, current.UserID, current.BalanceDebited,
					model.TransactionTypeRefund, current.OrderNo, "order cancelled")
				if err != nil {
					return fmt.Errorf("refund order %s: %w", current.OrderNo, err)
				}
			}
			if current.FreeCoffeeRedeemed {
				if _, err := s.loyalty.UnredeemFreeCoffeeTx(ctx, tx, current.UserID); err != nil {
					return fmt.Errorf("unredeem free coffee for order %s: %w", current.OrderNo, err)
				}
			}

			cancelled = current
			return s.events.write(ctx, tx, s.cfg.Kafka.Topic.OrderEvents, model.EventOrderCancelled, current.OrderNo, map[string]interface{}{
				"order_no":         current.OrderNo,
				"user_id":          current.UserID,
				"cancelled_by":     actingUserID,
				"refunded":         current.BalanceDebited,
				"free_coffee_back": current.FreeCoffeeRedeemed,
				"cancelled_at":     current.StatusChangedAt.Format(time.RFC3339),
			})
		})
	})
	if err != nil {
		if !isDomainError(err) {
			s.log.Error("cancel order failed", zap.String("order_no", order.OrderNo), zap.Error(err))
		}
		return nil, err
	}

	s.log.Info("order cancelled",
		zap.String("order_no", cancelled.OrderNo),
		zap.Int64("acting_user_id", actingUserID),
		zap.String("refunded", money.Format(cancelled.BalanceDebited)),
	)
	return cancelled, nil
}

// UpdateOrderStatus is the staff-facing transition. Customers may only use it
// to cancel their own pending orders. Moving an order to cancelled always runs
// the refund path.
func (s *OrderService) UpdateOrderStatus(ctx context.Context, req *UpdateStatusRequest) (*model.Order, error) {
	if !model.IsValidOrderStatus(req.NewStatus) {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidRequest, req.NewStatus)
	}
	if req.ExpectedStatus != "" && !model.IsValidOrderStatus(req.ExpectedStatus) {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidRequest, req.ExpectedStatus)
	}

	if !isStaff(req.ActingRole) {
		if req.NewStatus != model.OrderStatusCancelled {
			return nil, fmt.Errorf("%w: role %q cannot set status %s", ErrForbidden, req.ActingRole, req.NewStatus)
		}
		return s.CancelOrder(ctx, req.OrderNo, req.ActingUserID)
	}

	order, err := s.getOrder(ctx, req.OrderNo)
	if err != nil {
		return nil, err
	}
	from := req.ExpectedStatus
	if from == "" {
		from = order.Status
	}

	if req.NewStatus == model.OrderStatusCancelled {
		return s.cancel(ctx, order, from, req.ActingUserID)
	}

	var updated *model.Order
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		updated, err = s.states.Transition(ctx, tx, req.OrderNo, from, req.NewStatus)
		if err != nil {
			return err
		}
		return s.events.write(ctx, tx, s.cfg.Kafka.Topic.OrderEvents, model.EventOrderStatusChanged, updated.OrderNo, map[string]interface{}{
			"order_no":   updated.OrderNo,
			"user_id":    updated.UserID,
			"from":       from,
			"to":         updated.Status,
			"changed_by": req.ActingUserID,
			"changed_at": updated.StatusChangedAt.Format(time.RFC3339),
		})
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("order status changed",
		zap.String("order_no", updated.OrderNo),
		zap.String("from", from),
		zap.String("to", updated.Status),
		zap.String("role", req.ActingRole),
	)
	return updated, nil
}

// GetOrder returns the order to its owner or to staff.
func (s *OrderService) GetOrder(ctx context.Context, orderNo string, userID int64, role string) (*model.Order, error) {
	order, err := s.getOrder(ctx, orderNo)
	if err != nil {
		return nil, err
	}
	if order.UserID != userID && !isStaff(role) {
		return nil, fmt.Errorf("%w: %s", ErrOrderNotFound, orderNo)
	}
	return order, nil
}

func (s *OrderService) getOrder(ctx context.Context, orderNo string) (*model.Order, error) {
	order, err := s.orderRepo.GetByOrderNo(ctx, nil, orderNo)
	if err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrOrderNotFound, orderNo)
		}
		return nil, err
	}
	return order, nil
}

func (s *OrderService) ListUserOrders(ctx context.Context, userID int64, page, pageSize int) ([]*model.Order, int64, error) {
	page, pageSize = NormalizePage(page, pageSize)
	return s.orderRepo.ListByUserID(ctx, userID, page, pageSize)
}

// ListOrdersByStatus is the staff queue. An empty status lists everything.
func (s *OrderService) ListOrdersByStatus(ctx context.Context, status string, page, pageSize int) ([]*model.Order, int64, error) {
	if status != "" && !model.IsValidOrderStatus(status) {
		return nil, 0, fmt.Errorf("%w: unknown status %q", ErrInvalidRequest, status)
	}
	page, pageSize = NormalizePage(page, pageSize)
	return s.orderRepo.ListByStatus(ctx, status, page, pageSize)
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, ErrNoFreeCoffeeAvailable):
		return "no_free_coffee"
	case errors.Is(err, ErrInvalidFreeCoffeeUsage):
		return "invalid_free_coffee_usage"
	case errors.Is(err, ErrEmptyOrder):
		return "empty_order"
	case errors.Is(err, ErrProductUnavailable):
		return "product_unavailable"
	case errors.Is(err, ErrConcurrentModification), errors.Is(err, lock.ErrLockFailed):
		return "conflict"
	case errors.Is(err, ErrInvalidRequest):
		return "invalid_request"
	}
	return "internal"
}
