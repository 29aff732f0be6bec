package model

import (
	"time"

	"gorm.io/datatypes"
)

const (
	OrderStatusPending   = "pending"
	OrderStatusAccepted  = "accepted"
	OrderStatusPreparing = "preparing"
	OrderStatusReady     = "ready"
	OrderStatusCompleted = "completed"
	OrderStatusCancelled = "cancelled"
)

// ValidStatusTransitions lists the legal successors of each non-terminal status.
// Completed and cancelled have no successors.
var ValidStatusTransitions = map[string][]string{
	OrderStatusPending:   {OrderStatusAccepted, OrderStatusCancelled},
	OrderStatusAccepted:  {OrderStatusPreparing},
	OrderStatusPreparing: {OrderStatusReady},
	OrderStatusReady:     {OrderStatusCompleted},
}

func CanTransitionTo(currentStatus, targetStatus string) bool {
	allowedStatuses, exists := ValidStatusTransitions[currentStatus]
	if !exists {
		return false
	}
	for _, s := range allowedStatuses {
		if s == targetStatus {
			return true
		}
	}
	return false
}

func IsValidOrderStatus(status string) bool {
	switch status {
	case OrderStatusPending, OrderStatusAccepted, OrderStatusPreparing,
		OrderStatusReady, OrderStatusCompleted, OrderStatusCancelled:
		return true
	}
	return false
}

const (
	PaymentMethodBalance = "balance"
	PaymentMethodCash    = "cash"
	PaymentMethodCard    = "card"
)

func IsValidPaymentMethod(method string) bool {
	switch method {
	case PaymentMethodBalance, PaymentMethodCash, PaymentMethodCard:
		return true
	}
	return false
}

// Order is a customer order. Subtotal is the sum of the item price snapshots;
// TotalAmount is what the customer pays (zero for a free-coffee redemption).
// BalanceDebited, FreeCoffeeRedeemed and LoyaltyRecorded record which side
// effects placement committed, so cancellation can reverse exactly those.
type Order struct {
	ID                 int64       `gorm:"primaryKey;autoIncrement" json:"id"`
	OrderNo            string      `gorm:"type:varchar(64);uniqueIndex;not null" json:"order_no"`
	RequestID          *string     `gorm:"type:varchar(64);uniqueIndex" json:"request_id,omitempty"`
	UserID             int64       `gorm:"index;not null" json:"user_id"`
	Items              []OrderItem `gorm:"foreignKey:OrderID" json:"items"`
	Subtotal           int64       `gorm:"not null" json:"subtotal"`
	TotalAmount        int64       `gorm:"not null" json:"total_amount"`
	PaymentMethod      string      `gorm:"type:varchar(16);not null" json:"payment_method"`
	IsFreeCoffee       bool        `gorm:"not null;default:false" json:"is_free_coffee"`
	BalanceDebited     int64       `gorm:"not null;default:0" json:"balance_debited"`
	FreeCoffeeRedeemed bool        `gorm:"not null;default:false" json:"-"`
	LoyaltyRecorded    bool        `gorm:"not null;default:false" json:"loyalty_recorded"`
	PickupTime         *time.Time  `json:"pickup_time,omitempty"`
	Notes              string      `gorm:"type:varchar(512)" json:"notes"`
	Status             string      `gorm:"type:varchar(20);index;not null" json:"status"`
	StatusChangedAt    time.Time   `gorm:"not null" json:"status_changed_at"`
	CreatedAt          time.Time   `gorm:"index;not null" json:"created_at"`
	UpdatedAt          time.Time   `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Order) TableName() string {
	return "coffee_order"
}

func (o *Order) IsTerminal() bool {
	return o.Status == OrderStatusCompleted || o.Status == OrderStatusCancelled
}

type OrderItem struct {
	ID                int64             `gorm:"primaryKey;autoIncrement" json:"id"`
	OrderID           int64             `gorm:"index;not null" json:"-"`
	ProductID         int64             `gorm:"not null" json:"product_id"`
	ProductName       string            `gorm:"type:varchar(128);not null" json:"product_name"`
	Category          string            `gorm:"type:varchar(32);not null" json:"category"`
	Quantity          int               `gorm:"not null" json:"quantity"`
	UnitPriceSnapshot int64             `gorm:"not null" json:"unit_price"`
	Customization     datatypes.JSONMap `json:"customization,omitempty"`
}

func (OrderItem) TableName() string {
	return "coffee_order_item"
}

func (i *OrderItem) LineTotal() int64 {
	return i.UnitPriceSnapshot * int64(i.Quantity)
}
