package model

import (
	"time"
)

// UserBalance holds a customer's stored-value balance in minor units (cents).
// Every change to Balance is paired with a BalanceTransaction row written in the
// same database transaction.
type UserBalance struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID    int64     `gorm:"uniqueIndex;not null" json:"user_id"`
	Balance   int64     `gorm:"not null;default:0" json:"balance"`
	Version   int       `gorm:"not null;default:0" json:"version"` // optimistic lock
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (UserBalance) TableName() string {
	return "user_balance"
}
