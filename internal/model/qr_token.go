package model

import (
	"time"
)

const (
	QRTokenStatusActive   = "active"
	QRTokenStatusRedeemed = "redeemed"
	QRTokenStatusExpired  = "expired"
)

// QRTopUpToken binds a customer to a cash top-up amount until a cashier scans it.
// Redeemed and expired are terminal; tokens are kept for audit.
type QRTopUpToken struct {
	ID         int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	Token      string     `gorm:"type:varchar(64);uniqueIndex;not null" json:"token"`
	UserID     int64      `gorm:"index;not null" json:"user_id"`
	Amount     int64      `gorm:"not null" json:"amount"`
	Status     string     `gorm:"type:varchar(20);index:idx_qr_status_expires,priority:1;not null" json:"status"`
	IssuedAt   time.Time  `gorm:"not null" json:"issued_at"`
	ExpiresAt  time.Time  `gorm:"index:idx_qr_status_expires,priority:2;not null" json:"expires_at"`
	RedeemedAt *time.Time `json:"redeemed_at,omitempty"`
	RedeemedBy *int64     `json:"redeemed_by,omitempty"`
}

func (QRTopUpToken) TableName() string {
	return "qr_topup_token"
}

func (t *QRTopUpToken) IsExpiredAt(now time.Time) bool {
	return now.After(t.ExpiresAt)
}
