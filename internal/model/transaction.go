package model

import (
	"time"
)

const (
	TransactionTypeDeposit    = "deposit"
	TransactionTypeWithdrawal = "withdrawal"
	TransactionTypeRefund     = "refund"
)

// IsCreditType reports whether t is a ledger type that increases the balance.
func IsCreditType(t string) bool {
	return t == TransactionTypeDeposit || t == TransactionTypeRefund
}

// BalanceTransaction is one immutable ledger entry. Rows are only ever inserted.
//
// Amount is signed: deposits and refunds are positive, withdrawals negative.
// BalanceAfter is the running sum of every entry for the user up to and including
// this one, so the ledger can be replayed and checked against UserBalance.
type BalanceTransaction struct {
	ID            int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	TransactionNo string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"transaction_no"`
	UserID        int64     `gorm:"index:idx_balance_txn_user_created,priority:1;not null" json:"user_id"`
	Type          string    `gorm:"type:varchar(20);not null" json:"type"`
	Amount        int64     `gorm:"not null" json:"amount"`
	BalanceBefore int64     `gorm:"not null" json:"balance_before"`
	BalanceAfter  int64     `gorm:"not null" json:"balance_after"`
	Reference     string    `gorm:"type:varchar(64);index" json:"reference"` // order no or QR token
	Description   string    `gorm:"type:varchar(256)" json:"description"`
	CreatedAt     time.Time `gorm:"index:idx_balance_txn_user_created,priority:2;not null" json:"created_at"`
}

func (BalanceTransaction) TableName() string {
	return "balance_transaction"
}
