package repository

import (
	"context"

	"coffeeshop/internal/model"

	"gorm.io/gorm"
)

type TransactionRepository struct {
	db *gorm.DB
}

func NewTransactionRepository(db *gorm.DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

func (r *TransactionRepository) Create(ctx context.Context, tx *gorm.DB, trans *model.BalanceTransaction) error {
	return conn(r.db, tx).WithContext(ctx).Create(trans).Error
}

// ListByUserID pages through a user's ledger, newest first.
func (r *TransactionRepository) ListByUserID(ctx context.Context, userID int64, page, pageSize int) ([]*model.BalanceTransaction, int64, error) {
	var transactions []*model.BalanceTransaction
	var total int64

	query := r.db.WithContext(ctx).Model(&model.BalanceTransaction{}).Where("user_id = ?", userID)

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := query.
		Order("created_at DESC").
		Order("id DESC").
		Offset(pageOffset(page, pageSize)).
		Limit(pageSize).
		Find(&transactions).Error

	return transactions, total, err
}

// ListAllByUserID returns the whole ledger in insertion order, for auditing.
func (r *TransactionRepository) ListAllByUserID(ctx context.Context, tx *gorm.DB, userID int64) ([]*model.BalanceTransaction, error) {
	var transactions []*model.BalanceTransaction
	err := conn(r.db, tx).WithContext(ctx).
		Where("user_id = ?", userID).
		Order("id ASC").
		Find(&transactions).Error
	return transactions, err
}

func (r *TransactionRepository) ExistsByReference(ctx context.Context, tx *gorm.DB, reference, txnType string) (bool, error) {
	var count int64
	err := conn(r.db, tx).WithContext(ctx).
		Model(&model.BalanceTransaction{}).
		Where("reference = ? AND type = ?", reference, txnType).
		Count(&count).Error
	return count > 0, err
}
