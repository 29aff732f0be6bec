package repository

import (
	"context"
	"errors"

	"coffeeshop/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrBalanceNotFound  = errors.New("balance record not found")
	ErrBalanceNotEnough = errors.New("balance not enough")
)

type BalanceRepository struct {
	db *gorm.DB
}

func NewBalanceRepository(db *gorm.DB) *BalanceRepository {
	return &BalanceRepository{db: db}
}

func (r *BalanceRepository) GetByUserID(ctx context.Context, tx *gorm.DB, userID int64) (*model.UserBalance, error) {
	var balance model.UserBalance
	err := conn(r.db, tx).WithContext(ctx).Where("user_id = ?", userID).First(&balance).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrBalanceNotFound
		}
		return nil, err
	}
	return &balance, nil
}

// GetOrCreateForUpdate makes sure the user has a balance row and returns it
// locked FOR UPDATE until tx ends. Must be called inside a transaction.
func (r *BalanceRepository) GetOrCreateForUpdate(ctx context.Context, tx *gorm.DB, userID int64) (*model.UserBalance, error) {
	err := tx.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoNothing: true,
		}).
		Create(&model.UserBalance{UserID: userID}).Error
	if err != nil {
		return nil, err
	}

	var balance model.UserBalance
	err = tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ?", userID).
		First(&balance).Error
	if err != nil {
		return nil, err
	}
	return &balance, nil
}

// Deduct subtracts amount if the row is still at version and can cover it.
func (r *BalanceRepository) Deduct(ctx context.Context, tx *gorm.DB, userID int64, amount int64, version int) error {
	result := conn(r.db, tx).WithContext(ctx).
		Model(&model.UserBalance{}).
		Where("user_id = ? AND balance >= ? AND version = ?", userID, amount, version).
		Updates(map[string]interface{}{
			"balance": gorm.Expr("balance - ?", amount),
			"version": gorm.Expr("version + 1"),
		})

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		current, err := r.GetByUserID(ctx, tx, userID)
		if err != nil {
			return err
		}
		if current.Balance < amount {
			return ErrBalanceNotEnough
		}
		return ErrOptimisticLock
	}

	return nil
}

func (r *BalanceRepository) Increase(ctx context.Context, tx *gorm.DB, userID int64, amount int64, version int) error {
	result := conn(r.db, tx).WithContext(ctx).
		Model(&model.UserBalance{}).
		Where("user_id = ? AND version = ?", userID, version).
		Updates(map[string]interface{}{
			"balance": gorm.Expr("balance + ?", amount),
			"version": gorm.Expr("version + 1"),
		})

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		if _, err := r.GetByUserID(ctx, tx, userID); err != nil {
			return err
		}
		return ErrOptimisticLock
	}

	return nil
}
