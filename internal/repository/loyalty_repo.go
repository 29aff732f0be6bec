package repository

import (
	"context"
	"errors"

	"coffeeshop/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrLoyaltyNotFound = errors.New("loyalty counter not found")

type LoyaltyRepository struct {
	db *gorm.DB
}

func NewLoyaltyRepository(db *gorm.DB) *LoyaltyRepository {
	return &LoyaltyRepository{db: db}
}

func (r *LoyaltyRepository) GetByUserID(ctx context.Context, tx *gorm.DB, userID int64) (*model.LoyaltyCounter, error) {
	var counter model.LoyaltyCounter
	err := conn(r.db, tx).WithContext(ctx).Where("user_id = ?", userID).First(&counter).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrLoyaltyNotFound
		}
		return nil, err
	}
	return &counter, nil
}

// GetOrCreateForUpdate mirrors BalanceRepository.GetOrCreateForUpdate.
func (r *LoyaltyRepository) GetOrCreateForUpdate(ctx context.Context, tx *gorm.DB, userID int64) (*model.LoyaltyCounter, error) {
	err := tx.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoNothing: true,
		}).
		Create(&model.LoyaltyCounter{UserID: userID}).Error
	if err != nil {
		return nil, err
	}

	var counter model.LoyaltyCounter
	err = tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ?", userID).
		First(&counter).Error
	if err != nil {
		return nil, err
	}
	return &counter, nil
}

// SaveCounts writes the counter fields if the stored version still equals
// counter.Version, then bumps counter.Version.
func (r *LoyaltyRepository) SaveCounts(ctx context.Context, tx *gorm.DB, counter *model.LoyaltyCounter) error {
	result := conn(r.db, tx).WithContext(ctx).
		Model(&model.LoyaltyCounter{}).
		Where("user_id = ? AND version = ?", counter.UserID, counter.Version).
		Updates(map[string]interface{}{
			"coffee_count":         counter.CoffeeCount,
			"free_coffees_granted": counter.FreeCoffeesGranted,
			"free_coffees_used":    counter.FreeCoffeesUsed,
			"version":              gorm.Expr("version + 1"),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrOptimisticLock
	}
	counter.Version++
	return nil
}
