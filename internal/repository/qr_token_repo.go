package repository

import (
	"context"
	"errors"
	"time"

	"coffeeshop/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrTokenNotFound = errors.New("qr token not found")

type QRTokenRepository struct {
	db *gorm.DB
}

func NewQRTokenRepository(db *gorm.DB) *QRTokenRepository {
	return &QRTokenRepository{db: db}
}

func (r *QRTokenRepository) Create(ctx context.Context, tx *gorm.DB, token *model.QRTopUpToken) error {
	return conn(r.db, tx).WithContext(ctx).Create(token).Error
}

func (r *QRTokenRepository) GetByToken(ctx context.Context, tx *gorm.DB, token string) (*model.QRTopUpToken, error) {
	var t model.QRTopUpToken
	err := conn(r.db, tx).WithContext(ctx).Where("token = ?", token).First(&t).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTokenNotFound
		}
		return nil, err
	}
	return &t, nil
}

// GetByTokenForUpdate is a locking read. Inside a transaction it returns the
// latest committed row rather than the transaction's snapshot.
func (r *QRTokenRepository) GetByTokenForUpdate(ctx context.Context, tx *gorm.DB, token string) (*model.QRTopUpToken, error) {
	var t model.QRTopUpToken
	err := conn(r.db, tx).WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("token = ?", token).
		First(&t).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTokenNotFound
		}
		return nil, err
	}
	return &t, nil
}

// MarkRedeemed is the single compare-and-set that decides which redemption
// attempt wins. It reports false when the token was not active or had already
// expired at now.
func (r *QRTokenRepository) MarkRedeemed(ctx context.Context, tx *gorm.DB, token string, now time.Time, staffID int64) (bool, error) {
	result := conn(r.db, tx).WithContext(ctx).
		Model(&model.QRTopUpToken{}).
		Where("token = ? AND status = ? AND expires_at >= ?", token, model.QRTokenStatusActive, now).
		Updates(map[string]interface{}{
			"status":      model.QRTokenStatusRedeemed,
			"redeemed_at": now,
			"redeemed_by": staffID,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// MarkExpired flips an active token whose expiry is before now. Safe to race
// with MarkRedeemed: at most one of them matches.
func (r *QRTokenRepository) MarkExpired(ctx context.Context, tx *gorm.DB, token string, now time.Time) (bool, error) {
	result := conn(r.db, tx).WithContext(ctx).
		Model(&model.QRTopUpToken{}).
		Where("token = ? AND status = ? AND expires_at < ?", token, model.QRTokenStatusActive, now).
		Update("status", model.QRTokenStatusExpired)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *QRTokenRepository) ListExpiredActive(ctx context.Context, now time.Time, limit int) ([]*model.QRTopUpToken, error) {
	var tokens []*model.QRTopUpToken
	err := r.db.WithContext(ctx).
		Where("status = ? AND expires_at < ?", model.QRTokenStatusActive, now).
		Order("expires_at ASC").
		Limit(limit).
		Find(&tokens).Error
	return tokens, err
}

// ExpireByIDs flips the given tokens to expired, skipping any that were
// redeemed in the meantime.
func (r *QRTokenRepository) ExpireByIDs(ctx context.Context, ids []int64, now time.Time) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	result := r.db.WithContext(ctx).
		Model(&model.QRTopUpToken{}).
		Where("id IN ? AND status = ? AND expires_at < ?", ids, model.QRTokenStatusActive, now).
		Update("status", model.QRTokenStatusExpired)
	return result.RowsAffected, result.Error
}

// ListRedeemedWithoutDeposit finds redeemed tokens that have no matching
// deposit ledger entry.
func (r *QRTokenRepository) ListRedeemedWithoutDeposit(ctx context.Context, limit int) ([]*model.QRTopUpToken, error) {
	deposits := r.db.Model(&model.BalanceTransaction{}).
		Select("1").
		Where("balance_transaction.reference = qr_topup_token.token AND balance_transaction.type = ?", model.TransactionTypeDeposit)

	var tokens []*model.QRTopUpToken
	err := r.db.WithContext(ctx).
		Where("status = ?", model.QRTokenStatusRedeemed).
		Where("NOT EXISTS (?)", deposits).
		Order("id ASC").
		Limit(limit).
		Find(&tokens).Error
	return tokens, err
}
