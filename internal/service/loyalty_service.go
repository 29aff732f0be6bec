package service

import (
	"context"
	"errors"
	"fmt"

	"coffeeshop/internal/config"
	"coffeeshop/internal/model"
	"coffeeshop/internal/repository"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// LoyaltyService owns the per-user coffee counter. It does not know about
// orders; the order coordinator decides when a purchase qualifies and makes
// sure each qualifying order is recorded once.
type LoyaltyService struct {
	db          *gorm.DB
	log         *zap.Logger
	loyaltyRepo *repository.LoyaltyRepository
	threshold   int
}

func NewLoyaltyService(db *gorm.DB, cfg *config.Config, log *zap.Logger) *LoyaltyService {
	return &LoyaltyService{
		db:          db,
		log:         log.Named("loyalty"),
		loyaltyRepo: repository.NewLoyaltyRepository(db),
		threshold:   cfg.Business.LoyaltyThreshold,
	}
}

type LoyaltyState struct {
	UserID               int64 `json:"user_id"`
	CoffeeCount          int   `json:"coffee_count"`
	FreeCoffeesGranted   int   `json:"free_coffees_granted"`
	FreeCoffeesUsed      int   `json:"free_coffees_used"`
	AvailableFreeCoffees int   `json:"available_free_coffees"`
	Threshold            int   `json:"threshold"`
	CoffeesUntilNextFree int   `json:"coffees_until_next_free"`
}

func (s *LoyaltyService) Threshold() int {
	return s.threshold
}

func (s *LoyaltyService) state(c *model.LoyaltyCounter) *LoyaltyState {
	return &LoyaltyState{
		UserID:               c.UserID,
		CoffeeCount:          c.CoffeeCount,
		FreeCoffeesGranted:   c.FreeCoffeesGranted,
		FreeCoffeesUsed:      c.FreeCoffeesUsed,
		AvailableFreeCoffees: c.AvailableFreeCoffees(),
		Threshold:            s.threshold,
		CoffeesUntilNextFree: s.threshold - c.CoffeeCount%s.threshold,
	}
}

// IsQualifyingPurchase: exactly one line, quantity one, a coffee, and the order
// did not itself redeem a free coffee.
func IsQualifyingPurchase(items []model.OrderItem, redeemedFreeCoffee bool) bool {
	if redeemedFreeCoffee {
		return false
	}
	return isSingleCoffee(items)
}

func isSingleCoffee(items []model.OrderItem) bool {
	return len(items) == 1 &&
		items[0].Quantity == 1 &&
		items[0].Category == model.ProductCategoryCoffee
}

func (s *LoyaltyService) GetLoyalty(ctx context.Context, userID int64) (*LoyaltyState, error) {
	counter, err := s.loyaltyRepo.GetByUserID(ctx, nil, userID)
	if err != nil {
		if errors.Is(err, repository.ErrLoyaltyNotFound) {
			return s.state(&model.LoyaltyCounter{UserID: userID}), nil
		}
		return nil, err
	}
	return s.state(counter), nil
}

func (s *LoyaltyService) RecordQualifyingPurchase(ctx context.Context, userID int64) (*LoyaltyState, error) {
	return s.inTx(ctx, func(tx *gorm.DB) (*LoyaltyState, error) {
		return s.RecordQualifyingPurchaseTx(ctx, tx, userID)
	})
}

func (s *LoyaltyService) RedeemFreeCoffee(ctx context.Context, userID int64) (*LoyaltyState, error) {
	return s.inTx(ctx, func(tx *gorm.DB) (*LoyaltyState, error) {
		return s.RedeemFreeCoffeeTx(ctx, tx, userID)
	})
}

func (s *LoyaltyService) UnredeemFreeCoffee(ctx context.Context, userID int64) (*LoyaltyState, error) {
	return s.inTx(ctx, func(tx *gorm.DB) (*LoyaltyState, error) {
		return s.UnredeemFreeCoffeeTx(ctx, tx, userID)
	})
}

// RecordQualifyingPurchaseTx adds one coffee and grants a free coffee each time
// the count reaches a multiple of the threshold.
func (s *LoyaltyService) RecordQualifyingPurchaseTx(ctx context.Context, tx *gorm.DB, userID int64) (*LoyaltyState, error) {
	counter, err := s.loyaltyRepo.GetOrCreateForUpdate(ctx, tx, userID)
	if err != nil {
		return nil, fmt.Errorf("lock loyalty counter: %w", err)
	}

	counter.CoffeeCount++
	granted := counter.CoffeeCount / s.threshold
	// A threshold raised by config must not revoke coffees already granted.
	if granted > counter.FreeCoffeesGranted {
		counter.FreeCoffeesGranted = granted
		s.log.Info("free coffee granted",
			zap.Int64("user_id", userID),
			zap.Int("coffee_count", counter.CoffeeCount),
			zap.Int("granted", counter.FreeCoffeesGranted),
		)
	}

	if err := s.save(ctx, tx, counter); err != nil {
		return nil, err
	}
	return s.state(counter), nil
}

func (s *LoyaltyService) RedeemFreeCoffeeTx(ctx context.Context, tx *gorm.DB, userID int64) (*LoyaltyState, error) {
	counter, err := s.loyaltyRepo.GetOrCreateForUpdate(ctx, tx, userID)
	if err != nil {
		return nil, fmt.Errorf("lock loyalty counter: %w", err)
	}

	if counter.AvailableFreeCoffees() <= 0 {
		return nil, fmt.Errorf("%w: %d granted, %d used", ErrNoFreeCoffeeAvailable, counter.FreeCoffeesGranted, counter.FreeCoffeesUsed)
	}
	counter.FreeCoffeesUsed++

	if err := s.save(ctx, tx, counter); err != nil {
		return nil, err
	}
	return s.state(counter), nil
}

// UnredeemFreeCoffeeTx gives back a redeemed free coffee. Used is never taken
// below zero.
func (s *LoyaltyService) UnredeemFreeCoffeeTx(ctx context.Context, tx *gorm.DB, userID int64) (*LoyaltyState, error) {
	counter, err := s.loyaltyRepo.GetOrCreateForUpdate(ctx, tx, userID)
	if err != nil {
		return nil, fmt.Errorf("lock loyalty counter: %w", err)
	}

	if counter.FreeCoffeesUsed == 0 {
		s.log.Warn("unredeem with nothing used", zap.Int64("user_id", userID))
		return s.state(counter), nil
	}
	counter.FreeCoffeesUsed--

	if err := s.save(ctx, tx, counter); err != nil {
		return nil, err
	}
	return s.state(counter), nil
}

func (s *LoyaltyService) save(ctx context.Context, tx *gorm.DB, counter *model.LoyaltyCounter) error {
	if err := s.loyaltyRepo.SaveCounts(ctx, tx, counter); err != nil {
		if errors.Is(err, repository.ErrOptimisticLock) {
			return fmt.Errorf("%w: loyalty counter of user %d", ErrConcurrentModification, counter.UserID)
		}
		return fmt.Errorf("save loyalty counter: %w", err)
	}
	return nil
}

func (s *LoyaltyService) inTx(ctx context.Context, fn func(tx *gorm.DB) (*LoyaltyState, error)) (*LoyaltyState, error) {
	var state *LoyaltyState
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		state, err = fn(tx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return state, nil
}
