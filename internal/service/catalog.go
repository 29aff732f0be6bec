package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"coffeeshop/internal/model"
	"coffeeshop/internal/repository"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ProductCatalog is the read-only price and category lookup used when pricing
// an order.
type ProductCatalog interface {
	GetProduct(ctx context.Context, productID int64) (*model.Product, error)
}

// CachedCatalog reads products through a redis cache-aside layer. A nil redis
// client disables caching.
type CachedCatalog struct {
	productRepo *repository.ProductRepository
	rdb         *redis.Client
	ttl         time.Duration
	log         *zap.Logger
}

func NewCachedCatalog(db *gorm.DB, rdb *redis.Client, ttl time.Duration, log *zap.Logger) *CachedCatalog {
	return &CachedCatalog{
		productRepo: repository.NewProductRepository(db),
		rdb:         rdb,
		ttl:         ttl,
		log:         log.Named("catalog"),
	}
}

func productCacheKey(productID int64) string {
	return fmt.Sprintf("coffeeshop:product:%d", productID)
}

func (c *CachedCatalog) GetProduct(ctx context.Context, productID int64) (*model.Product, error) {
	if c.rdb != nil {
		raw, err := c.rdb.Get(ctx, productCacheKey(productID)).Bytes()
		switch {
		case err == nil:
			var p model.Product
			if jsonErr := json.Unmarshal(raw, &p); jsonErr == nil {
				return &p, nil
			}
			c.log.Warn("drop corrupt product cache entry", zap.Int64("product_id", productID))
		case !errors.Is(err, redis.Nil):
			c.log.Warn("product cache read failed", zap.Int64("product_id", productID), zap.Error(err))
		}
	}

	p, err := c.productRepo.GetByID(ctx, productID)
	if err != nil {
		if errors.Is(err, repository.ErrProductNotFound) {
			return nil, fmt.Errorf("%w: product %d does not exist", ErrProductUnavailable, productID)
		}
		return nil, err
	}

	if c.rdb != nil {
		if raw, err := json.Marshal(p); err == nil {
			if err := c.rdb.Set(ctx, productCacheKey(productID), raw, c.ttl).Err(); err != nil {
				c.log.Warn("product cache write failed", zap.Int64("product_id", productID), zap.Error(err))
			}
		}
	}
	return p, nil
}

// Invalidate drops the cached copy after a price or availability change.
func (c *CachedCatalog) Invalidate(ctx context.Context, productID int64) error {
	if c.rdb == nil {
		return nil
	}
	return c.rdb.Del(ctx, productCacheKey(productID)).Err()
}

// SetAvailability toggles a product and invalidates its cache entry.
func (c *CachedCatalog) SetAvailability(ctx context.Context, productID int64, available bool) error {
	if err := c.productRepo.SetAvailability(ctx, productID, available); err != nil {
		if errors.Is(err, repository.ErrProductNotFound) {
			return fmt.Errorf("%w: product %d does not exist", ErrProductUnavailable, productID)
		}
		return err
	}
	return c.Invalidate(ctx, productID)
}
