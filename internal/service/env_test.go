package service

import (
	"context"
	"testing"

	"coffeeshop/internal/config"
	"coffeeshop/internal/model"
	"coffeeshop/internal/repository"
	"coffeeshop/internal/testutil"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
)

type testEnv struct {
	db      *gorm.DB
	cfg     *config.Config
	clock   *testutil.Clock
	balance *BalanceService
	loyalty *LoyaltyService
	qr      *QRService
	catalog *CachedCatalog
	orders  *OrderService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db := testutil.NewSQLiteDB(t)
	cfg := config.Default()
	log := zaptest.NewLogger(t)
	clock := testutil.NewClock()

	balance := NewBalanceService(db, log)
	balance.now = clock.Now
	loyalty := NewLoyaltyService(db, cfg, log)
	qr := NewQRService(db, cfg, balance, log)
	qr.now = clock.Now
	catalog := NewCachedCatalog(db, nil, cfg.Business.ProductCacheTTL(), log)
	orders := NewOrderService(db, nil, cfg, balance, loyalty, catalog, log)
	orders.now = clock.Now
	orders.states.now = clock.Now

	return &testEnv{
		db:      db,
		cfg:     cfg,
		clock:   clock,
		balance: balance,
		loyalty: loyalty,
		qr:      qr,
		catalog: catalog,
		orders:  orders,
	}
}

func (e *testEnv) addProduct(t *testing.T, name, category string, price int64) *model.Product {
	t.Helper()
	p := &model.Product{Name: name, Category: category, Price: price, IsAvailable: true}
	require.NoError(t, repository.NewProductRepository(e.db).Create(context.Background(), p))
	return p
}

func (e *testEnv) fund(t *testing.T, userID, amount int64) {
	t.Helper()
	_, err := e.balance.Credit(context.Background(), userID, amount, model.TransactionTypeDeposit, "seed", "test deposit")
	require.NoError(t, err)
}

func (e *testEnv) earnCoffees(t *testing.T, userID int64, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		_, err := e.loyalty.RecordQualifyingPurchase(context.Background(), userID)
		require.NoError(t, err)
	}
}

func (e *testEnv) requireLedgerConsistent(t *testing.T, userID int64) {
	t.Helper()
	audit, err := e.balance.VerifyLedger(context.Background(), userID)
	require.NoError(t, err)
	require.True(t, audit.Consistent(), "ledger of user %d: %+v", userID, audit)
}

func (e *testEnv) count(t *testing.T, m interface{}) int64 {
	t.Helper()
	var n int64
	require.NoError(t, e.db.Model(m).Count(&n).Error)
	return n
}

func singleCoffee(p *model.Product) []PlaceOrderItem {
	return []PlaceOrderItem{{ProductID: p.ID, Quantity: 1}}
}
