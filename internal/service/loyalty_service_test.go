package service

import (
	"context"
	"testing"

	"coffeeshop/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordQualifyingPurchaseGrantsAtThreshold(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.earnCoffees(t, 1, 9)

	state, err := env.loyalty.GetLoyalty(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 9, state.CoffeeCount)
	assert.Zero(t, state.FreeCoffeesGranted)
	assert.Equal(t, 1, state.CoffeesUntilNextFree)

	state, err = env.loyalty.RecordQualifyingPurchase(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 10, state.CoffeeCount)
	assert.Equal(t, 1, state.FreeCoffeesGranted)
	assert.Equal(t, 1, state.AvailableFreeCoffees)
	assert.Equal(t, 10, state.CoffeesUntilNextFree)
}

func TestRedeemFreeCoffeeRequiresEntitlement(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.loyalty.RedeemFreeCoffee(ctx, 1)
	require.ErrorIs(t, err, ErrNoFreeCoffeeAvailable)

	env.earnCoffees(t, 1, 10)
	state, err := env.loyalty.RedeemFreeCoffee(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, state.FreeCoffeesUsed)
	assert.Zero(t, state.AvailableFreeCoffees)

	_, err = env.loyalty.RedeemFreeCoffee(ctx, 1)
	assert.ErrorIs(t, err, ErrNoFreeCoffeeAvailable)
}

func TestUnredeemFreeCoffeeNeverGoesNegative(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	state, err := env.loyalty.UnredeemFreeCoffee(ctx, 1)
	require.NoError(t, err)
	assert.Zero(t, state.FreeCoffeesUsed)

	env.earnCoffees(t, 1, 10)
	_, err = env.loyalty.RedeemFreeCoffee(ctx, 1)
	require.NoError(t, err)

	state, err = env.loyalty.UnredeemFreeCoffee(ctx, 1)
	require.NoError(t, err)
	assert.Zero(t, state.FreeCoffeesUsed)
	assert.Equal(t, 1, state.AvailableFreeCoffees)
}

func TestAvailableFreeCoffeesInvariant(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	threshold := env.loyalty.Threshold()

	redeemed := 0
	for i := 1; i <= 3*threshold+4; i++ {
		_, err := env.loyalty.RecordQualifyingPurchase(ctx, 5)
		require.NoError(t, err)
		if i%7 == 0 {
			if _, err := env.loyalty.RedeemFreeCoffee(ctx, 5); err == nil {
				redeemed++
			} else {
				require.ErrorIs(t, err, ErrNoFreeCoffeeAvailable)
			}
		}

		state, err := env.loyalty.GetLoyalty(ctx, 5)
		require.NoError(t, err)
		assert.Equal(t, state.CoffeeCount/threshold-state.FreeCoffeesUsed, state.AvailableFreeCoffees)
		assert.GreaterOrEqual(t, state.AvailableFreeCoffees, 0)
	}
	assert.Positive(t, redeemed)
}

func TestIsQualifyingPurchase(t *testing.T) {
	coffee := model.OrderItem{Category: model.ProductCategoryCoffee, Quantity: 1}
	pastry := model.OrderItem{Category: "pastry", Quantity: 1}
	twoCoffees := model.OrderItem{Category: model.ProductCategoryCoffee, Quantity: 2}

	tests := []struct {
		name     string
		items    []model.OrderItem
		redeemed bool
		want     bool
	}{
		{"single coffee", []model.OrderItem{coffee}, false, true},
		{"free coffee redemption", []model.OrderItem{coffee}, true, false},
		{"pastry", []model.OrderItem{pastry}, false, false},
		{"two lines", []model.OrderItem{coffee, pastry}, false, false},
		{"quantity two", []model.OrderItem{twoCoffees}, false, false},
		{"empty", nil, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsQualifyingPurchase(tt.items, tt.redeemed))
		})
	}
}
