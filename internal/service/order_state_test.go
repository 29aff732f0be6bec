package service

import (
	"context"
	"testing"

	"coffeeshop/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func placeCashOrder(t *testing.T, env *testEnv, userID int64) *model.Order {
	t.Helper()
	coffee := env.addProduct(t, "Flat White", model.ProductCategoryCoffee, 1800)
	order, err := env.orders.PlaceOrder(context.Background(), &PlaceOrderRequest{
		UserID:        userID,
		Items:         singleCoffee(coffee),
		PaymentMethod: model.PaymentMethodCash,
	})
	require.NoError(t, err)
	return order
}

func TestTransitionWalksLifecycle(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	order := placeCashOrder(t, env, 1)

	path := []string{
		model.OrderStatusPending,
		model.OrderStatusAccepted,
		model.OrderStatusPreparing,
		model.OrderStatusReady,
		model.OrderStatusCompleted,
	}
	for i := 1; i < len(path); i++ {
		updated, err := env.orders.states.Transition(ctx, nil, order.OrderNo, path[i-1], path[i])
		require.NoError(t, err)
		assert.Equal(t, path[i], updated.Status)
		assert.True(t, updated.StatusChangedAt.Equal(env.clock.Now()))
	}

	stored, err := env.orders.GetOrder(ctx, order.OrderNo, 1, RoleCustomer)
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusCompleted, stored.Status)
	assert.True(t, stored.IsTerminal())
}

func TestTransitionRejectsIllegalEdges(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	order := placeCashOrder(t, env, 1)

	edges := [][2]string{
		{model.OrderStatusPending, model.OrderStatusPreparing},
		{model.OrderStatusPending, model.OrderStatusCompleted},
		{model.OrderStatusAccepted, model.OrderStatusCancelled},
		{model.OrderStatusReady, model.OrderStatusPending},
		{model.OrderStatusCompleted, model.OrderStatusCancelled},
		{model.OrderStatusCancelled, model.OrderStatusPending},
		{model.OrderStatusPending, model.OrderStatusPending},
	}
	for _, e := range edges {
		_, err := env.orders.states.Transition(ctx, nil, order.OrderNo, e[0], e[1])
		assert.ErrorIs(t, err, ErrInvalidTransition, "%s -> %s", e[0], e[1])
	}

	stored, err := env.orders.GetOrder(ctx, order.OrderNo, 1, RoleCustomer)
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusPending, stored.Status)
}

func TestTransitionDetectsStaleExpectation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	order := placeCashOrder(t, env, 1)

	_, err := env.orders.states.Transition(ctx, nil, order.OrderNo, model.OrderStatusPending, model.OrderStatusAccepted)
	require.NoError(t, err)

	_, err = env.orders.states.Transition(ctx, nil, order.OrderNo, model.OrderStatusPending, model.OrderStatusCancelled)
	require.ErrorIs(t, err, ErrConcurrentModification)
	assert.True(t, IsRetryable(err))
}

func TestTransitionUnknownOrder(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.orders.states.Transition(context.Background(), nil, "CO-missing", model.OrderStatusPending, model.OrderStatusAccepted)
	assert.ErrorIs(t, err, ErrOrderNotFound)
}
