package services

import (
	"context"
	"testing"
	"time"

	"fiatmesh/internal/models"
)

// completedOrder drives an order to completed through the timeout path,
// then rewinds the dispute window if asked.
func completedOrder(t *testing.T, env *testEnv, windowOver bool) *models.Order {
	t.Helper()
	ctx := context.Background()
	env.engine.VoteDeadline = -time.Minute

	order, _ := env.verifyingOrder(t)
	if _, err := env.engine.ResolveDueTasks(ctx, time.Now().UTC()); err != nil {
		t.Fatalf("ResolveDueTasks: %v", err)
	}

	if windowOver {
		past := time.Now().UTC().Add(-time.Minute)
		if _, err := env.store.MutateOrder(ctx, order.ID, func(o *models.Order) error {
			o.DisputePeriodEndsAt = &past
			return nil
		}); err != nil {
			t.Fatal(err)
		}
	}
	return env.mustGetOrder(t, order.ID)
}

func TestSweepSettlesAfterDisputeWindow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	order := completedOrder(t, env, true)

	settled, err := env.settlement.Sweep(ctx, time.Now().UTC())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if settled != 1 {
		t.Fatalf("settled %d orders, want 1", settled)
	}

	got := env.mustGetOrder(t, order.ID)
	if got.Status != models.OrderSettled || got.SettledAt == nil {
		t.Errorf("order = %+v, want settled", got)
	}

	settled, err = env.settlement.Sweep(ctx, time.Now().UTC())
	if err != nil {
		t.Fatalf("second Sweep: %v", err)
	}
	if settled != 0 {
		t.Errorf("second sweep settled %d orders, want 0", settled)
	}
}

func TestSweepRespectsOpenWindow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	order := completedOrder(t, env, false)

	settled, err := env.settlement.Sweep(ctx, time.Now().UTC())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if settled != 0 {
		t.Errorf("settled %d orders inside the dispute window, want 0", settled)
	}
	if got := env.mustGetOrder(t, order.ID); got.Status != models.OrderCompleted {
		t.Errorf("order status = %s, want completed", got.Status)
	}
}

func TestForceSettleBypassesWindow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	order := completedOrder(t, env, false)

	got, err := env.settlement.ForceSettle(ctx, order.ID)
	if err != nil {
		t.Fatalf("ForceSettle: %v", err)
	}
	if got.Status != models.OrderSettled || got.SettledAt == nil {
		t.Errorf("order = %+v, want settled", got)
	}
}

func TestForceSettleRequiresCompleted(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	order, err := env.orders.Create(ctx, CreateOrderInput{
		Type:             models.OrderBuy,
		RequesterID:      "alice",
		RequesterAddress: addrRequester,
		AmountUsdcCents:  5000,
		FiatCurrency:     "INR",
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if _, err := env.settlement.ForceSettle(ctx, order.ID); !IsValidation(err) {
		t.Errorf("ForceSettle on created order: err = %v, want validation error", err)
	}
}
