package services

import (
	"context"
	"testing"
	"time"

	"fiatmesh/internal/models"
)

// disputedOrder drives an order to disputed with its task escalated.
func disputedOrder(t *testing.T, env *testEnv) (*models.Order, *models.ValidationTask) {
	t.Helper()
	ctx := context.Background()

	order, task := env.verifyingOrder(t)
	if _, err := env.orders.Dispute(ctx, order.ID, "alice"); err != nil {
		t.Fatalf("Dispute: %v", err)
	}
	frozen, err := env.engine.GetTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	return env.mustGetOrder(t, order.ID), frozen
}

func TestAdminAuthorization(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	order, task := disputedOrder(t, env)

	if _, err := env.admin.ResolveDispute(ctx, addrValidator1, order.ID, ResolutionApprove); !IsAuthorization(err) {
		t.Errorf("non-admin dispute resolution: err = %v", err)
	}
	if _, err := env.admin.ResolveValidation(ctx, addrValidator1, task.ID, ResolutionApprove); !IsAuthorization(err) {
		t.Errorf("non-admin validation resolution: err = %v", err)
	}

	// Rejected calls change nothing.
	if got := env.mustGetOrder(t, order.ID); got.Status != models.OrderDisputed {
		t.Errorf("order status = %s after rejected call", got.Status)
	}
	got, err := env.engine.GetTask(ctx, task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != models.TaskEscalated {
		t.Errorf("task status = %s after rejected call", got.Status)
	}
}

func TestResolveDisputeApprove(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	order, _ := disputedOrder(t, env)

	got, err := env.admin.ResolveDispute(ctx, addrAdmin, order.ID, ResolutionApprove)
	if err != nil {
		t.Fatalf("ResolveDispute: %v", err)
	}
	if got.Status != models.OrderCompleted || got.CompletedAt == nil || got.DisputePeriodEndsAt == nil {
		t.Errorf("order = %+v, want completed with a fresh dispute window", got)
	}
}

func TestResolveDisputeRefund(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	order, _ := disputedOrder(t, env)

	got, err := env.admin.ResolveDispute(ctx, addrAdmin, order.ID, ResolutionRefund)
	if err != nil {
		t.Fatalf("ResolveDispute: %v", err)
	}
	if got.Status != models.OrderCancelled {
		t.Errorf("status = %s, want cancelled", got.Status)
	}
}

func TestResolveDisputeScheduleMeet(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	order, _ := disputedOrder(t, env)

	got, err := env.admin.ResolveDispute(ctx, addrAdmin, order.ID, ResolutionScheduleMeet)
	if err != nil {
		t.Fatalf("ResolveDispute: %v", err)
	}
	if got.Status != models.OrderMediation {
		t.Errorf("status = %s, want mediation", got.Status)
	}
	if got.MeetingRef == "" || got.MeetingAt == nil {
		t.Errorf("meeting details missing: %+v", got)
	}
	if !got.MeetingAt.After(time.Now().UTC()) {
		t.Errorf("MeetingAt = %v is not in the future", got.MeetingAt)
	}

	// A mediated order can still be closed out by the admin.
	final, err := env.admin.ResolveDispute(ctx, addrAdmin, order.ID, ResolutionApprove)
	if err != nil {
		t.Fatalf("ResolveDispute after mediation: %v", err)
	}
	if final.Status != models.OrderCompleted {
		t.Errorf("status = %s, want completed", final.Status)
	}
}

func TestResolveDisputeRejections(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	order, _ := disputedOrder(t, env)

	if _, err := env.admin.ResolveDispute(ctx, addrAdmin, order.ID, "split"); !IsValidation(err) {
		t.Errorf("unknown resolution: err = %v", err)
	}

	if _, err := env.admin.ResolveDispute(ctx, addrAdmin, order.ID, ResolutionRefund); err != nil {
		t.Fatalf("ResolveDispute: %v", err)
	}
	if _, err := env.admin.ResolveDispute(ctx, addrAdmin, order.ID, ResolutionApprove); !IsValidation(err) {
		t.Errorf("resolve on cancelled order: err = %v", err)
	}
}

func TestResolveValidationApprove(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	order, task := disputedOrder(t, env)

	got, err := env.admin.ResolveValidation(ctx, addrAdmin, task.ID, ResolutionApprove)
	if err != nil {
		t.Fatalf("ResolveValidation: %v", err)
	}
	if got.Status != models.TaskApproved || got.ResolvedBy != models.ResolvedByAdmin {
		t.Errorf("task = %s/%s, want approved by admin", got.Status, got.ResolvedBy)
	}
	if o := env.mustGetOrder(t, order.ID); o.Status != models.OrderCompleted {
		t.Errorf("order status = %s, want completed", o.Status)
	}
}

func TestResolveValidationSlash(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	order, task := disputedOrder(t, env)

	got, err := env.admin.ResolveValidation(ctx, addrAdmin, task.ID, ResolutionSlash)
	if err != nil {
		t.Fatalf("ResolveValidation: %v", err)
	}
	if got.Status != models.TaskFlagged || got.ResolvedBy != models.ResolvedByAdmin {
		t.Errorf("task = %s/%s, want flagged by admin", got.Status, got.ResolvedBy)
	}
	if o := env.mustGetOrder(t, order.ID); o.Status != models.OrderCancelled {
		t.Errorf("order status = %s, want cancelled", o.Status)
	}
}

func TestResolveValidationScheduleMeet(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, task := disputedOrder(t, env)

	got, err := env.admin.ResolveValidation(ctx, addrAdmin, task.ID, ResolutionScheduleMeet)
	if err != nil {
		t.Fatalf("ResolveValidation: %v", err)
	}
	if got.Status != models.TaskEscalated {
		t.Errorf("task status = %s, want escalated to stay", got.Status)
	}
}

func TestResolveValidationStatusGuards(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// A pending task belongs to the validators, not the admin.
	_, pending := env.verifyingOrder(t)
	if _, err := env.admin.ResolveValidation(ctx, addrAdmin, pending.ID, ResolutionApprove); !IsValidation(err) {
		t.Errorf("resolve pending task: err = %v", err)
	}

	// A resolved task is final.
	_, task := disputedOrder(t, env)
	if _, err := env.admin.ResolveValidation(ctx, addrAdmin, task.ID, ResolutionApprove); err != nil {
		t.Fatalf("ResolveValidation: %v", err)
	}
	if _, err := env.admin.ResolveValidation(ctx, addrAdmin, task.ID, ResolutionSlash); !IsValidation(err) {
		t.Errorf("resolve resolved task: err = %v", err)
	}
}
