package services

import (
	"context"
	"testing"
	"time"

	"fiatmesh/internal/events"
	"fiatmesh/internal/evidence"
	"fiatmesh/internal/models"
	"fiatmesh/internal/rates"
	"fiatmesh/internal/store"
)

const (
	addrRequester    = "fm1q20jtq05fmctxxhatu47alvtdknal3q40wgfjn"
	addrCounterparty = "fm1xgf7x4z872deu84r7ux8xrmam9cgva5kgddq4z"
	addrValidator1   = "fm1y43dlv4x5v724xpur59h4qw9pf8pqjsqytul6w"
	addrValidator2   = "fm1y960jewg7es6f70k6ay4dl9tgzw8wm4xtfk5e7"
	addrValidator3   = "fm12njal0ph2n0d28nd0hkzv2uz5uz3vqpwdkfkym"
	addrAdmin        = "fm1tah94tygmsldjeu3v7c3w7pkehnguvqc93t8zg"
)

type testEnv struct {
	store      *store.MemStore
	pub        *events.MemoryPublisher
	engine     *ValidationEngine
	orders     *OrderService
	settlement *SettlementService
	admin      *AdminService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	st := store.NewMemStore()
	pub := &events.MemoryPublisher{}
	engine := &ValidationEngine{
		Store:             st,
		Publisher:         pub,
		FallbackThreshold: 3,
		ReviewRewardCents: 10,
		VoteDeadline:      time.Hour,
		StakeLock:         24 * time.Hour,
		DisputeWindow:     24 * time.Hour,
	}
	orders := &OrderService{
		Store:              st,
		Rates:              rates.NewCache(rates.FixedSource{Value: "83.50"}, time.Minute, ""),
		Evidence:           &evidence.Store{},
		Publisher:          pub,
		Validation:         engine,
		TTL:                time.Hour,
		MinAmountUsdcCents: 100,
		DisputeWindow:      24 * time.Hour,
	}
	return &testEnv{
		store:      st,
		pub:        pub,
		engine:     engine,
		orders:     orders,
		settlement: &SettlementService{Store: st, Publisher: pub},
		admin:      NewAdminService(st, pub, []string{addrAdmin}, 24*time.Hour),
	}
}

func (e *testEnv) registerValidator(t *testing.T, address string, stakeCents int64) {
	t.Helper()
	_, err := e.engine.RegisterValidator(context.Background(), RegisterValidatorInput{
		Address:     address,
		StakedCents: stakeCents,
	})
	if err != nil {
		t.Fatalf("RegisterValidator(%s): %v", address, err)
	}
}

// verifyingOrder walks a sell order through create, match, destination
// proof and payment report, leaving it in verifying with an open task.
func (e *testEnv) verifyingOrder(t *testing.T) (*models.Order, *models.ValidationTask) {
	t.Helper()
	ctx := context.Background()

	order, err := e.orders.Create(ctx, CreateOrderInput{
		Type:             models.OrderSell,
		RequesterID:      "alice",
		RequesterAddress: addrRequester,
		AmountUsdcCents:  5000,
		FiatCurrency:     "INR",
		PaymentMethod:    "upi",
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := e.orders.Match(ctx, order.ID, "bob", addrCounterparty); err != nil {
		t.Fatalf("Match: %v", err)
	}
	if _, err := e.orders.AttachDestinationProof(ctx, order.ID, "alice", []byte("upi-qr")); err != nil {
		t.Fatalf("AttachDestinationProof: %v", err)
	}
	order, err = e.orders.ReportPayment(ctx, order.ID, "bob", []byte("receipt"))
	if err != nil {
		t.Fatalf("ReportPayment: %v", err)
	}
	if order.Status != models.OrderVerifying {
		t.Fatalf("order status = %s, want verifying", order.Status)
	}

	tasks, err := e.engine.ListTasks(ctx, store.TaskFilter{OrderID: order.ID})
	if err != nil {
		t.Fatalf("ListTasks: %v", err)
	}
	if len(tasks) != 1 {
		t.Fatalf("found %d tasks for order, want 1", len(tasks))
	}
	return order, tasks[0]
}

func (e *testEnv) mustGetOrder(t *testing.T, orderID string) *models.Order {
	t.Helper()
	order, err := e.store.GetOrder(context.Background(), orderID)
	if err != nil {
		t.Fatalf("GetOrder(%s): %v", orderID, err)
	}
	return order
}

func (e *testEnv) mustGetValidator(t *testing.T, address string) *models.ValidatorProfile {
	t.Helper()
	v, err := e.store.GetValidator(context.Background(), address)
	if err != nil {
		t.Fatalf("GetValidator(%s): %v", address, err)
	}
	return v
}
