package services

import (
	"context"
	"time"

	"fiatmesh/internal/events"
	"fiatmesh/internal/metrics"
	"fiatmesh/internal/models"
	"fiatmesh/internal/store"

	log "github.com/sirupsen/logrus"
)

// SettlementService finalizes completed orders once their dispute window
// has elapsed. Transitions are status-guarded, so the sweep is idempotent
// and safe to run from multiple instances.
type SettlementService struct {
	Store     store.Store
	Publisher events.Publisher
}

// Sweep settles every completed order whose dispute window has passed and
// returns the number settled.
func (s *SettlementService) Sweep(ctx context.Context, now time.Time) (int, error) {
	due, err := s.Store.ListSettleDue(ctx, now)
	if err != nil {
		return 0, err
	}
	settled := 0
	for _, order := range due {
		if err := s.settle(ctx, order.ID, now, false); err != nil {
			if !IsValidation(err) {
				log.WithFields(log.Fields{"order": order.ID, "error": err}).Warn("settlement failed")
			}
			continue
		}
		settled++
	}
	return settled, nil
}

// ForceSettle settles a completed order immediately, bypassing the
// dispute window. Admin and test path.
func (s *SettlementService) ForceSettle(ctx context.Context, orderID string) (*models.Order, error) {
	now := time.Now().UTC()
	if err := s.settle(ctx, orderID, now, true); err != nil {
		return nil, err
	}
	return s.Store.GetOrder(ctx, orderID)
}

func (s *SettlementService) settle(ctx context.Context, orderID string, now time.Time, force bool) error {
	_, err := s.Store.MutateOrder(ctx, orderID, func(o *models.Order) error {
		if o.Status != models.OrderCompleted {
			return validationf("order status %s does not allow settlement", o.Status)
		}
		if !force && (o.DisputePeriodEndsAt == nil || o.DisputePeriodEndsAt.After(now)) {
			return validationf("dispute window is still open")
		}
		o.Status = models.OrderSettled
		o.SettledAt = &now
		return nil
	})
	if err != nil {
		return err
	}
	metrics.OrdersSettledTotal.Inc()
	s.Publisher.Publish(ctx, events.OrderChanged{OrderID: orderID, Kind: string(models.OrderSettled)})
	return nil
}
