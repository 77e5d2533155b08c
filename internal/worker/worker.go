package worker

import (
	"context"
	"errors"
	"time"

	"fiatmesh/internal/metrics"
	"fiatmesh/internal/services"

	log "github.com/sirupsen/logrus"
)

// Worker drives the periodic sweeps: order expiry, vote-deadline
// auto-approval and settlement. Every sweep is idempotent, so running
// several worker instances at once is safe.
type Worker struct {
	Orders     *services.OrderService
	Validation *services.ValidationEngine
	Settlement *services.SettlementService
	Interval   time.Duration
}

func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.Interval)
	defer ticker.Stop()

	for {
		if err := w.SweepOnce(ctx); err != nil {
			log.WithError(err).Error("sweep error")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// SweepOnce runs every sweep even when an earlier one fails, so a broken
// expiry pass cannot starve settlement.
func (w *Worker) SweepOnce(ctx context.Context) error {
	start := time.Now()
	now := start.UTC()

	expired, expireErr := w.Orders.ExpireDue(ctx, now)
	autoApproved, taskErr := w.Validation.ResolveDueTasks(ctx, now)
	settled, settleErr := w.Settlement.Sweep(ctx, now)

	metrics.SweepDuration.Observe(time.Since(start).Seconds())
	if expired+autoApproved+settled > 0 {
		log.WithFields(log.Fields{
			"expired":       expired,
			"auto_approved": autoApproved,
			"settled":       settled,
		}).Info("sweep applied transitions")
	}
	return errors.Join(expireErr, taskErr, settleErr)
}
