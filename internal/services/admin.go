package services

import (
	"context"
	"time"

	"fiatmesh/internal/events"
	"fiatmesh/internal/metrics"
	"fiatmesh/internal/models"
	"fiatmesh/internal/store"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

const (
	ResolutionApprove      = "approve"
	ResolutionRefund       = "refund"
	ResolutionSlash        = "slash"
	ResolutionScheduleMeet = "schedule_meet"
)

// AdminService is the privileged override path for escalated tasks and
// user-raised disputes. Callers must be on the configured allow-list.
type AdminService struct {
	Store     store.Store
	Publisher events.Publisher

	Admins        map[string]struct{}
	DisputeWindow time.Duration
}

func NewAdminService(st store.Store, pub events.Publisher, addresses []string, disputeWindow time.Duration) *AdminService {
	admins := make(map[string]struct{}, len(addresses))
	for _, a := range addresses {
		admins[a] = struct{}{}
	}
	return &AdminService{Store: st, Publisher: pub, Admins: admins, DisputeWindow: disputeWindow}
}

// Authorize rejects callers that are not on the admin allow-list.
func (s *AdminService) Authorize(address string) error {
	if _, ok := s.Admins[address]; !ok {
		return authorizationf("address %s is not an admin", address)
	}
	return nil
}

// ResolveDispute settles a disputed or mediated order by admin decision.
func (s *AdminService) ResolveDispute(ctx context.Context, adminAddress, orderID, resolution string) (*models.Order, error) {
	if err := s.Authorize(adminAddress); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	var kind models.OrderStatus
	order, err := s.Store.MutateOrder(ctx, orderID, func(o *models.Order) error {
		if o.Status != models.OrderDisputed && o.Status != models.OrderMediation {
			return validationf("order status %s does not allow dispute resolution", o.Status)
		}
		switch resolution {
		case ResolutionApprove:
			completeOrder(o, now, s.DisputeWindow)
			kind = models.OrderCompleted
		case ResolutionRefund:
			o.Status = models.OrderCancelled
			kind = models.OrderCancelled
		case ResolutionScheduleMeet:
			o.Status = models.OrderMediation
			o.MeetingRef = uuid.NewString()
			meetingAt := now.Add(24 * time.Hour)
			o.MeetingAt = &meetingAt
			kind = models.OrderMediation
		default:
			return validationf("unknown resolution %q", resolution)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	log.WithFields(log.Fields{"order": orderID, "resolution": resolution, "admin": adminAddress}).
		Info("dispute resolved")
	s.Publisher.Publish(ctx, events.OrderChanged{OrderID: orderID, Kind: string(kind)})
	return order, nil
}

// ResolveValidation settles an escalated validation task. Pending tasks
// stay with the validators; already-resolved tasks are rejected.
func (s *AdminService) ResolveValidation(ctx context.Context, adminAddress string, taskID int64, resolution string) (*models.ValidationTask, error) {
	if err := s.Authorize(adminAddress); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	task, err := s.Store.MutateTask(ctx, taskID, func(t *models.ValidationTask) error {
		switch t.Status {
		case models.TaskEscalated:
		case models.TaskPending:
			return validationf("task %d is pending validator review", taskID)
		default:
			return validationf("task %d is already resolved", taskID)
		}
		switch resolution {
		case ResolutionApprove:
			t.Status = models.TaskApproved
			t.ResolvedAt = &now
			t.ResolvedBy = models.ResolvedByAdmin
		case ResolutionSlash:
			t.Status = models.TaskFlagged
			t.ResolvedAt = &now
			t.ResolvedBy = models.ResolvedByAdmin
		case ResolutionScheduleMeet:
			// Informational only; the task stays escalated.
		default:
			return validationf("unknown resolution %q", resolution)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	switch task.Status {
	case models.TaskApproved:
		metrics.TasksResolvedTotal.WithLabelValues(string(models.TaskApproved)).Inc()
		s.driveOrderCompleted(ctx, task.OrderID, now)
	case models.TaskFlagged:
		metrics.TasksResolvedTotal.WithLabelValues(string(models.TaskFlagged)).Inc()
		s.driveOrderCancelled(ctx, task.OrderID)
	}
	return task, nil
}

func (s *AdminService) driveOrderCompleted(ctx context.Context, orderID string, now time.Time) {
	_, err := s.Store.MutateOrder(ctx, orderID, func(o *models.Order) error {
		if o.Status != models.OrderVerifying && o.Status != models.OrderDisputed {
			return validationf("order status %s does not allow completion", o.Status)
		}
		completeOrder(o, now, s.DisputeWindow)
		return nil
	})
	if err != nil {
		if !IsValidation(err) {
			log.WithFields(log.Fields{"order": orderID, "error": err}).Warn("admin completion failed")
		}
		return
	}
	s.Publisher.Publish(ctx, events.OrderChanged{OrderID: orderID, Kind: string(models.OrderCompleted)})
}

func (s *AdminService) driveOrderCancelled(ctx context.Context, orderID string) {
	_, err := s.Store.MutateOrder(ctx, orderID, func(o *models.Order) error {
		switch o.Status {
		case models.OrderVerifying, models.OrderDisputed, models.OrderMediation:
			o.Status = models.OrderCancelled
			return nil
		default:
			return validationf("order status %s does not allow cancellation", o.Status)
		}
	})
	if err != nil {
		if !IsValidation(err) {
			log.WithFields(log.Fields{"order": orderID, "error": err}).Warn("admin cancellation failed")
		}
		return
	}
	s.Publisher.Publish(ctx, events.OrderChanged{OrderID: orderID, Kind: string(models.OrderCancelled)})
}
