package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"fiatmesh/internal/models"
)

// MemStore is a thread-safe in-memory Store used by tests and as the
// fallback backend. Records are deep-copied on the way in and out so
// callers can never alias internal state.
type MemStore struct {
	mu           sync.Mutex
	orders       map[string]*models.Order
	tasks        map[int64]*models.ValidationTask
	validators   map[string]*models.ValidatorProfile
	nextTaskID   int64
	nextDerivIdx int64
}

func NewMemStore() *MemStore {
	return &MemStore{
		orders:     make(map[string]*models.Order),
		tasks:      make(map[int64]*models.ValidationTask),
		validators: make(map[string]*models.ValidatorProfile),
	}
}

func (s *MemStore) CreateOrder(ctx context.Context, order *models.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[order.ID] = cloneOrder(order)
	return nil
}

func (s *MemStore) GetOrder(ctx context.Context, orderID string) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.orders[orderID]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneOrder(order), nil
}

func (s *MemStore) ListOrders(ctx context.Context, filter OrderFilter) ([]*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Order
	for _, order := range s.orders {
		if filter.Status != "" && order.Status != filter.Status {
			continue
		}
		if filter.Type != "" && order.Type != filter.Type {
			continue
		}
		if filter.UserID != "" && order.RequesterID != filter.UserID &&
			(order.CounterpartyID == nil || *order.CounterpartyID != filter.UserID) {
			continue
		}
		out = append(out, cloneOrder(order))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemStore) MutateOrder(ctx context.Context, orderID string, fn func(*models.Order) error) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.orders[orderID]
	if !ok {
		return nil, ErrNotFound
	}
	next := cloneOrder(order)
	if err := fn(next); err != nil {
		return nil, err
	}
	s.orders[orderID] = next
	return cloneOrder(next), nil
}

func (s *MemStore) ListSettleDue(ctx context.Context, now time.Time) ([]*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Order
	for _, order := range s.orders {
		if order.Status != models.OrderCompleted {
			continue
		}
		if order.DisputePeriodEndsAt == nil || order.DisputePeriodEndsAt.After(now) {
			continue
		}
		out = append(out, cloneOrder(order))
	}
	return out, nil
}

func (s *MemStore) ListExpiryDue(ctx context.Context, now time.Time) ([]*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Order
	for _, order := range s.orders {
		if order.Status == models.OrderCreated && order.ExpiresAt.Before(now) {
			out = append(out, cloneOrder(order))
		}
	}
	return out, nil
}

func (s *MemStore) NextDerivationIndex(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextDerivIdx++
	return s.nextDerivIdx, nil
}

func (s *MemStore) NextTaskID(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextTaskID++
	return s.nextTaskID, nil
}

func (s *MemStore) CreateTask(ctx context.Context, task *models.ValidationTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[task.ID] = cloneTask(task)
	return nil
}

func (s *MemStore) GetTask(ctx context.Context, taskID int64) (*models.ValidationTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[taskID]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneTask(task), nil
}

func (s *MemStore) GetOpenTaskByOrder(ctx context.Context, orderID string) (*models.ValidationTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, task := range s.tasks {
		if task.OrderID == orderID && task.Status == models.TaskPending {
			return cloneTask(task), nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemStore) ListTasks(ctx context.Context, filter TaskFilter) ([]*models.ValidationTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.ValidationTask
	for _, task := range s.tasks {
		if filter.Status != "" && task.Status != filter.Status {
			continue
		}
		if filter.OrderID != "" && task.OrderID != filter.OrderID {
			continue
		}
		out = append(out, cloneTask(task))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemStore) ListDueTasks(ctx context.Context, now time.Time) ([]*models.ValidationTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.ValidationTask
	for _, task := range s.tasks {
		if task.Status == models.TaskPending && task.Deadline.Before(now) {
			out = append(out, cloneTask(task))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemStore) MutateTask(ctx context.Context, taskID int64, fn func(*models.ValidationTask) error) (*models.ValidationTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[taskID]
	if !ok {
		return nil, ErrNotFound
	}
	next := cloneTask(task)
	if err := fn(next); err != nil {
		return nil, err
	}
	s.tasks[taskID] = next
	return cloneTask(next), nil
}

func (s *MemStore) PutValidator(ctx context.Context, profile *models.ValidatorProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.validators[profile.Address] = cloneValidator(profile)
	return nil
}

func (s *MemStore) GetValidator(ctx context.Context, address string) (*models.ValidatorProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	profile, ok := s.validators[address]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneValidator(profile), nil
}

func (s *MemStore) ListValidators(ctx context.Context) ([]*models.ValidatorProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.ValidatorProfile, 0, len(s.validators))
	for _, profile := range s.validators {
		out = append(out, cloneValidator(profile))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out, nil
}

func (s *MemStore) MutateValidator(ctx context.Context, address string, fn func(*models.ValidatorProfile) error) (*models.ValidatorProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	profile, ok := s.validators[address]
	if !ok {
		return nil, ErrNotFound
	}
	next := cloneValidator(profile)
	if err := fn(next); err != nil {
		return nil, err
	}
	s.validators[address] = next
	return cloneValidator(next), nil
}

func cloneOrder(o *models.Order) *models.Order {
	c := *o
	c.CounterpartyID = cloneStr(o.CounterpartyID)
	c.CounterpartyAddress = cloneStr(o.CounterpartyAddress)
	c.MatchedAt = cloneTime(o.MatchedAt)
	c.PaymentSentAt = cloneTime(o.PaymentSentAt)
	c.CompletedAt = cloneTime(o.CompletedAt)
	c.SettledAt = cloneTime(o.SettledAt)
	c.DisputePeriodEndsAt = cloneTime(o.DisputePeriodEndsAt)
	c.StakeLockExpiresAt = cloneTime(o.StakeLockExpiresAt)
	c.MeetingAt = cloneTime(o.MeetingAt)
	return &c
}

func cloneTask(t *models.ValidationTask) *models.ValidationTask {
	c := *t
	c.Votes = append([]models.ValidationVote(nil), t.Votes...)
	c.ResolvedAt = cloneTime(t.ResolvedAt)
	return &c
}

func cloneValidator(v *models.ValidatorProfile) *models.ValidatorProfile {
	c := *v
	c.Locks = append([]models.StakeLock(nil), v.Locks...)
	c.LastReviewAt = cloneTime(v.LastReviewAt)
	return &c
}

func cloneStr(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
