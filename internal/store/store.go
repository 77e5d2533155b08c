package store

import (
	"context"
	"errors"
	"time"

	"fiatmesh/internal/models"
)

// ErrNotFound is returned when the requested record does not exist.
var ErrNotFound = errors.New("record not found")

type OrderFilter struct {
	Status models.OrderStatus
	Type   models.OrderType
	UserID string
}

type TaskFilter struct {
	Status  models.TaskStatus
	OrderID string
}

// Store is the durable backend for orders, validation tasks and validator
// profiles. Mutate* methods run fn against the current record under a
// per-key lock and persist the result only when fn returns nil, so every
// read-modify-write is atomic per record. fn must not call back into the
// store.
type Store interface {
	CreateOrder(ctx context.Context, order *models.Order) error
	GetOrder(ctx context.Context, orderID string) (*models.Order, error)
	ListOrders(ctx context.Context, filter OrderFilter) ([]*models.Order, error)
	MutateOrder(ctx context.Context, orderID string, fn func(*models.Order) error) (*models.Order, error)
	ListSettleDue(ctx context.Context, now time.Time) ([]*models.Order, error)
	ListExpiryDue(ctx context.Context, now time.Time) ([]*models.Order, error)

	NextDerivationIndex(ctx context.Context) (int64, error)

	NextTaskID(ctx context.Context) (int64, error)
	CreateTask(ctx context.Context, task *models.ValidationTask) error
	GetTask(ctx context.Context, taskID int64) (*models.ValidationTask, error)
	GetOpenTaskByOrder(ctx context.Context, orderID string) (*models.ValidationTask, error)
	ListTasks(ctx context.Context, filter TaskFilter) ([]*models.ValidationTask, error)
	ListDueTasks(ctx context.Context, now time.Time) ([]*models.ValidationTask, error)
	MutateTask(ctx context.Context, taskID int64, fn func(*models.ValidationTask) error) (*models.ValidationTask, error)

	PutValidator(ctx context.Context, profile *models.ValidatorProfile) error
	GetValidator(ctx context.Context, address string) (*models.ValidatorProfile, error)
	ListValidators(ctx context.Context) ([]*models.ValidatorProfile, error)
	MutateValidator(ctx context.Context, address string, fn func(*models.ValidatorProfile) error) (*models.ValidatorProfile, error)
}
