package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"fiatmesh/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGStore is the Postgres-backed Store. Mutate* methods take a row lock
// (SELECT ... FOR UPDATE) inside a transaction so concurrent writers to the
// same record serialize instead of losing updates.
type PGStore struct {
	Pool *pgxpool.Pool
}

func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{Pool: pool}
}

const orderColumns = `
	id, type, status, requester_id, requester_address,
	counterparty_id, counterparty_address,
	amount_usdc_cents, amount_fiat_cents, fiat_currency,
	payment_method, payment_details,
	requester_proof_ref, payment_proof_ref,
	escrow_address, derivation_index,
	created_at, updated_at, expires_at,
	matched_at, payment_sent_at, completed_at, settled_at,
	dispute_period_ends_at, stake_lock_expires_at,
	meeting_ref, meeting_at, meeting_contact`

func (s *PGStore) CreateOrder(ctx context.Context, order *models.Order) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO orders (`+orderColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,
			$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25,$26,$27,$28)
	`, orderArgs(order)...)
	return err
}

func orderArgs(o *models.Order) []any {
	return []any{
		o.ID, o.Type, o.Status, o.RequesterID, o.RequesterAddress,
		o.CounterpartyID, o.CounterpartyAddress,
		o.AmountUsdcCents, o.AmountFiatCents, o.FiatCurrency,
		o.PaymentMethod, o.PaymentDetails,
		o.RequesterProofRef, o.PaymentProofRef,
		o.EscrowAddress, o.DerivationIndex,
		o.CreatedAt, o.UpdatedAt, o.ExpiresAt,
		o.MatchedAt, o.PaymentSentAt, o.CompletedAt, o.SettledAt,
		o.DisputePeriodEndsAt, o.StakeLockExpiresAt,
		o.MeetingRef, o.MeetingAt, o.MeetingContact,
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*models.Order, error) {
	var order models.Order
	var counterpartyID, counterpartyAddr sql.NullString
	var matchedAt, paymentSentAt, completedAt, settledAt sql.NullTime
	var disputeEndsAt, stakeLockAt, meetingAt sql.NullTime

	err := row.Scan(
		&order.ID, &order.Type, &order.Status, &order.RequesterID, &order.RequesterAddress,
		&counterpartyID, &counterpartyAddr,
		&order.AmountUsdcCents, &order.AmountFiatCents, &order.FiatCurrency,
		&order.PaymentMethod, &order.PaymentDetails,
		&order.RequesterProofRef, &order.PaymentProofRef,
		&order.EscrowAddress, &order.DerivationIndex,
		&order.CreatedAt, &order.UpdatedAt, &order.ExpiresAt,
		&matchedAt, &paymentSentAt, &completedAt, &settledAt,
		&disputeEndsAt, &stakeLockAt,
		&order.MeetingRef, &meetingAt, &order.MeetingContact,
	)
	if err != nil {
		return nil, err
	}

	if counterpartyID.Valid {
		order.CounterpartyID = &counterpartyID.String
	}
	if counterpartyAddr.Valid {
		order.CounterpartyAddress = &counterpartyAddr.String
	}
	order.MatchedAt = timePtr(matchedAt)
	order.PaymentSentAt = timePtr(paymentSentAt)
	order.CompletedAt = timePtr(completedAt)
	order.SettledAt = timePtr(settledAt)
	order.DisputePeriodEndsAt = timePtr(disputeEndsAt)
	order.StakeLockExpiresAt = timePtr(stakeLockAt)
	order.MeetingAt = timePtr(meetingAt)
	return &order, nil
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func (s *PGStore) GetOrder(ctx context.Context, orderID string) (*models.Order, error) {
	row := s.Pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id=$1`, orderID)
	order, err := scanOrder(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return order, err
}

func (s *PGStore) ListOrders(ctx context.Context, filter OrderFilter) ([]*models.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE 1=1`
	var args []any
	if filter.Status != "" {
		args = append(args, filter.Status)
		query += ` AND status=$` + itoa(len(args))
	}
	if filter.Type != "" {
		args = append(args, filter.Type)
		query += ` AND type=$` + itoa(len(args))
	}
	if filter.UserID != "" {
		args = append(args, filter.UserID)
		n := itoa(len(args))
		query += ` AND (requester_id=$` + n + ` OR counterparty_id=$` + n + `)`
	}
	query += ` ORDER BY created_at`
	return s.queryOrders(ctx, query, args...)
}

func (s *PGStore) ListSettleDue(ctx context.Context, now time.Time) ([]*models.Order, error) {
	return s.queryOrders(ctx, `
		SELECT `+orderColumns+` FROM orders
		WHERE status='completed' AND dispute_period_ends_at <= $1
	`, now)
}

func (s *PGStore) ListExpiryDue(ctx context.Context, now time.Time) ([]*models.Order, error) {
	return s.queryOrders(ctx, `
		SELECT `+orderColumns+` FROM orders
		WHERE status='created' AND expires_at < $1
	`, now)
}

func (s *PGStore) queryOrders(ctx context.Context, query string, args ...any) ([]*models.Order, error) {
	rows, err := s.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []*models.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	return orders, rows.Err()
}

func (s *PGStore) MutateOrder(ctx context.Context, orderID string, fn func(*models.Order) error) (*models.Order, error) {
	var out *models.Order
	err := pgx.BeginFunc(ctx, s.Pool, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id=$1 FOR UPDATE`, orderID)
		order, err := scanOrder(row)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		if err := fn(order); err != nil {
			return err
		}
		order.UpdatedAt = time.Now().UTC()
		_, err = tx.Exec(ctx, `
			UPDATE orders SET
				type=$2, status=$3, requester_id=$4, requester_address=$5,
				counterparty_id=$6, counterparty_address=$7,
				amount_usdc_cents=$8, amount_fiat_cents=$9, fiat_currency=$10,
				payment_method=$11, payment_details=$12,
				requester_proof_ref=$13, payment_proof_ref=$14,
				escrow_address=$15, derivation_index=$16,
				created_at=$17, updated_at=$18, expires_at=$19,
				matched_at=$20, payment_sent_at=$21, completed_at=$22, settled_at=$23,
				dispute_period_ends_at=$24, stake_lock_expires_at=$25,
				meeting_ref=$26, meeting_at=$27, meeting_contact=$28
			WHERE id=$1
		`, orderArgs(order)...)
		if err != nil {
			return err
		}
		out = order
		return nil
	})
	return out, err
}

func (s *PGStore) NextDerivationIndex(ctx context.Context) (int64, error) {
	var idx int64
	err := s.Pool.QueryRow(ctx, "SELECT nextval('order_derivation_index_seq')").Scan(&idx)
	return idx, err
}

func (s *PGStore) NextTaskID(ctx context.Context) (int64, error) {
	var id int64
	err := s.Pool.QueryRow(ctx, "SELECT nextval('validation_task_id_seq')").Scan(&id)
	return id, err
}

const taskColumns = `id, order_id, status, evidence, votes, threshold, created_at, deadline, resolved_at, resolved_by`

func (s *PGStore) CreateTask(ctx context.Context, task *models.ValidationTask) error {
	evidence, votes, err := marshalTaskJSON(task)
	if err != nil {
		return err
	}
	_, err = s.Pool.Exec(ctx, `
		INSERT INTO validation_tasks (`+taskColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, task.ID, task.OrderID, task.Status, evidence, votes,
		task.Threshold, task.CreatedAt, task.Deadline, task.ResolvedAt, task.ResolvedBy)
	return err
}

func marshalTaskJSON(task *models.ValidationTask) ([]byte, []byte, error) {
	evidence, err := json.Marshal(task.Evidence)
	if err != nil {
		return nil, nil, err
	}
	if task.Votes == nil {
		task.Votes = []models.ValidationVote{}
	}
	votes, err := json.Marshal(task.Votes)
	if err != nil {
		return nil, nil, err
	}
	return evidence, votes, nil
}

func scanTask(row rowScanner) (*models.ValidationTask, error) {
	var task models.ValidationTask
	var evidence, votes []byte
	var resolvedAt sql.NullTime

	err := row.Scan(&task.ID, &task.OrderID, &task.Status, &evidence, &votes,
		&task.Threshold, &task.CreatedAt, &task.Deadline, &resolvedAt, &task.ResolvedBy)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(evidence, &task.Evidence); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(votes, &task.Votes); err != nil {
		return nil, err
	}
	task.ResolvedAt = timePtr(resolvedAt)
	return &task, nil
}

func (s *PGStore) GetTask(ctx context.Context, taskID int64) (*models.ValidationTask, error) {
	row := s.Pool.QueryRow(ctx, `SELECT `+taskColumns+` FROM validation_tasks WHERE id=$1`, taskID)
	task, err := scanTask(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return task, err
}

func (s *PGStore) GetOpenTaskByOrder(ctx context.Context, orderID string) (*models.ValidationTask, error) {
	row := s.Pool.QueryRow(ctx, `
		SELECT `+taskColumns+` FROM validation_tasks
		WHERE order_id=$1 AND status='pending'
		ORDER BY id DESC LIMIT 1
	`, orderID)
	task, err := scanTask(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return task, err
}

func (s *PGStore) ListTasks(ctx context.Context, filter TaskFilter) ([]*models.ValidationTask, error) {
	query := `SELECT ` + taskColumns + ` FROM validation_tasks WHERE 1=1`
	var args []any
	if filter.Status != "" {
		args = append(args, filter.Status)
		query += ` AND status=$` + itoa(len(args))
	}
	if filter.OrderID != "" {
		args = append(args, filter.OrderID)
		query += ` AND order_id=$` + itoa(len(args))
	}
	query += ` ORDER BY id`
	return s.queryTasks(ctx, query, args...)
}

func (s *PGStore) ListDueTasks(ctx context.Context, now time.Time) ([]*models.ValidationTask, error) {
	return s.queryTasks(ctx, `
		SELECT `+taskColumns+` FROM validation_tasks
		WHERE status='pending' AND deadline < $1
		ORDER BY id
	`, now)
}

func (s *PGStore) queryTasks(ctx context.Context, query string, args ...any) ([]*models.ValidationTask, error) {
	rows, err := s.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []*models.ValidationTask
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

func (s *PGStore) MutateTask(ctx context.Context, taskID int64, fn func(*models.ValidationTask) error) (*models.ValidationTask, error) {
	var out *models.ValidationTask
	err := pgx.BeginFunc(ctx, s.Pool, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `SELECT `+taskColumns+` FROM validation_tasks WHERE id=$1 FOR UPDATE`, taskID)
		task, err := scanTask(row)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		if err := fn(task); err != nil {
			return err
		}
		evidence, votes, err := marshalTaskJSON(task)
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `
			UPDATE validation_tasks SET
				status=$2, evidence=$3, votes=$4, threshold=$5,
				deadline=$6, resolved_at=$7, resolved_by=$8
			WHERE id=$1
		`, task.ID, task.Status, evidence, votes, task.Threshold,
			task.Deadline, task.ResolvedAt, task.ResolvedBy)
		if err != nil {
			return err
		}
		out = task
		return nil
	})
	return out, err
}

const validatorColumns = `address, total_reviews, total_earned_cents, approvals, flags, correct_decisions, accuracy,
	staked_cents, locked_cents, locks, is_slashed, is_active, registered_at, last_review_at`

func (s *PGStore) PutValidator(ctx context.Context, profile *models.ValidatorProfile) error {
	locks, err := marshalLocks(profile)
	if err != nil {
		return err
	}
	_, err = s.Pool.Exec(ctx, `
		INSERT INTO validator_profiles (`+validatorColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		ON CONFLICT (address) DO UPDATE SET
			total_reviews=EXCLUDED.total_reviews,
			total_earned_cents=EXCLUDED.total_earned_cents,
			approvals=EXCLUDED.approvals,
			flags=EXCLUDED.flags,
			correct_decisions=EXCLUDED.correct_decisions,
			accuracy=EXCLUDED.accuracy,
			staked_cents=EXCLUDED.staked_cents,
			locked_cents=EXCLUDED.locked_cents,
			locks=EXCLUDED.locks,
			is_slashed=EXCLUDED.is_slashed,
			is_active=EXCLUDED.is_active,
			last_review_at=EXCLUDED.last_review_at
	`, validatorArgs(profile, locks)...)
	return err
}

func marshalLocks(profile *models.ValidatorProfile) ([]byte, error) {
	if profile.Locks == nil {
		profile.Locks = []models.StakeLock{}
	}
	return json.Marshal(profile.Locks)
}

func validatorArgs(v *models.ValidatorProfile, locks []byte) []any {
	return []any{
		v.Address, v.TotalReviews, v.TotalEarnedCents, v.Approvals, v.Flags, v.CorrectDecisions, v.Accuracy,
		v.StakedCents, v.LockedCents, locks, v.IsSlashed, v.IsActive, v.RegisteredAt, v.LastReviewAt,
	}
}

func scanValidator(row rowScanner) (*models.ValidatorProfile, error) {
	var profile models.ValidatorProfile
	var locks []byte
	var lastReviewAt sql.NullTime

	err := row.Scan(&profile.Address, &profile.TotalReviews, &profile.TotalEarnedCents,
		&profile.Approvals, &profile.Flags, &profile.CorrectDecisions, &profile.Accuracy,
		&profile.StakedCents, &profile.LockedCents, &locks,
		&profile.IsSlashed, &profile.IsActive, &profile.RegisteredAt, &lastReviewAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(locks, &profile.Locks); err != nil {
		return nil, err
	}
	profile.LastReviewAt = timePtr(lastReviewAt)
	return &profile, nil
}

func (s *PGStore) GetValidator(ctx context.Context, address string) (*models.ValidatorProfile, error) {
	row := s.Pool.QueryRow(ctx, `SELECT `+validatorColumns+` FROM validator_profiles WHERE address=$1`, address)
	profile, err := scanValidator(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return profile, err
}

func (s *PGStore) ListValidators(ctx context.Context) ([]*models.ValidatorProfile, error) {
	rows, err := s.Pool.Query(ctx, `SELECT `+validatorColumns+` FROM validator_profiles ORDER BY address`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var profiles []*models.ValidatorProfile
	for rows.Next() {
		profile, err := scanValidator(rows)
		if err != nil {
			return nil, err
		}
		profiles = append(profiles, profile)
	}
	return profiles, rows.Err()
}

func (s *PGStore) MutateValidator(ctx context.Context, address string, fn func(*models.ValidatorProfile) error) (*models.ValidatorProfile, error) {
	var out *models.ValidatorProfile
	err := pgx.BeginFunc(ctx, s.Pool, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `SELECT `+validatorColumns+` FROM validator_profiles WHERE address=$1 FOR UPDATE`, address)
		profile, err := scanValidator(row)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		if err := fn(profile); err != nil {
			return err
		}
		locks, err := marshalLocks(profile)
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `
			UPDATE validator_profiles SET
				total_reviews=$2, total_earned_cents=$3, approvals=$4, flags=$5,
				correct_decisions=$6, accuracy=$7,
				staked_cents=$8, locked_cents=$9, locks=$10,
				is_slashed=$11, is_active=$12, registered_at=$13, last_review_at=$14
			WHERE address=$1
		`, validatorArgs(profile, locks)...)
		if err != nil {
			return err
		}
		out = profile
		return nil
	})
	return out, err
}

func itoa(n int) string {
	return strconv.Itoa(n)
}
