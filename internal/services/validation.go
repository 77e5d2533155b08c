package services

import (
	"context"
	"errors"
	"math"
	"time"

	"fiatmesh/internal/chain"
	"fiatmesh/internal/events"
	"fiatmesh/internal/metrics"
	"fiatmesh/internal/models"
	"fiatmesh/internal/store"

	log "github.com/sirupsen/logrus"
)

// ValidationEngine runs the staked-validator consensus: it opens tasks
// when an order enters verifying, accepts votes under collateral locks,
// resolves tasks on dynamic majority, applies accuracy updates and
// slashing, and drives the order to its terminal side.
type ValidationEngine struct {
	Store     store.Store
	Publisher events.Publisher
	Chain     chain.Client

	FallbackThreshold int
	ReviewRewardCents int64
	VoteDeadline      time.Duration
	StakeLock         time.Duration
	DisputeWindow     time.Duration
	StakingDenom      string
	ChainTimeout      time.Duration
}

type RegisterValidatorInput struct {
	Address     string
	StakedCents int64
}

// RegisterValidator creates or reactivates a validator profile. The
// on-chain stake read is a soft gate: failures log a warning and allow
// registration through. A slashed validator stays banned.
func (e *ValidationEngine) RegisterValidator(ctx context.Context, in RegisterValidatorInput) (*models.ValidatorProfile, error) {
	if !chain.ValidAddress(in.Address) {
		return nil, validationf("validator address is not a valid bech32 address")
	}
	if in.StakedCents <= 0 {
		return nil, validationf("staked amount must be positive")
	}

	e.checkStake(ctx, in)

	now := time.Now().UTC()
	existing, err := e.Store.GetValidator(ctx, in.Address)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	if existing != nil {
		if existing.IsSlashed {
			return nil, authorizationf("validator %s is slashed and permanently banned", in.Address)
		}
		return e.Store.MutateValidator(ctx, in.Address, func(v *models.ValidatorProfile) error {
			if v.IsSlashed {
				return authorizationf("validator %s is slashed and permanently banned", in.Address)
			}
			v.StakedCents = in.StakedCents
			v.IsActive = true
			return nil
		})
	}

	profile := &models.ValidatorProfile{
		Address:      in.Address,
		StakedCents:  in.StakedCents,
		Accuracy:     100,
		IsActive:     true,
		RegisteredAt: now,
		Locks:        []models.StakeLock{},
	}
	if err := e.Store.PutValidator(ctx, profile); err != nil {
		return nil, err
	}
	return profile, nil
}

func (e *ValidationEngine) checkStake(ctx context.Context, in RegisterValidatorInput) {
	if e.Chain == nil {
		return
	}
	cctx, cancel := context.WithTimeout(ctx, e.ChainTimeout)
	defer cancel()
	stake, err := e.Chain.Stake(cctx, in.Address)
	if err != nil {
		log.WithFields(log.Fields{"address": in.Address, "error": err}).
			Warn("chain stake read failed, allowing registration through")
		return
	}
	if stake < in.StakedCents {
		log.WithFields(log.Fields{"address": in.Address, "onchain": stake, "declared": in.StakedCents}).
			Warn("declared stake exceeds on-chain stake")
	}
}

// OpenTask creates the validation task for an order entering verifying.
// The threshold is the eligible pool size at creation and stays fixed for
// the task's lifetime.
func (e *ValidationEngine) OpenTask(ctx context.Context, order *models.Order) (*models.ValidationTask, error) {
	eligible, err := e.eligibleValidators(ctx, order)
	if err != nil {
		return nil, err
	}
	threshold := len(eligible)
	if threshold < 1 {
		threshold = e.FallbackThreshold
	}

	id, err := e.Store.NextTaskID(ctx)
	if err != nil {
		return nil, err
	}

	counterpartyAddr := ""
	if order.CounterpartyAddress != nil {
		counterpartyAddr = *order.CounterpartyAddress
	}
	now := time.Now().UTC()
	task := &models.ValidationTask{
		ID:      id,
		OrderID: order.ID,
		Status:  models.TaskPending,
		Evidence: models.TaskEvidence{
			AmountUsdcCents:     order.AmountUsdcCents,
			AmountFiatCents:     order.AmountFiatCents,
			FiatCurrency:        order.FiatCurrency,
			PaymentMethod:       order.PaymentMethod,
			RequesterAddress:    order.RequesterAddress,
			CounterpartyAddress: counterpartyAddr,
			RequesterProofRef:   order.RequesterProofRef,
			PaymentProofRef:     order.PaymentProofRef,
		},
		Votes:     []models.ValidationVote{},
		Threshold: threshold,
		CreatedAt: now,
		Deadline:  now.Add(e.VoteDeadline),
	}
	if err := e.Store.CreateTask(ctx, task); err != nil {
		return nil, err
	}
	log.WithFields(log.Fields{"task": task.ID, "order": order.ID, "threshold": threshold}).
		Info("validation task opened")
	return task, nil
}

func (e *ValidationEngine) eligibleValidators(ctx context.Context, order *models.Order) ([]*models.ValidatorProfile, error) {
	all, err := e.Store.ListValidators(ctx)
	if err != nil {
		return nil, err
	}
	var eligible []*models.ValidatorProfile
	for _, v := range all {
		if !v.IsActive || v.IsSlashed {
			continue
		}
		if v.Address == order.RequesterAddress {
			continue
		}
		if order.CounterpartyAddress != nil && v.Address == *order.CounterpartyAddress {
			continue
		}
		eligible = append(eligible, v)
	}
	return eligible, nil
}

// Majority is the minimum votes on one side needed to resolve a task.
func Majority(threshold int) int {
	return int(math.Ceil(float64(threshold) / 2))
}

type SubmitVoteInput struct {
	TaskID           int64
	ValidatorAddress string
	Decision         models.VoteDecision
	Notes            string
}

// SubmitVote runs eligibility and stake checks, locks collateral for the
// order amount, credits the per-review reward, and resolves the task when
// either side reaches majority. The task mutation re-checks its
// preconditions under the record lock, so concurrent votes cannot
// double-resolve or double-count.
func (e *ValidationEngine) SubmitVote(ctx context.Context, in SubmitVoteInput) (*models.ValidationTask, error) {
	task, err := e.submitVote(ctx, in)
	if err != nil {
		metrics.VotesRejectedTotal.Inc()
		return nil, err
	}
	metrics.VotesAcceptedTotal.Inc()

	if task.Status != models.TaskPending {
		e.finishResolved(ctx, task)
	}
	return task, nil
}

func (e *ValidationEngine) submitVote(ctx context.Context, in SubmitVoteInput) (*models.ValidationTask, error) {
	if in.Decision != models.VoteApprove && in.Decision != models.VoteFlag {
		return nil, validationf("decision must be approve or flag")
	}

	task, err := e.Store.GetTask(ctx, in.TaskID)
	if err != nil {
		return nil, err
	}
	if task.Status != models.TaskPending {
		return nil, validationf("task %d is not pending", in.TaskID)
	}
	if in.ValidatorAddress == task.Evidence.RequesterAddress ||
		in.ValidatorAddress == task.Evidence.CounterpartyAddress {
		return nil, validationf("a party to the order may not vote on its task")
	}
	if task.HasVoteFrom(in.ValidatorAddress) {
		return nil, validationf("validator already voted on task %d", in.TaskID)
	}

	now := time.Now().UTC()
	amount := task.Evidence.AmountUsdcCents

	var prevLastReview *time.Time
	_, err = e.Store.MutateValidator(ctx, in.ValidatorAddress, func(v *models.ValidatorProfile) error {
		if v.IsSlashed {
			return authorizationf("validator %s is slashed", in.ValidatorAddress)
		}
		if !v.IsActive {
			return authorizationf("validator %s is inactive", in.ValidatorAddress)
		}
		v.ReleaseExpiredLocks(now)
		if available := v.AvailableCents(); available < amount {
			return validationf("insufficient available stake: short %d cents", amount-available)
		}
		v.Locks = append(v.Locks, models.StakeLock{
			OrderID:     task.OrderID,
			AmountCents: amount,
			LockedUntil: now.Add(e.StakeLock),
		})
		v.LockedCents += amount
		v.TotalReviews++
		v.TotalEarnedCents += e.ReviewRewardCents
		prevLastReview = v.LastReviewAt
		v.LastReviewAt = &now
		return nil
	})
	if errors.Is(err, store.ErrNotFound) {
		return nil, authorizationf("validator %s is not registered", in.ValidatorAddress)
	}
	if err != nil {
		return nil, err
	}

	updated, err := e.Store.MutateTask(ctx, in.TaskID, func(t *models.ValidationTask) error {
		if t.Status != models.TaskPending {
			return validationf("task %d is not pending", in.TaskID)
		}
		if t.HasVoteFrom(in.ValidatorAddress) {
			return validationf("validator already voted on task %d", in.TaskID)
		}
		t.Votes = append(t.Votes, models.ValidationVote{
			ValidatorAddress: in.ValidatorAddress,
			Decision:         in.Decision,
			Notes:            in.Notes,
			VotedAt:          now,
		})

		majority := Majority(t.Threshold)
		approves, flags := t.VoteCounts()
		switch {
		case approves >= majority:
			t.Status = models.TaskApproved
			t.ResolvedAt = &now
			t.ResolvedBy = models.ResolvedByMajority
		case flags >= majority:
			t.Status = models.TaskEscalated
			t.ResolvedAt = &now
			t.ResolvedBy = models.ResolvedByMajority
		}
		return nil
	})
	if err != nil {
		// The task moved under us after the stake was locked; undo the
		// lock and reward so the rejection leaves no trace.
		e.compensateVote(ctx, in.ValidatorAddress, task.OrderID, amount, prevLastReview)
		return nil, err
	}
	return updated, nil
}

// compensateVote rolls back exactly what the rejected attempt took: the
// one lock it appended, the reward, the review count and the previous
// LastReviewAt. A lock held by an earlier accepted vote on the same
// order must survive the rollback.
func (e *ValidationEngine) compensateVote(ctx context.Context, address, orderID string, amount int64, lastReviewAt *time.Time) {
	_, err := e.Store.MutateValidator(ctx, address, func(v *models.ValidatorProfile) error {
		v.ReleaseOneLock(orderID, amount)
		v.TotalReviews--
		v.TotalEarnedCents -= e.ReviewRewardCents
		v.LastReviewAt = lastReviewAt
		return nil
	})
	if err != nil {
		log.WithFields(log.Fields{"validator": address, "order": orderID, "error": err}).
			Error("vote compensation failed")
	}
}

// finishResolved applies the once-per-task post-resolution effects:
// accuracy and slashing for every cast vote, then the order transition.
func (e *ValidationEngine) finishResolved(ctx context.Context, task *models.ValidationTask) {
	metrics.TasksResolvedTotal.WithLabelValues(string(task.Status)).Inc()

	winning := models.VoteApprove
	if task.Status == models.TaskEscalated {
		winning = models.VoteFlag
	}
	e.applyAccuracy(ctx, task, winning)

	switch task.Status {
	case models.TaskApproved:
		e.driveOrderCompleted(ctx, task.OrderID)
	case models.TaskEscalated:
		e.driveOrderDisputed(ctx, task.OrderID)
	}
}

func (e *ValidationEngine) applyAccuracy(ctx context.Context, task *models.ValidationTask, winning models.VoteDecision) {
	for _, vote := range task.Votes {
		correct := vote.Decision == winning
		_, err := e.Store.MutateValidator(ctx, vote.ValidatorAddress, func(v *models.ValidatorProfile) error {
			if vote.Decision == models.VoteApprove {
				v.Approvals++
			} else {
				v.Flags++
			}
			if correct {
				v.CorrectDecisions++
				v.ReleaseLock(task.OrderID)
			} else {
				v.StakedCents = 0
				v.LockedCents = 0
				v.Locks = []models.StakeLock{}
				v.IsSlashed = true
				v.IsActive = false
			}
			total := v.Approvals + v.Flags
			if total > 0 {
				v.Accuracy = int(math.Round(float64(v.CorrectDecisions) / float64(total) * 100))
			}
			return nil
		})
		if err != nil {
			log.WithFields(log.Fields{"validator": vote.ValidatorAddress, "task": task.ID, "error": err}).
				Error("accuracy update failed")
			continue
		}
		if !correct {
			metrics.ValidatorsSlashedTotal.Inc()
			log.WithFields(log.Fields{"validator": vote.ValidatorAddress, "task": task.ID}).
				Info("validator slashed for minority vote")
		}
	}
}

func (e *ValidationEngine) driveOrderCompleted(ctx context.Context, orderID string) {
	now := time.Now().UTC()
	_, err := e.Store.MutateOrder(ctx, orderID, func(o *models.Order) error {
		if o.Status != models.OrderVerifying && o.Status != models.OrderPaymentSent {
			return validationf("order status %s does not allow completion", o.Status)
		}
		completeOrder(o, now, e.DisputeWindow)
		return nil
	})
	if err != nil {
		log.WithFields(log.Fields{"order": orderID, "error": err}).Warn("order completion skipped")
		return
	}
	e.Publisher.Publish(ctx, events.OrderChanged{OrderID: orderID, Kind: string(models.OrderCompleted)})
}

func (e *ValidationEngine) driveOrderDisputed(ctx context.Context, orderID string) {
	_, err := e.Store.MutateOrder(ctx, orderID, func(o *models.Order) error {
		switch o.Status {
		case models.OrderVerifying, models.OrderPaymentSent:
			o.Status = models.OrderDisputed
			return nil
		case models.OrderDisputed:
			return validationf("order already disputed")
		default:
			return validationf("order status %s does not allow dispute escalation", o.Status)
		}
	})
	if err != nil {
		if !IsValidation(err) {
			log.WithFields(log.Fields{"order": orderID, "error": err}).Warn("order escalation failed")
		}
		return
	}
	e.Publisher.Publish(ctx, events.OrderChanged{OrderID: orderID, Kind: string(models.OrderDisputed)})
}

// FreezeOpenTask escalates a pending task when its order is disputed, so
// no further votes are processed. It is a no-op when no task is open.
func (e *ValidationEngine) FreezeOpenTask(ctx context.Context, orderID string) error {
	task, err := e.Store.GetOpenTaskByOrder(ctx, orderID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	_, err = e.Store.MutateTask(ctx, task.ID, func(t *models.ValidationTask) error {
		if t.Status != models.TaskPending {
			return validationf("task %d is not pending", t.ID)
		}
		t.Status = models.TaskEscalated
		return nil
	})
	if IsValidation(err) {
		return nil
	}
	return err
}

// ResolveDueTasks is the timeout sweep: pending tasks past their deadline
// auto-approve and complete their orders. Votes already cast receive no
// accuracy or slash adjustment; their locks simply expire.
func (e *ValidationEngine) ResolveDueTasks(ctx context.Context, now time.Time) (int, error) {
	due, err := e.Store.ListDueTasks(ctx, now)
	if err != nil {
		return 0, err
	}
	resolved := 0
	for _, task := range due {
		_, err := e.Store.MutateTask(ctx, task.ID, func(t *models.ValidationTask) error {
			if t.Status != models.TaskPending {
				return validationf("task %d is not pending", t.ID)
			}
			t.Status = models.TaskAutoApproved
			t.ResolvedAt = &now
			t.ResolvedBy = models.ResolvedByTimeout
			return nil
		})
		if err != nil {
			if !IsValidation(err) {
				log.WithFields(log.Fields{"task": task.ID, "error": err}).Warn("timeout resolution failed")
			}
			continue
		}
		metrics.TasksResolvedTotal.WithLabelValues(string(models.TaskAutoApproved)).Inc()
		e.driveOrderCompleted(ctx, task.OrderID)
		resolved++
	}
	return resolved, nil
}

// GetTask returns a task by id.
func (e *ValidationEngine) GetTask(ctx context.Context, taskID int64) (*models.ValidationTask, error) {
	return e.Store.GetTask(ctx, taskID)
}

// ListTasks returns tasks matching the filter.
func (e *ValidationEngine) ListTasks(ctx context.Context, filter store.TaskFilter) ([]*models.ValidationTask, error) {
	return e.Store.ListTasks(ctx, filter)
}

// GetValidator returns a validator profile by address.
func (e *ValidationEngine) GetValidator(ctx context.Context, address string) (*models.ValidatorProfile, error) {
	return e.Store.GetValidator(ctx, address)
}
