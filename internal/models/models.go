package models

import "time"

type OrderStatus string

const (
	OrderCreated        OrderStatus = "created"
	OrderMatched        OrderStatus = "matched"
	OrderPaymentPending OrderStatus = "payment_pending"
	OrderPaymentSent    OrderStatus = "payment_sent"
	OrderVerifying      OrderStatus = "verifying"
	OrderCompleted      OrderStatus = "completed"
	OrderDisputed       OrderStatus = "disputed"
	OrderMediation      OrderStatus = "mediation"
	OrderCancelled      OrderStatus = "cancelled"
	OrderExpired        OrderStatus = "expired"
	OrderSettled        OrderStatus = "settled"
)

type OrderType string

const (
	OrderBuy  OrderType = "buy"
	OrderSell OrderType = "sell"
)

// Order is a single requested trade between a requester and, once matched,
// a counterparty. Fiat amounts are derived server-side from the oracle rate;
// client-submitted fiat values are never stored.
type Order struct {
	ID                  string
	Type                OrderType
	Status              OrderStatus
	RequesterID         string
	RequesterAddress    string
	CounterpartyID      *string
	CounterpartyAddress *string
	AmountUsdcCents     int64
	AmountFiatCents     int64
	FiatCurrency        string
	PaymentMethod       string
	PaymentDetails      string
	RequesterProofRef   string
	PaymentProofRef     string
	EscrowAddress       string
	DerivationIndex     int64
	CreatedAt           time.Time
	UpdatedAt           time.Time
	ExpiresAt           time.Time
	MatchedAt           *time.Time
	PaymentSentAt       *time.Time
	CompletedAt         *time.Time
	SettledAt           *time.Time
	DisputePeriodEndsAt *time.Time
	StakeLockExpiresAt  *time.Time
	MeetingRef          string
	MeetingAt           *time.Time
	MeetingContact      string
}

type TaskStatus string

const (
	TaskPending      TaskStatus = "pending"
	TaskApproved     TaskStatus = "approved"
	TaskAutoApproved TaskStatus = "auto_approved"
	TaskEscalated    TaskStatus = "escalated"
	TaskFlagged      TaskStatus = "flagged"
)

const (
	ResolvedByMajority = "validator-majority"
	ResolvedByTimeout  = "timeout"
	ResolvedByAdmin    = "admin"
)

type VoteDecision string

const (
	VoteApprove VoteDecision = "approve"
	VoteFlag    VoteDecision = "flag"
)

// TaskEvidence is the snapshot of order facts captured when the task is
// opened. It never changes afterwards, even if the order does.
type TaskEvidence struct {
	AmountUsdcCents     int64  `json:"amountUsdcCents"`
	AmountFiatCents     int64  `json:"amountFiatCents"`
	FiatCurrency        string `json:"fiatCurrency"`
	PaymentMethod       string `json:"paymentMethod"`
	RequesterAddress    string `json:"requesterAddress"`
	CounterpartyAddress string `json:"counterpartyAddress"`
	RequesterProofRef   string `json:"requesterProofRef"`
	PaymentProofRef     string `json:"paymentProofRef"`
}

type ValidationVote struct {
	ValidatorAddress string       `json:"validatorAddress"`
	Decision         VoteDecision `json:"decision"`
	Notes            string       `json:"notes,omitempty"`
	VotedAt          time.Time    `json:"votedAt"`
}

type ValidationTask struct {
	ID         int64
	OrderID    string
	Status     TaskStatus
	Evidence   TaskEvidence
	Votes      []ValidationVote
	Threshold  int
	CreatedAt  time.Time
	Deadline   time.Time
	ResolvedAt *time.Time
	ResolvedBy string
}

// HasVoteFrom reports whether addr already voted on the task.
func (t *ValidationTask) HasVoteFrom(addr string) bool {
	for _, v := range t.Votes {
		if v.ValidatorAddress == addr {
			return true
		}
	}
	return false
}

// VoteCounts returns the current approve and flag tallies.
func (t *ValidationTask) VoteCounts() (approves, flags int) {
	for _, v := range t.Votes {
		if v.Decision == VoteApprove {
			approves++
		} else {
			flags++
		}
	}
	return approves, flags
}

// StakeLock is collateral held against one order's amount while the
// validator's vote is at risk.
type StakeLock struct {
	OrderID     string    `json:"orderId"`
	AmountCents int64     `json:"amountCents"`
	LockedUntil time.Time `json:"lockedUntil"`
}

type ValidatorProfile struct {
	Address          string
	TotalReviews     int64
	TotalEarnedCents int64
	Approvals        int64
	Flags            int64
	CorrectDecisions int64
	Accuracy         int
	StakedCents      int64
	LockedCents      int64
	Locks            []StakeLock
	IsSlashed        bool
	IsActive         bool
	RegisteredAt     time.Time
	LastReviewAt     *time.Time
}

// AvailableCents is the collateral a validator can still put at risk.
func (v *ValidatorProfile) AvailableCents() int64 {
	return v.StakedCents - v.LockedCents
}

// ReleaseExpiredLocks drops locks whose window has passed and recomputes
// LockedCents from the survivors.
func (v *ValidatorProfile) ReleaseExpiredLocks(now time.Time) {
	kept := v.Locks[:0]
	var total int64
	for _, l := range v.Locks {
		if l.LockedUntil.After(now) {
			kept = append(kept, l)
			total += l.AmountCents
		}
	}
	v.Locks = kept
	v.LockedCents = total
}

// ReleaseOneLock removes the most recent lock for orderID with the given
// amount. Other locks for the same order stay in place.
func (v *ValidatorProfile) ReleaseOneLock(orderID string, amount int64) {
	for i := len(v.Locks) - 1; i >= 0; i-- {
		if v.Locks[i].OrderID == orderID && v.Locks[i].AmountCents == amount {
			v.Locks = append(v.Locks[:i], v.Locks[i+1:]...)
			v.LockedCents -= amount
			return
		}
	}
}

// ReleaseLock removes the lock held for orderID, if any.
func (v *ValidatorProfile) ReleaseLock(orderID string) {
	kept := v.Locks[:0]
	var total int64
	for _, l := range v.Locks {
		if l.OrderID == orderID {
			continue
		}
		kept = append(kept, l)
		total += l.AmountCents
	}
	v.Locks = kept
	v.LockedCents = total
}
