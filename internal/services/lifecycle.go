package services

import (
	"context"
	"time"

	"fiatmesh/internal/chain"
	"fiatmesh/internal/events"
	"fiatmesh/internal/evidence"
	"fiatmesh/internal/metrics"
	"fiatmesh/internal/models"
	"fiatmesh/internal/rates"
	"fiatmesh/internal/store"

	"github.com/asaskevich/govalidator"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// OrderService owns the order state machine. Every transition is applied
// inside a store mutation guarded by the allowed source statuses, so a
// disallowed transition rejects without partial writes.
type OrderService struct {
	Store      store.Store
	Rates      *rates.Cache
	Evidence   *evidence.Store
	Chain      chain.Client
	Deriver    chain.EscrowDeriver
	Publisher  events.Publisher
	Validation *ValidationEngine

	TTL                time.Duration
	MinAmountUsdcCents int64
	DisputeWindow      time.Duration
	UsdcDenom          string
	ChainTimeout       time.Duration
}

type CreateOrderInput struct {
	Type             models.OrderType
	RequesterID      string
	RequesterAddress string
	AmountUsdcCents  int64
	FiatCurrency     string
	PaymentMethod    string
	PaymentDetails   string
}

func (s *OrderService) Create(ctx context.Context, in CreateOrderInput) (*models.Order, error) {
	if in.Type != models.OrderBuy && in.Type != models.OrderSell {
		return nil, validationf("order type must be buy or sell")
	}
	if in.RequesterID == "" {
		return nil, validationf("missing requester id")
	}
	if !chain.ValidAddress(in.RequesterAddress) {
		return nil, validationf("requester address is not a valid bech32 address")
	}
	if in.AmountUsdcCents < s.MinAmountUsdcCents || in.AmountUsdcCents <= 0 {
		return nil, validationf("amount below minimum")
	}
	if !govalidator.IsISO4217(in.FiatCurrency) {
		return nil, validationf("fiat currency %q is not a valid ISO 4217 code", in.FiatCurrency)
	}

	rate, err := s.Rates.Current(ctx, in.FiatCurrency)
	if err != nil {
		return nil, err
	}
	fiatCents, err := rates.FiatCents(in.AmountUsdcCents, rate.Value)
	if err != nil {
		return nil, err
	}

	s.checkBalance(ctx, in)

	now := time.Now().UTC()
	order := &models.Order{
		ID:               uuid.NewString(),
		Type:             in.Type,
		Status:           models.OrderCreated,
		RequesterID:      in.RequesterID,
		RequesterAddress: in.RequesterAddress,
		AmountUsdcCents:  in.AmountUsdcCents,
		AmountFiatCents:  fiatCents,
		FiatCurrency:     in.FiatCurrency,
		PaymentMethod:    in.PaymentMethod,
		PaymentDetails:   in.PaymentDetails,
		CreatedAt:        now,
		UpdatedAt:        now,
		ExpiresAt:        now.Add(s.TTL),
	}

	if s.Deriver.Configured() {
		idx, err := s.Store.NextDerivationIndex(ctx)
		if err != nil {
			return nil, err
		}
		addr, err := s.Deriver.Derive(uint32(idx))
		if err != nil {
			return nil, err
		}
		order.DerivationIndex = idx
		order.EscrowAddress = addr
	}

	if err := s.Store.CreateOrder(ctx, order); err != nil {
		return nil, err
	}
	s.Publisher.Publish(ctx, events.OrderChanged{OrderID: order.ID, Kind: string(models.OrderCreated)})
	return order, nil
}

// checkBalance is a soft gate: a failed or short chain read is logged and
// allowed through, never blocking order creation.
func (s *OrderService) checkBalance(ctx context.Context, in CreateOrderInput) {
	if s.Chain == nil || in.Type != models.OrderSell {
		return
	}
	cctx, cancel := context.WithTimeout(ctx, s.ChainTimeout)
	defer cancel()
	balance, err := s.Chain.Balance(cctx, in.RequesterAddress, s.UsdcDenom)
	if err != nil {
		log.WithFields(log.Fields{"address": in.RequesterAddress, "error": err}).
			Warn("chain balance read failed, allowing order through")
		return
	}
	if balance < in.AmountUsdcCents {
		log.WithFields(log.Fields{"address": in.RequesterAddress, "balance": balance, "amount": in.AmountUsdcCents}).
			Warn("requester balance below order amount")
	}
}

// Get returns the order, lazily expiring unmatched orders whose TTL has
// passed. The expiry transition happens at most once.
func (s *OrderService) Get(ctx context.Context, orderID string) (*models.Order, error) {
	order, err := s.Store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return s.maybeExpire(ctx, order)
}

func (s *OrderService) maybeExpire(ctx context.Context, order *models.Order) (*models.Order, error) {
	now := time.Now().UTC()
	if order.Status != models.OrderCreated || !order.ExpiresAt.Before(now) {
		return order, nil
	}
	updated, err := s.Store.MutateOrder(ctx, order.ID, func(o *models.Order) error {
		if o.Status != models.OrderCreated {
			return validationf("order is no longer expirable")
		}
		o.Status = models.OrderExpired
		return nil
	})
	if err != nil {
		if IsValidation(err) {
			// Lost the race to another transition; return the stored record.
			return s.Store.GetOrder(ctx, order.ID)
		}
		return nil, err
	}
	metrics.OrdersExpiredTotal.Inc()
	s.Publisher.Publish(ctx, events.OrderChanged{OrderID: order.ID, Kind: string(models.OrderExpired)})
	return updated, nil
}

func (s *OrderService) List(ctx context.Context, filter store.OrderFilter) ([]*models.Order, error) {
	orders, err := s.Store.ListOrders(ctx, filter)
	if err != nil {
		return nil, err
	}
	out := make([]*models.Order, 0, len(orders))
	for _, order := range orders {
		o, err := s.maybeExpire(ctx, order)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, nil
}

// ExpireDue is the sweep form of lazy expiry, safe to run concurrently
// with reads and other instances.
func (s *OrderService) ExpireDue(ctx context.Context, now time.Time) (int, error) {
	due, err := s.Store.ListExpiryDue(ctx, now)
	if err != nil {
		return 0, err
	}
	expired := 0
	for _, order := range due {
		if _, err := s.maybeExpire(ctx, order); err != nil {
			log.WithFields(log.Fields{"order": order.ID, "error": err}).Warn("expiry sweep failed")
			continue
		}
		expired++
	}
	return expired, nil
}

func (s *OrderService) Match(ctx context.Context, orderID, counterpartyID, counterpartyAddress string) (*models.Order, error) {
	if counterpartyID == "" {
		return nil, validationf("missing counterparty id")
	}
	if !chain.ValidAddress(counterpartyAddress) {
		return nil, validationf("counterparty address is not a valid bech32 address")
	}
	now := time.Now().UTC()
	order, err := s.Store.MutateOrder(ctx, orderID, func(o *models.Order) error {
		if o.Status != models.OrderCreated {
			return validationf("order status %s does not allow matching", o.Status)
		}
		if o.ExpiresAt.Before(now) {
			return validationf("order has expired")
		}
		if o.RequesterID == counterpartyID {
			return validationf("requester cannot match own order")
		}
		o.Status = models.OrderMatched
		o.CounterpartyID = &counterpartyID
		o.CounterpartyAddress = &counterpartyAddress
		o.MatchedAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.Publisher.Publish(ctx, events.OrderChanged{OrderID: orderID, Kind: string(models.OrderMatched)})
	return order, nil
}

// Release puts a matched order back in the pool, clearing the
// counterparty.
func (s *OrderService) Release(ctx context.Context, orderID, callerID string) (*models.Order, error) {
	order, err := s.Store.MutateOrder(ctx, orderID, func(o *models.Order) error {
		if o.Status != models.OrderMatched {
			return validationf("order status %s does not allow release", o.Status)
		}
		if o.CounterpartyID == nil || *o.CounterpartyID != callerID {
			return validationf("only the counterparty may release the order")
		}
		o.Status = models.OrderCreated
		o.CounterpartyID = nil
		o.CounterpartyAddress = nil
		o.MatchedAt = nil
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.Publisher.Publish(ctx, events.OrderChanged{OrderID: orderID, Kind: string(models.OrderCreated)})
	return order, nil
}

// AttachDestinationProof records the requester's destination proof
// (add_qr) and moves the order to payment_pending.
func (s *OrderService) AttachDestinationProof(ctx context.Context, orderID, callerID string, proof []byte) (*models.Order, error) {
	if len(proof) == 0 {
		return nil, validationf("missing destination proof")
	}
	ref := s.Evidence.Ref(ctx, "destination", proof)
	order, err := s.Store.MutateOrder(ctx, orderID, func(o *models.Order) error {
		if o.Status != models.OrderMatched {
			return validationf("order status %s does not allow attaching destination proof", o.Status)
		}
		if o.RequesterID != callerID {
			return validationf("only the requester may attach destination proof")
		}
		o.Status = models.OrderPaymentPending
		o.RequesterProofRef = ref
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.Publisher.Publish(ctx, events.OrderChanged{OrderID: orderID, Kind: string(models.OrderPaymentPending)})
	return order, nil
}

// ReportPayment records the counterparty's fiat payment proof, moves the
// order to verifying and opens a validation task for it.
func (s *OrderService) ReportPayment(ctx context.Context, orderID, callerID string, proof []byte) (*models.Order, error) {
	if len(proof) == 0 {
		return nil, validationf("missing payment proof")
	}
	ref := s.Evidence.Ref(ctx, "payment", proof)
	now := time.Now().UTC()
	order, err := s.Store.MutateOrder(ctx, orderID, func(o *models.Order) error {
		if o.Status != models.OrderMatched && o.Status != models.OrderPaymentPending {
			return validationf("order status %s does not allow reporting payment", o.Status)
		}
		if o.CounterpartyID == nil || *o.CounterpartyID != callerID {
			return validationf("only the counterparty may report payment")
		}
		o.Status = models.OrderVerifying
		o.PaymentSentAt = &now
		o.PaymentProofRef = ref
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.Publisher.Publish(ctx, events.OrderChanged{OrderID: orderID, Kind: string(models.OrderVerifying)})

	if _, err := s.Validation.OpenTask(ctx, order); err != nil {
		return nil, err
	}
	return order, nil
}

// Dispute freezes the order for admin review. When a validation task is
// still pending it is escalated immediately, so no further votes land
// after the dispute.
func (s *OrderService) Dispute(ctx context.Context, orderID, callerID string) (*models.Order, error) {
	now := time.Now().UTC()
	order, err := s.Store.MutateOrder(ctx, orderID, func(o *models.Order) error {
		switch o.Status {
		case models.OrderMatched, models.OrderPaymentPending, models.OrderPaymentSent, models.OrderVerifying:
		case models.OrderCompleted:
			if o.DisputePeriodEndsAt == nil || !now.Before(*o.DisputePeriodEndsAt) {
				return validationf("dispute window has closed")
			}
		default:
			return validationf("order status %s does not allow disputes", o.Status)
		}
		if o.RequesterID != callerID && (o.CounterpartyID == nil || *o.CounterpartyID != callerID) {
			return validationf("only a party to the order may dispute it")
		}
		o.Status = models.OrderDisputed
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.Publisher.Publish(ctx, events.OrderChanged{OrderID: orderID, Kind: string(models.OrderDisputed)})

	if err := s.Validation.FreezeOpenTask(ctx, orderID); err != nil {
		log.WithFields(log.Fields{"order": orderID, "error": err}).Warn("freezing open task failed")
	}
	return order, nil
}

func (s *OrderService) Cancel(ctx context.Context, orderID, callerID string) (*models.Order, error) {
	order, err := s.Store.MutateOrder(ctx, orderID, func(o *models.Order) error {
		if o.Status != models.OrderCreated {
			return validationf("order status %s does not allow cancellation", o.Status)
		}
		if o.RequesterID != callerID {
			return validationf("only the requester may cancel the order")
		}
		o.Status = models.OrderCancelled
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.Publisher.Publish(ctx, events.OrderChanged{OrderID: orderID, Kind: string(models.OrderCancelled)})
	return order, nil
}

// completeOrder applies the shared completion effects: CompletedAt plus
// the dispute and stake-lock windows.
func completeOrder(o *models.Order, now time.Time, window time.Duration) {
	o.Status = models.OrderCompleted
	o.CompletedAt = &now
	ends := now.Add(window)
	o.DisputePeriodEndsAt = &ends
	lockEnds := now.Add(window)
	o.StakeLockExpiresAt = &lockEnds
}
