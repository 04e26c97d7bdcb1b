package subscriptions

import (
	"context"
	"log/slog"
	"time"

	"bookstore-backend/internal/apperr"
	"bookstore-backend/internal/domain/billing"
	"bookstore-backend/internal/domain/orders"
	"bookstore-backend/internal/domain/plans"
	"bookstore-backend/internal/domain/settlement"
	"bookstore-backend/internal/infra/dbtx"
)

type PlanSource interface {
	Get(ctx context.Context, id uint) (*plans.Plan, error)
}

type PlanOrders interface {
	CreatePlanOrder(ctx context.Context, in orders.PlanOrderInput) (*orders.Order, error)
	GetOne(ctx context.Context, id uint) (*orders.Order, error)
}

type Payments interface {
	Create(ctx context.Context, in billing.NewPayment) (*billing.Payment, error)
	GetOne(ctx context.Context, id uint, userID *uint) (*billing.Payment, error)
}

type OutcomeKind string

const (
	Activated       OutcomeKind = "activated"
	PaymentRequired OutcomeKind = "payment_required"
)

// Outcome of a subscribe call. Subscription is set for Activated; OrderID
// and PaymentID for PaymentRequired.
type Outcome struct {
	Kind         OutcomeKind   `json:"kind"`
	Subscription *Subscription `json:"subscription,omitempty"`
	OrderID      uint          `json:"order_id,omitempty"`
	PaymentID    uint          `json:"payment_id,omitempty"`
}

// Activator decides when a plan purchase turns into a subscription.
type Activator struct {
	repo     Repository
	plans    PlanSource
	orders   PlanOrders
	payments Payments
	tx       dbtx.Transactor
	now      func() time.Time
}

func NewActivator(repo Repository, ps PlanSource, po PlanOrders, pays Payments, tx dbtx.Transactor, now func() time.Time) *Activator {
	if now == nil {
		now = time.Now
	}
	return &Activator{repo: repo, plans: ps, orders: po, payments: pays, tx: tx, now: now}
}

// Create subscribes userID to planID. Free plans activate at once; paid plans
// without a settled payment get a pending order and payment and no subscription.
func (a *Activator) Create(ctx context.Context, userID, planID uint, paymentID *uint) (Outcome, error) {
	plan, err := a.plans.Get(ctx, planID)
	if err != nil {
		return Outcome{}, err
	}
	if !plan.Active {
		return Outcome{}, apperr.BadRequest("Plan %d is not available", planID)
	}
	if err := a.ensureNoActive(ctx, userID); err != nil {
		return Outcome{}, err
	}

	switch {
	case plans.IsFree(plan):
		sub, err := a.activate(ctx, userID, plan, nil)
		if err != nil {
			return Outcome{}, err
		}
		return Outcome{Kind: Activated, Subscription: sub}, nil

	case paymentID == nil:
		var out Outcome
		err := a.tx.Exec(ctx, func(ctx context.Context) error {
			order, err := a.orders.CreatePlanOrder(ctx, orders.PlanOrderInput{
				UserID:   userID,
				PlanID:   plan.ID,
				Price:    plan.Price,
				Currency: plan.Currency,
			})
			if err != nil {
				return err
			}
			pay, err := a.payments.Create(ctx, billing.NewPayment{
				OrderID:  order.ID,
				UserID:   userID,
				Amount:   order.Total,
				Currency: order.Currency,
				Status:   settlement.Pending,
			})
			if err != nil {
				return err
			}
			out = Outcome{Kind: PaymentRequired, OrderID: order.ID, PaymentID: pay.ID}
			return nil
		})
		if err != nil {
			return Outcome{}, err
		}
		slog.InfoContext(ctx, "plan purchase awaiting payment", "user_id", userID, "plan_id", plan.ID, "order_id", out.OrderID)
		return out, nil

	default:
		pay, err := a.paidPaymentFor(ctx, *paymentID, &userID)
		if err != nil {
			return Outcome{}, err
		}
		if err := a.checkPlanOrder(ctx, pay, plan.ID); err != nil {
			return Outcome{}, err
		}
		sub, err := a.activate(ctx, userID, plan, &pay.ID)
		if err != nil {
			return Outcome{}, err
		}
		return Outcome{Kind: Activated, Subscription: sub}, nil
	}
}

// ActivateSubscription re-affirms a subscription once paymentID is paid. With
// no subscriptionID it creates the subscription for the plan order the payment settles.
func (a *Activator) ActivateSubscription(ctx context.Context, subscriptionID *uint, paymentID uint) (*Subscription, error) {
	pay, err := a.paidPaymentFor(ctx, paymentID, nil)
	if err != nil {
		return nil, err
	}

	var sub *Subscription
	if subscriptionID != nil {
		sub, err = a.repo.FindByID(ctx, *subscriptionID)
	} else {
		sub, err = a.repo.FindByPayment(ctx, paymentID)
		if apperr.Is(err, apperr.KindNotFound) {
			return a.createFromPayment(ctx, pay)
		}
	}
	if err != nil {
		return nil, err
	}
	if sub.UserID != pay.UserID {
		return nil, apperr.NotFound("Subscription %d not found", sub.ID)
	}

	if sub.Status == StatusActive && sub.PaymentID != nil {
		return sub, nil
	}
	if sub.Status != StatusActive {
		if err := a.ensureNoActive(ctx, sub.UserID); err != nil {
			return nil, err
		}
	}
	sub.Status = StatusActive
	if sub.PaymentID == nil {
		id := pay.ID
		sub.PaymentID = &id
	}
	sub.UpdatedAt = a.now()
	if err := a.repo.Save(ctx, sub); err != nil {
		return nil, err
	}
	return sub, nil
}

func (a *Activator) createFromPayment(ctx context.Context, pay *billing.Payment) (*Subscription, error) {
	order, err := a.orders.GetOne(ctx, pay.OrderID)
	if err != nil {
		return nil, err
	}
	if !order.IsPlanPurchase() {
		return nil, apperr.BadRequest("Order %d is not a plan purchase", order.ID)
	}
	plan, err := a.plans.Get(ctx, *order.PlanID)
	if err != nil {
		return nil, err
	}
	if err := a.ensureNoActive(ctx, pay.UserID); err != nil {
		return nil, err
	}
	return a.activate(ctx, pay.UserID, plan, &pay.ID)
}

func (a *Activator) paidPaymentFor(ctx context.Context, paymentID uint, userID *uint) (*billing.Payment, error) {
	pay, err := a.payments.GetOne(ctx, paymentID, userID)
	if err != nil {
		return nil, err
	}
	if pay.PaymentStatus != settlement.Paid {
		return nil, apperr.BadRequest("Payment %d is %s, not paid", paymentID, pay.PaymentStatus)
	}
	return pay, nil
}

func (a *Activator) checkPlanOrder(ctx context.Context, pay *billing.Payment, planID uint) error {
	order, err := a.orders.GetOne(ctx, pay.OrderID)
	if err != nil {
		return err
	}
	if order.PlanID == nil || *order.PlanID != planID {
		return apperr.BadRequest("Payment %d does not pay for plan %d", pay.ID, planID)
	}
	if _, err := a.repo.FindByPayment(ctx, pay.ID); err == nil {
		return apperr.Conflict("Payment %d is already linked to a subscription", pay.ID)
	} else if !apperr.Is(err, apperr.KindNotFound) {
		return err
	}
	return nil
}

func (a *Activator) activate(ctx context.Context, userID uint, plan *plans.Plan, paymentID *uint) (*Subscription, error) {
	now := a.now()
	sub := &Subscription{
		UserID:    userID,
		PlanID:    plan.ID,
		Status:    StatusActive,
		StartDate: now,
		EndDate:   plans.EndDate(plan, now),
		PaymentID: paymentID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := a.repo.Create(ctx, sub); err != nil {
		return nil, err
	}
	slog.InfoContext(ctx, "subscription activated", "subscription_id", sub.ID, "user_id", userID, "plan_id", plan.ID)
	return sub, nil
}

// ensureNoActive applies lazy expiry and fails if an active subscription remains.
func (a *Activator) ensureNoActive(ctx context.Context, userID uint) error {
	sub, err := a.repo.FindActiveByUser(ctx, userID)
	if apperr.Is(err, apperr.KindNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	expired, err := a.expireIfDue(ctx, sub)
	if err != nil {
		return err
	}
	if !expired {
		return errActiveExists
	}
	return nil
}

func (a *Activator) expireIfDue(ctx context.Context, sub *Subscription) (bool, error) {
	now := a.now()
	if !sub.Due(now) {
		return false, nil
	}
	sub.Status = StatusExpired
	sub.UpdatedAt = now
	if err := a.repo.Save(ctx, sub); err != nil {
		return false, err
	}
	return true, nil
}

// GetMine returns the user's latest subscription with lazy expiry applied.
func (a *Activator) GetMine(ctx context.Context, userID uint) (*Subscription, error) {
	sub, err := a.repo.FindLatestByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if _, err := a.expireIfDue(ctx, sub); err != nil {
		return nil, err
	}
	return sub, nil
}

// HasActive reports whether userID currently holds an unexpired active subscription.
func (a *Activator) HasActive(ctx context.Context, userID uint) (bool, error) {
	err := a.ensureNoActive(ctx, userID)
	if apperr.Is(err, apperr.KindConflict) {
		return true, nil
	}
	return false, err
}

func (a *Activator) Cancel(ctx context.Context, id, userID uint) (*Subscription, error) {
	sub, err := a.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if sub.UserID != userID {
		return nil, apperr.NotFound("Subscription %d not found", id)
	}
	if _, err := a.expireIfDue(ctx, sub); err != nil {
		return nil, err
	}
	if sub.Status != StatusActive {
		return nil, apperr.BadRequest("Only active subscriptions can be cancelled, subscription is %s", sub.Status)
	}
	now := a.now()
	sub.Status = StatusCancelled
	sub.CancelledAt = &now
	sub.UpdatedAt = now
	if err := a.repo.Save(ctx, sub); err != nil {
		return nil, err
	}
	return sub, nil
}

// ExpireSubscriptions flips every active subscription whose end date has passed.
func (a *Activator) ExpireSubscriptions(ctx context.Context) (int64, error) {
	n, err := a.repo.ExpireDue(ctx, a.now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		slog.InfoContext(ctx, "subscriptions expired", "count", n)
	}
	return n, nil
}
