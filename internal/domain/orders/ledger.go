package orders

import (
	"context"
	"log/slog"
	"math"
	"strings"
	"time"

	"bookstore-backend/internal/apperr"
	"bookstore-backend/internal/domain/settlement"
	"bookstore-backend/internal/infra/dbtx"

	"github.com/shopspring/decimal"
)

// PriceLookup prices books for checkout.
type PriceLookup interface {
	BookPrice(ctx context.Context, bookID uint) (decimal.Decimal, string, error)
}

// Options carries the server-side pricing applied at checkout. Customers
// never supply tax, shipping or discounts.
type Options struct {
	ReturnWindow time.Duration
	TaxRate      decimal.Decimal
	ShippingFee  decimal.Decimal
	Now          func() time.Time
}

// Ledger owns orders and their status history.
type Ledger struct {
	repo         Repository
	prices       PriceLookup
	tx           dbtx.Transactor
	returnWindow time.Duration
	taxRate      decimal.Decimal
	shippingFee  decimal.Decimal
	now          func() time.Time
}

func NewLedger(repo Repository, prices PriceLookup, tx dbtx.Transactor, opts Options) *Ledger {
	if opts.ReturnWindow <= 0 {
		opts.ReturnWindow = 30 * 24 * time.Hour
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Ledger{
		repo:         repo,
		prices:       prices,
		tx:           tx,
		returnWindow: opts.ReturnWindow,
		taxRate:      opts.TaxRate,
		shippingFee:  opts.ShippingFee,
		now:          opts.Now,
	}
}

type CheckoutLine struct {
	BookID   uint `json:"book_id"`
	Quantity int  `json:"quantity"`
}

type CheckoutInput struct {
	UserID          uint
	Lines           []CheckoutLine
	PaymentMethod   string
	ShippingAddress string
}

// Checkout creates one order per cart line in a single unit of work.
func (l *Ledger) Checkout(ctx context.Context, in CheckoutInput) ([]*Order, error) {
	if len(in.Lines) == 0 {
		return nil, apperr.BadRequest("Cart is empty")
	}
	address := strings.TrimSpace(in.ShippingAddress)
	if address == "" {
		return nil, apperr.BadRequest("Shipping address is required")
	}
	method := in.PaymentMethod
	if method == "" {
		method = settlement.MethodBankTransfer
	}

	var batch []*Order
	err := l.tx.Exec(ctx, func(ctx context.Context) error {
		now := l.now()
		for _, line := range in.Lines {
			price, currency, err := l.prices.BookPrice(ctx, line.BookID)
			if err != nil {
				return err
			}
			amounts, err := ComputeAmounts(price, line.Quantity, l.taxRate, l.shippingFee, decimal.Zero)
			if err != nil {
				return apperr.BadRequest("Book %d: %v", line.BookID, err)
			}
			bookID := line.BookID
			addr := address
			batch = append(batch, newOrder(now, in.UserID, amounts, currency, method, line.Quantity, &bookID, nil, &addr))
		}

		if err := l.repo.CreateBatch(ctx, batch); err != nil {
			return err
		}
		return l.recordCreated(ctx, batch, in.UserID, now)
	})
	if err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "checkout created orders", "user_id", in.UserID, "count", len(batch))
	return batch, nil
}

type PlanOrderInput struct {
	UserID   uint
	PlanID   uint
	Price    decimal.Decimal
	Currency string
}

// CreatePlanOrder creates the single-quantity, address-less order behind a paid plan purchase.
func (l *Ledger) CreatePlanOrder(ctx context.Context, in PlanOrderInput) (*Order, error) {
	amounts, err := ComputeAmounts(in.Price, 1, decimal.Zero, decimal.Zero, decimal.Zero)
	if err != nil {
		return nil, apperr.BadRequest("Plan %d: %v", in.PlanID, err)
	}

	planID := in.PlanID
	o := newOrder(l.now(), in.UserID, amounts, in.Currency, settlement.MethodBankTransfer, 1, nil, &planID, nil)
	err = l.tx.Exec(ctx, func(ctx context.Context) error {
		if err := l.repo.CreateBatch(ctx, []*Order{o}); err != nil {
			return err
		}
		return l.recordCreated(ctx, []*Order{o}, in.UserID, o.CreatedAt)
	})
	if err != nil {
		return nil, err
	}
	return o, nil
}

func newOrder(now time.Time, userID uint, a Amounts, currency, method string, qty int, bookID, planID *uint, address *string) *Order {
	return &Order{
		OrderNumber:     NewOrderNumber(now),
		UserID:          userID,
		BookID:          bookID,
		PlanID:          planID,
		Quantity:        qty,
		UnitPrice:       a.UnitPrice,
		Subtotal:        a.Subtotal,
		Tax:             a.Tax,
		Shipping:        a.Shipping,
		Discount:        a.Discount,
		Total:           a.Total,
		Currency:        currency,
		Status:          StatusPending,
		PaymentStatus:   settlement.Pending,
		PaymentMethod:   method,
		ShippingAddress: address,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

func (l *Ledger) recordCreated(ctx context.Context, batch []*Order, by uint, now time.Time) error {
	for _, o := range batch {
		entry := &StatusEntry{OrderID: o.ID, Status: StatusPending, Notes: "Order created", UpdatedBy: by, CreatedAt: now}
		if err := l.repo.AppendHistory(ctx, entry); err != nil {
			return err
		}
		o.StatusHistory = append(o.StatusHistory, *entry)
	}
	return nil
}

func (l *Ledger) GetOne(ctx context.Context, id uint) (*Order, error) {
	return l.repo.FindByID(ctx, id)
}

// GetOwned loads an order on behalf of userID; foreign orders read as missing.
func (l *Ledger) GetOwned(ctx context.Context, id, userID uint) (*Order, error) {
	o, err := l.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if o.UserID != userID {
		return nil, apperr.NotFound("Order %d not found", id)
	}
	return o, nil
}

func (l *Ledger) ListMine(ctx context.Context, userID uint, page, limit int) ([]Order, int64, error) {
	return l.repo.List(ctx, Filter{UserID: &userID, Page: page, Limit: limit})
}

func (l *Ledger) List(ctx context.Context, f Filter) ([]Order, int64, error) {
	return l.repo.List(ctx, f)
}

// Change describes one mutation applied by Update.
type Change struct {
	Status         *Status
	PaymentStatus  *settlement.Status
	TrackingNumber *string
	// Notes goes to the history entry of a status change.
	Notes string
	// Annotation is appended to the order's free-text notes.
	Annotation string
	UpdatedBy  uint
	// OwnerID restricts the update to orders of that user.
	OwnerID *uint
	guard   func(o *Order) error
}

// Update applies ch, appending a history entry when the status changes.
func (l *Ledger) Update(ctx context.Context, id uint, ch Change) (*Order, error) {
	var out *Order
	err := l.tx.Exec(ctx, func(ctx context.Context) error {
		o, err := l.repo.FindByID(ctx, id)
		if err != nil {
			return err
		}
		if ch.OwnerID != nil && o.UserID != *ch.OwnerID {
			return apperr.NotFound("Order %d not found", id)
		}
		if ch.guard != nil {
			if err := ch.guard(o); err != nil {
				return err
			}
		}

		now := l.now()
		from := o.Status
		if ch.Status != nil {
			to := *ch.Status
			if to == o.Status {
				return apperr.BadRequest("Order already has this status")
			}
			if !CanTransition(o.Status, to) {
				return apperr.BadRequest("Cannot change order status from %s to %s", o.Status, to)
			}
			o.Status = to
			entry := &StatusEntry{OrderID: o.ID, Status: to, Notes: ch.Notes, UpdatedBy: ch.UpdatedBy, CreatedAt: now}
			if err := l.repo.AppendHistory(ctx, entry); err != nil {
				return err
			}
			o.StatusHistory = append(o.StatusHistory, *entry)
		}
		if ch.PaymentStatus != nil {
			o.PaymentStatus = *ch.PaymentStatus
		}
		if ch.TrackingNumber != nil {
			tn := *ch.TrackingNumber
			o.TrackingNumber = &tn
		}
		if ch.Annotation != "" {
			if o.Notes != "" {
				o.Notes += "\n"
			}
			o.Notes += ch.Annotation
		}
		o.UpdatedAt = now

		if err := l.repo.Save(ctx, o); err != nil {
			return err
		}
		if ch.Status != nil {
			slog.InfoContext(ctx, "order status changed", "order_id", o.ID, "from", from, "to", o.Status, "by", ch.UpdatedBy)
		}
		out = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (l *Ledger) UpdateStatus(ctx context.Context, id uint, status Status, notes string, by uint) (*Order, error) {
	return l.Update(ctx, id, Change{Status: &status, Notes: notes, UpdatedBy: by})
}

func (l *Ledger) UpdatePaymentStatus(ctx context.Context, id uint, status settlement.Status, by uint) (*Order, error) {
	return l.Update(ctx, id, Change{
		PaymentStatus: &status,
		UpdatedBy:     by,
		guard: func(o *Order) error {
			if o.PaymentStatus == status {
				return apperr.BadRequest("Order already has this payment status")
			}
			return nil
		},
	})
}

func (l *Ledger) AddTrackingNumber(ctx context.Context, id uint, tracking string, by uint) (*Order, error) {
	tracking = strings.TrimSpace(tracking)
	if tracking == "" {
		return nil, apperr.BadRequest("Tracking number is required")
	}
	return l.Update(ctx, id, Change{TrackingNumber: &tracking, UpdatedBy: by})
}

// SyncPaymentStatus mirrors a payment's status onto its order. Equal status is a no-op.
func (l *Ledger) SyncPaymentStatus(ctx context.Context, orderID uint, status settlement.Status) error {
	o, err := l.repo.FindByID(ctx, orderID)
	if err != nil {
		return err
	}
	if o.PaymentStatus == status {
		return nil
	}
	_, err = l.Update(ctx, orderID, Change{PaymentStatus: &status})
	return err
}

func (l *Ledger) CancelMyOrder(ctx context.Context, id, userID uint, reason string) (*Order, error) {
	status := StatusCancelled
	notes := "Cancelled by customer"
	if reason = strings.TrimSpace(reason); reason != "" {
		notes += ": " + reason
	}
	return l.Update(ctx, id, Change{
		Status:    &status,
		Notes:     notes,
		UpdatedBy: userID,
		OwnerID:   &userID,
		guard: func(o *Order) error {
			if !o.Status.IsCancellable() {
				return apperr.BadRequest("Order cannot be cancelled in status %s", o.Status)
			}
			return nil
		},
	})
}

// RequestReturn moves a delivered order to return_requested while the return window is open.
func (l *Ledger) RequestReturn(ctx context.Context, id, userID uint, reason string) (*Order, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "no reason given"
	}
	status := StatusReturnRequested
	return l.Update(ctx, id, Change{
		Status:     &status,
		Notes:      "Return requested: " + reason,
		Annotation: "Return requested: " + reason,
		UpdatedBy:  userID,
		OwnerID:    &userID,
		guard: func(o *Order) error {
			if o.Status != StatusDelivered {
				return apperr.BadRequest("Only delivered orders can be returned, order is %s", o.Status)
			}
			elapsed := l.now().Sub(DeliveredAt(o))
			if elapsed > l.returnWindow {
				windowDays := int(l.returnWindow.Hours() / 24)
				return apperr.BadRequest("Return window of %d days has expired (delivered %d days ago)",
					windowDays, int(math.Floor(elapsed.Hours()/24)))
			}
			return nil
		},
	})
}

// DeliveredAt is the time of the latest delivered transition, or UpdatedAt when the log has none.
func DeliveredAt(o *Order) time.Time {
	for i := len(o.StatusHistory) - 1; i >= 0; i-- {
		if o.StatusHistory[i].Status == StatusDelivered {
			return o.StatusHistory[i].CreatedAt
		}
	}
	return o.UpdatedAt
}
