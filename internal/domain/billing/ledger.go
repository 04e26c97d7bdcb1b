package billing

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"bookstore-backend/internal/apperr"
	"bookstore-backend/internal/domain/settlement"
	"bookstore-backend/internal/infra/dbtx"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// OrderSync receives payment status changes for the order a payment settles.
type OrderSync interface {
	SyncPaymentStatus(ctx context.Context, orderID uint, status settlement.Status) error
}

// Ledger owns payment records and their status transitions.
type Ledger struct {
	repo   Repository
	orders OrderSync
	tx     dbtx.Transactor
	now    func() time.Time
}

func NewLedger(repo Repository, orders OrderSync, tx dbtx.Transactor, now func() time.Time) *Ledger {
	if now == nil {
		now = time.Now
	}
	return &Ledger{repo: repo, orders: orders, tx: tx, now: now}
}

type NewPayment struct {
	OrderID         uint
	UserID          uint
	Amount          decimal.Decimal
	Currency        string
	PaymentMethod   string
	Status          settlement.Status
	ReferenceNumber string
	BankCode        string
	BankAccountID   *uint
	ReceiptData     datatypes.JSON
	Metadata        map[string]any
}

func (l *Ledger) Create(ctx context.Context, in NewPayment) (*Payment, error) {
	if in.OrderID == 0 {
		return nil, apperr.BadRequest("orderId is required")
	}
	if in.Amount.IsNegative() {
		return nil, apperr.BadRequest("Payment amount cannot be negative")
	}
	if in.Status == "" {
		in.Status = settlement.Pending
	}
	if _, err := settlement.Parse(string(in.Status)); err != nil {
		return nil, apperr.BadRequest("%v", err)
	}
	if in.PaymentMethod == "" {
		in.PaymentMethod = settlement.MethodBankTransfer
	}

	now := l.now()
	p := &Payment{
		OrderID:       in.OrderID,
		UserID:        in.UserID,
		Amount:        in.Amount,
		Currency:      in.Currency,
		PaymentMethod: in.PaymentMethod,
		PaymentStatus: in.Status,
		BankCode:      in.BankCode,
		BankAccountID: in.BankAccountID,
		ReceiptData:   in.ReceiptData,
		Metadata:      datatypes.JSONMap(in.Metadata),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if ref := strings.TrimSpace(in.ReferenceNumber); ref != "" {
		p.ReferenceNumber = &ref
	}
	stamp(p, now)

	err := l.tx.Exec(ctx, func(ctx context.Context) error {
		if err := l.repo.Create(ctx, p); err != nil {
			return err
		}
		return l.orders.SyncPaymentStatus(ctx, p.OrderID, p.PaymentStatus)
	})
	if err != nil {
		return nil, err
	}
	slog.InfoContext(ctx, "payment created", "payment_id", p.ID, "order_id", p.OrderID, "status", p.PaymentStatus)
	return p, nil
}

// GetOne loads a payment. A non-nil userID restricts it to that owner.
func (l *Ledger) GetOne(ctx context.Context, id uint, userID *uint) (*Payment, error) {
	p, err := l.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if userID != nil && p.UserID != *userID {
		return nil, apperr.NotFound("Payment %d not found", id)
	}
	return p, nil
}

func (l *Ledger) GetByOrder(ctx context.Context, orderID uint, userID *uint) ([]Payment, error) {
	list, err := l.repo.ListByOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if userID == nil {
		return list, nil
	}
	owned := list[:0]
	for _, p := range list {
		if p.UserID == *userID {
			owned = append(owned, p)
		}
	}
	return owned, nil
}

func (l *Ledger) GetMany(ctx context.Context, f Filter) ([]Payment, int64, error) {
	f.Search = strings.TrimSpace(f.Search)
	return l.repo.List(ctx, f)
}

// FindByOrderAndUser returns the payment row retries for this order converge on.
func (l *Ledger) FindByOrderAndUser(ctx context.Context, orderID, userID uint) (*Payment, error) {
	return l.repo.FindByOrderAndUser(ctx, orderID, userID)
}

// ReferenceUsed reports whether reference already settled any payment.
func (l *Ledger) ReferenceUsed(ctx context.Context, reference string) (bool, error) {
	_, err := l.repo.FindPaidByReference(ctx, reference)
	if apperr.Is(err, apperr.KindNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Patch updates receipt details of an unsettled payment.
type Patch struct {
	ReferenceNumber *string
	BankCode        *string
	BankAccountID   *uint
	ReceiptData     datatypes.JSON
	Metadata        map[string]any
}

func (l *Ledger) Update(ctx context.Context, id uint, patch Patch, userID *uint) (*Payment, error) {
	var out *Payment
	err := l.tx.Exec(ctx, func(ctx context.Context) error {
		p, err := l.GetOne(ctx, id, userID)
		if err != nil {
			return err
		}
		if p.PaymentStatus.IsSettled() {
			return apperr.BadRequest("Cannot edit a %s payment", p.PaymentStatus)
		}
		applyPatch(p, patch)
		p.UpdatedAt = l.now()
		if err := l.repo.Save(ctx, p); err != nil {
			return err
		}
		out = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func applyPatch(p *Payment, patch Patch) {
	if patch.ReferenceNumber != nil {
		ref := strings.TrimSpace(*patch.ReferenceNumber)
		p.ReferenceNumber = &ref
	}
	if patch.BankCode != nil {
		p.BankCode = *patch.BankCode
	}
	if patch.BankAccountID != nil {
		id := *patch.BankAccountID
		p.BankAccountID = &id
	}
	if patch.ReceiptData != nil {
		p.ReceiptData = patch.ReceiptData
	}
	if len(patch.Metadata) > 0 {
		if p.Metadata == nil {
			p.Metadata = datatypes.JSONMap{}
		}
		for k, v := range patch.Metadata {
			p.Metadata[k] = v
		}
	}
}

// UpdateStatus moves a payment along its status machine and pushes the
// new status onto the order.
func (l *Ledger) UpdateStatus(ctx context.Context, id uint, status settlement.Status, metadata map[string]any) (*Payment, error) {
	var out *Payment
	err := l.tx.Exec(ctx, func(ctx context.Context) error {
		p, err := l.repo.FindByID(ctx, id)
		if err != nil {
			return err
		}
		if err := l.transition(ctx, p, status, Patch{Metadata: metadata}); err != nil {
			return err
		}
		out = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Settle applies patch and marks the payment paid in one step.
func (l *Ledger) Settle(ctx context.Context, p *Payment, patch Patch) error {
	return l.tx.Exec(ctx, func(ctx context.Context) error {
		return l.transition(ctx, p, settlement.Paid, patch)
	})
}

func (l *Ledger) transition(ctx context.Context, p *Payment, status settlement.Status, patch Patch) error {
	if p.PaymentStatus == status {
		return apperr.BadRequest("Payment already has this status")
	}
	if !settlement.CanTransition(p.PaymentStatus, status) {
		return apperr.BadRequest("Cannot change payment status from %s to %s", p.PaymentStatus, status)
	}
	from := p.PaymentStatus
	applyPatch(p, patch)
	p.PaymentStatus = status
	now := l.now()
	stamp(p, now)
	p.UpdatedAt = now

	if err := l.repo.Save(ctx, p); err != nil {
		return err
	}
	if err := l.orders.SyncPaymentStatus(ctx, p.OrderID, status); err != nil {
		return err
	}
	slog.InfoContext(ctx, "payment status changed", "payment_id", p.ID, "order_id", p.OrderID, "from", from, "to", status)
	return nil
}

func stamp(p *Payment, now time.Time) {
	switch p.PaymentStatus {
	case settlement.Paid:
		t := now
		p.PaidAt = &t
	case settlement.Refunded:
		t := now
		p.RefundedAt = &t
	}
}

// Delete removes an unsettled payment. Paid and refunded payments are kept.
func (l *Ledger) Delete(ctx context.Context, id uint, userID *uint) error {
	return l.tx.Exec(ctx, func(ctx context.Context) error {
		p, err := l.GetOne(ctx, id, userID)
		if err != nil {
			return err
		}
		if p.PaymentStatus.IsSettled() {
			return apperr.BadRequest("Cannot delete a %s payment", p.PaymentStatus)
		}
		return l.repo.Delete(ctx, id)
	})
}
