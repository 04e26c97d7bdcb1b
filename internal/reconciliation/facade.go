// Package reconciliation matches a submitted bank transfer to an order and
// settles the payment, the order and any subscription bought with it.
package reconciliation

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"strings"

	"bookstore-backend/internal/apperr"
	"bookstore-backend/internal/banktransfer"
	"bookstore-backend/internal/domain/billing"
	"bookstore-backend/internal/domain/orders"
	"bookstore-backend/internal/domain/settlement"
	"bookstore-backend/internal/domain/subscriptions"
	"bookstore-backend/internal/infra/dbtx"
	"bookstore-backend/internal/infra/locks"
	"bookstore-backend/internal/infra/metrics"
	"bookstore-backend/internal/receipts"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type Orders interface {
	GetOwned(ctx context.Context, id, userID uint) (*orders.Order, error)
}

type Payments interface {
	ReferenceUsed(ctx context.Context, reference string) (bool, error)
	FindByOrderAndUser(ctx context.Context, orderID, userID uint) (*billing.Payment, error)
	Create(ctx context.Context, in billing.NewPayment) (*billing.Payment, error)
	Settle(ctx context.Context, p *billing.Payment, patch billing.Patch) error
}

type BankAccounts interface {
	GetByID(ctx context.Context, id uint) (*billing.BankAccount, error)
	ListActive(ctx context.Context) ([]billing.BankAccount, error)
}

// Verifier fetches and checks bank receipts.
type Verifier interface {
	ValidateReference(ctx context.Context, req banktransfer.Request, receiver receipts.Receiver) (*banktransfer.Verification, error)
	ValidatePayment(account *billing.BankAccount, total decimal.Decimal, data *receipts.ReceiptData) error
}

type Subscriptions interface {
	ActivateSubscription(ctx context.Context, subscriptionID *uint, paymentID uint) (*subscriptions.Subscription, error)
}

type Deps struct {
	Orders        Orders
	Payments      Payments
	Accounts      BankAccounts
	Verifier      Verifier
	Subscriptions Subscriptions
	Locker        locks.Locker
	Tx            dbtx.Transactor
}

type Facade struct {
	orders   Orders
	payments Payments
	accounts BankAccounts
	verifier Verifier
	subs     Subscriptions
	locker   locks.Locker
	tx       dbtx.Transactor
}

func New(d Deps) *Facade {
	if d.Locker == nil {
		d.Locker = locks.NewLocal()
	}
	if d.Tx == nil {
		d.Tx = dbtx.Passthrough{}
	}
	return &Facade{
		orders:   d.Orders,
		payments: d.Payments,
		accounts: d.Accounts,
		verifier: d.Verifier,
		subs:     d.Subscriptions,
		locker:   d.Locker,
		tx:       d.Tx,
	}
}

type CompleteInput struct {
	OrderID         uint
	BankCode        string
	ReferenceNumber string
	BankAccountID   uint
	UserID          uint
}

type Result struct {
	Payment      *billing.Payment            `json:"payment"`
	ReceiptData  *receipts.ReceiptData       `json:"receipt_data"`
	Subscription *subscriptions.Subscription `json:"subscription,omitempty"`
}

// CompletePayment verifies the bank receipt behind in.ReferenceNumber and,
// when it covers the order total and credits the merchant account, marks
// the order's payment paid. Any failure leaves the payment and order as
// they were.
func (f *Facade) CompletePayment(ctx context.Context, in CompleteInput) (res *Result, err error) {
	bankCode := strings.ToUpper(strings.TrimSpace(in.BankCode))
	defer func() { record(bankCode, metrics.OutcomePaid, err) }()

	if bankCode == "" {
		return nil, apperr.BadRequest("bankCode is required")
	}
	if in.BankAccountID == 0 {
		return nil, apperr.BadRequest("bankAccountId is required")
	}
	ref := canonical(in.ReferenceNumber)
	if ref == "" {
		return nil, apperr.BadRequest("Reference number is required")
	}

	unlock, err := f.lock(ctx, in.OrderID, ref)
	if err != nil {
		return nil, err
	}
	defer unlock()

	order, err := f.payableOrder(ctx, in.OrderID, in.UserID)
	if err != nil {
		return nil, err
	}
	account, err := f.accounts.GetByID(ctx, in.BankAccountID)
	if err != nil {
		return nil, err
	}
	if !account.Active {
		return nil, apperr.BadRequest("Bank account %d is not accepting payments", account.ID)
	}
	if !strings.EqualFold(account.BankCode, bankCode) {
		return nil, apperr.BadRequest("Bank account %d belongs to %s, not %s", account.ID, account.BankCode, bankCode)
	}
	if err := f.checkUnused(ctx, ref); err != nil {
		return nil, err
	}

	v, err := f.verifier.ValidateReference(ctx, banktransfer.Request{BankCode: bankCode, ReferenceNumber: ref},
		receipts.Receiver{BankName: account.BankName, AccountName: account.AccountName, AccountNumber: account.AccountNumber})
	if err != nil {
		return nil, err
	}
	if err := f.verifier.ValidatePayment(account, order.Total, v.ReceiptData); err != nil {
		slog.WarnContext(ctx, "bank transfer rejected", "order_id", order.ID, "bank", bankCode, "reference", v.Value, "err", err)
		return nil, err
	}

	accountID := account.ID
	p, err := f.settle(ctx, order, in.UserID, transfer{
		reference:   v.Value,
		bankCode:    bankCode,
		accountID:   &accountID,
		data:        v.ReceiptData,
		receiptPath: v.ReceiptPath,
	})
	if err != nil {
		return nil, err
	}

	res = &Result{Payment: p, ReceiptData: v.ReceiptData}
	res.Subscription = f.activate(ctx, order, p)
	slog.InfoContext(ctx, "bank transfer reconciled", "order_id", order.ID, "payment_id", p.ID, "bank", bankCode, "reference", v.Value)
	return res, nil
}

// ConfirmBankTransfer settles the order with receipt data parsed elsewhere.
// The receipt is not fetched again, but its reference, receiver account and
// amount are still checked against the order.
func (f *Facade) ConfirmBankTransfer(ctx context.Context, orderID uint, reference string, data *receipts.ReceiptData, userID uint) (res *Result, err error) {
	var bankCode string
	if data != nil {
		bankCode = strings.ToUpper(strings.TrimSpace(data.BankCode))
	}
	defer func() { record(bankCode, metrics.OutcomeConfirmed, err) }()

	if data == nil {
		return nil, apperr.BadRequest("receiptData is required")
	}
	ref := canonical(reference)
	if ref == "" {
		return nil, apperr.BadRequest("Reference number is required")
	}
	if got := canonical(data.Reference); got != ref {
		return nil, apperr.BadRequest("Receipt reference %q does not match %s", data.Reference, ref)
	}
	if bankCode == "" {
		return nil, apperr.BadRequest("receiptData.bankCode is required")
	}

	unlock, err := f.lock(ctx, orderID, ref)
	if err != nil {
		return nil, err
	}
	defer unlock()

	order, err := f.payableOrder(ctx, orderID, userID)
	if err != nil {
		return nil, err
	}
	if err := f.checkUnused(ctx, ref); err != nil {
		return nil, err
	}
	account, err := f.receivingAccount(ctx, bankCode, order.Total, data)
	if err != nil {
		slog.WarnContext(ctx, "bank transfer confirmation rejected", "order_id", order.ID, "bank", bankCode, "reference", ref, "err", err)
		return nil, err
	}

	accountID := account.ID
	p, err := f.settle(ctx, order, userID, transfer{reference: ref, bankCode: bankCode, accountID: &accountID, data: data})
	if err != nil {
		return nil, err
	}
	res = &Result{Payment: p, ReceiptData: data}
	res.Subscription = f.activate(ctx, order, p)
	slog.InfoContext(ctx, "bank transfer confirmed", "order_id", order.ID, "payment_id", p.ID, "reference", ref)
	return res, nil
}

// receivingAccount finds the active merchant account of bankCode that the
// receipt credits with the order total.
func (f *Facade) receivingAccount(ctx context.Context, bankCode string, total decimal.Decimal, data *receipts.ReceiptData) (*billing.BankAccount, error) {
	list, err := f.accounts.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	var firstErr error
	for i := range list {
		acc := &list[i]
		if !strings.EqualFold(acc.BankCode, bankCode) {
			continue
		}
		err := f.verifier.ValidatePayment(acc, total, data)
		if err == nil {
			return acc, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	if firstErr != nil {
		return nil, firstErr
	}
	return nil, apperr.BadRequest("No active %s account accepts payments", bankCode)
}

func (f *Facade) payableOrder(ctx context.Context, orderID, userID uint) (*orders.Order, error) {
	order, err := f.orders.GetOwned(ctx, orderID, userID)
	if err != nil {
		return nil, err
	}
	if order.PaymentStatus == settlement.Paid {
		return nil, apperr.Conflict("Order %s is already paid", order.OrderNumber)
	}
	switch order.Status {
	case orders.StatusCancelled, orders.StatusReturnRequested:
		return nil, apperr.BadRequest("Order %s is %s and cannot be paid", order.OrderNumber, order.Status)
	}
	return order, nil
}

// lock holds the order and then the reference. Every caller takes them in
// that order.
func (f *Facade) lock(ctx context.Context, orderID uint, ref string) (func(), error) {
	unlockOrder, err := f.locker.Lock(ctx, "order:"+strconv.FormatUint(uint64(orderID), 10))
	if err != nil {
		return nil, apperr.Conflict("Order %d is being processed, try again shortly", orderID)
	}
	unlockRef, err := f.locker.Lock(ctx, "reference:"+ref)
	if err != nil {
		unlockOrder()
		return nil, apperr.Conflict("Reference number %s is being processed, try again shortly", ref)
	}
	return func() {
		unlockRef()
		unlockOrder()
	}, nil
}

func (f *Facade) checkUnused(ctx context.Context, ref string) error {
	used, err := f.payments.ReferenceUsed(ctx, ref)
	if err != nil {
		return err
	}
	if used {
		return apperr.Conflict("Reference number %s has already been used", ref)
	}
	return nil
}

type transfer struct {
	reference   string
	bankCode    string
	accountID   *uint
	data        *receipts.ReceiptData
	receiptPath string
}

// settle reuses the (order, user) payment when one is still open and
// creates a paid one when there is none or the last was refunded. The order
// is re-read inside the transaction; the payment ledger mirrors the status
// onto it there too.
func (f *Facade) settle(ctx context.Context, order *orders.Order, userID uint, s transfer) (*billing.Payment, error) {
	raw, err := json.Marshal(s.data)
	if err != nil {
		return nil, apperr.Internal(err, "Failed to encode receipt data")
	}
	var meta map[string]any
	if s.receiptPath != "" {
		meta = map[string]any{"receipt_path": s.receiptPath}
	}

	var out *billing.Payment
	err = f.tx.Exec(ctx, func(ctx context.Context) error {
		current, err := f.payableOrder(ctx, order.ID, userID)
		if err != nil {
			return err
		}
		existing, err := f.payments.FindByOrderAndUser(ctx, order.ID, userID)
		if err != nil && !apperr.Is(err, apperr.KindNotFound) {
			return err
		}
		if existing != nil && existing.PaymentStatus == settlement.Paid {
			return apperr.Conflict("Order %s is already paid", current.OrderNumber)
		}
		if existing != nil && !existing.PaymentStatus.IsSettled() {
			ref := s.reference
			bank := s.bankCode
			patch := billing.Patch{
				ReferenceNumber: &ref,
				BankCode:        &bank,
				BankAccountID:   s.accountID,
				ReceiptData:     datatypes.JSON(raw),
				Metadata:        meta,
			}
			if err := f.payments.Settle(ctx, existing, patch); err != nil {
				return err
			}
			out = existing
			return nil
		}

		p, err := f.payments.Create(ctx, billing.NewPayment{
			OrderID:         order.ID,
			UserID:          userID,
			Amount:          order.Total,
			Currency:        order.Currency,
			PaymentMethod:   order.PaymentMethod,
			Status:          settlement.Paid,
			ReferenceNumber: s.reference,
			BankCode:        s.bankCode,
			BankAccountID:   s.accountID,
			ReceiptData:     datatypes.JSON(raw),
			Metadata:        meta,
		})
		if err != nil {
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

// activate promotes the subscription bought by a plan order. The payment
// stays paid when activation fails; ActivateSubscription can be retried.
func (f *Facade) activate(ctx context.Context, order *orders.Order, p *billing.Payment) *subscriptions.Subscription {
	if !order.IsPlanPurchase() || f.subs == nil {
		return nil
	}
	sub, err := f.subs.ActivateSubscription(ctx, nil, p.ID)
	if err != nil {
		slog.ErrorContext(ctx, "subscription activation failed", "order_id", order.ID, "payment_id", p.ID, "err", err)
		return nil
	}
	return sub
}

func canonical(ref string) string {
	return strings.ToUpper(strings.TrimSpace(ref))
}

func record(bank, success string, err error) {
	if bank == "" {
		bank = "unknown"
	}
	outcome := success
	if err != nil {
		switch apperr.KindOf(err) {
		case apperr.KindConflict:
			outcome = metrics.OutcomeConflict
		case apperr.KindBadRequest, apperr.KindNotFound:
			outcome = metrics.OutcomeRejected
		default:
			outcome = metrics.OutcomeFailed
		}
	}
	metrics.Reconciliations.WithLabelValues(bank, outcome).Inc()
}
