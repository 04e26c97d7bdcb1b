package reconciliation_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"bookstore-backend/internal/apperr"
	"bookstore-backend/internal/banktransfer"
	"bookstore-backend/internal/domain/billing"
	"bookstore-backend/internal/domain/orders"
	"bookstore-backend/internal/domain/plans"
	"bookstore-backend/internal/domain/settlement"
	"bookstore-backend/internal/domain/subscriptions"
	"bookstore-backend/internal/infra/dbtx"
	"bookstore-backend/internal/infra/locks"
	"bookstore-backend/internal/reconciliation"
	"bookstore-backend/internal/receipts"
	"bookstore-backend/internal/testutil"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	userID     uint = 7
	monthlyID  uint = 2
	accountID  uint = 1
	retiredAcc uint = 2
)

// bankReceipts serves receipts from memory, keyed by reference.
type bankReceipts struct {
	mu        sync.Mutex
	amounts   map[string]string
	downloads int
}

func (b *bankReceipts) ValidateReference(bankCode, ref string) (string, error) {
	return receipts.NewValidator(nil, receipts.DefaultBanks()...).ValidateReference(bankCode, ref)
}

func (b *bankReceipts) ReceiptURL(bankCode, ref string, r receipts.Receiver) (string, error) {
	return receipts.NewValidator(nil, receipts.DefaultBanks()...).ReceiptURL(bankCode, ref, r)
}

func (b *bankReceipts) Download(_ context.Context, url string) (*receipts.Document, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.downloads++
	return &receipts.Document{Body: []byte("%PDF-1.4 " + url), ContentType: "application/pdf"}, nil
}

func (b *bankReceipts) Parse(bankCode string, _ []byte, ref string) (*receipts.ReceiptData, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	amount, ok := b.amounts[ref]
	if !ok {
		return nil, apperr.BadRequest("Could not find amount in %s receipt", bankCode)
	}
	return &receipts.ReceiptData{
		BankCode:          bankCode,
		Reference:         ref,
		TransferredAmount: amount,
		PaymentDateTime:   "01-May-2026 10:15",
		ReceiverName:      "BOOKSTORE PLC",
		ReceiverAccount:   "1****4321",
	}, nil
}

type memStorage struct {
	mu    sync.Mutex
	paths []string
}

func (s *memStorage) Upload(_ context.Context, _ []byte, path, _ string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paths = append(s.paths, path)
	return path, nil
}

type fixture struct {
	clock     *testutil.Clock
	orders    *testutil.Orders
	payments  *testutil.Payments
	subs      *testutil.Subscriptions
	bank      *bankReceipts
	storage   *memStorage
	orderLd   *orders.Ledger
	payLd     *billing.Ledger
	activator *subscriptions.Activator
	verifier  *hookedVerifier
	facade    *reconciliation.Facade
}

// hookedVerifier runs beforePayment ahead of the amount check, standing in
// for work that lands while a receipt is being verified.
type hookedVerifier struct {
	*banktransfer.Coordinator
	beforePayment func()
}

func (v *hookedVerifier) ValidatePayment(account *billing.BankAccount, total decimal.Decimal, data *receipts.ReceiptData) error {
	if v.beforePayment != nil {
		v.beforePayment()
	}
	return v.Coordinator.ValidatePayment(account, total, data)
}

func newFixture() *fixture {
	clock := testutil.NewClock(time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC))
	tx := dbtx.Passthrough{}
	thirty := 30

	catalog := plans.NewCatalog(testutil.NewPlans(
		plans.Plan{ID: monthlyID, Name: "Monthly", Price: decimal.NewFromInt(500), Currency: "ETB", DurationDays: &thirty, Active: true},
	), "ETB")

	orderRepo := testutil.NewOrders()
	orderLd := orders.NewLedger(orderRepo, testutil.Books{1: decimal.NewFromInt(250)}, tx, orders.Options{Now: clock.Now})
	payRepo := testutil.NewPayments()
	payLd := billing.NewLedger(payRepo, orderLd, tx, clock.Now)
	subRepo := testutil.NewSubscriptions()
	activator := subscriptions.NewActivator(subRepo, catalog, orderLd, payLd, tx, clock.Now)

	validator := receipts.NewValidator(nil, receipts.DefaultBanks()...)
	accounts := billing.NewAccounts(testutil.NewBankAccounts(billing.BankAccount{
		ID: accountID, BankCode: "CBE", BankName: "Commercial Bank of Ethiopia",
		AccountName: "BOOKSTORE PLC", AccountNumber: "1000123454321", Active: true,
	}, billing.BankAccount{
		ID: retiredAcc, BankCode: "CBE", BankName: "Commercial Bank of Ethiopia",
		AccountName: "BOOKSTORE PLC", AccountNumber: "2000123454321", Active: false,
	}), validator)

	bank := &bankReceipts{amounts: map[string]string{}}
	store := &memStorage{}
	verifier := &hookedVerifier{Coordinator: banktransfer.NewCoordinator(bank, store, banktransfer.Options{
		Tolerance: decimal.RequireFromString("0.05"),
	})}

	return &fixture{
		clock:     clock,
		orders:    orderRepo,
		payments:  payRepo,
		subs:      subRepo,
		bank:      bank,
		storage:   store,
		orderLd:   orderLd,
		payLd:     payLd,
		activator: activator,
		verifier:  verifier,
		facade: reconciliation.New(reconciliation.Deps{
			Orders:        orderLd,
			Payments:      payLd,
			Accounts:      accounts,
			Verifier:      verifier,
			Subscriptions: activator,
			Locker:        locks.NewLocal(),
			Tx:            tx,
		}),
	}
}

func (f *fixture) subscribe(t *testing.T) subscriptions.Outcome {
	t.Helper()
	out, err := f.activator.Create(context.Background(), userID, monthlyID, nil)
	require.NoError(t, err)
	require.Equal(t, subscriptions.PaymentRequired, out.Kind)
	return out
}

func (f *fixture) complete(orderID uint, ref string) (*reconciliation.Result, error) {
	return f.facade.CompletePayment(context.Background(), reconciliation.CompleteInput{
		OrderID: orderID, BankCode: "cbe", ReferenceNumber: ref, BankAccountID: accountID, UserID: userID,
	})
}

func TestCompletePayment_PaysOrderAndActivatesSubscription(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	pending := f.subscribe(t)
	f.bank.amounts["FT26015ABCDE"] = "500.00"

	res, err := f.complete(pending.OrderID, " ft26015abcde ")
	require.NoError(t, err)

	assert.Equal(t, pending.PaymentID, res.Payment.ID, "pending payment is reused")
	assert.Equal(t, settlement.Paid, res.Payment.PaymentStatus)
	assert.Equal(t, "FT26015ABCDE", *res.Payment.ReferenceNumber)
	assert.Equal(t, "CBE", res.Payment.BankCode)
	assert.Equal(t, "CBE/FT26015ABCDE.pdf", res.Payment.Metadata["receipt_path"])
	assert.Contains(t, string(res.Payment.ReceiptData), `"transferred_amount":"500.00"`)
	assert.Equal(t, "500.00", res.ReceiptData.TransferredAmount)
	assert.Equal(t, []string{"CBE/FT26015ABCDE.pdf"}, f.storage.paths)
	assert.Equal(t, 1, f.payments.Count())

	order, err := f.orders.FindByID(ctx, pending.OrderID)
	require.NoError(t, err)
	assert.Equal(t, settlement.Paid, order.PaymentStatus)

	require.NotNil(t, res.Subscription)
	sub := res.Subscription
	assert.Equal(t, subscriptions.StatusActive, sub.Status)
	require.NotNil(t, sub.EndDate)
	assert.Equal(t, sub.StartDate.AddDate(0, 0, 30), *sub.EndDate)
	require.NotNil(t, sub.PaymentID)
	assert.Equal(t, pending.PaymentID, *sub.PaymentID)

	again, err := f.activator.ActivateSubscription(ctx, nil, pending.PaymentID)
	require.NoError(t, err)
	assert.Equal(t, sub.ID, again.ID)
}

func TestCompletePayment_ShortfallLeavesLedgersUntouched(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	pending := f.subscribe(t)
	f.bank.amounts["FT26015ABCDE"] = "450.00"

	_, err := f.complete(pending.OrderID, "FT26015ABCDE")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindBadRequest))
	assert.Contains(t, err.Error(), "short by 50.00")

	pay, err := f.payments.FindByID(ctx, pending.PaymentID)
	require.NoError(t, err)
	assert.Equal(t, settlement.Pending, pay.PaymentStatus)
	assert.Nil(t, pay.ReferenceNumber)

	order, err := f.orders.FindByID(ctx, pending.OrderID)
	require.NoError(t, err)
	assert.Equal(t, settlement.Pending, order.PaymentStatus)
	assert.Equal(t, 0, f.subs.Count())
	assert.Len(t, f.storage.paths, 1, "rejected receipt stays stored")
}

func TestCompletePayment_RetryConvergesOnOnePayment(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	pending := f.subscribe(t)

	f.bank.amounts["FT26015AAAAA"] = "100.00"
	_, err := f.complete(pending.OrderID, "FT26015AAAAA")
	require.Error(t, err)

	f.bank.amounts["FT26015BBBBB"] = "500.03"
	res, err := f.complete(pending.OrderID, "FT26015BBBBB")
	require.NoError(t, err)
	assert.Equal(t, pending.PaymentID, res.Payment.ID)
	assert.Equal(t, 1, f.payments.Count())

	list, err := f.orderLd.GetOne(ctx, pending.OrderID)
	require.NoError(t, err)
	assert.Equal(t, settlement.Paid, list.PaymentStatus)
}

func TestCompletePayment_DoubleSpend(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	first := f.subscribe(t)
	f.bank.amounts["FT26015ABCDE"] = "500.00"

	_, err := f.complete(first.OrderID, "FT26015ABCDE")
	require.NoError(t, err)

	_, err = f.complete(first.OrderID, "FT26015ABCDE")
	assert.True(t, apperr.Is(err, apperr.KindConflict), "order already paid")

	books, err := f.orderLd.Checkout(ctx, orders.CheckoutInput{
		UserID:          userID,
		Lines:           []orders.CheckoutLine{{BookID: 1, Quantity: 2}},
		ShippingAddress: "Bole Road, Addis Ababa",
	})
	require.NoError(t, err)
	downloads := f.bank.downloads

	_, err = f.complete(books[0].ID, "FT26015ABCDE")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindConflict))
	assert.Contains(t, err.Error(), "already been used")
	assert.Equal(t, downloads, f.bank.downloads, "used reference is rejected before download")

	order, err := f.orders.FindByID(ctx, books[0].ID)
	require.NoError(t, err)
	assert.Equal(t, settlement.Pending, order.PaymentStatus)
}

func TestCompletePayment_ConcurrentSameReference(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.bank.amounts["FT26015ABCDE"] = "500.00"

	var ids []uint
	for i := 0; i < 2; i++ {
		batch, err := f.orderLd.Checkout(ctx, orders.CheckoutInput{
			UserID:          userID,
			Lines:           []orders.CheckoutLine{{BookID: 1, Quantity: 2}},
			ShippingAddress: "Bole Road, Addis Ababa",
		})
		require.NoError(t, err)
		ids = append(ids, batch[0].ID)
	}

	errs := make([]error, len(ids))
	var wg sync.WaitGroup
	for i, id := range ids {
		wg.Add(1)
		go func(i int, id uint) {
			defer wg.Done()
			_, errs[i] = f.complete(id, "FT26015ABCDE")
		}(i, id)
	}
	wg.Wait()

	var ok, conflicts int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case apperr.Is(err, apperr.KindConflict):
			conflicts++
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, conflicts)
}

func TestCompletePayment_Rejects(t *testing.T) {
	f := newFixture()
	pending := f.subscribe(t)
	f.bank.amounts["FT26015ABCDE"] = "500.00"

	tests := []struct {
		name string
		in   reconciliation.CompleteInput
		kind apperr.Kind
		msg  string
	}{
		{"stranger", reconciliation.CompleteInput{OrderID: pending.OrderID, BankCode: "CBE", ReferenceNumber: "FT26015ABCDE", BankAccountID: accountID, UserID: userID + 1}, apperr.KindNotFound, ""},
		{"unknown account", reconciliation.CompleteInput{OrderID: pending.OrderID, BankCode: "CBE", ReferenceNumber: "FT26015ABCDE", BankAccountID: 9, UserID: userID}, apperr.KindNotFound, ""},
		{"inactive account", reconciliation.CompleteInput{OrderID: pending.OrderID, BankCode: "CBE", ReferenceNumber: "FT26015ABCDE", BankAccountID: retiredAcc, UserID: userID}, apperr.KindBadRequest, "not accepting payments"},
		{"bank mismatch", reconciliation.CompleteInput{OrderID: pending.OrderID, BankCode: "DASHEN", ReferenceNumber: "123ABCD456789012", BankAccountID: accountID, UserID: userID}, apperr.KindBadRequest, "belongs to CBE"},
		{"bad format", reconciliation.CompleteInput{OrderID: pending.OrderID, BankCode: "CBE", ReferenceNumber: "XX1", BankAccountID: accountID, UserID: userID}, apperr.KindBadRequest, "reference number format"},
		{"missing bank", reconciliation.CompleteInput{OrderID: pending.OrderID, ReferenceNumber: "FT26015ABCDE", BankAccountID: accountID, UserID: userID}, apperr.KindBadRequest, "bankCode"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.facade.CompletePayment(context.Background(), tt.in)
			require.Error(t, err)
			assert.Equal(t, tt.kind, apperr.KindOf(err))
			if tt.msg != "" {
				assert.Contains(t, err.Error(), tt.msg)
			}
		})
	}
	assert.Zero(t, f.bank.downloads)
}

func (f *fixture) bookOrder(t *testing.T) *orders.Order {
	t.Helper()
	batch, err := f.orderLd.Checkout(context.Background(), orders.CheckoutInput{
		UserID:          userID,
		Lines:           []orders.CheckoutLine{{BookID: 1, Quantity: 1}},
		ShippingAddress: "Piassa, Addis Ababa",
	})
	require.NoError(t, err)
	return batch[0]
}

func TestCompletePayment_CancelledOrderIsNotPayable(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	order := f.bookOrder(t)
	_, err := f.orderLd.CancelMyOrder(ctx, order.ID, userID, "changed my mind")
	require.NoError(t, err)
	f.bank.amounts["FT26015ABCDE"] = "250.00"

	_, err = f.complete(order.ID, "FT26015ABCDE")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindBadRequest))
	assert.Contains(t, err.Error(), "is cancelled and cannot be paid")
	assert.Zero(t, f.bank.downloads)
	assert.Equal(t, 0, f.payments.Count())

	stored, err := f.orders.FindByID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, settlement.Pending, stored.PaymentStatus)
}

func TestCompletePayment_SecondReferenceForPaidOrder(t *testing.T) {
	f := newFixture()
	order := f.bookOrder(t)
	f.bank.amounts["FT26015AAAAA"] = "250.00"
	f.bank.amounts["FT26015BBBBB"] = "250.00"

	_, err := f.complete(order.ID, "FT26015AAAAA")
	require.NoError(t, err)

	_, err = f.complete(order.ID, "FT26015BBBBB")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindConflict))
	assert.Equal(t, 1, f.payments.Count())
}

func TestCompletePayment_RechecksOrderInsideTransaction(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	pending := f.subscribe(t)
	f.bank.amounts["FT26015ABCDE"] = "500.00"

	// the order gets paid by another path while the receipt is checked
	f.verifier.beforePayment = func() {
		_, err := f.payLd.UpdateStatus(ctx, pending.PaymentID, settlement.Paid, nil)
		require.NoError(t, err)
	}

	_, err := f.complete(pending.OrderID, "FT26015ABCDE")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindConflict))
	assert.Contains(t, err.Error(), "already paid")
	assert.Equal(t, 1, f.payments.Count())

	used, err := f.payLd.ReferenceUsed(ctx, "FT26015ABCDE")
	require.NoError(t, err)
	assert.False(t, used)
}

func TestCompletePayment_RefundedOrderTakesNewPayment(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	order := f.bookOrder(t)
	f.bank.amounts["FT26015AAAAA"] = "250.00"
	f.bank.amounts["FT26015BBBBB"] = "250.00"

	first, err := f.complete(order.ID, "FT26015AAAAA")
	require.NoError(t, err)
	_, err = f.payLd.UpdateStatus(ctx, first.Payment.ID, settlement.Refunded, nil)
	require.NoError(t, err)

	second, err := f.complete(order.ID, "FT26015BBBBB")
	require.NoError(t, err)
	assert.NotEqual(t, first.Payment.ID, second.Payment.ID)
	assert.Equal(t, settlement.Paid, second.Payment.PaymentStatus)
	assert.Equal(t, 2, f.payments.Count())

	refunded, err := f.payments.FindByID(ctx, first.Payment.ID)
	require.NoError(t, err)
	assert.Equal(t, settlement.Refunded, refunded.PaymentStatus)
}

func cbeReceipt(ref, amount string) *receipts.ReceiptData {
	return &receipts.ReceiptData{BankCode: "CBE", Reference: ref, TransferredAmount: amount, ReceiverAccount: "1****4321"}
}

func TestConfirmBankTransfer(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	pending := f.subscribe(t)
	data := cbeReceipt("FT26015ABCDE", "500.00")

	_, err := f.facade.ConfirmBankTransfer(ctx, pending.OrderID, "FT26015ABCDE", nil, userID)
	assert.True(t, apperr.Is(err, apperr.KindBadRequest))

	res, err := f.facade.ConfirmBankTransfer(ctx, pending.OrderID, "ft26015abcde", data, userID)
	require.NoError(t, err)
	assert.Equal(t, pending.PaymentID, res.Payment.ID)
	assert.Equal(t, settlement.Paid, res.Payment.PaymentStatus)
	assert.Equal(t, "CBE", res.Payment.BankCode)
	assert.Equal(t, "FT26015ABCDE", *res.Payment.ReferenceNumber)
	require.NotNil(t, res.Payment.BankAccountID)
	assert.Equal(t, accountID, *res.Payment.BankAccountID)
	require.NotNil(t, res.Subscription)
	assert.Zero(t, f.bank.downloads)

	order, err := f.orders.FindByID(ctx, pending.OrderID)
	require.NoError(t, err)
	assert.Equal(t, settlement.Paid, order.PaymentStatus)

	_, err = f.facade.ConfirmBankTransfer(ctx, pending.OrderID, "FT26015ABCDE", data, userID)
	assert.True(t, apperr.Is(err, apperr.KindConflict))
}

func TestConfirmBankTransfer_ChecksReceiptAgainstOrder(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	pending := f.subscribe(t)

	wrongAccount := cbeReceipt("FT26015ZZZZZ", "500.00")
	wrongAccount.ReceiverAccount = "9999"
	dashen := cbeReceipt("FT26015ZZZZZ", "500.00")
	dashen.BankCode = "DASHEN"

	tests := []struct {
		name string
		data *receipts.ReceiptData
		msg  string
	}{
		{"reference mismatch", cbeReceipt("SOMETHINGELSE", "500.00"), "does not match"},
		{"underpaid", cbeReceipt("FT26015ZZZZZ", "1.00"), "short by 499.00"},
		{"wrong receiver", wrongAccount, "Wrong receiver account"},
		{"no account for bank", dashen, "No active DASHEN account"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.facade.ConfirmBankTransfer(ctx, pending.OrderID, "FT26015ZZZZZ", tt.data, userID)
			require.Error(t, err)
			assert.True(t, apperr.Is(err, apperr.KindBadRequest))
			assert.Contains(t, err.Error(), tt.msg)
		})
	}

	pay, err := f.payments.FindByID(ctx, pending.PaymentID)
	require.NoError(t, err)
	assert.Equal(t, settlement.Pending, pay.PaymentStatus)
	order, err := f.orders.FindByID(ctx, pending.OrderID)
	require.NoError(t, err)
	assert.Equal(t, settlement.Pending, order.PaymentStatus)
	assert.Equal(t, 0, f.subs.Count())
}

func TestConfirmBankTransfer_CreatesPaymentWhenNoneExists(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	order := f.bookOrder(t)

	res, err := f.facade.ConfirmBankTransfer(ctx, order.ID, "FT26015ABCDE", cbeReceipt("FT26015ABCDE", "250.00"), userID)
	require.NoError(t, err)
	assert.Equal(t, settlement.Paid, res.Payment.PaymentStatus)
	assert.True(t, res.Payment.Amount.Equal(order.Total))
	require.NotNil(t, res.Payment.PaidAt)
	assert.Nil(t, res.Subscription)
	assert.Equal(t, 1, f.payments.Count())
}
