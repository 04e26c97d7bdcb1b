package orders_test

import (
	"context"
	"testing"
	"time"

	"bookstore-backend/internal/apperr"
	"bookstore-backend/internal/domain/orders"
	"bookstore-backend/internal/domain/settlement"
	"bookstore-backend/internal/infra/dbtx"
	"bookstore-backend/internal/testutil"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	customer uint = 7
	stranger uint = 8
	admin    uint = 1
)

type fixture struct {
	repo   *testutil.Orders
	clock  *testutil.Clock
	ledger *orders.Ledger
}

func newFixture() *fixture {
	repo := testutil.NewOrders()
	clock := testutil.NewClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	books := testutil.Books{1: decimal.RequireFromString("250.00"), 2: decimal.RequireFromString("99.99")}
	ledger := orders.NewLedger(repo, books, dbtx.Passthrough{}, orders.Options{
		ReturnWindow: 30 * 24 * time.Hour,
		TaxRate:      decimal.RequireFromString("0.15"),
		ShippingFee:  decimal.RequireFromString("50"),
		Now:          clock.Now,
	})
	return &fixture{repo: repo, clock: clock, ledger: ledger}
}

func (f *fixture) checkout(t *testing.T) *orders.Order {
	t.Helper()
	batch, err := f.ledger.Checkout(context.Background(), orders.CheckoutInput{
		UserID:          customer,
		Lines:           []orders.CheckoutLine{{BookID: 1, Quantity: 2}},
		ShippingAddress: "Bole, Addis Ababa",
	})
	require.NoError(t, err)
	require.Len(t, batch, 1)
	return batch[0]
}

func TestCheckout_OneOrderPerLine(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	batch, err := f.ledger.Checkout(ctx, orders.CheckoutInput{
		UserID: customer,
		Lines: []orders.CheckoutLine{
			{BookID: 1, Quantity: 2},
			{BookID: 2, Quantity: 1},
		},
		ShippingAddress: " Bole, Addis Ababa ",
	})
	require.NoError(t, err)
	require.Len(t, batch, 2)

	first := batch[0]
	assert.Equal(t, "500.00", first.Subtotal.StringFixed(2))
	assert.Equal(t, "75.00", first.Tax.StringFixed(2))
	assert.Equal(t, "625.00", first.Total.StringFixed(2))
	assert.True(t, first.Discount.IsZero())
	assert.True(t, first.Total.Equal(first.Subtotal.Add(first.Tax).Add(first.Shipping).Sub(first.Discount)))
	assert.Equal(t, orders.StatusPending, first.Status)
	assert.Equal(t, settlement.Pending, first.PaymentStatus)
	assert.Equal(t, settlement.MethodBankTransfer, first.PaymentMethod)
	require.NotNil(t, first.ShippingAddress)
	assert.Equal(t, "Bole, Addis Ababa", *first.ShippingAddress)
	assert.NotEqual(t, batch[0].OrderNumber, batch[1].OrderNumber)

	stored, err := f.ledger.GetOne(ctx, first.ID)
	require.NoError(t, err)
	require.Len(t, stored.StatusHistory, 1)
	assert.Equal(t, orders.StatusPending, stored.StatusHistory[0].Status)
	assert.Equal(t, 1, stored.StatusHistory[0].Seq)
}

func TestCheckout_Rejects(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	_, err := f.ledger.Checkout(ctx, orders.CheckoutInput{UserID: customer, ShippingAddress: "x"})
	assert.True(t, apperr.Is(err, apperr.KindBadRequest))

	_, err = f.ledger.Checkout(ctx, orders.CheckoutInput{UserID: customer, Lines: []orders.CheckoutLine{{BookID: 1, Quantity: 1}}})
	assert.True(t, apperr.Is(err, apperr.KindBadRequest))

	_, err = f.ledger.Checkout(ctx, orders.CheckoutInput{UserID: customer, ShippingAddress: "x", Lines: []orders.CheckoutLine{{BookID: 99, Quantity: 1}}})
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	_, err = f.ledger.Checkout(ctx, orders.CheckoutInput{UserID: customer, ShippingAddress: "x", Lines: []orders.CheckoutLine{{BookID: 1, Quantity: 0}}})
	assert.True(t, apperr.Is(err, apperr.KindBadRequest))
	assert.Equal(t, 0, f.repo.Count())
}

func TestCreatePlanOrder(t *testing.T) {
	f := newFixture()

	o, err := f.ledger.CreatePlanOrder(context.Background(), orders.PlanOrderInput{
		UserID: customer, PlanID: 3, Price: decimal.NewFromInt(500), Currency: "ETB",
	})
	require.NoError(t, err)
	assert.True(t, o.IsPlanPurchase())
	assert.Nil(t, o.BookID)
	assert.Nil(t, o.ShippingAddress)
	assert.Equal(t, 1, o.Quantity)
	assert.Equal(t, "500.00", o.Total.StringFixed(2))
}

func TestUpdateStatus_SameStatusIsRejectedWithoutHistory(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	o := f.checkout(t)

	_, err := f.ledger.UpdateStatus(ctx, o.ID, orders.StatusConfirmed, "stock checked", admin)
	require.NoError(t, err)

	_, err = f.ledger.UpdateStatus(ctx, o.ID, orders.StatusConfirmed, "retry", admin)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindBadRequest))
	assert.Equal(t, "Order already has this status", err.Error())

	stored, err := f.ledger.GetOne(ctx, o.ID)
	require.NoError(t, err)
	require.Len(t, stored.StatusHistory, 2)
	assert.Equal(t, "stock checked", stored.StatusHistory[1].Notes)
	assert.Equal(t, admin, stored.StatusHistory[1].UpdatedBy)
}

func TestUpdateStatus_FollowsStateMachine(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	o := f.checkout(t)

	_, err := f.ledger.UpdateStatus(ctx, o.ID, orders.StatusShipped, "", admin)
	assert.True(t, apperr.Is(err, apperr.KindBadRequest))

	for _, s := range []orders.Status{orders.StatusConfirmed, orders.StatusProcessing, orders.StatusShipped, orders.StatusDelivered} {
		f.clock.Advance(time.Hour)
		_, err := f.ledger.UpdateStatus(ctx, o.ID, s, "", admin)
		require.NoError(t, err, "to %s", s)
	}

	stored, err := f.ledger.GetOne(ctx, o.ID)
	require.NoError(t, err)
	require.Len(t, stored.StatusHistory, 5)
	for i, e := range stored.StatusHistory {
		assert.Equal(t, i+1, e.Seq)
	}
	assert.True(t, stored.Total.Equal(o.Total), "total is immutable")
}

func TestUpdatePaymentStatus(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	o := f.checkout(t)

	updated, err := f.ledger.UpdatePaymentStatus(ctx, o.ID, settlement.Paid, admin)
	require.NoError(t, err)
	assert.Equal(t, settlement.Paid, updated.PaymentStatus)
	assert.Len(t, updated.StatusHistory, 1, "payment status does not touch history")

	_, err = f.ledger.UpdatePaymentStatus(ctx, o.ID, settlement.Paid, admin)
	assert.EqualError(t, err, "Order already has this payment status")

	require.NoError(t, f.ledger.SyncPaymentStatus(ctx, o.ID, settlement.Paid))
}

func TestAddTrackingNumber(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	o := f.checkout(t)

	_, err := f.ledger.AddTrackingNumber(ctx, o.ID, "  ", admin)
	assert.True(t, apperr.Is(err, apperr.KindBadRequest))

	updated, err := f.ledger.AddTrackingNumber(ctx, o.ID, "ET123456789", admin)
	require.NoError(t, err)
	require.NotNil(t, updated.TrackingNumber)
	assert.Equal(t, "ET123456789", *updated.TrackingNumber)
}

func TestCancelMyOrder(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	o := f.checkout(t)
	_, err := f.ledger.CancelMyOrder(ctx, o.ID, stranger, "")
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	cancelled, err := f.ledger.CancelMyOrder(ctx, o.ID, customer, "changed my mind")
	require.NoError(t, err)
	assert.Equal(t, orders.StatusCancelled, cancelled.Status)
	assert.Equal(t, "Cancelled by customer: changed my mind", cancelled.StatusHistory[len(cancelled.StatusHistory)-1].Notes)
}

func TestCancelMyOrder_ShippedIsBlocked(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	o := f.checkout(t)
	for _, s := range []orders.Status{orders.StatusConfirmed, orders.StatusProcessing, orders.StatusShipped} {
		_, err := f.ledger.UpdateStatus(ctx, o.ID, s, "", admin)
		require.NoError(t, err)
	}

	_, err := f.ledger.CancelMyOrder(ctx, o.ID, customer, "")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindBadRequest))
	assert.Contains(t, err.Error(), "shipped")

	stored, err := f.ledger.GetOne(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusShipped, stored.Status)
	assert.Len(t, stored.StatusHistory, 4)
}

func TestRequestReturn_Window(t *testing.T) {
	tests := []struct {
		name      string
		sinceDays int
		wantErr   string
	}{
		{"delivered 29 days ago", 29, ""},
		{"delivered 31 days ago", 31, "Return window of 30 days has expired"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			ctx := context.Background()
			o := f.checkout(t)
			f.repo.SetDelivered(o.ID, f.clock.Now())
			f.clock.Advance(time.Duration(tt.sinceDays) * 24 * time.Hour)

			got, err := f.ledger.RequestReturn(ctx, o.ID, customer, "damaged cover")
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.True(t, apperr.Is(err, apperr.KindBadRequest))
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, orders.StatusReturnRequested, got.Status)
			assert.Contains(t, got.Notes, "Return requested: damaged cover")
		})
	}
}

func TestRequestReturn_OnlyDelivered(t *testing.T) {
	f := newFixture()
	o := f.checkout(t)

	_, err := f.ledger.RequestReturn(context.Background(), o.ID, customer, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Only delivered orders can be returned")
}

func TestDeliveredAt_FallsBackToUpdatedAt(t *testing.T) {
	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, at, orders.DeliveredAt(&orders.Order{UpdatedAt: at}))

	delivered := at.Add(-time.Hour)
	o := &orders.Order{UpdatedAt: at, StatusHistory: []orders.StatusEntry{
		{Status: orders.StatusPending, CreatedAt: at.Add(-48 * time.Hour)},
		{Status: orders.StatusDelivered, CreatedAt: delivered},
	}}
	assert.Equal(t, delivered, orders.DeliveredAt(o))
}

func TestListMine(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.checkout(t)
	f.checkout(t)

	mine, total, err := f.ledger.ListMine(ctx, customer, 1, 10)
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)
	assert.Len(t, mine, 2)

	theirs, total, err := f.ledger.ListMine(ctx, stranger, 1, 10)
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, theirs)

	_, err = f.ledger.GetOwned(ctx, mine[0].ID, stranger)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}
