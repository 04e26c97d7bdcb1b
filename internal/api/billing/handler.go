package billing

import (
	"context"

	"bookstore-backend/internal/domain/billing"
	"bookstore-backend/internal/domain/subscriptions"
	"bookstore-backend/internal/reconciliation"
)

// ReceiptFiles reads stored bank receipts back.
type ReceiptFiles interface {
	Open(ctx context.Context, name string) ([]byte, error)
}

// Handler serves payments, bank transfer reconciliation, merchant bank
// accounts and subscriptions.
type Handler struct {
	payments   *billing.Ledger
	accounts   *billing.Accounts
	reconciler *reconciliation.Facade
	activator  *subscriptions.Activator
	receipts   ReceiptFiles
}

func NewHandler(payments *billing.Ledger, accounts *billing.Accounts, reconciler *reconciliation.Facade, activator *subscriptions.Activator, receipts ReceiptFiles) *Handler {
	return &Handler{payments: payments, accounts: accounts, reconciler: reconciler, activator: activator, receipts: receipts}
}
