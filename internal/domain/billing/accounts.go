package billing

import (
	"context"
	"strings"

	"bookstore-backend/internal/apperr"
)

// BankSupport reports whether receipts of a bank can be verified.
type BankSupport interface {
	Supports(bankCode string) bool
}

// Accounts is the registry of merchant bank accounts.
type Accounts struct {
	repo  BankAccountRepository
	banks BankSupport
}

func NewAccounts(repo BankAccountRepository, banks BankSupport) *Accounts {
	return &Accounts{repo: repo, banks: banks}
}

func (a *Accounts) Create(ctx context.Context, acc *BankAccount) (*BankAccount, error) {
	acc.BankCode = strings.ToUpper(strings.TrimSpace(acc.BankCode))
	acc.AccountNumber = strings.TrimSpace(acc.AccountNumber)
	if !a.banks.Supports(acc.BankCode) {
		return nil, apperr.BadRequest("Unsupported bank code: %s", acc.BankCode)
	}
	if acc.AccountNumber == "" || strings.TrimSpace(acc.AccountName) == "" {
		return nil, apperr.BadRequest("accountName and accountNumber are required")
	}
	acc.Active = true
	if err := a.repo.Create(ctx, acc); err != nil {
		return nil, err
	}
	return acc, nil
}

func (a *Accounts) GetByID(ctx context.Context, id uint) (*BankAccount, error) {
	return a.repo.FindByID(ctx, id)
}

func (a *Accounts) ListActive(ctx context.Context) ([]BankAccount, error) {
	return a.repo.ListActive(ctx)
}
