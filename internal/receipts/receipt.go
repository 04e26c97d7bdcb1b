// Package receipts validates bank transfer references and reads the
// receipts the issuing banks publish for them.
package receipts

import (
	"context"
	"net/http"
	"sort"
	"strings"

	"bookstore-backend/internal/apperr"
)

// ReceiptData is what a bank receipt says about one transfer.
// TransferredAmount keeps the bank's formatting, grouping separators included.
type ReceiptData struct {
	BankCode          string `json:"bank_code"`
	Reference         string `json:"reference"`
	TransferredAmount string `json:"transferred_amount"`
	PaymentDateTime   string `json:"payment_date_time"`
	PayerName         string `json:"payer_name,omitempty"`
	PayerAccount      string `json:"payer_account,omitempty"`
	ReceiverName      string `json:"receiver_name"`
	ReceiverAccount   string `json:"receiver_account"`
}

// Receiver is the merchant account a transfer is expected to land in.
type Receiver struct {
	BankName      string
	AccountName   string
	AccountNumber string
}

// Validator dispatches to the supported banks.
type Validator struct {
	banks  map[string]*Bank
	client *http.Client
}

func NewValidator(client *http.Client, banks ...*Bank) *Validator {
	if client == nil {
		client = http.DefaultClient
	}
	v := &Validator{banks: make(map[string]*Bank, len(banks)), client: client}
	for _, b := range banks {
		v.banks[b.Code] = b
	}
	return v
}

func (v *Validator) bank(code string) (*Bank, error) {
	b, ok := v.banks[strings.ToUpper(strings.TrimSpace(code))]
	if !ok {
		return nil, apperr.BadRequest("Unsupported bank code: %s", code)
	}
	return b, nil
}

func (v *Validator) Supports(code string) bool {
	_, err := v.bank(code)
	return err == nil
}

// Codes lists the supported bank codes.
func (v *Validator) Codes() []string {
	codes := make([]string, 0, len(v.banks))
	for c := range v.banks {
		codes = append(codes, c)
	}
	sort.Strings(codes)
	return codes
}

// ValidateReference checks the reference format and returns its canonical form.
func (v *Validator) ValidateReference(bankCode, reference string) (string, error) {
	b, err := v.bank(bankCode)
	if err != nil {
		return "", err
	}
	return b.ValidateReference(reference)
}

func (v *Validator) ReceiptURL(bankCode, reference string, r Receiver) (string, error) {
	b, err := v.bank(bankCode)
	if err != nil {
		return "", err
	}
	return b.ReceiptURL(reference, r)
}

func (v *Validator) Download(ctx context.Context, url string) (*Document, error) {
	return download(ctx, v.client, url)
}

func (v *Validator) Parse(bankCode string, doc []byte, reference string) (*ReceiptData, error) {
	b, err := v.bank(bankCode)
	if err != nil {
		return nil, err
	}
	return b.Parse(doc, reference)
}
