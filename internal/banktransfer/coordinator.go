// Package banktransfer verifies a customer's bank transfer against the
// receipt published by the bank.
package banktransfer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"bookstore-backend/internal/apperr"
	"bookstore-backend/internal/domain/billing"
	"bookstore-backend/internal/infra/metrics"
	"bookstore-backend/internal/receipts"

	"github.com/shopspring/decimal"
)

type Receipts interface {
	ValidateReference(bankCode, reference string) (string, error)
	ReceiptURL(bankCode, reference string, r receipts.Receiver) (string, error)
	Download(ctx context.Context, url string) (*receipts.Document, error)
	Parse(bankCode string, doc []byte, reference string) (*receipts.ReceiptData, error)
}

// Storage keeps raw receipt documents.
type Storage interface {
	Upload(ctx context.Context, data []byte, path, contentType string) (string, error)
}

type Request struct {
	BankCode        string
	ReferenceNumber string
}

// Verification is what ValidateReference learned about a transfer.
type Verification struct {
	Value       string
	ReceiptData *receipts.ReceiptData
	ReceiptPath string
}

type Options struct {
	// Tolerance is the largest accepted gap between transferred and owed
	// amounts. Zero demands an exact match.
	Tolerance decimal.Decimal
	// FetchTimeout bounds download plus upload.
	FetchTimeout time.Duration
}

type Coordinator struct {
	receipts     Receipts
	storage      Storage
	tolerance    decimal.Decimal
	fetchTimeout time.Duration
}

func NewCoordinator(r Receipts, s Storage, opts Options) *Coordinator {
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = 20 * time.Second
	}
	return &Coordinator{receipts: r, storage: s, tolerance: opts.Tolerance.Abs(), fetchTimeout: opts.FetchTimeout}
}

// ReceiptPath is where the raw receipt of reference is stored.
func ReceiptPath(bankCode, reference string) string {
	return fmt.Sprintf("%s/%s.pdf", strings.ToUpper(bankCode), reference)
}

// ValidateReference checks the reference format, fetches the bank receipt
// for it, stores the raw document and parses it. The document is stored
// before parsing so rejected attempts stay auditable; on a parse failure
// the returned Verification still carries ReceiptPath.
func (c *Coordinator) ValidateReference(ctx context.Context, req Request, receiver receipts.Receiver) (*Verification, error) {
	bankCode := strings.ToUpper(strings.TrimSpace(req.BankCode))

	ref, err := c.receipts.ValidateReference(bankCode, req.ReferenceNumber)
	if err != nil {
		return nil, err
	}
	url, err := c.receipts.ReceiptURL(bankCode, ref, receiver)
	if err != nil {
		return nil, err
	}

	started := time.Now()
	defer func() {
		metrics.ReceiptFetchSeconds.WithLabelValues(bankCode).Observe(time.Since(started).Seconds())
	}()

	fetchCtx, cancel := context.WithTimeout(ctx, c.fetchTimeout)
	defer cancel()

	doc, err := c.receipts.Download(fetchCtx, url)
	if err != nil {
		return nil, err
	}

	contentType := doc.ContentType
	if contentType == "" {
		contentType = "application/pdf"
	}
	path, err := c.storage.Upload(fetchCtx, doc.Body, ReceiptPath(bankCode, ref), contentType)
	if err != nil {
		return nil, apperr.Internal(err, "Failed to store receipt")
	}
	v := &Verification{Value: ref, ReceiptPath: path}

	data, err := c.receipts.Parse(bankCode, doc.Body, ref)
	if err != nil {
		slog.WarnContext(ctx, "receipt parse failed", "bank", bankCode, "reference", ref, "receipt_path", path, "err", err)
		return v, err
	}
	v.ReceiptData = data
	return v, nil
}

// ValidateReceiverAccountNumber checks that the receipt credits the
// registered account. Receipts usually mask the middle digits.
func (c *Coordinator) ValidateReceiverAccountNumber(bankCode, accountNumber string, data *receipts.ReceiptData) error {
	if data == nil {
		return apperr.BadRequest("Receipt data is required")
	}
	if !strings.EqualFold(data.BankCode, bankCode) {
		return apperr.BadRequest("Receipt is from %s, expected %s", data.BankCode, bankCode)
	}
	if !MaskedAccountMatches(data.ReceiverAccount, accountNumber) {
		return apperr.BadRequest("Wrong receiver account: receipt credits %s, not the registered %s account",
			data.ReceiverAccount, strings.ToUpper(bankCode))
	}
	return nil
}

// MaskedAccountMatches compares a receipt account such as 1****4321 with a
// full account number.
func MaskedAccountMatches(masked, account string) bool {
	masked = compact(masked)
	account = compact(account)
	if masked == "" || account == "" {
		return false
	}
	first := strings.IndexByte(masked, '*')
	if first < 0 {
		return masked == account
	}
	prefix := masked[:first]
	suffix := masked[strings.LastIndexByte(masked, '*')+1:]
	if prefix == "" && suffix == "" {
		return false
	}
	return len(account) >= len(prefix)+len(suffix) &&
		strings.HasPrefix(account, prefix) &&
		strings.HasSuffix(account, suffix)
}

func compact(s string) string {
	return strings.NewReplacer(" ", "", "-", "").Replace(strings.TrimSpace(s))
}

// ValidatePayment checks the receiver account and then the transferred
// amount against total. Only a match within the tolerance succeeds.
func (c *Coordinator) ValidatePayment(account *billing.BankAccount, total decimal.Decimal, data *receipts.ReceiptData) error {
	if account == nil {
		return apperr.BadRequest("Bank account is required")
	}
	if err := c.ValidateReceiverAccountNumber(account.BankCode, account.AccountNumber, data); err != nil {
		return err
	}

	paid, err := ParseAmount(data.TransferredAmount)
	if err != nil {
		return err
	}
	diff := paid.Sub(total)
	if diff.Abs().LessThanOrEqual(c.tolerance) {
		return nil
	}

	direction, signed := "excess", "+"+diff.StringFixed(2)
	if diff.IsNegative() {
		direction, signed = "short", diff.StringFixed(2)
	}
	return apperr.BadRequest("Amount mismatch: expected %s, received %s (%s by %s, difference %s)",
		total.StringFixed(2), paid.StringFixed(2), direction, diff.Abs().StringFixed(2), signed)
}

// ParseAmount reads a receipt amount such as "1,500.00" or "ETB 1 500.00".
func ParseAmount(s string) (decimal.Decimal, error) {
	var sb strings.Builder
	for _, r := range s {
		if (r >= '0' && r <= '9') || r == '.' || r == '-' {
			sb.WriteRune(r)
		}
	}
	d, err := decimal.NewFromString(sb.String())
	if err != nil {
		return decimal.Zero, apperr.BadRequest("Could not read transferred amount %q", s)
	}
	return d, nil
}
