package billing

import (
	"time"

	"bookstore-backend/internal/domain/settlement"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// Payment is one settlement attempt against an order. Rows are reused across
// retries for the same order and user.
type Payment struct {
	ID      uint `gorm:"primaryKey" json:"id"`
	OrderID uint `gorm:"not null;index:idx_payments_order_user,priority:1" json:"order_id"`
	UserID  uint `gorm:"not null;index:idx_payments_order_user,priority:2;index" json:"user_id"`

	Amount        decimal.Decimal   `gorm:"type:decimal(12,2);not null" json:"amount"`
	Currency      string            `gorm:"type:varchar(3);not null" json:"currency"`
	PaymentMethod string            `gorm:"type:varchar(30);not null" json:"payment_method"`
	PaymentStatus settlement.Status `gorm:"type:varchar(20);not null;index" json:"payment_status"`

	// unique among paid payments, see database.InitDB
	ReferenceNumber *string `gorm:"type:varchar(64);index" json:"reference_number"`
	BankCode        string  `gorm:"type:varchar(20)" json:"bank_code"`
	BankAccountID   *uint   `json:"bank_account_id"`

	ReceiptData datatypes.JSON    `json:"receipt_data,omitempty"`
	Metadata    datatypes.JSONMap `json:"metadata,omitempty"`

	PaidAt     *time.Time `json:"paid_at"`
	RefundedAt *time.Time `json:"refunded_at"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// BankAccount is a merchant account customers transfer money to.
type BankAccount struct {
	ID            uint   `gorm:"primaryKey" json:"id"`
	BankCode      string `gorm:"type:varchar(20);not null;index" json:"bank_code"`
	BankName      string `gorm:"not null" json:"bank_name"`
	AccountName   string `gorm:"not null" json:"account_name"`
	AccountNumber string `gorm:"type:varchar(40);not null" json:"account_number"`
	Active        bool   `gorm:"not null;default:true" json:"active"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
