package orders

import (
	"time"

	"bookstore-backend/internal/domain/settlement"

	"github.com/shopspring/decimal"
)

type Order struct {
	ID          uint   `gorm:"primaryKey" json:"id"`
	OrderNumber string `gorm:"type:varchar(32);not null;uniqueIndex:idx_orders_order_number" json:"order_number"`
	UserID      uint   `gorm:"not null;index" json:"user_id"`

	// exactly one of BookID / PlanID is set
	BookID *uint `gorm:"index" json:"book_id,omitempty"`
	PlanID *uint `gorm:"index" json:"plan_id,omitempty"`

	Quantity  int             `gorm:"not null;default:1" json:"quantity"`
	UnitPrice decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"unit_price"`
	Subtotal  decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"subtotal"`
	Tax       decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0" json:"tax"`
	Shipping  decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0" json:"shipping"`
	Discount  decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0" json:"discount"`
	Total     decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"total"`
	Currency  string          `gorm:"type:varchar(3);not null" json:"currency"`

	Status          Status            `gorm:"type:varchar(20);not null;index" json:"status"`
	PaymentStatus   settlement.Status `gorm:"type:varchar(20);not null;index" json:"payment_status"`
	PaymentMethod   string            `gorm:"type:varchar(30);not null" json:"payment_method"`
	ShippingAddress *string           `json:"shipping_address"`
	TrackingNumber  *string           `json:"tracking_number"`
	Notes           string            `gorm:"type:text" json:"notes"`

	StatusHistory []StatusEntry `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE" json:"status_history,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsPlanPurchase reports whether the order buys a subscription plan.
func (o *Order) IsPlanPurchase() bool {
	return o.PlanID != nil
}

// StatusEntry is one row of the append-only status log of an order.
type StatusEntry struct {
	ID        uint      `gorm:"primaryKey" json:"-"`
	OrderID   uint      `gorm:"not null;uniqueIndex:idx_order_status_seq,priority:1" json:"-"`
	Seq       int       `gorm:"not null;uniqueIndex:idx_order_status_seq,priority:2" json:"seq"`
	Status    Status    `gorm:"type:varchar(20);not null" json:"status"`
	Notes     string    `gorm:"type:text" json:"notes"`
	UpdatedBy uint      `json:"updated_by"`
	CreatedAt time.Time `json:"timestamp"`
}

func (StatusEntry) TableName() string {
	return "order_status_history"
}
