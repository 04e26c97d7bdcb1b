package plans

import (
	"time"

	"github.com/shopspring/decimal"
)

type Plan struct {
	ID           uint            `gorm:"primaryKey" json:"id"`
	Name         string          `gorm:"not null;uniqueIndex:idx_plans_name" json:"name"`
	Description  string          `json:"description"`
	Price        decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0" json:"price"`
	Currency     string          `gorm:"type:varchar(3);not null" json:"currency"`
	DurationDays *int            `json:"duration_days"`
	IsLifetime   bool            `gorm:"not null;default:false" json:"is_lifetime"`
	Active       bool            `gorm:"not null;default:true;index" json:"active"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
