package catalog

import (
	"context"
	"errors"
	"time"

	"bookstore-backend/internal/apperr"
	"bookstore-backend/internal/infra/dbtx"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Book is the slice of the catalogue the order flow needs: price and availability.
type Book struct {
	ID        uint            `gorm:"primaryKey" json:"id"`
	Title     string          `gorm:"not null" json:"title"`
	Price     decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"price"`
	Currency  string          `gorm:"type:varchar(3);not null" json:"currency"`
	Published bool            `gorm:"not null;default:true" json:"published"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type GormBooks struct {
	db *gorm.DB
}

func NewGormBooks(db *gorm.DB) *GormBooks {
	return &GormBooks{db: db}
}

// BookPrice returns the unit price of a published book.
func (b *GormBooks) BookPrice(ctx context.Context, bookID uint) (decimal.Decimal, string, error) {
	var book Book
	err := dbtx.Conn(ctx, b.db).Where("id = ? AND published = ?", bookID, true).First(&book).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return decimal.Zero, "", apperr.NotFound("Book %d not found", bookID)
	}
	if err != nil {
		return decimal.Zero, "", apperr.Internal(err, "Failed to load book")
	}
	return book.Price, book.Currency, nil
}
