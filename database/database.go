package database

import (
	"fmt"
	"log/slog"

	"bookstore-backend/internal/domain/billing"
	"bookstore-backend/internal/domain/catalog"
	"bookstore-backend/internal/domain/orders"
	"bookstore-backend/internal/domain/plans"
	"bookstore-backend/internal/domain/subscriptions"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

var DB *gorm.DB

// Partial unique indexes gorm tags cannot express. They make the store the
// final word on double spends and on one active subscription per user.
var indexes = []string{
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_payments_paid_reference
		ON payments (reference_number) WHERE payment_status = 'paid'`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_subscriptions_one_active
		ON subscriptions (user_id) WHERE status = 'active'`,
}

func InitDB(dsn string) error {
	if dsn == "" {
		return fmt.Errorf("DB_URL not set")
	}

	// TranslateError turns unique violations into gorm.ErrDuplicatedKey.
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}

	DB = db

	if err := DB.AutoMigrate(
		// catalogue
		&catalog.Book{},
		&plans.Plan{},

		// orders
		&orders.Order{},
		&orders.StatusEntry{},

		// payments
		&billing.BankAccount{},
		&billing.Payment{},

		&subscriptions.Subscription{},
	); err != nil {
		return fmt.Errorf("auto-migrate: %w", err)
	}

	for _, stmt := range indexes {
		if err := DB.Exec(stmt).Error; err != nil {
			return fmt.Errorf("create index: %w", err)
		}
	}

	slog.Info("connected and migrated")
	return nil
}
