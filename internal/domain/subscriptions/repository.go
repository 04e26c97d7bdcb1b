package subscriptions

import (
	"context"
	"errors"
	"time"

	"bookstore-backend/internal/apperr"
	"bookstore-backend/internal/infra/dbtx"

	"gorm.io/gorm"
)

type Repository interface {
	Create(ctx context.Context, s *Subscription) error
	FindByID(ctx context.Context, id uint) (*Subscription, error)
	FindActiveByUser(ctx context.Context, userID uint) (*Subscription, error)
	FindLatestByUser(ctx context.Context, userID uint) (*Subscription, error)
	FindByPayment(ctx context.Context, paymentID uint) (*Subscription, error)
	Save(ctx context.Context, s *Subscription) error
	// ExpireDue flips every active subscription ending at or before now.
	ExpireDue(ctx context.Context, now time.Time) (int64, error)
}

var errActiveExists = apperr.Conflict("User already has an active subscription")

type GormRepository struct {
	db *gorm.DB
}

func NewGormRepository(db *gorm.DB) *GormRepository {
	return &GormRepository{db: db}
}

func (r *GormRepository) Create(ctx context.Context, s *Subscription) error {
	err := dbtx.Conn(ctx, r.db).Create(s).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return errActiveExists
	}
	if err != nil {
		return apperr.Internal(err, "Failed to create subscription")
	}
	return nil
}

func (r *GormRepository) first(ctx context.Context, notFound error, query string, args ...any) (*Subscription, error) {
	var s Subscription
	err := dbtx.Conn(ctx, r.db).Where(query, args...).Order("id DESC").First(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, notFound
	}
	if err != nil {
		return nil, apperr.Internal(err, "Failed to load subscription")
	}
	return &s, nil
}

func (r *GormRepository) FindByID(ctx context.Context, id uint) (*Subscription, error) {
	return r.first(ctx, apperr.NotFound("Subscription %d not found", id), "id = ?", id)
}

func (r *GormRepository) FindActiveByUser(ctx context.Context, userID uint) (*Subscription, error) {
	return r.first(ctx, apperr.NotFound("No active subscription"), "user_id = ? AND status = ?", userID, StatusActive)
}

func (r *GormRepository) FindLatestByUser(ctx context.Context, userID uint) (*Subscription, error) {
	return r.first(ctx, apperr.NotFound("No subscription found"), "user_id = ?", userID)
}

func (r *GormRepository) FindByPayment(ctx context.Context, paymentID uint) (*Subscription, error) {
	return r.first(ctx, apperr.NotFound("No subscription for payment %d", paymentID), "payment_id = ?", paymentID)
}

func (r *GormRepository) Save(ctx context.Context, s *Subscription) error {
	err := dbtx.Conn(ctx, r.db).Save(s).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return errActiveExists
	}
	if err != nil {
		return apperr.Internal(err, "Failed to update subscription")
	}
	return nil
}

func (r *GormRepository) ExpireDue(ctx context.Context, now time.Time) (int64, error) {
	res := dbtx.Conn(ctx, r.db).
		Model(&Subscription{}).
		Where("status = ? AND end_date IS NOT NULL AND end_date <= ?", StatusActive, now).
		Updates(map[string]any{"status": StatusExpired, "updated_at": now})
	if res.Error != nil {
		return 0, apperr.Internal(res.Error, "Failed to expire subscriptions")
	}
	return res.RowsAffected, nil
}
