package orders

import (
	"context"
	"errors"

	"bookstore-backend/internal/apperr"
	"bookstore-backend/internal/domain/settlement"
	"bookstore-backend/internal/infra/dbtx"

	"gorm.io/gorm"
)

type Filter struct {
	UserID        *uint
	Status        Status
	PaymentStatus settlement.Status
	Page          int
	Limit         int
}

type Repository interface {
	CreateBatch(ctx context.Context, batch []*Order) error
	// FindByID returns the order with its status history ordered by Seq.
	FindByID(ctx context.Context, id uint) (*Order, error)
	List(ctx context.Context, f Filter) ([]Order, int64, error)
	// Save persists the mutable columns only; price components are never rewritten.
	Save(ctx context.Context, o *Order) error
	// AppendHistory assigns the next Seq for the order and inserts the entry.
	AppendHistory(ctx context.Context, e *StatusEntry) error
}

type GormRepository struct {
	db *gorm.DB
}

func NewGormRepository(db *gorm.DB) *GormRepository {
	return &GormRepository{db: db}
}

func (r *GormRepository) CreateBatch(ctx context.Context, batch []*Order) error {
	if len(batch) == 0 {
		return nil
	}
	err := dbtx.Conn(ctx, r.db).Omit("StatusHistory").Create(batch).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return apperr.Conflict("Order number collision, please retry")
	}
	if err != nil {
		return apperr.Internal(err, "Failed to create orders")
	}
	return nil
}

func (r *GormRepository) FindByID(ctx context.Context, id uint) (*Order, error) {
	var o Order
	err := dbtx.Conn(ctx, r.db).
		Preload("StatusHistory", func(db *gorm.DB) *gorm.DB {
			return db.Order("seq ASC")
		}).
		First(&o, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("Order %d not found", id)
	}
	if err != nil {
		return nil, apperr.Internal(err, "Failed to load order")
	}
	return &o, nil
}

func (r *GormRepository) List(ctx context.Context, f Filter) ([]Order, int64, error) {
	q := dbtx.Conn(ctx, r.db).Model(&Order{})
	if f.UserID != nil {
		q = q.Where("user_id = ?", *f.UserID)
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.PaymentStatus != "" {
		q = q.Where("payment_status = ?", f.PaymentStatus)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, apperr.Internal(err, "Failed to count orders")
	}

	page, limit := normalizePage(f.Page, f.Limit)
	var list []Order
	if err := q.Order("created_at DESC").
		Limit(limit).
		Offset((page - 1) * limit).
		Find(&list).Error; err != nil {
		return nil, 0, apperr.Internal(err, "Failed to load orders")
	}
	return list, total, nil
}

func (r *GormRepository) Save(ctx context.Context, o *Order) error {
	if err := dbtx.Conn(ctx, r.db).
		Model(o).
		Select("status", "payment_status", "tracking_number", "notes", "updated_at").
		Updates(o).Error; err != nil {
		return apperr.Internal(err, "Failed to update order")
	}
	return nil
}

func (r *GormRepository) AppendHistory(ctx context.Context, e *StatusEntry) error {
	conn := dbtx.Conn(ctx, r.db)

	var last int
	if err := conn.Model(&StatusEntry{}).
		Where("order_id = ?", e.OrderID).
		Select("COALESCE(MAX(seq), 0)").
		Scan(&last).Error; err != nil {
		return apperr.Internal(err, "Failed to read order history")
	}
	e.Seq = last + 1

	err := conn.Create(e).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return apperr.Conflict("Order %d was updated concurrently, please retry", e.OrderID)
	}
	if err != nil {
		return apperr.Internal(err, "Failed to append order history")
	}
	return nil
}

func normalizePage(page, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}
	return page, limit
}
