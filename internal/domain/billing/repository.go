package billing

import (
	"context"
	"errors"
	"time"

	"bookstore-backend/internal/apperr"
	"bookstore-backend/internal/domain/settlement"
	"bookstore-backend/internal/infra/dbtx"

	"gorm.io/gorm"
)

type Filter struct {
	OrderID *uint
	UserID  *uint
	Method  string
	Status  settlement.Status
	From    *time.Time
	To      *time.Time
	// Search matches a substring of the reference number.
	Search string
	Page   int
	Limit  int
}

type Repository interface {
	Create(ctx context.Context, p *Payment) error
	FindByID(ctx context.Context, id uint) (*Payment, error)
	// FindByOrderAndUser returns the most recent payment of userID for orderID.
	FindByOrderAndUser(ctx context.Context, orderID, userID uint) (*Payment, error)
	ListByOrder(ctx context.Context, orderID uint) ([]Payment, error)
	FindPaidByReference(ctx context.Context, reference string) (*Payment, error)
	List(ctx context.Context, f Filter) ([]Payment, int64, error)
	Save(ctx context.Context, p *Payment) error
	Delete(ctx context.Context, id uint) error
}

type BankAccountRepository interface {
	Create(ctx context.Context, a *BankAccount) error
	FindByID(ctx context.Context, id uint) (*BankAccount, error)
	ListActive(ctx context.Context) ([]BankAccount, error)
}

func referenceConflict(p *Payment) error {
	ref := ""
	if p.ReferenceNumber != nil {
		ref = *p.ReferenceNumber
	}
	return apperr.Conflict("Reference number %s has already been used", ref)
}

type GormRepository struct {
	db *gorm.DB
}

func NewGormRepository(db *gorm.DB) *GormRepository {
	return &GormRepository{db: db}
}

func (r *GormRepository) Create(ctx context.Context, p *Payment) error {
	err := dbtx.Conn(ctx, r.db).Create(p).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return referenceConflict(p)
	}
	if err != nil {
		return apperr.Internal(err, "Failed to create payment")
	}
	return nil
}

func (r *GormRepository) FindByID(ctx context.Context, id uint) (*Payment, error) {
	var p Payment
	err := dbtx.Conn(ctx, r.db).First(&p, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("Payment %d not found", id)
	}
	if err != nil {
		return nil, apperr.Internal(err, "Failed to load payment")
	}
	return &p, nil
}

func (r *GormRepository) FindByOrderAndUser(ctx context.Context, orderID, userID uint) (*Payment, error) {
	var p Payment
	err := dbtx.Conn(ctx, r.db).
		Where("order_id = ? AND user_id = ?", orderID, userID).
		Order("id DESC").
		First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("No payment for order %d", orderID)
	}
	if err != nil {
		return nil, apperr.Internal(err, "Failed to load payment")
	}
	return &p, nil
}

func (r *GormRepository) ListByOrder(ctx context.Context, orderID uint) ([]Payment, error) {
	var list []Payment
	if err := dbtx.Conn(ctx, r.db).
		Where("order_id = ?", orderID).
		Order("created_at DESC").
		Find(&list).Error; err != nil {
		return nil, apperr.Internal(err, "Failed to load payments")
	}
	return list, nil
}

func (r *GormRepository) FindPaidByReference(ctx context.Context, reference string) (*Payment, error) {
	var p Payment
	err := dbtx.Conn(ctx, r.db).
		Where("reference_number = ? AND payment_status = ?", reference, settlement.Paid).
		First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("No paid payment with reference %s", reference)
	}
	if err != nil {
		return nil, apperr.Internal(err, "Failed to look up reference")
	}
	return &p, nil
}

func (r *GormRepository) List(ctx context.Context, f Filter) ([]Payment, int64, error) {
	q := dbtx.Conn(ctx, r.db).Model(&Payment{})
	if f.OrderID != nil {
		q = q.Where("order_id = ?", *f.OrderID)
	}
	if f.UserID != nil {
		q = q.Where("user_id = ?", *f.UserID)
	}
	if f.Method != "" {
		q = q.Where("payment_method = ?", f.Method)
	}
	if f.Status != "" {
		q = q.Where("payment_status = ?", f.Status)
	}
	if f.From != nil {
		q = q.Where("created_at >= ?", *f.From)
	}
	if f.To != nil {
		q = q.Where("created_at <= ?", *f.To)
	}
	if f.Search != "" {
		q = q.Where("reference_number ILIKE ?", "%"+f.Search+"%")
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, apperr.Internal(err, "Failed to count payments")
	}

	page, limit := normalizePage(f.Page, f.Limit)
	var list []Payment
	if err := q.Order("created_at DESC").
		Limit(limit).
		Offset((page - 1) * limit).
		Find(&list).Error; err != nil {
		return nil, 0, apperr.Internal(err, "Failed to load payments")
	}
	return list, total, nil
}

func (r *GormRepository) Save(ctx context.Context, p *Payment) error {
	err := dbtx.Conn(ctx, r.db).Save(p).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return referenceConflict(p)
	}
	if err != nil {
		return apperr.Internal(err, "Failed to update payment")
	}
	return nil
}

func (r *GormRepository) Delete(ctx context.Context, id uint) error {
	if err := dbtx.Conn(ctx, r.db).Delete(&Payment{}, id).Error; err != nil {
		return apperr.Internal(err, "Failed to delete payment")
	}
	return nil
}

type GormBankAccounts struct {
	db *gorm.DB
}

func NewGormBankAccounts(db *gorm.DB) *GormBankAccounts {
	return &GormBankAccounts{db: db}
}

func (r *GormBankAccounts) Create(ctx context.Context, a *BankAccount) error {
	if err := dbtx.Conn(ctx, r.db).Create(a).Error; err != nil {
		return apperr.Internal(err, "Failed to create bank account")
	}
	return nil
}

func (r *GormBankAccounts) FindByID(ctx context.Context, id uint) (*BankAccount, error) {
	var a BankAccount
	err := dbtx.Conn(ctx, r.db).First(&a, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("Bank account %d not found", id)
	}
	if err != nil {
		return nil, apperr.Internal(err, "Failed to load bank account")
	}
	return &a, nil
}

func (r *GormBankAccounts) ListActive(ctx context.Context) ([]BankAccount, error) {
	var list []BankAccount
	if err := dbtx.Conn(ctx, r.db).
		Where("active = ?", true).
		Order("bank_code ASC, id ASC").
		Find(&list).Error; err != nil {
		return nil, apperr.Internal(err, "Failed to load bank accounts")
	}
	return list, nil
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
