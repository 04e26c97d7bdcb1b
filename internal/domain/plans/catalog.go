package plans

import (
	"context"
	"errors"
	"strings"

	"bookstore-backend/internal/apperr"
	"bookstore-backend/internal/infra/dbtx"

	"gorm.io/gorm"
)

type Repository interface {
	Create(ctx context.Context, p *Plan) error
	FindByID(ctx context.Context, id uint) (*Plan, error)
	ListActive(ctx context.Context) ([]Plan, error)
}

// Catalog is the plan registry consulted by the subscription flow.
type Catalog struct {
	repo            Repository
	defaultCurrency string
}

func NewCatalog(repo Repository, defaultCurrency string) *Catalog {
	return &Catalog{repo: repo, defaultCurrency: defaultCurrency}
}

func (c *Catalog) Create(ctx context.Context, p *Plan) (*Plan, error) {
	p.Name = strings.TrimSpace(p.Name)
	if err := Validate(p); err != nil {
		return nil, err
	}
	if p.Currency == "" {
		p.Currency = c.defaultCurrency
	}
	p.Active = true
	if err := c.repo.Create(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (c *Catalog) Get(ctx context.Context, id uint) (*Plan, error) {
	return c.repo.FindByID(ctx, id)
}

func (c *Catalog) ListActive(ctx context.Context) ([]Plan, error) {
	return c.repo.ListActive(ctx)
}

type GormRepository struct {
	db *gorm.DB
}

func NewGormRepository(db *gorm.DB) *GormRepository {
	return &GormRepository{db: db}
}

func (r *GormRepository) Create(ctx context.Context, p *Plan) error {
	err := dbtx.Conn(ctx, r.db).Create(p).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return apperr.Conflict("Plan %q already exists", p.Name)
	}
	if err != nil {
		return apperr.Internal(err, "Failed to create plan")
	}
	return nil
}

func (r *GormRepository) FindByID(ctx context.Context, id uint) (*Plan, error) {
	var p Plan
	err := dbtx.Conn(ctx, r.db).First(&p, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("Plan %d not found", id)
	}
	if err != nil {
		return nil, apperr.Internal(err, "Failed to load plan")
	}
	return &p, nil
}

func (r *GormRepository) ListActive(ctx context.Context) ([]Plan, error) {
	var list []Plan
	if err := dbtx.Conn(ctx, r.db).
		Where("active = ?", true).
		Order("price ASC").
		Find(&list).Error; err != nil {
		return nil, apperr.Internal(err, "Failed to load plans")
	}
	return list, nil
}
