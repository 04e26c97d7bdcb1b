package dbtx

import (
	"context"

	"gorm.io/gorm"
)

// Transactor runs fn inside a unit of work. Repositories called with the
// ctx passed to fn join the same transaction.
type Transactor interface {
	Exec(ctx context.Context, fn func(ctx context.Context) error) error
}

type contextTxKey struct{}

type GormTransactor struct {
	db *gorm.DB
}

func New(db *gorm.DB) *GormTransactor {
	return &GormTransactor{db: db}
}

func (t *GormTransactor) Exec(ctx context.Context, fn func(ctx context.Context) error) error {
	// nested calls reuse the outer transaction
	if _, ok := ctx.Value(contextTxKey{}).(*gorm.DB); ok {
		return fn(ctx)
	}
	return t.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(context.WithValue(ctx, contextTxKey{}, tx))
	})
}

// Conn returns the transaction bound to ctx, or db scoped to ctx.
func Conn(ctx context.Context, db *gorm.DB) *gorm.DB {
	if tx, ok := ctx.Value(contextTxKey{}).(*gorm.DB); ok {
		return tx
	}
	return db.WithContext(ctx)
}

// Passthrough runs fn without a transaction. Used by in-memory stores.
type Passthrough struct{}

func (Passthrough) Exec(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
