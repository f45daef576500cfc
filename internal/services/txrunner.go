package services

import (
	"context"

	"gorm.io/gorm"
)

// TxRunner runs a function inside a database transaction. Services depend on
// this instead of *gorm.DB directly so tests can run the same code paths with
// in-memory repositories and a pass-through runner.
type TxRunner interface {
	Transaction(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type gormTxRunner struct {
	db *gorm.DB
}

func NewTxRunner(db *gorm.DB) TxRunner {
	return gormTxRunner{db: db}
}

func (r gormTxRunner) Transaction(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return r.db.WithContext(ctx).Transaction(fn)
}
