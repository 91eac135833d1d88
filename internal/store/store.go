package store

import (
	"context"

	"kasirbilling/backend/internal/domain"
)

var (
	ErrNotFound = domain.ErrNotFound
	ErrConflict = domain.ErrConflict
)

// Repository is the storage surface the billing service reads from and
// opens units of work on.
type Repository interface {
	// WithTx runs fn in one unit of work. A nil return commits every
	// mutation made through tx; any error discards all of them.
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	GetProduct(ctx context.Context, id int64) (*domain.Product, error)
	ListDenominations(ctx context.Context) ([]domain.Denomination, error)
	FindPurchaseByID(ctx context.Context, id int64) (*domain.Purchase, error)
	ListPurchasesByCustomer(ctx context.Context, email string, limit int, offset int) ([]domain.Purchase, error)
}

// Tx is the row-level view of a unit of work. Reads ending in ForUpdate
// hold their rows until the unit of work ends.
type Tx interface {
	FindCustomerByEmail(ctx context.Context, email string) (*domain.Customer, error)
	// CreateCustomer inserts a customer. If another writer already owns the
	// email it returns that row instead.
	CreateCustomer(ctx context.Context, email string) (*domain.Customer, error)

	GetProductForUpdate(ctx context.Context, id int64) (*domain.Product, error)
	ListDenominationsForUpdate(ctx context.Context) ([]domain.Denomination, error)

	InsertPurchase(ctx context.Context, purchase domain.Purchase) (int64, error)
	InsertPurchaseItems(ctx context.Context, purchaseID int64, items []domain.PurchaseItem) error
	InsertPurchaseDenominations(ctx context.Context, purchaseID int64, rows []domain.PurchaseDenomination) error

	// DecrementStock and DecrementDenomination fail with ErrConflict when the
	// counter would go negative.
	DecrementStock(ctx context.Context, productID int64, qty int) error
	DecrementDenomination(ctx context.Context, value int64, count int) error
}
