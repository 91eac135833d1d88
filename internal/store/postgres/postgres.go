package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"kasirbilling/backend/internal/domain"
	"kasirbilling/backend/internal/store"
)

//go:embed schema.sql
var schemaSQL string

//go:embed seed.sql
var seedSQL string

type Options struct {
	MaxOpenConns int
	MaxIdleConns int
}

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string, opts Options) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	if opts.MaxIdleConns <= 0 {
		opts.MaxIdleConns = 8
	}
	if opts.MaxOpenConns <= 0 {
		opts.MaxOpenConns = 30
	}
	db.SetMaxIdleConns(opts.MaxIdleConns)
	db.SetMaxOpenConns(opts.MaxOpenConns)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// NewFromDB wraps an already opened handle.
func NewFromDB(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate creates the billing tables when they do not exist yet.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("postgres: apply schema: %w", err)
	}
	return nil
}

// Seed loads the demo catalog and till float. Existing rows are kept.
func (s *Store) Seed(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, seedSQL); err != nil {
		return fmt.Errorf("postgres: apply seed: %w", err)
	}
	return nil
}

func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return mapError("begin", err)
	}
	defer func() { _ = pgTx.Rollback() }()

	if err := fn(ctx, &sqlTx{tx: pgTx}); err != nil {
		return err
	}
	if err := pgTx.Commit(); err != nil {
		return mapError("commit", err)
	}
	return nil
}

func (s *Store) GetProduct(ctx context.Context, id int64) (*domain.Product, error) {
	var p domain.Product
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, stock, price, tax_percent, updated_at
		FROM products WHERE id = $1
	`, id).Scan(&p.ID, &p.Name, &p.Stock, &p.Price, &p.TaxPercent, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &domain.NotFoundError{Entity: "product", Key: strconv.FormatInt(id, 10)}
		}
		return nil, mapError("get product", err)
	}
	return &p, nil
}

func (s *Store) ListDenominations(ctx context.Context) ([]domain.Denomination, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT value, available_count, updated_at
		FROM denominations ORDER BY value DESC
	`)
	if err != nil {
		return nil, mapError("list denominations", err)
	}
	defer rows.Close()
	return scanDenominations(rows)
}

func (s *Store) FindPurchaseByID(ctx context.Context, id int64) (*domain.Purchase, error) {
	var p domain.Purchase
	err := s.db.QueryRowContext(ctx, `
		SELECT p.id, p.reference, p.customer_id, c.email, p.total_amount, p.tax_amount,
		       p.final_amount, p.paid_amount, p.balance_amount, p.created_at
		FROM purchases p JOIN customers c ON c.id = p.customer_id
		WHERE p.id = $1
	`, id).Scan(&p.ID, &p.Reference, &p.CustomerID, &p.CustomerEmail, &p.TotalAmount, &p.TaxAmount,
		&p.FinalAmount, &p.PaidAmount, &p.BalanceAmount, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &domain.NotFoundError{Entity: "purchase", Key: strconv.FormatInt(id, 10)}
		}
		return nil, mapError("find purchase", err)
	}

	items, err := s.db.QueryContext(ctx, `
		SELECT product_id, product_name, quantity, unit_price_snapshot, tax_percent_snapshot, tax_amount, total_price
		FROM purchase_items WHERE purchase_id = $1 ORDER BY id
	`, id)
	if err != nil {
		return nil, mapError("list purchase items", err)
	}
	defer items.Close()
	for items.Next() {
		item := domain.PurchaseItem{PurchaseID: id}
		if err := items.Scan(&item.ProductID, &item.ProductName, &item.Quantity, &item.UnitPriceSnapshot,
			&item.TaxPercentSnapshot, &item.TaxAmount, &item.TotalPrice); err != nil {
			return nil, err
		}
		p.Items = append(p.Items, item)
	}
	if err := items.Err(); err != nil {
		return nil, err
	}

	change, err := s.db.QueryContext(ctx, `
		SELECT denomination_value, count_given
		FROM purchase_denominations WHERE purchase_id = $1 ORDER BY denomination_value DESC
	`, id)
	if err != nil {
		return nil, mapError("list purchase change", err)
	}
	defer change.Close()
	for change.Next() {
		row := domain.PurchaseDenomination{PurchaseID: id}
		if err := change.Scan(&row.DenominationValue, &row.CountGiven); err != nil {
			return nil, err
		}
		p.Change = append(p.Change, row)
	}
	if err := change.Err(); err != nil {
		return nil, err
	}

	return &p, nil
}

func (s *Store) ListPurchasesByCustomer(ctx context.Context, email string, limit int, offset int) ([]domain.Purchase, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT p.id, p.reference, p.customer_id, c.email, p.total_amount, p.tax_amount,
		       p.final_amount, p.paid_amount, p.balance_amount, p.created_at
		FROM purchases p JOIN customers c ON c.id = p.customer_id
		WHERE c.email = $1
		ORDER BY p.created_at DESC, p.id DESC
		LIMIT $2 OFFSET $3
	`, normalizeEmail(email), limit, offset)
	if err != nil {
		return nil, mapError("list purchases", err)
	}
	defer rows.Close()

	out := make([]domain.Purchase, 0, limit)
	for rows.Next() {
		var p domain.Purchase
		if err := rows.Scan(&p.ID, &p.Reference, &p.CustomerID, &p.CustomerEmail, &p.TotalAmount, &p.TaxAmount,
			&p.FinalAmount, &p.PaidAmount, &p.BalanceAmount, &p.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func scanDenominations(rows *sql.Rows) ([]domain.Denomination, error) {
	out := make([]domain.Denomination, 0, 16)
	for rows.Next() {
		var d domain.Denomination
		if err := rows.Scan(&d.Value, &d.AvailableCount, &d.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// mapError turns lock and serialization failures into store.ErrConflict so
// the caller can retry the unit of work.
func mapError(op string, err error) error {
	if isConflict(err) {
		return fmt.Errorf("postgres: %s: %w: %v", op, store.ErrConflict, err)
	}
	return fmt.Errorf("postgres: %s: %w", op, err)
}

func isConflict(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01":
			return true
		}
	}
	return false
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
