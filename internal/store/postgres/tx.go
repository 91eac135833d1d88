package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strconv"

	"kasirbilling/backend/internal/domain"
	"kasirbilling/backend/internal/store"
)

// sqlTx implements store.Tx on one READ COMMITTED transaction. Rows read
// with FOR UPDATE stay locked until WithTx commits or rolls back.
type sqlTx struct {
	tx *sql.Tx
}

func (t *sqlTx) FindCustomerByEmail(ctx context.Context, email string) (*domain.Customer, error) {
	var c domain.Customer
	err := t.tx.QueryRowContext(ctx, `
		SELECT id, email, created_at FROM customers WHERE email = $1
	`, normalizeEmail(email)).Scan(&c.ID, &c.Email, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &domain.NotFoundError{Entity: "customer", Key: email}
		}
		return nil, mapError("find customer", err)
	}
	return &c, nil
}

func (t *sqlTx) CreateCustomer(ctx context.Context, email string) (*domain.Customer, error) {
	var c domain.Customer
	err := t.tx.QueryRowContext(ctx, `
		INSERT INTO customers (email, created_at) VALUES ($1, now())
		ON CONFLICT (email) DO NOTHING
		RETURNING id, email, created_at
	`, normalizeEmail(email)).Scan(&c.ID, &c.Email, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		// A concurrent purchase committed the same email first.
		return t.FindCustomerByEmail(ctx, email)
	}
	if err != nil {
		return nil, mapError("create customer", err)
	}
	return &c, nil
}

func (t *sqlTx) GetProductForUpdate(ctx context.Context, id int64) (*domain.Product, error) {
	var p domain.Product
	err := t.tx.QueryRowContext(ctx, `
		SELECT id, name, stock, price, tax_percent, updated_at
		FROM products WHERE id = $1 FOR UPDATE
	`, id).Scan(&p.ID, &p.Name, &p.Stock, &p.Price, &p.TaxPercent, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &domain.NotFoundError{Entity: "product", Key: strconv.FormatInt(id, 10)}
		}
		return nil, mapError("lock product", err)
	}
	return &p, nil
}

// ListDenominationsForUpdate locks the till in ascending value order and
// returns it largest first.
func (t *sqlTx) ListDenominationsForUpdate(ctx context.Context) ([]domain.Denomination, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT value, available_count, updated_at
		FROM denominations ORDER BY value FOR UPDATE
	`)
	if err != nil {
		return nil, mapError("lock denominations", err)
	}
	defer rows.Close()

	out, err := scanDenominations(rows)
	if err != nil {
		return nil, mapError("lock denominations", err)
	}
	slices.Reverse(out)
	return out, nil
}

func (t *sqlTx) InsertPurchase(ctx context.Context, p domain.Purchase) (int64, error) {
	var id int64
	err := t.tx.QueryRowContext(ctx, `
		INSERT INTO purchases (reference, customer_id, total_amount, tax_amount, final_amount, paid_amount, balance_amount, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		RETURNING id
	`, p.Reference, p.CustomerID, p.TotalAmount, p.TaxAmount, p.FinalAmount, p.PaidAmount, p.BalanceAmount, p.CreatedAt).Scan(&id)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("postgres: purchase reference %s taken: %w", p.Reference, store.ErrConflict)
		}
		return 0, mapError("insert purchase", err)
	}
	return id, nil
}

func (t *sqlTx) InsertPurchaseItems(ctx context.Context, purchaseID int64, items []domain.PurchaseItem) error {
	for _, item := range items {
		_, err := t.tx.ExecContext(ctx, `
			INSERT INTO purchase_items (purchase_id, product_id, product_name, quantity, unit_price_snapshot, tax_percent_snapshot, tax_amount, total_price)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		`, purchaseID, item.ProductID, item.ProductName, item.Quantity, item.UnitPriceSnapshot,
			item.TaxPercentSnapshot, item.TaxAmount, item.TotalPrice)
		if err != nil {
			return mapError("insert purchase item", err)
		}
	}
	return nil
}

func (t *sqlTx) InsertPurchaseDenominations(ctx context.Context, purchaseID int64, rows []domain.PurchaseDenomination) error {
	for _, row := range rows {
		_, err := t.tx.ExecContext(ctx, `
			INSERT INTO purchase_denominations (purchase_id, denomination_value, count_given)
			VALUES ($1,$2,$3)
		`, purchaseID, row.DenominationValue, row.CountGiven)
		if err != nil {
			return mapError("insert purchase change", err)
		}
	}
	return nil
}

func (t *sqlTx) DecrementStock(ctx context.Context, productID int64, qty int) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE products SET stock = stock - $1, updated_at = now()
		WHERE id = $2 AND stock >= $1
	`, qty, productID)
	if err != nil {
		return mapError("decrement stock", err)
	}
	return requireOneRow(res, fmt.Sprintf("stock of product %d", productID))
}

func (t *sqlTx) DecrementDenomination(ctx context.Context, value int64, count int) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE denominations SET available_count = available_count - $1, updated_at = now()
		WHERE value = $2 AND available_count >= $1
	`, count, value)
	if err != nil {
		return mapError("decrement denomination", err)
	}
	return requireOneRow(res, fmt.Sprintf("denomination %d", value))
}

func requireOneRow(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n != 1 {
		return fmt.Errorf("postgres: %s: %w", what, store.ErrConflict)
	}
	return nil
}
