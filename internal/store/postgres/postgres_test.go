package postgres

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kasirbilling/backend/internal/domain"
	"kasirbilling/backend/internal/store"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewFromDB(db), mock
}

func q(sql string) string {
	return regexp.QuoteMeta(sql)
}

func TestWithTxCommitsWhenFnSucceeds(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(q("UPDATE products SET stock = stock - $1")).
		WithArgs(2, 7).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := s.WithTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		return tx.DecrementStock(ctx, 7, 2)
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTxRollsBackWhenFnFails(t *testing.T) {
	s, mock := newMockStore(t)
	boom := errors.New("boom")

	mock.ExpectBegin()
	mock.ExpectRollback()

	err := s.WithTx(context.Background(), func(context.Context, store.Tx) error {
		return boom
	})
	require.ErrorIs(t, err, boom)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDecrementWithoutMatchingRowIsConflict(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(q("UPDATE denominations SET available_count = available_count - $1")).
		WithArgs(3, 1000).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := s.WithTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		return tx.DecrementDenomination(ctx, 1000, 3)
	})
	require.ErrorIs(t, err, store.ErrConflict)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLockFailuresMapToConflict(t *testing.T) {
	for _, code := range []string{"40001", "40P01"} {
		t.Run(code, func(t *testing.T) {
			s, mock := newMockStore(t)

			mock.ExpectBegin()
			mock.ExpectQuery(q("FROM products WHERE id = $1 FOR UPDATE")).
				WithArgs(1).
				WillReturnError(&pgconn.PgError{Code: code})
			mock.ExpectRollback()

			err := s.WithTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
				_, err := tx.GetProductForUpdate(ctx, 1)
				return err
			})
			require.ErrorIs(t, err, store.ErrConflict)
			require.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestGetProductForUpdateUnknownID(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(q("FROM products WHERE id = $1 FOR UPDATE")).
		WithArgs(404).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "stock", "price", "tax_percent", "updated_at"}))
	mock.ExpectRollback()

	err := s.WithTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		_, err := tx.GetProductForUpdate(ctx, 404)
		return err
	})
	var notFound *domain.NotFoundError
	require.True(t, errors.As(err, &notFound))
	assert.Equal(t, "product", notFound.Entity)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateCustomerReturnsRowWonByConcurrentWriter(t *testing.T) {
	s, mock := newMockStore(t)
	created := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery(q("INSERT INTO customers (email, created_at)")).
		WithArgs("dup@example.com").
		WillReturnRows(sqlmock.NewRows([]string{"id", "email", "created_at"}))
	mock.ExpectQuery(q("SELECT id, email, created_at FROM customers WHERE email = $1")).
		WithArgs("dup@example.com").
		WillReturnRows(sqlmock.NewRows([]string{"id", "email", "created_at"}).AddRow(41, "dup@example.com", created))
	mock.ExpectCommit()

	var customer *domain.Customer
	err := s.WithTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		var err error
		customer, err = tx.CreateCustomer(ctx, " Dup@Example.com")
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, int64(41), customer.ID)
	assert.Equal(t, created, customer.CreatedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListDenominationsForUpdateReturnsLargestFirst(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectQuery(q("FROM denominations ORDER BY value FOR UPDATE")).
		WillReturnRows(sqlmock.NewRows([]string{"value", "available_count", "updated_at"}).
			AddRow(1, 10, now).
			AddRow(500, 4, now).
			AddRow(2000, 2, now))
	mock.ExpectCommit()

	var denoms []domain.Denomination
	err := s.WithTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		var err error
		denoms, err = tx.ListDenominationsForUpdate(ctx)
		return err
	})
	require.NoError(t, err)
	require.Len(t, denoms, 3)
	assert.Equal(t, []int64{2000, 500, 1}, []int64{denoms[0].Value, denoms[1].Value, denoms[2].Value})
	assert.Equal(t, 2, denoms[0].AvailableCount)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertPurchaseReferenceCollisionIsConflict(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(q("INSERT INTO purchases")).
		WillReturnError(&pgconn.PgError{Code: "23505"})
	mock.ExpectRollback()

	err := s.WithTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		_, err := tx.InsertPurchase(ctx, domain.Purchase{Reference: "PUR-1", CustomerID: 1})
		return err
	})
	require.ErrorIs(t, err, store.ErrConflict)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertPurchaseWritesHeaderItemsAndChange(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(q("INSERT INTO purchases")).
		WithArgs("PUR-9", 3, sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(77))
	mock.ExpectExec(q("INSERT INTO purchase_items")).
		WithArgs(77, 1, "iPhone 15", 2, sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(q("INSERT INTO purchase_denominations")).
		WithArgs(77, 1000, 11).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err := s.WithTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		id, err := tx.InsertPurchase(ctx, domain.Purchase{Reference: "PUR-9", CustomerID: 3, CreatedAt: time.Now().UTC()})
		if err != nil {
			return err
		}
		assert.Equal(t, int64(77), id)
		if err := tx.InsertPurchaseItems(ctx, id, []domain.PurchaseItem{{ProductID: 1, ProductName: "iPhone 15", Quantity: 2}}); err != nil {
			return err
		}
		return tx.InsertPurchaseDenominations(ctx, id, []domain.PurchaseDenomination{{DenominationValue: 1000, CountGiven: 11}})
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFindPurchaseByIDLoadsItemsAndChange(t *testing.T) {
	s, mock := newMockStore(t)
	created := time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)

	mock.ExpectQuery(q("FROM purchases p JOIN customers c ON c.id = p.customer_id")).
		WithArgs(5).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "reference", "customer_id", "email", "total_amount", "tax_amount",
			"final_amount", "paid_amount", "balance_amount", "created_at",
		}).AddRow(5, "PUR-5", 2, "buyer@example.com", "160000.00", "28800.00", "188800.00", "199800.00", "11000.00", created))
	mock.ExpectQuery(q("FROM purchase_items WHERE purchase_id = $1")).
		WithArgs(5).
		WillReturnRows(sqlmock.NewRows([]string{
			"product_id", "product_name", "quantity", "unit_price_snapshot", "tax_percent_snapshot", "tax_amount", "total_price",
		}).AddRow(1, "iPhone 15", 2, "80000.00", "18.00", "28800.00", "188800.00"))
	mock.ExpectQuery(q("FROM purchase_denominations WHERE purchase_id = $1")).
		WithArgs(5).
		WillReturnRows(sqlmock.NewRows([]string{"denomination_value", "count_given"}).AddRow(1000, 11))

	p, err := s.FindPurchaseByID(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, "PUR-5", p.Reference)
	assert.Equal(t, "188800.00", p.FinalAmount.StringFixed(2))
	require.Len(t, p.Items, 1)
	assert.Equal(t, "80000.00", p.Items[0].UnitPriceSnapshot.StringFixed(2))
	assert.Equal(t, int64(5), p.Items[0].PurchaseID)
	assert.Equal(t, []domain.PurchaseDenomination{{PurchaseID: 5, DenominationValue: 1000, CountGiven: 11}}, p.Change)
	assert.Equal(t, int64(11000), p.ChangeGiven())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFindPurchaseByIDUnknown(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(q("FROM purchases p JOIN customers c")).
		WithArgs(9).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := s.FindPurchaseByID(context.Background(), 9)
	require.ErrorIs(t, err, store.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListPurchasesByCustomerNormalizesEmail(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery(q("WHERE c.email = $1")).
		WithArgs("buyer@example.com", 20, 40).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "reference", "customer_id", "email", "total_amount", "tax_amount",
			"final_amount", "paid_amount", "balance_amount", "created_at",
		}).
			AddRow(8, "PUR-8", 2, "buyer@example.com", "10", "1", "11", "20", "9", now).
			AddRow(6, "PUR-6", 2, "buyer@example.com", "10", "1", "11", "11", "0", now))

	out, err := s.ListPurchasesByCustomer(context.Background(), " BUYER@example.com", 20, 40)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, int64(8), out[0].ID)
	assert.Nil(t, out[0].Items)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrateAppliesEmbeddedSchema(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(q("CREATE TABLE IF NOT EXISTS customers")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(q("INSERT INTO denominations (value, available_count)")).
		WillReturnResult(sqlmock.NewResult(0, 10))

	require.NoError(t, s.Migrate(context.Background()))
	require.NoError(t, s.Seed(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}
