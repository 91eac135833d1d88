package memory

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"kasirbilling/backend/internal/domain"
	"kasirbilling/backend/internal/store"
)

// Store keeps the whole billing state in process memory. A unit of work
// holds mu for its full duration, which serializes purchases the way row
// locks do in Postgres.
type Store struct {
	mu                  sync.RWMutex
	customersByEmail    map[string]domain.Customer
	products            map[int64]domain.Product
	denominations       map[int64]domain.Denomination
	purchasesByID       map[int64]*domain.Purchase
	purchasesByCustomer map[int64][]int64
	nextCustomerID      int64
	nextPurchaseID      int64
}

func New() *Store {
	return &Store{
		customersByEmail:    make(map[string]domain.Customer),
		products:            make(map[int64]domain.Product),
		denominations:       make(map[int64]domain.Denomination),
		purchasesByID:       make(map[int64]*domain.Purchase),
		purchasesByCustomer: make(map[int64][]int64),
	}
}

// NewSeeded returns a store with a demo catalog and a till float.
func NewSeeded() *Store {
	s := New()
	for _, p := range []domain.Product{
		{ID: 1, Name: "iPhone 15", Stock: 10, Price: decimal.NewFromInt(80000), TaxPercent: decimal.NewFromInt(18)},
		{ID: 2, Name: "AirPods Pro", Stock: 20, Price: decimal.NewFromInt(15000), TaxPercent: decimal.NewFromInt(12)},
		{ID: 3, Name: "MacBook Pro", Stock: 5, Price: decimal.NewFromInt(150000), TaxPercent: decimal.NewFromInt(18)},
		{ID: 4, Name: "iPad Air", Stock: 15, Price: decimal.NewFromInt(60000), TaxPercent: decimal.NewFromInt(18)},
		{ID: 5, Name: "Apple Watch", Stock: 25, Price: decimal.NewFromInt(45000), TaxPercent: decimal.NewFromInt(12)},
	} {
		s.SeedProduct(p)
	}
	for _, value := range []int64{2000, 500, 200, 100, 50, 20, 10, 5, 2, 1} {
		s.SeedDenomination(domain.Denomination{Value: value, AvailableCount: 50})
	}
	return s
}

// SeedProduct inserts or replaces a catalog row. Purchases already
// recorded keep their own price snapshots.
func (s *Store) SeedProduct(product domain.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if product.UpdatedAt.IsZero() {
		product.UpdatedAt = time.Now().UTC()
	}
	s.products[product.ID] = product
}

func (s *Store) SeedDenomination(denom domain.Denomination) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if denom.UpdatedAt.IsZero() {
		denom.UpdatedAt = time.Now().UTC()
	}
	s.denominations[denom.Value] = denom
}

func (s *Store) CountCustomers() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.customersByEmail)
}

func (s *Store) CountPurchases() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.purchasesByID)
}

func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	tx := newUnitOfWork(s)
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return tx.commit()
}

func (s *Store) GetProduct(_ context.Context, id int64) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, ok := s.products[id]
	if !ok {
		return nil, &domain.NotFoundError{Entity: "product", Key: strconv.FormatInt(id, 10)}
	}
	return &product, nil
}

func (s *Store) ListDenominations(_ context.Context) ([]domain.Denomination, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sortedDenominations(), nil
}

func (s *Store) FindPurchaseByID(_ context.Context, id int64) (*domain.Purchase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	purchase, ok := s.purchasesByID[id]
	if !ok {
		return nil, &domain.NotFoundError{Entity: "purchase", Key: strconv.FormatInt(id, 10)}
	}
	return clonePurchase(purchase), nil
}

func (s *Store) ListPurchasesByCustomer(_ context.Context, email string, limit int, offset int) ([]domain.Purchase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	customer, ok := s.customersByEmail[normalizeEmail(email)]
	if !ok {
		return []domain.Purchase{}, nil
	}

	ids := s.purchasesByCustomer[customer.ID]
	out := make([]domain.Purchase, 0, len(ids))
	for i := len(ids) - 1; i >= 0; i-- {
		header := *s.purchasesByID[ids[i]]
		header.Items = nil
		header.Change = nil
		out = append(out, header)
	}

	if offset >= len(out) {
		return []domain.Purchase{}, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) sortedDenominations() []domain.Denomination {
	out := make([]domain.Denomination, 0, len(s.denominations))
	for _, d := range s.denominations {
		out = append(out, d)
	}
	slices.SortFunc(out, func(a, b domain.Denomination) int {
		switch {
		case a.Value > b.Value:
			return -1
		case a.Value < b.Value:
			return 1
		default:
			return 0
		}
	})
	return out
}

// unitOfWork stages every mutation of one WithTx call. Nothing reaches the
// Store until commit, so dropping the value is the rollback.
type unitOfWork struct {
	s              *Store
	customers      map[string]domain.Customer
	stockDelta     map[int64]int
	denomDelta     map[int64]int
	purchases      []*domain.Purchase
	nextCustomerID int64
	nextPurchaseID int64
}

func newUnitOfWork(s *Store) *unitOfWork {
	return &unitOfWork{
		s:              s,
		customers:      make(map[string]domain.Customer),
		stockDelta:     make(map[int64]int),
		denomDelta:     make(map[int64]int),
		nextCustomerID: s.nextCustomerID,
		nextPurchaseID: s.nextPurchaseID,
	}
}

func (u *unitOfWork) FindCustomerByEmail(_ context.Context, email string) (*domain.Customer, error) {
	key := normalizeEmail(email)
	if c, ok := u.customers[key]; ok {
		return &c, nil
	}
	if c, ok := u.s.customersByEmail[key]; ok {
		return &c, nil
	}
	return nil, &domain.NotFoundError{Entity: "customer", Key: email}
}

func (u *unitOfWork) CreateCustomer(ctx context.Context, email string) (*domain.Customer, error) {
	if existing, err := u.FindCustomerByEmail(ctx, email); err == nil {
		return existing, nil
	}
	u.nextCustomerID++
	c := domain.Customer{ID: u.nextCustomerID, Email: normalizeEmail(email), CreatedAt: time.Now().UTC()}
	u.customers[c.Email] = c
	return &c, nil
}

func (u *unitOfWork) GetProductForUpdate(_ context.Context, id int64) (*domain.Product, error) {
	product, ok := u.s.products[id]
	if !ok {
		return nil, &domain.NotFoundError{Entity: "product", Key: strconv.FormatInt(id, 10)}
	}
	product.Stock -= u.stockDelta[id]
	return &product, nil
}

func (u *unitOfWork) ListDenominationsForUpdate(_ context.Context) ([]domain.Denomination, error) {
	out := u.s.sortedDenominations()
	for i := range out {
		out[i].AvailableCount -= u.denomDelta[out[i].Value]
	}
	return out, nil
}

func (u *unitOfWork) InsertPurchase(_ context.Context, purchase domain.Purchase) (int64, error) {
	u.nextPurchaseID++
	purchase.ID = u.nextPurchaseID
	if purchase.CreatedAt.IsZero() {
		purchase.CreatedAt = time.Now().UTC()
	}
	purchase.Items = nil
	purchase.Change = nil
	u.purchases = append(u.purchases, &purchase)
	return purchase.ID, nil
}

func (u *unitOfWork) InsertPurchaseItems(_ context.Context, purchaseID int64, items []domain.PurchaseItem) error {
	p := u.stagedPurchase(purchaseID)
	if p == nil {
		return fmt.Errorf("memory: purchase %d not staged", purchaseID)
	}
	for _, item := range items {
		item.PurchaseID = purchaseID
		p.Items = append(p.Items, item)
	}
	return nil
}

func (u *unitOfWork) InsertPurchaseDenominations(_ context.Context, purchaseID int64, rows []domain.PurchaseDenomination) error {
	p := u.stagedPurchase(purchaseID)
	if p == nil {
		return fmt.Errorf("memory: purchase %d not staged", purchaseID)
	}
	for _, row := range rows {
		row.PurchaseID = purchaseID
		p.Change = append(p.Change, row)
	}
	return nil
}

func (u *unitOfWork) DecrementStock(_ context.Context, productID int64, qty int) error {
	product, ok := u.s.products[productID]
	if !ok {
		return &domain.NotFoundError{Entity: "product", Key: strconv.FormatInt(productID, 10)}
	}
	if qty < 1 || product.Stock-u.stockDelta[productID]-qty < 0 {
		return fmt.Errorf("%w: stock of product %d", store.ErrConflict, productID)
	}
	u.stockDelta[productID] += qty
	return nil
}

func (u *unitOfWork) DecrementDenomination(_ context.Context, value int64, count int) error {
	denom, ok := u.s.denominations[value]
	if !ok {
		return &domain.NotFoundError{Entity: "denomination", Key: strconv.FormatInt(value, 10)}
	}
	if count < 1 || denom.AvailableCount-u.denomDelta[value]-count < 0 {
		return fmt.Errorf("%w: denomination %d", store.ErrConflict, value)
	}
	u.denomDelta[value] += count
	return nil
}

func (u *unitOfWork) stagedPurchase(id int64) *domain.Purchase {
	for _, p := range u.purchases {
		if p.ID == id {
			return p
		}
	}
	return nil
}

// commit runs with the Store lock held by WithTx.
func (u *unitOfWork) commit() error {
	now := time.Now().UTC()
	for id, delta := range u.stockDelta {
		if u.s.products[id].Stock-delta < 0 {
			return fmt.Errorf("%w: stock of product %d", store.ErrConflict, id)
		}
	}
	for value, delta := range u.denomDelta {
		if u.s.denominations[value].AvailableCount-delta < 0 {
			return fmt.Errorf("%w: denomination %d", store.ErrConflict, value)
		}
	}

	for email, c := range u.customers {
		u.s.customersByEmail[email] = c
	}
	for id, delta := range u.stockDelta {
		product := u.s.products[id]
		product.Stock -= delta
		product.UpdatedAt = now
		u.s.products[id] = product
	}
	for value, delta := range u.denomDelta {
		denom := u.s.denominations[value]
		denom.AvailableCount -= delta
		denom.UpdatedAt = now
		u.s.denominations[value] = denom
	}
	for _, p := range u.purchases {
		u.s.purchasesByID[p.ID] = clonePurchase(p)
		u.s.purchasesByCustomer[p.CustomerID] = append(u.s.purchasesByCustomer[p.CustomerID], p.ID)
	}
	u.s.nextCustomerID = u.nextCustomerID
	u.s.nextPurchaseID = u.nextPurchaseID
	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func clonePurchase(src *domain.Purchase) *domain.Purchase {
	if src == nil {
		return nil
	}
	dup := *src
	dup.Items = slices.Clone(src.Items)
	dup.Change = slices.Clone(src.Change)
	return &dup
}
