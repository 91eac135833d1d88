package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"kasirbilling/backend/internal/cache"
	"kasirbilling/backend/internal/change"
	"kasirbilling/backend/internal/domain"
	"kasirbilling/backend/internal/store"
	"kasirbilling/backend/internal/xid"
)

// Page bounds for ListCustomerPurchases.
const (
	// DefaultPageSize applies when the caller passes no positive limit.
	DefaultPageSize = 20
	// MaxPageSize caps any larger limit.
	MaxPageSize = 100
)

// Config groups the tunables of Service. Zero values get defaults.
type Config struct {
	ReceiptTTL  time.Duration
	MaxAttempts int
	RetryDelay  time.Duration
}

// Service runs purchases against a store.Repository and serves receipts.
type Service struct {
	repo        store.Repository
	receipts    cache.ReceiptCache
	logger      *zap.Logger
	validate    *validator.Validate
	receiptTTL  time.Duration
	maxAttempts int
	retryDelay  time.Duration
}

// New builds a Service. A nil receipts cache or logger falls back to a
// no-op implementation.
func New(repo store.Repository, receipts cache.ReceiptCache, logger *zap.Logger, cfg Config) *Service {
	if receipts == nil {
		receipts = cache.NoopReceiptCache{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ReceiptTTL <= 0 {
		cfg.ReceiptTTL = 10 * time.Minute
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 20 * time.Millisecond
	}

	return &Service{
		repo:        repo,
		receipts:    receipts,
		logger:      logger.Named("billing"),
		validate:    validator.New(),
		receiptTTL:  cfg.ReceiptTTL,
		maxAttempts: cfg.MaxAttempts,
		retryDelay:  cfg.RetryDelay,
	}
}

// CreatePurchase records a purchase for req in one unit of work: customer,
// header, priced items, stock decrements and the change breakdown either
// all commit or none do. Lost row races are retried; business-rule
// rejections are returned as typed errors from the domain package.
func (s *Service) CreatePurchase(ctx context.Context, req domain.PurchaseRequest) (domain.Purchase, error) {
	req.CustomerEmail = normalizeEmail(req.CustomerEmail)
	if err := s.validateRequest(req); err != nil {
		return domain.Purchase{}, err
	}
	cart, err := mergeCart(req.Items)
	if err != nil {
		return domain.Purchase{}, err
	}

	if declared := declaredTender(req.Denominations); !declared.Equal(req.PaidAmount) {
		s.logger.Debug("declared tender differs from paid amount",
			zap.String("declared", declared.String()),
			zap.String("paid", req.PaidAmount.String()))
	}

	var created domain.Purchase
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		created, err = s.purchaseOnce(ctx, req, cart)
		if err == nil || !errors.Is(err, store.ErrConflict) || attempt == s.maxAttempts {
			break
		}
		s.logger.Warn("purchase lost a row race, retrying",
			zap.Int("attempt", attempt),
			zap.String("customer", req.CustomerEmail),
			zap.Error(err))
		if waitErr := s.wait(ctx, attempt); waitErr != nil {
			err = waitErr
			break
		}
	}
	if err != nil {
		if domain.IsBusinessRule(err) {
			s.logger.Info("purchase rejected", zap.String("customer", req.CustomerEmail), zap.Error(err))
		} else {
			s.logger.Error("purchase failed", zap.String("customer", req.CustomerEmail), zap.Error(err))
		}
		return domain.Purchase{}, err
	}

	if cacheErr := s.receipts.Set(ctx, &created, s.receiptTTL); cacheErr != nil {
		s.logger.Warn("receipt cache write failed", zap.Int64("purchase_id", created.ID), zap.Error(cacheErr))
	}
	s.logger.Info("purchase committed",
		zap.Int64("purchase_id", created.ID),
		zap.String("reference", created.Reference),
		zap.String("customer", created.CustomerEmail),
		zap.String("final_amount", created.FinalAmount.StringFixed(domain.MoneyPlaces)),
		zap.String("balance_amount", created.BalanceAmount.StringFixed(domain.MoneyPlaces)),
		zap.Int("change_rows", len(created.Change)))
	return created, nil
}

func (s *Service) purchaseOnce(ctx context.Context, req domain.PurchaseRequest, cart []domain.CartItem) (domain.Purchase, error) {
	var created domain.Purchase

	err := s.repo.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		customer, err := findOrCreateCustomer(ctx, tx, req.CustomerEmail)
		if err != nil {
			return err
		}

		// Every line is checked before anything is written.
		lines := make([]pricedLine, 0, len(cart))
		for _, item := range cart {
			product, err := tx.GetProductForUpdate(ctx, item.ProductID)
			if err != nil {
				return err
			}
			if item.Quantity > product.Stock {
				return &domain.InsufficientStockError{
					ProductID:   product.ID,
					ProductName: product.Name,
					Available:   product.Stock,
					Requested:   item.Quantity,
				}
			}
			lines = append(lines, priceLine(*product, item.Quantity))
		}

		totals := priceCart(lines)
		if totals.final.GreaterThan(domain.MaxMoney) {
			return fmt.Errorf("%w: purchase total %s exceeds %s", domain.ErrInvalidRequest,
				totals.final.StringFixed(domain.MoneyPlaces), domain.MaxMoney.StringFixed(domain.MoneyPlaces))
		}
		if req.PaidAmount.LessThan(totals.final) {
			return &domain.InvalidPaymentError{Required: totals.final, Paid: req.PaidAmount}
		}

		purchase := domain.Purchase{
			Reference:     xid.New("pur"),
			CustomerID:    customer.ID,
			CustomerEmail: customer.Email,
			TotalAmount:   totals.total,
			TaxAmount:     totals.tax,
			FinalAmount:   totals.final,
			PaidAmount:    req.PaidAmount,
			BalanceAmount: req.PaidAmount.Sub(totals.final),
			CreatedAt:     time.Now().UTC(),
		}
		purchase.ID, err = tx.InsertPurchase(ctx, purchase)
		if err != nil {
			return err
		}

		purchase.Items = make([]domain.PurchaseItem, 0, len(lines))
		for _, line := range lines {
			purchase.Items = append(purchase.Items, line.item(purchase.ID))
		}
		if err := tx.InsertPurchaseItems(ctx, purchase.ID, purchase.Items); err != nil {
			return err
		}

		for _, line := range lines {
			if err := tx.DecrementStock(ctx, line.product.ID, line.quantity); err != nil {
				return err
			}
		}

		purchase.Change = []domain.PurchaseDenomination{}
		if purchase.BalanceAmount.IsPositive() {
			purchase.Change, err = giveChange(ctx, tx, purchase.ID, purchase.BalanceAmount)
			if err != nil {
				return err
			}
		}

		created = purchase
		return nil
	})
	if err != nil {
		return domain.Purchase{}, err
	}
	return created, nil
}

func findOrCreateCustomer(ctx context.Context, tx store.Tx, email string) (*domain.Customer, error) {
	customer, err := tx.FindCustomerByEmail(ctx, email)
	if err == nil {
		return customer, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	return tx.CreateCustomer(ctx, email)
}

// giveChange computes the breakdown for balance from the locked inventory,
// records it and takes the notes out of the till. The calculator works on
// whole units; a fractional balance cannot be paid out and fails the
// purchase.
func giveChange(ctx context.Context, tx store.Tx, purchaseID int64, balance decimal.Decimal) ([]domain.PurchaseDenomination, error) {
	denoms, err := tx.ListDenominationsForUpdate(ctx)
	if err != nil {
		return nil, err
	}
	available := make(map[int64]int, len(denoms))
	for _, d := range denoms {
		available[d.Value] = d.AvailableCount
	}

	whole := balance.Truncate(0)
	fraction := balance.Sub(whole)
	if !whole.BigInt().IsInt64() {
		return nil, fmt.Errorf("%w: balance %s out of range", domain.ErrInvalidRequest, balance.String())
	}
	breakdown, err := change.Calculate(whole.IntPart(), available)
	if err != nil {
		var short *domain.InsufficientDenominationError
		if errors.As(err, &short) {
			return nil, &domain.InsufficientDenominationError{Remaining: short.Remaining.Add(fraction)}
		}
		return nil, err
	}
	if !fraction.IsZero() {
		return nil, &domain.InsufficientDenominationError{Remaining: fraction}
	}
	if got := change.Total(breakdown); got != whole.IntPart() {
		return nil, fmt.Errorf("change breakdown sums to %d, balance is %s", got, balance.String())
	}

	rows := make([]domain.PurchaseDenomination, 0, len(breakdown))
	for _, r := range change.Sorted(breakdown) {
		rows = append(rows, domain.PurchaseDenomination{PurchaseID: purchaseID, DenominationValue: r.Value, CountGiven: r.Count})
	}
	if err := tx.InsertPurchaseDenominations(ctx, purchaseID, rows); err != nil {
		return nil, err
	}
	for _, row := range rows {
		if err := tx.DecrementDenomination(ctx, row.DenominationValue, row.CountGiven); err != nil {
			return nil, err
		}
	}
	return rows, nil
}

// GetPurchase returns the full purchase aggregate, served from the receipt
// cache when possible.
func (s *Service) GetPurchase(ctx context.Context, id int64) (domain.Purchase, error) {
	if id < 1 {
		return domain.Purchase{}, &domain.NotFoundError{Entity: "purchase", Key: fmt.Sprint(id)}
	}

	cached, ok, err := s.receipts.Get(ctx, id)
	if err != nil {
		s.logger.Warn("receipt cache read failed", zap.Int64("purchase_id", id), zap.Error(err))
		if errors.Is(err, cache.ErrCorruptEntry) {
			if delErr := s.receipts.Delete(ctx, id); delErr != nil {
				s.logger.Warn("receipt cache delete failed", zap.Int64("purchase_id", id), zap.Error(delErr))
			}
		}
	} else if ok {
		return *cached, nil
	}

	purchase, err := s.repo.FindPurchaseByID(ctx, id)
	if err != nil {
		return domain.Purchase{}, err
	}
	if err := s.receipts.Set(ctx, purchase, s.receiptTTL); err != nil {
		s.logger.Warn("receipt cache write failed", zap.Int64("purchase_id", id), zap.Error(err))
	}
	return *purchase, nil
}

// ListCustomerPurchases pages through a customer's purchase headers, newest
// first.
func (s *Service) ListCustomerPurchases(ctx context.Context, email string, limit int, offset int) ([]domain.Purchase, error) {
	email = normalizeEmail(email)
	if err := s.validate.Var(email, "required,email"); err != nil {
		return nil, fmt.Errorf("%w: customer email: %v", domain.ErrInvalidRequest, err)
	}
	if limit < 1 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.ListPurchasesByCustomer(ctx, email, limit, offset)
}

// ListDenominations returns the till inventory, largest value first.
func (s *Service) ListDenominations(ctx context.Context) ([]domain.Denomination, error) {
	return s.repo.ListDenominations(ctx)
}

// GetProduct returns the current catalog row, including live stock.
func (s *Service) GetProduct(ctx context.Context, id int64) (domain.Product, error) {
	if id < 1 {
		return domain.Product{}, &domain.NotFoundError{Entity: "product", Key: fmt.Sprint(id)}
	}
	product, err := s.repo.GetProduct(ctx, id)
	if err != nil {
		return domain.Product{}, err
	}
	return *product, nil
}

func (s *Service) validateRequest(req domain.PurchaseRequest) error {
	if err := s.validate.Struct(req); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidRequest, err)
	}
	if !req.PaidAmount.IsPositive() {
		return fmt.Errorf("%w: paid amount must be positive", domain.ErrInvalidRequest)
	}
	if req.PaidAmount.GreaterThan(domain.MaxMoney) {
		return fmt.Errorf("%w: paid amount exceeds %s", domain.ErrInvalidRequest, domain.MaxMoney.StringFixed(domain.MoneyPlaces))
	}
	if !req.PaidAmount.Equal(domain.RoundMoney(req.PaidAmount)) {
		return fmt.Errorf("%w: paid amount has more than %d decimal places", domain.ErrInvalidRequest, domain.MoneyPlaces)
	}
	return nil
}

func (s *Service) wait(ctx context.Context, attempt int) error {
	timer := time.NewTimer(time.Duration(attempt) * s.retryDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
