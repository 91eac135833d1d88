package domain

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	ErrNotFound                 = errors.New("not found")
	ErrInsufficientStock        = errors.New("insufficient stock")
	ErrInvalidPayment           = errors.New("invalid payment")
	ErrInsufficientDenomination = errors.New("insufficient denomination")
	ErrInvalidRequest           = errors.New("invalid request")
	// ErrConflict marks a lost race on a locked or versioned row. Safe to retry.
	ErrConflict = errors.New("storage conflict")
)

type NotFoundError struct {
	Entity string
	Key    string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.Key)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

type InsufficientStockError struct {
	ProductID   int64
	ProductName string
	Available   int
	Requested   int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s (id %d): available %d, requested %d",
		e.ProductName, e.ProductID, e.Available, e.Requested)
}

func (e *InsufficientStockError) Is(target error) bool { return target == ErrInsufficientStock }

// Shortfall is how many units the request is over the available stock.
func (e *InsufficientStockError) Shortfall() int {
	return e.Requested - e.Available
}

type InvalidPaymentError struct {
	Required decimal.Decimal
	Paid     decimal.Decimal
}

func (e *InvalidPaymentError) Error() string {
	return fmt.Sprintf("insufficient payment: required %s, paid %s",
		e.Required.StringFixed(MoneyPlaces), e.Paid.StringFixed(MoneyPlaces))
}

func (e *InvalidPaymentError) Is(target error) bool { return target == ErrInvalidPayment }

type InsufficientDenominationError struct {
	Remaining decimal.Decimal
}

func (e *InsufficientDenominationError) Error() string {
	return fmt.Sprintf("cannot provide exact change, remaining %s", e.Remaining.String())
}

func (e *InsufficientDenominationError) Is(target error) bool {
	return target == ErrInsufficientDenomination
}

// IsBusinessRule reports whether err is a rejection that retrying cannot fix.
func IsBusinessRule(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrInsufficientStock) ||
		errors.Is(err, ErrInvalidPayment) ||
		errors.Is(err, ErrInsufficientDenomination) ||
		errors.Is(err, ErrInvalidRequest)
}
