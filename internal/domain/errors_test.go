package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTypedErrorsMatchTheirSentinels(t *testing.T) {
	stockErr := fmt.Errorf("validate cart: %w", &InsufficientStockError{ProductID: 7, ProductName: "Laptop", Available: 2, Requested: 5})

	require.ErrorIs(t, stockErr, ErrInsufficientStock)
	require.NotErrorIs(t, stockErr, ErrNotFound)

	var detail *InsufficientStockError
	require.True(t, errors.As(stockErr, &detail))
	assert.Equal(t, 3, detail.Shortfall())
	assert.Contains(t, detail.Error(), "Laptop")

	assert.ErrorIs(t, &NotFoundError{Entity: "product", Key: "9"}, ErrNotFound)
	assert.ErrorIs(t, &InvalidPaymentError{Required: decimal.NewFromInt(10), Paid: decimal.NewFromInt(5)}, ErrInvalidPayment)
	assert.ErrorIs(t, &InsufficientDenominationError{Remaining: decimal.NewFromInt(200)}, ErrInsufficientDenomination)
}

func TestIsBusinessRule(t *testing.T) {
	assert.True(t, IsBusinessRule(&NotFoundError{Entity: "product", Key: "1"}))
	assert.True(t, IsBusinessRule(fmt.Errorf("wrap: %w", ErrInvalidRequest)))
	assert.False(t, IsBusinessRule(ErrConflict))
	assert.False(t, IsBusinessRule(errors.New("connection reset")))
}

func TestInvalidPaymentMessageUsesMoneyPrecision(t *testing.T) {
	err := &InvalidPaymentError{Required: decimal.RequireFromString("188800"), Paid: decimal.RequireFromString("100000.5")}
	assert.Equal(t, "insufficient payment: required 188800.00, paid 100000.50", err.Error())
}

func TestRoundMoneyHalfAwayFromZero(t *testing.T) {
	assert.Equal(t, "0.13", RoundMoney(decimal.RequireFromString("0.125")).StringFixed(2))
	assert.Equal(t, "-0.13", RoundMoney(decimal.RequireFromString("-0.125")).StringFixed(2))
	assert.Equal(t, "10.00", RoundMoney(decimal.RequireFromString("9.999")).StringFixed(2))
}

func TestPurchaseChangeGiven(t *testing.T) {
	p := Purchase{Change: []PurchaseDenomination{{DenominationValue: 1000, CountGiven: 11}, {DenominationValue: 500, CountGiven: 2}}}
	assert.Equal(t, int64(12000), p.ChangeGiven())
}
