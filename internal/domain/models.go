package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// MoneyPlaces is the fixed precision of every persisted money field.
const MoneyPlaces int32 = 2

// MaxQuantity bounds the quantity of one cart line after repeated product
// ids are merged.
const MaxQuantity = 1_000_000

// MaxMoney is the largest amount a NUMERIC(14,2) money column holds.
var MaxMoney = decimal.RequireFromString("999999999999.99")

type Customer struct {
	ID        int64     `json:"id"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

type Product struct {
	ID         int64           `json:"id"`
	Name       string          `json:"name"`
	Stock      int             `json:"stock"`
	Price      decimal.Decimal `json:"price"`
	TaxPercent decimal.Decimal `json:"tax_percent"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

type Denomination struct {
	Value          int64     `json:"value"`
	AvailableCount int       `json:"available_count"`
	UpdatedAt      time.Time `json:"updated_at"`
}

type Purchase struct {
	ID            int64                  `json:"id"`
	Reference     string                 `json:"reference"`
	CustomerID    int64                  `json:"customer_id"`
	CustomerEmail string                 `json:"customer_email"`
	TotalAmount   decimal.Decimal        `json:"total_amount"`
	TaxAmount     decimal.Decimal        `json:"tax_amount"`
	FinalAmount   decimal.Decimal        `json:"final_amount"`
	PaidAmount    decimal.Decimal        `json:"paid_amount"`
	BalanceAmount decimal.Decimal        `json:"balance_amount"`
	CreatedAt     time.Time              `json:"created_at"`
	Items         []PurchaseItem         `json:"items"`
	Change        []PurchaseDenomination `json:"change"`
}

// PurchaseItem freezes the product price and tax rate at purchase time.
// Later product edits never reach these fields.
type PurchaseItem struct {
	PurchaseID         int64           `json:"purchase_id"`
	ProductID          int64           `json:"product_id"`
	ProductName        string          `json:"product_name"`
	Quantity           int             `json:"quantity"`
	UnitPriceSnapshot  decimal.Decimal `json:"unit_price_snapshot"`
	TaxPercentSnapshot decimal.Decimal `json:"tax_percent_snapshot"`
	TaxAmount          decimal.Decimal `json:"tax_amount"`
	TotalPrice         decimal.Decimal `json:"total_price"`
}

type PurchaseDenomination struct {
	PurchaseID        int64 `json:"purchase_id"`
	DenominationValue int64 `json:"denomination_value"`
	CountGiven        int   `json:"count_given"`
}

type CartItem struct {
	ProductID int64 `json:"product_id" validate:"gt=0"`
	Quantity  int   `json:"quantity" validate:"gt=0,max=1000000"`
}

// DenominationInput is the client's declared tender. It is advisory only.
type DenominationInput struct {
	Value int64 `json:"value" validate:"gt=0"`
	Count int   `json:"count" validate:"gte=0"`
}

type PurchaseRequest struct {
	CustomerEmail string              `json:"customer_email" validate:"required,email"`
	Items         []CartItem          `json:"items" validate:"required,min=1,dive"`
	PaidAmount    decimal.Decimal     `json:"paid_amount"`
	Denominations []DenominationInput `json:"denominations" validate:"required,min=1,dive"`
}

// ChangeGiven sums value*count over the purchase's change rows.
func (p Purchase) ChangeGiven() int64 {
	var total int64
	for _, row := range p.Change {
		total += row.DenominationValue * int64(row.CountGiven)
	}
	return total
}

// RoundMoney rounds half away from zero to MoneyPlaces.
func RoundMoney(amount decimal.Decimal) decimal.Decimal {
	return amount.Round(MoneyPlaces)
}
