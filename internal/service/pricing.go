package service

import (
	"fmt"
	"slices"

	"github.com/shopspring/decimal"

	"kasirbilling/backend/internal/domain"
)

var hundred = decimal.NewFromInt(100)

// pricedLine is a cart line bound to the product row read under lock. The
// price and tax rate captured here are the snapshots written to the
// purchase items; the product is not read again.
type pricedLine struct {
	product   domain.Product
	quantity  int
	itemTotal decimal.Decimal
	itemTax   decimal.Decimal
}

type cartTotals struct {
	total decimal.Decimal
	tax   decimal.Decimal
	final decimal.Decimal
}

// mergeCart folds repeated product ids into one line and orders lines by
// product id, which is also the row lock order. A merged line above
// domain.MaxQuantity is rejected before it can overflow.
func mergeCart(items []domain.CartItem) ([]domain.CartItem, error) {
	qty := make(map[int64]int, len(items))
	for _, item := range items {
		if item.Quantity < 1 || item.Quantity > domain.MaxQuantity-qty[item.ProductID] {
			return nil, fmt.Errorf("%w: quantity of product %d exceeds %d", domain.ErrInvalidRequest, item.ProductID, domain.MaxQuantity)
		}
		qty[item.ProductID] += item.Quantity
	}

	merged := make([]domain.CartItem, 0, len(qty))
	for id, q := range qty {
		merged = append(merged, domain.CartItem{ProductID: id, Quantity: q})
	}
	slices.SortFunc(merged, func(a, b domain.CartItem) int {
		switch {
		case a.ProductID < b.ProductID:
			return -1
		case a.ProductID > b.ProductID:
			return 1
		default:
			return 0
		}
	})
	return merged, nil
}

func priceLine(product domain.Product, quantity int) pricedLine {
	itemTotal := product.Price.Mul(decimal.NewFromInt(int64(quantity)))
	return pricedLine{
		product:   product,
		quantity:  quantity,
		itemTotal: itemTotal,
		itemTax:   itemTotal.Mul(product.TaxPercent).Div(hundred),
	}
}

// priceCart sums the unrounded line amounts and rounds once per aggregate.
// final is built from the rounded parts so final == total + tax holds to
// the cent.
func priceCart(lines []pricedLine) cartTotals {
	total := decimal.Zero
	tax := decimal.Zero
	for _, line := range lines {
		total = total.Add(line.itemTotal)
		tax = tax.Add(line.itemTax)
	}
	total = domain.RoundMoney(total)
	tax = domain.RoundMoney(tax)
	return cartTotals{total: total, tax: tax, final: total.Add(tax)}
}

func (l pricedLine) item(purchaseID int64) domain.PurchaseItem {
	return domain.PurchaseItem{
		PurchaseID:         purchaseID,
		ProductID:          l.product.ID,
		ProductName:        l.product.Name,
		Quantity:           l.quantity,
		UnitPriceSnapshot:  l.product.Price,
		TaxPercentSnapshot: l.product.TaxPercent,
		TaxAmount:          domain.RoundMoney(l.itemTax),
		TotalPrice:         domain.RoundMoney(l.itemTotal.Add(l.itemTax)),
	}
}

// declaredTender sums the client's advisory denomination list.
func declaredTender(declared []domain.DenominationInput) decimal.Decimal {
	sum := decimal.Zero
	for _, d := range declared {
		sum = sum.Add(decimal.NewFromInt(d.Value).Mul(decimal.NewFromInt(int64(d.Count))))
	}
	return sum
}
