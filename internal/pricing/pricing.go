// Package pricing turns cart lines into a priced quote: subtotal,
// shipping, optional coupon discount, and per-line allocations.
package pricing

import (
	"fmt"
	"time"

	"github.com/Omwansam/furniture-backend/internal/coupon"
	"github.com/Omwansam/furniture-backend/internal/errs"
	"github.com/Omwansam/furniture-backend/internal/models"
	"github.com/Omwansam/furniture-backend/internal/money"
)

// Engine prices carts. Shipping is base + per_item * total unit
// quantity; tax is kept at zero until a jurisdiction rule exists.
type Engine struct {
	ShippingBase    money.Money
	ShippingPerItem money.Money
}

// NewEngine creates a pricing engine from the configured shipping
// parameters.
func NewEngine(base, perItem money.Money) *Engine {
	return &Engine{ShippingBase: base, ShippingPerItem: perItem}
}

// Quote is the result of pricing a cart. Lines carry the proportional
// shipping and discount allocation used for order items.
type Quote struct {
	Subtotal money.Money
	Shipping money.Money
	Tax      money.Money
	Discount money.Money
	Total    money.Money
	Lines    []QuoteLine
}

// QuoteLine is one priced cart line with its allocated shares.
type QuoteLine struct {
	ProductID    int64
	Quantity     int
	UnitPrice    money.Money
	LineTotal    money.Money
	LineShipping money.Money
	LineDiscount money.Money
	LineTax      money.Money
}

// Price computes the quote for the given cart lines and optional coupon.
// code is the raw code the customer supplied and c its lookup result; a
// supplied code that resolved to nothing is a rejection, never a silent
// zero discount. The first coupon rejection aborts pricing. A negative
// computed total is a bug and fails loud as an integrity error.
func (e *Engine) Price(lines []models.CartLine, code string, c *models.Coupon, now time.Time) (*Quote, error) {
	if len(lines) == 0 {
		return nil, errs.ErrEmptyCart
	}

	quote := &Quote{Lines: make([]QuoteLine, len(lines))}
	var units int
	for i, line := range lines {
		lineTotal := line.UnitPrice.MulInt(line.Quantity)
		quote.Lines[i] = QuoteLine{
			ProductID: line.ProductID,
			Quantity:  line.Quantity,
			UnitPrice: line.UnitPrice,
			LineTotal: lineTotal,
		}
		quote.Subtotal = quote.Subtotal.Add(lineTotal)
		units += line.Quantity
	}

	quote.Shipping = e.ShippingBase.Add(e.ShippingPerItem.MulInt(units))

	if c != nil {
		discount, err := coupon.Validate(c, quote.Subtotal, now)
		if err != nil {
			return nil, err
		}
		quote.Discount = discount
	} else if code != "" {
		return nil, &errs.CouponError{CouponCode: code, Reason: errs.CouponReasonInvalid}
	}

	total := quote.Subtotal.Add(quote.Shipping).Add(quote.Tax).Sub(quote.Discount)
	if total < 0 {
		return nil, errs.New(errs.Integrity, "NEGATIVE_TOTAL",
			fmt.Sprintf("computed total %s is negative", total))
	}
	quote.Total = total

	allocate(quote.Lines, quote.Shipping, func(l *QuoteLine, share money.Money) { l.LineShipping = share })
	allocate(quote.Lines, quote.Discount, func(l *QuoteLine, share money.Money) { l.LineDiscount = share })

	return quote, nil
}

// allocate spreads an order-level amount across lines proportional to
// each line's share of the subtotal. Rounding remainder goes to the last
// line so the shares always sum to the full amount.
func allocate(lines []QuoteLine, amount money.Money, set func(*QuoteLine, money.Money)) {
	if amount == 0 {
		return
	}

	var subtotal money.Money
	for _, l := range lines {
		subtotal = subtotal.Add(l.LineTotal)
	}

	var allocated money.Money
	for i := range lines {
		if i == len(lines)-1 {
			set(&lines[i], amount.Sub(allocated))
			return
		}
		var share money.Money
		if subtotal > 0 {
			share = money.Money(int64(amount) * int64(lines[i].LineTotal) / int64(subtotal))
		}
		set(&lines[i], share)
		allocated = allocated.Add(share)
	}
}
