package core

import (
	"errors"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidOrder     = errors.New("invalid order")
	ErrQtyZero          = errors.New("qty zero")
	ErrBelowMinQty      = errors.New("qty below min")
	ErrAboveMaxQty      = errors.New("qty above max")
	ErrBelowMinNotional = errors.New("minNotional failed")
)

// NormalizeOrder rounds qty down to the lot step and prices down to the tick,
// then checks the lot and notional limits. refPrice is only used for market
// orders; pass zero when no reference price is known and the notional check
// is skipped for them.
func NormalizeOrder(order Order, rules Rules, refPrice decimal.Decimal) (Order, error) {
	if order.Qty.Cmp(decimal.Zero) <= 0 {
		return order, ErrInvalidOrder
	}
	order.Qty = QtyFix(order.Qty, rules)
	if order.Qty.Cmp(decimal.Zero) <= 0 {
		return order, ErrQtyZero
	}
	if rules.MinQty.Cmp(decimal.Zero) > 0 && order.Qty.Cmp(rules.MinQty) < 0 {
		return order, ErrBelowMinQty
	}
	if rules.MaxQty.Cmp(decimal.Zero) > 0 && order.Qty.Cmp(rules.MaxQty) > 0 {
		return order, ErrAboveMaxQty
	}

	switch order.Type {
	case Market:
		if refPrice.Cmp(decimal.Zero) <= 0 {
			return order, nil
		}
		if !MinNotionalOK(refPrice, order.Qty, rules) {
			return order, ErrBelowMinNotional
		}
		return order, nil
	case Limit, Stop:
	default:
		return order, ErrInvalidOrder
	}

	if order.Price.Cmp(decimal.Zero) <= 0 {
		return order, ErrInvalidOrder
	}
	order.Price = RoundDown(order.Price, rules.PriceTick)
	if order.Price.Cmp(decimal.Zero) <= 0 {
		return order, ErrInvalidOrder
	}
	if order.Type == Stop {
		if order.StopPrice.Cmp(decimal.Zero) <= 0 {
			return order, ErrInvalidOrder
		}
		order.StopPrice = RoundDown(order.StopPrice, rules.PriceTick)
		if order.StopPrice.Cmp(decimal.Zero) <= 0 {
			return order, ErrInvalidOrder
		}
	}
	if order.TimeInForce == "" {
		order.TimeInForce = GTC
	}
	if !MinNotionalOK(order.Price, order.Qty, rules) {
		return order, ErrBelowMinNotional
	}
	return order, nil
}

// QtyFix floors qty to the LOT_SIZE step. Without a step the qty is returned as is.
func QtyFix(qty decimal.Decimal, rules Rules) decimal.Decimal {
	return RoundDown(qty, rules.QtyStep)
}

// MinNotionalOK reports whether price*qty reaches the MIN_NOTIONAL filter.
func MinNotionalOK(price, qty decimal.Decimal, rules Rules) bool {
	if rules.MinNotional.Cmp(decimal.Zero) <= 0 {
		return true
	}
	return price.Mul(qty).Cmp(rules.MinNotional) >= 0
}

// RoundDown floors value to a multiple of step. QuoRem is exact, so inputs
// with more digits than decimal.DivisionPrecision never round up.
func RoundDown(value, step decimal.Decimal) decimal.Decimal {
	if step.Cmp(decimal.Zero) <= 0 {
		return value
	}
	q, r := value.QuoRem(step, 0)
	if r.Sign() < 0 {
		q = q.Sub(decimal.NewFromInt(1))
	}
	return q.Mul(step)
}
