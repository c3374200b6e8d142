package core

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type Side string

type OrderType string

type TimeInForce string

type OrderStatus string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

const (
	Market OrderType = "MARKET"
	Limit  OrderType = "LIMIT"
	// Stop is the futures stop-limit order: a limit order armed once StopPrice trades.
	Stop OrderType = "STOP"
)

const (
	GTC TimeInForce = "GTC"
)

const (
	OrderNew             OrderStatus = "NEW"
	OrderPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderFilled          OrderStatus = "FILLED"
	OrderCanceled        OrderStatus = "CANCELED"
	OrderRejected        OrderStatus = "REJECTED"
	OrderExpired         OrderStatus = "EXPIRED"
)

// ParseSide accepts BUY/SELL in any case.
func ParseSide(v string) (Side, bool) {
	switch Side(NormalizeSymbol(v)) {
	case Buy:
		return Buy, true
	case Sell:
		return Sell, true
	}
	return "", false
}

type Order struct {
	ID          string          `json:"id,omitempty"`
	ClientID    string          `json:"client_id,omitempty"`
	Symbol      string          `json:"symbol"`
	Side        Side            `json:"side"`
	Type        OrderType       `json:"type"`
	TimeInForce TimeInForce     `json:"time_in_force,omitempty"`
	Price       decimal.Decimal `json:"price"`
	StopPrice   decimal.Decimal `json:"stop_price"`
	Qty         decimal.Decimal `json:"qty"`
	ExecutedQty decimal.Decimal `json:"executed_qty"`
	Status      OrderStatus     `json:"status,omitempty"`
	CreatedAt   time.Time       `json:"created_at,omitempty"`
}

// Rules mirrors the exchangeInfo filters that matter for order sizing.
// A zero field means the exchange did not publish that filter.
type Rules struct {
	MinQty      decimal.Decimal `json:"min_qty"`
	MaxQty      decimal.Decimal `json:"max_qty"`
	MinNotional decimal.Decimal `json:"min_notional"`
	PriceTick   decimal.Decimal `json:"price_tick"`
	QtyStep     decimal.Decimal `json:"qty_step"`
}

func (r Rules) Known() bool {
	return r.QtyStep.Sign() > 0 || r.MinQty.Sign() > 0 || r.MinNotional.Sign() > 0 || r.PriceTick.Sign() > 0
}

type AssetBalance struct {
	Asset            string
	WalletBalance    decimal.Decimal
	AvailableBalance decimal.Decimal
	UnrealizedProfit decimal.Decimal
}

// NormalizeSymbol trims and upper-cases a symbol typed by the user.
func NormalizeSymbol(v string) string {
	return strings.ToUpper(strings.TrimSpace(v))
}

type MarkPrice struct {
	Symbol      string
	Price       decimal.Decimal
	IndexPrice  decimal.Decimal
	SettlePrice decimal.Decimal
	FundingRate decimal.Decimal
	Time        time.Time
	NextFunding time.Time
}
