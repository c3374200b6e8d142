package exchange

import (
	"context"

	"github.com/shopspring/decimal"

	"futures-bot/internal/core"
)

type Exchange interface {
	Name() string
	ExchangeInfo(ctx context.Context) (map[string]core.Rules, error)
	GetRules(ctx context.Context, symbol string) (core.Rules, error)
	TickerPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
	PlaceOrder(ctx context.Context, order core.Order) (core.Order, error)
	CancelOrder(ctx context.Context, symbol, orderID string) error
	OpenOrders(ctx context.Context, symbol string) ([]core.Order, error)
	Balances(ctx context.Context) ([]core.AssetBalance, error)
}

// PriceStream is implemented by venues that can push mark price updates.
type PriceStream interface {
	WatchMarkPrice(ctx context.Context, symbol string) (<-chan core.MarkPrice, <-chan error)
}
