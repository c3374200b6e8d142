package trader

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"futures-bot/internal/alert"
	"futures-bot/internal/core"
	"futures-bot/internal/exchange"
	"futures-bot/internal/metrics"
	"futures-bot/internal/store"
)

var (
	ErrAboveMaxNotional = errors.New("order notional above max_notional")
	ErrNoPriceStream    = errors.New("mark price stream not available")
)

type Options struct {
	Mode        string
	MaxNotional decimal.Decimal
	Stream      exchange.PriceStream
	Store       store.Journal
	Alerter     alert.Alerter
	Metrics     *metrics.Metrics
	Logger      zerolog.Logger
}

// Trader turns menu actions into exchange calls. Rules are cached once by
// Start; symbols without cached rules are sent as entered and the exchange
// is left to validate them.
type Trader struct {
	ex          exchange.Exchange
	stream      exchange.PriceStream
	store       store.Journal
	alerter     alert.Alerter
	metrics     *metrics.Metrics
	log         zerolog.Logger
	mode        string
	maxNotional decimal.Decimal

	mu      sync.RWMutex
	rules   map[string]core.Rules
	session store.SessionStatus
}

func New(ex exchange.Exchange, opts Options) *Trader {
	return &Trader{
		ex:          ex,
		stream:      opts.Stream,
		store:       opts.Store,
		alerter:     opts.Alerter,
		metrics:     opts.Metrics,
		log:         opts.Logger.With().Str("component", "trader").Logger(),
		mode:        opts.Mode,
		maxNotional: opts.MaxNotional,
		rules:       make(map[string]core.Rules),
		session: store.SessionStatus{
			Mode:      opts.Mode,
			PID:       os.Getpid(),
			StartedAt: time.Now().UTC(),
		},
	}
}

// Start loads the exchange trading rules. A failure is logged and returned,
// but the trader stays usable without rules.
func (t *Trader) Start(ctx context.Context) error {
	start := time.Now()
	rules, err := t.ex.ExchangeInfo(ctx)
	t.metrics.ObserveRequest("exchange_info", time.Since(start))
	if err != nil {
		t.log.Error().Msg(err.Error())
		t.updateSession(func(s *store.SessionStatus) { s.LastError = err.Error() })
		return err
	}
	t.mu.Lock()
	t.rules = rules
	t.mu.Unlock()
	t.metrics.SetRulesLoaded(len(rules))
	t.log.Debug().Int("symbols", len(rules)).Msg("trading rules cached")
	t.updateSession(func(s *store.SessionStatus) {
		s.RulesLoaded = true
		s.SymbolCount = len(rules)
	})
	return nil
}

// Close records the end of the session.
func (t *Trader) Close() {
	t.updateSession(func(s *store.SessionStatus) { s.StoppedAt = time.Now().UTC() })
}

func (t *Trader) Rules(symbol string) (core.Rules, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	r, ok := t.rules[core.NormalizeSymbol(symbol)]
	return r, ok
}

func (t *Trader) Market(ctx context.Context, symbol string, side core.Side, qty decimal.Decimal) (core.Order, error) {
	order := core.Order{
		Symbol: core.NormalizeSymbol(symbol),
		Side:   side,
		Type:   core.Market,
		Qty:    qty,
	}
	return t.submit(ctx, "Market Order", order)
}

func (t *Trader) Limit(ctx context.Context, symbol string, side core.Side, qty, price decimal.Decimal) (core.Order, error) {
	order := core.Order{
		Symbol:      core.NormalizeSymbol(symbol),
		Side:        side,
		Type:        core.Limit,
		TimeInForce: core.GTC,
		Qty:         qty,
		Price:       price,
	}
	return t.submit(ctx, "Limit Order", order)
}

func (t *Trader) StopLimit(ctx context.Context, symbol string, side core.Side, qty, stop, price decimal.Decimal) (core.Order, error) {
	order := core.Order{
		Symbol:      core.NormalizeSymbol(symbol),
		Side:        side,
		Type:        core.Stop,
		TimeInForce: core.GTC,
		Qty:         qty,
		Price:       price,
		StopPrice:   stop,
	}
	return t.submit(ctx, "Stop-Limit", order)
}

func (t *Trader) submit(ctx context.Context, kind string, order core.Order) (core.Order, error) {
	if order.Symbol == "" {
		return order, fmt.Errorf("%w: symbol is required", core.ErrInvalidOrder)
	}
	if order.Side != core.Buy && order.Side != core.Sell {
		return order, fmt.Errorf("%w: side must be BUY or SELL", core.ErrInvalidOrder)
	}

	rules, ok := t.Rules(order.Symbol)
	if !ok || !rules.Known() {
		t.log.Debug().Str("symbol", order.Symbol).Msg("no trading rules, order sent as entered")
	}
	refPrice := order.Price
	if order.Type == core.Market {
		refPrice = t.referencePrice(ctx, order.Symbol, rules)
	}

	normalized, err := core.NormalizeOrder(order, rules, refPrice)
	if err == nil {
		err = t.checkMaxNotional(normalized, refPrice)
	}
	if err != nil {
		t.log.Debug().Err(err).Str("symbol", order.Symbol).Str("type", string(order.Type)).Msg("order rejected before submit")
		t.metrics.IncOrder(string(order.Type), string(order.Side), metrics.ResultRejected)
		return order, err
	}

	start := time.Now()
	placed, err := t.ex.PlaceOrder(ctx, normalized)
	t.metrics.ObserveRequest("place_order", time.Since(start))
	if err != nil {
		t.log.Error().Str("symbol", normalized.Symbol).Msg(err.Error())
		t.metrics.IncOrder(string(normalized.Type), string(normalized.Side), metrics.ResultError)
		t.journal(store.ActionFailed, normalized, err)
		alert.NotifyOrder(t.alerter, alert.OrderFailed, normalized, err)
		t.updateSession(func(s *store.SessionStatus) {
			s.OrdersFailed++
			s.LastError = err.Error()
		})
		return normalized, err
	}

	t.log.Info().
		Str("symbol", placed.Symbol).
		Str("side", string(placed.Side)).
		Str("qty", placed.Qty.String()).
		Str("status", string(placed.Status)).
		Msgf("%s OK | OrderId %s", kind, placed.ID)
	t.metrics.IncOrder(string(placed.Type), string(placed.Side), metrics.ResultOK)
	t.journal(store.ActionPlaced, placed, nil)
	alert.NotifyOrder(t.alerter, alert.OrderPlaced, placed, nil)
	t.updateSession(func(s *store.SessionStatus) { s.OrdersPlaced++ })
	return placed, nil
}

// referencePrice is only needed when the symbol has a notional floor or a
// max_notional cap applies. A ticker failure skips those checks.
func (t *Trader) referencePrice(ctx context.Context, symbol string, rules core.Rules) decimal.Decimal {
	if rules.MinNotional.Sign() <= 0 && t.maxNotional.Sign() <= 0 {
		return decimal.Zero
	}
	start := time.Now()
	price, err := t.ex.TickerPrice(ctx, symbol)
	t.metrics.ObserveRequest("ticker_price", time.Since(start))
	if err != nil {
		t.log.Warn().Err(err).Str("symbol", symbol).Msg("reference price unavailable, notional checks skipped")
		return decimal.Zero
	}
	return price
}

func (t *Trader) checkMaxNotional(order core.Order, refPrice decimal.Decimal) error {
	if t.maxNotional.Sign() <= 0 {
		return nil
	}
	price := order.Price
	if order.Type == core.Market {
		price = refPrice
	}
	if price.Sign() <= 0 {
		return nil
	}
	notional := price.Mul(order.Qty)
	if notional.GreaterThan(t.maxNotional) {
		return fmt.Errorf("%w: %s > %s", ErrAboveMaxNotional, notional.String(), t.maxNotional.String())
	}
	return nil
}

// Balances returns the futures wallet assets with a positive wallet balance.
func (t *Trader) Balances(ctx context.Context) ([]core.AssetBalance, error) {
	start := time.Now()
	all, err := t.ex.Balances(ctx)
	t.metrics.ObserveRequest("balances", time.Since(start))
	if err != nil {
		t.log.Error().Msg(err.Error())
		return nil, err
	}
	out := make([]core.AssetBalance, 0, len(all))
	for _, b := range all {
		if b.WalletBalance.Sign() > 0 {
			out = append(out, b)
		}
	}
	return out, nil
}

func (t *Trader) OpenOrders(ctx context.Context, symbol string) ([]core.Order, error) {
	start := time.Now()
	orders, err := t.ex.OpenOrders(ctx, core.NormalizeSymbol(symbol))
	t.metrics.ObserveRequest("open_orders", time.Since(start))
	if err != nil {
		t.log.Error().Msg(err.Error())
		return nil, err
	}
	return orders, nil
}

func (t *Trader) Cancel(ctx context.Context, symbol, orderID string) error {
	symbol = core.NormalizeSymbol(symbol)
	orderID = strings.TrimSpace(orderID)
	if symbol == "" || orderID == "" {
		return fmt.Errorf("%w: symbol and order id are required", core.ErrInvalidOrder)
	}
	start := time.Now()
	err := t.ex.CancelOrder(ctx, symbol, orderID)
	t.metrics.ObserveRequest("cancel_order", time.Since(start))
	if err != nil {
		t.log.Error().Str("symbol", symbol).Str("order_id", orderID).Msg(err.Error())
		return err
	}
	order := core.Order{ID: orderID, Symbol: symbol, Status: core.OrderCanceled}
	t.log.Info().Str("symbol", symbol).Msgf("Cancel OK | OrderId %s", orderID)
	t.journal(store.ActionCanceled, order, nil)
	alert.NotifyOrder(t.alerter, alert.OrderCanceled, order, nil)
	return nil
}

// History returns the newest n journal entries.
func (t *Trader) History(n int) ([]store.JournalEntry, error) {
	if t.store == nil {
		return nil, nil
	}
	return t.store.Recent(n)
}

// WatchPrice calls fn for every mark price update until ctx ends. A context
// deadline or cancellation is a normal stop.
func (t *Trader) WatchPrice(ctx context.Context, symbol string, fn func(core.MarkPrice)) error {
	if t.stream == nil {
		return ErrNoPriceStream
	}
	prices, errs := t.stream.WatchMarkPrice(ctx, core.NormalizeSymbol(symbol))
	for {
		select {
		case p, ok := <-prices:
			if !ok {
				if err, ok := <-errs; ok && err != nil {
					t.log.Error().Msg(err.Error())
					return err
				}
				return nil
			}
			t.metrics.IncMarkPriceUpdate()
			fn(p)
		case <-ctx.Done():
			return nil
		}
	}
}

func (t *Trader) journal(action store.JournalAction, order core.Order, orderErr error) {
	if t.store == nil {
		return
	}
	entry := store.JournalEntry{
		Time:   time.Now().UTC(),
		Mode:   t.mode,
		Action: action,
		Order:  order,
	}
	if orderErr != nil {
		entry.Error = orderErr.Error()
	}
	if err := t.store.AppendOrder(entry); err != nil {
		t.log.Warn().Err(err).Msg("order journal append failed")
	}
}

func (t *Trader) updateSession(fn func(*store.SessionStatus)) {
	t.mu.Lock()
	fn(&t.session)
	t.session.UpdatedAt = time.Now().UTC()
	status := t.session
	t.mu.Unlock()
	if t.store == nil {
		return
	}
	if err := t.store.SaveSessionStatus(status); err != nil {
		t.log.Warn().Err(err).Msg("session status save failed")
	}
}
