package trader

import (
	"bytes"
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"futures-bot/internal/core"
	"futures-bot/internal/metrics"
	"futures-bot/internal/store"
)

type fakeExchange struct {
	mu        sync.Mutex
	rules     map[string]core.Rules
	infoErr   error
	ticker    decimal.Decimal
	tickerErr error
	placeErr  error
	cancelErr error
	balances  []core.AssetBalance
	open      []core.Order
	placed    []core.Order
	canceled  []string
	nextID    int64
}

func (f *fakeExchange) Name() string { return "fake" }

func (f *fakeExchange) ExchangeInfo(context.Context) (map[string]core.Rules, error) {
	if f.infoErr != nil {
		return nil, f.infoErr
	}
	return f.rules, nil
}

func (f *fakeExchange) GetRules(_ context.Context, symbol string) (core.Rules, error) {
	r, ok := f.rules[symbol]
	if !ok {
		return core.Rules{}, core.ErrInvalidSymbol
	}
	return r, nil
}

func (f *fakeExchange) TickerPrice(context.Context, string) (decimal.Decimal, error) {
	return f.ticker, f.tickerErr
}

func (f *fakeExchange) PlaceOrder(_ context.Context, o core.Order) (core.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.placeErr != nil {
		return o, f.placeErr
	}
	f.nextID++
	o.ID = strconv.FormatInt(f.nextID, 10)
	o.Status = core.OrderNew
	f.placed = append(f.placed, o)
	return o, nil
}

func (f *fakeExchange) CancelOrder(_ context.Context, symbol, orderID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cancelErr != nil {
		return f.cancelErr
	}
	f.canceled = append(f.canceled, symbol+"/"+orderID)
	return nil
}

func (f *fakeExchange) OpenOrders(context.Context, string) ([]core.Order, error) {
	return f.open, nil
}

func (f *fakeExchange) Balances(context.Context) ([]core.AssetBalance, error) {
	return f.balances, nil
}

type fakeStream struct {
	updates []core.MarkPrice
	err     error
}

func (s *fakeStream) WatchMarkPrice(ctx context.Context, _ string) (<-chan core.MarkPrice, <-chan error) {
	prices := make(chan core.MarkPrice)
	errs := make(chan error, 1)
	go func() {
		defer close(errs)
		defer close(prices)
		for _, u := range s.updates {
			select {
			case prices <- u:
			case <-ctx.Done():
				return
			}
		}
		if s.err != nil {
			errs <- s.err
		}
	}()
	return prices, errs
}

type alertRecorder struct {
	mu     sync.Mutex
	events []string
}

func (a *alertRecorder) Important(event string, _ map[string]string) {
	a.mu.Lock()
	a.events = append(a.events, event)
	a.mu.Unlock()
}

func btcRules() core.Rules {
	return core.Rules{
		MinQty:      decimal.RequireFromString("0.001"),
		MaxQty:      decimal.RequireFromString("1000"),
		MinNotional: decimal.RequireFromString("100"),
		PriceTick:   decimal.RequireFromString("0.1"),
		QtyStep:     decimal.RequireFromString("0.001"),
	}
}

type harness struct {
	trader  *Trader
	ex      *fakeExchange
	store   *store.Store
	alerts  *alertRecorder
	metrics *metrics.Metrics
	logs    *bytes.Buffer
}

func newHarness(t *testing.T, mutate func(*Options)) *harness {
	t.Helper()
	ex := &fakeExchange{
		rules:  map[string]core.Rules{"BTCUSDT": btcRules()},
		ticker: decimal.RequireFromString("60000"),
	}
	st, err := store.New(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)
	logs := &bytes.Buffer{}
	alerts := &alertRecorder{}
	m := metrics.New()
	opts := Options{
		Mode:    "testnet",
		Store:   st,
		Alerter: alerts,
		Metrics: m,
		Logger:  zerolog.New(logs),
	}
	if mutate != nil {
		mutate(&opts)
	}
	return &harness{
		trader:  New(ex, opts),
		ex:      ex,
		store:   st,
		alerts:  alerts,
		metrics: m,
		logs:    logs,
	}
}

func TestLimitOrderNormalizedAndJournaled(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	require.NoError(t, h.trader.Start(ctx))

	placed, err := h.trader.Limit(ctx, "btcusdt", core.Buy,
		decimal.RequireFromString("0.0029"), decimal.RequireFromString("60000.07"))
	require.NoError(t, err)

	require.Len(t, h.ex.placed, 1)
	sent := h.ex.placed[0]
	assert.Equal(t, "BTCUSDT", sent.Symbol)
	assert.True(t, sent.Qty.Equal(decimal.RequireFromString("0.002")), sent.Qty.String())
	assert.True(t, sent.Price.Equal(decimal.RequireFromString("60000")), sent.Price.String())
	assert.Equal(t, core.GTC, sent.TimeInForce)
	assert.Equal(t, "1", placed.ID)
	assert.Contains(t, h.logs.String(), "Limit Order OK | OrderId 1")

	history, err := h.trader.History(10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, store.ActionPlaced, history[0].Action)
	assert.Equal(t, "1", history[0].Order.ID)
	assert.Equal(t, "testnet", history[0].Mode)

	assert.Equal(t, []string{"order_placed"}, h.alerts.events)

	status, ok, err := h.store.LoadSessionStatus()
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, status.RulesLoaded)
	assert.Equal(t, 1, status.OrdersPlaced)
}

func TestLimitBelowMinNotionalNotSent(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	require.NoError(t, h.trader.Start(ctx))

	_, err := h.trader.Limit(ctx, "BTCUSDT", core.Sell,
		decimal.RequireFromString("0.001"), decimal.RequireFromString("60000"))
	require.ErrorIs(t, err, core.ErrBelowMinNotional)
	assert.Empty(t, h.ex.placed)
	assert.Empty(t, h.alerts.events)
}

func TestQtyRoundsToZero(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	require.NoError(t, h.trader.Start(ctx))

	_, err := h.trader.StopLimit(ctx, "BTCUSDT", core.Buy,
		decimal.RequireFromString("0.0004"), decimal.RequireFromString("61000"), decimal.RequireFromString("61010"))
	require.ErrorIs(t, err, core.ErrQtyZero)
	assert.Empty(t, h.ex.placed)
}

func TestStopLimitSendsStopOrder(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	require.NoError(t, h.trader.Start(ctx))

	_, err := h.trader.StopLimit(ctx, "BTCUSDT", core.Buy,
		decimal.RequireFromString("0.01"), decimal.RequireFromString("61000.05"), decimal.RequireFromString("61010.09"))
	require.NoError(t, err)
	require.Len(t, h.ex.placed, 1)
	sent := h.ex.placed[0]
	assert.Equal(t, core.Stop, sent.Type)
	assert.True(t, sent.StopPrice.Equal(decimal.RequireFromString("61000")))
	assert.True(t, sent.Price.Equal(decimal.RequireFromString("61010")))
	assert.Contains(t, h.logs.String(), "Stop-Limit OK | OrderId 1")
}

func TestMarketUsesTickerForNotional(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	require.NoError(t, h.trader.Start(ctx))

	_, err := h.trader.Market(ctx, "BTCUSDT", core.Buy, decimal.RequireFromString("0.001"))
	require.ErrorIs(t, err, core.ErrBelowMinNotional)

	_, err = h.trader.Market(ctx, "BTCUSDT", core.Buy, decimal.RequireFromString("0.0025"))
	require.NoError(t, err)
	require.Len(t, h.ex.placed, 1)
	assert.True(t, h.ex.placed[0].Qty.Equal(decimal.RequireFromString("0.002")))
	assert.True(t, h.ex.placed[0].Price.IsZero())
	assert.Contains(t, h.logs.String(), "Market Order OK | OrderId 1")
}

func TestMarketTickerFailureSkipsNotional(t *testing.T) {
	h := newHarness(t, nil)
	h.ex.tickerErr = errors.New("ticker down")
	ctx := context.Background()
	require.NoError(t, h.trader.Start(ctx))

	_, err := h.trader.Market(ctx, "BTCUSDT", core.Sell, decimal.RequireFromString("0.001"))
	require.NoError(t, err)
	assert.Len(t, h.ex.placed, 1)
}

func TestStartFailureLeavesOrdersUnnormalized(t *testing.T) {
	h := newHarness(t, nil)
	h.ex.infoErr = errors.New("exchangeInfo unavailable")
	ctx := context.Background()

	require.Error(t, h.trader.Start(ctx))
	assert.Contains(t, h.logs.String(), "exchangeInfo unavailable")

	_, err := h.trader.Limit(ctx, "BTCUSDT", core.Buy,
		decimal.RequireFromString("0.0001234"), decimal.RequireFromString("10.123"))
	require.NoError(t, err)
	require.Len(t, h.ex.placed, 1)
	assert.True(t, h.ex.placed[0].Qty.Equal(decimal.RequireFromString("0.0001234")))
	assert.True(t, h.ex.placed[0].Price.Equal(decimal.RequireFromString("10.123")))
}

func TestUnknownSymbolPassesThrough(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	require.NoError(t, h.trader.Start(ctx))

	_, err := h.trader.Limit(ctx, "NEWUSDT", core.Buy, decimal.RequireFromString("1.2345"), decimal.RequireFromString("0.5"))
	require.NoError(t, err)
	assert.True(t, h.ex.placed[0].Qty.Equal(decimal.RequireFromString("1.2345")))
	assert.Contains(t, h.logs.String(), "no trading rules, order sent as entered")
}

func TestMaxNotionalGuard(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.MaxNotional = decimal.NewFromInt(500) })
	ctx := context.Background()
	require.NoError(t, h.trader.Start(ctx))

	_, err := h.trader.Limit(ctx, "BTCUSDT", core.Buy, decimal.RequireFromString("0.01"), decimal.RequireFromString("60000"))
	require.ErrorIs(t, err, ErrAboveMaxNotional)

	_, err = h.trader.Market(ctx, "BTCUSDT", core.Buy, decimal.RequireFromString("0.01"))
	require.ErrorIs(t, err, ErrAboveMaxNotional)
	assert.Empty(t, h.ex.placed)

	_, err = h.trader.Limit(ctx, "BTCUSDT", core.Buy, decimal.RequireFromString("0.002"), decimal.RequireFromString("60000"))
	require.NoError(t, err)
}

func TestInvalidSideRejected(t *testing.T) {
	h := newHarness(t, nil)
	_, err := h.trader.Market(context.Background(), "BTCUSDT", core.Side("HOLD"), decimal.NewFromInt(1))
	require.ErrorIs(t, err, core.ErrInvalidOrder)
}

func TestExchangeFailureJournaledAndAlerted(t *testing.T) {
	h := newHarness(t, nil)
	h.ex.placeErr = errors.Join(errors.New("Margin is insufficient."), core.ErrInsufficientBalance)
	ctx := context.Background()
	require.NoError(t, h.trader.Start(ctx))

	_, err := h.trader.Limit(ctx, "BTCUSDT", core.Buy, decimal.RequireFromString("0.01"), decimal.RequireFromString("60000"))
	require.ErrorIs(t, err, core.ErrInsufficientBalance)
	assert.Contains(t, h.logs.String(), "Margin is insufficient.")

	history, err := h.trader.History(1)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, store.ActionFailed, history[0].Action)
	assert.Contains(t, history[0].Error, "Margin is insufficient.")
	assert.Equal(t, []string{"order_failed"}, h.alerts.events)

	status, _, err := h.store.LoadSessionStatus()
	require.NoError(t, err)
	assert.Equal(t, 1, status.OrdersFailed)
}

func TestBalancesFiltersZero(t *testing.T) {
	h := newHarness(t, nil)
	h.ex.balances = []core.AssetBalance{
		{Asset: "USDT", WalletBalance: decimal.RequireFromString("15000.5")},
		{Asset: "BNB", WalletBalance: decimal.Zero},
		{Asset: "BTC", WalletBalance: decimal.RequireFromString("-0.1")},
	}
	got, err := h.trader.Balances(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "USDT", got[0].Asset)
}

func TestCancel(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.trader.Cancel(context.Background(), "btcusdt", " 42 "))
	assert.Equal(t, []string{"BTCUSDT/42"}, h.ex.canceled)

	history, err := h.trader.History(1)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, store.ActionCanceled, history[0].Action)

	require.ErrorIs(t, h.trader.Cancel(context.Background(), "BTCUSDT", ""), core.ErrInvalidOrder)

	h.ex.cancelErr = core.ErrOrderNotFound
	require.ErrorIs(t, h.trader.Cancel(context.Background(), "BTCUSDT", "43"), core.ErrOrderNotFound)
}

func TestOpenOrders(t *testing.T) {
	h := newHarness(t, nil)
	h.ex.open = []core.Order{{ID: "9", Symbol: "BTCUSDT"}}
	got, err := h.trader.OpenOrders(context.Background(), "btcusdt")
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestWatchPriceDeliversUpdates(t *testing.T) {
	stream := &fakeStream{updates: []core.MarkPrice{
		{Symbol: "BTCUSDT", Price: decimal.NewFromInt(65000)},
		{Symbol: "BTCUSDT", Price: decimal.NewFromInt(65001)},
	}}
	h := newHarness(t, func(o *Options) { o.Stream = stream })

	var got []string
	err := h.trader.WatchPrice(context.Background(), "btcusdt", func(p core.MarkPrice) {
		got = append(got, p.Price.String())
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"65000", "65001"}, got)
}

func TestWatchPriceStreamError(t *testing.T) {
	stream := &fakeStream{err: errors.New("connection reset")}
	h := newHarness(t, func(o *Options) { o.Stream = stream })
	err := h.trader.WatchPrice(context.Background(), "BTCUSDT", func(core.MarkPrice) {})
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "connection reset"))
}

func TestWatchPriceStopsOnDeadline(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.Stream = blockingStream{} })
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.NoError(t, h.trader.WatchPrice(ctx, "BTCUSDT", func(core.MarkPrice) {}))
}

func TestWatchPriceWithoutStream(t *testing.T) {
	h := newHarness(t, nil)
	require.ErrorIs(t, h.trader.WatchPrice(context.Background(), "BTCUSDT", func(core.MarkPrice) {}), ErrNoPriceStream)
}

type blockingStream struct{}

func (blockingStream) WatchMarkPrice(context.Context, string) (<-chan core.MarkPrice, <-chan error) {
	return make(chan core.MarkPrice), make(chan error)
}
