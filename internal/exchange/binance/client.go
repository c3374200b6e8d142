package binance

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"futures-bot/internal/config"
	"futures-bot/internal/core"
)

// Client adapts the vendor USDⓈ-M futures SDK to exchange.Exchange. Signing,
// transport and JSON decoding stay inside the SDK.
type Client struct {
	api               *futures.Client
	wsBaseURL         string
	clientOrderPrefix string
	recvWindow        time.Duration
	log               zerolog.Logger
	seq               atomic.Uint64

	mu          sync.Mutex
	symbolCache map[string]symbolInfo
	infoLoaded  bool
}

type Options struct {
	APIKey            string
	APISecret         string
	RestBaseURL       string
	WSBaseURL         string
	ClientOrderPrefix string
	RecvWindowMs      int64
	HTTPTimeoutSec    int64
	Logger            *zerolog.Logger
}

func NewClient(cfg config.ExchangeConfig, log zerolog.Logger) (*Client, error) {
	if cfg.APIKey == "" || cfg.APISecret == "" {
		return nil, errors.New("api_key/api_secret required")
	}
	return NewClientWithOptions(Options{
		APIKey:            cfg.APIKey,
		APISecret:         cfg.APISecret,
		RestBaseURL:       cfg.RestBaseURL,
		WSBaseURL:         cfg.WSBaseURL,
		ClientOrderPrefix: cfg.ClientOrderPrefix,
		RecvWindowMs:      cfg.RecvWindowMs,
		HTTPTimeoutSec:    cfg.HTTPTimeoutSec,
		Logger:            &log,
	}), nil
}

func NewClientWithOptions(opts Options) *Client {
	timeout := 15 * time.Second
	if opts.HTTPTimeoutSec > 0 {
		timeout = time.Duration(opts.HTTPTimeoutSec) * time.Second
	}
	api := futures.NewClient(opts.APIKey, opts.APISecret)
	if base := strings.TrimRight(opts.RestBaseURL, "/"); base != "" {
		api.BaseURL = base
	}
	api.HTTPClient = &http.Client{Timeout: timeout}
	log := zerolog.Nop()
	if opts.Logger != nil {
		log = opts.Logger.With().Str("component", "binance").Logger()
	}
	return &Client{
		api:               api,
		wsBaseURL:         strings.TrimRight(opts.WSBaseURL, "/"),
		clientOrderPrefix: normalizeClientOrderPrefix(opts.ClientOrderPrefix),
		recvWindow:        time.Duration(opts.RecvWindowMs) * time.Millisecond,
		log:               log,
		symbolCache:       make(map[string]symbolInfo),
	}
}

func normalizeClientOrderPrefix(v string) string {
	v = strings.ToLower(strings.TrimSpace(v))
	if v == "" {
		return "fbot"
	}
	b := strings.Builder{}
	for _, r := range v {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' || r == '-' {
			b.WriteRune(r)
		}
	}
	out := b.String()
	if out == "" {
		return "fbot"
	}
	if len(out) > 16 {
		out = out[:16]
	}
	return out
}

// newClientOrderID stays within the 36 char limit of newClientOrderId.
func (c *Client) newClientOrderID() string {
	n := c.seq.Add(1)
	return c.clientOrderPrefix + "-" + strconv.FormatInt(time.Now().UnixMilli(), 36) + "-" + strconv.FormatUint(n, 36)
}

func (c *Client) Name() string { return "binance-futures" }

func (c *Client) signedOpts() []futures.RequestOption {
	if c.recvWindow <= 0 {
		return nil
	}
	return []futures.RequestOption{futures.WithRecvWindow(c.recvWindow.Milliseconds())}
}

// SyncTime aligns the SDK request timestamps with the exchange clock.
func (c *Client) SyncTime(ctx context.Context) (time.Duration, error) {
	offset, err := c.api.NewSetServerTimeService().Do(ctx)
	if err != nil {
		return 0, wrapAPIError(err)
	}
	return time.Duration(offset) * time.Millisecond, nil
}

// ExchangeInfo fetches every listed symbol once and refreshes the rule cache.
func (c *Client) ExchangeInfo(ctx context.Context) (map[string]core.Rules, error) {
	start := time.Now()
	info, err := c.api.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return nil, wrapAPIError(err)
	}
	cache := make(map[string]symbolInfo, len(info.Symbols))
	out := make(map[string]core.Rules, len(info.Symbols))
	for _, s := range info.Symbols {
		parsed := parseSymbolInfo(s)
		cache[parsed.symbol] = parsed
		out[parsed.symbol] = parsed.rules
	}
	c.mu.Lock()
	c.symbolCache = cache
	c.infoLoaded = true
	c.mu.Unlock()
	c.log.Debug().Int("symbols", len(out)).Dur("took", time.Since(start)).Msg("exchange info loaded")
	return out, nil
}

func (c *Client) GetRules(ctx context.Context, symbol string) (core.Rules, error) {
	info, err := c.getSymbolInfo(ctx, symbol)
	if err != nil {
		return core.Rules{}, err
	}
	return info.rules, nil
}

// SymbolMeta is the listing data testnet checks need beyond the rules.
type SymbolMeta struct {
	Symbol     string
	Status     string
	BaseAsset  string
	QuoteAsset string
	Rules      core.Rules
}

func (m SymbolMeta) Trading() bool { return m.Status == "TRADING" }

func (c *Client) SymbolMeta(ctx context.Context, symbol string) (SymbolMeta, error) {
	info, err := c.getSymbolInfo(ctx, symbol)
	if err != nil {
		return SymbolMeta{}, err
	}
	return SymbolMeta{
		Symbol:     info.symbol,
		Status:     info.status,
		BaseAsset:  info.baseAsset,
		QuoteAsset: info.quoteAsset,
		Rules:      info.rules,
	}, nil
}

func (c *Client) getSymbolInfo(ctx context.Context, symbol string) (symbolInfo, error) {
	symbol = core.NormalizeSymbol(symbol)
	if symbol == "" {
		return symbolInfo{}, errors.New("symbol is required")
	}
	c.mu.Lock()
	info, ok := c.symbolCache[symbol]
	loaded := c.infoLoaded
	c.mu.Unlock()
	if ok {
		return info, nil
	}
	if !loaded {
		if _, err := c.ExchangeInfo(ctx); err != nil {
			return symbolInfo{}, err
		}
		c.mu.Lock()
		info, ok = c.symbolCache[symbol]
		c.mu.Unlock()
		if ok {
			return info, nil
		}
	}
	return symbolInfo{}, fmt.Errorf("%w: %s", core.ErrInvalidSymbol, symbol)
}

func (c *Client) TickerPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	symbol = core.NormalizeSymbol(symbol)
	prices, err := c.api.NewListPricesService().Symbol(symbol).Do(ctx)
	if err != nil {
		return decimal.Zero, wrapAPIError(err)
	}
	for _, p := range prices {
		if p == nil || p.Symbol != symbol {
			continue
		}
		price, err := decimal.NewFromString(p.Price)
		if err != nil {
			return decimal.Zero, fmt.Errorf("parse ticker price %q: %w", p.Price, err)
		}
		return price, nil
	}
	return decimal.Zero, fmt.Errorf("%w: no ticker for %s", core.ErrInvalidSymbol, symbol)
}

func (c *Client) PlaceOrder(ctx context.Context, order core.Order) (core.Order, error) {
	order.Symbol = core.NormalizeSymbol(order.Symbol)
	if order.ClientID == "" {
		order.ClientID = c.newClientOrderID()
	}
	svc := c.api.NewCreateOrderService().
		Symbol(order.Symbol).
		Side(futures.SideType(order.Side)).
		Type(futures.OrderType(order.Type)).
		Quantity(order.Qty.String()).
		NewClientOrderID(order.ClientID)
	switch order.Type {
	case core.Market:
	case core.Limit:
		svc = svc.TimeInForce(timeInForce(order.TimeInForce)).
			Price(order.Price.String())
	case core.Stop:
		svc = svc.TimeInForce(timeInForce(order.TimeInForce)).
			Price(order.Price.String()).
			StopPrice(order.StopPrice.String())
	default:
		return order, fmt.Errorf("%w: unsupported order type %q", core.ErrInvalidOrder, order.Type)
	}
	c.log.Debug().
		Str("symbol", order.Symbol).
		Str("side", string(order.Side)).
		Str("type", string(order.Type)).
		Str("qty", order.Qty.String()).
		Str("price", order.Price.String()).
		Str("stop_price", order.StopPrice.String()).
		Str("client_id", order.ClientID).
		Msg("create order request")
	resp, err := svc.Do(ctx, c.signedOpts()...)
	if err != nil {
		return order, wrapAPIError(err)
	}
	return orderFromCreateResponse(order, resp), nil
}

func (c *Client) CancelOrder(ctx context.Context, symbol, orderID string) error {
	id, err := strconv.ParseInt(strings.TrimSpace(orderID), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid order id %q: %w", orderID, err)
	}
	_, err = c.api.NewCancelOrderService().
		Symbol(core.NormalizeSymbol(symbol)).
		OrderID(id).
		Do(ctx, c.signedOpts()...)
	return wrapAPIError(err)
}

func (c *Client) OpenOrders(ctx context.Context, symbol string) ([]core.Order, error) {
	svc := c.api.NewListOpenOrdersService()
	if symbol = core.NormalizeSymbol(symbol); symbol != "" {
		svc = svc.Symbol(symbol)
	}
	resp, err := svc.Do(ctx, c.signedOpts()...)
	if err != nil {
		return nil, wrapAPIError(err)
	}
	orders := make([]core.Order, 0, len(resp))
	for _, o := range resp {
		if o == nil {
			continue
		}
		orders = append(orders, orderFromFutures(o))
	}
	return orders, nil
}

// Balances returns every asset of the futures account, zero balances included.
func (c *Client) Balances(ctx context.Context) ([]core.AssetBalance, error) {
	acc, err := c.api.NewGetAccountService().Do(ctx, c.signedOpts()...)
	if err != nil {
		return nil, wrapAPIError(err)
	}
	out := make([]core.AssetBalance, 0, len(acc.Assets))
	for _, a := range acc.Assets {
		if a == nil {
			continue
		}
		out = append(out, core.AssetBalance{
			Asset:            a.Asset,
			WalletBalance:    parseDecimal(a.WalletBalance),
			AvailableBalance: parseDecimal(a.AvailableBalance),
			UnrealizedProfit: parseDecimal(a.UnrealizedProfit),
		})
	}
	return out, nil
}

func timeInForce(tif core.TimeInForce) futures.TimeInForceType {
	if tif == "" {
		return futures.TimeInForceTypeGTC
	}
	return futures.TimeInForceType(tif)
}
