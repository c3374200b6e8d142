package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"futures-bot/internal/config"
	"futures-bot/internal/core"
	"futures-bot/internal/exchange/binance"
	"futures-bot/internal/logging"
)

type checkStatus string

const (
	statusPass checkStatus = "PASS"
	statusFail checkStatus = "FAIL"
)

type checkResult struct {
	Name       string      `json:"name"`
	Status     checkStatus `json:"status"`
	DurationMs int64       `json:"duration_ms"`
	Detail     string      `json:"detail,omitempty"`
	Error      string      `json:"error,omitempty"`
}

type report struct {
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Mode       config.Mode   `json:"mode"`
	Symbol     string        `json:"symbol"`
	Checks     []checkResult `json:"checks"`
}

type selectedChecks struct {
	preflight bool
	lifecycle bool
	markPrice bool
}

func main() {
	var (
		configPath   string
		envFile      string
		symbol       string
		timeoutSec   int
		streamWait   int
		priceFactor  string
		outJSONPath  string
		allowLiveRun bool
		checkFlag    string
	)
	flag.StringVar(&configPath, "config", "config/config.yaml", "config yaml path (optional)")
	flag.StringVar(&envFile, "env-file", ".env", "dotenv file with API_KEY/API_SECRET")
	flag.StringVar(&symbol, "symbol", "", "symbol to check (default trading.default_symbol)")
	flag.IntVar(&timeoutSec, "timeout-sec", 120, "total timeout seconds")
	flag.IntVar(&streamWait, "stream-wait-sec", 10, "wait seconds for the mark price stream")
	flag.StringVar(&priceFactor, "price-factor", "0.96", "lifecycle limit price as a fraction of the last price")
	flag.StringVar(&outJSONPath, "out-json", "", "optional output report path")
	flag.BoolVar(&allowLiveRun, "allow-live", false, "allow running checks when mode=live")
	flag.StringVar(&checkFlag, "check", "all", "checks to run: all | comma list (preflight,lifecycle,markprice)")
	flag.Parse()

	if err := config.LoadDotEnv(envFile); err != nil {
		fatal(err.Error())
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		fatal(err.Error())
	}
	if cfg.Mode == config.ModeLive && !allowLiveRun {
		fatal("mode=live blocked by default; set -allow-live=true to continue")
	}
	checks, err := parseCheckFlag(checkFlag)
	if err != nil {
		fatal(err.Error())
	}
	factor, err := parsePriceFactor(priceFactor)
	if err != nil {
		fatal(err.Error())
	}
	symbol = core.NormalizeSymbol(symbol)
	if symbol == "" {
		symbol = cfg.Trading.DefaultSymbol
	}
	if timeoutSec < 30 {
		timeoutSec = 30
	}
	if streamWait < 3 {
		streamWait = 3
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(timeoutSec)*time.Second)
	defer cancel()

	logger := logging.New(logging.Options{
		Level:        cfg.Log.Level,
		ConsoleLevel: "warn",
		File:         cfg.Log.File,
		MaxSizeMB:    cfg.Log.MaxSizeMB,
		MaxBackups:   cfg.Log.MaxBackups,
	})
	defer logger.Close()

	client, err := binance.NewClient(cfg.Exchange, logger.Logger)
	if err != nil {
		fatal(err.Error())
	}
	if _, err := client.SyncTime(ctx); err != nil {
		fatal(err.Error())
	}

	r := report{
		StartedAt: time.Now().UTC(),
		Mode:      cfg.Mode,
		Symbol:    symbol,
	}

	var (
		marketLoaded bool
		rules        core.Rules
		quoteAsset   string
		lastPrice    decimal.Decimal
		available    decimal.Decimal
		placedID     string
	)

	loadMarketContext := func() error {
		if marketLoaded {
			return nil
		}
		meta, err := client.SymbolMeta(ctx, symbol)
		if err != nil {
			return err
		}
		if !meta.Trading() {
			return fmt.Errorf("%w: %s status %s", core.ErrInvalidSymbol, meta.Symbol, meta.Status)
		}
		rules, quoteAsset = meta.Rules, meta.QuoteAsset
		lastPrice, err = client.TickerPrice(ctx, symbol)
		if err != nil {
			return err
		}
		balances, err := client.Balances(ctx)
		if err != nil {
			return err
		}
		available = quoteAvailable(balances, quoteAsset)
		marketLoaded = true
		return nil
	}

	run := func(name string, fn func() (string, error)) {
		start := time.Now()
		detail, err := fn()
		cr := checkResult{
			Name:       name,
			DurationMs: time.Since(start).Milliseconds(),
			Detail:     detail,
		}
		if err != nil {
			cr.Status = statusFail
			cr.Error = err.Error()
		} else {
			cr.Status = statusPass
		}
		r.Checks = append(r.Checks, cr)
		if cr.Status == statusPass {
			fmt.Printf("[PASS] %s (%dms)", name, cr.DurationMs)
			if cr.Detail != "" {
				fmt.Printf(" - %s", cr.Detail)
			}
			fmt.Println()
		} else {
			fmt.Printf("[FAIL] %s (%dms) - %s\n", name, cr.DurationMs, cr.Error)
		}
	}

	if checks.preflight {
		run("exchange_preflight", func() (string, error) {
			if err := loadMarketContext(); err != nil {
				return "", err
			}
			return fmt.Sprintf("price=%s minQty=%s step=%s tick=%s minNotional=%s available%s=%s",
				lastPrice, rules.MinQty, rules.QtyStep, rules.PriceTick, rules.MinNotional, quoteAsset, available), nil
		})
	}
	if checks.lifecycle {
		run("order_lifecycle_place_list_cancel", func() (string, error) {
			if err := loadMarketContext(); err != nil {
				return "", err
			}
			order, err := buildCheckOrder(symbol, rules, lastPrice, factor)
			if err != nil {
				return "", err
			}
			placed, err := client.PlaceOrder(ctx, order)
			if err != nil {
				return "", err
			}
			if placed.ID == "" {
				return "", errors.New("empty order id")
			}
			placedID = placed.ID
			open, err := client.OpenOrders(ctx, symbol)
			if err != nil {
				return "", err
			}
			foundInOpen := false
			for _, o := range open {
				if o.ID == placed.ID {
					foundInOpen = true
					break
				}
			}
			status := placed.Status
			if placed.Status == core.OrderNew || placed.Status == core.OrderPartiallyFilled {
				status, err = cancelCheckOrder(ctx, client, symbol, placed.ID)
				if err != nil {
					return "", fmt.Errorf("cancel order failed: %w", err)
				}
				placedID = ""
			}
			return fmt.Sprintf("id=%s clientId=%s qty=%s price=%s status=%s foundInOpen=%t",
				placed.ID, placed.ClientID, order.Qty, order.Price, status, foundInOpen), nil
		})
	}
	if checks.markPrice {
		run("mark_price_stream", func() (string, error) {
			sctx, scancel := context.WithTimeout(ctx, time.Duration(streamWait)*time.Second)
			defer scancel()
			prices, errs := client.WatchMarkPrice(sctx, symbol)
			count := 0
			var last core.MarkPrice
			for {
				select {
				case p, ok := <-prices:
					if !ok {
						if err, ok := <-errs; ok && err != nil {
							return "", err
						}
						if count == 0 {
							return "", fmt.Errorf("no mark price within %ds", streamWait)
						}
						return fmt.Sprintf("updates=%d last=%s funding=%s", count, last.Price, last.FundingRate), nil
					}
					count++
					last = p
				case <-sctx.Done():
					if count == 0 {
						return "", fmt.Errorf("no mark price within %ds", streamWait)
					}
					return fmt.Sprintf("updates=%d last=%s funding=%s", count, last.Price, last.FundingRate), nil
				}
			}
		})
	}
	// Best-effort cleanup if the lifecycle check stopped before cancelling.
	if placedID != "" {
		cleanupCtx, cleanupCancel := context.WithTimeout(context.Background(), 10*time.Second)
		_ = client.CancelOrder(cleanupCtx, symbol, placedID)
		cleanupCancel()
	}
	r.FinishedAt = time.Now().UTC()
	printSummary(r)
	if outJSONPath != "" {
		if err := writeReport(outJSONPath, r); err != nil {
			fatal(err.Error())
		}
		fmt.Printf("report written: %s\n", outJSONPath)
	}
	if r.failed() {
		os.Exit(1)
	}
}

func parseCheckFlag(raw string) (selectedChecks, error) {
	raw = strings.ToLower(strings.TrimSpace(raw))
	if raw == "" || raw == "all" || raw == "default" {
		return selectedChecks{preflight: true, lifecycle: true, markPrice: true}, nil
	}
	var out selectedChecks
	for _, p := range strings.Split(raw, ",") {
		switch name := strings.TrimSpace(p); name {
		case "":
			continue
		case "preflight", "exchange_preflight":
			out.preflight = true
		case "lifecycle", "order_lifecycle", "order_lifecycle_place_list_cancel":
			out.lifecycle = true
		case "markprice", "mark_price", "mark_price_stream", "stream":
			out.markPrice = true
		default:
			return selectedChecks{}, fmt.Errorf("unknown check: %s", name)
		}
	}
	if !out.preflight && !out.lifecycle && !out.markPrice {
		return selectedChecks{}, errors.New("no checks selected")
	}
	return out, nil
}

func parsePriceFactor(raw string) (decimal.Decimal, error) {
	f, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid price-factor %q: %w", raw, err)
	}
	if f.Sign() <= 0 || f.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return decimal.Zero, fmt.Errorf("price-factor must be in (0, 1), got %s", f)
	}
	return f, nil
}

// buildCheckOrder prices a BUY limit below the market so it rests on the book,
// sized to the smallest quantity the rules accept.
func buildCheckOrder(symbol string, rules core.Rules, lastPrice, factor decimal.Decimal) (core.Order, error) {
	if lastPrice.Sign() <= 0 {
		return core.Order{}, errors.New("missing ticker price")
	}
	price := core.RoundDown(lastPrice.Mul(factor), rules.PriceTick)
	if price.Sign() <= 0 {
		return core.Order{}, errors.New("calculated order price <= 0")
	}
	qty := rules.MinQty
	if rules.MinNotional.Sign() > 0 {
		if byNotional := rules.MinNotional.Div(price); byNotional.GreaterThan(qty) {
			qty = byNotional
		}
	}
	qty = roundQtyUp(qty, rules.QtyStep)
	if qty.Sign() <= 0 {
		return core.Order{}, errors.New("calculated qty <= 0")
	}
	return core.NormalizeOrder(core.Order{
		Symbol:      symbol,
		Side:        core.Buy,
		Type:        core.Limit,
		TimeInForce: core.GTC,
		Price:       price,
		Qty:         qty,
	}, rules, decimal.Zero)
}

func roundQtyUp(qty, step decimal.Decimal) decimal.Decimal {
	if step.Sign() <= 0 {
		return qty
	}
	q, r := qty.QuoRem(step, 0)
	if r.Sign() > 0 {
		q = q.Add(decimal.NewFromInt(1))
	}
	return q.Mul(step)
}

// statusGone marks a check order that was filled or canceled before our
// cancel reached the exchange.
const statusGone core.OrderStatus = "GONE"

// cancelRejectedCode is returned when the order is no longer open.
const cancelRejectedCode = -2011

type orderCanceler interface {
	CancelOrder(ctx context.Context, symbol, orderID string) error
}

func cancelCheckOrder(ctx context.Context, c orderCanceler, symbol, orderID string) (core.OrderStatus, error) {
	err := c.CancelOrder(ctx, symbol, orderID)
	switch {
	case err == nil:
		return core.OrderCanceled, nil
	case binance.IsAPIErrorCode(err, cancelRejectedCode):
		return statusGone, nil
	default:
		return "", err
	}
}

func quoteAvailable(balances []core.AssetBalance, asset string) decimal.Decimal {
	for _, b := range balances {
		if b.Asset == asset {
			return b.AvailableBalance
		}
	}
	return decimal.Zero
}

func (r report) failed() bool {
	for _, c := range r.Checks {
		if c.Status == statusFail {
			return true
		}
	}
	return false
}

func printSummary(r report) {
	pass := 0
	fail := 0
	for _, c := range r.Checks {
		if c.Status == statusPass {
			pass++
		} else {
			fail++
		}
	}
	fmt.Printf("\nsummary mode=%s symbol=%s pass=%d fail=%d duration=%s\n",
		r.Mode,
		r.Symbol,
		pass,
		fail,
		r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond).String(),
	)
}

func writeReport(path string, r report) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func fatal(msg string) {
	fmt.Fprintln(os.Stderr, strings.TrimSpace(msg))
	os.Exit(1)
}
