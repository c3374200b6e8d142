package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	"futures-bot/internal/core"
	"futures-bot/internal/store"
)

const (
	title      = "BINANCE FUTURES TESTNET BOT"
	boxWidth   = 38
	clearCodes = "\033[H\033[2J"
)

// Bot is the set of actions the menu can trigger.
type Bot interface {
	Market(ctx context.Context, symbol string, side core.Side, qty decimal.Decimal) (core.Order, error)
	Limit(ctx context.Context, symbol string, side core.Side, qty, price decimal.Decimal) (core.Order, error)
	StopLimit(ctx context.Context, symbol string, side core.Side, qty, stop, price decimal.Decimal) (core.Order, error)
	Balances(ctx context.Context) ([]core.AssetBalance, error)
	OpenOrders(ctx context.Context, symbol string) ([]core.Order, error)
	Cancel(ctx context.Context, symbol, orderID string) error
	History(n int) ([]store.JournalEntry, error)
	WatchPrice(ctx context.Context, symbol string, fn func(core.MarkPrice)) error
}

type Options struct {
	DefaultSymbol string
	WatchFor      time.Duration
	HistorySize   int
	ClearScreen   bool
}

type Console struct {
	bot  Bot
	in   *bufio.Reader
	out  io.Writer
	opts Options
}

func New(bot Bot, in io.Reader, out io.Writer, opts Options) *Console {
	if opts.DefaultSymbol == "" {
		opts.DefaultSymbol = "BTCUSDT"
	}
	if opts.WatchFor <= 0 {
		opts.WatchFor = 10 * time.Second
	}
	if opts.HistorySize <= 0 {
		opts.HistorySize = 20
	}
	return &Console{
		bot:  bot,
		in:   bufio.NewReader(in),
		out:  out,
		opts: opts,
	}
}

// Run shows the menu until Exit is chosen, input ends or ctx is cancelled.
func (c *Console) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		if c.opts.ClearScreen {
			fmt.Fprint(c.out, clearCodes)
		}
		c.menu()
		choice, err := c.prompt("Choose: ")
		if err != nil {
			return ignoreEOF(err)
		}
		if choice == "5" {
			return nil
		}
		if err := c.dispatch(ctx, choice); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			fmt.Fprintf(c.out, "Error: %v\n", err)
		}
		if _, err := c.prompt("\nPress Enter..."); err != nil {
			return ignoreEOF(err)
		}
	}
}

func (c *Console) dispatch(ctx context.Context, choice string) error {
	switch choice {
	case "1":
		symbol, side, qty, err := c.orderBasics()
		if err != nil {
			return err
		}
		_, err = c.bot.Market(ctx, symbol, side, qty)
		return err
	case "2":
		symbol, side, qty, err := c.orderBasics()
		if err != nil {
			return err
		}
		price, err := c.number("Price: ")
		if err != nil {
			return err
		}
		_, err = c.bot.Limit(ctx, symbol, side, qty, price)
		return err
	case "3":
		symbol, side, qty, err := c.orderBasics()
		if err != nil {
			return err
		}
		stop, err := c.number("Stop Price: ")
		if err != nil {
			return err
		}
		price, err := c.number("Limit Price: ")
		if err != nil {
			return err
		}
		_, err = c.bot.StopLimit(ctx, symbol, side, qty, stop, price)
		return err
	case "4":
		return c.showBalances(ctx)
	case "6":
		return c.showOpenOrders(ctx)
	case "7":
		symbol, err := c.symbol()
		if err != nil {
			return err
		}
		id, err := c.prompt("Order ID: ")
		if err != nil {
			return err
		}
		if err := c.bot.Cancel(ctx, symbol, id); err != nil {
			return err
		}
		fmt.Fprintf(c.out, "Canceled %s %s\n", symbol, strings.TrimSpace(id))
		return nil
	case "8":
		return c.watch(ctx)
	case "9":
		return c.showHistory()
	}
	return nil
}

func (c *Console) menu() {
	fmt.Fprintln(c.out, "╔"+strings.Repeat("═", boxWidth)+"╗")
	fmt.Fprintln(c.out, "║"+center(title, boxWidth)+"║")
	fmt.Fprintln(c.out, "╚"+strings.Repeat("═", boxWidth)+"╝")
	for _, line := range []string{
		" 1) Market Order",
		" 2) Limit Order",
		" 3) Stop-Limit Order",
		" 4) View Balance",
		" 5) Exit",
		" 6) Open Orders",
		" 7) Cancel Order",
		" 8) Watch Mark Price",
		" 9) Order History",
	} {
		fmt.Fprintln(c.out, line)
	}
}

func center(s string, width int) string {
	n := utf8.RuneCountInString(s)
	if n >= width {
		return s
	}
	left := (width - n) / 2
	return strings.Repeat(" ", left) + s + strings.Repeat(" ", width-n-left)
}

func (c *Console) orderBasics() (string, core.Side, decimal.Decimal, error) {
	symbol, err := c.symbol()
	if err != nil {
		return "", "", decimal.Zero, err
	}
	side, err := c.side()
	if err != nil {
		return "", "", decimal.Zero, err
	}
	qty, err := c.number("Qty: ")
	if err != nil {
		return "", "", decimal.Zero, err
	}
	return symbol, side, qty, nil
}

// symbol upper-cases the answer; an empty answer takes the default shown in
// the prompt.
func (c *Console) symbol() (string, error) {
	v, err := c.prompt("Symbol (" + c.opts.DefaultSymbol + "): ")
	if err != nil {
		return "", err
	}
	if v = core.NormalizeSymbol(v); v == "" {
		v = c.opts.DefaultSymbol
	}
	return v, nil
}

func (c *Console) side() (core.Side, error) {
	for {
		v, err := c.prompt("Side BUY/SELL: ")
		if err != nil {
			return "", err
		}
		if side, ok := core.ParseSide(v); ok {
			return side, nil
		}
	}
}

// number re-prompts until a positive decimal is entered.
func (c *Console) number(label string) (decimal.Decimal, error) {
	for {
		v, err := c.prompt(label)
		if err != nil {
			return decimal.Zero, err
		}
		d, err := decimal.NewFromString(v)
		if err != nil {
			fmt.Fprintln(c.out, "Invalid number")
			continue
		}
		if d.Sign() > 0 {
			return d, nil
		}
	}
}

func (c *Console) prompt(label string) (string, error) {
	fmt.Fprint(c.out, label)
	line, err := c.in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func (c *Console) showBalances(ctx context.Context) error {
	balances, err := c.bot.Balances(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintln(c.out, "\nUSDT-M FUTURES BALANCE")
	fmt.Fprintln(c.out, strings.Repeat("-", 30))
	for _, b := range balances {
		fmt.Fprintln(c.out, b.Asset, asReported(b.WalletBalance))
	}
	fmt.Fprintln(c.out)
	return nil
}

// asReported prints a value with the scale the exchange sent, so
// "10000.00000000" is not shortened to "10000".
func asReported(d decimal.Decimal) string {
	if exp := d.Exponent(); exp < 0 {
		return d.StringFixed(-exp)
	}
	return d.String()
}

func (c *Console) showOpenOrders(ctx context.Context) error {
	symbol, err := c.symbol()
	if err != nil {
		return err
	}
	orders, err := c.bot.OpenOrders(ctx, symbol)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "\nOPEN ORDERS %s\n", symbol)
	fmt.Fprintln(c.out, strings.Repeat("-", 30))
	if len(orders) == 0 {
		fmt.Fprintln(c.out, "none")
	}
	for _, o := range orders {
		fmt.Fprintln(c.out, formatOrder(o))
	}
	fmt.Fprintln(c.out)
	return nil
}

func (c *Console) watch(ctx context.Context) error {
	symbol, err := c.symbol()
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Watching %s mark price for %s\n", symbol, c.opts.WatchFor)
	watchCtx, cancel := context.WithTimeout(ctx, c.opts.WatchFor)
	defer cancel()
	return c.bot.WatchPrice(watchCtx, symbol, func(p core.MarkPrice) {
		fmt.Fprintf(c.out, "%s %s mark=%s index=%s funding=%s\n",
			p.Time.Format("15:04:05"), p.Symbol, p.Price, p.IndexPrice, p.FundingRate)
	})
}

func (c *Console) showHistory() error {
	entries, err := c.bot.History(c.opts.HistorySize)
	if err != nil {
		return err
	}
	fmt.Fprintln(c.out, "\nORDER HISTORY")
	fmt.Fprintln(c.out, strings.Repeat("-", 30))
	if len(entries) == 0 {
		fmt.Fprintln(c.out, "none")
	}
	for _, e := range entries {
		line := e.Time.Format("2006-01-02 15:04:05") + " " + string(e.Action) + " " + formatOrder(e.Order)
		if e.Error != "" {
			line += " error=" + strings.ReplaceAll(e.Error, "\n", "; ")
		}
		fmt.Fprintln(c.out, line)
	}
	fmt.Fprintln(c.out)
	return nil
}

func formatOrder(o core.Order) string {
	parts := []string{o.ID, o.Symbol, string(o.Side), string(o.Type)}
	if o.Qty.Sign() > 0 {
		qty := o.Qty.String()
		if o.Price.Sign() > 0 {
			qty += "@" + o.Price.String()
		}
		parts = append(parts, qty)
	}
	if o.StopPrice.Sign() > 0 {
		parts = append(parts, "stop="+o.StopPrice.String())
	}
	if o.Status != "" {
		parts = append(parts, string(o.Status))
	}
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, " ")
}

func ignoreEOF(err error) error {
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}
