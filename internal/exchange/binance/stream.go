package binance

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"futures-bot/internal/core"
)

const markPriceReadTimeout = 30 * time.Second

func (c *Client) markPriceURL(symbol string) (string, error) {
	if c.wsBaseURL == "" {
		return "", errors.New("ws base url required")
	}
	symbol = strings.ToLower(core.NormalizeSymbol(symbol))
	if symbol == "" {
		return "", errors.New("symbol is required")
	}
	return c.wsBaseURL + "/" + symbol + "@markPrice@1s", nil
}

// WatchMarkPrice streams one-second mark price updates until ctx ends or the
// connection fails. Both channels are closed when the stream stops.
func (c *Client) WatchMarkPrice(ctx context.Context, symbol string) (<-chan core.MarkPrice, <-chan error) {
	prices := make(chan core.MarkPrice)
	errCh := make(chan error, 1)

	endpoint, err := c.markPriceURL(symbol)
	if err != nil {
		errCh <- err
		close(errCh)
		close(prices)
		return prices, errCh
	}

	go func() {
		defer close(errCh)
		defer close(prices)

		conn, _, err := websocket.DefaultDialer.DialContext(ctx, endpoint, nil)
		if err != nil {
			errCh <- err
			return
		}
		defer conn.Close()
		c.log.Debug().Str("endpoint", endpoint).Msg("mark price stream connected")

		stop := make(chan struct{})
		defer close(stop)
		go func() {
			select {
			case <-ctx.Done():
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(time.Second))
				_ = conn.Close()
			case <-stop:
			}
		}()
		conn.SetPingHandler(func(data string) error {
			_ = conn.SetReadDeadline(time.Now().Add(markPriceReadTimeout))
			return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(5*time.Second))
		})

		for {
			_ = conn.SetReadDeadline(time.Now().Add(markPriceReadTimeout))
			_, data, err := conn.ReadMessage()
			if err != nil {
				if ctx.Err() == nil {
					errCh <- err
				}
				return
			}
			update, ok := parseMarkPrice(data)
			if !ok {
				continue
			}
			select {
			case prices <- update:
			case <-ctx.Done():
				return
			}
		}
	}()
	return prices, errCh
}

func parseMarkPrice(data []byte) (core.MarkPrice, bool) {
	// The payload carries both "p" (mark) and "P" (settle); the SDK event
	// declares each key so neither shadows the other.
	var msg futures.WsMarkPriceEvent
	if err := json.Unmarshal(data, &msg); err != nil {
		return core.MarkPrice{}, false
	}
	if msg.Event != "markPriceUpdate" {
		return core.MarkPrice{}, false
	}
	price, err := decimal.NewFromString(msg.MarkPrice)
	if err != nil || price.Sign() <= 0 {
		return core.MarkPrice{}, false
	}
	out := core.MarkPrice{
		Symbol:      msg.Symbol,
		Price:       price,
		IndexPrice:  parseDecimal(msg.IndexPrice),
		SettlePrice: parseDecimal(msg.EstimatedSettlePrice),
		FundingRate: parseDecimal(msg.FundingRate),
	}
	if msg.Time > 0 {
		out.Time = time.UnixMilli(msg.Time).UTC()
	}
	if msg.NextFundingTime > 0 {
		out.NextFunding = time.UnixMilli(msg.NextFundingTime).UTC()
	}
	return out, true
}
