package binance

import (
	"fmt"
	"strconv"
	"time"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/shopspring/decimal"

	"futures-bot/internal/core"
)

type symbolInfo struct {
	symbol     string
	status     string
	baseAsset  string
	quoteAsset string
	rules      core.Rules
}

// parseSymbolInfo reads the raw filter maps rather than the SDK helpers so
// that both the futures "notional" key and the spot style "minNotional" key
// are honoured.
func parseSymbolInfo(src futures.Symbol) symbolInfo {
	info := symbolInfo{
		symbol:     core.NormalizeSymbol(src.Symbol),
		status:     fmt.Sprint(src.Status),
		baseAsset:  src.BaseAsset,
		quoteAsset: src.QuoteAsset,
		rules: core.Rules{
			MinQty:      decimal.Zero,
			MaxQty:      decimal.Zero,
			MinNotional: decimal.Zero,
			PriceTick:   decimal.Zero,
			QtyStep:     decimal.Zero,
		},
	}
	for _, f := range src.Filters {
		filterType, _ := f["filterType"].(string)
		switch filterType {
		case "LOT_SIZE":
			if v, ok := filterDecimal(f, "minQty"); ok {
				info.rules.MinQty = v
			}
			if v, ok := filterDecimal(f, "maxQty"); ok {
				info.rules.MaxQty = v
			}
			if v, ok := filterDecimal(f, "stepSize"); ok {
				info.rules.QtyStep = v
			}
		case "PRICE_FILTER":
			if v, ok := filterDecimal(f, "tickSize"); ok {
				info.rules.PriceTick = v
			}
		case "MIN_NOTIONAL", "NOTIONAL":
			for _, key := range []string{"notional", "minNotional"} {
				if v, ok := filterDecimal(f, key); ok {
					// If both keys are present, keep the stricter minimum.
					if v.Cmp(info.rules.MinNotional) > 0 {
						info.rules.MinNotional = v
					}
				}
			}
		}
	}
	return info
}

func filterDecimal(f map[string]interface{}, key string) (decimal.Decimal, bool) {
	raw, ok := f[key]
	if !ok || raw == nil {
		return decimal.Zero, false
	}
	switch v := raw.(type) {
	case string:
		if v == "" {
			return decimal.Zero, false
		}
		d, err := decimal.NewFromString(v)
		if err != nil {
			return decimal.Zero, false
		}
		return d, true
	case float64:
		return decimal.NewFromFloat(v), true
	}
	return decimal.Zero, false
}

func parseDecimal(v string) decimal.Decimal {
	d, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func orderFromCreateResponse(req core.Order, resp *futures.CreateOrderResponse) core.Order {
	if resp == nil {
		return req
	}
	out := req
	out.ID = strconv.FormatInt(resp.OrderID, 10)
	if resp.ClientOrderID != "" {
		out.ClientID = resp.ClientOrderID
	}
	if resp.Symbol != "" {
		out.Symbol = resp.Symbol
	}
	if p, err := decimal.NewFromString(resp.Price); err == nil && p.Sign() > 0 {
		out.Price = p
	}
	if p, err := decimal.NewFromString(resp.StopPrice); err == nil && p.Sign() > 0 {
		out.StopPrice = p
	}
	if q, err := decimal.NewFromString(resp.OrigQuantity); err == nil && q.Sign() > 0 {
		out.Qty = q
	}
	out.ExecutedQty = parseDecimal(resp.ExecutedQuantity)
	out.Status = core.OrderStatus(resp.Status)
	if resp.UpdateTime > 0 {
		out.CreatedAt = time.UnixMilli(resp.UpdateTime).UTC()
	} else {
		out.CreatedAt = time.Now().UTC()
	}
	return out
}

func orderFromFutures(o *futures.Order) core.Order {
	out := core.Order{
		ID:          strconv.FormatInt(o.OrderID, 10),
		ClientID:    o.ClientOrderID,
		Symbol:      o.Symbol,
		Side:        core.Side(o.Side),
		Type:        core.OrderType(o.Type),
		TimeInForce: core.TimeInForce(o.TimeInForce),
		Price:       parseDecimal(o.Price),
		StopPrice:   parseDecimal(o.StopPrice),
		Qty:         parseDecimal(o.OrigQuantity),
		ExecutedQty: parseDecimal(o.ExecutedQuantity),
		Status:      core.OrderStatus(o.Status),
	}
	if o.Time > 0 {
		out.CreatedAt = time.UnixMilli(o.Time).UTC()
	}
	return out
}
