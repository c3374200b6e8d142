package alert

import (
	"sort"
	"strings"

	"futures-bot/internal/core"
)

type OrderEvent string

const (
	OrderPlaced   OrderEvent = "order_placed"
	OrderFailed   OrderEvent = "order_failed"
	OrderCanceled OrderEvent = "order_canceled"
)

// orderFieldOrder is the render order for order fields; anything else
// follows alphabetically.
var orderFieldOrder = []string{"symbol", "side", "type", "qty", "price", "stop_price", "order_id", "status", "error"}

// NotifyOrder sends an order event through a. A nil Alerter is a no-op.
func NotifyOrder(a Alerter, event OrderEvent, order core.Order, orderErr error) {
	if a == nil {
		return
	}
	a.Important(string(event), OrderFields(order, orderErr))
}

// OrderFields flattens the set parts of an order for a notification.
func OrderFields(order core.Order, orderErr error) map[string]string {
	fields := map[string]string{"symbol": order.Symbol}
	set := func(k, v string) {
		if v != "" {
			fields[k] = v
		}
	}
	set("side", string(order.Side))
	set("type", string(order.Type))
	set("order_id", order.ID)
	set("status", string(order.Status))
	if order.Qty.Sign() > 0 {
		fields["qty"] = order.Qty.String()
	}
	if order.Price.Sign() > 0 {
		fields["price"] = order.Price.String()
	}
	if order.StopPrice.Sign() > 0 {
		fields["stop_price"] = order.StopPrice.String()
	}
	if orderErr != nil {
		fields["error"] = orderErr.Error()
	}
	return fields
}

// orderSummary renders "BUY LIMIT 0.002 BTCUSDT @ 60000 stop 59000" from
// order fields, or "" when fields do not describe an order.
func orderSummary(fields map[string]string) string {
	if fields["symbol"] == "" || fields["side"] == "" {
		return ""
	}
	parts := []string{fields["side"]}
	if v := fields["type"]; v != "" {
		parts = append(parts, v)
	}
	if v := fields["qty"]; v != "" {
		parts = append(parts, v)
	}
	parts = append(parts, fields["symbol"])
	if v := fields["price"]; v != "" {
		parts = append(parts, "@", v)
	}
	if v := fields["stop_price"]; v != "" {
		parts = append(parts, "stop", v)
	}
	return strings.Join(parts, " ")
}

func orderedKeys(fields map[string]string) []string {
	keys := make([]string, 0, len(fields))
	seen := make(map[string]bool, len(orderFieldOrder))
	for _, k := range orderFieldOrder {
		if _, ok := fields[k]; ok {
			keys = append(keys, k)
			seen[k] = true
		}
	}
	rest := make([]string, 0, len(fields)-len(keys))
	for k := range fields {
		if !seen[k] {
			rest = append(rest, k)
		}
	}
	sort.Strings(rest)
	return append(keys, rest...)
}
