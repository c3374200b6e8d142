package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

const (
	ResultOK       = "ok"
	ResultRejected = "rejected"
	ResultError    = "error"
)

// Metrics holds the bot's Prometheus collectors on a private registry.
// A nil *Metrics records nothing.
type Metrics struct {
	registry       *prometheus.Registry
	orders         *prometheus.CounterVec
	requestLatency *prometheus.HistogramVec
	streamUpdates  prometheus.Counter
	rulesLoaded    prometheus.Gauge
}

func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	orders := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "futuresbot",
		Name:      "orders_total",
		Help:      "Orders submitted, by type, side and result.",
	}, []string{"type", "side", "result"})

	requestLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "futuresbot",
		Name:      "request_latency_seconds",
		Help:      "Latency of exchange REST calls in seconds.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"call"})

	streamUpdates := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "futuresbot",
		Name:      "mark_price_updates_total",
		Help:      "Mark price updates received from the websocket stream.",
	})

	rulesLoaded := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "futuresbot",
		Name:      "symbol_rules_loaded",
		Help:      "Number of symbols with cached trading rules.",
	})

	registry.MustRegister(orders, requestLatency, streamUpdates, rulesLoaded)
	return &Metrics{
		registry:       registry,
		orders:         orders,
		requestLatency: requestLatency,
		streamUpdates:  streamUpdates,
		rulesLoaded:    rulesLoaded,
	}
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) IncOrder(orderType, side, result string) {
	if m == nil {
		return
	}
	m.orders.WithLabelValues(orderType, side, result).Inc()
}

func (m *Metrics) ObserveRequest(call string, d time.Duration) {
	if m == nil {
		return
	}
	m.requestLatency.WithLabelValues(call).Observe(d.Seconds())
}

func (m *Metrics) IncMarkPriceUpdate() {
	if m == nil {
		return
	}
	m.streamUpdates.Inc()
}

func (m *Metrics) SetRulesLoaded(n int) {
	if m == nil {
		return
	}
	m.rulesLoaded.Set(float64(n))
}

// Serve exposes /metrics on addr until ctx is done.
func (m *Metrics) Serve(ctx context.Context, addr string, log zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	log.Debug().Str("addr", addr).Msg("metrics listener started")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
