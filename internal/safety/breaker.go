package safety

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"futures-bot/internal/alert"
	"futures-bot/internal/core"
	"futures-bot/internal/exchange"
)

var ErrCircuitOpen = errors.New("circuit breaker open")

type circuitState string

const (
	circuitClosed   circuitState = "closed"
	circuitOpen     circuitState = "open"
	circuitHalfOpen circuitState = "half_open"
)

const defaultCooldown = 60 * time.Second

const (
	actionPlace  = "place order"
	actionCancel = "cancel order"
)

type circuit struct {
	maxFailures int
	failures    int
	state       circuitState
	openedAt    time.Time
	openErr     error
}

// Breaker counts consecutive exchange failures per action. After maxFailures
// the circuit opens and calls are refused until the cooldown passes; the next
// call is then a half-open trial that either closes or re-opens it.
// Exchange rule rejections (min notional, precision, symbol) are user input
// errors and do not count.
type Breaker struct {
	enabled  bool
	cooldown time.Duration
	now      func() time.Time
	log      zerolog.Logger

	mu      sync.Mutex
	place   circuit
	cancel  circuit
	alerter alert.Alerter
}

func NewBreaker(enabled bool, maxFailures int, cooldown time.Duration, log zerolog.Logger) *Breaker {
	if cooldown <= 0 {
		cooldown = defaultCooldown
	}
	return &Breaker{
		enabled:  enabled,
		cooldown: cooldown,
		now:      func() time.Time { return time.Now().UTC() },
		log:      log,
		place:    circuit{maxFailures: maxFailures, state: circuitClosed},
		cancel:   circuit{maxFailures: maxFailures, state: circuitClosed},
	}
}

func (b *Breaker) SetAlerter(alerter alert.Alerter) {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.alerter = alerter
}

func (b *Breaker) AllowPlace() error {
	if b == nil {
		return nil
	}
	return b.allow(actionPlace, &b.place)
}

func (b *Breaker) AllowCancel() error {
	if b == nil {
		return nil
	}
	return b.allow(actionCancel, &b.cancel)
}

func (b *Breaker) RecordPlace(err error) error {
	if b == nil {
		return nil
	}
	return b.record(actionPlace, &b.place, err)
}

func (b *Breaker) RecordCancel(err error) error {
	if b == nil {
		return nil
	}
	return b.record(actionCancel, &b.cancel, err)
}

// CooldownRemaining reports how long the place circuit stays open.
func (b *Breaker) CooldownRemaining() time.Duration {
	if b == nil || !b.enabled {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.place.state != circuitOpen {
		return 0
	}
	elapsed := b.now().Sub(b.place.openedAt)
	if elapsed >= b.cooldown {
		return 0
	}
	return b.cooldown - elapsed
}

func (b *Breaker) allow(name string, c *circuit) error {
	if !b.enabled {
		return nil
	}
	b.mu.Lock()
	if c.maxFailures < 1 || c.state != circuitOpen {
		b.mu.Unlock()
		return nil
	}
	if b.now().Sub(c.openedAt) < b.cooldown {
		err := c.openErr
		if err == nil {
			err = fmt.Errorf("%w: %s circuit is open", ErrCircuitOpen, name)
		}
		b.mu.Unlock()
		return err
	}
	c.state = circuitHalfOpen
	c.failures = 0
	c.openErr = nil
	alerter := b.alerter
	b.mu.Unlock()

	b.log.Info().Str("action", name).Dur("cooldown", b.cooldown).Msg("circuit breaker half open")
	if alerter != nil {
		alerter.Important("circuit_breaker_half_open", map[string]string{
			"action":       name,
			"cooldown_sec": strconv.FormatInt(int64(b.cooldown/time.Second), 10),
		})
	}
	return nil
}

func (b *Breaker) record(name string, c *circuit, err error) error {
	if !b.enabled || (err != nil && !countsAsFailure(err)) {
		return nil
	}

	b.mu.Lock()
	if c.maxFailures < 1 {
		b.mu.Unlock()
		return nil
	}

	if err == nil {
		prevFailures := c.failures
		prevState := c.state
		recovered := false
		switch c.state {
		case circuitHalfOpen:
			recovered = true
			c.state = circuitClosed
			c.failures = 0
			c.openedAt = time.Time{}
		case circuitClosed:
			if c.failures > 0 {
				recovered = true
				c.failures = 0
			}
		}
		alerter := b.alerter
		b.mu.Unlock()
		if recovered {
			b.log.Info().
				Str("action", name).
				Int("previous_consecutive_failures", prevFailures).
				Str("from_state", string(prevState)).
				Msg("circuit breaker recovered")
			if alerter != nil && prevState == circuitHalfOpen {
				alerter.Important("circuit_breaker_recovered", map[string]string{
					"action":                        name,
					"previous_consecutive_failures": strconv.Itoa(prevFailures),
				})
			}
		}
		return nil
	}

	if c.state == circuitOpen {
		openErr := c.openErr
		b.mu.Unlock()
		return openErr
	}

	phase := "closed"
	failures := c.failures + 1
	if c.state == circuitHalfOpen {
		phase = "half_open"
		failures = c.maxFailures
	}
	c.failures = failures
	limit := c.maxFailures
	alerter := b.alerter
	if failures < limit {
		b.mu.Unlock()
		if failures == limit-1 {
			b.log.Warn().
				Str("action", name).
				Int("consecutive_failures", failures).
				Int("threshold", limit).
				Err(err).
				Msg("circuit breaker near trip")
		}
		return nil
	}

	c.state = circuitOpen
	c.openedAt = b.now()
	c.openErr = fmt.Errorf("%w: %s failed %d consecutive times, cooldown=%s, last error: %v", ErrCircuitOpen, name, failures, b.cooldown, err)
	openErr := c.openErr
	b.mu.Unlock()

	b.log.Error().
		Str("action", name).
		Str("phase", phase).
		Int("consecutive_failures", failures).
		Int("threshold", limit).
		Err(err).
		Msg("circuit breaker trip")
	if alerter != nil {
		alerter.Important("circuit_breaker_trip", map[string]string{
			"action":               name,
			"phase":                phase,
			"consecutive_failures": strconv.Itoa(failures),
			"threshold":            strconv.Itoa(limit),
			"last_error":           err.Error(),
		})
	}
	return openErr
}

func countsAsFailure(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrCircuitOpen),
		errors.Is(err, core.ErrInvalidOrder),
		errors.Is(err, core.ErrQtyZero),
		errors.Is(err, core.ErrBelowMinQty),
		errors.Is(err, core.ErrAboveMaxQty),
		errors.Is(err, core.ErrBelowMinNotional),
		errors.Is(err, core.ErrPrecision),
		errors.Is(err, core.ErrInvalidSymbol),
		errors.Is(err, core.ErrOrderNotFound),
		errors.Is(err, context.Canceled):
		return false
	}
	return true
}

// GuardedExecutor gates order placement and cancellation on the breaker.
// Read-only calls pass straight through.
type GuardedExecutor struct {
	exchange.Exchange
	breaker *Breaker
}

func NewGuardedExecutor(inner exchange.Exchange, breaker *Breaker) *GuardedExecutor {
	return &GuardedExecutor{
		Exchange: inner,
		breaker:  breaker,
	}
}

func (e *GuardedExecutor) PlaceOrder(ctx context.Context, order core.Order) (core.Order, error) {
	if err := e.breaker.AllowPlace(); err != nil {
		if rem := e.breaker.CooldownRemaining(); rem > 0 {
			err = fmt.Errorf("%w (retry in %s)", err, rem.Round(time.Second))
		}
		return order, err
	}
	placed, err := e.Exchange.PlaceOrder(ctx, order)
	if trip := e.breaker.RecordPlace(err); trip != nil {
		return placed, trip
	}
	return placed, err
}

func (e *GuardedExecutor) CancelOrder(ctx context.Context, symbol, orderID string) error {
	if err := e.breaker.AllowCancel(); err != nil {
		return err
	}
	err := e.Exchange.CancelOrder(ctx, symbol, orderID)
	if trip := e.breaker.RecordCancel(err); trip != nil {
		return trip
	}
	return err
}
