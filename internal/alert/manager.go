package alert

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

type Notifier interface {
	Notify(ctx context.Context, msg string) error
}

// Alerter is implemented by *Manager; the trader and breaker only need this.
type Alerter interface {
	Important(event string, fields map[string]string)
}

const (
	defaultAlertQueueSize     = 128
	defaultDropReportInterval = time.Minute
	defaultSendTimeout        = 20 * time.Second
)

type ManagerOptions struct {
	QueueSize          int
	DropReportInterval time.Duration
	Logger             *zerolog.Logger
}

// Manager delivers alerts on a background goroutine so order placement never
// waits on the notifier. When the queue is full new alerts are dropped and
// counted.
type Manager struct {
	mode                 string
	notifier             Notifier
	log                  zerolog.Logger
	queue                chan queuedAlert
	stop                 chan struct{}
	done                 chan struct{}
	dropReportInterval   time.Duration
	droppedTotal         atomic.Uint64
	droppedSinceReported atomic.Uint64
	wg                   sync.WaitGroup
	mu                   sync.RWMutex
	closed               bool
}

type queuedAlert struct {
	event  string
	at     time.Time
	fields map[string]string
}

func NewManager(mode string, notifier Notifier, log zerolog.Logger) *Manager {
	return NewManagerWithOptions(mode, notifier, ManagerOptions{
		QueueSize:          defaultAlertQueueSize,
		DropReportInterval: defaultDropReportInterval,
		Logger:             &log,
	})
}

// NewManagerWithOptions returns nil when notifier is nil; a nil *Manager is a
// valid no-op Alerter.
func NewManagerWithOptions(mode string, notifier Notifier, opts ManagerOptions) *Manager {
	if notifier == nil {
		return nil
	}
	queueSize := opts.QueueSize
	if queueSize <= 0 {
		queueSize = defaultAlertQueueSize
	}
	reportInterval := opts.DropReportInterval
	if reportInterval < 0 {
		reportInterval = 0
	}
	log := zerolog.Nop()
	if opts.Logger != nil {
		log = opts.Logger.With().Str("component", "alert").Logger()
	}
	m := &Manager{
		mode:               mode,
		notifier:           notifier,
		log:                log,
		queue:              make(chan queuedAlert, queueSize),
		stop:               make(chan struct{}),
		done:               make(chan struct{}),
		dropReportInterval: reportInterval,
	}
	m.wg.Add(1)
	go m.loop()
	if m.dropReportInterval > 0 {
		m.wg.Add(1)
		go m.dropReportLoop()
	}
	go func() {
		m.wg.Wait()
		close(m.done)
	}()
	return m
}

func (m *Manager) Important(event string, fields map[string]string) {
	if m == nil || m.notifier == nil {
		return
	}
	ev := queuedAlert{
		event:  event,
		at:     time.Now().UTC(),
		fields: cloneFields(fields),
	}
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return
	}
	select {
	case m.queue <- ev:
		m.mu.RUnlock()
		return
	default:
		droppedTotal := m.droppedTotal.Add(1)
		droppedInWindow := m.droppedSinceReported.Add(1)
		m.mu.RUnlock()
		// First drop in a window is logged right away, the rest go into the summary.
		if droppedInWindow == 1 {
			m.log.Warn().
				Str("target_event", event).
				Uint64("dropped_total", droppedTotal).
				Int("queue_len", len(m.queue)).
				Int("queue_cap", cap(m.queue)).
				Msg("alert queue full, dropping")
		}
	}
}

func (m *Manager) Close(ctx context.Context) error {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	close(m.stop)
	done := m.done
	m.mu.Unlock()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) loop() {
	defer m.wg.Done()
	for {
		select {
		case ev := <-m.queue:
			m.send(ev)
		case <-m.stop:
			for {
				select {
				case ev := <-m.queue:
					m.send(ev)
				default:
					m.reportDroppedSummary()
					return
				}
			}
		}
	}
}

func (m *Manager) dropReportLoop() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.dropReportInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.reportDroppedSummary()
		case <-m.stop:
			m.reportDroppedSummary()
			return
		}
	}
}

func (m *Manager) reportDroppedSummary() {
	dropped := m.droppedSinceReported.Swap(0)
	if dropped == 0 {
		return
	}
	m.log.Warn().
		Uint64("dropped_since_last", dropped).
		Uint64("dropped_total", m.droppedTotal.Load()).
		Dur("report_interval", m.dropReportInterval).
		Int("queue_len", len(m.queue)).
		Int("queue_cap", cap(m.queue)).
		Msg("alert drop report")
}

func (m *Manager) droppedStats() (uint64, uint64) {
	if m == nil {
		return 0, 0
	}
	return m.droppedTotal.Load(), m.droppedSinceReported.Load()
}

func (m *Manager) send(ev queuedAlert) {
	msg := m.buildMessage(ev)
	ctx, cancel := context.WithTimeout(context.Background(), defaultSendTimeout)
	defer cancel()
	if err := m.notifier.Notify(ctx, msg); err != nil {
		m.log.Error().Err(err).Str("target_event", ev.event).Msg("alert notify failed")
	}
}

// buildMessage renders one notification. Order events lead with a one-line
// summary, e.g.
//
//	[futures-bot testnet] order_placed: BUY LIMIT 0.002 BTCUSDT @ 60000
func (m *Manager) buildMessage(ev queuedAlert) string {
	header := "[futures-bot " + m.mode + "] " + ev.event
	if summary := orderSummary(ev.fields); summary != "" {
		header += ": " + summary
	}
	var b strings.Builder
	b.WriteString(header)
	b.WriteString("\ntime: ")
	b.WriteString(ev.at.Format(time.RFC3339))
	for _, k := range orderedKeys(ev.fields) {
		b.WriteString("\n")
		b.WriteString(k)
		b.WriteString(": ")
		b.WriteString(ev.fields[k])
	}
	return b.String()
}

func cloneFields(src map[string]string) map[string]string {
	if len(src) == 0 {
		return nil
	}
	dst := make(map[string]string, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
