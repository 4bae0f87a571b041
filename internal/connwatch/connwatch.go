// Package connwatch monitors the external services Majordomo depends on
// (the model server, IMAP, Home Assistant, the MQTT broker). Each
// watcher probes its service with exponential backoff at startup and
// then polls on a fixed interval, reporting transitions to the log and
// the event bus.
//
// This is distinct from httpkit's transport-level retry, which covers
// sub-second dial errors; connwatch covers outages that last minutes.
package connwatch

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/nugget/majordomo/internal/events"
)

// ProbeFunc checks whether a service is reachable. Return nil if healthy.
type ProbeFunc func(ctx context.Context) error

// Backoff controls probe timing. Zero fields take the defaults from
// [DefaultBackoff].
type Backoff struct {
	Initial    time.Duration // first retry delay
	Max        time.Duration // ceiling for retry growth
	Multiplier float64
	Retries    int           // startup attempts before settling into polling
	Poll       time.Duration // background check interval
	Timeout    time.Duration // per-probe deadline
}

// DefaultBackoff retries at 2s, 4s, 8s ... capped at 60s for ten
// attempts, then polls every minute.
func DefaultBackoff() Backoff {
	return Backoff{
		Initial:    2 * time.Second,
		Max:        60 * time.Second,
		Multiplier: 2,
		Retries:    10,
		Poll:       60 * time.Second,
		Timeout:    10 * time.Second,
	}
}

func (b Backoff) withDefaults() Backoff {
	d := DefaultBackoff()
	if b.Initial <= 0 {
		b.Initial = d.Initial
	}
	if b.Max <= 0 {
		b.Max = d.Max
	}
	if b.Multiplier <= 1 {
		b.Multiplier = d.Multiplier
	}
	if b.Retries <= 0 {
		b.Retries = d.Retries
	}
	if b.Poll <= 0 {
		b.Poll = d.Poll
	}
	if b.Timeout <= 0 {
		b.Timeout = d.Timeout
	}
	return b
}

// Status is the health of one service, shaped for the health endpoint.
type Status struct {
	Name      string    `json:"name"`
	Ready     bool      `json:"ready"`
	LastCheck time.Time `json:"last_check,omitzero"`
	LastError string    `json:"last_error,omitempty"`
}

// Watcher monitors a single service.
type Watcher struct {
	name    string
	probe   ProbeFunc
	backoff Backoff
	logger  *slog.Logger
	bus     *events.Bus

	cancel context.CancelFunc
	done   chan struct{}

	mu     sync.Mutex
	status Status
}

// Status returns the latest probe result.
func (w *Watcher) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status
}

// Stop cancels the watcher and waits for it to exit.
func (w *Watcher) Stop() {
	w.cancel()
	<-w.done
}

// check probes once and records the result. It reports whether the
// ready state changed.
func (w *Watcher) check(ctx context.Context) (ready, changed bool, err error) {
	pctx, cancel := context.WithTimeout(ctx, w.backoff.Timeout)
	err = w.probe(pctx)
	cancel()

	w.mu.Lock()
	defer w.mu.Unlock()
	was := w.status.Ready
	w.status.Ready = err == nil
	w.status.LastCheck = time.Now()
	w.status.LastError = ""
	if err != nil {
		w.status.LastError = err.Error()
	}
	return w.status.Ready, was != w.status.Ready, err
}

func (w *Watcher) announce(ready bool, err error) {
	if ready {
		w.logger.Info("service connected", "service", w.name)
		w.bus.Emit(events.SourceConnwatch, events.KindServiceReady, map[string]any{"service": w.name})
		return
	}
	w.logger.Warn("service became unreachable", "service", w.name, "error", err)
	w.bus.Emit(events.SourceConnwatch, events.KindServiceDown, map[string]any{
		"service": w.name,
		"error":   err.Error(),
	})
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.done)

	// Startup: retry with growing delay until the first success.
	delay := w.backoff.Initial
	for attempt := 1; attempt <= w.backoff.Retries; attempt++ {
		ready, _, err := w.check(ctx)
		if ready {
			w.announce(true, nil)
			break
		}
		if attempt == w.backoff.Retries {
			w.logger.Warn("startup probes exhausted, polling in background",
				"service", w.name, "attempts", attempt, "error", err)
			break
		}
		w.logger.Debug("startup probe failed", "service", w.name, "attempt", attempt, "next_delay", delay, "error", err)
		if !sleepCtx(ctx, delay) {
			return
		}
		delay = min(time.Duration(float64(delay)*w.backoff.Multiplier), w.backoff.Max)
	}

	ticker := time.NewTicker(w.backoff.Poll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if ready, changed, err := w.check(ctx); changed {
				w.announce(ready, err)
			}
		}
	}
}

// sleepCtx sleeps for d or until ctx is cancelled. Returns false if cancelled.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// Manager owns a set of watchers.
type Manager struct {
	logger *slog.Logger
	bus    *events.Bus

	mu       sync.RWMutex
	watchers map[string]*Watcher
}

// NewManager creates a Manager. bus may be nil.
func NewManager(logger *slog.Logger, bus *events.Bus) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{logger: logger, bus: bus, watchers: make(map[string]*Watcher)}
}

// Watch starts monitoring a service until ctx is cancelled or Stop is
// called. Watching a name twice replaces the earlier watcher.
func (m *Manager) Watch(ctx context.Context, name string, probe ProbeFunc, b Backoff) *Watcher {
	wctx, cancel := context.WithCancel(ctx)
	w := &Watcher{
		name:    name,
		probe:   probe,
		backoff: b.withDefaults(),
		logger:  m.logger,
		bus:     m.bus,
		cancel:  cancel,
		done:    make(chan struct{}),
		status:  Status{Name: name},
	}

	m.mu.Lock()
	old := m.watchers[name]
	m.watchers[name] = w
	m.mu.Unlock()
	if old != nil {
		old.Stop()
	}

	go w.run(wctx)
	return w
}

// Status returns every service's health, sorted by name.
func (m *Manager) Status() []Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Status, 0, len(m.watchers))
	for _, w := range m.watchers {
		out = append(out, w.Status())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Stop shuts down all watchers.
func (m *Manager) Stop() {
	m.mu.Lock()
	ws := make([]*Watcher, 0, len(m.watchers))
	for _, w := range m.watchers {
		ws = append(ws, w)
	}
	m.watchers = make(map[string]*Watcher)
	m.mu.Unlock()

	for _, w := range ws {
		w.Stop()
	}
}
