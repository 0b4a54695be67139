package connectivity

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nkiryanov/blogpress/internal/logger"
)

const defaultInterval = 10 * time.Second

type Prober interface {
	Reachable(ctx context.Context) bool
}

// Monitor periodically probes backend and notifies subscribers
// when it becomes reachable again after being unreachable
type Monitor struct {
	prober   Prober
	interval time.Duration
	logger   logger.Logger

	online atomic.Bool

	mu      sync.Mutex
	subs    []chan struct{}
	stopped bool
}

func New(prober Prober, interval time.Duration, l logger.Logger) *Monitor {
	if interval == 0 {
		interval = defaultInterval
	}

	return &Monitor{
		prober:   prober,
		interval: interval,
		logger:   logger.OrNoOp(l),
	}
}

// Result of the last probe, false before the first one
func (m *Monitor) Online() bool {
	return m.online.Load()
}

// Channel gets a value on every restore. Slow subscriber misses events but never blocks monitor.
// Channel is closed when monitor stops
func (m *Monitor) Subscribe() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()

	ch := make(chan struct{}, 1)
	if m.stopped {
		close(ch)
		return ch
	}

	m.subs = append(m.subs, ch)
	return ch
}

// Probe once and notify subscribers if connectivity restored
func (m *Monitor) Check(ctx context.Context) bool {
	online := m.prober.Reachable(ctx)
	was := m.online.Swap(online)

	switch {
	case online && !was:
		m.logger.Info("Backend is reachable")
		m.notify()
	case !online && was:
		m.logger.Warn("Backend is unreachable")
	}

	return online
}

// Run probes backend every interval until ctx is done
// Returned channel is closed when monitor stops
func (m *Monitor) Run(ctx context.Context) <-chan struct{} {
	idleStopped := make(chan struct{})
	m.logger.Debug("Starting connectivity monitor", "interval", m.interval)

	go func() {
		defer close(idleStopped)
		defer m.stop()

		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				m.logger.Debug("Connectivity monitor stopped by context")
				return
			case <-ticker.C:
				m.Check(ctx)
			}
		}
	}()

	return idleStopped
}

func (m *Monitor) notify() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, ch := range m.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func (m *Monitor) stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, ch := range m.subs {
		close(ch)
	}
	m.subs = nil
	m.stopped = true
}
