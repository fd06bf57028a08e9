// Package netmon tracks whether the central server is reachable. It is the
// daemon's substitute for a browser's online/offline events: a periodic
// health probe plus listener callbacks on every transition.
package netmon

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Probe checks connectivity; nil means online.
type Probe func(ctx context.Context) error

type Monitor struct {
	probe    Probe
	interval time.Duration
	logger   *slog.Logger

	online atomic.Bool

	mu        sync.Mutex
	listeners []func(online bool)
}

func New(probe Probe, interval time.Duration, logger *slog.Logger) *Monitor {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	m := &Monitor{
		probe:    probe,
		interval: interval,
		logger:   logger,
	}
	// Assume online until a probe says otherwise; the first failed request
	// flips the flag anyway.
	m.online.Store(true)
	return m
}

func (m *Monitor) Online() bool { return m.online.Load() }

// OnChange registers a callback invoked on every online/offline transition.
// Callbacks run on the monitor goroutine and must not block.
func (m *Monitor) OnChange(fn func(online bool)) {
	m.mu.Lock()
	m.listeners = append(m.listeners, fn)
	m.mu.Unlock()
}

// SetOnline flips the state directly, notifying listeners on transitions.
// The executor calls this when a live request fails so the UI reflects the
// outage before the next probe tick.
func (m *Monitor) SetOnline(online bool) {
	if m.online.Swap(online) == online {
		return
	}
	if online {
		m.logger.Info("connection restored")
	} else {
		m.logger.Warn("connection lost")
	}

	m.mu.Lock()
	listeners := make([]func(online bool), len(m.listeners))
	copy(listeners, m.listeners)
	m.mu.Unlock()

	for _, fn := range listeners {
		fn(online)
	}
}

// Run probes until ctx is done.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			probeCtx, cancel := context.WithTimeout(ctx, m.interval)
			err := m.probe(probeCtx)
			cancel()
			m.SetOnline(err == nil)
		}
	}
}
