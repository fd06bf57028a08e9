// Package sync drains the terminal's durable mutation queue to the central
// server. One drain runs at a time; listeners get an aggregate status
// (syncing, then synced or error) rather than per-entry noise.
package sync

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"temanngopi/pos/internal/client/api"
	"temanngopi/pos/internal/client/localstore"
	"temanngopi/pos/internal/client/netmon"
	"temanngopi/pos/internal/domain"
)

type Status string

const (
	StatusSyncing Status = "syncing"
	StatusSynced  Status = "synced"
	StatusError   Status = "error"
)

// Report is the outcome of one drain cycle.
type Report struct {
	Status    Status         `json:"status"`
	Synced    int            `json:"synced"`
	Failed    int            `json:"failed"`
	Remaining int            `json:"remaining"`
	Counts    map[string]int `json:"counts"`
	At        time.Time      `json:"at"`
}

// Coordinator owns the drain cycle. It is constructed once by the daemon and
// handed to whoever needs it; there is no package-level instance.
type Coordinator struct {
	store    *localstore.Store
	api      *api.Client
	monitor  *netmon.Monitor
	logger   *slog.Logger
	interval time.Duration

	// draining guards against overlapping cycles; the ticker, the online
	// transition hook and the manual trigger all funnel through SyncAll.
	mu       sync.Mutex
	draining bool

	subMu     sync.Mutex
	nextSubID int
	listeners map[int]func(Report)

	kick chan struct{}
}

func NewCoordinator(store *localstore.Store, apiClient *api.Client, monitor *netmon.Monitor, interval time.Duration, logger *slog.Logger) *Coordinator {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	c := &Coordinator{
		store:     store,
		api:       apiClient,
		monitor:   monitor,
		logger:    logger,
		interval:  interval,
		listeners: make(map[int]func(Report)),
		kick:      make(chan struct{}, 1),
	}

	// Regained connectivity is the best moment to drain.
	monitor.OnChange(func(online bool) {
		if online {
			c.Trigger()
		}
	})
	return c
}

// Subscribe registers a status listener and returns an unsubscribe func.
func (c *Coordinator) Subscribe(fn func(Report)) func() {
	c.subMu.Lock()
	c.nextSubID++
	id := c.nextSubID
	c.listeners[id] = fn
	c.subMu.Unlock()

	return func() {
		c.subMu.Lock()
		delete(c.listeners, id)
		c.subMu.Unlock()
	}
}

func (c *Coordinator) broadcast(report Report) {
	c.subMu.Lock()
	listeners := make([]func(Report), 0, len(c.listeners))
	for _, fn := range c.listeners {
		listeners = append(listeners, fn)
	}
	c.subMu.Unlock()

	for _, fn := range listeners {
		fn(report)
	}
}

// Trigger requests a drain without blocking. Coalesces with any pending
// request.
func (c *Coordinator) Trigger() {
	select {
	case c.kick <- struct{}{}:
	default:
	}
}

// Run drains on a fixed interval and on demand until ctx is done.
func (c *Coordinator) Run(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-c.kick:
		}
		if _, err := c.SyncAll(ctx); err != nil {
			c.logger.Warn("sync cycle aborted", "error", err)
		}
	}
}

// SyncAll drains the queue FIFO: every pending or failed entry still under
// the attempt budget. Per entry:
//   - 2xx or 409 from the server marks it synced (409 means the record is
//     already there, resending cannot help);
//   - 422 marks it failed; it is retried on later cycles until the budget
//     is spent, then needs an operator reset;
//   - any other failure leaves it pending for the next cycle until the
//     attempt budget is spent, then parks it failed.
//
// Only one drain runs at a time; a call while one is in flight returns
// immediately.
func (c *Coordinator) SyncAll(ctx context.Context) (Report, error) {
	c.mu.Lock()
	if c.draining {
		c.mu.Unlock()
		return Report{}, nil
	}
	c.draining = true
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.draining = false
		c.mu.Unlock()
	}()

	if !c.monitor.Online() {
		return Report{}, nil
	}

	// Listeners hear about the cycle before the queue is even read.
	c.broadcast(Report{Status: StatusSyncing, At: time.Now().UTC()})

	batch, err := c.store.PendingBatch(ctx, 0)
	if err != nil {
		return Report{}, err
	}
	if len(batch) == 0 {
		return c.finish(ctx, 0, 0, false)
	}

	c.logger.Info("sync started", "pending", len(batch))

	synced, failed := 0, 0
	hadErrors := false
	for _, entry := range batch {
		if ctx.Err() != nil {
			return Report{}, ctx.Err()
		}

		attempts, err := c.store.IncrementAttempts(ctx, entry.ID)
		if err != nil {
			return Report{}, err
		}

		submitErr := c.api.SubmitMutation(ctx, domain.SyncMutation{
			EntityType: entry.EntityType,
			EntityID:   entry.EntityID,
			Action:     entry.Action,
			Payload:    []byte(entry.Payload),
		})

		switch classify(submitErr) {
		case outcomeSynced:
			if err := c.store.MarkSynced(ctx, entry.ID); err != nil {
				return Report{}, err
			}
			if entry.Action == domain.ActionCreate {
				if err := c.store.ConfirmSynced(ctx, entry.EntityType, entry.EntityID); err != nil {
					c.logger.Warn("confirm after sync failed", "entity", entry.EntityID, "error", err)
				}
			}
			synced++

		case outcomeFatal:
			c.logger.Warn("mutation rejected",
				"entity_type", entry.EntityType, "entity_id", entry.EntityID, "error", submitErr)
			if err := c.store.MarkFailed(ctx, entry.ID, submitErr.Error()); err != nil {
				return Report{}, err
			}
			failed++
			hadErrors = true

		case outcomeRetry:
			hadErrors = true
			if api.IsNetwork(submitErr) {
				// Link dropped mid-drain. Leave the rest pending and stop.
				c.monitor.SetOnline(false)
				if err := c.store.MarkPending(ctx, entry.ID, submitErr.Error()); err != nil {
					return Report{}, err
				}
				c.logger.Info("sync interrupted, connection lost", "synced", synced)
				return c.finish(ctx, synced, failed, true)
			}
			if attempts >= domain.MaxSyncAttempts {
				if err := c.store.MarkFailed(ctx, entry.ID, submitErr.Error()); err != nil {
					return Report{}, err
				}
				failed++
			} else {
				if err := c.store.MarkPending(ctx, entry.ID, submitErr.Error()); err != nil {
					return Report{}, err
				}
			}
		}
	}

	return c.finish(ctx, synced, failed, hadErrors)
}

type outcome int

const (
	outcomeSynced outcome = iota
	outcomeFatal
	outcomeRetry
)

func classify(err error) outcome {
	if err == nil {
		return outcomeSynced
	}
	if kind, ok := api.KindOf(err); ok {
		switch kind {
		case api.KindConflict:
			return outcomeSynced
		case api.KindUnprocessable:
			return outcomeFatal
		}
	}
	return outcomeRetry
}

// finish builds and broadcasts the terminal report. The status reflects this
// cycle alone: a clean drain is synced even when older failures still sit in
// the queue, and a cycle where any upload errored is error even if every
// entry merely stayed pending.
func (c *Coordinator) finish(ctx context.Context, synced int, failed int, hadErrors bool) (Report, error) {
	counts, err := c.store.QueueCounts(ctx)
	if err != nil {
		return Report{}, err
	}

	report := Report{
		Synced:    synced,
		Failed:    failed,
		Remaining: counts[domain.QueueStatusPending],
		Counts:    counts,
		At:        time.Now().UTC(),
	}
	if hadErrors {
		report.Status = StatusError
	} else {
		report.Status = StatusSynced
	}

	if synced > 0 || failed > 0 {
		c.logger.Info("sync finished",
			"status", string(report.Status), "synced", synced, "failed", failed, "remaining", report.Remaining)
	}
	c.broadcast(report)
	return report, nil
}

// RetryFailed resets failed entries to pending with a fresh attempt budget
// and kicks a drain.
func (c *Coordinator) RetryFailed(ctx context.Context) (int, error) {
	reset, err := c.store.ResetFailed(ctx)
	if err != nil {
		return 0, err
	}
	if reset > 0 {
		c.Trigger()
	}
	return reset, nil
}
