package sync

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"temanngopi/pos/internal/client/api"
	"temanngopi/pos/internal/client/localstore"
	"temanngopi/pos/internal/client/netmon"
	"temanngopi/pos/internal/domain"
)

// syncResponder maps entity ids to the HTTP status the fake server answers
// with. Unknown ids get 200.
type syncResponder struct {
	statuses map[string]int
}

func (sr *syncResponder) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var mutation domain.SyncMutation
		if err := json.NewDecoder(r.Body).Decode(&mutation); err != nil {
			http.Error(w, `{"error":"bad payload"}`, http.StatusBadRequest)
			return
		}
		status, ok := sr.statuses[mutation.EntityID]
		if !ok {
			status = http.StatusOK
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if status == http.StatusOK {
			_ = json.NewEncoder(w).Encode(map[string]any{"applied": true})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"error": http.StatusText(status)})
	})
}

func newTestCoordinator(t *testing.T, statuses map[string]int) (*Coordinator, *localstore.Store, *netmon.Monitor, *httptest.Server) {
	t.Helper()

	store, err := localstore.Open(filepath.Join(t.TempDir(), "kasir.db"), nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	server := httptest.NewServer((&syncResponder{statuses: statuses}).handler())
	t.Cleanup(server.Close)

	client := api.New(server.URL, nil)
	monitor := netmon.New(func(context.Context) error { return nil }, time.Minute, nil)
	coordinator := NewCoordinator(store, client, monitor, time.Minute, nil)
	return coordinator, store, monitor, server
}

func enqueueSale(t *testing.T, store *localstore.Store, localID string, invoice string) {
	t.Helper()
	payload, err := json.Marshal(domain.Transaction{
		ID:            localID,
		InvoiceNumber: invoice,
		CashierID:     "user-budi",
		Total:         10000,
		PaymentMethod: domain.PaymentCash,
		AmountPaid:    10000,
		Status:        domain.TxStatusCompleted,
		CreatedAt:     time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC),
		Items: []domain.TransactionItem{
			{ProductID: "prod-kopi-hitam", ProductName: "Kopi Hitam", Price: 10000, Quantity: 1, Subtotal: 10000},
		},
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := store.Apply(context.Background(), domain.SyncMutation{
		EntityType: domain.EntityTransaction,
		EntityID:   localID,
		Action:     domain.ActionCreate,
		Payload:    payload,
	}, true); err != nil {
		t.Fatalf("apply %s: %v", localID, err)
	}
}

func TestSyncAllClassification(t *testing.T) {
	coordinator, store, _, _ := newTestCoordinator(t, map[string]int{
		"local-ok":       http.StatusOK,
		"local-conflict": http.StatusConflict,
		"local-bad":      http.StatusUnprocessableEntity,
	})
	ctx := context.Background()

	enqueueSale(t, store, "local-ok", "TN202603140001")
	enqueueSale(t, store, "local-conflict", "TN202603140002")
	enqueueSale(t, store, "local-bad", "TN202603140003")

	report, err := coordinator.SyncAll(ctx)
	if err != nil {
		t.Fatalf("sync all: %v", err)
	}
	// 200 and 409 both count as synced; 422 is terminal.
	if report.Synced != 2 || report.Failed != 1 {
		t.Fatalf("unexpected report: %+v", report)
	}
	if report.Status != StatusError {
		t.Fatalf("a failed entry should surface as error status, got %s", report.Status)
	}
	if report.Remaining != 0 {
		t.Fatalf("nothing should remain pending, got %d", report.Remaining)
	}

	// The accepted record is confirmed with its server id.
	id, err := store.Get(ctx, domain.EntityTransaction, "local-ok", nil)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !id.Synced() {
		t.Fatalf("accepted record should be confirmed")
	}

	failed, err := store.ListQueue(ctx, domain.QueueStatusFailed, 0)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(failed) != 1 || failed[0].EntityID != "local-bad" {
		t.Fatalf("expected local-bad parked failed, got %+v", failed)
	}
}

func TestSyncAllRetryBudget(t *testing.T) {
	coordinator, store, _, _ := newTestCoordinator(t, map[string]int{
		"local-flaky": http.StatusInternalServerError,
	})
	ctx := context.Background()

	enqueueSale(t, store, "local-flaky", "TN202603140001")

	// The first two cycles leave the entry pending with a burned attempt.
	for i := 0; i < domain.MaxSyncAttempts-1; i++ {
		report, err := coordinator.SyncAll(ctx)
		if err != nil {
			t.Fatalf("cycle %d: %v", i, err)
		}
		if report.Failed != 0 {
			t.Fatalf("cycle %d should not fail the entry yet: %+v", i, report)
		}
		// The entry stayed pending, but the cycle still saw an error.
		if report.Status != StatusError {
			t.Fatalf("cycle %d with an errored upload must report error, got %s", i, report.Status)
		}
	}

	// The final attempt exhausts the budget.
	report, err := coordinator.SyncAll(ctx)
	if err != nil {
		t.Fatalf("final cycle: %v", err)
	}
	if report.Failed != 1 || report.Status != StatusError {
		t.Fatalf("expected exhausted entry to fail, got %+v", report)
	}

	// Spent entries are no longer eligible for the drain.
	batch, err := store.PendingBatch(ctx, 0)
	if err != nil {
		t.Fatalf("pending batch: %v", err)
	}
	if len(batch) != 0 {
		t.Fatalf("failed entry must not be re-drained, got %d", len(batch))
	}
}

func TestSyncAllRetriesFailedEntriesUnderBudget(t *testing.T) {
	coordinator, store, _, _ := newTestCoordinator(t, map[string]int{
		"local-bad": http.StatusUnprocessableEntity,
	})
	ctx := context.Background()

	enqueueSale(t, store, "local-bad", "TN202603140001")

	// A rejected entry keeps being offered to the server while attempts
	// remain, then stays parked once the budget is spent.
	for i := 0; i < domain.MaxSyncAttempts; i++ {
		report, err := coordinator.SyncAll(ctx)
		if err != nil {
			t.Fatalf("cycle %d: %v", i, err)
		}
		if report.Failed != 1 || report.Status != StatusError {
			t.Fatalf("cycle %d should fail the entry: %+v", i, report)
		}
	}

	batch, err := store.PendingBatch(ctx, 0)
	if err != nil {
		t.Fatalf("pending batch: %v", err)
	}
	if len(batch) != 0 {
		t.Fatalf("spent entry must not be re-drained, got %d", len(batch))
	}

	failed, err := store.ListQueue(ctx, domain.QueueStatusFailed, 0)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(failed) != 1 || failed[0].Attempts != domain.MaxSyncAttempts {
		t.Fatalf("expected entry parked with spent budget, got %+v", failed)
	}
}

func TestCleanCycleAfterOldFailureReportsSynced(t *testing.T) {
	coordinator, store, _, _ := newTestCoordinator(t, map[string]int{
		"local-bad": http.StatusUnprocessableEntity,
	})
	ctx := context.Background()

	// Park one entry failed with a spent budget.
	enqueueSale(t, store, "local-bad", "TN202603140001")
	for i := 0; i < domain.MaxSyncAttempts; i++ {
		if _, err := coordinator.SyncAll(ctx); err != nil {
			t.Fatalf("park cycle %d: %v", i, err)
		}
	}

	// A later clean drain reflects this cycle, not the old wreckage.
	enqueueSale(t, store, "local-ok", "TN202603140002")
	report, err := coordinator.SyncAll(ctx)
	if err != nil {
		t.Fatalf("sync all: %v", err)
	}
	if report.Synced != 1 || report.Status != StatusSynced {
		t.Fatalf("clean cycle should report synced, got %+v", report)
	}
}

func TestSyncAllSkipsWhileOffline(t *testing.T) {
	coordinator, store, monitor, _ := newTestCoordinator(t, nil)
	ctx := context.Background()

	enqueueSale(t, store, "local-tx-1", "TN202603140001")
	monitor.SetOnline(false)

	report, err := coordinator.SyncAll(ctx)
	if err != nil {
		t.Fatalf("sync all: %v", err)
	}
	if report.Synced != 0 {
		t.Fatalf("offline drain must not upload anything: %+v", report)
	}

	batch, err := store.PendingBatch(ctx, 0)
	if err != nil {
		t.Fatalf("pending batch: %v", err)
	}
	if len(batch) != 1 || batch[0].Attempts != 0 {
		t.Fatalf("offline drain must not burn attempts, got %+v", batch)
	}
}

func TestSyncAllStopsOnConnectionLoss(t *testing.T) {
	coordinator, store, monitor, server := newTestCoordinator(t, nil)
	ctx := context.Background()

	enqueueSale(t, store, "local-tx-1", "TN202603140001")
	enqueueSale(t, store, "local-tx-2", "TN202603140002")

	// Kill the server so the first upload hits a transport error.
	server.Close()

	report, err := coordinator.SyncAll(ctx)
	if err != nil {
		t.Fatalf("sync all: %v", err)
	}
	if report.Synced != 0 {
		t.Fatalf("nothing should sync against a dead server: %+v", report)
	}
	if monitor.Online() {
		t.Fatalf("transport failure should flip the monitor offline")
	}

	// Both entries survive as pending; only the first burned an attempt.
	batch, err := store.PendingBatch(ctx, 0)
	if err != nil {
		t.Fatalf("pending batch: %v", err)
	}
	if len(batch) != 2 {
		t.Fatalf("expected both entries pending, got %d", len(batch))
	}
	if batch[0].Attempts != 1 || batch[1].Attempts != 0 {
		t.Fatalf("only the attempted entry should burn budget: %+v", batch)
	}
}

func TestRetryFailedResetsAndTriggers(t *testing.T) {
	coordinator, store, _, _ := newTestCoordinator(t, map[string]int{
		"local-bad": http.StatusUnprocessableEntity,
	})
	ctx := context.Background()

	enqueueSale(t, store, "local-bad", "TN202603140001")
	if _, err := coordinator.SyncAll(ctx); err != nil {
		t.Fatalf("sync all: %v", err)
	}

	reset, err := coordinator.RetryFailed(ctx)
	if err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if reset != 1 {
		t.Fatalf("expected 1 reset, got %d", reset)
	}

	batch, err := store.PendingBatch(ctx, 0)
	if err != nil {
		t.Fatalf("pending batch: %v", err)
	}
	if len(batch) != 1 || batch[0].Attempts != 0 {
		t.Fatalf("reset entry should be pending again with a fresh budget: %+v", batch)
	}

	// The reset kicked a drain request.
	select {
	case <-coordinator.kick:
	default:
		t.Fatalf("RetryFailed should trigger a drain")
	}
}

func TestListenersGetAggregateStatus(t *testing.T) {
	coordinator, store, _, _ := newTestCoordinator(t, nil)
	ctx := context.Background()

	var statuses []Status
	unsubscribe := coordinator.Subscribe(func(report Report) {
		statuses = append(statuses, report.Status)
	})
	defer unsubscribe()

	enqueueSale(t, store, "local-tx-1", "TN202603140001")
	if _, err := coordinator.SyncAll(ctx); err != nil {
		t.Fatalf("sync all: %v", err)
	}

	if len(statuses) != 2 || statuses[0] != StatusSyncing || statuses[1] != StatusSynced {
		t.Fatalf("expected syncing then synced, got %v", statuses)
	}
}

func TestEmptyQueueCycleStillBroadcasts(t *testing.T) {
	coordinator, _, _, _ := newTestCoordinator(t, nil)

	var statuses []Status
	unsubscribe := coordinator.Subscribe(func(report Report) {
		statuses = append(statuses, report.Status)
	})
	defer unsubscribe()

	// Nothing queued; listeners still hear the cycle start and finish.
	report, err := coordinator.SyncAll(context.Background())
	if err != nil {
		t.Fatalf("sync all: %v", err)
	}
	if report.Status != StatusSynced || report.Synced != 0 {
		t.Fatalf("empty cycle should finish clean, got %+v", report)
	}
	if len(statuses) != 2 || statuses[0] != StatusSyncing || statuses[1] != StatusSynced {
		t.Fatalf("expected syncing then synced, got %v", statuses)
	}
}
