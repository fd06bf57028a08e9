package main

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"temanngopi/pos/internal/client/executor"
	"temanngopi/pos/internal/client/localstore"
	"temanngopi/pos/internal/client/netmon"
	syncer "temanngopi/pos/internal/client/sync"
	"temanngopi/pos/internal/domain"
)

// daemon serves the terminal-local API the POS front end talks to. It binds
// to localhost; there is no auth layer here, the central server enforces it.
type daemon struct {
	store       *localstore.Store
	ops         *executor.Ops
	coordinator *syncer.Coordinator
	monitor     *netmon.Monitor
	logger      *slog.Logger

	mu         sync.Mutex
	lastReport syncer.Report
}

func newDaemon(store *localstore.Store, ops *executor.Ops, coordinator *syncer.Coordinator, monitor *netmon.Monitor, logger *slog.Logger) *daemon {
	d := &daemon{
		store:       store,
		ops:         ops,
		coordinator: coordinator,
		monitor:     monitor,
		logger:      logger,
	}
	coordinator.Subscribe(func(report syncer.Report) {
		d.mu.Lock()
		d.lastReport = report
		d.mu.Unlock()
	})
	return d
}

func (d *daemon) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/status", d.handleStatus)
	mux.HandleFunc("/sync", d.handleSync)
	mux.HandleFunc("/sync/retry-failed", d.handleRetryFailed)
	mux.HandleFunc("/sync/queue", d.handleQueue)
	mux.HandleFunc("/cache/purge-synced", d.handlePurgeSynced)

	mux.HandleFunc("/products", d.handleProducts)
	mux.HandleFunc("/products/refresh", d.handleProductRefresh)
	mux.HandleFunc("/products/", d.handleProductActions)
	mux.HandleFunc("/transactions", d.handleTransactions)
	mux.HandleFunc("/open-bills", d.handleOpenBills)
	mux.HandleFunc("/open-bills/", d.handleOpenBillActions)
	mux.HandleFunc("/cashbooks", d.handleCashBooks)
	mux.HandleFunc("/cashbooks/", d.handleCashBookActions)
	mux.HandleFunc("/expenses", d.handleExpenses)

	return mux
}

func (d *daemon) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeLocalError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
		return
	}

	counts, err := d.store.QueueCounts(r.Context())
	if err != nil {
		writeLocalError(w, http.StatusInternalServerError, err)
		return
	}

	d.mu.Lock()
	last := d.lastReport
	d.mu.Unlock()

	writeLocalJSON(w, http.StatusOK, map[string]any{
		"online":   d.monitor.Online(),
		"queue":    counts,
		"lastSync": last,
		"at":       time.Now().UTC().Format(time.RFC3339),
	})
}

func (d *daemon) handleSync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeLocalError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
		return
	}

	report, err := d.coordinator.SyncAll(r.Context())
	if err != nil {
		writeLocalError(w, http.StatusInternalServerError, err)
		return
	}
	writeLocalJSON(w, http.StatusOK, report)
}

func (d *daemon) handleRetryFailed(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeLocalError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
		return
	}

	reset, err := d.coordinator.RetryFailed(r.Context())
	if err != nil {
		writeLocalError(w, http.StatusInternalServerError, err)
		return
	}
	writeLocalJSON(w, http.StatusOK, map[string]any{"reset": reset})
}

func (d *daemon) handleQueue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeLocalError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
		return
	}

	entries, err := d.store.ListQueue(r.Context(), strings.TrimSpace(r.URL.Query().Get("status")), 0)
	if err != nil {
		writeLocalError(w, http.StatusInternalServerError, err)
		return
	}
	writeLocalJSON(w, http.StatusOK, map[string]any{"queue": entries})
}

func (d *daemon) handlePurgeSynced(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeLocalError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
		return
	}

	purged, err := d.store.PurgeSynced(r.Context(), 7*24*time.Hour)
	if err != nil {
		writeLocalError(w, http.StatusInternalServerError, err)
		return
	}
	writeLocalJSON(w, http.StatusOK, map[string]any{"purged": purged})
}

func (d *daemon) handleProducts(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		products, err := d.ops.ListLocalProducts(r.Context())
		if err != nil {
			writeLocalError(w, http.StatusInternalServerError, err)
			return
		}
		writeLocalJSON(w, http.StatusOK, map[string]any{"products": products})

	case http.MethodPost:
		var req domain.ProductCreateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeLocalError(w, http.StatusBadRequest, err)
			return
		}
		outcome, err := d.ops.CreateProduct(r.Context(), req)
		if err != nil {
			writeOpError(w, err)
			return
		}
		writeOutcome(w, http.StatusCreated, outcome.Path, outcome.Value)

	default:
		writeLocalError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
	}
}

// handleProductRefresh pulls the server catalog into the local mirror.
func (d *daemon) handleProductRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeLocalError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
		return
	}
	if err := d.ops.RefreshProducts(r.Context()); err != nil {
		writeLocalError(w, http.StatusBadGateway, err)
		return
	}
	writeLocalJSON(w, http.StatusOK, map[string]any{"refreshed": true})
}

func (d *daemon) handleProductActions(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/products/")
	if id == "" || strings.Contains(id, "/") {
		writeLocalError(w, http.StatusBadRequest, errors.New("invalid product path"))
		return
	}

	switch r.Method {
	case http.MethodPatch:
		var req domain.ProductUpdateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeLocalError(w, http.StatusBadRequest, err)
			return
		}
		outcome, err := d.ops.UpdateProduct(r.Context(), id, req)
		if err != nil {
			writeOpError(w, err)
			return
		}
		writeOutcome(w, http.StatusOK, outcome.Path, outcome.Value)

	case http.MethodDelete:
		outcome, err := d.ops.DeleteProduct(r.Context(), id)
		if err != nil {
			writeOpError(w, err)
			return
		}
		writeLocalJSON(w, http.StatusOK, map[string]any{"path": outcome.Path.String(), "deleted": true})

	default:
		writeLocalError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
	}
}

func (d *daemon) handleTransactions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeLocalError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
		return
	}

	var tx domain.Transaction
	if err := json.NewDecoder(r.Body).Decode(&tx); err != nil {
		writeLocalError(w, http.StatusBadRequest, err)
		return
	}

	outcome, err := d.ops.CreateTransaction(r.Context(), tx)
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeOutcome(w, http.StatusCreated, outcome.Path, outcome.Value)
}

func (d *daemon) handleOpenBills(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeLocalError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
		return
	}

	var bill domain.OpenBill
	if err := json.NewDecoder(r.Body).Decode(&bill); err != nil {
		writeLocalError(w, http.StatusBadRequest, err)
		return
	}

	outcome, err := d.ops.CreateOpenBill(r.Context(), bill)
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeOutcome(w, http.StatusCreated, outcome.Path, outcome.Value)
}

func (d *daemon) handleOpenBillActions(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/open-bills/")
	id, ok := strings.CutSuffix(rest, "/pay")
	if !ok || id == "" {
		writeLocalError(w, http.StatusBadRequest, errors.New("invalid open bill path"))
		return
	}
	if r.Method != http.MethodPost {
		writeLocalError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
		return
	}

	var req domain.OpenBillPayRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeLocalError(w, http.StatusBadRequest, err)
		return
	}

	outcome, err := d.ops.PayOpenBill(r.Context(), id, req)
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeOutcome(w, http.StatusCreated, outcome.Path, outcome.Value)
}

func (d *daemon) handleCashBooks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeLocalError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
		return
	}

	var req domain.CashBookCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeLocalError(w, http.StatusBadRequest, err)
		return
	}

	outcome, err := d.ops.OpenCashBook(r.Context(), req)
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeOutcome(w, http.StatusCreated, outcome.Path, outcome.Value)
}

func (d *daemon) handleCashBookActions(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/cashbooks/")

	if id, ok := strings.CutSuffix(rest, "/close"); ok {
		if r.Method != http.MethodPost {
			writeLocalError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
			return
		}
		var req struct {
			Notes string `json:"notes"`
		}
		if r.ContentLength > 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeLocalError(w, http.StatusBadRequest, err)
				return
			}
		}
		outcome, err := d.ops.CloseCashBook(r.Context(), id, req.Notes)
		if err != nil {
			writeOpError(w, err)
			return
		}
		writeOutcome(w, http.StatusOK, outcome.Path, outcome.Value)
		return
	}

	if rest == "" || strings.Contains(rest, "/") {
		writeLocalError(w, http.StatusBadRequest, errors.New("invalid cash book path"))
		return
	}
	if r.Method != http.MethodPatch {
		writeLocalError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
		return
	}

	var req domain.CashBookPatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeLocalError(w, http.StatusBadRequest, err)
		return
	}
	outcome, err := d.ops.UpdateCashBookTotals(r.Context(), rest, req)
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeOutcome(w, http.StatusOK, outcome.Path, outcome.Value)
}

func (d *daemon) handleExpenses(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeLocalError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
		return
	}

	var expense domain.Expense
	if err := json.NewDecoder(r.Body).Decode(&expense); err != nil {
		writeLocalError(w, http.StatusBadRequest, err)
		return
	}

	outcome, err := d.ops.AddExpense(r.Context(), expense)
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeOutcome(w, http.StatusCreated, outcome.Path, outcome.Value)
}

func writeOutcome(w http.ResponseWriter, status int, path executor.Path, value any) {
	writeLocalJSON(w, status, map[string]any{
		"path":  path.String(),
		"value": value,
	})
}

func writeOpError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, executor.ErrInvalid):
		writeLocalError(w, http.StatusBadRequest, err)
	case errors.Is(err, localstore.ErrDuplicate):
		writeLocalError(w, http.StatusConflict, err)
	case errors.Is(err, localstore.ErrNotFound):
		writeLocalError(w, http.StatusNotFound, err)
	case errors.Is(err, localstore.ErrStorageFull):
		writeLocalError(w, http.StatusInsufficientStorage, err)
	default:
		writeLocalError(w, http.StatusBadGateway, err)
	}
}

func writeLocalError(w http.ResponseWriter, status int, err error) {
	writeLocalJSON(w, status, map[string]any{"error": err.Error()})
}

func writeLocalJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
