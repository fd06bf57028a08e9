package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"temanngopi/pos/internal/domain"
	"temanngopi/pos/internal/service"
	"temanngopi/pos/internal/store"
)

type API struct {
	service       *service.Service
	auth          *AuthManager
	allowedOrigin string
	loginLimiter  *attemptLimiter
}

func New(svc *service.Service, auth *AuthManager, allowedOrigin string) *API {
	return &API{
		service:       svc,
		auth:          auth,
		allowedOrigin: allowedOrigin,
		loginLimiter:  newAttemptLimiter(5, time.Minute),
	}
}

type attemptLimiter struct {
	mu      sync.Mutex
	max     int
	window  time.Duration
	entries map[string][]time.Time
}

func newAttemptLimiter(max int, window time.Duration) *attemptLimiter {
	if max < 1 {
		max = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &attemptLimiter{max: max, window: window, entries: make(map[string][]time.Time)}
}

func (l *attemptLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	now := time.Now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	history := l.entries[key]
	kept := make([]time.Time, 0, len(history)+1)
	for _, ts := range history {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= l.max {
		l.entries[key] = kept
		return false
	}
	kept = append(kept, now)
	l.entries[key] = kept
	return true
}

func clientKey(r *http.Request) string {
	host := strings.TrimSpace(r.RemoteAddr)
	if host == "" {
		return "unknown"
	}
	if addr, err := netip.ParseAddrPort(host); err == nil {
		return addr.Addr().String()
	}
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		return host[:idx]
	}
	return host
}

func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", a.handleHealth)
	mux.HandleFunc("/api/v1/auth/login", a.handleLogin)
	mux.HandleFunc("/api/v1/menu", a.handleMenu)

	mux.HandleFunc("/api/v1/products", a.requireAuth(a.handleProducts, domain.RoleKasir, domain.RoleOwner))
	mux.HandleFunc("/api/v1/products/", a.requireAuth(a.handleProductActions, domain.RoleKasir, domain.RoleOwner))

	mux.HandleFunc("/api/v1/transactions", a.requireAuth(a.handleTransactions, domain.RoleKasir, domain.RoleOwner))
	mux.HandleFunc("/api/v1/transactions/", a.requireAuth(a.handleTransactionActions, domain.RoleKasir, domain.RoleOwner))

	mux.HandleFunc("/api/v1/open-bills", a.requireAuth(a.handleOpenBills, domain.RoleKasir, domain.RoleOwner))
	mux.HandleFunc("/api/v1/open-bills/", a.requireAuth(a.handleOpenBillActions, domain.RoleKasir, domain.RoleOwner))

	mux.HandleFunc("/api/v1/cashbooks", a.requireAuth(a.handleCashBooks, domain.RoleOwner))
	mux.HandleFunc("/api/v1/cashbooks/today", a.requireAuth(a.handleTodayCashBook, domain.RoleKasir, domain.RoleOwner))
	mux.HandleFunc("/api/v1/cashbooks/", a.requireAuth(a.handleCashBookActions, domain.RoleKasir, domain.RoleOwner))

	mux.HandleFunc("/api/v1/expenses", a.requireAuth(a.handleExpenses, domain.RoleKasir, domain.RoleOwner))
	mux.HandleFunc("/api/v1/expenses/", a.requireAuth(a.handleExpenseActions, domain.RoleOwner))

	mux.HandleFunc("/api/v1/reports/daily", a.requireAuth(a.handleDailyReport, domain.RoleOwner))
	mux.HandleFunc("/api/v1/users/cashiers", a.requireAuth(a.handleCashiers, domain.RoleOwner))

	mux.HandleFunc("/api/v1/sync", a.requireAuth(a.handleSync, domain.RoleKasir, domain.RoleOwner))

	return a.withMiddleware(mux)
}

func (a *API) requireAuth(next http.HandlerFunc, roles ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authorization := strings.TrimSpace(r.Header.Get("Authorization"))
		if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
			writeError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
			return
		}

		token := strings.TrimSpace(authorization[len("Bearer "):])
		actor, err := a.auth.ParseToken(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err)
			return
		}

		if len(roles) > 0 && !isRoleAllowed(actor.Role, roles) {
			writeError(w, http.StatusForbidden, errors.New("forbidden role"))
			return
		}

		next(w, r.WithContext(service.WithActor(r.Context(), actor)))
	}
}

func isRoleAllowed(role string, allowed []string) bool {
	for _, allow := range allowed {
		if role == allow {
			return true
		}
	}
	return false
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	if !a.loginLimiter.Allow(clientKey(r)) {
		writeError(w, http.StatusTooManyRequests, errors.New("too many login attempts"))
		return
	}

	var req domain.LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	resp, err := a.auth.Login(r.Context(), req)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleMenu serves the public menu; no auth so the shop can embed it in a
// customer-facing page.
func (a *API) handleMenu(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	sections, err := a.service.Menu(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"menu": sections})
}

func (a *API) handleProducts(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		products, err := a.service.ListProducts(r.Context())
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"products": products})

	case http.MethodPost:
		var req domain.ProductCreateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		product, err := a.service.CreateProduct(r.Context(), req)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, product)

	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleProductActions(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/v1/products/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusBadRequest, errors.New("invalid product path"))
		return
	}

	switch r.Method {
	case http.MethodGet:
		product, err := a.service.GetProduct(r.Context(), id)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, product)

	case http.MethodPatch:
		var req domain.ProductUpdateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		product, err := a.service.UpdateProduct(r.Context(), id, req)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, product)

	case http.MethodDelete:
		if err := a.service.DeleteProduct(r.Context(), id); err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"deleted": id})

	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleTransactions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		filter := domain.TransactionFilter{
			Date:  strings.TrimSpace(r.URL.Query().Get("date")),
			Limit: parsePositiveLimit(r.URL.Query().Get("limit"), 100, 1000),
		}
		if raw := strings.TrimSpace(r.URL.Query().Get("late")); raw != "" {
			late := raw == "true" || raw == "1"
			filter.Late = &late
		}
		transactions, err := a.service.ListTransactions(r.Context(), filter)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"transactions": transactions})

	case http.MethodPost:
		var tx domain.Transaction
		if err := decodeJSON(r, &tx); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		created, err := a.service.CreateTransaction(r.Context(), tx)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, created)

	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleTransactionActions(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/transactions/")

	if rest == "late" {
		if r.Method != http.MethodGet {
			writeMethodNotAllowed(w)
			return
		}
		transactions, err := a.service.ListLateTransactions(r.Context())
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"transactions": transactions})
		return
	}

	if id, ok := strings.CutSuffix(rest, "/cancel"); ok {
		if r.Method != http.MethodPost {
			writeMethodNotAllowed(w)
			return
		}
		tx, err := a.service.CancelTransaction(r.Context(), id)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, tx)
		return
	}

	if rest == "" || strings.Contains(rest, "/") {
		writeError(w, http.StatusBadRequest, errors.New("invalid transaction path"))
		return
	}
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	tx, err := a.service.GetTransaction(r.Context(), rest)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

func (a *API) handleOpenBills(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		bills, err := a.service.ListOpenBills(r.Context(), strings.TrimSpace(r.URL.Query().Get("status")))
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"openBills": bills})

	case http.MethodPost:
		var bill domain.OpenBill
		if err := decodeJSON(r, &bill); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		created, err := a.service.CreateOpenBill(r.Context(), bill)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, created)

	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleOpenBillActions(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/open-bills/")

	if id, ok := strings.CutSuffix(rest, "/pay"); ok {
		if r.Method != http.MethodPost {
			writeMethodNotAllowed(w)
			return
		}
		var req domain.OpenBillPayRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		tx, err := a.service.PayOpenBill(r.Context(), id, req.PaymentMethod, req.AmountPaid, req.Discount, req.Tax)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, tx)
		return
	}

	writeError(w, http.StatusBadRequest, errors.New("invalid open bill path"))
}

func (a *API) handleCashBooks(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		books, err := a.service.ListCashBooks(r.Context(), parsePositiveLimit(r.URL.Query().Get("limit"), 31, 366))
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"cashBooks": books})

	case http.MethodPost:
		var req domain.CashBookCreateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		book, err := a.service.OpenCashBook(r.Context(), req)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, book)

	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleTodayCashBook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	book, err := a.service.TodayCashBook(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, book)
}

func (a *API) handleCashBookActions(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/cashbooks/")

	if id, ok := strings.CutSuffix(rest, "/close"); ok {
		if r.Method != http.MethodPost {
			writeMethodNotAllowed(w)
			return
		}
		var req struct {
			Notes string `json:"notes"`
		}
		if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		book, err := a.service.CloseCashBook(r.Context(), id, req.Notes)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, book)
		return
	}

	if id, ok := strings.CutSuffix(rest, "/attach-late"); ok {
		if r.Method != http.MethodPost {
			writeMethodNotAllowed(w)
			return
		}
		var req domain.AttachLateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		attached, err := a.service.AttachLateTransactions(r.Context(), id, req.TransactionIDs)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"attached": attached})
		return
	}

	if rest == "" || strings.Contains(rest, "/") {
		writeError(w, http.StatusBadRequest, errors.New("invalid cash book path"))
		return
	}

	switch r.Method {
	case http.MethodGet:
		book, err := a.service.GetCashBook(r.Context(), rest)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, book)

	case http.MethodPatch:
		var req domain.CashBookPatchRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		book, err := a.service.PatchCashBook(r.Context(), rest, req)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, book)

	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleExpenses(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		expenses, err := a.service.ListExpenses(r.Context(), strings.TrimSpace(r.URL.Query().Get("cashBookId")))
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"expenses": expenses})

	case http.MethodPost:
		var expense domain.Expense
		if err := decodeJSON(r, &expense); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		created, err := a.service.AddExpense(r.Context(), expense)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, created)

	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleExpenseActions(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/v1/expenses/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusBadRequest, errors.New("invalid expense path"))
		return
	}
	if r.Method != http.MethodDelete {
		writeMethodNotAllowed(w)
		return
	}
	if err := a.service.DeleteExpense(r.Context(), id); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": id})
}

func (a *API) handleDailyReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	report, err := a.service.DailyReport(r.Context(), strings.TrimSpace(r.URL.Query().Get("date")))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (a *API) handleCashiers(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		cashiers, err := a.auth.ListCashiers(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"cashiers": cashiers})

	case http.MethodPost:
		var req domain.CashierCreateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		cashier, err := a.auth.CreateCashier(r.Context(), req)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, err)
			return
		}
		writeJSON(w, http.StatusCreated, cashier)

	default:
		writeMethodNotAllowed(w)
	}
}

// handleSync is the reconciliation endpoint the offline drain posts to. The
// statuses matter: 409 means the record already exists under another key and
// the client should stop resending; 422 means the payload can never be
// applied; anything else 4xx/5xx is worth retrying.
func (a *API) handleSync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	var mutation domain.SyncMutation
	if err := decodeJSON(r, &mutation); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	result, err := a.service.Reconcile(r.Context(), mutation)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrDuplicate):
			writeError(w, http.StatusConflict, err)
		case errors.Is(err, store.ErrMissingReference):
			writeError(w, http.StatusUnprocessableEntity, err)
		case errors.Is(err, store.ErrInvalid), errors.Is(err, service.ErrUnknownEntity):
			writeError(w, http.StatusBadRequest, err)
		case errors.Is(err, service.ErrForbidden):
			writeError(w, http.StatusForbidden, err)
		default:
			writeError(w, http.StatusInternalServerError, err)
		}
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrForbidden):
		writeError(w, http.StatusForbidden, err)
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, store.ErrDuplicate):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, store.ErrMissingReference):
		writeError(w, http.StatusUnprocessableEntity, err)
	case errors.Is(err, store.ErrInvalid):
		writeError(w, http.StatusBadRequest, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}

func (a *API) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Access-Control-Allow-Origin", a.allowedOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PATCH,DELETE,OPTIONS")
		w.Header().Set("Vary", "Origin")

		if (r.Method == http.MethodPost || r.Method == http.MethodPatch || r.Method == http.MethodPut) && strings.Contains(strings.ToLower(r.Header.Get("Content-Type")), "application/json") {
			r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		startedAt := time.Now()
		next.ServeHTTP(w, r)
		log.Printf("%s %s %s", r.Method, r.URL.Path, time.Since(startedAt))
	})
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func parsePositiveLimit(raw string, fallback int, max int) int {
	limit := fallback
	trimmed := strings.TrimSpace(raw)
	if trimmed != "" {
		if parsed, err := strconv.Atoi(trimmed); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if max > 0 && limit > max {
		return max
	}
	return limit
}

func writeMethodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
}

func writeError(w http.ResponseWriter, status int, err error) {
	// 5xx responses get a generic message so internals never leak; 4xx carry
	// the original error for the operator.
	msg := err.Error()
	if status >= 500 {
		log.Printf("internal error (status %d): %v", status, err)
		msg = "internal server error"
	}
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
