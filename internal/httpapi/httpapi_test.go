package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"temanngopi/pos/internal/cache"
	"temanngopi/pos/internal/domain"
	"temanngopi/pos/internal/service"
	"temanngopi/pos/internal/store/memory"
)

func newTestAPI(t *testing.T) *API {
	t.Helper()
	repo := memory.NewSeeded()
	svc := service.New(repo, cache.Noop{}, "22:00")
	auth := NewAuthManager("test-secret-which-is-long-enough-000", time.Hour, repo)
	return New(svc, auth, "*")
}

func doJSON(t *testing.T, handler http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func loginAs(t *testing.T, handler http.Handler, email, password string) string {
	t.Helper()
	rec := doJSON(t, handler, http.MethodPost, "/api/v1/auth/login", "", domain.LoginRequest{
		Email: email, Password: password,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("login %s: status %d: %s", email, rec.Code, rec.Body.String())
	}
	var resp domain.LoginResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode login response: %v", err)
	}
	if resp.AccessToken == "" {
		t.Fatalf("empty access token")
	}
	return resp.AccessToken
}

func TestLoginAndAuthorizedRequest(t *testing.T) {
	handler := newTestAPI(t).Handler()
	token := loginAs(t, handler, "owner@temanngopi.com", "owner123456")

	rec := doJSON(t, handler, http.MethodGet, "/api/v1/cashbooks", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with owner token, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestLoginInvalidCredentials(t *testing.T) {
	handler := newTestAPI(t).Handler()

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/auth/login", "", domain.LoginRequest{
		Email: "owner@temanngopi.com", Password: "wrong",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestLoginRateLimited(t *testing.T) {
	handler := newTestAPI(t).Handler()

	var last int
	for i := 0; i < 6; i++ {
		rec := doJSON(t, handler, http.MethodPost, "/api/v1/auth/login", "", domain.LoginRequest{
			Email: "owner@temanngopi.com", Password: "wrong",
		})
		last = rec.Code
	}
	if last != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after repeated attempts, got %d", last)
	}
}

func TestMissingAndBadTokens(t *testing.T) {
	handler := newTestAPI(t).Handler()

	rec := doJSON(t, handler, http.MethodGet, "/api/v1/products", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/products", "not-a-jwt", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with garbage token, got %d", rec.Code)
	}
}

func TestKasirCannotOpenCashBook(t *testing.T) {
	handler := newTestAPI(t).Handler()
	token := loginAs(t, handler, "budi@temanngopi.com", "kasir123456")

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/cashbooks", token, domain.CashBookCreateRequest{
		InitialCapital: 100000,
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for kasir on cashbooks, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestMenuIsPublic(t *testing.T) {
	handler := newTestAPI(t).Handler()

	rec := doJSON(t, handler, http.MethodGet, "/api/v1/menu", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for public menu, got %d", rec.Code)
	}
	var payload struct {
		Menu []domain.MenuSection `json:"menu"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode menu: %v", err)
	}
	if len(payload.Menu) == 0 {
		t.Fatalf("expected seeded menu sections")
	}
}

func TestCreateTransactionEndpoint(t *testing.T) {
	handler := newTestAPI(t).Handler()
	token := loginAs(t, handler, "budi@temanngopi.com", "kasir123456")

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/transactions", token, domain.Transaction{
		PaymentMethod: domain.PaymentCash,
		AmountPaid:    30000,
		Items: []domain.TransactionItem{
			{ProductID: "prod-kopi-hitam", ProductName: "Kopi Hitam", Price: 10000, Quantity: 2},
		},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	var created domain.Transaction
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode transaction: %v", err)
	}
	if created.Total != 20000 || created.Change != 10000 {
		t.Fatalf("unexpected totals: total=%d change=%d", created.Total, created.Change)
	}
}

func TestSyncEndpointStatusCodes(t *testing.T) {
	handler := newTestAPI(t).Handler()
	token := loginAs(t, handler, "budi@temanngopi.com", "kasir123456")

	tx := domain.Transaction{
		InvoiceNumber: "TN202603140001",
		CashierID:     "user-budi",
		Subtotal:      10000,
		Total:         10000,
		PaymentMethod: domain.PaymentCash,
		AmountPaid:    10000,
		Status:        domain.TxStatusCompleted,
		CreatedAt:     time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC),
		Items: []domain.TransactionItem{
			{ProductID: "prod-kopi-hitam", ProductName: "Kopi Hitam", Price: 10000, Quantity: 1, Subtotal: 10000},
		},
	}
	payload, _ := json.Marshal(tx)

	mutation := domain.SyncMutation{
		EntityType: domain.EntityTransaction,
		EntityID:   "local-tx-1",
		Action:     domain.ActionCreate,
		Payload:    payload,
	}

	// First apply lands.
	rec := doJSON(t, handler, http.MethodPost, "/api/v1/sync", token, mutation)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 on first apply, got %d: %s", rec.Code, rec.Body.String())
	}
	var result service.ReconcileResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if !result.Applied {
		t.Fatalf("expected applied=true")
	}

	// Replay of the same mutation is still 200, just not applied.
	rec = doJSON(t, handler, http.MethodPost, "/api/v1/sync", token, mutation)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 on replay, got %d", rec.Code)
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode replay result: %v", err)
	}
	if result.Applied {
		t.Fatalf("replay must report applied=false")
	}

	// Same invoice under a different id is a conflict.
	conflict := mutation
	conflict.EntityID = "local-tx-2"
	rec = doJSON(t, handler, http.MethodPost, "/api/v1/sync", token, conflict)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", rec.Code, rec.Body.String())
	}

	// An item-less transaction is an invalid payload.
	bad := tx
	bad.Items = nil
	bad.InvoiceNumber = "TN202603140002"
	badPayload, _ := json.Marshal(bad)
	rec = doJSON(t, handler, http.MethodPost, "/api/v1/sync", token, domain.SyncMutation{
		EntityType: domain.EntityTransaction,
		EntityID:   "local-tx-3",
		Action:     domain.ActionCreate,
		Payload:    badPayload,
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid payload, got %d: %s", rec.Code, rec.Body.String())
	}

	// A sale for a cashier the server has never seen cannot be applied.
	orphan := tx
	orphan.CashierID = "user-never-synced"
	orphan.InvoiceNumber = "TN202603140003"
	orphanPayload, _ := json.Marshal(orphan)
	rec = doJSON(t, handler, http.MethodPost, "/api/v1/sync", token, domain.SyncMutation{
		EntityType: domain.EntityTransaction,
		EntityID:   "local-tx-4",
		Action:     domain.ActionCreate,
		Payload:    orphanPayload,
	})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for missing reference, got %d: %s", rec.Code, rec.Body.String())
	}

	// Unknown entity types are a client bug, not retry material.
	rec = doJSON(t, handler, http.MethodPost, "/api/v1/sync", token, domain.SyncMutation{
		EntityType: "loyalty_card",
		EntityID:   "x-1",
		Action:     domain.ActionCreate,
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown entity, got %d", rec.Code)
	}
}

func TestAttachLateFlow(t *testing.T) {
	handler := newTestAPI(t).Handler()
	owner := loginAs(t, handler, "owner@temanngopi.com", "owner123456")
	kasir := loginAs(t, handler, "budi@temanngopi.com", "kasir123456")

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/cashbooks", owner, domain.CashBookCreateRequest{
		Date: "2026-03-14", InitialCapital: 100000,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("open cash book: %d: %s", rec.Code, rec.Body.String())
	}
	var book domain.CashBook
	if err := json.Unmarshal(rec.Body.Bytes(), &book); err != nil {
		t.Fatalf("decode book: %v", err)
	}

	// A sale after the 22:00 cut-off lands flagged late and unattached.
	rec = doJSON(t, handler, http.MethodPost, "/api/v1/transactions", kasir, domain.Transaction{
		PaymentMethod: domain.PaymentCash,
		AmountPaid:    10000,
		CreatedAt:     time.Date(2026, 3, 14, 23, 0, 0, 0, time.UTC),
		Items: []domain.TransactionItem{
			{ProductID: "prod-kopi-hitam", ProductName: "Kopi Hitam", Price: 10000, Quantity: 1},
		},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("late sale: %d: %s", rec.Code, rec.Body.String())
	}
	var late domain.Transaction
	if err := json.Unmarshal(rec.Body.Bytes(), &late); err != nil {
		t.Fatalf("decode late sale: %v", err)
	}
	if !late.IsLate || late.CashBookID != nil {
		t.Fatalf("sale after cut-off should be late and unattached, got late=%v book=%v", late.IsLate, late.CashBookID)
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/transactions/late", owner, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list late: %d", rec.Code)
	}

	rec = doJSON(t, handler, http.MethodPost, fmt.Sprintf("/api/v1/cashbooks/%s/attach-late", book.ID), owner, domain.AttachLateRequest{
		TransactionIDs: []string{late.ID},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("attach late: %d: %s", rec.Code, rec.Body.String())
	}
	var attachResp struct {
		Attached int `json:"attached"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &attachResp); err != nil {
		t.Fatalf("decode attach response: %v", err)
	}
	if attachResp.Attached != 1 {
		t.Fatalf("expected 1 attached, got %d", attachResp.Attached)
	}
}
