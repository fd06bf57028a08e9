// Package api is the cashier daemon's HTTP client for the central server.
// Its single job besides plumbing is error classification: every failure is
// a typed *Error whose Kind tells callers whether the network was unreachable
// or the server rejected the request, because those two cases drive opposite
// behavior in the offline fallback and the sync drain.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"temanngopi/pos/internal/domain"
)

type ErrorKind int

const (
	// KindNetwork: the request never produced an HTTP response. The only
	// kind that justifies falling back to the local store.
	KindNetwork ErrorKind = iota
	// KindConflict: 409, the record already exists server-side.
	KindConflict
	// KindUnprocessable: 422, the payload can never be applied.
	KindUnprocessable
	// KindAuth: 401/403.
	KindAuth
	// KindServer: any other non-2xx response.
	KindServer
)

type Error struct {
	Kind    ErrorKind
	Status  int
	Message string
}

func (e *Error) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("server error (status %d): %s", e.Status, e.Message)
	}
	return fmt.Sprintf("network error: %s", e.Message)
}

// IsNetwork reports whether err is a transport-level failure (no HTTP
// response at all).
func IsNetwork(err error) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.Kind == KindNetwork
}

func KindOf(err error) (ErrorKind, bool) {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Kind, true
	}
	return 0, false
}

type Client struct {
	baseURL string
	http    *http.Client
	logger  *slog.Logger
	token   string
}

func New(baseURL string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 15 * time.Second},
		logger:  logger,
	}
}

func (c *Client) SetToken(token string) { c.token = token }

func (c *Client) Login(ctx context.Context, email string, password string) (domain.LoginResponse, error) {
	var resp domain.LoginResponse
	err := c.do(ctx, http.MethodPost, "/api/v1/auth/login",
		domain.LoginRequest{Email: email, Password: password}, &resp)
	if err != nil {
		return domain.LoginResponse{}, err
	}
	c.token = resp.AccessToken
	return resp, nil
}

// Healthz is the connectivity probe; any valid HTTP response means online.
func (c *Client) Healthz(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/healthz", nil, nil)
}

// SubmitMutation replays one queued mutation against the reconciliation
// endpoint.
func (c *Client) SubmitMutation(ctx context.Context, mutation domain.SyncMutation) error {
	return c.do(ctx, http.MethodPost, "/api/v1/sync", mutation, nil)
}

func (c *Client) ListProducts(ctx context.Context) ([]domain.Product, error) {
	var resp struct {
		Products []domain.Product `json:"products"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/products", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Products, nil
}

func (c *Client) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (domain.Product, error) {
	var product domain.Product
	err := c.do(ctx, http.MethodPost, "/api/v1/products", req, &product)
	return product, err
}

func (c *Client) UpdateProduct(ctx context.Context, id string, req domain.ProductUpdateRequest) (domain.Product, error) {
	var product domain.Product
	err := c.do(ctx, http.MethodPatch, "/api/v1/products/"+id, req, &product)
	return product, err
}

func (c *Client) DeleteProduct(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/products/"+id, nil, nil)
}

func (c *Client) CreateTransaction(ctx context.Context, tx domain.Transaction) (domain.Transaction, error) {
	var created domain.Transaction
	err := c.do(ctx, http.MethodPost, "/api/v1/transactions", tx, &created)
	return created, err
}

func (c *Client) CreateOpenBill(ctx context.Context, bill domain.OpenBill) (domain.OpenBill, error) {
	var created domain.OpenBill
	err := c.do(ctx, http.MethodPost, "/api/v1/open-bills", bill, &created)
	return created, err
}

func (c *Client) PayOpenBill(ctx context.Context, id string, req domain.OpenBillPayRequest) (domain.Transaction, error) {
	var tx domain.Transaction
	err := c.do(ctx, http.MethodPost, "/api/v1/open-bills/"+id+"/pay", req, &tx)
	return tx, err
}

func (c *Client) OpenCashBook(ctx context.Context, req domain.CashBookCreateRequest) (domain.CashBook, error) {
	var book domain.CashBook
	err := c.do(ctx, http.MethodPost, "/api/v1/cashbooks", req, &book)
	return book, err
}

func (c *Client) PatchCashBook(ctx context.Context, id string, req domain.CashBookPatchRequest) (domain.CashBook, error) {
	var book domain.CashBook
	err := c.do(ctx, http.MethodPatch, "/api/v1/cashbooks/"+id, req, &book)
	return book, err
}

func (c *Client) CloseCashBook(ctx context.Context, id string, notes string) (domain.CashBook, error) {
	var book domain.CashBook
	err := c.do(ctx, http.MethodPost, "/api/v1/cashbooks/"+id+"/close",
		struct {
			Notes string `json:"notes"`
		}{Notes: notes}, &book)
	return book, err
}

func (c *Client) TodayCashBook(ctx context.Context) (domain.CashBook, error) {
	var book domain.CashBook
	err := c.do(ctx, http.MethodGet, "/api/v1/cashbooks/today", nil, &book)
	return book, err
}

func (c *Client) AddExpense(ctx context.Context, expense domain.Expense) (domain.Expense, error) {
	var created domain.Expense
	err := c.do(ctx, http.MethodPost, "/api/v1/expenses", expense, &created)
	return created, err
}

func (c *Client) do(ctx context.Context, method string, path string, body any, dest any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		// Context cancellation is the caller shutting down, not the shop's
		// wifi dropping; let it through untyped.
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &Error{Kind: KindNetwork, Message: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return classifyStatus(resp)
	}
	if dest == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return &Error{Kind: KindServer, Status: resp.StatusCode, Message: "malformed response: " + err.Error()}
	}
	return nil
}

func classifyStatus(resp *http.Response) *Error {
	message := readErrorMessage(resp.Body)

	kind := KindServer
	switch resp.StatusCode {
	case http.StatusConflict:
		kind = KindConflict
	case http.StatusUnprocessableEntity:
		kind = KindUnprocessable
	case http.StatusUnauthorized, http.StatusForbidden:
		kind = KindAuth
	}
	return &Error{Kind: kind, Status: resp.StatusCode, Message: message}
}

func readErrorMessage(body io.Reader) string {
	var payload struct {
		Error string `json:"error"`
	}
	raw, err := io.ReadAll(io.LimitReader(body, 4096))
	if err != nil {
		return "unreadable error body"
	}
	if err := json.Unmarshal(raw, &payload); err == nil && payload.Error != "" {
		return payload.Error
	}
	return strings.TrimSpace(string(raw))
}
