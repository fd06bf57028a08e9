package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestErrorClassification(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/conflict":
			http.Error(w, `{"error":"duplicate"}`, http.StatusConflict)
		case "/api/v1/unprocessable":
			http.Error(w, `{"error":"no items"}`, http.StatusUnprocessableEntity)
		case "/api/v1/auth":
			http.Error(w, `{"error":"missing bearer token"}`, http.StatusUnauthorized)
		default:
			http.Error(w, `{"error":"boom"}`, http.StatusInternalServerError)
		}
	}))
	defer server.Close()

	client := New(server.URL, nil)
	ctx := context.Background()

	cases := []struct {
		path string
		want ErrorKind
	}{
		{"/api/v1/conflict", KindConflict},
		{"/api/v1/unprocessable", KindUnprocessable},
		{"/api/v1/auth", KindAuth},
		{"/api/v1/other", KindServer},
	}
	for _, tc := range cases {
		err := client.do(ctx, http.MethodGet, tc.path, nil, nil)
		kind, ok := KindOf(err)
		if !ok {
			t.Fatalf("%s: expected typed error, got %v", tc.path, err)
		}
		if kind != tc.want {
			t.Fatalf("%s: expected kind %d, got %d", tc.path, tc.want, kind)
		}
	}
}

func TestErrorMessageExtracted(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"invoice already exists"}`, http.StatusConflict)
	}))
	defer server.Close()

	client := New(server.URL, nil)
	err := client.do(context.Background(), http.MethodGet, "/x", nil, nil)

	var apiErr *Error
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *Error, got %v", err)
	}
	if apiErr.Message != "invoice already exists" {
		t.Fatalf("expected extracted message, got %q", apiErr.Message)
	}
	if apiErr.Status != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", apiErr.Status)
	}
}

func TestTransportErrorIsNetworkKind(t *testing.T) {
	// Point at a closed server to force a transport failure.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()

	client := New(server.URL, nil)
	err := client.do(context.Background(), http.MethodGet, "/healthz", nil, nil)
	if !IsNetwork(err) {
		t.Fatalf("expected network-kind error, got %v", err)
	}
}

func TestContextCancellationIsNotNetwork(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := New(server.URL, nil)
	err := client.do(ctx, http.MethodGet, "/healthz", nil, nil)
	if err == nil {
		t.Fatalf("expected error")
	}
	// Shutdown must not be mistaken for an outage, which would trigger the
	// offline fallback mid-teardown.
	if IsNetwork(err) {
		t.Fatalf("cancellation must stay untyped, got %v", err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestLoginStoresToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/v1/auth/login" {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"access_token":"tok-123","user_id":"user-budi","name":"Budi","role":"kasir"}`))
			return
		}
		if r.Header.Get("Authorization") != "Bearer tok-123" {
			http.Error(w, `{"error":"missing bearer token"}`, http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"products":[]}`))
	}))
	defer server.Close()

	client := New(server.URL, nil)
	resp, err := client.Login(context.Background(), "budi@temanngopi.com", "kasir123456")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if resp.UserID != "user-budi" {
		t.Fatalf("unexpected login response: %+v", resp)
	}

	// Subsequent requests carry the stored token.
	if _, err := client.ListProducts(context.Background()); err != nil {
		t.Fatalf("authorized request: %v", err)
	}
}
