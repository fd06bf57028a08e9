package httpapi

import (
	"context"
	"strings"
	"testing"
	"time"

	"temanngopi/pos/internal/domain"
	"temanngopi/pos/internal/store/memory"
)

func newTestAuth() (*AuthManager, *memory.Store) {
	repo := memory.NewSeeded()
	return NewAuthManager("test-secret-which-is-long-enough-000", time.Hour, repo), repo
}

func TestParseTokenRoundtrip(t *testing.T) {
	auth, _ := newTestAuth()
	ctx := context.Background()

	resp, err := auth.Login(ctx, domain.LoginRequest{Email: "owner@temanngopi.com", Password: "owner123456"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	actor, err := auth.ParseToken(resp.AccessToken)
	if err != nil {
		t.Fatalf("parse token: %v", err)
	}
	if actor.ID != resp.UserID {
		t.Fatalf("token subject mismatch: %s vs %s", actor.ID, resp.UserID)
	}
	if actor.Role != domain.RoleOwner {
		t.Fatalf("expected owner role, got %s", actor.Role)
	}
}

func TestParseTokenRejectsForeignSecret(t *testing.T) {
	auth, _ := newTestAuth()
	other := NewAuthManager("a-completely-different-secret-value-1", time.Hour, nil)

	ctx := context.Background()
	resp, err := auth.Login(ctx, domain.LoginRequest{Email: "owner@temanngopi.com", Password: "owner123456"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if _, err := other.ParseToken(resp.AccessToken); err == nil {
		t.Fatalf("token signed under another secret must be rejected")
	}
}

func TestLoginUpgradesPlaintextPassword(t *testing.T) {
	auth, repo := newTestAuth()
	ctx := context.Background()

	if err := repo.CreateUser(ctx, domain.UserAccount{
		ID:       "usr-legacy",
		Email:    "legacy@temanngopi.com",
		Name:     "Legacy",
		Password: "plain-text-pw",
		Role:     domain.RoleKasir,
		Active:   true,
	}); err != nil {
		t.Fatalf("create user: %v", err)
	}

	if _, err := auth.Login(ctx, domain.LoginRequest{Email: "legacy@temanngopi.com", Password: "plain-text-pw"}); err != nil {
		t.Fatalf("legacy login: %v", err)
	}

	user, err := repo.GetUserByEmail(ctx, "legacy@temanngopi.com")
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if !strings.HasPrefix(user.Password, "$2") {
		t.Fatalf("password should be upgraded to bcrypt, got %q", user.Password)
	}

	// And the upgraded hash still verifies.
	if _, err := auth.Login(ctx, domain.LoginRequest{Email: "legacy@temanngopi.com", Password: "plain-text-pw"}); err != nil {
		t.Fatalf("login after upgrade: %v", err)
	}
}

func TestLoginRejectsInactiveAccount(t *testing.T) {
	auth, repo := newTestAuth()
	ctx := context.Background()

	if err := repo.CreateUser(ctx, domain.UserAccount{
		ID:       "usr-gone",
		Email:    "gone@temanngopi.com",
		Name:     "Gone",
		Password: "somepassword",
		Role:     domain.RoleKasir,
		Active:   false,
	}); err != nil {
		t.Fatalf("create user: %v", err)
	}

	if _, err := auth.Login(ctx, domain.LoginRequest{Email: "gone@temanngopi.com", Password: "somepassword"}); err == nil {
		t.Fatalf("inactive account must not log in")
	}
}

func TestCreateCashierValidation(t *testing.T) {
	auth, _ := newTestAuth()
	ctx := context.Background()

	cases := []struct {
		name string
		req  domain.CashierCreateRequest
	}{
		{"missing email", domain.CashierCreateRequest{Name: "Sari", Password: "rahasia1"}},
		{"bad email", domain.CashierCreateRequest{Email: "not-an-email", Name: "Sari", Password: "rahasia1"}},
		{"missing name", domain.CashierCreateRequest{Email: "sari@temanngopi.com", Password: "rahasia1"}},
		{"short password", domain.CashierCreateRequest{Email: "sari@temanngopi.com", Name: "Sari", Password: "abc"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := auth.CreateCashier(ctx, tc.req); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}

	created, err := auth.CreateCashier(ctx, domain.CashierCreateRequest{
		Email: "Sari@TemanNgopi.com", Name: "Sari", Password: "rahasia1",
	})
	if err != nil {
		t.Fatalf("create cashier: %v", err)
	}
	if created.Email != "sari@temanngopi.com" {
		t.Fatalf("email should be normalized, got %s", created.Email)
	}
	if created.Role != domain.RoleKasir {
		t.Fatalf("new accounts are cashiers, got %s", created.Role)
	}

	// Duplicate registration is rejected.
	if _, err := auth.CreateCashier(ctx, domain.CashierCreateRequest{
		Email: "sari@temanngopi.com", Name: "Sari Again", Password: "rahasia1",
	}); err == nil {
		t.Fatalf("duplicate email must be rejected")
	}

	cashiers, err := auth.ListCashiers(ctx)
	if err != nil {
		t.Fatalf("list cashiers: %v", err)
	}
	found := false
	for _, c := range cashiers {
		if c.Email == "sari@temanngopi.com" {
			found = true
		}
	}
	if !found {
		t.Fatalf("new cashier missing from listing")
	}
}
