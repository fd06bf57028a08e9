package httpapi

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"temanngopi/pos/internal/domain"
	"temanngopi/pos/internal/store"
	"temanngopi/pos/internal/xid"
)

type AuthManager struct {
	secret    []byte
	tokenTTL  time.Duration
	userStore UserStore
}

type UserStore interface {
	GetUserByEmail(ctx context.Context, email string) (*domain.UserAccount, error)
	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, email string, password string) error
}

type posCustomClaims struct {
	jwtlib.RegisteredClaims
	Email string `json:"email"`
	Role  string `json:"role"`
}

func NewAuthManager(secret string, tokenTTL time.Duration, userStore UserStore) *AuthManager {
	if secret == "" {
		secret = "dev-change-me"
	}
	if tokenTTL <= 0 {
		tokenTTL = 12 * time.Hour
	}

	return &AuthManager{
		secret:    []byte(secret),
		tokenTTL:  tokenTTL,
		userStore: userStore,
	}
}

func (a *AuthManager) Login(ctx context.Context, req domain.LoginRequest) (domain.LoginResponse, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	user, err := a.userStore.GetUserByEmail(ctx, email)
	if err != nil {
		return domain.LoginResponse{}, errors.New("invalid credentials")
	}

	password := user.Password
	// Upgrade legacy plain-text passwords to bcrypt on first successful login.
	if !isPasswordHash(password) {
		if password != req.Password {
			return domain.LoginResponse{}, errors.New("invalid credentials")
		}
		if hashed, err := hashPassword(password); err == nil {
			_ = a.userStore.UpdateUserPassword(ctx, email, hashed)
		}
	} else if !verifyPassword(password, req.Password) {
		return domain.LoginResponse{}, errors.New("invalid credentials")
	}
	if !user.Active {
		return domain.LoginResponse{}, errors.New("account is inactive")
	}

	expiresAt := time.Now().UTC().Add(a.tokenTTL)
	token, err := a.sign(user, expiresAt)
	if err != nil {
		return domain.LoginResponse{}, err
	}

	return domain.LoginResponse{
		AccessToken: token,
		UserID:      user.ID,
		Name:        user.Name,
		Role:        user.Role,
		ExpiresAt:   expiresAt.Format(time.RFC3339),
	}, nil
}

func (a *AuthManager) ParseToken(tokenStr string) (domain.Actor, error) {
	claims := &posCustomClaims{}
	token, err := jwtlib.ParseWithClaims(tokenStr, claims, func(t *jwtlib.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	}, jwtlib.WithValidMethods([]string{"HS256"}))
	if err != nil || !token.Valid {
		return domain.Actor{}, errors.New("invalid or expired token")
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return domain.Actor{}, errors.New("invalid token subject")
	}
	return domain.Actor{ID: sub, Email: claims.Email, Role: claims.Role}, nil
}

func (a *AuthManager) sign(user *domain.UserAccount, expiresAt time.Time) (string, error) {
	claims := posCustomClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   user.ID,
			IssuedAt:  jwtlib.NewNumericDate(time.Now().UTC()),
			ExpiresAt: jwtlib.NewNumericDate(expiresAt),
			Issuer:    "temanngopi",
		},
		Email: user.Email,
		Role:  user.Role,
	}
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

func (a *AuthManager) CreateCashier(ctx context.Context, req domain.CashierCreateRequest) (domain.CashierUser, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" || !strings.Contains(email, "@") {
		return domain.CashierUser{}, fmt.Errorf("valid email required")
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return domain.CashierUser{}, fmt.Errorf("name required")
	}
	if len(strings.TrimSpace(req.Password)) < 6 {
		return domain.CashierUser{}, fmt.Errorf("password must be at least 6 characters")
	}

	passwordHash, err := hashPassword(req.Password)
	if err != nil {
		return domain.CashierUser{}, fmt.Errorf("failed to hash password")
	}

	now := time.Now().UTC()
	user := domain.UserAccount{
		ID:        xid.New("usr"),
		Email:     email,
		Name:      name,
		Password:  passwordHash,
		Role:      domain.RoleKasir,
		Active:    true,
		CreatedAt: now,
	}
	if err := a.userStore.CreateUser(ctx, user); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return domain.CashierUser{}, fmt.Errorf("email already registered")
		}
		return domain.CashierUser{}, err
	}

	return domain.CashierUser{
		ID:        user.ID,
		Email:     email,
		Name:      name,
		Role:      domain.RoleKasir,
		Active:    true,
		CreatedAt: now,
	}, nil
}

func (a *AuthManager) ListCashiers(ctx context.Context) ([]domain.CashierUser, error) {
	users, err := a.userStore.ListUsers(ctx)
	if err != nil {
		return nil, err
	}

	result := make([]domain.CashierUser, 0, len(users))
	for _, user := range users {
		if user.Role != domain.RoleKasir {
			continue
		}
		result = append(result, domain.CashierUser{
			ID:        user.ID,
			Email:     user.Email,
			Name:      user.Name,
			Role:      user.Role,
			Active:    user.Active,
			CreatedAt: user.CreatedAt,
		})
	}
	return result, nil
}

func verifyPassword(stored string, input string) bool {
	if stored == "" || strings.TrimSpace(input) == "" || !isPasswordHash(stored) {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(stored), []byte(input)) == nil
}

func hashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(bytes), nil
}

func isPasswordHash(value string) bool {
	return strings.HasPrefix(value, "$2a$") || strings.HasPrefix(value, "$2b$") || strings.HasPrefix(value, "$2y$")
}
