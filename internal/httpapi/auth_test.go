package httpapi

import (
	"context"
	"errors"
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"

	"barpos/backend/internal/domain"
	"barpos/backend/internal/service"
)

type staffStub struct {
	byPIN map[string]domain.Staff
}

func (s staffStub) Authenticate(_ context.Context, pin string) (domain.Staff, error) {
	staff, ok := s.byPIN[pin]
	if !ok {
		return domain.Staff{}, service.ErrInvalidCredentials
	}
	return staff, nil
}

func newStubAuth(ttl time.Duration) *AuthManager {
	return NewAuthManager(testSecret, ttl, staffStub{byPIN: map[string]domain.Staff{
		"4826": {ID: "S-CASHIER", Name: "Main Cashier", Role: domain.RoleCashier, Active: true},
	}})
}

func TestLoginIssuesTokenForStaff(t *testing.T) {
	auth := newStubAuth(time.Hour)

	resp, err := auth.Login(context.Background(), domain.LoginRequest{PIN: " 4826 "})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	actor, err := auth.ParseToken(resp.AccessToken)
	if err != nil {
		t.Fatalf("parse token: %v", err)
	}
	if actor.StaffID != "S-CASHIER" || actor.Name != "Main Cashier" || actor.Role != domain.RoleCashier {
		t.Fatalf("unexpected actor %+v", actor)
	}
}

func TestLoginWrongPINReturnsInvalidCredentials(t *testing.T) {
	auth := newStubAuth(time.Hour)

	_, err := auth.Login(context.Background(), domain.LoginRequest{PIN: "0000"})
	if !errors.Is(err, service.ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestExpiredTokenRejected(t *testing.T) {
	auth := newStubAuth(time.Minute)
	issuedAt := time.Date(2026, 3, 14, 18, 0, 0, 0, time.UTC)
	auth.now = func() time.Time { return issuedAt }

	resp, err := auth.Login(context.Background(), domain.LoginRequest{PIN: "4826"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	auth.now = func() time.Time { return issuedAt.Add(2 * time.Minute) }
	if _, err := auth.ParseToken(resp.AccessToken); err == nil {
		t.Fatal("expected expired token to be rejected")
	}
}

func TestTokenFromAnotherSecretRejected(t *testing.T) {
	auth := newStubAuth(time.Hour)
	other := NewAuthManager("another-secret-another-secret-xx", time.Hour, staffStub{})

	token, err := other.sign(domain.Staff{ID: "S-ADMIN", Name: "Super Admin", Role: domain.RoleAdmin}, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := auth.ParseToken(token); err == nil {
		t.Fatal("expected token signed with another secret to be rejected")
	}
}

func TestTokenWithForeignIssuerOrRoleRejected(t *testing.T) {
	auth := newStubAuth(time.Hour)
	now := time.Now()

	cases := map[string]staffClaims{
		"issuer": {
			RegisteredClaims: jwtlib.RegisteredClaims{Subject: "S-1", Issuer: "someone-else", ExpiresAt: jwtlib.NewNumericDate(now.Add(time.Hour))},
			Name:             "X",
			Role:             domain.RoleAdmin,
		},
		"system role": {
			RegisteredClaims: jwtlib.RegisteredClaims{Subject: "SYSTEM", Issuer: tokenIssuer, ExpiresAt: jwtlib.NewNumericDate(now.Add(time.Hour))},
			Name:             "System",
			Role:             domain.RoleSystem,
		},
		"no subject": {
			RegisteredClaims: jwtlib.RegisteredClaims{Issuer: tokenIssuer, ExpiresAt: jwtlib.NewNumericDate(now.Add(time.Hour))},
			Name:             "X",
			Role:             domain.RoleCashier,
		},
	}
	for name, claims := range cases {
		token, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString([]byte(testSecret))
		if err != nil {
			t.Fatalf("%s: sign: %v", name, err)
		}
		if _, err := auth.ParseToken(token); err == nil {
			t.Fatalf("%s: expected token to be rejected", name)
		}
	}
}
