package httpapi

import (
	"context"
	"errors"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"

	"barpos/backend/internal/domain"
)

const tokenIssuer = "barpos"

// Authenticator resolves a PIN to the active staff member it belongs to.
type Authenticator interface {
	Authenticate(ctx context.Context, pin string) (domain.Staff, error)
}

type AuthManager struct {
	secret   []byte
	tokenTTL time.Duration
	staff    Authenticator
	now      func() time.Time
}

type staffClaims struct {
	jwtlib.RegisteredClaims
	Name string      `json:"name"`
	Role domain.Role `json:"role"`
}

func NewAuthManager(secret string, tokenTTL time.Duration, staff Authenticator) *AuthManager {
	if tokenTTL <= 0 {
		tokenTTL = 8 * time.Hour
	}
	return &AuthManager{
		secret:   []byte(secret),
		tokenTTL: tokenTTL,
		staff:    staff,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (a *AuthManager) Login(ctx context.Context, req domain.LoginRequest) (domain.LoginResponse, error) {
	staff, err := a.staff.Authenticate(ctx, strings.TrimSpace(req.PIN))
	if err != nil {
		return domain.LoginResponse{}, err
	}

	expiresAt := a.now().Add(a.tokenTTL)
	token, err := a.sign(staff, expiresAt)
	if err != nil {
		return domain.LoginResponse{}, err
	}

	return domain.LoginResponse{
		AccessToken: token,
		StaffID:     staff.ID,
		Name:        staff.Name,
		Role:        staff.Role,
		ExpiresAt:   expiresAt.Format(time.RFC3339),
	}, nil
}

func (a *AuthManager) ParseToken(tokenStr string) (domain.Actor, error) {
	claims := &staffClaims{}
	token, err := jwtlib.ParseWithClaims(tokenStr, claims, func(t *jwtlib.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	}, jwtlib.WithValidMethods([]string{"HS256"}), jwtlib.WithIssuer(tokenIssuer), jwtlib.WithTimeFunc(a.now))
	if err != nil || !token.Valid {
		return domain.Actor{}, errors.New("invalid or expired token")
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return domain.Actor{}, errors.New("invalid token subject")
	}
	if !claims.Role.Valid() {
		return domain.Actor{}, errors.New("invalid token role")
	}
	return domain.Actor{StaffID: sub, Name: claims.Name, Role: claims.Role}, nil
}

func (a *AuthManager) sign(staff domain.Staff, expiresAt time.Time) (string, error) {
	claims := staffClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   staff.ID,
			IssuedAt:  jwtlib.NewNumericDate(a.now()),
			ExpiresAt: jwtlib.NewNumericDate(expiresAt),
			Issuer:    tokenIssuer,
		},
		Name: staff.Name,
		Role: staff.Role,
	}
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}
