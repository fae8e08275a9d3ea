package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/quayside/keygate/internal/config"
	"github.com/quayside/keygate/internal/core/domain"
	"github.com/quayside/keygate/internal/core/ports"
)

type contextKey string

const adminContextKey contextKey = "admin"

// authService issues and verifies the admin bearer tokens.
type authService struct {
	store  ports.AdminStore
	secret []byte
	ttl    time.Duration
}

func newAuthService(store ports.AdminStore, cfg config.AuthConfig) *authService {
	return &authService{
		store:  store,
		secret: []byte(cfg.Secret),
		ttl:    cfg.AccessTokenTTL(),
	}
}

// login verifies credentials and returns a signed token. Wrong username and
// wrong password are indistinguishable to the caller.
func (a *authService) login(ctx context.Context, username, password string) (string, time.Time, error) {
	admin, err := a.store.GetAdminByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return "", time.Time{}, fmt.Errorf("invalid credentials")
		}
		return "", time.Time{}, err
	}
	if !admin.Active {
		return "", time.Time{}, fmt.Errorf("invalid credentials")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(admin.HashedPassword), []byte(password)); err != nil {
		return "", time.Time{}, fmt.Errorf("invalid credentials")
	}

	expiresAt := time.Now().Add(a.ttl)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   admin.Username,
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	})

	signed, err := token.SignedString(a.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// verify parses a bearer token and returns the admin username.
func (a *authService) verify(tokenString string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenString, &jwt.RegisteredClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		return "", err
	}
	claims, ok := token.Claims.(*jwt.RegisteredClaims)
	if !ok || claims.Subject == "" {
		return "", fmt.Errorf("invalid token claims")
	}
	return claims.Subject, nil
}

// requireAuth gates the admin surface. The proxy surface never passes
// through here.
func (a *authService) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			writeErr(w, http.StatusUnauthorized, "missing bearer token")
			return
		}

		username, err := a.verify(strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			writeErr(w, http.StatusUnauthorized, "invalid token")
			return
		}

		ctx := context.WithValue(r.Context(), adminContextKey, username)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func adminFromContext(ctx context.Context) string {
	if username, ok := ctx.Value(adminContextKey).(string); ok {
		return username
	}
	return ""
}

// HashPassword hashes an admin password for storage.
func HashPassword(password string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}
