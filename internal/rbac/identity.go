package rbac

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/odyssey-erp/odyssey-procure/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-procure/internal/shared"
)

// Authenticator verifies HS256 bearer tokens and injects the caller actor.
type Authenticator struct {
	secret []byte
	logger *slog.Logger
}

// NewAuthenticator constructs an Authenticator for the shared signing secret.
func NewAuthenticator(secret string, logger *slog.Logger) *Authenticator {
	return &Authenticator{secret: []byte(secret), logger: logger}
}

// Middleware rejects requests without a valid bearer token.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := bearerToken(r)
		if raw == "" {
			httpx.RespondError(w, fmt.Errorf("missing bearer token: %w", shared.ErrUnauthorized))
			return
		}
		claims, err := a.Parse(raw)
		if err != nil {
			if a.logger != nil {
				a.logger.Warn("reject bearer token", slog.Any("error", err), slog.String("path", r.URL.Path))
			}
			httpx.RespondError(w, fmt.Errorf("invalid bearer token: %w", shared.ErrUnauthorized))
			return
		}
		ctx := shared.ContextWithActor(r.Context(), claims.Actor())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Parse validates raw and returns its claims.
func (a *Authenticator) Parse(raw string) (Claims, error) {
	var claims Claims
	token, err := jwt.ParseWithClaims(raw, &claims, func(token *jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return Claims{}, err
	}
	if !token.Valid {
		return Claims{}, errors.New("rbac: token not valid")
	}
	if claims.UserID <= 0 || claims.Role == "" {
		return Claims{}, errors.New("rbac: token missing uid or role")
	}
	return claims, nil
}

// Issue signs a token for actor valid for ttl.
func (a *Authenticator) Issue(actor shared.Actor, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID: actor.ID,
		Name:   actor.Name,
		Role:   actor.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

func bearerToken(r *http.Request) string {
	parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
