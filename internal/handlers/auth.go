package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

type contextKey string

const requesterKey contextKey = "requester"

const RoleAdmin = "admin"

type Requester struct {
	ID   string
	Role string
}

type tokenClaims struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// Authenticator validates HS256 bearer tokens issued by the accounts service.
type Authenticator struct {
	secret []byte
}

func NewAuthenticator(secret string) *Authenticator {
	return &Authenticator{secret: []byte(secret)}
}

func (a *Authenticator) parse(raw string) (Requester, bool) {
	claims := &tokenClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(_ *jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}))
	if err != nil || token == nil || !token.Valid {
		return Requester{}, false
	}

	id := claims.Subject
	if id == "" {
		id = claims.UserID
	}
	if id == "" {
		return Requester{}, false
	}
	return Requester{ID: id, Role: claims.Role}, true
}

// Middleware rejects requests without a valid bearer token.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			writeError(w, http.StatusUnauthorized, "Authorization header required")
			return
		}
		requester, ok := a.parse(strings.TrimPrefix(authHeader, "Bearer "))
		if !ok {
			writeError(w, http.StatusUnauthorized, "Invalid token")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requesterKey, requester)))
	})
}

// RequireAdmin must run after Middleware.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requester, ok := RequesterFrom(r.Context())
		if !ok || requester.Role != RoleAdmin {
			writeError(w, http.StatusForbidden, "admin role required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func RequesterFrom(ctx context.Context) (Requester, bool) {
	requester, ok := ctx.Value(requesterKey).(Requester)
	return requester, ok
}

// SignToken issues a token for the given user. Used by tests and local tooling.
func SignToken(secret, userID, role string, ttl time.Duration) (string, error) {
	now := time.Now().UTC()
	claims := tokenClaims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}
