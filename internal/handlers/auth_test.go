package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func TestAuthenticatorMiddleware(t *testing.T) {
	auth := NewAuthenticator(testSecret)
	sign := func(method jwt.SigningMethod, claims jwt.MapClaims) string {
		tok, err := jwt.NewWithClaims(method, claims).SignedString([]byte(testSecret))
		require.NoError(t, err)
		return tok
	}
	exp := time.Now().Add(time.Hour).Unix()

	tests := []struct {
		name     string
		header   string
		wantCode int
		wantID   string
		wantRole string
	}{
		{name: "subject claim", header: "Bearer " + token(t, "u1", RoleAdmin), wantCode: http.StatusOK, wantID: "u1", wantRole: RoleAdmin},
		{name: "user_id claim", header: "Bearer " + sign(jwt.SigningMethodHS256, jwt.MapClaims{"user_id": "u2", "exp": exp}), wantCode: http.StatusOK, wantID: "u2"},
		{name: "no identity", header: "Bearer " + sign(jwt.SigningMethodHS256, jwt.MapClaims{"exp": exp}), wantCode: http.StatusUnauthorized},
		{name: "other algorithm", header: "Bearer " + sign(jwt.SigningMethodHS512, jwt.MapClaims{"sub": "u3", "exp": exp}), wantCode: http.StatusUnauthorized},
		{name: "expired", header: "Bearer " + sign(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "u4", "exp": time.Now().Add(-time.Hour).Unix()}), wantCode: http.StatusUnauthorized},
		{name: "missing", header: "", wantCode: http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got Requester
			h := auth.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				got, _ = RequesterFrom(r.Context())
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)

			require.Equal(t, tt.wantCode, rr.Code)
			require.Equal(t, tt.wantID, got.ID)
			require.Equal(t, tt.wantRole, got.Role)
		})
	}
}

func TestRequireAdminWithoutRequester(t *testing.T) {
	rr := httptest.NewRecorder()
	RequireAdmin(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run")
	})).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusForbidden, rr.Code)
}
