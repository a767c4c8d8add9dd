package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var secret = []byte("middleware-secret")

func signToken(t *testing.T, key []byte, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
	require.NoError(t, err)
	return s
}

func validClaims(role string) jwt.MapClaims {
	return jwt.MapClaims{
		"sub":  "5f0a3c2e-2b7d-4f59-9a77-0d6f3f1b2c11",
		"role": role,
		"dept": "1d4c8e4a-7a61-4a5e-8f59-3c7c0d1f5e22",
		"iat":  time.Now().Unix(),
		"exp":  time.Now().Add(time.Hour).Unix(),
	}
}

func newRouter(auth *Auth, roles ...string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/protected", auth.RequireRole(roles...), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"user": UserIDFromContext(c),
			"role": c.GetString(ContextUserRole),
			"dept": c.GetString(ContextDepartmentID),
		})
	})
	return r
}

func TestRequireRole(t *testing.T) {
	auth := NewAuth(secret, false)

	tests := []struct {
		name   string
		roles  []string
		header string
		cookie string
		want   int
	}{
		{name: "missing token", want: http.StatusUnauthorized},
		{name: "malformed header", header: "Token abc", want: http.StatusUnauthorized},
		{name: "bad signature", header: "Bearer " + signToken(t, []byte("other"), validClaims("MANAGER")), want: http.StatusUnauthorized},
		{name: "expired", header: "Bearer " + signToken(t, secret, jwt.MapClaims{"sub": "u", "role": "MANAGER", "exp": time.Now().Add(-time.Minute).Unix()}), want: http.StatusUnauthorized},
		{name: "missing role claim", header: "Bearer " + signToken(t, secret, jwt.MapClaims{"sub": "u", "exp": time.Now().Add(time.Hour).Unix()}), want: http.StatusUnauthorized},
		{name: "any role via header", header: "Bearer " + signToken(t, secret, validClaims("STAFF")), want: http.StatusOK},
		{name: "any role via cookie", cookie: signToken(t, secret, validClaims("USER")), want: http.StatusOK},
		{name: "role allowed", roles: []string{"ADMIN", "MANAGER"}, header: "Bearer " + signToken(t, secret, validClaims("MANAGER")), want: http.StatusOK},
		{name: "role denied", roles: []string{"ADMIN"}, header: "Bearer " + signToken(t, secret, validClaims("LEADER")), want: http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/protected", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			if tt.cookie != "" {
				req.AddCookie(&http.Cookie{Name: accessCookie, Value: tt.cookie})
			}
			rec := httptest.NewRecorder()
			newRouter(auth, tt.roles...).ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}

func TestRequireAuth_SetsContext(t *testing.T) {
	auth := NewAuth(secret, false)
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, secret, validClaims("SUPERVISOR")))
	rec := httptest.NewRecorder()

	newRouter(auth).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{
		"user": "5f0a3c2e-2b7d-4f59-9a77-0d6f3f1b2c11",
		"role": "SUPERVISOR",
		"dept": "1d4c8e4a-7a61-4a5e-8f59-3c7c0d1f5e22"
	}`, rec.Body.String())
}

func TestParseToken_RejectsOtherAlgorithms(t *testing.T) {
	token := jwt.NewWithClaims(jwt.SigningMethodNone, validClaims("ADMIN"))
	s, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = ParseToken(s, secret)
	assert.Error(t, err)
}
