package middleware

import (
	"errors"
	"net/http"
	"strings"

	"kanbanflow/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// Context keys set by RequireAuth.
const (
	ContextUserID       = "userID"
	ContextUserRole     = "userRole"
	ContextDepartmentID = "departmentID"
)

const (
	accessCookie  = "access_token"
	refreshCookie = "refresh_token"
)

// Claims is the identity carried by an access token.
type Claims struct {
	UserID       string
	Role         string
	DepartmentID string
}

// ParseToken verifies an HS256 access token and extracts its claims.
func ParseToken(tokenString string, secret []byte) (*Claims, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return secret, nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}

	mapClaims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, jwt.ErrTokenInvalidClaims
	}
	sub, _ := mapClaims["sub"].(string)
	role, _ := mapClaims["role"].(string)
	dept, _ := mapClaims["dept"].(string)
	if sub == "" || role == "" {
		return nil, errors.New("token is missing subject or role")
	}
	return &Claims{UserID: sub, Role: role, DepartmentID: dept}, nil
}

// Auth validates session tokens and manages the session cookies.
type Auth struct {
	secret        []byte
	secureCookies bool
}

func NewAuth(secret []byte, secureCookies bool) *Auth {
	return &Auth{secret: secret, secureCookies: secureCookies}
}

// Secret returns the HMAC key used for access tokens.
func (a *Auth) Secret() []byte {
	return a.secret
}

// SetTokenCookies sets access_token and refresh_token as HttpOnly cookies
func (a *Auth) SetTokenCookies(c *gin.Context, accessToken, refreshToken string) {
	// Cross-origin deployments need SameSite=None, which browsers only accept with Secure.
	sameSite := http.SameSiteLaxMode
	if a.secureCookies {
		sameSite = http.SameSiteNoneMode
	}

	c.SetSameSite(sameSite)
	c.SetCookie(accessCookie, accessToken, 3600*24, "/", "", a.secureCookies, true)
	c.SetCookie(refreshCookie, refreshToken, 3600*24*7, "/", "", a.secureCookies, true)
}

// ClearTokenCookies removes access_token and refresh_token cookies
func (a *Auth) ClearTokenCookies(c *gin.Context) {
	sameSite := http.SameSiteLaxMode
	if a.secureCookies {
		sameSite = http.SameSiteNoneMode
	}

	c.SetSameSite(sameSite)
	c.SetCookie(accessCookie, "", -1, "/", "", a.secureCookies, true)
	c.SetCookie(refreshCookie, "", -1, "/", "", a.secureCookies, true)
}

// RefreshTokenFromRequest returns the refresh_token cookie, if any.
func RefreshTokenFromRequest(c *gin.Context) string {
	token, err := c.Cookie(refreshCookie)
	if err != nil {
		return ""
	}
	return token
}

// RequireAuth accepts any valid access token.
func (a *Auth) RequireAuth() gin.HandlerFunc {
	return a.RequireRole()
}

// RequireRole validates the JWT token and, when allowedRoles is non-empty, checks the
// caller's role against it.
func (a *Auth) RequireRole(allowedRoles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		// Try cookie first, fallback to Authorization header
		tokenString, cookieErr := c.Cookie(accessCookie)
		if cookieErr != nil || tokenString == "" {
			authHeader := c.GetHeader("Authorization")
			if authHeader == "" {
				c.AbortWithStatusJSON(http.StatusUnauthorized, response.Error(http.StatusUnauthorized, "Authorization is missing"))
				return
			}

			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || parts[0] != "Bearer" {
				c.AbortWithStatusJSON(http.StatusUnauthorized, response.Error(http.StatusUnauthorized, "Invalid authorization format. Expected 'Bearer <token>'"))
				return
			}
			tokenString = parts[1]
		}

		claims, err := ParseToken(tokenString, a.secret)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, response.Error(http.StatusUnauthorized, "Invalid token: "+err.Error()))
			return
		}

		if len(allowedRoles) > 0 && !roleAllowed(claims.Role, allowedRoles) {
			c.AbortWithStatusJSON(http.StatusForbidden, response.Error(http.StatusForbidden, "Access denied: insufficient permissions"))
			return
		}

		c.Set(ContextUserID, claims.UserID)
		c.Set(ContextUserRole, claims.Role)
		c.Set(ContextDepartmentID, claims.DepartmentID)

		c.Next()
	}
}

func roleAllowed(role string, allowed []string) bool {
	for _, r := range allowed {
		if role == r {
			return true
		}
	}
	return false
}

// UserIDFromContext returns the authenticated user id set by RequireAuth.
func UserIDFromContext(c *gin.Context) string {
	return c.GetString(ContextUserID)
}
