package runtime

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/mohammad-safakhou/marketbrain/config"
)

// LoadJWTSecret resolves the shared JWT secret from config.
func LoadJWTSecret(cfg *config.Config) ([]byte, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	s, err := cfg.JWTSecret()
	if err != nil {
		return nil, err
	}
	return []byte(s), nil
}

// SignJWT issues a signed token for subject scoped to tenantID. An empty
// tenantID makes the subject act as its own tenant.
func SignJWT(subject, tenantID string, secret []byte, ttl time.Duration) (string, error) {
	claims := jwt.MapClaims{
		"sub": subject,
		"exp": time.Now().Add(ttl).Unix(),
	}
	if tenantID != "" {
		claims["tenant_id"] = tenantID
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}

// EchoAuthMiddleware validates HS256 tokens from the Authorization header or
// the auth cookie and binds the caller's tenant to the request.
func EchoAuthMiddleware(secret []byte) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			tok := extractToken(c)
			if tok == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing token")
			}
			parsed, err := jwt.Parse(tok,
				func(t *jwt.Token) (interface{}, error) { return secret, nil },
				jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			)
			if err != nil || !parsed.Valid {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}
			claims, ok := parsed.Claims.(jwt.MapClaims)
			if !ok {
				return echo.NewHTTPError(http.StatusUnauthorized, "unauthorized")
			}
			sub, _ := claims["sub"].(string)
			tenant, _ := claims["tenant_id"].(string)
			if strings.TrimSpace(tenant) == "" {
				tenant = sub
			}
			if strings.TrimSpace(tenant) == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "token carries no tenant")
			}
			ctx := ContextWithSubject(c.Request().Context(), sub)
			ctx = ContextWithTenant(ctx, tenant)
			c.Set("user_id", sub)
			c.Set("tenant_id", tenant)
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}

func extractToken(c echo.Context) string {
	if h := c.Request().Header.Get("Authorization"); len(h) > 7 && h[:7] == "Bearer " {
		return h[7:]
	}
	if ck, err := c.Cookie("auth"); err == nil {
		return ck.Value
	}
	return ""
}

type subjectKey struct{}

type tenantKey struct{}

// ContextWithSubject stores the token subject on ctx.
func ContextWithSubject(ctx context.Context, subject string) context.Context {
	return context.WithValue(ctx, subjectKey{}, subject)
}

// SubjectFromContext returns the JWT subject if stored in context via middleware.
func SubjectFromContext(ctx context.Context) (string, bool) {
	return stringValue(ctx, subjectKey{})
}

// ContextWithTenant stores the caller's tenant on ctx.
func ContextWithTenant(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, tenantKey{}, tenantID)
}

// TenantFromContext returns the tenant bound by EchoAuthMiddleware.
func TenantFromContext(ctx context.Context) (string, bool) {
	return stringValue(ctx, tenantKey{})
}

func stringValue(ctx context.Context, key interface{}) (string, bool) {
	if ctx == nil {
		return "", false
	}
	if s, ok := ctx.Value(key).(string); ok && s != "" {
		return s, true
	}
	return "", false
}
