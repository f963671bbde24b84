package api

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v5"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/time/rate"
)

// requestID echoes the caller's X-Request-Id or assigns a fresh one.
func requestID(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c *echo.Context) error {
		id := c.Request().Header.Get(headerRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		c.Response().Header().Set(headerRequestID, id)
		return next(c)
	}
}

// rateLimit applies one token bucket to every request.
func rateLimit(perSecond float64, burst int) echo.MiddlewareFunc {
	if burst <= 0 {
		burst = max(1, int(perSecond))
	}
	limiter := rate.NewLimiter(rate.Limit(perSecond), burst)
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			if !limiter.Allow() {
				return writeError(c, http.StatusTooManyRequests, "rate_limit_error", "too many requests")
			}
			return next(c)
		}
	}
}

// requireAdmin checks the bearer token against a bcrypt hash. An empty hash
// leaves the route open.
func requireAdmin(hash string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		if hash == "" {
			return next
		}
		return func(c *echo.Context) error {
			scheme, token, ok := strings.Cut(c.Request().Header.Get("Authorization"), " ")
			if !ok || !strings.EqualFold(scheme, "bearer") || token == "" {
				return writeError(c, http.StatusUnauthorized, "authentication_error", "missing bearer token")
			}
			if bcrypt.CompareHashAndPassword([]byte(hash), []byte(token)) != nil {
				return writeError(c, http.StatusUnauthorized, "authentication_error", "invalid token")
			}
			return next(c)
		}
	}
}

// HashToken returns the bcrypt hash to configure as the admin token hash.
func HashToken(token string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
