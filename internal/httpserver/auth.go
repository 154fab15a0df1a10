package httpserver

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// BearerAuth guards routes with a static token. An empty token disables the
// check so local development needs no credentials.
func BearerAuth(getToken func() string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			expected := getToken()
			if expected == "" {
				return next(c)
			}
			if tokenOK(c.Request(), expected) {
				return next(c)
			}
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		}
	}
}

// tokenOK accepts the token via Authorization bearer, X-Auth-Token, or the
// token query parameter.
func tokenOK(r *http.Request, expected string) bool {
	if auth := r.Header.Get("Authorization"); auth != "" {
		parts := strings.SplitN(auth, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") && tokenEqual(parts[1], expected) {
			return true
		}
	}
	if tokenEqual(r.Header.Get("X-Auth-Token"), expected) {
		return true
	}
	return tokenEqual(r.URL.Query().Get("token"), expected)
}

func tokenEqual(got, expected string) bool {
	return got != "" && subtle.ConstantTimeCompare([]byte(got), []byte(expected)) == 1
}
