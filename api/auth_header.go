package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// tokenCookie carries the bearer token for browser form posts.
const tokenCookie = "portal_token"

var (
	errMissingAuthorization = errors.New("missing authorization")
	errBadAuthorization     = errors.New("bad auth header")
)

const bearerPrefix = "Bearer "

// tokenFromRequest returns the bearer token from the Authorization header,
// falling back to the portal_token cookie.
func tokenFromRequest(r *http.Request) (string, error) {
	if h := r.Header.Get(echo.HeaderAuthorization); strings.TrimSpace(h) != "" {
		return bearerTokenFromString(h)
	}
	if c, err := r.Cookie(tokenCookie); err == nil && c.Value != "" {
		if !isCompactJWT(c.Value) {
			return "", errBadAuthorization
		}
		return c.Value, nil
	}
	return "", errMissingAuthorization
}

func bearerTokenFromString(raw string) (string, error) {
	trimmed := strings.Trim(raw, " ")
	if trimmed == "" {
		return "", errMissingAuthorization
	}
	token, ok := strings.CutPrefix(trimmed, bearerPrefix)
	if !ok || token == "" {
		return "", errBadAuthorization
	}
	if !isCompactJWT(token) {
		return "", errBadAuthorization
	}
	return token, nil
}

func isCompactJWT(token string) bool {
	return strings.Count(token, ".") == 2
}
