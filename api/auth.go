package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/golang-jwt/jwt/v4"

	"github.com/bcgov/CRP-GSS-Project-Management/config"
)

const (
	defaultJWKSCacheTTL = 15 * time.Minute
	jwksRefreshInterval = time.Hour

	// DefaultEditor is recorded when an unauthenticated request names no editor.
	DefaultEditor = "Portal User"
	editorHeader  = "X-Editor"
	editorField   = "editor"
)

// NoAuth trusts the editor named by the X-Editor header or the editor form
// field.
type NoAuth struct{}

func (NoAuth) EditorFromRequest(r *http.Request) (string, error) {
	if v := strings.TrimSpace(r.Header.Get(editorHeader)); v != "" {
		return v, nil
	}
	if ct := r.Header.Get("Content-Type"); strings.HasPrefix(ct, "application/x-www-form-urlencoded") ||
		strings.HasPrefix(ct, "multipart/form-data") {
		if v := strings.TrimSpace(r.FormValue(editorField)); v != "" {
			return v, nil
		}
	}
	return DefaultEditor, nil
}

// Auth validates JWTs and derives the editor from their claims.
type Auth struct {
	JWKS     *keyfunc.JWKS
	Audience string
	Issuer   string
	Secret   []byte

	parser      *jwt.Parser
	keyCache    sync.Map
	keyCacheTTL time.Duration
}

type cachedKey struct {
	key       any
	expiresAt time.Time
}

// NewAuth builds the authenticator for the configured mode. In jwks mode the
// key set is fetched from the Auth0 domain and refreshed in the background.
func NewAuth(cfg config.Auth) (Authenticator, error) {
	switch strings.ToLower(cfg.Mode) {
	case "", config.AuthNone:
		return NoAuth{}, nil
	case config.AuthHS256:
		if cfg.SharedSecret == "" {
			return nil, errors.New("AUTH_SHARED_SECRET must be set when AUTH_MODE=hs256")
		}
		return NewSharedSecretAuth([]byte(cfg.SharedSecret), cfg.Audience, ""), nil
	case config.AuthJWKS:
		if cfg.Domain == "" {
			return nil, errors.New("AUTH0_DOMAIN must be set when AUTH_MODE=jwks")
		}
		jwks, err := keyfunc.Get("https://"+cfg.Domain+"/.well-known/jwks.json", keyfunc.Options{
			RefreshInterval:   jwksRefreshInterval,
			RefreshUnknownKID: true,
		})
		if err != nil {
			return nil, fmt.Errorf("load jwks: %w", err)
		}
		return NewJWKSAuth(jwks, cfg.Audience, "https://"+cfg.Domain+"/"), nil
	default:
		return nil, fmt.Errorf("unsupported AUTH_MODE %q", cfg.Mode)
	}
}

// NewSharedSecretAuth validates HS256 tokens signed with secret.
func NewSharedSecretAuth(secret []byte, audience, issuer string) *Auth {
	return &Auth{
		Secret:   secret,
		Audience: audience,
		Issuer:   issuer,
		parser:   jwt.NewParser(jwt.WithValidMethods([]string{"HS256"})),
	}
}

// NewJWKSAuth validates RS256 tokens against a remote key set.
func NewJWKSAuth(jwks *keyfunc.JWKS, audience, issuer string) *Auth {
	return &Auth{
		JWKS:        jwks,
		Audience:    audience,
		Issuer:      issuer,
		parser:      jwt.NewParser(jwt.WithValidMethods([]string{"RS256"})),
		keyCacheTTL: defaultJWKSCacheTTL,
	}
}

// Close stops the background JWKS refresh.
func (a *Auth) Close() {
	if a.JWKS != nil {
		a.JWKS.EndBackground()
	}
}

// EditorFromRequest validates the request token and returns the editor name.
func (a *Auth) EditorFromRequest(r *http.Request) (string, error) {
	token, err := tokenFromRequest(r)
	if err != nil {
		return "", err
	}
	return a.EditorFromToken(token)
}

// EditorFromToken validates a compact JWT. The editor is the first of the
// name, email and sub claims that is set.
func (a *Auth) EditorFromToken(tokenStr string) (string, error) {
	if tokenStr == "" {
		return "", errBadAuthorization
	}
	parsed, err := a.parser.Parse(tokenStr, a.keyFor)
	if err != nil {
		return "", err
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return "", errors.New("invalid claims")
	}

	now := time.Now().Add(time.Minute).Unix()
	if !claims.VerifyExpiresAt(now, true) {
		return "", errors.New("token expired")
	}
	if !claims.VerifyNotBefore(now, false) {
		return "", errors.New("token not valid yet")
	}
	if !claims.VerifyIssuedAt(now, false) {
		return "", errors.New("token used before issued")
	}
	if a.Audience != "" && !claims.VerifyAudience(a.Audience, true) {
		return "", errors.New("invalid audience")
	}
	if a.Issuer != "" && !claims.VerifyIssuer(a.Issuer, true) {
		return "", errors.New("invalid issuer")
	}

	for _, claim := range []string{"name", "email", "sub"} {
		if v, ok := claims[claim].(string); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v), nil
		}
	}
	return "", errors.New("token names no editor")
}

func (a *Auth) keyFor(token *jwt.Token) (any, error) {
	if a.JWKS == nil {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid signing method")
		}
		return a.Secret, nil
	}

	kid, _ := token.Header["kid"].(string)
	if kid != "" && a.keyCacheTTL > 0 {
		if cached, ok := a.keyCache.Load(kid); ok {
			entry := cached.(cachedKey)
			if time.Now().Before(entry.expiresAt) {
				return entry.key, nil
			}
			a.keyCache.Delete(kid)
		}
	}

	key, err := a.JWKS.Keyfunc(token)
	if err != nil {
		return nil, err
	}

	if kid != "" && a.keyCacheTTL > 0 {
		a.keyCache.Store(kid, cachedKey{key: key, expiresAt: time.Now().Add(a.keyCacheTTL)})
	}
	return key, nil
}
