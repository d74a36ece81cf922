package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	log "github.com/sirupsen/logrus"

	"github.com/bcgov/CRP-GSS-Project-Management/engagement"
	"github.com/bcgov/CRP-GSS-Project-Management/portfolio"
	"github.com/bcgov/CRP-GSS-Project-Management/vault"
)

const metricsSubsystem = "caribou_portal"

const (
	csrfField      = "_csrf"
	csrfContextKey = "csrf"
)

type server struct {
	svc        *portfolio.Service
	vault      *vault.Vault
	analyzer   TeamAnalyzer
	validation engagement.Validation
	auth       Authenticator
	deduper    Deduper
	logger     *log.Logger
	topN       int
	now        func() time.Time
}

// NewServer builds the Echo instance serving the portal pages and the JSON API.
func NewServer(deps Deps) (*echo.Echo, error) {
	deps.defaults()
	renderer, err := newRenderer()
	if err != nil {
		return nil, err
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Renderer = renderer
	e.Validator = newRequestValidator()

	e.Use(middleware.Recover())
	e.Use(echoprometheus.NewMiddlewareWithConfig(echoprometheus.MiddlewareConfig{
		Subsystem:  metricsSubsystem,
		Registerer: deps.Registry,
		Skipper: func(c echo.Context) bool {
			return c.Path() == "/metrics"
		},
	}))
	e.Use(middleware.BodyLimit("64K"))
	e.Use(GzipRequestMiddleware(maxBodySize))
	e.Use(middleware.CSRFWithConfig(middleware.CSRFConfig{
		// API clients authenticate with bearer tokens, not cookies
		Skipper: func(c echo.Context) bool {
			return isAPIPath(c.Request().URL.Path) || c.Path() == "/metrics"
		},
		TokenLookup:    "form:" + csrfField,
		ContextKey:     csrfContextKey,
		CookieName:     csrfField,
		CookiePath:     "/",
		CookieHTTPOnly: true,
		CookieSameSite: http.SameSiteLaxMode,
		ErrorHandler: func(err error, c echo.Context) error {
			return echo.NewHTTPError(http.StatusForbidden, "missing or invalid form token")
		},
	}))

	s := &server{
		svc:        deps.Portfolio,
		vault:      deps.Vault,
		analyzer:   deps.Engagement,
		validation: deps.Validation,
		auth:       deps.Auth,
		deduper:    deps.Deduper,
		logger:     deps.Logger,
		topN:       deps.TopN,
		now:        deps.Now,
	}
	e.HTTPErrorHandler = s.errorHandler
	s.registerPages(e)
	s.registerAPI(e)
	e.GET("/metrics", echoprometheus.NewHandlerWithConfig(echoprometheus.HandlerConfig{Gatherer: deps.Registry}))
	e.GET("/healthz", s.healthz)
	return e, nil
}

type healthResponse struct {
	Status   string `json:"status"`
	Projects int    `json:"projects"`
	LoadedAt string `json:"loaded_at,omitempty"`
	Vault    bool   `json:"vault"`
}

func (s *server) healthz(c echo.Context) error {
	loaded := s.svc.LoadedAt()
	if loaded.IsZero() {
		return c.JSON(http.StatusServiceUnavailable, healthResponse{Status: "loading", Vault: s.vault != nil})
	}
	return c.JSON(http.StatusOK, healthResponse{
		Status:   "ok",
		Projects: len(s.svc.Projects()),
		LoadedAt: loaded.UTC().Format(time.RFC3339),
		Vault:    s.vault != nil,
	})
}

// errorHandler answers JSON for API routes and an error page otherwise.
func (s *server) errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	status := statusForError(err)
	if status >= http.StatusInternalServerError {
		s.logger.WithFields(log.Fields{"error": err, "path": c.Request().URL.Path}).Error("Request failed")
	}
	if c.Request().Method == http.MethodHead {
		_ = c.NoContent(status)
		return
	}
	if isAPIPath(c.Request().URL.Path) {
		_ = c.JSON(status, errorResponse{Error: errorMessage(err)})
		return
	}
	if rerr := c.Render(status, "error", errorPage{
		pageMeta: pageMeta{Title: http.StatusText(status), Now: s.now()},
		Status:   status,
		Detail:   errorMessage(err),
	}); rerr != nil {
		_ = c.String(status, errorMessage(err))
	}
}

func isAPIPath(path string) bool {
	return strings.HasPrefix(path, "/api/") || path == "/healthz"
}
