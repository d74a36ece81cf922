package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"github.com/bcgov/CRP-GSS-Project-Management/arcgis"
	"github.com/bcgov/CRP-GSS-Project-Management/domain"
	"github.com/bcgov/CRP-GSS-Project-Management/engagement"
	"github.com/bcgov/CRP-GSS-Project-Management/portfolio"
	"github.com/bcgov/CRP-GSS-Project-Management/vault"
)

var errInvalidBody = errors.New("invalid body")

// requestValidator adapts validator/v10 to echo.Validator.
type requestValidator struct {
	v *validator.Validate
}

func newRequestValidator() *requestValidator {
	return &requestValidator{v: validator.New(validator.WithRequiredStructEnabled())}
}

func (r *requestValidator) Validate(i any) error {
	if err := r.v.Struct(i); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, validationMessage(err))
	}
	return nil
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s failed %s", strings.ToLower(fe.Field()), fe.Tag()))
	}
	return strings.Join(parts, "; ")
}

// decodeBody reads a JSON body of at most maxBodySize bytes into dst and
// validates it.
func decodeBody(c echo.Context, dst any) error {
	lr := io.LimitReader(c.Request().Body, maxBodySize)
	dec := sonic.ConfigStd.NewDecoder(lr)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, errInvalidBody.Error())
	}
	return c.Validate(dst)
}

func asHTTPError(err error, target **echo.HTTPError) bool {
	return errors.As(err, target)
}

// statusForError maps domain errors onto HTTP statuses.
func statusForError(err error) int {
	var he *echo.HTTPError
	var apiErr *arcgis.APIError
	switch {
	case asHTTPError(err, &he):
		return he.Code
	case errors.Is(err, portfolio.ErrProjectNotFound),
		errors.Is(err, domain.ErrUnknownCategory),
		errors.Is(err, vault.ErrNoteNotFound),
		errors.Is(err, vault.ErrVaultNotFound),
		errors.Is(err, engagement.ErrNoProjects):
		return http.StatusNotFound
	case errors.Is(err, portfolio.ErrEmptyStatus),
		errors.Is(err, vault.ErrInvalidNoteName):
		return http.StatusBadRequest
	case errors.Is(err, errMissingAuthorization),
		errors.Is(err, errBadAuthorization):
		return http.StatusUnauthorized
	case errors.As(err, &apiErr),
		errors.Is(err, arcgis.ErrNotConfigured):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func errorMessage(err error) string {
	var he *echo.HTTPError
	if asHTTPError(err, &he) {
		return fmt.Sprint(he.Message)
	}
	return err.Error()
}

// jsonError writes {"error": ...} with the status mapped from err.
func jsonError(c echo.Context, err error) error {
	return c.JSON(statusForError(err), errorResponse{Error: errorMessage(err)})
}

// safeReturn accepts only site-local paths as redirect targets.
func safeReturn(raw, fallback string) string {
	if raw == "" || !strings.HasPrefix(raw, "/") || strings.HasPrefix(raw, "//") || strings.Contains(raw, "\\") {
		return fallback
	}
	return raw
}

// withMessage appends a flash message to a redirect target.
func withMessage(target, msg string) string {
	sep := "?"
	if strings.Contains(target, "?") {
		sep = "&"
	}
	return target + sep + "msg=" + url.QueryEscape(msg)
}
