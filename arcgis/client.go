package arcgis

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"

	"github.com/bcgov/CRP-GSS-Project-Management/config"
)

const (
	// DefaultPortalURL is the ArcGIS Online sharing REST endpoint.
	DefaultPortalURL = "https://www.arcgis.com/sharing/rest"
	// DefaultReferer is the referer tokens are bound to.
	DefaultReferer = "https://services6.arcgis.com"

	defaultTimeout    = 60 * time.Second
	defaultExpiration = 120 // minutes
	maxResponseSize   = 32 << 20
)

// ErrNotConfigured is returned when ArcGIS credentials or layer URLs are absent.
var ErrNotConfigured = errors.New("arcgis not configured")

// APIError is an error payload returned by the ArcGIS REST API with a 200 status.
type APIError struct {
	Code    int      `json:"code"`
	Message string   `json:"message"`
	Details []string `json:"details"`
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("arcgis error %d: %s", e.Code, e.Message)
	if len(e.Details) > 0 {
		msg += " (" + strings.Join(e.Details, "; ") + ")"
	}
	return msg
}

// Options configures a Client.
type Options struct {
	PortalURL  string
	Referer    string
	HTTPClient *http.Client
	Logger     *log.Logger
	// Expiration is the requested token lifetime in minutes.
	Expiration int
}

// Client talks to ArcGIS feature services. A token obtained through
// GenerateToken is attached to every subsequent request.
type Client struct {
	portalURL  string
	referer    string
	expiration int
	http       *http.Client
	logger     *log.Logger

	mu       sync.RWMutex
	token    string
	username string
	password string
}

// New creates a client. Zero options fall back to ArcGIS Online defaults.
func New(opts Options) *Client {
	c := &Client{
		portalURL:  strings.TrimRight(opts.PortalURL, "/"),
		referer:    opts.Referer,
		expiration: opts.Expiration,
		http:       opts.HTTPClient,
		logger:     opts.Logger,
	}
	if c.portalURL == "" {
		c.portalURL = DefaultPortalURL
	}
	if c.referer == "" {
		c.referer = DefaultReferer
	}
	if c.expiration <= 0 {
		c.expiration = defaultExpiration
	}
	if c.http == nil {
		c.http = &http.Client{Timeout: defaultTimeout}
	}
	if c.logger == nil {
		c.logger = log.StandardLogger()
	}
	return c
}

// Connect creates a client for cfg and authenticates it.
func Connect(ctx context.Context, cfg config.ArcGIS, logger *log.Logger) (*Client, error) {
	if cfg.Username == "" || cfg.Password == "" {
		return nil, ErrNotConfigured
	}
	c := New(Options{PortalURL: cfg.PortalURL, Referer: cfg.Referer, Logger: logger})
	if _, err := c.GenerateToken(ctx, cfg.Username, cfg.Password); err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.username, c.password = cfg.Username, cfg.Password
	c.mu.Unlock()
	return c, nil
}

// Token returns the current token, if any.
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// SetToken installs a token obtained elsewhere.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

type tokenResponse struct {
	Token   string    `json:"token"`
	Expires int64     `json:"expires"`
	Error   *APIError `json:"error"`
}

// GenerateToken exchanges credentials for a referer-bound token and keeps it
// for later requests.
func (c *Client) GenerateToken(ctx context.Context, username, password string) (string, error) {
	form := url.Values{
		"username":   {username},
		"password":   {password},
		"client":     {"referer"},
		"referer":    {c.referer},
		"expiration": {strconv.Itoa(c.expiration)},
		"f":          {"json"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.portalURL+"/generateToken", strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var resp tokenResponse
	if err := c.do(req, &resp); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	if resp.Error != nil {
		return "", fmt.Errorf("generate token: %w", resp.Error)
	}
	if resp.Token == "" {
		return "", errors.New("generate token: response carried no token")
	}
	c.SetToken(resp.Token)
	c.logger.WithFields(log.Fields{"portal": c.portalURL, "expires": resp.Expires}).Debug("ArcGIS token generated")
	return resp.Token, nil
}

type queryResponse struct {
	Features []struct {
		Attributes map[string]any `json:"attributes"`
	} `json:"features"`
	ExceededTransferLimit bool      `json:"exceededTransferLimit"`
	Error                 *APIError `json:"error"`
}

// Query runs a where clause against a layer or table and returns the
// attribute maps of the matching features. Geometry is never requested.
func (c *Client) Query(ctx context.Context, layerURL, where string, limit int) ([]map[string]any, error) {
	if where == "" {
		where = "1=1"
	}
	params := url.Values{
		"where":          {where},
		"returnGeometry": {"false"},
		"spatialRel":     {"esriSpatialRelIntersects"},
		"outSR":          {"4326"},
	}
	if limit > 0 {
		params.Set("resultRecordCount", strconv.Itoa(limit))
	}
	var resp queryResponse
	err := c.withRenewal(ctx, func() error {
		resp = queryResponse{}
		if err := c.get(ctx, strings.TrimRight(layerURL, "/")+"/query", params, &resp); err != nil {
			return err
		}
		if resp.Error != nil {
			return resp.Error
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	out := make([]map[string]any, 0, len(resp.Features))
	for _, f := range resp.Features {
		if f.Attributes != nil {
			out = append(out, f.Attributes)
		}
	}
	if resp.ExceededTransferLimit {
		c.logger.WithFields(log.Fields{"layer": layerURL, "returned": len(out)}).Warn("ArcGIS query exceeded transfer limit")
	}
	return out, nil
}

// ServiceInfo returns the service or layer description document.
func (c *Client) ServiceInfo(ctx context.Context, serviceURL string) (map[string]any, error) {
	var resp map[string]any
	err := c.withRenewal(ctx, func() error {
		resp = nil
		if err := c.get(ctx, serviceURL, url.Values{}, &resp); err != nil {
			return err
		}
		if raw, ok := resp["error"]; ok {
			return toAPIError(raw)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// withRenewal runs fn and, when the token was rejected as invalid or expired
// (498/499) and credentials are known, generates a new token and retries once.
func (c *Client) withRenewal(ctx context.Context, fn func() error) error {
	err := fn()
	var apiErr *APIError
	if !errors.As(err, &apiErr) || (apiErr.Code != 498 && apiErr.Code != 499) {
		return err
	}
	c.mu.RLock()
	user, pass := c.username, c.password
	c.mu.RUnlock()
	if user == "" {
		return err
	}
	c.logger.WithField("code", apiErr.Code).Info("ArcGIS token rejected, renewing")
	if _, rerr := c.GenerateToken(ctx, user, pass); rerr != nil {
		return fmt.Errorf("%w (renewal failed: %v)", err, rerr)
	}
	return fn()
}

func (c *Client) get(ctx context.Context, endpoint string, params url.Values, out any) error {
	if tok := c.Token(); tok != "" {
		params.Set("token", tok)
	}
	params.Set("f", "json")
	params.Set("outFields", "*")

	u, err := url.Parse(endpoint)
	if err != nil {
		return fmt.Errorf("parse url %q: %w", endpoint, err)
	}
	q := u.Query()
	for k, v := range params {
		q[k] = v
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	req.Header.Set("Referer", c.referer)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	res, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	c.logger.WithFields(log.Fields{
		"method":   req.Method,
		"path":     req.URL.Path,
		"status":   res.StatusCode,
		"bytes":    len(body),
		"total_ms": float64(time.Since(start)) / float64(time.Millisecond),
	}).Debug("ArcGIS request")

	if res.StatusCode < 200 || res.StatusCode > 299 {
		return fmt.Errorf("unexpected status %d from %s", res.StatusCode, req.URL.Path)
	}
	if err := sonic.ConfigStd.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func toAPIError(raw any) *APIError {
	e := &APIError{}
	m, ok := raw.(map[string]any)
	if !ok {
		e.Message = fmt.Sprint(raw)
		return e
	}
	if code, ok := m["code"].(float64); ok {
		e.Code = int(code)
	}
	e.Message, _ = m["message"].(string)
	if details, ok := m["details"].([]any); ok {
		for _, d := range details {
			if s, ok := d.(string); ok {
				e.Details = append(e.Details, s)
			}
		}
	}
	return e
}

// Quote renders s as a SQL string literal.
func Quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// InClause renders field = 'v' for one value and field IN ('a','b') for more.
// An empty values list matches nothing.
func InClause(field string, values []string) string {
	switch len(values) {
	case 0:
		return "1=0"
	case 1:
		return field + " = " + Quote(values[0])
	}
	quoted := make([]string, len(values))
	for i, v := range values {
		quoted[i] = Quote(v)
	}
	return field + " IN (" + strings.Join(quoted, ",") + ")"
}
