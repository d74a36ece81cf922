package config

import (
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
	"github.com/redis/go-redis/v9"
)

const (
	defaultPort              = "8080"
	defaultRegion            = "us-east-1"
	defaultCacheTTL          = 5 * time.Minute
	defaultDeduperTTL        = 24 * time.Hour
	defaultArcGISPortalURL   = "https://www.arcgis.com/sharing/rest"
	defaultArcGISReferer     = "https://services6.arcgis.com"
	defaultConfigFile        = "portal.toml"
	defaultCoordinator       = "Unassigned"
	defaultPublishWorkers    = 4
	defaultPublishBuffer     = 256
	defaultPublishHandoff    = 15 * time.Millisecond
	defaultPublishTimeout    = 30 * time.Second
	defaultEngagementTopSize = 10
)

// Auth modes.
const (
	AuthNone  = "none"
	AuthHS256 = "hs256"
	AuthJWKS  = "jwks"
)

// ErrMissingRequired is returned by Validate when required settings are absent.
var ErrMissingRequired = errors.New("missing required configuration")

// S3 holds the object storage location of the portal documents.
type S3 struct {
	AccessKeyID     string
	SecretAccessKey string
	Endpoint        string
	Bucket          string
	Region          string
	ProjectsKey     string
	StatusKey       string
}

// ArcGIS holds credentials and layer URLs for the GSS feature service.
type ArcGIS struct {
	Username          string
	Password          string
	PortalURL         string
	Referer           string
	ProjectURL        string
	ProjectsTableURL  string
	ResourcesTableURL string
	Person            string
}

// Azure holds the optional Azure Storage settings.
type Azure struct {
	ConnectionString string
	OverridesTable   string
	ChangesQueue     string
}

// Auth selects how editors are identified on write requests.
type Auth struct {
	Mode         string
	SharedSecret string
	Domain       string
	Audience     string
}

// Publish tunes the change-event publisher pool.
type Publish struct {
	Workers        int
	Buffer         int
	HandoffTimeout time.Duration
	Timeout        time.Duration
}

// Category is a file-level override of one status category.
type Category struct {
	Key         string   `toml:"key"`
	Name        string   `toml:"name"`
	Description string   `toml:"description"`
	Color       string   `toml:"color"`
	Icon        string   `toml:"icon"`
	Statuses    []string `toml:"statuses"`
}

// File is the optional TOML configuration file.
type File struct {
	DefaultCoordinator string     `toml:"default_coordinator"`
	VaultFallbacks     []string   `toml:"vault_fallbacks"`
	Categories         []Category `toml:"categories"`
}

// Config is the fully resolved portal configuration.
type Config struct {
	Port               string
	Debug              bool
	LogFormat          string
	S3                 S3
	RedisURL           string
	CacheTTL           time.Duration
	DeduperTTL         time.Duration
	VaultPath          string
	VaultFallbacks     []string
	ArcGIS             ArcGIS
	Azure              Azure
	Auth               Auth
	Publish            Publish
	DefaultCoordinator string
	Categories         []Category
	EngagementTop      int
}

// Load reads .env (when present), the optional TOML file and the environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	path := os.Getenv("PORTAL_CONFIG")
	explicit := path != ""
	if !explicit {
		path = defaultConfigFile
	}
	file, err := LoadFile(path)
	if err != nil {
		if explicit || !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		file = &File{}
	}
	return FromEnv(file)
}

// LoadFile parses a TOML configuration file.
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file %q: %w", path, err)
	}
	var f File
	if err := toml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse config file %q: %w", path, err)
	}
	return &f, nil
}

// FromEnv resolves the configuration from the environment on top of file.
func FromEnv(file *File) (*Config, error) {
	if file == nil {
		file = &File{}
	}
	cfg := &Config{
		Port:      envString("PORT", defaultPort),
		LogFormat: strings.ToLower(os.Getenv("LOG_FORMAT")),
		S3: S3{
			AccessKeyID:     os.Getenv("AWS_ACCESS_KEY_ID"),
			SecretAccessKey: os.Getenv("AWS_SECRET_ACCESS_KEY"),
			Endpoint:        os.Getenv("AWS_S3_ENDPOINT"),
			Bucket:          os.Getenv("AWS_S3_BUCKET"),
			Region:          envString("AWS_REGION", defaultRegion),
			ProjectsKey:     os.Getenv("PROJECTS_PATH"),
			StatusKey:       os.Getenv("STATUS_PATH"),
		},
		RedisURL:  os.Getenv("REDIS_CONNECTION_STRING"),
		VaultPath: os.Getenv("DENDRON"),
		ArcGIS: ArcGIS{
			Username:          os.Getenv("ARCGIS_USERNAME"),
			Password:          os.Getenv("ARCGIS_PASSWORD"),
			PortalURL:         envString("ARCGIS_PORTAL_URL", defaultArcGISPortalURL),
			Referer:           envString("ARCGIS_REFERER", defaultArcGISReferer),
			ProjectURL:        os.Getenv("GSS_PROJECT_URL"),
			ProjectsTableURL:  os.Getenv("GSS_PROJECTS_TABLE_URL"),
			ResourcesTableURL: os.Getenv("GSS_RESOURCES_TABLE_URL"),
			Person:            os.Getenv("PERSON"),
		},
		Azure: Azure{
			ConnectionString: os.Getenv("STORAGE_CONNECTION_STRING"),
			OverridesTable:   os.Getenv("OVERRIDES_TABLE"),
			ChangesQueue:     os.Getenv("CHANGES_QUEUE"),
		},
		Auth: Auth{
			Mode:         strings.ToLower(envString("AUTH_MODE", AuthNone)),
			SharedSecret: os.Getenv("AUTH_SHARED_SECRET"),
			Domain:       os.Getenv("AUTH0_DOMAIN"),
			Audience:     os.Getenv("AUTH0_AUDIENCE"),
		},
		DefaultCoordinator: file.DefaultCoordinator,
		VaultFallbacks:     file.VaultFallbacks,
		Categories:         file.Categories,
	}
	if v := os.Getenv("DEFAULT_COORDINATOR"); v != "" {
		cfg.DefaultCoordinator = v
	}
	if cfg.DefaultCoordinator == "" {
		cfg.DefaultCoordinator = defaultCoordinator
	}

	var err error
	if cfg.Debug, err = envBool("DEBUG", false); err != nil {
		return nil, err
	}
	if cfg.CacheTTL, err = envDuration("CACHE_TTL", defaultCacheTTL); err != nil {
		return nil, err
	}
	if cfg.DeduperTTL, err = envDuration("DEDUPER_TTL", defaultDeduperTTL); err != nil {
		return nil, err
	}
	if cfg.Publish.Workers, err = envInt("PUBLISH_WORKERS", defaultPublishWorkers); err != nil {
		return nil, err
	}
	if cfg.Publish.Buffer, err = envInt("PUBLISH_BUFFER", defaultPublishBuffer); err != nil {
		return nil, err
	}
	if cfg.Publish.HandoffTimeout, err = envDuration("PUBLISH_HANDOFF_TIMEOUT", defaultPublishHandoff); err != nil {
		return nil, err
	}
	if cfg.Publish.Timeout, err = envDuration("PUBLISH_TIMEOUT", defaultPublishTimeout); err != nil {
		return nil, err
	}
	if cfg.EngagementTop, err = envInt("ENGAGEMENT_TOP", defaultEngagementTopSize); err != nil {
		return nil, err
	}

	switch cfg.Auth.Mode {
	case AuthNone, AuthHS256, AuthJWKS:
	default:
		return nil, fmt.Errorf("unsupported AUTH_MODE %q", cfg.Auth.Mode)
	}
	return cfg, nil
}

// Validate reports every missing required setting in one error.
func (c *Config) Validate() error {
	required := []struct {
		name  string
		value string
	}{
		{"AWS_ACCESS_KEY_ID", c.S3.AccessKeyID},
		{"AWS_SECRET_ACCESS_KEY", c.S3.SecretAccessKey},
		{"AWS_S3_ENDPOINT", c.S3.Endpoint},
		{"AWS_S3_BUCKET", c.S3.Bucket},
		{"STATUS_PATH", c.S3.StatusKey},
		{"PROJECTS_PATH", c.S3.ProjectsKey},
	}
	var missing []string
	for _, r := range required {
		if r.value == "" {
			missing = append(missing, r.name)
		}
	}
	switch c.Auth.Mode {
	case AuthHS256:
		if c.Auth.SharedSecret == "" {
			missing = append(missing, "AUTH_SHARED_SECRET")
		}
	case AuthJWKS:
		if c.Auth.Domain == "" {
			missing = append(missing, "AUTH0_DOMAIN")
		}
		if c.Auth.Audience == "" {
			missing = append(missing, "AUTH0_AUDIENCE")
		}
	}
	if (c.Azure.OverridesTable != "" || c.Azure.ChangesQueue != "") && c.Azure.ConnectionString == "" {
		missing = append(missing, "STORAGE_CONNECTION_STRING")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingRequired, strings.Join(missing, ", "))
	}
	return nil
}

// ArcGISConfigured reports whether the ArcGIS client can be used.
func (c *Config) ArcGISConfigured() bool {
	return c.ArcGIS.Username != "" && c.ArcGIS.Password != "" &&
		c.ArcGIS.ProjectsTableURL != "" && c.ArcGIS.ResourcesTableURL != ""
}

// MissingArcGIS lists the unset ArcGIS variables.
func (c *Config) MissingArcGIS() []string {
	var missing []string
	for _, r := range []struct{ name, value string }{
		{"GSS_PROJECTS_TABLE_URL", c.ArcGIS.ProjectsTableURL},
		{"GSS_RESOURCES_TABLE_URL", c.ArcGIS.ResourcesTableURL},
		{"ARCGIS_USERNAME", c.ArcGIS.Username},
		{"ARCGIS_PASSWORD", c.ArcGIS.Password},
	} {
		if r.value == "" {
			missing = append(missing, r.name)
		}
	}
	return missing
}

// RedisOptions parses REDIS_CONNECTION_STRING. It accepts redis:// URLs and
// the "host:port,password=...,ssl=true" form. Nil means Redis is disabled.
func (c *Config) RedisOptions() *redis.Options {
	if c.RedisURL == "" {
		return nil
	}
	opts, err := redis.ParseURL(c.RedisURL)
	if err == nil {
		return opts
	}
	parts := strings.Split(c.RedisURL, ",")
	opts = &redis.Options{Addr: strings.TrimSpace(parts[0])}
	for _, p := range parts[1:] {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(kv[0])) {
		case "password":
			opts.Password = kv[1]
		case "ssl":
			if strings.EqualFold(kv[1], "true") {
				opts.TLSConfig = &tls.Config{}
			}
		}
	}
	return opts
}

func envString(name, def string) string {
	if v := strings.TrimSpace(os.Getenv(name)); v != "" {
		return v
	}
	return def
}

func envInt(name string, def int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s: must be a positive integer", name)
	}
	return n, nil
}

func envDuration(name string, def time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", name, raw)
	}
	return d, nil
}

func envBool(name string, def bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %q", name, raw)
	}
	return b, nil
}
