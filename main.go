package main

import (
	"context"
	"os"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/bcgov/CRP-GSS-Project-Management/arcgis"
	"github.com/bcgov/CRP-GSS-Project-Management/config"
	"github.com/bcgov/CRP-GSS-Project-Management/domain"
	"github.com/bcgov/CRP-GSS-Project-Management/engagement"
	"github.com/bcgov/CRP-GSS-Project-Management/portfolio"
	"github.com/bcgov/CRP-GSS-Project-Management/storage"
	"github.com/bcgov/CRP-GSS-Project-Management/vault"
)

var rootCmd = &cobra.Command{
	Use:   "caribou-portal",
	Short: "CRP project coordination portal",
	Long: `Caribou Portal serves the CRP project list kept in S3, lets coordinators
override statuses and keep notes, and links projects to a Dendron vault.
Without a subcommand it starts the web server.`,
	SilenceUsage: true,
	RunE:         runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd, engagementCmd, exportCmd, notesCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// setup loads the configuration and configures the standard logger from it.
func setup() (*config.Config, *log.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	logger := log.StandardLogger()
	if cfg.Debug {
		logger.SetLevel(log.DebugLevel)
	}
	if cfg.LogFormat == "json" {
		logger.SetFormatter(&log.JSONFormatter{})
	}
	return cfg, logger, nil
}

func catalogFor(cfg *config.Config) domain.Catalog {
	overrides := make([]domain.StatusCategory, 0, len(cfg.Categories))
	for _, c := range cfg.Categories {
		overrides = append(overrides, domain.StatusCategory(c))
	}
	return domain.DefaultCatalog().Merge(overrides)
}

// openStore returns the S3 store, wrapped in the Redis cache when Redis is
// configured. The returned client is nil without Redis.
func openStore(cfg *config.Config, logger *log.Logger) (portfolio.Store, *redis.Client, error) {
	base, err := storage.New(cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	opts := cfg.RedisOptions()
	if opts == nil {
		return base, nil, nil
	}
	rc := redis.NewClient(opts)
	return storage.NewCache(base, rc, cfg.CacheTTL, logger), rc, nil
}

func connectArcGIS(ctx context.Context, cfg *config.Config, logger *log.Logger) (*engagement.Analyzer, error) {
	if !cfg.ArcGISConfigured() {
		return nil, arcgis.ErrNotConfigured
	}
	client, err := arcgis.Connect(ctx, cfg.ArcGIS, logger)
	if err != nil {
		return nil, err
	}
	return engagement.NewAnalyzer(client, cfg.ArcGIS, logger), nil
}

func openVault(cfg *config.Config, logger *log.Logger) (*vault.Vault, error) {
	fallbacks := cfg.VaultFallbacks
	if len(fallbacks) == 0 {
		fallbacks = vault.DefaultFallbacks()
	}
	root, err := vault.Discover(cfg.VaultPath, fallbacks, logger)
	if err != nil {
		return nil, err
	}
	return vault.Open(root, vault.Options{PortalURL: "http://localhost:" + cfg.Port, Logger: logger})
}

// loadPortfolio reads a snapshot straight from S3 for one-shot commands.
func loadPortfolio(ctx context.Context, cfg *config.Config, logger *log.Logger) (*portfolio.Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	store, err := storage.New(cfg, logger)
	if err != nil {
		return nil, err
	}
	svc := portfolio.New(store, portfolio.Options{
		Catalog:     catalogFor(cfg),
		Coordinator: cfg.DefaultCoordinator,
		Logger:      logger,
	})
	if _, err := svc.Refresh(ctx); err != nil {
		return nil, err
	}
	return svc, nil
}
