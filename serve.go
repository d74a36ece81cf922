package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/bcgov/CRP-GSS-Project-Management/api"
	"github.com/bcgov/CRP-GSS-Project-Management/arcgis"
	"github.com/bcgov/CRP-GSS-Project-Management/engagement"
	"github.com/bcgov/CRP-GSS-Project-Management/portfolio"
)

const shutdownTimeout = 15 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the web portal (default)",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, rc, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	if rc != nil {
		defer rc.Close()
	}
	publisher := portfolio.NewPublisher(store, cfg.Publish, logger)

	opts := portfolio.Options{
		Catalog:     catalogFor(cfg),
		Coordinator: cfg.DefaultCoordinator,
		Publisher:   publisher,
		Logger:      logger,
	}
	deps := api.Deps{Logger: logger, TopN: cfg.EngagementTop}

	analyzer, err := connectArcGIS(ctx, cfg, logger)
	switch {
	case err == nil:
		deps.Engagement = analyzer
		if cfg.ArcGIS.Person != "" {
			opts.Source = analyzer
			opts.Person = cfg.ArcGIS.Person
		}
	case errors.Is(err, arcgis.ErrNotConfigured):
		logger.WithField("missing", cfg.MissingArcGIS()).Info("ArcGIS not configured, engagement disabled")
	default:
		logger.WithError(err).Warn("ArcGIS login failed, engagement disabled")
	}
	deps.Validation = engagement.ValidateConfiguration(cfg, analyzer != nil)

	svc := portfolio.New(store, opts)
	deps.Portfolio = svc

	if v, err := openVault(cfg, logger); err != nil {
		logger.WithError(err).Warn("Dendron vault not found")
	} else {
		deps.Vault = v
		go func() {
			if err := v.Watch(ctx); err != nil {
				logger.WithError(err).Warn("Vault watcher stopped")
			}
		}()
		logger.WithFields(log.Fields{"path": v.Root(), "notes": v.NotesDir()}).Info("Dendron vault opened")
	}

	auth, err := api.NewAuth(cfg.Auth)
	if err != nil {
		return err
	}
	deps.Auth = auth
	if rc != nil {
		deps.Deduper = api.NewRedisDeduper(rc, cfg.DeduperTTL)
	}

	// a failed first load still serves the pages; /healthz reports loading
	if _, err := svc.Refresh(ctx); err != nil {
		logger.WithError(err).Error("Initial refresh failed")
	}

	e, err := api.NewServer(deps)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- e.Start(":" + cfg.Port)
	}()
	logger.WithFields(log.Fields{"port": cfg.Port, "auth": cfg.Auth.Mode}).Info("Caribou portal listening")

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		logger.Info("Shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("HTTP shutdown incomplete")
	}
	if err := publisher.Close(shutdownCtx); err != nil {
		logger.WithError(err).Warn("Change events not fully delivered")
	}
	if c, ok := auth.(interface{ Close() }); ok {
		c.Close()
	}
	return nil
}
