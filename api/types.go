package api

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	"github.com/bcgov/CRP-GSS-Project-Management/engagement"
	"github.com/bcgov/CRP-GSS-Project-Management/portfolio"
	"github.com/bcgov/CRP-GSS-Project-Management/vault"
)

// Authenticator identifies the editor behind a write request.
type Authenticator interface {
	EditorFromRequest(r *http.Request) (string, error)
}

// Deduper prevents processing of duplicate writes.
type Deduper interface {
	// Add records the idempotency key and returns true if it was newly added.
	Add(ctx context.Context, editor, key string) (bool, error)
	// Remove deletes a previously added key, used when the write fails.
	Remove(ctx context.Context, editor, key string) error
}

// TeamAnalyzer produces the ArcGIS engagement reports.
type TeamAnalyzer interface {
	AnalyzeTeam(ctx context.Context) (*engagement.TeamReport, error)
	AnalyzeClients(ctx context.Context) (*engagement.ClientReport, error)
}

// Registry is where HTTP metrics are registered and gathered from.
type Registry interface {
	prometheus.Registerer
	prometheus.Gatherer
}

// Deps are the collaborators of the HTTP server. Vault, Engagement and
// Deduper are optional.
type Deps struct {
	Portfolio  *portfolio.Service
	Vault      *vault.Vault
	Engagement TeamAnalyzer
	Validation engagement.Validation
	Auth       Authenticator
	Deduper    Deduper
	Logger     *log.Logger
	Registry   Registry
	// TopN bounds the ranked lists on the engagement page.
	TopN int
	Now  func() time.Time
}

func (d *Deps) defaults() {
	if d.Logger == nil {
		d.Logger = log.StandardLogger()
	}
	if d.Auth == nil {
		d.Auth = NoAuth{}
	}
	if d.Registry == nil {
		d.Registry = prometheus.DefaultRegisterer.(*prometheus.Registry)
	}
	if d.TopN <= 0 {
		d.TopN = 10
	}
	if d.Now == nil {
		d.Now = d.Portfolio.Now
	}
}
