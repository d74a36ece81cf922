// Package engagement analyses who works on CRP/Caribou projects using the GSS
// projects and resources tables.
package engagement

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/bcgov/CRP-GSS-Project-Management/arcgis"
	"github.com/bcgov/CRP-GSS-Project-Management/config"
	"github.com/bcgov/CRP-GSS-Project-Management/domain"
)

const (
	batchSize      = 10
	maxConcurrency = 4
	projectsLimit  = 2000
	resourcesLimit = 1000

	// RoleCoordinatorDefault marks engagement inferred from project metadata.
	RoleCoordinatorDefault = "Coordinator (default)"
)

// ErrNoProjects is returned when the projects table holds no CRP/Caribou project.
var ErrNoProjects = errors.New("no CRP/Caribou projects found")

// coordinatorFields are consulted in order for projects without assigned
// resources. Client fields are deliberately absent.
var coordinatorFields = []string{"Project_Manager", "Coordinator", "Project_Lead", "Lead_Scientist"}

// Querier runs where clauses against ArcGIS layers.
type Querier interface {
	Query(ctx context.Context, layerURL, where string, limit int) ([]map[string]any, error)
}

// IsCRPProject reports whether a project name belongs to the program.
func IsCRPProject(name string) bool {
	for _, prefix := range []string{"CRP", "crp", "Caribou", "caribou"} {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return strings.Contains(name, "Caribou") || strings.Contains(name, "caribou")
}

// Resource is one row of the resources table.
type Resource struct {
	Name       string
	ProjectID  string
	Type       string
	Status     string
	Email      string
	Team       string
	Leadership string
}

func resourceFromAttributes(attrs map[string]any) Resource {
	row := domain.Project(attrs)
	return Resource{
		Name:       row.String("Resource_Name"),
		ProjectID:  row.String("Resource_Project_ID"),
		Type:       row.String("Resource_Type"),
		Status:     row.String("Resource_Status"),
		Email:      row.String("Resource_Contact_Email"),
		Team:       row.String("Resource_Team"),
		Leadership: row.String("Resource_Leadership"),
	}
}

// Analyzer queries the GSS tables.
type Analyzer struct {
	client       Querier
	projectsURL  string
	resourcesURL string
	logger       *log.Logger
}

// NewAnalyzer creates an Analyzer over the configured tables.
func NewAnalyzer(client Querier, cfg config.ArcGIS, logger *log.Logger) *Analyzer {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Analyzer{
		client:       client,
		projectsURL:  cfg.ProjectsTableURL,
		resourcesURL: cfg.ResourcesTableURL,
		logger:       logger,
	}
}

func (a *Analyzer) ready() error {
	if a.client == nil || a.projectsURL == "" || a.resourcesURL == "" {
		return arcgis.ErrNotConfigured
	}
	return nil
}

// CRPProjects returns every CRP/Caribou project, current and completed.
func (a *Analyzer) CRPProjects(ctx context.Context) ([]domain.Project, error) {
	if err := a.ready(); err != nil {
		return nil, err
	}
	rows, err := a.client.Query(ctx, a.projectsURL, "1=1", projectsLimit)
	if err != nil {
		return nil, fmt.Errorf("query projects: %w", err)
	}
	var out []domain.Project
	for _, row := range rows {
		p := domain.Project(row)
		if IsCRPProject(p.Name()) {
			out = append(out, p)
		}
	}
	a.logger.WithFields(log.Fields{"total": len(rows), "crp": len(out)}).Debug("CRP projects filtered")
	return out, nil
}

// Resources returns the assigned resources of projects. Project IDs are
// queried in batches of ten; a failed batch is logged and skipped.
func (a *Analyzer) Resources(ctx context.Context, projects []domain.Project) ([]Resource, error) {
	if err := a.ready(); err != nil {
		return nil, err
	}
	ids := projectIDs(projects)
	rows, err := a.queryBatches(ctx, a.resourcesURL, ids, false, func(batch []string) string {
		return arcgis.InClause("Resource_Project_ID", batch) + " AND Resource_Status = 'Assigned'"
	})
	if err != nil {
		return nil, err
	}
	out := make([]Resource, 0, len(rows))
	for _, row := range rows {
		out = append(out, resourceFromAttributes(row))
	}
	return out, nil
}

// queryBatches runs one query per batch of ids with bounded concurrency and
// concatenates the rows in batch order. With strict set, any failed batch
// fails the whole call; otherwise failed batches are logged and skipped.
func (a *Analyzer) queryBatches(ctx context.Context, layerURL string, ids []string, strict bool, where func([]string) string) ([]map[string]any, error) {
	var batches [][]string
	for start := 0; start < len(ids); start += batchSize {
		end := min(start+batchSize, len(ids))
		batches = append(batches, ids[start:end])
	}
	results := make([][]map[string]any, len(batches))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrency)
	for i, batch := range batches {
		i, batch := i, batch
		g.Go(func() error {
			rows, err := a.client.Query(gctx, layerURL, where(batch), resourcesLimit)
			if err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return ctxErr
				}
				if strict {
					return fmt.Errorf("batch %d of %d: %w", i+1, len(batches), err)
				}
				a.logger.WithFields(log.Fields{
					"batch":    i + 1,
					"projects": len(batch),
					"error":    err,
				}).Warn("ArcGIS batch query failed")
				return nil
			}
			results[i] = rows
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []map[string]any
	for _, rows := range results {
		out = append(out, rows...)
	}
	return out, nil
}

func projectIDs(projects []domain.Project) []string {
	seen := make(map[string]struct{}, len(projects))
	ids := make([]string, 0, len(projects))
	for _, p := range projects {
		id := p.ID()
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids
}

// AnalyzeTeam fetches projects and resources and builds the team report.
func (a *Analyzer) AnalyzeTeam(ctx context.Context) (*TeamReport, error) {
	projects, err := a.CRPProjects(ctx)
	if err != nil {
		return nil, err
	}
	if len(projects) == 0 {
		return nil, ErrNoProjects
	}
	resources, err := a.Resources(ctx, projects)
	if err != nil {
		return nil, err
	}
	report := Team(projects, resources)
	a.logger.WithFields(log.Fields{
		"projects":  report.TotalProjects,
		"resources": len(resources),
		"people":    report.TotalPeople,
		"fallback":  report.FallbackProjects,
	}).Info("Team engagement analysed")
	return report, nil
}

// AnalyzeClients fetches projects and builds the client report.
func (a *Analyzer) AnalyzeClients(ctx context.Context) (*ClientReport, error) {
	projects, err := a.CRPProjects(ctx)
	if err != nil {
		return nil, err
	}
	if len(projects) == 0 {
		return nil, ErrNoProjects
	}
	return Clients(projects), nil
}

// ProjectsForPerson returns the CRP/Caribou projects a person coordinates,
// with the other assigned team members attached as Team_Members.
func (a *Analyzer) ProjectsForPerson(ctx context.Context, person string) ([]domain.Project, error) {
	if err := a.ready(); err != nil {
		return nil, err
	}
	person = strings.TrimSpace(person)
	if person == "" {
		return nil, errors.New("person must not be empty")
	}

	where := "Resource_Name = " + arcgis.Quote(person) +
		" AND Resource_Status = 'Assigned' AND Resource_Type = 'Coordinator'"
	rows, err := a.client.Query(ctx, a.resourcesURL, where, resourcesLimit)
	if err != nil {
		return nil, fmt.Errorf("query coordinator assignments: %w", err)
	}
	var assigned []domain.Project
	for _, row := range rows {
		r := resourceFromAttributes(row)
		if r.ProjectID != "" {
			assigned = append(assigned, domain.Project{domain.FieldID: r.ProjectID})
		}
	}
	ids := projectIDs(assigned)
	sort.Strings(ids)
	if len(ids) == 0 {
		a.logger.WithField("person", person).Info("No assigned projects found")
		return nil, nil
	}

	detailRows, err := a.queryBatches(ctx, a.projectsURL, ids, true, func(batch []string) string {
		return arcgis.InClause(domain.FieldID, batch)
	})
	if err != nil {
		return nil, fmt.Errorf("query project details: %w", err)
	}
	teamRows, err := a.queryBatches(ctx, a.resourcesURL, ids, true, func(batch []string) string {
		return arcgis.InClause("Resource_Project_ID", batch) +
			" AND Resource_Type = 'Other' AND Resource_Status = 'Assigned'"
	})
	if err != nil {
		return nil, err
	}

	team := make(map[string][]any)
	for _, row := range teamRows {
		r := resourceFromAttributes(row)
		if r.ProjectID == "" {
			continue
		}
		team[r.ProjectID] = append(team[r.ProjectID], map[string]any{
			"Resource_Name":          r.Name,
			"Resource_Contact_Email": r.Email,
			"Resource_Team":          r.Team,
			"Resource_Leadership":    r.Leadership,
		})
	}

	var out []domain.Project
	for _, row := range detailRows {
		p := domain.Project(row)
		if !IsCRPProject(p.Name()) {
			continue
		}
		members := team[p.ID()]
		if members == nil {
			members = []any{}
		}
		p[domain.FieldTeamMembers] = members
		out = append(out, p)
	}
	a.logger.WithFields(log.Fields{
		"person":   person,
		"assigned": len(ids),
		"details":  len(detailRows),
		"crp":      len(out),
	}).Info("Projects fetched for person")
	return out, nil
}

// Validation describes whether the analyzer can run.
type Validation struct {
	IsValid         bool     `json:"is_valid"`
	MissingVars     []string `json:"missing_vars"`
	ClientAvailable bool     `json:"client_available"`
}

// ValidateConfiguration lists missing ArcGIS settings.
func ValidateConfiguration(cfg *config.Config, clientAvailable bool) Validation {
	missing := cfg.MissingArcGIS()
	if missing == nil {
		missing = []string{}
	}
	return Validation{
		IsValid:         len(missing) == 0,
		MissingVars:     missing,
		ClientAvailable: clientAvailable,
	}
}
