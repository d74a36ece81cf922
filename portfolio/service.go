// Package portfolio keeps an in-memory snapshot of projects and their portal
// overrides and applies edits on top of it.
package portfolio

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/bcgov/CRP-GSS-Project-Management/domain"
)

var (
	// ErrProjectNotFound is returned for project IDs absent from the snapshot.
	ErrProjectNotFound = errors.New("project not found")
	// ErrEmptyStatus is returned when a status update carries no status.
	ErrEmptyStatus = errors.New("status must not be empty")
	// ErrEmptySync is returned when the source has no projects for the person.
	// The stored projects document is left untouched.
	ErrEmptySync = errors.New("source returned no projects")
)

// Store persists projects and overrides.
type Store interface {
	LoadProjects(ctx context.Context) ([]domain.Project, error)
	SaveProjects(ctx context.Context, projects []domain.Project) error
	LoadOverrides(ctx context.Context) (domain.Overrides, error)
	PutOverride(ctx context.Context, id string, o domain.StatusOverride) error
	DeleteOverride(ctx context.Context, id string) error
	PublishChange(ctx context.Context, ev domain.ChangeEvent) error
}

type invalidator interface {
	Invalidate(ctx context.Context)
}

// Source fetches the projects assigned to a person from the system of record.
type Source interface {
	ProjectsForPerson(ctx context.Context, person string) ([]domain.Project, error)
}

// Options configure a Service.
type Options struct {
	Catalog     domain.Catalog
	Coordinator string
	// Source and Person enable syncing projects before each refresh.
	Source    Source
	Person    string
	Publisher *Publisher
	Logger    *log.Logger
	Now       func() time.Time
}

// Service is the portfolio read model plus the edit operations.
type Service struct {
	store       Store
	catalog     domain.Catalog
	coordinator string
	source      Source
	person      string
	publisher   *Publisher
	logger      *log.Logger
	now         func() time.Time

	// writeMu serialises edits so each one starts from the latest override.
	writeMu sync.Mutex

	mu        sync.RWMutex
	projects  []domain.Project
	index     map[string]int
	overrides domain.Overrides
	loadedAt  time.Time
}

// New creates a Service. Call Refresh before serving reads.
func New(store Store, opts Options) *Service {
	if opts.Logger == nil {
		opts.Logger = log.StandardLogger()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if len(opts.Catalog) == 0 {
		opts.Catalog = domain.DefaultCatalog()
	}
	if opts.Coordinator == "" {
		opts.Coordinator = "Unassigned"
	}
	return &Service{
		store:       store,
		catalog:     opts.Catalog,
		coordinator: opts.Coordinator,
		source:      opts.Source,
		person:      opts.Person,
		publisher:   opts.Publisher,
		logger:      opts.Logger,
		now:         opts.Now,
		index:       map[string]int{},
		overrides:   domain.Overrides{},
	}
}

// Catalog returns the status category catalog.
func (s *Service) Catalog() domain.Catalog { return s.catalog }

// Coordinator returns the default coordinator name.
func (s *Service) Coordinator() string { return s.coordinator }

// Now returns the service clock.
func (s *Service) Now() time.Time { return s.now() }

// Refresh syncs projects from the source when configured, then reloads the
// snapshot from storage. It returns the number of projects loaded.
func (s *Service) Refresh(ctx context.Context) (int, error) {
	if s.source != nil && s.person != "" {
		if err := s.sync(ctx); err != nil {
			// stored projects are still served
			s.logger.WithFields(log.Fields{"error": err, "person": s.person}).Warn("Project sync failed")
		}
	}

	// edits wait for the reload so the swapped-in overrides include them
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if inv, ok := s.store.(invalidator); ok {
		inv.Invalidate(ctx)
	}

	projects, err := s.store.LoadProjects(ctx)
	if err != nil {
		refreshes.WithLabelValues("error").Inc()
		return 0, fmt.Errorf("load projects: %w", err)
	}
	overrides, err := s.store.LoadOverrides(ctx)
	if err != nil {
		refreshes.WithLabelValues("error").Inc()
		return 0, fmt.Errorf("load overrides: %w", err)
	}
	if overrides == nil {
		overrides = domain.Overrides{}
	}

	index := make(map[string]int, len(projects))
	for i, p := range projects {
		if id := p.ID(); id != "" {
			if _, dup := index[id]; !dup {
				index[id] = i
			}
		}
	}

	s.mu.Lock()
	s.projects = projects
	s.index = index
	s.overrides = overrides
	s.loadedAt = s.now()
	s.mu.Unlock()

	refreshes.WithLabelValues("ok").Inc()
	projectsLoaded.Set(float64(len(projects)))
	s.logger.WithFields(log.Fields{"projects": len(projects), "overrides": len(overrides)}).Info("Portfolio refreshed")
	return len(projects), nil
}

func (s *Service) sync(ctx context.Context) error {
	projects, err := s.source.ProjectsForPerson(ctx, s.person)
	if err != nil {
		return err
	}
	if len(projects) == 0 {
		return ErrEmptySync
	}
	if err := s.store.SaveProjects(ctx, projects); err != nil {
		return err
	}
	s.logger.WithFields(log.Fields{"projects": len(projects), "person": s.person}).Info("Projects synced")
	return nil
}

// LoadedAt returns when the snapshot was last refreshed.
func (s *Service) LoadedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loadedAt
}

// Projects returns the snapshot in source order.
func (s *Service) Projects() []domain.Project {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.Project(nil), s.projects...)
}

// Project returns the project with the given ID.
func (s *Service) Project(id string) (domain.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.projectLocked(id)
}

func (s *Service) projectLocked(id string) (domain.Project, error) {
	i, ok := s.index[strings.TrimSpace(id)]
	if !ok {
		return nil, ErrProjectNotFound
	}
	return s.projects[i], nil
}

// Override returns the stored override for a project, if any.
func (s *Service) Override(id string) (domain.StatusOverride, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.overrides[id]
	return o, ok
}

// EffectiveStatus returns the status shown for p.
func (s *Service) EffectiveStatus(p domain.Project) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return domain.EffectiveStatus(p, s.overrides)
}

// Notes returns the portal notes for a project.
func (s *Service) Notes(id string) string {
	o, _ := s.Override(id)
	return o.Notes
}

// Actions returns the coordinator action lines for a project.
func (s *Service) Actions(id string) []string {
	o, _ := s.Override(id)
	return domain.ActionLines(o.CoordinatorActions)
}

// UpdateStatus overrides the status of a project.
func (s *Service) UpdateStatus(ctx context.Context, id, status, editor string) error {
	status = strings.TrimSpace(status)
	if status == "" {
		return ErrEmptyStatus
	}
	return s.edit(ctx, id, domain.ChangeStatus, status, editor, func(p domain.Project, o *domain.StatusOverride, now time.Time) {
		original := p.Status()
		if original == "" {
			original = "Unknown"
		}
		o.SetStatus(status, editor, original, now)
	})
}

// ResetStatus drops the status override so the source status applies again.
func (s *Service) ResetStatus(ctx context.Context, id, editor string) error {
	return s.edit(ctx, id, domain.ChangeStatusReset, "", editor, func(_ domain.Project, o *domain.StatusOverride, _ time.Time) {
		o.ClearStatus()
	})
}

// UpdateNotes replaces the portal notes of a project.
func (s *Service) UpdateNotes(ctx context.Context, id, notes, editor string) error {
	notes = strings.TrimSpace(notes)
	return s.edit(ctx, id, domain.ChangeNotes, notes, editor, func(_ domain.Project, o *domain.StatusOverride, now time.Time) {
		o.SetNotes(notes, editor, now)
	})
}

// UpdateActions replaces the coordinator actions. Bullets are stripped so
// only plain lines are stored.
func (s *Service) UpdateActions(ctx context.Context, id, actions, editor string) error {
	actions = domain.ParseBullets(actions)
	return s.edit(ctx, id, domain.ChangeActions, actions, editor, func(_ domain.Project, o *domain.StatusOverride, now time.Time) {
		o.SetActions(actions, editor, now)
	})
}

func (s *Service) edit(ctx context.Context, id, field, value, editor string, apply func(domain.Project, *domain.StatusOverride, time.Time)) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.RLock()
	p, err := s.projectLocked(id)
	var next domain.StatusOverride
	if err == nil {
		next = s.overrides[p.ID()]
	}
	s.mu.RUnlock()
	if err != nil {
		return err
	}
	id = p.ID()
	next.Extra = maps.Clone(next.Extra)

	now := s.now()
	apply(p, &next, now)

	if next.IsEmpty() {
		err = s.store.DeleteOverride(ctx, id)
	} else {
		err = s.store.PutOverride(ctx, id, next)
	}
	if err != nil {
		return fmt.Errorf("save %s for project %s: %w", field, id, err)
	}

	s.mu.Lock()
	overrides := s.overrides.Clone()
	if next.IsEmpty() {
		delete(overrides, id)
	} else {
		overrides[id] = next
	}
	s.overrides = overrides
	s.mu.Unlock()

	edits.WithLabelValues(field).Inc()
	s.logger.WithFields(log.Fields{"project": id, "field": field, "editor": editor}).Info("Project updated")
	s.publish(domain.ChangeEvent{
		ID:        uuid.NewString(),
		ProjectID: id,
		Field:     field,
		Value:     value,
		Editor:    editor,
		Timestamp: now.UTC(),
	})
	return nil
}

func (s *Service) publish(ev domain.ChangeEvent) {
	if s.publisher == nil {
		return
	}
	s.publisher.Publish(ev)
}
