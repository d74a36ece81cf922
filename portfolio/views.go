package portfolio

import (
	"time"

	"github.com/bcgov/CRP-GSS-Project-Management/domain"
)

// CategoryCount is one row of the status dashboard.
type CategoryCount struct {
	domain.StatusCategory
	Count int `json:"count"`
}

// CategorySummary counts projects per status category in catalog order.
func (s *Service) CategorySummary() []CategoryCount {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := make(map[string]int, len(s.catalog))
	for _, p := range s.projects {
		counts[s.catalog.Classify(domain.EffectiveStatus(p, s.overrides))]++
	}
	out := make([]CategoryCount, 0, len(s.catalog))
	for _, c := range s.catalog {
		out = append(out, CategoryCount{StatusCategory: c, Count: counts[c.Key]})
	}
	return out
}

// ProjectsInCategory returns the projects whose effective status falls in
// the category, nearest due date first.
func (s *Service) ProjectsInCategory(key string) (domain.StatusCategory, []domain.Project, error) {
	cat, err := s.catalog.Lookup(key)
	if err != nil {
		return domain.StatusCategory{}, nil, err
	}
	s.mu.RLock()
	var matched []domain.Project
	for _, p := range s.projects {
		if s.catalog.Classify(domain.EffectiveStatus(p, s.overrides)) == key {
			matched = append(matched, p)
		}
	}
	s.mu.RUnlock()
	return cat, domain.SortByDue(matched, s.now()), nil
}

// Metrics computes the portfolio metrics over effective statuses.
func (s *Service) Metrics() domain.PortfolioMetrics {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return domain.Metrics(s.projects, func(p domain.Project) string {
		return domain.EffectiveStatus(p, s.overrides)
	}, s.now())
}

// ProjectView is everything the project pages show about one project.
type ProjectView struct {
	ID               string                     `json:"id"`
	DisplayName      string                     `json:"display_name"`
	Project          domain.Project             `json:"project"`
	Status           string                     `json:"status"`
	SourceStatus     string                     `json:"source_status"`
	StatusOverridden bool                       `json:"status_overridden"`
	StatusClass      string                     `json:"status_class"`
	Category         domain.StatusCategory      `json:"category"`
	Phase            string                     `json:"phase"`
	PhaseName        string                     `json:"phase_name"`
	Schedule         domain.SchedulePerformance `json:"schedule"`
	Risk             domain.RiskAssessment      `json:"risk"`
	Stakeholders     domain.Stakeholders        `json:"stakeholders"`
	Team             []string                   `json:"team"`
	Due              domain.DueBadge            `json:"due"`
	DueDate          string                     `json:"due_date"`
	RequestedDate    string                     `json:"requested_date"`
	Notes            string                     `json:"notes"`
	Actions          []string                   `json:"actions"`
	Override         domain.StatusOverride      `json:"override"`
}

// ProjectView assembles the view of one project.
func (s *Service) ProjectView(id string) (ProjectView, error) {
	s.mu.RLock()
	p, err := s.projectLocked(id)
	var o domain.StatusOverride
	if err == nil {
		o = s.overrides[p.ID()]
	}
	status := domain.EffectiveStatus(p, s.overrides)
	s.mu.RUnlock()
	if err != nil {
		return ProjectView{}, err
	}
	return s.buildView(p, o, status, s.now()), nil
}

// ProjectViews assembles views for every project, nearest due date first.
func (s *Service) ProjectViews() []ProjectView {
	now := s.now()
	s.mu.RLock()
	projects := domain.SortByDue(s.projects, now)
	overrides := s.overrides
	s.mu.RUnlock()

	views := make([]ProjectView, 0, len(projects))
	for _, p := range projects {
		views = append(views, s.buildView(p, overrides[p.ID()], domain.EffectiveStatus(p, overrides), now))
	}
	return views
}

func (s *Service) buildView(p domain.Project, o domain.StatusOverride, status string, now time.Time) ProjectView {
	cat, err := s.catalog.Lookup(s.catalog.Classify(status))
	if err != nil {
		cat = domain.StatusCategory{Key: domain.CategoryNotStarted, Name: "Not Started", Color: "gray"}
	}
	days, ok := domain.DaysUntilDue(p, now)
	phase := domain.Phase(p, status, now)
	return ProjectView{
		ID:               p.ID(),
		DisplayName:      p.DisplayName(),
		Project:          p,
		Status:           status,
		SourceStatus:     p.Status(),
		StatusOverridden: o.Status != "",
		StatusClass:      s.catalog.ColorClass(status),
		Category:         cat,
		Phase:            phase,
		PhaseName:        domain.PhaseName(phase),
		Schedule:         domain.Schedule(p, now),
		Risk:             domain.Risk(p, now),
		Stakeholders:     domain.AnalyzeStakeholders(p, s.coordinator),
		Team:             domain.TeamList(p, s.coordinator),
		Due:              domain.DueStatus(days, ok),
		DueDate:          domain.FormatDate(p.DueValue(), now.Location(), "Not specified"),
		RequestedDate:    domain.FormatDate(p.RequestedValue(), now.Location(), "Not specified"),
		Notes:            o.Notes,
		Actions:          domain.ActionLines(o.CoordinatorActions),
		Override:         o,
	}
}

// CategoryViews is ProjectsInCategory with each project assembled as a view.
func (s *Service) CategoryViews(key string) (domain.StatusCategory, []ProjectView, error) {
	cat, projects, err := s.ProjectsInCategory(key)
	if err != nil {
		return cat, nil, err
	}
	now := s.now()
	s.mu.RLock()
	overrides := s.overrides
	s.mu.RUnlock()

	views := make([]ProjectView, 0, len(projects))
	for _, p := range projects {
		views = append(views, s.buildView(p, overrides[p.ID()], domain.EffectiveStatus(p, overrides), now))
	}
	return cat, views, nil
}
