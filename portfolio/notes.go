package portfolio

import (
	"github.com/bcgov/CRP-GSS-Project-Management/domain"
	"github.com/bcgov/CRP-GSS-Project-Management/vault"
)

// NoteFor maps a project view onto the data of its vault note.
func NoteFor(v ProjectView) vault.ProjectNote {
	return vault.ProjectNote{
		ID:          v.ID,
		Name:        v.Project.Name(),
		Number:      v.Project.Number(),
		Status:      v.Status,
		Lead:        v.Project.Lead(),
		Due:         v.DueDate,
		Phase:       v.PhaseName,
		Description: v.Project.Description(),
		Priority:    v.Project.Priority(),
		Team:        v.Team,
	}
}

// Hub returns the hub note data: portfolio metrics and the projects whose
// effective status is in progress, nearest due date first.
func (s *Service) Hub() vault.Hub {
	h := vault.Hub{Metrics: s.Metrics()}
	for _, v := range s.ProjectViews() {
		if v.Category.Key != domain.CategoryInProgress {
			continue
		}
		lead := v.Project.Lead()
		if lead == "" {
			lead = s.coordinator
		}
		h.Active = append(h.Active, vault.HubProject{
			ID:     v.ID,
			Name:   v.Project.Name(),
			Status: v.Status,
			Lead:   lead,
			Due:    v.DueDate,
		})
	}
	return h
}
