package api

import (
	"github.com/bcgov/CRP-GSS-Project-Management/domain"
	"github.com/bcgov/CRP-GSS-Project-Management/engagement"
	"github.com/bcgov/CRP-GSS-Project-Management/portfolio"
	"github.com/bcgov/CRP-GSS-Project-Management/vault"
)

const maxBodySize = 64 * 1024 // 64 KiB

// PUT /api/projects/:id/status
type statusRequest struct {
	Status string `json:"status" validate:"required,max=200"`
}

// PUT /api/projects/:id/notes
type notesRequest struct {
	Notes string `json:"notes" validate:"max=20000"`
}

// PUT /api/projects/:id/actions, one action per line
type actionsRequest struct {
	Actions string `json:"actions" validate:"max=20000"`
}

type writeResponse struct {
	Status  string                 `json:"status"`
	Project *portfolio.ProjectView `json:"project,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type projectsResponse struct {
	Projects []portfolio.ProjectView `json:"projects"`
	Total    int                     `json:"total"`
	LoadedAt string                  `json:"loaded_at,omitempty"`
}

type categoryResponse struct {
	Category domain.StatusCategory   `json:"category"`
	Projects []portfolio.ProjectView `json:"projects"`
}

type refreshResponse struct {
	Projects int    `json:"projects"`
	LoadedAt string `json:"loaded_at"`
}

type projectNotesResponse struct {
	ProjectID string       `json:"project_id"`
	Notes     []vault.Note `json:"notes"`
}

type createNoteResponse struct {
	Path    string `json:"path"`
	Created bool   `json:"created"`
}

type teamResponse struct {
	*engagement.TeamReport
	Workload  map[string]int            `json:"workload_distribution"`
	Roles     map[string]int            `json:"role_distribution"`
	TopPeople []engagement.RankedPerson `json:"top_people"`
}

type clientsResponse struct {
	*engagement.ClientReport
	TopClients []engagement.RankedClient `json:"top_clients"`
}
