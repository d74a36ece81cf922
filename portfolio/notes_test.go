package portfolio

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/bcgov/CRP-GSS-Project-Management/domain"
	"github.com/bcgov/CRP-GSS-Project-Management/vault"
)

func TestHubListsInProgressProjects(t *testing.T) {
	store := &memStore{projects: testProjects(), overrides: domain.Overrides{"1": {Status: "Active"}}}
	svc := newTestService(t, store)

	hub := svc.Hub()
	if hub.Metrics.Total != 3 {
		t.Fatalf("expected metrics for 3 projects, got %d", hub.Metrics.Total)
	}
	want := []vault.HubProject{
		{ID: "2", Name: "Range map", Status: "In Progress", Lead: "Pat", Due: "2024-06-01"},
		{ID: "1", Name: "Calving survey", Status: "Active", Lead: "Pat", Due: "2024-07-31"},
	}
	if diff := cmp.Diff(want, hub.Active); diff != "" {
		t.Fatalf("hub projects mismatch (-want +got):\n%s", diff)
	}
}

func TestNoteFor(t *testing.T) {
	store := &memStore{projects: testProjects(), overrides: domain.Overrides{}}
	svc := newTestService(t, store)

	view, err := svc.ProjectView("2")
	if err != nil {
		t.Fatalf("view: %v", err)
	}
	note := NoteFor(view)
	want := vault.ProjectNote{
		ID:       "2",
		Name:     "Range map",
		Number:   "GSS-2",
		Status:   "In Progress",
		Due:      "2024-06-01",
		Phase:    "Executing",
		Priority: "Urgent",
		Team:     []string{"Pat (Lead)"},
	}
	if diff := cmp.Diff(want, note); diff != "" {
		t.Fatalf("note mismatch (-want +got):\n%s", diff)
	}
}
