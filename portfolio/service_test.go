package portfolio

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"github.com/bcgov/CRP-GSS-Project-Management/domain"
)

var testNow = time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)

type memStore struct {
	mu          sync.Mutex
	projects    []domain.Project
	overrides   domain.Overrides
	events      []domain.ChangeEvent
	saved       [][]domain.Project
	putErr      error
	invalidated int
}

func (m *memStore) LoadProjects(context.Context) ([]domain.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.Project(nil), m.projects...), nil
}

func (m *memStore) SaveProjects(_ context.Context, projects []domain.Project) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saved = append(m.saved, projects)
	m.projects = projects
	return nil
}

func (m *memStore) LoadOverrides(context.Context) (domain.Overrides, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.overrides.Clone(), nil
}

func (m *memStore) PutOverride(_ context.Context, id string, o domain.StatusOverride) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.putErr != nil {
		return m.putErr
	}
	m.overrides[id] = o
	return nil
}

func (m *memStore) DeleteOverride(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.overrides, id)
	return nil
}

func (m *memStore) PublishChange(_ context.Context, ev domain.ChangeEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	return nil
}

func (m *memStore) Invalidate(context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.invalidated++
}

func testProjects() []domain.Project {
	return []domain.Project{
		{"Project_ID": float64(1), "Project_Name": "Calving survey", "Project_Number": "GSS-1", "Project_Status": "Assigned",
			"Date_Requested": "2024-06-10", "Date_Required": "2024-07-31"},
		{"Project_ID": float64(2), "Project_Name": "Range map", "Project_Number": "GSS-2", "Project_Status": "In Progress",
			"Date_Requested": "2024-01-01", "Date_Required": "2024-06-01", "Priority_Level": "Urgent"},
		{"Project_ID": "3", "Project_Name": "Collar audit", "Project_Status": "Completed"},
	}
}

func newTestService(t *testing.T, store *memStore) *Service {
	t.Helper()
	logger, _ := test.NewNullLogger()
	svc := New(store, Options{Logger: logger, Now: func() time.Time { return testNow }, Coordinator: "Pat"})
	if _, err := svc.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	return svc
}

func TestRefreshLoadsSnapshot(t *testing.T) {
	store := &memStore{projects: testProjects(), overrides: domain.Overrides{"2": {Status: "On Hold"}}}
	svc := newTestService(t, store)

	if store.invalidated != 1 {
		t.Fatalf("expected cache invalidation, got %d", store.invalidated)
	}
	if n := len(svc.Projects()); n != 3 {
		t.Fatalf("expected 3 projects, got %d", n)
	}
	p, err := svc.Project("2")
	if err != nil {
		t.Fatalf("project: %v", err)
	}
	if got := svc.EffectiveStatus(p); got != "On Hold" {
		t.Fatalf("expected override status, got %q", got)
	}
	if _, err := svc.Project("404"); !errors.Is(err, ErrProjectNotFound) {
		t.Fatalf("expected ErrProjectNotFound, got %v", err)
	}
	if !svc.LoadedAt().Equal(testNow) {
		t.Fatalf("unexpected load time %v", svc.LoadedAt())
	}
}

type stubSource struct {
	projects []domain.Project
	err      error
}

func (s stubSource) ProjectsForPerson(context.Context, string) ([]domain.Project, error) {
	return s.projects, s.err
}

func TestRefreshSyncsFromSource(t *testing.T) {
	store := &memStore{projects: testProjects(), overrides: domain.Overrides{}}
	logger, hook := test.NewNullLogger()
	synced := []domain.Project{{"Project_ID": "9", "Project_Name": "CRP intake"}}
	svc := New(store, Options{Logger: logger, Source: stubSource{projects: synced}, Person: "Pat", Now: func() time.Time { return testNow }})

	n, err := svc.Refresh(context.Background())
	if err != nil || n != 1 {
		t.Fatalf("expected 1 synced project, got %d, %v", n, err)
	}
	if len(store.saved) != 1 {
		t.Fatalf("expected synced projects to be saved, got %d saves", len(store.saved))
	}

	svc.source = stubSource{err: errors.New("token expired")}
	if n, err := svc.Refresh(context.Background()); err != nil || n != 1 {
		t.Fatalf("failed sync should keep stored projects, got %d, %v", n, err)
	}
	var warned bool
	for _, e := range hook.AllEntries() {
		if e.Level == log.WarnLevel && e.Message == "Project sync failed" {
			warned = true
		}
	}
	if !warned {
		t.Fatal("expected sync failure to be logged")
	}
}

func TestRefreshKeepsStoredProjectsWhenSyncIsEmpty(t *testing.T) {
	store := &memStore{projects: testProjects(), overrides: domain.Overrides{}}
	logger, hook := test.NewNullLogger()
	svc := New(store, Options{Logger: logger, Source: stubSource{}, Person: "Pat", Now: func() time.Time { return testNow }})

	n, err := svc.Refresh(context.Background())
	if err != nil || n != 3 {
		t.Fatalf("expected the 3 stored projects, got %d, %v", n, err)
	}
	if len(store.saved) != 0 {
		t.Fatalf("an empty sync must not overwrite stored projects, got %d saves", len(store.saved))
	}
	var sawWarning bool
	for _, e := range hook.AllEntries() {
		if err, ok := e.Data["error"].(error); ok && e.Message == "Project sync failed" && errors.Is(err, ErrEmptySync) {
			sawWarning = true
		}
	}
	if !sawWarning {
		t.Fatal("expected the empty sync to be logged")
	}
}

// gatedStore blocks the first LoadOverrides until release is closed.
type gatedStore struct {
	*memStore
	once    sync.Once
	started chan struct{}
	release chan struct{}
}

func (g *gatedStore) LoadOverrides(ctx context.Context) (domain.Overrides, error) {
	overrides, err := g.memStore.LoadOverrides(ctx)
	g.once.Do(func() {
		close(g.started)
		<-g.release
	})
	return overrides, err
}

func TestEditDuringRefreshSurvivesInSnapshot(t *testing.T) {
	store := &gatedStore{
		memStore: &memStore{projects: testProjects(), overrides: domain.Overrides{}},
		started:  make(chan struct{}),
		release:  make(chan struct{}),
	}
	logger, _ := test.NewNullLogger()
	svc := New(store, Options{Logger: logger, Now: func() time.Time { return testNow }})
	svc.index = map[string]int{"1": 0}
	svc.projects = testProjects()[:1]

	refreshed := make(chan error, 1)
	go func() {
		_, err := svc.Refresh(context.Background())
		refreshed <- err
	}()
	<-store.started

	edited := make(chan error, 1)
	go func() {
		edited <- svc.UpdateStatus(context.Background(), "1", "On Hold", "Sam")
	}()
	time.Sleep(20 * time.Millisecond)
	close(store.release)

	if err := <-refreshed; err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if err := <-edited; err != nil {
		t.Fatalf("update status: %v", err)
	}
	if got := store.overrides["1"].Status; got != "On Hold" {
		t.Fatalf("expected stored status On Hold, got %q", got)
	}
	p, err := svc.Project("1")
	if err != nil {
		t.Fatalf("project: %v", err)
	}
	if got := svc.EffectiveStatus(p); got != "On Hold" {
		t.Fatalf("snapshot lost the edit made during refresh, got %q", got)
	}
}

func TestUpdateAndResetStatus(t *testing.T) {
	store := &memStore{projects: testProjects(), overrides: domain.Overrides{}}
	svc := newTestService(t, store)
	ctx := context.Background()

	if err := svc.UpdateStatus(ctx, "1", "In Progress", "kim"); err != nil {
		t.Fatalf("update status: %v", err)
	}
	o := store.overrides["1"]
	want := domain.StatusOverride{Status: "In Progress", UpdatedBy: "kim", UpdatedAt: "2024-06-15T12:00:00Z", OriginalStatus: "Assigned"}
	if diff := cmp.Diff(want, o); diff != "" {
		t.Fatalf("stored override mismatch (-want +got):\n%s", diff)
	}
	view, err := svc.ProjectView("1")
	if err != nil {
		t.Fatalf("view: %v", err)
	}
	if view.Status != "In Progress" || !view.StatusOverridden || view.Phase != domain.PhaseExecuting {
		t.Fatalf("unexpected view %+v", view)
	}

	if err := svc.UpdateStatus(ctx, "1", "   ", "kim"); !errors.Is(err, ErrEmptyStatus) {
		t.Fatalf("expected ErrEmptyStatus, got %v", err)
	}
	if err := svc.UpdateStatus(ctx, "404", "Done", "kim"); !errors.Is(err, ErrProjectNotFound) {
		t.Fatalf("expected ErrProjectNotFound, got %v", err)
	}

	if err := svc.ResetStatus(ctx, "1", "kim"); err != nil {
		t.Fatalf("reset status: %v", err)
	}
	if _, ok := store.overrides["1"]; ok {
		t.Fatal("override with nothing left should be deleted")
	}
	if _, ok := svc.Override("1"); ok {
		t.Fatal("snapshot should drop the empty override")
	}
}

func TestResetKeepsNotesAndActions(t *testing.T) {
	store := &memStore{projects: testProjects(), overrides: domain.Overrides{}}
	svc := newTestService(t, store)
	ctx := context.Background()

	if err := svc.UpdateStatus(ctx, "2", "On Hold", "kim"); err != nil {
		t.Fatalf("update status: %v", err)
	}
	if err := svc.UpdateNotes(ctx, "2", "  waiting on collars  ", "kim"); err != nil {
		t.Fatalf("update notes: %v", err)
	}
	if err := svc.UpdateActions(ctx, "2", "• Call vendor\n\n• Book flight", "lee"); err != nil {
		t.Fatalf("update actions: %v", err)
	}
	if err := svc.ResetStatus(ctx, "2", "kim"); err != nil {
		t.Fatalf("reset: %v", err)
	}

	o := store.overrides["2"]
	if o.Status != "" || o.Notes != "waiting on collars" || o.CoordinatorActions != "Call vendor\nBook flight" {
		t.Fatalf("unexpected override %+v", o)
	}
	if o.CoordinatorActionsUpdatedBy != "lee" {
		t.Fatalf("expected actions editor, got %q", o.CoordinatorActionsUpdatedBy)
	}
	if diff := cmp.Diff([]string{"Call vendor", "Book flight"}, svc.Actions("2")); diff != "" {
		t.Fatalf("actions mismatch (-want +got):\n%s", diff)
	}
	if svc.Notes("2") != "waiting on collars" {
		t.Fatalf("unexpected notes %q", svc.Notes("2"))
	}
	p, _ := svc.Project("2")
	if svc.EffectiveStatus(p) != "In Progress" {
		t.Fatal("reset should restore the source status")
	}
}

func TestFailedWriteLeavesSnapshotUntouched(t *testing.T) {
	store := &memStore{projects: testProjects(), overrides: domain.Overrides{}, putErr: errors.New("s3 down")}
	svc := newTestService(t, store)

	if err := svc.UpdateStatus(context.Background(), "1", "Done", "kim"); err == nil {
		t.Fatal("expected storage error")
	}
	if _, ok := svc.Override("1"); ok {
		t.Fatal("snapshot must not change when persisting fails")
	}
}

func TestEditsPublishChangeEvents(t *testing.T) {
	store := &memStore{projects: testProjects(), overrides: domain.Overrides{}}
	svc := newTestService(t, store)
	logger, _ := test.NewNullLogger()
	svc.publisher = NewPublisher(store, testPublishConfig(), logger)

	if err := svc.UpdateNotes(context.Background(), "3", "archived", "kim"); err != nil {
		t.Fatalf("update notes: %v", err)
	}
	if err := svc.publisher.Close(context.Background()); err != nil {
		t.Fatalf("close publisher: %v", err)
	}
	if len(store.events) != 1 {
		t.Fatalf("expected one event, got %d", len(store.events))
	}
	ev := store.events[0]
	if ev.ProjectID != "3" || ev.Field != domain.ChangeNotes || ev.Value != "archived" || ev.Editor != "kim" || ev.ID == "" {
		t.Fatalf("unexpected event %+v", ev)
	}
}

func TestCategoryViews(t *testing.T) {
	store := &memStore{projects: testProjects(), overrides: domain.Overrides{"3": {Status: "Paused"}}}
	svc := newTestService(t, store)

	counts := map[string]int{}
	for _, c := range svc.CategorySummary() {
		counts[c.Key] = c.Count
	}
	want := map[string]int{domain.CategoryNotStarted: 1, domain.CategoryInProgress: 1, domain.CategoryOnHold: 1}
	for k, v := range counts {
		if v != want[k] {
			t.Errorf("category %s: got %d want %d", k, v, want[k])
		}
	}

	cat, projects, err := svc.ProjectsInCategory(domain.CategoryOnHold)
	if err != nil {
		t.Fatalf("projects in category: %v", err)
	}
	if cat.Name != "On Hold" || len(projects) != 1 || projects[0].ID() != "3" {
		t.Fatalf("unexpected category listing %s %v", cat.Name, projects)
	}
	if _, _, err := svc.ProjectsInCategory("bogus"); !errors.Is(err, domain.ErrUnknownCategory) {
		t.Fatalf("expected ErrUnknownCategory, got %v", err)
	}

	_, views, err := svc.CategoryViews(domain.CategoryOnHold)
	if err != nil {
		t.Fatalf("category views: %v", err)
	}
	if len(views) != 1 || views[0].Status != "Paused" || !views[0].StatusOverridden {
		t.Fatalf("unexpected category views %+v", views)
	}
}

func TestMetricsAndViews(t *testing.T) {
	store := &memStore{projects: testProjects(), overrides: domain.Overrides{}}
	svc := newTestService(t, store)

	m := svc.Metrics()
	if m.Total != 3 || m.Overdue != 1 || m.Unscheduled != 1 || m.OnTrack != 1 {
		t.Fatalf("unexpected metrics %+v", m)
	}

	views := svc.ProjectViews()
	var order []string
	for _, v := range views {
		order = append(order, v.ID)
	}
	if diff := cmp.Diff([]string{"2", "1", "3"}, order); diff != "" {
		t.Fatalf("view order mismatch (-want +got):\n%s", diff)
	}
	overdue := views[0]
	if overdue.Risk.Level != domain.RiskHigh || overdue.Due.Color != "red" || overdue.DueDate != "2024-06-01" {
		t.Fatalf("unexpected overdue view %+v", overdue)
	}
	if views[2].DueDate != "Not specified" {
		t.Fatalf("expected placeholder due date, got %q", views[2].DueDate)
	}
	if diff := cmp.Diff([]string{"Pat (Lead)"}, views[2].Team); diff != "" {
		t.Fatalf("team mismatch (-want +got):\n%s", diff)
	}
}
