package api

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"github.com/bcgov/CRP-GSS-Project-Management/domain"
	"github.com/bcgov/CRP-GSS-Project-Management/engagement"
	"github.com/bcgov/CRP-GSS-Project-Management/portfolio"
)

var testNow = time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)

type stubStore struct {
	mu        sync.Mutex
	projects  []domain.Project
	overrides domain.Overrides
	puts      int
	putErr    error
}

func (s *stubStore) LoadProjects(context.Context) ([]domain.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Project(nil), s.projects...), nil
}

func (s *stubStore) SaveProjects(_ context.Context, projects []domain.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.projects = projects
	return nil
}

func (s *stubStore) LoadOverrides(context.Context) (domain.Overrides, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.overrides.Clone(), nil
}

func (s *stubStore) PutOverride(_ context.Context, id string, o domain.StatusOverride) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.putErr != nil {
		return s.putErr
	}
	s.puts++
	s.overrides[id] = o
	return nil
}

func (s *stubStore) DeleteOverride(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.overrides, id)
	return nil
}

func (s *stubStore) PublishChange(context.Context, domain.ChangeEvent) error { return nil }

func (s *stubStore) override(id string) domain.StatusOverride {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.overrides[id]
}

func testProjects() []domain.Project {
	return []domain.Project{
		{"Project_ID": float64(1), "Project_Name": "Calving survey", "Project_Number": "GSS-1", "Project_Status": "Assigned",
			"Date_Requested": "2024-06-10", "Date_Required": "2024-07-31"},
		{"Project_ID": float64(2), "Project_Name": "Range map", "Project_Status": "In Progress",
			"Date_Required": "2024-06-01", "Client_Name": "Caribou Recovery"},
	}
}

type testEnv struct {
	e     *echo.Echo
	store *stubStore
	svc   *portfolio.Service
	hook  *test.Hook
}

func newTestEnv(t *testing.T, opts ...func(*Deps)) *testEnv {
	t.Helper()
	logger, hook := test.NewNullLogger()
	logger.SetLevel(log.DebugLevel)

	store := &stubStore{projects: testProjects(), overrides: domain.Overrides{}}
	svc := portfolio.New(store, portfolio.Options{
		Logger:      logger,
		Coordinator: "Pat",
		Now:         func() time.Time { return testNow },
	})
	if _, err := svc.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	deps := Deps{Portfolio: svc, Logger: logger, Registry: prometheus.NewRegistry()}
	for _, opt := range opts {
		opt(&deps)
	}
	e, err := NewServer(deps)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	return &testEnv{e: e, store: store, svc: svc, hook: hook}
}

func (env *testEnv) do(method, target string, body io.Reader, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, body)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	env.e.ServeHTTP(rec, req)
	return rec
}

func jsonHeaders(editor string) map[string]string {
	return map[string]string{echo.HeaderContentType: echo.MIMEApplicationJSON, editorHeader: editor}
}

func decodeMap(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := sonic.ConfigStd.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return out
}

func decodeInto(rec *httptest.ResponseRecorder, dst any) error {
	return sonic.ConfigStd.Unmarshal(rec.Body.Bytes(), dst)
}

func TestListProjects(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodGet, "/api/projects", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp projectsResponse
	if err := sonic.ConfigStd.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Total != 2 || len(resp.Projects) != 2 {
		t.Fatalf("expected 2 projects, got %+v", resp)
	}
	if resp.Projects[0].ID != "2" {
		t.Fatalf("expected overdue project first, got %s", resp.Projects[0].ID)
	}

	var found bool
	for _, entry := range env.hook.AllEntries() {
		if entry.Message == observabilityEvent {
			found = true
			attrs := entry.Data["attributes"].(map[string]any)
			if attrs["http.route"] != "/api/projects" || attrs["portal.request.items_returned"] != 2 {
				t.Fatalf("unexpected attributes %#v", attrs)
			}
		}
	}
	if !found {
		t.Fatal("expected an observability event for the read")
	}
}

func TestGetProject(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodGet, "/api/projects/1", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := decodeMap(t, rec)
	if body["status"] != "Assigned" || body["display_name"] == "" {
		t.Fatalf("unexpected project body %v", body)
	}

	rec = env.do(http.MethodGet, "/api/projects/404", nil, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if body := decodeMap(t, rec); body["error"] != portfolio.ErrProjectNotFound.Error() {
		t.Fatalf("unexpected error body %v", body)
	}
}

func TestPutAndDeleteStatus(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodPut, "/api/projects/1/status", strings.NewReader(`{"status":"On Hold"}`), jsonHeaders("Sam"))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeMap(t, rec)
	project := body["project"].(map[string]any)
	if body["status"] != "ok" || project["status"] != "On Hold" {
		t.Fatalf("unexpected response %v", body)
	}
	o := env.store.override("1")
	if o.Status != "On Hold" || o.UpdatedBy != "Sam" || o.OriginalStatus != "Assigned" {
		t.Fatalf("unexpected stored override %+v", o)
	}

	rec = env.do(http.MethodDelete, "/api/projects/1/status", nil, jsonHeaders("Sam"))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if project := decodeMap(t, rec)["project"].(map[string]any); project["status"] != "Assigned" {
		t.Fatalf("expected source status after reset, got %v", project["status"])
	}
	if _, ok := env.svc.Override("1"); ok {
		t.Fatal("expected override to be removed")
	}
}

func TestPutStatusRejectsBadBodies(t *testing.T) {
	env := newTestEnv(t)

	cases := map[string]string{
		"empty status":  `{"status":""}`,
		"unknown field": `{"status":"Active","extra":1}`,
		"not json":      `status=Active`,
	}
	for name, body := range cases {
		rec := env.do(http.MethodPut, "/api/projects/1/status", strings.NewReader(body), jsonHeaders("Sam"))
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", name, rec.Code)
		}
	}
	if env.store.puts != 0 {
		t.Fatalf("expected no writes, got %d", env.store.puts)
	}
}

func TestWriteStorageFailure(t *testing.T) {
	env := newTestEnv(t)
	env.store.putErr = errors.New("s3 down")

	rec := env.do(http.MethodPut, "/api/projects/1/notes", strings.NewReader(`{"notes":"x"}`), jsonHeaders("Sam"))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
}

func TestIdempotentWrites(t *testing.T) {
	_, client := newTestRedis(t)
	deduper := NewRedisDeduper(client, time.Minute)
	env := newTestEnv(t, func(d *Deps) { d.Deduper = deduper })

	headers := jsonHeaders("Sam")
	headers[idempotencyHeader] = "k1"
	for i, want := range []string{"ok", "duplicate"} {
		rec := env.do(http.MethodPut, "/api/projects/1/notes", strings.NewReader(`{"notes":"survey booked"}`), headers)
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, rec.Code)
		}
		if got := decodeMap(t, rec)["status"]; got != want {
			t.Fatalf("request %d: expected %q, got %v", i, want, got)
		}
	}
	if env.store.puts != 1 {
		t.Fatalf("expected a single write, got %d", env.store.puts)
	}

	headers[idempotencyHeader] = "k2"
	rec := env.do(http.MethodPut, "/api/projects/404/notes", strings.NewReader(`{"notes":"x"}`), headers)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	added, err := deduper.Add(context.Background(), "Sam", "k2")
	if err != nil || !added {
		t.Fatalf("expected failed write to release its key, got %v %v", added, err)
	}
}

func TestPutActionsStripsBullets(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodPut, "/api/projects/2/actions",
		strings.NewReader(`{"actions":"• Call client\n\n• Book flight"}`), jsonHeaders("Sam"))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if got := env.svc.Actions("2"); len(got) != 2 || got[0] != "Call client" || got[1] != "Book flight" {
		t.Fatalf("unexpected actions %v", got)
	}
	if o := env.store.override("2"); o.CoordinatorActions != "Call client\nBook flight" {
		t.Fatalf("unexpected stored actions %q", o.CoordinatorActions)
	}
}

func TestGzipRequestBody(t *testing.T) {
	env := newTestEnv(t)

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write([]byte(`{"notes":"compressed"}`)); err != nil {
		t.Fatalf("gzip write: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("gzip close: %v", err)
	}
	headers := jsonHeaders("Sam")
	headers[echo.HeaderContentEncoding] = "gzip"

	rec := env.do(http.MethodPut, "/api/projects/1/notes", &buf, headers)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if got := env.svc.Notes("1"); got != "compressed" {
		t.Fatalf("unexpected notes %q", got)
	}

	rec = env.do(http.MethodPut, "/api/projects/1/notes", strings.NewReader("not gzip"), headers)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid gzip, got %d", rec.Code)
	}
}

func TestBodyLimit(t *testing.T) {
	env := newTestEnv(t)

	big := `{"notes":"` + strings.Repeat("a", maxBodySize+1) + `"}`
	rec := env.do(http.MethodPut, "/api/projects/1/notes", strings.NewReader(big), jsonHeaders("Sam"))
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", rec.Code)
	}
}

func TestWritesRequireEditor(t *testing.T) {
	secret := []byte("s3cret")
	env := newTestEnv(t, func(d *Deps) { d.Auth = NewSharedSecretAuth(secret, "", "") })

	rec := env.do(http.MethodPut, "/api/projects/1/status", strings.NewReader(`{"status":"Active"}`),
		map[string]string{echo.HeaderContentType: echo.MIMEApplicationJSON})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}

	claims := validClaims()
	delete(claims, "aud")
	claims["name"] = "Token Editor"
	rec = env.do(http.MethodPut, "/api/projects/1/status", strings.NewReader(`{"status":"Active"}`), map[string]string{
		echo.HeaderContentType:   echo.MIMEApplicationJSON,
		echo.HeaderAuthorization: "Bearer " + signHS256(t, secret, claims),
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if o := env.store.override("1"); o.UpdatedBy != "Token Editor" {
		t.Fatalf("expected editor from token, got %q", o.UpdatedBy)
	}

	rec = env.do(http.MethodPost, "/api/refresh", nil, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected refresh to require an editor, got %d", rec.Code)
	}
	rec = env.do(http.MethodPost, "/api/refresh", nil, map[string]string{
		echo.HeaderAuthorization: "Bearer " + signHS256(t, secret, claims),
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestMetricsAndCategories(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodGet, "/api/metrics", nil, nil)
	if body := decodeMap(t, rec); body["total_projects"] != 2.0 || body["overdue_projects"] != 1.0 {
		t.Fatalf("unexpected metrics %v", body)
	}

	rec = env.do(http.MethodGet, "/api/status-categories", nil, nil)
	var summary []portfolio.CategoryCount
	if err := sonic.ConfigStd.Unmarshal(rec.Body.Bytes(), &summary); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(summary) != len(domain.DefaultCatalog()) {
		t.Fatalf("expected every category, got %d", len(summary))
	}

	rec = env.do(http.MethodGet, "/api/status-categories/in_progress", nil, nil)
	var cat categoryResponse
	if err := sonic.ConfigStd.Unmarshal(rec.Body.Bytes(), &cat); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if cat.Category.Key != domain.CategoryInProgress || len(cat.Projects) != 1 || cat.Projects[0].ID != "2" {
		t.Fatalf("unexpected category response %+v", cat)
	}

	rec = env.do(http.MethodGet, "/api/status-categories/bogus", nil, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestRefreshAndHealth(t *testing.T) {
	env := newTestEnv(t)
	env.store.mu.Lock()
	env.store.projects = append(env.store.projects, domain.Project{"Project_ID": "3", "Project_Name": "Collar audit"})
	env.store.mu.Unlock()

	rec := env.do(http.MethodPost, "/api/refresh", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if body := decodeMap(t, rec); body["projects"] != 3.0 {
		t.Fatalf("unexpected refresh body %v", body)
	}

	rec = env.do(http.MethodGet, "/healthz", nil, nil)
	if body := decodeMap(t, rec); rec.Code != http.StatusOK || body["status"] != "ok" || body["projects"] != 3.0 {
		t.Fatalf("unexpected health %d %v", rec.Code, body)
	}

	rec = env.do(http.MethodGet, "/metrics", nil, nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), metricsSubsystem+"_requests_total") {
		t.Fatalf("expected prometheus metrics, got %d", rec.Code)
	}
}

func TestHealthBeforeFirstRefresh(t *testing.T) {
	logger, _ := test.NewNullLogger()
	svc := portfolio.New(&stubStore{overrides: domain.Overrides{}}, portfolio.Options{Logger: logger})
	e, err := NewServer(Deps{Portfolio: svc, Logger: logger, Registry: prometheus.NewRegistry()})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

type stubAnalyzer struct {
	team    func(context.Context) (*engagement.TeamReport, error)
	clients func(context.Context) (*engagement.ClientReport, error)
}

func (s stubAnalyzer) AnalyzeTeam(ctx context.Context) (*engagement.TeamReport, error) {
	return s.team(ctx)
}

func (s stubAnalyzer) AnalyzeClients(ctx context.Context) (*engagement.ClientReport, error) {
	return s.clients(ctx)
}

func engagementProjects() []domain.Project {
	return []domain.Project{
		{"Project_ID": "10", "Project_Name": "CRP range", "Project_Status": "Active", "Client_Name": "FLNRORD"},
		{"Project_ID": "11", "Project_Name": "Caribou collars", "Project_Status": "Active", "Client_Name": "FLNRORD"},
		{"Project_ID": "12", "Project_Name": "CRP habitat", "Project_Status": "Completed", "Project_Manager": "Lee"},
	}
}

func newStubAnalyzer() stubAnalyzer {
	projects := engagementProjects()
	resources := []engagement.Resource{
		{Name: "Pat", ProjectID: "10", Type: "Coordinator"},
		{Name: "Pat", ProjectID: "11", Type: "Other"},
		{Name: "Sam", ProjectID: "11", Type: "Other"},
	}
	return stubAnalyzer{
		team: func(context.Context) (*engagement.TeamReport, error) {
			return engagement.Team(projects, resources), nil
		},
		clients: func(context.Context) (*engagement.ClientReport, error) {
			return engagement.Clients(projects), nil
		},
	}
}

func TestEngagementEndpoints(t *testing.T) {
	env := newTestEnv(t, func(d *Deps) {
		d.Engagement = newStubAnalyzer()
		d.Validation = engagement.Validation{IsValid: true, MissingVars: []string{}, ClientAvailable: true}
	})

	rec := env.do(http.MethodGet, "/api/engagement/team", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var team teamResponse
	if err := sonic.ConfigStd.Unmarshal(rec.Body.Bytes(), &team); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if team.TotalPeople != 3 || team.FallbackProjects != 1 {
		t.Fatalf("unexpected team report %+v", team.TeamReport)
	}
	if len(team.TopPeople) == 0 || team.TopPeople[0].Name != "Pat" {
		t.Fatalf("expected Pat to lead, got %+v", team.TopPeople)
	}
	if team.Roles["Both"] != 1 || team.Workload["2 projects"] != 1 {
		t.Fatalf("unexpected distributions %v %v", team.Roles, team.Workload)
	}

	rec = env.do(http.MethodGet, "/api/engagement/clients", nil, nil)
	body := decodeMap(t, rec)
	if body["total_clients"] != 1.0 {
		t.Fatalf("unexpected clients body %v", body)
	}
}

func TestEngagementNotConfigured(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodGet, "/api/engagement/team", nil, nil)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", rec.Code)
	}
}
