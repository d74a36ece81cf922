package api

import (
	"errors"
	"html/template"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"github.com/bcgov/CRP-GSS-Project-Management/domain"
	"github.com/bcgov/CRP-GSS-Project-Management/engagement"
	"github.com/bcgov/CRP-GSS-Project-Management/portfolio"
	"github.com/bcgov/CRP-GSS-Project-Management/vault"
)

// dashboardPreview is how many projects each dashboard card lists.
const dashboardPreview = 3

func (s *server) registerPages(e *echo.Echo) {
	e.GET("/", s.indexPage)
	e.GET("/status-dashboard", s.statusDashboardPage)
	e.GET("/status/:category", s.statusCategoryPage)
	e.GET("/project/:id", s.projectPage)
	e.GET("/pmbok/:id", s.pmbokPage)
	e.GET("/edit-status/:id", s.editStatusPage)
	e.POST("/edit-status/:id", s.editStatusSubmit)
	e.POST("/project/:id/notes", s.notesSubmit)
	e.POST("/project/:id/actions", s.actionsSubmit)
	e.GET("/pmbok-report", s.pmbokReportPage)
	e.GET("/dendron-integration", s.dendronPage)
	e.POST("/dendron-integration/hub", s.hubSubmit)
	e.GET("/note/:name", s.notePage)
	e.POST("/note/:name/create", s.noteCreateSubmit)
	e.GET("/engagement", s.engagementPage)
}

type pageMeta struct {
	Title   string
	Message string
	Now     time.Time
	CSRF    string
}

func (s *server) meta(c echo.Context, title string) pageMeta {
	token, _ := c.Get(csrfContextKey).(string)
	return pageMeta{Title: title, Message: c.QueryParam("msg"), Now: s.now(), CSRF: token}
}

type labelCount struct {
	Key     string
	Label   string
	Tooltip string
	Count   int
	Percent int
}

func processGroupCounts(m domain.PortfolioMetrics) []labelCount {
	out := make([]labelCount, 0, len(domain.ProcessGroups))
	for _, g := range domain.ProcessGroups {
		n := m.ProcessGroups[g.Key]
		out = append(out, labelCount{Key: g.Key, Label: g.Name, Tooltip: g.Tooltip, Count: n, Percent: percent(n, m.Total)})
	}
	return out
}

func riskCounts(m domain.PortfolioMetrics) []labelCount {
	out := make([]labelCount, 0, 3)
	for _, level := range []string{domain.RiskHigh, domain.RiskMedium, domain.RiskLow} {
		n := m.RiskLevels[level]
		out = append(out, labelCount{Key: strings.ToLower(level), Label: level, Count: n, Percent: percent(n, m.Total)})
	}
	return out
}

type indexPage struct {
	pageMeta
	Metrics       domain.PortfolioMetrics
	ProcessGroups []labelCount
	Projects      []portfolio.ProjectView
	LoadedAt      time.Time
}

func (s *server) indexPage(c echo.Context) error {
	m := s.svc.Metrics()
	return c.Render(http.StatusOK, "index", indexPage{
		pageMeta:      s.meta(c, "CRP Project Portfolio"),
		Metrics:       m,
		ProcessGroups: processGroupCounts(m),
		Projects:      s.svc.ProjectViews(),
		LoadedAt:      s.svc.LoadedAt(),
	})
}

type dashboardCard struct {
	portfolio.CategoryCount
	Preview []portfolio.ProjectView
	More    int
}

type statusDashboardPage struct {
	pageMeta
	Cards []dashboardCard
	Total int
}

func (s *server) statusDashboardPage(c echo.Context) error {
	page := statusDashboardPage{pageMeta: s.meta(c, "Status Dashboard")}
	for _, cc := range s.svc.CategorySummary() {
		card := dashboardCard{CategoryCount: cc}
		if _, views, err := s.svc.CategoryViews(cc.Key); err == nil {
			if len(views) > dashboardPreview {
				card.More = len(views) - dashboardPreview
				views = views[:dashboardPreview]
			}
			card.Preview = views
		}
		page.Total += cc.Count
		page.Cards = append(page.Cards, card)
	}
	return c.Render(http.StatusOK, "status_dashboard", page)
}

type statusCategoryPage struct {
	pageMeta
	Category domain.StatusCategory
	Projects []portfolio.ProjectView
}

func (s *server) statusCategoryPage(c echo.Context) error {
	cat, views, err := s.svc.CategoryViews(c.Param("category"))
	if err != nil {
		return err
	}
	return c.Render(http.StatusOK, "status_category", statusCategoryPage{
		pageMeta: s.meta(c, cat.Name),
		Category: cat,
		Projects: views,
	})
}

type projectPage struct {
	pageMeta
	View        portfolio.ProjectView
	ActionsText string
	VaultFound  bool
	VaultNotes  []vault.Note
	NoteName    string
}

func (s *server) projectPage(c echo.Context) error {
	view, err := s.svc.ProjectView(c.Param("id"))
	if err != nil {
		return err
	}
	page := projectPage{
		pageMeta:    s.meta(c, view.DisplayName),
		View:        view,
		ActionsText: strings.Join(view.Actions, "\n"),
		VaultFound:  s.vault != nil,
		NoteName:    vault.ProjectNoteName(view.ID),
	}
	if s.vault != nil {
		notes, err := s.vault.FindProjectNotes(view.ID, view.Project.Name())
		if err != nil {
			s.logger.WithFields(log.Fields{"error": err, "project": view.ID}).Warn("Failed to list project notes")
		}
		page.VaultNotes = notes
	}
	return c.Render(http.StatusOK, "project", page)
}

type pmbokPage struct {
	pageMeta
	View           portfolio.ProjectView
	ProcessGroups  []domain.ProcessGroup
	KnowledgeAreas []string
}

func (s *server) pmbokPage(c echo.Context) error {
	view, err := s.svc.ProjectView(c.Param("id"))
	if err != nil {
		return err
	}
	areas := make([]string, 0, len(domain.KnowledgeAreas))
	for _, ka := range domain.KnowledgeAreas {
		areas = append(areas, ka.Name)
	}
	return c.Render(http.StatusOK, "pmbok", pmbokPage{
		pageMeta:       s.meta(c, "PMBOK Analysis: "+view.DisplayName),
		View:           view,
		ProcessGroups:  domain.ProcessGroups,
		KnowledgeAreas: areas,
	})
}

type editStatusPage struct {
	pageMeta
	View    portfolio.ProjectView
	Options []string
	Return  string
}

func (s *server) editStatusPage(c echo.Context) error {
	view, err := s.svc.ProjectView(c.Param("id"))
	if err != nil {
		return err
	}
	return c.Render(http.StatusOK, "edit_status", editStatusPage{
		pageMeta: s.meta(c, "Edit Status: "+view.DisplayName),
		View:     view,
		Options:  s.svc.Catalog().StatusOptions(),
		Return:   safeReturn(c.QueryParam("return"), "/project/"+url.PathEscape(view.ID)),
	})
}

// formEditor identifies the editor of a form post.
func (s *server) formEditor(c echo.Context) (string, error) {
	editor, err := s.auth.EditorFromRequest(c.Request())
	if err != nil {
		return "", echo.NewHTTPError(http.StatusUnauthorized, err.Error())
	}
	return editor, nil
}

func (s *server) redirect(c echo.Context, target, msg string) error {
	return c.Redirect(http.StatusSeeOther, withMessage(target, msg))
}

func (s *server) editStatusSubmit(c echo.Context) error {
	id := c.Param("id")
	editor, err := s.formEditor(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	back := safeReturn(c.FormValue("return"), "/project/"+url.PathEscape(id))

	switch c.FormValue("action") {
	case "reset":
		if err := s.svc.ResetStatus(ctx, id, editor); err != nil {
			return err
		}
		return s.redirect(c, back, "Status reset to the source value")
	default:
		status := strings.TrimSpace(c.FormValue("status"))
		err := s.svc.UpdateStatus(ctx, id, status, editor)
		if errors.Is(err, portfolio.ErrEmptyStatus) {
			return s.redirect(c, "/edit-status/"+url.PathEscape(id), "Please select a status")
		}
		if err != nil {
			return err
		}
		return s.redirect(c, back, "Status updated to "+status)
	}
}

func (s *server) notesSubmit(c echo.Context) error {
	id := c.Param("id")
	editor, err := s.formEditor(c)
	if err != nil {
		return err
	}
	if err := s.svc.UpdateNotes(c.Request().Context(), id, c.FormValue("notes"), editor); err != nil {
		return err
	}
	return s.redirect(c, "/project/"+url.PathEscape(id), "Notes saved")
}

func (s *server) actionsSubmit(c echo.Context) error {
	id := c.Param("id")
	editor, err := s.formEditor(c)
	if err != nil {
		return err
	}
	if err := s.svc.UpdateActions(c.Request().Context(), id, c.FormValue("actions"), editor); err != nil {
		return err
	}
	return s.redirect(c, "/project/"+url.PathEscape(id), "Coordinator actions saved")
}

type pmbokReportPage struct {
	pageMeta
	Metrics       domain.PortfolioMetrics
	HealthPercent int
	ProcessGroups []labelCount
	Risks         []labelCount
}

func (s *server) pmbokReportPage(c echo.Context) error {
	m := s.svc.Metrics()
	return c.Render(http.StatusOK, "pmbok_report", pmbokReportPage{
		pageMeta:      s.meta(c, "PMBOK Portfolio Report"),
		Metrics:       m,
		HealthPercent: percent(m.OnTrack, m.Total),
		ProcessGroups: processGroupCounts(m),
		Risks:         riskCounts(m),
	})
}

type dendronPage struct {
	pageMeta
	Status   vault.Status
	Hub      template.HTML
	HubFound bool
	Notes    []vault.Note
	Projects []portfolio.ProjectView
}

func (s *server) dendronPage(c echo.Context) error {
	page := dendronPage{pageMeta: s.meta(c, "Dendron Integration"), Status: vault.NotFoundStatus()}
	if s.vault != nil {
		page.Status = s.vault.Status()
		if hub, err := s.vault.ReadNote(vault.HubName); err == nil {
			page.HubFound = true
			if page.Hub, err = vault.Render(hub.Body); err != nil {
				s.logger.WithError(err).Warn("Failed to render hub note")
			}
		}
		notes, err := s.vault.ListPortalNotes()
		if err != nil {
			s.logger.WithError(err).Warn("Failed to list portal notes")
		}
		page.Notes = notes
		page.Projects = s.svc.ProjectViews()
	}
	return c.Render(http.StatusOK, "dendron", page)
}

func (s *server) hubSubmit(c echo.Context) error {
	if _, err := s.formEditor(c); err != nil {
		return err
	}
	if _, err := s.hubNote(); err != nil {
		return err
	}
	return s.redirect(c, "/dendron-integration", "Hub note updated")
}

type notePage struct {
	pageMeta
	Name         string
	VaultFound   bool
	Note         *vault.Note
	HTML         template.HTML
	ProjectID    string
	CanCreate    bool
	ProjectTitle string
}

func (s *server) notePage(c echo.Context) error {
	name := c.Param("name")
	if err := vault.ValidateName(name); err != nil {
		return err
	}
	page := notePage{pageMeta: s.meta(c, name), Name: name, VaultFound: s.vault != nil}
	if s.vault == nil {
		return c.Render(http.StatusNotFound, "note", page)
	}

	note, err := s.vault.ReadNote(name)
	switch {
	case errors.Is(err, vault.ErrNoteNotFound):
		if id, ok := vault.ProjectIDFromNote(name); ok {
			if p, perr := s.svc.Project(id); perr == nil {
				page.ProjectID, page.CanCreate, page.ProjectTitle = p.ID(), true, p.DisplayName()
			}
		}
		return c.Render(http.StatusNotFound, "note", page)
	case err != nil:
		return err
	}

	page.Note = note
	if title, ok := note.Frontmatter["title"].(string); ok && title != "" {
		page.Title = title
	}
	if page.HTML, err = vault.Render(note.Body); err != nil {
		return err
	}
	return c.Render(http.StatusOK, "note", page)
}

func (s *server) noteCreateSubmit(c echo.Context) error {
	name := c.Param("name")
	if _, err := s.formEditor(c); err != nil {
		return err
	}
	id, ok := vault.ProjectIDFromNote(name)
	if !ok {
		return echo.NewHTTPError(http.StatusBadRequest, "only project notes can be created")
	}
	_, created, err := s.createNote(id)
	if err != nil {
		return err
	}
	msg := "Note already exists"
	if created {
		msg = "Note created"
	}
	return s.redirect(c, "/note/"+url.PathEscape(name), msg)
}

type engagementPage struct {
	pageMeta
	Validation engagement.Validation
	Error      string
	Team       *engagement.TeamReport
	Workload   []labelCount
	Roles      []labelCount
	TopPeople  []engagement.RankedPerson
	Clients    *engagement.ClientReport
	TopClients []engagement.RankedClient
}

func (s *server) engagementPage(c echo.Context) error {
	page := engagementPage{pageMeta: s.meta(c, "Team Engagement"), Validation: s.validation}
	if s.analyzer == nil || !s.validation.IsValid {
		return c.Render(http.StatusOK, "engagement", page)
	}

	ctx := c.Request().Context()
	team, err := s.analyzer.AnalyzeTeam(ctx)
	if err != nil {
		s.logger.WithError(err).Error("Team engagement analysis failed")
		page.Error = err.Error()
		return c.Render(http.StatusBadGateway, "engagement", page)
	}
	page.Team = team
	workload := engagement.Workload(team.People)
	for _, b := range engagement.WorkloadBuckets {
		page.Workload = append(page.Workload, labelCount{Label: b, Count: workload[b], Percent: percent(workload[b], team.TotalPeople)})
	}
	roles := engagement.Roles(team.People)
	for _, r := range []string{"Coordinator", "Other", "Both"} {
		page.Roles = append(page.Roles, labelCount{Label: r, Count: roles[r], Percent: percent(roles[r], team.TotalPeople)})
	}
	page.TopPeople = engagement.TopPeople(team.People, s.topN)

	clients, err := s.analyzer.AnalyzeClients(ctx)
	if err != nil {
		s.logger.WithError(err).Warn("Client engagement analysis failed")
	} else {
		page.Clients = clients
		page.TopClients = engagement.TopClients(clients.Clients, s.topN)
	}
	return c.Render(http.StatusOK, "engagement", page)
}

type errorPage struct {
	pageMeta
	Status int
	Detail string
}
