package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"github.com/bcgov/CRP-GSS-Project-Management/arcgis"
	"github.com/bcgov/CRP-GSS-Project-Management/engagement"
	"github.com/bcgov/CRP-GSS-Project-Management/portfolio"
	"github.com/bcgov/CRP-GSS-Project-Management/vault"
)

func (s *server) registerAPI(e *echo.Echo) {
	g := e.Group("/api")
	g.GET("/projects", observed("/api/projects", s.logger, s.listProjects))
	g.GET("/projects/:id", observed("/api/projects/:id", s.logger, s.getProject))
	g.PUT("/projects/:id/status", s.putStatus)
	g.DELETE("/projects/:id/status", s.deleteStatus)
	g.PUT("/projects/:id/notes", s.putNotes)
	g.PUT("/projects/:id/actions", s.putActions)
	g.GET("/metrics", observed("/api/metrics", s.logger, s.getMetrics))
	g.GET("/status-categories", observed("/api/status-categories", s.logger, s.listCategories))
	g.GET("/status-categories/:category", observed("/api/status-categories/:category", s.logger, s.getCategory))
	g.POST("/refresh", s.refresh)
	g.GET("/vault/status", observed("/api/vault/status", s.logger, s.vaultStatus))
	g.GET("/vault/projects/:id/notes", observed("/api/vault/projects/:id/notes", s.logger, s.projectNotes))
	g.POST("/vault/projects/:id/note", s.createProjectNote)
	g.POST("/vault/hub", s.writeHub)
	g.GET("/engagement/team", observed("/api/engagement/team", s.logger, s.engagementTeam))
	g.GET("/engagement/clients", observed("/api/engagement/clients", s.logger, s.engagementClients))
}

// respond encodes body and records the encode time.
func respond(c echo.Context, m *requestMetrics, body any) error {
	start := time.Now()
	err := c.JSON(http.StatusOK, body)
	m.ObserveEncode(time.Since(start))
	if err != nil {
		m.SetErrorStage("encode_response")
	}
	return err
}

func fail(c echo.Context, m *requestMetrics, stage string, err error) error {
	m.SetErrorStage(stage)
	return jsonError(c, err)
}

func (s *server) listProjects(c echo.Context, m *requestMetrics) error {
	start := time.Now()
	views := s.svc.ProjectViews()
	m.ObserveFetch(time.Since(start))
	m.SetItemsReturned(len(views))

	resp := projectsResponse{Projects: views, Total: len(views)}
	if at := s.svc.LoadedAt(); !at.IsZero() {
		resp.LoadedAt = at.UTC().Format(time.RFC3339)
	}
	return respond(c, m, resp)
}

func (s *server) getProject(c echo.Context, m *requestMetrics) error {
	start := time.Now()
	view, err := s.svc.ProjectView(c.Param("id"))
	m.ObserveFetch(time.Since(start))
	if err != nil {
		return fail(c, m, "lookup", err)
	}
	m.SetItemsReturned(1)
	return respond(c, m, view)
}

func (s *server) getMetrics(c echo.Context, m *requestMetrics) error {
	start := time.Now()
	metrics := s.svc.Metrics()
	m.ObserveFetch(time.Since(start))
	m.SetItemsReturned(metrics.Total)
	return respond(c, m, metrics)
}

func (s *server) listCategories(c echo.Context, m *requestMetrics) error {
	summary := s.svc.CategorySummary()
	m.SetItemsReturned(len(summary))
	return respond(c, m, summary)
}

func (s *server) getCategory(c echo.Context, m *requestMetrics) error {
	start := time.Now()
	cat, views, err := s.svc.CategoryViews(c.Param("category"))
	m.ObserveFetch(time.Since(start))
	if err != nil {
		return fail(c, m, "lookup", err)
	}
	m.SetItemsReturned(len(views))
	return respond(c, m, categoryResponse{Category: cat, Projects: views})
}

func (s *server) putStatus(c echo.Context) error {
	var req statusRequest
	if err := decodeBody(c, &req); err != nil {
		return jsonError(c, err)
	}
	id := c.Param("id")
	return s.write(c, id, func(ctx context.Context, editor string) error {
		return s.svc.UpdateStatus(ctx, id, req.Status, editor)
	})
}

func (s *server) deleteStatus(c echo.Context) error {
	id := c.Param("id")
	return s.write(c, id, func(ctx context.Context, editor string) error {
		return s.svc.ResetStatus(ctx, id, editor)
	})
}

func (s *server) putNotes(c echo.Context) error {
	var req notesRequest
	if err := decodeBody(c, &req); err != nil {
		return jsonError(c, err)
	}
	id := c.Param("id")
	return s.write(c, id, func(ctx context.Context, editor string) error {
		return s.svc.UpdateNotes(ctx, id, req.Notes, editor)
	})
}

func (s *server) putActions(c echo.Context) error {
	var req actionsRequest
	if err := decodeBody(c, &req); err != nil {
		return jsonError(c, err)
	}
	id := c.Param("id")
	return s.write(c, id, func(ctx context.Context, editor string) error {
		return s.svc.UpdateActions(ctx, id, req.Actions, editor)
	})
}

// write authenticates the editor, applies the Idempotency-Key and runs fn.
// A failed write releases the key so the client can retry.
func (s *server) write(c echo.Context, id string, fn func(ctx context.Context, editor string) error) error {
	editor, err := s.auth.EditorFromRequest(c.Request())
	if err != nil {
		return c.JSON(http.StatusUnauthorized, errorResponse{Error: err.Error()})
	}
	ctx := c.Request().Context()

	key := strings.TrimSpace(c.Request().Header.Get(idempotencyHeader))
	if key != "" && s.deduper != nil {
		added, derr := s.deduper.Add(ctx, editor, key)
		switch {
		case derr != nil:
			s.logger.WithFields(log.Fields{"error": derr, "project": id}).Warn("Idempotency check failed; applying write")
			key = ""
		case !added:
			return c.JSON(http.StatusOK, writeResponse{Status: "duplicate"})
		}
	} else {
		key = ""
	}

	if err := fn(ctx, editor); err != nil {
		if key != "" {
			if rerr := s.deduper.Remove(context.WithoutCancel(ctx), editor, key); rerr != nil {
				s.logger.WithFields(log.Fields{"error": rerr, "key": key}).Warn("Failed to release idempotency key")
			}
		}
		return jsonError(c, err)
	}

	view, err := s.svc.ProjectView(id)
	if err != nil {
		return jsonError(c, err)
	}
	return c.JSON(http.StatusOK, writeResponse{Status: "ok", Project: &view})
}

func (s *server) refresh(c echo.Context) error {
	if _, err := s.auth.EditorFromRequest(c.Request()); err != nil {
		return c.JSON(http.StatusUnauthorized, errorResponse{Error: err.Error()})
	}
	n, err := s.svc.Refresh(c.Request().Context())
	if err != nil {
		return jsonError(c, err)
	}
	return c.JSON(http.StatusOK, refreshResponse{
		Projects: n,
		LoadedAt: s.svc.LoadedAt().UTC().Format(time.RFC3339),
	})
}

func (s *server) vaultStatus(c echo.Context, m *requestMetrics) error {
	if s.vault == nil {
		return respond(c, m, vault.NotFoundStatus())
	}
	start := time.Now()
	st := s.vault.Status()
	m.ObserveFetch(time.Since(start))
	m.SetItemsReturned(st.NoteCount)
	return respond(c, m, st)
}

func (s *server) projectNotes(c echo.Context, m *requestMetrics) error {
	if s.vault == nil {
		return fail(c, m, "vault", vault.ErrVaultNotFound)
	}
	p, err := s.svc.Project(c.Param("id"))
	if err != nil {
		return fail(c, m, "lookup", err)
	}
	start := time.Now()
	notes, err := s.vault.FindProjectNotes(p.ID(), p.Name())
	m.ObserveFetch(time.Since(start))
	if err != nil {
		return fail(c, m, "vault", err)
	}
	if notes == nil {
		notes = []vault.Note{}
	}
	m.SetItemsReturned(len(notes))
	return respond(c, m, projectNotesResponse{ProjectID: p.ID(), Notes: notes})
}

func (s *server) createProjectNote(c echo.Context) error {
	if _, err := s.auth.EditorFromRequest(c.Request()); err != nil {
		return c.JSON(http.StatusUnauthorized, errorResponse{Error: err.Error()})
	}
	path, created, err := s.createNote(c.Param("id"))
	if err != nil {
		return jsonError(c, err)
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	return c.JSON(status, createNoteResponse{Path: path, Created: created})
}

func (s *server) createNote(id string) (string, bool, error) {
	if s.vault == nil {
		return "", false, vault.ErrVaultNotFound
	}
	view, err := s.svc.ProjectView(id)
	if err != nil {
		return "", false, err
	}
	return s.vault.CreateProjectNote(portfolio.NoteFor(view), s.now())
}

func (s *server) writeHub(c echo.Context) error {
	if _, err := s.auth.EditorFromRequest(c.Request()); err != nil {
		return c.JSON(http.StatusUnauthorized, errorResponse{Error: err.Error()})
	}
	path, err := s.hubNote()
	if err != nil {
		return jsonError(c, err)
	}
	return c.JSON(http.StatusOK, createNoteResponse{Path: path, Created: true})
}

func (s *server) hubNote() (string, error) {
	if s.vault == nil {
		return "", vault.ErrVaultNotFound
	}
	return s.vault.WriteHubNote(s.svc.Hub(), s.now())
}

func (s *server) engagementTeam(c echo.Context, m *requestMetrics) error {
	if s.analyzer == nil {
		return fail(c, m, "config", arcgis.ErrNotConfigured)
	}
	start := time.Now()
	report, err := s.analyzer.AnalyzeTeam(c.Request().Context())
	m.ObserveFetch(time.Since(start))
	if err != nil {
		return fail(c, m, "arcgis", err)
	}
	m.SetItemsReturned(report.TotalPeople)
	return respond(c, m, teamResponse{
		TeamReport: report,
		Workload:   engagement.Workload(report.People),
		Roles:      engagement.Roles(report.People),
		TopPeople:  engagement.TopPeople(report.People, s.topN),
	})
}

func (s *server) engagementClients(c echo.Context, m *requestMetrics) error {
	if s.analyzer == nil {
		return fail(c, m, "config", arcgis.ErrNotConfigured)
	}
	start := time.Now()
	report, err := s.analyzer.AnalyzeClients(c.Request().Context())
	m.ObserveFetch(time.Since(start))
	if err != nil {
		return fail(c, m, "arcgis", err)
	}
	m.SetItemsReturned(report.TotalClients)
	return respond(c, m, clientsResponse{
		ClientReport: report,
		TopClients:   engagement.TopClients(report.Clients, s.topN),
	})
}
