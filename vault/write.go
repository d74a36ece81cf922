package vault

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"text/template"
	"time"

	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/bcgov/CRP-GSS-Project-Management/domain"
)

// ProjectNote is the project data written into a new project note.
type ProjectNote struct {
	ID          string
	Name        string
	Number      string
	Status      string
	Lead        string
	Due         string
	Phase       string
	Description string
	Priority    string
	Team        []string
}

// HubProject is one active project listed on the hub note.
type HubProject struct {
	ID     string
	Name   string
	Status string
	Lead   string
	Due    string
}

// Hub is the data rendered into the hub note.
type Hub struct {
	Metrics domain.PortfolioMetrics
	Active  []HubProject
}

const hubListLimit = 10

type projectFrontmatter struct {
	ID          string   `yaml:"id"`
	Title       string   `yaml:"title"`
	Desc        string   `yaml:"desc"`
	Updated     int64    `yaml:"updated"`
	Created     int64    `yaml:"created"`
	ProjectID   string   `yaml:"project_id"`
	ProjectName string   `yaml:"project_name"`
	Status      string   `yaml:"status"`
	Tags        []string `yaml:"tags"`
	Parent      string   `yaml:"parent"`
}

type hubFrontmatter struct {
	ID       string   `yaml:"id"`
	Title    string   `yaml:"title"`
	Desc     string   `yaml:"desc"`
	Updated  int64    `yaml:"updated"`
	Created  int64    `yaml:"created"`
	Tags     []string `yaml:"tags"`
	Children []string `yaml:"children"`
}

// CreateProjectNote writes the note for a project unless it already exists.
// It returns the note path and whether the note was created.
func (v *Vault) CreateProjectNote(p ProjectNote, now time.Time) (string, bool, error) {
	name := ProjectNoteName(p.ID)
	if err := ValidateName(name); err != nil {
		return "", false, err
	}
	path := filepath.Join(v.notes, name+".md")
	if _, err := os.Stat(path); err == nil {
		return path, false, nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return "", false, fmt.Errorf("stat %s: %w", path, err)
	}

	if p.Name == "" {
		p.Name = "Project " + p.ID
	}
	if p.Status == "" {
		p.Status = "Active"
	}
	fm := projectFrontmatter{
		ID:          strings.ToLower(name),
		Title:       fmt.Sprintf("Caribou Portal - Project %s: %s", p.ID, p.Name),
		Desc:        fmt.Sprintf("PMBOK project management for %s (ID: %s)", p.Name, p.ID),
		Updated:     now.UnixMilli(),
		Created:     now.UnixMilli(),
		ProjectID:   p.ID,
		ProjectName: p.Name,
		Status:      p.Status,
		Tags:        []string{"caribou-portal", "pmbok", "project", strings.ToLower(p.ID)},
		Parent:      Hierarchy,
	}
	data := struct {
		ProjectNote
		Portal    string
		Hierarchy string
		Generated string
	}{p, v.portalURL, Hierarchy, now.Format("2006-01-02 15:04:05")}

	if err := v.writeNote(path, fm, projectTemplate, data, false); errors.Is(err, fs.ErrExist) {
		return path, false, nil
	} else if err != nil {
		return "", false, err
	}
	v.logger.WithFields(log.Fields{"note": name, "project": p.ID}).Info("Created project note")
	return path, true, nil
}

// WriteHubNote regenerates the hub note linking the active projects.
func (v *Vault) WriteHubNote(h Hub, now time.Time) (string, error) {
	path := filepath.Join(v.notes, HubName+".md")
	created := now.UnixMilli()
	if existing, err := v.ReadNote(HubName); err == nil {
		if c, ok := existing.Frontmatter["created"].(int); ok {
			created = int64(c)
		}
	}

	fm := hubFrontmatter{
		ID:       strings.ToLower(HubName),
		Title:    "Caribou Portal - PMBOK Project Management System",
		Desc:     "Main hub for PMBOK-aligned project management in Dendron",
		Updated:  now.UnixMilli(),
		Created:  created,
		Tags:     []string{"caribou-portal", "pmbok", "project-management", "index"},
		Children: []string{},
	}
	for _, p := range h.Active {
		if p.ID != "" {
			fm.Children = append(fm.Children, strings.ToLower(ProjectNoteName(p.ID)))
		}
	}

	listed := h.Active
	if len(listed) > hubListLimit {
		listed = listed[:hubListLimit]
	}
	data := struct {
		Metrics   domain.PortfolioMetrics
		Listed    []HubProject
		More      int
		Portal    string
		Hierarchy string
		Generated string
	}{h.Metrics, listed, len(h.Active) - len(listed), v.portalURL, Hierarchy, now.Format("2006-01-02 15:04:05")}

	if err := v.writeNote(path, fm, hubTemplate, data, true); err != nil {
		return "", err
	}
	v.logger.WithFields(log.Fields{"note": HubName, "active": len(h.Active)}).Info("Wrote hub note")
	return path, nil
}

func (v *Vault) writeNote(path string, frontmatter any, tmpl *template.Template, data any, overwrite bool) error {
	meta, err := yaml.Marshal(frontmatter)
	if err != nil {
		return fmt.Errorf("encode frontmatter: %w", err)
	}
	var buf bytes.Buffer
	buf.WriteString("---\n")
	buf.Write(meta)
	buf.WriteString("---\n\n")
	if err := tmpl.Execute(&buf, data); err != nil {
		return fmt.Errorf("render %s: %w", filepath.Base(path), err)
	}

	return writeFileAtomic(path, buf.Bytes(), 0o644, overwrite)
}

// tempPrefix names in-progress writes. Notes are listed by their .md
// extension so these never show up as notes.
const tempPrefix = ".portal-tmp-"

// writeFileAtomic writes data to a temp file in the target directory and
// moves it into place. Without overwrite the file is published with a hard
// link, which fails when the target already exists.
func writeFileAtomic(path string, data []byte, perm os.FileMode, overwrite bool) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), tempPrefix+"*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmp.Name(), perm); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}

	if !overwrite {
		if err := os.Link(tmp.Name(), path); err != nil {
			return fmt.Errorf("publish %s: %w", path, err)
		}
		return nil
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename temp file to %s: %w", path, err)
	}
	return nil
}

var projectTemplate = template.Must(template.New("project").Parse(`# Caribou Portal - Project {{.ID}}: {{.Name}}

> Part of the [[{{.Hierarchy}}]] PMBOK project management system

## Quick Links
- [PMBOK Portal Project View]({{.Portal}}/pmbok/{{.ID}})
- [Project Dashboard]({{.Portal}})
- [GSS Caribou Support Information]({{.Portal}}/dendron-integration)

## Project Overview
- **Project ID**: {{.ID}}
- **Status**: {{.Status}}
- **Team Lead**: {{or .Lead "Unassigned"}}
- **Due Date**: {{or .Due "Not specified"}}
- **PMBOK Phase**: {{.Phase}}

## Team Members
{{range .Team}}- {{.}}
{{else}}- No team members assigned
{{end}}
## Project Details
- **Description**: {{or .Description "No description available"}}
- **Priority**: {{or .Priority "Not specified"}}
- **Project Number**: {{or .Number "Not specified"}}

---

## Project Notes

### Meeting Notes
<!-- Add meeting notes here -->

### Action Items
<!-- Add action items here -->
- [ ] 

### Decisions Made
<!-- Add project decisions here -->

### Risks & Issues
<!-- Add risks and issues here -->

---

## Related Pages
- [[{{.Hierarchy}}.{{.ID}}.meetings]] - Meeting notes
- [[{{.Hierarchy}}.{{.ID}}.tasks]] - Task tracking
- [[{{.Hierarchy}}.{{.ID}}.decisions]] - Decision log
- [[{{.Hierarchy}}.{{.ID}}.risks]] - Risk register

---

*Generated by Caribou Portal on {{.Generated}}*
`))

var hubTemplate = template.Must(template.New("hub").Parse(`# Caribou Portal - PMBOK Project Management System

> **PMBOK 7th Edition Aligned Dashboard**
> PMI Project Management Body of Knowledge implementation for portfolio management

## Quick Access
- [Portfolio Dashboard]({{.Portal}})
- [PMBOK Analysis Report]({{.Portal}}/pmbok-report)
- [Status Dashboard]({{.Portal}}/status-dashboard)
- [GSS Caribou Support Information]({{.Portal}}/dendron-integration)

## Portfolio Metrics
- **Total Projects**: {{.Metrics.Total}}
- **On Track**: {{.Metrics.OnTrack}}
- **At Risk**: {{.Metrics.AtRisk}}
- **Overdue**: {{.Metrics.Overdue}}

---

## Active Projects
{{range .Listed}}
### [[{{$.Hierarchy}}.{{.ID}}|{{.ID}}: {{or .Name "Unnamed Project"}}]]
- **Status**: {{.Status}}
- **Lead**: {{or .Lead "Unassigned"}}
- **Due**: {{or .Due "Not specified"}}
{{else}}
*No active projects*
{{end}}{{if gt .More 0}}
*...and {{.More}} more projects*
{{end}}
---

## Note Templates
- **Project Overview**: [[{{.Hierarchy}}.PROJECT_ID]]
- **Meeting Notes**: [[{{.Hierarchy}}.PROJECT_ID.meetings]]
- **Task Tracking**: [[{{.Hierarchy}}.PROJECT_ID.tasks]]
- **Decision Log**: [[{{.Hierarchy}}.PROJECT_ID.decisions]]
- **Risk Register**: [[{{.Hierarchy}}.PROJECT_ID.risks]]

---

*Last updated: {{.Generated}}*

## Related Systems
- [[WLRS.LUP.CRP]] - Collaborative Resource Platform
`))
