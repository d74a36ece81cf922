package vault

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Note is one markdown note.
type Note struct {
	Name        string         `json:"name"`
	Path        string         `json:"path"`
	Modified    time.Time      `json:"modified"`
	Size        int64          `json:"size"`
	Frontmatter map[string]any `json:"frontmatter,omitempty"`
	Body        string         `json:"content,omitempty"`
}

// HubName is the name of the portal hub note.
const HubName = Hierarchy

// ProjectNoteName returns the note name for a project.
func ProjectNoteName(id string) string {
	return Hierarchy + "." + id
}

// ProjectIDFromNote returns the project ID of a direct project note name.
func ProjectIDFromNote(name string) (string, bool) {
	id, ok := strings.CutPrefix(name, Hierarchy+".")
	if !ok || id == "" || strings.Contains(id, ".") {
		return "", false
	}
	return id, true
}

// ReadNote reads a note by name from the notes directory.
func (v *Vault) ReadNote(name string) (*Note, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	path := filepath.Join(v.notes, name+".md")
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", name, ErrNoteNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read note %s: %w", name, err)
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat note %s: %w", name, err)
	}
	meta, body := splitFrontmatter(data)
	fm := map[string]any{}
	if meta != nil {
		if err := yaml.Unmarshal(meta, &fm); err != nil {
			v.logger.WithFields(log.Fields{"note": name, "error": err}).Warn("Invalid note frontmatter")
			fm = map[string]any{}
		}
	}
	return &Note{
		Name:        name,
		Path:        path,
		Modified:    info.ModTime(),
		Size:        info.Size(),
		Frontmatter: fm,
		Body:        strings.TrimSpace(string(body)),
	}, nil
}

// splitFrontmatter separates a leading "---" YAML block from the body. Notes
// without a complete block are all body.
func splitFrontmatter(data []byte) (meta, body []byte) {
	data = bytes.ReplaceAll(data, []byte("\r\n"), []byte("\n"))
	if !bytes.HasPrefix(data, []byte("---\n")) {
		return nil, data
	}
	rest := data[4:]
	if bytes.HasPrefix(rest, []byte("---\n")) {
		return []byte{}, rest[4:]
	}
	end := bytes.Index(rest, []byte("\n---\n"))
	if end < 0 {
		if bytes.HasSuffix(rest, []byte("\n---")) {
			return rest[:len(rest)-4], nil
		}
		return nil, data
	}
	return rest[:end], rest[end+5:]
}

// FindProjectNotes lists notes about a project, newest first. Notes are
// matched by the project hierarchy, by ID anywhere in the name, and by the
// slugged project name.
func (v *Vault) FindProjectNotes(id, projectName string) ([]Note, error) {
	patterns := []string{
		escapeGlob(ProjectNoteName(id)) + "*.md",
		"*" + escapeGlob(id) + "*.md",
	}
	if slug := Slug(projectName); slug != "" {
		patterns = append(patterns, escapeGlob(Hierarchy+"."+slug)+"*.md")
	}
	return v.glob(patterns...)
}

// ListPortalNotes lists every note in the portal hierarchy, newest first.
func (v *Vault) ListPortalNotes() ([]Note, error) {
	return v.glob(escapeGlob(Hierarchy) + "*.md")
}

func (v *Vault) glob(patterns ...string) ([]Note, error) {
	fsys := os.DirFS(v.notes)
	seen := map[string]struct{}{}
	var notes []Note
	for _, pattern := range patterns {
		matches, err := doublestar.Glob(fsys, pattern)
		if err != nil {
			return nil, fmt.Errorf("search notes %q: %w", pattern, err)
		}
		for _, m := range matches {
			if _, dup := seen[m]; dup {
				continue
			}
			path := filepath.Join(v.notes, m)
			info, err := os.Stat(path)
			if err != nil || !info.Mode().IsRegular() {
				continue
			}
			seen[m] = struct{}{}
			notes = append(notes, Note{
				Name:     strings.TrimSuffix(m, ".md"),
				Path:     path,
				Modified: info.ModTime(),
				Size:     info.Size(),
			})
		}
	}
	sort.SliceStable(notes, func(i, j int) bool {
		if !notes[i].Modified.Equal(notes[j].Modified) {
			return notes[i].Modified.After(notes[j].Modified)
		}
		return notes[i].Name < notes[j].Name
	})
	return notes, nil
}

// Slug lowercases a project name and replaces spaces and slashes with dashes.
func Slug(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	return strings.NewReplacer(" ", "-", "/", "-").Replace(name)
}

func escapeGlob(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '{', '}', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
