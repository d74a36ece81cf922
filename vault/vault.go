// Package vault reads and writes portal notes in a local Dendron vault.
package vault

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

const (
	configFile = "dendron.yml"
	notesDir   = "notes"

	// Hierarchy is the Dendron hierarchy holding all portal notes.
	Hierarchy = "WLRS.LUP.CRP.caribou-portal"
)

var (
	// ErrVaultNotFound is returned when no directory holds a dendron.yml.
	ErrVaultNotFound = errors.New("dendron vault not found")
	// ErrNoteNotFound is returned for notes missing from the vault.
	ErrNoteNotFound = errors.New("note not found")
	// ErrInvalidNoteName is returned for names that could escape the notes
	// directory or act as a glob.
	ErrInvalidNoteName = errors.New("invalid note name")
)

// DefaultFallbacks are the vault locations tried when DENDRON is unset.
func DefaultFallbacks() []string {
	return []string{
		"~/Dendron",
		"~/dendron",
		"~/Documents/Dendron",
		"~/Documents/dendron",
		"~/notes",
		"~/Notes",
		"~/.vscode/workspaces",
	}
}

// Discover locates the vault. An explicit path containing dendron.yml wins;
// otherwise the first fallback (or one of its immediate subdirectories)
// containing dendron.yml is used.
func Discover(explicit string, fallbacks []string, logger *log.Logger) (string, error) {
	if logger == nil {
		logger = log.StandardLogger()
	}
	if explicit != "" {
		path := expandHome(explicit)
		switch {
		case !isDir(path):
			logger.WithField("path", path).Warn("DENDRON path does not exist")
		case !isFile(filepath.Join(path, configFile)):
			logger.WithField("path", path).Warn("DENDRON path has no dendron.yml")
		default:
			return path, nil
		}
	}
	for _, candidate := range fallbacks {
		path := expandHome(candidate)
		if !isDir(path) {
			continue
		}
		if isFile(filepath.Join(path, configFile)) {
			return path, nil
		}
		entries, err := os.ReadDir(path)
		if err != nil {
			continue
		}
		for _, e := range entries {
			sub := filepath.Join(path, e.Name())
			if e.IsDir() && isFile(filepath.Join(sub, configFile)) {
				return sub, nil
			}
		}
	}
	return "", ErrVaultNotFound
}

// Options configure a Vault.
type Options struct {
	// PortalURL is linked from generated notes.
	PortalURL string
	Logger    *log.Logger
}

// Vault is an opened Dendron vault.
type Vault struct {
	root      string
	notes     string
	portalURL string
	logger    *log.Logger

	mu       sync.Mutex
	watching bool
	status   *Status
}

// Open opens the vault at root. Notes live in root/notes when that directory
// exists, otherwise directly in root.
func Open(root string, opts Options) (*Vault, error) {
	if !isFile(filepath.Join(root, configFile)) {
		return nil, fmt.Errorf("%s: %w", root, ErrVaultNotFound)
	}
	if opts.Logger == nil {
		opts.Logger = log.StandardLogger()
	}
	if opts.PortalURL == "" {
		opts.PortalURL = "http://localhost:8080"
	}
	notes := root
	if isDir(filepath.Join(root, notesDir)) {
		notes = filepath.Join(root, notesDir)
	}
	return &Vault{
		root:      root,
		notes:     notes,
		portalURL: strings.TrimRight(opts.PortalURL, "/"),
		logger:    opts.Logger,
	}, nil
}

// Root returns the vault directory.
func (v *Vault) Root() string { return v.root }

// NotesDir returns the directory notes are read from and written to.
func (v *Vault) NotesDir() string { return v.notes }

// Status describes the vault for the integration page.
type Status struct {
	Found        bool     `json:"vault_found"`
	Path         string   `json:"vault_path"`
	NotesPath    string   `json:"notes_path"`
	CanRead      bool     `json:"can_read"`
	CanWrite     bool     `json:"can_write"`
	NoteCount    int      `json:"note_count"`
	ProjectNotes int      `json:"project_notes"`
	Vaults       []string `json:"vaults,omitempty"`
}

// NotFoundStatus is reported when no vault could be discovered.
func NotFoundStatus() Status { return Status{} }

// Status inspects the vault. The result is cached while a watcher is running.
func (v *Vault) Status() Status {
	v.mu.Lock()
	if v.watching && v.status != nil {
		st := *v.status
		v.mu.Unlock()
		return st
	}
	v.mu.Unlock()

	st := Status{
		Found:     true,
		Path:      v.root,
		NotesPath: v.notes,
		CanRead:   canRead(v.notes),
		CanWrite:  canWrite(v.notes),
	}
	if cfg, err := readConfig(v.root); err == nil {
		st.Vaults = cfg.vaultNames()
	} else {
		v.logger.WithFields(log.Fields{"path": v.root, "error": err}).Debug("Could not parse dendron.yml")
	}
	if notes, err := doublestar.Glob(os.DirFS(v.root), "**/*.md"); err == nil {
		st.NoteCount = len(notes)
		for _, n := range notes {
			if strings.Contains(strings.ToLower(filepath.Base(n)), "project") {
				st.ProjectNotes++
			}
		}
	}

	v.mu.Lock()
	if v.watching {
		v.status = &st
	}
	v.mu.Unlock()
	return st
}

func (v *Vault) invalidate() {
	v.mu.Lock()
	v.status = nil
	v.mu.Unlock()
}

type vaultEntry struct {
	FSPath string `yaml:"fsPath"`
	Name   string `yaml:"name"`
}

// dendronConfig is the subset of dendron.yml the portal reports on.
type dendronConfig struct {
	Version   any `yaml:"version"`
	Workspace struct {
		Vaults []vaultEntry `yaml:"vaults"`
	} `yaml:"workspace"`
	// Pre-v5 layouts keep vaults at the top level.
	Vaults []vaultEntry `yaml:"vaults"`
}

func readConfig(root string) (*dendronConfig, error) {
	data, err := os.ReadFile(filepath.Join(root, configFile))
	if err != nil {
		return nil, err
	}
	var cfg dendronConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", configFile, err)
	}
	return &cfg, nil
}

func (c *dendronConfig) vaultNames() []string {
	var names []string
	for _, list := range [][]vaultEntry{c.Workspace.Vaults, c.Vaults} {
		for _, vlt := range list {
			name := vlt.Name
			if name == "" {
				name = vlt.FSPath
			}
			if name != "" {
				names = append(names, name)
			}
		}
	}
	sort.Strings(names)
	return names
}

// ValidateName rejects note names containing path separators, parent
// references or glob metacharacters.
func ValidateName(name string) error {
	if name == "" || strings.HasPrefix(name, ".") || strings.Contains(name, "..") ||
		strings.ContainsAny(name, `/\*?[]{}`) || strings.ContainsRune(name, 0) {
		return fmt.Errorf("%q: %w", name, ErrInvalidNoteName)
	}
	return nil
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}

func canRead(dir string) bool {
	_, err := os.ReadDir(dir)
	return err == nil
}

func canWrite(dir string) bool {
	f, err := os.CreateTemp(dir, ".portal-writable-*")
	if err != nil {
		return false
	}
	name := f.Name()
	_ = f.Close()
	_ = os.Remove(name)
	return true
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func isFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
