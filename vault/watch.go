package vault

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
)

// Watch invalidates the cached status whenever the vault changes. It blocks
// until ctx is cancelled.
func (v *Vault) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	roots := []string{v.root}
	if rel, err := filepath.Rel(v.root, v.notes); err != nil || strings.HasPrefix(rel, "..") {
		roots = append(roots, v.notes)
	}
	for _, dir := range roots {
		if err := watchTree(watcher, dir); err != nil {
			return err
		}
	}

	v.mu.Lock()
	v.watching = true
	v.status = nil
	v.mu.Unlock()
	defer func() {
		v.mu.Lock()
		v.watching = false
		v.status = nil
		v.mu.Unlock()
	}()
	v.logger.WithField("path", v.root).Info("Watching vault")

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if isScratch(filepath.Base(ev.Name)) || ev.Op == fsnotify.Chmod {
				continue
			}
			if ev.Has(fsnotify.Create) && isDir(ev.Name) {
				if err := watchTree(watcher, ev.Name); err != nil {
					v.logger.WithError(err).Warn("Could not watch new directory")
				}
			}
			v.logger.WithFields(log.Fields{"file": ev.Name, "op": ev.Op.String()}).Debug("Vault changed")
			v.invalidate()
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			v.logger.WithError(err).Warn("Vault watcher error")
		}
	}
}

// watchTree adds dir and every directory below it. Hidden directories such as
// .git are skipped.
func watchTree(watcher *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != dir && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		if err := watcher.Add(path); err != nil {
			return fmt.Errorf("watch %s: %w", path, err)
		}
		return nil
	})
}

func isScratch(name string) bool {
	return strings.HasPrefix(name, ".portal-writable-") || strings.HasPrefix(name, tempPrefix)
}

// Watching reports whether a watcher is active.
func (v *Vault) Watching() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.watching
}
