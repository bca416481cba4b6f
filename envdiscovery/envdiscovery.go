// Package envdiscovery implements the default virtual-environment discovery
// collaborator: given a file path and a search-root ceiling, find the
// nearest ancestor directory containing a `.venv/pyvenv.cfg` marker.
//
// The dispatcher only depends on the Discoverer interface it needs
// (FindForFile); this package is the concrete, swappable implementation
// shipped by this repository, matching how the out-of-scope collaborators
// named by the spec are thin and replaceable.
package envdiscovery

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/K-dash/pyright-lsp-proxy/logger"
)

const (
	venvDir   = ".venv"
	pyvenvCfg = "pyvenv.cfg"
)

// Discoverer finds the Python virtual environment that owns a given file,
// caching negative and positive lookups per searched directory and
// invalidating that cache when the filesystem changes underneath a
// previously-searched directory.
type Discoverer struct {
	mu    sync.RWMutex
	cache map[string]string // dir -> resolved venv path ("" = none found)

	watcher   *fsnotify.Watcher
	watchedMu sync.Mutex
	watched   map[string]bool
}

// New builds a Discoverer with a best-effort fsnotify watcher. If the
// watcher cannot be created (e.g. the platform lacks inotify/kqueue support
// or the process is out of file descriptors), discovery still works; it
// simply never invalidates its cache proactively.
func New() *Discoverer {
	d := &Discoverer{
		cache:   make(map[string]string),
		watched: make(map[string]bool),
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Warn("envdiscovery: fsnotify unavailable, cache will not auto-invalidate: " + err.Error())
		return d
	}
	d.watcher = w
	go d.watchLoop()
	return d
}

// Close releases the underlying fsnotify watcher, if any.
func (d *Discoverer) Close() error {
	if d.watcher == nil {
		return nil
	}
	return d.watcher.Close()
}

func (d *Discoverer) watchLoop() {
	for {
		select {
		case ev, ok := <-d.watcher.Events:
			if !ok {
				return
			}
			d.invalidate(filepath.Dir(ev.Name))
		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			logger.Warn("envdiscovery: fsnotify error: " + err.Error())
		}
	}
}

func (d *Discoverer) invalidate(dir string) {
	d.mu.Lock()
	delete(d.cache, dir)
	d.mu.Unlock()
}

func (d *Discoverer) watch(dir string) {
	if d.watcher == nil {
		return
	}
	d.watchedMu.Lock()
	defer d.watchedMu.Unlock()
	if d.watched[dir] {
		return
	}
	if err := d.watcher.Add(dir); err == nil {
		d.watched[dir] = true
	}
}

// FindForFile walks parent directories starting at filePath's own directory,
// looking for `.venv/pyvenv.cfg`. If gitToplevel is non-empty, the search
// never ascends past it. Returns ("", false) if nothing is found.
func (d *Discoverer) FindForFile(filePath, gitToplevel string) (string, bool) {
	dir := filepath.Dir(filePath)
	return d.findFrom(dir, gitToplevel)
}

// FindFallback resolves a startup-time default environment: first the git
// toplevel's own `.venv`, then cwd's `.venv`.
func (d *Discoverer) FindFallback(cwd, gitToplevel string) (string, bool) {
	if gitToplevel != "" {
		if venv, ok := d.checkDir(gitToplevel); ok {
			logger.Info("fallback .venv found at git toplevel: " + venv)
			return venv, true
		}
	}
	if venv, ok := d.checkDir(cwd); ok {
		logger.Info("fallback .venv found at cwd: " + venv)
		return venv, true
	}
	logger.Warn("no fallback .venv found")
	return "", false
}

func (d *Discoverer) findFrom(startDir, gitToplevel string) (string, bool) {
	dir := startDir
	for {
		if gitToplevel != "" && !withinRoot(dir, gitToplevel) {
			break
		}

		if venv, ok := d.checkDir(dir); ok {
			return venv, true
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", false
}

// checkDir looks for dir/.venv/pyvenv.cfg, consulting and populating the
// per-directory cache, and registers dir with the fsnotify watcher so a
// later-created .venv invalidates the cached negative result.
func (d *Discoverer) checkDir(dir string) (string, bool) {
	d.mu.RLock()
	if cached, ok := d.cache[dir]; ok {
		d.mu.RUnlock()
		if cached == "" {
			return "", false
		}
		return cached, true
	}
	d.mu.RUnlock()

	d.watch(dir)

	venvPath := filepath.Join(dir, venvDir)
	cfgPath := filepath.Join(venvPath, pyvenvCfg)

	found := ""
	if _, err := os.Stat(cfgPath); err == nil {
		found = venvPath
	}

	d.mu.Lock()
	d.cache[dir] = found
	d.mu.Unlock()

	if found == "" {
		return "", false
	}
	return found, true
}

// withinRoot reports whether dir is root or a descendant of root.
func withinRoot(dir, root string) bool {
	rel, err := filepath.Rel(root, dir)
	if err != nil {
		return false
	}
	return rel == "." || !strings.HasPrefix(rel, "..")
}
