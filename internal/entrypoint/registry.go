package entrypoint

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/bootrelay/internal/protocol"
)

// ErrNotFound reports a handle with no registered entrypoint.
var ErrNotFound = errors.New("no entrypoint registered for handle")

// Registry holds discovered entrypoints indexed by dispatcher handle.
type Registry struct {
	mu      sync.RWMutex
	entries map[int64]*Entry
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[int64]*Entry)}
}

// Add registers an entry. A handle can only be claimed once.
func (r *Registry) Add(e *Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.entries[e.Handle]; ok {
		return fmt.Errorf("handle %d already claimed by %q", e.Handle, existing.Name)
	}
	r.entries[e.Handle] = e
	return nil
}

func (r *Registry) Get(handle int64) (*Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[handle]
	return e, ok
}

// All returns the registered entries ordered by handle.
func (r *Registry) All() []*Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Handle < out[j].Handle })
	return out
}

// Resolve returns the entrypoint for handle after re-checking its pinned checksum.
func (r *Registry) Resolve(handle int64) (Entry, error) {
	e, ok := r.Get(handle)
	if !ok {
		return Entry{}, fmt.Errorf("%w: %d", ErrNotFound, handle)
	}
	if err := e.Verify(); err != nil {
		return Entry{}, err
	}
	return *e, nil
}

// Discover scans roots for manifest.yaml files. Invalid workers are logged and
// skipped; duplicate handles keep the first discovered entry.
func Discover(roots []string, logger *slog.Logger) (*Registry, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	absRoots, err := cleanRoots(roots)
	if err != nil {
		return nil, err
	}

	registry := NewRegistry()
	for _, root := range absRoots {
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
			if walkErr != nil {
				return walkErr
			}
			if d.IsDir() || d.Name() != manifestFilename {
				return nil
			}

			dir := filepath.Dir(path)
			entry, err := load(dir, root)
			if err != nil {
				logger.Warn("failed to load worker manifest", "root", root, "path", dir, "error", err)
				return nil
			}
			if err := registry.Add(entry); err != nil {
				logger.Warn("duplicate handle ignored (keeping first discovered)", "worker", entry.Name, "path", dir, "error", err)
				return nil
			}

			logger.Info("loaded worker entrypoint", "worker", entry.Name, "handle", entry.Handle, "version", entry.Version, "pinned", entry.Checksum != "")
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to scan worker root %s: %w", root, err)
		}
	}
	return registry, nil
}

func cleanRoots(roots []string) ([]string, error) {
	seen := make(map[string]struct{}, len(roots))
	var out []string
	for _, root := range roots {
		root = strings.TrimSpace(root)
		if root == "" {
			continue
		}
		abs, err := filepath.Abs(root)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve worker root %q: %w", root, err)
		}
		info, err := os.Stat(abs)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, fmt.Errorf("worker root does not exist: %s", abs)
			}
			return nil, fmt.Errorf("failed to stat worker root %s: %w", abs, err)
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("worker root is not a directory: %s", abs)
		}
		if _, dup := seen[abs]; dup {
			continue
		}
		seen[abs] = struct{}{}
		out = append(out, abs)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("at least one worker root is required")
	}
	return out, nil
}

func load(dir, root string) (*Entry, error) {
	data, err := os.ReadFile(filepath.Join(dir, manifestFilename))
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest YAML: %w", err)
	}
	if err := m.validate(protocol.Version); err != nil {
		return nil, fmt.Errorf("invalid manifest: %w", err)
	}

	exe := filepath.Join(dir, m.Entrypoint)
	if err := checkTrust(exe, dir, root); err != nil {
		return nil, fmt.Errorf("trust validation failed: %w", err)
	}

	e := &Entry{
		Name:       m.Name,
		Handle:     m.Handle,
		Dir:        dir,
		Executable: exe,
		Args:       m.Args,
		Version:    m.Version,
		Checksum:   strings.ToLower(m.Checksum),
	}
	if err := e.Verify(); err != nil {
		return nil, err
	}
	return e, nil
}

// checkTrust requires the executable to sit inside its worker directory under
// root, to be executable, and the directory to not be world-writable.
func checkTrust(exe, dir, root string) error {
	realExe, err := filepath.EvalSymlinks(exe)
	if err != nil {
		return fmt.Errorf("failed to resolve entrypoint symlink: %w", err)
	}
	realDir, err := filepath.EvalSymlinks(dir)
	if err != nil {
		return fmt.Errorf("failed to resolve worker directory symlink: %w", err)
	}
	realRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		return fmt.Errorf("failed to resolve worker root symlink: %w", err)
	}

	sep := string(os.PathSeparator)
	if !strings.HasPrefix(realExe, realRoot+sep) {
		return fmt.Errorf("entrypoint %s is outside worker root %s", realExe, realRoot)
	}
	if !strings.HasPrefix(realExe, realDir+sep) {
		return fmt.Errorf("entrypoint %s is not under worker directory %s", realExe, realDir)
	}

	info, err := os.Stat(realExe)
	if err != nil {
		return fmt.Errorf("entrypoint not found: %w", err)
	}
	if info.Mode()&0o111 == 0 {
		return fmt.Errorf("entrypoint is not executable: %s", realExe)
	}

	dirInfo, err := os.Stat(realDir)
	if err != nil {
		return fmt.Errorf("worker directory not found: %w", err)
	}
	if dirInfo.Mode().Perm()&0o002 != 0 {
		return fmt.Errorf("worker directory is world-writable: %s", realDir)
	}
	return nil
}
