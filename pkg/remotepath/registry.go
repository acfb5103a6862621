package remotepath

import (
	"fmt"
	"sync"

	"taskmemo.dev/taskmemo/pkg/config"
	"taskmemo.dev/taskmemo/pkg/errkind"
)

// Registry maps remote-path schemes to the Backend serving them,
// reworking pkg/blobserver/registry.go's string-keyed constructor map
// into a config-driven binding: NewRegistry binds one scheme per
// "localmount_.<name>" section, and Register can add or replace
// bindings afterwards.
type Registry struct {
	mu       sync.RWMutex
	backends map[string]Backend
	def      string
}

// NewRegistry builds a Registry from the local-mount sections of cfg,
// opening one LocalMountBackend per entry. The scheme name is the mount
// name (the part after "localmount_."); cfg.RemoteStorage.Default names
// the scheme used when a task's remote path omits one.
func NewRegistry(cfg *config.Config) (*Registry, error) {
	r := &Registry{
		backends: make(map[string]Backend, len(cfg.LocalMounts)),
		def:      cfg.RemoteStorage.Default,
	}
	for name, mount := range cfg.LocalMounts {
		b, err := NewLocalMountBackend(mount.Root)
		if err != nil {
			return nil, fmt.Errorf("remotepath: mount %q: %w", name, err)
		}
		r.backends[name] = b
	}
	return r, nil
}

// NewEmptyRegistry builds a Registry with no bound schemes, for callers
// that assemble bindings directly via Register (tests, or backends that
// are not local mounts).
func NewEmptyRegistry(defaultScheme string) *Registry {
	return &Registry{backends: make(map[string]Backend), def: defaultScheme}
}

// Register binds scheme to b directly, for backends that are not local
// mounts (or for tests). It overwrites any existing binding for scheme.
func (r *Registry) Register(scheme string, b Backend) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.backends == nil {
		r.backends = make(map[string]Backend)
	}
	r.backends[scheme] = b
}

// Backend returns the Backend bound to scheme, or errkind.UnsupportedScheme
// if nothing is registered for it.
func (r *Registry) Backend(scheme string) (Backend, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.backends[scheme]
	if !ok {
		return nil, errkind.New(errkind.UnsupportedScheme, scheme)
	}
	return b, nil
}

// Resolve is like Backend but also accepts a bare path with no scheme
// prefix, substituting the registry's configured default scheme.
func (r *Registry) Resolve(p Path) (Backend, Path, error) {
	scheme := p.Scheme
	if scheme == "" {
		scheme = r.def
	}
	b, err := r.Backend(scheme)
	if err != nil {
		return nil, Path{}, err
	}
	return b, Path{Scheme: scheme, Body: p.Body}, nil
}
