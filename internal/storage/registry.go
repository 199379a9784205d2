package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sync"
)

// Backend names a storage implementation.
type Backend string

const (
	// BackendJSONL keeps JSONL tables per organization.
	BackendJSONL Backend = "jsonl"
	// BackendSQLite keeps one SQLite database per organization.
	BackendSQLite Backend = "sqlite"
)

var orgIDRe = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)

// ValidOrgID reports whether id can name an organization directory.
func ValidOrgID(id string) bool {
	return orgIDRe.MatchString(id)
}

// Registry opens one Store per organization under <root>/orgs/<org>/ and
// keeps it open until Close.
type Registry struct {
	root      string
	backend   Backend
	cacheSize int

	mu     sync.Mutex
	stores map[string]Store
}

// NewRegistry returns a registry rooted at root. A cacheSize of 0 disables the
// field cache.
func NewRegistry(root string, backend Backend, cacheSize int) (*Registry, error) {
	switch backend {
	case BackendJSONL, BackendSQLite:
	default:
		return nil, fmt.Errorf("unknown storage backend %q", backend)
	}
	if err := os.MkdirAll(filepath.Join(root, "orgs"), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	return &Registry{root: root, backend: backend, cacheSize: cacheSize, stores: map[string]Store{}}, nil
}

// Get returns the store of orgID, opening it on first use.
func (r *Registry) Get(ctx context.Context, orgID string) (Store, error) {
	if !ValidOrgID(orgID) {
		return nil, fmt.Errorf("invalid organization id %q", orgID)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.stores[orgID]; ok {
		return s, nil
	}
	dir := filepath.Join(r.root, "orgs", orgID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create organization directory: %w", err)
	}
	var s Store
	var err error
	switch r.backend {
	case BackendSQLite:
		s, err = NewSQLiteStore(ctx, filepath.Join(dir, "checkform.db"))
	default:
		s, err = NewFileStore(dir)
	}
	if err != nil {
		return nil, err
	}
	if r.cacheSize > 0 {
		c, err := NewCachedFieldStore(s, r.cacheSize)
		if err != nil {
			_ = s.Close()
			return nil, err
		}
		s = &cachedStore{FieldStore: c, ResponseStore: s, inner: s}
	}
	slog.InfoContext(ctx, "Opened store", "org", orgID, "backend", r.backend)
	r.stores[orgID] = s
	return s, nil
}

// Close closes every opened store.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var errs []error
	for id, s := range r.stores {
		errs = append(errs, s.Close())
		delete(r.stores, id)
	}
	return errors.Join(errs...)
}

// cachedStore routes field calls through the cache and the rest to the
// underlying store.
type cachedStore struct {
	FieldStore
	ResponseStore
	inner Store
}

func (c *cachedStore) Close() error {
	return c.inner.Close()
}
