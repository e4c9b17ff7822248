package economy

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
)

// ConfigStore is the collaborator that owns the editable economic config.
type ConfigStore interface {
	FullConfiguration(ctx context.Context) (*Catalog, error)
	ConfigVersion(ctx context.Context) (string, error)
}

// ConfigCache serves the catalog and reloads it only when the store reports
// a different version token.
type ConfigCache struct {
	store ConfigStore

	mu      sync.RWMutex
	catalog *Catalog
	version string
}

func NewConfigCache(store ConfigStore) *ConfigCache {
	return &ConfigCache{store: store}
}

func (c *ConfigCache) Get(ctx context.Context) (*Catalog, error) {
	version, err := c.store.ConfigVersion(ctx)
	if err != nil {
		return nil, fmt.Errorf("config version: %w", err)
	}

	c.mu.RLock()
	cached, cachedVersion := c.catalog, c.version
	c.mu.RUnlock()
	if cached != nil && cachedVersion == version {
		return cached, nil
	}

	cat, err := c.store.FullConfiguration(ctx)
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}
	if cat.Version == "" {
		cat.Version = version
	}

	c.mu.Lock()
	c.catalog = cat
	c.version = version
	c.mu.Unlock()
	return cat, nil
}

// Invalidate drops the cached catalog; the next Get reloads it.
func (c *ConfigCache) Invalidate() {
	c.mu.Lock()
	c.catalog = nil
	c.version = ""
	c.mu.Unlock()
}

// ConfigEditor is a ConfigStore that accepts admin edits. Update must
// publish the edited catalog under a new version.
type ConfigEditor interface {
	ConfigStore
	Update(ctx context.Context, fn func(*Catalog) error) error
}

// StaticConfigStore keeps a catalog in memory. Update bumps the version so
// caches reload.
type StaticConfigStore struct {
	mu      sync.RWMutex
	catalog *Catalog
}

func NewStaticConfigStore(cat *Catalog) *StaticConfigStore {
	if cat == nil {
		cat = DefaultCatalog()
	}
	return &StaticConfigStore{catalog: cat}
}

func (s *StaticConfigStore) FullConfiguration(context.Context) (*Catalog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.catalog.Clone(), nil
}

func (s *StaticConfigStore) ConfigVersion(context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.catalog.Version, nil
}

// Update applies an admin edit to a copy of the catalog and publishes it
// under the next version.
func (s *StaticConfigStore) Update(_ context.Context, fn func(*Catalog) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.catalog.Clone()
	if err := fn(next); err != nil {
		return err
	}
	next.Version = NextVersion(s.catalog.Version)
	s.catalog = next
	return nil
}

// NextVersion increments the trailing counter of a "<prefix>-<n>" token.
func NextVersion(v string) string {
	prefix, n := v, 0
	if i := strings.LastIndex(v, "-"); i >= 0 {
		if parsed, err := strconv.Atoi(v[i+1:]); err == nil {
			prefix, n = v[:i], parsed
		}
	}
	if prefix == "" {
		prefix = "v"
	}
	return fmt.Sprintf("%s-%d", prefix, n+1)
}
