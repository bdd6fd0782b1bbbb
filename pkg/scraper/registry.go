package scraper

import (
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/egostrategy/datahub/pkg/config"
	"github.com/egostrategy/datahub/pkg/errors"
	"github.com/egostrategy/datahub/pkg/logger"
)

// Factory creates a scraper instance from the run configuration.
type Factory func(cfg *config.Config) (Scraper, error)

// Registry manages scraper registration and instantiation by name.
type Registry struct {
	factories map[string]Factory
	mu        sync.RWMutex
	logger    *zap.Logger
}

// Global registry instance
var globalRegistry = NewRegistry()

// NewRegistry creates a new scraper registry
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
		logger:    logger.With(zap.String("component", "scraper_registry")),
	}
}

// Register registers a scraper factory under a name (lowercase exchange
// code by convention).
func (r *Registry) Register(name string, factory Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[name]; exists {
		return errors.Newf(errors.ErrorTypeConfig, "scraper %s already registered", name)
	}

	r.factories[name] = factory
	r.logger.Info("scraper registered", zap.String("name", name))
	return nil
}

// Create creates a scraper instance by name.
func (r *Registry) Create(name string, cfg *config.Config) (Scraper, error) {
	r.mu.RLock()
	factory, exists := r.factories[name]
	r.mu.RUnlock()

	if !exists {
		return nil, errors.Newf(errors.ErrorTypeNotFound, "scraper %s not registered", name)
	}
	return factory(cfg)
}

// List returns the registered scraper names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Register registers a scraper factory in the global registry. Scraper
// packages call this from init, so a blank import is enough to make an
// exchange available.
func Register(name string, factory Factory) error {
	return globalRegistry.Register(name, factory)
}

// Create creates a scraper instance from the global registry.
func Create(name string, cfg *config.Config) (Scraper, error) {
	return globalRegistry.Create(name, cfg)
}

// List returns all scraper names in the global registry.
func List() []string {
	return globalRegistry.List()
}
