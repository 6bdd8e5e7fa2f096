package strategy

import (
	"sort"
	"sync"

	"github.com/tidemark-lab/tidemark/internal/config"
	"github.com/tidemark-lab/tidemark/pkg/errors"
)

// Factory constructs a strategy instance from its config block.
type Factory func(cfg config.StrategyConfig) (Strategy, error)

// Registry maps strategy names to factories. Strategies register at init
// time; the engine resolves the configured set once at startup, so an
// unknown name fails the run before any data flows.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a factory under a name. Registering the same name twice is
// a programming error and panics at init.
func (r *Registry) Register(name string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[name]; exists {
		panic("strategy already registered: " + name)
	}

	r.factories[name] = factory
}

// Create instantiates a strategy by its configured name.
func (r *Registry) Create(cfg config.StrategyConfig) (Strategy, error) {
	r.mu.RLock()
	factory, ok := r.factories[cfg.Name]
	r.mu.RUnlock()

	if !ok {
		return nil, errors.Newf(errors.ErrCodeStrategyNotFound, "unknown strategy %q (known: %v)", cfg.Name, r.Names())
	}

	return factory(cfg)
}

// Names lists registered strategy names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}

// defaultRegistry holds the strategies shipped with the engine.
var defaultRegistry = NewRegistry()

// Register adds a factory to the default registry.
func Register(name string, factory Factory) {
	defaultRegistry.Register(name, factory)
}

// Default returns the default registry.
func Default() *Registry {
	return defaultRegistry
}
