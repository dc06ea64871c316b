package expert

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/juniperhq/juniper/config"
	"github.com/juniperhq/juniper/types"
)

// Descriptor describes one expert collaborator: its capability in natural
// language plus trigger phrases, and how to reach it.
type Descriptor struct {
	// ID is the unique expert identifier.
	ID string `json:"id" yaml:"id"`
	// Name is the human-readable name.
	Name string `json:"name" yaml:"name"`
	// Description is a short natural-language capability description.
	Description string `json:"description" yaml:"description"`
	// Triggers are phrases and keywords that select this expert.
	Triggers []string `json:"triggers" yaml:"triggers"`
	// Endpoint is the invocation endpoint. Empty for in-process experts.
	Endpoint string `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`
	// Timeout bounds one invocation of this expert.
	Timeout time.Duration `json:"timeout" yaml:"timeout"`
	// RateLimit is the maximum invocations per second. Zero disables
	// limiting.
	RateLimit float64 `json:"rate_limit,omitempty" yaml:"rate_limit,omitempty"`
}

// Registry is a concurrency-safe table of expert descriptors.
type Registry struct {
	mu      sync.RWMutex
	experts map[string]Descriptor
	logger  *zap.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		experts: make(map[string]Descriptor),
		logger:  logger.With(zap.String("component", "expert_registry")),
	}
}

// NewRegistryFromConfig creates a registry seeded from configuration.
func NewRegistryFromConfig(cfg config.ExpertsConfig, logger *zap.Logger) *Registry {
	r := NewRegistry(logger)
	r.Load(cfg)
	return r
}

// Load replaces the registry contents with the configured entries.
// Used at startup and on config reload.
func (r *Registry) Load(cfg config.ExpertsConfig) {
	experts := make(map[string]Descriptor, len(cfg.Entries))
	for _, e := range cfg.Entries {
		experts[e.ID] = Descriptor{
			ID:          e.ID,
			Name:        e.Name,
			Description: e.Description,
			Triggers:    append([]string(nil), e.Triggers...),
			Endpoint:    e.Endpoint,
			Timeout:     e.Timeout,
			RateLimit:   e.RateLimit,
		}
	}

	r.mu.Lock()
	r.experts = experts
	r.mu.Unlock()

	r.logger.Info("expert registry loaded", zap.Int("experts", len(experts)))
}

// Register adds or replaces a descriptor.
func (r *Registry) Register(d Descriptor) {
	r.mu.Lock()
	r.experts[d.ID] = d
	r.mu.Unlock()

	r.logger.Debug("expert registered", zap.String("expert_id", d.ID))
}

// Deregister removes a descriptor.
func (r *Registry) Deregister(id string) {
	r.mu.Lock()
	delete(r.experts, id)
	r.mu.Unlock()
}

// Get returns the descriptor for an expert id.
func (r *Registry) Get(id string) (Descriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.experts[id]
	if !ok {
		return Descriptor{}, types.NewError(types.ErrExpertNotFound, "expert not registered: "+id)
	}
	return d, nil
}

// Snapshot returns all descriptors sorted by id. Decomposition works
// against a snapshot so a run sees one consistent registry state.
func (r *Registry) Snapshot() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Descriptor, 0, len(r.experts))
	for _, d := range r.experts {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len returns the number of registered experts.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.experts)
}
