package strategyrt

import (
	"sort"
	"sync"

	"tradecore/pkg/coreerr"
	"tradecore/pkg/types"
)

// Category buckets strategies by cadence.
type Category string

const (
	CategoryIntraday Category = "INTRADAY"
	CategoryDaily    Category = "DAILY"
	CategoryMonthly  Category = "MONTHLY"
)

// Registration is the declarative payload each strategy module registers.
type Registration struct {
	ID          string // kebab-case
	Aliases     []string
	Name        string
	Description string
	Timeframe   string
	Symbols     []string
	Category    Category
	Markets     []types.Market
	Factory     func() Strategy
}

// Registry maps strategy ids (and aliases) to factories.
type Registry struct {
	mu      sync.RWMutex
	byID    map[string]Registration
	aliases map[string]string
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		byID:    make(map[string]Registration),
		aliases: make(map[string]string),
	}
}

// Register adds a strategy. Duplicate ids or aliases are configuration
// errors.
func (r *Registry) Register(reg Registration) error {
	if reg.ID == "" || reg.Factory == nil {
		return coreerr.New(coreerr.ClassConfig, "registration requires an id and a factory")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byID[reg.ID]; exists {
		return coreerr.Newf(coreerr.ClassConfig, "strategy %q already registered", reg.ID)
	}
	for _, alias := range reg.Aliases {
		if _, exists := r.aliases[alias]; exists {
			return coreerr.Newf(coreerr.ClassConfig, "strategy alias %q already registered", alias)
		}
	}

	r.byID[reg.ID] = reg
	for _, alias := range reg.Aliases {
		r.aliases[alias] = reg.ID
	}
	return nil
}

// MustRegister is Register but panics on error; for use from package init
// of strategy modules, where a duplicate is a programming mistake caught
// at startup.
func (r *Registry) MustRegister(reg Registration) {
	if err := r.Register(reg); err != nil {
		panic(err)
	}
}

// Resolve returns the registration for an id or alias.
func (r *Registry) Resolve(idOrAlias string) (Registration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if reg, ok := r.byID[idOrAlias]; ok {
		return reg, true
	}
	if id, ok := r.aliases[idOrAlias]; ok {
		return r.byID[id], true
	}
	return Registration{}, false
}

// New instantiates a strategy by id or alias.
func (r *Registry) New(idOrAlias string) (Strategy, error) {
	reg, ok := r.Resolve(idOrAlias)
	if !ok {
		return nil, coreerr.Newf(coreerr.ClassConfig, "unknown strategy %q", idOrAlias)
	}
	return reg.Factory(), nil
}

// List returns every registration sorted by id.
func (r *Registry) List() []Registration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Registration, 0, len(r.byID))
	for _, reg := range r.byID {
		out = append(out, reg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// defaultRegistry is the process-wide registry strategy modules register
// into from init.
var defaultRegistry = NewRegistry()

// Default returns the process-wide registry.
func Default() *Registry { return defaultRegistry }

// Register adds a strategy to the process-wide registry.
func Register(reg Registration) { defaultRegistry.MustRegister(reg) }
