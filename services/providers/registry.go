package providers

import (
	"errors"
	"sync"
	"time"
)

var (
	// ErrProviderNotFound is returned when a provider is not registered
	ErrProviderNotFound = errors.New("provider not found")

	// ErrNilProvider is returned when registering a nil provider
	ErrNilProvider = errors.New("provider cannot be nil")

	// ErrEmptyProviderName is returned when a provider has no name
	ErrEmptyProviderName = errors.New("provider name cannot be empty")
)

// Entry is a point-in-time view of a registered provider
type Entry struct {
	Provider      Provider
	Config        ProviderConfig
	Available     bool
	CooldownUntil *time.Time
}

// Status is the diagnostic view of a provider
type Status struct {
	Name          string     `json:"name"`
	Model         string     `json:"model"`
	Available     bool       `json:"available"`
	CooldownUntil *time.Time `json:"cooldown_until,omitempty"`
}

type registration struct {
	provider      Provider
	config        ProviderConfig
	available     bool
	cooldownUntil *time.Time
}

// Registry holds provider configuration and live availability.
// Cooldowns are resolved on read, so no timer is needed to re-enable a provider.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*registration
	order   []string
	now     func() time.Time
}

// RegistryOption configures a Registry
type RegistryOption func(*Registry)

// WithRegistryClock overrides the clock used for cooldown checks
func WithRegistryClock(now func() time.Time) RegistryOption {
	return func(r *Registry) {
		r.now = now
	}
}

// NewRegistry creates a new provider registry
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		entries: make(map[string]*registration),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds or overwrites a provider definition. New providers start available.
func (r *Registry) Register(provider Provider, config ProviderConfig) error {
	if provider == nil {
		return ErrNilProvider
	}

	name := provider.Name()
	if name == "" {
		return ErrEmptyProviderName
	}
	config.Name = name

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[name]; !exists {
		r.order = append(r.order, name)
	}
	r.entries[name] = &registration{
		provider:  provider,
		config:    config,
		available: true,
	}

	return nil
}

// Get retrieves a provider by name with its availability resolved against the clock
func (r *Registry) Get(name string) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	reg, exists := r.entries[name]
	if !exists {
		return Entry{}, false
	}
	r.resolve(reg)

	return Entry{
		Provider:      reg.provider,
		Config:        reg.config,
		Available:     reg.available,
		CooldownUntil: copyTime(reg.cooldownUntil),
	}, true
}

// IsAvailable reports whether the provider exists and is not disabled or cooling down
func (r *Registry) IsAvailable(name string) bool {
	entry, ok := r.Get(name)
	return ok && entry.Available
}

// SetAvailability toggles a provider. When available is false and cooldown is set,
// the provider becomes eligible again once the clock passes the cooldown.
// The local fallback provider is never disabled.
func (r *Registry) SetAvailability(name string, available bool, cooldown *time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	reg, exists := r.entries[name]
	if !exists {
		return ErrProviderNotFound
	}
	if name == LocalFallbackName {
		return nil
	}

	reg.available = available
	if available {
		reg.cooldownUntil = nil
	} else {
		reg.cooldownUntil = copyTime(cooldown)
	}

	return nil
}

// Names returns provider names in registration order
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, len(r.order))
	copy(names, r.order)
	return names
}

// Statuses returns a snapshot of every provider in registration order
func (r *Registry) Statuses() []Status {
	r.mu.Lock()
	defer r.mu.Unlock()

	statuses := make([]Status, 0, len(r.order))
	for _, name := range r.order {
		reg := r.entries[name]
		r.resolve(reg)
		statuses = append(statuses, Status{
			Name:          name,
			Model:         reg.config.Model,
			Available:     reg.available,
			CooldownUntil: copyTime(reg.cooldownUntil),
		})
	}
	return statuses
}

// Count returns the number of registered providers
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.entries)
}

// resolve clears an expired cooldown (must be called with lock held)
func (r *Registry) resolve(reg *registration) {
	if reg.cooldownUntil != nil && r.now().After(*reg.cooldownUntil) {
		reg.available = true
		reg.cooldownUntil = nil
	}
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
