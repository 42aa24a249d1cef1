package platform

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// DefaultOrder is used when Info.Order is zero.
const DefaultOrder = 50

// Info describes a registered platform.
type Info struct {
	// Name is the unique identifier for the platform.
	Name string

	// Description is a human-readable description of the platform.
	Description string

	// Factory creates new instances of the platform.
	Factory Factory

	// Order specifies the startup order. Lower values start first.
	Order int
}

// Registry manages platform registration and instantiation.
type Registry struct {
	mu        sync.RWMutex
	platforms map[string]Info
	order     []string
}

// NewRegistry creates a new platform registry.
func NewRegistry() *Registry {
	return &Registry{
		platforms: make(map[string]Info),
	}
}

// Register adds a platform to the registry. Registering the same name twice
// replaces the earlier registration.
func (r *Registry) Register(info Info) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if info.Name == "" {
		return fmt.Errorf("platform name cannot be empty")
	}
	if info.Factory == nil {
		return fmt.Errorf("platform %s: factory cannot be nil", info.Name)
	}
	if info.Order == 0 {
		info.Order = DefaultOrder
	}

	if _, exists := r.platforms[info.Name]; !exists {
		r.order = append(r.order, info.Name)
	}
	r.platforms[info.Name] = info
	return nil
}

// Get returns the platform info for a given name, or nil if not found.
func (r *Registry) Get(name string) *Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	info, ok := r.platforms[name]
	if !ok {
		return nil
	}
	return &info
}

// List returns all registered platforms sorted by their startup order.
func (r *Registry) List() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Info, 0, len(r.platforms))
	for _, name := range r.order {
		result = append(result, r.platforms[name])
	}

	sort.SliceStable(result, func(i, j int) bool {
		if result[i].Order != result[j].Order {
			return result[i].Order < result[j].Order
		}
		return result[i].Name < result[j].Name
	})

	return result
}

// Names returns the names of all registered platforms in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return append([]string(nil), r.order...)
}

// CreateAll instantiates every registered platform in order. Platforms whose
// factory returns ErrNotApplicable are skipped. On any other error the
// already-created platforms are stopped.
func (r *Registry) CreateAll(ctx *Context) ([]Platform, error) {
	infos := r.List()
	result := make([]Platform, 0, len(infos))

	for _, info := range infos {
		p, err := info.Factory(ctx)
		if errors.Is(err, ErrNotApplicable) {
			ctx.Logger.Debug("Platform skipped", zap.String("platform", info.Name), zap.Error(err))
			continue
		}
		if err != nil {
			for i := len(result) - 1; i >= 0; i-- {
				result[i].Stop()
			}
			return nil, fmt.Errorf("failed to create platform %s: %w", info.Name, err)
		}
		result = append(result, p)
	}

	return result, nil
}

// Clear removes all registered platforms. Useful for testing.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.platforms = make(map[string]Info)
	r.order = nil
}

var globalRegistry = NewRegistry()

// Register adds a platform to the global registry.
// This is typically called from init() functions in platform packages.
func Register(info Info) error {
	return globalRegistry.Register(info)
}

// MustRegister is Register for init() functions; it panics on error.
func MustRegister(info Info) {
	if err := Register(info); err != nil {
		panic(err)
	}
}

// Get returns platform info from the global registry.
func Get(name string) *Info {
	return globalRegistry.Get(name)
}

// List returns all platforms from the global registry.
func List() []Info {
	return globalRegistry.List()
}

// CreateAll creates all platforms from the global registry.
func CreateAll(ctx *Context) ([]Platform, error) {
	return globalRegistry.CreateAll(ctx)
}

// Names returns all platform names from the global registry.
func Names() []string {
	return globalRegistry.Names()
}

// StartAll starts platforms in order. On error the started ones are stopped.
func StartAll(ctx context.Context, platforms []Platform) error {
	for i, p := range platforms {
		if err := p.Start(ctx); err != nil {
			for j := i - 1; j >= 0; j-- {
				platforms[j].Stop()
			}
			return fmt.Errorf("failed to start platform %s: %w", p.Name(), err)
		}
	}
	return nil
}

// StopAll stops platforms in reverse order.
func StopAll(platforms []Platform) {
	for i := len(platforms) - 1; i >= 0; i-- {
		platforms[i].Stop()
	}
}

// ResyncAll calls Resync on every platform that supports it and joins the
// errors.
func ResyncAll(ctx context.Context, platforms []Platform) error {
	var errs []error
	for _, p := range platforms {
		if r, ok := p.(Resyncable); ok {
			if err := r.Resync(ctx); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
			}
		}
	}
	return errors.Join(errs...)
}
