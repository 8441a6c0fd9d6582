package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/parleyvoice/parley/pkg/audio/device"
	"github.com/parleyvoice/parley/pkg/runtime"
)

// ErrBackendNotRegistered is returned by Create* methods when no factory has
// been registered under the requested backend name.
var ErrBackendNotRegistered = errors.New("config: backend not registered")

// Registry maps backend names to their constructor functions. It is safe for
// concurrent use.
type Registry struct {
	mu       sync.RWMutex
	runtimes map[string]func(RuntimeEntry) (runtime.Runtime, error)
	devices  map[string]func(AudioConfig) (device.Context, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		runtimes: make(map[string]func(RuntimeEntry) (runtime.Runtime, error)),
		devices:  make(map[string]func(AudioConfig) (device.Context, error)),
	}
}

// RegisterRuntime registers a runtime backend factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterRuntime(name string, factory func(RuntimeEntry) (runtime.Runtime, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runtimes[name] = factory
}

// RegisterDevice registers a device backend factory under name.
func (r *Registry) RegisterDevice(name string, factory func(AudioConfig) (device.Context, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.devices[name] = factory
}

// CreateRuntime instantiates the runtime backend registered under entry.Name.
// Returns [ErrBackendNotRegistered] if no factory has been registered for
// that name.
func (r *Registry) CreateRuntime(entry RuntimeEntry) (runtime.Runtime, error) {
	r.mu.RLock()
	factory, ok := r.runtimes[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: runtime/%q", ErrBackendNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateDevice instantiates the device backend registered under cfg.Device.
func (r *Registry) CreateDevice(cfg AudioConfig) (device.Context, error) {
	r.mu.RLock()
	factory, ok := r.devices[cfg.Device]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: device/%q", ErrBackendNotRegistered, cfg.Device)
	}
	return factory(cfg)
}
