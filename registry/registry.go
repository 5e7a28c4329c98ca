// Package registry announces tiny-rpc servers to a service directory and lets clients find
// them.
package registry

import (
	"context"
	"sort"
	"sync"

	"github.com/pkg/errors"
)

// ErrNoInstances is returned by discovery helpers when a service has no live instance.
var ErrNoInstances = errors.New("registry: no instances registered")

// ServiceInstance describes one running server.
type ServiceInstance struct {
	Addr    string   `json:"addr"`
	Methods []string `json:"methods,omitempty"`
	Version string   `json:"version,omitempty"`
	Session string   `json:"session,omitempty"`
}

// Registry announces servers under a service name and lists the live ones.
type Registry interface {
	// Register announces instance under serviceName for ttl seconds, renewed until Deregister.
	Register(ctx context.Context, serviceName string, instance ServiceInstance, ttl int64) error
	// Deregister withdraws the instance at addr.
	Deregister(ctx context.Context, serviceName string, addr string) error
	// Discover returns the live instances ordered by address.
	Discover(ctx context.Context, serviceName string) ([]ServiceInstance, error)
	Close() error
}

// MemoryRegistry is an in-process Registry. TTLs are ignored.
type MemoryRegistry struct {
	mu       sync.RWMutex
	services map[string]map[string]ServiceInstance
}

// NewMemoryRegistry returns an empty MemoryRegistry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{services: make(map[string]map[string]ServiceInstance)}
}

func (r *MemoryRegistry) Register(_ context.Context, serviceName string, instance ServiceInstance, _ int64) error {
	if instance.Addr == "" {
		return errors.New("registry: instance address must not be empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	instances, ok := r.services[serviceName]
	if !ok {
		instances = make(map[string]ServiceInstance)
		r.services[serviceName] = instances
	}
	instances[instance.Addr] = instance
	return nil
}

func (r *MemoryRegistry) Deregister(_ context.Context, serviceName string, addr string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.services[serviceName], addr)
	return nil
}

func (r *MemoryRegistry) Discover(_ context.Context, serviceName string) ([]ServiceInstance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	instances := make([]ServiceInstance, 0, len(r.services[serviceName]))
	for _, inst := range r.services[serviceName] {
		instances = append(instances, inst)
	}
	sortInstances(instances)
	return instances, nil
}

func (r *MemoryRegistry) Close() error {
	return nil
}

func sortInstances(instances []ServiceInstance) {
	sort.Slice(instances, func(i, j int) bool { return instances[i].Addr < instances[j].Addr })
}
