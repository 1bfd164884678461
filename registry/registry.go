// Package registry implements the process-wide name-to-factory mapping
// used to look up operator kernels and net implementations, modeled on
// Caffe2's core/registry.h. Unlike the C++ original, which aborts the
// process on a duplicate registration, Register returns an error:
// library code should never call os.Exit, but a package wiring
// built-in kernels at init() is expected to panic on that error,
// preserving the "fails hard on duplicate key" behavior at the point
// where it matters.
package registry

import (
	"sort"
	"sync"

	"github.com/netcore-run/netcore/errors"
	"github.com/willf/bloom"
)

// bloomCapacity/bloomFalsePositive size the membership filter Registry
// keeps alongside its map: generous for the handful of operator/net
// type names a process registers at init time.
const (
	bloomCapacity      = 1024
	bloomFalsePositive = 0.01
)

// Keyed is the compound key used by the operator-kernel registry: an
// op resolves to a kernel factory by the pair (op name, device kind),
// so the same op name may bind to a different kernel per device.
type Keyed struct {
	Name   string
	Device string
}

// Registry is a thread-safe mapping from string keys to factories of
// type T. Register takes the write lock and Create/Has/Keys take the
// read lock, so lookups may run concurrently with each other and with
// Register.
type Registry[T any] struct {
	mu     sync.RWMutex
	byKey  map[string]T
	filter *bloom.BloomFilter
}

// New returns an empty Registry.
func New[T any]() *Registry[T] {
	return &Registry[T]{
		byKey:  make(map[string]T),
		filter: bloom.NewWithEstimates(bloomCapacity, bloomFalsePositive),
	}
}

// Register installs factory under key. It returns a NotAllowed error
// if key is already registered; callers wiring built-in kernels at
// init() should panic on this error, matching the "fails hard on
// duplicate key" invariant.
func (r *Registry[T]) Register(key string, factory T) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byKey[key]; ok {
		return errors.E("registry.Register", key, errors.NotAllowed,
			errors.New("duplicate registration for key "+key))
	}
	r.byKey[key] = factory
	r.filter.Add([]byte(key))
	return nil
}

// Create looks up the factory registered under key, returning ok=false
// if absent (never an error: absence is a normal, checkable outcome).
// A miss against the bloom filter is a definite absence and skips the
// map lookup entirely; a hit falls through to the map, since the
// filter itself can false-positive.
func (r *Registry[T]) Create(key string) (factory T, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if !r.filter.Test([]byte(key)) {
		return factory, false
	}
	factory, ok = r.byKey[key]
	return
}

// Has reports whether key is registered.
func (r *Registry[T]) Has(key string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byKey[key]
	return ok
}

// Keys returns the sorted set of registered keys.
func (r *Registry[T]) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.byKey))
	for k := range r.byKey {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// String renders a Keyed as "name@device", the wire form used for
// registry lookups of kernels bound to a device kind.
func (k Keyed) String() string {
	return k.Name + "@" + k.Device
}
