// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// InstanceRegistry maps a dense range of instance ids [1..N] to opaque "instance pointers" (any),
// scoped under a domain name, the way spec.md §3's "callable table" describes: id 0 is always
// reserved as the null instance and is never registered.
//
// Grounded on backends.Register's global-map-with-mutex pattern (backends/backends.go): a package-level
// registry of domain name -> *InstanceRegistry, guarded by a mutex, populated by RegisterDomain calls
// (typically from an init function), and consulted by DispatchCall when a CallConfig.Domain is set
// instead of a raw CallableCount.
type InstanceRegistry struct {
	mu sync.RWMutex

	// domain is the name this registry was registered under; kept for error messages.
	domain string

	// debugID disambiguates multiple registries that may be created for the same domain name across
	// tests/tools (e.g. two independent test files both registering a "layer" domain) -- it has no
	// semantic role, it's surfaced in error messages only.
	debugID string

	// pointers holds the registered instance pointers, keyed by id; id 0 is never present.
	pointers map[int]any

	// maxID is the highest id ever passed to Register, the dense range's upper bound. It is a
	// high-water mark: Unregister does not lower it, since the dense range probed by
	// resolveInstances is about the ids that were ever assigned, not the current entry count.
	maxID int
}

// NewInstanceRegistry creates an empty registry for the given domain name.
func NewInstanceRegistry(domain string) *InstanceRegistry {
	return &InstanceRegistry{
		domain:   domain,
		debugID:  uuid.NewString(),
		pointers: make(map[int]any),
	}
}

// Domain returns the domain name this registry was created for.
func (r *InstanceRegistry) Domain() string {
	return r.domain
}

// DebugID returns this registry's debug UUID, useful to tell apart two registries created for the
// same domain name (e.g. in tests), surfaced in RegistryMiss error messages.
func (r *InstanceRegistry) DebugID() string {
	return r.debugID
}

// Register associates id (must be > 0) with ptr. It overwrites any previous registration for id.
func (r *InstanceRegistry) Register(id int, ptr any) {
	if id <= 0 {
		panic(newDispatchError(KindInternalInvariant, fmt.Sprintf(
			"InstanceRegistry(%q): cannot register id %d, instance ids must be > 0 (0 is the null instance)", r.domain, id)))
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pointers[id] = ptr
	if id > r.maxID {
		r.maxID = id
	}
}

// Unregister removes id from the registry, if present.
func (r *InstanceRegistry) Unregister(id int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.pointers, id)
}

// Lookup returns the pointer registered for id, and whether it was found. id == 0 always returns
// (nil, false) -- the null instance is never "found", its lane is simply masked off by the caller.
func (r *InstanceRegistry) Lookup(id int) (ptr any, found bool) {
	if id <= 0 {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	ptr, found = r.pointers[id]
	return
}

// Len returns the number of currently registered ids. This is an entry count, not the dense range's
// upper bound -- it shrinks on Unregister and does not reflect gaps, so callers probing the dense
// [1..N] id range (e.g. resolveInstances) must use MaxID instead.
func (r *InstanceRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.pointers)
}

// MaxID returns the highest id ever registered, the upper bound of the dense range resolveInstances
// probes. It never decreases, even after Unregister: the dense range is about ids assigned over the
// registry's lifetime, not currently-present entries. Returns 0 for an empty registry.
func (r *InstanceRegistry) MaxID() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.maxID
}

// globalRegistries is the process-wide domain name -> *InstanceRegistry map, mirroring
// backends.registeredConstructors.
var (
	globalRegistriesMu sync.Mutex
	globalRegistries   = make(map[string]*InstanceRegistry)
)

// RegisterDomain creates (or returns, if already created) the InstanceRegistry for domain, so that
// DispatchCall callers can populate it via the returned registry's Register method.
//
// Safe to call during package initialization, matching backends.Register's documented usage pattern.
func RegisterDomain(domain string) *InstanceRegistry {
	globalRegistriesMu.Lock()
	defer globalRegistriesMu.Unlock()
	if r, ok := globalRegistries[domain]; ok {
		return r
	}
	r := NewInstanceRegistry(domain)
	globalRegistries[domain] = r
	return r
}

// LookupDomain returns the InstanceRegistry previously created with RegisterDomain for domain, or nil
// if no registry was ever created for that domain name.
func LookupDomain(domain string) *InstanceRegistry {
	globalRegistriesMu.Lock()
	defer globalRegistriesMu.Unlock()
	return globalRegistries[domain]
}
