// registry.go: Process-wide catalog of module descriptors
//
// The registry owns the mapping from module name to descriptor and answers
// the graph queries the resolver builds on. It is populated once at startup
// (discovery phase) and treated as read-mostly afterwards; writes only occur
// during startup and test setup.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package gomodules

import (
	"context"
	"regexp"
	"sort"
	"sync"

	"github.com/agilira/go-timecache"
)

// moduleNamePattern constrains module names to lowercase/hyphen tokens so
// they are safe to use as graph node ids, path segments and config keys.
var moduleNamePattern = regexp.MustCompile(`^[a-z0-9-]+$`)

// RegistryConfig configures the module registry.
type RegistryConfig struct {
	// ModuleRoots are the directories scanned during discovery; each
	// immediate subdirectory holding a manifest file is one module.
	ModuleRoots []string `json:"module_roots" yaml:"module_roots"`

	// ManifestNames are the file names probed inside each module directory.
	// Defaults to module.yaml, module.yml, module.json.
	ManifestNames []string `json:"manifest_names" yaml:"manifest_names"`

	// Logger for registry events; defaults to a silent logger.
	Logger Logger `json:"-" yaml:"-"`
}

// ModuleRegistry is the catalog of all known module descriptors.
//
// The registry is an explicitly constructed, dependency-injected object owned
// by the application's composition root; tests construct a fresh instance
// instead of sharing process-global state.
//
// Lifecycle: uninitialized -> discovering -> initialized. Initialization is a
// one-shot latch; repeated calls are a no-op with a warning.
type ModuleRegistry struct {
	config RegistryConfig
	logger Logger

	mu          sync.RWMutex
	descriptors map[string]ModuleDescriptor
	phase       RegistryPhase
}

// NewModuleRegistry creates a new, empty module registry.
func NewModuleRegistry(config RegistryConfig) *ModuleRegistry {
	if config.Logger == nil {
		config.Logger = DefaultLogger()
	}
	if len(config.ManifestNames) == 0 {
		config.ManifestNames = []string{"module.yaml", "module.yml", "module.json"}
	}

	return &ModuleRegistry{
		config:      config,
		logger:      config.Logger,
		descriptors: make(map[string]ModuleDescriptor),
		phase:       PhaseUninitialized,
	}
}

// Register validates and inserts a module descriptor.
//
// Required fields: Name, DisplayName, Version, Description; Name must match
// ^[a-z0-9-]+$. Validation failures report every offending field at once.
//
// Re-registration overwrites the existing descriptor (last-write-wins) with a
// warning, never a hard failure, to support reload-on-restart semantics.
func (r *ModuleRegistry) Register(descriptor ModuleDescriptor) error {
	if fields := validateDescriptor(descriptor); len(fields) > 0 {
		return NewDescriptorValidationError(descriptor.Name, fields)
	}

	if descriptor.RegisteredAt.IsZero() {
		descriptor.RegisteredAt = timecache.CachedTime()
	}

	r.mu.Lock()
	_, overwrite := r.descriptors[descriptor.Name]
	r.descriptors[descriptor.Name] = descriptor
	r.mu.Unlock()

	if overwrite {
		r.logger.Warn("Module descriptor overwritten",
			"module", descriptor.Name,
			"version", descriptor.Version)
	} else {
		r.logger.Info("Module registered",
			"module", descriptor.Name,
			"version", descriptor.Version,
			"dependencies", descriptor.Dependencies)
	}

	return nil
}

// validateDescriptor returns the list of offending fields, empty when valid.
func validateDescriptor(d ModuleDescriptor) []string {
	var fields []string

	switch {
	case d.Name == "":
		fields = append(fields, "name (empty)")
	case !moduleNamePattern.MatchString(d.Name):
		fields = append(fields, "name (must match ^[a-z0-9-]+$)")
	}
	if d.DisplayName == "" {
		fields = append(fields, "display_name")
	}
	if d.Version == "" {
		fields = append(fields, "version")
	}
	if d.Description == "" {
		fields = append(fields, "description")
	}
	for _, dep := range d.Dependencies {
		if dep == "" {
			fields = append(fields, "dependencies (empty entry)")
			break
		}
	}
	for _, dep := range d.OptionalDependencies {
		if dep == "" {
			fields = append(fields, "optional_dependencies (empty entry)")
			break
		}
	}

	return fields
}

// GetModule returns the descriptor for name. Lookup misses are a normal
// condition for callers to branch on, so the second return is a found flag
// rather than an error.
func (r *ModuleRegistry) GetModule(name string) (ModuleDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	descriptor, ok := r.descriptors[name]
	return descriptor, ok
}

// HasModule reports whether name is registered.
func (r *ModuleRegistry) HasModule(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.descriptors[name]
	return ok
}

// GetDependentModules returns every registered module whose hard dependency
// set contains name. Linear scan; registry sizes are tens of modules.
func (r *ModuleRegistry) GetDependentModules(name string) []ModuleDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var dependents []ModuleDescriptor
	for _, descriptor := range r.descriptors {
		if descriptor.DependsOn(name) {
			dependents = append(dependents, descriptor)
		}
	}

	sort.Slice(dependents, func(i, j int) bool {
		return dependents[i].Name < dependents[j].Name
	})
	return dependents
}

// ListModules returns all registered descriptors sorted by name.
func (r *ModuleRegistry) ListModules() []ModuleDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	modules := make([]ModuleDescriptor, 0, len(r.descriptors))
	for _, descriptor := range r.descriptors {
		modules = append(modules, descriptor)
	}

	sort.Slice(modules, func(i, j int) bool {
		return modules[i].Name < modules[j].Name
	})
	return modules
}

// Count returns the number of registered modules.
func (r *ModuleRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.descriptors)
}

// Phase returns the current registry lifecycle phase.
func (r *ModuleRegistry) Phase() RegistryPhase {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.phase
}

// Initialize runs filesystem discovery over the configured module roots and
// seals the registry for steady-state use.
//
// Idempotent: a second call is a no-op with a warning. Discovery is
// best-effort; directories without a valid manifest are skipped with a
// warning (not every directory is a module).
func (r *ModuleRegistry) Initialize(ctx context.Context) error {
	// Claiming the discovering phase under the lock makes the latch hold for
	// concurrent callers too, not just repeated sequential ones.
	r.mu.Lock()
	if r.phase != PhaseUninitialized {
		r.mu.Unlock()
		r.logger.Warn("Module registry already initialized, ignoring")
		return nil
	}
	r.phase = PhaseDiscovering
	r.mu.Unlock()

	if err := r.Discover(ctx); err != nil {
		r.mu.Lock()
		r.phase = PhaseUninitialized
		r.mu.Unlock()
		return NewRegistryError("discovery failed during initialization", err)
	}

	r.MarkInitialized()
	return nil
}

// MarkInitialized seals the registry without running discovery. Used when
// descriptors are registered programmatically.
func (r *ModuleRegistry) MarkInitialized() {
	r.mu.Lock()
	already := r.phase == PhaseInitialized
	r.phase = PhaseInitialized
	count := len(r.descriptors)
	r.mu.Unlock()

	if already {
		r.logger.Warn("Module registry already initialized, ignoring")
		return
	}
	r.logger.Info("Module registry initialized", "modules", count)
}

// Clear removes all descriptors and resets the lifecycle phase.
//
// Test contexts only; steady-state code never clears the registry.
func (r *ModuleRegistry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.descriptors = make(map[string]ModuleDescriptor)
	r.phase = PhaseUninitialized
}
