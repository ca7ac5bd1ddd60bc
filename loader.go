// loader.go: Tenant-aware module lifecycle management
//
// The loader owns two layers of state with different scopes:
//
//   - Process-wide instance cache: each module's runtime code is initialized
//     at most once per process and shared by every tenant that enables it.
//   - Per-tenant enablement state: which modules a tenant has switched on,
//     with the audit trail of who enabled them and when.
//
// Runtimes are bound through a compile-time registration table: callers
// register a RuntimeFactory per module name at composition time, and "load by
// name" is a table lookup followed by Initialize. There is no dynamic code
// loading.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package gomodules

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/agilira/go-timecache"
	"github.com/google/uuid"
)

// DefaultCoreModule is the module implicitly provisioned for every tenant
// unless LoaderConfig.CoreModule overrides it.
const DefaultCoreModule = "core"

// LoaderConfig configures the module loader.
type LoaderConfig struct {
	// CoreModule is always included when provisioning a tenant's module set.
	// Defaults to DefaultCoreModule.
	CoreModule string `json:"core_module" yaml:"core_module"`

	// App is the owning application handle passed to module Initialize hooks
	// through HostContext. Opaque to the loader.
	App any `json:"-" yaml:"-"`

	// Logger for loader events; defaults to a silent logger.
	Logger Logger `json:"-" yaml:"-"`
}

// ModuleLoader manages module runtime instances and per-tenant enablement.
//
// All methods are safe for concurrent use. Enable/disable transitions for the
// same tenant are serialized by a per-tenant mutex; transitions for different
// tenants proceed in parallel. Concurrent loads of the same module resolve to
// exactly one Initialize call.
type ModuleLoader struct {
	registry *ModuleRegistry
	resolver *DependencyResolver
	config   LoaderConfig
	logger   Logger

	mu          sync.RWMutex
	runtimes    map[string]RuntimeFactory
	instances   map[string]*ModuleInstance
	loading     map[string]chan struct{}
	tenants     map[string]*TenantModuleState
	tenantLocks map[string]*sync.Mutex

	loads        atomic.Int64
	unloads      atomic.Int64
	loadFailures atomic.Int64
}

// NewModuleLoader creates a loader over the given registry.
func NewModuleLoader(registry *ModuleRegistry, config LoaderConfig) *ModuleLoader {
	if config.Logger == nil {
		config.Logger = DefaultLogger()
	}
	if config.CoreModule == "" {
		config.CoreModule = DefaultCoreModule
	}

	return &ModuleLoader{
		registry:    registry,
		resolver:    NewDependencyResolver(registry),
		config:      config,
		logger:      config.Logger,
		runtimes:    make(map[string]RuntimeFactory),
		instances:   make(map[string]*ModuleInstance),
		loading:     make(map[string]chan struct{}),
		tenants:     make(map[string]*TenantModuleState),
		tenantLocks: make(map[string]*sync.Mutex),
	}
}

// Resolver returns the loader's dependency resolver for direct graph queries.
func (l *ModuleLoader) Resolver() *DependencyResolver {
	return l.resolver
}

// RegisterRuntime binds a runtime factory to a module name.
//
// Registration happens once at composition time, before any tenant traffic.
// Re-registration overwrites with a warning so tests can swap fakes in.
func (l *ModuleLoader) RegisterRuntime(moduleName string, factory RuntimeFactory) error {
	if moduleName == "" || factory == nil {
		return NewRegistryError("runtime registration requires a module name and a factory", nil)
	}

	l.mu.Lock()
	_, overwrite := l.runtimes[moduleName]
	l.runtimes[moduleName] = factory
	l.mu.Unlock()

	if overwrite {
		l.logger.Warn("Module runtime factory overwritten", "module", moduleName)
	} else {
		l.logger.Debug("Module runtime factory registered", "module", moduleName)
	}
	return nil
}

// HasRuntime reports whether a runtime factory is registered for moduleName.
func (l *ModuleLoader) HasRuntime(moduleName string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()

	_, ok := l.runtimes[moduleName]
	return ok
}

// LoadModule initializes the runtime instance for moduleName, or returns the
// cached instance when it is already loaded.
//
// Idempotent and single-flight: under concurrent calls exactly one
// Initialize runs, everyone else waits for its outcome. A failed Initialize
// is not cached, so the next call retries.
func (l *ModuleLoader) LoadModule(ctx context.Context, moduleName string) (*ModuleInstance, error) {
	return l.loadModule(ctx, moduleName, "")
}

func (l *ModuleLoader) loadModule(ctx context.Context, moduleName, tenantID string) (*ModuleInstance, error) {
	for {
		l.mu.Lock()
		if instance, ok := l.instances[moduleName]; ok {
			l.mu.Unlock()
			return instance, nil
		}
		inFlight, ok := l.loading[moduleName]
		if !ok {
			// Claim the load; other callers will wait on this channel.
			l.loading[moduleName] = make(chan struct{})
			l.mu.Unlock()
			break
		}
		l.mu.Unlock()

		select {
		case <-inFlight:
			// Loop: either the instance is cached now, or the load failed
			// and this caller retries it.
		case <-ctx.Done():
			return nil, NewModuleLoadFailedError(moduleName, ctx.Err())
		}
	}

	instance, err := l.initializeModule(ctx, moduleName, tenantID)

	l.mu.Lock()
	if err == nil {
		l.instances[moduleName] = instance
	}
	done := l.loading[moduleName]
	delete(l.loading, moduleName)
	l.mu.Unlock()
	close(done)

	if err != nil {
		l.loadFailures.Add(1)
		l.logger.Error("Module load failed", "module", moduleName, "error", err)
		return nil, err
	}

	l.loads.Add(1)
	l.logger.Info("Module loaded",
		"module", moduleName,
		"instance", instance.ID,
		"routes", len(instance.Routes))
	return instance, nil
}

// initializeModule runs a module's Initialize hook and builds its instance.
func (l *ModuleLoader) initializeModule(ctx context.Context, moduleName, tenantID string) (*ModuleInstance, error) {
	if _, ok := l.registry.GetModule(moduleName); !ok {
		return nil, NewModuleNotFoundError(moduleName)
	}

	l.mu.RLock()
	factory, ok := l.runtimes[moduleName]
	l.mu.RUnlock()
	if !ok {
		return nil, NewRuntimeNotRegisteredError(moduleName)
	}

	runtime := factory()
	host := HostContext{
		App:      l.config.App,
		TenantID: tenantID,
		Logger:   l.logger.With("module", moduleName),
	}
	if err := runtime.Initialize(ctx, host); err != nil {
		return nil, NewModuleInitError(moduleName, err)
	}

	instance := &ModuleInstance{
		ID:       uuid.NewString(),
		Name:     moduleName,
		Runtime:  runtime,
		LoadedAt: timecache.CachedTime(),
	}
	if provider, ok := runtime.(RouteProvider); ok {
		instance.Routes = provider.Routes()
	}
	return instance, nil
}

// LoadModules loads the given modules plus their transitive dependencies in
// dependency order, best effort: one module failing does not abort the batch.
// The returned reports follow load order, one entry per attempted module.
func (l *ModuleLoader) LoadModules(ctx context.Context, moduleNames []string) []LoadReport {
	order := l.resolver.GetLoadOrder(moduleNames)
	reports := make([]LoadReport, 0, len(order))

	for _, name := range order {
		instance, err := l.loadModule(ctx, name, "")
		reports = append(reports, LoadReport{
			Name:     name,
			Instance: instance,
			Err:      err,
		})
	}
	return reports
}

// UnloadModule removes a module's runtime instance from the process-wide
// cache and invokes its Cleanup hook.
//
// Cleanup failures are logged, never returned: teardown must not wedge on a
// misbehaving module. Unloading a module that is not loaded is a no-op.
func (l *ModuleLoader) UnloadModule(ctx context.Context, moduleName string) {
	l.mu.Lock()
	instance, ok := l.instances[moduleName]
	delete(l.instances, moduleName)
	l.mu.Unlock()

	if !ok {
		return
	}

	if err := instance.Runtime.Cleanup(ctx); err != nil {
		l.logger.Warn("Module cleanup failed, continuing teardown",
			"module", moduleName,
			"instance", instance.ID,
			"error", err)
	}

	l.unloads.Add(1)
	l.logger.Info("Module unloaded", "module", moduleName, "instance", instance.ID)
}

// Shutdown unloads every loaded module, dependents before their
// dependencies, so a module's Cleanup never observes an already-torn-down
// dependency.
func (l *ModuleLoader) Shutdown(ctx context.Context) {
	loaded := l.LoadedModules()

	order := l.resolver.GetLoadOrder(loaded)
	for i := len(order) - 1; i >= 0; i-- {
		l.UnloadModule(ctx, order[i])
	}
	l.logger.Info("Module loader shut down", "unloaded", len(loaded))
}

// EnableModuleForTenant switches a module on for a tenant.
//
// The module's hard dependencies must already be enabled for that tenant;
// otherwise a DependencyMissing error carrying the full missing set is
// returned and nothing changes. Enabling an already-enabled module is an
// idempotent success. The runtime instance is loaded on first use.
func (l *ModuleLoader) EnableModuleForTenant(ctx context.Context, tenantID, moduleName, enabledBy string) error {
	lock := l.tenantLock(tenantID)
	lock.Lock()
	defer lock.Unlock()

	state := l.tenantState(tenantID)
	_, err := l.enableLocked(ctx, tenantID, state, moduleName, enabledBy)
	return err
}

// enableLocked performs one enable transition. Caller holds the tenant lock.
func (l *ModuleLoader) enableLocked(ctx context.Context, tenantID string, state *TenantModuleState, moduleName, enabledBy string) (*ModuleInstance, error) {
	if state.IsEnabled(moduleName) {
		l.logger.Debug("Module already enabled for tenant, ignoring",
			"tenant", tenantID, "module", moduleName)
		l.mu.RLock()
		instance := l.instances[moduleName]
		l.mu.RUnlock()
		return instance, nil
	}

	resolution, err := l.resolver.ResolveDependencies(moduleName, state.EnabledModules())
	if err != nil {
		return nil, err
	}
	if !resolution.CanEnable {
		return nil, NewDependencyMissingError(moduleName, resolution.MissingDependencies)
	}
	if len(resolution.MissingOptionalDependencies) > 0 {
		l.logger.Warn("Module enabled without optional dependencies",
			"tenant", tenantID,
			"module", moduleName,
			"missing_optional", resolution.MissingOptionalDependencies)
	}

	instance, err := l.loadModule(ctx, moduleName, tenantID)
	if err != nil {
		return nil, err
	}

	state.enable(moduleName, ModuleEnablement{
		EnabledBy: enabledBy,
		EnabledAt: timecache.CachedTime(),
	})
	l.logger.Info("Module enabled for tenant",
		"tenant", tenantID,
		"module", moduleName,
		"enabled_by", enabledBy)
	return instance, nil
}

// DisableModuleForTenant switches a module off for a tenant without
// consulting dependents.
//
// Callers that want the safety check run CanDisableModule first or use
// DisableModuleForTenantChecked; keeping the check out of the default path
// leaves forced disables possible for operators.
//
// The runtime instance stays in the process-wide cache: other tenants may
// still be using it. Disabling a module that is not enabled is a no-op.
func (l *ModuleLoader) DisableModuleForTenant(ctx context.Context, tenantID, moduleName string) {
	lock := l.tenantLock(tenantID)
	lock.Lock()
	defer lock.Unlock()

	state := l.tenantState(tenantID)
	if !state.IsEnabled(moduleName) {
		return
	}

	state.disable(moduleName)
	l.logger.Info("Module disabled for tenant",
		"tenant", tenantID, "module", moduleName)
}

// DisableModuleForTenantChecked switches a module off for a tenant, refusing
// with a DisableBlocked error while other enabled modules still depend on it.
func (l *ModuleLoader) DisableModuleForTenantChecked(ctx context.Context, tenantID, moduleName string) error {
	lock := l.tenantLock(tenantID)
	lock.Lock()
	defer lock.Unlock()

	state := l.tenantState(tenantID)
	if !state.IsEnabled(moduleName) {
		return nil
	}

	check := l.resolver.CanDisableModule(moduleName, state.EnabledModules())
	if !check.CanDisable {
		return NewDisableBlockedError(moduleName, check.DependentModules)
	}

	state.disable(moduleName)
	l.logger.Info("Module disabled for tenant",
		"tenant", tenantID, "module", moduleName)
	return nil
}

// LoadModulesForTenant provisions a tenant's module set in one call: the
// configured core module plus moduleNames, enabled in dependency order.
//
// Best effort: a module whose hard dependencies are not part of the set (or
// otherwise failing to load) is skipped with a warning and reported, the
// rest of the set still comes up. Used at tenant onboarding and by the
// config watcher on provisioning changes.
func (l *ModuleLoader) LoadModulesForTenant(ctx context.Context, tenantID string, moduleNames []string) []LoadReport {
	lock := l.tenantLock(tenantID)
	lock.Lock()
	defer lock.Unlock()

	state := l.tenantState(tenantID)

	requested := make([]string, 0, len(moduleNames)+1)
	inRequested := make(map[string]bool, len(moduleNames)+1)
	for _, name := range append([]string{l.config.CoreModule}, moduleNames...) {
		if inRequested[name] {
			continue
		}
		inRequested[name] = true
		requested = append(requested, name)
	}

	order := l.resolver.GetLoadOrder(requested)
	reports := make([]LoadReport, 0, len(requested))

	for _, name := range order {
		// Dependencies pulled in by expansion but not part of the tenant's
		// set are not auto-enabled; their absence surfaces as a skip below.
		if !inRequested[name] {
			continue
		}

		instance, err := l.enableLocked(ctx, tenantID, state, name, "provisioning")
		report := LoadReport{Name: name, Instance: instance, Err: err}
		if err != nil {
			if IsDependencyMissing(err) {
				report.Skipped = true
				l.logger.Warn("Skipping module with unmet dependencies for tenant",
					"tenant", tenantID, "module", name, "error", err)
			} else {
				l.logger.Error("Module provisioning failed for tenant",
					"tenant", tenantID, "module", name, "error", err)
			}
		}
		reports = append(reports, report)
	}
	return reports
}

// GetModulesForTenant returns the tenant's enabled module names, sorted.
func (l *ModuleLoader) GetModulesForTenant(tenantID string) []string {
	l.mu.RLock()
	state, ok := l.tenants[tenantID]
	l.mu.RUnlock()

	if !ok {
		return nil
	}
	return state.EnabledModules()
}

// IsModuleLoadedForTenant reports whether moduleName is enabled for the
// tenant and its runtime instance is present in the process-wide cache.
func (l *ModuleLoader) IsModuleLoadedForTenant(tenantID, moduleName string) bool {
	l.mu.RLock()
	state, enabled := l.tenants[tenantID]
	_, loaded := l.instances[moduleName]
	l.mu.RUnlock()

	return enabled && loaded && state.IsEnabled(moduleName)
}

// TenantState returns the enablement state for a tenant, for guard queries
// on request paths (IsEnabled, AnyEnabled, AllEnabled).
func (l *ModuleLoader) TenantState(tenantID string) (*TenantModuleState, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	state, ok := l.tenants[tenantID]
	return state, ok
}

// GetInstance returns the cached runtime instance for moduleName.
func (l *ModuleLoader) GetInstance(moduleName string) (*ModuleInstance, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	instance, ok := l.instances[moduleName]
	return instance, ok
}

// LoadedModules returns the names of all cached runtime instances, sorted.
func (l *ModuleLoader) LoadedModules() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	names := make([]string, 0, len(l.instances))
	for name := range l.instances {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GetStats returns a point-in-time snapshot of loader state.
func (l *ModuleLoader) GetStats() LoaderStats {
	l.mu.RLock()
	enabledByTenant := make(map[string]int, len(l.tenants))
	for tenantID, state := range l.tenants {
		enabledByTenant[tenantID] = state.Count()
	}
	stats := LoaderStats{
		LoadedInstances: len(l.instances),
		Tenants:         len(l.tenants),
		EnabledByTenant: enabledByTenant,
	}
	l.mu.RUnlock()

	stats.Loads = l.loads.Load()
	stats.Unloads = l.unloads.Load()
	stats.LoadFailures = l.loadFailures.Load()
	stats.GeneratedAt = timecache.CachedTime()
	return stats
}

// tenantState returns (creating if needed) the enablement state for a tenant.
func (l *ModuleLoader) tenantState(tenantID string) *TenantModuleState {
	l.mu.Lock()
	defer l.mu.Unlock()

	state, ok := l.tenants[tenantID]
	if !ok {
		state = newTenantModuleState()
		l.tenants[tenantID] = state
	}
	return state
}

// tenantLock returns the mutex serializing enable/disable transitions for a
// tenant.
func (l *ModuleLoader) tenantLock(tenantID string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()

	lock, ok := l.tenantLocks[tenantID]
	if !ok {
		lock = &sync.Mutex{}
		l.tenantLocks[tenantID] = lock
	}
	return lock
}
