// tenant.go: Per-tenant module enablement state and guard queries
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package gomodules

import (
	"sort"
	"sync"
)

// TenantModuleState tracks which modules are enabled for a single tenant.
//
// Enablement is pure bookkeeping: the runtime instances themselves live in
// the process-wide loader cache and are shared across tenants. State is safe
// for concurrent use; the loader additionally serializes enable/disable
// transitions per tenant.
type TenantModuleState struct {
	mu      sync.RWMutex
	enabled map[string]ModuleEnablement
}

// newTenantModuleState creates empty enablement state for a tenant.
func newTenantModuleState() *TenantModuleState {
	return &TenantModuleState{
		enabled: make(map[string]ModuleEnablement),
	}
}

// enable records a module as enabled. Idempotent: re-enabling keeps the
// original enablement record.
func (s *TenantModuleState) enable(moduleName string, enablement ModuleEnablement) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.enabled[moduleName]; ok {
		return
	}
	s.enabled[moduleName] = enablement
}

// disable removes a module from the enabled set. Idempotent.
func (s *TenantModuleState) disable(moduleName string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.enabled, moduleName)
}

// IsEnabled reports whether moduleName is enabled for this tenant.
//
// This is the primary guard query for request-path feature gating.
func (s *TenantModuleState) IsEnabled(moduleName string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.enabled[moduleName]
	return ok
}

// AnyEnabled reports whether at least one of the given modules is enabled.
func (s *TenantModuleState) AnyEnabled(moduleNames ...string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, name := range moduleNames {
		if _, ok := s.enabled[name]; ok {
			return true
		}
	}
	return false
}

// AllEnabled reports whether every one of the given modules is enabled.
// Vacuously true for an empty argument list.
func (s *TenantModuleState) AllEnabled(moduleNames ...string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, name := range moduleNames {
		if _, ok := s.enabled[name]; !ok {
			return false
		}
	}
	return true
}

// Enablement returns the enablement record for moduleName.
func (s *TenantModuleState) Enablement(moduleName string) (ModuleEnablement, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	enablement, ok := s.enabled[moduleName]
	return enablement, ok
}

// EnabledModules returns the enabled module names sorted for deterministic
// output in logs, stats and provisioning diffs.
func (s *TenantModuleState) EnabledModules() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.enabled))
	for name := range s.enabled {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Count returns the number of enabled modules.
func (s *TenantModuleState) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.enabled)
}
