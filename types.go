// types.go: Common data types and structures for the module system
//
// This file contains the shared data type definitions used throughout the
// module dependency and lifecycle engine. These types represent the common
// data models and enumerations used by the registry, resolver, and loader.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package gomodules

import (
	"time"
)

// RegistryPhase represents the lifecycle phase of the module registry.
//
// The registry moves strictly forward through its phases:
//   - PhaseUninitialized: registry constructed, no descriptors loaded
//   - PhaseDiscovering: filesystem discovery in progress
//   - PhaseInitialized: registry sealed for steady-state (read-mostly) use
//
// PhaseInitialized is a one-shot latch: repeated initialization is a no-op
// with a warning, never an error, to support reload-on-restart semantics.
type RegistryPhase int

const (
	PhaseUninitialized RegistryPhase = iota
	PhaseDiscovering
	PhaseInitialized
)

// String returns a human-readable representation of the registry phase.
func (p RegistryPhase) String() string {
	switch p {
	case PhaseDiscovering:
		return "discovering"
	case PhaseInitialized:
		return "initialized"
	default:
		return "uninitialized"
	}
}

// ModuleState represents the lifecycle state of a module's runtime code
// within the process-wide instance cache.
type ModuleState int

const (
	// StateNotLoaded indicates the module runtime has not been initialized
	StateNotLoaded ModuleState = iota
	// StateLoading indicates the module runtime is currently initializing
	StateLoading
	// StateLoaded indicates the module runtime initialized successfully
	StateLoaded
	// StateFailed indicates the last initialization attempt failed; the
	// module is not cached and a retry is possible on the next load call
	StateFailed
)

// String returns a human-readable representation of the module state.
func (s ModuleState) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateLoaded:
		return "loaded"
	case StateFailed:
		return "failed"
	default:
		return "not-loaded"
	}
}

// ModuleDescriptor is the static declaration of a module's identity and its
// dependency edges. Descriptors are immutable once registered; the registry
// replaces a descriptor wholesale on re-registration (last-write-wins).
//
// Fields:
//   - Name: unique identifier and graph node id (lowercase/hyphen token)
//   - DisplayName, Version, Description: metadata, no behavioral effect
//   - Dependencies: hard edges; must be enabled before this module
//   - OptionalDependencies: soft edges; absence degrades, never blocks
//   - RoutePrefix, Permissions: routing-layer fields carried verbatim for
//     the external HTTP layer, not interpreted by this engine
//   - RegisteredAt: informational registration timestamp
//   - ManifestPath: source manifest file when discovered from disk
//
// Example manifest (module.yaml):
//
//	name: payroll
//	display_name: Payroll
//	version: 2.1.0
//	description: Salary runs and payslips
//	dependencies: [hr-core, email-service]
//	optional_dependencies: [documents]
//	route_prefix: /payroll
//	permissions: [payroll.read, payroll.run]
type ModuleDescriptor struct {
	Name                 string   `json:"name" yaml:"name"`
	DisplayName          string   `json:"display_name" yaml:"display_name"`
	Version              string   `json:"version" yaml:"version"`
	Description          string   `json:"description" yaml:"description"`
	Dependencies         []string `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`
	OptionalDependencies []string `json:"optional_dependencies,omitempty" yaml:"optional_dependencies,omitempty"`

	// Routing-layer metadata, consumed by the external HTTP layer.
	RoutePrefix string   `json:"route_prefix,omitempty" yaml:"route_prefix,omitempty"`
	Permissions []string `json:"permissions,omitempty" yaml:"permissions,omitempty"`

	RegisteredAt time.Time `json:"registered_at" yaml:"registered_at"`
	ManifestPath string    `json:"manifest_path,omitempty" yaml:"manifest_path,omitempty"`
}

// DependsOn reports whether the descriptor lists name as a hard dependency.
func (d *ModuleDescriptor) DependsOn(name string) bool {
	for _, dep := range d.Dependencies {
		if dep == name {
			return true
		}
	}
	return false
}

// ModuleInstance is the process-wide handle to a module's initialized runtime
// code and its registered route handlers.
//
// Instances are exclusively owned by the ModuleLoader: created at most once
// per module name per process (idempotent load), destroyed on explicit unload
// after the cleanup hook has been invoked.
type ModuleInstance struct {
	// ID uniquely identifies this instance for correlation in logs and audit
	ID string `json:"id"`

	// Name is the module name this instance was loaded for
	Name string `json:"name"`

	// Runtime is the initialized module runtime code
	Runtime ModuleRuntime `json:"-"`

	// Routes collected from the runtime if it implements RouteProvider
	Routes []RouteRegistration `json:"routes,omitempty"`

	// LoadedAt records when initialization completed
	LoadedAt time.Time `json:"loaded_at"`
}

// ModuleEnablement records who enabled a module for a tenant and when.
type ModuleEnablement struct {
	EnabledBy string    `json:"enabled_by"`
	EnabledAt time.Time `json:"enabled_at"`
}

// LoadReport is the per-module outcome of a batch load operation.
//
// Batch loads are best-effort: a failure loading one module does not abort
// the batch, it is surfaced here instead. Callers inspect partial success
// without special-casing control flow.
type LoadReport struct {
	Name     string          `json:"name"`
	Instance *ModuleInstance `json:"-"`
	Skipped  bool            `json:"skipped,omitempty"`
	Err      error           `json:"error,omitempty"`
}

// LoaderStats provides a point-in-time snapshot of loader state.
type LoaderStats struct {
	LoadedInstances int            `json:"loaded_instances"`
	Tenants         int            `json:"tenants"`
	EnabledByTenant map[string]int `json:"enabled_by_tenant"`
	Loads           int64          `json:"loads"`
	Unloads         int64          `json:"unloads"`
	LoadFailures    int64          `json:"load_failures"`
	GeneratedAt     time.Time      `json:"generated_at"`
}
