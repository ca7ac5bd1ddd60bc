// module.go: Core module runtime interfaces and types
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package gomodules

import (
	"context"
	"net/http"
)

// ModuleRuntime is the runtime code unit behind a module descriptor.
//
// Implementations are registered with the loader through a compile-time
// registration table (RuntimeFactory); "load by name" looks the factory up,
// there is no dynamic code loading.
type ModuleRuntime interface {
	// Initialize prepares the module for use. It is invoked exactly once per
	// process for the first load; subsequent loads reuse the cached instance.
	// Context should be honored for cancellation imposed by the host.
	Initialize(ctx context.Context, host HostContext) error

	// Cleanup releases resources held by the module. Invoked on unload;
	// failures are logged by the loader and never block teardown.
	Cleanup(ctx context.Context) error
}

// RouteProvider is optionally implemented by module runtimes that expose
// HTTP routes. The loader collects the registrations into the module
// instance; mounting them is the responsibility of the external HTTP layer.
type RouteProvider interface {
	Routes() []RouteRegistration
}

// RouteRegistration declares a single route a module wants mounted.
type RouteRegistration struct {
	Method  string       `json:"method"`
	Path    string       `json:"path"`
	Handler http.Handler `json:"-"`
}

// RuntimeFactory creates a fresh, uninitialized module runtime. Factories
// are registered once at composition time via Loader.RegisterRuntime.
type RuntimeFactory func() ModuleRuntime

// HostContext carries the owning application context into a module's
// Initialize hook.
type HostContext struct {
	// App is the owning application handle, opaque to this engine
	App any

	// TenantID is the tenant that triggered the load, when the load
	// happened on a tenant-scoped path; empty for process-wide loads
	TenantID string

	// Logger for the module's own operational logging
	Logger Logger
}
