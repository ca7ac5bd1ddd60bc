// errors.go: structured error definitions for the go-modules system
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package gomodules

import (
	"fmt"
	"strings"

	"github.com/agilira/go-errors"
)

// Error codes for the go-modules system
const (
	// Descriptor validation errors (1000-1099)
	ErrCodeInvalidModuleName   = "MODULE_1001"
	ErrCodeMissingField        = "MODULE_1002"
	ErrCodeInvalidDependencies = "MODULE_1003"

	// Module lifecycle errors (1200-1299)
	ErrCodeModuleNotFound       = "MODULE_1201"
	ErrCodeDependencyMissing    = "MODULE_1202"
	ErrCodeModuleInitFailed     = "MODULE_1203"
	ErrCodeModuleLoadFailed     = "MODULE_1204"
	ErrCodeModuleDisableBlocked = "MODULE_1205"
	ErrCodeCircularDependency   = "MODULE_1206"
	ErrCodeRuntimeNotRegistered = "MODULE_1207"

	// Configuration errors (1700-1799)
	ErrCodeManifestParseError = "CONFIG_1702"
	ErrCodeConfigWatcherError = "CONFIG_1704"
	ErrCodeTenantConfigError  = "CONFIG_1708"

	// Registry errors (1900-1999)
	ErrCodeRegistryError  = "REGISTRY_1901"
	ErrCodeDiscoveryError = "REGISTRY_1906"
)

// Descriptor validation error constructors

func NewInvalidModuleNameError(name string) *errors.Error {
	return errors.New(ErrCodeInvalidModuleName, "Invalid module name").
		WithUserMessage("Module name must be a non-empty lowercase/hyphen token").
		WithContext("provided_name", name).
		WithSeverity("error")
}

// NewDescriptorValidationError reports the full set of offending fields of a
// malformed descriptor so callers can fix the manifest in one pass.
func NewDescriptorValidationError(name string, fields []string) *errors.Error {
	return errors.New(ErrCodeMissingField, "Descriptor validation failed: "+strings.Join(fields, ", ")).
		WithUserMessage("Module descriptor has missing or malformed fields").
		WithContext("module_name", name).
		WithContext("invalid_fields", fields).
		WithSeverity("error")
}

func NewInvalidDependenciesError(name string, cause error) *errors.Error {
	return errors.Wrap(cause, ErrCodeInvalidDependencies, "Invalid dependency declaration").
		WithUserMessage("Module dependencies must be a list of module names").
		WithContext("module_name", name).
		WithSeverity("error")
}

// Module lifecycle error constructors

func NewModuleNotFoundError(name string) *errors.Error {
	return errors.New(ErrCodeModuleNotFound, "Module not found").
		WithUserMessage("The requested module is not registered").
		WithContext("module_name", name).
		WithSeverity("error")
}

// NewDependencyMissingError carries the full missing-dependency set so the
// caller (or UI) can offer "enable these first" guidance.
func NewDependencyMissingError(name string, missing []string) *errors.Error {
	return errors.New(ErrCodeDependencyMissing, fmt.Sprintf("Module %s has unmet dependencies: %s", name, strings.Join(missing, ", "))).
		WithUserMessage("Enable the missing dependencies first").
		WithContext("module_name", name).
		WithContext("missing_dependencies", missing).
		WithSeverity("warning")
}

func NewModuleInitError(name string, cause error) *errors.Error {
	return errors.Wrap(cause, ErrCodeModuleInitFailed, "Module initialization failed").
		WithUserMessage("The module's initialize hook returned an error").
		WithContext("module_name", name).
		WithSeverity("error").
		AsRetryable()
}

func NewModuleLoadFailedError(name string, cause error) *errors.Error {
	return errors.Wrap(cause, ErrCodeModuleLoadFailed, "Module load failed").
		WithUserMessage("The module's runtime code could not be loaded").
		WithContext("module_name", name).
		WithSeverity("error")
}

func NewDisableBlockedError(name string, dependents []string) *errors.Error {
	return errors.New(ErrCodeModuleDisableBlocked, fmt.Sprintf("Module %s is required by: %s", name, strings.Join(dependents, ", "))).
		WithUserMessage("Disable the dependent modules first").
		WithContext("module_name", name).
		WithContext("dependent_modules", dependents).
		WithSeverity("warning")
}

func NewCircularDependencyError(path []string) *errors.Error {
	return errors.New(ErrCodeCircularDependency, "Circular dependency detected: "+strings.Join(path, " -> ")).
		WithUserMessage("The module dependency graph contains a cycle").
		WithContext("circular_path", path).
		WithSeverity("error")
}

func NewRuntimeNotRegisteredError(name string) *errors.Error {
	return errors.New(ErrCodeRuntimeNotRegistered, "No runtime registered for module").
		WithUserMessage("The module has no compile-time runtime factory registered").
		WithContext("module_name", name).
		WithSeverity("error")
}

// Configuration error constructors

func NewManifestParseError(path string, cause error) *errors.Error {
	return errors.Wrap(cause, ErrCodeManifestParseError, "Manifest parse error").
		WithUserMessage("Failed to parse module manifest file").
		WithContext("manifest_path", path).
		WithSeverity("warning")
}

func NewConfigWatcherError(message string, cause error) *errors.Error {
	return errors.Wrap(cause, ErrCodeConfigWatcherError, "Configuration watcher error: "+message).
		WithUserMessage("Tenant configuration monitoring failed").
		WithSeverity("error")
}

func NewTenantConfigError(message string, cause error) *errors.Error {
	return errors.Wrap(cause, ErrCodeTenantConfigError, "Tenant configuration error: "+message).
		WithUserMessage("Tenant provisioning configuration is invalid").
		WithSeverity("error")
}

// Error classification helpers

// IsDependencyMissing reports whether err is a DependencyMissing error.
func IsDependencyMissing(err error) bool {
	return hasErrorCode(err, ErrCodeDependencyMissing)
}

// IsModuleNotFound reports whether err is a ModuleNotFound error.
func IsModuleNotFound(err error) bool {
	return hasErrorCode(err, ErrCodeModuleNotFound)
}

func hasErrorCode(err error, code string) bool {
	e, ok := err.(*errors.Error)
	return ok && e.ErrorCode() == errors.ErrorCode(code)
}

// Registry error constructors

func NewRegistryError(message string, cause error) *errors.Error {
	return errors.Wrap(cause, ErrCodeRegistryError, "Registry error: "+message).
		WithUserMessage("Module registry operation failed").
		WithSeverity("error")
}

func NewDiscoveryError(message string, cause error) *errors.Error {
	return errors.Wrap(cause, ErrCodeDiscoveryError, "Discovery error: "+message).
		WithUserMessage("Module discovery failed").
		WithSeverity("error")
}
