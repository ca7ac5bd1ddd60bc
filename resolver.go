// resolver.go: Pure dependency resolution over the registry graph
//
// All resolver operations are pure: they never mutate the registry, and the
// currently-enabled module set is always an explicit parameter rather than
// implicit global state, which keeps every operation trivially testable.
//
// Only hard dependencies participate in cycle detection and load ordering;
// optional dependencies appear solely in "missing optional" diagnostics.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package gomodules

import (
	"fmt"
	"strings"
)

// Resolution is the outcome of a single-module dependency resolution.
//
// Callers must branch on CanEnable and the missing sets; Message is a
// human-readable summary only and carries no contract.
type Resolution struct {
	CanEnable                   bool     `json:"can_enable"`
	MissingDependencies         []string `json:"missing_dependencies,omitempty"`
	MissingOptionalDependencies []string `json:"missing_optional_dependencies,omitempty"`
	Message                     string   `json:"message"`
}

// CycleCheck is the outcome of circular-dependency detection.
//
// CircularPath preserves traversal order from the repeated node back to the
// point of re-detection, inclusive: [a, b, c, a] for a->b->c->a, [a, a] for
// a self-reference.
type CycleCheck struct {
	HasCircular  bool     `json:"has_circular"`
	CircularPath []string `json:"circular_path,omitempty"`
}

// ValidationReport is the outcome of configuration validation for a module.
type ValidationReport struct {
	Valid               bool     `json:"valid"`
	MissingFromRegistry []string `json:"missing_from_registry,omitempty"`
	CircularPath        []string `json:"circular_path,omitempty"`
}

// DisableCheck is the outcome of a safe-disable query.
type DisableCheck struct {
	CanDisable       bool     `json:"can_disable"`
	DependentModules []string `json:"dependent_modules,omitempty"`
}

// DependencyResolver answers dependency questions against a registry.
//
// The resolver holds no state of its own beyond the registry reference; it is
// safe for concurrent use.
type DependencyResolver struct {
	registry *ModuleRegistry
}

// NewDependencyResolver creates a resolver over the given registry.
func NewDependencyResolver(registry *ModuleRegistry) *DependencyResolver {
	return &DependencyResolver{registry: registry}
}

// ResolveDependencies decides whether moduleName can be enabled given the
// currently-enabled set.
//
// CanEnable is true iff every hard dependency is in enabledModules. Missing
// optional dependencies are computed regardless and never block enablement.
// Returns a ModuleNotFound error when moduleName is not registered.
func (dr *DependencyResolver) ResolveDependencies(moduleName string, enabledModules []string) (Resolution, error) {
	descriptor, ok := dr.registry.GetModule(moduleName)
	if !ok {
		return Resolution{}, NewModuleNotFoundError(moduleName)
	}

	enabled := toSet(enabledModules)

	var missing []string
	for _, dep := range descriptor.Dependencies {
		if !enabled[dep] {
			missing = append(missing, dep)
		}
	}

	var missingOptional []string
	for _, dep := range descriptor.OptionalDependencies {
		if !enabled[dep] {
			missingOptional = append(missingOptional, dep)
		}
	}

	resolution := Resolution{
		CanEnable:                   len(missing) == 0,
		MissingDependencies:         missing,
		MissingOptionalDependencies: missingOptional,
	}

	switch {
	case !resolution.CanEnable:
		resolution.Message = fmt.Sprintf("module %s requires: %s", moduleName, strings.Join(missing, ", "))
	case len(missingOptional) > 0:
		resolution.Message = fmt.Sprintf("module %s can be enabled; optional features need: %s", moduleName, strings.Join(missingOptional, ", "))
	default:
		resolution.Message = fmt.Sprintf("module %s can be enabled", moduleName)
	}

	return resolution, nil
}

// DetectCircularDependencies walks the hard-dependency graph depth-first from
// startModule, maintaining a path stack.
//
// A cycle exists only when traversal reaches a node already on the current
// path stack; a node merely visited before via a sibling branch (a diamond's
// shared ancestor) is a normal shared dependency, not a cycle.
//
// A non-existent start module yields HasCircular:false: the empty graph has
// no cycles, and this operation is used on diagnostic paths where leniency
// beats failure.
func (dr *DependencyResolver) DetectCircularDependencies(startModule string) CycleCheck {
	visited := make(map[string]bool)
	onPath := make(map[string]bool)
	var stack []string

	var walk func(name string) []string
	walk = func(name string) []string {
		if onPath[name] {
			// Slice the active path from the repeated node to here.
			for i, node := range stack {
				if node == name {
					cycle := make([]string, 0, len(stack)-i+1)
					cycle = append(cycle, stack[i:]...)
					return append(cycle, name)
				}
			}
			return []string{name, name}
		}
		if visited[name] {
			return nil
		}
		visited[name] = true

		descriptor, ok := dr.registry.GetModule(name)
		if !ok {
			return nil
		}

		onPath[name] = true
		stack = append(stack, name)
		for _, dep := range descriptor.Dependencies {
			if cycle := walk(dep); cycle != nil {
				return cycle
			}
		}
		stack = stack[:len(stack)-1]
		onPath[name] = false

		return nil
	}

	if cycle := walk(startModule); cycle != nil {
		return CycleCheck{HasCircular: true, CircularPath: cycle}
	}
	return CycleCheck{}
}

// GetDependencyTree returns the transitive closure of hard dependencies
// reachable from moduleName, deduplicated and in first-seen traversal order.
// Diamond-shared ancestors appear exactly once. The module itself is not
// part of its own tree.
func (dr *DependencyResolver) GetDependencyTree(moduleName string) []string {
	seen := map[string]bool{moduleName: true}
	tree := make([]string, 0)

	var walk func(name string)
	walk = func(name string) {
		descriptor, ok := dr.registry.GetModule(name)
		if !ok {
			return
		}
		for _, dep := range descriptor.Dependencies {
			if seen[dep] {
				continue
			}
			seen[dep] = true
			tree = append(tree, dep)
			walk(dep)
		}
	}

	walk(moduleName)
	return tree
}

// GetLoadOrder computes a topological ordering over the union of the
// requested modules and their transitive hard dependencies: every module
// appears strictly after all of its hard dependencies present in the result.
//
// The tie-break between independent modules is first-seen order over the
// expanded input, so repeated calls with the same input produce the same
// output. Reproducible tenant provisioning depends on this.
//
// A module whose declared dependency is absent from the registry is still
// included (best effort); the unresolved reference is a concern surfaced by
// ValidateDependencies, not by load ordering. Cycle participants, should the
// registry contain a cycle, are appended in first-seen order rather than
// silently dropped.
func (dr *DependencyResolver) GetLoadOrder(moduleNames []string) []string {
	// Expand to the full node set in deterministic first-seen order,
	// dependencies discovered before the modules that pull them in.
	var nodes []string
	inSet := make(map[string]bool)

	var expand func(name string)
	expand = func(name string) {
		if inSet[name] {
			return
		}
		inSet[name] = true
		if descriptor, ok := dr.registry.GetModule(name); ok {
			for _, dep := range descriptor.Dependencies {
				expand(dep)
			}
		}
		nodes = append(nodes, name)
	}
	for _, name := range moduleNames {
		expand(name)
	}

	// Kahn's algorithm; only edges whose both ends are registered count, so
	// unresolved references never strand their dependents.
	indegree := make(map[string]int, len(nodes))
	for _, name := range nodes {
		descriptor, ok := dr.registry.GetModule(name)
		if !ok {
			continue
		}
		for _, dep := range descriptor.Dependencies {
			if dr.registry.HasModule(dep) && inSet[dep] {
				indegree[name]++
			}
		}
	}

	var queue []string
	for _, name := range nodes {
		if indegree[name] == 0 {
			queue = append(queue, name)
		}
	}

	order := make([]string, 0, len(nodes))
	placed := make(map[string]bool, len(nodes))
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		order = append(order, current)
		placed[current] = true

		// Edges into unregistered names were never counted above, so an
		// unregistered node must not decrement its dependents.
		if !dr.registry.HasModule(current) {
			continue
		}
		for _, name := range nodes {
			if placed[name] || indegree[name] == 0 {
				continue
			}
			if descriptor, ok := dr.registry.GetModule(name); ok && descriptor.DependsOn(current) {
				indegree[name]--
				if indegree[name] == 0 {
					queue = append(queue, name)
				}
			}
		}
	}

	// Leftovers are cycle participants: best effort, keep first-seen order.
	for _, name := range nodes {
		if !placed[name] {
			order = append(order, name)
		}
	}

	return order
}

// ValidateDependencies checks a module's declared configuration: hard
// dependency names with no registry entry, and circular dependencies
// reachable from the module. Configuration errors are reported, never
// auto-corrected. Returns a ModuleNotFound error when moduleName is not
// registered.
func (dr *DependencyResolver) ValidateDependencies(moduleName string) (ValidationReport, error) {
	descriptor, ok := dr.registry.GetModule(moduleName)
	if !ok {
		return ValidationReport{}, NewModuleNotFoundError(moduleName)
	}

	report := ValidationReport{Valid: true}

	for _, dep := range descriptor.Dependencies {
		if !dr.registry.HasModule(dep) {
			report.MissingFromRegistry = append(report.MissingFromRegistry, dep)
		}
	}
	if len(report.MissingFromRegistry) > 0 {
		report.Valid = false
	}

	if cycle := dr.DetectCircularDependencies(moduleName); cycle.HasCircular {
		report.Valid = false
		report.CircularPath = cycle.CircularPath
	}

	return report, nil
}

// CanDisableModule reports whether moduleName can be disabled given the
// currently-enabled set: disabling is blocked while any other enabled module
// still lists it as a hard dependency.
//
// This is the mirror of ResolveDependencies and deliberately consults the
// same edge set (hard dependencies only).
func (dr *DependencyResolver) CanDisableModule(moduleName string, enabledModules []string) DisableCheck {
	var dependents []string
	for _, name := range enabledModules {
		if name == moduleName {
			continue
		}
		if descriptor, ok := dr.registry.GetModule(name); ok && descriptor.DependsOn(moduleName) {
			dependents = append(dependents, name)
		}
	}

	return DisableCheck{
		CanDisable:       len(dependents) == 0,
		DependentModules: dependents,
	}
}

// toSet converts a module name list to a membership set.
func toSet(names []string) map[string]bool {
	set := make(map[string]bool, len(names))
	for _, name := range names {
		set[name] = true
	}
	return set
}
