// discovery.go: Filesystem discovery of module manifests
//
// Each immediate subdirectory of a module root may declare one module via a
// manifest file (module.yaml, module.yml or module.json). Missing or
// malformed manifests are skipped with a warning, not a fatal error: partial
// discovery is expected, since not every directory is a module.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package gomodules

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/agilira/argus"
	"gopkg.in/yaml.v3"
)

// Discover scans the configured module roots and registers every valid
// manifest found. Safe to call with no roots configured (no-op).
//
// Discovery is best-effort by design: a malformed manifest or an unreadable
// directory affects only that module, the scan continues with the rest.
func (r *ModuleRegistry) Discover(ctx context.Context) error {
	for _, root := range r.config.ModuleRoots {
		if err := ctx.Err(); err != nil {
			return NewDiscoveryError("discovery canceled", err)
		}

		entries, err := os.ReadDir(root)
		if err != nil {
			r.logger.Warn("Skipping unreadable module root",
				"root", root, "error", err)
			continue
		}

		for _, entry := range entries {
			if !entry.IsDir() {
				continue
			}
			r.discoverModuleDir(filepath.Join(root, entry.Name()))
		}
	}

	r.logger.Info("Module discovery completed",
		"roots", r.config.ModuleRoots,
		"modules", r.Count())
	return nil
}

// discoverModuleDir probes one candidate module directory for a manifest and
// registers it. All failures are demoted to warnings.
func (r *ModuleRegistry) discoverModuleDir(dir string) {
	manifestPath, ok := r.findManifest(dir)
	if !ok {
		r.logger.Debug("No manifest in directory, skipping", "dir", dir)
		return
	}

	descriptor, err := parseManifestFile(manifestPath)
	if err != nil {
		r.logger.Warn("Skipping malformed module manifest",
			"manifest", manifestPath, "error", err)
		return
	}
	descriptor.ManifestPath = manifestPath

	if err := r.Register(descriptor); err != nil {
		r.logger.Warn("Skipping invalid module descriptor",
			"manifest", manifestPath, "error", err)
	}
}

// findManifest returns the first configured manifest name present in dir.
func (r *ModuleRegistry) findManifest(dir string) (string, bool) {
	for _, name := range r.config.ManifestNames {
		candidate := filepath.Join(dir, name)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, true
		}
	}
	return "", false
}

// parseManifestFile reads and decodes a module manifest. The format is
// selected from the file extension (YAML or JSON).
func parseManifestFile(path string) (ModuleDescriptor, error) {
	var descriptor ModuleDescriptor

	data, err := os.ReadFile(path)
	if err != nil {
		return descriptor, NewManifestParseError(path, err)
	}

	switch argus.DetectFormat(path) {
	case argus.FormatJSON:
		err = json.Unmarshal(data, &descriptor)
	default:
		err = yaml.Unmarshal(data, &descriptor)
	}
	if err != nil {
		return ModuleDescriptor{}, NewManifestParseError(path, err)
	}

	return descriptor, nil
}
