// errors_test.go: Tests for structured error construction and classification
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package gomodules

import (
	"fmt"
	"reflect"
	"strings"
	"testing"

	"github.com/agilira/go-errors"
)

func TestModuleNotFoundError(t *testing.T) {
	err := NewModuleNotFoundError("payroll")

	if err.ErrorCode() != errors.ErrorCode(ErrCodeModuleNotFound) {
		t.Errorf("code = %s, want %s", err.ErrorCode(), ErrCodeModuleNotFound)
	}
	if err.Context["module_name"] != "payroll" {
		t.Errorf("module_name context = %v, want payroll", err.Context["module_name"])
	}
	if !IsModuleNotFound(err) {
		t.Error("IsModuleNotFound must classify its own constructor")
	}
	if IsDependencyMissing(err) {
		t.Error("IsDependencyMissing misclassified a ModuleNotFound error")
	}
}

func TestDependencyMissingError(t *testing.T) {
	missing := []string{"hr-core", "email-service"}
	err := NewDependencyMissingError("payroll", missing)

	if err.ErrorCode() != errors.ErrorCode(ErrCodeDependencyMissing) {
		t.Errorf("code = %s, want %s", err.ErrorCode(), ErrCodeDependencyMissing)
	}
	got, ok := err.Context["missing_dependencies"].([]string)
	if !ok || !reflect.DeepEqual(got, missing) {
		t.Errorf("missing_dependencies context = %v, want %v", err.Context["missing_dependencies"], missing)
	}
	if !strings.Contains(err.Error(), "hr-core, email-service") {
		t.Errorf("message should list the missing set, got: %s", err.Error())
	}
	if !IsDependencyMissing(err) {
		t.Error("IsDependencyMissing must classify its own constructor")
	}
}

func TestModuleInitErrorIsRetryable(t *testing.T) {
	cause := fmt.Errorf("database unavailable")
	err := NewModuleInitError("tasks", cause)

	if err.ErrorCode() != errors.ErrorCode(ErrCodeModuleInitFailed) {
		t.Errorf("code = %s, want %s", err.ErrorCode(), ErrCodeModuleInitFailed)
	}
	if !err.IsRetryable() {
		t.Error("init failures must be retryable")
	}
	if !strings.Contains(err.Error(), "database unavailable") {
		t.Errorf("cause not preserved in message: %s", err.Error())
	}
}

func TestCircularDependencyError(t *testing.T) {
	err := NewCircularDependencyError([]string{"a", "b", "c", "a"})

	if err.ErrorCode() != errors.ErrorCode(ErrCodeCircularDependency) {
		t.Errorf("code = %s, want %s", err.ErrorCode(), ErrCodeCircularDependency)
	}
	if !strings.Contains(err.Error(), "a -> b -> c -> a") {
		t.Errorf("cycle path not rendered in message: %s", err.Error())
	}
}

func TestDisableBlockedError(t *testing.T) {
	err := NewDisableBlockedError("hr-core", []string{"tasks", "payroll"})

	if err.ErrorCode() != errors.ErrorCode(ErrCodeModuleDisableBlocked) {
		t.Errorf("code = %s, want %s", err.ErrorCode(), ErrCodeModuleDisableBlocked)
	}
	dependents, ok := err.Context["dependent_modules"].([]string)
	if !ok || len(dependents) != 2 {
		t.Errorf("dependent_modules context = %v, want 2 entries", err.Context["dependent_modules"])
	}
}

func TestDescriptorValidationError(t *testing.T) {
	fields := []string{"display_name", "version"}
	err := NewDescriptorValidationError("tasks", fields)

	if err.ErrorCode() != errors.ErrorCode(ErrCodeMissingField) {
		t.Errorf("code = %s, want %s", err.ErrorCode(), ErrCodeMissingField)
	}
	if !strings.Contains(err.Error(), "display_name, version") {
		t.Errorf("offending fields not rendered in message: %s", err.Error())
	}
}

func TestManifestParseErrorWrapsCause(t *testing.T) {
	cause := fmt.Errorf("yaml: line 3: mapping values are not allowed")
	err := NewManifestParseError("/srv/modules/tasks/module.yaml", cause)

	if err.ErrorCode() != errors.ErrorCode(ErrCodeManifestParseError) {
		t.Errorf("code = %s, want %s", err.ErrorCode(), ErrCodeManifestParseError)
	}
	if err.Context["manifest_path"] != "/srv/modules/tasks/module.yaml" {
		t.Errorf("manifest_path context = %v", err.Context["manifest_path"])
	}
}

func TestClassifiersRejectForeignErrors(t *testing.T) {
	plain := fmt.Errorf("plain error")

	if IsModuleNotFound(plain) || IsDependencyMissing(plain) {
		t.Error("classifiers must reject plain errors")
	}
	if IsModuleNotFound(nil) || IsDependencyMissing(nil) {
		t.Error("classifiers must reject nil")
	}
}
