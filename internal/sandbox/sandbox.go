// Package sandbox holds the security heuristics applied to plugins at
// install and publish time: manifest scanning, time-boxed install
// execution, and PII detection.
package sandbox

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// suspiciousDependencies flag packages whose names suggest dynamic code
// execution or shell access.
var suspiciousDependencies = []string{"eval", "vm2", "child_process", "fs-extra", "shelljs"}

// highRiskPermissions require explicit operator review before install.
var highRiskPermissions = map[string]struct{}{
	"filesystem:write": {},
	"network:external": {},
	"process:spawn":    {},
	"system:admin":     {},
}

// Risk classifies a scan result.
type Risk string

const (
	RiskLow    Risk = "low"
	RiskMedium Risk = "medium"
	RiskHigh   Risk = "high"
)

// Manifest is the subset of a plugin manifest the scanner inspects.
type Manifest struct {
	Name         string            `json:"name"`
	Dependencies map[string]string `json:"dependencies"`
	Permissions  []string          `json:"permissions"`
	Warnings     []string          `json:"warnings"`
}

// ScanResult is the outcome of a manifest scan.
type ScanResult struct {
	Risk            Risk     `json:"risk"`
	Issues          []string `json:"issues"`
	Recommendations []string `json:"recommendations"`
}

// ScanManifest inspects dependencies and requested permissions. Any
// suspicious dependency or high-risk permission yields high risk; warnings
// alone yield medium; a clean manifest is low.
func ScanManifest(m Manifest) ScanResult {
	var issues, recommendations []string

	for dep := range m.Dependencies {
		for _, marker := range suspiciousDependencies {
			if strings.Contains(dep, marker) {
				issues = append(issues, fmt.Sprintf("dependency %q matches suspicious pattern %q", dep, marker))
				recommendations = append(recommendations, fmt.Sprintf("remove or replace dependency %q", dep))
				break
			}
		}
	}

	for _, perm := range m.Permissions {
		if _, ok := highRiskPermissions[perm]; ok {
			issues = append(issues, fmt.Sprintf("permission %q is high risk", perm))
			recommendations = append(recommendations, fmt.Sprintf("justify or drop permission %q", perm))
		}
	}

	risk := RiskLow
	switch {
	case len(issues) > 0:
		risk = RiskHigh
	case len(m.Warnings) > 0:
		risk = RiskMedium
		issues = append(issues, m.Warnings...)
	}

	return ScanResult{Risk: risk, Issues: issues, Recommendations: recommendations}
}

// InstallResult reports a sandboxed install attempt.
type InstallResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

const defaultInstallTimeout = 30 * time.Second

// RunInstall executes the install function under a timeout. It never
// panics outward: a panic inside fn is converted to a failed result, and a
// timeout reports "Sandbox timeout". The function keeps running in its
// goroutine after a timeout; the sandbox only abandons it.
func RunInstall(ctx context.Context, fn func(ctx context.Context) error, timeout time.Duration) InstallResult {
	if timeout <= 0 {
		timeout = defaultInstallTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan InstallResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- InstallResult{Success: false, Error: fmt.Sprintf("install panicked: %v", r)}
			}
		}()
		if err := fn(ctx); err != nil {
			done <- InstallResult{Success: false, Error: err.Error()}
			return
		}
		done <- InstallResult{Success: true}
	}()

	select {
	case result := <-done:
		return result
	case <-ctx.Done():
		return InstallResult{Success: false, Error: "Sandbox timeout"}
	}
}
