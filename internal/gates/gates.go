// Package gates runs the deterministic quality gates over a generated
// artifact set: type checking, lint normalization, test execution, and
// coverage measurement. All gates must pass; the first failure is fatal
// for the recipe.
package gates

import (
	"context"
	"fmt"

	"github.com/alloybuild/alloy/internal/oracle"
)

// GateType identifies different quality gates
type GateType string

const (
	GateTypeCheck GateType = "typecheck"
	GateLint      GateType = "lint"
	GateTest      GateType = "test"
	GateCoverage  GateType = "coverage"
)

// Result represents the outcome of one quality gate check.
type Result struct {
	Gate     GateType
	Passed   bool
	Output   string
	Coverage float64 // populated by the coverage gate
}

// QualityGateFailure names the failing gate and carries the raw tool
// output, fatal for the recipe that hit it.
type QualityGateFailure struct {
	Recipe string
	Gate   GateType
	Output string
}

func (e *QualityGateFailure) Error() string {
	return fmt.Sprintf("quality gate %s failed for %s: %s", e.Gate, e.Recipe, truncate(e.Output, 300))
}

// ToolResult is the outcome of a type check or lint invocation.
type ToolResult struct {
	Passed bool
	Output string
}

// TestResult is the outcome of a test runner invocation.
type TestResult struct {
	Passed   bool
	Output   string
	Failures []oracle.TestFailure
	Coverage float64 // statement coverage percentage, 0-100
}

// Toolchain abstracts the external verification tools. All methods
// operate on a materialized workspace directory. Lint applies
// auto-fixable issues in place; the runner re-reads the workspace
// afterwards so fixes become a new artifact set version.
type Toolchain interface {
	TypeCheck(ctx context.Context, dir string) (*ToolResult, error)
	Lint(ctx context.Context, dir string) (*ToolResult, error)
	RunTests(ctx context.Context, dir string) (*TestResult, error)
}

// Runner executes the quality gates for one recipe's artifact set.
type Runner struct {
	toolchain   Toolchain
	coverageMin float64
}

// NewRunner creates a quality gate runner. coverageMin is the minimum
// acceptable statement coverage percentage.
func NewRunner(toolchain Toolchain, coverageMin float64) (*Runner, error) {
	if toolchain == nil {
		return nil, fmt.Errorf("toolchain is required")
	}
	if coverageMin < 0 || coverageMin > 100 {
		return nil, fmt.Errorf("coverage minimum must be within 0-100, got %f", coverageMin)
	}
	return &Runner{toolchain: toolchain, coverageMin: coverageMin}, nil
}

// RunAll executes the gates in order: typecheck, lint, test, coverage.
// Returns the possibly lint-normalized artifact set, the per-gate
// results, and a QualityGateFailure on the first gate that fails.
func (r *Runner) RunAll(ctx context.Context, recipeName string, set *oracle.ArtifactSet) (*oracle.ArtifactSet, []*Result, error) {
	dir, cleanup, err := Materialize(set)
	if err != nil {
		return nil, nil, fmt.Errorf("materializing artifacts for %s: %w", recipeName, err)
	}
	defer cleanup()

	var results []*Result

	tc, err := r.toolchain.TypeCheck(ctx, dir)
	if err != nil {
		return nil, results, fmt.Errorf("type checker invocation for %s: %w", recipeName, err)
	}
	results = append(results, &Result{Gate: GateTypeCheck, Passed: tc.Passed, Output: tc.Output})
	if !tc.Passed {
		return nil, results, &QualityGateFailure{Recipe: recipeName, Gate: GateTypeCheck, Output: tc.Output}
	}

	lint, err := r.toolchain.Lint(ctx, dir)
	if err != nil {
		return nil, results, fmt.Errorf("linter invocation for %s: %w", recipeName, err)
	}
	results = append(results, &Result{Gate: GateLint, Passed: lint.Passed, Output: lint.Output})
	if !lint.Passed {
		return nil, results, &QualityGateFailure{Recipe: recipeName, Gate: GateLint, Output: lint.Output}
	}

	// Lint may have applied auto-fixes; the normalized workspace is a new
	// artifact set version, never an in-place edit of the input.
	normalized, err := Collect(dir)
	if err != nil {
		return nil, results, fmt.Errorf("collecting lint-normalized artifacts for %s: %w", recipeName, err)
	}

	tests, err := r.toolchain.RunTests(ctx, dir)
	if err != nil {
		return nil, results, fmt.Errorf("test runner invocation for %s: %w", recipeName, err)
	}
	results = append(results, &Result{Gate: GateTest, Passed: tests.Passed, Output: tests.Output})
	if !tests.Passed {
		return nil, results, &QualityGateFailure{Recipe: recipeName, Gate: GateTest, Output: tests.Output}
	}

	covPassed := tests.Coverage >= r.coverageMin
	covOutput := fmt.Sprintf("coverage %.1f%% (minimum %.1f%%)", tests.Coverage, r.coverageMin)
	results = append(results, &Result{Gate: GateCoverage, Passed: covPassed, Output: covOutput, Coverage: tests.Coverage})
	if !covPassed {
		return nil, results, &QualityGateFailure{Recipe: recipeName, Gate: GateCoverage, Output: covOutput}
	}

	return normalized, results, nil
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "\n... (truncated)"
}
