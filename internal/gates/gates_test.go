package gates

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/alloybuild/alloy/internal/oracle"
)

// mockToolchain lets tests script each gate's outcome and inspect the
// workspace mid-run.
type mockToolchain struct {
	typeCheckFunc func(ctx context.Context, dir string) (*ToolResult, error)
	lintFunc      func(ctx context.Context, dir string) (*ToolResult, error)
	runTestsFunc  func(ctx context.Context, dir string) (*TestResult, error)
}

func (m *mockToolchain) TypeCheck(ctx context.Context, dir string) (*ToolResult, error) {
	if m.typeCheckFunc != nil {
		return m.typeCheckFunc(ctx, dir)
	}
	return &ToolResult{Passed: true}, nil
}

func (m *mockToolchain) Lint(ctx context.Context, dir string) (*ToolResult, error) {
	if m.lintFunc != nil {
		return m.lintFunc(ctx, dir)
	}
	return &ToolResult{Passed: true}, nil
}

func (m *mockToolchain) RunTests(ctx context.Context, dir string) (*TestResult, error) {
	if m.runTestsFunc != nil {
		return m.runTestsFunc(ctx, dir)
	}
	return &TestResult{Passed: true, Coverage: 100}, nil
}

func sampleSet() *oracle.ArtifactSet {
	return oracle.NewArtifactSet(map[string]string{
		"parser.go":      "package parser\n",
		"parser_test.go": "package parser\n",
	})
}

func TestRunAll_AllGatesPass(t *testing.T) {
	runner, err := NewRunner(&mockToolchain{}, 80)
	if err != nil {
		t.Fatalf("NewRunner failed: %v", err)
	}

	normalized, results, err := runner.RunAll(context.Background(), "parser", sampleSet())
	if err != nil {
		t.Fatalf("RunAll failed: %v", err)
	}
	if len(results) != 4 {
		t.Fatalf("expected 4 gate results, got %d", len(results))
	}
	order := []GateType{GateTypeCheck, GateLint, GateTest, GateCoverage}
	for i, want := range order {
		if results[i].Gate != want || !results[i].Passed {
			t.Errorf("gate %d: got %s passed=%v, want %s passed", i, results[i].Gate, results[i].Passed, want)
		}
	}
	if normalized == nil || len(normalized.Files) != 2 {
		t.Errorf("expected normalized set with the materialized files, got %v", normalized)
	}
}

func TestRunAll_TypeCheckFailureShortCircuits(t *testing.T) {
	lintCalled := false
	tc := &mockToolchain{
		typeCheckFunc: func(ctx context.Context, dir string) (*ToolResult, error) {
			return &ToolResult{Passed: false, Output: "undefined: Foo"}, nil
		},
		lintFunc: func(ctx context.Context, dir string) (*ToolResult, error) {
			lintCalled = true
			return &ToolResult{Passed: true}, nil
		},
	}
	runner, _ := NewRunner(tc, 80)

	_, results, err := runner.RunAll(context.Background(), "parser", sampleSet())
	var gateErr *QualityGateFailure
	if !errors.As(err, &gateErr) {
		t.Fatalf("expected QualityGateFailure, got %v", err)
	}
	if gateErr.Gate != GateTypeCheck || gateErr.Recipe != "parser" {
		t.Errorf("unexpected failure detail: %+v", gateErr)
	}
	if lintCalled {
		t.Error("lint must not run after a typecheck failure")
	}
	if len(results) != 1 {
		t.Errorf("expected a single result, got %d", len(results))
	}
}

func TestRunAll_LintFixesBecomeNewArtifactSet(t *testing.T) {
	input := sampleSet()
	tc := &mockToolchain{
		lintFunc: func(ctx context.Context, dir string) (*ToolResult, error) {
			// Simulate an auto-fix rewriting a file in place
			fixed := filepath.Join(dir, "parser.go")
			if err := os.WriteFile(fixed, []byte("package parser // fixed\n"), 0644); err != nil {
				return nil, err
			}
			return &ToolResult{Passed: true, Output: "fixed 1 issue"}, nil
		},
	}
	runner, _ := NewRunner(tc, 80)

	normalized, _, err := runner.RunAll(context.Background(), "parser", input)
	if err != nil {
		t.Fatalf("RunAll failed: %v", err)
	}
	if normalized.ID == input.ID {
		t.Error("normalized set must be a new version, not the input")
	}
	if normalized.Files["parser.go"] != "package parser // fixed\n" {
		t.Errorf("expected lint fix captured, got %q", normalized.Files["parser.go"])
	}
	if input.Files["parser.go"] != "package parser\n" {
		t.Error("input set must not be mutated")
	}
}

func TestRunAll_TestFailure(t *testing.T) {
	tc := &mockToolchain{
		runTestsFunc: func(ctx context.Context, dir string) (*TestResult, error) {
			return &TestResult{
				Passed:   false,
				Output:   "--- FAIL: TestParse",
				Failures: []oracle.TestFailure{{Name: "TestParse", Output: "want 2, got 3"}},
			}, nil
		},
	}
	runner, _ := NewRunner(tc, 80)

	_, results, err := runner.RunAll(context.Background(), "parser", sampleSet())
	var gateErr *QualityGateFailure
	if !errors.As(err, &gateErr) || gateErr.Gate != GateTest {
		t.Fatalf("expected test gate failure, got %v", err)
	}
	if len(results) != 3 {
		t.Errorf("expected typecheck, lint, and test results, got %d", len(results))
	}
}

func TestRunAll_CoverageBelowMinimum(t *testing.T) {
	tc := &mockToolchain{
		runTestsFunc: func(ctx context.Context, dir string) (*TestResult, error) {
			return &TestResult{Passed: true, Coverage: 72.5}, nil
		},
	}
	runner, _ := NewRunner(tc, 80)

	_, results, err := runner.RunAll(context.Background(), "parser", sampleSet())
	var gateErr *QualityGateFailure
	if !errors.As(err, &gateErr) || gateErr.Gate != GateCoverage {
		t.Fatalf("expected coverage gate failure, got %v", err)
	}
	last := results[len(results)-1]
	if last.Coverage != 72.5 {
		t.Errorf("expected measured coverage in the result, got %f", last.Coverage)
	}

	// Exactly at the minimum passes
	tc.runTestsFunc = func(ctx context.Context, dir string) (*TestResult, error) {
		return &TestResult{Passed: true, Coverage: 80}, nil
	}
	if _, _, err := runner.RunAll(context.Background(), "parser", sampleSet()); err != nil {
		t.Errorf("expected coverage at the minimum to pass, got %v", err)
	}
}

func TestNewRunner_Validation(t *testing.T) {
	if _, err := NewRunner(nil, 80); err == nil {
		t.Error("expected error for nil toolchain")
	}
	if _, err := NewRunner(&mockToolchain{}, 101); err == nil {
		t.Error("expected error for coverage minimum above 100")
	}
	if _, err := NewRunner(&mockToolchain{}, -1); err == nil {
		t.Error("expected error for negative coverage minimum")
	}
}

func TestMaterialize_RejectsEscapingPaths(t *testing.T) {
	for _, path := range []string{"../evil.go", "/etc/passwd"} {
		set := oracle.NewArtifactSet(map[string]string{path: "x"})
		if _, _, err := Materialize(set); err == nil {
			t.Errorf("expected rejection for path %q", path)
		}
	}
}

func TestParseCoverage(t *testing.T) {
	tests := []struct {
		name   string
		output string
		want   float64
	}{
		{"single package", "ok  \texample/parser\t0.2s\tcoverage: 85.0% of statements\n", 85.0},
		{"two packages averaged", "coverage: 80.0% of statements\ncoverage: 90.0% of statements\n", 85.0},
		{"no coverage line", "ok  \texample/parser\t0.2s\n", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := parseCoverage(tt.output); got != tt.want {
				t.Errorf("parseCoverage() = %f, want %f", got, tt.want)
			}
		})
	}
}

func TestExtractFailureBlock(t *testing.T) {
	output := "--- FAIL: TestParse\n    parser_test.go:12: want 2, got 3\n--- FAIL: TestRender\n    render_test.go:9: nil output\nFAIL\n"
	block := extractFailureBlock(output, "TestParse")
	if block != "--- FAIL: TestParse\n    parser_test.go:12: want 2, got 3" {
		t.Errorf("unexpected block: %q", block)
	}
	if extractFailureBlock(output, "TestMissing") != "" {
		t.Error("expected empty block for unknown test")
	}
}
