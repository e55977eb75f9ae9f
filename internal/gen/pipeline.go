// Package gen implements the test-first generation pipeline: tests are
// generated from the requirements, confirmed to fail without an
// implementation, and only then is an implementation generated and
// repaired against them. The tests are the contract; repair calls are
// never allowed to alter them.
package gen

import (
	"context"
	"fmt"
	"strings"

	"github.com/alloybuild/alloy/internal/gates"
	"github.com/alloybuild/alloy/internal/oracle"
	"github.com/alloybuild/alloy/internal/recipe"
)

// Phase tracks where a recipe's generation run is in the state machine.
type Phase string

const (
	PhaseNotStarted              Phase = "NOT_STARTED"
	PhaseTestsGenerated          Phase = "TESTS_GENERATED"
	PhaseTestsConfirmedFailing   Phase = "TESTS_CONFIRMED_FAILING"
	PhaseImplementationGenerated Phase = "IMPLEMENTATION_GENERATED"
	PhaseTestsPassing            Phase = "TESTS_PASSING"
	PhaseFixExhausted            Phase = "FIX_EXHAUSTED"
)

// Config bounds the pipeline's repair loops.
type Config struct {
	// MaxFixIterations is the number of repair attempts allowed after the
	// initial implementation fails its tests.
	MaxFixIterations int

	// MaxStubRemediations is the number of repair attempts allowed for
	// placeholder implementations detected by the stub scan.
	MaxStubRemediations int
}

// DefaultConfig returns the pipeline defaults.
func DefaultConfig() *Config {
	return &Config{
		MaxFixIterations:    5,
		MaxStubRemediations: 2,
	}
}

// ValidationError reports a pipeline precondition violation: vacuous
// tests that pass without an implementation, or an implementation that
// stays a stub after remediation.
type ValidationError struct {
	Recipe string
	Msg    string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for %s: %s", e.Recipe, e.Msg)
}

// TestFailureError reports fix-loop exhaustion: the implementation still
// fails its tests after the full repair budget.
type TestFailureError struct {
	Recipe     string
	Iterations int
	Failures   []oracle.TestFailure
}

func (e *TestFailureError) Error() string {
	names := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		names = append(names, f.Name)
	}
	return fmt.Sprintf("%s still failing after %d fix iterations: %s",
		e.Recipe, e.Iterations, strings.Join(names, ", "))
}

// Result is the outcome of one generation run.
type Result struct {
	Phase       Phase
	Tests       *oracle.ArtifactSet // the fixed test contract
	Artifacts   *oracle.ArtifactSet // tests + implementation, final version
	FixAttempts int
}

// Pipeline drives the generation state machine for a single recipe.
type Pipeline struct {
	oracle    oracle.Oracle
	toolchain gates.Toolchain
	cfg       *Config
}

// New creates a generation pipeline.
func New(o oracle.Oracle, toolchain gates.Toolchain, cfg *Config) (*Pipeline, error) {
	if o == nil {
		return nil, fmt.Errorf("oracle is required")
	}
	if toolchain == nil {
		return nil, fmt.Errorf("toolchain is required")
	}
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.MaxFixIterations < 1 {
		return nil, fmt.Errorf("max fix iterations must be at least 1, got %d", cfg.MaxFixIterations)
	}
	return &Pipeline{oracle: o, toolchain: toolchain, cfg: cfg}, nil
}

// Run executes the full state machine for one recipe. Oracle timeouts
// inside the fix loop count against the loop budget rather than aborting
// the run.
func (p *Pipeline) Run(ctx context.Context, r *recipe.Recipe) (*Result, error) {
	result := &Result{Phase: PhaseNotStarted}

	tests, err := p.oracle.GenerateTests(ctx, r.Requirements, r.Design)
	if err != nil {
		return result, &oracle.GenerationError{Recipe: r.Name, Operation: "generate tests", Err: err}
	}
	if tests.Empty() {
		return result, &oracle.GenerationError{Recipe: r.Name, Operation: "generate tests",
			Err: fmt.Errorf("oracle returned an empty test set")}
	}
	result.Phase = PhaseTestsGenerated
	result.Tests = tests

	if err := p.confirmRedPhase(ctx, r, tests); err != nil {
		return result, err
	}
	result.Phase = PhaseTestsConfirmedFailing

	impl, err := p.oracle.GenerateImplementation(ctx, r.Requirements, r.Design, tests)
	if err != nil {
		return result, &oracle.GenerationError{Recipe: r.Name, Operation: "generate implementation", Err: err}
	}
	result.Phase = PhaseImplementationGenerated

	merged := tests.Merge(restrictToImplementation(impl, tests))
	merged, err = p.remediateStubs(ctx, r, merged, tests)
	if err != nil {
		return result, err
	}

	merged, attempts, err := p.fixLoop(ctx, r, merged, tests)
	result.Artifacts = merged
	result.FixAttempts = attempts
	if err != nil {
		result.Phase = PhaseFixExhausted
		return result, err
	}

	result.Phase = PhaseTestsPassing
	return result, nil
}

// confirmRedPhase runs the generated tests without any implementation.
// If they pass, they test nothing and the run aborts. A compile error
// counts as failing: the tests reference the implementation they demand.
func (p *Pipeline) confirmRedPhase(ctx context.Context, r *recipe.Recipe, tests *oracle.ArtifactSet) error {
	dir, cleanup, err := gates.Materialize(tests)
	if err != nil {
		return fmt.Errorf("materializing test set for %s: %w", r.Name, err)
	}
	defer cleanup()

	run, err := p.toolchain.RunTests(ctx, dir)
	if err != nil {
		return fmt.Errorf("red-phase test run for %s: %w", r.Name, err)
	}
	if run.Passed {
		return &ValidationError{Recipe: r.Name,
			Msg: "generated tests pass without an implementation; they validate nothing"}
	}
	return nil
}

// fixLoop runs the tests and repairs failures until green or the budget
// is spent. Exactly MaxFixIterations repair attempts are made; the run
// that follows the last repair decides exhaustion.
func (p *Pipeline) fixLoop(ctx context.Context, r *recipe.Recipe, set, tests *oracle.ArtifactSet) (*oracle.ArtifactSet, int, error) {
	attempts := 0
	for {
		run, err := p.runTests(ctx, r, set)
		if err != nil {
			return set, attempts, err
		}
		if run.Passed {
			return set, attempts, nil
		}
		if attempts >= p.cfg.MaxFixIterations {
			return set, attempts, &TestFailureError{
				Recipe:     r.Name,
				Iterations: attempts,
				Failures:   run.Failures,
			}
		}

		attempts++
		report := &oracle.FailureReport{Failures: run.Failures, RawLog: run.Output}
		patched, err := p.oracle.Repair(ctx, set, report)
		if err != nil {
			// A failed repair call consumes its iteration; the next pass
			// re-runs the unchanged set and either repairs again or exhausts.
			continue
		}
		set = set.Merge(restrictToImplementation(patched, tests))
	}
}

func (p *Pipeline) runTests(ctx context.Context, r *recipe.Recipe, set *oracle.ArtifactSet) (*gates.TestResult, error) {
	dir, cleanup, err := gates.Materialize(set)
	if err != nil {
		return nil, fmt.Errorf("materializing artifacts for %s: %w", r.Name, err)
	}
	defer cleanup()
	run, err := p.toolchain.RunTests(ctx, dir)
	if err != nil {
		return nil, fmt.Errorf("test run for %s: %w", r.Name, err)
	}
	return run, nil
}

// restrictToImplementation drops any file from the patch that belongs to
// the test contract. Repairs change the implementation, never the tests.
func restrictToImplementation(patch, tests *oracle.ArtifactSet) *oracle.ArtifactSet {
	files := make(map[string]string, len(patch.Files))
	for path, content := range patch.Files {
		if _, isTest := tests.Files[path]; isTest {
			continue
		}
		if strings.HasSuffix(path, "_test.go") {
			continue
		}
		files[path] = content
	}
	return oracle.NewArtifactSet(files)
}
