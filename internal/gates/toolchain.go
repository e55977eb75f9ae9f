package gates

import (
	"context"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/alloybuild/alloy/internal/oracle"
)

// GoToolchain is the default Toolchain: go vet for type verification,
// golangci-lint for style normalization, go test for execution and
// coverage. Each invocation is deadline-bounded; exceeding the deadline
// aborts that single call with a recoverable error.
type GoToolchain struct {
	Timeout time.Duration // per-invocation deadline (default: 5m)
}

// Compile-time check that GoToolchain implements Toolchain
var _ Toolchain = (*GoToolchain)(nil)

// NewGoToolchain creates the default exec-based toolchain.
func NewGoToolchain(timeout time.Duration) *GoToolchain {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &GoToolchain{Timeout: timeout}
}

var (
	coverageRegex = regexp.MustCompile(`coverage:\s+([0-9.]+)% of statements`)
	failRegex     = regexp.MustCompile(`(?m)^--- FAIL: (\S+)`)
)

func (t *GoToolchain) run(ctx context.Context, dir string, name string, args ...string) (string, error) {
	runCtx, cancel := context.WithTimeout(ctx, t.Timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, name, args...)
	cmd.Dir = dir
	output, err := cmd.CombinedOutput()
	return string(output), err
}

// TypeCheck runs go vet; zero diagnostics required.
func (t *GoToolchain) TypeCheck(ctx context.Context, dir string) (*ToolResult, error) {
	output, err := t.run(ctx, dir, "go", "vet", "./...")
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return &ToolResult{Passed: false, Output: output}, nil
	}
	return &ToolResult{Passed: true, Output: output}, nil
}

// Lint runs golangci-lint with --fix so auto-fixable issues are applied
// in the workspace; remaining issues fail the gate.
func (t *GoToolchain) Lint(ctx context.Context, dir string) (*ToolResult, error) {
	if _, err := exec.LookPath("golangci-lint"); err != nil {
		return &ToolResult{Passed: false, Output: "golangci-lint is not installed or not in PATH"}, nil
	}
	output, err := t.run(ctx, dir, "golangci-lint", "run", "--fix", "./...")
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return &ToolResult{Passed: false, Output: output}, nil
	}
	return &ToolResult{Passed: true, Output: output}, nil
}

// RunTests runs go test with coverage and extracts per-test failures and
// the statement coverage percentage.
func (t *GoToolchain) RunTests(ctx context.Context, dir string) (*TestResult, error) {
	output, err := t.run(ctx, dir, "go", "test", "-cover", "./...")
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	result := &TestResult{
		Passed:   err == nil,
		Output:   output,
		Coverage: parseCoverage(output),
	}
	for _, m := range failRegex.FindAllStringSubmatch(output, -1) {
		result.Failures = append(result.Failures, oracle.TestFailure{
			Name:   m[1],
			Output: extractFailureBlock(output, m[1]),
		})
	}
	return result, nil
}

// parseCoverage averages the per-package coverage figures go test prints.
func parseCoverage(output string) float64 {
	matches := coverageRegex.FindAllStringSubmatch(output, -1)
	if len(matches) == 0 {
		return 0
	}
	total := 0.0
	for _, m := range matches {
		pct, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			continue
		}
		total += pct
	}
	return total / float64(len(matches))
}

// extractFailureBlock pulls the output lines belonging to one failing
// test, bounded to keep repair prompts small.
func extractFailureBlock(output, testName string) string {
	marker := "--- FAIL: " + testName
	idx := strings.Index(output, marker)
	if idx < 0 {
		return ""
	}
	block := output[idx:]
	if next := strings.Index(block[len(marker):], "--- "); next >= 0 {
		block = block[:len(marker)+next]
	}
	if len(block) > 2000 {
		block = block[:2000] + "\n... (truncated)"
	}
	return strings.TrimSpace(block)
}
