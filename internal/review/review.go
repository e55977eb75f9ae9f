// Package review runs automated review over a generated artifact set.
// CRITICAL findings block and drive bounded revision cycles; SUGGESTION
// findings are recorded for the build report and never block.
package review

import (
	"context"
	"fmt"
	"strings"

	"github.com/alloybuild/alloy/internal/oracle"
	"github.com/alloybuild/alloy/internal/recipe"
)

// Config bounds the revision loop.
type Config struct {
	// MaxIterations is the number of revision cycles granted while
	// critical findings remain. Every revision is followed by a
	// re-review, so a run performs at most MaxIterations+1 review
	// passes before unresolved critical findings become fatal.
	MaxIterations int
}

// DefaultConfig returns the review defaults.
func DefaultConfig() *Config {
	return &Config{MaxIterations: 3}
}

// ReviewError reports revision exhaustion: critical findings remained
// after the full revision budget.
type ReviewError struct {
	Recipe     string
	Iterations int // revision cycles performed
	Unresolved []oracle.Finding
}

func (e *ReviewError) Error() string {
	msgs := make([]string, 0, len(e.Unresolved))
	for _, f := range e.Unresolved {
		msgs = append(msgs, fmt.Sprintf("%s: %s", f.Path, f.Message))
	}
	return fmt.Sprintf("%s has unresolved critical findings after %d revision cycles: %s",
		e.Recipe, e.Iterations, strings.Join(msgs, "; "))
}

// Result is the outcome of a review run.
type Result struct {
	Artifacts   *oracle.ArtifactSet // final revised set
	Iterations  int                 // review passes performed
	Suggestions []oracle.Finding    // non-blocking findings, all passes
}

// Reviewer drives the review loop for one recipe's artifacts.
type Reviewer struct {
	oracle oracle.Oracle
	cfg    *Config
}

// New creates a reviewer.
func New(o oracle.Oracle, cfg *Config) (*Reviewer, error) {
	if o == nil {
		return nil, fmt.Errorf("oracle is required")
	}
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.MaxIterations < 1 {
		return nil, fmt.Errorf("max review iterations must be at least 1, got %d", cfg.MaxIterations)
	}
	return &Reviewer{oracle: o, cfg: cfg}, nil
}

// Run reviews the set and revises while critical findings remain, up to
// MaxIterations revision cycles. Every revision is re-reviewed, so the
// final revision still gets a chance to clear the findings. Suggestions
// accumulate across passes; the set is never revised for suggestions
// alone.
func (rv *Reviewer) Run(ctx context.Context, r *recipe.Recipe, set *oracle.ArtifactSet) (*Result, error) {
	result := &Result{Artifacts: set}

	revisions := 0
	for {
		report, err := rv.oracle.Review(ctx, result.Artifacts, r.Requirements)
		if err != nil {
			return result, &oracle.GenerationError{Recipe: r.Name, Operation: "review", Err: err}
		}
		result.Iterations++
		result.Suggestions = append(result.Suggestions, suggestions(report)...)

		critical := report.Critical()
		if len(critical) == 0 {
			return result, nil
		}
		if revisions == rv.cfg.MaxIterations {
			return result, &ReviewError{
				Recipe:     r.Name,
				Iterations: revisions,
				Unresolved: critical,
			}
		}

		revised, err := rv.oracle.ReviseForReview(ctx, result.Artifacts, critical)
		if err != nil {
			return result, &oracle.GenerationError{Recipe: r.Name, Operation: "revise for review", Err: err}
		}
		result.Artifacts = revised
		revisions++
	}
}

func suggestions(report *oracle.ReviewReport) []oracle.Finding {
	var out []oracle.Finding
	for _, f := range report.Findings {
		if f.Severity == oracle.SeveritySuggestion {
			out = append(out, f)
		}
	}
	return out
}
