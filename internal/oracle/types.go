// Package oracle defines the generation oracle: the external capability
// that turns specifications into candidate source artifacts. The oracle
// is non-deterministic, so nothing in this package promises output
// equality; all correctness guarantees live in the deterministic gates
// that consume its artifact sets.
package oracle

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/alloybuild/alloy/internal/recipe"
)

// ArtifactSet is an immutable map of relative path to file content.
// Repair and revision cycles produce new sets rather than editing one in
// place; that keeps the fix loops testable with canned sequences.
type ArtifactSet struct {
	ID          string
	Files       map[string]string
	GeneratedAt time.Time
}

// NewArtifactSet creates an artifact set with a fresh identity. The file
// map is copied so callers cannot mutate the set afterwards.
func NewArtifactSet(files map[string]string) *ArtifactSet {
	copied := make(map[string]string, len(files))
	for path, content := range files {
		copied[path] = content
	}
	return &ArtifactSet{
		ID:          uuid.New().String(),
		Files:       copied,
		GeneratedAt: time.Now(),
	}
}

// Merge returns a new set containing this set's files overlaid with the
// other set's files. Used when a repair returns only the files it touched.
func (a *ArtifactSet) Merge(other *ArtifactSet) *ArtifactSet {
	files := make(map[string]string, len(a.Files)+len(other.Files))
	for path, content := range a.Files {
		files[path] = content
	}
	for path, content := range other.Files {
		files[path] = content
	}
	return NewArtifactSet(files)
}

// Paths returns the file paths in the set, unordered.
func (a *ArtifactSet) Paths() []string {
	paths := make([]string, 0, len(a.Files))
	for path := range a.Files {
		paths = append(paths, path)
	}
	return paths
}

// Empty reports whether the set contains no files.
func (a *ArtifactSet) Empty() bool {
	return a == nil || len(a.Files) == 0
}

// Severity classifies a review finding.
type Severity string

const (
	SeverityCritical   Severity = "CRITICAL"
	SeveritySuggestion Severity = "SUGGESTION"
)

// Finding is one observation from an automated review.
type Finding struct {
	Severity    Severity `json:"severity"`
	Path        string   `json:"path"`
	Requirement string   `json:"requirement,omitempty"` // requirement id the finding traces to
	Message     string   `json:"message"`
}

// ReviewReport is the structured result of reviewing an artifact set
// against a recipe's requirements.
type ReviewReport struct {
	Findings []Finding `json:"findings"`
	Summary  string    `json:"summary"`
}

// Critical returns only the CRITICAL findings.
func (r *ReviewReport) Critical() []Finding {
	var out []Finding
	for _, f := range r.Findings {
		if f.Severity == SeverityCritical {
			out = append(out, f)
		}
	}
	return out
}

// TestFailure describes one failing test for a repair request.
type TestFailure struct {
	Name   string `json:"name"`
	Output string `json:"output"`
}

// FailureReport is the failure set a repair call is constrained to. The
// repair contract forbids altering test expectations; tests are fixed.
type FailureReport struct {
	Failures []TestFailure `json:"failures"`
	RawLog   string        `json:"raw_log,omitempty"`
}

// CorrectedPair is a corrected requirements/design text pair proposed by
// the oracle after a separation violation. Callers decide whether to
// apply it; the oracle never applies anything itself.
type CorrectedPair struct {
	Requirements string `json:"requirements"`
	Design       string `json:"design"`
	Rationale    string `json:"rationale"`
}

// ChildSpec is one proposed child recipe in a decomposition plan.
type ChildSpec struct {
	Name         string   `json:"name"`
	Requirements string   `json:"requirements"` // requirements.md text
	Design       string   `json:"design"`       // design.md text
	Dependencies []string `json:"dependencies"` // names of sibling children
}

// DecompositionPlan is the oracle's proposal for splitting an
// over-complex recipe into children.
type DecompositionPlan struct {
	Strategy  string      `json:"strategy"` // functional, layered, or risk-based
	Reasoning string      `json:"reasoning"`
	Children  []ChildSpec `json:"children"`
}

// Oracle is the generation capability behind every external call the
// pipelines make. All calls are request/response, timeout-bounded, and
// may fail transiently; callers retry within their own bounded loops.
type Oracle interface {
	// GenerateTests produces a test artifact set covering every MUST
	// requirement's validation criteria plus edge and error cases.
	GenerateTests(ctx context.Context, reqs *recipe.RequirementSet, design *recipe.Design) (*ArtifactSet, error)

	// GenerateImplementation produces an implementation against the fixed
	// test set. The tests are the contract and are passed read-only.
	GenerateImplementation(ctx context.Context, reqs *recipe.RequirementSet, design *recipe.Design, tests *ArtifactSet) (*ArtifactSet, error)

	// Repair produces a patched artifact set constrained to the given
	// failure report, without permission to alter test expectations.
	Repair(ctx context.Context, set *ArtifactSet, report *FailureReport) (*ArtifactSet, error)

	// Review produces a structured review of the artifact set against the
	// requirements.
	Review(ctx context.Context, set *ArtifactSet, reqs *recipe.RequirementSet) (*ReviewReport, error)

	// ReviseForReview produces a revision constrained to the critical
	// findings.
	ReviseForReview(ctx context.Context, set *ArtifactSet, critical []Finding) (*ArtifactSet, error)

	// RewriteSeparation proposes corrected requirements/design texts after
	// a separation violation.
	RewriteSeparation(ctx context.Context, requirements, design string, violations []string) (*CorrectedPair, error)

	// ProposeDecomposition proposes child recipes for an over-complex
	// recipe using the given strategy.
	ProposeDecomposition(ctx context.Context, r *recipe.Recipe, strategy string) (*DecompositionPlan, error)
}

// GenerationError reports a failed or timed-out oracle call with enough
// context to be actionable: which recipe, which operation, and the cause.
type GenerationError struct {
	Recipe    string
	Operation string
	Err       error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generation failed for %s during %s: %v", e.Recipe, e.Operation, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }
