package review

import (
	"context"
	"errors"
	"testing"

	"github.com/alloybuild/alloy/internal/oracle"
	"github.com/alloybuild/alloy/internal/recipe"
)

type mockOracle struct {
	oracle.Oracle
	reviewFunc  func(pass int, set *oracle.ArtifactSet) (*oracle.ReviewReport, error)
	reviseFunc  func(set *oracle.ArtifactSet, critical []oracle.Finding) (*oracle.ArtifactSet, error)
	reviewPass  int
	reviseCalls int
}

func (m *mockOracle) Review(ctx context.Context, set *oracle.ArtifactSet, reqs *recipe.RequirementSet) (*oracle.ReviewReport, error) {
	m.reviewPass++
	return m.reviewFunc(m.reviewPass, set)
}

func (m *mockOracle) ReviseForReview(ctx context.Context, set *oracle.ArtifactSet, critical []oracle.Finding) (*oracle.ArtifactSet, error) {
	m.reviseCalls++
	return m.reviseFunc(set, critical)
}

func reviewRecipe() *recipe.Recipe {
	return &recipe.Recipe{
		Name: "parser",
		Requirements: &recipe.RequirementSet{
			Requirements: []recipe.Requirement{
				{ID: "req_1", Description: "parse input", Priority: recipe.PriorityMust},
			},
		},
	}
}

func artifacts() *oracle.ArtifactSet {
	return oracle.NewArtifactSet(map[string]string{"parser.go": "package parser\n"})
}

func critical(msg string) oracle.Finding {
	return oracle.Finding{Severity: oracle.SeverityCritical, Path: "parser.go", Message: msg}
}

func suggestion(msg string) oracle.Finding {
	return oracle.Finding{Severity: oracle.SeveritySuggestion, Path: "parser.go", Message: msg}
}

func TestRun_CleanFirstPass(t *testing.T) {
	o := &mockOracle{
		reviewFunc: func(pass int, set *oracle.ArtifactSet) (*oracle.ReviewReport, error) {
			return &oracle.ReviewReport{}, nil
		},
	}
	rv, _ := New(o, nil)

	result, err := rv.Run(context.Background(), reviewRecipe(), artifacts())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.Iterations != 1 {
		t.Errorf("expected one pass, got %d", result.Iterations)
	}
	if o.reviseCalls != 0 {
		t.Error("revision must not run without critical findings")
	}
}

func TestRun_SuggestionsNeverBlock(t *testing.T) {
	o := &mockOracle{
		reviewFunc: func(pass int, set *oracle.ArtifactSet) (*oracle.ReviewReport, error) {
			return &oracle.ReviewReport{Findings: []oracle.Finding{
				suggestion("consider renaming"),
				suggestion("missing doc comment"),
			}}, nil
		},
	}
	rv, _ := New(o, nil)

	result, err := rv.Run(context.Background(), reviewRecipe(), artifacts())
	if err != nil {
		t.Fatalf("suggestions must not fail the review: %v", err)
	}
	if len(result.Suggestions) != 2 {
		t.Errorf("expected 2 recorded suggestions, got %d", len(result.Suggestions))
	}
	if o.reviseCalls != 0 {
		t.Error("revision must not run for suggestions alone")
	}
}

func TestRun_CriticalResolvedOnSecondPass(t *testing.T) {
	revised := oracle.NewArtifactSet(map[string]string{"parser.go": "package parser // revised\n"})
	o := &mockOracle{
		reviewFunc: func(pass int, set *oracle.ArtifactSet) (*oracle.ReviewReport, error) {
			if pass == 1 {
				return &oracle.ReviewReport{Findings: []oracle.Finding{
					critical("unhandled error path"),
					suggestion("tidy naming"),
				}}, nil
			}
			return &oracle.ReviewReport{}, nil
		},
		reviseFunc: func(set *oracle.ArtifactSet, crit []oracle.Finding) (*oracle.ArtifactSet, error) {
			if len(crit) != 1 || crit[0].Message != "unhandled error path" {
				t.Errorf("revision must be constrained to the critical findings, got %v", crit)
			}
			return revised, nil
		},
	}
	rv, _ := New(o, nil)

	result, err := rv.Run(context.Background(), reviewRecipe(), artifacts())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.Iterations != 2 {
		t.Errorf("expected two passes, got %d", result.Iterations)
	}
	if result.Artifacts.ID != revised.ID {
		t.Error("expected the revised set in the result")
	}
	if len(result.Suggestions) != 1 {
		t.Errorf("suggestions from earlier passes must be retained, got %d", len(result.Suggestions))
	}
}

func TestRun_FinalRevisionStillReviewed(t *testing.T) {
	// A budget of one revision cycle still allows the revised set to
	// clear the findings on the re-review.
	o := &mockOracle{
		reviewFunc: func(pass int, set *oracle.ArtifactSet) (*oracle.ReviewReport, error) {
			if pass == 1 {
				return &oracle.ReviewReport{Findings: []oracle.Finding{critical("race on shared state")}}, nil
			}
			return &oracle.ReviewReport{}, nil
		},
		reviseFunc: func(set *oracle.ArtifactSet, crit []oracle.Finding) (*oracle.ArtifactSet, error) {
			return artifacts(), nil
		},
	}
	rv, _ := New(o, &Config{MaxIterations: 1})

	result, err := rv.Run(context.Background(), reviewRecipe(), artifacts())
	if err != nil {
		t.Fatalf("the last revision must be re-reviewed before exhaustion: %v", err)
	}
	if o.reviseCalls != 1 || result.Iterations != 2 {
		t.Errorf("expected 1 revision and 2 passes, got %d and %d", o.reviseCalls, result.Iterations)
	}
}

func TestRun_ExhaustionAfterMaxIterations(t *testing.T) {
	o := &mockOracle{
		reviewFunc: func(pass int, set *oracle.ArtifactSet) (*oracle.ReviewReport, error) {
			return &oracle.ReviewReport{Findings: []oracle.Finding{critical("still broken")}}, nil
		},
		reviseFunc: func(set *oracle.ArtifactSet, crit []oracle.Finding) (*oracle.ArtifactSet, error) {
			return artifacts(), nil
		},
	}
	rv, _ := New(o, &Config{MaxIterations: 3})

	_, err := rv.Run(context.Background(), reviewRecipe(), artifacts())
	var rErr *ReviewError
	if !errors.As(err, &rErr) {
		t.Fatalf("expected ReviewError, got %v", err)
	}
	if rErr.Iterations != 3 {
		t.Errorf("expected exhaustion after 3 revision cycles, got %d", rErr.Iterations)
	}
	// Every revision gets a re-review, so the full budget is spent
	// before exhaustion.
	if o.reviseCalls != 3 {
		t.Errorf("expected 3 revision calls, got %d", o.reviseCalls)
	}
	if o.reviewPass != 4 {
		t.Errorf("expected 4 review passes for 3 revisions, got %d", o.reviewPass)
	}
	if len(rErr.Unresolved) != 1 || rErr.Unresolved[0].Message != "still broken" {
		t.Errorf("expected the unresolved findings in the error, got %v", rErr.Unresolved)
	}
}

func TestRun_OracleFailureWrapped(t *testing.T) {
	o := &mockOracle{
		reviewFunc: func(pass int, set *oracle.ArtifactSet) (*oracle.ReviewReport, error) {
			return nil, errors.New("deadline exceeded")
		},
	}
	rv, _ := New(o, nil)

	_, err := rv.Run(context.Background(), reviewRecipe(), artifacts())
	var gErr *oracle.GenerationError
	if !errors.As(err, &gErr) {
		t.Fatalf("expected GenerationError, got %v", err)
	}
	if gErr.Recipe != "parser" || gErr.Operation != "review" {
		t.Errorf("unexpected error context: %+v", gErr)
	}
}
