package compliance

import (
	"errors"
	"testing"

	"github.com/alloybuild/alloy/internal/oracle"
	"github.com/alloybuild/alloy/internal/recipe"
)

func complianceRecipe(reqs ...recipe.Requirement) *recipe.Recipe {
	return &recipe.Recipe{
		Name:         "parser",
		Requirements: &recipe.RequirementSet{Requirements: reqs},
	}
}

func TestValidate_AllMustsCovered(t *testing.T) {
	r := complianceRecipe(recipe.Requirement{
		ID:          "req_1",
		Description: "tokenize markdown headings",
		Priority:    recipe.PriorityMust,
	})
	set := oracle.NewArtifactSet(map[string]string{
		"tokenizer.go":      "package parser\n\n// req_1: heading tokenization\nfunc Tokenize() {}\n",
		"tokenizer_test.go": "package parser\n\n// covers req_1\nfunc TestTokenize(t *testing.T) {}\n",
	})

	matrix, err := Validate(r, set)
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if len(matrix.Entries) != 1 || !matrix.Entries[0].Implemented {
		t.Errorf("expected req_1 implemented, got %+v", matrix.Entries)
	}
	if len(matrix.Entries[0].ImplEvidence) == 0 || len(matrix.Entries[0].TestEvidence) == 0 {
		t.Error("expected both implementation and test evidence")
	}
}

func TestValidate_UnmetMustNamed(t *testing.T) {
	r := complianceRecipe(
		recipe.Requirement{ID: "req_1", Description: "tokenize markdown headings", Priority: recipe.PriorityMust},
		recipe.Requirement{ID: "req_2", Description: "render syntax trees as html", Priority: recipe.PriorityMust},
	)
	// req_2 has no trace anywhere
	set := oracle.NewArtifactSet(map[string]string{
		"tokenizer.go":      "// req_1\nfunc Tokenize() {}\n",
		"tokenizer_test.go": "// req_1\nfunc TestTokenize(t *testing.T) {}\n",
	})

	matrix, err := Validate(r, set)
	var cErr *ComplianceError
	if !errors.As(err, &cErr) {
		t.Fatalf("expected ComplianceError, got %v", err)
	}
	if len(cErr.Unmet) != 1 || cErr.Unmet[0] != "req_2" {
		t.Errorf("expected unmet req_2 named, got %v", cErr.Unmet)
	}
	// The matrix is still complete on failure
	if len(matrix.Entries) != 2 {
		t.Errorf("expected full matrix on failure, got %d entries", len(matrix.Entries))
	}
}

func TestValidate_ImplementationWithoutTestEvidence(t *testing.T) {
	r := complianceRecipe(recipe.Requirement{
		ID: "req_1", Description: "tokenize markdown headings", Priority: recipe.PriorityMust,
	})
	set := oracle.NewArtifactSet(map[string]string{
		"tokenizer.go": "// req_1\nfunc Tokenize() {}\n",
	})

	_, err := Validate(r, set)
	var cErr *ComplianceError
	if !errors.As(err, &cErr) {
		t.Fatal("implementation evidence alone must not satisfy a MUST")
	}
}

func TestValidate_ShouldAndCouldNeverFatal(t *testing.T) {
	r := complianceRecipe(
		recipe.Requirement{ID: "req_1", Description: "tokenize markdown headings", Priority: recipe.PriorityShould},
		recipe.Requirement{ID: "req_2", Description: "render syntax trees", Priority: recipe.PriorityCould},
	)
	set := oracle.NewArtifactSet(map[string]string{"main.go": "package main\n"})

	matrix, err := Validate(r, set)
	if err != nil {
		t.Fatalf("unimplemented SHOULD/COULD must not fail compliance: %v", err)
	}
	for _, e := range matrix.Entries {
		if e.Implemented {
			t.Errorf("expected %s marked unimplemented", e.Requirement.ID)
		}
	}
}

func TestBuild_KeywordEvidence(t *testing.T) {
	// No id reference, but the implementation speaks the requirement's
	// vocabulary on a single line.
	r := complianceRecipe(recipe.Requirement{
		ID:                 "req_1",
		Description:        "resolve dependency ordering for recipes",
		Priority:           recipe.PriorityMust,
		ValidationCriteria: []string{"topological ordering is deterministic"},
	})
	set := oracle.NewArtifactSet(map[string]string{
		"graph.go":      "// resolve builds the dependency ordering\nfunc Resolve() {}\n",
		"graph_test.go": "func TestTopologicalOrderingDeterministic(t *testing.T) { _ = \"topological ordering\" }\n",
	})

	matrix := Build(r, set)
	if !matrix.Entries[0].Implemented {
		t.Errorf("expected keyword evidence to mark req_1 implemented: %+v", matrix.Entries[0])
	}
}

func TestBuild_SingleGenericWordIsNotEvidence(t *testing.T) {
	r := complianceRecipe(recipe.Requirement{
		ID: "req_1", Description: "the system must return valid output", Priority: recipe.PriorityMust,
	})
	// "return" alone appears everywhere in Go; it must not count
	set := oracle.NewArtifactSet(map[string]string{
		"a.go":      "func F() int { return 1 }\n",
		"a_test.go": "func TestF(t *testing.T) { _ = F() }\n",
	})

	matrix := Build(r, set)
	if matrix.Entries[0].Implemented {
		t.Error("generic vocabulary must not count as evidence")
	}
}
