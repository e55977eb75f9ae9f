// Package compliance builds the requirement compliance matrix for a
// finished artifact set: every requirement is traced to implementing
// evidence in source files and testing evidence in test files. A MUST
// requirement without both is a build failure even when all quality
// gates passed.
package compliance

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/alloybuild/alloy/internal/oracle"
	"github.com/alloybuild/alloy/internal/recipe"
)

// Evidence is one location that references a requirement.
type Evidence struct {
	Path string
	Line int
}

// Entry is one requirement's row in the compliance matrix.
type Entry struct {
	Requirement  recipe.Requirement
	Implemented  bool
	ImplEvidence []Evidence
	TestEvidence []Evidence
}

// Matrix is the full compliance picture for one recipe's artifacts.
type Matrix struct {
	Recipe  string
	Entries []Entry
}

// UnmetMusts returns the ids of MUST requirements lacking evidence, in
// document order.
func (m *Matrix) UnmetMusts() []string {
	var unmet []string
	for _, e := range m.Entries {
		if e.Requirement.Priority == recipe.PriorityMust && !e.Implemented {
			unmet = append(unmet, e.Requirement.ID)
		}
	}
	return unmet
}

// ComplianceError reports MUST requirements without implementing or
// testing evidence in the final artifact set.
type ComplianceError struct {
	Recipe string
	Unmet  []string
}

func (e *ComplianceError) Error() string {
	return fmt.Sprintf("%s does not satisfy MUST requirements: %s",
		e.Recipe, strings.Join(e.Unmet, ", "))
}

var wordRegex = regexp.MustCompile(`[a-zA-Z][a-zA-Z0-9_]{3,}`)

// Words too generic to count as requirement evidence on their own.
var stopwords = map[string]bool{
	"must": true, "should": true, "could": true, "shall": true,
	"that": true, "this": true, "with": true, "when": true, "then": true,
	"from": true, "into": true, "have": true, "been": true, "will": true,
	"each": true, "every": true, "their": true, "there": true,
	"system": true, "component": true, "support": true, "provide": true,
	"return": true, "returns": true, "given": true, "input": true,
	"output": true, "valid": true, "invalid": true, "error": true,
}

// Validate builds the compliance matrix and fails if any MUST requirement
// lacks evidence. The returned matrix is complete even on failure so
// callers can report the full picture.
func Validate(r *recipe.Recipe, set *oracle.ArtifactSet) (*Matrix, error) {
	matrix := Build(r, set)
	if unmet := matrix.UnmetMusts(); len(unmet) > 0 {
		return matrix, &ComplianceError{Recipe: r.Name, Unmet: unmet}
	}
	return matrix, nil
}

// Build traces every requirement to evidence in the artifact set. A
// requirement is Implemented when a non-test file and a test file each
// reference it, either by id or by enough of its distinctive vocabulary.
func Build(r *recipe.Recipe, set *oracle.ArtifactSet) *Matrix {
	matrix := &Matrix{Recipe: r.Name}

	paths := set.Paths()
	sort.Strings(paths)

	for _, req := range r.Requirements.Requirements {
		entry := Entry{Requirement: req}
		keywords := requirementKeywords(&req)

		for _, path := range paths {
			evidence := findEvidence(path, set.Files[path], req.ID, keywords)
			if len(evidence) == 0 {
				continue
			}
			if strings.HasSuffix(path, "_test.go") {
				entry.TestEvidence = append(entry.TestEvidence, evidence...)
			} else {
				entry.ImplEvidence = append(entry.ImplEvidence, evidence...)
			}
		}

		entry.Implemented = len(entry.ImplEvidence) > 0 && len(entry.TestEvidence) > 0
		entry.Requirement.Implemented = entry.Implemented
		matrix.Entries = append(matrix.Entries, entry)
	}

	return matrix
}

// requirementKeywords extracts the distinctive vocabulary of a
// requirement's description and validation criteria.
func requirementKeywords(req *recipe.Requirement) map[string]bool {
	keywords := make(map[string]bool)
	texts := append([]string{req.Description}, req.ValidationCriteria...)
	for _, text := range texts {
		for _, word := range wordRegex.FindAllString(text, -1) {
			lower := strings.ToLower(word)
			if !stopwords[lower] {
				keywords[lower] = true
			}
		}
	}
	return keywords
}

// findEvidence scans one file for references to a requirement: its id
// anywhere, or a line carrying at least two of its distinctive keywords.
func findEvidence(path, content, reqID string, keywords map[string]bool) []Evidence {
	var evidence []Evidence
	for i, line := range strings.Split(content, "\n") {
		if strings.Contains(line, reqID) {
			evidence = append(evidence, Evidence{Path: path, Line: i + 1})
			continue
		}
		hits := 0
		for _, word := range wordRegex.FindAllString(line, -1) {
			if keywords[strings.ToLower(word)] {
				hits++
				if hits >= 2 {
					evidence = append(evidence, Evidence{Path: path, Line: i + 1})
					break
				}
			}
		}
	}
	return evidence
}
