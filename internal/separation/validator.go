// Package separation checks recipes for cross-contamination between the
// requirements and design documents: technology choices leaking into
// requirements, capability statements leaking into design.
package separation

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/alloybuild/alloy/internal/oracle"
	"github.com/alloybuild/alloy/internal/recipe"
)

// ViolationKind classifies what leaked where.
type ViolationKind string

const (
	// KindTechnologyInRequirements flags implementation-specific phrasing
	// in the requirements document.
	KindTechnologyInRequirements ViolationKind = "technology_in_requirements"

	// KindRequirementInDesign flags requirement-shaped phrasing in the
	// design document.
	KindRequirementInDesign ViolationKind = "requirement_in_design"
)

// Violation is one separation finding, located by line so the author can
// fix it without re-running in verbose mode.
type Violation struct {
	Kind    ViolationKind
	Line    int // 1-based line in the offending artifact
	Excerpt string
	Matched string // the phrase that triggered the finding
}

// Report collects a recipe's separation violations.
type Report struct {
	Recipe     string
	Violations []Violation
}

// Clean reports whether no violations were found.
func (r *Report) Clean() bool {
	return len(r.Violations) == 0
}

// Summaries returns one human-readable line per violation.
func (r *Report) Summaries() []string {
	out := make([]string, 0, len(r.Violations))
	for _, v := range r.Violations {
		artifact := "requirements.md"
		if v.Kind == KindRequirementInDesign {
			artifact = "design.md"
		}
		out = append(out, fmt.Sprintf("%s line %d: %s (%q)", artifact, v.Line, v.Kind, v.Matched))
	}
	return out
}

// ValidationError is the caller-facing failure when a violation report is
// not auto-corrected.
type ValidationError struct {
	Recipe string
	Report *Report
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("separation validation failed for %s: %d violation(s): %s",
		e.Recipe, len(e.Report.Violations), strings.Join(e.Report.Summaries(), "; "))
}

// Named technologies, algorithms, and integration phrasing that belong in
// a design document, not in requirements.
var technologyRegexes = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(postgresql|postgres|mysql|sqlite|mongodb|redis|kafka|rabbitmq|grpc|graphql|protobuf|kubernetes|docker|aws|s3|dynamodb)\b`),
	regexp.MustCompile(`(?i)\b(dijkstra|a-star|quicksort|mergesort|bloom filter|b-tree|red-black tree|raft|paxos)\b`),
	regexp.MustCompile(`(?i)\busing (the )?[a-z0-9_.-]+ (library|framework|package|driver|sdk)\b`),
	regexp.MustCompile(`(?i)\bcall(s|ing)? the [a-z0-9_.-]+ (api|endpoint|service)\b`),
	regexp.MustCompile(`(?i)\bimplement(ed)? (with|via|in) \b`),
}

// Requirement-shaped phrasing that belongs in requirements, not design.
var requirementRegexes = []*regexp.Regexp{
	regexp.MustCompile(`\b(MUST|SHOULD|COULD)\b`),
	regexp.MustCompile(`(?i)\b(the )?system shall\b`),
	regexp.MustCompile(`(?i)\bit is required that\b`),
	regexp.MustCompile(`(?i)\bacceptance criteri(a|on)\b`),
}

// Check scans both documents and returns the violation report. Check has
// no side effects; correction is a separate, explicit request.
func Check(r *recipe.Recipe) *Report {
	report := &Report{Recipe: r.Name}

	for lineNum, line := range strings.Split(r.RequirementsText, "\n") {
		for _, re := range technologyRegexes {
			if m := re.FindString(line); m != "" {
				report.Violations = append(report.Violations, Violation{
					Kind:    KindTechnologyInRequirements,
					Line:    lineNum + 1,
					Excerpt: strings.TrimSpace(line),
					Matched: m,
				})
				break
			}
		}
	}

	for lineNum, line := range strings.Split(r.DesignText, "\n") {
		// Headings describe document structure, not requirements
		if strings.HasPrefix(strings.TrimSpace(line), "#") {
			continue
		}
		for _, re := range requirementRegexes {
			if m := re.FindString(line); m != "" {
				report.Violations = append(report.Violations, Violation{
					Kind:    KindRequirementInDesign,
					Line:    lineNum + 1,
					Excerpt: strings.TrimSpace(line),
					Matched: m,
				})
				break
			}
		}
	}

	return report
}

// RequestCorrection asks the oracle for a corrected requirements/design
// pair addressing the report. The corrected pair is returned to the
// caller, never applied here: the caller decides auto-apply versus
// failing with ValidationError.
func RequestCorrection(ctx context.Context, o oracle.Oracle, r *recipe.Recipe, report *Report) (*oracle.CorrectedPair, error) {
	if report.Clean() {
		return nil, fmt.Errorf("no violations to correct for %s", r.Name)
	}
	pair, err := o.RewriteSeparation(ctx, r.RequirementsText, r.DesignText, report.Summaries())
	if err != nil {
		return nil, &oracle.GenerationError{Recipe: r.Name, Operation: "rewrite_separation", Err: err}
	}
	if strings.TrimSpace(pair.Requirements) == "" || strings.TrimSpace(pair.Design) == "" {
		return nil, &oracle.GenerationError{
			Recipe:    r.Name,
			Operation: "rewrite_separation",
			Err:       fmt.Errorf("oracle returned an empty corrected document"),
		}
	}
	return pair, nil
}
