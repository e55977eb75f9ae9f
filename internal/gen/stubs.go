package gen

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/alloybuild/alloy/internal/oracle"
	"github.com/alloybuild/alloy/internal/recipe"
)

// Stub markers the scan rejects in implementation files. Test files are
// exempt; a test may legitimately mention these strings in assertions.
var stubRegexes = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bTODO\b`),
	regexp.MustCompile(`(?i)\bFIXME\b`),
	regexp.MustCompile(`panic\(\s*"(?:not implemented|unimplemented|todo)"\s*\)`),
	regexp.MustCompile(`(?i)not\s+yet\s+implemented`),
	regexp.MustCompile(`errors\.New\(\s*"(?:not implemented|unimplemented)"\s*\)`),
}

// StubFinding is one placeholder marker found in an implementation file.
type StubFinding struct {
	Path    string
	Line    int
	Excerpt string
}

// ScanForStubs finds placeholder markers in the implementation files of
// a set. Findings are ordered by path then line.
func ScanForStubs(set *oracle.ArtifactSet) []StubFinding {
	var findings []StubFinding
	for path, content := range set.Files {
		if strings.HasSuffix(path, "_test.go") {
			continue
		}
		for i, line := range strings.Split(content, "\n") {
			for _, re := range stubRegexes {
				if re.MatchString(line) {
					findings = append(findings, StubFinding{
						Path:    path,
						Line:    i + 1,
						Excerpt: strings.TrimSpace(line),
					})
					break
				}
			}
		}
	}
	sort.Slice(findings, func(i, j int) bool {
		if findings[i].Path != findings[j].Path {
			return findings[i].Path < findings[j].Path
		}
		return findings[i].Line < findings[j].Line
	})
	return findings
}

// remediateStubs scans for placeholder implementations and spends up to
// MaxStubRemediations repair calls replacing them with real code. A set
// still carrying stubs afterwards fails validation.
func (p *Pipeline) remediateStubs(ctx context.Context, r *recipe.Recipe, set, tests *oracle.ArtifactSet) (*oracle.ArtifactSet, error) {
	for attempt := 0; ; attempt++ {
		findings := ScanForStubs(set)
		if len(findings) == 0 {
			return set, nil
		}
		if attempt >= p.cfg.MaxStubRemediations {
			return set, &ValidationError{Recipe: r.Name, Msg: describeStubs(findings)}
		}

		report := &oracle.FailureReport{Failures: stubsAsFailures(findings)}
		patched, err := p.oracle.Repair(ctx, set, report)
		if err != nil {
			continue
		}
		set = set.Merge(restrictToImplementation(patched, tests))
	}
}

func stubsAsFailures(findings []StubFinding) []oracle.TestFailure {
	failures := make([]oracle.TestFailure, 0, len(findings))
	for _, f := range findings {
		failures = append(failures, oracle.TestFailure{
			Name:   fmt.Sprintf("stub at %s:%d", f.Path, f.Line),
			Output: fmt.Sprintf("placeholder implementation must be replaced with real logic: %s", f.Excerpt),
		})
	}
	return failures
}

func describeStubs(findings []StubFinding) string {
	locs := make([]string, 0, len(findings))
	for _, f := range findings {
		locs = append(locs, fmt.Sprintf("%s:%d", f.Path, f.Line))
	}
	return fmt.Sprintf("implementation still contains placeholder stubs after remediation: %s",
		strings.Join(locs, ", "))
}
