package oracle

import (
	"fmt"
	"sort"
	"strings"

	"github.com/alloybuild/alloy/internal/recipe"
)

// Prompt builders. Each asks for a strict JSON response so the lenient
// parser in parse.go has something predictable to recover.

const artifactResponseContract = `Respond with ONLY a JSON object of this shape:
{"files": {"relative/path.go": "full file content", ...}}
Every file must be complete and compilable. No placeholders, no TODO
comments, no unimplemented stubs.`

func formatRequirements(reqs *recipe.RequirementSet) string {
	var b strings.Builder
	for _, r := range reqs.Requirements {
		fmt.Fprintf(&b, "- %s [%s] %s\n", r.ID, r.Priority, r.Description)
		for _, c := range r.ValidationCriteria {
			fmt.Fprintf(&b, "  - criteria: %s\n", c)
		}
	}
	return b.String()
}

func formatDesign(design *recipe.Design) string {
	var b strings.Builder
	b.WriteString(design.ArchitectureSummary)
	b.WriteString("\n\nComponents:\n")
	for _, c := range design.Components {
		fmt.Fprintf(&b, "- %s: %s\n", c.Name, c.Responsibility)
		for _, iface := range c.Interfaces {
			fmt.Fprintf(&b, "  interface: %s\n", iface)
		}
	}
	return b.String()
}

func formatFiles(set *ArtifactSet) string {
	paths := set.Paths()
	sort.Strings(paths)
	var b strings.Builder
	for _, path := range paths {
		fmt.Fprintf(&b, "=== %s ===\n%s\n", path, set.Files[path])
	}
	return b.String()
}

func buildTestPrompt(reqs *recipe.RequirementSet, design *recipe.Design) string {
	return fmt.Sprintf(`You are generating a test suite BEFORE any implementation exists.

Purpose:
%s

Requirements:
%s
Design hints:
%s

Write tests that cover every MUST requirement's validation criteria, plus
edge cases and error cases. The tests must reference requirement ids in
test names or comments so coverage can be audited. They must FAIL against
an empty implementation.

%s`, reqs.Purpose, formatRequirements(reqs), formatDesign(design), artifactResponseContract)
}

func buildImplementationPrompt(reqs *recipe.RequirementSet, design *recipe.Design, tests *ArtifactSet) string {
	return fmt.Sprintf(`Implement the component described below so the FIXED test suite passes.
The tests are the contract: do not restate or alter them, only satisfy them.

Requirements:
%s
Design:
%s

Fixed test suite:
%s

%s`, formatRequirements(reqs), formatDesign(design), formatFiles(tests), artifactResponseContract)
}

func buildRepairPrompt(set *ArtifactSet, report *FailureReport) string {
	var failures strings.Builder
	for _, f := range report.Failures {
		fmt.Fprintf(&failures, "- %s\n%s\n", f.Name, f.Output)
	}
	return fmt.Sprintf(`The following tests fail. Patch the implementation so they pass.
You may NOT alter test expectations; tests are the contract.
Return only the files you changed.

Failures:
%s
Current artifacts:
%s

%s`, failures.String(), formatFiles(set), artifactResponseContract)
}

func buildReviewPrompt(set *ArtifactSet, reqs *recipe.RequirementSet) string {
	return fmt.Sprintf(`Review the artifacts below against the requirements. Categorize each
finding as CRITICAL (blocks acceptance) or SUGGESTION (nice to have).

Requirements:
%s
Artifacts:
%s

Respond with ONLY a JSON object:
{"summary": "...", "findings": [{"severity": "CRITICAL"|"SUGGESTION",
"path": "file.go", "requirement": "req_1", "message": "..."}]}`,
		formatRequirements(reqs), formatFiles(set))
}

func buildRevisionPrompt(set *ArtifactSet, critical []Finding) string {
	var findings strings.Builder
	for _, f := range critical {
		fmt.Fprintf(&findings, "- [%s] %s: %s\n", f.Severity, f.Path, f.Message)
	}
	return fmt.Sprintf(`Revise the artifacts to resolve ONLY the critical review findings below.
Do not make unrelated changes. Return only the files you changed.

Critical findings:
%s
Current artifacts:
%s

%s`, findings.String(), formatFiles(set), artifactResponseContract)
}

func buildSeparationPrompt(requirements, design string, violations []string) string {
	return fmt.Sprintf(`The requirements and design documents below cross-contaminate each other:
%s

Rewrite both so requirements state only capabilities (no technologies,
algorithms, or integration specifics) and the design states only how (no
MUST/SHOULD/COULD or "shall" statements). Preserve all meaning.

Requirements document:
%s

Design document:
%s

Respond with ONLY a JSON object:
{"requirements": "...", "design": "...", "rationale": "..."}`,
		"- "+strings.Join(violations, "\n- "), requirements, design)
}

func buildDecompositionPrompt(r *recipe.Recipe, strategy string) string {
	return fmt.Sprintf(`The recipe %q is too complex to generate in one pass. Propose a %s
decomposition into 2-5 child recipes. Each child needs a unique name
(prefix %q), a complete requirements.md, a complete design.md, and a
dependency list naming only sibling children. Together the children must
cover every requirement of the parent.

Parent requirements:
%s
Parent design:
%s

Respond with ONLY a JSON object:
{"strategy": %q, "reasoning": "...", "children": [{"name": "...",
"requirements": "...", "design": "...", "dependencies": []}]}`,
		r.Name, strategy, r.Name+"-", formatRequirements(r.Requirements), formatDesign(r.Design), strategy)
}
