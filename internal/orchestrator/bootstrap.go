package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/alloybuild/alloy/internal/oracle"
	"github.com/alloybuild/alloy/internal/recipe"
)

// SelfHostingError is fatal: the orchestrator failed to rebuild itself
// from its own recipe, or the rebuilt version regressed structurally.
type SelfHostingError struct {
	Stage string // pipeline phase or bootstrap step that failed
	Msg   string
	Err   error
}

func (e *SelfHostingError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("self-hosting failed at %s: %s: %v", e.Stage, e.Msg, e.Err)
	}
	return fmt.Sprintf("self-hosting failed at %s: %s", e.Stage, e.Msg)
}

func (e *SelfHostingError) Unwrap() error { return e.Err }

// Relauncher runs a freshly generated orchestrator so the bootstrap can
// confirm the second generation produces a third. The default
// implementation materializes the artifacts and invokes the generated
// binary; tests substitute a recording fake.
type Relauncher interface {
	Relaunch(ctx context.Context, artifacts *oracle.ArtifactSet) error
}

// Bootstrap rebuilds the orchestrator from its own recipe through the
// standard pipeline, then verifies the result two ways: the generated
// tree must retain every component of the current implementation, and
// the generated orchestrator must itself complete a bootstrap pass via
// the relauncher. Any failure is a SelfHostingError.
func (o *Orchestrator) Bootstrap(ctx context.Context, self *recipe.Recipe, currentComponents []string, relauncher Relauncher) (*RecipeResult, error) {
	if self.Metadata == nil || !self.Metadata.SelfHosting() {
		return nil, &SelfHostingError{
			Stage: "precondition",
			Msg:   fmt.Sprintf("recipe %s is not marked selfHosting", self.Name),
		}
	}

	result := o.ExecuteRecipe(ctx, self)
	if result.Status != StatusSuccess {
		return result, &SelfHostingError{
			Stage: string(result.Phase),
			Msg:   "pipeline failed while rebuilding the orchestrator",
			Err:   result.Err,
		}
	}

	if missing := missingComponents(result.Artifacts, currentComponents); len(missing) > 0 {
		return result, &SelfHostingError{
			Stage: "structural comparison",
			Msg: fmt.Sprintf("generated orchestrator dropped components: %s",
				strings.Join(missing, ", ")),
		}
	}

	if relauncher != nil {
		if err := relauncher.Relaunch(ctx, result.Artifacts); err != nil {
			return result, &SelfHostingError{
				Stage: "relaunch",
				Msg:   "generated orchestrator could not reproduce itself",
				Err:   err,
			}
		}
	}

	return result, nil
}

// GeneratedComponents lists the top-level directories of the source
// files in an artifact set, sorted. Files at the root count as "main".
func GeneratedComponents(set *oracle.ArtifactSet) []string {
	seen := make(map[string]bool)
	for _, path := range set.Paths() {
		if !strings.HasSuffix(path, ".go") {
			continue
		}
		component := "main"
		if i := strings.Index(path, "/"); i >= 0 {
			component = path[:i]
		}
		seen[component] = true
	}
	components := make([]string, 0, len(seen))
	for c := range seen {
		components = append(components, c)
	}
	sort.Strings(components)
	return components
}

func missingComponents(set *oracle.ArtifactSet, current []string) []string {
	generated := make(map[string]bool)
	for _, c := range GeneratedComponents(set) {
		generated[c] = true
	}
	var missing []string
	for _, c := range current {
		if !generated[c] {
			missing = append(missing, c)
		}
	}
	sort.Strings(missing)
	return missing
}
