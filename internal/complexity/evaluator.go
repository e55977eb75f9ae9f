// Package complexity scores recipes and decomposes over-complex ones
// into child recipes before dependency resolution ever runs. The
// decomposition pre-pass runs to a fixed point under a bounded recursion
// depth, so the resolver always sees a final, stable recipe set.
package complexity

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/alloybuild/alloy/internal/oracle"
	"github.com/alloybuild/alloy/internal/recipe"
)

// Strategy names for decomposition proposals.
const (
	StrategyFunctional = "functional"
	StrategyLayered    = "layered"
	StrategyRiskBased  = "risk-based"
)

// Thresholds configures the scoring weights and the decomposition
// boundary.
type Thresholds struct {
	MaxComponents       int     // components before the count starts scoring (default: 5)
	MaxMustRequirements int     // MUST requirements before the count starts scoring (default: 7)
	MaxFunctionalAreas  int     // distinct functional areas before scoring (default: 3)
	ComponentWeight     float64 // default: 0.5 per component over threshold
	MustWeight          float64 // default: 0.3 per MUST over threshold
	AreaWeight          float64 // default: 0.8 per area over threshold
	Boundary            float64 // score at or above which decomposition triggers (default: 1.0)
	MaxDepth            int     // bounded recursion depth (default: 3)
}

// DefaultThresholds returns the default scoring configuration.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MaxComponents:       5,
		MaxMustRequirements: 7,
		MaxFunctionalAreas:  3,
		ComponentWeight:     0.5,
		MustWeight:          0.3,
		AreaWeight:          0.8,
		Boundary:            1.0,
		MaxDepth:            3,
	}
}

// ComplexityExceededError is fatal: decomposition recursed past the
// configured depth without reaching a fixed point.
type ComplexityExceededError struct {
	Recipe   string
	MaxDepth int
}

func (e *ComplexityExceededError) Error() string {
	return fmt.Sprintf("recipe %s still too complex after %d decomposition levels", e.Recipe, e.MaxDepth)
}

// Functional-area vocabulary. A design mentioning words from a bucket
// counts that bucket once; distinct buckets measure cohesion.
var functionalAreas = map[string]*regexp.Regexp{
	"storage":    regexp.MustCompile(`(?i)\b(persist|storage|database|cache|durable|record)\b`),
	"transport":  regexp.MustCompile(`(?i)\b(network|transport|request|response|endpoint|protocol)\b`),
	"parsing":    regexp.MustCompile(`(?i)\b(parse|parser|tokeniz|deserializ|format)\b`),
	"scheduling": regexp.MustCompile(`(?i)\b(schedul|queue|worker|concurren|parallel)\b`),
	"validation": regexp.MustCompile(`(?i)\b(validat|verif|check|audit|compliance)\b`),
	"generation": regexp.MustCompile(`(?i)\b(generat|synthesiz|emit|render)\b`),
	"auth":       regexp.MustCompile(`(?i)\b(auth|credential|permission|token)\b`),
	"ui":         regexp.MustCompile(`(?i)\b(display|render|console|terminal|interface text)\b`),
}

// Evaluator scores recipes and drives decomposition through the oracle.
type Evaluator struct {
	oracle     oracle.Oracle
	thresholds Thresholds
}

// NewEvaluator creates an evaluator. A nil oracle disables decomposition
// (scoring still works), which is what dry runs use.
func NewEvaluator(o oracle.Oracle, t Thresholds) *Evaluator {
	return &Evaluator{oracle: o, thresholds: t}
}

// Score computes the weighted complexity score for one recipe.
func (e *Evaluator) Score(r *recipe.Recipe) float64 {
	t := e.thresholds
	score := 0.0

	if over := len(r.Design.Components) - t.MaxComponents; over > 0 {
		score += float64(over) * t.ComponentWeight
	}
	if over := len(r.Requirements.Musts()) - t.MaxMustRequirements; over > 0 {
		score += float64(over) * t.MustWeight
	}
	if over := countFunctionalAreas(r.DesignText) - t.MaxFunctionalAreas; over > 0 {
		score += float64(over) * t.AreaWeight
	}
	return score
}

// NeedsDecomposition reports whether the score crosses the boundary.
func (e *Evaluator) NeedsDecomposition(r *recipe.Recipe) bool {
	return e.Score(r) >= e.thresholds.Boundary
}

// PickStrategy chooses a decomposition strategy from the recipe's shape:
// layered when the design talks about layers, risk-based when MUST
// density dominates, functional otherwise.
func (e *Evaluator) PickStrategy(r *recipe.Recipe) string {
	if regexp.MustCompile(`(?i)\blayer(s|ed)?\b`).MatchString(r.DesignText) {
		return StrategyLayered
	}
	if len(r.Requirements.Musts())*2 > len(r.Requirements.Requirements) &&
		len(r.Requirements.Musts()) > e.thresholds.MaxMustRequirements {
		return StrategyRiskBased
	}
	return StrategyFunctional
}

// Expand runs the decomposition pre-pass to a fixed point over the whole
// recipe set. Over-complex recipes are split into children; the parent
// stays in the set as a pure aggregation of its children. Children are
// re-submitted to the same evaluation, bounded by MaxDepth.
func (e *Evaluator) Expand(ctx context.Context, recipes map[string]*recipe.Recipe) (map[string]*recipe.Recipe, error) {
	out := make(map[string]*recipe.Recipe, len(recipes))
	for name, r := range recipes {
		out[name] = r
	}

	type pending struct {
		recipe *recipe.Recipe
		depth  int
	}
	queue := make([]pending, 0, len(recipes))
	for _, r := range recipes {
		queue = append(queue, pending{r, 0})
	}

	for len(queue) > 0 {
		item := queue[0]
		queue = queue[1:]

		r := item.recipe
		if r.Metadata.IsAggregate() || !e.NeedsDecomposition(r) {
			continue
		}
		if item.depth >= e.thresholds.MaxDepth {
			return nil, &ComplexityExceededError{Recipe: r.Name, MaxDepth: e.thresholds.MaxDepth}
		}
		if e.oracle == nil {
			return nil, fmt.Errorf("recipe %s needs decomposition but no oracle is configured", r.Name)
		}

		children, err := e.decompose(ctx, r)
		if err != nil {
			return nil, err
		}

		slog.Info("decomposed recipe",
			"recipe", r.Name, "children", len(children), "depth", item.depth+1, "score", e.Score(r))

		childNames := make([]string, 0, len(children))
		for _, child := range children {
			if _, exists := out[child.Name]; exists {
				return nil, fmt.Errorf("decomposition of %s proposed duplicate recipe name %s", r.Name, child.Name)
			}
			out[child.Name] = child
			childNames = append(childNames, child.Name)
			queue = append(queue, pending{child, item.depth + 1})
		}

		out[r.Name] = aggregateParent(r, childNames)
	}

	return out, nil
}

// decompose asks the oracle for a plan and materializes the child recipes.
func (e *Evaluator) decompose(ctx context.Context, r *recipe.Recipe) ([]*recipe.Recipe, error) {
	strategy := e.PickStrategy(r)
	plan, err := e.oracle.ProposeDecomposition(ctx, r, strategy)
	if err != nil {
		return nil, &oracle.GenerationError{Recipe: r.Name, Operation: "propose_decomposition", Err: err}
	}
	if len(plan.Children) < 2 {
		return nil, &oracle.GenerationError{
			Recipe:    r.Name,
			Operation: "propose_decomposition",
			Err:       fmt.Errorf("plan proposed %d children, need at least 2", len(plan.Children)),
		}
	}

	siblings := make(map[string]bool, len(plan.Children))
	for _, c := range plan.Children {
		siblings[c.Name] = true
	}

	children := make([]*recipe.Recipe, 0, len(plan.Children))
	for _, spec := range plan.Children {
		for _, dep := range spec.Dependencies {
			if !siblings[dep] {
				return nil, &oracle.GenerationError{
					Recipe:    r.Name,
					Operation: "propose_decomposition",
					Err:       fmt.Errorf("child %s depends on %s, which is not a sibling", spec.Name, dep),
				}
			}
		}
		child, err := buildChild(r, spec)
		if err != nil {
			return nil, err
		}
		children = append(children, child)
	}
	return children, nil
}

// buildChild materializes one child recipe from a decomposition spec.
// Children are synthetic: they have no on-disk location, and their
// checksum derives from the generated texts.
func buildChild(parent *recipe.Recipe, spec oracle.ChildSpec) (*recipe.Recipe, error) {
	reqs, err := recipe.ParseRequirements(spec.Name, spec.Requirements)
	if err != nil {
		return nil, fmt.Errorf("decomposition of %s produced invalid requirements for %s: %w", parent.Name, spec.Name, err)
	}
	design, err := recipe.ParseDesign(spec.Name, spec.Design)
	if err != nil {
		return nil, fmt.Errorf("decomposition of %s produced invalid design for %s: %w", parent.Name, spec.Name, err)
	}

	meta := &recipe.Metadata{
		Name:         spec.Name,
		Version:      parent.Metadata.Version,
		Type:         parent.Metadata.Type,
		Dependencies: spec.Dependencies,
		Attributes:   map[string]string{"decomposedFrom": parent.Name},
	}
	metaText := fmt.Sprintf("name: %s\nversion: %s\ntype: %s\ndependencies: [%s]\n",
		meta.Name, meta.Version, meta.Type, strings.Join(meta.Dependencies, ", "))

	child := &recipe.Recipe{
		Name:             spec.Name,
		Requirements:     reqs,
		Design:           design,
		Metadata:         meta,
		RequirementsText: spec.Requirements,
		DesignText:       spec.Design,
		MetadataText:     metaText,
		ContentChecksum:  recipe.Checksum(spec.Requirements, spec.Design, metaText),
		LoadedAt:         time.Now(),
	}
	if err := child.Validate(); err != nil {
		return nil, fmt.Errorf("decomposition of %s produced invalid child: %w", parent.Name, err)
	}
	return child, nil
}

// aggregateParent rewrites the parent as a pure aggregation: its
// dependencies become exactly its children and it gets no independent
// generation step.
func aggregateParent(parent *recipe.Recipe, childNames []string) *recipe.Recipe {
	attrs := make(map[string]string, len(parent.Metadata.Attributes)+1)
	for k, v := range parent.Metadata.Attributes {
		attrs[k] = v
	}
	attrs["aggregate"] = "true"

	meta := &recipe.Metadata{
		Name:         parent.Name,
		Version:      parent.Metadata.Version,
		Type:         parent.Metadata.Type,
		Dependencies: append(append([]string(nil), parent.Metadata.Dependencies...), childNames...),
		Attributes:   attrs,
	}

	updated := *parent
	updated.Metadata = meta
	return &updated
}

func countFunctionalAreas(designText string) int {
	count := 0
	for _, re := range functionalAreas {
		if re.MatchString(designText) {
			count++
		}
	}
	return count
}
