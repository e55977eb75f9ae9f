// Package orchestrator sequences the build of a recipe collection:
// separation validation, complexity expansion, dependency resolution,
// then per-recipe execution of the generation, review, gate, and
// compliance pipelines in dependency order.
package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/alloybuild/alloy/internal/cache"
	"github.com/alloybuild/alloy/internal/compliance"
	"github.com/alloybuild/alloy/internal/complexity"
	"github.com/alloybuild/alloy/internal/config"
	"github.com/alloybuild/alloy/internal/gates"
	"github.com/alloybuild/alloy/internal/gen"
	"github.com/alloybuild/alloy/internal/graph"
	"github.com/alloybuild/alloy/internal/oracle"
	"github.com/alloybuild/alloy/internal/recipe"
	"github.com/alloybuild/alloy/internal/review"
	"github.com/alloybuild/alloy/internal/separation"
)

// Status is a recipe's terminal state in a collection run.
type Status string

const (
	StatusSuccess           Status = "success"
	StatusFailed            Status = "failed"
	StatusSkippedUpToDate   Status = "skipped_up_to_date"
	StatusSkippedDependency Status = "skipped_dependency_failed"
)

// PipelinePhase names the stage a recipe run reached.
type PipelinePhase string

const (
	PhaseGeneration PipelinePhase = "generation"
	PhaseReview     PipelinePhase = "review"
	PhaseGates      PipelinePhase = "quality gates"
	PhaseCompliance PipelinePhase = "compliance"
	PhaseAggregate  PipelinePhase = "aggregate"
)

// RecipeResult is the outcome of one recipe within a run.
type RecipeResult struct {
	Recipe      string
	Status      Status
	Phase       PipelinePhase
	Err         error
	Reason      string // populated for skips
	Artifacts   *oracle.ArtifactSet
	Matrix      *compliance.Matrix
	GateResults []*gates.Result
	Suggestions []oracle.Finding
}

// CollectionResult is the outcome of a full collection run.
type CollectionResult struct {
	Groups  [][]string // execution order, parallel groups
	Results map[string]*RecipeResult
}

// Failed returns the names of recipes that failed, sorted.
func (c *CollectionResult) Failed() []string {
	var failed []string
	for name, r := range c.Results {
		if r.Status == StatusFailed {
			failed = append(failed, name)
		}
	}
	sort.Strings(failed)
	return failed
}

// Succeeded reports whether every recipe reached success or an
// up-to-date skip.
func (c *CollectionResult) Succeeded() bool {
	for _, r := range c.Results {
		if r.Status == StatusFailed || r.Status == StatusSkippedDependency {
			return false
		}
	}
	return true
}

// Observer receives progress callbacks during a run. All methods may be
// called from worker goroutines.
type Observer interface {
	RecipeStarted(name string)
	RecipeFinished(result *RecipeResult)
}

type nopObserver struct{}

func (nopObserver) RecipeStarted(string)         {}
func (nopObserver) RecipeFinished(*RecipeResult) {}

// Orchestrator wires the pipelines together for collection builds.
type Orchestrator struct {
	oracle    oracle.Oracle
	toolchain gates.Toolchain
	store     *cache.Store
	cfg       *config.Config
	observer  Observer
}

// New creates an orchestrator. The cache store may be nil for dry runs;
// every recipe is then treated as needing a rebuild and no outcomes are
// recorded.
func New(o oracle.Oracle, toolchain gates.Toolchain, store *cache.Store, cfg *config.Config) (*Orchestrator, error) {
	if o == nil {
		return nil, fmt.Errorf("oracle is required")
	}
	if toolchain == nil {
		return nil, fmt.Errorf("toolchain is required")
	}
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Orchestrator{
		oracle:    o,
		toolchain: toolchain,
		store:     store,
		cfg:       cfg,
		observer:  nopObserver{},
	}, nil
}

// SetObserver installs a progress observer.
func (o *Orchestrator) SetObserver(obs Observer) {
	if obs != nil {
		o.observer = obs
	}
}

// ExecuteRecipe runs the full pipeline for one recipe: generation,
// review, quality gates, compliance. The first failing stage terminates
// the run; later stages are never attempted.
func (o *Orchestrator) ExecuteRecipe(ctx context.Context, r *recipe.Recipe) *RecipeResult {
	result := &RecipeResult{Recipe: r.Name, Phase: PhaseGeneration}

	if r.Metadata != nil && r.Metadata.IsAggregate() {
		// Aggregates have no generation step; they succeed when their
		// children do, which group ordering already guarantees here.
		result.Status = StatusSuccess
		result.Phase = PhaseAggregate
		return result
	}

	pipeline, err := gen.New(o.oracle, o.toolchain, &gen.Config{
		MaxFixIterations:    o.cfg.MaxFixIterations,
		MaxStubRemediations: o.cfg.MaxStubRemediations,
	})
	if err != nil {
		result.Status = StatusFailed
		result.Err = err
		return result
	}
	genResult, err := pipeline.Run(ctx, r)
	if genResult != nil {
		result.Artifacts = genResult.Artifacts
	}
	if err != nil {
		result.Status = StatusFailed
		result.Err = err
		return result
	}

	result.Phase = PhaseReview
	reviewer, err := review.New(o.oracle, &review.Config{MaxIterations: o.cfg.MaxReviewIterations})
	if err != nil {
		result.Status = StatusFailed
		result.Err = err
		return result
	}
	reviewResult, err := reviewer.Run(ctx, r, genResult.Artifacts)
	if reviewResult != nil {
		result.Suggestions = reviewResult.Suggestions
		if reviewResult.Artifacts != nil {
			result.Artifacts = reviewResult.Artifacts
		}
	}
	if err != nil {
		result.Status = StatusFailed
		result.Err = err
		return result
	}

	result.Phase = PhaseGates
	runner, err := gates.NewRunner(o.toolchain, o.cfg.CoverageMin)
	if err != nil {
		result.Status = StatusFailed
		result.Err = err
		return result
	}
	normalized, gateResults, err := runner.RunAll(ctx, r.Name, result.Artifacts)
	result.GateResults = gateResults
	if err != nil {
		result.Status = StatusFailed
		result.Err = err
		return result
	}
	result.Artifacts = normalized

	result.Phase = PhaseCompliance
	matrix, err := compliance.Validate(r, result.Artifacts)
	result.Matrix = matrix
	if err != nil {
		result.Status = StatusFailed
		result.Err = err
		return result
	}

	result.Status = StatusSuccess
	return result
}

// ExecuteCollection validates, expands, resolves, and builds a recipe
// collection. Structural errors (separation, complexity, graph) fail the
// whole run before any generation; per-recipe pipeline failures are
// isolated to the recipe and its transitive dependents.
func (o *Orchestrator) ExecuteCollection(ctx context.Context, recipes map[string]*recipe.Recipe, force bool) (*CollectionResult, error) {
	if len(recipes) == 0 {
		return nil, fmt.Errorf("no recipes to build")
	}

	recipes, err := o.preValidate(ctx, recipes)
	if err != nil {
		return nil, err
	}

	thresholds := complexity.DefaultThresholds()
	thresholds.MaxDepth = o.cfg.MaxDecompositionDepth
	evaluator := complexity.NewEvaluator(o.oracle, thresholds)
	recipes, err = evaluator.Expand(ctx, recipes)
	if err != nil {
		return nil, err
	}

	// Decomposition may have introduced new edges; resolve afterwards so
	// cycles among children surface here.
	g, err := graph.Build(recipes)
	if err != nil {
		return nil, err
	}

	var manager *cache.Manager
	if o.store != nil {
		manager = cache.NewManager(o.store, g, recipes)
	}

	result := &CollectionResult{
		Groups:  g.ParallelGroups(),
		Results: make(map[string]*RecipeResult, len(recipes)),
	}

	var mu sync.Mutex
	blocked := make(map[string]bool) // failed or skipped-for-dependency

	for _, group := range result.Groups {
		var runnable []*recipe.Recipe

		for _, name := range group {
			r := recipes[name]

			if dep := o.blockedDependency(g, name, blocked); dep != "" {
				res := &RecipeResult{
					Recipe: name,
					Status: StatusSkippedDependency,
					Reason: fmt.Sprintf("dependency %s did not build", dep),
				}
				result.Results[name] = res
				blocked[name] = true
				o.observer.RecipeFinished(res)
				continue
			}

			if manager != nil {
				rebuild, reason, err := manager.NeedsRebuild(ctx, r, force)
				if err != nil {
					return nil, fmt.Errorf("cache consultation for %s: %w", name, err)
				}
				if !rebuild {
					res := &RecipeResult{Recipe: name, Status: StatusSkippedUpToDate, Reason: reason}
					result.Results[name] = res
					o.observer.RecipeFinished(res)
					continue
				}
			}

			runnable = append(runnable, r)
		}

		// Recipes within a group share no edges; run them concurrently
		// under the worker limit. A failure never cancels its siblings.
		eg := &errgroup.Group{}
		eg.SetLimit(o.cfg.Workers)
		for _, r := range runnable {
			r := r
			eg.Go(func() error {
				o.observer.RecipeStarted(r.Name)
				res := o.ExecuteRecipe(ctx, r)

				if o.store != nil {
					outcome := cache.OutcomeSuccess
					if res.Status != StatusSuccess {
						outcome = cache.OutcomeFailure
					}
					if err := o.store.Record(ctx, r, outcome); err != nil {
						res.Err = fmt.Errorf("recording build outcome: %w (after: %v)", err, res.Err)
					}
				}

				mu.Lock()
				result.Results[r.Name] = res
				if res.Status == StatusFailed {
					blocked[r.Name] = true
				}
				mu.Unlock()
				o.observer.RecipeFinished(res)
				return nil
			})
		}
		if err := eg.Wait(); err != nil {
			return result, err
		}
	}

	return result, nil
}

// preValidate runs the separation check over every recipe. Violations
// fail the run unless auto-apply is configured, in which case corrected
// texts are requested, reparsed, and substituted.
func (o *Orchestrator) preValidate(ctx context.Context, recipes map[string]*recipe.Recipe) (map[string]*recipe.Recipe, error) {
	names := make([]string, 0, len(recipes))
	for name := range recipes {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make(map[string]*recipe.Recipe, len(recipes))
	for _, name := range names {
		r := recipes[name]
		report := separation.Check(r)
		if report.Clean() {
			out[name] = r
			continue
		}
		if !o.cfg.AutoApplyCorrections {
			return nil, &separation.ValidationError{Recipe: name, Report: report}
		}
		corrected, err := o.applyCorrection(ctx, r, report)
		if err != nil {
			return nil, err
		}
		out[name] = corrected
	}
	return out, nil
}

// applyCorrection asks the oracle for corrected artifact texts, reparses
// them, and re-checks separation. A correction that still violates fails
// the run; corrections are never looped.
func (o *Orchestrator) applyCorrection(ctx context.Context, r *recipe.Recipe, report *separation.Report) (*recipe.Recipe, error) {
	pair, err := separation.RequestCorrection(ctx, o.oracle, r, report)
	if err != nil {
		return nil, err
	}

	reqs, err := recipe.ParseRequirements(r.Name, pair.Requirements)
	if err != nil {
		return nil, fmt.Errorf("corrected requirements for %s do not parse: %w", r.Name, err)
	}
	design, err := recipe.ParseDesign(r.Name, pair.Design)
	if err != nil {
		return nil, fmt.Errorf("corrected design for %s does not parse: %w", r.Name, err)
	}

	corrected := *r
	corrected.Requirements = reqs
	corrected.Design = design
	corrected.RequirementsText = pair.Requirements
	corrected.DesignText = pair.Design
	corrected.ContentChecksum = recipe.Checksum(pair.Requirements, pair.Design, r.MetadataText)

	if recheck := separation.Check(&corrected); !recheck.Clean() {
		return nil, &separation.ValidationError{Recipe: r.Name, Report: recheck}
	}
	return &corrected, nil
}

// blockedDependency returns the first dependency of name that failed or
// was skipped for a failed dependency, or "".
func (o *Orchestrator) blockedDependency(g *graph.Graph, name string, blocked map[string]bool) string {
	deps := g.Dependencies(name)
	sort.Strings(deps)
	for _, dep := range deps {
		if blocked[dep] {
			return dep
		}
	}
	return ""
}
