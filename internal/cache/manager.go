package cache

import (
	"context"
	"fmt"

	"github.com/alloybuild/alloy/internal/recipe"
)

// DependencyLister exposes the dependency edges the rebuild decision
// walks. The resolved graph satisfies it.
type DependencyLister interface {
	Dependencies(name string) []string
}

// Manager makes rebuild decisions for one collection run: per-recipe
// record state from the Store, composed transitively over the dependency
// graph. Decisions are memoized because the same subtree is consulted by
// every dependent.
type Manager struct {
	store   *Store
	deps    DependencyLister
	recipes map[string]*recipe.Recipe

	memo map[string]decision
}

type decision struct {
	rebuild bool
	reason  string
}

// NewManager creates a rebuild decision manager for a resolved recipe set.
func NewManager(store *Store, deps DependencyLister, recipes map[string]*recipe.Recipe) *Manager {
	return &Manager{
		store:   store,
		deps:    deps,
		recipes: recipes,
		memo:    make(map[string]decision),
	}
}

// NeedsRebuild reports whether a recipe must be rebuilt and why. True
// when forced, when no prior record exists, when the content checksum
// drifted, when the prior outcome was a failure, or when any dependency
// is stale or was rebuilt after this recipe's last build.
func (m *Manager) NeedsRebuild(ctx context.Context, r *recipe.Recipe, force bool) (bool, string, error) {
	if force {
		return true, "forced", nil
	}
	return m.evaluate(ctx, r.Name)
}

func (m *Manager) evaluate(ctx context.Context, name string) (bool, string, error) {
	if d, ok := m.memo[name]; ok {
		return d.rebuild, d.reason, nil
	}
	// Seed the memo so a (should-be-impossible) cycle cannot recurse forever
	m.memo[name] = decision{false, "in evaluation"}

	rebuild, reason, err := m.evaluateUncached(ctx, name)
	if err != nil {
		delete(m.memo, name)
		return false, "", err
	}
	m.memo[name] = decision{rebuild, reason}
	return rebuild, reason, nil
}

func (m *Manager) evaluateUncached(ctx context.Context, name string) (bool, string, error) {
	r, ok := m.recipes[name]
	if !ok {
		return false, "", fmt.Errorf("recipe %s not in the resolved set", name)
	}

	rec, err := m.store.Get(ctx, name)
	if err != nil {
		return false, "", err
	}
	if rec == nil {
		return true, "no prior build record", nil
	}
	if rec.Checksum != r.ContentChecksum {
		return true, "content changed", nil
	}
	if rec.Outcome == OutcomeFailure {
		return true, "previous build failed", nil
	}

	for _, dep := range m.deps.Dependencies(name) {
		depStale, _, err := m.evaluate(ctx, dep)
		if err != nil {
			return false, "", err
		}
		if depStale {
			return true, fmt.Sprintf("dependency %s is stale", dep), nil
		}
		depRec, err := m.store.Get(ctx, dep)
		if err != nil {
			return false, "", err
		}
		if depRec != nil && depRec.Changed && depRec.BuiltAt.After(rec.BuiltAt) {
			return true, fmt.Sprintf("dependency %s changed since last build", dep), nil
		}
	}

	return false, "up to date", nil
}
