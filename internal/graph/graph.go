// Package graph builds the dependency graph over a recipe set and
// computes the build order. The resolver never hands a cyclic graph
// downstream: cycle detection runs before any ordering is produced.
package graph

import (
	"fmt"
	"sort"
	"strings"

	"github.com/alloybuild/alloy/internal/recipe"
)

// Graph is the resolved dependency graph. Nodes are recipe names; an
// edge A→B means A must be built before B.
type Graph struct {
	recipes map[string]*recipe.Recipe

	// deps maps a recipe to the names it depends on (its prerequisites).
	deps map[string][]string

	// dependents is the reverse index: who depends on a given recipe.
	dependents map[string][]string
}

// CircularDependencyError reports a dependency cycle. Cycle is the exact
// ordered path returning to its start, e.g. [a b c a].
type CircularDependencyError struct {
	Cycle []string
}

func (e *CircularDependencyError) Error() string {
	return fmt.Sprintf("circular dependency detected: %s", strings.Join(e.Cycle, " → "))
}

// MissingDependencyError reports a dependency naming a recipe that is
// absent from the set.
type MissingDependencyError struct {
	Recipe     string
	Dependency string
}

func (e *MissingDependencyError) Error() string {
	return fmt.Sprintf("recipe %s depends on %s, which is not in the recipe set", e.Recipe, e.Dependency)
}

// Build constructs the graph from each recipe's declared dependencies.
// Fails with MissingDependencyError or CircularDependencyError before
// any build activity can start.
func Build(recipes map[string]*recipe.Recipe) (*Graph, error) {
	g := &Graph{
		recipes:    recipes,
		deps:       make(map[string][]string, len(recipes)),
		dependents: make(map[string][]string, len(recipes)),
	}

	for name, r := range recipes {
		for _, dep := range r.Metadata.Dependencies {
			if _, ok := recipes[dep]; !ok {
				return nil, &MissingDependencyError{Recipe: name, Dependency: dep}
			}
			g.deps[name] = append(g.deps[name], dep)
			g.dependents[dep] = append(g.dependents[dep], name)
		}
	}

	if cycle := g.detectCycle(); len(cycle) > 0 {
		return nil, &CircularDependencyError{Cycle: cycle}
	}
	return g, nil
}

// Dependencies returns the direct prerequisites of a recipe.
func (g *Graph) Dependencies(name string) []string {
	return g.deps[name]
}

// Dependents returns the recipes that directly depend on name.
func (g *Graph) Dependents(name string) []string {
	return g.dependents[name]
}

// TransitiveDependents returns every recipe downstream of name, in no
// particular order.
func (g *Graph) TransitiveDependents(name string) []string {
	seen := make(map[string]bool)
	var out []string
	var walk func(string)
	walk = func(n string) {
		for _, d := range g.dependents[n] {
			if !seen[d] {
				seen[d] = true
				out = append(out, d)
				walk(d)
			}
		}
	}
	walk(name)
	sort.Strings(out)
	return out
}

// Recipe returns the recipe for a node name.
func (g *Graph) Recipe(name string) *recipe.Recipe {
	return g.recipes[name]
}

// Names returns all node names in sorted order.
func (g *Graph) Names() []string {
	names := make([]string, 0, len(g.recipes))
	for name := range g.recipes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// TopoSort returns a total build order consistent with every edge:
// a recipe always appears after all of its dependencies. Ties are broken
// alphabetically so the order is deterministic.
func (g *Graph) TopoSort() []string {
	indegree := make(map[string]int, len(g.recipes))
	for name := range g.recipes {
		indegree[name] = len(g.deps[name])
	}

	var ready []string
	for name, n := range indegree {
		if n == 0 {
			ready = append(ready, name)
		}
	}
	sort.Strings(ready)

	order := make([]string, 0, len(g.recipes))
	for len(ready) > 0 {
		name := ready[0]
		ready = ready[1:]
		order = append(order, name)

		var unlocked []string
		for _, dep := range g.dependents[name] {
			indegree[dep]--
			if indegree[dep] == 0 {
				unlocked = append(unlocked, dep)
			}
		}
		sort.Strings(unlocked)
		ready = append(ready, unlocked...)
		sort.Strings(ready)
	}
	return order
}

// ParallelGroups partitions the graph into ordered groups by repeatedly
// extracting every node whose dependencies have already been extracted.
// No two recipes in one group share an edge; group i only depends on
// groups before it.
func (g *Graph) ParallelGroups() [][]string {
	indegree := make(map[string]int, len(g.recipes))
	for name := range g.recipes {
		indegree[name] = len(g.deps[name])
	}

	remaining := len(g.recipes)
	var groups [][]string
	for remaining > 0 {
		var group []string
		for name, n := range indegree {
			if n == 0 {
				group = append(group, name)
			}
		}
		sort.Strings(group)

		for _, name := range group {
			indegree[name] = -1 // extracted
			for _, dep := range g.dependents[name] {
				indegree[dep]--
			}
		}
		groups = append(groups, group)
		remaining -= len(group)
	}
	return groups
}

// detectCycle runs DFS with a recursion stack over the dependency edges.
// Returns the closed cycle path if one exists, nil otherwise. Start nodes
// are visited in sorted order so the reported cycle is deterministic.
func (g *Graph) detectCycle() []string {
	visited := make(map[string]bool)
	recStack := make(map[string]bool)
	var path []string

	var dfs func(string) bool
	dfs = func(node string) bool {
		visited[node] = true
		recStack[node] = true
		path = append(path, node)

		neighbors := append([]string(nil), g.deps[node]...)
		sort.Strings(neighbors)
		for _, neighbor := range neighbors {
			if !visited[neighbor] {
				if dfs(neighbor) {
					return true
				}
			} else if recStack[neighbor] {
				// Found a cycle - extract the cycle path
				cycleStart := 0
				for i, p := range path {
					if p == neighbor {
						cycleStart = i
						break
					}
				}
				path = append(path[cycleStart:], neighbor) // Close the cycle
				return true
			}
		}

		recStack[node] = false
		path = path[:len(path)-1] // Backtrack
		return false
	}

	for _, name := range g.Names() {
		if !visited[name] {
			path = make([]string, 0)
			if dfs(name) {
				return path
			}
		}
	}
	return nil
}
