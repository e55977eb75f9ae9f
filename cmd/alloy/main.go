// alloy is a recipe-driven build orchestrator: it turns requirement and
// design documents into tested, reviewed, compliance-checked code.
package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/alloybuild/alloy/internal/complexity"
	"github.com/alloybuild/alloy/internal/config"
	"github.com/alloybuild/alloy/internal/graph"
	"github.com/alloybuild/alloy/internal/recipe"
	"github.com/alloybuild/alloy/internal/separation"
)

// Exit codes: 0 success, 1 build or compliance failure, 2 structural
// errors (parse, separation, complexity, graph).
const (
	exitOK         = 0
	exitBuildError = 1
	exitStructural = 2
)

var verbose bool

var rootCmd = &cobra.Command{
	Use:   "alloy",
	Short: "Recipe-driven build orchestrator",
	Long: `Alloy builds software from recipes: requirement documents, design
documents, and metadata. Recipes are validated, resolved into a
dependency graph, and built through a test-first generation pipeline
with review, quality gates, and requirement compliance checking.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitBuildError)
	}
}

// fail prints the error and exits with the code its type maps to.
func fail(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(exitCodeFor(err))
}

// exitCodeFor maps structural errors to exit code 2 and everything else
// to 1.
func exitCodeFor(err error) int {
	var (
		parseErr      *recipe.ParseError
		sepErr        *separation.ValidationError
		cycleErr      *graph.CircularDependencyError
		missingErr    *graph.MissingDependencyError
		complexityErr *complexity.ComplexityExceededError
	)
	switch {
	case errors.As(err, &parseErr),
		errors.As(err, &sepErr),
		errors.As(err, &cycleErr),
		errors.As(err, &missingErr),
		errors.As(err, &complexityErr):
		return exitStructural
	default:
		return exitBuildError
	}
}

// loadCollection loads configuration and recipes for a collection root.
func loadCollection(root string) (*config.Config, map[string]*recipe.Recipe, error) {
	cfg, err := config.Load(root)
	if err != nil {
		return nil, nil, err
	}
	recipes, err := recipe.LoadAll(root)
	if err != nil {
		return nil, nil, err
	}
	return cfg, recipes, nil
}

// cachePath resolves the configured cache location against the root.
func cachePath(root string, cfg *config.Config) string {
	if filepath.IsAbs(cfg.CachePath) {
		return cfg.CachePath
	}
	return filepath.Join(root, cfg.CachePath)
}
