package main

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/alloybuild/alloy/internal/cache"
	"github.com/alloybuild/alloy/internal/gates"
	"github.com/alloybuild/alloy/internal/graph"
	"github.com/alloybuild/alloy/internal/oracle"
	"github.com/alloybuild/alloy/internal/orchestrator"
	"github.com/alloybuild/alloy/internal/recipe"
)

var (
	buildForce   bool
	buildDryRun  bool
	buildWorkers int
)

var buildCmd = &cobra.Command{
	Use:   "build <path>",
	Short: "Build a recipe collection",
	Long: `Build every recipe under the given path in dependency order.
Unchanged recipes with successful prior builds are skipped unless
--force is given. --dry-run reports the rebuild decisions without
invoking any generation.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		root := args[0]
		ctx := context.Background()

		cfg, recipes, err := loadCollection(root)
		if err != nil {
			fail(err)
		}
		if buildWorkers > 0 {
			cfg.Workers = buildWorkers
		}

		store, err := cache.Open(cachePath(root, cfg))
		if err != nil {
			fail(fmt.Errorf("opening build cache: %w", err))
		}
		defer store.Close()

		if buildDryRun {
			dryRun(ctx, store, recipes)
			return
		}

		retry := oracle.DefaultRetryConfig()
		retry.Timeout = cfg.OracleTimeout
		client, err := oracle.NewClient(&oracle.Config{Retry: retry})
		if err != nil {
			fail(err)
		}

		orch, err := orchestrator.New(client, gates.NewGoToolchain(0), store, cfg)
		if err != nil {
			fail(err)
		}
		orch.SetObserver(&progressPrinter{})

		result, err := orch.ExecuteCollection(ctx, recipes, buildForce)
		if err != nil {
			fail(err)
		}

		printSummary(result)
		if !result.Succeeded() {
			os.Exit(exitBuildError)
		}
	},
}

func init() {
	buildCmd.Flags().BoolVar(&buildForce, "force", false, "rebuild everything regardless of cache state")
	buildCmd.Flags().BoolVar(&buildDryRun, "dry-run", false, "print rebuild decisions without building")
	buildCmd.Flags().IntVar(&buildWorkers, "workers", 0, "concurrent builds within a group (default: CPU count)")
	rootCmd.AddCommand(buildCmd)
}

// dryRun prints each recipe's rebuild decision in dependency order
// without touching the oracle.
func dryRun(ctx context.Context, store *cache.Store, recipes map[string]*recipe.Recipe) {
	g, err := graph.Build(recipes)
	if err != nil {
		fail(err)
	}
	manager := cache.NewManager(store, g, recipes)

	for _, name := range g.TopoSort() {
		rebuild, reason, err := manager.NeedsRebuild(ctx, recipes[name], buildForce)
		if err != nil {
			fail(err)
		}
		if rebuild {
			fmt.Printf("  %s %s (%s)\n", color.YellowString("rebuild"), name, reason)
		} else {
			fmt.Printf("  %s %s\n", color.HiBlackString("skip   "), name)
		}
	}
}

// progressPrinter streams per-recipe progress lines. Called from worker
// goroutines, so output is serialized.
type progressPrinter struct {
	mu sync.Mutex
}

func (p *progressPrinter) RecipeStarted(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Printf("  %s %s\n", color.CyanString("building"), name)
}

func (p *progressPrinter) RecipeFinished(result *orchestrator.RecipeResult) {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch result.Status {
	case orchestrator.StatusSuccess:
		fmt.Printf("  %s %s\n", color.GreenString("✓"), result.Recipe)
	case orchestrator.StatusSkippedUpToDate:
		fmt.Printf("  %s %s (%s)\n", color.HiBlackString("-"), result.Recipe, result.Reason)
	case orchestrator.StatusSkippedDependency:
		fmt.Printf("  %s %s (%s)\n", color.YellowString("↷"), result.Recipe, result.Reason)
	case orchestrator.StatusFailed:
		fmt.Printf("  %s %s: %v\n", color.RedString("✗"), result.Recipe, result.Err)
	}
	if verbose {
		for _, s := range result.Suggestions {
			fmt.Printf("      suggestion (%s): %s\n", s.Path, s.Message)
		}
	}
}

// printSummary prints the end-of-run rollup.
func printSummary(result *orchestrator.CollectionResult) {
	var built, upToDate, skipped, failed int
	for _, r := range result.Results {
		switch r.Status {
		case orchestrator.StatusSuccess:
			built++
		case orchestrator.StatusSkippedUpToDate:
			upToDate++
		case orchestrator.StatusSkippedDependency:
			skipped++
		case orchestrator.StatusFailed:
			failed++
		}
	}
	fmt.Println()
	if failed == 0 && skipped == 0 {
		fmt.Printf("%s %d built, %d up to date\n", color.GreenString("Build succeeded:"), built, upToDate)
		return
	}
	fmt.Printf("%s %d built, %d up to date, %d failed, %d skipped\n",
		color.RedString("Build failed:"), built, upToDate, failed, skipped)
	for _, name := range result.Failed() {
		fmt.Fprintf(os.Stderr, "  %s: %v\n", name, result.Results[name].Err)
	}
}
