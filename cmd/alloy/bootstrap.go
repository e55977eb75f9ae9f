package main

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/alloybuild/alloy/internal/cache"
	"github.com/alloybuild/alloy/internal/gates"
	"github.com/alloybuild/alloy/internal/oracle"
	"github.com/alloybuild/alloy/internal/orchestrator"
	"github.com/alloybuild/alloy/internal/recipe"
)

var (
	bootstrapRecipeName string
	bootstrapNoRelaunch bool
)

// The components the current implementation carries. The rebuilt
// orchestrator must retain all of them or the bootstrap is a regression.
var currentComponents = []string{
	"cache",
	"compliance",
	"complexity",
	"config",
	"gates",
	"gen",
	"graph",
	"oracle",
	"orchestrator",
	"recipe",
	"review",
	"separation",
}

var bootstrapCmd = &cobra.Command{
	Use:   "bootstrap <path>",
	Short: "Rebuild the orchestrator from its own recipe",
	Long: `Run the self-hosting check: build the orchestrator's own recipe
through the standard pipeline, compare the generated component structure
against the current implementation, and relaunch the generated
orchestrator to confirm it can reproduce itself.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		root := args[0]
		ctx := context.Background()

		cfg, recipes, err := loadCollection(root)
		if err != nil {
			fail(err)
		}

		self, err := findSelfRecipe(recipes, bootstrapRecipeName)
		if err != nil {
			fail(err)
		}

		store, err := cache.Open(cachePath(root, cfg))
		if err != nil {
			fail(fmt.Errorf("opening build cache: %w", err))
		}
		defer store.Close()

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

		var relauncher orchestrator.Relauncher
		if !bootstrapNoRelaunch {
			// The relaunched binary runs from its own temp workspace,
			// so the collection root must be absolute.
			absRoot, err := filepath.Abs(root)
			if err != nil {
				fail(fmt.Errorf("resolving collection root: %w", err))
			}
			relauncher = &orchestrator.ExecRelauncher{RecipeRoot: absRoot}
		}

		fmt.Printf("%s %s\n", color.CyanString("bootstrapping from"), self.Name)
		result, err := orch.Bootstrap(ctx, self, currentComponents, relauncher)
		if err != nil {
			fail(err)
		}

		fmt.Printf("%s generated %d file(s), components: %v\n",
			color.GreenString("bootstrap succeeded:"),
			len(result.Artifacts.Files),
			orchestrator.GeneratedComponents(result.Artifacts))
	},
}

func init() {
	bootstrapCmd.Flags().StringVar(&bootstrapRecipeName, "recipe", "", "self-hosting recipe name (default: autodetect)")
	bootstrapCmd.Flags().BoolVar(&bootstrapNoRelaunch, "no-relaunch", false, "skip relaunching the generated orchestrator")
	rootCmd.AddCommand(bootstrapCmd)
}

// findSelfRecipe locates the recipe marked selfHosting, or the named one.
func findSelfRecipe(recipes map[string]*recipe.Recipe, name string) (*recipe.Recipe, error) {
	if name != "" {
		r, ok := recipes[name]
		if !ok {
			return nil, fmt.Errorf("recipe %s not found in the collection", name)
		}
		return r, nil
	}
	var found *recipe.Recipe
	for _, r := range recipes {
		if r.Metadata != nil && r.Metadata.SelfHosting() {
			if found != nil {
				return nil, fmt.Errorf("multiple selfHosting recipes (%s, %s); use --recipe", found.Name, r.Name)
			}
			found = r
		}
	}
	if found == nil {
		return nil, fmt.Errorf("no recipe marked selfHosting in the collection")
	}
	return found, nil
}
