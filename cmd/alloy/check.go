package main

import (
	"fmt"
	"os"
	"sort"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/alloybuild/alloy/internal/graph"
	"github.com/alloybuild/alloy/internal/recipe"
	"github.com/alloybuild/alloy/internal/separation"
)

var checkCmd = &cobra.Command{
	Use:   "check <path>",
	Short: "Validate a recipe collection without building",
	Long: `Parse every recipe, run the requirements/design separation check,
and resolve the dependency graph. No generation is performed.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		recipes, err := recipe.LoadAll(args[0])
		if err != nil {
			fail(err)
		}
		fmt.Printf("parsed %d recipe(s)\n", len(recipes))

		names := make([]string, 0, len(recipes))
		for name := range recipes {
			names = append(names, name)
		}
		sort.Strings(names)

		violations := 0
		for _, name := range names {
			report := separation.Check(recipes[name])
			if report.Clean() {
				continue
			}
			violations += len(report.Violations)
			fmt.Fprintf(os.Stderr, "%s %s:\n", color.RedString("separation violations in"), name)
			for _, line := range report.Summaries() {
				fmt.Fprintf(os.Stderr, "  %s\n", line)
			}
		}

		g, err := graph.Build(recipes)
		if err != nil {
			fail(err)
		}
		fmt.Printf("dependency graph resolved: %d group(s)\n", len(g.ParallelGroups()))

		if violations > 0 {
			fmt.Fprintf(os.Stderr, "%s %d violation(s)\n", color.RedString("check failed:"), violations)
			os.Exit(exitStructural)
		}
		fmt.Printf("%s\n", color.GreenString("all checks passed"))
	},
}

func init() {
	rootCmd.AddCommand(checkCmd)
}
