package main

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/alloybuild/alloy/internal/graph"
	"github.com/alloybuild/alloy/internal/recipe"
)

var graphCmd = &cobra.Command{
	Use:   "graph <path>",
	Short: "Show the resolved dependency graph",
	Long: `Resolve the collection's dependency graph and print the total
build order plus the parallel groups.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		recipes, err := recipe.LoadAll(args[0])
		if err != nil {
			fail(err)
		}
		g, err := graph.Build(recipes)
		if err != nil {
			fail(err)
		}

		cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
		fmt.Printf("%s\n", cyan("Build order:"))
		for i, name := range g.TopoSort() {
			deps := g.Dependencies(name)
			if len(deps) == 0 {
				fmt.Printf("  %2d. %s\n", i+1, name)
			} else {
				fmt.Printf("  %2d. %s (after %s)\n", i+1, name, strings.Join(deps, ", "))
			}
		}

		fmt.Printf("\n%s\n", cyan("Parallel groups:"))
		for i, group := range g.ParallelGroups() {
			fmt.Printf("  group %d: %s\n", i+1, strings.Join(group, ", "))
		}
	},
}

func init() {
	rootCmd.AddCommand(graphCmd)
}
