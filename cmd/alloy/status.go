package main

import (
	"context"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/alloybuild/alloy/internal/cache"
	"github.com/alloybuild/alloy/internal/config"
)

var statusCmd = &cobra.Command{
	Use:   "status <path>",
	Short: "Show build cache state for a collection",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		root := args[0]
		cfg, err := config.Load(root)
		if err != nil {
			fail(err)
		}

		path := cachePath(root, cfg)
		if _, err := os.Stat(path); os.IsNotExist(err) {
			fmt.Println("no build cache; nothing has been built")
			return
		}

		store, err := cache.Open(path)
		if err != nil {
			fail(fmt.Errorf("opening build cache: %w", err))
		}
		defer store.Close()

		records, err := store.All(context.Background())
		if err != nil {
			fail(err)
		}
		if len(records) == 0 {
			fmt.Println("build cache is empty")
			return
		}

		cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
		fmt.Printf("%s\n", cyan("Build records:"))
		for _, rec := range records {
			marker := color.GreenString("✓")
			if rec.Outcome == cache.OutcomeFailure {
				marker = color.RedString("✗")
			}
			fmt.Printf("  %s %-24s %s  %s\n", marker, rec.Recipe,
				rec.BuiltAt.Local().Format("2006-01-02 15:04:05"), shortChecksum(rec.Checksum))
		}
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func shortChecksum(sum string) string {
	if len(sum) > 12 {
		return sum[:12]
	}
	return sum
}
