package main

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/alloybuild/alloy/internal/orchestrator"
)

// The relaunched binary is the generated orchestrator running this same
// CLI, so the relauncher's invocation has to satisfy the bootstrap
// command's flag and argument contract.
func TestRelauncherInvocationMatchesBootstrapCommand(t *testing.T) {
	r := &orchestrator.ExecRelauncher{RecipeRoot: "/collections/self"}

	args := r.BootstrapArgs()
	if len(args) == 0 || args[0] != bootstrapCmd.Name() {
		t.Fatalf("relauncher must invoke the bootstrap command, got %v", args)
	}

	var positional []string
	for _, a := range args[1:] {
		if strings.HasPrefix(a, "--") {
			if bootstrapCmd.Flags().Lookup(strings.TrimPrefix(a, "--")) == nil {
				t.Errorf("relauncher passes a flag the bootstrap command does not define: %s", a)
			}
			continue
		}
		positional = append(positional, a)
	}

	if err := bootstrapCmd.Args(bootstrapCmd, positional); err != nil {
		t.Fatalf("bootstrap command rejects the relauncher's arguments: %v", err)
	}
	if len(positional) != 1 || positional[0] != "/collections/self" {
		t.Errorf("expected the recipe root as the sole positional argument, got %v", positional)
	}

	if err := bootstrapCmd.Args(bootstrapCmd, nil); err == nil {
		t.Error("bootstrap command must require the collection root argument")
	}
}

func TestCurrentComponentsTrackInternalPackages(t *testing.T) {
	entries, err := os.ReadDir(filepath.Join("..", "..", "internal"))
	if err != nil {
		t.Fatalf("reading internal/: %v", err)
	}
	var dirs []string
	for _, e := range entries {
		if e.IsDir() {
			dirs = append(dirs, e.Name())
		}
	}
	sort.Strings(dirs)

	have := append([]string(nil), currentComponents...)
	sort.Strings(have)

	if len(have) != len(dirs) {
		t.Fatalf("currentComponents is out of date: have %v, internal/ holds %v", have, dirs)
	}
	for i := range dirs {
		if have[i] != dirs[i] {
			t.Fatalf("currentComponents is out of date: have %v, internal/ holds %v", have, dirs)
		}
	}
}
