package orchestrator

import (
	"context"
	"strings"
	"testing"

	"github.com/alloybuild/alloy/internal/oracle"
)

func TestExecRelauncher_RequiresRecipeRoot(t *testing.T) {
	e := &ExecRelauncher{}
	set := oracle.NewArtifactSet(map[string]string{"main.go": "package main\n"})

	err := e.Relaunch(context.Background(), set)
	if err == nil {
		t.Fatal("expected an error when no recipe root is configured")
	}
	if !strings.Contains(err.Error(), "recipe root") {
		t.Errorf("expected the missing recipe root named, got %v", err)
	}
}

func TestExecRelauncher_BootstrapArgsCarryRecipeRoot(t *testing.T) {
	e := &ExecRelauncher{RecipeRoot: "/collections/self"}

	args := e.BootstrapArgs()
	if len(args) != 3 || args[0] != "bootstrap" || args[1] != "--no-relaunch" {
		t.Fatalf("unexpected bootstrap invocation: %v", args)
	}
	if args[2] != "/collections/self" {
		t.Errorf("expected the recipe root as the positional argument, got %q", args[2])
	}
}
