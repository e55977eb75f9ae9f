package orchestrator

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/alloybuild/alloy/internal/gates"
	"github.com/alloybuild/alloy/internal/oracle"
)

// ExecRelauncher is the default Relauncher: it materializes the
// generated orchestrator, compiles it, and runs its bootstrap command
// against the original recipe collection so the second generation
// proves it can produce a third.
type ExecRelauncher struct {
	// RecipeRoot is the collection root holding the self-hosting recipe.
	// The generated workspace contains only source, so the relaunched
	// bootstrap must be pointed back at the recipes it builds from.
	RecipeRoot string

	Timeout time.Duration // whole-relaunch deadline (default: 10m)
}

var _ Relauncher = (*ExecRelauncher)(nil)

// BootstrapArgs is the argument vector the relaunched binary is invoked
// with. Relaunch is suppressed in the child so the recursion terminates
// after the third generation.
func (e *ExecRelauncher) BootstrapArgs() []string {
	return []string{"bootstrap", "--no-relaunch", e.RecipeRoot}
}

// Relaunch builds and runs the generated orchestrator's bootstrap.
func (e *ExecRelauncher) Relaunch(ctx context.Context, artifacts *oracle.ArtifactSet) error {
	if e.RecipeRoot == "" {
		return fmt.Errorf("relauncher has no recipe root; the generated orchestrator needs a collection to bootstrap from")
	}

	timeout := e.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	dir, cleanup, err := gates.Materialize(artifacts)
	if err != nil {
		return fmt.Errorf("materializing generated orchestrator: %w", err)
	}
	defer cleanup()

	binary := filepath.Join(dir, "alloy-next")
	build := exec.CommandContext(runCtx, "go", "build", "-o", binary, mainPackage(dir))
	build.Dir = dir
	if output, err := build.CombinedOutput(); err != nil {
		return fmt.Errorf("compiling generated orchestrator: %w\n%s", err, output)
	}

	run := exec.CommandContext(runCtx, binary, e.BootstrapArgs()...)
	run.Dir = dir
	if output, err := run.CombinedOutput(); err != nil {
		return fmt.Errorf("generated orchestrator bootstrap failed: %w\n%s", err, output)
	}
	return nil
}

// mainPackage picks the generated tree's main package: cmd/alloy when
// present, otherwise the root.
func mainPackage(dir string) string {
	if _, err := os.Stat(filepath.Join(dir, "cmd", "alloy")); err == nil {
		return "./cmd/alloy"
	}
	return "."
}
