package gates

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/alloybuild/alloy/internal/oracle"
)

// Materialize writes an artifact set into a fresh temp directory so
// external tools can operate on real files. The returned cleanup removes
// the directory.
func Materialize(set *oracle.ArtifactSet) (string, func(), error) {
	dir, err := os.MkdirTemp("", "alloy-workspace-")
	if err != nil {
		return "", nil, fmt.Errorf("creating workspace: %w", err)
	}
	cleanup := func() { os.RemoveAll(dir) }

	for path, content := range set.Files {
		if filepath.IsAbs(path) || strings.Contains(path, "..") {
			cleanup()
			return "", nil, fmt.Errorf("artifact path %q escapes the workspace", path)
		}
		full := filepath.Join(dir, filepath.FromSlash(path))
		if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
			cleanup()
			return "", nil, fmt.Errorf("creating workspace subdirectory for %s: %w", path, err)
		}
		if err := os.WriteFile(full, []byte(content), 0644); err != nil {
			cleanup()
			return "", nil, fmt.Errorf("writing %s: %w", path, err)
		}
	}
	return dir, cleanup, nil
}

// Collect reads a workspace directory back into a new artifact set,
// capturing any in-place normalization the tools applied.
func Collect(dir string) (*oracle.ArtifactSet, error) {
	files := make(map[string]string)
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading %s: %w", rel, err)
		}
		files[filepath.ToSlash(rel)] = string(data)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return oracle.NewArtifactSet(files), nil
}
