package cache

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/alloybuild/alloy/internal/graph"
	"github.com/alloybuild/alloy/internal/recipe"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "alloy.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func cachedRecipe(name, checksum string, deps ...string) *recipe.Recipe {
	return &recipe.Recipe{
		Name:            name,
		ContentChecksum: checksum,
		Metadata: &recipe.Metadata{
			Name:         name,
			Version:      "1.0.0",
			Type:         recipe.TypeLibrary,
			Dependencies: deps,
		},
	}
}

func buildManager(t *testing.T, store *Store, recipes ...*recipe.Recipe) *Manager {
	t.Helper()
	set := make(map[string]*recipe.Recipe, len(recipes))
	for _, r := range recipes {
		set[r.Name] = r
	}
	g, err := graph.Build(set)
	if err != nil {
		t.Fatalf("graph build failed: %v", err)
	}
	return NewManager(store, g, set)
}

func TestStore_RecordAndGet(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if rec, err := store.Get(ctx, "missing"); err != nil || rec != nil {
		t.Fatalf("expected nil record for unknown recipe, got %v, %v", rec, err)
	}

	r := cachedRecipe("parser", "abc123")
	if err := store.Record(ctx, r, OutcomeSuccess); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	rec, err := store.Get(ctx, "parser")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if rec.Checksum != "abc123" || rec.Outcome != OutcomeSuccess || !rec.Changed {
		t.Errorf("unexpected record: %+v", rec)
	}
	if rec.BuiltAt.IsZero() {
		t.Error("expected built_at to be set")
	}

	// Overwrite on a subsequent attempt
	if err := store.Record(ctx, r, OutcomeFailure); err != nil {
		t.Fatalf("second Record failed: %v", err)
	}
	rec, _ = store.Get(ctx, "parser")
	if rec.Outcome != OutcomeFailure {
		t.Errorf("expected overwritten outcome, got %s", rec.Outcome)
	}
}

func TestStore_SurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "alloy.db")
	ctx := context.Background()

	store, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := store.Record(ctx, cachedRecipe("parser", "abc"), OutcomeSuccess); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	store.Close()

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close()

	rec, err := reopened.Get(ctx, "parser")
	if err != nil || rec == nil {
		t.Fatalf("expected persisted record after reopen, got %v, %v", rec, err)
	}
}

func TestNeedsRebuild_Basics(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	r := cachedRecipe("parser", "sum1")

	m := buildManager(t, store, r)

	// No prior record
	rebuild, reason, err := m.NeedsRebuild(ctx, r, false)
	if err != nil {
		t.Fatalf("NeedsRebuild failed: %v", err)
	}
	if !rebuild || reason != "no prior build record" {
		t.Errorf("expected rebuild with no record, got %v (%s)", rebuild, reason)
	}

	// Successful record with matching checksum: skip
	if err := store.Record(ctx, r, OutcomeSuccess); err != nil {
		t.Fatal(err)
	}
	m = buildManager(t, store, r)
	rebuild, _, _ = m.NeedsRebuild(ctx, r, false)
	if rebuild {
		t.Error("expected skip for unchanged successful build")
	}

	// Forced
	m = buildManager(t, store, r)
	rebuild, reason, _ = m.NeedsRebuild(ctx, r, true)
	if !rebuild || reason != "forced" {
		t.Errorf("expected forced rebuild, got %v (%s)", rebuild, reason)
	}

	// Checksum drift
	drifted := cachedRecipe("parser", "sum2")
	m = buildManager(t, store, drifted)
	rebuild, reason, _ = m.NeedsRebuild(ctx, drifted, false)
	if !rebuild || reason != "content changed" {
		t.Errorf("expected rebuild on checksum drift, got %v (%s)", rebuild, reason)
	}

	// Prior failure
	if err := store.Record(ctx, r, OutcomeFailure); err != nil {
		t.Fatal(err)
	}
	m = buildManager(t, store, r)
	rebuild, reason, _ = m.NeedsRebuild(ctx, r, false)
	if !rebuild || reason != "previous build failed" {
		t.Errorf("expected rebuild after failure, got %v (%s)", rebuild, reason)
	}
}

func TestNeedsRebuild_TransitiveInvalidation(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	a := cachedRecipe("a", "sumA")
	b := cachedRecipe("b", "sumB", "a")
	c := cachedRecipe("c", "sumC", "b")

	// Build everything once, in dependency order
	for _, r := range []*recipe.Recipe{a, b, c} {
		if err := store.Record(ctx, r, OutcomeSuccess); err != nil {
			t.Fatal(err)
		}
	}

	// Fully built and unchanged: nothing to do. The changed flags set by
	// the initial records are older than every dependent's build.
	m := buildManager(t, store, a, b, c)
	for _, r := range []*recipe.Recipe{a, b, c} {
		if rebuild, reason, _ := m.NeedsRebuild(ctx, r, false); rebuild {
			t.Errorf("expected %s up to date, got rebuild (%s)", r.Name, reason)
		}
	}

	// One byte of a's requirements changes: a, b, and c all flip to true
	aChanged := cachedRecipe("a", "sumA-changed")
	m = buildManager(t, store, aChanged, b, c)
	for _, r := range []*recipe.Recipe{aChanged, b, c} {
		rebuild, reason, err := m.NeedsRebuild(ctx, r, false)
		if err != nil {
			t.Fatalf("NeedsRebuild(%s) failed: %v", r.Name, err)
		}
		if !rebuild {
			t.Errorf("expected %s to need rebuild after a changed (reason was %q)", r.Name, reason)
		}
	}

	// Rebuilding in dependency order settles the set again
	for _, r := range []*recipe.Recipe{aChanged, b, c} {
		if err := store.Record(ctx, r, OutcomeSuccess); err != nil {
			t.Fatal(err)
		}
	}
	m = buildManager(t, store, aChanged, b, c)
	for _, r := range []*recipe.Recipe{aChanged, b, c} {
		if rebuild, reason, _ := m.NeedsRebuild(ctx, r, false); rebuild {
			t.Errorf("expected %s settled after rebuild, got rebuild (%s)", r.Name, reason)
		}
	}
}

func TestNeedsRebuild_DependencyRebuiltLater(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	a := cachedRecipe("a", "sumA")
	b := cachedRecipe("b", "sumB", "a")

	if err := store.Record(ctx, a, OutcomeSuccess); err != nil {
		t.Fatal(err)
	}
	if err := store.Record(ctx, b, OutcomeSuccess); err != nil {
		t.Fatal(err)
	}

	// a is rebuilt again (e.g. forced) after b's last build
	if err := store.Record(ctx, a, OutcomeSuccess); err != nil {
		t.Fatal(err)
	}

	m := buildManager(t, store, a, b)
	rebuild, reason, err := m.NeedsRebuild(ctx, b, false)
	if err != nil {
		t.Fatal(err)
	}
	if !rebuild {
		t.Errorf("expected b invalidated by a's later rebuild, got skip (%s)", reason)
	}
}

func TestStore_ConcurrentRecords(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	// Multiple recipes finishing simultaneously each write their own key
	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			r := cachedRecipe(string(rune('a'+n)), "sum")
			if err := store.Record(ctx, r, OutcomeSuccess); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("concurrent record failed: %v", err)
	}

	records, err := store.All(ctx)
	if err != nil {
		t.Fatalf("All failed: %v", err)
	}
	if len(records) != 10 {
		t.Errorf("expected 10 records, got %d", len(records))
	}
}
