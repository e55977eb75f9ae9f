package oracle

import (
	"testing"
)

func TestParseJSON_Direct(t *testing.T) {
	got, err := parseJSON[artifactResponse](`{"files": {"main.go": "package main"}}`, "test")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if got.Files["main.go"] != "package main" {
		t.Errorf("unexpected files: %v", got.Files)
	}
}

func TestParseJSON_CodeFences(t *testing.T) {
	text := "Here is the result:\n```json\n{\"files\": {\"a.go\": \"x\"}}\n```\nDone."
	got, err := parseJSON[artifactResponse](text, "test")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if got.Files["a.go"] != "x" {
		t.Errorf("unexpected files: %v", got.Files)
	}
}

func TestParseJSON_TrailingComma(t *testing.T) {
	got, err := parseJSON[ReviewReport](`{"summary": "ok", "findings": [],}`, "test")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if got.Summary != "ok" {
		t.Errorf("unexpected summary: %q", got.Summary)
	}
}

func TestParseJSON_MixedContent(t *testing.T) {
	text := `The review found one issue. {"summary": "one critical", "findings": [{"severity": "CRITICAL", "path": "a.go", "message": "broken"}]}`
	got, err := parseJSON[ReviewReport](text, "test")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if len(got.Critical()) != 1 {
		t.Errorf("expected 1 critical finding, got %v", got.Findings)
	}
}

func TestParseJSON_Garbage(t *testing.T) {
	if _, err := parseJSON[ReviewReport]("not json at all", "test"); err == nil {
		t.Fatal("expected error for unparsable input")
	}
	if _, err := parseJSON[ReviewReport]("", "test"); err == nil {
		t.Fatal("expected error for empty input")
	}
}

func TestArtifactSet_MergeProducesNewSet(t *testing.T) {
	base := NewArtifactSet(map[string]string{"a.go": "one", "b.go": "two"})
	patch := NewArtifactSet(map[string]string{"b.go": "two-fixed", "c.go": "three"})

	merged := base.Merge(patch)

	if merged.ID == base.ID || merged.ID == patch.ID {
		t.Error("merge must produce a new artifact set identity")
	}
	if merged.Files["a.go"] != "one" || merged.Files["b.go"] != "two-fixed" || merged.Files["c.go"] != "three" {
		t.Errorf("unexpected merged files: %v", merged.Files)
	}
	if base.Files["b.go"] != "two" {
		t.Error("merge mutated the base set")
	}
}
