package knowledge

import (
	"os"
	"path/filepath"
	"testing"
)

func TestStaticProviderKeywordMatch(t *testing.T) {
	t.Parallel()

	provider := NewStaticProvider([]Snippet{
		{Title: "Reentrancy", Content: "external call before state update", Keywords: []string{"reentrancy", "withdraw"}},
		{Title: "Oracle manipulation", Content: "spot price as oracle", Keywords: []string{"oracle", "price"}},
		{Title: "General checklist", Content: "access control, overflow"},
	}, 5)

	results := provider.Query("please check the withdraw function for reentrancy")
	if len(results) != 2 {
		t.Fatalf("unexpected result count: %d", len(results))
	}
	if results[0].Title != "Reentrancy" {
		t.Fatalf("keyword match missing: %+v", results)
	}
	// 无关键词的条目视为通用知识，始终命中。
	if results[1].Title != "General checklist" {
		t.Fatalf("general snippet must always match: %+v", results)
	}
}

func TestStaticProviderMaxResults(t *testing.T) {
	t.Parallel()

	provider := NewStaticProvider([]Snippet{
		{Title: "a"}, {Title: "b"}, {Title: "c"},
	}, 2)
	if got := len(provider.Query("anything")); got != 2 {
		t.Fatalf("max results not enforced: %d", got)
	}
}

func TestLoadStaticProvider(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "knowledge.json")
	content := `[{"title":"Reentrancy","content":"x","keywords":["reentrancy"]}]`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write knowledge file: %v", err)
	}

	provider, err := LoadStaticProvider(path, 3)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if got := provider.Query("reentrancy risk"); len(got) != 1 || got[0].Title != "Reentrancy" {
		t.Fatalf("unexpected query result: %+v", got)
	}
}

func TestLoadStaticProviderErrors(t *testing.T) {
	t.Parallel()

	if _, err := LoadStaticProvider("", 3); err == nil {
		t.Fatalf("expected error for empty path")
	}
	if _, err := LoadStaticProvider(filepath.Join(t.TempDir(), "missing.json"), 3); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
