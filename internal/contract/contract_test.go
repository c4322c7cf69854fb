package contract

import (
	"testing"
)

func TestSelectMainFilePrefersNonAuxiliarySol(t *testing.T) {
	t.Parallel()

	files := []SourceFile{
		{Path: "interfaces/IToken.sol"},
		{Path: "libraries/SafeMath.sol"},
		{Path: "contracts/Token.sol"},
		{Path: "test/Token.t.sol"},
	}
	if got := SelectMainFile(files); got != "contracts/Token.sol" {
		t.Fatalf("unexpected main file: %s", got)
	}
}

func TestSelectMainFileFallsBackToFirstSol(t *testing.T) {
	t.Parallel()

	files := []SourceFile{
		{Path: "interfaces/IToken.sol"},
		{Path: "lib/Math.sol"},
	}
	if got := SelectMainFile(files); got != "interfaces/IToken.sol" {
		t.Fatalf("unexpected main file: %s", got)
	}
}

func TestSelectMainFileFallsBackToFirstFile(t *testing.T) {
	t.Parallel()

	files := []SourceFile{
		{Path: "README.md"},
		{Path: "metadata.json"},
	}
	if got := SelectMainFile(files); got != "README.md" {
		t.Fatalf("unexpected main file: %s", got)
	}
}

func TestSelectMainFileEmpty(t *testing.T) {
	t.Parallel()

	if got := SelectMainFile(nil); got != "" {
		t.Fatalf("empty set must select nothing, got %q", got)
	}
}

func TestSelectMainFileDeterministic(t *testing.T) {
	t.Parallel()

	files := []SourceFile{
		{Path: "contracts/A.sol"},
		{Path: "contracts/B.sol"},
	}
	for i := 0; i < 10; i++ {
		if got := SelectMainFile(files); got != "contracts/A.sol" {
			t.Fatalf("selection must be stable, got %s on run %d", got, i)
		}
	}
}

func TestFileSetLookup(t *testing.T) {
	t.Parallel()

	fs := &FileSet{Files: []SourceFile{{Path: "a.sol", Content: "pragma"}}}
	if f, ok := fs.File("a.sol"); !ok || f.Content != "pragma" {
		t.Fatalf("lookup failed: %+v %v", f, ok)
	}
	if _, ok := fs.File("missing.sol"); ok {
		t.Fatalf("missing file must not be found")
	}
}
