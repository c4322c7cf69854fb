package sandbox

import (
	"os"
	"path/filepath"
	"testing"

	"HCS-AuditAgent/internal/contract"
)

func TestWorkspaceWriteAndCleanup(t *testing.T) {
	t.Parallel()

	ws, err := NewWorkspace(t.TempDir())
	if err != nil {
		t.Fatalf("new workspace: %v", err)
	}

	files := []contract.SourceFile{
		{Path: "contracts/Token.sol", Content: "contract Token {}"},
		{Path: "interfaces/IToken.sol", Content: "interface IToken {}"},
	}
	if err := ws.WriteFiles(files); err != nil {
		t.Fatalf("write files: %v", err)
	}

	content, err := os.ReadFile(filepath.Join(ws.Dir(), "contracts", "Token.sol"))
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if string(content) != "contract Token {}" {
		t.Fatalf("unexpected content: %s", content)
	}

	dir := ws.Dir()
	ws.Cleanup()
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Fatalf("cleanup did not remove the directory")
	}
	// 幂等。
	ws.Cleanup()
}

func TestWorkspaceRejectsEscapingPaths(t *testing.T) {
	t.Parallel()

	ws, err := NewWorkspace(t.TempDir())
	if err != nil {
		t.Fatalf("new workspace: %v", err)
	}
	defer ws.Cleanup()

	for _, path := range []string{"../escape.sol", "/etc/passwd", "a/../../escape.sol"} {
		if err := ws.WriteFile(path, "x"); err == nil {
			t.Fatalf("expected path %q to be rejected", path)
		}
	}
}

func TestWorkspacesAreUnique(t *testing.T) {
	t.Parallel()

	base := t.TempDir()
	a, err := NewWorkspace(base)
	if err != nil {
		t.Fatalf("new workspace a: %v", err)
	}
	defer a.Cleanup()
	b, err := NewWorkspace(base)
	if err != nil {
		t.Fatalf("new workspace b: %v", err)
	}
	defer b.Cleanup()

	if a.Dir() == b.Dir() {
		t.Fatalf("workspaces must not collide: %s", a.Dir())
	}
}
