package sandbox

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"HCS-AuditAgent/internal/contract"
)

// Workspace 是一次沙箱调用独占的临时目录。调用结束后必须无条件
// 调用 Cleanup，包括所有错误路径。
type Workspace struct {
	dir string
}

// NewWorkspace 在 baseDir 下创建一个随机命名的工作目录。
func NewWorkspace(baseDir string) (*Workspace, error) {
	if baseDir == "" {
		baseDir = os.TempDir()
	}
	dir := filepath.Join(baseDir, "audit-"+uuid.NewString())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("创建沙箱工作目录失败: %w", err)
	}
	return &Workspace{dir: dir}, nil
}

// Dir 返回工作目录绝对路径。
func (w *Workspace) Dir() string {
	return w.dir
}

// WriteFiles 把文件集写入工作目录，拒绝逃逸出目录的路径。
func (w *Workspace) WriteFiles(files []contract.SourceFile) error {
	for _, f := range files {
		if err := w.WriteFile(f.Path, f.Content); err != nil {
			return err
		}
	}
	return nil
}

// WriteFile 写入单个文件。
func (w *Workspace) WriteFile(path, content string) error {
	cleaned := filepath.Clean(path)
	if filepath.IsAbs(cleaned) || strings.HasPrefix(cleaned, "..") {
		return fmt.Errorf("非法的沙箱文件路径: %q", path)
	}
	full := filepath.Join(w.dir, cleaned)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("创建沙箱子目录失败: %w", err)
	}
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		return fmt.Errorf("写入沙箱文件失败: %w", err)
	}
	return nil
}

// Cleanup 删除整个工作目录。幂等，可在 defer 中安全调用。
func (w *Workspace) Cleanup() {
	if w == nil || w.dir == "" {
		return
	}
	_ = os.RemoveAll(w.dir)
	w.dir = ""
}
