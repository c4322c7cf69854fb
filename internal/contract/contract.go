package contract

import (
	"context"
	"strings"
)

// SourceFile 是一份合约源码文件。
type SourceFile struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// FileSet 是一次源码抓取的结果：全部文件加一个指定的主文件。
type FileSet struct {
	Files        []SourceFile `json:"files"`
	MainFileName string       `json:"mainFileName"`
}

// File 按路径查找文件。
func (fs *FileSet) File(path string) (SourceFile, bool) {
	if fs == nil {
		return SourceFile{}, false
	}
	for _, f := range fs.Files {
		if f.Path == path {
			return f, true
		}
	}
	return SourceFile{}, false
}

// Fetcher 定义了源码抓取协作方的统一接口。
// contractID 必须是 0.0.<digits> 形式。
type Fetcher interface {
	Fetch(ctx context.Context, contractID string) (*FileSet, error)
}

// 主文件挑选时跳过的路径段。
var auxiliarySegments = []string{"interfaces", "interface", "libraries", "lib", "test", "tests", "mocks"}

// SelectMainFile 在文件集中挑出主合约文件。总函数，优先级固定：
//  1. 第一个路径中不含 interfaces/libraries/lib/test/mocks 段的 .sol 文件；
//  2. 否则第一个 .sol 文件；
//  3. 否则第一个文件。
//
// 同优先级按文件在集合中的出现顺序决出，保证结果确定。
// 空集合返回空串。
func SelectMainFile(files []SourceFile) string {
	if len(files) == 0 {
		return ""
	}
	firstSol := ""
	for _, f := range files {
		if !strings.HasSuffix(f.Path, ".sol") {
			continue
		}
		if firstSol == "" {
			firstSol = f.Path
		}
		if !hasAuxiliarySegment(f.Path) {
			return f.Path
		}
	}
	if firstSol != "" {
		return firstSol
	}
	return files[0].Path
}

func hasAuxiliarySegment(path string) bool {
	for _, segment := range strings.Split(strings.ToLower(path), "/") {
		for _, aux := range auxiliarySegments {
			if segment == aux {
				return true
			}
		}
	}
	return false
}
