package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	xerrors "HCS-AuditAgent/internal/errors"
)

// fileState 是检查点文件的磁盘布局。
type fileState struct {
	LastProcessedTimestamp string `json:"lastProcessedTimestamp"`
}

// FileStore 把游标持久化为单个 JSON 文件，时间取 ISO-8601 格式。
// 写入经由临时文件加改名，崩溃不会留下半写状态。
type FileStore struct {
	mu      sync.Mutex
	path    string
	current time.Time
	loaded  bool
}

// NewFileStore 创建文件检查点存储。
func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "检查点文件路径不能为空")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "创建检查点目录失败")
	}
	return &FileStore{path: path}, nil
}

// Load 读取游标。文件不存在视为从未处理过任何消息。
func (s *FileStore) Load(ctx context.Context) (time.Time, error) {
	if err := ctx.Err(); err != nil {
		return time.Time{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loaded {
		return s.current, nil
	}
	content, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			s.loaded = true
			return time.Time{}, nil
		}
		return time.Time{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取检查点文件失败")
	}
	var state fileState
	if err := json.Unmarshal(content, &state); err != nil {
		return time.Time{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析检查点文件失败")
	}
	ts, err := time.Parse(time.RFC3339Nano, state.LastProcessedTimestamp)
	if err != nil {
		return time.Time{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析检查点时间失败")
	}
	s.current = ts
	s.loaded = true
	return ts, nil
}

// Advance 把游标推进到 ts。非严格递增的时间被忽略。
func (s *FileStore) Advance(ctx context.Context, ts time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !ts.After(s.current) {
		return nil
	}
	encoded, err := json.Marshal(fileState{
		LastProcessedTimestamp: ts.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "序列化检查点失败")
	}
	tmp := fmt.Sprintf("%s.tmp", s.path)
	if err := os.WriteFile(tmp, encoded, 0o644); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入检查点临时文件失败")
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "替换检查点文件失败")
	}
	s.current = ts
	s.loaded = true
	return nil
}

// Close 实现 Store 接口。
func (s *FileStore) Close() error {
	return nil
}

var _ Store = (*FileStore)(nil)
