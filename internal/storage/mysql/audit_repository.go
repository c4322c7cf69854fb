package mysql

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// AuditRecord 是一次完整审计会话的落库结构。
type AuditRecord struct {
	SessionID    string   `json:"session_id"`
	ContractID   string   `json:"contract_id"`
	RequesterID  string   `json:"requester_id"`
	PrivateTopic string   `json:"private_topic"`
	Status       string   `json:"status"`
	Score        float64  `json:"score"`
	Summary      string   `json:"summary"`
	ToolsUsed    []string `json:"tools_used"`
	Reference    string   `json:"reference"`
	CreatedAt    int64    `json:"created_at"`
}

// AuditRepository 抽象审计记录的持久化接口。
type AuditRepository interface {
	Save(ctx context.Context, record AuditRecord) error
	ListLatest(ctx context.Context, limit int) ([]AuditRecord, error)
}

// ErrUnsupportedDriver 表示配置了未知的存储驱动。
var ErrUnsupportedDriver = errors.New("暂不支持的存储驱动")

// MemoryAuditRepository 使用本地 JSON 行文件模拟 MySQL 的效果，
// 方便本地开发与测试。
type MemoryAuditRepository struct {
	mu       sync.RWMutex
	dataFile string
	records  []AuditRecord
}

// NewMemoryAuditRepository 创建一个内存审计仓库。
func NewMemoryAuditRepository(dataDir string) (*MemoryAuditRepository, error) {
	if dataDir == "" {
		dataDir = "."
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("创建数据目录失败: %w", err)
	}
	path := filepath.Join(dataDir, "audits.log")
	repo := &MemoryAuditRepository{dataFile: path}
	if err := repo.loadFromDisk(); err != nil {
		return nil, err
	}
	return repo, nil
}

// Save 以追加写的方式记录审计结果。
func (m *MemoryAuditRepository) Save(_ context.Context, record AuditRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	file, err := os.OpenFile(m.dataFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("打开审计日志失败: %w", err)
	}
	defer file.Close()

	encoded, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("序列化审计记录失败: %w", err)
	}

	if _, err := file.Write(append(encoded, '\n')); err != nil {
		return fmt.Errorf("写入审计日志失败: %w", err)
	}

	m.records = append([]AuditRecord{record}, m.records...)
	if len(m.records) > 512 {
		m.records = m.records[:512]
	}
	return nil
}

// ListLatest 返回最近的审计记录，按时间倒序排列。
func (m *MemoryAuditRepository) ListLatest(_ context.Context, limit int) ([]AuditRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 || limit > len(m.records) {
		limit = len(m.records)
	}

	results := make([]AuditRecord, limit)
	copy(results, m.records[:limit])
	return results, nil
}

func (m *MemoryAuditRepository) loadFromDisk() error {
	file, err := os.OpenFile(m.dataFile, os.O_RDONLY|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("读取审计日志失败: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	var restored []AuditRecord
	for scanner.Scan() {
		var record AuditRecord
		if err := json.Unmarshal(scanner.Bytes(), &record); err != nil {
			continue
		}
		restored = append([]AuditRecord{record}, restored...)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("解析审计日志失败: %w", err)
	}
	m.records = restored
	return nil
}

var _ AuditRepository = (*MemoryAuditRepository)(nil)
