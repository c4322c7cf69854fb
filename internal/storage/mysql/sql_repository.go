package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

// Config 描述 MySQL 连接参数。
type Config struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// SQLAuditRepository 基于 MySQL 的审计仓库实现。
type SQLAuditRepository struct {
	db *sql.DB
}

// NewSQLAuditRepository 建立连接并确保表结构存在。
func NewSQLAuditRepository(ctx context.Context, cfg Config) (*SQLAuditRepository, error) {
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return nil, err
	}
	repo := &SQLAuditRepository{db: db}
	if err := repo.ensureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return repo, nil
}

func openDatabase(ctx context.Context, cfg Config) (*sql.DB, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("MySQL DSN 不能为空")
	}

	db, err := sql.Open("mysql", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("连接 MySQL 失败: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	} else {
		db.SetMaxOpenConns(20)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	} else {
		db.SetMaxIdleConns(10)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	} else {
		db.SetConnMaxLifetime(30 * time.Minute)
	}
	if cfg.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("无法连接到 MySQL: %w", err)
	}
	return db, nil
}

func (r *SQLAuditRepository) ensureSchema(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS audit_records (
        id BIGINT AUTO_INCREMENT PRIMARY KEY,
        session_id VARCHAR(64) NOT NULL,
        contract_id VARCHAR(32) NOT NULL,
        requester_id VARCHAR(32) NOT NULL,
        private_topic VARCHAR(32) NOT NULL,
        status VARCHAR(16) NOT NULL,
        score DOUBLE NOT NULL,
        summary TEXT NOT NULL,
        tools_used TEXT NOT NULL,
        reference VARCHAR(128) NOT NULL,
        created_at BIGINT NOT NULL,
        INDEX idx_audit_contract (contract_id),
        INDEX idx_audit_created (created_at)
)`)
	if err != nil {
		return fmt.Errorf("创建 audit_records 表失败: %w", err)
	}
	return nil
}

// Save 插入一条审计记录。
func (r *SQLAuditRepository) Save(ctx context.Context, record AuditRecord) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO audit_records
        (session_id, contract_id, requester_id, private_topic, status, score, summary, tools_used, reference, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.SessionID,
		record.ContractID,
		record.RequesterID,
		record.PrivateTopic,
		record.Status,
		record.Score,
		record.Summary,
		strings.Join(record.ToolsUsed, ","),
		record.Reference,
		record.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("插入审计记录失败: %w", err)
	}
	return nil
}

// ListLatest 按时间倒序返回最近的审计记录。
func (r *SQLAuditRepository) ListLatest(ctx context.Context, limit int) ([]AuditRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.db.QueryContext(ctx, `SELECT
        session_id, contract_id, requester_id, private_topic, status, score, summary, tools_used, reference, created_at
        FROM audit_records ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("查询审计记录失败: %w", err)
	}
	defer rows.Close()

	var records []AuditRecord
	for rows.Next() {
		var record AuditRecord
		var tools string
		if err := rows.Scan(
			&record.SessionID,
			&record.ContractID,
			&record.RequesterID,
			&record.PrivateTopic,
			&record.Status,
			&record.Score,
			&record.Summary,
			&tools,
			&record.Reference,
			&record.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("扫描审计记录失败: %w", err)
		}
		if tools != "" {
			record.ToolsUsed = strings.Split(tools, ",")
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("遍历审计记录失败: %w", err)
	}
	return records, nil
}

// Close 关闭数据库连接。
func (r *SQLAuditRepository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

var _ AuditRepository = (*SQLAuditRepository)(nil)
