package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	xerrors "HCS-AuditAgent/internal/errors"
)

// RedisConfig 描述 Redis 检查点存储的连接参数。
type RedisConfig struct {
	Address  string
	Password string
	DB       int
	Key      string
}

// RedisStore 把游标以 ISO-8601 字符串存放在单个 Redis 键下。
// 单调性由进程内互斥锁保证，适用于单实例部署。
type RedisStore struct {
	mu      sync.Mutex
	client  *redis.Client
	key     string
	current time.Time
	loaded  bool
}

// NewRedisStore 创建 Redis 检查点存储。
func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	if cfg.Address == "" {
		return nil, errors.New("Redis address 不能为空")
	}
	key := cfg.Key
	if key == "" {
		key = "auditagent:checkpoint"
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("连接 Redis 失败: %w", err)
	}
	return &RedisStore{client: client, key: key}, nil
}

// Load 读取游标。键不存在视为从未处理过任何消息。
func (s *RedisStore) Load(ctx context.Context) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loaded {
		return s.current, nil
	}
	value, err := s.client.Get(ctx, s.key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			s.loaded = true
			return time.Time{}, nil
		}
		return time.Time{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取检查点失败")
	}
	ts, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析检查点时间失败")
	}
	s.current = ts
	s.loaded = true
	return ts, nil
}

// Advance 把游标推进到 ts。非严格递增的时间被忽略。
func (s *RedisStore) Advance(ctx context.Context, ts time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !ts.After(s.current) {
		return nil
	}
	value := ts.UTC().Format(time.RFC3339Nano)
	if err := s.client.Set(ctx, s.key, value, 0).Err(); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入检查点失败")
	}
	s.current = ts
	s.loaded = true
	return nil
}

// Close 关闭 Redis 连接。
func (s *RedisStore) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

var _ Store = (*RedisStore)(nil)
