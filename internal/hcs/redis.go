package hcs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	xerrors "HCS-AuditAgent/internal/errors"
	"HCS-AuditAgent/pkg/logger"
)

// RedisConfig 描述 Redis Streams 传输驱动的连接参数。
type RedisConfig struct {
	Address   string
	Password  string
	DB        int
	KeyPrefix string
	BlockWait time.Duration
}

// RedisClient 使用 Redis Streams 模拟共识服务，面向自托管部署。
// 每个主题对应一条 stream，XADD 的毫秒级 ID 承担共识时间戳角色，
// 序号由主题独立的计数器产生。
type RedisClient struct {
	client *redis.Client
	prefix string
	wait   time.Duration
}

// NewRedisClient 创建 Redis Streams 传输实例。
func NewRedisClient(cfg RedisConfig) (*RedisClient, error) {
	if cfg.Address == "" {
		return nil, errors.New("Redis address 不能为空")
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "hcs"
	}
	wait := cfg.BlockWait
	if wait <= 0 {
		wait = 5 * time.Second
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("连接 Redis 失败: %w", err)
	}
	return &RedisClient{client: client, prefix: prefix, wait: wait}, nil
}

func (c *RedisClient) streamKey(topicID string) string {
	return fmt.Sprintf("%s:topic:%s", c.prefix, topicID)
}

// CreateTopic 分配主题 ID 并记录备注。
func (c *RedisClient) CreateTopic(ctx context.Context, memo string) (string, error) {
	num, err := c.client.Incr(ctx, c.prefix+":topic:counter").Result()
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeTransport, err, "分配主题 ID 失败")
	}
	topicID := fmt.Sprintf("0.0.%d", num+1000)
	if err := c.client.HSet(ctx, c.streamKey(topicID)+":meta", "memo", memo).Err(); err != nil {
		return "", xerrors.Wrap(xerrors.CodeTransport, err, "写入主题备注失败")
	}
	return topicID, nil
}

// SubmitMessage 将消息追加到主题 stream。
func (c *RedisClient) SubmitMessage(ctx context.Context, topicID string, payload []byte) (uint64, error) {
	if len(payload) > MaxFrameBytes {
		return 0, xerrors.New(xerrors.CodePayloadTooLarge,
			fmt.Sprintf("payload %d bytes exceeds frame limit %d", len(payload), MaxFrameBytes))
	}
	seq, err := c.client.Incr(ctx, c.streamKey(topicID)+":seq").Result()
	if err != nil {
		return 0, xerrors.Wrap(xerrors.CodeTransport, err, "分配消息序号失败")
	}
	err = c.client.XAdd(ctx, &redis.XAddArgs{
		Stream: c.streamKey(topicID),
		Values: map[string]any{
			"seq":     seq,
			"payload": payload,
		},
	}).Err()
	if err != nil {
		return 0, xerrors.Wrap(xerrors.CodeTransport, err, "追加消息失败")
	}
	return uint64(seq), nil
}

// Subscribe 通过 XREAD 阻塞消费主题消息。
func (c *RedisClient) Subscribe(ctx context.Context, topicID string, from time.Time, handler Handler) error {
	stream := c.streamKey(topicID)
	// stream ID 的毫秒部分即共识时间；从 from 的前一毫秒开始读取，
	// 宁可重复投递也不遗漏（至少一次语义，消费方以检查点去重）。
	lastID := fmt.Sprintf("%d-0", from.UnixMilli()-1)
	if from.IsZero() || from.UnixMilli() <= 0 {
		lastID = "0-0"
	}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		streams, err := c.client.XRead(ctx, &redis.XReadArgs{
			Streams: []string{stream, lastID},
			Block:   c.wait,
			Count:   64,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			return xerrors.Wrap(xerrors.CodeTransport, err, "读取主题 stream 失败")
		}
		for _, s := range streams {
			for _, msg := range s.Messages {
				lastID = msg.ID
				env, err := decodeStreamMessage(msg)
				if err != nil {
					logger.Named("hcs").Warn("解析 stream 消息失败，跳过",
						slog.String("topic_id", topicID),
						slog.String("stream_id", msg.ID),
						slog.Any("error", err),
					)
					continue
				}
				if err := handler(ctx, env); err != nil {
					logger.Named("hcs").Warn("消息处理失败，继续消费",
						slog.String("topic_id", topicID),
						slog.Uint64("sequence", env.SequenceNumber),
						slog.Any("error", err),
					)
				}
			}
		}
	}
}

// ReadMessages 通过 XRANGE 按追加顺序读出主题当前的全部消息。
func (c *RedisClient) ReadMessages(ctx context.Context, topicID string) ([]Envelope, error) {
	msgs, err := c.client.XRange(ctx, c.streamKey(topicID), "-", "+").Result()
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeTransport, err, "读取主题 stream 失败")
	}
	envs := make([]Envelope, 0, len(msgs))
	for _, msg := range msgs {
		env, err := decodeStreamMessage(msg)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeParse, err, "解析 stream 消息失败")
		}
		envs = append(envs, env)
	}
	return envs, nil
}

// decodeStreamMessage 将一条 XREAD 结果还原成 Envelope。
func decodeStreamMessage(msg redis.XMessage) (Envelope, error) {
	millis, err := strconv.ParseInt(strings.SplitN(msg.ID, "-", 2)[0], 10, 64)
	if err != nil {
		return Envelope{}, fmt.Errorf("非法 stream ID %q: %w", msg.ID, err)
	}
	rawSeq, ok := msg.Values["seq"]
	if !ok {
		return Envelope{}, fmt.Errorf("stream 消息缺少 seq 字段")
	}
	seq, err := strconv.ParseUint(fmt.Sprint(rawSeq), 10, 64)
	if err != nil {
		return Envelope{}, fmt.Errorf("非法 seq 字段 %v: %w", rawSeq, err)
	}
	rawPayload, ok := msg.Values["payload"]
	if !ok {
		return Envelope{}, fmt.Errorf("stream 消息缺少 payload 字段")
	}
	return Envelope{
		SequenceNumber:     seq,
		ConsensusTimestamp: time.UnixMilli(millis),
		Payload:            []byte(fmt.Sprint(rawPayload)),
	}, nil
}

// Close 关闭 Redis 连接。
func (c *RedisClient) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

var _ Client = (*RedisClient)(nil)
