package hcs

import (
	"context"
	"time"
)

// MaxFrameBytes 是单条共识消息允许携带的最大字节数。
// 超过该限制的负载必须先经过 ChunkStore 分片。
const MaxFrameBytes = 1024

// Envelope 描述一条从共识主题上收到的消息。
// SequenceNumber 在单个主题内单调递增，ConsensusTimestamp 全序。
type Envelope struct {
	SequenceNumber     uint64
	ConsensusTimestamp time.Time
	Payload            []byte
}

// Handler 处理订阅到的单条消息。返回错误不会中断订阅，
// 仅由驱动记录日志后继续消费。
type Handler func(ctx context.Context, env Envelope) error

// Client 定义了共识消息传输层的统一接口。
type Client interface {
	// CreateTopic 创建一个新的共识主题并返回主题 ID。
	CreateTopic(ctx context.Context, memo string) (string, error)
	// SubmitMessage 向主题追加一条消息，返回共识序号。
	// 负载超过 MaxFrameBytes 时返回 PAYLOAD_TOO_LARGE。
	SubmitMessage(ctx context.Context, topicID string, payload []byte) (uint64, error)
	// Subscribe 从指定时间点开始订阅主题，按 (共识时间, 序号) 升序
	// 至少一次投递。建立订阅失败直接返回错误；订阅建立后的
	// 单条消息处理失败不会中断订阅。
	Subscribe(ctx context.Context, topicID string, from time.Time, handler Handler) error
	// ReadMessages 按追加顺序一次性读出主题当前的全部消息。
	ReadMessages(ctx context.Context, topicID string) ([]Envelope, error)
	// Close 释放底层连接。
	Close() error
}
