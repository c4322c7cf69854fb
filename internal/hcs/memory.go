package hcs

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	xerrors "HCS-AuditAgent/internal/errors"
	"HCS-AuditAgent/pkg/logger"
)

// MemoryClient 在进程内存中模拟共识服务，主要用于测试与本地开发。
// 主题是带锁的追加切片，订阅者通过条件变量感知新消息。
type MemoryClient struct {
	mu      sync.Mutex
	cond    *sync.Cond
	topics  map[string][]Envelope
	memos   map[string]string
	nextNum uint64
	clock   func() time.Time
	closed  bool
}

// NewMemoryClient 创建内存传输实例。
func NewMemoryClient() *MemoryClient {
	c := &MemoryClient{
		topics:  make(map[string][]Envelope),
		memos:   make(map[string]string),
		nextNum: 1000,
		clock:   time.Now,
	}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// CreateTopic 分配一个新的主题 ID。
func (c *MemoryClient) CreateTopic(ctx context.Context, memo string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return "", xerrors.New(xerrors.CodeTransport, "memory transport closed")
	}
	c.nextNum++
	topicID := fmt.Sprintf("0.0.%d", c.nextNum)
	c.topics[topicID] = nil
	c.memos[topicID] = memo
	return topicID, nil
}

// SubmitMessage 向主题追加消息并返回序号。
func (c *MemoryClient) SubmitMessage(ctx context.Context, topicID string, payload []byte) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if len(payload) > MaxFrameBytes {
		return 0, xerrors.New(xerrors.CodePayloadTooLarge,
			fmt.Sprintf("payload %d bytes exceeds frame limit %d", len(payload), MaxFrameBytes))
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, xerrors.New(xerrors.CodeTransport, "memory transport closed")
	}
	msgs, ok := c.topics[topicID]
	if !ok {
		return 0, xerrors.New(xerrors.CodeNotFound, fmt.Sprintf("topic %s does not exist", topicID))
	}
	seq := uint64(len(msgs)) + 1
	ts := c.clock()
	// 保证共识时间戳在主题内严格递增。
	if len(msgs) > 0 && !ts.After(msgs[len(msgs)-1].ConsensusTimestamp) {
		ts = msgs[len(msgs)-1].ConsensusTimestamp.Add(time.Nanosecond)
	}
	env := Envelope{SequenceNumber: seq, ConsensusTimestamp: ts, Payload: append([]byte(nil), payload...)}
	c.topics[topicID] = append(msgs, env)
	c.cond.Broadcast()
	return seq, nil
}

// Subscribe 从 from 时间点开始顺序投递主题消息，直到上下文取消。
func (c *MemoryClient) Subscribe(ctx context.Context, topicID string, from time.Time, handler Handler) error {
	c.mu.Lock()
	if _, ok := c.topics[topicID]; !ok {
		c.mu.Unlock()
		return xerrors.New(xerrors.CodeNotFound, fmt.Sprintf("topic %s does not exist", topicID))
	}
	c.mu.Unlock()

	// 上下文取消时唤醒等待中的订阅协程。
	go func() {
		<-ctx.Done()
		c.cond.Broadcast()
	}()

	delivered := 0
	for {
		c.mu.Lock()
		for {
			if ctx.Err() != nil || c.closed {
				c.mu.Unlock()
				return ctx.Err()
			}
			if delivered < len(c.topics[topicID]) {
				break
			}
			c.cond.Wait()
		}
		pending := append([]Envelope(nil), c.topics[topicID][delivered:]...)
		delivered += len(pending)
		c.mu.Unlock()

		for _, env := range pending {
			if env.ConsensusTimestamp.Before(from) {
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

// ReadMessages 按追加顺序一次性读出主题当前的全部消息。
func (c *MemoryClient) ReadMessages(ctx context.Context, topicID string) ([]Envelope, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	msgs, ok := c.topics[topicID]
	if !ok {
		return nil, xerrors.New(xerrors.CodeNotFound, fmt.Sprintf("topic %s does not exist", topicID))
	}
	return append([]Envelope(nil), msgs...), nil
}

// Messages 返回主题上已有的全部消息，供测试断言传输副作用。
func (c *MemoryClient) Messages(topicID string) []Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Envelope(nil), c.topics[topicID]...)
}

// TopicMemo 返回建题备注。
func (c *MemoryClient) TopicMemo(topicID string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.memos[topicID]
}

// TopicCount 返回已创建的主题数量。
func (c *MemoryClient) TopicCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.topics)
}

// Close 关闭内存传输。
func (c *MemoryClient) Close() error {
	c.mu.Lock()
	c.closed = true
	c.cond.Broadcast()
	c.mu.Unlock()
	return nil
}

var _ Client = (*MemoryClient)(nil)
