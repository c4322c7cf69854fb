package checkpoint

import (
	"context"
	"time"
)

// Store 是恢复游标的持久化接口：记录最后一条完整处理过的消息的
// 共识时间。Advance 必须串行化并保持单调，时间不晚于当前游标的
// 调用被静默忽略，游标永不回退。
type Store interface {
	// Load 读取游标。从未写入过时返回零值时间。
	Load(ctx context.Context) (time.Time, error)
	// Advance 尝试把游标推进到 ts。
	Advance(ctx context.Context, ts time.Time) error
	Close() error
}
