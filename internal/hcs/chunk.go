package hcs

import (
	"context"
	"fmt"
	"strings"

	xerrors "HCS-AuditAgent/internal/errors"
)

const (
	// ReferenceScheme 是分片对象引用的 URI scheme。
	ReferenceScheme = "hcs"
	// ReferenceVersion 1 表示"按追加顺序拼接各帧"的原始字节布局。
	ReferenceVersion = "1"
)

// FormatReference 将主题 ID 编码为分片对象引用，形如 hcs://1/0.0.123。
func FormatReference(topicID string) string {
	return fmt.Sprintf("%s://%s/%s", ReferenceScheme, ReferenceVersion, topicID)
}

// ParseReference 解析分片对象引用，返回其中的主题 ID。
func ParseReference(ref string) (string, error) {
	prefix := ReferenceScheme + "://"
	if !strings.HasPrefix(ref, prefix) {
		return "", xerrors.New(xerrors.CodeParse, fmt.Sprintf("引用 %q 缺少 %s scheme", ref, ReferenceScheme))
	}
	rest := strings.TrimPrefix(ref, prefix)
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) != 2 || parts[1] == "" {
		return "", xerrors.New(xerrors.CodeParse, fmt.Sprintf("引用 %q 缺少主题 ID", ref))
	}
	if parts[0] != ReferenceVersion {
		return "", xerrors.New(xerrors.CodeParse, fmt.Sprintf("不支持的引用版本 %q", parts[0]))
	}
	return parts[1], nil
}

// ChunkStore 将任意长度的负载分片写入专用主题，并产出稳定引用。
// Resolve 是 Store 的逆操作。
type ChunkStore struct {
	client Client
	memo   string
}

// NewChunkStore 创建分片存储。memo 会写入每个承载主题的建题备注。
func NewChunkStore(client Client, memo string) *ChunkStore {
	if memo == "" {
		memo = "chunked-object"
	}
	return &ChunkStore{client: client, memo: memo}
}

// Store 创建专用主题并按序写入所有帧，返回 hcs://1/<topicId> 引用。
// 空负载直接返回空主题的引用。任一帧写入失败立即中止，不返回部分引用。
func (s *ChunkStore) Store(ctx context.Context, data []byte) (string, error) {
	if s == nil || s.client == nil {
		return "", xerrors.New(xerrors.CodeInitializationFailure, "chunk store 未配置传输客户端")
	}
	topicID, err := s.client.CreateTopic(ctx, s.memo)
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeTransport, err, "创建分片主题失败")
	}
	for offset := 0; offset < len(data); offset += MaxFrameBytes {
		end := offset + MaxFrameBytes
		if end > len(data) {
			end = len(data)
		}
		if _, err := s.client.SubmitMessage(ctx, topicID, data[offset:end]); err != nil {
			return "", xerrors.Wrap(xerrors.CodeTransport, err,
				fmt.Sprintf("写入第 %d 帧失败", offset/MaxFrameBytes+1))
		}
	}
	return FormatReference(topicID), nil
}

// Resolve 按追加顺序读取引用主题的全部帧并拼接。
// 空主题解析为空字节。
func (s *ChunkStore) Resolve(ctx context.Context, ref string) ([]byte, error) {
	if s == nil || s.client == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "chunk store 未配置传输客户端")
	}
	topicID, err := ParseReference(ref)
	if err != nil {
		return nil, err
	}
	// 帧必须按追加顺序（序号）重组，而不是本地时钟顺序。
	frames, err := s.client.ReadMessages(ctx, topicID)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeTransport, err, "读取分片主题失败")
	}
	out := make([]byte, 0, len(frames)*MaxFrameBytes)
	for _, frame := range frames {
		out = append(out, frame.Payload...)
	}
	return out, nil
}
