package delivery

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	xerrors "HCS-AuditAgent/internal/errors"
	"HCS-AuditAgent/internal/hcs"
	"HCS-AuditAgent/internal/protocol"
	"HCS-AuditAgent/internal/session"
	"HCS-AuditAgent/pkg/logger"
)

// 审计报告的投递状态。
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// wrapper 是分片存储中报告对象的外层结构。
type wrapper struct {
	Status string               `json:"status"`
	Report *session.AuditReport `json:"report"`
}

// Delivery 负责把终局报告分片上链，并在私有主题上发布指针消息。
type Delivery struct {
	transport       hcs.Client
	chunks          *hcs.ChunkStore
	agentOperatorID string
	logger          *slog.Logger
}

// New 创建投递器。agentOperatorID 形如 <agentTopicId>@<agentAccountId>。
func New(transport hcs.Client, chunks *hcs.ChunkStore, agentOperatorID string) *Delivery {
	return &Delivery{
		transport:       transport,
		chunks:          chunks,
		agentOperatorID: agentOperatorID,
		logger:          logger.Named("delivery"),
	}
}

// DeliverSuccess 投递成功报告：包装、分片上链，再在私有主题上发布
// 引用指针。存储或发布任一失败都向上传播。
// 返回报告的分片存储引用，供审计记录落库。
func (d *Delivery) DeliverSuccess(ctx context.Context, privateTopicID, contractID string, report *session.AuditReport) (string, error) {
	return d.deliver(ctx, privateTopicID, contractID, &wrapper{Status: StatusSuccess, Report: report})
}

// DeliverFailure 为失败会话合成最小报告并走同一条投递路径。
// 私有主题未建立时只能记录日志，没有通知请求方的途径。
func (d *Delivery) DeliverFailure(ctx context.Context, privateTopicID, contractID, reason string) (string, error) {
	if privateTopicID == "" {
		d.logger.Error("会话失败且私有主题未建立，无法通知请求方",
			slog.String("contract_id", contractID),
			slog.String("reason", reason),
		)
		return "", nil
	}
	report := session.NewFailureReport(reason)
	return d.deliver(ctx, privateTopicID, contractID, &wrapper{Status: StatusError, Report: report})
}

func (d *Delivery) deliver(ctx context.Context, privateTopicID, contractID string, w *wrapper) (string, error) {
	if d.transport == nil || d.chunks == nil {
		return "", xerrors.New(xerrors.CodeInitializationFailure, "投递器未配置传输层")
	}

	encoded, err := json.Marshal(w)
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeSessionFailure, err, "序列化审计报告失败")
	}

	reference, err := d.chunks.Store(ctx, encoded)
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeTransport, err, "分片存储审计报告失败")
	}

	pointer := protocol.NewResultPointer(d.agentOperatorID, reference,
		fmt.Sprintf("Audit result for %s", contractID))
	payload, err := pointer.Encode()
	if err != nil {
		return "", err
	}
	if _, err := d.transport.SubmitMessage(ctx, privateTopicID, payload); err != nil {
		return "", xerrors.Wrap(xerrors.CodeTransport, err, "发布结果指针消息失败")
	}

	logger.Audit().Info("审计结果已投递",
		slog.String("contract_id", contractID),
		slog.String("private_topic", privateTopicID),
		slog.String("status", w.Status),
		slog.String("reference", reference),
	)
	return reference, nil
}
