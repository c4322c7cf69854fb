package router

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"HCS-AuditAgent/internal/checkpoint"
	xerrors "HCS-AuditAgent/internal/errors"
	"HCS-AuditAgent/internal/hcs"
	"HCS-AuditAgent/internal/observability/alerting"
	"HCS-AuditAgent/internal/protocol"
	"HCS-AuditAgent/internal/session"
	"HCS-AuditAgent/internal/storage/mysql"
	"HCS-AuditAgent/pkg/logger"
)

// State 是单条入站消息在路由状态机中的位置。
type State string

const (
	StateListening          State = "listening"
	StateParsing            State = "parsing"
	StateChannelEstablished State = "channel_established"
	StateDispatched         State = "dispatched"
	// StateSkipped：消息与协议无关或畸形，记录日志后丢弃，无任何传输副作用。
	StateSkipped State = "skipped"
	// StateFailed：建立私有主题或确认消息失败。检查点照常推进，
	// 避免同一条消息被无限重试。
	StateFailed State = "failed"
)

// SessionRunner 抽象审计会话的执行入口。
type SessionRunner interface {
	Run(ctx context.Context, req session.Request) (*session.AuditReport, error)
}

// ResultDeliverer 抽象终局报告的投递出口。投递成功时返回报告的
// 分片存储引用。
type ResultDeliverer interface {
	DeliverSuccess(ctx context.Context, privateTopicID, contractID string, report *session.AuditReport) (string, error)
	DeliverFailure(ctx context.Context, privateTopicID, contractID, reason string) (string, error)
}

// Config 描述路由器的身份与并发参数。
type Config struct {
	// InboundTopicID 是智能体的公共入站主题。
	InboundTopicID string
	// AccountID 是智能体的账户 ID。
	AccountID string
	// Workers 是并发处理的会话数上限，默认 1（严格按序）。
	Workers int
}

// Option 定义可选的路由器配置。
type Option func(*Router)

// WithAuditRepository 配置会话结果的落库仓库。
func WithAuditRepository(repo mysql.AuditRepository) Option {
	return func(r *Router) {
		r.repo = repo
	}
}

// WithAlertDispatcher 配置告警派发器。
func WithAlertDispatcher(dispatcher alerting.Dispatcher) Option {
	return func(r *Router) {
		r.alerter = dispatcher
	}
}

// Router 消费公共入站主题上的 HCS-10 连接请求：为每个合法请求建立
// 专属私有主题、发布连接确认、把请求移交给会话编排器，并在整条
// 流水线完成后推进恢复检查点。
type Router struct {
	transport   hcs.Client
	checkpoints checkpoint.Store
	runner      SessionRunner
	delivery    ResultDeliverer
	repo        mysql.AuditRepository
	alerter     alerting.Dispatcher

	inboundTopicID string
	accountID      string
	workers        int
	logger         *slog.Logger

	mu       sync.Mutex
	lastSeen time.Time
	wg       sync.WaitGroup
}

// New 创建路由器。
func New(transport hcs.Client, checkpoints checkpoint.Store, runner SessionRunner, delivery ResultDeliverer, cfg Config, opts ...Option) *Router {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	r := &Router{
		transport:      transport,
		checkpoints:    checkpoints,
		runner:         runner,
		delivery:       delivery,
		inboundTopicID: cfg.InboundTopicID,
		accountID:      cfg.AccountID,
		workers:        workers,
		logger:         logger.Named("router"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// operatorID 返回智能体的 operator_id。
func (r *Router) operatorID() string {
	return protocol.FormatOperatorID(r.inboundTopicID, r.accountID)
}

// Listen 读取检查点并订阅公共入站主题，阻塞直至上下文取消或
// 订阅建立失败。单条消息的处理失败不会中断订阅。
func (r *Router) Listen(ctx context.Context) error {
	if r.transport == nil || r.checkpoints == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "路由器未配置传输层或检查点存储")
	}
	resumeFrom, err := r.checkpoints.Load(ctx)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.lastSeen = resumeFrom
	r.mu.Unlock()

	r.logger.Info("开始监听入站主题",
		slog.String("topic_id", r.inboundTopicID),
		slog.Time("resume_from", resumeFrom),
	)

	sem := make(chan struct{}, r.workers)
	err = r.transport.Subscribe(ctx, r.inboundTopicID, resumeFrom, func(ctx context.Context, env hcs.Envelope) error {
		// 重放的消息（时间不晚于检查点）不得再次触发任何副作用。
		if !env.ConsensusTimestamp.After(r.checkpointTime()) {
			r.logger.Debug("跳过已处理的消息",
				slog.Uint64("sequence", env.SequenceNumber),
				slog.Time("consensus_timestamp", env.ConsensusTimestamp),
			)
			return nil
		}
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			return ctx.Err()
		}
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			defer func() { <-sem }()
			r.handleEnvelope(ctx, env)
		}()
		return nil
	})
	r.wg.Wait()
	return err
}

func (r *Router) checkpointTime() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastSeen
}

// handleEnvelope 把一条消息推进到终态，然后推进检查点。
// 检查点只在整条流水线（包括失败投递）完成后才前移。
func (r *Router) handleEnvelope(ctx context.Context, env hcs.Envelope) {
	state := r.process(ctx, env)
	r.logger.Info("入站消息处理完成",
		slog.Uint64("sequence", env.SequenceNumber),
		slog.String("state", string(state)),
	)

	if err := r.checkpoints.Advance(ctx, env.ConsensusTimestamp); err != nil {
		r.logger.Error("推进检查点失败",
			slog.Uint64("sequence", env.SequenceNumber),
			slog.Any("error", err),
		)
		return
	}
	r.mu.Lock()
	if env.ConsensusTimestamp.After(r.lastSeen) {
		r.lastSeen = env.ConsensusTimestamp
	}
	r.mu.Unlock()
}

// process 实现状态机：Listening → Parsing → ChannelEstablished →
// Dispatched，终态 Skipped / Failed / Dispatched。
func (r *Router) process(ctx context.Context, env hcs.Envelope) State {
	// Parsing：尝试解析连接请求。
	request, err := protocol.ParseConnectionRequest(env.Payload)
	if err != nil {
		r.logger.Warn("消息不是合法连接请求，跳过",
			slog.Uint64("sequence", env.SequenceNumber),
			slog.Any("error", err),
		)
		return StateSkipped
	}

	// 每个合法连接请求创建且只创建一个私有主题，绝不复用。
	privateTopicID, err := r.transport.CreateTopic(ctx,
		fmt.Sprintf("audit-connection:%d:%s", env.SequenceNumber, request.RequesterAccountID))
	if err != nil {
		r.logger.Error("创建私有主题失败",
			slog.Uint64("sequence", env.SequenceNumber),
			slog.Any("error", err),
		)
		r.emitAlert(ctx, "", "", "create_topic", err)
		return StateFailed
	}

	// 在公共入站主题上发布确认；请求方看不到确认则会话视为未开始。
	ack := protocol.NewConnectionCreated(r.operatorID(), privateTopicID,
		request.RequesterAccountID, env.SequenceNumber)
	ackPayload, err := ack.Encode()
	if err == nil {
		_, err = r.transport.SubmitMessage(ctx, r.inboundTopicID, ackPayload)
	}
	if err != nil {
		r.logger.Error("发布连接确认失败",
			slog.Uint64("sequence", env.SequenceNumber),
			slog.String("private_topic", privateTopicID),
			slog.Any("error", err),
		)
		r.emitAlert(ctx, "", privateTopicID, "ack", err)
		return StateFailed
	}

	// 从自由文本中提取目标合约 ID。
	contractID := protocol.ExtractContractID(request.Query)
	if contractID == "" {
		notice := protocol.NewInlineNotice(r.operatorID(),
			"No contract id found in your request. Include one in 0.0.<digits> form and send a new connection request.")
		if payload, encErr := notice.Encode(); encErr == nil {
			if _, subErr := r.transport.SubmitMessage(ctx, privateTopicID, payload); subErr != nil {
				r.logger.Error("发送内联错误提示失败",
					slog.String("private_topic", privateTopicID),
					slog.Any("error", subErr),
				)
			}
		}
		r.logger.Warn("连接请求中没有合约 ID",
			slog.Uint64("sequence", env.SequenceNumber),
			slog.String("query", request.Query),
		)
		return StateFailed
	}

	// Dispatched：移交会话编排器，等待其完成后才推进检查点。
	r.runSession(ctx, env, request, privateTopicID, contractID)
	return StateDispatched
}

// runSession 执行会话并投递结果，随后落库与告警。
func (r *Router) runSession(ctx context.Context, env hcs.Envelope, request *protocol.ConnectionRequest, privateTopicID, contractID string) {
	sessionID := uuid.NewString()
	req := session.Request{
		SessionID:  sessionID,
		Query:      request.Query,
		ContractID: contractID,
	}

	record := mysql.AuditRecord{
		SessionID:    sessionID,
		ContractID:   contractID,
		RequesterID:  request.RequesterAccountID,
		PrivateTopic: privateTopicID,
		CreatedAt:    time.Now().Unix(),
	}

	report, runErr := r.runner.Run(ctx, req)
	if runErr != nil {
		reason := failureReason(runErr)
		reference, err := r.delivery.DeliverFailure(ctx, privateTopicID, contractID, reason)
		if err != nil {
			r.logger.Error("投递失败报告失败",
				slog.String("session_id", sessionID),
				slog.Any("error", err),
			)
		}
		r.emitAlertForSession(ctx, sessionID, contractID, privateTopicID, runErr)
		record.Status = "error"
		record.Summary = reason
		record.ToolsUsed = []string{}
		record.Reference = reference
	} else {
		reference, err := r.delivery.DeliverSuccess(ctx, privateTopicID, contractID, report)
		if err != nil {
			r.logger.Error("投递成功报告失败",
				slog.String("session_id", sessionID),
				slog.Any("error", err),
			)
			r.emitAlert(ctx, sessionID, privateTopicID, "delivery", err)
		}
		record.Status = "success"
		record.Score = report.Score
		record.Summary = report.Summary
		record.ToolsUsed = report.ToolsUsed
		record.Reference = reference
	}

	if r.repo != nil {
		if err := r.repo.Save(ctx, record); err != nil {
			r.logger.Error("落库审计记录失败",
				slog.String("session_id", sessionID),
				slog.Any("error", err),
			)
		}
	}

	logger.Audit().Info("审计会话结束",
		slog.String("session_id", sessionID),
		slog.String("contract_id", contractID),
		slog.String("requester", request.RequesterAccountID),
		slog.String("private_topic", privateTopicID),
		slog.String("status", record.Status),
	)
}

// failureReason 把会话错误折叠成发给请求方的原因文本。
func failureReason(err error) string {
	if e, ok := xerrors.From(err); ok {
		return e.Message()
	}
	return strings.TrimSpace(err.Error())
}

func (r *Router) emitAlertForSession(ctx context.Context, sessionID, contractID, topicID string, cause error) {
	stage := "session"
	if xerrors.CodeOf(cause) == xerrors.CodeSessionBound {
		stage = "session_bound"
	}
	r.emitAlertFull(ctx, sessionID, contractID, topicID, stage, cause)
}

func (r *Router) emitAlert(ctx context.Context, sessionID, topicID, stage string, cause error) {
	r.emitAlertFull(ctx, sessionID, "", topicID, stage, cause)
}

func (r *Router) emitAlertFull(ctx context.Context, sessionID, contractID, topicID, stage string, cause error) {
	if r.alerter == nil || cause == nil {
		return
	}
	code := xerrors.CodeOf(cause)
	if !xerrors.AttributesOf(code).Alert {
		return
	}
	event := alerting.Event{
		Code:       code,
		Message:    cause.Error(),
		Severity:   xerrors.SeverityOf(cause),
		SessionID:  sessionID,
		ContractID: contractID,
		TopicID:    topicID,
		Stage:      stage,
		OccurredAt: time.Now(),
	}
	if err := r.alerter.Notify(ctx, event); err != nil {
		r.logger.Error("告警通知失败",
			slog.String("stage", stage),
			slog.Any("error", err),
		)
	}
}
