package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"HCS-AuditAgent/internal/contract"
	"HCS-AuditAgent/internal/engine"
	xerrors "HCS-AuditAgent/internal/errors"
	"HCS-AuditAgent/internal/knowledge"
	"HCS-AuditAgent/internal/protocol"
	"HCS-AuditAgent/internal/sandbox"
	"HCS-AuditAgent/pkg/logger"
)

// defaultMaxTurns 是推理循环的默认轮数上限。
const defaultMaxTurns = 15

// Request 描述一次待执行的审计会话。
type Request struct {
	SessionID  string
	Query      string
	ContractID string
}

// state 是会话私有的可变状态，循环退出即销毁。
type state struct {
	fileSet   *contract.FileSet
	toolsUsed map[string]bool
}

// Orchestrator 驱动推理引擎完成有界的多轮工具调用循环。
// 协作方故障作为数据回流给引擎，基础设施故障终止会话。
type Orchestrator struct {
	engine    engine.Client
	fetcher   contract.Fetcher
	tools     sandbox.ToolRunner
	dynamic   sandbox.DynamicTestRunner
	knowledge knowledge.Provider
	toolNames []string
	maxTurns  int
	logger    *slog.Logger
}

// Option 定义可选的编排器配置。
type Option func(*Orchestrator)

// WithMaxTurns 设置推理循环轮数上限。
func WithMaxTurns(turns int) Option {
	return func(o *Orchestrator) {
		if turns > 0 {
			o.maxTurns = turns
		}
	}
}

// WithKnowledgeProvider 配置漏洞模式知识库。
func WithKnowledgeProvider(provider knowledge.Provider) Option {
	return func(o *Orchestrator) {
		o.knowledge = provider
	}
}

// WithToolNames 设置提示词中展示的静态分析工具清单。
func WithToolNames(names []string) Option {
	return func(o *Orchestrator) {
		o.toolNames = names
	}
}

// New 创建编排器。
func New(engineClient engine.Client, fetcher contract.Fetcher, tools sandbox.ToolRunner, dynamic sandbox.DynamicTestRunner, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		engine:   engineClient,
		fetcher:  fetcher,
		tools:    tools,
		dynamic:  dynamic,
		maxTurns: defaultMaxTurns,
		logger:   logger.Named("session"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	return o
}

// Run 执行会话直至终局。成功返回通过校验的审计报告；
// 失败返回错误，由调用方据此合成失败报告投递。
func (o *Orchestrator) Run(ctx context.Context, req Request) (*AuditReport, error) {
	if o.engine == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置推理引擎")
	}

	st := &state{toolsUsed: make(map[string]bool)}
	messages := []engine.Message{
		{Role: engine.RoleSystem, Content: o.buildSystemPrompt(req)},
		{Role: engine.RoleUser, Content: o.buildUserPrompt(req)},
	}
	tools := toolDefinitions(o.toolNames)

	for turn := 0; turn < o.maxTurns; turn++ {
		output, err := o.engine.Generate(ctx, messages, tools)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeCollaborator, err, "推理引擎调用失败")
		}

		// 异常停机或没有任何工具调用的终止都视为会话失败：
		// 正常终局必须经由 finalize 提交报告。
		if output.StopReason == engine.StopLength || output.StopReason == engine.StopOther {
			return nil, xerrors.New(xerrors.CodeSessionFailure,
				fmt.Sprintf("推理引擎异常终止: %s", output.StopReason))
		}
		if len(output.ToolCalls) == 0 {
			return nil, xerrors.New(xerrors.CodeSessionFailure,
				"推理引擎结束对话但未通过 finalize 提交报告")
		}

		messages = append(messages, engine.Message{
			Role:      engine.RoleAssistant,
			Content:   output.Content,
			ToolCalls: output.ToolCalls,
		})

		for _, call := range output.ToolCalls {
			report, result := o.dispatch(ctx, st, call)
			if report != nil {
				// finalize 当轮终止会话，之后不再有任何轮次。
				return report, nil
			}
			encoded, err := json.Marshal(result)
			if err != nil {
				encoded = []byte(fmt.Sprintf(`{"success":false,"error":"encode result: %v"}`, err))
			}
			messages = append(messages, engine.Message{
				Role:       engine.RoleTool,
				Name:       call.Name,
				ToolCallID: call.ID,
				Content:    string(encoded),
			})
		}
	}

	return nil, xerrors.New(xerrors.CodeSessionBound,
		fmt.Sprintf("max loops reached (%d turns) without a final report", o.maxTurns))
}

// dispatch 执行单个能力调用。返回非 nil 报告表示 finalize 成功；
// 否则返回回流给引擎的结果。调用内的任何故障（包括 panic）都被
// 折叠为该调用自身的失败结果，不会中断整轮或整个会话。
func (o *Orchestrator) dispatch(ctx context.Context, st *state, call engine.ToolCall) (report *AuditReport, result sandbox.Result) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("能力调用发生 panic",
				slog.String("capability", call.Name),
				slog.Any("panic", r),
			)
			report = nil
			result = sandbox.Failure(fmt.Sprintf("internal error while executing %s: %v", call.Name, r))
		}
	}()

	parsed, err := parseCapability(call)
	if err != nil {
		return nil, sandbox.Failure(err.Error())
	}

	switch c := parsed.(type) {
	case fetchSourceCall:
		return nil, o.handleFetchSource(ctx, st, c)
	case runStaticToolCall:
		return nil, o.handleStaticTool(ctx, st, c)
	case runDynamicTestCall:
		return nil, o.handleDynamicTest(ctx, st, c)
	case finalizeCall:
		return o.handleFinalize(st, c)
	case unknownCapability:
		return nil, sandbox.Failure(fmt.Sprintf("unknown capability %q; available: %s, %s, %s, %s",
			c.Name, capFetchSource, capRunStaticTool, capRunDynamicTest, capFinalize))
	default:
		return nil, sandbox.Failure(fmt.Sprintf("unhandled capability variant %T", parsed))
	}
}

// handleFetchSource 抓取合约源码。成功替换既有文件集；
// 失败清空文件集并把错误作为数据回流。
func (o *Orchestrator) handleFetchSource(ctx context.Context, st *state, call fetchSourceCall) sandbox.Result {
	if o.fetcher == nil {
		return sandbox.Failure("source fetcher is not configured")
	}
	if !protocol.ValidContractID(call.ContractID) {
		st.fileSet = nil
		return sandbox.Failure(fmt.Sprintf("Invalid contractId format: %q, expected 0.0.<digits>", call.ContractID))
	}
	fileSet, err := o.fetcher.Fetch(ctx, call.ContractID)
	if err != nil {
		st.fileSet = nil
		return sandbox.Failure(fmt.Sprintf("fetch source failed: %v", err))
	}
	st.fileSet = fileSet
	paths := make([]string, 0, len(fileSet.Files))
	for _, f := range fileSet.Files {
		paths = append(paths, f.Path)
	}
	return sandbox.Result{
		Success: true,
		Output: fmt.Sprintf("fetched %d files, main file: %s\nfiles: %s",
			len(fileSet.Files), fileSet.MainFileName, strings.Join(paths, ", ")),
	}
}

// handleStaticTool 运行静态分析工具，要求已有文件集。
func (o *Orchestrator) handleStaticTool(ctx context.Context, st *state, call runStaticToolCall) sandbox.Result {
	if o.tools == nil {
		return sandbox.Failure("tool runner is not configured")
	}
	if st.fileSet == nil {
		return sandbox.Failure("no source fetched yet: call fetch-source before running analysis tools")
	}
	target := st.fileSet.MainFileName
	if call.FileName != "" {
		if _, ok := st.fileSet.File(call.FileName); !ok {
			return sandbox.Failure(fmt.Sprintf("file %q is not in the fetched file set", call.FileName))
		}
		target = call.FileName
	}
	result := o.tools.Run(ctx, call.ToolName, st.fileSet.Files, target)
	if result.Success {
		st.toolsUsed[call.ToolName] = true
	}
	return result
}

// handleDynamicTest 运行动态测试合约，要求已有文件集且测试文件名
// 以约定后缀结尾。
func (o *Orchestrator) handleDynamicTest(ctx context.Context, st *state, call runDynamicTestCall) sandbox.Result {
	if o.dynamic == nil {
		return sandbox.Failure("dynamic test runner is not configured")
	}
	if st.fileSet == nil {
		return sandbox.Failure("no source fetched yet: call fetch-source before running dynamic tests")
	}
	if !strings.HasSuffix(call.TestContractFileName, sandbox.DynamicTestSuffix) {
		return sandbox.Failure(fmt.Sprintf("testContractFileName %q must end in %s",
			call.TestContractFileName, sandbox.DynamicTestSuffix))
	}
	original := call.OriginalContractFileName
	if _, ok := st.fileSet.File(original); !ok {
		// 回退到主文件。
		original = st.fileSet.MainFileName
		if _, ok := st.fileSet.File(original); !ok {
			return sandbox.Failure(fmt.Sprintf("original file %q is not in the fetched file set",
				call.OriginalContractFileName))
		}
	}
	result := o.dynamic.RunTest(ctx, call.TestContractCode, call.TestContractFileName, original, st.fileSet.Files)
	if result.Success {
		st.toolsUsed["dynamic-test"] = true
	}
	return result
}

// handleFinalize 校验并接受终局报告。校验失败作为数据回流，
// 引擎可以修正后重新提交。
func (o *Orchestrator) handleFinalize(st *state, call finalizeCall) (*AuditReport, sandbox.Result) {
	report := call.Report
	if err := report.Validate(); err != nil {
		return nil, sandbox.Failure(fmt.Sprintf("report rejected: %v", err))
	}
	if len(report.ToolsUsed) == 0 {
		report.ToolsUsed = sortedToolsUsed(st)
	}
	return &report, sandbox.Result{Success: true, Output: "report accepted"}
}

func sortedToolsUsed(st *state) []string {
	names := make([]string, 0, len(st.toolsUsed))
	for name := range st.toolsUsed {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// buildSystemPrompt 构造系统提示词，包含工具清单与知识库摘录。
func (o *Orchestrator) buildSystemPrompt(req Request) string {
	var builder strings.Builder
	builder.WriteString("You are an autonomous smart-contract security auditor. ")
	builder.WriteString("Work step by step: fetch the contract source first, run the analysis tools that fit, ")
	builder.WriteString("optionally write a Foundry test to confirm a suspicion, then submit the final report via the finalize capability. ")
	builder.WriteString("Never invent findings that the tools or the source do not support.\n")

	if len(o.toolNames) > 0 {
		builder.WriteString("\nRegistered static analysis tools: ")
		builder.WriteString(strings.Join(o.toolNames, ", "))
		builder.WriteString("\n")
	}

	if o.knowledge != nil {
		snippets := o.knowledge.Query(req.Query)
		if len(snippets) > 0 {
			builder.WriteString("\nKnown vulnerability patterns to watch for:\n")
			for idx, snippet := range snippets {
				builder.WriteString(fmt.Sprintf("[%d] %s: %s\n", idx+1,
					strings.TrimSpace(snippet.Title), strings.TrimSpace(snippet.Content)))
				if idx >= 4 {
					break
				}
			}
		}
	}
	return builder.String()
}

// buildUserPrompt 构造用户消息。
func (o *Orchestrator) buildUserPrompt(req Request) string {
	var builder strings.Builder
	builder.WriteString(fmt.Sprintf("Audit request for contract %s.\n", req.ContractID))
	if strings.TrimSpace(req.Query) != "" {
		builder.WriteString("Requester message: ")
		builder.WriteString(strings.TrimSpace(req.Query))
		builder.WriteString("\n")
	}
	builder.WriteString("Produce a full security audit and submit it with finalize.")
	return builder.String()
}
