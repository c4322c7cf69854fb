package engine

import (
	"context"
	"encoding/json"
)

// Role 标识对话消息的角色。
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message 是一条对话历史记录。工具结果消息通过 ToolCallID 关联
// 对应的工具调用。
type Message struct {
	Role       Role            `json:"role"`
	Content    string          `json:"content,omitempty"`
	Name       string          `json:"name,omitempty"`
	ToolCallID string          `json:"tool_call_id,omitempty"`
	ToolCalls  []ToolCall      `json:"tool_calls,omitempty"`
}

// ToolCall 是推理引擎请求执行的一次外部能力调用。
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolDefinition 描述一个可供引擎调用的外部能力，
// Parameters 为 JSON Schema。
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  json.RawMessage
}

// StopReason 描述引擎一轮推理的结束方式。
type StopReason string

const (
	StopEnd       StopReason = "stop"
	StopToolCalls StopReason = "tool_calls"
	StopLength    StopReason = "length"
	StopOther     StopReason = "other"
)

// Turn 是引擎一轮推理的输出：要么给出终局文本，要么请求工具调用。
type Turn struct {
	Content    string
	ToolCalls  []ToolCall
	StopReason StopReason
}

// Client 定义了调用推理引擎的统一接口。
type Client interface {
	Generate(ctx context.Context, messages []Message, tools []ToolDefinition) (*Turn, error)
}
