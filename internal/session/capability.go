package session

import (
	"encoding/json"
	"fmt"

	"HCS-AuditAgent/internal/engine"
)

// 推理引擎可请求的外部能力名。封闭集合，未知名称显式走
// unknownCapability 分支。
const (
	capFetchSource    = "fetch-source"
	capRunStaticTool  = "run-static-tool"
	capRunDynamicTest = "run-dynamic-test"
	capFinalize       = "finalize"
)

// capabilityCall 是解析后的能力调用，封闭标签变体。
type capabilityCall interface {
	capabilityName() string
}

type fetchSourceCall struct {
	ContractID string `json:"contractId"`
}

type runStaticToolCall struct {
	ToolName string `json:"toolName"`
	FileName string `json:"fileName,omitempty"`
}

type runDynamicTestCall struct {
	TestContractCode         string `json:"testContractCode"`
	TestContractFileName     string `json:"testContractFileName"`
	OriginalContractFileName string `json:"originalContractFileName"`
}

type finalizeCall struct {
	Report AuditReport `json:"report"`
}

type unknownCapability struct {
	Name string
}

func (fetchSourceCall) capabilityName() string    { return capFetchSource }
func (runStaticToolCall) capabilityName() string  { return capRunStaticTool }
func (runDynamicTestCall) capabilityName() string { return capRunDynamicTest }
func (finalizeCall) capabilityName() string       { return capFinalize }
func (u unknownCapability) capabilityName() string { return u.Name }

// parseCapability 按名称把引擎的工具调用解析成具体变体。
// 参数畸形返回错误；未知名称不报错，返回 unknownCapability
// 交由编排器生成合成失败结果。
func parseCapability(call engine.ToolCall) (capabilityCall, error) {
	args := call.Arguments
	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}
	switch call.Name {
	case capFetchSource:
		var parsed fetchSourceCall
		if err := json.Unmarshal(args, &parsed); err != nil {
			return nil, fmt.Errorf("解析 %s 参数失败: %w", capFetchSource, err)
		}
		return parsed, nil
	case capRunStaticTool:
		var parsed runStaticToolCall
		if err := json.Unmarshal(args, &parsed); err != nil {
			return nil, fmt.Errorf("解析 %s 参数失败: %w", capRunStaticTool, err)
		}
		return parsed, nil
	case capRunDynamicTest:
		var parsed runDynamicTestCall
		if err := json.Unmarshal(args, &parsed); err != nil {
			return nil, fmt.Errorf("解析 %s 参数失败: %w", capRunDynamicTest, err)
		}
		return parsed, nil
	case capFinalize:
		var parsed finalizeCall
		if err := json.Unmarshal(args, &parsed); err != nil {
			return nil, fmt.Errorf("解析 %s 参数失败: %w", capFinalize, err)
		}
		return parsed, nil
	default:
		return unknownCapability{Name: call.Name}, nil
	}
}

// toolDefinitions 返回暴露给推理引擎的能力清单。
// 工具名非空时以 enum 约束 toolName，空目录则不加约束。
func toolDefinitions(toolNames []string) []engine.ToolDefinition {
	toolNameClause := `{"type": "string"}`
	if len(toolNames) > 0 {
		toolEnum, _ := json.Marshal(toolNames)
		toolNameClause = fmt.Sprintf(`{"type": "string", "enum": %s}`, toolEnum)
	}
	return []engine.ToolDefinition{
		{
			Name:        capFetchSource,
			Description: "Fetch the verified source files of a contract by its ledger id (0.0.<digits>). Must be called before any analysis tool.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"contractId": {"type": "string", "description": "Contract id in 0.0.<digits> form"}
				},
				"required": ["contractId"]
			}`),
		},
		{
			Name:        capRunStaticTool,
			Description: "Run a registered static analysis tool against the fetched source files.",
			Parameters: json.RawMessage(fmt.Sprintf(`{
				"type": "object",
				"properties": {
					"toolName": %s,
					"fileName": {"type": "string", "description": "Optional file to analyse instead of the main file"}
				},
				"required": ["toolName"]
			}`, toolNameClause)),
		},
		{
			Name:        capRunDynamicTest,
			Description: "Compile and execute a Foundry test contract against the fetched source. The test file name must end in .t.sol.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"testContractCode": {"type": "string"},
					"testContractFileName": {"type": "string"},
					"originalContractFileName": {"type": "string"}
				},
				"required": ["testContractCode", "testContractFileName", "originalContractFileName"]
			}`),
		},
		{
			Name:        capFinalize,
			Description: "Submit the final structured audit report. This ends the session.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"report": {
						"type": "object",
						"properties": {
							"score": {"type": "number", "minimum": 0, "maximum": 100},
							"summary": {"type": "string"},
							"findings": {
								"type": "array",
								"items": {
									"type": "object",
									"properties": {
										"title": {"type": "string"},
										"severity": {"type": "string", "enum": ["Critical", "High", "Medium", "Low", "Informational", "Optimization"]},
										"description": {"type": "string"},
										"recommendation": {"type": "string"},
										"confirmation": {"type": "string"},
										"details": {"type": "string"}
									},
									"required": ["title", "severity", "description"]
								}
							},
							"toolsUsed": {"type": "array", "items": {"type": "string"}}
						},
						"required": ["score", "summary", "findings"]
					}
				},
				"required": ["report"]
			}`),
		},
	}
}
