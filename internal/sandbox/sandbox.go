package sandbox

import (
	"context"

	"HCS-AuditAgent/internal/contract"
)

// DynamicTestSuffix 是动态测试合约文件必须携带的后缀。
const DynamicTestSuffix = ".t.sol"

// Result 是一次沙箱工具调用的结果。失败是数据而不是异常：
// Success 为 false 时 Output 仅供参考，不得当作分析发现使用。
type Result struct {
	Success bool   `json:"success"`
	Output  string `json:"output,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Failure 构造一个失败结果。
func Failure(message string) Result {
	return Result{Success: false, Error: message}
}

// ToolRunner 在隔离环境中运行静态分析工具。
type ToolRunner interface {
	Run(ctx context.Context, toolName string, files []contract.SourceFile, mainFilePath string) Result
}

// DynamicTestRunner 在隔离环境中编译并执行动态测试合约。
type DynamicTestRunner interface {
	RunTest(ctx context.Context, testCode, testFileName, originalFileName string, files []contract.SourceFile) Result
}
