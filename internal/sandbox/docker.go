package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"HCS-AuditAgent/internal/contract"
)

const (
	defaultToolTimeout = 5 * time.Minute
	containerWorkdir   = "/workspace"
)

// DockerConfig 描述 Docker 沙箱运行器的参数。
type DockerConfig struct {
	// WorkspaceBaseDir 是宿主机上放置临时工作目录的位置。
	WorkspaceBaseDir string
	// DynamicTestImage 是运行动态测试（forge test）的镜像。
	DynamicTestImage string
	Timeout          time.Duration
}

// DockerRunner 通过 docker CLI 在一次性容器中运行分析工具。
// 每次调用独占一个工作目录，容器禁用网络，结束后目录无条件清理。
type DockerRunner struct {
	catalog Catalog
	baseDir string
	dynImg  string
	timeout time.Duration
}

// NewDockerRunner 创建 Docker 沙箱运行器。
func NewDockerRunner(catalog Catalog, cfg DockerConfig) *DockerRunner {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultToolTimeout
	}
	dynImg := cfg.DynamicTestImage
	if dynImg == "" {
		dynImg = "ghcr.io/foundry-rs/foundry:latest"
	}
	return &DockerRunner{
		catalog: catalog,
		baseDir: cfg.WorkspaceBaseDir,
		dynImg:  dynImg,
		timeout: timeout,
	}
}

// Run 在沙箱容器中执行登记过的静态分析工具。
// 所有内部故障都折叠为失败结果返回，不向上抛出。
func (r *DockerRunner) Run(ctx context.Context, toolName string, files []contract.SourceFile, mainFilePath string) Result {
	spec, ok := r.catalog.Lookup(toolName)
	if !ok {
		return Failure(fmt.Sprintf("未登记的分析工具: %q，可用工具: %s",
			toolName, strings.Join(r.catalog.Names(), ", ")))
	}

	workspace, err := NewWorkspace(r.baseDir)
	if err != nil {
		return Failure(fmt.Sprintf("Internal Docker runner error: %v", err))
	}
	defer workspace.Cleanup()

	if err := workspace.WriteFiles(files); err != nil {
		return Failure(fmt.Sprintf("Internal Docker runner error: %v", err))
	}

	command := make([]string, 0, len(spec.Command))
	for _, arg := range spec.Command {
		arg = strings.ReplaceAll(arg, "{{main}}", mainFilePath)
		arg = strings.ReplaceAll(arg, "{{file}}", mainFilePath)
		command = append(command, arg)
	}

	timeout := r.timeout
	if spec.TimeoutSeconds > 0 {
		timeout = time.Duration(spec.TimeoutSeconds) * time.Second
	}
	return r.execute(ctx, spec.Image, workspace, command, timeout)
}

// RunTest 在沙箱容器中执行动态测试合约。
func (r *DockerRunner) RunTest(ctx context.Context, testCode, testFileName, originalFileName string, files []contract.SourceFile) Result {
	if !strings.HasSuffix(testFileName, DynamicTestSuffix) {
		return Failure(fmt.Sprintf("测试文件 %q 必须以 %s 结尾", testFileName, DynamicTestSuffix))
	}

	workspace, err := NewWorkspace(r.baseDir)
	if err != nil {
		return Failure(fmt.Sprintf("Internal Docker runner error: %v", err))
	}
	defer workspace.Cleanup()

	if err := workspace.WriteFiles(files); err != nil {
		return Failure(fmt.Sprintf("Internal Docker runner error: %v", err))
	}
	if err := workspace.WriteFile(testFileName, testCode); err != nil {
		return Failure(fmt.Sprintf("Internal Docker runner error: %v", err))
	}

	command := []string{"forge", "test", "--match-path", testFileName, "-vv"}
	return r.execute(ctx, r.dynImg, workspace, command, r.timeout)
}

// execute 启动一次性容器运行命令，收集输出。
func (r *DockerRunner) execute(ctx context.Context, image string, workspace *Workspace, command []string, timeout time.Duration) Result {
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := []string{
		"run", "--rm",
		"--network", "none",
		"-v", workspace.Dir() + ":" + containerWorkdir,
		"-w", containerWorkdir,
		image,
	}
	args = append(args, command...)

	cmd := exec.CommandContext(runCtx, "docker", args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if runCtx.Err() == context.DeadlineExceeded {
			return Result{
				Success: false,
				Output:  truncateOutput(stdout.String()),
				Error:   fmt.Sprintf("工具执行超时（%s）", timeout),
			}
		}
		// 工具自身报告问题（非零退出）与 runner 故障都走同一条失败
		// 数据通道，由推理引擎自行解读输出。
		return Result{
			Success: false,
			Output:  truncateOutput(stdout.String()),
			Error: fmt.Sprintf("Internal Docker runner error: %v, stderr=%s",
				err, truncateOutput(stderr.String())),
		}
	}

	output := stdout.String()
	if strings.TrimSpace(output) == "" {
		output = stderr.String()
	}
	return Result{Success: true, Output: truncateOutput(output)}
}

// truncateOutput 限制回传给推理引擎的输出体积。
func truncateOutput(text string) string {
	const limit = 16 * 1024
	text = strings.TrimSpace(text)
	if len(text) > limit {
		return text[:limit] + "\n...[truncated]"
	}
	return text
}

var (
	_ ToolRunner        = (*DockerRunner)(nil)
	_ DynamicTestRunner = (*DockerRunner)(nil)
)
