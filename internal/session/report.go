package session

import (
	"fmt"
	"strings"

	xerrors "HCS-AuditAgent/internal/errors"
)

// Severity 是审计发现的严重程度。
type Severity string

const (
	SeverityCritical      Severity = "Critical"
	SeverityHigh          Severity = "High"
	SeverityMedium        Severity = "Medium"
	SeverityLow           Severity = "Low"
	SeverityInformational Severity = "Informational"
	SeverityOptimization  Severity = "Optimization"
)

var knownSeverities = map[Severity]bool{
	SeverityCritical:      true,
	SeverityHigh:          true,
	SeverityMedium:        true,
	SeverityLow:           true,
	SeverityInformational: true,
	SeverityOptimization:  true,
}

// Finding 是审计报告中的单条发现。
type Finding struct {
	Title          string   `json:"title"`
	Severity       Severity `json:"severity"`
	Description    string   `json:"description"`
	Recommendation string   `json:"recommendation"`
	Confirmation   string   `json:"confirmation"`
	Details        string   `json:"details,omitempty"`
}

// AuditReport 是会话的终局产出。由编排器的 finalize 步骤一次性
// 构造，之后不可变。
type AuditReport struct {
	Score     float64   `json:"score"`
	Summary   string    `json:"summary"`
	Findings  []Finding `json:"findings"`
	ToolsUsed []string  `json:"toolsUsed"`
}

// Validate 校验报告满足最小结构要求。
func (r *AuditReport) Validate() error {
	if r == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "报告为空")
	}
	if r.Score < 0 || r.Score > 100 {
		return xerrors.New(xerrors.CodeInvalidArgument,
			fmt.Sprintf("score %v 超出 0–100 区间", r.Score))
	}
	if strings.TrimSpace(r.Summary) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "报告缺少 summary")
	}
	for i, finding := range r.Findings {
		if strings.TrimSpace(finding.Title) == "" {
			return xerrors.New(xerrors.CodeInvalidArgument,
				fmt.Sprintf("第 %d 条发现缺少 title", i+1))
		}
		if !knownSeverities[finding.Severity] {
			return xerrors.New(xerrors.CodeInvalidArgument,
				fmt.Sprintf("第 %d 条发现的 severity %q 不合法", i+1, finding.Severity))
		}
	}
	return nil
}

// NewFailureReport 为失败会话合成最小报告：得分 0，单条 Critical
// 发现描述失败原因，toolsUsed 为空。
func NewFailureReport(reason string) *AuditReport {
	return &AuditReport{
		Score:   0,
		Summary: "Audit could not be completed.",
		Findings: []Finding{
			{
				Title:          "Audit session failed",
				Severity:       SeverityCritical,
				Description:    reason,
				Recommendation: "Retry the audit request. If the failure persists, verify the contract id and that its source is verified.",
				Confirmation:   "Reported by the audit agent runtime.",
			},
		},
		ToolsUsed: []string{},
	}
}
