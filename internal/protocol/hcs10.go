package protocol

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	xerrors "HCS-AuditAgent/internal/errors"
)

// ProtocolTag 是 HCS-10 消息固定携带的协议标识。
const ProtocolTag = "hcs-10"

// HCS-10 消息支持的操作类型。
const (
	OpConnectionRequest = "connection_request"
	OpConnectionCreated = "connection_created"
	OpMessage           = "message"
)

// Message 是 HCS-10 消息的统一结构。不同 op 下部分字段为空。
type Message struct {
	Protocol           string `json:"p"`
	Operation          string `json:"op"`
	OperatorID         string `json:"operator_id,omitempty"`
	ConnectionTopicID  string `json:"connection_topic_id,omitempty"`
	ConnectedAccountID string `json:"connected_account_id,omitempty"`
	ConnectionID       uint64 `json:"connection_id,omitempty"`
	Data               string `json:"data,omitempty"`
	Memo               string `json:"m,omitempty"`
}

// ConnectionRequest 是解析并校验后的连接请求。
type ConnectionRequest struct {
	RequesterTopicID   string
	RequesterAccountID string
	Query              string
}

// ParseConnectionRequest 尝试把一条消息负载解析成连接请求。
// op 不匹配或 operator_id 缺失/畸形时返回 PARSE_ERROR，
// 调用方据此跳过消息而不中断监听。
func ParseConnectionRequest(payload []byte) (*ConnectionRequest, error) {
	var msg Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeParse, err, "消息负载不是合法 JSON")
	}
	if msg.Protocol != ProtocolTag {
		return nil, xerrors.New(xerrors.CodeParse, fmt.Sprintf("协议标识不匹配: %q", msg.Protocol))
	}
	if msg.Operation != OpConnectionRequest {
		return nil, xerrors.New(xerrors.CodeParse, fmt.Sprintf("非连接请求操作: %q", msg.Operation))
	}
	topicID, accountID, err := ParseOperatorID(msg.OperatorID)
	if err != nil {
		return nil, err
	}
	return &ConnectionRequest{
		RequesterTopicID:   topicID,
		RequesterAccountID: accountID,
		Query:              msg.Memo,
	}, nil
}

// ParseOperatorID 将 "<topicId>@<accountId>" 拆成两个非空分量。
func ParseOperatorID(operatorID string) (topicID, accountID string, err error) {
	parts := strings.SplitN(operatorID, "@", 2)
	if len(parts) != 2 || strings.TrimSpace(parts[0]) == "" || strings.TrimSpace(parts[1]) == "" {
		return "", "", xerrors.New(xerrors.CodeParse,
			fmt.Sprintf("operator_id %q 不是 <topicId>@<accountId> 形式", operatorID))
	}
	return strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1]), nil
}

// FormatOperatorID 组装 operator_id。
func FormatOperatorID(topicID, accountID string) string {
	return topicID + "@" + accountID
}

// NewConnectionCreated 构造连接确认消息。connectionID 取原始请求的序号。
func NewConnectionCreated(agentOperatorID, newTopicID, requesterAccountID string, connectionID uint64) Message {
	return Message{
		Protocol:           ProtocolTag,
		Operation:          OpConnectionCreated,
		OperatorID:         agentOperatorID,
		ConnectionTopicID:  newTopicID,
		ConnectedAccountID: requesterAccountID,
		ConnectionID:       connectionID,
	}
}

// NewResultPointer 构造指向分片审计报告的指针消息。
func NewResultPointer(agentOperatorID, reference, subject string) Message {
	return Message{
		Protocol:   ProtocolTag,
		Operation:  OpMessage,
		OperatorID: agentOperatorID,
		Data:       reference,
		Memo:       subject,
	}
}

// NewInlineNotice 构造私有主题上的短文本消息（如内联错误提示）。
func NewInlineNotice(agentOperatorID, text string) Message {
	return Message{
		Protocol:   ProtocolTag,
		Operation:  OpMessage,
		OperatorID: agentOperatorID,
		Memo:       text,
	}
}

// Encode 序列化消息。
func (m Message) Encode() ([]byte, error) {
	encoded, err := json.Marshal(m)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeParse, err, "序列化 HCS-10 消息失败")
	}
	return encoded, nil
}

var contractIDPattern = regexp.MustCompile(`0\.0\.\d+`)

// ExtractContractID 在自由文本中宽松匹配第一个 0.0.<digits> 形式的
// 合约标识。未找到时返回空串。
func ExtractContractID(text string) string {
	return contractIDPattern.FindString(text)
}

// ValidContractID 判断文本整体是否恰好是一个合约标识。
func ValidContractID(text string) bool {
	return contractIDPattern.FindString(text) == text && text != ""
}
