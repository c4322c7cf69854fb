package delivery

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"HCS-AuditAgent/internal/hcs"
	"HCS-AuditAgent/internal/protocol"
	"HCS-AuditAgent/internal/session"
)

func TestDeliverSuccessPublishesPointer(t *testing.T) {
	t.Parallel()

	client := hcs.NewMemoryClient()
	defer client.Close()
	ctx := context.Background()

	privateTopicID, err := client.CreateTopic(ctx, "connection")
	if err != nil {
		t.Fatalf("create private topic: %v", err)
	}

	d := New(client, hcs.NewChunkStore(client, "audit-result"), "0.0.100@0.0.200")
	report := &session.AuditReport{
		Score:   88,
		Summary: strings.Repeat("long summary ", 400),
		Findings: []session.Finding{
			{Title: "Missing zero check", Severity: session.SeverityLow, Description: "d"},
		},
		ToolsUsed: []string{"slither"},
	}

	reference, err := d.DeliverSuccess(ctx, privateTopicID, "0.0.1234", report)
	if err != nil {
		t.Fatalf("deliver failed: %v", err)
	}
	if !strings.HasPrefix(reference, "hcs://1/") {
		t.Fatalf("unexpected reference: %q", reference)
	}

	msgs := client.Messages(privateTopicID)
	if len(msgs) != 1 {
		t.Fatalf("exactly one pointer message expected, got %d", len(msgs))
	}

	var pointer protocol.Message
	if err := json.Unmarshal(msgs[0].Payload, &pointer); err != nil {
		t.Fatalf("decode pointer: %v", err)
	}
	if pointer.Operation != protocol.OpMessage {
		t.Fatalf("unexpected op: %s", pointer.Operation)
	}
	if pointer.OperatorID != "0.0.100@0.0.200" {
		t.Fatalf("unexpected operator id: %s", pointer.OperatorID)
	}
	if !strings.Contains(pointer.Memo, "0.0.1234") {
		t.Fatalf("pointer memo should name the contract: %s", pointer.Memo)
	}

	// 指针必须解析回完整报告。
	resolved, err := hcs.NewChunkStore(client, "").Resolve(ctx, pointer.Data)
	if err != nil {
		t.Fatalf("resolve reference %s: %v", pointer.Data, err)
	}
	var w struct {
		Status string               `json:"status"`
		Report *session.AuditReport `json:"report"`
	}
	if err := json.Unmarshal(resolved, &w); err != nil {
		t.Fatalf("decode stored report: %v", err)
	}
	if w.Status != StatusSuccess {
		t.Fatalf("unexpected status: %s", w.Status)
	}
	if w.Report == nil || w.Report.Score != 88 {
		t.Fatalf("report did not survive the round trip: %+v", w.Report)
	}
}

func TestDeliverFailureSynthesizesReport(t *testing.T) {
	t.Parallel()

	client := hcs.NewMemoryClient()
	defer client.Close()
	ctx := context.Background()

	privateTopicID, err := client.CreateTopic(ctx, "connection")
	if err != nil {
		t.Fatalf("create private topic: %v", err)
	}

	d := New(client, hcs.NewChunkStore(client, ""), "0.0.100@0.0.200")
	reference, err := d.DeliverFailure(ctx, privateTopicID, "0.0.1234", "engine unreachable")
	if err != nil {
		t.Fatalf("deliver failure: %v", err)
	}
	if !strings.HasPrefix(reference, "hcs://1/") {
		t.Fatalf("unexpected reference: %q", reference)
	}

	msgs := client.Messages(privateTopicID)
	if len(msgs) != 1 {
		t.Fatalf("expected one pointer message, got %d", len(msgs))
	}
	var pointer protocol.Message
	if err := json.Unmarshal(msgs[0].Payload, &pointer); err != nil {
		t.Fatalf("decode pointer: %v", err)
	}

	resolved, err := hcs.NewChunkStore(client, "").Resolve(ctx, pointer.Data)
	if err != nil {
		t.Fatalf("resolve reference: %v", err)
	}
	var w struct {
		Status string               `json:"status"`
		Report *session.AuditReport `json:"report"`
	}
	if err := json.Unmarshal(resolved, &w); err != nil {
		t.Fatalf("decode stored report: %v", err)
	}
	if w.Status != StatusError {
		t.Fatalf("unexpected status: %s", w.Status)
	}
	if w.Report.Score != 0 || len(w.Report.Findings) != 1 {
		t.Fatalf("failure report malformed: %+v", w.Report)
	}
	if !strings.Contains(w.Report.Findings[0].Description, "engine unreachable") {
		t.Fatalf("failure reason missing: %+v", w.Report.Findings[0])
	}
}

func TestDeliverFailureWithoutPrivateTopic(t *testing.T) {
	t.Parallel()

	client := hcs.NewMemoryClient()
	defer client.Close()

	d := New(client, hcs.NewChunkStore(client, ""), "0.0.100@0.0.200")
	reference, err := d.DeliverFailure(context.Background(), "", "0.0.1234", "no channel")
	if err != nil {
		t.Fatalf("missing private topic must only log: %v", err)
	}
	if reference != "" {
		t.Fatalf("no reference expected without a private topic, got %q", reference)
	}
	if client.TopicCount() != 0 {
		t.Fatalf("no transport side effects expected, got %d topics", client.TopicCount())
	}
}
