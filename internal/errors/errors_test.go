package errors

import (
	stdErrors "errors"
	"fmt"
	"testing"
)

func TestNewUsesRegistryDefaults(t *testing.T) {
	t.Parallel()

	err := New(CodeTransport, "")
	if err.Message() != "consensus transport failure" {
		t.Fatalf("unexpected default message: %s", err.Message())
	}
	if !err.Retryable() {
		t.Fatalf("transport errors must be retryable by default")
	}
	if !err.ShouldAlert() {
		t.Fatalf("transport errors must alert by default")
	}
	if err.Severity() != SeverityCritical {
		t.Fatalf("unexpected severity: %s", err.Severity())
	}
}

func TestWrapPreservesCause(t *testing.T) {
	t.Parallel()

	cause := fmt.Errorf("dial tcp: connection refused")
	err := Wrap(CodeTransport, cause, "提交消息失败")

	if !stdErrors.Is(err, New(CodeTransport, "")) {
		t.Fatalf("errors.Is must match by code")
	}
	if stdErrors.Unwrap(err) != cause {
		t.Fatalf("unwrap lost the cause")
	}
	if CodeOf(err) != CodeTransport {
		t.Fatalf("unexpected code: %s", CodeOf(err))
	}
	if CodeOf(fmt.Errorf("wrapped: %w", err)) != CodeTransport {
		t.Fatalf("code must survive fmt wrapping")
	}
}

func TestOptionsOverrideDefaults(t *testing.T) {
	t.Parallel()

	err := New(CodeParse, "坏负载",
		WithRetryable(true),
		WithAlert(true),
		WithSeverity(SeverityCritical),
		WithMetadata("topic_id", "0.0.1"),
	)
	if !err.Retryable() || !err.ShouldAlert() || err.Severity() != SeverityCritical {
		t.Fatalf("options not applied: %+v", err)
	}
	if err.Metadata()["topic_id"] != "0.0.1" {
		t.Fatalf("metadata missing: %v", err.Metadata())
	}
}

func TestCodeOfForeignError(t *testing.T) {
	t.Parallel()

	if CodeOf(fmt.Errorf("plain")) != CodeUnknown {
		t.Fatalf("foreign errors must map to UNKNOWN")
	}
	if RetryableError(fmt.Errorf("plain")) {
		t.Fatalf("foreign errors must not be retryable")
	}
	if SeverityOf(fmt.Errorf("plain")) != SeverityCritical {
		t.Fatalf("foreign errors carry the UNKNOWN severity")
	}
}

func TestAttributesOfUnregisteredCode(t *testing.T) {
	t.Parallel()

	attr := AttributesOf(Code("NOT_REGISTERED"))
	if attr.Message != "unknown error" {
		t.Fatalf("unregistered code must fall back to UNKNOWN: %+v", attr)
	}
}
