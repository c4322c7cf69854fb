package protocol

import (
	"encoding/json"
	"testing"
)

func TestParseConnectionRequest(t *testing.T) {
	t.Parallel()

	payload := []byte(`{"p":"hcs-10","op":"connection_request","operator_id":"0.0.2001@0.0.9001","m":"please audit 0.0.5005"}`)
	req, err := ParseConnectionRequest(payload)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if req.RequesterTopicID != "0.0.2001" {
		t.Fatalf("unexpected requester topic: %s", req.RequesterTopicID)
	}
	if req.RequesterAccountID != "0.0.9001" {
		t.Fatalf("unexpected requester account: %s", req.RequesterAccountID)
	}
	if req.Query != "please audit 0.0.5005" {
		t.Fatalf("unexpected query: %s", req.Query)
	}
}

func TestParseConnectionRequestRejects(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"not json":          `no brace`,
		"wrong protocol":    `{"p":"hcs-2","op":"connection_request","operator_id":"a@b"}`,
		"wrong op":          `{"p":"hcs-10","op":"message","operator_id":"a@b"}`,
		"missing operator":  `{"p":"hcs-10","op":"connection_request"}`,
		"operator no at":    `{"p":"hcs-10","op":"connection_request","operator_id":"justone"}`,
		"operator empty lh": `{"p":"hcs-10","op":"connection_request","operator_id":"@0.0.9001"}`,
	}
	for name, payload := range cases {
		if _, err := ParseConnectionRequest([]byte(payload)); err == nil {
			t.Fatalf("case %q: expected parse error", name)
		}
	}
}

func TestOperatorIDRoundTrip(t *testing.T) {
	t.Parallel()

	operatorID := FormatOperatorID("0.0.3001", "0.0.7007")
	topicID, accountID, err := ParseOperatorID(operatorID)
	if err != nil {
		t.Fatalf("parse operator id: %v", err)
	}
	if topicID != "0.0.3001" || accountID != "0.0.7007" {
		t.Fatalf("unexpected split: %s / %s", topicID, accountID)
	}
}

func TestExtractContractID(t *testing.T) {
	t.Parallel()

	cases := []struct {
		text string
		want string
	}{
		{"audit 0.0.1234 for reentrancy", "0.0.1234"},
		{"first 0.0.1 then 0.0.2", "0.0.1"},
		{"no contract here", ""},
		{"malformed 0.0.x id", ""},
	}
	for _, tc := range cases {
		if got := ExtractContractID(tc.text); got != tc.want {
			t.Fatalf("extract %q: got %q want %q", tc.text, got, tc.want)
		}
	}
}

func TestValidContractID(t *testing.T) {
	t.Parallel()

	if !ValidContractID("0.0.5005") {
		t.Fatalf("expected 0.0.5005 to be valid")
	}
	for _, invalid := range []string{"", "0.0.", "audit 0.0.5005", "0.0.5005 ", "1.2"} {
		if ValidContractID(invalid) {
			t.Fatalf("expected %q to be invalid", invalid)
		}
	}
}

func TestNewConnectionCreatedEncode(t *testing.T) {
	t.Parallel()

	msg := NewConnectionCreated("0.0.1@0.0.2", "0.0.42", "0.0.9001", 17)
	payload, err := msg.Encode()
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	var decoded Message
	if err := json.Unmarshal(payload, &decoded); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if decoded.Operation != OpConnectionCreated {
		t.Fatalf("unexpected op: %s", decoded.Operation)
	}
	if decoded.ConnectionTopicID != "0.0.42" {
		t.Fatalf("unexpected connection topic: %s", decoded.ConnectionTopicID)
	}
	if decoded.ConnectionID != 17 {
		t.Fatalf("unexpected connection id: %d", decoded.ConnectionID)
	}
}
