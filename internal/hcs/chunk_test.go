package hcs

import (
	"bytes"
	"context"
	"errors"
	"testing"
)

func TestReferenceRoundTrip(t *testing.T) {
	t.Parallel()

	ref := FormatReference("0.0.1234")
	if ref != "hcs://1/0.0.1234" {
		t.Fatalf("unexpected reference: %s", ref)
	}
	topicID, err := ParseReference(ref)
	if err != nil {
		t.Fatalf("parse reference: %v", err)
	}
	if topicID != "0.0.1234" {
		t.Fatalf("unexpected topic id: %s", topicID)
	}
}

func TestParseReferenceRejects(t *testing.T) {
	t.Parallel()

	for _, ref := range []string{"", "http://1/0.0.1", "hcs://2/0.0.1", "hcs://1/", "hcs://1"} {
		if _, err := ParseReference(ref); err == nil {
			t.Fatalf("expected error for reference %q", ref)
		}
	}
}

func TestChunkStoreRoundTrip(t *testing.T) {
	t.Parallel()

	client := NewMemoryClient()
	defer client.Close()
	store := NewChunkStore(client, "test-object")
	ctx := context.Background()

	// 跨越三帧，最后一帧不满。
	data := bytes.Repeat([]byte{0xAB}, MaxFrameBytes*2+100)
	ref, err := store.Store(ctx, data)
	if err != nil {
		t.Fatalf("store failed: %v", err)
	}

	topicID, err := ParseReference(ref)
	if err != nil {
		t.Fatalf("parse stored reference: %v", err)
	}
	frames := client.Messages(topicID)
	if len(frames) != 3 {
		t.Fatalf("unexpected frame count: got %d want 3", len(frames))
	}
	if len(frames[0].Payload) != MaxFrameBytes {
		t.Fatalf("frame 0 should be full: %d bytes", len(frames[0].Payload))
	}
	if len(frames[2].Payload) != 100 {
		t.Fatalf("last frame should hold the remainder: %d bytes", len(frames[2].Payload))
	}
	if client.TopicMemo(topicID) != "test-object" {
		t.Fatalf("unexpected topic memo: %s", client.TopicMemo(topicID))
	}

	resolved, err := store.Resolve(ctx, ref)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if !bytes.Equal(resolved, data) {
		t.Fatalf("resolved payload differs from original: got %d bytes want %d", len(resolved), len(data))
	}
}

func TestChunkStoreExactMultiple(t *testing.T) {
	t.Parallel()

	client := NewMemoryClient()
	defer client.Close()
	store := NewChunkStore(client, "")
	ctx := context.Background()

	data := bytes.Repeat([]byte{0x01}, MaxFrameBytes*2)
	ref, err := store.Store(ctx, data)
	if err != nil {
		t.Fatalf("store failed: %v", err)
	}
	topicID, _ := ParseReference(ref)
	if got := len(client.Messages(topicID)); got != 2 {
		t.Fatalf("exact multiple should produce 2 frames, got %d", got)
	}
}

func TestChunkStoreEmptyPayload(t *testing.T) {
	t.Parallel()

	client := NewMemoryClient()
	defer client.Close()
	store := NewChunkStore(client, "")
	ctx := context.Background()

	ref, err := store.Store(ctx, nil)
	if err != nil {
		t.Fatalf("store failed: %v", err)
	}
	topicID, err := ParseReference(ref)
	if err != nil {
		t.Fatalf("empty payload must still yield a parseable reference: %v", err)
	}
	if got := len(client.Messages(topicID)); got != 0 {
		t.Fatalf("empty payload should produce zero frames, got %d", got)
	}

	resolved, err := store.Resolve(ctx, ref)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if len(resolved) != 0 {
		t.Fatalf("expected empty reassembly, got %d bytes", len(resolved))
	}
}

func TestChunkStoreFreshTopicPerObject(t *testing.T) {
	t.Parallel()

	client := NewMemoryClient()
	defer client.Close()
	store := NewChunkStore(client, "")
	ctx := context.Background()

	refA, err := store.Store(ctx, []byte("object a"))
	if err != nil {
		t.Fatalf("store a: %v", err)
	}
	refB, err := store.Store(ctx, []byte("object b"))
	if err != nil {
		t.Fatalf("store b: %v", err)
	}
	if refA == refB {
		t.Fatalf("each object must get its own topic, both got %s", refA)
	}
}

// flakySubmitClient 在第 failAt 次写帧时返回错误。
type flakySubmitClient struct {
	*MemoryClient
	submits int
	failAt  int
}

func (c *flakySubmitClient) SubmitMessage(ctx context.Context, topicID string, payload []byte) (uint64, error) {
	c.submits++
	if c.submits == c.failAt {
		return 0, errors.New("consensus node rejected the frame")
	}
	return c.MemoryClient.SubmitMessage(ctx, topicID, payload)
}

func TestChunkStoreAbortsOnFrameFailure(t *testing.T) {
	t.Parallel()

	memory := NewMemoryClient()
	defer memory.Close()
	client := &flakySubmitClient{MemoryClient: memory, failAt: 2}
	store := NewChunkStore(client, "")
	ctx := context.Background()

	topicsBefore := memory.TopicCount()
	data := bytes.Repeat([]byte{0xCD}, MaxFrameBytes*2+100)
	ref, err := store.Store(ctx, data)
	if err == nil {
		t.Fatalf("expected store to fail on the second frame")
	}
	// 中止时不得返回部分引用。
	if ref != "" {
		t.Fatalf("aborted store must not return a reference, got %q", ref)
	}
	// 承载主题已创建且残留第一帧，但没有任何引用指向它。
	if memory.TopicCount() != topicsBefore+1 {
		t.Fatalf("expected exactly one chunk topic, got %d new", memory.TopicCount()-topicsBefore)
	}
	if c := client.submits; c != 2 {
		t.Fatalf("store must stop at the failing frame: %d submits", c)
	}
}
