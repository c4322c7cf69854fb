package contract

import (
	"strings"
	"testing"
)

func TestLongZeroAddress(t *testing.T) {
	t.Parallel()

	addr, err := LongZeroAddress("0.0.1234")
	if err != nil {
		t.Fatalf("long-zero conversion failed: %v", err)
	}
	if got := strings.ToLower(addr.Hex()); got != "0x00000000000000000000000000000000000004d2" {
		t.Fatalf("unexpected address: %s", got)
	}
}

func TestLongZeroAddressNonZeroShardRealm(t *testing.T) {
	t.Parallel()

	addr, err := LongZeroAddress("1.2.3")
	if err != nil {
		t.Fatalf("long-zero conversion failed: %v", err)
	}
	if addr[3] != 1 {
		t.Fatalf("shard not packed big-endian: %x", addr)
	}
	if addr[11] != 2 {
		t.Fatalf("realm not packed big-endian: %x", addr)
	}
	if addr[19] != 3 {
		t.Fatalf("num not packed big-endian: %x", addr)
	}
}

func TestParseEntityIDRejects(t *testing.T) {
	t.Parallel()

	for _, id := range []string{"", "0.0", "0.0.0.0", "a.b.c", "0.0.x"} {
		if _, _, _, err := ParseEntityID(id); err == nil {
			t.Fatalf("expected %q to be rejected", id)
		}
	}
}
