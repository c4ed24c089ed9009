package dedupe

import (
	"context"
	"testing"
	"time"
)

func TestMemoryMarkerFirstSightRegisters(t *testing.T) {
	t.Parallel()

	marker := NewMemoryMarker(time.Hour)
	ctx := context.Background()

	seen, err := marker.Seen(ctx, "ethereum:0xabc:0xdeadbeef:3")
	if err != nil {
		t.Fatalf("seen: %v", err)
	}
	if seen {
		t.Fatal("fresh key reported as seen")
	}

	seen, err = marker.Seen(ctx, "ethereum:0xabc:0xdeadbeef:3")
	if err != nil {
		t.Fatalf("seen: %v", err)
	}
	if !seen {
		t.Fatal("repeated key not reported as seen")
	}
}

func TestMemoryMarkerKeysAreIndependent(t *testing.T) {
	t.Parallel()

	marker := NewMemoryMarker(time.Hour)
	ctx := context.Background()

	if seen, _ := marker.Seen(ctx, "a:1"); seen {
		t.Fatal("key a:1 unexpectedly seen")
	}
	if seen, _ := marker.Seen(ctx, "a:2"); seen {
		t.Fatal("key a:2 unexpectedly seen")
	}
}

func TestMemoryMarkerExpiry(t *testing.T) {
	t.Parallel()

	marker := NewMemoryMarker(time.Minute)
	current := time.Unix(1_700_000_000, 0)
	marker.now = func() time.Time { return current }
	ctx := context.Background()

	if seen, _ := marker.Seen(ctx, "k"); seen {
		t.Fatal("fresh key reported as seen")
	}

	current = current.Add(2 * time.Minute)
	if seen, _ := marker.Seen(ctx, "k"); seen {
		t.Fatal("expired key should be treated as fresh")
	}
}
