package runctx

import (
	"context"
	"sync"
	"testing"
)

func TestFromReturnsAttachedContext(t *testing.T) {
	ctx := With(context.Background(), Context{TenantID: "tenant-1", AgentID: "agent-1", Operation: "monitor"})

	rc, ok := From(ctx)
	if !ok {
		t.Fatal("expected context to be attached")
	}
	if rc.TenantID != "tenant-1" || rc.AgentID != "agent-1" || rc.Operation != "monitor" {
		t.Fatalf("unexpected context: %+v", rc)
	}
}

func TestFromWithoutAttachment(t *testing.T) {
	if _, ok := From(context.Background()); ok {
		t.Fatal("expected no context on plain background")
	}
	if _, ok := From(nil); ok {
		t.Fatal("expected no context for nil ctx")
	}
}

func TestConcurrentTreesAreIsolated(t *testing.T) {
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		agentID := string(rune('a' + i))
		go func() {
			defer wg.Done()
			ctx := With(context.Background(), Context{AgentID: agentID})
			// 模拟深层嵌套调用读取上下文。
			observe := func(ctx context.Context) string {
				rc, _ := From(ctx)
				return rc.AgentID
			}
			for j := 0; j < 100; j++ {
				if got := observe(ctx); got != agentID {
					t.Errorf("context leaked across trees: got %q want %q", got, agentID)
					return
				}
			}
		}()
	}
	wg.Wait()
}
