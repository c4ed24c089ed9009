// Package dedupe 提供事件去重标记，避免重启或区间重叠后同一条链上
// 日志被二次处理。键形如 network:address:txHash:logIndex。
package dedupe

import (
	"context"
	"sync"
	"time"
)

// Marker 记录并检查事件指纹。Seen 返回 true 表示该键此前已出现，
// 调用方应跳过；返回 false 时键已被原子地登记。
type Marker interface {
	Seen(ctx context.Context, key string) (bool, error)
	Close() error
}

// MemoryMarker 是进程内实现，带 TTL 过期，用于测试与单机部署。
type MemoryMarker struct {
	mu      sync.Mutex
	seen    map[string]time.Time
	ttl     time.Duration
	now     func() time.Time
	lastGC  time.Time
	gcEvery time.Duration
}

// NewMemoryMarker 构造内存去重器。ttl<=0 时默认 24 小时。
func NewMemoryMarker(ttl time.Duration) *MemoryMarker {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &MemoryMarker{
		seen:    make(map[string]time.Time),
		ttl:     ttl,
		now:     time.Now,
		gcEvery: time.Minute,
	}
}

// Seen 实现 Marker。
func (m *MemoryMarker) Seen(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if now.Sub(m.lastGC) >= m.gcEvery {
		for k, expiry := range m.seen {
			if now.After(expiry) {
				delete(m.seen, k)
			}
		}
		m.lastGC = now
	}

	if expiry, ok := m.seen[key]; ok && now.Before(expiry) {
		return true, nil
	}
	m.seen[key] = now.Add(m.ttl)
	return false, nil
}

// Close 实现 Marker，内存实现无资源可释放。
func (m *MemoryMarker) Close() error {
	return nil
}
