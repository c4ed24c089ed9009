package agent

import (
	"log/slog"
	"sync"
	"time"

	"StableWatch-Chain/pkg/logger"
)

// emitter 维护一组事件订阅者。单个订阅者 panic 不影响其余订阅者收到事件。
type emitter struct {
	mu       sync.RWMutex
	handlers []Handler
	typed    map[EventType][]Handler
}

func newEmitter() *emitter {
	return &emitter{typed: make(map[EventType][]Handler)}
}

// subscribe 注册一个接收全部事件的订阅者。
func (e *emitter) subscribe(h Handler) {
	if h == nil {
		return
	}
	e.mu.Lock()
	e.handlers = append(e.handlers, h)
	e.mu.Unlock()
}

// subscribeType 注册一个只接收指定类型事件的订阅者。
func (e *emitter) subscribeType(t EventType, h Handler) {
	if h == nil {
		return
	}
	e.mu.Lock()
	e.typed[t] = append(e.typed[t], h)
	e.mu.Unlock()
}

// emit 同步广播事件。没有订阅者时是纯空操作。
func (e *emitter) emit(event Event) {
	e.mu.RLock()
	all := make([]Handler, 0, len(e.handlers)+len(e.typed[event.Type]))
	all = append(all, e.handlers...)
	all = append(all, e.typed[event.Type]...)
	e.mu.RUnlock()

	for _, h := range all {
		invoke(h, event)
	}
}

// invoke 在独立的恢复边界内调用订阅者。
func invoke(h Handler, event Event) {
	defer func() {
		if r := recover(); r != nil {
			logger.L().Error("事件订阅者 panic",
				slog.Any("panic", r),
				slog.String("agent_id", event.AgentID),
				slog.String("event_type", string(event.Type)),
			)
		}
	}()
	h(event)
}

// newEvent 构造一条事件。
func newEvent(t EventType, agentID string, details map[string]any) Event {
	return Event{
		Type:      t,
		AgentID:   agentID,
		Timestamp: time.Now(),
		Details:   details,
	}
}
