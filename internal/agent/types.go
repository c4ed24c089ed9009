package agent

import (
	"context"
	"time"
)

// ScheduleType 表示智能体的调度方式。
type ScheduleType string

const (
	// ScheduleInterval 按固定分钟间隔触发。
	ScheduleInterval ScheduleType = "interval"
	// ScheduleCron 按 cron 表达式触发。
	ScheduleCron ScheduleType = "cron"
	// ScheduleManual 仅由外部调用 RunOnce 触发。
	ScheduleManual ScheduleType = "manual"
)

// Schedule 描述一个智能体的调度意图。
type Schedule struct {
	Type         ScheduleType `json:"type"`
	EveryMinutes int          `json:"every_minutes,omitempty"`
	Expr         string       `json:"expr,omitempty"`
}

// Config 是智能体实例的身份与调度配置。除 Schedule 可被调度器改写外，
// 其余字段在构造后视为只读。
type Config struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Enabled     bool      `json:"enabled"`
	Schedule    *Schedule `json:"schedule,omitempty"`
	UserID      string    `json:"user_id,omitempty"`
}

// Status 表示智能体的生命周期状态。
type Status string

const (
	StatusIdle    Status = "idle"
	StatusRunning Status = "running"
	StatusPaused  Status = "paused"
	StatusError   Status = "error"
)

// Result 保存一次执行的结果。执行失败以值的形式返回，RunOnce 本身不抛错。
type Result struct {
	Success   bool          `json:"success"`
	Data      any           `json:"data,omitempty"`
	Err       string        `json:"error,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
	Duration  time.Duration `json:"duration"`
}

// EventType 表示生命周期事件类型。
type EventType string

const (
	EventStarted   EventType = "started"
	EventCompleted EventType = "completed"
	EventFailed    EventType = "failed"
	EventPaused    EventType = "paused"
	EventResumed   EventType = "resumed"
)

// Event 是生命周期通知，仅在进程内广播，不做持久化。
type Event struct {
	Type      EventType      `json:"type"`
	AgentID   string         `json:"agent_id"`
	Timestamp time.Time      `json:"timestamp"`
	Details   map[string]any `json:"details,omitempty"`
}

// Handler 处理一条生命周期事件。
type Handler func(Event)

// Info 是智能体运行状态的只读快照。
type Info struct {
	Config   Config     `json:"config"`
	Status   Status     `json:"status"`
	LastRun  *time.Time `json:"last_run,omitempty"`
	RunCount uint64     `json:"run_count"`
}

// Executor 是智能体的业务执行体。返回 error 视为执行抛出异常（状态转为
// error）；返回 Success=false 的 Result 视为业务层面的失败，状态保持不变。
type Executor interface {
	Execute(ctx context.Context, input any) (*Result, error)
}

// Initializer 是可选的初始化钩子，在 Start 将状态置为 running 之前调用。
type Initializer interface {
	Initialize(ctx context.Context) error
}

// Cleaner 是可选的清理钩子，在 Stop 时调用。
type Cleaner interface {
	Cleanup(ctx context.Context) error
}
