package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/adhocore/gronx"

	xerrors "StableWatch-Chain/internal/errors"
	"StableWatch-Chain/internal/runctx"
	"StableWatch-Chain/pkg/logger"
)

// cronPulse 是 cron 表达式的检查周期。表达式粒度为分钟，一分钟检查一次足够。
const cronPulse = time.Minute

// Agent 将一个 Executor 包装为可调度的智能体：维护生命周期状态、运行计数、
// 定时器以及事件广播。状态只由 Agent 自身修改，外部通过 Info 读取快照。
type Agent struct {
	cfg  Config
	exec Executor
	log  *slog.Logger

	emitter *emitter

	mu       sync.Mutex
	status   Status
	lastRun  time.Time
	runCount uint64
	stopCh   chan struct{}

	// runMu 串行化同一实例的 RunOnce。手动触发排队等待，
	// 定时触发在上一轮未结束时直接跳过（见 tick）。
	runMu sync.Mutex
}

// New 构造一个智能体。exec 必须实现 Executor，可以额外实现
// Initializer/Cleaner 钩子。
func New(cfg Config, exec Executor) *Agent {
	return &Agent{
		cfg:     cfg,
		exec:    exec,
		log:     logger.Named("agent").With(slog.String("agent_id", cfg.ID)),
		emitter: newEmitter(),
		status:  StatusIdle,
	}
}

// Config 返回智能体配置的副本。
func (a *Agent) Config() Config {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cfg
}

// Info 返回当前运行状态的只读快照。
func (a *Agent) Info() Info {
	a.mu.Lock()
	defer a.mu.Unlock()
	info := Info{Config: a.cfg, Status: a.status, RunCount: a.runCount}
	if !a.lastRun.IsZero() {
		last := a.lastRun
		info.LastRun = &last
	}
	return info
}

// OnEvent 注册接收此智能体全部生命周期事件的订阅者。
func (a *Agent) OnEvent(h Handler) {
	a.emitter.subscribe(h)
}

// OnEventType 注册只接收指定类型事件的订阅者。
func (a *Agent) OnEventType(t EventType, h Handler) {
	a.emitter.subscribeType(t, h)
}

// Start 启动智能体。幂等：已处于 running 时记录日志后直接返回。
// 初始化钩子失败时状态转为 error，错误向调用方传播。
func (a *Agent) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.status == StatusRunning {
		a.mu.Unlock()
		a.log.Info("智能体已在运行，跳过启动")
		return nil
	}
	a.mu.Unlock()

	if init, ok := a.exec.(Initializer); ok {
		if err := init.Initialize(ctx); err != nil {
			a.setStatus(StatusError)
			a.emitter.emit(newEvent(EventFailed, a.cfg.ID, map[string]any{"error": err.Error()}))
			return xerrors.Wrap(xerrors.CodeAgentInitFailure, err, fmt.Sprintf("智能体 %s 初始化失败", a.cfg.ID))
		}
	}

	a.mu.Lock()
	// 初始化期间可能有并发的 Start 抢先完成，重新检查避免安装第二个
	// 定时循环并覆盖 stopCh。
	if a.status == StatusRunning {
		a.mu.Unlock()
		a.log.Info("智能体已在运行，跳过启动")
		return nil
	}
	a.status = StatusRunning
	stopCh := make(chan struct{})
	a.stopCh = stopCh
	schedule := a.cfg.Schedule
	a.mu.Unlock()

	a.emitter.emit(newEvent(EventStarted, a.cfg.ID, nil))
	a.log.Info("智能体已启动")
	logger.Audit().Info("agent started",
		slog.String("agent_id", a.cfg.ID),
		slog.String("name", a.cfg.Name),
	)

	if schedule == nil {
		return nil
	}
	switch schedule.Type {
	case ScheduleInterval:
		interval := time.Duration(schedule.EveryMinutes) * time.Minute
		if interval <= 0 {
			a.log.Warn("interval 调度缺少有效的分钟数，不安装定时器")
			return nil
		}
		// 启动后立即异步执行一次，随后按间隔触发。每次触发的错误独立捕获。
		go a.tick(ctx, nil)
		go a.intervalLoop(ctx, stopCh, interval)
	case ScheduleCron:
		expr := strings.TrimSpace(schedule.Expr)
		if expr == "" || !gronx.IsValid(expr) {
			a.log.Warn("cron 表达式无效，不安装定时器", slog.String("expr", expr))
			return nil
		}
		go a.cronLoop(ctx, stopCh, expr)
	case ScheduleManual:
		// 等待外部触发。
	}
	return nil
}

// intervalLoop 按固定间隔触发执行，直到 Stop 或 ctx 取消。
func (a *Agent) intervalLoop(ctx context.Context, stopCh <-chan struct{}, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.tick(ctx, nil)
		}
	}
}

// cronLoop 每分钟检查一次表达式是否到期。
func (a *Agent) cronLoop(ctx context.Context, stopCh <-chan struct{}, expr string) {
	gx := gronx.New()
	ticker := time.NewTicker(cronPulse)
	defer ticker.Stop()
	for {
		select {
		case <-stopCh:
			return
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			due, err := gx.IsDue(expr, now)
			if err != nil {
				a.log.Error("cron 表达式求值失败", slog.Any("error", err), slog.String("expr", expr))
				continue
			}
			if due {
				a.tick(ctx, nil)
			}
		}
	}
}

// tick 是定时器路径的入口：上一轮执行尚未结束时跳过本轮，避免同一实例
// 的水位与历史状态被并发改写。
func (a *Agent) tick(ctx context.Context, input any) {
	if !a.runMu.TryLock() {
		a.log.Debug("上一轮执行未结束，跳过本次触发")
		return
	}
	defer a.runMu.Unlock()
	_ = a.runLocked(ctx, input)
}

// RunOnce 是唯一的执行入口，定时器与手动触发共用。永不向外抛出异常，
// 失败以 Result 值表示。手动调用在上一轮执行未结束时排队等待。
func (a *Agent) RunOnce(ctx context.Context, input any) *Result {
	a.runMu.Lock()
	defer a.runMu.Unlock()
	return a.runLocked(ctx, input)
}

// runLocked 执行一次业务逻辑。调用方必须持有 runMu。
func (a *Agent) runLocked(ctx context.Context, input any) *Result {
	start := time.Now()

	// 先记账再判断暂停：lastRun 与 runCount 无条件更新，计数只增不减。
	a.mu.Lock()
	a.runCount++
	a.lastRun = start
	paused := a.status == StatusPaused
	a.mu.Unlock()

	if paused {
		return &Result{Success: false, Err: "agent is paused", Timestamp: start, Duration: 0}
	}

	runCtx := runctx.With(ctx, runctx.Context{
		TenantID:  a.cfg.UserID,
		AgentID:   a.cfg.ID,
		Operation: a.cfg.Name,
	})

	res, err := a.safeExecute(runCtx, input)
	elapsed := time.Since(start)

	if err != nil {
		a.setStatus(StatusError)
		a.log.Error("智能体执行异常", slog.Any("error", err), slog.Duration("duration", elapsed))
		a.emitter.emit(newEvent(EventFailed, a.cfg.ID, map[string]any{
			"error":    err.Error(),
			"duration": elapsed.Milliseconds(),
		}))
		return &Result{Success: false, Err: err.Error(), Timestamp: start, Duration: elapsed}
	}

	if res == nil {
		res = &Result{Success: true}
	}
	res.Timestamp = start
	res.Duration = elapsed

	if res.Success {
		a.emitter.emit(newEvent(EventCompleted, a.cfg.ID, map[string]any{
			"result":   res.Data,
			"duration": elapsed.Milliseconds(),
		}))
	} else {
		a.log.Warn("智能体执行失败", slog.String("error", res.Err), slog.Duration("duration", elapsed))
		a.emitter.emit(newEvent(EventFailed, a.cfg.ID, map[string]any{
			"error":    res.Err,
			"duration": elapsed.Milliseconds(),
		}))
	}
	return res
}

// safeExecute 调用业务执行体并吸收 panic。
func (a *Agent) safeExecute(ctx context.Context, input any) (res *Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			res = nil
			err = fmt.Errorf("执行体 panic: %v", r)
		}
	}()
	return a.exec.Execute(ctx, input)
}

// Stop 取消定时器并调用清理钩子，状态回到 idle。未运行时调用是安全的空操作。
// 正在进行中的执行不会被打断，只是后续不再触发。
func (a *Agent) Stop(ctx context.Context) error {
	a.mu.Lock()
	if a.stopCh != nil {
		close(a.stopCh)
		a.stopCh = nil
	}
	a.mu.Unlock()

	var cleanupErr error
	if cleaner, ok := a.exec.(Cleaner); ok {
		if err := cleaner.Cleanup(ctx); err != nil {
			cleanupErr = xerrors.Wrap(xerrors.CodeAgentExecFailure, err, fmt.Sprintf("智能体 %s 清理失败", a.cfg.ID))
			a.log.Error("清理钩子失败", slog.Any("error", err))
		}
	}

	a.setStatus(StatusIdle)
	a.emitter.emit(newEvent(EventPaused, a.cfg.ID, nil))
	a.log.Info("智能体已停止")
	return cleanupErr
}

// Pause 将 running 状态转为 paused。其他状态下是空操作。
// 定时器继续运行，但 RunOnce 会短路返回。
func (a *Agent) Pause() {
	a.mu.Lock()
	if a.status != StatusRunning {
		a.mu.Unlock()
		return
	}
	a.status = StatusPaused
	a.mu.Unlock()
	a.emitter.emit(newEvent(EventPaused, a.cfg.ID, nil))
	a.log.Info("智能体已暂停")
}

// Resume 将 paused 状态恢复为 running。其他状态下是空操作。
func (a *Agent) Resume() {
	a.mu.Lock()
	if a.status != StatusPaused {
		a.mu.Unlock()
		return
	}
	a.status = StatusRunning
	a.mu.Unlock()
	a.emitter.emit(newEvent(EventResumed, a.cfg.ID, nil))
	a.log.Info("智能体已恢复")
}

// setSchedule 改写调度配置。仅供调度器在重启流程中使用。
func (a *Agent) setSchedule(s *Schedule) {
	a.mu.Lock()
	a.cfg.Schedule = s
	a.mu.Unlock()
}

func (a *Agent) setStatus(s Status) {
	a.mu.Lock()
	a.status = s
	a.mu.Unlock()
}
