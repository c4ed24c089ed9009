package agent

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"StableWatch-Chain/internal/runctx"
)

// fakeExecutor 可配置的执行体，记录调用次数与观察到的上下文。
type fakeExecutor struct {
	calls    atomic.Int32
	initErr  error
	execErr  error
	soft     bool
	panics   bool
	latency  time.Duration
	lastCtx  atomic.Value
	cleanups atomic.Int32
}

func (f *fakeExecutor) Execute(ctx context.Context, input any) (*Result, error) {
	f.calls.Add(1)
	if rc, ok := runctx.From(ctx); ok {
		f.lastCtx.Store(rc)
	}
	if f.latency > 0 {
		time.Sleep(f.latency)
	}
	if f.panics {
		panic("boom")
	}
	if f.execErr != nil {
		return nil, f.execErr
	}
	if f.soft {
		return &Result{Success: false, Err: "soft failure"}, nil
	}
	return &Result{Success: true, Data: "ok"}, nil
}

func (f *fakeExecutor) Initialize(ctx context.Context) error { return f.initErr }

func (f *fakeExecutor) Cleanup(ctx context.Context) error {
	f.cleanups.Add(1)
	return nil
}

func newTestAgent(exec Executor) *Agent {
	return New(Config{ID: "a1", Name: "test-agent", Enabled: true, UserID: "tenant-1"}, exec)
}

func TestRunCountMonotonic(t *testing.T) {
	exec := &fakeExecutor{}
	a := newTestAgent(exec)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		a.RunOnce(ctx, nil)
	}
	exec.execErr = errors.New("失败")
	for i := 0; i < 3; i++ {
		a.RunOnce(ctx, nil)
	}

	if got := a.Info().RunCount; got != 8 {
		t.Fatalf("run count 应为 8，实际 %d", got)
	}
}

func TestPausedShortCircuit(t *testing.T) {
	exec := &fakeExecutor{}
	a := newTestAgent(exec)
	ctx := context.Background()

	if err := a.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	a.Pause()

	res := a.RunOnce(ctx, nil)
	if res.Success {
		t.Fatal("暂停状态下执行应返回失败")
	}
	if res.Err != "agent is paused" {
		t.Fatalf("unexpected error: %q", res.Err)
	}
	if res.Duration != 0 {
		t.Fatalf("短路返回的 duration 应为 0，实际 %v", res.Duration)
	}
	if exec.calls.Load() != 0 {
		t.Fatal("暂停状态下不应调用 Execute")
	}
	// 计数与 lastRun 在暂停检查之前无条件更新。
	info := a.Info()
	if info.RunCount != 1 {
		t.Fatalf("run count 应为 1，实际 %d", info.RunCount)
	}
	if info.LastRun == nil {
		t.Fatal("lastRun 应已记录")
	}
}

func TestRunOncePropagatesContext(t *testing.T) {
	exec := &fakeExecutor{}
	a := newTestAgent(exec)

	a.RunOnce(context.Background(), nil)

	rc, ok := exec.lastCtx.Load().(runctx.Context)
	if !ok {
		t.Fatal("执行体未观察到运行上下文")
	}
	if rc.TenantID != "tenant-1" || rc.AgentID != "a1" || rc.Operation != "test-agent" {
		t.Fatalf("unexpected run context: %+v", rc)
	}
}

func TestExecutorErrorSetsErrorStatus(t *testing.T) {
	exec := &fakeExecutor{execErr: errors.New("rpc down")}
	a := newTestAgent(exec)

	var failed atomic.Int32
	a.OnEventType(EventFailed, func(Event) { failed.Add(1) })

	res := a.RunOnce(context.Background(), nil)
	if res.Success {
		t.Fatal("应返回失败结果")
	}
	if a.Info().Status != StatusError {
		t.Fatalf("状态应为 error，实际 %s", a.Info().Status)
	}
	if failed.Load() != 1 {
		t.Fatalf("应发出 1 条 failed 事件，实际 %d", failed.Load())
	}
}

func TestSoftFailureKeepsStatus(t *testing.T) {
	exec := &fakeExecutor{soft: true}
	a := newTestAgent(exec)

	res := a.RunOnce(context.Background(), nil)
	if res.Success {
		t.Fatal("应返回失败结果")
	}
	if a.Info().Status == StatusError {
		t.Fatal("业务失败不应将状态置为 error")
	}
}

func TestExecutorPanicIsRecovered(t *testing.T) {
	exec := &fakeExecutor{panics: true}
	a := newTestAgent(exec)

	res := a.RunOnce(context.Background(), nil)
	if res.Success {
		t.Fatal("panic 应转化为失败结果")
	}
	if a.Info().Status != StatusError {
		t.Fatalf("panic 后状态应为 error，实际 %s", a.Info().Status)
	}
}

func TestStartIsIdempotent(t *testing.T) {
	exec := &fakeExecutor{}
	a := newTestAgent(exec)
	ctx := context.Background()

	var started atomic.Int32
	a.OnEventType(EventStarted, func(Event) { started.Add(1) })

	if err := a.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := a.Start(ctx); err != nil {
		t.Fatalf("重复 start 应为空操作: %v", err)
	}
	if started.Load() != 1 {
		t.Fatalf("started 事件应只发出一次，实际 %d", started.Load())
	}
}

func TestInitializeFailurePropagates(t *testing.T) {
	exec := &fakeExecutor{initErr: errors.New("no api key")}
	a := newTestAgent(exec)

	var failed atomic.Int32
	a.OnEventType(EventFailed, func(Event) { failed.Add(1) })

	if err := a.Start(context.Background()); err == nil {
		t.Fatal("初始化失败应向调用方传播")
	}
	if a.Info().Status != StatusError {
		t.Fatalf("初始化失败后状态应为 error，实际 %s", a.Info().Status)
	}
	if failed.Load() != 1 {
		t.Fatal("初始化失败应发出 failed 事件")
	}
}

func TestIntervalStartTriggersImmediateRun(t *testing.T) {
	exec := &fakeExecutor{}
	cfg := Config{
		ID: "a1", Name: "test-agent", Enabled: true,
		Schedule: &Schedule{Type: ScheduleInterval, EveryMinutes: 5},
	}
	a := New(cfg, exec)

	done := make(chan Event, 1)
	a.OnEventType(EventCompleted, func(e Event) {
		select {
		case done <- e:
		default:
		}
	})

	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer a.Stop(context.Background())

	// 首次执行应远早于 5 分钟的定时周期。
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("启动后未观察到立即执行")
	}
	if got := a.Info().RunCount; got != 1 {
		t.Fatalf("首次执行后 run count 应为 1，实际 %d", got)
	}
}

func TestStopEmitsPausedAndCleansUp(t *testing.T) {
	exec := &fakeExecutor{}
	a := newTestAgent(exec)
	ctx := context.Background()

	var paused atomic.Int32
	a.OnEventType(EventPaused, func(Event) { paused.Add(1) })

	if err := a.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := a.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if a.Info().Status != StatusIdle {
		t.Fatalf("stop 后状态应为 idle，实际 %s", a.Info().Status)
	}
	if paused.Load() != 1 {
		t.Fatal("stop 应发出 paused 事件")
	}
	if exec.cleanups.Load() != 1 {
		t.Fatal("stop 应调用清理钩子")
	}
	// 未运行时再次 Stop 是安全的空操作。
	if err := a.Stop(ctx); err != nil {
		t.Fatalf("重复 stop: %v", err)
	}
}

func TestPauseResumeTransitions(t *testing.T) {
	exec := &fakeExecutor{}
	a := newTestAgent(exec)
	ctx := context.Background()

	// idle 状态下 Pause/Resume 均为空操作。
	a.Pause()
	if a.Info().Status != StatusIdle {
		t.Fatal("idle 下 Pause 应为空操作")
	}
	a.Resume()
	if a.Info().Status != StatusIdle {
		t.Fatal("idle 下 Resume 应为空操作")
	}

	if err := a.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	var resumed atomic.Int32
	a.OnEventType(EventResumed, func(Event) { resumed.Add(1) })

	a.Pause()
	if a.Info().Status != StatusPaused {
		t.Fatal("Pause 后状态应为 paused")
	}
	a.Resume()
	if a.Info().Status != StatusRunning {
		t.Fatal("Resume 后状态应为 running")
	}
	if resumed.Load() != 1 {
		t.Fatal("Resume 应发出 resumed 事件")
	}
}

func TestManualRunsAreSerialized(t *testing.T) {
	exec := &fakeExecutor{latency: 20 * time.Millisecond}
	a := newTestAgent(exec)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.RunOnce(context.Background(), nil)
		}()
	}
	wg.Wait()

	if exec.calls.Load() != 4 {
		t.Fatalf("手动触发应全部排队执行，实际执行 %d 次", exec.calls.Load())
	}
	if a.Info().RunCount != 4 {
		t.Fatalf("run count 应为 4，实际 %d", a.Info().RunCount)
	}
}

func TestCronScheduleInstallsTimer(t *testing.T) {
	exec := &fakeExecutor{}
	cfg := Config{
		ID: "a1", Name: "test-agent", Enabled: true,
		Schedule: &Schedule{Type: ScheduleCron, Expr: "*/5 * * * *"},
	}
	a := New(cfg, exec)

	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if a.Info().Status != StatusRunning {
		t.Fatalf("cron 调度启动后状态应为 running，实际 %s", a.Info().Status)
	}
	if err := a.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if a.Info().Status == StatusRunning {
		t.Fatal("stop 后不应仍处于 running")
	}
}

func TestConcurrentStartInstallsSingleLoop(t *testing.T) {
	exec := &fakeExecutor{}
	cfg := Config{
		ID: "a1", Name: "test-agent", Enabled: true,
		Schedule: &Schedule{Type: ScheduleInterval, EveryMinutes: 5},
	}
	a := New(cfg, exec)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = a.Start(context.Background())
		}()
	}
	wg.Wait()

	// 间隔调度在启动时立即执行一次；若并发 Start 安装了多个定时循环，
	// 这里会观察到多次立即执行。
	time.Sleep(300 * time.Millisecond)
	if got := exec.calls.Load(); got != 1 {
		t.Fatalf("并发 Start 只应安装一个定时循环，立即执行 %d 次", got)
	}

	if err := a.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if a.Info().Status == StatusRunning {
		t.Fatal("stop 后不应仍处于 running")
	}
}
