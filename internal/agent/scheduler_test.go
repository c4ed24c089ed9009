package agent

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	xerrors "StableWatch-Chain/internal/errors"
)

func TestRegisterRejectsDuplicateID(t *testing.T) {
	s := NewScheduler()
	first := New(Config{ID: "dup", Name: "first"}, &fakeExecutor{})
	second := New(Config{ID: "dup", Name: "second"}, &fakeExecutor{})

	s.Register(first)
	s.Register(second)

	infos := s.Agents()
	if len(infos) != 1 {
		t.Fatalf("注册表应只有一个条目，实际 %d", len(infos))
	}
	if infos[0].Config.Name != "first" {
		t.Fatalf("应保留先注册的实例，实际 %s", infos[0].Config.Name)
	}
}

func TestSchedulerRebroadcastsAgentEvents(t *testing.T) {
	s := NewScheduler()
	a := newTestAgent(&fakeExecutor{})
	s.Register(a)

	var seen atomic.Int32
	s.OnEvent(func(e Event) {
		if e.AgentID == "a1" {
			seen.Add(1)
		}
	})

	a.RunOnce(context.Background(), nil)
	if seen.Load() == 0 {
		t.Fatal("调度器应转发智能体事件")
	}
}

func TestHandlerPanicDoesNotBlockOthers(t *testing.T) {
	s := NewScheduler()
	a := newTestAgent(&fakeExecutor{})
	s.Register(a)

	var second atomic.Int32
	s.OnEvent(func(Event) { panic("handler exploded") })
	s.OnEvent(func(Event) { second.Add(1) })

	a.RunOnce(context.Background(), nil)
	if second.Load() == 0 {
		t.Fatal("一个订阅者 panic 不应阻断其他订阅者")
	}
}

func TestStartAllSkipsDisabledAndSurvivesFailure(t *testing.T) {
	s := NewScheduler()
	ctx := context.Background()

	good := New(Config{ID: "good", Name: "good", Enabled: true}, &fakeExecutor{})
	bad := New(Config{ID: "bad", Name: "bad", Enabled: true}, &fakeExecutor{initErr: errors.New("init 失败")})
	disabled := New(Config{ID: "off", Name: "off", Enabled: false}, &fakeExecutor{})
	s.Register(good)
	s.Register(bad)
	s.Register(disabled)

	s.StartAll(ctx)
	defer s.StopAll(ctx)

	if got, _ := s.Agent("good"); got.Status != StatusRunning {
		t.Fatalf("good 应处于 running，实际 %s", got.Status)
	}
	if got, _ := s.Agent("bad"); got.Status != StatusError {
		t.Fatalf("bad 应处于 error，实际 %s", got.Status)
	}
	if got, _ := s.Agent("off"); got.Status != StatusIdle {
		t.Fatalf("disabled 的智能体不应被启动，实际 %s", got.Status)
	}
}

func TestOperationsOnUnknownAgent(t *testing.T) {
	s := NewScheduler()
	ctx := context.Background()

	if err := s.Start(ctx, "ghost"); xerrors.CodeOf(err) != xerrors.CodeAgentNotFound {
		t.Fatalf("期望 AGENT_NOT_FOUND，实际 %v", err)
	}
	if err := s.Stop(ctx, "ghost"); xerrors.CodeOf(err) != xerrors.CodeAgentNotFound {
		t.Fatalf("期望 AGENT_NOT_FOUND，实际 %v", err)
	}
	if _, err := s.RunOnce(ctx, "ghost", nil); xerrors.CodeOf(err) != xerrors.CodeAgentNotFound {
		t.Fatalf("期望 AGENT_NOT_FOUND，实际 %v", err)
	}
	if ok := s.UpdateAgentInterval(ctx, "ghost", 10); ok {
		t.Fatal("未知 ID 的间隔更新应返回 false")
	}
}

func TestUnregisterStopsAgent(t *testing.T) {
	s := NewScheduler()
	ctx := context.Background()
	exec := &fakeExecutor{}
	a := newTestAgent(exec)
	s.Register(a)

	if err := a.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	s.Unregister(ctx, "a1")

	if _, ok := s.Agent("a1"); ok {
		t.Fatal("注销后不应再能查到智能体")
	}
	if a.Info().Status != StatusIdle {
		t.Fatal("注销应先停止智能体")
	}
	// 不存在的 ID 注销是空操作。
	s.Unregister(ctx, "a1")
}

func TestUpdateAgentIntervalRestartsRunningAgent(t *testing.T) {
	s := NewScheduler()
	ctx := context.Background()
	a := New(Config{
		ID: "a1", Name: "test-agent", Enabled: true,
		Schedule: &Schedule{Type: ScheduleInterval, EveryMinutes: 5},
	}, &fakeExecutor{})
	s.Register(a)

	if err := a.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	events := make(chan EventType, 8)
	s.OnEvent(func(e Event) {
		if e.Type == EventPaused || e.Type == EventStarted {
			events <- e.Type
		}
	})

	if ok := s.UpdateAgentInterval(ctx, "a1", 10); !ok {
		t.Fatal("更新间隔应成功")
	}
	defer a.Stop(ctx)

	// 重启应表现为一条 paused 事件紧跟一条 started 事件。
	expect := []EventType{EventPaused, EventStarted}
	for _, want := range expect {
		select {
		case got := <-events:
			if got != want {
				t.Fatalf("事件顺序错误：期望 %s，实际 %s", want, got)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("未观察到 %s 事件", want)
		}
	}

	cfg := a.Config()
	if cfg.Schedule == nil || cfg.Schedule.EveryMinutes != 10 {
		t.Fatalf("调度配置未更新: %+v", cfg.Schedule)
	}
	if a.Info().Status != StatusRunning {
		t.Fatal("更新间隔后智能体应重新处于 running")
	}
}

func TestUpdateAgentIntervalOnStoppedAgent(t *testing.T) {
	s := NewScheduler()
	a := newTestAgent(&fakeExecutor{})
	s.Register(a)

	if ok := s.UpdateAgentInterval(context.Background(), "a1", 7); !ok {
		t.Fatal("更新未运行智能体的间隔应成功")
	}
	if a.Info().Status != StatusIdle {
		t.Fatal("未运行的智能体不应被启动")
	}
	cfg := a.Config()
	if cfg.Schedule == nil || cfg.Schedule.EveryMinutes != 7 {
		t.Fatalf("调度配置未更新: %+v", cfg.Schedule)
	}
}
