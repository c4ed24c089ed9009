package plugin

import (
	"context"
	"errors"
	"testing"
)

// fakeNotifier 是一个进程内注册的通知插件，记录生命周期调用。
type fakeNotifier struct {
	inits     int
	starts    int
	stops     int
	delivered []map[string]any
	startErr  error
}

func (p *fakeNotifier) Info() Info {
	return Info{
		ID:       "fake-notifier",
		Name:     "Fake notifier",
		Category: TypeNotifier,
	}
}

func (p *fakeNotifier) Configure(cfg map[string]any) error {
	if cfg == nil {
		return errors.New("nil config")
	}
	return nil
}

func (p *fakeNotifier) Init(*ExecutionContext) error {
	p.inits++
	return nil
}

func (p *fakeNotifier) Start(*ExecutionContext) error {
	p.starts++
	return p.startErr
}

func (p *fakeNotifier) Stop(*ExecutionContext) error {
	p.stops++
	return nil
}

func (p *fakeNotifier) Deliver(_ context.Context, payload map[string]any) error {
	p.delivered = append(p.delivered, payload)
	return nil
}

func TestManagerLifecycle(t *testing.T) {
	manager, err := NewManager(ManagerConfig{})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	impl := &fakeNotifier{}
	if err := manager.Register("fake-notifier", impl, nil, IsolationPolicy{}); err != nil {
		t.Fatalf("register: %v", err)
	}

	state, err := manager.State("fake-notifier")
	if err != nil || state != StateRegistered {
		t.Fatalf("expected registered state, got %v err %v", state, err)
	}

	ctx := context.Background()
	if err := manager.StartAll(ctx); err != nil {
		t.Fatalf("start all: %v", err)
	}
	if impl.inits != 1 || impl.starts != 1 {
		t.Fatalf("lifecycle counters off: %+v", impl)
	}

	// 重复启动不应重复初始化。
	if err := manager.Start(ctx, "fake-notifier"); err != nil {
		t.Fatalf("restart: %v", err)
	}
	if impl.starts != 1 {
		t.Fatalf("started plugin should not start twice, starts=%d", impl.starts)
	}

	if err := manager.StopAll(ctx); err != nil {
		t.Fatalf("stop all: %v", err)
	}
	if impl.stops != 1 {
		t.Fatalf("expected one stop, got %d", impl.stops)
	}
}

func TestAlertSinksOnlyStartedNotifiers(t *testing.T) {
	manager, err := NewManager(ManagerConfig{})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	impl := &fakeNotifier{}
	if err := manager.Register("fake-notifier", impl, nil, IsolationPolicy{}); err != nil {
		t.Fatalf("register: %v", err)
	}

	if sinks := manager.AlertSinks(); len(sinks) != 0 {
		t.Fatalf("unstarted plugin should not be exposed, got %d", len(sinks))
	}

	if err := manager.StartAll(context.Background()); err != nil {
		t.Fatalf("start all: %v", err)
	}
	sinks := manager.AlertSinks()
	if len(sinks) != 1 || sinks[0].ID != "fake-notifier" {
		t.Fatalf("unexpected sinks: %+v", sinks)
	}
	if err := sinks[0].Sink.Deliver(context.Background(), map[string]any{"id": "a-1"}); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if len(impl.delivered) != 1 {
		t.Fatalf("payload not delivered: %+v", impl.delivered)
	}
}

func TestRegisterRejectsDeniedCapability(t *testing.T) {
	manager, err := NewManager(ManagerConfig{
		Defaults: IsolationPolicy{DeniedCapabilities: []Capability{CapabilityExecution}},
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	denied := &capabilityNotifier{caps: []Capability{CapabilityExecution}}
	if err := manager.Register("denied", denied, nil, IsolationPolicy{}); err == nil {
		t.Fatal("expected capability rejection")
	}
}

type capabilityNotifier struct {
	fakeNotifier
	caps []Capability
}

func (p *capabilityNotifier) Info() Info {
	return Info{ID: "denied", Category: TypeNotifier, Capabilities: p.caps}
}
