package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	xerrors "StableWatch-Chain/internal/errors"
	"StableWatch-Chain/pkg/logger"
)

// Scheduler 持有一组智能体：负责注册、批量启停、手动触发以及把所有
// 智能体的生命周期事件转发给自己的订阅者。一个进程内一个 Scheduler
// 独占其名下的智能体实例，不做跨进程协调。
type Scheduler struct {
	mu      sync.RWMutex
	agents  map[string]*Agent
	emitter *emitter
	log     *slog.Logger
}

// NewScheduler 构造调度器。
func NewScheduler() *Scheduler {
	return &Scheduler{
		agents:  make(map[string]*Agent),
		emitter: newEmitter(),
		log:     logger.Named("scheduler"),
	}
}

// Register 注册一个智能体并订阅其事件流。重复的 ID 记录日志后忽略，
// 注册表保留先到者。
func (s *Scheduler) Register(a *Agent) {
	if a == nil {
		return
	}
	id := a.Config().ID
	s.mu.Lock()
	if _, exists := s.agents[id]; exists {
		s.mu.Unlock()
		s.log.Warn("重复注册智能体，已忽略", slog.String("agent_id", id))
		return
	}
	s.agents[id] = a
	s.mu.Unlock()

	// 转发该智能体的全部事件。
	a.OnEvent(func(event Event) {
		s.emitter.emit(event)
	})
	s.log.Info("智能体已注册", slog.String("agent_id", id), slog.String("name", a.Config().Name))
}

// Unregister 先停止智能体再将其移出注册表。不存在时是空操作。
func (s *Scheduler) Unregister(ctx context.Context, agentID string) {
	s.mu.Lock()
	a, ok := s.agents[agentID]
	if ok {
		delete(s.agents, agentID)
	}
	s.mu.Unlock()
	if !ok {
		return
	}
	if err := a.Stop(ctx); err != nil {
		s.log.Error("注销时停止智能体失败", slog.Any("error", err), slog.String("agent_id", agentID))
	}
	s.log.Info("智能体已注销", slog.String("agent_id", agentID))
}

// StartAll 并发启动所有 enabled 的智能体，等待全部完成。单个智能体
// 启动失败不影响其他智能体，失败只通过 failed 事件与日志暴露。
func (s *Scheduler) StartAll(ctx context.Context) {
	s.mu.RLock()
	targets := make([]*Agent, 0, len(s.agents))
	for _, a := range s.agents {
		if a.Config().Enabled {
			targets = append(targets, a)
		}
	}
	s.mu.RUnlock()

	var wg sync.WaitGroup
	for _, a := range targets {
		wg.Add(1)
		go func(a *Agent) {
			defer wg.Done()
			if err := a.Start(ctx); err != nil {
				s.log.Error("启动智能体失败",
					slog.Any("error", err),
					slog.String("agent_id", a.Config().ID),
				)
			}
		}(a)
	}
	wg.Wait()
	s.log.Info("批量启动完成", slog.Int("agents", len(targets)))
}

// StopAll 并发停止所有已注册的智能体，等待全部完成。
func (s *Scheduler) StopAll(ctx context.Context) {
	s.mu.RLock()
	targets := make([]*Agent, 0, len(s.agents))
	for _, a := range s.agents {
		targets = append(targets, a)
	}
	s.mu.RUnlock()

	var wg sync.WaitGroup
	for _, a := range targets {
		wg.Add(1)
		go func(a *Agent) {
			defer wg.Done()
			if err := a.Stop(ctx); err != nil {
				s.log.Error("停止智能体失败",
					slog.Any("error", err),
					slog.String("agent_id", a.Config().ID),
				)
			}
		}(a)
	}
	wg.Wait()
	s.log.Info("批量停止完成", slog.Int("agents", len(targets)))
}

// Start 启动指定智能体。ID 不存在时返回 AGENT_NOT_FOUND。
func (s *Scheduler) Start(ctx context.Context, agentID string) error {
	a, ok := s.Instance(agentID)
	if !ok {
		return xerrors.New(xerrors.CodeAgentNotFound, fmt.Sprintf("智能体 %s 不存在", agentID))
	}
	return a.Start(ctx)
}

// Stop 停止指定智能体。ID 不存在时返回 AGENT_NOT_FOUND。
func (s *Scheduler) Stop(ctx context.Context, agentID string) error {
	a, ok := s.Instance(agentID)
	if !ok {
		return xerrors.New(xerrors.CodeAgentNotFound, fmt.Sprintf("智能体 %s 不存在", agentID))
	}
	return a.Stop(ctx)
}

// RunOnce 手动触发指定智能体执行一次。ID 不存在时返回 AGENT_NOT_FOUND。
func (s *Scheduler) RunOnce(ctx context.Context, agentID string, input any) (*Result, error) {
	a, ok := s.Instance(agentID)
	if !ok {
		return nil, xerrors.New(xerrors.CodeAgentNotFound, fmt.Sprintf("智能体 %s 不存在", agentID))
	}
	return a.RunOnce(ctx, input), nil
}

// UpdateAgentInterval 修改智能体的执行间隔并使其生效：运行中的智能体
// 先停止、改写调度、再重新启动；未运行的只改写调度。返回是否成功，
// 失败时记录日志而不抛错。
func (s *Scheduler) UpdateAgentInterval(ctx context.Context, agentID string, minutes int) bool {
	a, ok := s.Instance(agentID)
	if !ok {
		s.log.Warn("更新间隔失败：智能体不存在", slog.String("agent_id", agentID))
		return false
	}
	if minutes <= 0 {
		s.log.Warn("更新间隔失败：分钟数必须为正",
			slog.String("agent_id", agentID), slog.Int("minutes", minutes))
		return false
	}

	wasRunning := a.Info().Status == StatusRunning
	if wasRunning {
		if err := a.Stop(ctx); err != nil {
			s.log.Error("更新间隔时停止失败", slog.Any("error", err), slog.String("agent_id", agentID))
			return false
		}
	}
	a.setSchedule(&Schedule{Type: ScheduleInterval, EveryMinutes: minutes})
	if wasRunning {
		if err := a.Start(ctx); err != nil {
			s.log.Error("更新间隔后重启失败", slog.Any("error", err), slog.String("agent_id", agentID))
			return false
		}
	}
	s.log.Info("执行间隔已更新", slog.String("agent_id", agentID), slog.Int("minutes", minutes))
	return true
}

// Agents 返回全部智能体的状态快照，按 ID 排序。
func (s *Scheduler) Agents() []Info {
	s.mu.RLock()
	infos := make([]Info, 0, len(s.agents))
	for _, a := range s.agents {
		infos = append(infos, a.Info())
	}
	s.mu.RUnlock()
	sort.Slice(infos, func(i, j int) bool { return infos[i].Config.ID < infos[j].Config.ID })
	return infos
}

// Agent 返回指定智能体的状态快照。
func (s *Scheduler) Agent(agentID string) (Info, bool) {
	a, ok := s.Instance(agentID)
	if !ok {
		return Info{}, false
	}
	return a.Info(), true
}

// Instance 返回指定智能体实例本身，供需要直接操作实例的调用方使用。
func (s *Scheduler) Instance(agentID string) (*Agent, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.agents[agentID]
	return a, ok
}

// OnEvent 注册调度器级别的事件订阅者，接收所有智能体的事件。
// 单个订阅者 panic 不影响其他订阅者。
func (s *Scheduler) OnEvent(h Handler) {
	s.emitter.subscribe(h)
}
