package stablecoin

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sort"
	"strings"
	"sync"

	"StableWatch-Chain/internal/agent"
	"StableWatch-Chain/internal/dedupe"
	xerrors "StableWatch-Chain/internal/errors"
	"StableWatch-Chain/internal/llm"
	"StableWatch-Chain/internal/web3"
	"StableWatch-Chain/pkg/logger"
)

// defaultLookback 是某代币首次被观测时回看的区块数。
const defaultLookback = 100

// ChainResolver 按网络名解析链客户端。provider.Registry 满足该接口。
type ChainResolver interface {
	Client(network string) (web3.Client, bool)
}

// Notifier 将告警投递到外部渠道。外发等级的过滤由实现方负责。
type Notifier interface {
	Notify(ctx context.Context, alert *Alert) error
}

// Callbacks 是监控器向持久化层暴露的钩子。所有钩子都是可选的，
// 回调失败只记日志，不中断检测管线。
type Callbacks struct {
	OnEvent    func(ctx context.Context, event *Event) error
	OnAlert    func(ctx context.Context, alert *Alert) error
	OnSnapshot func(ctx context.Context, snapshot *SupplySnapshot) error
	OnTick     func(ctx context.Context, result *TickResult) error
}

// MonitorConfig 描述监控器的依赖注入。
type MonitorConfig struct {
	Resolver  ChainResolver
	Detector  *Detector
	Notifier  Notifier
	Marker    dedupe.Marker
	Analyst   llm.Client
	Callbacks Callbacks
	Lookback  uint64
}

// Monitor 是稳定币异常监控的执行体，实现 agent.Executor。每个调度
// 周期独立处理所有活跃代币：拉取新区块的转账日志、跑检测规则、
// 推进各代币的区块水位。单个代币失败不影响其它代币，也不阻止
// 水位以外的任何状态推进。
type Monitor struct {
	mu         sync.Mutex
	coins      map[string]Coin
	lastBlock  map[string]uint64
	lastSupply map[string]*big.Int

	detector  *Detector
	resolver  ChainResolver
	notifier  Notifier
	marker    dedupe.Marker
	analyst   llm.Client
	callbacks Callbacks
	lookback  uint64
	log       *slog.Logger
}

// NewMonitor 构造监控器。Resolver 是唯一的硬性依赖。
func NewMonitor(cfg MonitorConfig) (*Monitor, error) {
	if cfg.Resolver == nil {
		return nil, xerrors.New(xerrors.CodeConfigInvalid, "未提供链客户端解析器")
	}
	detector := cfg.Detector
	if detector == nil {
		detector = NewDetector(DefaultThresholds())
	}
	lookback := cfg.Lookback
	if lookback == 0 {
		lookback = defaultLookback
	}
	return &Monitor{
		coins:      make(map[string]Coin),
		lastBlock:  make(map[string]uint64),
		lastSupply: make(map[string]*big.Int),
		detector:   detector,
		resolver:   cfg.Resolver,
		notifier:   cfg.Notifier,
		marker:     cfg.Marker,
		analyst:    cfg.Analyst,
		callbacks:  cfg.Callbacks,
		lookback:   lookback,
		log:        logger.Named("stablecoin"),
	}, nil
}

// SetCoins 整体替换监控列表。已有代币的区块水位保留。
func (m *Monitor) SetCoins(coins []Coin) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.coins = make(map[string]Coin, len(coins))
	for _, coin := range coins {
		m.coins[coin.Key()] = coin
	}
}

// AddCoin 新增或覆盖一个代币，地址匹配不区分大小写。
func (m *Monitor) AddCoin(coin Coin) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.coins[coin.Key()] = coin
}

// RemoveCoin 移除一个代币及其水位记录，返回是否存在。
func (m *Monitor) RemoveCoin(network Network, address string) bool {
	key := Coin{Network: network, Address: address}.Key()
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.coins[key]; !ok {
		return false
	}
	delete(m.coins, key)
	delete(m.lastBlock, key)
	delete(m.lastSupply, key)
	return true
}

// Coins 返回监控列表的快照，按键排序。
func (m *Monitor) Coins() []Coin {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Coin, 0, len(m.coins))
	for _, coin := range m.coins {
		out = append(out, coin)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}

// Thresholds 返回当前阈值。
func (m *Monitor) Thresholds() Thresholds {
	return m.detector.Thresholds()
}

// UpdateThresholds 转发部分阈值更新。
func (m *Monitor) UpdateThresholds(update ThresholdUpdate) {
	m.detector.UpdateThresholds(update)
}

// Initialize 实现 agent.Initializer：校验所有活跃代币的网络都有
// 对应的链客户端，配置缺口在启动时暴露而不是首个周期。
func (m *Monitor) Initialize(_ context.Context) error {
	for _, coin := range m.Coins() {
		if !coin.Active {
			continue
		}
		if _, ok := m.resolver.Client(string(coin.Network)); !ok {
			return xerrors.New(xerrors.CodeConfigInvalid,
				fmt.Sprintf("代币 %s 所在网络 %s 未配置链客户端", coin.Symbol, coin.Network))
		}
	}
	return nil
}

// Cleanup 实现 agent.Cleaner。链客户端与去重器由外层持有，这里只
// 清空水位，下次启动重新回看。
func (m *Monitor) Cleanup(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastBlock = make(map[string]uint64)
	m.lastSupply = make(map[string]*big.Int)
	return nil
}

// Execute 实现 agent.Executor，完成一个监控周期。只有全部活跃代币
// 都失败时才报告业务失败；部分失败记日志并继续。
func (m *Monitor) Execute(ctx context.Context, _ any) (*agent.Result, error) {
	coins := m.Coins()
	tick := &TickResult{}
	var failed int
	var active int

	for _, coin := range coins {
		if !coin.Active {
			continue
		}
		active++
		if err := m.processCoin(ctx, coin, tick); err != nil {
			failed++
			m.log.Warn("处理代币失败",
				slog.String("coin", coin.Key()),
				slog.String("symbol", coin.Symbol),
				slog.String("error", err.Error()),
			)
			continue
		}
		// 只统计完整走完检测流程的代币，失败的计入 FailedCoins。
		tick.CoinsChecked++
	}

	tick.FailedCoins = failed
	m.detector.ClearOldHistory()

	if m.callbacks.OnTick != nil {
		if err := m.callbacks.OnTick(ctx, tick); err != nil {
			m.log.Warn("记录周期日志失败", slog.String("error", err.Error()))
		}
	}

	if active > 0 && failed == active {
		return &agent.Result{
			Success: false,
			Data:    tick,
			Err:     fmt.Sprintf("全部 %d 个代币处理失败", active),
		}, nil
	}
	return &agent.Result{Success: true, Data: tick}, nil
}

// processCoin 处理单个代币的一个周期：确定区块区间、拉取日志、
// 跑三类检测、推进水位。只要成功确定了区间，无论是否有事件，
// 水位都会推进到 toBlock。
func (m *Monitor) processCoin(ctx context.Context, coin Coin, tick *TickResult) error {
	key := coin.Key()

	client, ok := m.resolver.Client(string(coin.Network))
	if !ok {
		return xerrors.New(xerrors.CodeChainQueryFailure,
			fmt.Sprintf("网络 %s 未配置链客户端", coin.Network))
	}

	head, err := client.CurrentBlock(ctx)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeChainQueryFailure, err, "查询链头失败")
	}

	m.mu.Lock()
	last, seen := m.lastBlock[key]
	m.mu.Unlock()

	var from uint64
	if seen {
		from = last + 1
	} else if head > m.lookback {
		from = head - m.lookback
	}
	if from > head {
		// 链头尚未越过水位，本周期无事可做。
		return nil
	}

	logs, err := client.TransferEvents(ctx, coin.Address, from, head)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeChainQueryFailure, err, "拉取转账日志失败")
	}

	events := m.buildEvents(ctx, coin, logs)
	var alerts []*Alert

	for _, event := range events {
		tick.EventsProcessed++
		if m.callbacks.OnEvent != nil {
			if err := m.callbacks.OnEvent(ctx, event); err != nil {
				m.log.Warn("持久化事件失败",
					slog.String("tx_hash", event.TxHash),
					slog.String("error", err.Error()),
				)
			}
		}
		if alert := m.detector.AnalyzeEvent(event); alert != nil {
			alerts = append(alerts, alert)
		}
	}

	if snapshotAlert, snapshot := m.observeSupply(ctx, client, coin, head); snapshot != nil {
		tick.SupplySnapshots++
		if m.callbacks.OnSnapshot != nil {
			if err := m.callbacks.OnSnapshot(ctx, snapshot); err != nil {
				m.log.Warn("持久化总量快照失败",
					slog.String("coin", key),
					slog.String("error", err.Error()),
				)
			}
		}
		if snapshotAlert != nil {
			alerts = append(alerts, snapshotAlert)
		}
	}

	if alert := m.detector.AnalyzeFrequency(coin.Symbol, key, events); alert != nil {
		alerts = append(alerts, alert)
	}

	for _, alert := range alerts {
		tick.AnomaliesDetected++
		m.dispatchAlert(ctx, alert)
	}

	m.mu.Lock()
	m.lastBlock[key] = head
	m.mu.Unlock()

	tick.Events = append(tick.Events, events...)
	tick.Alerts = append(tick.Alerts, alerts...)
	return nil
}

// buildEvents 将原始日志转为规范事件，并通过去重标记跳过重复日志。
// 去重器故障按未见处理，宁可重复告警也不丢事件。
func (m *Monitor) buildEvents(ctx context.Context, coin Coin, logs []web3.TransferLog) []*Event {
	events := make([]*Event, 0, len(logs))
	for _, lg := range logs {
		if m.marker != nil {
			fingerprint := fmt.Sprintf("%s:%s:%d", coin.Key(), strings.ToLower(lg.TxHash), lg.LogIndex)
			seen, err := m.marker.Seen(ctx, fingerprint)
			if err != nil {
				m.log.Warn("去重标记失败",
					slog.String("tx_hash", lg.TxHash),
					slog.String("error", err.Error()),
				)
			} else if seen {
				continue
			}
		}
		coinCopy := coin
		events = append(events, &Event{
			TxHash:          lg.TxHash,
			BlockNumber:     lg.BlockNumber,
			LogIndex:        lg.LogIndex,
			Type:            ClassifyTransfer(lg.From, lg.To),
			From:            lg.From,
			To:              lg.To,
			Amount:          lg.Value,
			AmountFormatted: FormatUnits(lg.Value, coin.Decimals),
			Timestamp:       lg.Timestamp,
			Coin:            &coinCopy,
		})
	}
	return events
}

// observeSupply 读取当前总供应量，与上次观测比较后更新记录。
// 查询失败只记日志，不影响本周期其它检测。
func (m *Monitor) observeSupply(ctx context.Context, client web3.Client, coin Coin, head uint64) (*Alert, *SupplySnapshot) {
	key := coin.Key()
	supply, err := client.TotalSupply(ctx, coin.Address)
	if err != nil {
		m.log.Warn("查询总供应量失败",
			slog.String("coin", key),
			slog.String("error", err.Error()),
		)
		return nil, nil
	}
	if supply == nil {
		return nil, nil
	}

	m.mu.Lock()
	previous := m.lastSupply[key]
	m.lastSupply[key] = new(big.Int).Set(supply)
	m.mu.Unlock()

	snapshot := &SupplySnapshot{
		CoinKey:         key,
		Supply:          supply,
		SupplyFormatted: FormatUnits(supply, coin.Decimals),
		BlockNumber:     head,
		Timestamp:       m.detector.now(),
	}
	// 只要有上次观测就记录变动百分比，是否越限由检测器单独判断。
	if previous != nil && previous.Sign() != 0 {
		scaled := new(big.Int).Mul(new(big.Int).Sub(supply, previous), big.NewInt(10000))
		scaled.Quo(scaled, previous)
		snapshot.ChangePercent = formatBasisHundredths(scaled)
	}
	alert := m.detector.AnalyzeSupplyChange(coin.Symbol, supply, previous, coin.Decimals)
	return alert, snapshot
}

// dispatchAlert 把告警交给持久化回调与外部通知渠道。通知失败记日志，
// 不回滚已落库的告警。
func (m *Monitor) dispatchAlert(ctx context.Context, alert *Alert) {
	m.annotateAlert(ctx, alert)
	if m.callbacks.OnAlert != nil {
		if err := m.callbacks.OnAlert(ctx, alert); err != nil {
			m.log.Warn("持久化告警失败",
				slog.String("alert_id", alert.ID),
				slog.String("error", err.Error()),
			)
		}
	}
	if m.notifier != nil {
		if err := m.notifier.Notify(ctx, alert); err != nil {
			m.log.Warn("推送告警失败",
				slog.String("alert_id", alert.ID),
				slog.String("severity", string(alert.Severity)),
				slog.String("error", err.Error()),
			)
		}
	}
}

// annotateAlert 对达到外发等级的告警调用模型研判，结果写入 metadata。
// 研判是尽力而为的附加信息，失败不影响告警投递。
func (m *Monitor) annotateAlert(ctx context.Context, alert *Alert) {
	if m.analyst == nil || !alert.Severity.Notifiable() {
		return
	}
	req := llm.Request{
		AlertType:   string(alert.Type),
		Severity:    string(alert.Severity),
		Title:       alert.Title,
		Description: alert.Description,
	}
	for name, value := range alert.Metadata {
		req.Facts = append(req.Facts, llm.Fact{Name: name, Value: fmt.Sprint(value)})
	}
	resp, err := m.analyst.Analyze(ctx, req)
	if err != nil {
		m.log.Warn("模型研判失败",
			slog.String("alert_id", alert.ID),
			slog.String("error", err.Error()),
		)
		return
	}
	if resp.Assessment != "" {
		alert.Metadata["ai_assessment"] = resp.Assessment
	}
	if resp.Summary != "" {
		alert.Metadata["ai_summary"] = resp.Summary
	}
}
