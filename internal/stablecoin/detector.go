package stablecoin

import (
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"
)

// historyWindow 是事件频率统计的滑动窗口宽度。
const historyWindow = time.Hour

// Thresholds 是异常判定的基准阈值，全部以人类可读的代币单位表示。
// 升级倍数（铸币/销毁 10 倍、转账/总量/频率 2 倍）是设计常量，不可配置。
type Thresholds struct {
	LargeMint           int64 `json:"large_mint"`
	LargeBurn           int64 `json:"large_burn"`
	LargeTransfer       int64 `json:"large_transfer"`
	SupplyChangePercent int64 `json:"supply_change_percent"`
	FrequencyPerHour    int   `json:"frequency_per_hour"`
}

// DefaultThresholds 返回默认阈值。
func DefaultThresholds() Thresholds {
	return Thresholds{
		LargeMint:           1_000_000,
		LargeBurn:           1_000_000,
		LargeTransfer:       10_000_000,
		SupplyChangePercent: 5,
		FrequencyPerHour:    100,
	}
}

// ThresholdUpdate 描述一次部分阈值更新，nil 字段保持原值。
type ThresholdUpdate struct {
	LargeMint           *int64 `json:"large_mint,omitempty"`
	LargeBurn           *int64 `json:"large_burn,omitempty"`
	LargeTransfer       *int64 `json:"large_transfer,omitempty"`
	SupplyChangePercent *int64 `json:"supply_change_percent,omitempty"`
	FrequencyPerHour    *int   `json:"frequency_per_hour,omitempty"`
}

// Detector 对单条链上事件做规则分类，并基于滑动窗口评估总量变化与
// 事件频率异常。阈值比较一律使用 ≥，边界值计为异常。
type Detector struct {
	mu         sync.Mutex
	thresholds Thresholds
	history    map[string][]time.Time
	now        func() time.Time
}

// NewDetector 构造检测器。
func NewDetector(thresholds Thresholds) *Detector {
	return &Detector{
		thresholds: thresholds,
		history:    make(map[string][]time.Time),
		now:        time.Now,
	}
}

// Thresholds 返回当前阈值的副本。
func (d *Detector) Thresholds() Thresholds {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.thresholds
}

// UpdateThresholds 部分合并阈值更新。
func (d *Detector) UpdateThresholds(update ThresholdUpdate) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if update.LargeMint != nil {
		d.thresholds.LargeMint = *update.LargeMint
	}
	if update.LargeBurn != nil {
		d.thresholds.LargeBurn = *update.LargeBurn
	}
	if update.LargeTransfer != nil {
		d.thresholds.LargeTransfer = *update.LargeTransfer
	}
	if update.SupplyChangePercent != nil {
		d.thresholds.SupplyChangePercent = *update.SupplyChangePercent
	}
	if update.FrequencyPerHour != nil {
		d.thresholds.FrequencyPerHour = *update.FrequencyPerHour
	}
}

// AnalyzeEvent 对单条事件做阈值分类，未超阈值时返回 nil。
// 比较在人类单位下进行：原始金额与按小数位放大的阈值比较，不经浮点。
func (d *Detector) AnalyzeEvent(event *Event) *Alert {
	if event == nil || event.Amount == nil || event.Coin == nil {
		return nil
	}
	t := d.Thresholds()
	decimals := event.Coin.Decimals
	symbol := event.Coin.Symbol

	switch event.Type {
	case EventMint:
		base := scaleToRaw(t.LargeMint, decimals)
		tenfold := new(big.Int).Mul(base, big.NewInt(10))
		if event.Amount.Cmp(tenfold) >= 0 {
			return d.eventAlert(AlertLargeMint, SeverityCritical, event,
				fmt.Sprintf("%s 超大额铸币", symbol),
				fmt.Sprintf("铸币 %s %s，达到阈值 %d 的 10 倍以上", event.AmountFormatted, symbol, t.LargeMint))
		}
		if event.Amount.Cmp(base) >= 0 {
			return d.eventAlert(AlertLargeMint, SeverityHigh, event,
				fmt.Sprintf("%s 大额铸币", symbol),
				fmt.Sprintf("铸币 %s %s，超过阈值 %d", event.AmountFormatted, symbol, t.LargeMint))
		}
	case EventBurn:
		base := scaleToRaw(t.LargeBurn, decimals)
		tenfold := new(big.Int).Mul(base, big.NewInt(10))
		if event.Amount.Cmp(tenfold) >= 0 {
			return d.eventAlert(AlertLargeBurn, SeverityCritical, event,
				fmt.Sprintf("%s 超大额销毁", symbol),
				fmt.Sprintf("销毁 %s %s，达到阈值 %d 的 10 倍以上", event.AmountFormatted, symbol, t.LargeBurn))
		}
		if event.Amount.Cmp(base) >= 0 {
			return d.eventAlert(AlertLargeBurn, SeverityHigh, event,
				fmt.Sprintf("%s 大额销毁", symbol),
				fmt.Sprintf("销毁 %s %s，超过阈值 %d", event.AmountFormatted, symbol, t.LargeBurn))
		}
	case EventTransfer:
		base := scaleToRaw(t.LargeTransfer, decimals)
		double := new(big.Int).Mul(base, big.NewInt(2))
		if event.Amount.Cmp(double) >= 0 {
			return d.eventAlert(AlertLargeTransfer, SeverityHigh, event,
				fmt.Sprintf("%s 大额转账", symbol),
				fmt.Sprintf("转账 %s %s，达到阈值 %d 的 2 倍以上", event.AmountFormatted, symbol, t.LargeTransfer))
		}
		if event.Amount.Cmp(base) >= 0 {
			return d.eventAlert(AlertLargeTransfer, SeverityMedium, event,
				fmt.Sprintf("%s 大额转账", symbol),
				fmt.Sprintf("转账 %s %s，超过阈值 %d", event.AmountFormatted, symbol, t.LargeTransfer))
		}
	}
	return nil
}

// AnalyzeSupplyChange 比较两次总量观测。previous 为 0 视为首次观测，
// 返回 nil。百分比用整数算术放大 10000 计算，保留两位小数精度。
func (d *Detector) AnalyzeSupplyChange(symbol string, current, previous *big.Int, decimals int) *Alert {
	if current == nil || previous == nil || previous.Sign() == 0 {
		return nil
	}
	t := d.Thresholds()

	delta := new(big.Int).Sub(current, previous)
	scaled := new(big.Int).Mul(delta, big.NewInt(10000))
	scaled.Quo(scaled, previous) // 百分比 ×100，即两位小数精度

	absScaled := new(big.Int).Abs(scaled)
	limit := big.NewInt(t.SupplyChangePercent * 100)
	if absScaled.Cmp(limit) < 0 {
		return nil
	}

	severity := SeverityMedium
	if absScaled.Cmp(new(big.Int).Mul(limit, big.NewInt(2))) >= 0 {
		severity = SeverityHigh
	}

	percent := formatBasisHundredths(scaled)
	direction := "增加"
	if delta.Sign() < 0 {
		direction = "减少"
	}
	alert := d.eventAlert(AlertSupplyChange, severity, nil,
		fmt.Sprintf("%s 总量异常波动", symbol),
		fmt.Sprintf("总供应量%s %s%%，超过阈值 %d%%", direction, percent, t.SupplyChangePercent))
	alert.Metadata["current_supply"] = FormatUnits(current, decimals)
	alert.Metadata["previous_supply"] = FormatUnits(previous, decimals)
	alert.Metadata["change_percent"] = percent
	return alert
}

// AnalyzeFrequency 把新事件并入该代币的历史，按滑动窗口裁剪后评估
// 频率阈值。裁剪在每次调用时都会发生，不依赖周期性清理。
func (d *Detector) AnalyzeFrequency(symbol, tokenKey string, newEvents []*Event) *Alert {
	d.mu.Lock()
	now := d.now()
	history := d.history[tokenKey]
	for _, e := range newEvents {
		ts := e.Timestamp
		if ts.IsZero() {
			ts = now
		}
		history = append(history, ts)
	}
	history = pruneWindow(history, now)
	d.history[tokenKey] = history
	count := len(history)
	t := d.thresholds
	d.mu.Unlock()

	if t.FrequencyPerHour <= 0 || count < t.FrequencyPerHour {
		return nil
	}
	severity := SeverityMedium
	if count >= 2*t.FrequencyPerHour {
		severity = SeverityHigh
	}
	alert := d.eventAlert(AlertFrequencySpike, severity, nil,
		fmt.Sprintf("%s 事件频率激增", symbol),
		fmt.Sprintf("最近一小时出现 %d 笔事件，超过阈值 %d", count, t.FrequencyPerHour))
	alert.Metadata["events_last_hour"] = count
	return alert
}

// ClearOldHistory 按滑动窗口裁剪所有代币的历史。每个调度周期调用一次，
// 保证长时间无事件的代币不会累积陈旧记录。
func (d *Detector) ClearOldHistory() {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := d.now()
	for key, history := range d.history {
		pruned := pruneWindow(history, now)
		if len(pruned) == 0 {
			delete(d.history, key)
			continue
		}
		d.history[key] = pruned
	}
}

// pruneWindow 丢弃窗口之外的时间戳。
func pruneWindow(history []time.Time, now time.Time) []time.Time {
	cutoff := now.Add(-historyWindow)
	kept := history[:0]
	for _, ts := range history {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	return kept
}

// eventAlert 构造一条告警。
func (d *Detector) eventAlert(alertType AlertType, severity Severity, event *Event, title, description string) *Alert {
	alert := &Alert{
		ID:          uuid.NewString(),
		Type:        alertType,
		Severity:    severity,
		Title:       fmt.Sprintf("%s %s", severity.Badge(), title),
		Description: description,
		Event:       event,
		Metadata:    make(map[string]any),
		Timestamp:   d.now(),
	}
	if event != nil {
		alert.Metadata["tx_hash"] = event.TxHash
		alert.Metadata["block_number"] = event.BlockNumber
		alert.Metadata["amount"] = event.AmountFormatted
	}
	return alert
}

// formatBasisHundredths 把 ×10000/prev 得到的整数格式化为两位小数的百分比。
func formatBasisHundredths(scaled *big.Int) string {
	abs := new(big.Int).Abs(scaled)
	whole, frac := new(big.Int).QuoRem(abs, big.NewInt(100), new(big.Int))
	out := fmt.Sprintf("%s.%02d", whole.String(), frac.Int64())
	if scaled.Sign() < 0 {
		out = "-" + out
	}
	return out
}
