package stablecoin

import (
	"fmt"
	"math/big"
	"strings"
	"time"
)

// Network 表示支持的链网络。
type Network string

const (
	NetworkEthereum Network = "ethereum"
	NetworkBSC      Network = "bsc"
	NetworkPolygon  Network = "polygon"
)

// ZeroAddress 是铸币/销毁判定使用的零地址。
const ZeroAddress = "0x0000000000000000000000000000000000000000"

// Coin 描述一个被监控的稳定币。持久化层拥有该配置，核心只读。
type Coin struct {
	Address  string  `json:"address"`
	Name     string  `json:"name"`
	Symbol   string  `json:"symbol"`
	Decimals int     `json:"decimals"`
	Network  Network `json:"network"`
	Active   bool    `json:"is_active"`
}

// Key 返回 network:address 形式的唯一键，地址统一小写。
func (c Coin) Key() string {
	return fmt.Sprintf("%s:%s", c.Network, strings.ToLower(c.Address))
}

// EventType 表示链上转账事件的类别。
type EventType string

const (
	EventMint     EventType = "mint"
	EventBurn     EventType = "burn"
	EventTransfer EventType = "transfer"
)

// ClassifyTransfer 按零地址判定事件类别：from 为零地址是铸币，
// to 为零地址是销毁，其余为普通转账。
func ClassifyTransfer(from, to string) EventType {
	if strings.EqualFold(from, ZeroAddress) {
		return EventMint
	}
	if strings.EqualFold(to, ZeroAddress) {
		return EventBurn
	}
	return EventTransfer
}

// Event 是一条链上转账的规范形态。金额保留链上原始整数精度，
// 构造后视为不可变；核心不持久化，只交给回调。
type Event struct {
	TxHash          string    `json:"tx_hash"`
	BlockNumber     uint64    `json:"block_number"`
	LogIndex        uint      `json:"log_index"`
	Type            EventType `json:"event_type"`
	From            string    `json:"from"`
	To              string    `json:"to"`
	Amount          *big.Int  `json:"amount"`
	AmountFormatted string    `json:"amount_formatted"`
	Timestamp       time.Time `json:"timestamp"`
	Coin            *Coin     `json:"-"`
}

// AlertType 表示异常告警的类别。
type AlertType string

const (
	AlertLargeMint      AlertType = "large_mint"
	AlertLargeBurn      AlertType = "large_burn"
	AlertLargeTransfer  AlertType = "large_transfer"
	AlertSupplyChange   AlertType = "supply_change"
	AlertFrequencySpike AlertType = "frequency_spike"
)

// Severity 表示告警的严重等级，决定是否推送外部通知。
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Notifiable 判断该等级是否需要推送外部通知渠道。
// low/medium 只落库记录，不外发。
func (s Severity) Notifiable() bool {
	return s == SeverityHigh || s == SeverityCritical
}

// severityBadges 是等级到展示符号的纯查表映射，不参与判定逻辑。
var severityBadges = map[Severity]string{
	SeverityLow:      "ℹ️",
	SeverityMedium:   "⚠️",
	SeverityHigh:     "🚨",
	SeverityCritical: "🔴",
}

// Badge 返回等级的展示符号。
func (s Severity) Badge() string {
	if badge, ok := severityBadges[s]; ok {
		return badge
	}
	return "ℹ️"
}

// Alert 是检测管线的输出，短生命周期值对象。
type Alert struct {
	ID          string         `json:"id"`
	Type        AlertType      `json:"type"`
	Severity    Severity       `json:"severity"`
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Event       *Event         `json:"-"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
}

// SupplySnapshot 是一次总量观测。
type SupplySnapshot struct {
	CoinKey         string    `json:"stablecoin_id"`
	Supply          *big.Int  `json:"supply"`
	SupplyFormatted string    `json:"supply_formatted"`
	BlockNumber     uint64    `json:"block_number"`
	ChangePercent   string    `json:"change_percent,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
}

// TickResult 汇总一次调度周期的产出。CoinsChecked 只计完整走完
// 检测流程的代币，处理失败的计入 FailedCoins。
type TickResult struct {
	CoinsChecked      int      `json:"stablecoins_checked"`
	FailedCoins       int      `json:"failed_coins"`
	EventsProcessed   int      `json:"events_processed"`
	AnomaliesDetected int      `json:"anomalies_detected"`
	SupplySnapshots   int      `json:"supply_snapshots"`
	Events            []*Event `json:"-"`
	Alerts            []*Alert `json:"-"`
}

// FormatUnits 将原始整数金额按小数位转为人类可读的十进制串，
// 小数部分去除尾随零。绝不经过浮点数。
func FormatUnits(raw *big.Int, decimals int) string {
	if raw == nil {
		return "0"
	}
	if decimals <= 0 {
		return raw.String()
	}
	neg := raw.Sign() < 0
	abs := new(big.Int).Abs(raw)
	scale := pow10(decimals)
	whole, frac := new(big.Int).QuoRem(abs, scale, new(big.Int))

	out := whole.String()
	if frac.Sign() != 0 {
		digits := fmt.Sprintf("%0*s", decimals, frac.String())
		digits = strings.TrimRight(digits, "0")
		if digits != "" {
			out += "." + digits
		}
	}
	if neg {
		out = "-" + out
	}
	return out
}

// pow10 返回 10^n。
func pow10(n int) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}

// scaleToRaw 把人类单位的阈值换算成链上原始单位。
func scaleToRaw(units int64, decimals int) *big.Int {
	return new(big.Int).Mul(big.NewInt(units), pow10(decimals))
}
