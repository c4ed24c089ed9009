package stablecoin

import (
	"math/big"
	"testing"
	"time"
)

var usdt = Coin{
	Address:  "0xdAC17F958D2ee523a2206206994597C13D831ec7",
	Name:     "Tether USD",
	Symbol:   "USDT",
	Decimals: 6,
	Network:  NetworkEthereum,
	Active:   true,
}

func newEvent(coin Coin, eventType EventType, units int64) *Event {
	amount := scaleToRaw(units, coin.Decimals)
	return &Event{
		TxHash:          "0xabc",
		BlockNumber:     100,
		Type:            eventType,
		From:            "0x1111111111111111111111111111111111111111",
		To:              "0x2222222222222222222222222222222222222222",
		Amount:          amount,
		AmountFormatted: FormatUnits(amount, coin.Decimals),
		Coin:            &coin,
	}
}

func TestAnalyzeEventMintBoundaries(t *testing.T) {
	t.Parallel()

	d := NewDetector(DefaultThresholds())

	// 恰好等于阈值计为异常。
	alert := d.AnalyzeEvent(newEvent(usdt, EventMint, 1_000_000))
	if alert == nil {
		t.Fatal("mint at exact threshold must alert")
	}
	if alert.Type != AlertLargeMint || alert.Severity != SeverityHigh {
		t.Fatalf("unexpected alert %s/%s", alert.Type, alert.Severity)
	}

	// 低于阈值一个最小单位不告警。
	below := newEvent(usdt, EventMint, 1_000_000)
	below.Amount = new(big.Int).Sub(below.Amount, big.NewInt(1))
	if d.AnalyzeEvent(below) != nil {
		t.Fatal("mint below threshold must not alert")
	}

	// 达到 10 倍升级为 critical。
	alert = d.AnalyzeEvent(newEvent(usdt, EventMint, 10_000_000))
	if alert == nil || alert.Severity != SeverityCritical {
		t.Fatalf("tenfold mint must be critical, got %+v", alert)
	}
}

func TestAnalyzeEventBurnMirrorsMint(t *testing.T) {
	t.Parallel()

	d := NewDetector(DefaultThresholds())

	alert := d.AnalyzeEvent(newEvent(usdt, EventBurn, 1_000_000))
	if alert == nil || alert.Type != AlertLargeBurn || alert.Severity != SeverityHigh {
		t.Fatalf("unexpected burn alert %+v", alert)
	}
	alert = d.AnalyzeEvent(newEvent(usdt, EventBurn, 10_000_000))
	if alert == nil || alert.Severity != SeverityCritical {
		t.Fatalf("tenfold burn must be critical, got %+v", alert)
	}
}

func TestAnalyzeEventTransferTiers(t *testing.T) {
	t.Parallel()

	d := NewDetector(DefaultThresholds())

	// 阈值与 2 倍之间是 medium。
	alert := d.AnalyzeEvent(newEvent(usdt, EventTransfer, 15_000_000))
	if alert == nil || alert.Severity != SeverityMedium {
		t.Fatalf("15M transfer must be medium, got %+v", alert)
	}
	// 2 倍及以上是 high。
	alert = d.AnalyzeEvent(newEvent(usdt, EventTransfer, 20_000_000))
	if alert == nil || alert.Severity != SeverityHigh {
		t.Fatalf("20M transfer must be high, got %+v", alert)
	}
	if d.AnalyzeEvent(newEvent(usdt, EventTransfer, 9_999_999)) != nil {
		t.Fatal("transfer below threshold must not alert")
	}
}

func TestAnalyzeSupplyChange(t *testing.T) {
	t.Parallel()

	d := NewDetector(DefaultThresholds())
	decimals := 6

	// 首次观测不告警。
	if d.AnalyzeSupplyChange("USDT", scaleToRaw(100, decimals), big.NewInt(0), decimals) != nil {
		t.Fatal("first observation must not alert")
	}
	if d.AnalyzeSupplyChange("USDT", scaleToRaw(100, decimals), nil, decimals) != nil {
		t.Fatal("nil previous must not alert")
	}

	// 2% 的变化低于默认 5% 阈值。
	prev := scaleToRaw(1_000_000, decimals)
	cur := scaleToRaw(1_020_000, decimals)
	if d.AnalyzeSupplyChange("USDT", cur, prev, decimals) != nil {
		t.Fatal("2% change must not alert at 5% threshold")
	}

	// 6% 的增长是 medium。
	cur = scaleToRaw(1_060_000, decimals)
	alert := d.AnalyzeSupplyChange("USDT", cur, prev, decimals)
	if alert == nil || alert.Severity != SeverityMedium {
		t.Fatalf("6%% change must be medium, got %+v", alert)
	}
	if alert.Metadata["change_percent"] != "6.00" {
		t.Fatalf("unexpected change percent %v", alert.Metadata["change_percent"])
	}

	// 达到阈值 2 倍（10%）升级为 high，收缩同样适用。
	cur = scaleToRaw(900_000, decimals)
	alert = d.AnalyzeSupplyChange("USDT", cur, prev, decimals)
	if alert == nil || alert.Severity != SeverityHigh {
		t.Fatalf("10%% shrink must be high, got %+v", alert)
	}
	if alert.Metadata["change_percent"] != "-10.00" {
		t.Fatalf("unexpected change percent %v", alert.Metadata["change_percent"])
	}
}

func TestAnalyzeFrequencyWindow(t *testing.T) {
	t.Parallel()

	thresholds := DefaultThresholds()
	thresholds.FrequencyPerHour = 3
	d := NewDetector(thresholds)
	current := time.Unix(1_700_000_000, 0)
	d.now = func() time.Time { return current }

	recent := func(offset time.Duration) *Event {
		return &Event{Timestamp: current.Add(offset)}
	}

	// 两条新事件不足以触发。
	if d.AnalyzeFrequency("USDT", usdt.Key(), []*Event{recent(-time.Minute), recent(-2 * time.Minute)}) != nil {
		t.Fatal("2 events must not trigger threshold of 3")
	}

	// 第三条事件触发 medium。
	alert := d.AnalyzeFrequency("USDT", usdt.Key(), []*Event{recent(-30 * time.Second)})
	if alert == nil || alert.Severity != SeverityMedium {
		t.Fatalf("3 events must trigger medium, got %+v", alert)
	}

	// 窗口外的历史被裁剪：时间前进两小时后旧事件不再计数。
	current = current.Add(2 * time.Hour)
	if d.AnalyzeFrequency("USDT", usdt.Key(), []*Event{recent(-time.Minute)}) != nil {
		t.Fatal("events older than the window must be pruned")
	}

	// 达到阈值 2 倍升级为 high。
	burst := make([]*Event, 6)
	for i := range burst {
		burst[i] = recent(-time.Duration(i) * time.Second)
	}
	alert = d.AnalyzeFrequency("USDT", usdt.Key(), burst)
	if alert == nil || alert.Severity != SeverityHigh {
		t.Fatalf("double threshold must be high, got %+v", alert)
	}
}

func TestClearOldHistoryDropsEmptyKeys(t *testing.T) {
	t.Parallel()

	d := NewDetector(DefaultThresholds())
	current := time.Unix(1_700_000_000, 0)
	d.now = func() time.Time { return current }

	d.AnalyzeFrequency("USDT", usdt.Key(), []*Event{{Timestamp: current}})
	current = current.Add(2 * time.Hour)
	d.ClearOldHistory()

	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.history) != 0 {
		t.Fatalf("expected empty history, got %d keys", len(d.history))
	}
}

func TestUpdateThresholdsPartialMerge(t *testing.T) {
	t.Parallel()

	d := NewDetector(DefaultThresholds())
	mint := int64(500_000)
	d.UpdateThresholds(ThresholdUpdate{LargeMint: &mint})

	got := d.Thresholds()
	if got.LargeMint != 500_000 {
		t.Fatalf("LargeMint not updated: %d", got.LargeMint)
	}
	if got.LargeTransfer != DefaultThresholds().LargeTransfer {
		t.Fatal("unrelated threshold must keep its value")
	}
}

func TestClassifyTransfer(t *testing.T) {
	t.Parallel()

	if ClassifyTransfer(ZeroAddress, "0x1") != EventMint {
		t.Fatal("from zero address must classify as mint")
	}
	if ClassifyTransfer("0x1", ZeroAddress) != EventBurn {
		t.Fatal("to zero address must classify as burn")
	}
	if ClassifyTransfer("0x1", "0x2") != EventTransfer {
		t.Fatal("regular transfer misclassified")
	}
}

func TestFormatUnits(t *testing.T) {
	t.Parallel()

	cases := []struct {
		raw      string
		decimals int
		want     string
	}{
		{"1500000", 6, "1.5"},
		{"1000000", 6, "1"},
		{"1", 6, "0.000001"},
		{"0", 6, "0"},
		{"-2500000", 6, "-2.5"},
		{"123", 0, "123"},
	}
	for _, tc := range cases {
		raw, _ := new(big.Int).SetString(tc.raw, 10)
		if got := FormatUnits(raw, tc.decimals); got != tc.want {
			t.Fatalf("FormatUnits(%s, %d) = %s, want %s", tc.raw, tc.decimals, got, tc.want)
		}
	}
}
