package catalog

import (
	"os"
	"path/filepath"
	"testing"

	"StableWatch-Chain/internal/stablecoin"
)

func TestEnrichFillsMissingMetadata(t *testing.T) {
	cat := New([]Entry{
		{
			Address:  "0xdAC17F958D2ee523a2206206994597C13D831ec7",
			Name:     "Tether USD",
			Symbol:   "USDT",
			Decimals: 6,
			Network:  "ethereum",
		},
	})

	coins := cat.Enrich([]stablecoin.Coin{
		{Address: "0xdac17f958d2ee523a2206206994597c13d831ec7", Network: stablecoin.NetworkEthereum, Active: true},
		{Address: "0xunknown", Network: stablecoin.NetworkPolygon, Symbol: "XUSD", Active: true},
	})

	if coins[0].Symbol != "USDT" || coins[0].Decimals != 6 || coins[0].Name != "Tether USD" {
		t.Fatalf("元数据未补全: %+v", coins[0])
	}
	if coins[1].Symbol != "XUSD" {
		t.Fatalf("目录外的代币不应被改写: %+v", coins[1])
	}
}

func TestEnrichKeepsExplicitFields(t *testing.T) {
	cat := New([]Entry{
		{Address: "0xabc", Name: "Catalog Name", Symbol: "CAT", Decimals: 18, Network: "ethereum"},
	})

	coins := cat.Enrich([]stablecoin.Coin{
		{Address: "0xABC", Network: stablecoin.NetworkEthereum, Symbol: "OWN", Decimals: 6},
	})
	if coins[0].Symbol != "OWN" || coins[0].Decimals != 6 {
		t.Fatalf("显式配置的字段被覆盖: %+v", coins[0])
	}
	if coins[0].Name != "Catalog Name" {
		t.Fatalf("缺失字段应被补全: %+v", coins[0])
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.json")
	payload := `[{"address":"0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48","name":"USD Coin","symbol":"USDC","decimals":6,"network":"ethereum"}]`
	if err := os.WriteFile(path, []byte(payload), 0o644); err != nil {
		t.Fatalf("写入目录文件失败: %v", err)
	}

	cat, err := Load(path)
	if err != nil {
		t.Fatalf("加载目录失败: %v", err)
	}
	if cat.Len() != 1 {
		t.Fatalf("期望 1 个条目，得到 %d", cat.Len())
	}
	entry, ok := cat.Lookup("Ethereum", "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48")
	if !ok || entry.Symbol != "USDC" {
		t.Fatalf("按大小写无关键查询失败: %+v ok=%v", entry, ok)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatal("缺失文件应返回错误")
	}
}
