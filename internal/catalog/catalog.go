// Package catalog 维护一份已知稳定币合约的静态目录。配置中的监控代币
// 只提供合约地址时，缺失的名称、符号与小数位从目录中补全，避免在
// 每个环境里重复抄写元数据。
package catalog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"StableWatch-Chain/internal/stablecoin"
)

// Entry 描述目录中的一个稳定币合约。
type Entry struct {
	Address  string `json:"address"`
	Name     string `json:"name"`
	Symbol   string `json:"symbol"`
	Decimals int    `json:"decimals"`
	Network  string `json:"network"`
	Issuer   string `json:"issuer,omitempty"`
}

// Catalog 按 network:address 索引合约元数据，只读。
type Catalog struct {
	entries map[string]Entry
}

// New 从条目列表构造目录，地址统一小写。
func New(entries []Entry) *Catalog {
	indexed := make(map[string]Entry, len(entries))
	for _, entry := range entries {
		if strings.TrimSpace(entry.Address) == "" || strings.TrimSpace(entry.Network) == "" {
			continue
		}
		indexed[key(entry.Network, entry.Address)] = entry
	}
	return &Catalog{entries: indexed}
}

// Load 从 JSON 文件加载目录。
func Load(path string) (*Catalog, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("目录文件路径不能为空")
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("解析目录路径失败: %w", err)
	}

	file, err := os.Open(absPath)
	if err != nil {
		return nil, fmt.Errorf("读取目录文件失败: %w", err)
	}
	defer file.Close()

	var entries []Entry
	if err := json.NewDecoder(file).Decode(&entries); err != nil {
		return nil, fmt.Errorf("解析目录文件失败: %w", err)
	}
	return New(entries), nil
}

// Lookup 按网络与地址查询目录条目。
func (c *Catalog) Lookup(network, address string) (Entry, bool) {
	if c == nil {
		return Entry{}, false
	}
	entry, ok := c.entries[key(network, address)]
	return entry, ok
}

// Len 返回目录条目数。
func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.entries)
}

// Enrich 为缺失元数据的代币补全目录中的名称、符号与小数位，
// 已填写的字段不覆盖。目录中查不到的代币原样返回。
func (c *Catalog) Enrich(coins []stablecoin.Coin) []stablecoin.Coin {
	if c == nil || len(coins) == 0 {
		return coins
	}
	enriched := make([]stablecoin.Coin, len(coins))
	for i, coin := range coins {
		entry, ok := c.Lookup(string(coin.Network), coin.Address)
		if !ok {
			enriched[i] = coin
			continue
		}
		if coin.Name == "" {
			coin.Name = entry.Name
		}
		if coin.Symbol == "" {
			coin.Symbol = entry.Symbol
		}
		if coin.Decimals == 0 {
			coin.Decimals = entry.Decimals
		}
		enriched[i] = coin
	}
	return enriched
}

func key(network, address string) string {
	return strings.ToLower(strings.TrimSpace(network)) + ":" + strings.ToLower(strings.TrimSpace(address))
}
