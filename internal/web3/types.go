package web3

import (
	"context"
	"math/big"
	"time"
)

// TransferLog 是链上一条 ERC-20 Transfer 日志的原始形态。Value 保留
// 链上原始整数，绝不转成字符串或浮点后再参与比较。
type TransferLog struct {
	TxHash      string
	BlockNumber uint64
	LogIndex    uint
	From        string
	To          string
	Value       *big.Int
	Timestamp   time.Time
}

// ChainSnapshot represents summarized network metadata for reporting.
type ChainSnapshot struct {
	ChainID     string
	BlockNumber string
	Notes       string
}

// Client 定义异常检测管线对链数据访问层的全部要求：查询当前块高、
// 按区块区间拉取代币转账日志、读取代币总供应量。TransferEvents 的
// 返回按 (BlockNumber, LogIndex) 升序排列。
type Client interface {
	FetchChainSnapshot(ctx context.Context) (ChainSnapshot, error)
	CurrentBlock(ctx context.Context) (uint64, error)
	TransferEvents(ctx context.Context, tokenAddress string, fromBlock, toBlock uint64) ([]TransferLog, error)
	TotalSupply(ctx context.Context, tokenAddress string) (*big.Int, error)
	Close()
}
