package ethereum

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"sync"
	"time"

	"StableWatch-Chain/internal/web3"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
	lru "github.com/hashicorp/golang-lru/v2"
)

// erc20ABI 只保留监控链路会调用的只读方法。
const erc20ABI = `[{"constant":true,"inputs":[],"name":"totalSupply","outputs":[{"name":"","type":"uint256"}],"type":"function"}]`

// headerCacheSize bounds the block-timestamp cache. One poll tick rarely
// touches more than a few hundred distinct blocks.
const headerCacheSize = 2048

// transferTopic is keccak256("Transfer(address,address,uint256)").
var transferTopic = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))

// Config describes how to construct an EVM compatible client.
type Config struct {
	Name   string
	RPCURL string
	WSURL  string
	Notes  string
}

// chainReader mirrors the subset of ethclient methods the monitor pipeline
// relies on, so tests can substitute an in-memory backend.
type chainReader interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, q gethcore.FilterQuery) ([]coretypes.Log, error)
	CallContract(ctx context.Context, msg gethcore.CallMsg, blockNumber *big.Int) ([]byte, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*coretypes.Header, error)
}

// Client implements the web3.Client interface for EVM compatible chains.
type Client struct {
	name      string
	notes     string
	rpcClient *gethrpc.Client
	reader    chainReader
	abi       abi.ABI
	headerTs  *lru.Cache[uint64, time.Time]
	mu        sync.Mutex
}

// NewClient dials the configured RPC endpoint and returns a ready-to-use client.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	rpcURL := strings.TrimSpace(cfg.RPCURL)
	if rpcURL == "" {
		return nil, errors.New("未配置以太坊 RPC 地址")
	}

	rpcClient, err := gethrpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("连接以太坊节点失败: %w", err)
	}

	client, err := newWithReader(cfg, ethclient.NewClient(rpcClient))
	if err != nil {
		rpcClient.Close()
		return nil, err
	}
	client.rpcClient = rpcClient
	return client, nil
}

// NewWithReader wraps an arbitrary read backend, mainly for tests.
func NewWithReader(cfg Config, reader chainReader) (*Client, error) {
	return newWithReader(cfg, reader)
}

func newWithReader(cfg Config, reader chainReader) (*Client, error) {
	parsedABI, err := abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		return nil, fmt.Errorf("解析 ERC-20 ABI 失败: %w", err)
	}
	cache, err := lru.New[uint64, time.Time](headerCacheSize)
	if err != nil {
		return nil, fmt.Errorf("初始化区块时间缓存失败: %w", err)
	}
	return &Client{
		name:     cfg.Name,
		notes:    cfg.Notes,
		reader:   reader,
		abi:      parsedABI,
		headerTs: cache,
	}, nil
}

// Close releases network connections held by the client.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ec, ok := c.reader.(*ethclient.Client); ok {
		ec.Close()
	}
	c.reader = nil
	if c.rpcClient != nil {
		c.rpcClient.Close()
		c.rpcClient = nil
	}
}

// FetchChainSnapshot gathers lightweight metadata from the chain.
func (c *Client) FetchChainSnapshot(ctx context.Context) (web3.ChainSnapshot, error) {
	if c == nil || c.reader == nil {
		return web3.ChainSnapshot{}, errors.New("未初始化的以太坊客户端")
	}

	chainID, err := c.reader.ChainID(ctx)
	if err != nil {
		return web3.ChainSnapshot{}, fmt.Errorf("获取链 ID 失败: %w", err)
	}
	blockNumber, err := c.reader.BlockNumber(ctx)
	if err != nil {
		return web3.ChainSnapshot{}, fmt.Errorf("获取最新区块高度失败: %w", err)
	}
	return web3.ChainSnapshot{
		ChainID:     toHexBig(chainID),
		BlockNumber: fmt.Sprintf("0x%x", blockNumber),
		Notes:       c.notes,
	}, nil
}

// CurrentBlock 返回链上最新区块高度。
func (c *Client) CurrentBlock(ctx context.Context) (uint64, error) {
	if c == nil || c.reader == nil {
		return 0, errors.New("未初始化的以太坊客户端")
	}
	height, err := c.reader.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("获取最新区块高度失败: %w", err)
	}
	return height, nil
}

// TransferEvents 拉取指定代币在 [fromBlock, toBlock] 区间内的全部
// Transfer 日志，并补齐区块时间戳。
func (c *Client) TransferEvents(ctx context.Context, tokenAddress string, fromBlock, toBlock uint64) ([]web3.TransferLog, error) {
	if c == nil || c.reader == nil {
		return nil, errors.New("未初始化的以太坊客户端")
	}
	token := strings.TrimSpace(tokenAddress)
	if token == "" {
		return nil, errors.New("代币地址不能为空")
	}

	query := gethcore.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		ToBlock:   new(big.Int).SetUint64(toBlock),
		Addresses: []common.Address{common.HexToAddress(token)},
		Topics:    [][]common.Hash{{transferTopic}},
	}
	logs, err := c.reader.FilterLogs(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("查询转账日志失败: %w", err)
	}

	transfers := make([]web3.TransferLog, 0, len(logs))
	for _, lg := range logs {
		transfer, ok := parseTransferLog(lg)
		if !ok {
			continue
		}
		ts, err := c.blockTimestamp(ctx, lg.BlockNumber)
		if err == nil {
			transfer.Timestamp = ts
		}
		transfers = append(transfers, transfer)
	}
	sort.Slice(transfers, func(i, j int) bool {
		if transfers[i].BlockNumber != transfers[j].BlockNumber {
			return transfers[i].BlockNumber < transfers[j].BlockNumber
		}
		return transfers[i].LogIndex < transfers[j].LogIndex
	})
	return transfers, nil
}

// TotalSupply 调用代币合约的 totalSupply 只读方法。
func (c *Client) TotalSupply(ctx context.Context, tokenAddress string) (*big.Int, error) {
	if c == nil || c.reader == nil {
		return nil, errors.New("未初始化的以太坊客户端")
	}
	token := strings.TrimSpace(tokenAddress)
	if token == "" {
		return nil, errors.New("代币地址不能为空")
	}

	data, err := c.abi.Pack("totalSupply")
	if err != nil {
		return nil, fmt.Errorf("编码 totalSupply 调用失败: %w", err)
	}
	contract := common.HexToAddress(token)
	raw, err := c.reader.CallContract(ctx, gethcore.CallMsg{To: &contract, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("调用 totalSupply 失败: %w", err)
	}

	results, err := c.abi.Unpack("totalSupply", raw)
	if err != nil {
		return nil, fmt.Errorf("解码 totalSupply 返回值失败: %w", err)
	}
	supply, ok := results[0].(*big.Int)
	if !ok {
		return nil, errors.New("totalSupply 返回值类型不符合预期")
	}
	return supply, nil
}

// parseTransferLog converts a raw Transfer log into the pipeline form.
// Non-standard logs (missing indexed from/to topics) are dropped.
func parseTransferLog(lg coretypes.Log) (web3.TransferLog, bool) {
	if len(lg.Topics) < 3 || lg.Topics[0] != transferTopic {
		return web3.TransferLog{}, false
	}
	return web3.TransferLog{
		TxHash:      lg.TxHash.Hex(),
		BlockNumber: lg.BlockNumber,
		LogIndex:    lg.Index,
		From:        common.BytesToAddress(lg.Topics[1].Bytes()).Hex(),
		To:          common.BytesToAddress(lg.Topics[2].Bytes()).Hex(),
		Value:       new(big.Int).SetBytes(lg.Data),
	}, true
}

// blockTimestamp resolves a block number to its timestamp, caching headers
// so a tick covering many logs only hits the node once per block.
func (c *Client) blockTimestamp(ctx context.Context, number uint64) (time.Time, error) {
	if ts, ok := c.headerTs.Get(number); ok {
		return ts, nil
	}
	header, err := c.reader.HeaderByNumber(ctx, new(big.Int).SetUint64(number))
	if err != nil {
		return time.Time{}, fmt.Errorf("查询区块头失败: %w", err)
	}
	ts := time.Unix(int64(header.Time), 0).UTC()
	c.headerTs.Add(number, ts)
	return ts, nil
}

func toHexBig(n *big.Int) string {
	if n == nil {
		return "0x0"
	}
	return "0x" + n.Text(16)
}
