package ethereum

import (
	"context"
	"math/big"
	"testing"
	"time"

	"StableWatch-Chain/internal/web3"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
)

type fakeReader struct {
	height        uint64
	logs          []coretypes.Log
	supply        *big.Int
	headerCalls   int
	lastQuery     gethcore.FilterQuery
	lastCallData  []byte
	headerTimeFor func(number uint64) uint64
}

func (f *fakeReader) ChainID(ctx context.Context) (*big.Int, error) {
	return big.NewInt(1), nil
}

func (f *fakeReader) BlockNumber(ctx context.Context) (uint64, error) {
	return f.height, nil
}

func (f *fakeReader) FilterLogs(ctx context.Context, q gethcore.FilterQuery) ([]coretypes.Log, error) {
	f.lastQuery = q
	return f.logs, nil
}

func (f *fakeReader) CallContract(ctx context.Context, msg gethcore.CallMsg, blockNumber *big.Int) ([]byte, error) {
	f.lastCallData = msg.Data
	return common.LeftPadBytes(f.supply.Bytes(), 32), nil
}

func (f *fakeReader) HeaderByNumber(ctx context.Context, number *big.Int) (*coretypes.Header, error) {
	f.headerCalls++
	ts := uint64(1_700_000_000)
	if f.headerTimeFor != nil {
		ts = f.headerTimeFor(number.Uint64())
	}
	return &coretypes.Header{Number: new(big.Int).Set(number), Time: ts}, nil
}

func addressTopic(addr string) common.Hash {
	return common.BytesToHash(common.HexToAddress(addr).Bytes())
}

func transferLog(block uint64, index uint, from, to string, value int64) coretypes.Log {
	return coretypes.Log{
		BlockNumber: block,
		Index:       index,
		TxHash:      common.BigToHash(big.NewInt(int64(block*1000 + uint64(index)))),
		Topics:      []common.Hash{transferTopic, addressTopic(from), addressTopic(to)},
		Data:        common.LeftPadBytes(big.NewInt(value).Bytes(), 32),
	}
}

func newTestClient(t *testing.T, reader chainReader) *Client {
	t.Helper()
	client, err := NewWithReader(Config{Name: "test"}, reader)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}

func TestCurrentBlock(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, &fakeReader{height: 4521})
	height, err := client.CurrentBlock(context.Background())
	if err != nil {
		t.Fatalf("current block: %v", err)
	}
	if height != 4521 {
		t.Fatalf("unexpected height %d", height)
	}
}

func TestTransferEventsParsesAndOrders(t *testing.T) {
	t.Parallel()

	from := "0x1111111111111111111111111111111111111111"
	to := "0x2222222222222222222222222222222222222222"
	reader := &fakeReader{
		logs: []coretypes.Log{
			transferLog(12, 3, from, to, 500),
			transferLog(10, 7, from, to, 100),
			transferLog(12, 1, from, to, 300),
			// 非标准日志（缺少 indexed 主题）应被忽略。
			{BlockNumber: 11, Topics: []common.Hash{transferTopic}},
		},
	}
	client := newTestClient(t, reader)

	events, err := client.TransferEvents(context.Background(), "0xdAC17F958D2ee523a2206206994597C13D831ec7", 10, 12)
	if err != nil {
		t.Fatalf("transfer events: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	if events[0].BlockNumber != 10 || events[1].LogIndex != 1 || events[2].LogIndex != 3 {
		t.Fatalf("events not ordered by (block, logIndex): %+v", events)
	}
	if events[0].Value.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("unexpected value %s", events[0].Value)
	}
	if events[0].From != common.HexToAddress(from).Hex() {
		t.Fatalf("unexpected from address %s", events[0].From)
	}
	if reader.lastQuery.FromBlock.Uint64() != 10 || reader.lastQuery.ToBlock.Uint64() != 12 {
		t.Fatalf("unexpected filter range %+v", reader.lastQuery)
	}
}

func TestTransferEventsCachesBlockTimestamps(t *testing.T) {
	t.Parallel()

	from := "0x1111111111111111111111111111111111111111"
	to := "0x2222222222222222222222222222222222222222"
	reader := &fakeReader{
		logs: []coretypes.Log{
			transferLog(42, 0, from, to, 1),
			transferLog(42, 1, from, to, 2),
			transferLog(42, 2, from, to, 3),
		},
		headerTimeFor: func(uint64) uint64 { return 1_700_000_000 },
	}
	client := newTestClient(t, reader)

	events, err := client.TransferEvents(context.Background(), "0xdAC17F958D2ee523a2206206994597C13D831ec7", 42, 42)
	if err != nil {
		t.Fatalf("transfer events: %v", err)
	}
	if reader.headerCalls != 1 {
		t.Fatalf("expected a single header lookup, got %d", reader.headerCalls)
	}
	want := time.Unix(1_700_000_000, 0).UTC()
	for _, ev := range events {
		if !ev.Timestamp.Equal(want) {
			t.Fatalf("unexpected timestamp %v", ev.Timestamp)
		}
	}
}

func TestTotalSupply(t *testing.T) {
	t.Parallel()

	supply := new(big.Int)
	supply.SetString("120000000000000", 10)
	reader := &fakeReader{supply: supply}
	client := newTestClient(t, reader)

	got, err := client.TotalSupply(context.Background(), "0xdAC17F958D2ee523a2206206994597C13D831ec7")
	if err != nil {
		t.Fatalf("total supply: %v", err)
	}
	if got.Cmp(supply) != 0 {
		t.Fatalf("unexpected supply %s", got)
	}
	// totalSupply 的选择器是 0x18160ddd。
	if len(reader.lastCallData) != 4 || reader.lastCallData[0] != 0x18 || reader.lastCallData[1] != 0x16 {
		t.Fatalf("unexpected call data %x", reader.lastCallData)
	}
}

func TestTransferEventsRejectsEmptyAddress(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, &fakeReader{})
	if _, err := client.TransferEvents(context.Background(), "  ", 1, 2); err == nil {
		t.Fatal("expected error for empty token address")
	}
}

var _ web3.Client = (*Client)(nil)
