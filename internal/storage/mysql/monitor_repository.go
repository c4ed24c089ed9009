package mysql

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"StableWatch-Chain/internal/stablecoin"
)

// EventRecord 表示一条链上事件的落库结构。金额以十进制字符串存储，
// 保留链上原始精度。
type EventRecord struct {
	CoinKey     string `json:"coin_key"`
	TxHash      string `json:"tx_hash"`
	BlockNumber uint64 `json:"block_number"`
	LogIndex    uint   `json:"log_index"`
	EventType   string `json:"event_type"`
	FromAddr    string `json:"from_addr"`
	ToAddr      string `json:"to_addr"`
	Amount      string `json:"amount"`
	Formatted   string `json:"formatted"`
	OccurredAt  int64  `json:"occurred_at"`
}

// AlertRecord 表示一条异常告警的落库结构。
type AlertRecord struct {
	ID          string `json:"id"`
	AlertType   string `json:"alert_type"`
	Severity    string `json:"severity"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Metadata    string `json:"metadata"`
	CreatedAt   int64  `json:"created_at"`
}

// SnapshotRecord 表示一次总供应量观测的落库结构。
type SnapshotRecord struct {
	CoinKey       string `json:"coin_key"`
	Supply        string `json:"supply"`
	Formatted     string `json:"formatted"`
	BlockNumber   uint64 `json:"block_number"`
	ChangePercent string `json:"change_percent"`
	CreatedAt     int64  `json:"created_at"`
}

// TickRecord 表示一个监控周期的汇总统计。
type TickRecord struct {
	CoinsChecked      int   `json:"coins_checked"`
	FailedCoins       int   `json:"failed_coins"`
	EventsProcessed   int   `json:"events_processed"`
	AnomaliesDetected int   `json:"anomalies_detected"`
	SupplySnapshots   int   `json:"supply_snapshots"`
	CreatedAt         int64 `json:"created_at"`
}

// MonitorRepository 抽象监控数据的持久化接口。
type MonitorRepository interface {
	SaveEvent(ctx context.Context, record EventRecord) error
	SaveAlert(ctx context.Context, record AlertRecord) error
	SaveSnapshot(ctx context.Context, record SnapshotRecord) error
	SaveTick(ctx context.Context, record TickRecord) error
	ListLatestAlerts(ctx context.Context, limit int) ([]AlertRecord, error)
	Close() error
}

// EventRecordFrom 把规范事件转为落库结构。
func EventRecordFrom(event *stablecoin.Event) EventRecord {
	record := EventRecord{
		TxHash:      event.TxHash,
		BlockNumber: event.BlockNumber,
		LogIndex:    event.LogIndex,
		EventType:   string(event.Type),
		FromAddr:    event.From,
		ToAddr:      event.To,
		Formatted:   event.AmountFormatted,
		OccurredAt:  event.Timestamp.Unix(),
	}
	if event.Coin != nil {
		record.CoinKey = event.Coin.Key()
	}
	if event.Amount != nil {
		record.Amount = event.Amount.String()
	}
	return record
}

// AlertRecordFrom 把告警转为落库结构，metadata 序列化为 JSON。
func AlertRecordFrom(alert *stablecoin.Alert) AlertRecord {
	metadata := ""
	if len(alert.Metadata) > 0 {
		if encoded, err := json.Marshal(alert.Metadata); err == nil {
			metadata = string(encoded)
		}
	}
	return AlertRecord{
		ID:          alert.ID,
		AlertType:   string(alert.Type),
		Severity:    string(alert.Severity),
		Title:       alert.Title,
		Description: alert.Description,
		Metadata:    metadata,
		CreatedAt:   alert.Timestamp.Unix(),
	}
}

// SnapshotRecordFrom 把总量快照转为落库结构。
func SnapshotRecordFrom(snapshot *stablecoin.SupplySnapshot) SnapshotRecord {
	record := SnapshotRecord{
		CoinKey:       snapshot.CoinKey,
		Formatted:     snapshot.SupplyFormatted,
		BlockNumber:   snapshot.BlockNumber,
		ChangePercent: snapshot.ChangePercent,
		CreatedAt:     snapshot.Timestamp.Unix(),
	}
	if snapshot.Supply != nil {
		record.Supply = snapshot.Supply.String()
	}
	return record
}

// TickRecordFrom 把周期统计转为落库结构。
func TickRecordFrom(result *stablecoin.TickResult) TickRecord {
	return TickRecord{
		CoinsChecked:      result.CoinsChecked,
		FailedCoins:       result.FailedCoins,
		EventsProcessed:   result.EventsProcessed,
		AnomaliesDetected: result.AnomaliesDetected,
		SupplySnapshots:   result.SupplySnapshots,
		CreatedAt:         time.Now().Unix(),
	}
}

// MemoryMonitorRepository 使用本地 JSON 追加日志模拟 MySQL 的效果，
// 方便迭代开发与测试。
type MemoryMonitorRepository struct {
	mu      sync.RWMutex
	dataDir string
	alerts  []AlertRecord
}

// NewMemoryMonitorRepository 创建一个内存监控仓库。
func NewMemoryMonitorRepository(dataDir string) (*MemoryMonitorRepository, error) {
	if dataDir == "" {
		dataDir = "."
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("创建数据目录失败: %w", err)
	}
	repo := &MemoryMonitorRepository{dataDir: dataDir}
	if err := repo.loadAlerts(); err != nil {
		return nil, err
	}
	return repo, nil
}

func (m *MemoryMonitorRepository) appendLine(name string, value any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	file, err := os.OpenFile(filepath.Join(m.dataDir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("打开数据日志失败: %w", err)
	}
	defer file.Close()

	encoded, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("序列化记录失败: %w", err)
	}
	if _, err := file.Write(append(encoded, '\n')); err != nil {
		return fmt.Errorf("写入数据日志失败: %w", err)
	}
	return nil
}

// SaveEvent 以追加写的方式记录链上事件。
func (m *MemoryMonitorRepository) SaveEvent(_ context.Context, record EventRecord) error {
	return m.appendLine("events.log", record)
}

// SaveAlert 记录告警并保留近期的内存副本。
func (m *MemoryMonitorRepository) SaveAlert(_ context.Context, record AlertRecord) error {
	if err := m.appendLine("alerts.log", record); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alerts = append([]AlertRecord{record}, m.alerts...)
	if len(m.alerts) > 512 {
		m.alerts = m.alerts[:512]
	}
	return nil
}

// SaveSnapshot 记录总量快照。
func (m *MemoryMonitorRepository) SaveSnapshot(_ context.Context, record SnapshotRecord) error {
	return m.appendLine("snapshots.log", record)
}

// SaveTick 记录周期统计。
func (m *MemoryMonitorRepository) SaveTick(_ context.Context, record TickRecord) error {
	return m.appendLine("ticks.log", record)
}

// ListLatestAlerts 返回最近的告警，按时间倒序排列。
func (m *MemoryMonitorRepository) ListLatestAlerts(_ context.Context, limit int) ([]AlertRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 || limit > len(m.alerts) {
		limit = len(m.alerts)
	}
	results := make([]AlertRecord, limit)
	copy(results, m.alerts[:limit])
	return results, nil
}

// Close 实现 MonitorRepository，内存实现无连接可关闭。
func (m *MemoryMonitorRepository) Close() error { return nil }

func (m *MemoryMonitorRepository) loadAlerts() error {
	file, err := os.OpenFile(filepath.Join(m.dataDir, "alerts.log"), os.O_RDONLY|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("读取告警日志失败: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	var restored []AlertRecord
	for scanner.Scan() {
		var record AlertRecord
		if err := json.Unmarshal(scanner.Bytes(), &record); err != nil {
			continue
		}
		restored = append([]AlertRecord{record}, restored...)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("解析告警日志失败: %w", err)
	}
	if len(restored) > 512 {
		restored = restored[:512]
	}
	m.alerts = restored
	return nil
}

// SQLMonitorRepository 使用真实的 MySQL 数据库存储监控数据。
type SQLMonitorRepository struct {
	db *sql.DB
}

// NewSQLMonitorRepository 创建连接池并执行 schema 迁移。
func NewSQLMonitorRepository(ctx context.Context, cfg Config) (*SQLMonitorRepository, error) {
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := runMigrations(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLMonitorRepository{db: db}, nil
}

// SaveEvent 将链上事件写入 MySQL。
func (s *SQLMonitorRepository) SaveEvent(ctx context.Context, record EventRecord) error {
	const stmt = `INSERT INTO chain_events
        (coin_key, tx_hash, block_number, log_index, event_type, from_addr, to_addr, amount, formatted, occurred_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	if _, err := s.db.ExecContext(ctx, stmt,
		record.CoinKey,
		record.TxHash,
		record.BlockNumber,
		record.LogIndex,
		record.EventType,
		record.FromAddr,
		record.ToAddr,
		record.Amount,
		record.Formatted,
		record.OccurredAt,
	); err != nil {
		return fmt.Errorf("写入链上事件失败: %w", err)
	}
	return nil
}

// SaveAlert 将告警写入 MySQL。
func (s *SQLMonitorRepository) SaveAlert(ctx context.Context, record AlertRecord) error {
	const stmt = `INSERT INTO anomaly_alerts
        (id, alert_type, severity, title, description, metadata, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?)`

	if _, err := s.db.ExecContext(ctx, stmt,
		record.ID,
		record.AlertType,
		record.Severity,
		record.Title,
		record.Description,
		record.Metadata,
		record.CreatedAt,
	); err != nil {
		return fmt.Errorf("写入告警失败: %w", err)
	}
	return nil
}

// SaveSnapshot 将总量快照写入 MySQL。
func (s *SQLMonitorRepository) SaveSnapshot(ctx context.Context, record SnapshotRecord) error {
	const stmt = `INSERT INTO supply_snapshots
        (coin_key, supply, formatted, block_number, change_percent, created_at)
        VALUES (?, ?, ?, ?, ?, ?)`

	if _, err := s.db.ExecContext(ctx, stmt,
		record.CoinKey,
		record.Supply,
		record.Formatted,
		record.BlockNumber,
		record.ChangePercent,
		record.CreatedAt,
	); err != nil {
		return fmt.Errorf("写入总量快照失败: %w", err)
	}
	return nil
}

// SaveTick 将周期统计写入 MySQL。
func (s *SQLMonitorRepository) SaveTick(ctx context.Context, record TickRecord) error {
	const stmt = `INSERT INTO monitor_ticks
        (coins_checked, failed_coins, events_processed, anomalies_detected, supply_snapshots, created_at)
        VALUES (?, ?, ?, ?, ?, ?)`

	if _, err := s.db.ExecContext(ctx, stmt,
		record.CoinsChecked,
		record.FailedCoins,
		record.EventsProcessed,
		record.AnomaliesDetected,
		record.SupplySnapshots,
		record.CreatedAt,
	); err != nil {
		return fmt.Errorf("写入周期统计失败: %w", err)
	}
	return nil
}

// ListLatestAlerts 查询最近的若干条告警。
func (s *SQLMonitorRepository) ListLatestAlerts(ctx context.Context, limit int) ([]AlertRecord, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx, `SELECT id, alert_type, severity, title, description, metadata, created_at
        FROM anomaly_alerts ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("查询告警失败: %w", err)
	}
	defer rows.Close()

	var records []AlertRecord
	for rows.Next() {
		var record AlertRecord
		if err := rows.Scan(&record.ID, &record.AlertType, &record.Severity, &record.Title, &record.Description, &record.Metadata, &record.CreatedAt); err != nil {
			return nil, fmt.Errorf("解析告警记录失败: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("遍历告警记录失败: %w", err)
	}
	return records, nil
}

// Close 关闭底层数据库连接。
func (s *SQLMonitorRepository) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
