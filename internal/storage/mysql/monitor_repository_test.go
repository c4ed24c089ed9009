package mysql

import (
	"context"
	"math/big"
	"testing"
	"time"

	"StableWatch-Chain/internal/stablecoin"
)

func TestMemoryRepositoryAlertRoundTrip(t *testing.T) {
	t.Parallel()

	repo, err := NewMemoryMonitorRepository(t.TempDir())
	if err != nil {
		t.Fatalf("new repo: %v", err)
	}
	ctx := context.Background()

	for i, severity := range []string{"medium", "high", "critical"} {
		record := AlertRecord{
			ID:        string(rune('a' + i)),
			AlertType: "large_mint",
			Severity:  severity,
			Title:     "USDT 大额铸币",
			CreatedAt: int64(1000 + i),
		}
		if err := repo.SaveAlert(ctx, record); err != nil {
			t.Fatalf("save alert: %v", err)
		}
	}

	alerts, err := repo.ListLatestAlerts(ctx, 2)
	if err != nil {
		t.Fatalf("list alerts: %v", err)
	}
	if len(alerts) != 2 {
		t.Fatalf("expected 2 alerts, got %d", len(alerts))
	}
	if alerts[0].Severity != "critical" {
		t.Fatalf("latest alert must come first, got %s", alerts[0].Severity)
	}
}

func TestMemoryRepositoryRestoresAlertsFromDisk(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	ctx := context.Background()

	repo, err := NewMemoryMonitorRepository(dir)
	if err != nil {
		t.Fatalf("new repo: %v", err)
	}
	if err := repo.SaveAlert(ctx, AlertRecord{ID: "a-1", Severity: "high", CreatedAt: 100}); err != nil {
		t.Fatalf("save alert: %v", err)
	}

	restored, err := NewMemoryMonitorRepository(dir)
	if err != nil {
		t.Fatalf("reopen repo: %v", err)
	}
	alerts, err := restored.ListLatestAlerts(ctx, 10)
	if err != nil {
		t.Fatalf("list alerts: %v", err)
	}
	if len(alerts) != 1 || alerts[0].ID != "a-1" {
		t.Fatalf("alerts not restored from disk: %+v", alerts)
	}
}

func TestEventRecordFromPreservesRawAmount(t *testing.T) {
	t.Parallel()

	amount, _ := new(big.Int).SetString("123456789012345678901234567890", 10)
	coin := stablecoin.Coin{Address: "0xABC", Network: stablecoin.NetworkEthereum, Decimals: 18}
	event := &stablecoin.Event{
		TxHash:      "0xdead",
		BlockNumber: 42,
		LogIndex:    7,
		Type:        stablecoin.EventTransfer,
		Amount:      amount,
		Timestamp:   time.Unix(1_700_000_000, 0),
		Coin:        &coin,
	}

	record := EventRecordFrom(event)
	if record.Amount != amount.String() {
		t.Fatalf("raw amount must survive untouched, got %s", record.Amount)
	}
	if record.CoinKey != "ethereum:0xabc" {
		t.Fatalf("unexpected coin key %s", record.CoinKey)
	}
	if record.OccurredAt != 1_700_000_000 {
		t.Fatalf("unexpected timestamp %d", record.OccurredAt)
	}
}

func TestAlertRecordFromEncodesMetadata(t *testing.T) {
	t.Parallel()

	alert := &stablecoin.Alert{
		ID:       "a-1",
		Type:     stablecoin.AlertSupplyChange,
		Severity: stablecoin.SeverityHigh,
		Metadata: map[string]any{"change_percent": "6.00"},
	}
	record := AlertRecordFrom(alert)
	if record.Metadata == "" {
		t.Fatal("metadata must be serialized")
	}
}

func TestSplitSQLStatements(t *testing.T) {
	t.Parallel()

	statements := splitSQLStatements("CREATE TABLE a (id INT);\n\nCREATE TABLE b (id INT);\n")
	if len(statements) != 2 {
		t.Fatalf("expected 2 statements, got %d", len(statements))
	}
}

func TestParseMigrationVersion(t *testing.T) {
	t.Parallel()

	if v := parseMigrationVersion("0001_monitor_tables.sql"); v != "0001" {
		t.Fatalf("unexpected version %s", v)
	}
	if v := parseMigrationVersion("0002.sql"); v != "0002" {
		t.Fatalf("unexpected version %s", v)
	}
}

func TestLoadMigrationFilesOrdered(t *testing.T) {
	t.Parallel()

	files, err := loadMigrationFiles()
	if err != nil {
		t.Fatalf("load migrations: %v", err)
	}
	if len(files) == 0 {
		t.Fatal("expected embedded migrations")
	}
	for i := 1; i < len(files); i++ {
		if files[i-1].version > files[i].version {
			t.Fatalf("migrations out of order: %s before %s", files[i-1].name, files[i].name)
		}
	}
}
