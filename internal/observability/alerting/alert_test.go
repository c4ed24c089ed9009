package alerting

import (
	"context"
	"errors"
	"testing"

	"StableWatch-Chain/internal/stablecoin"
)

type recordingNotifier struct {
	channel Channel
	err     error
	got     []*stablecoin.Alert
}

func (n *recordingNotifier) Channel() Channel { return n.channel }

func (n *recordingNotifier) Notify(_ context.Context, alert *stablecoin.Alert) error {
	n.got = append(n.got, alert)
	return n.err
}

func alertWithSeverity(severity stablecoin.Severity) *stablecoin.Alert {
	return &stablecoin.Alert{
		ID:       "a-1",
		Type:     stablecoin.AlertLargeMint,
		Severity: severity,
		Title:    "USDT 大额铸币",
	}
}

func TestFanoutSkipsBelowNotifiableSeverity(t *testing.T) {
	t.Parallel()

	notifier := &recordingNotifier{channel: ChannelLog}
	dispatcher := NewFanout(notifier)

	for _, severity := range []stablecoin.Severity{stablecoin.SeverityLow, stablecoin.SeverityMedium} {
		if err := dispatcher.Notify(context.Background(), alertWithSeverity(severity)); err != nil {
			t.Fatalf("notify %s: %v", severity, err)
		}
	}
	if len(notifier.got) != 0 {
		t.Fatalf("low/medium alerts must not reach channels, got %d", len(notifier.got))
	}
}

func TestFanoutDeliversHighAndCritical(t *testing.T) {
	t.Parallel()

	notifier := &recordingNotifier{channel: ChannelLog}
	dispatcher := NewFanout(notifier)

	for _, severity := range []stablecoin.Severity{stablecoin.SeverityHigh, stablecoin.SeverityCritical} {
		if err := dispatcher.Notify(context.Background(), alertWithSeverity(severity)); err != nil {
			t.Fatalf("notify %s: %v", severity, err)
		}
	}
	if len(notifier.got) != 2 {
		t.Fatalf("expected 2 delivered alerts, got %d", len(notifier.got))
	}
}

func TestFanoutJoinsChannelErrors(t *testing.T) {
	t.Parallel()

	failing := &recordingNotifier{channel: ChannelRabbitMQ, err: errors.New("broker down")}
	healthy := &recordingNotifier{channel: ChannelLog}
	dispatcher := NewFanout(failing, healthy)

	err := dispatcher.Notify(context.Background(), alertWithSeverity(stablecoin.SeverityCritical))
	if err == nil {
		t.Fatal("expected aggregated channel error")
	}
	if len(healthy.got) != 1 {
		t.Fatal("healthy channel should still receive the alert")
	}
}

func TestPriorityFor(t *testing.T) {
	t.Parallel()

	if PriorityFor(stablecoin.SeverityCritical) != PriorityUrgent {
		t.Fatal("critical must map to urgent priority")
	}
	if PriorityFor(stablecoin.SeverityHigh) != PriorityHigh {
		t.Fatal("high must map to high priority")
	}
}
