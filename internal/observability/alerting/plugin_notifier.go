package alerting

import (
	"context"

	"StableWatch-Chain/internal/stablecoin"
	"StableWatch-Chain/pkg/plugin"
)

// PluginNotifier 把告警转交给外部通知插件。每个插件占用独立的渠道名
// plugin:<id>，互不覆盖。
type PluginNotifier struct {
	id   string
	sink plugin.AlertSink
}

// NewPluginNotifier 包装一个通知插件为告警渠道。
func NewPluginNotifier(id string, sink plugin.AlertSink) *PluginNotifier {
	return &PluginNotifier{id: id, sink: sink}
}

// Channel 实现 Notifier。
func (n *PluginNotifier) Channel() Channel { return Channel("plugin:" + n.id) }

// Notify 把告警摊平为 JSON 兼容的载荷后交给插件投递。
func (n *PluginNotifier) Notify(ctx context.Context, alert *stablecoin.Alert) error {
	payload := map[string]any{
		"id":          alert.ID,
		"type":        string(alert.Type),
		"severity":    string(alert.Severity),
		"priority":    string(PriorityFor(alert.Severity)),
		"title":       alert.Title,
		"description": alert.Description,
		"timestamp":   alert.Timestamp.Unix(),
	}
	if len(alert.Metadata) > 0 {
		meta := make(map[string]any, len(alert.Metadata))
		for k, v := range alert.Metadata {
			meta[k] = v
		}
		payload["metadata"] = meta
	}
	return n.sink.Deliver(ctx, payload)
}
