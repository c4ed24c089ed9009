package alerting

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"StableWatch-Chain/internal/stablecoin"
	"StableWatch-Chain/pkg/logger"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Channel 表示通知渠道。
type Channel string

// 支持的通知渠道
const (
	ChannelLog      Channel = "log"
	ChannelRabbitMQ Channel = "rabbitmq"
	ChannelWebhook  Channel = "webhook"
)

// Priority 是外发消息的优先级标记，由告警等级映射而来。
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// PriorityFor 把告警等级映射为外发优先级。只有达到外发等级的告警
// 才会走到这里。
func PriorityFor(severity stablecoin.Severity) Priority {
	if severity == stablecoin.SeverityCritical {
		return PriorityUrgent
	}
	return PriorityHigh
}

// Notifier 负责将告警发送到指定渠道。
type Notifier interface {
	Channel() Channel
	Notify(ctx context.Context, alert *stablecoin.Alert) error
}

// FanoutDispatcher 将达到外发等级的告警投递到所有注册渠道。
// low/medium 等级的告警在这里被拦下，只由持久化层落库。
type FanoutDispatcher struct {
	notifiers map[Channel]Notifier
}

// NewFanout 创建一个新的 FanoutDispatcher。
func NewFanout(notifiers ...Notifier) *FanoutDispatcher {
	set := make(map[Channel]Notifier, len(notifiers))
	for _, n := range notifiers {
		if n == nil {
			continue
		}
		set[n.Channel()] = n
	}
	return &FanoutDispatcher{notifiers: set}
}

// Notify 将告警广播至所有注册渠道，不满足外发等级的直接忽略。
func (d *FanoutDispatcher) Notify(ctx context.Context, alert *stablecoin.Alert) error {
	if d == nil || alert == nil {
		return nil
	}
	if !alert.Severity.Notifiable() {
		return nil
	}
	var errs []error
	for _, notifier := range d.notifiers {
		if err := notifier.Notify(ctx, alert); err != nil {
			errs = append(errs, fmt.Errorf("channel %s: %w", notifier.Channel(), err))
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// LogNotifier 把告警写入结构化日志，始终可用，作为兜底渠道。
type LogNotifier struct{}

// Channel 返回日志渠道。
func (n *LogNotifier) Channel() Channel { return ChannelLog }

// Notify 记录告警日志。
func (n *LogNotifier) Notify(_ context.Context, alert *stablecoin.Alert) error {
	logger.L().Warn("检测到链上异常",
		slog.String("alert_id", alert.ID),
		slog.String("type", string(alert.Type)),
		slog.String("severity", string(alert.Severity)),
		slog.String("title", alert.Title),
		slog.String("description", alert.Description),
	)
	return nil
}

// RabbitMQNotifierConfig 描述告警队列的连接参数。
type RabbitMQNotifierConfig struct {
	URL     string
	Queue   string
	Durable bool
}

// RabbitMQNotifier 将告警以 JSON 形式发布到 RabbitMQ 队列，供下游
// 通知服务（邮件、IM 机器人等）消费。
type RabbitMQNotifier struct {
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string
}

// rabbitPayload 是外发消息的线上结构。
type rabbitPayload struct {
	ID          string         `json:"id"`
	Type        string         `json:"type"`
	Severity    string         `json:"severity"`
	Priority    Priority       `json:"priority"`
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
}

// NewRabbitMQNotifier 创建 RabbitMQ 告警通知器。
func NewRabbitMQNotifier(cfg RabbitMQNotifierConfig) (*RabbitMQNotifier, error) {
	if cfg.URL == "" {
		return nil, errors.New("RabbitMQ URL 不能为空")
	}
	queue := cfg.Queue
	if queue == "" {
		queue = "stablewatch.alerts"
	}
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("连接 RabbitMQ 失败: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("创建 RabbitMQ channel 失败: %w", err)
	}
	if _, err := ch.QueueDeclare(queue, cfg.Durable, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("声明 RabbitMQ 队列失败: %w", err)
	}
	return &RabbitMQNotifier{conn: conn, ch: ch, queue: queue}, nil
}

// Channel 返回 RabbitMQ 渠道。
func (n *RabbitMQNotifier) Channel() Channel { return ChannelRabbitMQ }

// Notify 发布告警消息。
func (n *RabbitMQNotifier) Notify(ctx context.Context, alert *stablecoin.Alert) error {
	if n == nil || n.ch == nil {
		return errors.New("RabbitMQ 通知器未初始化")
	}
	body, err := json.Marshal(rabbitPayload{
		ID:          alert.ID,
		Type:        string(alert.Type),
		Severity:    string(alert.Severity),
		Priority:    PriorityFor(alert.Severity),
		Title:       alert.Title,
		Description: alert.Description,
		Metadata:    alert.Metadata,
		Timestamp:   alert.Timestamp,
	})
	if err != nil {
		return fmt.Errorf("序列化告警失败: %w", err)
	}
	return n.ch.PublishWithContext(ctx, "", n.queue, false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        body,
	})
}

// Close 关闭 RabbitMQ 连接。
func (n *RabbitMQNotifier) Close() error {
	if n == nil {
		return nil
	}
	if n.ch != nil {
		_ = n.ch.Close()
	}
	if n.conn != nil {
		return n.conn.Close()
	}
	return nil
}
