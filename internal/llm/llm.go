package llm

import (
	"context"
	"log/slog"
	"time"

	"StableWatch-Chain/internal/runctx"
	"StableWatch-Chain/pkg/logger"
)

// Request 描述发送给大模型的告警上下文。
type Request struct {
	AlertType   string
	Severity    string
	Title       string
	Description string
	Facts       []Fact
}

// Fact 是提供给大模型的一条结构化事实，如交易哈希、金额、总量变化。
type Fact struct {
	Name  string
	Value string
}

// Response 是大模型对告警的研判结果。
type Response struct {
	Assessment string
	Summary    string
}

// Client 定义了调用大模型研判告警的统一接口。
type Client interface {
	Analyze(ctx context.Context, req Request) (*Response, error)
}

// Attributed 包装一个 Client，在每次调用后记录执行上下文归属与耗时，
// 便于多租户场景下统计各租户的模型用量。
func Attributed(client Client) Client {
	return &attributedClient{inner: client, log: logger.Named("llm")}
}

type attributedClient struct {
	inner Client
	log   *slog.Logger
}

func (c *attributedClient) Analyze(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()
	resp, err := c.inner.Analyze(ctx, req)

	attrs := []any{
		slog.String("alert_type", req.AlertType),
		slog.Int64("duration_ms", time.Since(start).Milliseconds()),
		slog.Bool("success", err == nil),
	}
	if rc, ok := runctx.From(ctx); ok {
		attrs = append(attrs,
			slog.String("tenant_id", rc.TenantID),
			slog.String("agent_id", rc.AgentID),
		)
	}
	c.log.Info("模型研判调用", attrs...)
	return resp, err
}
