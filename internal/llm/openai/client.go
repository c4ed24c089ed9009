package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"StableWatch-Chain/internal/llm"
)

const (
	defaultBaseURL   = "https://api.openai.com/v1"
	defaultModelName = "gpt-4o-mini"
	defaultTimeout   = 60 * time.Second
)

// Config 描述了调用 OpenAI Chat Completions API 所需的信息。
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// Client 通过 HTTP 调用 OpenAI 提供的大模型能力。
type Client struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
}

// NewClient 根据配置创建 OpenAI 客户端，兼容任何实现 Chat
// Completions 协议的服务端。
func NewClient(cfg Config) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("未提供 OpenAI API Key")
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultModelName
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		apiKey:     apiKey,
		baseURL:    baseURL,
		model:      model,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// Analyze 调用 OpenAI 对告警做结构化研判。
func (c *Client) Analyze(ctx context.Context, req llm.Request) (*llm.Response, error) {
	payload, err := c.buildPayload(req)
	if err != nil {
		return nil, err
	}

	endpoint := c.baseURL + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("构建 OpenAI 请求失败: %w", err)
	}

	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("请求 OpenAI 失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("OpenAI 返回错误状态 %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	content, err := decodeContent(resp.Body)
	if err != nil {
		return nil, err
	}
	return parseStructured(content), nil
}

// decodeContent 取第一条 choice 的正文。
func decodeContent(body io.Reader) (string, error) {
	var decoded struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("解析 OpenAI 响应失败: %w", err)
	}
	if len(decoded.Choices) == 0 {
		return "", errors.New("OpenAI 响应中没有有效的 choices")
	}
	content := strings.TrimSpace(decoded.Choices[0].Message.Content)
	if content == "" {
		return "", errors.New("OpenAI 响应内容为空")
	}
	return content, nil
}

// parseStructured 尝试按约定的 JSON 结构解析，模型没有遵守约定时
// 整段正文降级为 summary。
func parseStructured(content string) *llm.Response {
	var structured struct {
		Assessment string `json:"assessment"`
		Summary    string `json:"summary"`
	}
	if err := json.Unmarshal([]byte(content), &structured); err != nil {
		return &llm.Response{Summary: content}
	}
	if strings.TrimSpace(structured.Summary) == "" {
		structured.Summary = content
	}
	return &llm.Response{
		Assessment: structured.Assessment,
		Summary:    structured.Summary,
	}
}

func (c *Client) buildPayload(req llm.Request) ([]byte, error) {
	type message struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}

	messages := []message{
		{
			Role:    "system",
			Content: systemPrompt,
		},
		{
			Role:    "user",
			Content: buildUserPrompt(req),
		},
	}

	body := map[string]any{
		"model":       c.model,
		"messages":    messages,
		"temperature": 0.2,
	}

	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("序列化 OpenAI 请求失败: %w", err)
	}
	return encoded, nil
}

const systemPrompt = "" +
	"You are a stablecoin risk analyst reviewing on-chain anomaly alerts. " +
	"Always respond with a compact JSON object: {\"assessment\": string, \"summary\": string}. " +
	"Use Chinese for the summary and explain the likely cause and risk level in \"assessment\"."

func buildUserPrompt(req llm.Request) string {
	var builder strings.Builder
	builder.WriteString("## 告警\n")
	builder.WriteString(fmt.Sprintf("类型: %s\n", strings.TrimSpace(req.AlertType)))
	builder.WriteString(fmt.Sprintf("等级: %s\n", strings.TrimSpace(req.Severity)))
	builder.WriteString(fmt.Sprintf("标题: %s\n", strings.TrimSpace(req.Title)))
	if desc := strings.TrimSpace(req.Description); desc != "" {
		builder.WriteString(fmt.Sprintf("描述: %s\n", desc))
	}

	if len(req.Facts) > 0 {
		builder.WriteString("\n## 链上事实\n")
		for idx, fact := range req.Facts {
			builder.WriteString(fmt.Sprintf("[%d] %s: %s\n",
				idx+1,
				strings.TrimSpace(fact.Name),
				truncate(fact.Value),
			))
			if idx >= 9 {
				break
			}
		}
	}

	builder.WriteString("\n请判断这次异动是否需要人工介入，给出 assessment 与面向值班人员的 summary。")
	return builder.String()
}

func truncate(text string) string {
	text = strings.TrimSpace(text)
	if len([]rune(text)) > 80 {
		return string([]rune(text)[:80]) + "..."
	}
	return text
}
