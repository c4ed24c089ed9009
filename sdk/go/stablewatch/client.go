package stablewatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"sync"
	"time"
)

// DefaultHTTPTimeout defines the timeout used by clients created without a
// custom http.Client. It is intentionally short to avoid hanging network calls.
const DefaultHTTPTimeout = 15 * time.Second

// Client wraps the HTTP interactions with the StableWatch admin REST API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client

	mu          sync.RWMutex
	accessToken string
}

// Credentials represents account credentials used to obtain access tokens.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Token represents an issued access token pair.
type Token struct {
	AccessToken  string `json:"access_token"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
	TokenType    string `json:"token_type"`
}

// AgentSchedule mirrors the scheduling configuration of a monitoring agent.
type AgentSchedule struct {
	Type         string `json:"type"`
	EveryMinutes int    `json:"every_minutes,omitempty"`
	Expr         string `json:"expr,omitempty"`
}

// AgentConfig mirrors the identity block of a monitoring agent.
type AgentConfig struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Enabled     bool           `json:"enabled"`
	Schedule    *AgentSchedule `json:"schedule,omitempty"`
}

// AgentInfo is a read-only snapshot of a registered agent.
type AgentInfo struct {
	Config   AgentConfig `json:"config"`
	Status   string      `json:"status"`
	LastRun  *time.Time  `json:"last_run,omitempty"`
	RunCount uint64      `json:"run_count"`
}

// RunResult captures the outcome of a manually triggered execution.
type RunResult struct {
	Success   bool            `json:"success"`
	Data      json.RawMessage `json:"data,omitempty"`
	Err       string          `json:"error,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// Thresholds mirrors the anomaly detection thresholds, in human units.
type Thresholds struct {
	LargeMint           int64 `json:"large_mint"`
	LargeBurn           int64 `json:"large_burn"`
	LargeTransfer       int64 `json:"large_transfer"`
	SupplyChangePercent int64 `json:"supply_change_percent"`
	FrequencyPerHour    int   `json:"frequency_per_hour"`
}

// ThresholdUpdate carries a partial thresholds change; nil fields keep the
// current values.
type ThresholdUpdate struct {
	LargeMint           *int64 `json:"large_mint,omitempty"`
	LargeBurn           *int64 `json:"large_burn,omitempty"`
	LargeTransfer       *int64 `json:"large_transfer,omitempty"`
	SupplyChangePercent *int64 `json:"supply_change_percent,omitempty"`
	FrequencyPerHour    *int   `json:"frequency_per_hour,omitempty"`
}

// Alert is a stored anomaly alert record.
type Alert struct {
	ID          string `json:"id"`
	AlertType   string `json:"alert_type"`
	Severity    string `json:"severity"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Metadata    string `json:"metadata,omitempty"`
	CreatedAt   int64  `json:"created_at"`
}

// APIError represents server side validation or internal errors.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("stablewatch api error (%d): %s", e.StatusCode, e.Message)
}

// NewClient instantiates a client for the StableWatch admin API. When
// httpClient is nil, a default client with a sensible timeout is used.
func NewClient(rawURL string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}, nil
}

// Authenticate exchanges credentials for an access token and stores it for
// subsequent calls. Deployments running without auth can skip this entirely.
func (c *Client) Authenticate(ctx context.Context, creds Credentials) (Token, error) {
	var token Token
	if err := c.post(ctx, "/api/v1/token", creds, &token, true); err != nil {
		return Token{}, err
	}
	c.mu.Lock()
	c.accessToken = token.AccessToken
	c.mu.Unlock()
	return token, nil
}

// ListAgents returns snapshots of all registered monitoring agents.
func (c *Client) ListAgents(ctx context.Context) ([]AgentInfo, error) {
	var infos []AgentInfo
	if err := c.get(ctx, "/api/v1/agents", &infos); err != nil {
		return nil, err
	}
	return infos, nil
}

// RunAgent triggers one execution of the given agent and waits for the result.
func (c *Client) RunAgent(ctx context.Context, agentID string) (RunResult, error) {
	var result RunResult
	payload := map[string]string{"id": agentID}
	if err := c.post(ctx, "/api/v1/agents/run", payload, &result, false); err != nil {
		return RunResult{}, err
	}
	return result, nil
}

// UpdateInterval switches the agent to interval scheduling with the given
// period in minutes.
func (c *Client) UpdateInterval(ctx context.Context, agentID string, minutes int) (AgentInfo, error) {
	var info AgentInfo
	payload := map[string]any{"id": agentID, "minutes": minutes}
	if err := c.post(ctx, "/api/v1/agents/interval", payload, &info, false); err != nil {
		return AgentInfo{}, err
	}
	return info, nil
}

// Thresholds fetches the current detection thresholds.
func (c *Client) Thresholds(ctx context.Context) (Thresholds, error) {
	var thresholds Thresholds
	if err := c.get(ctx, "/api/v1/thresholds", &thresholds); err != nil {
		return Thresholds{}, err
	}
	return thresholds, nil
}

// UpdateThresholds applies a partial thresholds change and returns the
// resulting configuration.
func (c *Client) UpdateThresholds(ctx context.Context, update ThresholdUpdate) (Thresholds, error) {
	var thresholds Thresholds
	if err := c.put(ctx, "/api/v1/thresholds", update, &thresholds); err != nil {
		return Thresholds{}, err
	}
	return thresholds, nil
}

// ListAlerts fetches the most recent anomaly alerts, newest first.
func (c *Client) ListAlerts(ctx context.Context, limit int) ([]Alert, error) {
	endpoint := "/api/v1/alerts"
	if limit > 0 {
		endpoint += "?limit=" + strconv.Itoa(limit)
	}
	var alerts []Alert
	if err := c.get(ctx, endpoint, &alerts); err != nil {
		return nil, err
	}
	return alerts, nil
}

// AccessToken returns the currently stored token string.
func (c *Client) AccessToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.accessToken
}

// SetAccessToken overrides the stored access token.
func (c *Client) SetAccessToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accessToken = token
}

func (c *Client) post(ctx context.Context, endpoint string, payload any, out any, anonymous bool) error {
	return c.send(ctx, http.MethodPost, endpoint, payload, out, anonymous)
}

func (c *Client) put(ctx context.Context, endpoint string, payload any, out any) error {
	return c.send(ctx, http.MethodPut, endpoint, payload, out, false)
}

func (c *Client) send(ctx context.Context, method, endpoint string, payload any, out any, noAuth bool) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := c.newRequest(ctx, method, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if !noAuth {
		c.attachToken(req)
	}
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, endpoint string, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	c.attachToken(req)
	return c.do(req, out)
}

// attachToken adds the Authorization header when a token is stored. Requests
// stay anonymous otherwise, matching servers running with auth disabled.
func (c *Client) attachToken(req *http.Request) {
	if token := c.AccessToken(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, body io.Reader) (*http.Request, error) {
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint: %w", err)
	}
	rel := &url.URL{Path: path.Join(c.baseURL.Path, parsed.Path), RawQuery: parsed.RawQuery}
	u := c.baseURL.ResolveReference(rel)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		return &APIError{StatusCode: resp.StatusCode, Message: string(bytes.TrimSpace(data))}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
