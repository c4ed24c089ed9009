package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"StableWatch-Chain/internal/agent"
	"StableWatch-Chain/internal/auth"
	xerrors "StableWatch-Chain/internal/errors"
	"StableWatch-Chain/internal/observability/metrics"
	"StableWatch-Chain/internal/stablecoin"
	"StableWatch-Chain/internal/storage/mysql"
	"StableWatch-Chain/internal/web3"
)

// ChainGateway 是服务器所需的链客户端注册表能力子集。
type ChainGateway interface {
	Chains() []string
	Client(name string) (web3.Client, bool)
	UpdateEndpoint(ctx context.Context, network, rpcURL string) error
}

// Server 负责暴露管理 REST 接口：查询智能体状态、手动触发执行、
// 调整调度间隔与检测阈值、查询近期告警。认证服务为 disabled 模式时
// 所有接口匿名开放。
type Server struct {
	addr      string
	scheduler *agent.Scheduler
	monitor   *stablecoin.Monitor
	repo      mysql.MonitorRepository
	authSvc   *auth.Service
	chains    ChainGateway
}

// NewServer 构造 API 服务实例。chains 可为 nil，此时健康检查只报告
// 进程存活，端点轮换接口不可用。
func NewServer(addr string, scheduler *agent.Scheduler, monitor *stablecoin.Monitor, repo mysql.MonitorRepository, authSvc *auth.Service, chains ChainGateway) *Server {
	return &Server{addr: addr, scheduler: scheduler, monitor: monitor, repo: repo, authSvc: authSvc, chains: chains}
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.routes()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/healthz", http.HandlerFunc(s.handleHealthz))
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/api/v1/token", metrics.Instrument("token", http.HandlerFunc(s.handleToken)))
	mux.Handle("/api/v1/agents", s.protected("agents", s.handleListAgents, map[string][]string{
		http.MethodGet: {auth.PermAgentsRead},
	}))
	mux.Handle("/api/v1/agents/run", s.protected("agents_run", s.handleRunAgent, map[string][]string{
		http.MethodPost: {auth.PermAgentsRun},
	}))
	mux.Handle("/api/v1/agents/interval", s.protected("agents_interval", s.handleUpdateInterval, map[string][]string{
		http.MethodPost: {auth.PermAgentsRun},
	}))
	mux.Handle("/api/v1/thresholds", s.protected("thresholds", s.handleThresholds, map[string][]string{
		http.MethodGet: {auth.PermThresholdsRead},
		http.MethodPut: {auth.PermThresholdsWrite},
	}))
	mux.Handle("/api/v1/alerts", s.protected("alerts", s.handleListAlerts, map[string][]string{
		http.MethodGet: {auth.PermAlertsRead},
	}))
	mux.Handle("/api/v1/networks/endpoint", s.protected("networks_endpoint", s.handleUpdateEndpoint, map[string][]string{
		http.MethodPut: {auth.PermNetworksWrite},
	}))
	return mux
}

// handleHealthz 报告进程存活与各链的连通状态。任一网络探测失败时
// 返回 503，便于负载均衡摘除实例。
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}

	type networkHealth struct {
		Status      string `json:"status"`
		ChainID     string `json:"chain_id,omitempty"`
		BlockNumber string `json:"block_number,omitempty"`
		Error       string `json:"error,omitempty"`
	}
	report := struct {
		Status   string                   `json:"status"`
		Networks map[string]networkHealth `json:"networks,omitempty"`
	}{Status: "ok"}

	if s.chains != nil {
		report.Networks = make(map[string]networkHealth)
		for _, name := range s.chains.Chains() {
			client, ok := s.chains.Client(name)
			if !ok || client == nil {
				report.Networks[name] = networkHealth{Status: "down", Error: "客户端缺失"}
				report.Status = "degraded"
				continue
			}
			probeCtx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
			snapshot, err := client.FetchChainSnapshot(probeCtx)
			cancel()
			if err != nil {
				report.Networks[name] = networkHealth{Status: "down", Error: err.Error()}
				report.Status = "degraded"
				continue
			}
			report.Networks[name] = networkHealth{
				Status:      "ok",
				ChainID:     snapshot.ChainID,
				BlockNumber: snapshot.BlockNumber,
			}
		}
	}

	if report.Status != "ok" {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(report)
		return
	}
	writeJSON(w, report)
}

// handleUpdateEndpoint 轮换某条链的 RPC 端点，例如节点服务商的
// API Key 更新。换入成功前旧客户端持续服务。
func (s *Server) handleUpdateEndpoint(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		http.Error(w, "仅支持 PUT", http.StatusMethodNotAllowed)
		return
	}
	if s.chains == nil {
		http.Error(w, "链客户端注册表未初始化", http.StatusServiceUnavailable)
		return
	}

	var req struct {
		Network string `json:"network"`
		RPCURL  string `json:"rpc_url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "请求体解析失败", http.StatusBadRequest)
		return
	}
	if req.Network == "" || req.RPCURL == "" {
		http.Error(w, "network 与 rpc_url 均不能为空", http.StatusBadRequest)
		return
	}
	if _, ok := s.chains.Client(req.Network); !ok {
		http.Error(w, "未注册的网络", http.StatusNotFound)
		return
	}

	if err := s.chains.UpdateEndpoint(r.Context(), req.Network, req.RPCURL); err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	writeJSON(w, map[string]string{"network": req.Network, "status": "updated"})
}

// protected 为单个路由套上认证与指标采集。
func (s *Server) protected(name string, handler http.HandlerFunc, perms map[string][]string) http.Handler {
	wrapped := s.authSvc.Middleware(auth.MiddlewareConfig{
		RequiredPermissions: perms,
		AuditEvent:          name,
	})(handler)
	return metrics.Instrument(name, wrapped)
}

// handleToken 签发管理接口的访问令牌。
func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "仅支持 POST", http.StatusMethodNotAllowed)
		return
	}

	var req auth.TokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "请求体解析失败", http.StatusBadRequest)
		return
	}

	pair, err := s.authSvc.Authenticate(r.Context(), req)
	if err != nil {
		status := http.StatusUnauthorized
		switch {
		case errors.Is(err, auth.ErrDisabled):
			status = http.StatusNotFound
		case errors.Is(err, auth.ErrUnsupportedGrant):
			status = http.StatusBadRequest
		case errors.Is(err, auth.ErrSubjectRevoked):
			status = http.StatusForbidden
		}
		http.Error(w, http.StatusText(status), status)
		return
	}
	writeJSON(w, pair)
}

// handleListAgents 返回所有智能体的状态快照。
func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, s.scheduler.Agents())
}

// handleRunAgent 手动触发一次执行，阻塞到执行结束并返回结果。
func (s *Server) handleRunAgent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "仅支持 POST", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "请求体解析失败", http.StatusBadRequest)
		return
	}

	result, err := s.scheduler.RunOnce(r.Context(), req.ID, nil)
	if err != nil {
		status := http.StatusInternalServerError
		if xerrors.CodeOf(err) == xerrors.CodeAgentNotFound {
			status = http.StatusNotFound
		}
		http.Error(w, err.Error(), status)
		return
	}
	writeJSON(w, result)
}

// handleUpdateInterval 修改智能体的调度间隔，运行中的会被重启。
func (s *Server) handleUpdateInterval(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "仅支持 POST", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		ID      string `json:"id"`
		Minutes int    `json:"minutes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "请求体解析失败", http.StatusBadRequest)
		return
	}
	if req.Minutes <= 0 {
		http.Error(w, "minutes 必须为正数", http.StatusBadRequest)
		return
	}

	if !s.scheduler.UpdateAgentInterval(r.Context(), req.ID, req.Minutes) {
		http.Error(w, "更新调度间隔失败", http.StatusNotFound)
		return
	}
	info, _ := s.scheduler.Agent(req.ID)
	writeJSON(w, info)
}

// handleThresholds 查询或部分更新检测阈值。
func (s *Server) handleThresholds(w http.ResponseWriter, r *http.Request) {
	if s.monitor == nil {
		http.Error(w, "监控器未初始化", http.StatusServiceUnavailable)
		return
	}
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, s.monitor.Thresholds())
	case http.MethodPut:
		var update stablecoin.ThresholdUpdate
		if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
			http.Error(w, "请求体解析失败", http.StatusBadRequest)
			return
		}
		s.monitor.UpdateThresholds(update)
		writeJSON(w, s.monitor.Thresholds())
	default:
		http.Error(w, "仅支持 GET/PUT", http.StatusMethodNotAllowed)
	}
}

// handleListAlerts 返回最近的告警记录。
func (s *Server) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	if s.repo == nil {
		http.Error(w, "存储未初始化", http.StatusServiceUnavailable)
		return
	}

	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	alerts, err := s.repo.ListLatestAlerts(r.Context(), limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, alerts)
}

func writeJSON(w http.ResponseWriter, value any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(value)
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			http.Error(w, "服务已关闭", http.StatusServiceUnavailable)
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}
