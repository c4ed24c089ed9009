package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"StableWatch-Chain/internal/agent"
	"StableWatch-Chain/internal/api"
	"StableWatch-Chain/internal/auth"
	"StableWatch-Chain/internal/catalog"
	"StableWatch-Chain/internal/config"
	"StableWatch-Chain/internal/dedupe"
	"StableWatch-Chain/internal/llm"
	"StableWatch-Chain/internal/llm/openai"
	"StableWatch-Chain/internal/observability/alerting"
	"StableWatch-Chain/internal/observability/metrics"
	"StableWatch-Chain/internal/stablecoin"
	"StableWatch-Chain/internal/storage/mysql"
	"StableWatch-Chain/internal/web3/provider"
	"StableWatch-Chain/pkg/logger"
	"StableWatch-Chain/pkg/plugin"
)

// main 是 StableWatch 守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("stablewatchd 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	configPath := os.Getenv("STABLEWATCH_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("configs", "stablewatch.json")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if err := logger.Init(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		OutputPaths: cfg.Logging.OutputPaths,
		Audit: logger.AuditConfig{
			Enabled:    cfg.Logging.Audit.Enabled,
			Path:       cfg.Logging.Audit.Path,
			MaxSizeMB:  cfg.Logging.Audit.MaxSizeMB,
			MaxBackups: cfg.Logging.Audit.MaxBackups,
			MaxAgeDays: cfg.Logging.Audit.MaxAgeDays,
		},
	}); err != nil {
		return err
	}
	defer logger.Sync()

	dataDir := cfg.Runtime.DataDir
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return err
	}

	repo, err := createRepository(ctx, cfg, dataDir)
	if err != nil {
		return err
	}
	defer repo.Close()

	marker, err := createMarker(cfg)
	if err != nil {
		return err
	}
	defer marker.Close()

	chainRegistry, err := provider.NewRegistry(ctx, cfg.Web3)
	if err != nil {
		return err
	}
	defer chainRegistry.Close()

	pluginManager, pluginNotifiers, err := startPlugins(ctx, cfg)
	if err != nil {
		return err
	}
	if pluginManager != nil {
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := pluginManager.StopAll(stopCtx); err != nil {
				logger.L().Warn("停止通知插件失败", "error", err)
			}
		}()
	}

	notifier, closeNotifier, err := createNotifier(cfg, pluginNotifiers...)
	if err != nil {
		return err
	}
	defer closeNotifier()

	analyst, err := createAnalyst(cfg)
	if err != nil {
		return err
	}

	monitor, err := stablecoin.NewMonitor(stablecoin.MonitorConfig{
		Resolver: chainRegistry,
		Detector: stablecoin.NewDetector(thresholdsFrom(cfg.Monitor.Thresholds)),
		Notifier: notifier,
		Marker:   marker,
		Analyst:  analyst,
		Lookback: cfg.Monitor.LookbackBlocks,
		Callbacks: stablecoin.Callbacks{
			OnEvent: func(ctx context.Context, event *stablecoin.Event) error {
				return repo.SaveEvent(ctx, mysql.EventRecordFrom(event))
			},
			OnAlert: func(ctx context.Context, alert *stablecoin.Alert) error {
				return repo.SaveAlert(ctx, mysql.AlertRecordFrom(alert))
			},
			OnSnapshot: func(ctx context.Context, snapshot *stablecoin.SupplySnapshot) error {
				return repo.SaveSnapshot(ctx, mysql.SnapshotRecordFrom(snapshot))
			},
			OnTick: func(ctx context.Context, result *stablecoin.TickResult) error {
				success := result.FailedCoins == 0 || result.CoinsChecked > 0
				metrics.ObserveMonitorTick(result.EventsProcessed, result.AnomaliesDetected, success)
				return repo.SaveTick(ctx, mysql.TickRecordFrom(result))
			},
		},
	})
	if err != nil {
		return err
	}
	coins := coinsFrom(cfg.Monitor.Coins)
	if cfg.Monitor.CatalogPath != "" {
		cat, err := catalog.Load(cfg.Monitor.CatalogPath)
		if err != nil {
			return err
		}
		coins = cat.Enrich(coins)
	}
	monitor.SetCoins(coins)

	scheduler := agent.NewScheduler()
	scheduler.Register(agent.New(agent.Config{
		ID:          "stablecoin-monitor",
		Name:        "稳定币异常监控",
		Description: "周期性扫描链上转账与总量变化并产出告警",
		Enabled:     true,
		Schedule:    scheduleFrom(cfg.Monitor),
	}, monitor))
	scheduler.StartAll(ctx)
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		scheduler.StopAll(stopCtx)
	}()

	authSvc, err := createAuthService(ctx, cfg)
	if err != nil {
		return err
	}

	server := api.NewServer(cfg.Server.Address, scheduler, monitor, repo, authSvc, chainRegistry)
	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func createRepository(ctx context.Context, cfg *config.Config, dataDir string) (mysql.MonitorRepository, error) {
	switch cfg.Storage.MonitorStore.Driver {
	case "", "memory":
		return mysql.NewMemoryMonitorRepository(dataDir)
	case "mysql":
		return mysql.NewSQLMonitorRepository(ctx, mysql.Config{DSN: cfg.Storage.MonitorStore.DSN})
	default:
		return nil, fmt.Errorf("未知的存储驱动: %s", cfg.Storage.MonitorStore.Driver)
	}
}

func createMarker(cfg *config.Config) (dedupe.Marker, error) {
	ttl := time.Duration(cfg.Dedupe.TTLMinutes) * time.Minute
	switch cfg.Dedupe.Driver {
	case "", "memory":
		return dedupe.NewMemoryMarker(ttl), nil
	case "redis":
		return dedupe.NewRedisMarker(dedupe.RedisMarkerConfig{
			Address:  cfg.Dedupe.Address,
			Password: cfg.Dedupe.Password,
			DB:       cfg.Dedupe.DB,
			TTL:      ttl,
		})
	default:
		return nil, fmt.Errorf("未知的去重驱动: %s", cfg.Dedupe.Driver)
	}
}

// startPlugins 加载并启动通知插件，将其包装为告警渠道。未配置插件
// 目录时直接返回空。
func startPlugins(ctx context.Context, cfg *config.Config) (*plugin.Manager, []alerting.Notifier, error) {
	if cfg.Plugins.ConfigPath == "" {
		return nil, nil, nil
	}

	managerCfg, err := plugin.LoadManagerConfig(cfg.Plugins.ConfigPath)
	if err != nil {
		return nil, nil, err
	}
	manager, err := plugin.NewManager(managerCfg)
	if err != nil {
		return nil, nil, err
	}
	if err := manager.StartAll(ctx); err != nil {
		return nil, nil, err
	}

	sinks := manager.AlertSinks()
	notifiers := make([]alerting.Notifier, 0, len(sinks))
	for _, sink := range sinks {
		notifiers = append(notifiers, alerting.NewPluginNotifier(sink.ID, sink.Sink))
	}
	return manager, notifiers, nil
}

// createNotifier 组装告警分发器。日志渠道始终开启，RabbitMQ 与通知
// 插件按配置追加。
func createNotifier(cfg *config.Config, extra ...alerting.Notifier) (*alerting.FanoutDispatcher, func(), error) {
	notifiers := []alerting.Notifier{&alerting.LogNotifier{}}
	notifiers = append(notifiers, extra...)
	closeFn := func() {}

	if cfg.Notifier.RabbitMQ.Enabled {
		mq, err := alerting.NewRabbitMQNotifier(alerting.RabbitMQNotifierConfig{
			URL:     cfg.Notifier.RabbitMQ.URL,
			Queue:   cfg.Notifier.RabbitMQ.Queue,
			Durable: cfg.Notifier.RabbitMQ.Durable,
		})
		if err != nil {
			return nil, nil, err
		}
		notifiers = append(notifiers, mq)
		closeFn = func() {
			if err := mq.Close(); err != nil {
				logger.L().Warn("关闭 RabbitMQ 告警渠道失败", "error", err)
			}
		}
	}

	return alerting.NewFanout(notifiers...), closeFn, nil
}

// createAuthService 按配置组装管理接口的认证服务。disabled 模式下
// 接口匿名开放，仅建议在内网部署时使用。
func createAuthService(ctx context.Context, cfg *config.Config) (*auth.Service, error) {
	seeds := make([]auth.Seed, 0, len(cfg.Auth.Seeds))
	for _, seed := range cfg.Auth.Seeds {
		seeds = append(seeds, auth.Seed{
			Username:    seed.Username,
			Password:    seed.Password,
			TenantID:    seed.TenantID,
			Roles:       seed.Roles,
			Permissions: seed.Permissions,
			Disabled:    seed.Disabled,
		})
	}

	var store auth.Store
	if auth.Mode(cfg.Auth.Mode) == auth.ModeJWT {
		memStore, err := auth.NewMemoryStore(seeds)
		if err != nil {
			return nil, err
		}
		store = memStore
	}

	return auth.NewService(ctx, auth.Config{
		Mode: auth.Mode(cfg.Auth.Mode),
		JWT: auth.JWTOptions{
			Secret:     cfg.Auth.JWT.Secret,
			Issuer:     cfg.Auth.JWT.Issuer,
			Audience:   cfg.Auth.JWT.Audience,
			AccessTTL:  cfg.Auth.JWT.AccessTTLSeconds,
			RefreshTTL: cfg.Auth.JWT.RefreshTTLSeconds,
		},
	}, store)
}

func createAnalyst(cfg *config.Config) (llm.Client, error) {
	switch cfg.LLM.Provider {
	case "", "none":
		return nil, nil
	case "openai":
		apiKey := strings.TrimSpace(cfg.LLM.OpenAI.APIKey)
		if apiKey == "" {
			apiKey = strings.TrimSpace(os.Getenv("STABLEWATCH_OPENAI_KEY"))
		}
		if apiKey == "" {
			return nil, errors.New("OpenAI provider 需要配置 api_key 或环境变量 STABLEWATCH_OPENAI_KEY")
		}
		client, err := openai.NewClient(openai.Config{
			APIKey:  apiKey,
			BaseURL: cfg.LLM.OpenAI.BaseURL,
			Model:   cfg.LLM.OpenAI.Model,
		})
		if err != nil {
			return nil, err
		}
		return llm.Attributed(client), nil
	default:
		return nil, fmt.Errorf("未知的大模型 provider: %s", cfg.LLM.Provider)
	}
}

func thresholdsFrom(cfg config.ThresholdsConfig) stablecoin.Thresholds {
	thresholds := stablecoin.DefaultThresholds()
	if cfg.LargeMint > 0 {
		thresholds.LargeMint = cfg.LargeMint
	}
	if cfg.LargeBurn > 0 {
		thresholds.LargeBurn = cfg.LargeBurn
	}
	if cfg.LargeTransfer > 0 {
		thresholds.LargeTransfer = cfg.LargeTransfer
	}
	if cfg.SupplyChangePercent > 0 {
		thresholds.SupplyChangePercent = cfg.SupplyChangePercent
	}
	if cfg.FrequencyPerHour > 0 {
		thresholds.FrequencyPerHour = cfg.FrequencyPerHour
	}
	return thresholds
}

func coinsFrom(cfgs []config.CoinConfig) []stablecoin.Coin {
	coins := make([]stablecoin.Coin, 0, len(cfgs))
	for _, c := range cfgs {
		coins = append(coins, stablecoin.Coin{
			Address:  c.Address,
			Name:     c.Name,
			Symbol:   c.Symbol,
			Decimals: c.Decimals,
			Network:  stablecoin.Network(c.Network),
			Active:   c.Active,
		})
	}
	return coins
}

func scheduleFrom(cfg config.MonitorConfig) *agent.Schedule {
	if cfg.CronExpr != "" {
		return &agent.Schedule{Type: agent.ScheduleCron, Expr: cfg.CronExpr}
	}
	return &agent.Schedule{Type: agent.ScheduleInterval, EveryMinutes: cfg.IntervalMinutes}
}
