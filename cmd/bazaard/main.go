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

	"ChainBazaar/internal/config"
	"ChainBazaar/internal/events"
	"ChainBazaar/internal/gateway"
	"ChainBazaar/internal/ledger"
	"ChainBazaar/internal/llm"
	"ChainBazaar/internal/llm/openai"
	"ChainBazaar/internal/market"
	"ChainBazaar/internal/observability/alerting"
	"ChainBazaar/internal/observability/metrics"
	"ChainBazaar/internal/orchestrator"
	"ChainBazaar/internal/payment"
	"ChainBazaar/internal/registry"
	"ChainBazaar/internal/storage/mysql"
	"ChainBazaar/internal/storage/redis"
	"ChainBazaar/internal/web3/provider"
	"ChainBazaar/pkg/logger"
)

// main 是 ChainBazaar 守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("bazaard 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	configPath := os.Getenv("BAZAAR_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("configs", "bazaar.json")
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

	store, err := createStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	feed, err := events.NewFeed(events.Config{
		Driver:   cfg.Events.Driver,
		URL:      cfg.Events.URL,
		Queue:    cfg.Events.Queue,
		Capacity: cfg.Events.Capacity,
	})
	if err != nil {
		return err
	}
	defer feed.Close()

	if cfg.Alerting.Enabled {
		worker := alerting.NewWorker(feed, alerting.NewFanout(),
			cfg.Alerting.FailureThreshold, cfg.Alerting.Window())
		go func() {
			if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.L().Error("告警工作器异常退出", "error", err)
			}
		}()
	}

	chains, err := provider.NewRegistry(ctx, cfg.Web3)
	if err != nil {
		return err
	}
	defer chains.Close()

	network := cfg.Payment.Network
	if network == "" {
		network = chains.DefaultChain()
	}
	chainClient, ok := chains.Client(network)
	if !ok {
		return fmt.Errorf("收款链 %s 未在链配置中定义", network)
	}
	chainDef, _ := chains.Definition(network)
	if chainDef.TokenContract == "" {
		return fmt.Errorf("收款链 %s 缺少代币合约地址", network)
	}
	if cfg.Payment.Recipient == "" {
		return errors.New("未配置收款地址 payment.recipient")
	}

	tools, err := registry.New(store, cfg.Registry.CatalogPath)
	if err != nil {
		return err
	}

	payCfg := gateway.PaymentConfig{
		TokenContract: chainDef.TokenContract,
		Recipient:     cfg.Payment.Recipient,
		Network:       network,
		TokenDecimals: chainDef.TokenDecimals,
	}

	var sessions *orchestrator.Manager
	if cfg.Demo.Enabled {
		sessions, err = createDemoManager(cfg, store, tools, chainClient, payCfg)
		if err != nil {
			return err
		}
	}

	if cfg.Server.MetricsAddress != "" {
		go func() {
			if err := metrics.StartServer(ctx, cfg.Server.MetricsAddress); err != nil && !errors.Is(err, context.Canceled) {
				logger.L().Error("指标服务异常退出", "error", err)
			}
		}()
	}

	server := gateway.NewServer(gateway.Config{
		Addr:     cfg.Server.Address,
		Store:    store,
		Registry: tools,
		Verifier: payment.NewVerifier(chainClient),
		Ledger:   ledger.New(store),
		Sessions: sessions,
		Feed:     feed,
		Chain:    chainClient,
		Payment:  payCfg,
	})

	logger.L().Info("网关启动",
		"address", cfg.Server.Address,
		"network", network,
		"token", chainDef.TokenContract,
	)
	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// createStore 按配置选择市场数据的持久化后端。
func createStore(ctx context.Context, cfg *config.Config) (market.Store, error) {
	switch strings.ToLower(cfg.Storage.Driver) {
	case "", "memory":
		return market.NewMemoryStore(), nil
	case "mysql":
		return mysql.NewStore(ctx, mysql.Config{
			DSN:             cfg.Storage.DSN,
			MaxOpenConns:    cfg.Storage.MaxOpenConns,
			MaxIdleConns:    cfg.Storage.MaxIdleConns,
			ConnMaxLifetime: time.Duration(cfg.Storage.ConnMaxLifetimeSeconds) * time.Second,
		})
	default:
		return nil, fmt.Errorf("未知的存储驱动: %s", cfg.Storage.Driver)
	}
}

// createDemoManager 组装演示智能体:大模型选购、链上付款与会话限流。
func createDemoManager(
	cfg *config.Config,
	store market.Store,
	tools *registry.Registry,
	chainClient payment.TokenSender,
	payCfg gateway.PaymentConfig,
) (*orchestrator.Manager, error) {
	llmClient, err := createLLMClient(cfg)
	if err != nil {
		return nil, err
	}

	var payer orchestrator.Payer
	if cfg.Web3.PrivateKey != "" {
		payer = payment.NewPayer(chainClient, 0)
	}

	var limiter orchestrator.Limiter
	if cfg.Storage.Redis.Address != "" {
		rl, err := redis.NewRateLimiter(redis.Config{
			Addr:     cfg.Storage.Redis.Address,
			Password: cfg.Storage.Redis.Password,
			DB:       cfg.Storage.Redis.DB,
			Limit:    int64(cfg.Demo.RateLimit),
			Window:   cfg.Demo.Window(),
		})
		if err != nil {
			return nil, err
		}
		limiter = rl
	}

	return orchestrator.NewManager(orchestrator.Deps{
		Store:    store,
		Registry: tools,
		LLM:      llmClient,
		Payer:    payer,
		Limiter:  limiter,
		Config: orchestrator.Config{
			WalletAddress: cfg.Demo.WalletAddress,
			AgentName:     cfg.Demo.AgentName,
			TokenContract: payCfg.TokenContract,
			Recipient:     payCfg.Recipient,
			TokenDecimals: payCfg.TokenDecimals,
			Network:       payCfg.Network,
		},
	}), nil
}

func createLLMClient(cfg *config.Config) (llm.Client, error) {
	switch cfg.LLM.Provider {
	case "", "openai":
		apiKey := strings.TrimSpace(cfg.LLM.OpenAI.APIKey)
		if apiKey == "" && cfg.LLM.OpenAI.APIKeyEnv != "" {
			apiKey = strings.TrimSpace(os.Getenv(cfg.LLM.OpenAI.APIKeyEnv))
		}
		if apiKey == "" {
			return nil, errors.New("OpenAI provider 需要配置 api_key 或 api_key_env")
		}
		return openai.NewClient(openai.Config{
			APIKey:  apiKey,
			BaseURL: cfg.LLM.OpenAI.BaseURL,
			Model:   cfg.LLM.OpenAI.Model,
			Timeout: cfg.LLM.OpenAI.Timeout(),
		})
	default:
		return nil, fmt.Errorf("未知的大模型 provider: %s", cfg.LLM.Provider)
	}
}
