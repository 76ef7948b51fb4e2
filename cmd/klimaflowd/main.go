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

	"KlimaFlow-Chain/internal/agent"
	"KlimaFlow-Chain/internal/api"
	"KlimaFlow-Chain/internal/auth"
	"KlimaFlow-Chain/internal/config"
	"KlimaFlow-Chain/internal/history"
	"KlimaFlow-Chain/internal/knowledge"
	"KlimaFlow-Chain/internal/llm"
	"KlimaFlow-Chain/internal/llm/openai"
	"KlimaFlow-Chain/internal/llm/rules"
	"KlimaFlow-Chain/internal/observability/alerting"
	"KlimaFlow-Chain/internal/observability/metrics"
	"KlimaFlow-Chain/internal/strategy"
	"KlimaFlow-Chain/internal/token"
	"KlimaFlow-Chain/internal/wallet"
	"KlimaFlow-Chain/internal/web3"
	"KlimaFlow-Chain/internal/web3/ethereum"
	"KlimaFlow-Chain/pkg/logger"
)

// main 是 KlimaFlow 守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("klimaflowd 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	configPath := os.Getenv("KLIMAFLOW_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("configs", "klimaflow.json")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if err := logger.Init(logger.Config{
		Level:   cfg.Logging.Level,
		Format:  cfg.Logging.Format,
		Outputs: cfg.Logging.Outputs,
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
	defer func() { _ = logger.Sync() }()

	dataDir := cfg.Runtime.DataDir
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return err
	}

	account, err := wallet.NewAccount(cfg.Wallet.PrivateKeyHex)
	if err != nil {
		return err
	}
	if err := restoreOrExportWallet(cfg, account); err != nil {
		return err
	}

	definitions, err := web3.LoadChainDefinitions(cfg.Chain.DefinitionsFile)
	if err != nil {
		return err
	}
	endpoint := definitions.Resolve(cfg.Chain.Name, cfg.Chain.RPCURL)

	chainClient, err := ethereum.NewClient(ctx, ethereum.Config{
		Name:            cfg.Chain.Name,
		RPCURL:          endpoint.RPCURL,
		Notes:           endpoint.Description,
		EstimateTimeout: time.Duration(cfg.Chain.EstimateTimeoutSeconds) * time.Second,
		SendTimeout:     time.Duration(cfg.Chain.SendTimeoutSeconds) * time.Second,
	}, account)
	if err != nil {
		return err
	}
	defer chainClient.Close()

	operations, err := token.NewOperations(chainClient, token.Config{
		TokenAddress: cfg.Contracts.Token,
		PoolAddress:  cfg.Contracts.Pool,
	})
	if err != nil {
		return err
	}

	runStore, err := createRunStore(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = runStore.Close() }()

	runQueue, err := createRunQueue(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := runQueue.Close(); err != nil {
			logger.L().Warn("关闭运行队列失败", "error", err)
		}
	}()

	catalog := strategy.NewCatalog(strategy.CatalogConfig{
		MarketAddress: cfg.Contracts.Market,
		PoolAddress:   cfg.Contracts.Pool,
	})

	fanout := strategy.NewFanout(runMetricsObserver{})
	alerter := alerting.NewFanout(&alerting.LogNotifier{})
	runner := strategy.NewRunner(operations, runStore, fanout,
		strategy.WithRunnerLogger(logger.Named("runner")),
		strategy.WithRunnerAlerter(alerter),
	)
	runService := strategy.NewService(catalog, runStore, runQueue, runner)

	processor := strategy.NewProcessor(runner, runStore, runQueue,
		strategy.WithWorkerCount(cfg.RunQueue.Workers),
		strategy.WithProcessorLogger(logger.Named("processor")),
	)

	processorCtx, processorCancel := context.WithCancel(ctx)
	defer processorCancel()

	go func() {
		if err := processor.Start(processorCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.L().Error("运行处理器异常退出", "error", err)
		}
	}()

	llmClient, err := createLLMClient(cfg)
	if err != nil {
		return err
	}

	knowledgeProvider, err := createKnowledgeProvider(cfg)
	if err != nil {
		return err
	}

	chatRepo, err := history.NewFileRepository(dataDir)
	if err != nil {
		return err
	}

	opts := []agent.Option{
		agent.WithMemoryDepth(cfg.Agent.MemoryDepth),
		agent.WithKnowledgeProvider(knowledgeProvider),
		agent.WithHistory(chatRepo),
		agent.WithRunSubmitter(runService),
		agent.WithWallet(account.Address().Hex(), cfg.Wallet.NetworkID),
	}
	if cfg.LLM.Provider == "openai" {
		opts = append(opts,
			agent.WithLLMTimeout(cfg.LLM.OpenAI.Timeout()),
			agent.WithFallback(rules.NewClient()),
		)
	}

	gateway := agent.New(llmClient, operations, opts...)

	guard := auth.NewGuard(auth.Config{
		Enabled: cfg.Auth.Mode == "api_key",
		APIKeys: cfg.Auth.Keys,
	})

	server := api.NewServer(cfg.Server.Address, gateway, runService,
		api.WithGuard(guard),
		api.WithTokenExecutor(operations),
		api.WithWalletAddress(account.Address().Hex()),
	)

	logger.L().Info("klimaflowd 已启动",
		"address", cfg.Server.Address,
		"chain", cfg.Chain.Name,
		"wallet", account.Address().Hex(),
	)

	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// restoreOrExportWallet 保证导出文件与当前账户一致，供外部钱包服务读取。
func restoreOrExportWallet(cfg *config.Config, account *wallet.Account) error {
	path := cfg.Wallet.ExportFile
	if strings.TrimSpace(path) == "" {
		return nil
	}
	existing, err := wallet.ReadExport(path)
	if err != nil {
		return err
	}
	if existing != nil && strings.EqualFold(existing.Address, account.Address().Hex()) {
		return nil
	}
	return wallet.WriteExport(path, wallet.ExportData{
		Address:   account.Address().Hex(),
		NetworkID: cfg.Wallet.NetworkID,
	})
}

func createRunStore(cfg *config.Config) (strategy.Store, error) {
	switch cfg.Storage.RunStore.Driver {
	case "", "memory":
		return strategy.NewMemoryStore(), nil
	case "mysql":
		return strategy.NewMySQLStore(cfg.Storage.RunStore.DSN)
	default:
		return nil, fmt.Errorf("未知的运行存储驱动: %s", cfg.Storage.RunStore.Driver)
	}
}

func createRunQueue(cfg *config.Config) (strategy.Queue, error) {
	switch cfg.RunQueue.Driver {
	case "", "memory":
		return strategy.NewMemoryQueue(1024), nil
	case "redis":
		return strategy.NewRedisQueue(strategy.RedisQueueConfig{
			Address:   cfg.RunQueue.Redis.Address,
			Password:  cfg.RunQueue.Redis.Password,
			DB:        cfg.RunQueue.Redis.DB,
			Queue:     cfg.RunQueue.Redis.Queue,
			BlockWait: time.Duration(cfg.RunQueue.Redis.BlockWait) * time.Second,
		})
	case "rabbitmq":
		return strategy.NewRabbitMQQueue(strategy.RabbitMQConfig{
			URL:     cfg.RunQueue.RabbitMQ.URL,
			Queue:   cfg.RunQueue.RabbitMQ.Queue,
			Durable: cfg.RunQueue.RabbitMQ.Durable,
		})
	default:
		return nil, fmt.Errorf("未知的运行队列驱动: %s", cfg.RunQueue.Driver)
	}
}

func createLLMClient(cfg *config.Config) (llm.Client, error) {
	switch cfg.LLM.Provider {
	case "", "rules":
		return rules.NewClient(), nil
	case "openai":
		apiKey := strings.TrimSpace(cfg.LLM.OpenAI.APIKey)
		if apiKey == "" {
			return nil, fmt.Errorf("OpenAI provider 需要通过 %s 注入 api_key", cfg.LLM.OpenAI.APIKeyEnv)
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

func createKnowledgeProvider(cfg *config.Config) (knowledge.Provider, error) {
	if cfg.Agent.KnowledgeFile != "" {
		return knowledge.LoadStaticProvider(cfg.Agent.KnowledgeFile, cfg.Agent.KnowledgeMaxResults)
	}
	return knowledge.NewStaticProvider(knowledge.DefaultSnippets(), cfg.Agent.KnowledgeMaxResults), nil
}

// runMetricsObserver 将运行状态变化转发到指标收集器。
type runMetricsObserver struct{}

func (runMetricsObserver) OnStepStatusChanged(_ string, step strategy.Step) {
	metrics.ObserveStepStatus(string(step.Status))
}

func (runMetricsObserver) OnRunCompleted(_ string, status strategy.RunStatus) {
	metrics.ObserveRunCompleted(string(status))
}
