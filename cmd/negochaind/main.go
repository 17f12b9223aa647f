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

	"NegoChain/internal/api"
	"NegoChain/internal/auth"
	"NegoChain/internal/config"
	"NegoChain/internal/ledger"
	ledgereth "NegoChain/internal/ledger/ethereum"
	"NegoChain/internal/market"
	"NegoChain/internal/observability/alerting"
	"NegoChain/internal/session"
	"NegoChain/pkg/logger"
)

// main 是 NegoChain 守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("negochaind 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	configPath := os.Getenv("NEGOCHAIN_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("configs", "negochain.json")
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
	defer func() {
		_ = logger.Sync()
	}()

	var store session.Store
	switch cfg.Storage.SessionStore.Driver {
	case "", "memory":
		store = session.NewMemoryStore()
	case "mysql":
		mysqlStore, err := session.NewMySQLStore(cfg.Storage.SessionStore.DSN)
		if err != nil {
			return err
		}
		store = mysqlStore
	default:
		return fmt.Errorf("未知的会话存储驱动: %s", cfg.Storage.SessionStore.Driver)
	}
	defer func() {
		if store != nil {
			_ = store.Close()
		}
	}()

	var queue session.Queue
	switch cfg.Queue.Driver {
	case "", "memory":
		queue = session.NewMemoryQueue(1024)
	case "redis":
		redisQueue, err := session.NewRedisQueue(session.RedisQueueConfig{
			Address:   cfg.Queue.Redis.Address,
			Password:  cfg.Queue.Redis.Password,
			DB:        cfg.Queue.Redis.DB,
			Queue:     cfg.Queue.Redis.Queue,
			BlockWait: time.Duration(cfg.Queue.Redis.BlockWait) * time.Second,
		})
		if err != nil {
			return err
		}
		queue = redisQueue
	case "rabbitmq":
		rabbitQueue, err := session.NewRabbitMQQueue(session.RabbitMQConfig{
			URL:        cfg.Queue.RabbitMQ.URL,
			Queue:      cfg.Queue.RabbitMQ.Queue,
			Prefetch:   cfg.Queue.RabbitMQ.Prefetch,
			Durable:    cfg.Queue.RabbitMQ.Durable,
			AutoDelete: cfg.Queue.RabbitMQ.AutoDelete,
		})
		if err != nil {
			return err
		}
		queue = rabbitQueue
	default:
		return fmt.Errorf("未知的队列驱动: %s", cfg.Queue.Driver)
	}
	defer func() {
		if queue != nil {
			if err := queue.Close(); err != nil {
				log.Printf("关闭会话队列失败: %v", err)
			}
		}
	}()

	provider, err := createMarketProvider(cfg)
	if err != nil {
		return err
	}

	recorder, err := createLedgerRecorder(ctx, cfg)
	if err != nil {
		return err
	}
	if recorder != nil {
		defer recorder.Close()
	}

	negotiatorOpts := []session.NegotiatorOption{}
	if provider != nil {
		negotiatorOpts = append(negotiatorOpts, session.WithMarketProvider(provider))
	}
	if recorder != nil {
		negotiatorOpts = append(negotiatorOpts, session.WithLedgerRecorder(recorder))
	}
	negotiator := session.NewNegotiator(negotiatorOpts...)

	sessionService := session.NewService(store, queue, negotiator)

	processorOpts := []session.ProcessorOption{
		session.WithWorkerCount(cfg.Queue.Worker),
		session.WithProcessorLogger(logger.Named("processor")),
	}
	if dispatcher := createAlertDispatcher(cfg); dispatcher != nil {
		processorOpts = append(processorOpts, session.WithAlertDispatcher(dispatcher))
	}
	processor := session.NewProcessor(negotiator, store, queue, processorOpts...)

	processorCtx, processorCancel := context.WithCancel(ctx)
	defer processorCancel()

	go func() {
		if err := processor.Start(processorCtx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("会话处理器异常退出: %v", err)
		}
	}()

	authService := auth.NewService(auth.Config{
		Enabled: cfg.Auth.Enabled,
		Keys:    cfg.Auth.Keys,
	})

	server := api.NewServer(cfg.Server.Address, sessionService, provider,
		api.WithMiddleware(authService.Middleware()),
	)

	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// createAlertDispatcher 根据配置组装告警通知器，未配置任何渠道时返回 nil。
func createAlertDispatcher(cfg *config.Config) alerting.Dispatcher {
	var notifiers []alerting.Notifier
	if url := strings.TrimSpace(cfg.Alerting.DingTalkWebhook); url != "" {
		notifiers = append(notifiers, &alerting.DingTalkNotifier{
			Sender: alerting.NewDingTalkWebhookSender(url),
		})
	}
	if url := strings.TrimSpace(cfg.Alerting.SlackWebhook); url != "" {
		notifiers = append(notifiers, &alerting.SlackNotifier{
			Sender:    alerting.NewSlackWebhookSender(url),
			ChannelID: cfg.Alerting.SlackChannel,
		})
	}
	if len(notifiers) == 0 {
		return nil
	}
	return alerting.NewFanout(notifiers...)
}

func createMarketProvider(cfg *config.Config) (market.Provider, error) {
	switch cfg.Market.Provider {
	case "", "none":
		return nil, nil
	case "alphavantage":
		apiKey := strings.TrimSpace(cfg.Market.APIKey)
		if apiKey == "" && cfg.Market.APIKeyEnv != "" {
			apiKey = strings.TrimSpace(os.Getenv(cfg.Market.APIKeyEnv))
		}
		if apiKey == "" {
			return nil, errors.New("AlphaVantage provider 需要配置 api_key 或 api_key_env")
		}
		return market.NewAlphaVantageClient(market.AlphaVantageConfig{
			APIKey:   apiKey,
			BaseURL:  cfg.Market.BaseURL,
			Timeout:  cfg.Market.Timeout(),
			CacheTTL: cfg.Market.CacheTTL(),
		})
	case "static":
		return market.NewStaticProvider(cfg.Market.StaticQuotes), nil
	default:
		return nil, fmt.Errorf("未知的行情 provider: %s", cfg.Market.Provider)
	}
}

func createLedgerRecorder(ctx context.Context, cfg *config.Config) (ledger.Recorder, error) {
	if !cfg.Ledger.Enabled {
		return nil, nil
	}

	defs, err := ledger.LoadChainDefinitions(cfg.Ledger.ChainsFile)
	if err != nil {
		return nil, err
	}
	def, ok := defs.Chains[cfg.Ledger.Chain]
	if !ok {
		return nil, fmt.Errorf("链配置中缺少 %s", cfg.Ledger.Chain)
	}

	privateKey := strings.TrimSpace(cfg.Ledger.PrivateKey)
	if privateKey == "" && cfg.Ledger.PrivateKeyEnv != "" {
		privateKey = strings.TrimSpace(os.Getenv(cfg.Ledger.PrivateKeyEnv))
	}
	if privateKey == "" {
		return nil, errors.New("启用链上登记时必须配置登记账户私钥")
	}

	return ledgereth.NewRecorder(ctx, ledgereth.Config{
		Name:          cfg.Ledger.Chain,
		RPCURL:        def.RPCURL,
		ChainID:       def.ChainID,
		PrivateKeyHex: privateKey,
		RegistryTo:    def.RegistryTo,
	})
}
