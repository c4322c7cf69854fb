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

	"HCS-AuditAgent/internal/api"
	"HCS-AuditAgent/internal/checkpoint"
	"HCS-AuditAgent/internal/config"
	"HCS-AuditAgent/internal/contract"
	"HCS-AuditAgent/internal/delivery"
	"HCS-AuditAgent/internal/engine"
	"HCS-AuditAgent/internal/engine/openai"
	"HCS-AuditAgent/internal/hcs"
	"HCS-AuditAgent/internal/knowledge"
	"HCS-AuditAgent/internal/observability/alerting"
	"HCS-AuditAgent/internal/protocol"
	"HCS-AuditAgent/internal/router"
	"HCS-AuditAgent/internal/sandbox"
	"HCS-AuditAgent/internal/session"
	"HCS-AuditAgent/internal/storage/mysql"
	"HCS-AuditAgent/pkg/logger"
	"HCS-AuditAgent/pkg/retry"
)

// main 是审计智能体守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("auditagentd 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	configPath := os.Getenv(config.EnvConfigPath)
	if configPath == "" {
		configPath = filepath.Join("configs", "auditagent.json")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if err := logger.Init(logger.Config{
		Level: cfg.Logging.Level,
		Audit: logger.AuditConfig{
			Enabled: true,
			Path:    filepath.Join(cfg.Logging.AuditDir, "audit.log"),
		},
	}); err != nil {
		return err
	}
	defer logger.Sync()

	if err := os.MkdirAll(cfg.Runtime.DataDir, 0o755); err != nil {
		return err
	}

	// 初始化共识日志传输。
	transport, err := createTransport(ctx, cfg)
	if err != nil {
		return err
	}
	defer transport.Close()

	// 入站主题不存在时先行创建。
	inboundTopicID := cfg.Agent.InboundTopicID
	if inboundTopicID == "" {
		inboundTopicID, err = transport.CreateTopic(ctx, cfg.Agent.InboundTopicMemo)
		if err != nil {
			return err
		}
		log.Printf("已创建入站主题: %s", inboundTopicID)
	}

	// 初始化恢复检查点。
	checkpoints, err := createCheckpointStore(cfg)
	if err != nil {
		return err
	}
	defer checkpoints.Close()

	// 初始化审计记录仓库。
	auditRepo, err := createAuditRepository(ctx, cfg)
	if err != nil {
		return err
	}
	if closer, ok := auditRepo.(interface{ Close() error }); ok {
		defer closer.Close()
	}

	// 初始化推理引擎。
	engineClient, err := createEngineClient(cfg)
	if err != nil {
		return err
	}

	fetcher, err := contract.NewMirrorFetcher(contract.MirrorConfig{
		MirrorBaseURL: cfg.Fetcher.MirrorBaseURL,
		SourceBaseURL: cfg.Fetcher.SourceBaseURL,
		Timeout:       cfg.FetcherTimeout(),
	})
	if err != nil {
		return err
	}

	catalog, err := sandbox.LoadCatalog(cfg.Sandbox.CatalogPath)
	if err != nil {
		return err
	}
	runner := sandbox.NewDockerRunner(catalog, sandbox.DockerConfig{
		WorkspaceBaseDir: cfg.Sandbox.WorkspaceDir,
		DynamicTestImage: cfg.Sandbox.DynamicTestImage,
		Timeout:          cfg.SandboxTimeout(),
	})

	sessionOpts := []session.Option{
		session.WithMaxTurns(cfg.Agent.MaxTurns),
		session.WithToolNames(catalog.Names()),
	}
	if cfg.Knowledge.Path != "" {
		provider, err := knowledge.LoadStaticProvider(cfg.Knowledge.Path, 5)
		if err != nil {
			return err
		}
		sessionOpts = append(sessionOpts, session.WithKnowledgeProvider(provider))
	}

	orchestrator := session.New(engineClient, fetcher, runner, runner, sessionOpts...)

	agentOperatorID := protocol.FormatOperatorID(inboundTopicID, cfg.Agent.AccountID)
	chunks := hcs.NewChunkStore(transport, "audit-result")
	deliverer := delivery.New(transport, chunks, agentOperatorID)

	dispatcher, err := createAlertDispatcher(cfg)
	if err != nil {
		return err
	}
	if closer, ok := dispatcher.(interface{ Close() error }); ok {
		defer closer.Close()
	}

	requestRouter := router.New(transport, checkpoints, orchestrator, deliverer,
		router.Config{
			InboundTopicID: inboundTopicID,
			AccountID:      cfg.Agent.AccountID,
			Workers:        cfg.Agent.Workers,
		},
		router.WithAuditRepository(auditRepo),
		router.WithAlertDispatcher(dispatcher),
	)

	routerCtx, routerCancel := context.WithCancel(ctx)
	defer routerCancel()

	go func() {
		if err := requestRouter.Listen(routerCtx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("入站监听异常退出: %v", err)
		}
	}()

	server := api.NewServer(cfg.Server.Address, auditRepo)

	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// createTransport 按驱动初始化传输层，redis 驱动带退避重试。
func createTransport(ctx context.Context, cfg *config.Config) (hcs.Client, error) {
	switch cfg.Transport.Driver {
	case "", "memory":
		return hcs.NewMemoryClient(), nil
	case "redis":
		var client *hcs.RedisClient
		err := retry.DefaultPolicy.Do(ctx, func() error {
			var dialErr error
			client, dialErr = hcs.NewRedisClient(hcs.RedisConfig{
				Address:  cfg.Transport.Redis.Address,
				Password: cfg.Transport.Redis.Password,
				DB:       cfg.Transport.Redis.DB,
			})
			return dialErr
		})
		if err != nil {
			return nil, err
		}
		return client, nil
	default:
		return nil, fmt.Errorf("未知的传输驱动: %s", cfg.Transport.Driver)
	}
}

func createCheckpointStore(cfg *config.Config) (checkpoint.Store, error) {
	switch cfg.Checkpoint.Driver {
	case "", "file":
		return checkpoint.NewFileStore(cfg.Checkpoint.Path)
	case "redis":
		return checkpoint.NewRedisStore(checkpoint.RedisConfig{
			Address:  cfg.Checkpoint.Redis.Address,
			Password: cfg.Checkpoint.Redis.Password,
			DB:       cfg.Checkpoint.Redis.DB,
			Key:      cfg.Checkpoint.Key,
		})
	default:
		return nil, fmt.Errorf("未知的检查点驱动: %s", cfg.Checkpoint.Driver)
	}
}

func createAuditRepository(ctx context.Context, cfg *config.Config) (mysql.AuditRepository, error) {
	switch cfg.Storage.AuditStore.Driver {
	case "", "memory":
		return mysql.NewMemoryAuditRepository(cfg.Runtime.DataDir)
	case "mysql":
		return mysql.NewSQLAuditRepository(ctx, mysql.Config{
			DSN:             cfg.Storage.AuditStore.DSN,
			MaxOpenConns:    cfg.Storage.AuditStore.MaxOpenConns,
			MaxIdleConns:    cfg.Storage.AuditStore.MaxIdleConns,
			ConnMaxLifetime: time.Duration(cfg.Storage.AuditStore.ConnMaxLifetimeSeconds) * time.Second,
			ConnMaxIdleTime: time.Duration(cfg.Storage.AuditStore.ConnMaxIdleTimeSeconds) * time.Second,
		})
	default:
		return nil, mysql.ErrUnsupportedDriver
	}
}

func createEngineClient(cfg *config.Config) (engine.Client, error) {
	apiKey := strings.TrimSpace(cfg.Engine.OpenAI.APIKey)
	if apiKey == "" && cfg.Engine.OpenAI.APIKeyEnv != "" {
		apiKey = strings.TrimSpace(os.Getenv(cfg.Engine.OpenAI.APIKeyEnv))
	}
	if apiKey == "" {
		return nil, errors.New("OpenAI provider 需要配置 api_key 或 api_key_env")
	}
	return openai.NewClient(openai.Config{
		APIKey:  apiKey,
		BaseURL: cfg.Engine.OpenAI.BaseURL,
		Model:   cfg.Engine.OpenAI.Model,
		Timeout: cfg.EngineTimeout(),
	})
}

func createAlertDispatcher(cfg *config.Config) (alerting.Dispatcher, error) {
	notifiers := make([]alerting.Notifier, 0, len(cfg.Alerting.Channels))
	for _, channel := range cfg.Alerting.Channels {
		switch alerting.Channel(channel) {
		case alerting.ChannelLog:
			notifiers = append(notifiers, &alerting.LogNotifier{})
		case alerting.ChannelRabbitMQ:
			notifier, err := alerting.NewRabbitMQNotifier(alerting.RabbitMQConfig{
				URL:     cfg.Alerting.RabbitMQ.URL,
				Queue:   cfg.Alerting.RabbitMQ.Queue,
				Durable: true,
			})
			if err != nil {
				return nil, err
			}
			notifiers = append(notifiers, notifier)
		default:
			return nil, fmt.Errorf("未知的告警渠道: %s", channel)
		}
	}
	return alerting.NewFanout(notifiers...), nil
}
