package di

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/baymax-09/roobet-casino-sub000/internal/api/handlers"
	"github.com/baymax-09/roobet-casino-sub000/internal/domain/entities"
	"github.com/baymax-09/roobet-casino-sub000/internal/domain/services"
	"github.com/baymax-09/roobet-casino-sub000/internal/domain/services/chainhooks"
	ethhooks "github.com/baymax-09/roobet-casino-sub000/internal/domain/services/chainhooks/ethereum"
	ripplehooks "github.com/baymax-09/roobet-casino-sub000/internal/domain/services/chainhooks/ripple"
	tronhooks "github.com/baymax-09/roobet-casino-sub000/internal/domain/services/chainhooks/tron"
	"github.com/baymax-09/roobet-casino-sub000/internal/domain/services/funding"
	"github.com/baymax-09/roobet-casino-sub000/internal/domain/services/ledger"
	"github.com/baymax-09/roobet-casino-sub000/internal/domain/services/pipeline"
	"github.com/baymax-09/roobet-casino-sub000/internal/domain/services/pooling"
	"github.com/baymax-09/roobet-casino-sub000/internal/domain/services/sweepledger"
	"github.com/baymax-09/roobet-casino-sub000/internal/domain/services/wallet"
	"github.com/baymax-09/roobet-casino-sub000/internal/infrastructure/adapters"
	"github.com/baymax-09/roobet-casino-sub000/internal/infrastructure/cache"
	"github.com/baymax-09/roobet-casino-sub000/internal/infrastructure/chains/ethereum"
	"github.com/baymax-09/roobet-casino-sub000/internal/infrastructure/chains/ripple"
	"github.com/baymax-09/roobet-casino-sub000/internal/infrastructure/chains/tron"
	"github.com/baymax-09/roobet-casino-sub000/internal/infrastructure/config"
	"github.com/baymax-09/roobet-casino-sub000/internal/infrastructure/database"
	"github.com/baymax-09/roobet-casino-sub000/internal/infrastructure/queue"
	"github.com/baymax-09/roobet-casino-sub000/internal/infrastructure/repositories"
	"github.com/baymax-09/roobet-casino-sub000/internal/infrastructure/stream"
	"github.com/baymax-09/roobet-casino-sub000/internal/workers/deposit_consumer"
	"github.com/baymax-09/roobet-casino-sub000/internal/workers/pooling_scheduler"
	"github.com/baymax-09/roobet-casino-sub000/internal/workers/settlement_janitor"
	"github.com/baymax-09/roobet-casino-sub000/internal/workers/settlement_worker"
	"github.com/baymax-09/roobet-casino-sub000/pkg/hdwallet"
	"github.com/baymax-09/roobet-casino-sub000/pkg/logger"
	"github.com/baymax-09/roobet-casino-sub000/pkg/retry"
	"github.com/baymax-09/roobet-casino-sub000/pkg/secrets"
)

// Container holds every long-lived component of the settlement worker
type Container struct {
	Config *config.Config
	DB     *sqlx.DB
	Logger *logger.Logger
	ZapLog *zap.Logger

	Redis   cache.RedisClient
	Broker  queue.Broker
	Secrets *secrets.Manager

	// Repositories
	WalletRepo        *repositories.WalletRepository
	NonceRepo         *repositories.NonceRepository
	WalletBalanceRepo *repositories.WalletBalanceRepository
	OutgoingRepo      *repositories.OutgoingTransactionRepository
	DepositRepo       *repositories.DepositRepository
	WithdrawalRepo    *repositories.WithdrawalRepository
	LedgerRepo        *repositories.LedgerRepository

	// Chain clients, nil when the network is disabled
	EthereumClient *ethereum.Client
	TronClient     *tron.Client
	RippleClient   *ripple.Client

	// Domain services
	WalletService       *wallet.Service
	SweepLedger         *sweepledger.Ledger
	NotificationService *services.NotificationService
	Registry            *pipeline.Registry
	Pipeline            *pipeline.Pipeline
	Orchestrator        *pooling.Orchestrator
	LedgerService       *ledger.Service
	FundingService      *funding.Service
	DepositProcessor    *funding.Processor

	// Workers
	SettlementWorker *settlement_worker.Worker
	PoolingScheduler *pooling_scheduler.Worker
	Janitor          *settlement_janitor.Worker
	DepositConsumer  *deposit_consumer.Worker

	networks []entities.Network
}

// NewContainer creates a new dependency injection container
func NewContainer(ctx context.Context, cfg *config.Config, db *sqlx.DB, log *logger.Logger) (*Container, error) {
	c := &Container{
		Config: cfg,
		DB:     db,
		Logger: log,
		ZapLog: log.Zap(),
	}

	// Initialize repositories
	c.WalletRepo = repositories.NewWalletRepository(db)
	c.NonceRepo = repositories.NewNonceRepository(db)
	c.WalletBalanceRepo = repositories.NewWalletBalanceRepository(db)
	c.OutgoingRepo = repositories.NewOutgoingTransactionRepository(db)
	c.DepositRepo = repositories.NewDepositRepository(db)
	c.WithdrawalRepo = repositories.NewWithdrawalRepository(db)
	c.LedgerRepo = repositories.NewLedgerRepository(db)

	if err := c.initializeInfrastructure(ctx); err != nil {
		return nil, err
	}
	if err := c.initializeDomainServices(ctx); err != nil {
		return nil, err
	}
	if err := c.initializeWorkers(); err != nil {
		return nil, err
	}

	c.ZapLog.Info("Container initialized", zap.Any("networks", c.networks))
	return c, nil
}

func (c *Container) initializeInfrastructure(ctx context.Context) error {
	redisClient, err := cache.NewRedisClient(&c.Config.Redis, c.ZapLog)
	if err != nil {
		return fmt.Errorf("failed to initialize redis: %w", err)
	}
	c.Redis = redisClient

	switch c.Config.Queue.Driver {
	case "memory":
		c.Broker = queue.NewMemoryBroker(c.Config.Queue.Concurrency, c.ZapLog)
	case "redis", "":
		c.Broker = queue.NewRedisBroker(redisClient.Client(), queue.RedisBrokerConfig{
			Prefix:       c.Config.Queue.Prefix,
			Concurrency:  c.Config.Queue.Concurrency,
			PollInterval: time.Duration(c.Config.Queue.PollInterval) * time.Millisecond,
			ConsumerID:   c.Config.Queue.ConsumerID,
			ConsumerTTL:  time.Duration(c.Config.Queue.ConsumerTTL) * time.Second,
		}, c.ZapLog)
	default:
		return fmt.Errorf("unknown queue driver %q", c.Config.Queue.Driver)
	}

	provider, err := c.secretsProvider(ctx)
	if err != nil {
		return err
	}
	c.Secrets = secrets.NewManager(provider, c.Config.Security.EncryptionKey)
	return nil
}

func (c *Container) secretsProvider(ctx context.Context) (secrets.Provider, error) {
	var provider secrets.Provider
	switch c.Config.Security.SecretsProvider {
	case "aws":
		aws, err := secrets.NewAWSSecretsManagerProvider(ctx, c.Config.AWS.Region, c.Config.Security.SecretsPrefix)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize secrets manager: %w", err)
		}
		provider = aws
	case "env", "":
		provider = secrets.NewEnvProvider()
	default:
		return nil, fmt.Errorf("unknown secrets provider %q", c.Config.Security.SecretsProvider)
	}
	ttl := time.Duration(c.Config.Security.SecretsCacheTTL) * time.Second
	return secrets.NewCachedProvider(provider, ttl), nil
}

func (c *Container) initializeDomainServices(ctx context.Context) error {
	cfg := c.Config

	mnemonic, err := c.Secrets.GetMnemonic(ctx, cfg.Security.MnemonicKey)
	if err != nil {
		return fmt.Errorf("failed to load wallet mnemonic: %w", err)
	}
	master, err := hdwallet.NewMaster(mnemonic, "")
	if err != nil {
		return fmt.Errorf("failed to build wallet master key: %w", err)
	}

	walletConfig := wallet.Config{
		EthereumTreasuryIndex: cfg.Chains.Ethereum.TreasuryIndex,
		TronTreasuryIndex:     cfg.Chains.Tron.TreasuryIndex,
		RippleTreasuryAddress: cfg.Chains.Ripple.TreasuryAddress,
	}
	c.WalletService = wallet.NewService(c.WalletRepo, c.NonceRepo, master, walletConfig, c.Logger.With("component", "wallet"))
	keys := wallet.NewKeyRing(master, walletConfig)

	c.SweepLedger = sweepledger.New(c.WalletBalanceRepo, c.Logger.With("component", "sweepledger"))

	publishers := make([]services.EventPublisher, 0, 1)
	if cfg.AWS.NotificationsTopic != "" {
		sns, err := adapters.NewSNSNotifier(ctx, cfg.AWS.Region, cfg.AWS.NotificationsTopic, c.ZapLog)
		if err != nil {
			return fmt.Errorf("failed to initialize sns notifier: %w", err)
		}
		publishers = append(publishers, sns)
	} else {
		c.ZapLog.Warn("Notifications topic not configured; settlement events are only logged")
	}
	c.NotificationService = services.NewNotificationService(c.Logger.With("component", "notifications"), publishers...)

	rates := cache.NewCachedRates(c.Redis, cache.NewStaticRates(cfg.Rates.Static), cfg.Rates.TTL(), c.ZapLog)
	poolingRequests := cache.NewRedisPoolingRequests(c.Redis)

	c.Registry = pipeline.NewRegistry()
	c.Pipeline = pipeline.NewPipeline(c.Registry, c.Broker, pipelineConfig(cfg.Pipeline), c.Logger.With("component", "pipeline"))

	deps := chainhooks.Deps{
		Ledger:          c.SweepLedger,
		Outgoing:        c.OutgoingRepo,
		Withdrawals:     c.WithdrawalRepo,
		Pooling:         poolingRequests,
		Publisher:       c.Pipeline,
		Signers:         c.WalletService,
		Rates:           rates,
		Notifier:        c.NotificationService,
		Logger:          c.Logger.With("component", "chainhooks"),
		MaxAttempts:     cfg.Pipeline.MaxAttempts,
		PoolingPriority: cfg.Pipeline.PoolingPriority,
	}

	c.Orchestrator = pooling.NewOrchestrator(
		c.SweepLedger,
		c.WalletRepo,
		poolingRequests,
		rates,
		c.Pipeline,
		c.WalletService,
		pooling.Config{
			BatchSize:          cfg.Pooling.BatchSize,
			ActiveMultiplier:   decimal.NewFromFloat(cfg.Pooling.ActiveMultiplier),
			InactiveMultiplier: decimal.NewFromFloat(cfg.Pooling.InactiveMultiplier),
			ActiveWindow:       time.Duration(cfg.Pooling.ActiveWindowHours) * time.Hour,
			FundMargin:         decimal.NewFromFloat(cfg.Pooling.FundMargin),
			Priority:           cfg.Pipeline.PoolingPriority,
		},
		c.Logger.With("component", "pooling"),
	)

	if err := c.initializeChains(ctx, keys, deps); err != nil {
		return err
	}

	c.LedgerService = ledger.NewService(c.LedgerRepo, c.Logger.With("component", "ledger"))
	fundingConfig := fundingConfig(cfg)
	c.FundingService = funding.NewService(
		c.DepositRepo,
		c.WalletRepo,
		c.LedgerService,
		c.SweepLedger,
		nil,
		c.NotificationService,
		fundingConfig,
		c.Logger.With("component", "funding"),
	)
	c.DepositProcessor = funding.NewProcessor(c.FundingService, c.DepositRepo, c.WalletRepo, fundingConfig, c.Logger.With("component", "deposits"))

	return nil
}

// initializeChains dials every enabled network and registers its signer and
// hook sets
func (c *Container) initializeChains(ctx context.Context, keys *wallet.KeyRing, deps chainhooks.Deps) error {
	cfg := c.Config.Chains
	bumpIncrease := decimal.NewFromFloat(c.Config.Pipeline.BumpIncrease)

	if cfg.Ethereum.Enabled {
		client, err := ethereum.Dial(ctx, cfg.Ethereum.RPCURL, keys, ethereum.Config{
			ChainID:          cfg.Ethereum.ChainID,
			TransferGasLimit: cfg.Ethereum.TransferGasLimit,
			TokenGasLimit:    cfg.Ethereum.TokenGasLimit,
			Tokens:           tokenContracts(cfg.Ethereum.Tokens),
		}, c.ZapLog)
		if err != nil {
			return err
		}
		treasury, err := c.WalletService.TreasurySigner(entities.NetworkEthereum)
		if err != nil {
			return fmt.Errorf("failed to derive ethereum treasury: %w", err)
		}
		c.EthereumClient = client
		chain := ethhooks.New(client, treasury.Address, bumpIncrease)
		c.registerChain(chain, client, deps)
		c.Orchestrator.RegisterChain(chain)
	}

	if cfg.Tron.Enabled {
		client, err := tron.Dial(cfg.Tron.GRPCURL, cfg.Tron.APIKey, keys, tron.Config{
			Tokens:      tokenContracts(cfg.Tron.Tokens),
			FeeLimit:    cfg.Tron.FeeLimit,
			TransferFee: cfg.Tron.TransferFee,
		}, c.ZapLog)
		if err != nil {
			return err
		}
		treasury, err := c.WalletService.TreasurySigner(entities.NetworkTron)
		if err != nil {
			return fmt.Errorf("failed to derive tron treasury: %w", err)
		}
		c.TronClient = client
		chain := tronhooks.New(client, treasury.Address)
		c.registerChain(chain, client, deps)
		c.Orchestrator.RegisterChain(chain)
	}

	if cfg.Ripple.Enabled {
		secretKey := cfg.Ripple.TreasurySecretKey
		client := ripple.NewClient(ripple.Config{
			URL:             cfg.Ripple.RPCURL,
			TreasuryAddress: cfg.Ripple.TreasuryAddress,
			ReserveDrops:    cfg.Ripple.ReserveDrops,
			Timeout:         time.Duration(cfg.Ripple.Timeout) * time.Second,
		}, ripple.SecretFunc(func(ctx context.Context) (string, error) {
			return c.Secrets.GetRippleSecret(ctx, secretKey)
		}), c.ZapLog)
		c.RippleClient = client
		c.registerChain(ripplehooks.New(client), client, deps)
	}

	if len(c.networks) == 0 {
		return fmt.Errorf("no settlement network enabled")
	}
	return nil
}

func (c *Container) registerChain(chain chainhooks.Chain, signer pipeline.Chain, deps chainhooks.Deps) {
	network := chain.Network()
	c.Pipeline.RegisterChain(network, signer)
	chainhooks.Register(c.Registry, chain, deps)
	c.networks = append(c.networks, network)
}

func (c *Container) initializeWorkers() error {
	cfg := c.Config

	settlementWorker, err := settlement_worker.NewWorker(c.Broker, c.Pipeline, c.networks, c.Logger.With("worker", "settlement"))
	if err != nil {
		return fmt.Errorf("failed to create settlement worker: %w", err)
	}
	c.SettlementWorker = settlementWorker

	if cfg.Pooling.Enabled {
		c.PoolingScheduler = pooling_scheduler.NewWorker(
			c.Orchestrator,
			cfg.Pooling.Schedule,
			time.Duration(cfg.Pooling.CycleTimeout)*time.Second,
			c.Logger.With("worker", "pooling"),
		)
	}

	c.Janitor = settlement_janitor.NewWorker(
		c.SweepLedger,
		c.WithdrawalRepo,
		c.Pipeline,
		c.WalletService,
		c.networks,
		janitorConfig(cfg),
		c.Logger.With("worker", "janitor"),
	)

	subscriber := stream.NewDepositSubscriber(stream.NewDepositReader(cfg.Kafka), retry.DefaultPolicy(), c.Logger.With("component", "deposit-stream"))
	depositConsumer, err := deposit_consumer.NewWorker(subscriber, c.DepositProcessor, c.Logger.With("worker", "deposits"))
	if err != nil {
		return fmt.Errorf("failed to create deposit consumer: %w", err)
	}
	c.DepositConsumer = depositConsumer
	return nil
}

// Networks returns the enabled settlement networks
func (c *Container) Networks() []entities.Network {
	return c.networks
}

// HealthChecks returns the dependency checks served on /health
func (c *Container) HealthChecks() map[string]handlers.CheckFunc {
	return map[string]handlers.CheckFunc{
		"database": func(ctx context.Context) error { return database.HealthCheck(ctx, c.DB) },
		"redis":    c.Redis.Ping,
	}
}

// StartWorkers starts every worker. Consumers run until ctx is cancelled.
func (c *Container) StartWorkers(ctx context.Context) error {
	if err := c.SettlementWorker.Start(ctx); err != nil {
		return fmt.Errorf("failed to start settlement worker: %w", err)
	}
	if c.PoolingScheduler != nil {
		if err := c.PoolingScheduler.Start(); err != nil {
			return fmt.Errorf("failed to start pooling scheduler: %w", err)
		}
	}
	if err := c.Janitor.Start(); err != nil {
		return fmt.Errorf("failed to start janitor: %w", err)
	}
	c.DepositConsumer.Start(ctx)
	return nil
}

// Shutdown stops the workers and closes the clients opened by the container
func (c *Container) Shutdown(_ context.Context) error {
	if c.PoolingScheduler != nil {
		c.PoolingScheduler.Stop()
	}
	c.Janitor.Stop()
	if err := c.DepositConsumer.Stop(); err != nil {
		c.ZapLog.Warn("Error stopping deposit consumer", zap.Error(err))
	}
	if err := c.SettlementWorker.Stop(); err != nil {
		c.ZapLog.Warn("Error stopping settlement worker", zap.Error(err))
	}
	if c.EthereumClient != nil {
		c.EthereumClient.Close()
	}
	if c.TronClient != nil {
		c.TronClient.Close()
	}
	return c.Redis.Close()
}

func pipelineConfig(cfg config.PipelineConfig) pipeline.Config {
	pc := pipeline.DefaultConfig()
	pc.SendDelay = cfg.SendDelay()
	pc.BroadcastsPerSecond = cfg.BroadcastsPerSecond
	pc.ConfirmationDelay = cfg.ConfirmationWait()
	pc.MaxConfirmationChecks = cfg.MaxConfirmationChecks
	pc.MaxAttempts = cfg.MaxAttempts
	pc.MaxBumps = cfg.MaxBumps
	return pc
}

func fundingConfig(cfg *config.Config) *funding.FundingConfig {
	fc := funding.DefaultFundingConfig()
	fc.MaxAutoCreditUSD = decimal.NewFromFloat(cfg.Risk.MaxAutoCreditUSD)
	fc.RippleTreasuryAddress = cfg.Chains.Ripple.TreasuryAddress
	fc.RequiredConfirmations = map[entities.Network]int{
		entities.NetworkEthereum: cfg.Chains.Ethereum.RequiredConfirmations,
		entities.NetworkTron:     cfg.Chains.Tron.RequiredConfirmations,
		entities.NetworkRipple:   cfg.Chains.Ripple.RequiredConfirmations,
	}
	return fc
}

func janitorConfig(cfg *config.Config) *settlement_janitor.Config {
	jc := settlement_janitor.DefaultConfig()
	if cfg.Janitor.Schedule != "" {
		jc.Schedule = cfg.Janitor.Schedule
	}
	if lease := cfg.Janitor.Lease(); lease > 0 {
		jc.Lease = lease
	}
	if cfg.Janitor.BatchSize > 0 {
		jc.BatchSize = cfg.Janitor.BatchSize
	}
	if cfg.Janitor.RequeueAfter > 0 {
		jc.RequeueAfter = time.Duration(cfg.Janitor.RequeueAfter) * time.Second
	}
	if cfg.Pipeline.WithdrawalPriority > 0 {
		jc.WithdrawalPriority = cfg.Pipeline.WithdrawalPriority
	}
	return jc
}

// tokenContracts restores the symbol case viper lowercases in map keys
func tokenContracts(raw map[string]string) map[entities.Token]string {
	out := make(map[entities.Token]string, len(raw))
	for symbol, contract := range raw {
		out[entities.Token(strings.ToUpper(symbol))] = contract
	}
	return out
}
