package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"VaultChain/internal/api"
	"VaultChain/internal/auth"
	"VaultChain/internal/chain"
	"VaultChain/internal/config"
	"VaultChain/internal/events"
	"VaultChain/internal/extension"
	"VaultChain/internal/host"
	"VaultChain/internal/journal"
	"VaultChain/internal/observability/alerting"
	"VaultChain/internal/protocol"
	"VaultChain/internal/token"
	"VaultChain/internal/vault"
	"VaultChain/pkg/logger"
)

// bootstrapIdentity installs the configured extensions before the server
// accepts traffic. It is granted administer for the wiring phase only.
const bootstrapIdentity = "system"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("vaultchaind: %v", err)
	}
}

func run(ctx context.Context) error {
	configPath := os.Getenv("VAULTCHAIN_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("configs", "vaultchain.json")
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

	checker := auth.NewMemoryChecker(grants(cfg))

	router := host.NewRouter()
	asset := token.New(cfg.Vault.AssetSymbol, cfg.Vault.AssetSymbol, cfg.Vault.AssetDecimals)
	shares := token.New(cfg.Vault.ShareSymbol, cfg.Vault.ShareSymbol, cfg.Vault.AssetDecimals)
	if err := router.Register(asset.Address(), asset); err != nil {
		return err
	}
	if err := router.Register(shares.Address(), shares); err != nil {
		return err
	}

	custody := vault.NewVault(cfg.Vault.Name, asset, shares)
	if err := custody.Initialize(cfg.Vault.MaxAllowedDeltaBps); err != nil {
		return err
	}
	router.Enroll(custody)

	registry := extension.NewRegistry(checker, router)
	bootstrapCtx := auth.WithIdentity(ctx, bootstrapIdentity)
	if err := installDefinitions(bootstrapCtx, cfg, registry, router, asset); err != nil {
		return err
	}

	store, err := openJournal(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	producer, err := openProducer(cfg)
	if err != nil {
		return err
	}
	defer producer.Close()

	builder := chain.NewBuilder(registry)
	executor := chain.NewExecutor(router, auth.PermitAll{}, custody.Address())
	chainSvc := chain.NewService(builder, executor, checker, store, producer)
	vaultSvc := vault.NewService(custody, checker, producer)

	alerts := alerting.NewFanout(&alerting.AuditNotifier{})

	server := api.NewServer(cfg.Server.Address, chainSvc, vaultSvc, registry, alerts)
	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func grants(cfg *config.Config) []auth.Grant {
	seeds := []auth.Grant{{
		Identity:     bootstrapIdentity,
		Capabilities: []auth.Capability{auth.CapabilityAdminister},
	}}
	for _, grant := range cfg.Vault.Grants {
		capabilities := make([]auth.Capability, 0, len(grant.Capabilities))
		for _, capability := range grant.Capabilities {
			capabilities = append(capabilities, auth.Capability(capability))
		}
		seeds = append(seeds, auth.Grant{Identity: grant.Identity, Capabilities: capabilities})
	}
	return seeds
}

// installDefinitions builds the external venues and extensions declared in
// the YAML definitions file and installs them through the registry.
func installDefinitions(ctx context.Context, cfg *config.Config, registry *extension.Registry, router *host.Router, asset *token.Token) error {
	defs, err := extension.LoadDefinitions(cfg.Extensions.Definitions)
	if err != nil {
		return err
	}

	for id, def := range defs.Protocols {
		switch def.Kind {
		case extension.KindExternalVault:
			venue := protocol.NewExternalVault(id, asset)
			if err := router.Register(venue.Address(), venue); err != nil {
				return err
			}
			if err := router.Register(venue.ShareToken().Address(), venue.ShareToken()); err != nil {
				return err
			}
		case extension.KindSwapRouter:
			venue := protocol.NewSwapRouter(id)
			venue.AddToken(asset)
			if err := router.Register(venue.Address(), venue); err != nil {
				return err
			}
		}
	}

	for id, def := range defs.Extensions {
		var module extension.Module
		switch def.Kind {
		case extension.KindVaultDeposit:
			module = extension.NewVaultDeposit(id, router, asset)
		case extension.KindVaultRedeem:
			module = extension.NewVaultRedeem(id, router, asset)
		case extension.KindSwap:
			swap := extension.NewSwap(id, router, def.Owner)
			ownerCtx := auth.WithIdentity(ctx, def.Owner)
			for _, target := range def.Routers {
				if err := swap.Allow(ownerCtx, host.DeriveAddress("protocol/"+target)); err != nil {
					return err
				}
			}
			module = swap
		}
		if err := registry.Install(ctx, module); err != nil {
			return err
		}
	}
	return nil
}

func openJournal(ctx context.Context, cfg *config.Config) (journal.Store, error) {
	switch cfg.Journal.Driver {
	case "", "memory":
		return journal.NewMemoryStore(), nil
	case "mysql":
		return journal.NewMySQLStore(ctx, journal.MySQLConfig{
			DSN:             cfg.Journal.DSN,
			MaxOpenConns:    cfg.Journal.MaxOpenConns,
			MaxIdleConns:    cfg.Journal.MaxIdleConns,
			ConnMaxLifetime: cfg.Journal.ConnLifetime(),
		})
	default:
		return nil, fmt.Errorf("unknown journal driver: %s", cfg.Journal.Driver)
	}
}

func openProducer(cfg *config.Config) (events.Producer, error) {
	switch cfg.Events.Driver {
	case "", "memory":
		return events.NewMemoryProducer(cfg.Events.Buffer), nil
	case "redis":
		return events.NewRedisProducer(events.RedisConfig{
			Address:  cfg.Events.Redis.Address,
			Password: cfg.Events.Redis.Password,
			DB:       cfg.Events.Redis.DB,
			List:     cfg.Events.Redis.List,
		})
	case "rabbitmq":
		return events.NewRabbitMQProducer(events.RabbitMQConfig{
			URL:     cfg.Events.RabbitMQ.URL,
			Queue:   cfg.Events.RabbitMQ.Queue,
			Durable: cfg.Events.RabbitMQ.Durable,
		})
	default:
		return nil, fmt.Errorf("unknown events driver: %s", cfg.Events.Driver)
	}
}
