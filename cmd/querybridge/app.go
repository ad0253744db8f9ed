package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"querybridge/internal/config"
	"querybridge/internal/database"
	"querybridge/internal/database/drivers"
	"querybridge/internal/database/metadata"
	"querybridge/internal/metrics"
	"querybridge/internal/model"
	"querybridge/internal/security"
)

// app holds the services one CLI invocation needs
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	vault    *security.CredentialVault
	vaultErr error
	registry *database.DriverRegistry
	factory  database.AdapterFactory
	promReg  *prometheus.Registry
	metrics  *metrics.Metrics
	executor *database.QueryExecutor
	health   *database.HealthChecker
	cache    *metadata.Cache[string, *model.SchemaContext]
	schemas  *metadata.SchemaService
}

func newApp(cfg *config.Config, keys security.KeySource, logOut io.Writer) *app {
	logger := config.NewLogger(cfg.Logging, logOut)

	// connections without encrypted secrets work without a key
	vault, vaultErr := security.NewVaultFromSource(keys)
	if vaultErr != nil {
		level := slog.LevelWarn
		if errors.Is(vaultErr, security.ErrMasterKeyNotFound) {
			level = slog.LevelDebug
		}
		logger.Log(context.Background(), level, "master key unavailable; encrypted secrets cannot be resolved", "error", vaultErr)
	}

	var resolver security.SecretResolver
	if vault != nil {
		resolver = vault
	}

	promReg := prometheus.NewRegistry()
	m := metrics.New(promReg)

	registry := database.NewDriverRegistry(resolver, drivers.Options{
		ConnectTimeout: cfg.Executor.ConnectTimeout,
		Logger:         logger,
	})

	var limiter *rate.Limiter
	if cfg.Executor.ConnectRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.Executor.ConnectRate), cfg.Executor.ConnectBurst)
	}
	factory := database.NewInstrumentedFactory(registry, m, limiter)

	executor := database.NewQueryExecutor(factory,
		database.WithLogger(logger),
		database.WithMetrics(m),
		database.WithValidator(security.NewSQLValidator(security.WithStrictParsing(cfg.Executor.StrictValidation))),
	)

	cache := metadata.NewCache[string, *model.SchemaContext](cfg.Cache.TTL, metadata.WithSweepInterval(cfg.Cache.SweepInterval))
	extractor := metadata.NewMetadataExtractor(factory, m, logger)

	return &app{
		cfg:      cfg,
		logger:   logger,
		vault:    vault,
		vaultErr: vaultErr,
		registry: registry,
		factory:  factory,
		promReg:  promReg,
		metrics:  m,
		executor: executor,
		health:   database.NewHealthChecker(factory, m, logger),
		cache:    cache,
		schemas:  metadata.NewSchemaService(extractor, cache, m, logger),
	}
}

// keySource looks for the master key in the environment first, then in the
// OS keyring.
func keySource(cfg *config.Config) security.KeySource {
	return security.ChainKeySource{
		security.NewEnvKeySource(cfg.Security.MasterKeyEnv),
		security.NewKeyringKeySource(cfg.Security.KeyringService, cfg.Security.KeyringUser),
	}
}

func (a *app) connection(id string) (*model.ConnectionConfig, error) {
	if id == "" {
		return nil, errors.New("--conn is required")
	}
	return a.cfg.Connection(id)
}

func (a *app) requireVault() (*security.CredentialVault, error) {
	if a.vault == nil {
		if errors.Is(a.vaultErr, security.ErrMasterKeyNotFound) {
			return nil, fmt.Errorf("no master key found in $%s or the OS keyring; run 'querybridge keygen --store' first", a.cfg.Security.MasterKeyEnv)
		}
		return nil, fmt.Errorf("failed to load master key: %w", a.vaultErr)
	}
	return a.vault, nil
}
