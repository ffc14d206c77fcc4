package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/hugo-lorenzo-mato/quorum-consensus/internal/adapters/embed"
	"github.com/hugo-lorenzo-mato/quorum-consensus/internal/adapters/provider"
	"github.com/hugo-lorenzo-mato/quorum-consensus/internal/adapters/state"
	"github.com/hugo-lorenzo-mato/quorum-consensus/internal/config"
	"github.com/hugo-lorenzo-mato/quorum-consensus/internal/core"
	"github.com/hugo-lorenzo-mato/quorum-consensus/internal/fsutil"
	"github.com/hugo-lorenzo-mato/quorum-consensus/internal/logging"
	"github.com/hugo-lorenzo-mato/quorum-consensus/internal/metrics"
	"github.com/hugo-lorenzo-mato/quorum-consensus/internal/service/consensus"
)

// maxSystemPromptBytes bounds system_prompt_file.
const maxSystemPromptBytes = 256 * 1024

// app holds the dependencies shared by the consult, serve and thread commands.
type app struct {
	cfg      *config.Config
	logger   *logging.Logger
	registry *provider.Registry
	threads  core.ThreadStore
	metrics  *metrics.Collector
	engine   *consensus.Orchestrator
}

// loadConfig loads and validates configuration and builds the logger.
func loadConfig() (*config.Config, *logging.Logger, error) {
	loader := config.NewLoaderWithViper(viper.GetViper())
	if cfgFile != "" {
		loader.WithConfigFile(cfgFile)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}
	if err := config.ValidateConfig(cfg); err != nil {
		return nil, nil, fmt.Errorf("validating config: %w", err)
	}

	logger := logging.New(logging.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
	})
	for _, w := range loader.Warnings() {
		logger.Warn("configuration warning", "detail", w)
	}
	if used := loader.ConfigFile(); used != "" {
		logger.Debug("configuration loaded", "file", used)
	}
	return cfg, logger, nil
}

// newApp wires the engine from configuration. Callers must Close the app.
func newApp(ctx context.Context) (*app, error) {
	cfg, logger, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return buildApp(ctx, cfg, logger)
}

func buildApp(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*app, error) {
	registry := provider.NewRegistry(logger)
	provider.ConfigureRegistryFromConfig(registry, cfg)

	threads, err := state.NewThreadStore(ctx, storeOptions(cfg.Threads))
	if err != nil {
		return nil, fmt.Errorf("opening thread store: %w", err)
	}
	if n, err := state.PurgeExpired(ctx, threads); err != nil {
		logger.Warn("purging expired threads failed", "error", err)
	} else if n > 0 {
		logger.Debug("purged expired threads", "count", n)
	}

	engineCfg, err := engineConfig(cfg.Consensus)
	if err != nil {
		_ = threads.Close()
		return nil, err
	}

	collector := metrics.NewCollector("")
	engine := consensus.New(registry, threads, engineCfg,
		consensus.WithLogger(logger),
		consensus.WithPool(consensus.NewWorkerPool(cfg.Consensus.MaxWorkers)),
		consensus.WithEmbedder(embed.New(embed.WithRoot(cfg.Consensus.FilesRoot), embed.WithLogger(logger))),
		consensus.WithObserver(collector),
	)

	return &app{
		cfg:      cfg,
		logger:   logger,
		registry: registry,
		threads:  threads,
		metrics:  collector,
		engine:   engine,
	}, nil
}

// Close releases the thread store.
func (a *app) Close() {
	if err := a.threads.Close(); err != nil {
		a.logger.Warn("closing thread store", "error", err)
	}
}

func storeOptions(cfg config.ThreadsConfig) state.StoreOptions {
	return state.StoreOptions{
		Backend:  cfg.Backend,
		Path:     cfg.Path,
		MaxTurns: cfg.MaxTurns,
		TTL:      cfg.TTL,
		Redis: state.RedisOptions{
			Addr:      cfg.Redis.Addr,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			KeyPrefix: cfg.Redis.KeyPrefix,
		},
	}
}

func engineConfig(cfg config.ConsensusConfig) (consensus.Config, error) {
	out := consensus.Config{
		DefaultModelTimeout: cfg.DefaultModelTimeout,
		PhaseBuffer:         cfg.PhaseBuffer,
		Temperature:         cfg.Temperature,
		EnableCrossFeedback: cfg.EnableCrossFeedback,
		MaxPromptTokens:     cfg.MaxPromptTokens,
	}
	if cfg.SystemPromptFile != "" {
		data, err := fsutil.ReadTextFile(cfg.SystemPromptFile, maxSystemPromptBytes)
		if err != nil {
			return consensus.Config{}, fmt.Errorf("reading system prompt: %w", err)
		}
		out.SystemPrompt = strings.TrimSpace(string(data))
	}
	return out, nil
}
