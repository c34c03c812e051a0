package commands

import (
	"context"
	"fmt"

	"github.com/dyluth/tribunal/internal/collector"
	"github.com/dyluth/tribunal/internal/config"
	"github.com/dyluth/tribunal/internal/engine"
	"github.com/dyluth/tribunal/internal/printer"
	"github.com/dyluth/tribunal/internal/reviewer"
	"github.com/dyluth/tribunal/internal/rubric"
	"github.com/dyluth/tribunal/pkg/docket"
)

// auditSystem is a configured engine plus the resources it holds open.
type auditSystem struct {
	cfg    *config.TribunalConfig
	rubric *rubric.Rubric
	engine *engine.Engine
	files  *collector.FileCache
}

// newAuditSystem loads configuration and rubric and wires the engine.
// rubricPath overrides the rubric named in the configuration.
func newAuditSystem(configPath, rubricPath string) (*auditSystem, error) {
	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		return nil, printer.ErrorWithContext(
			"invalid configuration",
			err.Error(),
			map[string]string{"Config": displayPath(configPath, config.DefaultConfigFile)},
			[]string{"Fix the configuration file, or run without --config to use the built-in defaults."},
		)
	}

	if rubricPath == "" {
		rubricPath = cfg.Rubric
	}
	r, err := rubric.LoadOrDefault(rubricPath)
	if err != nil {
		return nil, printer.ErrorWithContext(
			"invalid rubric",
			err.Error(),
			map[string]string{"Rubric": rubricPath},
			[]string{"Fix the rubric file, or omit --rubric to use the built-in rubric."},
		)
	}

	files, err := collector.NewFileCache(collector.DefaultCacheBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to create file cache: %w", err)
	}

	eng := engine.NewEngine(cfg, r.Criteria(), engine.Components{
		Preparer: collector.NewWorkspacePreparer(),
		Collectors: []engine.Collector{
			collector.NewRepoInvestigator(r, files),
			collector.NewDocAnalyst(r, files),
		},
		Reviewers: reviewer.FromConfig(cfg),
	})

	return &auditSystem{cfg: cfg, rubric: r, engine: eng, files: files}, nil
}

// Close releases the file cache.
func (s *auditSystem) Close() {
	s.files.Close()
}

// openDocket connects to the configured run history.
// Returns (nil, nil) when no Redis URL is configured.
func openDocket(cfg *config.TribunalConfig) (*docket.Client, error) {
	if cfg.Storage == nil || cfg.Storage.RedisURL == "" {
		return nil, nil
	}
	client, err := docket.NewClientFromURL(cfg.Storage.RedisURL, cfg.Storage.Namespace)
	if err != nil {
		return nil, printer.ErrorWithContext(
			"invalid Redis URL",
			err.Error(),
			map[string]string{"URL": cfg.Storage.RedisURL},
			[]string{fmt.Sprintf("Set storage.redis_url in %s or %s, e.g. redis://localhost:6379/0", config.DefaultConfigFile, config.RedisURLEnv)},
		)
	}
	return client, nil
}

// requireDocket is openDocket for commands that cannot work without history.
func requireDocket(cfg *config.TribunalConfig) (*docket.Client, error) {
	client, err := openDocket(cfg)
	if err != nil {
		return nil, err
	}
	if client == nil {
		return nil, printer.Error(
			"run history is not configured",
			"No Redis URL is configured for saving and listing runs.",
			[]string{
				fmt.Sprintf("Set storage.redis_url in %s", config.DefaultConfigFile),
				fmt.Sprintf("Export %s=redis://localhost:6379/0", config.RedisURLEnv),
			},
		)
	}
	return client, nil
}

// pingDocket checks the Redis connection behind client.
func pingDocket(ctx context.Context, client *docket.Client, cfg *config.TribunalConfig) error {
	if err := client.Ping(ctx); err != nil {
		return printer.ErrorWithContext(
			"Redis connection failed",
			fmt.Sprintf("Could not connect to Redis: %v", err),
			map[string]string{"URL": cfg.Storage.RedisURL},
			[]string{"Check that Redis is running and storage.redis_url is correct."},
		)
	}
	return nil
}

func displayPath(path, fallback string) string {
	if path == "" {
		return fallback
	}
	return path
}
