package sandbox

import (
	"context"
	"fmt"
	"time"

	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"

	"github.com/isdmx/casegen/config"
	"github.com/isdmx/casegen/languages"
)

// Config holds the sandbox parameters shared by every language.
type Config struct {
	ImagePrefix     string
	ContainerPrefix string
	NetworkName     string
	Workdir         string
	CPUs            float64
	MemoryMB        int
	PidsLimit       int64
	Timeout         time.Duration
	BuildExcludes   []string
}

// NewConfig extracts the sandbox parameters from the application config.
func NewConfig(cfg *config.Config) Config {
	return Config{
		ImagePrefix:     cfg.Docker.ImagePrefix,
		ContainerPrefix: cfg.Docker.ContainerPrefix,
		NetworkName:     cfg.Docker.NetworkName,
		Workdir:         cfg.Docker.Workdir,
		CPUs:            cfg.Docker.CPUs,
		MemoryMB:        cfg.Docker.MemoryMB,
		PidsLimit:       cfg.Docker.PidsLimit,
		Timeout:         cfg.GetTimeout(),
		BuildExcludes:   cfg.Docker.BuildExcludes,
	}
}

// BuildRegistry provisions the shared network and then resolves every
// language's image concurrently. The first failure cancels the remaining
// builds and is returned.
func BuildRegistry(ctx context.Context, logger *zap.Logger, api DockerAPI, langs *languages.Registry, cfg Config) (*RunnerRegistry, error) {
	networkID, err := EnsureNetwork(ctx, api, logger, cfg.NetworkName)
	if err != nil {
		return nil, fmt.Errorf("failed to provision network: %w", err)
	}

	cache := NewImageCache(api, logger, cfg.BuildExcludes)

	p := pool.NewWithResults[*Runner]().
		WithContext(ctx).
		WithFirstError().
		WithCancelOnError()

	for _, lang := range langs.All() {
		p.Go(func(ctx context.Context) (*Runner, error) {
			return NewRunner(ctx, cache, lang, cfg, networkID)
		})
	}

	runners, err := p.Wait()
	if err != nil {
		return nil, err
	}

	reg := NewRunnerRegistry(runners...)
	logRunners(logger, reg)
	return reg, nil
}
