package main

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/isdmx/casegen/config"
	"github.com/isdmx/casegen/generator"
	"github.com/isdmx/casegen/harness"
	"github.com/isdmx/casegen/httpapi"
	"github.com/isdmx/casegen/languages"
	"github.com/isdmx/casegen/logger"
	"github.com/isdmx/casegen/mcpserver"
	"github.com/isdmx/casegen/sandbox"
)

const sweepTimeout = 30 * time.Second

func main() {
	app := fx.New(
		// Provide dependencies
		fx.Provide(
			// Config
			config.New,
			sandbox.NewConfig,

			// Logger with configuration
			logger.NewFromConfig,

			// Container runtime and everything built on it
			newDockerAPI,
			newLanguages,
			harness.New,
			newRunnerRegistry,
			newExecutor,

			fx.Annotate(
				newGeneratorService,
				fx.As(new(mcpserver.Generator)),
				fx.As(new(httpapi.Generator)),
			),

			// Transports
			mcpserver.New,
			httpapi.New,
		),

		fx.Invoke(sweepOnStart),

		// Start the appropriate transport based on config
		fx.Invoke(startTransport),

		// Use the application logger for fx logs
		fx.WithLogger(logger.FxLogger),
	)

	// Start the application
	app.Run()
}

func newDockerAPI(lc fx.Lifecycle, log *zap.Logger, cfg *config.Config) (sandbox.DockerAPI, error) {
	cli, err := sandbox.NewDockerClient(cfg.Docker.Host)
	if err != nil {
		return nil, err
	}
	log.Info("docker client created", zap.String("api_version", cli.ClientVersion()))

	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return cli.Close()
		},
	})
	return cli, nil
}

func newLanguages(log *zap.Logger, cfg *config.Config) (*languages.Registry, error) {
	return languages.Load(log, cfg.Docker.LanguagesDir)
}

// newRunnerRegistry builds every image before the app starts, so a broken
// language keeps the process from serving.
func newRunnerRegistry(log *zap.Logger, cfg *config.Config, api sandbox.DockerAPI, langs *languages.Registry, sandboxCfg sandbox.Config) (*sandbox.RunnerRegistry, error) {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.GetStartupTimeout())
	defer cancel()

	reg, err := sandbox.BuildRegistry(ctx, log, api, langs, sandboxCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to build runner registry: %w", err)
	}
	return reg, nil
}

func newExecutor(api sandbox.DockerAPI, log *zap.Logger, sandboxCfg sandbox.Config) *sandbox.DockerExecutor {
	return sandbox.NewDockerExecutor(api, log, sandboxCfg)
}

func newGeneratorService(
	log *zap.Logger,
	langs *languages.Registry,
	runners *sandbox.RunnerRegistry,
	renderer *harness.Renderer,
	executor *sandbox.DockerExecutor,
) *generator.Service {
	return generator.NewService(log, langs, runners, renderer, executor)
}

// sweepOnStart removes containers a previous process left behind.
func sweepOnStart(lc fx.Lifecycle, log *zap.Logger, api sandbox.DockerAPI) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			ctx, cancel := context.WithTimeout(ctx, sweepTimeout)
			defer cancel()
			if _, err := sandbox.SweepContainers(ctx, api, log); err != nil {
				log.Warn("Failed to sweep leftover containers", zap.Error(err))
			}
			return nil
		},
	})
}

func startTransport(
	lc fx.Lifecycle,
	shutdowner fx.Shutdowner,
	log *zap.Logger,
	cfg *config.Config,
	mcp *mcpserver.MCPServer,
	rest *httpapi.Server,
) {
	serve := func(name string, run func() error) {
		go func() {
			if err := run(); err != nil {
				log.Error("transport stopped", zap.String("transport", name), zap.Error(err))
				_ = shutdowner.Shutdown(fx.ExitCode(1))
				return
			}
			_ = shutdowner.Shutdown()
		}()
	}

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			switch cfg.Server.Transport {
			case config.TransportStdio:
				serve(cfg.Server.Transport, mcp.ServeStdio)
			case config.TransportHTTP:
				serve(cfg.Server.Transport, mcp.ServeHTTP)
			case config.TransportREST:
				serve(cfg.Server.Transport, rest.Listen)
			default:
				return fmt.Errorf("unsupported transport: %s", cfg.Server.Transport)
			}
			return nil
		},
		OnStop: func(ctx context.Context) error {
			switch cfg.Server.Transport {
			case config.TransportHTTP:
				return mcp.Shutdown(ctx)
			case config.TransportREST:
				return rest.Shutdown(ctx)
			}
			return nil
		},
	})
}
