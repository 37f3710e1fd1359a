// Package sandbox runs generator code in ephemeral Docker containers.
//
// At startup BuildRegistry provisions one internal network and resolves a
// cached image per language, rebuilding only images older than their
// Dockerfile. Each Execute call then creates a fresh container on that
// network, copies the rendered harness and the user's code into it, attaches
// to its output before starting it, and classifies the run:
//
//   - exit code 0: the last stdout line is parsed as the generated cases (*Success)
//   - any other exit code: *Failure with the captured output
//
// Infrastructure problems are returned as *Error and never as an outcome.
// The container is removed on every path, including timeouts.
//
// Usage:
//
//	registry, err := sandbox.BuildRegistry(ctx, logger, cli, langs, sandbox.NewConfig(cfg))
//	runner, _ := registry.Lookup("python")
//	executor := sandbox.NewDockerExecutor(cli, logger, sandbox.NewConfig(cfg))
//	outcome, err := executor.Execute(ctx, runner, harness, req)
package sandbox
