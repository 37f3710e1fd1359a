package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/errdefs"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const removeTimeout = 30 * time.Second

// DockerExecutor runs rendered harnesses in ephemeral containers.
type DockerExecutor struct {
	api        DockerAPI
	logger     *zap.Logger
	workdir    string
	cpus       float64
	memoryMB   int
	pidsLimit  int64
	timeout    time.Duration
	nameSuffix func() (string, error)
}

// DockerExecutorOption defines a functional option for DockerExecutor
type DockerExecutorOption func(*DockerExecutor)

// WithTimeout bounds a single execution from container creation to classification.
func WithTimeout(timeout time.Duration) DockerExecutorOption {
	return func(d *DockerExecutor) {
		d.timeout = timeout
	}
}

// WithLimits sets the per-container resource limits. A zero pidsLimit leaves
// the daemon default.
func WithLimits(cpus float64, memoryMB int, pidsLimit int64) DockerExecutorOption {
	return func(d *DockerExecutor) {
		d.cpus = cpus
		d.memoryMB = memoryMB
		d.pidsLimit = pidsLimit
	}
}

// WithNameSuffix replaces the generator of the unique container name suffix.
func WithNameSuffix(fn func() (string, error)) DockerExecutorOption {
	return func(d *DockerExecutor) {
		d.nameSuffix = fn
	}
}

// NewDockerExecutor creates an executor with the limits of cfg. Options
// override them.
func NewDockerExecutor(api DockerAPI, logger *zap.Logger, cfg Config, opts ...DockerExecutorOption) *DockerExecutor {
	executor := &DockerExecutor{
		api:        api,
		logger:     logger,
		workdir:    cfg.Workdir,
		cpus:       cfg.CPUs,
		memoryMB:   cfg.MemoryMB,
		pidsLimit:  cfg.PidsLimit,
		timeout:    cfg.Timeout,
		nameSuffix: uuidSuffix,
	}

	for _, opt := range opts {
		opt(executor)
	}

	return executor
}

func uuidSuffix() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// Execute runs harness with req.Content as the user module and classifies
// the result. A non-zero exit is a *Failure outcome, not an error. Any
// returned error is an *Error and comes without an outcome. The container is
// removed on every path.
func (d *DockerExecutor) Execute(ctx context.Context, runner *Runner, harness string, req ExecutionRequest) (Outcome, error) {
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	suffix, err := d.nameSuffix()
	if err != nil {
		return nil, newError(KindCreate, "generate container name", err)
	}
	name := runner.ContainerPrefix + runner.Language.Name + "-" + suffix
	logger := d.logger.With(zap.String("container", name), zap.String("language", runner.Language.Name))

	created, err := d.api.ContainerCreate(ctx,
		d.containerConfig(runner),
		d.hostConfig(runner),
		&network.NetworkingConfig{
			EndpointsConfig: map[string]*network.EndpointSettings{
				runner.NetworkID: {NetworkID: runner.NetworkID},
			},
		},
		nil,
		name,
	)
	if err != nil {
		return nil, d.ctxError(ctx, KindCreate, "create container", err)
	}
	defer d.remove(logger, created.ID)

	for _, w := range created.Warnings {
		logger.Warn("Container created with warning", zap.String("warning", w))
	}

	if err := d.copyFile(ctx, created.ID, runner.EntryPath(d.workdir), harness); err != nil {
		return nil, d.ctxError(ctx, KindCopy, "copy harness", err)
	}
	if err := d.copyFile(ctx, created.ID, runner.UserPath(d.workdir), req.Content); err != nil {
		return nil, d.ctxError(ctx, KindCopy, "copy generator", err)
	}

	hijack, err := d.api.ContainerAttach(ctx, created.ID, container.AttachOptions{
		Stream: true,
		Stdout: true,
		Stderr: true,
	})
	if err != nil {
		return nil, d.ctxError(ctx, KindAttach, "attach container", err)
	}
	defer hijack.Close()

	var stdout, stderr bytes.Buffer
	drained := make(chan error, 1)
	go func() {
		drained <- demux(hijack.Reader, &stdout, &stderr)
	}()

	if err := d.api.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		hijack.Close()
		<-drained
		return nil, d.ctxError(ctx, KindStart, "start container", err)
	}

	select {
	case err := <-drained:
		if err != nil {
			return nil, newError(KindDrain, "read container output", err)
		}
	case <-ctx.Done():
		hijack.Close()
		<-drained
		return nil, d.ctxError(ctx, KindTimeout, "drain container output", ctx.Err())
	}

	exitCode, err := d.exitCode(ctx, logger, created.ID)
	if err != nil {
		return nil, err
	}

	logger.Debug("Container finished", zap.Int("exit_code", exitCode))

	outText := decodeText(stdout.Bytes())
	errText := decodeText(stderr.Bytes())

	if exitCode != 0 {
		return &Failure{
			ExitCode: exitCode,
			Stdout:   outText,
			Stderr:   errText,
		}, nil
	}

	cases, err := parseCases(outText)
	if err != nil {
		return nil, newError(KindMalformedOutput, "parse generated cases", err)
	}

	return &Success{
		Cases:  cases,
		Stdout: outText,
		Stderr: errText,
	}, nil
}

func (d *DockerExecutor) containerConfig(runner *Runner) *container.Config {
	return &container.Config{
		Image:        runner.ImageID,
		WorkingDir:   d.workdir,
		AttachStdout: true,
		AttachStderr: true,
		Labels:       managedLabels(runner.Language.Name),
	}
}

func (d *DockerExecutor) hostConfig(runner *Runner) *container.HostConfig {
	memory := int64(d.memoryMB) * 1024 * 1024
	resources := container.Resources{
		NanoCPUs:   int64(d.cpus * 1e9),
		Memory:     memory,
		MemorySwap: memory,
	}
	if d.pidsLimit > 0 {
		pids := d.pidsLimit
		resources.PidsLimit = &pids
	}

	return &container.HostConfig{
		NetworkMode: container.NetworkMode(runner.NetworkID),
		Privileged:  false,
		CapDrop:     []string{"ALL"},
		SecurityOpt: []string{"no-new-privileges:true"},
		Resources:   resources,
	}
}

func (d *DockerExecutor) copyFile(ctx context.Context, containerID, dst, content string) error {
	dir, archive, err := fileArchive(dst, content)
	if err != nil {
		return err
	}
	return d.api.CopyToContainer(ctx, containerID, dir, bytes.NewReader(archive), container.CopyToContainerOptions{})
}

// exitCode waits for the container to stop and reads its exit status,
// preferring the inspected state over the wait response. An unknown status is -1.
func (d *DockerExecutor) exitCode(ctx context.Context, logger *zap.Logger, containerID string) (int, error) {
	code := -1

	statusCh, errCh := d.api.ContainerWait(ctx, containerID, container.WaitConditionNotRunning)
	select {
	case status := <-statusCh:
		if status.Error != nil && status.Error.Message != "" {
			logger.Warn("Container wait reported an error", zap.String("error", status.Error.Message))
		} else {
			code = int(status.StatusCode)
		}
	case err := <-errCh:
		if ctx.Err() != nil {
			return 0, d.ctxError(ctx, KindTimeout, "wait container", err)
		}
		logger.Warn("Failed to wait for container", zap.Error(err))
	case <-ctx.Done():
		return 0, d.ctxError(ctx, KindTimeout, "wait container", ctx.Err())
	}

	info, err := d.api.ContainerInspect(ctx, containerID)
	if err != nil {
		logger.Warn("Failed to inspect container", zap.Error(err))
		return code, nil
	}
	if info.ContainerJSONBase != nil && info.State != nil && !info.State.Running {
		code = info.State.ExitCode
	}
	return code, nil
}

// ctxError reports a failed step as a timeout or cancellation when the
// execution context is done, and as kind otherwise.
func (d *DockerExecutor) ctxError(ctx context.Context, kind ErrorKind, op string, err error) error {
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return newError(KindTimeout, op, fmt.Errorf("execution exceeded %s: %w", d.timeout, err))
	case errors.Is(ctx.Err(), context.Canceled):
		return newError(KindCanceled, op, err)
	default:
		return newError(kind, op, err)
	}
}

// remove force-removes the container with a context of its own, so a
// cancelled or timed out request still cleans up.
func (d *DockerExecutor) remove(logger *zap.Logger, containerID string) {
	ctx, cancel := context.WithTimeout(context.Background(), removeTimeout)
	defer cancel()

	err := d.api.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true, RemoveVolumes: true})
	if err != nil && !errdefs.IsNotFound(err) {
		logger.Error("Failed to remove container", zap.String("container_id", containerID), zap.Error(err))
	}
}

// parseCases reads the JSON array of cases from the last line of stdout.
func parseCases(stdout string) ([]GeneratedCase, error) {
	trimmed := strings.TrimRightFunc(stdout, unicode.IsSpace)
	last := trimmed
	if i := strings.LastIndexByte(trimmed, '\n'); i >= 0 {
		last = trimmed[i+1:]
	}

	var cases []GeneratedCase
	if err := json.Unmarshal([]byte(last), &cases); err != nil {
		return nil, fmt.Errorf("last output line is not a JSON array of cases: %w", err)
	}
	if cases == nil {
		return nil, errors.New("last output line is null, expected a JSON array of cases")
	}
	return cases, nil
}

// SweepContainers removes managed containers left behind by a crashed
// process and returns how many were removed. Another process may share the
// daemon, so running containers are kept, and so are created ones younger
// than the grace period, which may be between create and start.
func SweepContainers(ctx context.Context, api DockerAPI, logger *zap.Logger) (int, error) {
	leftovers, err := api.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("label", LabelManaged+"=true")),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to list leftover containers: %w", err)
	}

	removed := 0
	for _, c := range leftovers {
		if !abandoned(c, time.Now()) {
			logger.Debug("Keeping managed container", zap.String("container_id", c.ID), zap.String("state", string(c.State)))
			continue
		}
		err := api.ContainerRemove(ctx, c.ID, container.RemoveOptions{Force: true, RemoveVolumes: true})
		if err != nil && !errdefs.IsNotFound(err) {
			logger.Warn("Failed to remove leftover container", zap.String("container_id", c.ID), zap.Error(err))
			continue
		}
		removed++
	}

	if removed > 0 {
		logger.Info("Removed leftover containers", zap.Int("count", removed))
	}
	return removed, nil
}

// sweepCreatedGrace is how long a created, never started container may live
// before the sweep treats it as abandoned.
const sweepCreatedGrace = 10 * time.Minute

func abandoned(c container.Summary, now time.Time) bool {
	switch string(c.State) {
	case "exited", "dead":
		return true
	case "created":
		return now.Sub(time.Unix(c.Created, 0)) > sweepCreatedGrace
	default:
		return false
	}
}
