package sandbox

import (
	"context"
	"fmt"
	"path"
	"sort"

	"go.uber.org/zap"

	"github.com/isdmx/casegen/languages"
)

// Runner is everything needed to create containers for one language.
// It holds no live resources.
type Runner struct {
	ImageID         string
	NetworkID       string
	ContainerPrefix string
	Language        languages.LanguageInfo
}

// NewRunner resolves the language's image through the cache and binds it to
// the shared network.
func NewRunner(ctx context.Context, cache *ImageCache, lang languages.LanguageInfo, cfg Config, networkID string) (*Runner, error) {
	tag := cfg.ImagePrefix + lang.Name

	imageID, err := cache.EnsureImage(ctx, lang.DockerfilePath(), tag, managedLabels(lang.Name))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve image for %s: %w", lang.Name, err)
	}

	return &Runner{
		ImageID:         imageID,
		NetworkID:       networkID,
		ContainerPrefix: cfg.ContainerPrefix,
		Language:        lang,
	}, nil
}

// EntryPath is where the rendered harness is placed inside the container.
func (r *Runner) EntryPath(workdir string) string {
	return path.Join(workdir, "main."+r.Language.Extension)
}

// UserPath is where the submitted generator code is placed inside the container.
func (r *Runner) UserPath(workdir string) string {
	return path.Join(workdir, "gen."+r.Language.Extension)
}

// RunnerRegistry maps language names to runners. It is never modified after
// construction and is safe for concurrent readers.
type RunnerRegistry struct {
	runners map[string]*Runner
	names   []string
}

func NewRunnerRegistry(runners ...*Runner) *RunnerRegistry {
	reg := &RunnerRegistry{runners: make(map[string]*Runner, len(runners))}
	for _, r := range runners {
		reg.runners[r.Language.Name] = r
	}
	for name := range reg.runners {
		reg.names = append(reg.names, name)
	}
	sort.Strings(reg.names)
	return reg
}

func (r *RunnerRegistry) Lookup(language string) (*Runner, bool) {
	runner, ok := r.runners[language]
	return runner, ok
}

// Names returns the registered languages in sorted order.
func (r *RunnerRegistry) Names() []string {
	return append([]string(nil), r.names...)
}

func (r *RunnerRegistry) Len() int {
	return len(r.names)
}

func logRunners(logger *zap.Logger, reg *RunnerRegistry) {
	for _, name := range reg.names {
		runner := reg.runners[name]
		logger.Info("Runner ready",
			zap.String("language", name),
			zap.String("image_id", runner.ImageID),
			zap.String("network_id", runner.NetworkID),
		)
	}
}
