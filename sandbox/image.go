package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/pkg/jsonmessage"
	"go.uber.org/zap"
)

// ImageCache resolves per-language images, building them only when the
// cached image is missing or older than its Dockerfile.
type ImageCache struct {
	api      DockerAPI
	logger   *zap.Logger
	excludes []string
}

func NewImageCache(api DockerAPI, logger *zap.Logger, buildExcludes []string) *ImageCache {
	return &ImageCache{
		api:      api,
		logger:   logger,
		excludes: buildExcludes,
	}
}

// EnsureImage returns the id of the image tagged tag, rebuilding it from
// recipePath when the image is absent or not newer than the recipe.
func (c *ImageCache) EnsureImage(ctx context.Context, recipePath, tag string, labels map[string]string) (string, error) {
	logger := c.logger.With(zap.String("tag", tag))

	images, err := c.api.ImageList(ctx, image.ListOptions{
		Filters: filters.NewArgs(filters.Arg("reference", tag)),
	})
	if err != nil {
		return "", fmt.Errorf("failed to list images for %s: %w", tag, err)
	}
	if len(images) > 1 {
		return "", fmt.Errorf("%w: %d images tagged %s", ErrAmbiguousImage, len(images), tag)
	}

	recipe, err := os.Stat(recipePath)
	if err != nil {
		return "", fmt.Errorf("failed to stat recipe %s: %w", recipePath, err)
	}

	stale := false
	if len(images) == 1 {
		created := time.Unix(images[0].Created, 0)
		if created.After(recipe.ModTime()) {
			logger.Debug("Reusing cached image", zap.String("image_id", images[0].ID))
			return images[0].ID, nil
		}
		logger.Info("Cached image is older than its recipe, rebuilding",
			zap.Time("image_created", created),
			zap.Time("recipe_modified", recipe.ModTime()),
		)
		stale = true
	}

	return c.build(ctx, logger, recipePath, tag, labels, stale)
}

// build runs an image build. noCache bypasses the layer cache, whose hits
// keep the old image and its old creation time.
func (c *ImageCache) build(ctx context.Context, logger *zap.Logger, recipePath, tag string, labels map[string]string, noCache bool) (string, error) {
	buildContext, err := CreateTarFromDirWithExcludes(filepath.Dir(recipePath), c.excludes)
	if err != nil {
		return "", fmt.Errorf("failed to create build context for %s: %w", tag, err)
	}

	logger.Info("Building image", zap.String("recipe", recipePath), zap.Bool("no_cache", noCache))

	resp, err := c.api.ImageBuild(ctx, bytes.NewReader(buildContext), types.ImageBuildOptions{
		Tags:        []string{tag},
		Dockerfile:  filepath.Base(recipePath),
		Labels:      labels,
		Remove:      true,
		ForceRemove: true,
		NoCache:     noCache,
	})
	if err != nil {
		return "", fmt.Errorf("failed to start image build for %s: %w", tag, err)
	}
	defer resp.Body.Close()

	id, err := readBuildStream(logger, resp.Body)
	if err != nil {
		return "", fmt.Errorf("image build for %s: %w", tag, err)
	}

	logger.Info("Image built", zap.String("image_id", id))
	return id, nil
}

// readBuildStream drains the whole build event stream and returns the last
// digest it carried. Error events are logged and do not stop the drain.
func readBuildStream(logger *zap.Logger, body io.Reader) (string, error) {
	var digest string

	dec := json.NewDecoder(body)
	for {
		var msg jsonmessage.JSONMessage
		if err := dec.Decode(&msg); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return "", fmt.Errorf("failed to read build stream: %w", err)
		}

		switch {
		case msg.Error != nil:
			logger.Warn("Image build error", zap.String("error", msg.Error.Message))
		case msg.Aux != nil:
			var aux struct {
				ID string `json:"ID"`
			}
			if err := json.Unmarshal(*msg.Aux, &aux); err != nil {
				logger.Debug("Ignoring unknown aux message", zap.ByteString("aux", *msg.Aux))
				continue
			}
			if aux.ID != "" {
				digest = aux.ID
			}
		case msg.Stream != "":
			if line := strings.TrimRight(msg.Stream, "\n"); line != "" {
				logger.Debug("Build", zap.String("stream", line))
			}
		case msg.Status != "":
			logger.Debug("Pull", zap.String("status", msg.Status), zap.String("id", msg.ID))
		}
	}

	if digest == "" {
		return "", ErrNoDigest
	}
	return digest, nil
}
