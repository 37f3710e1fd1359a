package sandbox

import (
	"context"
	"fmt"

	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/network"
	"go.uber.org/zap"
)

// EnsureNetwork returns the id of the internal network called name, creating
// it when it does not exist yet.
func EnsureNetwork(ctx context.Context, api DockerAPI, logger *zap.Logger, name string) (string, error) {
	listed, err := api.NetworkList(ctx, network.ListOptions{
		Filters: filters.NewArgs(filters.Arg("name", name)),
	})
	if err != nil {
		return "", fmt.Errorf("failed to list networks: %w", err)
	}

	// the daemon's name filter matches substrings
	var matches []network.Summary
	for _, n := range listed {
		if n.Name == name {
			matches = append(matches, n)
		}
	}

	switch len(matches) {
	case 0:
	case 1:
		logger.Debug("Reusing network", zap.String("network", name), zap.String("network_id", matches[0].ID))
		return matches[0].ID, nil
	default:
		return "", fmt.Errorf("%w: %d networks named %s", ErrAmbiguousNetwork, len(matches), name)
	}

	resp, err := api.NetworkCreate(ctx, name, network.CreateOptions{
		Driver:   "bridge",
		Internal: true,
		Labels:   managedLabels(""),
	})
	if err != nil {
		return "", fmt.Errorf("failed to create network %s: %w", name, err)
	}
	if resp.Warning != "" {
		logger.Warn("Network created with warning", zap.String("network", name), zap.String("warning", resp.Warning))
	}

	logger.Info("Created isolated network", zap.String("network", name), zap.String("network_id", resp.ID))
	return resp.ID, nil
}
