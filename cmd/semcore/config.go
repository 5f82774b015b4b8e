package main

import (
	"fmt"

	"github.com/fyrsmithlabs/semcore/internal/config"
)

// loadConfig merges on-disk/env configuration with the root/cache-dir
// flags every subcommand shares, then validates the result.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadWithFile(flagConfig)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	if flagRoot != "" {
		cfg.Workspace.Root = flagRoot
	}
	if flagCacheDir != "" {
		cfg.Workspace.CacheDir = flagCacheDir
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
