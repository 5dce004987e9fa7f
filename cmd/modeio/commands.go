// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/ModeioReport/pkg/config"
	"github.com/AleutianAI/ModeioReport/pkg/logging"
)

// EnvConfigPath names the config file when --config is not given.
const EnvConfigPath = "MODEIO_CONFIG"

// cli carries what PersistentPreRunE resolved for the subcommands.
type cli struct {
	configPath string
	logLevel   string

	cfg    config.Config
	logger *logging.Logger
}

func newRootCmd() *cobra.Command {
	state := &cli{}

	rootCmd := &cobra.Command{
		Use:   "modeio",
		Short: "Generate privacy-compliance review reports with an LLM",
		Long: `modeio streams a privacy-compliance review of a message and attached
documents from an OpenAI-compatible model, scoped to the selected
regulations, and saves the finished report as a downloadable text file.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: state.load,
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if state.logger != nil {
				_ = state.logger.Close()
			}
		},
	}

	rootCmd.PersistentFlags().StringVarP(&state.configPath, "config", "c", "",
		"path to the YAML config file (default $"+EnvConfigPath+")")
	rootCmd.PersistentFlags().StringVar(&state.logLevel, "log-level", "",
		"override the configured log level (debug, info, warn, error)")

	rootCmd.AddCommand(
		newGenerateCmd(state),
		newServeCmd(state),
		newScopesCmd(state),
		newScanCmd(state),
	)
	return rootCmd
}

// load resolves the configuration once and builds the process logger.
func (s *cli) load(cmd *cobra.Command, args []string) error {
	path := s.configPath
	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}

	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	if s.logLevel != "" {
		cfg.Logging.Level = s.logLevel
	}

	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return fmt.Errorf("--log-level: %w", err)
	}

	s.cfg = cfg
	s.logger = logging.New(logging.Config{
		Level:   level,
		LogDir:  cfg.Logging.Dir,
		Service: "modeio",
		JSON:    cfg.Logging.JSON,
		Output:  cmd.ErrOrStderr(),
	})
	slog.SetDefault(s.logger.Slog())

	s.logger.Debug("Configuration loaded",
		"config_file", path,
		"model", cfg.Model,
		"base_url", cfg.BaseURL,
		"api_key_present", cfg.APIKey != "")
	return nil
}
