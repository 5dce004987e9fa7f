// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Environment variable names. The first four match the original deployment.
const (
	EnvSystemPrompt       = "system_prompt"
	EnvAPIKey             = "OPENAI_API_KEY"
	EnvBaseURL            = "OPENAI_API_BASE"
	EnvModel              = "DEFAULT_MODEL"
	EnvSystemPromptFile   = "MODEIO_SYSTEM_PROMPT_FILE"
	EnvArtifactDir        = "MODEIO_ARTIFACT_DIR"
	EnvRequestTimeout     = "MODEIO_REQUEST_TIMEOUT"
	EnvMaxAttachmentBytes = "MODEIO_MAX_ATTACHMENT_BYTES"
	EnvLabelsPreset       = "MODEIO_LABELS_PRESET"
	EnvPort               = "MODEIO_PORT"
	EnvOTelEndpoint       = "OTEL_EXPORTER_OTLP_ENDPOINT"
	EnvTraceExporter      = "OTEL_TRACES_EXPORTER"
	EnvMetricExporter     = "OTEL_METRICS_EXPORTER"
	EnvAPIToken           = "MODEIO_API_TOKEN"
	EnvLogLevel           = "MODEIO_LOG_LEVEL"
	EnvLogDir             = "MODEIO_LOG_DIR"
)

// LookupFunc resolves an environment variable. os.LookupEnv satisfies it.
type LookupFunc func(key string) (string, bool)

// Load resolves the configuration from an optional YAML file and the process
// environment, then validates it.
//
// # Description
//
// Resolution order (later wins):
//  1. Default()
//  2. YAML file at path (skipped when path is empty)
//  3. Environment variables (see the Env* constants)
//
// If SystemPrompt is still empty and SystemPromptFile is set, the file is
// read. Validation fails fast when a required value is missing.
//
// # Inputs
//
//   - path: YAML file path. Empty means environment only.
//
// # Outputs
//
//   - Config: The resolved configuration.
//   - error: Non-nil if the file is unreadable, malformed, or validation fails.
func Load(path string) (Config, error) {
	return LoadWithEnv(path, os.LookupEnv)
}

// LoadWithEnv is Load with an injectable environment, used by tests.
func LoadWithEnv(path string, lookup LookupFunc) (Config, error) {
	cfg := Default()

	var data []byte
	if path != "" {
		var err error
		data, err = os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}

	if err := decodeYAML(data, &cfg, lookup); err != nil {
		return Config{}, err
	}

	if err := applyEnv(&cfg, lookup); err != nil {
		return Config{}, err
	}

	if cfg.SystemPrompt == "" && cfg.SystemPromptFile != "" {
		prompt, err := os.ReadFile(cfg.SystemPromptFile)
		if err != nil {
			return Config{}, fmt.Errorf("read system prompt file: %w", err)
		}
		cfg.SystemPrompt = strings.TrimSpace(string(prompt))
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// decodeYAML layers the file over cfg. The label preset is resolved first so
// that individual label overrides in the file apply on top of the preset.
func decodeYAML(data []byte, cfg *Config, lookup LookupFunc) error {
	var head struct {
		LabelsPreset string `yaml:"labels_preset"`
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, &head); err != nil {
			return fmt.Errorf("parse config file: %w", err)
		}
	}
	preset := head.LabelsPreset
	if v, ok := lookup(EnvLabelsPreset); ok && v != "" {
		preset = v
	}
	if preset != "" {
		cfg.LabelsPreset = preset
		cfg.Labels = LabelsFor(preset)
	}

	if len(data) == 0 {
		return nil
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	// The env preset wins over the file's preset name.
	cfg.LabelsPreset = preset
	if cfg.LabelsPreset == "" {
		cfg.LabelsPreset = "en"
	}
	return nil
}

func applyEnv(cfg *Config, lookup LookupFunc) error {
	setString := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}

	setString(EnvSystemPrompt, &cfg.SystemPrompt)
	setString(EnvSystemPromptFile, &cfg.SystemPromptFile)
	setString(EnvAPIKey, &cfg.APIKey)
	setString(EnvBaseURL, &cfg.BaseURL)
	setString(EnvModel, &cfg.Model)
	setString(EnvArtifactDir, &cfg.ArtifactDir)
	setString(EnvOTelEndpoint, &cfg.Server.OTelEndpoint)
	setString(EnvTraceExporter, &cfg.Server.TraceExporter)
	setString(EnvMetricExporter, &cfg.Server.MetricExporter)
	setString(EnvAPIToken, &cfg.Server.APIToken)
	setString(EnvLogLevel, &cfg.Logging.Level)
	setString(EnvLogDir, &cfg.Logging.Dir)

	if v, ok := lookup(EnvRequestTimeout); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvRequestTimeout, err)
		}
		cfg.RequestTimeout = d
	}
	if v, ok := lookup(EnvMaxAttachmentBytes); ok && v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvMaxAttachmentBytes, err)
		}
		cfg.MaxAttachmentBytes = n
	}
	if v, ok := lookup(EnvPort); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvPort, err)
		}
		cfg.Server.Port = port
	}

	cfg.BaseURL = strings.TrimSuffix(strings.TrimSpace(cfg.BaseURL), "/")
	return nil
}

// =============================================================================
// Validation
// =============================================================================

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report YAML key names, not Go field names.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks required values and ranges.
//
// # Outputs
//
//   - error: Nil when valid; otherwise lists every offending key, e.g.
//     "invalid configuration: api_key is required; model is required".
func (c Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		key := strings.TrimPrefix(fe.Namespace(), "Config.")
		if fe.Tag() == "required" {
			msgs = append(msgs, key+" is required")
			continue
		}
		msgs = append(msgs, fmt.Sprintf("%s fails %q", key, fe.Tag()))
	}
	return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
}
