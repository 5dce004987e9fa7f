// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config holds the process-wide configuration of the report
// generator.
//
// Configuration is resolved exactly once at startup (YAML file, then
// environment overrides), validated, and then passed by value into the
// components that need it. Nothing reads ambient globals after Load returns.
package config

import (
	"time"
)

// =============================================================================
// Defaults
// =============================================================================

const (
	// DefaultBaseURL is the OpenAI-compatible endpoint used when none is set.
	DefaultBaseURL = "https://api.openai.com/v1"

	// DefaultRequestTimeout bounds one streaming completion request.
	DefaultRequestTimeout = 5 * time.Minute

	// DefaultMaxAttachmentBytes caps a single uploaded document (4 MiB).
	DefaultMaxAttachmentBytes = 4 << 20

	// DefaultPort matches the port the original web UI listened on.
	DefaultPort = 10000
)

// =============================================================================
// Types
// =============================================================================

// Config is the immutable, process-wide configuration.
//
// # Description
//
// Holds the system instruction, completion-service credentials, model
// identifier and the operational knobs of the pipeline and HTTP surface.
// Values come from a YAML file and are then overridden by environment
// variables (see Load).
//
// # Required Fields
//
//   - SystemPrompt (inline or via SystemPromptFile)
//   - APIKey
//   - Model
//
// # Thread Safety
//
// Treat as read-only after Load. Pass by value.
type Config struct {
	// SystemPrompt is the fixed system instruction sent with every request.
	SystemPrompt string `yaml:"system_prompt" validate:"required"`

	// SystemPromptFile is read into SystemPrompt when SystemPrompt is empty.
	SystemPromptFile string `yaml:"system_prompt_file"`

	// APIKey is the completion-service credential. Never logged.
	APIKey string `yaml:"api_key" validate:"required"`

	// BaseURL is the OpenAI-compatible API root, e.g. https://api.openai.com/v1.
	BaseURL string `yaml:"base_url" validate:"required,url"`

	// Model is the model identifier passed on every request.
	Model string `yaml:"model" validate:"required"`

	// Temperature overrides the service default when set.
	Temperature *float32 `yaml:"temperature" validate:"omitempty,gte=0,lte=2"`

	// MaxTokens caps the completion length when set.
	MaxTokens *int `yaml:"max_tokens" validate:"omitempty,gt=0"`

	// RequestTimeout bounds one streaming request end to end.
	RequestTimeout time.Duration `yaml:"request_timeout" validate:"gte=0"`

	// ArtifactDir receives report artifacts. Empty means os.TempDir().
	ArtifactDir string `yaml:"artifact_dir"`

	// MaxAttachmentBytes caps the size of each uploaded document.
	MaxAttachmentBytes int64 `yaml:"max_attachment_bytes" validate:"gt=0"`

	// Scopes is the catalogue of selectable regulatory scopes.
	Scopes []Scope `yaml:"scopes" validate:"dive"`

	// LabelsPreset selects the built-in label set ("en" or "zh") that
	// Labels is layered on top of.
	LabelsPreset string `yaml:"labels_preset" validate:"omitempty,oneof=en zh"`

	// Labels holds the user-visible fixed texts of the report.
	Labels Labels `yaml:"labels"`

	Server  ServerConfig  `yaml:"server"`
	Logging LoggingConfig `yaml:"logging"`
}

// Scope is one selectable regulatory framework.
type Scope struct {
	ID      string `yaml:"id" json:"id" validate:"required"`
	Name    string `yaml:"name" json:"name"`
	Default bool   `yaml:"default" json:"default"`
}

// Labels are the fixed user-visible texts woven into prompts and reports.
//
// The header line reads "--- {HeaderTitle}: {scopes or UnspecifiedScope} ---".
// Failure texts are followed by the underlying cause.
type Labels struct {
	HeaderTitle         string `yaml:"header_title" validate:"required"`
	UnspecifiedScope    string `yaml:"unspecified_scope" validate:"required"`
	ScopeInstruction    string `yaml:"scope_instruction" validate:"required"`
	AttachmentDelimiter string `yaml:"attachment_delimiter" validate:"required"`
	ReadFailure         string `yaml:"read_failure" validate:"required"`
	ServiceFailure      string `yaml:"service_failure" validate:"required"`
	StreamInterrupted   string `yaml:"stream_interrupted" validate:"required"`
	PersistFailure      string `yaml:"persist_failure" validate:"required"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Port           int     `yaml:"port" validate:"gt=0,lte=65535"`
	RateLimitRPS   float64 `yaml:"rate_limit_rps" validate:"gte=0"`
	RateLimitBurst int     `yaml:"rate_limit_burst" validate:"gte=0"`
	OTelEndpoint   string  `yaml:"otel_endpoint"`
	MetricsEnabled bool    `yaml:"metrics_enabled"`

	// TraceExporter is "otlp", "stdout" or "none". Empty means "otlp" when
	// OTelEndpoint is set and "none" otherwise.
	TraceExporter string `yaml:"trace_exporter" validate:"omitempty,oneof=otlp stdout none"`

	// MetricExporter routes OpenTelemetry instruments: "prometheus" (the
	// /metrics registry), "stdout" or "none".
	MetricExporter string `yaml:"metric_exporter" validate:"omitempty,oneof=prometheus stdout none"`

	// APIToken, when set, is required as a bearer token on /v1 routes.
	// Never logged.
	APIToken string `yaml:"api_token"`
}

// TraceExporterName resolves the effective trace exporter.
func (s ServerConfig) TraceExporterName() string {
	switch {
	case s.TraceExporter != "":
		return s.TraceExporter
	case s.OTelEndpoint != "":
		return "otlp"
	default:
		return "none"
	}
}

// LoggingConfig configures pkg/logging.
type LoggingConfig struct {
	Level string `yaml:"level" validate:"omitempty,oneof=debug info warn warning error"`
	JSON  bool   `yaml:"json"`
	Dir   string `yaml:"dir"`
}

// =============================================================================
// Constructors
// =============================================================================

// Default returns a Config with every optional field populated. Required
// fields (SystemPrompt, APIKey, Model) are left empty.
func Default() Config {
	return Config{
		BaseURL:            DefaultBaseURL,
		RequestTimeout:     DefaultRequestTimeout,
		MaxAttachmentBytes: DefaultMaxAttachmentBytes,
		Scopes:             DefaultScopes(),
		LabelsPreset:       "en",
		Labels:             EnglishLabels(),
		Server: ServerConfig{
			Port:           DefaultPort,
			RateLimitRPS:   2,
			RateLimitBurst: 5,
			MetricsEnabled: true,
			MetricExporter: "prometheus",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// DefaultScopes is the scope catalogue of the original UI. GDPR is
// preselected.
func DefaultScopes() []Scope {
	return []Scope{
		{ID: "GDPR", Name: "EU General Data Protection Regulation", Default: true},
		{ID: "AIACT", Name: "EU Artificial Intelligence Act"},
		{ID: "HIPAA", Name: "US Health Insurance Portability and Accountability Act"},
	}
}

// EnglishLabels is the default label set.
func EnglishLabels() Labels {
	return Labels{
		HeaderTitle:         "Regulations under review",
		UnspecifiedScope:    "unspecified",
		ScopeInstruction:    "Review strictly against the following regulations:",
		AttachmentDelimiter: "\n\nUploaded file content:\n",
		ReadFailure:         "Failed to read uploaded file:",
		ServiceFailure:      "Report generation failed, check the API key or model name:",
		StreamInterrupted:   "[error] Report generation was interrupted:",
		PersistFailure:      "[error] Could not create the report file, download unavailable:",
	}
}

// ChineseLabels reproduces the texts of the original deployment.
func ChineseLabels() Labels {
	return Labels{
		HeaderTitle:         "审查法规",
		UnspecifiedScope:    "未选择",
		ScopeInstruction:    "请严格参照以下法规进行审查:",
		AttachmentDelimiter: "\n\n上传文件内容如下：\n",
		ReadFailure:         "读取文件失败:",
		ServiceFailure:      "报告生成失败，请检查API密钥或模型名称:",
		StreamInterrupted:   "[错误] 报告生成中断:",
		PersistFailure:      "[错误] 临时文件创建失败，无法下载:",
	}
}

// LabelsFor returns the built-in label set for a preset name. Unknown names
// fall back to English.
func LabelsFor(preset string) Labels {
	if preset == "zh" {
		return ChineseLabels()
	}
	return EnglishLabels()
}

// ScopeIDs returns the catalogue identifiers in catalogue order.
func (c Config) ScopeIDs() []string {
	ids := make([]string, 0, len(c.Scopes))
	for _, s := range c.Scopes {
		ids = append(ids, s.ID)
	}
	return ids
}

// HasScope reports whether id is in the catalogue.
func (c Config) HasScope(id string) bool {
	for _, s := range c.Scopes {
		if s.ID == id {
			return true
		}
	}
	return false
}
