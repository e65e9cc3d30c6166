// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads configuration from config.yaml and environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// MailboxConfig holds credentials for the pull-based mailbox source.
type MailboxConfig struct {
	Enabled      bool          `yaml:"enabled"`
	ClientID     string        `yaml:"client_id"`
	ClientSecret string        `yaml:"client_secret"`
	RefreshToken string        `yaml:"refresh_token"`
	Label        string        `yaml:"label"`
	PageSize     int64         `yaml:"page_size"`
	Interval     time.Duration `yaml:"interval"`
	MarkRead     bool          `yaml:"mark_read"`
}

// ExtractionConfig holds settings for the text-understanding service.
type ExtractionConfig struct {
	APIKey       string `yaml:"api_key"`
	Model        string `yaml:"model"`
	MaxBodyChars int    `yaml:"max_body_chars"`
	OrgContext   string `yaml:"org_context"`
}

// Config holds all configuration for the ingestion service.
type Config struct {
	// Relational store and fast-path cache
	DatabaseURL string
	RedisURL    string

	// Raw message blob storage
	S3Region string
	S3Bucket string

	// Webhook intake
	TopicARN string

	// The service's own inbound address, stripped from recipient lists
	// so it never becomes a contact.
	AdminAddress string

	Extraction ExtractionConfig
	Mailbox    MailboxConfig

	// HTTP server
	Port int
}

// rawConfig mirrors the YAML structure for unmarshalling.
type rawConfig struct {
	Database struct {
		URL string `yaml:"url"`
	} `yaml:"database"`
	Redis struct {
		URL string `yaml:"url"`
	} `yaml:"redis"`
	Storage struct {
		Region string `yaml:"region"`
		Bucket string `yaml:"bucket"`
	} `yaml:"storage"`
	Webhook struct {
		TopicARN string `yaml:"topic_arn"`
	} `yaml:"webhook"`
	AdminAddress string           `yaml:"admin_address"`
	Extraction   ExtractionConfig `yaml:"extraction"`
	Mailbox      MailboxConfig    `yaml:"mailbox"`
}

// Load reads configuration from config.yaml (with env var expansion) and
// environment variables for non-YAML settings.
func Load() (*Config, error) {
	configPath := envOrDefault("CONFIG_PATH", "/app/config/config.yaml")

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("read config file %s: %w", configPath, err)
	}

	// Expand ${VAR} references in the YAML
	expanded := os.ExpandEnv(string(data))

	var raw rawConfig
	if err := yaml.Unmarshal([]byte(expanded), &raw); err != nil {
		return nil, fmt.Errorf("parse config YAML: %w", err)
	}

	cfg := &Config{
		DatabaseURL:  firstNonEmpty(raw.Database.URL, envOrDefault("DATABASE_URL", "")),
		RedisURL:     firstNonEmpty(raw.Redis.URL, envOrDefault("REDIS_URL", "redis://localhost:6379/0")),
		S3Region:     firstNonEmpty(raw.Storage.Region, envOrDefault("AWS_REGION", "us-east-1")),
		S3Bucket:     firstNonEmpty(raw.Storage.Bucket, envOrDefault("RAW_MESSAGE_BUCKET", "")),
		TopicARN:     firstNonEmpty(raw.Webhook.TopicARN, envOrDefault("TOPIC_ARN", "")),
		AdminAddress: firstNonEmpty(raw.AdminAddress, envOrDefault("ADMIN_ADDRESS", "")),
		Extraction:   raw.Extraction,
		Mailbox:      raw.Mailbox,
		Port:         envOrDefaultInt("PORT", 8080),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("database URL is required (set database.url or DATABASE_URL)")
	}
	if cfg.S3Bucket == "" {
		return nil, fmt.Errorf("raw message bucket is required (set storage.bucket or RAW_MESSAGE_BUCKET)")
	}

	if cfg.Extraction.APIKey == "" {
		cfg.Extraction.APIKey = envOrDefault("OPENAI_API_KEY", "")
	}
	if cfg.Extraction.Model == "" {
		cfg.Extraction.Model = "gpt-4o-mini"
	}
	if cfg.Extraction.MaxBodyChars <= 0 {
		cfg.Extraction.MaxBodyChars = 12000
	}

	if cfg.Mailbox.Enabled {
		if cfg.Mailbox.ClientID == "" || cfg.Mailbox.ClientSecret == "" || cfg.Mailbox.RefreshToken == "" {
			return nil, fmt.Errorf("mailbox polling enabled but credentials are incomplete")
		}
		if cfg.Mailbox.Label == "" {
			cfg.Mailbox.Label = "INBOX"
		}
		if cfg.Mailbox.PageSize <= 0 {
			cfg.Mailbox.PageSize = 25
		}
		if cfg.Mailbox.Interval <= 0 {
			cfg.Mailbox.Interval = envOrDefaultDuration("POLL_INTERVAL", 5*time.Minute)
		}
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envOrDefaultDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
