// Package config loads Config from environment variables (prefix DGW_) and
// an optional YAML file, layered through koanf.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config is the full set of knobs a discordclient bot process needs.
type Config struct {
	Bot      BotConfig      `koanf:"bot"`
	Logging  LoggingConfig  `koanf:"logging"`
	Pipeline PipelineConfig `koanf:"pipeline"`
	Voice    VoiceConfig    `koanf:"voice"`
	Admin    AdminConfig    `koanf:"admin"`
}

// BotConfig carries the credentials and product identity sent in every
// outbound request's Authorization and User-Agent headers.
type BotConfig struct {
	Token          string `koanf:"token"`
	ProductURL     string `koanf:"product_url"`
	ProductVersion string `koanf:"product_version"`
}

// UserAgent renders the User-Agent header value sent on every REST call.
func (b BotConfig) UserAgent() string {
	return fmt.Sprintf("DiscordBot (%s, %s)", b.ProductURL, b.ProductVersion)
}

// LoggingConfig gates payload logging at the REST and WebSocket boundaries.
type LoggingConfig struct {
	LogReceivedREST bool `koanf:"log_received_rest"`
	LogSentREST     bool `koanf:"log_sent_rest"`
	LogReceivedWS   bool `koanf:"log_received_ws"`
	LogSentWS       bool `koanf:"log_sent_ws"`
}

// PipelineConfig tunes the request pipeline (C2) and retry harness (C3).
type PipelineConfig struct {
	BufferSize       int           `koanf:"buffer_size"`
	OverflowStrategy string        `koanf:"overflow_strategy"`
	MaxAllowedWait   time.Duration `koanf:"max_allowed_wait"`
	Parallelism      int           `koanf:"parallelism"`
	MaxRetryCount    int           `koanf:"max_retry_count"`
}

// VoiceConfig is the packet-queue shape consumed by the UDP helper (the
// helper's actual packet transmission lives outside this module).
type VoiceConfig struct {
	MaxPacketsBeforeDrop int `koanf:"max_packets_before_drop"`
	MaxBurstAmount       int `koanf:"max_burst_amount"`
	SendRequestAmount    int `koanf:"send_request_amount"`
}

// AdminConfig configures the operational side-channel HTTP surface.
type AdminConfig struct {
	Port int `koanf:"port"`
}

const envPrefix = "DGW_"

// Load builds a Config by layering defaults, an optional YAML file at
// path (skipped if path is empty; a non-empty path that cannot be loaded
// is an error), a local .env file if present, and
// DGW_-prefixed environment variables, in that order of increasing
// precedence.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	defaults := map[string]any{
		"bot.product_url":               "https://example.invalid/discordgw",
		"bot.product_version":           "0.1.0",
		"pipeline.buffer_size":          256,
		"pipeline.overflow_strategy":    "back-pressure",
		"pipeline.max_allowed_wait":     "5s",
		"pipeline.parallelism":          8,
		"pipeline.max_retry_count":      3,
		"voice.max_packets_before_drop": 64,
		"voice.max_burst_amount":        8,
		"voice.send_request_amount":     4,
		"admin.port":                    8090,
	}
	if err := k.Load(confmap.Provider(defaults, "."), nil); err != nil {
		return nil, fmt.Errorf("config: loading defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("config: loading file %q: %w", path, err)
		}
	}

	// Best-effort: a missing .env file is not an error.
	_ = godotenv.Load()

	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, envPrefix)), "__", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("config: loading environment: %w", err)
	}

	var cfg Config
	unmarshalConf := koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			Result:           &cfg,
			WeaklyTypedInput: true,
			DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		},
	}
	if err := k.UnmarshalWithConf("", &cfg, unmarshalConf); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	if cfg.Bot.Token == "" {
		return nil, fmt.Errorf("config: bot.token is required (set %sBOT__TOKEN or bot.token in the config file)", envPrefix)
	}

	return &cfg, nil
}
