package config

import (
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/egostrategy/datahub/pkg/errors"
)

// rawConfig is the YAML shape of a config file. Pointer fields
// distinguish "key absent, keep the default" from an explicit zero.
// Durations are written as strings ("30s", "1m") and parsed with
// time.ParseDuration.
type rawConfig struct {
	DebugMode         *bool    `yaml:"debug_mode"`
	DebugStockLimit   *int     `yaml:"debug_stock_limit"`
	DataDir           *string  `yaml:"data_dir"`
	MaxHistory        *int     `yaml:"max_history"`
	ForceFullHistory  *bool    `yaml:"force_full_history"`
	RequestTimeout    *string  `yaml:"request_timeout"`
	RequestsPerSecond *float64 `yaml:"requests_per_second"`
	UserAgent         *string  `yaml:"user_agent"`
	MirrorSites       []string `yaml:"mirror_sites"`
}

// Load reads a YAML configuration file on top of the defaults.
// ${VAR_NAME} references are substituted from the environment before
// parsing, so paths and credentials can stay out of the file.
func Load(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath) //nolint:gosec // G304: path is controlled by the caller
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to read config file").
			WithDetail("path", filePath)
	}

	content := substituteEnvVars(string(data))

	var raw rawConfig
	if err := yaml.Unmarshal([]byte(content), &raw); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to parse config file").
			WithDetail("path", filePath)
	}

	cfg := New()
	if raw.DebugMode != nil {
		cfg.DebugMode = *raw.DebugMode
	}
	if raw.DebugStockLimit != nil {
		cfg.DebugStockLimit = *raw.DebugStockLimit
	}
	if raw.DataDir != nil {
		cfg.DataDir = *raw.DataDir
	}
	if raw.MaxHistory != nil {
		cfg.MaxHistory = *raw.MaxHistory
	}
	if raw.ForceFullHistory != nil {
		cfg.ForceFullHistory = *raw.ForceFullHistory
	}
	if raw.RequestTimeout != nil {
		d, err := time.ParseDuration(*raw.RequestTimeout)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid request_timeout").
				WithDetail("value", *raw.RequestTimeout)
		}
		cfg.RequestTimeout = d
	}
	if raw.RequestsPerSecond != nil {
		cfg.RequestsPerSecond = *raw.RequestsPerSecond
	}
	if raw.UserAgent != nil {
		cfg.UserAgent = *raw.UserAgent
	}
	if raw.MirrorSites != nil {
		cfg.MirrorSites = raw.MirrorSites
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration to a YAML file.
func Save(filePath string, cfg *Config) error {
	timeout := cfg.RequestTimeout.String()
	raw := rawConfig{
		DebugMode:         &cfg.DebugMode,
		DebugStockLimit:   &cfg.DebugStockLimit,
		DataDir:           &cfg.DataDir,
		MaxHistory:        &cfg.MaxHistory,
		ForceFullHistory:  &cfg.ForceFullHistory,
		RequestTimeout:    &timeout,
		RequestsPerSecond: &cfg.RequestsPerSecond,
		UserAgent:         &cfg.UserAgent,
		MirrorSites:       cfg.MirrorSites,
	}

	data, err := yaml.Marshal(&raw)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "failed to marshal config")
	}

	if err := os.WriteFile(filePath, data, 0644); err != nil { //nolint:gosec
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to write config file").
			WithDetail("path", filePath)
	}
	return nil
}

// substituteEnvVars replaces ${VAR_NAME} with environment variable values
func substituteEnvVars(content string) string {
	for {
		start := strings.Index(content, "${")
		if start == -1 {
			break
		}
		end := strings.Index(content[start:], "}")
		if end == -1 {
			break
		}
		end += start

		varName := content[start+2 : end]
		envValue := os.Getenv(varName)
		content = content[:start] + envValue + content[end+1:]
	}
	return content
}
