package main

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/CTAG07/Babbler/pkg/markov"
	"github.com/natefinch/atomic"
	"gopkg.in/yaml.v3"
)

// CoreConfig holds the training and generation settings.
type CoreConfig struct {
	DatabasePath         string `yaml:"database_path"`
	ModelPath            string `yaml:"model_path"`
	KMin                 int    `yaml:"k_min"`
	KMax                 int    `yaml:"k_max"`
	TargetSentenceLength int    `yaml:"target_sentence_length"`
	MinSentenceFactor    int    `yaml:"min_sentence_factor"`
	MaxWalkSteps         int    `yaml:"max_walk_steps"`
	LogLevel             string `yaml:"log_level"`
}

// BotConfig holds the settings of the HTTP responder.
type BotConfig struct {
	ListenAddr     string  `yaml:"listen_addr"`
	ResponseChance float64 `yaml:"response_chance"`
	Muted          bool    `yaml:"muted"`
	AdminToken     string  `yaml:"admin_token"`
}

// Config is the top-level configuration struct that aggregates all other configs.
type Config struct {
	Core CoreConfig `yaml:"core"`
	Bot  BotConfig  `yaml:"bot"`
}

// DefaultConfig creates a configuration with default values.
func DefaultConfig() *Config {
	params := markov.DefaultParams()
	return &Config{
		Core: CoreConfig{
			DatabasePath:         "./data/babbler.db",
			ModelPath:            "./data/model.json",
			KMin:                 params.KMin,
			KMax:                 params.KMax,
			TargetSentenceLength: params.TargetSentenceLength,
			MinSentenceFactor:    markov.DefaultMinSentenceFactor,
			MaxWalkSteps:         markov.DefaultMaxWalkSteps,
			LogLevel:             "info",
		},
		Bot: BotConfig{
			ListenAddr:     ":7280",
			ResponseChance: 0.3,
		},
	}
}

// Params returns the model hyperparameters of the configuration.
func (c *Config) Params() markov.Params {
	return markov.Params{
		KMin:                 c.Core.KMin,
		KMax:                 c.Core.KMax,
		TargetSentenceLength: c.Core.TargetSentenceLength,
	}
}

// ResponseSettings returns the per-message response settings of the configuration.
func (c *Config) ResponseSettings() markov.ResponseSettings {
	return markov.ResponseSettings{
		ResponseChance: c.Bot.ResponseChance,
		Muted:          c.Bot.Muted,
	}
}

// Validate checks the configuration for values no command can run with.
func (c *Config) Validate() error {
	if err := c.Params().Validate(); err != nil {
		return fmt.Errorf("core: %w", err)
	}
	if c.Core.MinSentenceFactor < 0 {
		return fmt.Errorf("core: min_sentence_factor must not be negative, got %d", c.Core.MinSentenceFactor)
	}
	if c.Core.MaxWalkSteps < 1 {
		return fmt.Errorf("core: max_walk_steps must be positive, got %d", c.Core.MaxWalkSteps)
	}
	if c.Core.DatabasePath == "" || c.Core.ModelPath == "" {
		return errors.New("core: database_path and model_path are required")
	}
	if _, err := parseLogLevel(c.Core.LogLevel); err != nil {
		return fmt.Errorf("core: %w", err)
	}
	if err := c.ResponseSettings().Validate(); err != nil {
		return fmt.Errorf("bot: %w", err)
	}
	return nil
}

// LoadConfig reads the configuration from a YAML file at the given path.
// If the file doesn't exist, it creates one with default values.
func LoadConfig(path string) (*Config, error) {
	config := DefaultConfig()

	file, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			if err = writeConfig(path, config); err != nil {
				// The defaults are still usable without a file on disk.
				fmt.Fprintf(os.Stderr, "warning: failed to write default config file: %v\n", err)
			}
			return config, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err = yaml.Unmarshal(file, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err = config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", path, err)
	}
	return config, nil
}

func writeConfig(path string, config *Config) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err = os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return atomic.WriteFile(path, bytes.NewReader(data))
}

// ConfigManager handles thread-safe access to the configuration. The response
// settings can change at runtime; everything else is fixed at startup.
type ConfigManager struct {
	config     *Config
	mu         sync.RWMutex
	configPath string
	logger     *slog.Logger
}

// NewConfigManager wraps an already loaded configuration.
func NewConfigManager(path string, config *Config, logger *slog.Logger) *ConfigManager {
	return &ConfigManager{
		config:     config,
		configPath: path,
		logger:     logger,
	}
}

// Get returns a copy of the current configuration.
func (cm *ConfigManager) Get() Config {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return *cm.config
}

// ResponseSettings returns a snapshot of the current response settings.
func (cm *ConfigManager) ResponseSettings() markov.ResponseSettings {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.config.ResponseSettings()
}

// UpdateResponseSettings validates and applies new response settings, then saves
// the configuration to disk. The new settings stay live even if saving fails.
func (cm *ConfigManager) UpdateResponseSettings(settings markov.ResponseSettings) error {
	if err := settings.Validate(); err != nil {
		return err
	}

	cm.mu.Lock()
	defer cm.mu.Unlock()

	cm.config.Bot.ResponseChance = settings.ResponseChance
	cm.config.Bot.Muted = settings.Muted

	cm.logger.Info("Response settings updated",
		slog.Float64("response_chance", settings.ResponseChance),
		slog.Bool("muted", settings.Muted),
	)

	if err := writeConfig(cm.configPath, cm.config); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
