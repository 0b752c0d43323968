package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"
)

const fishCorpus = "one fish two fish. red fish blue fish.\nthe old cat sat on the mat.\n"

// discardLogger returns a logger that drops everything.
func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testConfig returns a configuration whose files all live in a fresh temporary
// directory and which keeps every sentence of a small corpus.
func testConfig(t *testing.T) *Config {
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.Core.DatabasePath = filepath.Join(dir, "data", "babbler.db")
	cfg.Core.ModelPath = filepath.Join(dir, "data", "model.json")
	cfg.Core.KMin = 1
	cfg.Core.KMax = 3
	cfg.Core.MinSentenceFactor = 0
	cfg.Core.LogLevel = "error"
	cfg.Bot.ResponseChance = 1
	return cfg
}

// writeTestConfig saves cfg next to its data files and returns the path.
func writeTestConfig(t *testing.T, cfg *Config) string {
	path := filepath.Join(filepath.Dir(filepath.Dir(cfg.Core.DatabasePath)), "config.yaml")
	data, err := yaml.Marshal(cfg)
	if err != nil {
		t.Fatalf("yaml.Marshal() error = %v", err)
	}
	if err = os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

// writeCorpus writes text to a file in a temporary directory.
func writeCorpus(t *testing.T, text string) string {
	path := filepath.Join(t.TempDir(), "corpus.txt")
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		t.Fatalf("failed to write corpus: %v", err)
	}
	return path
}

// trainTestModel trains the fish corpus into the store and model file of cfg.
func trainTestModel(t *testing.T, cfg *Config) {
	cm := NewConfigManager(filepath.Join(t.TempDir(), "config.yaml"), cfg, discardLogger())
	if err := runTrain(context.Background(), cm, discardLogger(), writeCorpus(t, fishCorpus)); err != nil {
		t.Fatalf("runTrain() error = %v", err)
	}
}

// nonEmptyLines splits s into lines, dropping empty ones.
func nonEmptyLines(s string) []string {
	var lines []string
	for _, line := range strings.Split(s, "\n") {
		if strings.TrimSpace(line) != "" {
			lines = append(lines, line)
		}
	}
	return lines
}
