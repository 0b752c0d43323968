package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/CTAG07/Babbler/pkg/markov"
	"github.com/google/go-cmp/cmp"
)

func TestLoadConfigCreatesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "config.yaml")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if diff := cmp.Diff(DefaultConfig(), cfg); diff != "" {
		t.Errorf("LoadConfig() mismatch (-want +got):\n%s", diff)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("default config file was not written: %v", err)
	}

	// The written file must load back to the same values.
	again, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("second LoadConfig() error = %v", err)
	}
	if diff := cmp.Diff(cfg, again); diff != "" {
		t.Errorf("reloaded config mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
core:
  k_min: 1
  k_max: 3
  log_level: debug
bot:
  listen_addr: "127.0.0.1:9000"
  response_chance: 1
  admin_token: secret
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	want := DefaultConfig()
	want.Core.KMin = 1
	want.Core.KMax = 3
	want.Core.LogLevel = "debug"
	want.Bot.ListenAddr = "127.0.0.1:9000"
	want.Bot.ResponseChance = 1
	want.Bot.AdminToken = "secret"
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Errorf("LoadConfig() mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadConfigRejectsInvalid(t *testing.T) {
	testCases := []struct {
		name    string
		content string
		wantErr string
	}{
		{"Bad YAML", "core: [", "failed to parse"},
		{"Zero k_min", "core:\n  k_min: 0\n", "k_min"},
		{"Inverted range", "core:\n  k_min: 4\n  k_max: 2\n", "k_max"},
		{"Negative factor", "core:\n  min_sentence_factor: -1\n", "min_sentence_factor"},
		{"Zero walk steps", "core:\n  max_walk_steps: 0\n", "max_walk_steps"},
		{"Unknown log level", "core:\n  log_level: loud\n", "log level"},
		{"Chance above one", "bot:\n  response_chance: 1.5\n", "response chance"},
		{"Empty model path", "core:\n  model_path: \"\"\n", "model_path"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			if err := os.WriteFile(path, []byte(tc.content), 0o644); err != nil {
				t.Fatal(err)
			}
			_, err := LoadConfig(path)
			if err == nil {
				t.Fatal("LoadConfig() succeeded, want error")
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("LoadConfig() error = %q, want it to mention %q", err, tc.wantErr)
			}
		})
	}
}

func TestConfigParams(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Core.KMin, cfg.Core.KMax, cfg.Core.TargetSentenceLength = 1, 4, 9

	want := markov.Params{KMin: 1, KMax: 4, TargetSentenceLength: 9}
	if diff := cmp.Diff(want, cfg.Params()); diff != "" {
		t.Errorf("Params() mismatch (-want +got):\n%s", diff)
	}
}

func TestUpdateResponseSettings(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	cm := NewConfigManager(path, cfg, discardLogger())

	want := markov.ResponseSettings{ResponseChance: 0.75, Muted: true}
	if err := cm.UpdateResponseSettings(want); err != nil {
		t.Fatalf("UpdateResponseSettings() error = %v", err)
	}
	if diff := cmp.Diff(want, cm.ResponseSettings()); diff != "" {
		t.Errorf("live settings mismatch (-want +got):\n%s", diff)
	}

	saved, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() after update error = %v", err)
	}
	if diff := cmp.Diff(want, saved.ResponseSettings()); diff != "" {
		t.Errorf("saved settings mismatch (-want +got):\n%s", diff)
	}

	t.Run("Invalid settings are rejected", func(t *testing.T) {
		if err := cm.UpdateResponseSettings(markov.ResponseSettings{ResponseChance: -0.1}); err == nil {
			t.Fatal("UpdateResponseSettings() succeeded, want error")
		}
		if diff := cmp.Diff(want, cm.ResponseSettings()); diff != "" {
			t.Errorf("settings changed after a rejected update (-want +got):\n%s", diff)
		}
	})
}
