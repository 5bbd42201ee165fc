package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/harrisonrobin/taskbell/pkg/scheduler"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Cooldown != 30*time.Minute || cfg.Settings().EvictAfter != 2*time.Hour || cfg.PollInterval != 15*time.Second {
		t.Errorf("Unexpected default durations: %v %v %v", cfg.Cooldown, cfg.Settings().EvictAfter, cfg.PollInterval)
	}
	if !cfg.InApp || cfg.CooldownPolicy != string(scheduler.CooldownOnSuccess) {
		t.Errorf("Unexpected defaults: %+v", cfg)
	}
	if len(cfg.Exclude) != 1 || cfg.Exclude[0] != "excalidraw" {
		t.Errorf("Expected default exclude [excalidraw], got %v", cfg.Exclude)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `vault_path: /notes/My Vault
cooldown: 5m
poll_interval: 1m
enable_in_app_notifications: false
subscriptions:
  - tag: "#Work"
    target: chan-work
  - tag: home
    target: gcal:Family
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.VaultName != "My Vault" {
		t.Errorf("Expected vault name from path, got %q", cfg.VaultName)
	}
	if cfg.Cooldown != 5*time.Minute || cfg.PollInterval != time.Minute {
		t.Errorf("Unexpected durations: %v %v", cfg.Cooldown, cfg.PollInterval)
	}
	if cfg.InApp {
		t.Error("Expected in-app notifications to be disabled")
	}

	subs := cfg.SubscriptionMap()
	if subs["#Work"] != "chan-work" {
		t.Errorf("Expected tag case to be preserved, got %v", subs)
	}
	if subs["#home"] != "gcal:Family" {
		t.Errorf("Expected home to be normalized to #home, got %v", subs)
	}
}

func TestLoadEnvironmentOverride(t *testing.T) {
	t.Setenv("TASKBELL_VAULT_PATH", "/from/env")
	t.Setenv("TASKBELL_COOLDOWN", "1h")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.VaultPath != "/from/env" || cfg.Cooldown != time.Hour {
		t.Errorf("Expected env overrides, got %q %v", cfg.VaultPath, cfg.Cooldown)
	}
}

func TestSaveThenLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.yaml")
	cfg := DefaultConfig()
	cfg.VaultPath = "/notes"
	cfg.Cooldown = 45 * time.Minute
	cfg.Subscribe("task", "chan1")

	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.Cooldown != 45*time.Minute {
		t.Errorf("Expected cooldown 45m, got %v", loaded.Cooldown)
	}
	if loaded.SubscriptionMap()["#task"] != "chan1" {
		t.Errorf("Expected #task subscription, got %v", loaded.Subscriptions)
	}
}

func TestSubscribeAndUnsubscribe(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Subscribe("work", "a"); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	cfg.Subscribe("#work", "b")
	if len(cfg.Subscriptions) != 1 || cfg.Subscriptions[0].Target != "b" {
		t.Errorf("Expected #work to be replaced, got %+v", cfg.Subscriptions)
	}
	if err := cfg.Subscribe("", "x"); !errors.Is(err, ErrInvalid) {
		t.Errorf("Expected ErrInvalid, got %v", err)
	}

	if !cfg.Unsubscribe("work") {
		t.Error("Expected unsubscribe to remove #work")
	}
	if cfg.Unsubscribe("work") {
		t.Error("Expected second unsubscribe to report nothing removed")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		valid  bool
	}{
		{"ok", func(c *Config) {}, true},
		{"no vault", func(c *Config) { c.VaultPath = "" }, false},
		{"bad policy", func(c *Config) { c.CooldownPolicy = "sometimes" }, false},
		{"zero interval", func(c *Config) { c.PollInterval = 0 }, false},
		{"empty target", func(c *Config) { c.Subscriptions = []Subscription{{Tag: "#a"}} }, false},
		{"evict shorter than cooldown", func(c *Config) {
			c.Cooldown = 24 * time.Hour
			c.EvictAfter = 2 * time.Hour
		}, false},
		{"evict equals cooldown", func(c *Config) {
			c.Cooldown = 24 * time.Hour
			c.EvictAfter = 24 * time.Hour
		}, true},
		{"long cooldown derived evict", func(c *Config) { c.Cooldown = 24 * time.Hour }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.VaultPath = "/notes"
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.valid && err != nil {
				t.Errorf("Expected valid config, got %v", err)
			}
			if !tt.valid && !errors.Is(err, ErrInvalid) {
				t.Errorf("Expected ErrInvalid, got %v", err)
			}
		})
	}
}

func TestSettings(t *testing.T) {
	cfg := DefaultConfig()
	cfg.VaultName = "v"
	cfg.CooldownPolicy = string(scheduler.CooldownAlways)
	cfg.Subscribe("task", "chan1")

	s := cfg.Settings()
	if s.Policy != scheduler.CooldownAlways || s.VaultName != "v" || s.Subscriptions["#task"] != "chan1" {
		t.Errorf("Unexpected settings: %+v", s)
	}
}

func TestEvictAfterFollowsCooldown(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("vault_path: /notes\ncooldown: 24h\n"), 0600); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got := cfg.Settings().EvictAfter; got != 96*time.Hour {
		t.Errorf("Expected evict_after 96h, got %v", got)
	}

	// Saving keeps evict_after unset, so a later cooldown change still moves it.
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	cfg, err = Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	cfg.Cooldown = 48 * time.Hour
	if got := cfg.Settings().EvictAfter; got != 192*time.Hour {
		t.Errorf("Expected evict_after 192h, got %v", got)
	}
}
