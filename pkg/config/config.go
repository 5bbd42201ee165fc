// Package config loads and saves the taskbell configuration file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/harrisonrobin/taskbell/pkg/model"
	"github.com/harrisonrobin/taskbell/pkg/scheduler"
)

const (
	xdgAppName = "taskbell"
	configFile = "config.yaml"
	envPrefix  = "TASKBELL"
)

// evictAfterFactor derives evict_after from cooldown when it is left unset.
const evictAfterFactor = 4

// ErrInvalid is wrapped by every validation error.
var ErrInvalid = errors.New("invalid configuration")

// Subscription routes tasks carrying Tag to Target.
type Subscription struct {
	Tag    string `mapstructure:"tag" yaml:"tag"`
	Target string `mapstructure:"target" yaml:"target"`
}

type Config struct {
	VaultPath      string         `mapstructure:"vault_path" yaml:"vault_path"`
	VaultName      string         `mapstructure:"vault_name" yaml:"vault_name,omitempty"`
	Exclude        []string       `mapstructure:"exclude" yaml:"exclude"`
	Subscriptions  []Subscription `mapstructure:"subscriptions" yaml:"subscriptions"`
	Cooldown       time.Duration  `mapstructure:"cooldown" yaml:"-"`
	EvictAfter     time.Duration  `mapstructure:"evict_after" yaml:"-"`
	CooldownPolicy string         `mapstructure:"cooldown_policy" yaml:"cooldown_policy"`
	CooldownFile   string         `mapstructure:"cooldown_file" yaml:"cooldown_file,omitempty"`
	PollInterval   time.Duration  `mapstructure:"poll_interval" yaml:"-"`
	InApp          bool           `mapstructure:"enable_in_app_notifications" yaml:"enable_in_app_notifications"`
	NtfyServer     string         `mapstructure:"ntfy_server" yaml:"ntfy_server"`
	RequestTimeout time.Duration  `mapstructure:"request_timeout" yaml:"-"`
	Workers        int            `mapstructure:"workers" yaml:"workers"`
	HistoryDB      string         `mapstructure:"history_db" yaml:"history_db"`
	Listen         string         `mapstructure:"listen" yaml:"listen,omitempty"`
	CredentialsDir string         `mapstructure:"credentials_dir" yaml:"credentials_dir"`
	CalendarIndex  string         `mapstructure:"calendar_index" yaml:"calendar_index"`
	CalendarColors string         `mapstructure:"calendar_colors" yaml:"calendar_colors"`
}

// DefaultConfig returns the configuration used when no file exists.
func DefaultConfig() *Config {
	dir, _ := Dir()
	return &Config{
		Exclude:        []string{"excalidraw"},
		Cooldown:       30 * time.Minute,
		CooldownPolicy: string(scheduler.CooldownOnSuccess),
		PollInterval:   15 * time.Second,
		InApp:          true,
		NtfyServer:     "https://ntfy.sh",
		RequestTimeout: 10 * time.Second,
		Workers:        4,
		HistoryDB:      filepath.Join(dir, "history.db"),
		CredentialsDir: dir,
		CalendarIndex:  filepath.Join(dir, "events.json"),
		CalendarColors: filepath.Join(dir, "colors.json"),
	}
}

// Dir returns ~/.config/taskbell.
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", xdgAppName), nil
}

func GetConfigPath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, configFile), nil
}

// Load reads path on top of the defaults. A missing file is not an error. Environment
// variables such as TASKBELL_VAULT_PATH override file values.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	setDefaults(v, cfg)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			v.SetConfigType("yaml")
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("failed to read config %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, err
		}
	}

	hooks := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		durationHook(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(cfg, hooks); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.VaultPath = expandHome(cfg.VaultPath)
	cfg.CooldownFile = expandHome(cfg.CooldownFile)
	cfg.HistoryDB = expandHome(cfg.HistoryDB)
	cfg.CredentialsDir = expandHome(cfg.CredentialsDir)
	cfg.CalendarIndex = expandHome(cfg.CalendarIndex)
	cfg.CalendarColors = expandHome(cfg.CalendarColors)
	if cfg.VaultName == "" && cfg.VaultPath != "" {
		cfg.VaultName = filepath.Base(filepath.Clean(cfg.VaultPath))
	}
	return cfg, nil
}

// setDefaults registers every key so that AutomaticEnv can override values missing from
// the file.
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("vault_path", cfg.VaultPath)
	v.SetDefault("vault_name", cfg.VaultName)
	v.SetDefault("exclude", cfg.Exclude)
	v.SetDefault("cooldown", cfg.Cooldown)
	v.SetDefault("evict_after", cfg.EvictAfter)
	v.SetDefault("cooldown_policy", cfg.CooldownPolicy)
	v.SetDefault("cooldown_file", cfg.CooldownFile)
	v.SetDefault("poll_interval", cfg.PollInterval)
	v.SetDefault("enable_in_app_notifications", cfg.InApp)
	v.SetDefault("ntfy_server", cfg.NtfyServer)
	v.SetDefault("request_timeout", cfg.RequestTimeout)
	v.SetDefault("workers", cfg.Workers)
	v.SetDefault("history_db", cfg.HistoryDB)
	v.SetDefault("listen", cfg.Listen)
	v.SetDefault("credentials_dir", cfg.CredentialsDir)
	v.SetDefault("calendar_index", cfg.CalendarIndex)
	v.SetDefault("calendar_colors", cfg.CalendarColors)
}

// fileConfig is the on-disk shape: durations are written as strings like "30m0s".
type fileConfig struct {
	Config         `yaml:",inline"`
	Cooldown       string `yaml:"cooldown"`
	EvictAfter     string `yaml:"evict_after,omitempty"`
	PollInterval   string `yaml:"poll_interval"`
	RequestTimeout string `yaml:"request_timeout"`
}

// Save writes cfg to path as YAML.
func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	out, err := yaml.Marshal(fileConfig{
		Config:         *cfg,
		Cooldown:       cfg.Cooldown.String(),
		EvictAfter:     formatOptional(cfg.EvictAfter),
		PollInterval:   cfg.PollInterval.String(),
		RequestTimeout: cfg.RequestTimeout.String(),
	})
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := os.WriteFile(path, out, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// Validate checks the fields a tick depends on.
func (c *Config) Validate() error {
	if c.VaultPath == "" {
		return fmt.Errorf("%w: vault_path is not set", ErrInvalid)
	}
	if c.Cooldown < 0 || c.EvictAfter < 0 {
		return fmt.Errorf("%w: durations must not be negative", ErrInvalid)
	}
	if c.EvictAfter != 0 && c.EvictAfter < c.Cooldown {
		return fmt.Errorf("%w: evict_after (%s) must not be shorter than cooldown (%s)", ErrInvalid, c.EvictAfter, c.Cooldown)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("%w: poll_interval must be positive", ErrInvalid)
	}
	switch scheduler.CooldownPolicy(c.CooldownPolicy) {
	case scheduler.CooldownOnSuccess, scheduler.CooldownAlways:
	default:
		return fmt.Errorf("%w: unknown cooldown_policy %q", ErrInvalid, c.CooldownPolicy)
	}
	for _, s := range c.Subscriptions {
		if s.Target == "" {
			return fmt.Errorf("%w: subscription %s has no target", ErrInvalid, s.Tag)
		}
	}
	return nil
}

// NormalizeTag prefixes tag with "#" unless it already has one.
func NormalizeTag(tag string) string {
	tag = strings.TrimSpace(tag)
	if tag == "" || strings.HasPrefix(tag, "#") {
		return tag
	}
	return "#" + tag
}

// Subscribe adds or replaces the subscription for tag.
func (c *Config) Subscribe(tag, target string) error {
	tag = NormalizeTag(tag)
	if tag == "" || target == "" {
		return fmt.Errorf("%w: tag and target are required", ErrInvalid)
	}
	for i := range c.Subscriptions {
		if NormalizeTag(c.Subscriptions[i].Tag) == tag {
			c.Subscriptions[i] = Subscription{Tag: tag, Target: target}
			return nil
		}
	}
	c.Subscriptions = append(c.Subscriptions, Subscription{Tag: tag, Target: target})
	sort.Slice(c.Subscriptions, func(i, j int) bool { return c.Subscriptions[i].Tag < c.Subscriptions[j].Tag })
	return nil
}

// Unsubscribe removes the subscription for tag and reports whether one existed.
func (c *Config) Unsubscribe(tag string) bool {
	tag = NormalizeTag(tag)
	for i := range c.Subscriptions {
		if NormalizeTag(c.Subscriptions[i].Tag) == tag {
			c.Subscriptions = append(c.Subscriptions[:i], c.Subscriptions[i+1:]...)
			return true
		}
	}
	return false
}

// SubscriptionMap returns the subscriptions keyed by normalized tag.
func (c *Config) SubscriptionMap() model.SubscriptionMap {
	m := make(model.SubscriptionMap, len(c.Subscriptions))
	for _, s := range c.Subscriptions {
		if tag := NormalizeTag(s.Tag); tag != "" {
			m[tag] = s.Target
		}
	}
	return m
}

// Settings converts the configuration into what a single tick needs.
func (c *Config) Settings() scheduler.Settings {
	return scheduler.Settings{
		Subscriptions: c.SubscriptionMap(),
		Cooldown:      c.Cooldown,
		EvictAfter:    c.evictAfter(),
		Policy:        scheduler.CooldownPolicy(c.CooldownPolicy),
		InApp:         c.InApp,
		VaultName:     c.VaultName,
		Exclude:       c.Exclude,
		Workers:       c.Workers,
	}
}

func expandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}

// evictAfter returns evict_after, or evictAfterFactor × cooldown when it is zero.
func (c *Config) evictAfter() time.Duration {
	if c.EvictAfter == 0 {
		return evictAfterFactor * c.Cooldown
	}
	return c.EvictAfter
}

func formatOptional(d time.Duration) string {
	if d == 0 {
		return ""
	}
	return d.String()
}
