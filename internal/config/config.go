// Package config loads the agent's YAML configuration. Secrets never live in
// the file; ApplyEnv fills them from MOLTY_* variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"moltyagent.ai/internal/agent"
	"moltyagent.ai/internal/gameapi"
	"moltyagent.ai/internal/identity"
	"moltyagent.ai/internal/session"
	"moltyagent.ai/internal/strategy"
)

type Config struct {
	API       APIConfig           `yaml:"api"`
	Pool      PoolConfig          `yaml:"pool"`
	Discovery DiscoveryConfig     `yaml:"discovery"`
	Cooldowns CooldownConfig      `yaml:"cooldowns"`
	Strategy  strategy.Thresholds `yaml:"strategy"`
	Telegram  TelegramConfig      `yaml:"telegram"`
	Backup    BackupConfig        `yaml:"backup"`
	EventLog  EventLogConfig      `yaml:"event_log"`
	Observer  ObserverConfig      `yaml:"observer"`
}

type APIConfig struct {
	BaseURL   string `yaml:"base_url"`
	HostName  string `yaml:"host_name"`
	TimeoutMs int    `yaml:"timeout_ms"`
}

type PoolConfig struct {
	// Driver is "file" (JSON array) or "sqlite".
	Driver       string   `yaml:"driver"`
	Path         string   `yaml:"path"`
	ExportName   string   `yaml:"export_name"`
	NamePrefixes []string `yaml:"name_prefixes"`
}

type DiscoveryConfig struct {
	RetryMs                       int  `yaml:"retry_ms"`
	RetryJitterMs                 int  `yaml:"retry_jitter_ms"`
	NetworkRetryMs                int  `yaml:"network_retry_ms"`
	NetworkRetryJitterMs          int  `yaml:"network_retry_jitter_ms"`
	NoGamesMs                     int  `yaml:"no_games_ms"`
	DeadSeatMs                    int  `yaml:"dead_seat_ms"`
	RegistrationSyncMs            int  `yaml:"registration_sync_ms"`
	StateRetryMs                  int  `yaml:"state_retry_ms"`
	WaitingPollMs                 int  `yaml:"waiting_poll_ms"`
	RetryCandidatesAfterRateLimit bool `yaml:"retry_candidates_after_rate_limit"`
	// PaidEntry also admits matches whose entry type is not free.
	PaidEntry bool `yaml:"paid_entry"`
}

type CooldownConfig struct {
	MajorMs        int `yaml:"major_ms"`
	MajorJitterMs  int `yaml:"major_jitter_ms"`
	MinorMs        int `yaml:"minor_ms"`
	AlreadyActedMs int `yaml:"already_acted_ms"`
	ActionFailedMs int `yaml:"action_failed_ms"`
	RotationMs     int `yaml:"rotation_ms"`
	CycleRestartMs int `yaml:"cycle_restart_ms"`
}

type TelegramConfig struct {
	Token   string `yaml:"-"`
	ChatID  string `yaml:"-"`
	BaseURL string `yaml:"base_url"`
	// Queue bounds the async notification queue.
	Queue int `yaml:"queue"`
}

func (t TelegramConfig) Enabled() bool { return t.Token != "" && t.ChatID != "" }

type BackupConfig struct {
	Endpoint  string `yaml:"endpoint"`
	Bucket    string `yaml:"bucket"`
	Prefix    string `yaml:"prefix"`
	AccessKey string `yaml:"-"`
	SecretKey string `yaml:"-"`
}

func (b BackupConfig) Enabled() bool {
	return b.Endpoint != "" && b.Bucket != "" && b.AccessKey != "" && b.SecretKey != ""
}

type EventLogConfig struct {
	Dir string `yaml:"dir"`
}

type ObserverConfig struct {
	Addr string `yaml:"addr"`
	// AllowRemote lifts the loopback-only restriction on the feed.
	AllowRemote bool `yaml:"allow_remote"`
}

func Defaults() Config {
	return Config{
		API: APIConfig{
			BaseURL:   gameapi.DefaultBaseURL,
			HostName:  gameapi.DefaultHostName,
			TimeoutMs: 30000,
		},
		Pool: PoolConfig{
			Driver:       "file",
			Path:         "dynamic_accounts.json",
			ExportName:   "dynamic_accounts.json",
			NamePrefixes: append([]string(nil), identity.DefaultNamePrefixes...),
		},
		Discovery: DiscoveryConfig{
			RetryMs:              2000,
			RetryJitterMs:        2000,
			NetworkRetryMs:       2000,
			NetworkRetryJitterMs: 2000,
			NoGamesMs:            3000,
			DeadSeatMs:           5000,
			RegistrationSyncMs:   500,
			StateRetryMs:         2000,
			WaitingPollMs:        3000,
		},
		Cooldowns: CooldownConfig{
			MajorMs:        5500,
			MajorJitterMs:  3000,
			MinorMs:        500,
			AlreadyActedMs: 3000,
			ActionFailedMs: 5000,
			RotationMs:     10000,
			CycleRestartMs: 10000,
		},
		Strategy: strategy.DefaultThresholds(),
		Telegram: TelegramConfig{Queue: 64},
		Backup:   BackupConfig{Prefix: "moltyagent"},
	}
}

// Load reads path over Defaults. An empty path yields the defaults.
func Load(path string) (Config, error) {
	cfg := Defaults()
	if strings.TrimSpace(path) != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("%s: %w", path, err)
		}
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("%s: %w", displayPath(path), err)
	}
	return cfg, nil
}

func displayPath(p string) string {
	if p == "" {
		return "config"
	}
	return p
}

// ApplyEnv copies secrets from the environment. lookup is os.LookupEnv in
// production.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	set := func(dst *string, key string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	set(&c.Telegram.Token, "MOLTY_TELEGRAM_BOT_TOKEN")
	set(&c.Telegram.ChatID, "MOLTY_TELEGRAM_CHAT_ID")
	set(&c.Backup.Endpoint, "MOLTY_R2_ENDPOINT")
	set(&c.Backup.Bucket, "MOLTY_R2_BUCKET")
	set(&c.Backup.Prefix, "MOLTY_R2_PREFIX")
	set(&c.Backup.AccessKey, "MOLTY_R2_ACCESS_KEY_ID")
	set(&c.Backup.SecretKey, "MOLTY_R2_SECRET_ACCESS_KEY")
	set(&c.API.BaseURL, "MOLTY_API_BASE_URL")
}

func (c *Config) Normalize() {
	c.Pool.Driver = strings.ToLower(strings.TrimSpace(c.Pool.Driver))
	c.Backup.Prefix = strings.Trim(strings.TrimSpace(c.Backup.Prefix), "/")
	if len(c.Pool.NamePrefixes) == 0 {
		c.Pool.NamePrefixes = append([]string(nil), identity.DefaultNamePrefixes...)
	}
	if c.Pool.ExportName == "" {
		c.Pool.ExportName = "dynamic_accounts.json"
	}
}

func (c Config) Validate() error {
	var errs []error
	if c.API.BaseURL == "" {
		errs = append(errs, errors.New("api.base_url is required"))
	}
	switch c.Pool.Driver {
	case "file", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("pool.driver %q: want file or sqlite", c.Pool.Driver))
	}
	if c.Pool.Path == "" {
		errs = append(errs, errors.New("pool.path is required"))
	}

	ms := map[string]int{
		"api.timeout_ms":                    c.API.TimeoutMs,
		"discovery.retry_ms":                c.Discovery.RetryMs,
		"discovery.retry_jitter_ms":         c.Discovery.RetryJitterMs,
		"discovery.network_retry_ms":        c.Discovery.NetworkRetryMs,
		"discovery.network_retry_jitter_ms": c.Discovery.NetworkRetryJitterMs,
		"discovery.no_games_ms":             c.Discovery.NoGamesMs,
		"discovery.dead_seat_ms":            c.Discovery.DeadSeatMs,
		"discovery.registration_sync_ms":    c.Discovery.RegistrationSyncMs,
		"discovery.state_retry_ms":          c.Discovery.StateRetryMs,
		"discovery.waiting_poll_ms":         c.Discovery.WaitingPollMs,
		"cooldowns.major_ms":                c.Cooldowns.MajorMs,
		"cooldowns.major_jitter_ms":         c.Cooldowns.MajorJitterMs,
		"cooldowns.minor_ms":                c.Cooldowns.MinorMs,
		"cooldowns.already_acted_ms":        c.Cooldowns.AlreadyActedMs,
		"cooldowns.action_failed_ms":        c.Cooldowns.ActionFailedMs,
		"cooldowns.rotation_ms":             c.Cooldowns.RotationMs,
		"cooldowns.cycle_restart_ms":        c.Cooldowns.CycleRestartMs,
	}
	for _, k := range sortedKeys(ms) {
		if ms[k] < 0 {
			errs = append(errs, fmt.Errorf("%s must be >= 0", k))
		}
	}
	if c.Cooldowns.RotationMs == 0 {
		errs = append(errs, errors.New("cooldowns.rotation_ms must be > 0"))
	}

	s := c.Strategy
	if s.HealFraction <= 0 || s.HealFraction > 1 {
		errs = append(errs, fmt.Errorf("strategy.heal_fraction %v: want (0, 1]", s.HealFraction))
	}
	if s.InventoryCap <= 0 {
		errs = append(errs, errors.New("strategy.inventory_cap must be > 0"))
	}
	if (c.Telegram.Token == "") != (c.Telegram.ChatID == "") {
		errs = append(errs, errors.New("telegram needs both MOLTY_TELEGRAM_BOT_TOKEN and MOLTY_TELEGRAM_CHAT_ID"))
	}
	return errors.Join(errs...)
}

func (c Config) APIConfig() gameapi.Config {
	return gameapi.Config{
		BaseURL:  c.API.BaseURL,
		HostName: c.API.HostName,
		Timeout:  millis(c.API.TimeoutMs),
	}
}

func (c Config) Session() session.Config {
	d := c.Discovery
	cfg := session.Config{
		Timings: session.Timings{
			DiscoveryRetry:       millis(d.RetryMs),
			DiscoveryRetryJitter: millis(d.RetryJitterMs),
			NetworkRetry:         millis(d.NetworkRetryMs),
			NetworkRetryJitter:   millis(d.NetworkRetryJitterMs),
			NoGames:              millis(d.NoGamesMs),
			DeadSeat:             millis(d.DeadSeatMs),
			RegistrationSync:     millis(d.RegistrationSyncMs),
			StateRetry:           millis(d.StateRetryMs),
			WaitingPoll:          millis(d.WaitingPollMs),
		},
		RetryCandidatesAfterRateLimit: d.RetryCandidatesAfterRateLimit,
	}
	if d.PaidEntry {
		cfg.Free = func(gameapi.Game) bool { return true }
	}
	return cfg
}

func (c Config) AgentCooldowns() agent.Cooldowns {
	cd := c.Cooldowns
	return agent.Cooldowns{
		Major:        millis(cd.MajorMs),
		MajorJitter:  millis(cd.MajorJitterMs),
		Minor:        millis(cd.MinorMs),
		AlreadyActed: millis(cd.AlreadyActedMs),
		ActionFailed: millis(cd.ActionFailedMs),
		Rotation:     millis(cd.RotationMs),
		CycleRestart: millis(cd.CycleRestartMs),
	}
}

func millis(ms int) time.Duration { return time.Duration(ms) * time.Millisecond }

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
