// Package config provides YAML-based configuration loading for Switchboard.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the top-level Switchboard configuration, loaded from
// switchboard.yaml.
type Config struct {
	Transport TransportConfig `yaml:"transport"`
	Hours     HoursConfig     `yaml:"business_hours"`
	HTTP      HTTPConfig      `yaml:"http"`
	Rules     []RuleConfig    `yaml:"rules"`
	Resources ResourcesConfig `yaml:"resources"`
	DB        DBConfig        `yaml:"db"`
	Log       LogConfig       `yaml:"log"`
	Digest    DigestConfig    `yaml:"digest"`
}

// TransportConfig selects and configures the chat platform adapter.
type TransportConfig struct {
	Platform    string `yaml:"platform"`     // "discord" or "slack"
	BotToken    string `yaml:"bot_token"`    // platform bot token
	AppToken    string `yaml:"app_token"`    // slack app-level token (socket mode)
	ChannelID   string `yaml:"channel_id"`   // default channel for ops messages
	SessionPath string `yaml:"session_path"` // on-disk session store directory
}

// HoursConfig is the daily business-hours window in local wall-clock hours.
type HoursConfig struct {
	StartHour int `yaml:"start_hour"`
	EndHour   int `yaml:"end_hour"`
}

// HTTPConfig configures the outbound-delivery HTTP boundary.
type HTTPConfig struct {
	Port int        `yaml:"port"`
	Auth AuthConfig `yaml:"auth"`
}

// AuthConfig holds the API credentials checked by the delivery pipeline.
// PasswordHash is a bcrypt hash produced by `switchboard auth set-password`.
// An empty hash disables the credential check (logged as a warning).
type AuthConfig struct {
	Login        string `yaml:"login"`
	PasswordHash string `yaml:"password_hash"`
}

// RuleConfig defines one auto-reply rule evaluated against inbound
// message text. Either Equals or Pattern must be set.
type RuleConfig struct {
	Name      string   `yaml:"name"`
	Equals    []string `yaml:"equals"`    // case-insensitive exact matches
	Pattern   string   `yaml:"pattern"`   // case-insensitive regexp
	Responses []string `yaml:"responses"` // one chosen at random at dispatch time
	DelaySec  int      `yaml:"delay_sec"` // reply delay in seconds
}

// ResourcesConfig holds the resource governor thresholds.
type ResourcesConfig struct {
	MemoryLimitMB    float64 `yaml:"memory_limit_mb"`
	CPULoadLimit     float64 `yaml:"cpu_load_limit"`
	SampleIntervalMS int     `yaml:"sample_interval_ms"`
	RegistrationLRU  int     `yaml:"registration_cache_size"`
}

// DBConfig selects the audit database backend.
type DBConfig struct {
	Driver string `yaml:"driver"` // "sqlite" or "mysql"
	DSN    string `yaml:"dsn"`    // sqlite file path or mysql DSN
}

// LogConfig configures the append-only log file mirrored to the console.
type LogConfig struct {
	File string `yaml:"file"`
}

// DigestConfig schedules the daily delivery digest. Cron is a 5-field
// cron expression; To is the contact that receives the digest.
type DigestConfig struct {
	Enabled bool   `yaml:"enabled"`
	Cron    string `yaml:"cron"`
	To      string `yaml:"to"`
}

// Load reads a YAML config file from path and returns a validated Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.Hours.StartHour == 0 && c.Hours.EndHour == 0 {
		c.Hours.StartHour = 8
		c.Hours.EndHour = 19
	}
	if c.HTTP.Port == 0 {
		c.HTTP.Port = 8000
	}
	if c.Transport.SessionPath == "" {
		c.Transport.SessionPath = "./sessions"
	}
	if c.Resources.MemoryLimitMB == 0 {
		c.Resources.MemoryLimitMB = 100
	}
	if c.Resources.CPULoadLimit == 0 {
		c.Resources.CPULoadLimit = 2.0
	}
	if c.Resources.SampleIntervalMS == 0 {
		c.Resources.SampleIntervalMS = 2000
	}
	if c.Resources.RegistrationLRU == 0 {
		c.Resources.RegistrationLRU = 1024
	}
	if c.DB.Driver == "" {
		c.DB.Driver = "sqlite"
	}
	if c.DB.Driver == "sqlite" && c.DB.DSN == "" {
		c.DB.DSN = "switchboard.db"
	}
	if c.Log.File == "" {
		c.Log.File = "switchboard.log"
	}
	if len(c.Rules) == 0 {
		c.Rules = DefaultRules()
	}
}

// DefaultRules returns the stock auto-reply rules: the greeting rule and
// the pix information rule.
func DefaultRules() []RuleConfig {
	return []RuleConfig{
		{
			Name:      "greeting",
			Equals:    []string{"jaco"},
			Responses: []string{"Oi"},
			DelaySec:  30,
		},
		{
			Name:    "pix",
			Pattern: ".*pix.*",
			Responses: []string{
				"Chave Pix Telefone: 85985304415 - Nome: Jaco Leone Amorim Melo - Inst: Caixa Economica Federal",
			},
			DelaySec: 10,
		},
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	switch c.Transport.Platform {
	case "discord", "slack":
	case "":
		errs = append(errs, "transport.platform is required")
	default:
		errs = append(errs, fmt.Sprintf("transport.platform %q is not supported (discord, slack)", c.Transport.Platform))
	}
	if c.Hours.StartHour < 0 || c.Hours.StartHour > 23 {
		errs = append(errs, "business_hours.start_hour must be in [0, 23]")
	}
	if c.Hours.EndHour < 0 || c.Hours.EndHour > 24 {
		errs = append(errs, "business_hours.end_hour must be in [0, 24]")
	}
	if c.Hours.EndHour <= c.Hours.StartHour {
		errs = append(errs, "business_hours.end_hour must be after start_hour")
	}
	switch c.DB.Driver {
	case "sqlite", "mysql":
	default:
		errs = append(errs, fmt.Sprintf("db.driver %q is not supported (sqlite, mysql)", c.DB.Driver))
	}
	if c.DB.Driver == "mysql" && c.DB.DSN == "" {
		errs = append(errs, "db.dsn is required for the mysql driver")
	}
	for i, r := range c.Rules {
		if r.Name == "" {
			errs = append(errs, fmt.Sprintf("rules[%d].name is required", i))
		}
		if len(r.Equals) == 0 && r.Pattern == "" {
			errs = append(errs, fmt.Sprintf("rules[%d] needs equals or pattern", i))
		}
		if len(r.Responses) == 0 {
			errs = append(errs, fmt.Sprintf("rules[%d].responses is required", i))
		}
		if r.DelaySec < 0 {
			errs = append(errs, fmt.Sprintf("rules[%d].delay_sec must not be negative", i))
		}
	}
	if c.Digest.Enabled {
		if c.Digest.Cron == "" {
			errs = append(errs, "digest.cron is required when digest is enabled")
		}
		if c.Digest.To == "" {
			errs = append(errs, "digest.to is required when digest is enabled")
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
