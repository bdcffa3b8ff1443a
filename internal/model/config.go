package model

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Defaults applied by LoadConfig when a key is absent.
const (
	DefaultMailbox         = "[Gmail]/All Mail"
	DefaultIMAPPort        = "993"
	DefaultPollIntervalSec = 120
	DefaultBundlePrefix    = "bundles/"
	DefaultSentLabel       = "SENT"
	DefaultInboxLabel      = "INBOX"
	DefaultSpamLabel       = "SPAM"
)

// AccountConfig holds the connection settings for a single mailbox.
type AccountConfig struct {
	// Address is the account's email address and its key in the store.
	Address string `mapstructure:"address" yaml:"address"`

	IMAPHost string `mapstructure:"imap_host" yaml:"imap_host"`
	IMAPPort string `mapstructure:"imap_port" yaml:"imap_port"`

	// Mailbox is the IMAP folder synced for this account.
	Mailbox string `mapstructure:"mailbox" yaml:"mailbox"`

	// Enabled controls whether the poller syncs this account.
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// PollIntervalSec is how often (in seconds) to sync.
	PollIntervalSec int `mapstructure:"poll_interval_sec" yaml:"poll_interval_sec"`
}

// DatabaseConfig points at the local store file.
type DatabaseConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// BundleConfig controls how provider labels map onto bundles.
type BundleConfig struct {
	// Prefix is the private label namespace for bundle labels.
	Prefix     string `mapstructure:"prefix" yaml:"prefix"`
	SentLabel  string `mapstructure:"sent_label" yaml:"sent_label"`
	InboxLabel string `mapstructure:"inbox_label" yaml:"inbox_label"`
	SpamLabel  string `mapstructure:"spam_label" yaml:"spam_label"`
}

// LabelName returns the remote label backing the bundle called name.
func (c BundleConfig) LabelName(name string) string {
	return c.Prefix + name
}

// RunnerConfig tunes the task runner's retry policy.
type RunnerConfig struct {
	MaxRetries   int `mapstructure:"max_retries" yaml:"max_retries"`
	RetryDelayMs int `mapstructure:"retry_delay_ms" yaml:"retry_delay_ms"`
}

// GmailConfig holds the label/filter API client settings.
type GmailConfig struct {
	// CredentialsFile is the OAuth client JSON downloaded from the
	// provider console.
	CredentialsFile   string  `mapstructure:"credentials_file" yaml:"credentials_file"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second" yaml:"requests_per_second"`
}

// AppConfig is the top-level application configuration.
type AppConfig struct {
	Accounts []AccountConfig `mapstructure:"accounts" yaml:"accounts"`
	Database DatabaseConfig  `mapstructure:"database" yaml:"database"`
	Log      LogConfig       `mapstructure:"log" yaml:"log"`
	Bundles  BundleConfig    `mapstructure:"bundles" yaml:"bundles"`
	Runner   RunnerConfig    `mapstructure:"runner" yaml:"runner"`
	Gmail    GmailConfig     `mapstructure:"gmail" yaml:"gmail"`
}

// Account returns the configuration for address, if present.
func (c *AppConfig) Account(address string) (AccountConfig, bool) {
	for _, a := range c.Accounts {
		if strings.EqualFold(a.Address, address) {
			return a, true
		}
	}
	return AccountConfig{}, false
}

// DefaultConfigDir returns ~/.config/mailbundle.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "mailbundle")
}

// DefaultConfigPath returns the default path for the configuration file,
// located at ~/.config/mailbundle/config.yaml.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// defaultAppConfig returns a sensible default configuration.
func defaultAppConfig() *AppConfig {
	return &AppConfig{
		Accounts: []AccountConfig{},
		Database: DatabaseConfig{
			Path: filepath.Join(DefaultConfigDir(), "mail.db"),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		Bundles: BundleConfig{
			Prefix:     DefaultBundlePrefix,
			SentLabel:  DefaultSentLabel,
			InboxLabel: DefaultInboxLabel,
			SpamLabel:  DefaultSpamLabel,
		},
		Runner: RunnerConfig{
			MaxRetries:   1,
			RetryDelayMs: 500,
		},
		Gmail: GmailConfig{
			CredentialsFile:   filepath.Join(DefaultConfigDir(), "credentials.json"),
			RequestsPerSecond: 5,
		},
	}
}

// LoadConfig reads configuration from the given YAML file path using Viper.
// Environment variables prefixed MAILBUNDLE_ override file values. If the
// file does not exist, it returns a default configuration.
func LoadConfig(path string) (*AppConfig, error) {
	def := defaultAppConfig()

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("mailbundle")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Set defaults so missing keys resolve to sensible values.
	v.SetDefault("database.path", def.Database.Path)
	v.SetDefault("log.level", def.Log.Level)
	v.SetDefault("log.format", def.Log.Format)
	v.SetDefault("bundles.prefix", def.Bundles.Prefix)
	v.SetDefault("bundles.sent_label", def.Bundles.SentLabel)
	v.SetDefault("bundles.inbox_label", def.Bundles.InboxLabel)
	v.SetDefault("bundles.spam_label", def.Bundles.SpamLabel)
	v.SetDefault("runner.max_retries", def.Runner.MaxRetries)
	v.SetDefault("runner.retry_delay_ms", def.Runner.RetryDelayMs)
	v.SetDefault("gmail.credentials_file", def.Gmail.CredentialsFile)
	v.SetDefault("gmail.requests_per_second", def.Gmail.RequestsPerSecond)

	cfg := def
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if _, ok := err.(*os.PathError); !ok && !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	// Apply defaults for each account entry.
	rawAccounts, _ := v.Get("accounts").([]any)
	for i := range cfg.Accounts {
		a := &cfg.Accounts[i]
		if a.Mailbox == "" {
			a.Mailbox = DefaultMailbox
		}
		if a.IMAPPort == "" {
			a.IMAPPort = DefaultIMAPPort
		}
		if a.PollIntervalSec == 0 {
			a.PollIntervalSec = DefaultPollIntervalSec
		}
		if !a.Enabled {
			// Viper unmarshals missing bools as false; treat unset as true.
			if !rawKeySet(rawAccounts, i, "enabled") {
				a.Enabled = true
			}
		}
	}

	return cfg, nil
}

// rawKeySet reports whether the i-th raw list entry spells out key.
func rawKeySet(raw []any, i int, key string) bool {
	if i >= len(raw) {
		return false
	}
	switch m := raw[i].(type) {
	case map[string]any:
		_, ok := m[key]
		return ok
	case map[any]any:
		_, ok := m[key]
		return ok
	}
	return false
}

// SaveConfig writes the given configuration to a YAML file at path,
// creating parent directories if needed.
func SaveConfig(path string, cfg *AppConfig) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory %s: %w", dir, err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.Set("accounts", cfg.Accounts)
	v.Set("database", cfg.Database)
	v.Set("log", cfg.Log)
	v.Set("bundles", cfg.Bundles)
	v.Set("runner", cfg.Runner)
	v.Set("gmail", cfg.Gmail)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}

	return nil
}
