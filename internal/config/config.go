package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/oshokin/wazuh-puller/internal/domain/bundle"
)

// Timeouts bounds each distribution endpoint call separately.
type Timeouts struct {
	// Health bounds the health check.
	Health time.Duration `yaml:"health"`
	// Catalog bounds the rules listing.
	Catalog time.Duration `yaml:"catalog"`
	// Bundle bounds the bundle download.
	Bundle time.Duration `yaml:"bundle"`
}

// Config holds everything a pipeline run needs. It is built once at startup
// and passed by pointer to the components.
type Config struct {
	// APIURL is the base URL of the distribution endpoint.
	APIURL string `yaml:"api_url"`
	// APIKey is the static credential sent with every request.
	APIKey string `yaml:"api_key"`
	// ServerID identifies this agent host in logs and requests.
	ServerID string `yaml:"server_id"`
	// RulesPath is the live rules directory read by the agent.
	RulesPath string `yaml:"rules_path"`
	// DecodersPath is the live decoders directory read by the agent.
	DecodersPath string `yaml:"decoders_path"`
	// BackupPath is the root holding backup snapshots.
	BackupPath string `yaml:"backup_path"`
	// ScratchPath is the extraction directory recreated on every run.
	ScratchPath string `yaml:"scratch_path"`
	// LogFile receives a copy of the log output when set.
	LogFile string `yaml:"log_file"`
	// LogLevel is the minimum level written to the logs.
	LogLevel string `yaml:"log_level"`
	// BackupKeep is how many snapshots survive pruning.
	BackupKeep int `yaml:"backup_keep"`
	// Pattern selects the files eligible for deployment.
	Pattern string `yaml:"pattern"`
	// MetricsFile is the Prometheus textfile written after each run, if set.
	MetricsFile string `yaml:"metrics_file"`
	// Schedule is the cron expression used by the schedule command.
	Schedule string `yaml:"schedule"`
	// Timeouts bounds the distribution endpoint calls.
	Timeouts Timeouts `yaml:"timeouts"`
}

const (
	// DefaultAPIURL is the distribution endpoint inside the compose network.
	DefaultAPIURL = "http://wazuh-api:8002"
	// DefaultRulesPath is where the Wazuh manager reads custom rules.
	DefaultRulesPath = "/var/ossec/etc/rules"
	// DefaultDecodersPath is where the Wazuh manager reads custom decoders.
	DefaultDecodersPath = "/var/ossec/etc/decoders"
	// DefaultBackupPath is the snapshot root.
	DefaultBackupPath = "/tmp/wazuh-backup"
	// DefaultScratchPath is the extraction directory.
	DefaultScratchPath = "/tmp/wazuh-extract"
	// DefaultLogFile is the log file path.
	DefaultLogFile = "/var/log/wazuh-puller.log"
	// DefaultLogLevel is the log level when none is configured.
	DefaultLogLevel = "info"
	// DefaultBackupKeep is the number of snapshots retained.
	DefaultBackupKeep = 5
	// DefaultSchedule is the interval used by the schedule command.
	DefaultSchedule = "@every 15m"

	// DefaultHealthTimeout bounds the health check.
	DefaultHealthTimeout = 10 * time.Second
	// DefaultCatalogTimeout bounds the rules listing.
	DefaultCatalogTimeout = 30 * time.Second
	// DefaultBundleTimeout bounds the bundle download.
	DefaultBundleTimeout = 60 * time.Second

	// envPrefix namespaces the environment variables next to the bare legacy names.
	envPrefix = "WAZUH_PULLER"
)

// Flag names shared by the CLI and Load.
const (
	FlagConfig   = "config"
	FlagAPIURL   = "api-url"
	FlagAPIKey   = "api-key"
	FlagServerID = "server-id"
	FlagLogLevel = "log-level"
)

var (
	// ErrAPIKeyRequired is returned when no credential was configured.
	ErrAPIKeyRequired = errors.New("API key is required, set API_KEY or use --api-key")
	// errConfigIsNotSet is returned when a nil configuration is provided.
	errConfigIsNotSet = errors.New("configuration is not set")
	// errAPIURLRequired is returned when the endpoint URL is empty.
	errAPIURLRequired = errors.New("API URL must be provided")
	// errPathRequired is returned when one of the directories is empty.
	errPathRequired = errors.New("path must be provided")
	// errBadKeep is returned for a retention count below one.
	errBadKeep = errors.New("backup_keep must be at least 1")
)

// settingKeys lists every key with its legacy environment variable name.
//
//nolint:gochecknoglobals // Read-only table.
var settingKeys = map[string]string{
	"api_url":          "API_URL",
	"api_key":          "API_KEY",
	"server_id":        "SERVER_ID",
	"rules_path":       "RULES_PATH",
	"decoders_path":    "DECODERS_PATH",
	"backup_path":      "BACKUP_PATH",
	"scratch_path":     "SCRATCH_PATH",
	"log_file":         "LOG_FILE",
	"log_level":        "LOG_LEVEL",
	"backup_keep":      "BACKUP_KEEP",
	"pattern":          "RULES_PATTERN",
	"metrics_file":     "METRICS_FILE",
	"schedule":         "SCHEDULE",
	"timeouts.health":  "HEALTH_TIMEOUT",
	"timeouts.catalog": "CATALOG_TIMEOUT",
	"timeouts.bundle":  "BUNDLE_TIMEOUT",
}

// flagKeys maps CLI flags to the settings they override.
//
//nolint:gochecknoglobals // Read-only table.
var flagKeys = map[string]string{
	FlagAPIURL:   "api_url",
	FlagAPIKey:   "api_key",
	FlagServerID: "server_id",
	FlagLogLevel: "log_level",
}

// RegisterFlags adds the configuration flags to a flag set.
func RegisterFlags(flags *pflag.FlagSet) {
	flags.StringP(FlagConfig, "c", "", "path to an optional YAML configuration file")
	flags.String(FlagAPIURL, "", "override the distribution endpoint URL")
	flags.String(FlagAPIKey, "", "override the API key")
	flags.String(FlagServerID, "", "server identifier")
	flags.String(FlagLogLevel, "", "log level (debug, info, warn, error)")
}

// Load builds the configuration from defaults, an optional YAML file,
// the environment and finally the command-line flags, in increasing precedence.
func Load(flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	for key, legacy := range settingKeys {
		envName := envPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, envName, legacy); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	var configFile string

	if flags != nil {
		for flagName, key := range flagKeys {
			if flag := flags.Lookup(flagName); flag != nil {
				if err := v.BindPFlag(key, flag); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", flagName, err)
				}
			}
		}

		configFile, _ = flags.GetString(FlagConfig)
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
		v.SetConfigType("yaml")

		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read settings: %w", err)
		}
	}

	cfg := &Config{
		APIURL:       v.GetString("api_url"),
		APIKey:       v.GetString("api_key"),
		ServerID:     v.GetString("server_id"),
		RulesPath:    v.GetString("rules_path"),
		DecodersPath: v.GetString("decoders_path"),
		BackupPath:   v.GetString("backup_path"),
		ScratchPath:  v.GetString("scratch_path"),
		LogFile:      v.GetString("log_file"),
		LogLevel:     v.GetString("log_level"),
		BackupKeep:   v.GetInt("backup_keep"),
		Pattern:      v.GetString("pattern"),
		MetricsFile:  v.GetString("metrics_file"),
		Schedule:     v.GetString("schedule"),
		Timeouts: Timeouts{
			Health:  v.GetDuration("timeouts.health"),
			Catalog: v.GetDuration("timeouts.catalog"),
			Bundle:  v.GetDuration("timeouts.bundle"),
		},
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// setDefaults registers the built-in values for every key.
func setDefaults(v *viper.Viper) {
	v.SetDefault("api_url", DefaultAPIURL)
	v.SetDefault("api_key", "")
	v.SetDefault("server_id", "")
	v.SetDefault("rules_path", DefaultRulesPath)
	v.SetDefault("decoders_path", DefaultDecodersPath)
	v.SetDefault("backup_path", DefaultBackupPath)
	v.SetDefault("scratch_path", DefaultScratchPath)
	v.SetDefault("log_file", DefaultLogFile)
	v.SetDefault("log_level", DefaultLogLevel)
	v.SetDefault("backup_keep", DefaultBackupKeep)
	v.SetDefault("pattern", bundle.DefaultPattern)
	v.SetDefault("metrics_file", "")
	v.SetDefault("schedule", DefaultSchedule)
	v.SetDefault("timeouts.health", DefaultHealthTimeout)
	v.SetDefault("timeouts.catalog", DefaultCatalogTimeout)
	v.SetDefault("timeouts.bundle", DefaultBundleTimeout)
}

// Validate checks local settings and fills in zero timeouts.
// The remote settings are checked separately by ValidateRemote because
// offline commands such as restore do not need them.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	for name, value := range map[string]string{
		"rules_path":    cfg.RulesPath,
		"decoders_path": cfg.DecodersPath,
		"backup_path":   cfg.BackupPath,
		"scratch_path":  cfg.ScratchPath,
	} {
		if strings.TrimSpace(value) == "" {
			return fmt.Errorf("%s: %w", name, errPathRequired)
		}
	}

	if cfg.BackupKeep < 1 {
		return errBadKeep
	}

	if cfg.Pattern == "" {
		cfg.Pattern = bundle.DefaultPattern
	}

	if err := bundle.ValidatePattern(cfg.Pattern); err != nil {
		return err
	}

	if cfg.LogLevel == "" {
		cfg.LogLevel = DefaultLogLevel
	}

	if cfg.Timeouts.Health <= 0 {
		cfg.Timeouts.Health = DefaultHealthTimeout
	}

	if cfg.Timeouts.Catalog <= 0 {
		cfg.Timeouts.Catalog = DefaultCatalogTimeout
	}

	if cfg.Timeouts.Bundle <= 0 {
		cfg.Timeouts.Bundle = DefaultBundleTimeout
	}

	return nil
}

// ValidateRemote checks the settings needed to talk to the distribution endpoint.
func ValidateRemote(cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if strings.TrimSpace(cfg.APIKey) == "" {
		return ErrAPIKeyRequired
	}

	if cfg.APIURL == "" {
		return errAPIURLRequired
	}

	parsed, err := url.ParseRequestURI(cfg.APIURL)
	if err != nil {
		return fmt.Errorf("invalid API URL: %w", err)
	}

	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("invalid API URL scheme %q: %w", parsed.Scheme, errAPIURLRequired)
	}

	return nil
}

// Redacted returns a copy safe to print, with the credential masked.
func (c *Config) Redacted() *Config {
	clone := *c
	if clone.APIKey != "" {
		clone.APIKey = "********"
	}

	return &clone
}
