// Package config loads drswing's configuration from a YAML file, defaults and
// DRSWING_* environment variables.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/multierr"
	"golang.org/x/exp/slices"

	"github.com/dreamware/drswing/internal/failover"
	"github.com/dreamware/drswing/internal/journal"
	"github.com/dreamware/drswing/internal/mgmt"
	"github.com/dreamware/drswing/internal/probe"
	"github.com/dreamware/drswing/internal/storage"
)

// EnvPrefix is prepended to environment overrides: management.username is
// read from DRSWING_MANAGEMENT_USERNAME.
const EnvPrefix = "DRSWING"

// ErrInvalid wraps every validation failure returned by Load.
var ErrInvalid = errors.New("invalid configuration")

// Config represents the application configuration
type Config struct {
	Nodes      []NodeConfig     `mapstructure:"nodes" yaml:"nodes"`
	Management ManagementConfig `mapstructure:"management" yaml:"management"`
	Failover   FailoverConfig   `mapstructure:"failover" yaml:"failover"`
	Alert      AlertConfig      `mapstructure:"alert" yaml:"alert"`
	State      StateConfig      `mapstructure:"state" yaml:"state"`
	Server     ServerConfig     `mapstructure:"server" yaml:"server"`
	Logging    LoggingConfig    `mapstructure:"logging" yaml:"logging"`
}

// NodeConfig describes one member of the pair.
type NodeConfig struct {
	Hostname      string `mapstructure:"hostname" yaml:"hostname"`
	ProbeAddress  string `mapstructure:"probe_address" yaml:"probe_address"`
	ManagementURL string `mapstructure:"management_url" yaml:"management_url"`
	Primary       bool   `mapstructure:"primary" yaml:"primary"`
}

// ManagementConfig contains management API access settings
type ManagementConfig struct {
	Username           string        `mapstructure:"username" yaml:"username"`
	Password           string        `mapstructure:"password" yaml:"-"`
	InsecureSkipVerify bool          `mapstructure:"insecure_skip_verify" yaml:"insecure_skip_verify"`
	RequestTimeout     time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
	Retry              RetryConfig   `mapstructure:"retry" yaml:"retry"`
	DiscoverRoles      bool          `mapstructure:"discover_roles" yaml:"discover_roles"`
}

// RetryConfig bounds retries of management transport failures.
type RetryConfig struct {
	MaxAttempts     int           `mapstructure:"max_attempts" yaml:"max_attempts"`
	InitialInterval time.Duration `mapstructure:"initial_interval" yaml:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval" yaml:"max_interval"`
}

// FailoverConfig contains the state machine tuning
type FailoverConfig struct {
	FailureThreshold uint          `mapstructure:"failure_threshold" yaml:"failure_threshold"`
	Interval         time.Duration `mapstructure:"interval" yaml:"interval"`
	ProbeTimeout     time.Duration `mapstructure:"probe_timeout" yaml:"probe_timeout"`
	ProbeMode        string        `mapstructure:"probe_mode" yaml:"probe_mode"`
	AbandonPolicy    string        `mapstructure:"abandon_policy" yaml:"abandon_policy"`
	DrainTimeout     time.Duration `mapstructure:"drain_timeout" yaml:"drain_timeout"`
}

// AlertConfig contains operator notification settings
type AlertConfig struct {
	Subject    string        `mapstructure:"subject" yaml:"subject"`
	Body       string        `mapstructure:"body" yaml:"body"`
	Recipients []string      `mapstructure:"recipients" yaml:"recipients"`
	QueueSize  int           `mapstructure:"queue_size" yaml:"queue_size"`
	SMTP       SMTPConfig    `mapstructure:"smtp" yaml:"smtp"`
	Webhook    WebhookConfig `mapstructure:"webhook" yaml:"webhook"`
}

// SMTPConfig enables mail alerts when Host is set.
type SMTPConfig struct {
	Host     string `mapstructure:"host" yaml:"host"`
	Port     int    `mapstructure:"port" yaml:"port"`
	Username string `mapstructure:"username" yaml:"username"`
	Password string `mapstructure:"password" yaml:"-"`
	From     string `mapstructure:"from" yaml:"from"`
	StartTLS bool   `mapstructure:"starttls" yaml:"starttls"`
}

// WebhookConfig enables webhook alerts when URL is set.
type WebhookConfig struct {
	URL     string        `mapstructure:"url" yaml:"url"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// StateConfig selects where events and the current primary are kept.
type StateConfig struct {
	Backend       string `mapstructure:"backend" yaml:"backend"`
	DataDir       string `mapstructure:"data_dir" yaml:"data_dir"`
	ResumePrimary bool   `mapstructure:"resume_primary" yaml:"resume_primary"`
	MaxEvents     int    `mapstructure:"max_events" yaml:"max_events"` // 0 keeps every event
}

// ServerConfig contains status surface listen addresses. An empty address
// disables that listener.
type ServerConfig struct {
	HTTPAddr string `mapstructure:"http_addr" yaml:"http_addr"`
	GRPCAddr string `mapstructure:"grpc_addr" yaml:"grpc_addr"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
	File   string `mapstructure:"file" yaml:"file"`
}

// Load reads configuration from path (optional), applies environment
// overrides and validates the result. A missing path falls back to
// ./drswing.yaml and /etc/drswing/drswing.yaml.
func Load(path string) (*Config, error) {
	v := New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("drswing")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/drswing")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}
	return FromViper(v)
}

// New returns a viper instance with defaults and environment binding set
// up, for callers that bind command-line flags before reading.
func New() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// FromViper decodes and validates v.
func FromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	d := failover.DefaultConfig()

	v.SetDefault("management.username", "")
	v.SetDefault("management.password", "")
	v.SetDefault("management.insecure_skip_verify", false)
	v.SetDefault("management.request_timeout", 5*time.Second)
	v.SetDefault("management.retry.max_attempts", 3)
	v.SetDefault("management.retry.initial_interval", 500*time.Millisecond)
	v.SetDefault("management.retry.max_interval", 5*time.Second)
	v.SetDefault("management.discover_roles", false)

	v.SetDefault("failover.failure_threshold", d.FailureThreshold)
	v.SetDefault("failover.interval", d.Interval)
	v.SetDefault("failover.probe_timeout", d.ProbeTimeout)
	v.SetDefault("failover.probe_mode", probe.ModeICMP)
	v.SetDefault("failover.abandon_policy", string(d.AbandonPolicy))
	v.SetDefault("failover.drain_timeout", d.DrainTimeout)

	v.SetDefault("alert.subject", d.AlertSubject)
	v.SetDefault("alert.body", d.AlertBody)
	v.SetDefault("alert.recipients", []string{})
	v.SetDefault("alert.queue_size", 16)
	v.SetDefault("alert.smtp.host", "")
	v.SetDefault("alert.smtp.port", 25)
	v.SetDefault("alert.smtp.username", "")
	v.SetDefault("alert.smtp.password", "")
	v.SetDefault("alert.smtp.from", "drswing@localhost")
	v.SetDefault("alert.smtp.starttls", true)
	v.SetDefault("alert.webhook.url", "")
	v.SetDefault("alert.webhook.timeout", 10*time.Second)

	v.SetDefault("state.backend", storage.BackendBadger)
	v.SetDefault("state.data_dir", "./data")
	v.SetDefault("state.resume_primary", false)
	v.SetDefault("state.max_events", journal.DefaultMaxEvents)

	v.SetDefault("server.http_addr", ":9090")
	v.SetDefault("server.grpc_addr", ":9091")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.file", "")
}

var (
	probeModes    = []string{probe.ModeICMP, probe.ModeICMPPrivileged, probe.ModeTCP}
	backends      = []string{storage.BackendBadger, storage.BackendMemory}
	logLevels     = []string{"debug", "info", "warn", "error"}
	logFormats    = []string{"console", "json"}
	abandonPolicy = []string{string(failover.AbandonResumeOriginal), string(failover.AbandonKeepPaused)}
)

// Validate checks the configuration and normalises paths. All problems are
// reported together, wrapped in ErrInvalid.
func (c *Config) Validate() error {
	var err error
	fail := func(format string, args ...any) {
		err = multierr.Append(err, fmt.Errorf(format, args...))
	}

	if len(c.Nodes) != 2 {
		fail("nodes: exactly two nodes required, got %d", len(c.Nodes))
	} else {
		primaries := 0
		for i, n := range c.Nodes {
			if n.Hostname == "" {
				fail("nodes[%d].hostname is required", i)
			}
			if n.ProbeAddress == "" {
				fail("nodes[%d].probe_address is required", i)
			}
			if n.ManagementURL == "" {
				fail("nodes[%d].management_url is required", i)
			}
			if n.Primary {
				primaries++
			}
		}
		if primaries != 1 {
			fail("nodes: exactly one primary required, got %d", primaries)
		}
		if c.Nodes[0].Hostname != "" && c.Nodes[0].Hostname == c.Nodes[1].Hostname {
			fail("nodes: hostnames must be unique, %q repeated", c.Nodes[0].Hostname)
		}
	}

	f := c.Failover
	if f.FailureThreshold < 1 {
		fail("failover.failure_threshold must be at least 1")
	}
	if f.Interval <= 0 {
		fail("failover.interval must be positive")
	}
	if f.ProbeTimeout <= 0 {
		fail("failover.probe_timeout must be positive")
	}
	if f.DrainTimeout <= 0 {
		fail("failover.drain_timeout must be positive")
	}
	if !slices.Contains(probeModes, f.ProbeMode) {
		fail("failover.probe_mode %q not one of %v", f.ProbeMode, probeModes)
	}
	if !slices.Contains(abandonPolicy, f.AbandonPolicy) {
		fail("failover.abandon_policy %q not one of %v", f.AbandonPolicy, abandonPolicy)
	}

	if c.Management.RequestTimeout <= 0 {
		fail("management.request_timeout must be positive")
	}
	if c.Management.Retry.MaxAttempts < 1 {
		fail("management.retry.max_attempts must be at least 1")
	}
	// pause gets one request timeout; promote and resume each need a full
	// retry budget inside what is left
	if f.DrainTimeout > 0 && c.Management.RequestTimeout > 0 && c.Management.Retry.MaxAttempts >= 1 {
		call := c.RetryPolicy().Budget(c.Management.RequestTimeout)
		if need := c.Management.RequestTimeout + 2*call; f.DrainTimeout < need {
			fail("failover.drain_timeout %s too short: pause, promote and resume with management.retry need %s", f.DrainTimeout, need)
		}
	}

	if !slices.Contains(backends, c.State.Backend) {
		fail("state.backend %q not one of %v", c.State.Backend, backends)
	}
	if c.State.MaxEvents < 0 {
		fail("state.max_events must not be negative")
	}
	if c.State.Backend == storage.BackendBadger {
		if c.State.DataDir == "" {
			fail("state.data_dir is required for the badger backend")
		} else {
			c.State.DataDir = filepath.Clean(c.State.DataDir)
		}
	}

	if !slices.Contains(logLevels, c.Logging.Level) {
		fail("logging.level %q not one of %v", c.Logging.Level, logLevels)
	}
	if !slices.Contains(logFormats, c.Logging.Format) {
		fail("logging.format %q not one of %v", c.Logging.Format, logFormats)
	}

	if c.Alert.SMTP.Host != "" && (c.Alert.SMTP.Port < 1 || c.Alert.SMTP.Port > 65535) {
		fail("alert.smtp.port must be between 1 and 65535")
	}

	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}

// FailoverSettings converts the failover and alert sections into controller
// tuning.
func (c *Config) FailoverSettings() failover.Config {
	return failover.Config{
		FailureThreshold: c.Failover.FailureThreshold,
		Interval:         c.Failover.Interval,
		ProbeTimeout:     c.Failover.ProbeTimeout,
		AbandonPolicy:    failover.AbandonPolicy(c.Failover.AbandonPolicy),
		DrainTimeout:     c.Failover.DrainTimeout,
		PauseTimeout:     c.Management.RequestTimeout,
		AlertSubject:     c.Alert.Subject,
		AlertBody:        c.Alert.Body,
		AlertRecipients:  c.Alert.Recipients,
	}
}

// RetryPolicy returns the management retry settings.
func (c *Config) RetryPolicy() mgmt.RetryPolicy {
	return mgmt.RetryPolicy{
		MaxAttempts:     c.Management.Retry.MaxAttempts,
		InitialInterval: c.Management.Retry.InitialInterval,
		MaxInterval:     c.Management.Retry.MaxInterval,
	}
}
