// File: internal/config/config.go
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds the entire application configuration, grouped by section the
// same way the YAML file is.
type Config struct {
	LLM        LLMConfig        `mapstructure:"llm" yaml:"llm"`
	Automation AutomationConfig `mapstructure:"automation" yaml:"automation"`
	Safety     SafetyConfig     `mapstructure:"safety" yaml:"safety"`
	Screen     ScreenConfig     `mapstructure:"screen" yaml:"screen"`
	Network    NetworkConfig    `mapstructure:"network" yaml:"network"`
	Queue      QueueConfig      `mapstructure:"queue" yaml:"queue"`
	Logger     LoggerConfig     `mapstructure:"logger" yaml:"logger"`
}

// LLMConfig configures the local vision-model endpoint.
type LLMConfig struct {
	// Endpoint is the Ollama-compatible base URL. Its unreachability is an
	// inference failure, never a network-dependent-app scenario.
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`
	Model    string `mapstructure:"model" yaml:"model"`
	// Temperature is fixed per process. Reproducible coordinate decisions
	// are required for safety auditing, so it is never tunable per call.
	Temperature float64       `mapstructure:"temperature" yaml:"temperature"`
	TopP        float64       `mapstructure:"top_p" yaml:"top_p"`
	Timeout     time.Duration `mapstructure:"timeout" yaml:"timeout"`
	// HistoryWindow is how many recent actions each prompt carries.
	HistoryWindow int `mapstructure:"history_window" yaml:"history_window"`
	// AutoPull downloads the model at startup when the endpoint lacks it.
	AutoPull bool `mapstructure:"auto_pull" yaml:"auto_pull"`
}

// AutomationConfig tunes the command loop and the executor.
type AutomationConfig struct {
	// CommandDelay is the settle delay after each applied action, so the
	// next capture sees a stable UI instead of a transitional one.
	CommandDelay    time.Duration `mapstructure:"command_delay" yaml:"command_delay"`
	PollingInterval time.Duration `mapstructure:"polling_interval" yaml:"polling_interval"`
	// Failsafe enables the corner-abort watch.
	Failsafe bool `mapstructure:"failsafe" yaml:"failsafe"`
	// FailsafeMargin is the edge size in pixels of the abort corner region.
	FailsafeMargin int `mapstructure:"failsafe_margin" yaml:"failsafe_margin"`
	// MaxRetries caps retries of transient step failures (inference
	// unavailable, malformed, timeouts, executor errors).
	MaxRetries int `mapstructure:"max_retries" yaml:"max_retries"`
	// StepBudget caps inference calls per command.
	StepBudget int `mapstructure:"step_budget" yaml:"step_budget"`
	// DispatchTimeout bounds one executor call; a hang fails the command,
	// not the process.
	DispatchTimeout time.Duration `mapstructure:"dispatch_timeout" yaml:"dispatch_timeout"`
	// MinActionInterval is the executor's pacing floor between device events.
	MinActionInterval time.Duration `mapstructure:"min_action_interval" yaml:"min_action_interval"`
}

// SafetyConfig tunes the validator.
type SafetyConfig struct {
	// SafeMode gates the behavioral rules (click distance, denylists, rate
	// limit). Kind allow-set and geometry checks run regardless.
	SafeMode bool `mapstructure:"safe_mode" yaml:"safe_mode"`
	// MaxClickDistance is the farthest a click may land from the previous
	// click without an intervening capture, in pixels.
	MaxClickDistance  float64       `mapstructure:"max_click_distance" yaml:"max_click_distance"`
	RateLimitActions  int           `mapstructure:"rate_limit_actions" yaml:"rate_limit_actions"`
	RateLimitWindow   time.Duration `mapstructure:"rate_limit_window" yaml:"rate_limit_window"`
	RateLimitCooldown time.Duration `mapstructure:"rate_limit_cooldown" yaml:"rate_limit_cooldown"`
	// HistorySize bounds the session's action ring buffer.
	HistorySize int `mapstructure:"history_size" yaml:"history_size"`
}

// ScreenConfig configures capture and the optional screenshot archive.
type ScreenConfig struct {
	// ArchiveDir stores captured frames for later inspection. Empty
	// disables archiving.
	ArchiveDir string `mapstructure:"archive_dir" yaml:"archive_dir"`
	// Keep is the most-recent-N retention for the archive.
	Keep    int `mapstructure:"keep" yaml:"keep"`
	Display int `mapstructure:"display" yaml:"display"`
}

// NetworkConfig configures the external reachability probe.
type NetworkConfig struct {
	ProbeURL     string        `mapstructure:"probe_url" yaml:"probe_url"`
	ProbeTimeout time.Duration `mapstructure:"probe_timeout" yaml:"probe_timeout"`
	// MaxWait bounds how long a network-dependent command waits for
	// reachability before failing with a connectivity timeout.
	MaxWait time.Duration `mapstructure:"max_wait" yaml:"max_wait"`
}

// QueueConfig locates the file artifacts the agent works against.
type QueueConfig struct {
	CommandsFile string `mapstructure:"commands_file" yaml:"commands_file"`
	MarkerFile   string `mapstructure:"marker_file" yaml:"marker_file"`
	RulesFile    string `mapstructure:"rules_file" yaml:"rules_file"`
	AuditFile    string `mapstructure:"audit_file" yaml:"audit_file"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// NewDefaultConfig creates a configuration populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// Cannot happen with the defaults below, but fail loudly if it does.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for all configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- LLM --
	v.SetDefault("llm.endpoint", "http://localhost:11434")
	v.SetDefault("llm.model", "llava")
	v.SetDefault("llm.temperature", 0.1)
	v.SetDefault("llm.top_p", 0.9)
	v.SetDefault("llm.timeout", "60s")
	v.SetDefault("llm.history_window", 5)
	v.SetDefault("llm.auto_pull", true)

	// -- Automation --
	v.SetDefault("automation.command_delay", "2s")
	v.SetDefault("automation.polling_interval", "5s")
	v.SetDefault("automation.failsafe", true)
	v.SetDefault("automation.failsafe_margin", 10)
	v.SetDefault("automation.max_retries", 3)
	v.SetDefault("automation.step_budget", 25)
	v.SetDefault("automation.dispatch_timeout", "10s")
	v.SetDefault("automation.min_action_interval", "100ms")

	// -- Safety --
	v.SetDefault("safety.safe_mode", true)
	v.SetDefault("safety.max_click_distance", 50)
	v.SetDefault("safety.rate_limit_actions", 20)
	v.SetDefault("safety.rate_limit_window", "60s")
	v.SetDefault("safety.rate_limit_cooldown", "2s")
	v.SetDefault("safety.history_size", 10)

	// -- Screen --
	v.SetDefault("screen.archive_dir", "data/screenshots")
	v.SetDefault("screen.keep", 50)
	v.SetDefault("screen.display", 0)

	// -- Network --
	v.SetDefault("network.probe_url", "http://www.google.com")
	v.SetDefault("network.probe_timeout", "5s")
	v.SetDefault("network.max_wait", "300s")

	// -- Queue --
	v.SetDefault("queue.commands_file", "data/commands.txt")
	v.SetDefault("queue.marker_file", "data/commands.processed")
	v.SetDefault("queue.rules_file", "data/rules.txt")
	v.SetDefault("queue.audit_file", "logs/audit.jsonl")

	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "deskhand")
	v.SetDefault("logger.log_file", "logs/deskhand.log")
	v.SetDefault("logger.max_size", 10)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 28)
	v.SetDefault("logger.compress", true)
}

// NewConfigFromViper creates a validated configuration from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if err := c.LLM.Validate(); err != nil {
		return fmt.Errorf("llm configuration invalid: %w", err)
	}
	if err := c.Automation.Validate(); err != nil {
		return fmt.Errorf("automation configuration invalid: %w", err)
	}
	if err := c.Safety.Validate(); err != nil {
		return fmt.Errorf("safety configuration invalid: %w", err)
	}
	if err := c.Network.Validate(); err != nil {
		return fmt.Errorf("network configuration invalid: %w", err)
	}
	if err := c.Queue.Validate(); err != nil {
		return fmt.Errorf("queue configuration invalid: %w", err)
	}
	if c.Screen.Keep < 0 {
		return fmt.Errorf("screen.keep must not be negative")
	}
	return nil
}

// Validate checks the LLM section.
func (l *LLMConfig) Validate() error {
	if l.Endpoint == "" {
		return fmt.Errorf("endpoint is required")
	}
	if l.Model == "" {
		return fmt.Errorf("model is required")
	}
	if l.Temperature < 0 || l.Temperature > 2 {
		return fmt.Errorf("temperature must be between 0.0 and 2.0")
	}
	if l.Timeout <= 0 {
		return fmt.Errorf("timeout must be a positive duration")
	}
	if l.HistoryWindow <= 0 {
		return fmt.Errorf("history_window must be a positive integer")
	}
	return nil
}

// Validate checks the Automation section.
func (a *AutomationConfig) Validate() error {
	if a.PollingInterval <= 0 {
		return fmt.Errorf("polling_interval must be a positive duration")
	}
	if a.CommandDelay < 0 {
		return fmt.Errorf("command_delay must not be negative")
	}
	if a.MaxRetries <= 0 {
		return fmt.Errorf("max_retries must be a positive integer")
	}
	if a.StepBudget <= 0 {
		return fmt.Errorf("step_budget must be a positive integer")
	}
	if a.DispatchTimeout <= 0 {
		return fmt.Errorf("dispatch_timeout must be a positive duration")
	}
	if a.FailsafeMargin <= 0 {
		return fmt.Errorf("failsafe_margin must be a positive pixel count")
	}
	return nil
}

// Validate checks the Safety section.
func (s *SafetyConfig) Validate() error {
	if s.MaxClickDistance <= 0 {
		return fmt.Errorf("max_click_distance must be a positive pixel count")
	}
	if s.RateLimitActions <= 0 {
		return fmt.Errorf("rate_limit_actions must be a positive integer")
	}
	if s.RateLimitWindow <= 0 {
		return fmt.Errorf("rate_limit_window must be a positive duration")
	}
	if s.RateLimitCooldown < 0 {
		return fmt.Errorf("rate_limit_cooldown must not be negative")
	}
	if s.HistorySize <= 0 {
		return fmt.Errorf("history_size must be a positive integer")
	}
	return nil
}

// Validate checks the Network section.
func (n *NetworkConfig) Validate() error {
	if n.ProbeURL == "" {
		return fmt.Errorf("probe_url is required")
	}
	if n.ProbeTimeout <= 0 {
		return fmt.Errorf("probe_timeout must be a positive duration")
	}
	if n.MaxWait <= 0 {
		return fmt.Errorf("max_wait must be a positive duration")
	}
	return nil
}

// Validate checks the Queue section.
func (q *QueueConfig) Validate() error {
	if q.CommandsFile == "" {
		return fmt.Errorf("commands_file is required")
	}
	if q.MarkerFile == "" {
		return fmt.Errorf("marker_file is required")
	}
	if q.RulesFile == "" {
		return fmt.Errorf("rules_file is required")
	}
	if q.AuditFile == "" {
		return fmt.Errorf("audit_file is required")
	}
	return nil
}
