package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Config holds the entire application configuration.
type Config struct {
	Logger   LoggerConfig   `mapstructure:"logger" yaml:"logger"`
	Device   DeviceConfig   `mapstructure:"device" yaml:"device"`
	Agent    AgentConfig    `mapstructure:"agent" yaml:"agent"`
	Recorder RecorderConfig `mapstructure:"recorder" yaml:"recorder"`
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

// DeviceConfig describes how to reach the device automation bridge and the
// screen capture API.
type DeviceConfig struct {
	BridgeURL      string        `mapstructure:"bridge_url" yaml:"bridge_url"`
	ScreenAPIURL   string        `mapstructure:"screen_api_url" yaml:"screen_api_url"`
	Platform       string        `mapstructure:"platform" yaml:"platform"` // android or ios
	DeviceID       string        `mapstructure:"device_id" yaml:"device_id"`
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
	SettleDelay    time.Duration `mapstructure:"settle_delay" yaml:"settle_delay"`
}

// LLMModelConfig configures a single model tier.
type LLMModelConfig struct {
	Model       string        `mapstructure:"model" yaml:"model"`
	APIKey      string        `mapstructure:"api_key" yaml:"api_key"`
	APITimeout  time.Duration `mapstructure:"api_timeout" yaml:"api_timeout"`
	MaxRPS      float64       `mapstructure:"max_rps" yaml:"max_rps"`
	Burst       int           `mapstructure:"burst" yaml:"burst"`
	Temperature float64       `mapstructure:"temperature" yaml:"temperature"`
}

// LLMConfig groups the clients per tier. The fast tier serves perception
// queries; the powerful tier serves planning and per-turn decisions.
type LLMConfig struct {
	Fast     LLMModelConfig `mapstructure:"fast" yaml:"fast"`
	Powerful LLMModelConfig `mapstructure:"powerful" yaml:"powerful"`
}

// AgentConfig bounds the orchestration loop.
type AgentConfig struct {
	LLM LLMConfig `mapstructure:"llm" yaml:"llm"`

	// MaxTurns caps decision cycles per session.
	MaxTurns int `mapstructure:"max_turns" yaml:"max_turns"`
	// MaxReplans caps how many times a failed plan may be revised before the
	// goal as a whole fails.
	MaxReplans int `mapstructure:"max_replans" yaml:"max_replans"`
	// CycleWindow is how many trailing journal records the decision engine
	// inspects for repeating action cycles.
	CycleWindow int `mapstructure:"cycle_window" yaml:"cycle_window"`
	// CycleRepeatLimit is how many identical action signatures within the
	// window force a strategy pivot.
	CycleRepeatLimit int `mapstructure:"cycle_repeat_limit" yaml:"cycle_repeat_limit"`
}

// RecorderConfig controls per-session trace archiving.
type RecorderConfig struct {
	Enabled    bool   `mapstructure:"enabled" yaml:"enabled"`
	TracesPath string `mapstructure:"traces_path" yaml:"traces_path"`
	// PostgresDSN, when set, mirrors journal records into a database table in
	// addition to the on-disk trace folder.
	PostgresDSN string `mapstructure:"postgres_dsn" yaml:"postgres_dsn"`
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "droidpilot")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.fatal", "magenta")

	v.SetDefault("device.bridge_url", "http://localhost:9998")
	v.SetDefault("device.screen_api_url", "http://localhost:9997")
	v.SetDefault("device.platform", "android")
	v.SetDefault("device.request_timeout", "30s")
	v.SetDefault("device.settle_delay", "400ms")

	v.SetDefault("agent.llm.fast.model", "gemini-2.0-flash")
	v.SetDefault("agent.llm.fast.api_timeout", "45s")
	v.SetDefault("agent.llm.fast.max_rps", 2.0)
	v.SetDefault("agent.llm.fast.burst", 2)
	v.SetDefault("agent.llm.fast.temperature", 1.0)
	v.SetDefault("agent.llm.powerful.model", "gemini-2.5-pro")
	v.SetDefault("agent.llm.powerful.api_timeout", "90s")
	v.SetDefault("agent.llm.powerful.max_rps", 1.0)
	v.SetDefault("agent.llm.powerful.burst", 1)
	v.SetDefault("agent.llm.powerful.temperature", 0.2)

	v.SetDefault("agent.max_turns", 60)
	v.SetDefault("agent.max_replans", 3)
	v.SetDefault("agent.cycle_window", 12)
	v.SetDefault("agent.cycle_repeat_limit", 3)

	v.SetDefault("recorder.enabled", false)
	v.SetDefault("recorder.traces_path", defaultTracesPath())
}

func defaultTracesPath() string {
	home, err := homedir.Dir()
	if err != nil {
		return filepath.Join(os.TempDir(), "droidpilot-traces")
	}
	return filepath.Join(home, ".droidpilot", "traces")
}

// NewDefaultConfig returns a Config populated purely from defaults.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults, but good to be safe.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// Load reads the configuration file (if present) plus DROIDPILOT_* env vars
// into a Config.
func Load(cfgFile string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		if home, err := homedir.Dir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".droidpilot"))
		}
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("DROIDPILOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is fine; defaults plus env carry the run.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// API keys come from the environment when the file leaves them blank.
	if cfg.Agent.LLM.Powerful.APIKey == "" {
		cfg.Agent.LLM.Powerful.APIKey = os.Getenv("GEMINI_API_KEY")
	}
	if cfg.Agent.LLM.Fast.APIKey == "" {
		cfg.Agent.LLM.Fast.APIKey = os.Getenv("GEMINI_API_KEY")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the loop cannot run with.
func (c *Config) Validate() error {
	if c.Agent.MaxTurns <= 0 {
		return fmt.Errorf("agent.max_turns must be positive, got %d", c.Agent.MaxTurns)
	}
	if c.Agent.MaxReplans < 0 {
		return fmt.Errorf("agent.max_replans must not be negative, got %d", c.Agent.MaxReplans)
	}
	if c.Agent.CycleRepeatLimit < 2 {
		return fmt.Errorf("agent.cycle_repeat_limit must be at least 2, got %d", c.Agent.CycleRepeatLimit)
	}
	if c.Device.BridgeURL == "" {
		return fmt.Errorf("device.bridge_url is required")
	}
	switch c.Device.Platform {
	case "android", "ios":
	default:
		return fmt.Errorf("device.platform must be android or ios, got %q", c.Device.Platform)
	}
	return nil
}
