// File: internal/config/config.go
package config

import (
	"fmt"
	"slices"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	Server() ServerConfig
	Database() DatabaseConfig
	Engine() EngineConfig
	Scan() ScanConfig
	Report() ReportConfig
	Scoring() ScoringConfig
	Agent() AgentConfig
}

// Config holds the entire application configuration.
type Config struct {
	LoggerCfg   LoggerConfig   `mapstructure:"logger" yaml:"logger"`
	ServerCfg   ServerConfig   `mapstructure:"server" yaml:"server"`
	DatabaseCfg DatabaseConfig `mapstructure:"database" yaml:"database"`
	EngineCfg   EngineConfig   `mapstructure:"engine" yaml:"engine"`
	ScanCfg     ScanConfig     `mapstructure:"scan" yaml:"scan"`
	ReportCfg   ReportConfig   `mapstructure:"report" yaml:"report"`
	ScoringCfg  ScoringConfig  `mapstructure:"scoring" yaml:"scoring"`
	AgentCfg    AgentConfig    `mapstructure:"agent" yaml:"agent"`
}

// --- Interface Method Implementations (Getters) ---

func (c *Config) Logger() LoggerConfig     { return c.LoggerCfg }
func (c *Config) Server() ServerConfig     { return c.ServerCfg }
func (c *Config) Database() DatabaseConfig { return c.DatabaseCfg }
func (c *Config) Engine() EngineConfig     { return c.EngineCfg }
func (c *Config) Scan() ScanConfig         { return c.ScanCfg }
func (c *Config) Report() ReportConfig     { return c.ReportCfg }
func (c *Config) Scoring() ScoringConfig   { return c.ScoringCfg }
func (c *Config) Agent() AgentConfig       { return c.AgentCfg }

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

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr" yaml:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins" yaml:"cors_origins"`
	// InvokeRateLimit is the sustained number of scan submissions per second.
	InvokeRateLimit float64 `mapstructure:"invoke_rate_limit" yaml:"invoke_rate_limit"`
	InvokeBurst     int     `mapstructure:"invoke_burst" yaml:"invoke_burst"`
}

// DatabaseConfig holds the database connection details. An empty URL selects
// the in-memory results store.
type DatabaseConfig struct {
	URL             string        `mapstructure:"url" yaml:"url"`
	MaxConns        int32         `mapstructure:"max_conns" yaml:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns" yaml:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime" yaml:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time" yaml:"max_conn_idle_time"`
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout" yaml:"connect_timeout"`
}

// EngineConfig configures the background scan workers.
type EngineConfig struct {
	QueueSize         int `mapstructure:"queue_size" yaml:"queue_size"`
	WorkerConcurrency int `mapstructure:"worker_concurrency" yaml:"worker_concurrency"`
	// ScanTimeout bounds a single scan. Zero waits indefinitely.
	ScanTimeout           time.Duration `mapstructure:"scan_timeout" yaml:"scan_timeout"`
	FindingsBatchSize     int           `mapstructure:"findings_batch_size" yaml:"findings_batch_size"`
	FindingsFlushInterval time.Duration `mapstructure:"findings_flush_interval" yaml:"findings_flush_interval"`
}

// ScanConfig holds the target policy and the HTTP behavior of the scanner.
type ScanConfig struct {
	AuthorizedTargets []string      `mapstructure:"authorized_targets" yaml:"authorized_targets"`
	DefaultModules    []string      `mapstructure:"default_modules" yaml:"default_modules"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second" yaml:"requests_per_second"`
	UserAgent         string        `mapstructure:"user_agent" yaml:"user_agent"`
	MaxBodyBytes      int64         `mapstructure:"max_body_bytes" yaml:"max_body_bytes"`
	IgnoreTLSErrors   bool          `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	EstimatedDuration string        `mapstructure:"estimated_duration" yaml:"estimated_duration"`
}

// Report formats.
const (
	FormatJSON     = "json"
	FormatSARIF    = "sarif"
	FormatMarkdown = "markdown"
)

// ReportConfig controls report assembly.
type ReportConfig struct {
	OutputDir       string        `mapstructure:"output_dir" yaml:"output_dir"`
	Format          string        `mapstructure:"format" yaml:"format"`
	IncludeInsights bool          `mapstructure:"include_insights" yaml:"include_insights"`
	InsightTimeout  time.Duration `mapstructure:"insight_timeout" yaml:"insight_timeout"`
}

// ScoringConfig holds the per-severity weights of the risk score.
type ScoringConfig struct {
	Weights SeverityWeights `mapstructure:"weights" yaml:"weights"`
}

// SeverityWeights is the score contribution of a single finding per level.
type SeverityWeights struct {
	Critical float64 `mapstructure:"critical" yaml:"critical"`
	High     float64 `mapstructure:"high" yaml:"high"`
	Medium   float64 `mapstructure:"medium" yaml:"medium"`
	Low      float64 `mapstructure:"low" yaml:"low"`
	Info     float64 `mapstructure:"info" yaml:"info"`
}

// AgentConfig holds settings for the AI narrative generator.
type AgentConfig struct {
	LLM LLMModelConfig `mapstructure:"llm" yaml:"llm"`
}

// LLMProvider defines the supported LLM providers.
type LLMProvider string

const (
	ProviderGemini LLMProvider = "gemini"
	// ProviderNone disables the model; reports fall back to templated insight.
	ProviderNone LLMProvider = "none"
)

// LLMModelConfig defines the configuration for a single LLM.
type LLMModelConfig struct {
	Provider    LLMProvider   `mapstructure:"provider" yaml:"provider"`
	Model       string        `mapstructure:"model" yaml:"model"`
	APIKey      string        `mapstructure:"api_key" yaml:"-"`
	APITimeout  time.Duration `mapstructure:"api_timeout" yaml:"api_timeout"`
	Temperature float32       `mapstructure:"temperature" yaml:"temperature"`
	TopP        float32       `mapstructure:"top_p" yaml:"top_p"`
	TopK        int           `mapstructure:"top_k" yaml:"top_k"`
	MaxTokens   int           `mapstructure:"max_tokens" yaml:"max_tokens"`
	MaxRetries  int           `mapstructure:"max_retries" yaml:"max_retries"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "scalpel-vapt")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.dpanic", "magenta")
	v.SetDefault("logger.colors.panic", "magenta")
	v.SetDefault("logger.colors.fatal", "magenta")

	// -- Server --
	v.SetDefault("server.addr", ":8000")
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "60s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.request_timeout", "60s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.invoke_rate_limit", 1.0)
	v.SetDefault("server.invoke_burst", 5)

	// -- Database --
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.max_conn_idle_time", "30m")
	v.SetDefault("database.connect_timeout", "10s")

	// -- Engine --
	v.SetDefault("engine.queue_size", 64)
	v.SetDefault("engine.worker_concurrency", 4)
	v.SetDefault("engine.scan_timeout", "30m")
	v.SetDefault("engine.findings_batch_size", 50)
	v.SetDefault("engine.findings_flush_interval", "2s")

	// -- Scan --
	v.SetDefault("scan.authorized_targets", []string{
		"https://juice-shop.herokuapp.com",
		"http://juice-shop.herokuapp.com",
	})
	v.SetDefault("scan.default_modules", []string{"headers", "cookies", "jwt", "content", "transport"})
	v.SetDefault("scan.request_timeout", "30s")
	v.SetDefault("scan.requests_per_second", 5.0)
	v.SetDefault("scan.user_agent", "scalpel-vapt/1.0 (+authorized security assessment)")
	v.SetDefault("scan.max_body_bytes", 5<<20)
	v.SetDefault("scan.ignore_tls_errors", false)
	v.SetDefault("scan.estimated_duration", "15-30 minutes")

	// -- Report --
	v.SetDefault("report.output_dir", "reports")
	v.SetDefault("report.format", FormatJSON)
	v.SetDefault("report.include_insights", true)
	v.SetDefault("report.insight_timeout", "45s")

	// -- Scoring --
	v.SetDefault("scoring.weights.critical", 7.0)
	v.SetDefault("scoring.weights.high", 4.0)
	v.SetDefault("scoring.weights.medium", 1.5)
	v.SetDefault("scoring.weights.low", 0.5)
	v.SetDefault("scoring.weights.info", 0.1)

	// -- Agent --
	v.SetDefault("agent.llm.provider", string(ProviderGemini))
	v.SetDefault("agent.llm.model", "gemini-2.5-flash")
	v.SetDefault("agent.llm.api_timeout", "30s")
	v.SetDefault("agent.llm.temperature", 0.2)
	v.SetDefault("agent.llm.top_p", 0.95)
	v.SetDefault("agent.llm.top_k", 40)
	v.SetDefault("agent.llm.max_tokens", 1024)
	v.SetDefault("agent.llm.max_retries", 3)
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Bind environment variables for sensitive data
	_ = v.BindEnv("database.url", "VAPT_DATABASE_URL")
	_ = v.BindEnv("agent.llm.api_key", "VAPT_GEMINI_API_KEY", "GEMINI_API_KEY")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.expandPaths(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// expandPaths resolves "~" in filesystem settings.
func (c *Config) expandPaths() error {
	dir, err := homedir.Expand(c.ReportCfg.OutputDir)
	if err != nil {
		return fmt.Errorf("failed to expand report.output_dir: %w", err)
	}
	c.ReportCfg.OutputDir = dir

	if c.LoggerCfg.LogFile != "" {
		logFile, err := homedir.Expand(c.LoggerCfg.LogFile)
		if err != nil {
			return fmt.Errorf("failed to expand logger.log_file: %w", err)
		}
		c.LoggerCfg.LogFile = logFile
	}
	return nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.ServerCfg.Addr == "" {
		return fmt.Errorf("server.addr is a required configuration field")
	}
	if err := c.EngineCfg.Validate(); err != nil {
		return fmt.Errorf("engine configuration invalid: %w", err)
	}
	if err := c.ScanCfg.Validate(); err != nil {
		return fmt.Errorf("scan configuration invalid: %w", err)
	}
	if err := c.ReportCfg.Validate(); err != nil {
		return fmt.Errorf("report configuration invalid: %w", err)
	}
	if err := c.ScoringCfg.Weights.Validate(); err != nil {
		return fmt.Errorf("scoring configuration invalid: %w", err)
	}
	return nil
}

// Validate checks the engine settings.
func (e *EngineConfig) Validate() error {
	if e.WorkerConcurrency <= 0 {
		return fmt.Errorf("engine.worker_concurrency must be a positive integer")
	}
	if e.QueueSize <= 0 {
		return fmt.Errorf("engine.queue_size must be a positive integer")
	}
	if e.ScanTimeout < 0 {
		return fmt.Errorf("engine.scan_timeout must not be negative")
	}
	if e.FindingsBatchSize <= 0 {
		return fmt.Errorf("engine.findings_batch_size must be a positive integer")
	}
	return nil
}

// Validate checks the scan policy.
func (s *ScanConfig) Validate() error {
	if len(s.AuthorizedTargets) == 0 {
		return fmt.Errorf("scan.authorized_targets must list at least one target")
	}
	if len(s.DefaultModules) == 0 {
		return fmt.Errorf("scan.default_modules must list at least one module")
	}
	if s.RequestsPerSecond <= 0 {
		return fmt.Errorf("scan.requests_per_second must be positive")
	}
	return nil
}

// Validate checks the report settings.
func (r *ReportConfig) Validate() error {
	if r.OutputDir == "" {
		return fmt.Errorf("report.output_dir is required")
	}
	if !slices.Contains([]string{FormatJSON, FormatSARIF, FormatMarkdown}, r.Format) {
		return fmt.Errorf("report.format must be one of json, sarif, markdown (got %q)", r.Format)
	}
	return nil
}

// Validate requires non-negative weights that strictly decrease with severity.
func (w SeverityWeights) Validate() error {
	ordered := []float64{w.Critical, w.High, w.Medium, w.Low, w.Info}
	for i, weight := range ordered {
		if weight < 0 {
			return fmt.Errorf("scoring.weights must not be negative")
		}
		if i > 0 && weight >= ordered[i-1] {
			return fmt.Errorf("scoring.weights must strictly decrease as severity decreases")
		}
	}
	if w.Critical <= 0 {
		return fmt.Errorf("scoring.weights.critical must be positive")
	}
	return nil
}
