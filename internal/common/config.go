package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/robfig/cron/v3"
)

// Config represents the application configuration
type Config struct {
	Environment string        `toml:"environment"` // "development" or "production"
	Server      ServerConfig  `toml:"server"`       // health/metrics endpoint, not the job API surface
	Storage     StorageConfig `toml:"storage"`
	Logging     LoggingConfig `toml:"logging"`
	Jobs        JobsConfig    `toml:"jobs"`
	Gemini      GeminiConfig  `toml:"gemini"`
	Claude      ClaudeConfig  `toml:"claude"`
	LLM         LLMConfig     `toml:"llm"`
	Workers     WorkersConfig `toml:"workers"`
}

type ServerConfig struct {
	Port int    `toml:"port"`
	Host string `toml:"host"`
}

// StorageConfig selects and configures the JobStore/ProgressChannel backend.
type StorageConfig struct {
	Type     string         `toml:"type"` // "postgres" or "badger"
	Postgres PostgresConfig `toml:"postgres"`
	Badger   BadgerConfig   `toml:"badger"`
}

// PostgresConfig configures the Postgres-backed job store and LISTEN/NOTIFY progress channel.
type PostgresConfig struct {
	Host            string `toml:"host"`
	Port            int    `toml:"port"`
	User            string `toml:"user"`
	Password        string `toml:"password"`
	Database        string `toml:"database"`
	SSLMode         string `toml:"ssl_mode"`
	MaxOpenConns    int    `toml:"max_open_conns"`
	MaxIdleConns    int    `toml:"max_idle_conns"`
	ConnMaxLifetime string `toml:"conn_max_lifetime"` // duration string, e.g. "30m"
}

// BadgerConfig represents the embedded, single-process job store alternative to Postgres.
type BadgerConfig struct {
	Path           string `toml:"path"`
	ResetOnStartup bool   `toml:"reset_on_startup"`
}

type LoggingConfig struct {
	Level      string   `toml:"level"`       // "debug", "info", "warn", "error"
	Format     string   `toml:"format"`      // "json" or "text"
	Output     []string `toml:"output"`      // "stdout", "file"
	TimeFormat string   `toml:"time_format"` // default: "15:04:05.000"
}

// JobsConfig contains the tunables for the job execution core: worker pool sizing,
// retry policy, batching, and the self-healing requeue threshold.
type JobsConfig struct {
	MaxWorkers                  int           `toml:"max_workers"`
	JobTimeoutSeconds           int           `toml:"job_timeout_seconds"`
	MaxRetries                  int           `toml:"max_retries"`
	RetryBaseDelay              time.Duration `toml:"retry_base_delay"`
	ConsecutiveFailureThreshold int           `toml:"consecutive_failure_threshold"`
	DefaultBatchSize            int           `toml:"default_batch_size"`
	ProgressMaxAge              time.Duration `toml:"progress_max_age"`
	ProgressCleanupSchedule     string        `toml:"progress_cleanup_schedule"` // cron expression
	EnabledDefinitions          []string      `toml:"enabled_definitions"`       // job type names registered at startup
}

// GeminiConfig contains Google Gemini API configuration for the auto_tag job's
// remote inference backend variant.
type GeminiConfig struct {
	APIKey      string  `toml:"api_key"`
	Model       string  `toml:"model"`
	Timeout     string  `toml:"timeout"`
	RateLimit   string  `toml:"rate_limit"`
	Temperature float32 `toml:"temperature"`
}

// ClaudeConfig contains Anthropic Claude API configuration for the auto_tag job's
// remote inference backend variant.
type ClaudeConfig struct {
	APIKey      string  `toml:"api_key"`
	Model       string  `toml:"model"`
	MaxTokens   int     `toml:"max_tokens"`
	Timeout     string  `toml:"timeout"`
	RateLimit   string  `toml:"rate_limit"`
	Temperature float32 `toml:"temperature"`
}

// InferenceProvider identifies which auto_tag backend variant to use.
type InferenceProvider string

const (
	InferenceProviderLocal  InferenceProvider = "local"
	InferenceProviderGemini InferenceProvider = "gemini"
	InferenceProviderClaude InferenceProvider = "claude"
)

// LLMConfig selects the default inference backend for the auto_tag job definition.
type LLMConfig struct {
	DefaultProvider InferenceProvider `toml:"default_provider"`
}

// WorkersConfig contains worker-pool-wide debug behavior.
type WorkersConfig struct {
	Debug bool `toml:"debug"`
}

// NewDefaultConfig creates a configuration with default values.
// Technical parameters are hardcoded here for production stability.
// Only user-facing settings should be exposed in lumina.toml.
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Port: 8080,
			Host: "localhost",
		},
		Storage: StorageConfig{
			Type: "postgres",
			Postgres: PostgresConfig{
				Host:            "localhost",
				Port:            5432,
				User:            "lumina",
				Database:        "lumina",
				SSLMode:         "disable",
				MaxOpenConns:    10,
				MaxIdleConns:    5,
				ConnMaxLifetime: "30m",
			},
			Badger: BadgerConfig{
				Path: "./data/jobs",
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: []string{"stdout", "file"},
		},
		Jobs: JobsConfig{
			MaxWorkers:                  DefaultMaxJobWorkers,
			JobTimeoutSeconds:           DefaultJobTimeoutSeconds,
			MaxRetries:                  DefaultJobMaxRetries,
			RetryBaseDelay:              DefaultRetryDelay,
			ConsecutiveFailureThreshold: DefaultConsecutiveFailureLimit,
			DefaultBatchSize:            100,
			ProgressMaxAge:              DefaultProgressMaxAge,
			ProgressCleanupSchedule:     "0 0 * * * *", // hourly
			EnabledDefinitions:          []string{"scan", "detect_duplicates", "detect_bursts", "auto_tag"},
		},
		Gemini: GeminiConfig{
			Model:       "gemini-3-flash-preview",
			Timeout:     "5m",
			RateLimit:   "4s",
			Temperature: 0.7,
		},
		Claude: ClaudeConfig{
			Model:       "claude-haiku-3-5-20241022",
			MaxTokens:   8192,
			Timeout:     "5m",
			RateLimit:   "1s",
			Temperature: 0.7,
		},
		LLM: LLMConfig{
			DefaultProvider: InferenceProviderLocal,
		},
		Workers: WorkersConfig{
			Debug: false,
		},
	}
}

// LoadFromFile loads configuration with priority: default -> file -> env
func LoadFromFile(path string) (*Config, error) {
	if path == "" {
		return LoadFromFiles()
	}
	return LoadFromFiles(path)
}

// LoadFromFiles loads configuration from multiple files with priority:
// default -> file1 -> file2 -> ... -> env. Later files override earlier files.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(config)

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config.
// Environment variables have the highest priority, matching spec-mandated
// knobs like MAX_JOB_WORKERS and JOB_TIMEOUT_SECONDS.
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("LUMINA_ENV"); env != "" {
		config.Environment = env
	} else if env := os.Getenv("GO_ENV"); env != "" {
		config.Environment = env
	}

	if port := os.Getenv("LUMINA_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv("LUMINA_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}

	if storageType := os.Getenv("LUMINA_STORAGE_TYPE"); storageType != "" {
		config.Storage.Type = storageType
	}
	if host := os.Getenv("LUMINA_POSTGRES_HOST"); host != "" {
		config.Storage.Postgres.Host = host
	}
	if port := os.Getenv("LUMINA_POSTGRES_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Storage.Postgres.Port = p
		}
	}
	if user := os.Getenv("LUMINA_POSTGRES_USER"); user != "" {
		config.Storage.Postgres.User = user
	}
	if password := os.Getenv("LUMINA_POSTGRES_PASSWORD"); password != "" {
		config.Storage.Postgres.Password = password
	}
	if db := os.Getenv("LUMINA_POSTGRES_DATABASE"); db != "" {
		config.Storage.Postgres.Database = db
	}
	if sslMode := os.Getenv("LUMINA_POSTGRES_SSL_MODE"); sslMode != "" {
		config.Storage.Postgres.SSLMode = sslMode
	}
	if badgerPath := os.Getenv("LUMINA_BADGER_PATH"); badgerPath != "" {
		config.Storage.Badger.Path = badgerPath
	}

	if level := os.Getenv("LUMINA_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if format := os.Getenv("LUMINA_LOG_FORMAT"); format != "" {
		config.Logging.Format = format
	}
	if output := os.Getenv("LUMINA_LOG_OUTPUT"); output != "" {
		outputs := []string{}
		for _, o := range splitString(output, ",") {
			trimmed := trimSpace(o)
			if trimmed != "" {
				outputs = append(outputs, trimmed)
			}
		}
		if len(outputs) > 0 {
			config.Logging.Output = outputs
		}
	}

	if maxWorkers := os.Getenv("MAX_JOB_WORKERS"); maxWorkers != "" {
		if mw, err := strconv.Atoi(maxWorkers); err == nil {
			config.Jobs.MaxWorkers = mw
		}
	}
	if timeoutSeconds := os.Getenv("JOB_TIMEOUT_SECONDS"); timeoutSeconds != "" {
		if ts, err := strconv.Atoi(timeoutSeconds); err == nil {
			config.Jobs.JobTimeoutSeconds = ts
		}
	}
	if maxRetries := os.Getenv("JOB_MAX_RETRIES"); maxRetries != "" {
		if mr, err := strconv.Atoi(maxRetries); err == nil {
			config.Jobs.MaxRetries = mr
		}
	}
	if threshold := os.Getenv("CONSECUTIVE_FAILURE_THRESHOLD"); threshold != "" {
		if t, err := strconv.Atoi(threshold); err == nil {
			config.Jobs.ConsecutiveFailureThreshold = t
		}
	}
	if batchSize := os.Getenv("LUMINA_JOB_BATCH_SIZE"); batchSize != "" {
		if bs, err := strconv.Atoi(batchSize); err == nil {
			config.Jobs.DefaultBatchSize = bs
		}
	}
	if definitions := os.Getenv("LUMINA_ENABLED_DEFINITIONS"); definitions != "" {
		enabled := []string{}
		for _, d := range splitString(definitions, ",") {
			trimmed := trimSpace(d)
			if trimmed != "" {
				enabled = append(enabled, trimmed)
			}
		}
		if len(enabled) > 0 {
			config.Jobs.EnabledDefinitions = enabled
		}
	}

	if apiKey := os.Getenv("LUMINA_GEMINI_API_KEY"); apiKey != "" {
		config.Gemini.APIKey = apiKey
	} else if apiKey := os.Getenv("GOOGLE_API_KEY"); apiKey != "" {
		config.Gemini.APIKey = apiKey
	}
	if model := os.Getenv("LUMINA_GEMINI_MODEL"); model != "" {
		config.Gemini.Model = model
	}
	if timeout := os.Getenv("LUMINA_GEMINI_TIMEOUT"); timeout != "" {
		config.Gemini.Timeout = timeout
	}
	if rateLimit := os.Getenv("LUMINA_GEMINI_RATE_LIMIT"); rateLimit != "" {
		config.Gemini.RateLimit = rateLimit
	}

	if apiKey := os.Getenv("ANTHROPIC_API_KEY"); apiKey != "" {
		config.Claude.APIKey = apiKey
	}
	if apiKey := os.Getenv("LUMINA_CLAUDE_API_KEY"); apiKey != "" {
		config.Claude.APIKey = apiKey
	}
	if model := os.Getenv("LUMINA_CLAUDE_MODEL"); model != "" {
		config.Claude.Model = model
	}
	if maxTokens := os.Getenv("LUMINA_CLAUDE_MAX_TOKENS"); maxTokens != "" {
		if mt, err := strconv.Atoi(maxTokens); err == nil {
			config.Claude.MaxTokens = mt
		}
	}
	if timeout := os.Getenv("LUMINA_CLAUDE_TIMEOUT"); timeout != "" {
		config.Claude.Timeout = timeout
	}
	if rateLimit := os.Getenv("LUMINA_CLAUDE_RATE_LIMIT"); rateLimit != "" {
		config.Claude.RateLimit = rateLimit
	}

	if provider := os.Getenv("LUMINA_LLM_DEFAULT_PROVIDER"); provider != "" {
		config.LLM.DefaultProvider = InferenceProvider(provider)
	}

	if debug := os.Getenv("LUMINA_WORKERS_DEBUG"); debug != "" {
		if d, err := strconv.ParseBool(debug); err == nil {
			config.Workers.Debug = d
		}
	}
}

// ApplyFlagOverrides applies command-line flag overrides to config.
func ApplyFlagOverrides(config *Config, port int, host string) {
	if port > 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
}

// Helper functions for string manipulation, kept dependency-free to match
// the rest of this package's minimal-footprint style.
func splitString(s, sep string) []string {
	result := []string{}
	start := 0
	for i := 0; i < len(s); i++ {
		if i+len(sep) <= len(s) && s[i:i+len(sep)] == sep {
			result = append(result, s[start:i])
			start = i + len(sep)
			i = start - 1
		}
	}
	result = append(result, s[start:])
	return result
}

func trimSpace(s string) string {
	start := 0
	end := len(s)
	for start < end && (s[start] == ' ' || s[start] == '\t' || s[start] == '\n' || s[start] == '\r') {
		start++
	}
	for end > start && (s[end-1] == ' ' || s[end-1] == '\t' || s[end-1] == '\n' || s[end-1] == '\r') {
		end--
	}
	return s[start:end]
}

// ValidateJobSchedule validates a cron schedule expression and rejects a minute
// field of "*" or "*/N" with N below 5, so housekeeping schedules (progress
// cleanup, stale-job sweep) can't be set to run every minute. Minute lists and
// ranges (e.g. "0,1,2" or "0-59") are not checked against the 5-minute minimum.
func ValidateJobSchedule(schedule string) error {
	parser := cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	_, err := parser.Parse(schedule)
	if err != nil {
		return fmt.Errorf("invalid cron expression: %w", err)
	}

	parts := strings.Fields(schedule)
	if len(parts) < 6 {
		return fmt.Errorf("invalid cron format: expected 6 fields (with seconds)")
	}

	minuteField := parts[1]
	if minuteField == "*" {
		return fmt.Errorf("schedule must have minimum 5-minute interval (every minute is not allowed)")
	}
	if strings.HasPrefix(minuteField, "*/") {
		intervalStr := strings.TrimPrefix(minuteField, "*/")
		interval, err := strconv.Atoi(intervalStr)
		if err == nil && interval < 5 {
			return fmt.Errorf("schedule interval must be at least 5 minutes, got %d", interval)
		}
	}

	return nil
}

// IsProduction returns true if the environment is set to production.
func (c *Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.Environment))
	return env == "production" || env == "prod"
}

// DeepCloneConfig creates a deep copy of the Config struct so callers can mutate
// a working copy without affecting the shared loaded configuration.
func DeepCloneConfig(c *Config) *Config {
	if c == nil {
		return nil
	}

	clone := *c

	if len(c.Logging.Output) > 0 {
		clone.Logging.Output = make([]string, len(c.Logging.Output))
		copy(clone.Logging.Output, c.Logging.Output)
	}

	if len(c.Jobs.EnabledDefinitions) > 0 {
		clone.Jobs.EnabledDefinitions = make([]string, len(c.Jobs.EnabledDefinitions))
		copy(clone.Jobs.EnabledDefinitions, c.Jobs.EnabledDefinitions)
	}

	return &clone
}
