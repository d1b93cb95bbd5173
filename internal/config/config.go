package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the valuecalc server and CLI.
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	AI         AIConfig
	Jobs       JobsConfig
	Classify   ClassifyConfig
	DataSource DataSourceConfig
	Resume     ResumeConfig
}

type ServerConfig struct {
	Port            int
	Env             string
	RateLimitPerMin int
	MigrationsDir   string
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL       string
	StatusTTL time.Duration
}

type AIConfig struct {
	Provider         string
	InferenceTimeout time.Duration
	Ollama           OllamaConfig
	VLLM             VLLMConfig
	OpenAI           OpenAIConfig
	Anthropic        AnthropicConfig
}

type OllamaConfig struct {
	BaseURL string
	Model   string
}

type VLLMConfig struct {
	BaseURL string
	Model   string
}

type OpenAIConfig struct {
	BaseURL string
	APIKey  string
	Model   string
}

type AnthropicConfig struct {
	BaseURL string
	APIKey  string
	Model   string
}

// JobsConfig bounds the background worker pool.
type JobsConfig struct {
	Workers     int
	QueueSize   int
	SoftTimeout time.Duration
	HardTimeout time.Duration
}

// ClassifyConfig tunes the classification batch runner.
type ClassifyConfig struct {
	BatchSize  int
	BatchDelay time.Duration
	MaxRetries int
	RetryDelay time.Duration
	DailyQuota int
	QuotaMode  string
}

// DataSourceConfig applies to every pool the data-source manager opens.
type DataSourceConfig struct {
	MaxConns        int
	ConnMaxLifetime time.Duration
}

// ResumeConfig controls the scheduled continuation of quota-paused tasks.
type ResumeConfig struct {
	Enabled  bool
	Schedule string
}

const (
	QuotaModeItems = "items"
	QuotaModeCalls = "calls"
)

// ProviderMock classifies every item into the first dimension without calling
// a model. It exists for dry runs of a classification setup.
const ProviderMock = "mock"

var validProviders = map[string]bool{
	"ollama":     true,
	"vllm":       true,
	"openai":     true,
	"anthropic":  true,
	ProviderMock: true,
}

// Load reads configuration from the environment, and from the file named by
// VALUECALC_CONFIG when set, and returns a validated Config.
func Load() (*Config, error) {
	cfg, err := read()
	if err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDatabase reads the same sources as Load but only requires what
// database-only commands need.
func LoadDatabase() (*Config, error) {
	cfg, err := read()
	if err != nil {
		return nil, err
	}
	if cfg.Database.URL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	return cfg, nil
}

func read() (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	if path := os.Getenv("VALUECALC_CONFIG"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:            v.GetInt("VALUECALC_PORT"),
			Env:             v.GetString("VALUECALC_ENV"),
			RateLimitPerMin: v.GetInt("RATE_LIMIT_PER_MINUTE"),
			MigrationsDir:   v.GetString("MIGRATIONS_DIR"),
		},
		Database: DatabaseConfig{
			URL:             v.GetString("DATABASE_URL"),
			MaxOpenConns:    v.GetInt("DATABASE_MAX_OPEN_CONNS"),
			MaxIdleConns:    v.GetInt("DATABASE_MAX_IDLE_CONNS"),
			ConnMaxLifetime: v.GetDuration("DATABASE_CONN_MAX_LIFETIME"),
		},
		Redis: RedisConfig{
			URL:       v.GetString("REDIS_URL"),
			StatusTTL: v.GetDuration("TASK_STATUS_TTL"),
		},
		AI: AIConfig{
			Provider:         v.GetString("AI_PROVIDER"),
			InferenceTimeout: time.Duration(v.GetInt("AI_INFERENCE_TIMEOUT_SECS")) * time.Second,
			Ollama: OllamaConfig{
				BaseURL: v.GetString("OLLAMA_BASE_URL"),
				Model:   v.GetString("OLLAMA_MODEL"),
			},
			VLLM: VLLMConfig{
				BaseURL: v.GetString("VLLM_BASE_URL"),
				Model:   v.GetString("VLLM_MODEL"),
			},
			OpenAI: OpenAIConfig{
				BaseURL: v.GetString("OPENAI_BASE_URL"),
				APIKey:  v.GetString("OPENAI_API_KEY"),
				Model:   v.GetString("OPENAI_MODEL"),
			},
			Anthropic: AnthropicConfig{
				BaseURL: v.GetString("ANTHROPIC_BASE_URL"),
				APIKey:  v.GetString("ANTHROPIC_API_KEY"),
				Model:   v.GetString("ANTHROPIC_MODEL"),
			},
		},
		Jobs: JobsConfig{
			Workers:     v.GetInt("JOB_WORKERS"),
			QueueSize:   v.GetInt("JOB_QUEUE_SIZE"),
			SoftTimeout: v.GetDuration("JOB_SOFT_TIMEOUT"),
			HardTimeout: v.GetDuration("JOB_HARD_TIMEOUT"),
		},
		Classify: ClassifyConfig{
			BatchSize:  v.GetInt("CLASSIFY_BATCH_SIZE"),
			BatchDelay: v.GetDuration("CLASSIFY_BATCH_DELAY"),
			MaxRetries: v.GetInt("CLASSIFY_MAX_RETRIES"),
			RetryDelay: v.GetDuration("CLASSIFY_RETRY_DELAY"),
			DailyQuota: v.GetInt("CLASSIFY_DAILY_QUOTA"),
			QuotaMode:  strings.ToLower(v.GetString("CLASSIFY_QUOTA_MODE")),
		},
		DataSource: DataSourceConfig{
			MaxConns:        v.GetInt("DATASOURCE_MAX_CONNS"),
			ConnMaxLifetime: v.GetDuration("DATASOURCE_CONN_MAX_LIFETIME"),
		},
		Resume: ResumeConfig{
			Enabled:  v.GetBool("RESUME_ENABLED"),
			Schedule: v.GetString("RESUME_CRON"),
		},
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("VALUECALC_PORT", 8080)
	v.SetDefault("VALUECALC_ENV", "development")
	v.SetDefault("RATE_LIMIT_PER_MINUTE", 60)
	v.SetDefault("MIGRATIONS_DIR", "migrations")

	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("DATABASE_MAX_OPEN_CONNS", 25)
	v.SetDefault("DATABASE_MAX_IDLE_CONNS", 5)
	v.SetDefault("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute)

	v.SetDefault("REDIS_URL", "")
	v.SetDefault("TASK_STATUS_TTL", 24*time.Hour)

	v.SetDefault("AI_PROVIDER", "")
	v.SetDefault("AI_INFERENCE_TIMEOUT_SECS", 120)
	v.SetDefault("OLLAMA_BASE_URL", "http://localhost:11434")
	v.SetDefault("OLLAMA_MODEL", "qwen2.5")
	v.SetDefault("VLLM_BASE_URL", "http://localhost:8000")
	v.SetDefault("VLLM_MODEL", "")
	v.SetDefault("OPENAI_BASE_URL", "https://api.openai.com/v1")
	v.SetDefault("OPENAI_API_KEY", "")
	v.SetDefault("OPENAI_MODEL", "gpt-4o-mini")
	v.SetDefault("ANTHROPIC_BASE_URL", "https://api.anthropic.com")
	v.SetDefault("ANTHROPIC_API_KEY", "")
	v.SetDefault("ANTHROPIC_MODEL", "claude-sonnet-4-5-20250929")

	v.SetDefault("JOB_WORKERS", 4)
	v.SetDefault("JOB_QUEUE_SIZE", 64)
	v.SetDefault("JOB_SOFT_TIMEOUT", 2*time.Hour)
	v.SetDefault("JOB_HARD_TIMEOUT", 2*time.Hour+10*time.Minute)

	v.SetDefault("CLASSIFY_BATCH_SIZE", 20)
	v.SetDefault("CLASSIFY_BATCH_DELAY", 2*time.Second)
	v.SetDefault("CLASSIFY_MAX_RETRIES", 3)
	v.SetDefault("CLASSIFY_RETRY_DELAY", 5*time.Second)
	v.SetDefault("CLASSIFY_DAILY_QUOTA", 2000)
	v.SetDefault("CLASSIFY_QUOTA_MODE", QuotaModeItems)

	v.SetDefault("DATASOURCE_MAX_CONNS", 4)
	v.SetDefault("DATASOURCE_CONN_MAX_LIFETIME", 30*time.Minute)

	v.SetDefault("RESUME_ENABLED", false)
	v.SetDefault("RESUME_CRON", "10 0 * * *")
}

func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("VALUECALC_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}

	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.AI.Provider == "" {
		return fmt.Errorf("AI_PROVIDER is required")
	}
	if !validProviders[c.AI.Provider] {
		return fmt.Errorf("AI_PROVIDER must be one of ollama, vllm, openai, anthropic, mock; got %q", c.AI.Provider)
	}
	if c.AI.Provider == "openai" && c.AI.OpenAI.APIKey == "" {
		return fmt.Errorf("OPENAI_API_KEY is required when AI_PROVIDER is openai")
	}
	if c.AI.Provider == "anthropic" && c.AI.Anthropic.APIKey == "" {
		return fmt.Errorf("ANTHROPIC_API_KEY is required when AI_PROVIDER is anthropic")
	}
	if c.AI.Provider == "vllm" && c.AI.VLLM.Model == "" {
		return fmt.Errorf("VLLM_MODEL is required when AI_PROVIDER is vllm")
	}

	if c.Jobs.Workers <= 0 {
		return fmt.Errorf("JOB_WORKERS must be positive, got %d", c.Jobs.Workers)
	}
	if c.Jobs.SoftTimeout <= 0 {
		return fmt.Errorf("JOB_SOFT_TIMEOUT must be positive")
	}
	if c.Jobs.HardTimeout < c.Jobs.SoftTimeout {
		return fmt.Errorf("JOB_HARD_TIMEOUT (%s) must not be shorter than JOB_SOFT_TIMEOUT (%s)",
			c.Jobs.HardTimeout, c.Jobs.SoftTimeout)
	}

	if c.Classify.BatchSize <= 0 {
		return fmt.Errorf("CLASSIFY_BATCH_SIZE must be positive, got %d", c.Classify.BatchSize)
	}
	if c.Classify.MaxRetries < 0 {
		return fmt.Errorf("CLASSIFY_MAX_RETRIES must not be negative, got %d", c.Classify.MaxRetries)
	}
	if c.Classify.DailyQuota <= 0 {
		return fmt.Errorf("CLASSIFY_DAILY_QUOTA must be positive, got %d", c.Classify.DailyQuota)
	}
	if c.Classify.QuotaMode != QuotaModeItems && c.Classify.QuotaMode != QuotaModeCalls {
		return fmt.Errorf("CLASSIFY_QUOTA_MODE must be one of items, calls; got %q", c.Classify.QuotaMode)
	}

	if c.Resume.Enabled && strings.TrimSpace(c.Resume.Schedule) == "" {
		return fmt.Errorf("RESUME_CRON is required when RESUME_ENABLED is true")
	}

	return nil
}
