package infra

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config: корневая структура конфигурации планировщика и агентов.
// Собирается один раз при старте процесса и передается явно.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Platform    PlatformConfig    `mapstructure:"platform"`
	LLM         LLMConfig         `mapstructure:"llm"`
	Scheduler   SchedulerConfig   `mapstructure:"scheduler"`
	Remediation RemediationConfig `mapstructure:"remediation"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Kubernetes  KubernetesConfig  `mapstructure:"kubernetes"`
	Auth        AuthConfig        `mapstructure:"auth"`
	Engine      EngineConfig      `mapstructure:"engine"`
	Logger      LoggerConfig      `mapstructure:"logger"`
}

// ServerConfig описывает служебные порты (admin HTTP и gRPC health).
type ServerConfig struct {
	AdminPort    int           `mapstructure:"admin_port"`
	GRPCPort     int           `mapstructure:"grpc_port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// PlatformConfig описывает REST API платформы (задачи, инциденты, сигналы).
type PlatformConfig struct {
	BaseURL  string        `mapstructure:"base_url"`
	APIToken string        `mapstructure:"api_token"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// LLMConfig описывает провайдера текстовых completion.
type LLMConfig struct {
	Provider  string        `mapstructure:"provider"` // openai, anthropic
	Model     string        `mapstructure:"model"`
	APIKey    string        `mapstructure:"api_key"`
	BaseURL   string        `mapstructure:"base_url"`
	MaxTokens int           `mapstructure:"max_tokens"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// SchedulerConfig: параметры основного цикла.
type SchedulerConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
	ErrorBackoff time.Duration `mapstructure:"error_backoff"`
	TaskTimeout  time.Duration `mapstructure:"task_timeout"`
	// MaxSkips: сколько опросов подряд задача с нераспознанным типом
	// остается PENDING, прежде чем ее переведут в FAILED.
	MaxSkips  int                      `mapstructure:"max_skips"`
	Schedules map[string]time.Duration `mapstructure:"schedules"`
	Tenants   []string                 `mapstructure:"tenants"`
}

// RemediationConfig: параметры исполнителя действий.
type RemediationConfig struct {
	DryRun           bool   `mapstructure:"dry_run"`
	DefaultNamespace string `mapstructure:"default_namespace"`
	ScaleStep        int32  `mapstructure:"scale_step"`
}

// DatabaseConfig описывает подключение к PostgreSQL (аудит).
type DatabaseConfig struct {
	URL      string `mapstructure:"url"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

// RedisConfig описывает подключение к Redis (Pub/Sub и Cache).
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// KubernetesConfig: пустой kubeconfig означает in-cluster конфигурацию.
type KubernetesConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Kubeconfig string `mapstructure:"kubeconfig"`
	Context    string `mapstructure:"context"`
}

// AuthConfig содержит публичный RSA ключ для проверки токенов операторов.
type AuthConfig struct {
	PublicKeyPath string `mapstructure:"public_key_path"`
	Issuer        string `mapstructure:"issuer"`
	Audience      string `mapstructure:"audience"`
	PublicKey     []byte
}

// EngineConfig: надежность внешних вызовов и буфер аудита.
type EngineConfig struct {
	AuditBufferSize    int           `mapstructure:"audit_buffer_size"`
	AuditFlushInterval time.Duration `mapstructure:"audit_flush_interval"`

	// Настройки Circuit Breaker для внешних вызовов (платформа, LLM)
	CBMaxRequests uint32        `mapstructure:"cb_max_requests"`
	CBInterval    time.Duration `mapstructure:"cb_interval"`
	CBTimeout     time.Duration `mapstructure:"cb_timeout"`

	RateLimit      float64       `mapstructure:"rate_limit"`
	RateBurst      int           `mapstructure:"rate_burst"`
	RetryAttempts  uint          `mapstructure:"retry_attempts"`
	AttemptTimeout time.Duration `mapstructure:"attempt_timeout"`
}

// LoggerConfig настраивает поведение zap логгера.
type LoggerConfig struct {
	Level      string `mapstructure:"level"`  // debug, info, warn, error
	Format     string `mapstructure:"format"` // json, console
	File       string `mapstructure:"file"`   // пусто: только stderr
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// LoadConfig инициализирует конфигурацию, объединяя значения из файла и ENV.
func LoadConfig() (*Config, error) {
	v := viper.New()

	// 1. Настройка поиска файла
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")

	// 2. ENV: SCHEDULER_POLL_INTERVAL=5s перекроет scheduler.poll_interval
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	if err := bindLegacyEnv(v); err != nil {
		return nil, err
	}

	// 3. Дефолты
	setDefaults(v)

	// 4. Чтение файла
	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Файла нет: работаем на ENV и дефолтах
	}

	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}

	// Ключ может прийти целиком через ENV (Docker/K8s) или лежать в файле
	cfg.Auth.PublicKey = loadKeyResource(cfg.Auth.PublicKeyPath, "AUTH_PUBLIC_KEY_DATA")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// bindLegacyEnv связывает привычные переменные окружения с ключами конфига.
func bindLegacyEnv(v *viper.Viper) error {
	bindings := map[string][]string{
		"platform.base_url": {"API_BASE_URL"},
		"llm.api_key":       {"LLM_API_KEY", "OPENAI_API_KEY", "ANTHROPIC_API_KEY"},
		"database.url":      {"DB_URL"},
	}
	for key, envs := range bindings {
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return fmt.Errorf("bind env for %s: %w", key, err)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.admin_port", 8081)
	v.SetDefault("server.grpc_port", 9091)
	v.SetDefault("server.read_timeout", 5*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Second)

	v.SetDefault("platform.base_url", "http://localhost:3000/api")
	v.SetDefault("platform.timeout", 30*time.Second)
	v.SetDefault("platform.api_token", "")

	v.SetDefault("llm.provider", "openai")
	v.SetDefault("llm.model", "gpt-4")
	v.SetDefault("llm.max_tokens", 2000)
	v.SetDefault("llm.timeout", 60*time.Second)
	v.SetDefault("llm.base_url", "")

	v.SetDefault("scheduler.poll_interval", 10*time.Second)
	v.SetDefault("scheduler.error_backoff", 30*time.Second)
	v.SetDefault("scheduler.task_timeout", 10*time.Minute)
	v.SetDefault("scheduler.max_skips", 3)
	v.SetDefault("scheduler.schedules", map[string]any{
		"monitoring": "60s",
		"incident":   "300s",
	})
	v.SetDefault("scheduler.tenants", []string{})

	v.SetDefault("remediation.dry_run", false)
	v.SetDefault("remediation.default_namespace", "default")
	v.SetDefault("remediation.scale_step", 1)

	v.SetDefault("database.max_conns", 15)
	v.SetDefault("database.min_conns", 2)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	// Ключи без дефолта не попадают в Unmarshal из ENV, поэтому объявляем их явно
	v.SetDefault("kubernetes.enabled", false)
	v.SetDefault("kubernetes.kubeconfig", "")
	v.SetDefault("kubernetes.context", "")
	v.SetDefault("auth.public_key_path", "")
	v.SetDefault("auth.issuer", "")
	v.SetDefault("auth.audience", "")

	v.SetDefault("engine.audit_buffer_size", 10000)
	v.SetDefault("engine.audit_flush_interval", 500*time.Millisecond)
	v.SetDefault("engine.cb_max_requests", 3)
	v.SetDefault("engine.cb_interval", 5*time.Second)
	v.SetDefault("engine.cb_timeout", 30*time.Second)
	v.SetDefault("engine.rate_limit", 50)
	v.SetDefault("engine.rate_burst", 10)
	v.SetDefault("engine.retry_attempts", 3)
	v.SetDefault("engine.attempt_timeout", 10*time.Second)

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")
	v.SetDefault("logger.file", "")
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.max_size_mb", 100)
	v.SetDefault("logger.max_backups", 10)
	v.SetDefault("logger.max_age_days", 30)
}

// Validate отсекает конфигурации, с которыми цикл не сможет работать.
func (c *Config) Validate() error {
	if c.Platform.BaseURL == "" {
		return errors.New("config: platform.base_url is required")
	}
	if c.Scheduler.PollInterval <= 0 {
		return errors.New("config: scheduler.poll_interval must be positive")
	}
	if c.Scheduler.ErrorBackoff <= 0 {
		return errors.New("config: scheduler.error_backoff must be positive")
	}
	if c.Scheduler.MaxSkips < 1 {
		return errors.New("config: scheduler.max_skips must be at least 1")
	}
	switch c.LLM.Provider {
	case "openai", "anthropic":
	default:
		return fmt.Errorf("config: unknown llm.provider %q", c.LLM.Provider)
	}
	for name, every := range c.Scheduler.Schedules {
		if every <= 0 {
			return fmt.Errorf("config: schedule %q must have a positive interval", name)
		}
	}
	return nil
}

// loadKeyResource читает PEM из ENV или из файла по пути из конфига.
func loadKeyResource(path string, envDataKey string) []byte {
	if data := os.Getenv(envDataKey); data != "" {
		return []byte(data)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			return data
		}
	}
	return nil
}
