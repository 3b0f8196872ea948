package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration
type Config struct {
	Log      LogConfig      `yaml:"log"`
	Database DatabaseConfig `yaml:"database"`
	Server   ServerConfig   `yaml:"server"`
	Storage  StorageConfig  `yaml:"storage"`
	Provider ProviderConfig `yaml:"provider"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Ingest   IngestConfig   `yaml:"ingest"`
	Dedup    DedupConfig    `yaml:"dedup"`
	Events   EventsConfig   `yaml:"events"`
	Redis    RedisConfig    `yaml:"redis"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DatabaseConfig holds database-related configuration
type DatabaseConfig struct {
	Driver           string        `yaml:"driver"` // postgres | sqlite
	DSN              string        `yaml:"dsn"`
	MaxConns         int32         `yaml:"max_conns"`
	MinConns         int32         `yaml:"min_conns"`
	MaxConnLifetime  time.Duration `yaml:"max_conn_lifetime"`
	MaxConnIdleTime  time.Duration `yaml:"max_conn_idle_time"`
	DialTimeout      time.Duration `yaml:"dial_timeout"`
	StatementTimeout time.Duration `yaml:"statement_timeout"`
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	HTTPAddr       string        `yaml:"http_addr"`
	GRPCAddr       string        `yaml:"grpc_addr"`
	TriggerSecret  string        `yaml:"trigger_secret"`
	AdminSecret    string        `yaml:"admin_secret"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	RateLimit      int           `yaml:"rate_limit"` // requests per minute per caller, 0 disables
}

type StorageConfig struct {
	Backend         string        `yaml:"backend"` // gcs | fs
	Bucket          string        `yaml:"bucket"`
	RootDir         string        `yaml:"root_dir"`
	SignedURLTTL    time.Duration `yaml:"signed_url_ttl"`
	CredentialsFile string        `yaml:"credentials_file"`
	Timeout         time.Duration `yaml:"timeout"`
	UploadPrefix    string        `yaml:"upload_prefix"` // object trigger only ingests below this prefix
}

type ProviderConfig struct {
	Name        string        `yaml:"name"` // openai | vertex
	Model       string        `yaml:"model"`
	APIKey      string        `yaml:"api_key"`
	BaseURL     string        `yaml:"base_url"`
	Project     string        `yaml:"project"`
	Location    string        `yaml:"location"`
	Temperature float32       `yaml:"temperature"`
	Timeout     time.Duration `yaml:"timeout"`
}

type PipelineConfig struct {
	BatchSize           int           `yaml:"batch_size"`
	MaxBatchesPerTick   int           `yaml:"max_batches_per_tick"`
	ConfidenceThreshold float64       `yaml:"confidence_threshold"`
	IngestTickAttempts  int           `yaml:"ingest_tick_attempts"`
	TickInterval        time.Duration `yaml:"tick_interval"` // 0 disables the in-process scheduler
	Workers             int           `yaml:"workers"`
}

type IngestConfig struct {
	MaxPages        int            `yaml:"max_pages"`
	DailyLimit      int            `yaml:"daily_limit"`
	LimitExceptions map[string]int `yaml:"limit_exceptions"` // user id or email -> limit, 0 = unlimited
}

type DedupConfig struct {
	Threshold float64 `yaml:"threshold"`
	MinLength int     `yaml:"min_length"`
}

type EventsConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Log: LogConfig{Level: "info", Format: "text"},
		Database: DatabaseConfig{
			Driver:          "postgres",
			MaxConns:        20,
			MinConns:        2,
			MaxConnLifetime: 30 * time.Minute,
			MaxConnIdleTime: 5 * time.Minute,
			DialTimeout:     3 * time.Second,
		},
		Server: ServerConfig{
			HTTPAddr:       ":8080",
			GRPCAddr:       ":9090",
			RequestTimeout: 5 * time.Minute,
		},
		Storage: StorageConfig{
			Backend:      "gcs",
			SignedURLTTL: 180 * time.Second,
			Timeout:      60 * time.Second,
		},
		Provider: ProviderConfig{
			Name:     "openai",
			Model:    "gpt-4o-mini",
			BaseURL:  "https://api.openai.com/v1",
			Location: "us-central1",
			Timeout:  120 * time.Second,
		},
		Pipeline: PipelineConfig{
			BatchSize:           6,
			MaxBatchesPerTick:   2,
			ConfidenceThreshold: 0.6,
			IngestTickAttempts:  3,
			TickInterval:        time.Minute,
			Workers:             2,
		},
		Ingest: IngestConfig{
			MaxPages:        100,
			DailyLimit:      2,
			LimitExceptions: map[string]int{},
		},
		Dedup:  DedupConfig{Threshold: 0.82, MinLength: 20},
		Events: EventsConfig{Topic: "document-processing-events"},
	}
}

// LoadConfig loads defaults, then the optional YAML file, then environment
// overrides. An empty path falls back to INTAKE_CONFIG.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		path = os.Getenv("INTAKE_CONFIG")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnv("LOG_FORMAT", c.Log.Format)

	c.Database.Driver = getEnv("DB_DRIVER", c.Database.Driver)
	c.Database.DSN = getEnv("DB_URL", c.Database.DSN)
	c.Database.MaxConns = getEnvAsInt32("DB_MAX_CONNS", c.Database.MaxConns)
	c.Database.MinConns = getEnvAsInt32("DB_MIN_CONNS", c.Database.MinConns)
	c.Database.MaxConnLifetime = getEnvAsDuration("DB_MAX_CONN_LIFETIME", c.Database.MaxConnLifetime)
	c.Database.MaxConnIdleTime = getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", c.Database.MaxConnIdleTime)
	c.Database.DialTimeout = getEnvAsDuration("DB_DIAL_TIMEOUT", c.Database.DialTimeout)
	c.Database.StatementTimeout = getEnvAsDuration("DB_STATEMENT_TIMEOUT", c.Database.StatementTimeout)

	c.Server.HTTPAddr = getEnv("HTTP_ADDR", c.Server.HTTPAddr)
	c.Server.GRPCAddr = getEnv("GRPC_ADDR", c.Server.GRPCAddr)
	c.Server.TriggerSecret = getEnv("TRIGGER_SECRET", c.Server.TriggerSecret)
	c.Server.AdminSecret = getEnv("ADMIN_SECRET", c.Server.AdminSecret)
	c.Server.RequestTimeout = getEnvAsDuration("REQUEST_TIMEOUT", c.Server.RequestTimeout)
	c.Server.RateLimit = getEnvAsInt("RATE_LIMIT_PER_MINUTE", c.Server.RateLimit)

	c.Storage.Backend = getEnv("STORAGE_BACKEND", c.Storage.Backend)
	c.Storage.Bucket = getEnv("STORAGE_BUCKET", c.Storage.Bucket)
	c.Storage.RootDir = getEnv("STORAGE_ROOT", c.Storage.RootDir)
	c.Storage.SignedURLTTL = getEnvAsDuration("SIGNED_URL_TTL", c.Storage.SignedURLTTL)
	c.Storage.CredentialsFile = getEnv("GOOGLE_APPLICATION_CREDENTIALS", c.Storage.CredentialsFile)
	c.Storage.Timeout = getEnvAsDuration("STORAGE_TIMEOUT", c.Storage.Timeout)
	c.Storage.UploadPrefix = getEnv("STORAGE_UPLOAD_PREFIX", c.Storage.UploadPrefix)

	c.Provider.Name = getEnv("EXTRACTION_PROVIDER", c.Provider.Name)
	c.Provider.Model = getEnv("EXTRACTION_MODEL", c.Provider.Model)
	c.Provider.APIKey = getEnv("OPENAI_API_KEY", c.Provider.APIKey)
	c.Provider.BaseURL = getEnv("OPENAI_BASE_URL", c.Provider.BaseURL)
	c.Provider.Project = getEnv("GCP_PROJECT", c.Provider.Project)
	c.Provider.Location = getEnv("GCP_LOCATION", c.Provider.Location)
	c.Provider.Temperature = getEnvAsFloat32("EXTRACTION_TEMPERATURE", c.Provider.Temperature)
	c.Provider.Timeout = getEnvAsDuration("EXTRACTION_TIMEOUT", c.Provider.Timeout)

	c.Pipeline.BatchSize = getEnvAsInt("BATCH_SIZE", c.Pipeline.BatchSize)
	c.Pipeline.MaxBatchesPerTick = getEnvAsInt("MAX_BATCHES_PER_TICK", c.Pipeline.MaxBatchesPerTick)
	c.Pipeline.ConfidenceThreshold = getEnvAsFloat64("CONFIDENCE_THRESHOLD", c.Pipeline.ConfidenceThreshold)
	c.Pipeline.IngestTickAttempts = getEnvAsInt("INGEST_TICK_ATTEMPTS", c.Pipeline.IngestTickAttempts)
	c.Pipeline.TickInterval = getEnvAsDuration("TICK_INTERVAL", c.Pipeline.TickInterval)
	c.Pipeline.Workers = getEnvAsInt("TICK_WORKERS", c.Pipeline.Workers)

	c.Ingest.MaxPages = getEnvAsInt("MAX_PAGES", c.Ingest.MaxPages)
	c.Ingest.DailyLimit = getEnvAsInt("DAILY_UPLOAD_LIMIT", c.Ingest.DailyLimit)
	if raw := os.Getenv("UPLOAD_LIMIT_EXCEPTIONS"); raw != "" {
		if c.Ingest.LimitExceptions == nil {
			c.Ingest.LimitExceptions = map[string]int{}
		}
		for k, v := range parseLimitExceptions(raw) {
			c.Ingest.LimitExceptions[k] = v
		}
	}

	c.Dedup.Threshold = getEnvAsFloat64("DEDUP_THRESHOLD", c.Dedup.Threshold)
	c.Dedup.MinLength = getEnvAsInt("DEDUP_MIN_LENGTH", c.Dedup.MinLength)

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		c.Events.Brokers = splitList(brokers)
	}
	c.Events.Topic = getEnv("KAFKA_TOPIC", c.Events.Topic)

	c.Redis.Addr = getEnv("REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = getEnv("REDIS_PASSWORD", c.Redis.Password)
	c.Redis.DB = getEnvAsInt("REDIS_DB", c.Redis.DB)
}

// parseLimitExceptions reads "alice@example.com=10,user-id=0".
func parseLimitExceptions(raw string) map[string]int {
	out := map[string]int{}
	for _, pair := range splitList(raw) {
		key, val, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(val))
		if err != nil || n < 0 {
			continue
		}
		out[strings.ToLower(strings.TrimSpace(key))] = n
	}
	return out
}

func splitList(raw string) []string {
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsInt32(key string, defaultValue int32) int32 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 32); err == nil {
			return int32(intVal)
		}
	}
	return defaultValue
}

func getEnvAsFloat32(key string, defaultValue float32) float32 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 32); err == nil {
			return float32(floatVal)
		}
	}
	return defaultValue
}

func getEnvAsFloat64(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// Validate checks the settings every binary needs. Provider credentials are
// checked separately by ValidateProvider so offline CLI commands still run.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return ConfigError(fmt.Sprintf("unsupported DB_DRIVER %q", c.Database.Driver))
	}
	if c.Database.DSN == "" {
		return ConfigError("DB_URL is required")
	}
	switch c.Storage.Backend {
	case "gcs":
	case "fs":
		if c.Storage.RootDir == "" {
			return ConfigError("STORAGE_ROOT is required for the fs backend")
		}
	default:
		return ConfigError(fmt.Sprintf("unsupported STORAGE_BACKEND %q", c.Storage.Backend))
	}
	if c.Pipeline.BatchSize < 1 {
		return ConfigError("BATCH_SIZE must be at least 1")
	}
	if c.Pipeline.MaxBatchesPerTick < 1 {
		return ConfigError("MAX_BATCHES_PER_TICK must be at least 1")
	}
	if c.Pipeline.ConfidenceThreshold < 0 || c.Pipeline.ConfidenceThreshold > 1 {
		return ConfigError("CONFIDENCE_THRESHOLD must be within [0,1]")
	}
	if c.Ingest.MaxPages < 1 {
		return ConfigError("MAX_PAGES must be at least 1")
	}
	if c.Ingest.DailyLimit < 0 {
		return ConfigError("DAILY_UPLOAD_LIMIT must not be negative")
	}
	if c.Dedup.Threshold <= 0 || c.Dedup.Threshold > 1 {
		return ConfigError("DEDUP_THRESHOLD must be within (0,1]")
	}
	return nil
}

// ValidateProvider checks extraction provider settings.
func (c *Config) ValidateProvider() error {
	switch c.Provider.Name {
	case "openai":
		if c.Provider.APIKey == "" {
			return ConfigError("OPENAI_API_KEY is required")
		}
	case "vertex":
		if c.Provider.Project == "" || c.Provider.Location == "" {
			return ConfigError("GCP_PROJECT and GCP_LOCATION are required for the vertex provider")
		}
	default:
		return ConfigError(fmt.Sprintf("unsupported EXTRACTION_PROVIDER %q", c.Provider.Name))
	}
	return nil
}
