package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/cyderes/message-search-service/internal/errors"
)

// Storage backends accepted by STORAGE_TYPE
const (
	StoragePostgreSQL = "postgresql"
	StorageSQLite     = "sqlite"
	StorageMongoDB    = "mongodb"
	StorageDynamoDB   = "dynamodb"
	StorageMemory     = "memory"
)

// Text search configurations accepted by SEARCH_TEXT_CONFIG.
// The same value drives both search_terms derivation and query normalization.
const (
	TextConfigEnglish = "english"
	TextConfigSimple  = "simple"
)

// MaxSearchLimit is the largest page size a search request may ask for
const MaxSearchLimit = 100

// Config holds all configuration for the application
type Config struct {
	Storage   StorageConfig
	Search    SearchConfig
	Ingestion IngestionConfig
	Server    ServerConfig
	Log       LogConfig
	Tracing   TracingConfig
}

// StorageConfig holds storage-related configuration
type StorageConfig struct {
	Type string

	// PostgreSQL. PostgresURI wins over the discrete DB_* settings when set.
	PostgresURI    string
	DBHost         string
	DBPort         int
	DBName         string
	DBUser         string
	DBPassword     string
	MaxConns       int
	MinConns       int
	ConnectTimeout time.Duration
	QueryTimeout   time.Duration

	SQLitePath string

	MongoDBURI      string
	MongoDBDatabase string

	Region    string // For AWS DynamoDB
	TableName string
	Endpoint  string // Custom endpoint for local testing

	// TextSearchConfig is copied from SearchConfig so backends can derive search_terms
	TextSearchConfig string
}

// SearchConfig holds query executor settings
type SearchConfig struct {
	TextConfig   string
	DefaultLimit int
	MaxLimit     int
}

// IngestionConfig holds ingestion-related configuration
type IngestionConfig struct {
	APIEndpoint string
	PageSize    int
	MaxSkip     int
	Timeout     time.Duration
	Interval    time.Duration // zero disables the scheduler
	RunOnStart  bool
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// LogConfig selects logrus level and formatter
type LogConfig struct {
	Level  string
	Format string
}

// TracingConfig contains OpenTelemetry configuration
type TracingConfig struct {
	Enabled        bool
	UseStdout      bool
	OTLPEndpoint   string
	SampleRate     float64
	ServiceName    string
	ServiceVersion string
	Environment    string
}

// Load loads configuration from environment variables with defaults
func Load() (*Config, error) {
	textConfig := strings.ToLower(getEnv("SEARCH_TEXT_CONFIG", TextConfigEnglish))

	cfg := &Config{
		Storage: StorageConfig{
			Type:             strings.ToLower(getEnv("STORAGE_TYPE", StoragePostgreSQL)),
			PostgresURI:      getEnv("POSTGRES_URI", ""),
			DBHost:           getEnv("DB_HOST", ""),
			DBPort:           getEnvInt("DB_PORT", 5432),
			DBName:           getEnv("DB_NAME", "messages"),
			DBUser:           getEnv("DB_USER", "postgres"),
			DBPassword:       getEnv("DB_PASSWORD", ""),
			MaxConns:         getEnvInt("DB_MAX_CONNS", 2),
			MinConns:         getEnvInt("DB_MIN_CONNS", 1),
			ConnectTimeout:   getEnvDuration("DB_CONNECT_TIMEOUT", 5*time.Second),
			QueryTimeout:     getEnvDuration("DB_QUERY_TIMEOUT", 10*time.Second),
			SQLitePath:       getEnv("SQLITE_PATH", "messages.db"),
			MongoDBURI:       getEnv("MONGODB_URI", ""),
			MongoDBDatabase:  getEnv("MONGODB_DATABASE", "messages"),
			Region:           getEnv("AWS_REGION", "us-west-2"),
			TableName:        getEnv("TABLE_NAME", "messages"),
			Endpoint:         getEnv("DYNAMODB_ENDPOINT", ""), // For local DynamoDB
			TextSearchConfig: textConfig,
		},
		Search: SearchConfig{
			TextConfig:   textConfig,
			DefaultLimit: getEnvInt("SEARCH_DEFAULT_LIMIT", 10),
			MaxLimit:     getEnvInt("SEARCH_MAX_LIMIT", MaxSearchLimit),
		},
		Ingestion: IngestionConfig{
			APIEndpoint: getEnv("API_ENDPOINT", "https://november7-730026606190.europe-west1.run.app"),
			PageSize:    getEnvInt("INGESTION_PAGE_SIZE", 100),
			MaxSkip:     getEnvInt("INGESTION_MAX_SKIP", 1000000),
			Timeout:     getEnvDuration("API_TIMEOUT", 30*time.Second),
			Interval:    getEnvDuration("INGESTION_INTERVAL", 0),
			RunOnStart:  getEnvBool("INGESTION_ON_START", false),
		},
		Server: ServerConfig{
			Port:         getEnvInt("SERVER_PORT", 8080),
			ReadTimeout:  getEnvDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout: getEnvDuration("SERVER_WRITE_TIMEOUT", 5*time.Minute),
			IdleTimeout:  getEnvDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Tracing: TracingConfig{
			Enabled:        getEnvBool("TRACING_ENABLED", false),
			UseStdout:      getEnvBool("TRACING_USE_STDOUT", true),
			OTLPEndpoint:   getEnv("OTLP_ENDPOINT", "localhost:4318"),
			SampleRate:     getEnvFloat("TRACING_SAMPLE_RATE", 0.1),
			ServiceName:    getEnv("SERVICE_NAME", "message-search-api"),
			ServiceVersion: getEnv("SERVICE_VERSION", "dev"),
			Environment:    getEnv("ENVIRONMENT", "development"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks cross-field constraints and required settings
func (c *Config) Validate() error {
	switch c.Search.TextConfig {
	case TextConfigEnglish, TextConfigSimple:
	default:
		return invalid("SEARCH_TEXT_CONFIG", fmt.Sprintf("unsupported text search config %q", c.Search.TextConfig))
	}

	switch c.Storage.Type {
	case StoragePostgreSQL:
		if c.Storage.PostgresURI == "" && (c.Storage.DBHost == "" || c.Storage.DBPassword == "") {
			return invalid("DB_HOST", "missing required database configuration: set POSTGRES_URI or DB_HOST and DB_PASSWORD")
		}
	case StorageMongoDB:
		if c.Storage.MongoDBURI == "" {
			return invalid("MONGODB_URI", "MONGODB_URI is required for mongodb storage")
		}
	case StorageSQLite:
		if c.Storage.SQLitePath == "" {
			return invalid("SQLITE_PATH", "SQLITE_PATH is required for sqlite storage")
		}
	case StorageDynamoDB, StorageMemory:
	default:
		return invalid("STORAGE_TYPE", fmt.Sprintf("unsupported storage type: %s", c.Storage.Type))
	}

	if c.Storage.MaxConns < 1 || c.Storage.MinConns < 0 || c.Storage.MinConns > c.Storage.MaxConns {
		return invalid("DB_MAX_CONNS", "pool bounds must satisfy 0 <= DB_MIN_CONNS <= DB_MAX_CONNS and DB_MAX_CONNS >= 1")
	}

	if c.Search.MaxLimit < 1 || c.Search.MaxLimit > MaxSearchLimit {
		return invalid("SEARCH_MAX_LIMIT", fmt.Sprintf("SEARCH_MAX_LIMIT must be between 1 and %d", MaxSearchLimit))
	}
	if c.Search.DefaultLimit < 1 || c.Search.DefaultLimit > c.Search.MaxLimit {
		return invalid("SEARCH_DEFAULT_LIMIT", "search limits must satisfy 1 <= SEARCH_DEFAULT_LIMIT <= SEARCH_MAX_LIMIT")
	}

	if c.Ingestion.PageSize < 1 {
		return invalid("INGESTION_PAGE_SIZE", "INGESTION_PAGE_SIZE must be positive")
	}
	if c.Ingestion.MaxSkip < 0 {
		return invalid("INGESTION_MAX_SKIP", "INGESTION_MAX_SKIP must not be negative")
	}
	if _, err := url.ParseRequestURI(c.Ingestion.APIEndpoint); err != nil {
		return invalid("API_ENDPOINT", fmt.Sprintf("invalid API_ENDPOINT: %v", err))
	}

	return nil
}

// PostgresDSN returns the connection string for lib/pq, building it from the
// discrete DB_* settings when POSTGRES_URI is unset.
func (s StorageConfig) PostgresDSN() string {
	if s.PostgresURI != "" {
		return s.PostgresURI
	}

	q := url.Values{}
	q.Set("connect_timeout", strconv.Itoa(int(s.ConnectTimeout.Seconds())))
	if s.DBHost == "localhost" || s.DBHost == "127.0.0.1" {
		q.Set("sslmode", "disable")
	}

	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(s.DBUser, s.DBPassword),
		Host:     net.JoinHostPort(s.DBHost, strconv.Itoa(s.DBPort)),
		Path:     "/" + s.DBName,
		RawQuery: q.Encode(),
	}
	return u.String()
}

func invalid(key, message string) error {
	return apperrors.New(apperrors.ErrCodeInvalidConfig, message).WithContext("env", key)
}

func getEnv(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(value), 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(value)); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(strings.TrimSpace(value)); err == nil {
			return duration
		}
	}
	return defaultValue
}
