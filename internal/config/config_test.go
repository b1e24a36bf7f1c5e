package config

import (
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/cyderes/message-search-service/internal/errors"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("STORAGE_TYPE", "memory")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, StorageMemory, cfg.Storage.Type)
	assert.Equal(t, 2, cfg.Storage.MaxConns)
	assert.Equal(t, 1, cfg.Storage.MinConns)
	assert.Equal(t, 5*time.Second, cfg.Storage.ConnectTimeout)
	assert.Equal(t, TextConfigEnglish, cfg.Search.TextConfig)
	assert.Equal(t, TextConfigEnglish, cfg.Storage.TextSearchConfig)
	assert.Equal(t, 10, cfg.Search.DefaultLimit)
	assert.Equal(t, 100, cfg.Search.MaxLimit)
	assert.Equal(t, 100, cfg.Ingestion.PageSize)
	assert.Equal(t, 1000000, cfg.Ingestion.MaxSkip)
	assert.Equal(t, 30*time.Second, cfg.Ingestion.Timeout)
	assert.Equal(t, time.Duration(0), cfg.Ingestion.Interval)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.False(t, cfg.Tracing.Enabled)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("STORAGE_TYPE", "SQLite")
	t.Setenv("SQLITE_PATH", "/tmp/test.db")
	t.Setenv("SEARCH_TEXT_CONFIG", "simple")
	t.Setenv("INGESTION_PAGE_SIZE", "250")
	t.Setenv("INGESTION_INTERVAL", "10m")
	t.Setenv("INGESTION_ON_START", "true")
	t.Setenv("API_ENDPOINT", "http://upstream.local:9000")
	t.Setenv("TRACING_SAMPLE_RATE", "0.5")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, StorageSQLite, cfg.Storage.Type)
	assert.Equal(t, "/tmp/test.db", cfg.Storage.SQLitePath)
	assert.Equal(t, TextConfigSimple, cfg.Search.TextConfig)
	assert.Equal(t, TextConfigSimple, cfg.Storage.TextSearchConfig)
	assert.Equal(t, 250, cfg.Ingestion.PageSize)
	assert.Equal(t, 10*time.Minute, cfg.Ingestion.Interval)
	assert.True(t, cfg.Ingestion.RunOnStart)
	assert.Equal(t, "http://upstream.local:9000", cfg.Ingestion.APIEndpoint)
	assert.Equal(t, 0.5, cfg.Tracing.SampleRate)
}

func TestLoad_InvalidValuesFallBackToDefaults(t *testing.T) {
	t.Setenv("STORAGE_TYPE", "memory")
	t.Setenv("SERVER_PORT", "not-a-number")
	t.Setenv("API_TIMEOUT", "soon")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Ingestion.Timeout)
}

func TestLoad_ValidationErrors(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		key  string
	}{
		{
			name: "postgres without host or uri",
			env:  map[string]string{"STORAGE_TYPE": "postgresql"},
			key:  "DB_HOST",
		},
		{
			name: "postgres host without password",
			env:  map[string]string{"STORAGE_TYPE": "postgresql", "DB_HOST": "db"},
			key:  "DB_HOST",
		},
		{
			name: "mongodb without uri",
			env:  map[string]string{"STORAGE_TYPE": "mongodb"},
			key:  "MONGODB_URI",
		},
		{
			name: "unknown storage type",
			env:  map[string]string{"STORAGE_TYPE": "cassandra"},
			key:  "STORAGE_TYPE",
		},
		{
			name: "unknown text config",
			env:  map[string]string{"STORAGE_TYPE": "memory", "SEARCH_TEXT_CONFIG": "german"},
			key:  "SEARCH_TEXT_CONFIG",
		},
		{
			name: "pool bounds inverted",
			env:  map[string]string{"STORAGE_TYPE": "memory", "DB_MAX_CONNS": "1", "DB_MIN_CONNS": "2"},
			key:  "DB_MAX_CONNS",
		},
		{
			name: "default limit above max",
			env:  map[string]string{"STORAGE_TYPE": "memory", "SEARCH_DEFAULT_LIMIT": "200"},
			key:  "SEARCH_DEFAULT_LIMIT",
		},
		{
			name: "max limit above 100",
			env:  map[string]string{"STORAGE_TYPE": "memory", "SEARCH_MAX_LIMIT": "500"},
			key:  "SEARCH_MAX_LIMIT",
		},
		{
			name: "zero max limit",
			env:  map[string]string{"STORAGE_TYPE": "memory", "SEARCH_MAX_LIMIT": "0"},
			key:  "SEARCH_MAX_LIMIT",
		},
		{
			name: "zero page size",
			env:  map[string]string{"STORAGE_TYPE": "memory", "INGESTION_PAGE_SIZE": "0"},
			key:  "INGESTION_PAGE_SIZE",
		},
		{
			name: "relative api endpoint",
			env:  map[string]string{"STORAGE_TYPE": "memory", "API_ENDPOINT": "not a url"},
			key:  "API_ENDPOINT",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			cfg, err := Load()
			require.Error(t, err)
			assert.Nil(t, cfg)
			assert.Equal(t, apperrors.ErrCodeInvalidConfig, apperrors.GetCode(err))

			var appErr *apperrors.AppError
			require.ErrorAs(t, err, &appErr)
			assert.Equal(t, tt.key, appErr.Context["env"])
		})
	}
}

func TestStorageConfig_PostgresDSN(t *testing.T) {
	t.Run("uri wins", func(t *testing.T) {
		s := StorageConfig{PostgresURI: "postgres://u:p@h/db", DBHost: "ignored"}
		assert.Equal(t, "postgres://u:p@h/db", s.PostgresDSN())
	})

	t.Run("built from discrete settings", func(t *testing.T) {
		s := StorageConfig{
			DBHost:         "db.internal",
			DBPort:         5433,
			DBName:         "messages",
			DBUser:         "postgres",
			DBPassword:     "p@ss word",
			ConnectTimeout: 5 * time.Second,
		}

		u, err := url.Parse(s.PostgresDSN())
		require.NoError(t, err)
		assert.Equal(t, "postgres", u.Scheme)
		assert.Equal(t, "db.internal:5433", u.Host)
		assert.Equal(t, "/messages", u.Path)
		assert.Equal(t, "postgres", u.User.Username())
		pw, _ := u.User.Password()
		assert.Equal(t, "p@ss word", pw)
		assert.Equal(t, "5", u.Query().Get("connect_timeout"))
		assert.Empty(t, u.Query().Get("sslmode"))
	})
}
