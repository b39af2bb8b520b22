package config

import (
	"log/slog"

	"github.com/malbeclabs/ada/pkg/cache"
	"github.com/malbeclabs/ada/pkg/embed"
	"github.com/malbeclabs/ada/pkg/examples"
	"github.com/malbeclabs/ada/pkg/warehouse"
)

// Cache returns the Redis settings for db. A negative db selects REDIS_DB.
func (c *Config) Cache(log *slog.Logger, db int) *cache.Config {
	if db < 0 {
		db = c.RedisDB
	}
	return &cache.Config{
		Logger:     log,
		Host:       c.RedisHost,
		Port:       c.RedisPort,
		Password:   c.RedisPassword,
		DB:         db,
		DisableTLS: c.RedisDisableTLS,
	}
}

// Qdrant returns the example index settings. TLS is used whenever an API
// key is configured.
func (c *Config) Qdrant(log *slog.Logger) *examples.QdrantConfig {
	return &examples.QdrantConfig{
		Logger: log,
		Host:   c.QdrantHost,
		Port:   c.QdrantPort,
		APIKey: c.QdrantAPIKey,
		UseTLS: c.QdrantAPIKey != "",
	}
}

func (c *Config) Embedding(log *slog.Logger) *embed.Config {
	return &embed.Config{
		Logger:    log,
		APIKey:    c.OpenAIAPIKey,
		BaseURL:   c.OpenAIBaseURL,
		Model:     c.EmbeddingModel,
		Dimension: c.EmbeddingDim,
	}
}

func (c *Config) Warehouse(log *slog.Logger) *warehouse.Config {
	return &warehouse.Config{
		Logger:    log,
		Account:   c.SnowflakeAccount,
		User:      c.SnowflakeUser,
		Password:  c.SnowflakePassword,
		Database:  c.SnowflakeDatabase,
		Schema:    c.SnowflakeSchema,
		Warehouse: c.SnowflakeWarehouse,
		Role:      c.SnowflakeRole,
		MaxRows:   c.SnowflakeMaxRows,
	}
}
