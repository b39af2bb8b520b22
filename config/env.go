// Package config reads the Ada environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

var ErrInvalidProvider = errors.New("invalid LLM provider")

// Config is the process configuration. Fields map one to one to
// environment variables; see constants.go.
type Config struct {
	LLMProvider     string
	LLMModel        string
	OpenAIAPIKey    string
	OpenAIBaseURL   string
	AnthropicAPIKey string
	EmbeddingModel  string
	EmbeddingDim    int

	QdrantHost   string
	QdrantPort   int
	QdrantAPIKey string

	RedisHost     string
	RedisPort     int
	RedisPassword string
	RedisDB       int
	// RedisDisableTLS is set by REDIS_TLS=false. Only honoured for local
	// hosts.
	RedisDisableTLS bool

	SnowflakeAccount   string
	SnowflakeUser      string
	SnowflakePassword  string
	SnowflakeDatabase  string
	SnowflakeSchema    string
	SnowflakeWarehouse string
	SnowflakeRole      string
	// SnowflakeMaxRows is zero when unset; the warehouse applies its default.
	SnowflakeMaxRows int

	JWKSURI  string
	Audience string
	Issuer   string

	MetadataLocation string
	ExamplesDir      string
	WrenUIEndpoint   string
	PostgresURL      string
	// ResultCacheTTL is zero when unset; components apply their default.
	ResultCacheTTL time.Duration
	CategoryTokens []string
}

// LoadFromEnv reads a .env file when present, then the process
// environment.
func LoadFromEnv() (*Config, error) {
	_ = godotenv.Load()
	return Load(os.Getenv)
}

// Load builds a Config from getenv. It reports malformed values; required
// fields are checked by ValidateAPI and ValidateBootstrap.
func Load(getenv func(string) string) (*Config, error) {
	c := &Config{
		LLMProvider:        strings.ToLower(strings.TrimSpace(getenv(EnvLLMProvider))),
		LLMModel:           getenv(EnvLLMModel),
		OpenAIAPIKey:       getenv(EnvOpenAIAPIKey),
		OpenAIBaseURL:      getenv(EnvOpenAIBaseURL),
		AnthropicAPIKey:    getenv(EnvAnthropicAPIKey),
		EmbeddingModel:     getenv(EnvEmbeddingModel),
		QdrantHost:         getenv(EnvQdrantHost),
		QdrantAPIKey:       getenv(EnvQdrantAPIKey),
		RedisHost:          getenv(EnvRedisHost),
		RedisPassword:      getenv(EnvRedisPassword),
		SnowflakeAccount:   getenv(EnvSnowflakeAccount),
		SnowflakeUser:      getenv(EnvSnowflakeUser),
		SnowflakePassword:  getenv(EnvSnowflakePassword),
		SnowflakeDatabase:  getenv(EnvSnowflakeDatabase),
		SnowflakeSchema:    getenv(EnvSnowflakeSchema),
		SnowflakeWarehouse: getenv(EnvSnowflakeWarehouse),
		SnowflakeRole:      getenv(EnvSnowflakeRole),
		JWKSURI:            getenv(EnvJWKSURI),
		Audience:           getenv(EnvAudience),
		Issuer:             getenv(EnvIssuer),
		MetadataLocation:   getenv(EnvMetadataLocation),
		ExamplesDir:        getenv(EnvExamples),
		WrenUIEndpoint:     getenv(EnvWrenUIEndpoint),
		PostgresURL:        getenv(EnvPostgresURL),
		CategoryTokens:     slices.Clone(DefaultCategoryTokens),
	}
	if c.LLMProvider == "" {
		c.LLMProvider = ProviderOpenAI
	}
	if c.LLMProvider != ProviderOpenAI && c.LLMProvider != ProviderAnthropic {
		return nil, fmt.Errorf("%w: %q", ErrInvalidProvider, c.LLMProvider)
	}

	var err error
	if c.EmbeddingDim, err = intVar(getenv, EnvEmbeddingDim); err != nil {
		return nil, err
	}
	if c.QdrantPort, err = intVar(getenv, EnvQdrantPort); err != nil {
		return nil, err
	}
	if c.RedisPort, err = intVar(getenv, EnvRedisPort); err != nil {
		return nil, err
	}
	if c.RedisDB, err = intVar(getenv, EnvRedisDB); err != nil {
		return nil, err
	}
	if c.SnowflakeMaxRows, err = intVar(getenv, EnvSnowflakeMaxRows); err != nil {
		return nil, err
	}
	if v := getenv(EnvRedisTLS); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", EnvRedisTLS, err)
		}
		c.RedisDisableTLS = !enabled
	}
	if v := getenv(EnvResultCacheTTL); v != "" {
		if c.ResultCacheTTL, err = time.ParseDuration(v); err != nil {
			return nil, fmt.Errorf("invalid %s: %w", EnvResultCacheTTL, err)
		}
		if c.ResultCacheTTL <= 0 {
			return nil, fmt.Errorf("%s must be positive", EnvResultCacheTTL)
		}
	}
	if v := getenv(EnvCategoryTokens); v != "" {
		c.CategoryTokens = nil
		for _, tok := range strings.Split(v, ",") {
			if tok = strings.ToLower(strings.TrimSpace(tok)); tok != "" {
				c.CategoryTokens = append(c.CategoryTokens, tok)
			}
		}
	}
	return c, nil
}

func intVar(getenv func(string) string, name string) (int, error) {
	v := getenv(name)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid %s: %q", name, v)
	}
	return n, nil
}

// ValidateAPI checks the fields the HTTP service needs.
func (c *Config) ValidateAPI() error {
	if err := c.validateStores(); err != nil {
		return err
	}
	if c.LLMProvider == ProviderAnthropic && c.AnthropicAPIKey == "" {
		return fmt.Errorf("%s is required", EnvAnthropicAPIKey)
	}
	for _, f := range []struct{ name, value string }{
		{EnvSnowflakeAccount, c.SnowflakeAccount},
		{EnvSnowflakeUser, c.SnowflakeUser},
		{EnvSnowflakePassword, c.SnowflakePassword},
		{EnvSnowflakeDatabase, c.SnowflakeDatabase},
		{EnvSnowflakeWarehouse, c.SnowflakeWarehouse},
		{EnvJWKSURI, c.JWKSURI},
		{EnvAudience, c.Audience},
		{EnvIssuer, c.Issuer},
		{EnvMetadataLocation, c.MetadataLocation},
	} {
		if f.value == "" {
			return fmt.Errorf("%s is required", f.name)
		}
	}
	return nil
}

// ValidateBootstrap checks the fields the example loader needs.
func (c *Config) ValidateBootstrap() error {
	if err := c.validateStores(); err != nil {
		return err
	}
	if c.ExamplesDir == "" {
		return fmt.Errorf("%s is required", EnvExamples)
	}
	return nil
}

// validateStores covers Redis, Qdrant and the embeddings key, which every
// binary uses.
func (c *Config) validateStores() error {
	if c.RedisHost == "" {
		return fmt.Errorf("%s is required", EnvRedisHost)
	}
	if c.QdrantHost == "" {
		return fmt.Errorf("%s is required", EnvQdrantHost)
	}
	if c.OpenAIAPIKey == "" {
		return fmt.Errorf("%s is required", EnvOpenAIAPIKey)
	}
	return nil
}
