package config_test

import (
	"testing"
	"time"

	"github.com/malbeclabs/ada/config"
	"github.com/malbeclabs/ada/pkg/logger"
	"github.com/stretchr/testify/require"
)

func env(vars map[string]string) func(string) string {
	return func(k string) string { return vars[k] }
}

func apiEnv() map[string]string {
	return map[string]string{
		config.EnvOpenAIAPIKey:       "sk-test",
		config.EnvQdrantHost:         "qdrant",
		config.EnvQdrantPort:         "6334",
		config.EnvRedisHost:          "redis",
		config.EnvRedisPort:          "6380",
		config.EnvRedisTLS:           "false",
		config.EnvSnowflakeAccount:   "acct",
		config.EnvSnowflakeUser:      "ada",
		config.EnvSnowflakePassword:  "secret",
		config.EnvSnowflakeDatabase:  "PROCUREMENT",
		config.EnvSnowflakeWarehouse: "WH",
		config.EnvJWKSURI:            "https://auth.example.com/jwks",
		config.EnvAudience:           "ada-api",
		config.EnvIssuer:             "https://auth.example.com",
		config.EnvMetadataLocation:   "/srv/metadata",
		config.EnvResultCacheTTL:     "30m",
		config.EnvCategoryTokens:     "Bearings, valves ,,",
	}
}

func TestAda_Config_Load(t *testing.T) {
	t.Parallel()

	c, err := config.Load(env(apiEnv()))
	require.NoError(t, err)
	require.NoError(t, c.ValidateAPI())
	require.Equal(t, config.ProviderOpenAI, c.LLMProvider)
	require.Equal(t, 6334, c.QdrantPort)
	require.Equal(t, 6380, c.RedisPort)
	require.True(t, c.RedisDisableTLS)
	require.Equal(t, 30*time.Minute, c.ResultCacheTTL)
	require.Equal(t, []string{"bearings", "valves"}, c.CategoryTokens)
}

func TestAda_Config_Defaults(t *testing.T) {
	t.Parallel()

	c, err := config.Load(env(nil))
	require.NoError(t, err)
	require.Equal(t, config.ProviderOpenAI, c.LLMProvider)
	require.Equal(t, config.DefaultCategoryTokens, c.CategoryTokens)
	require.Zero(t, c.ResultCacheTTL)
	require.False(t, c.RedisDisableTLS)
}

func TestAda_Config_InvalidValues(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"provider", config.EnvLLMProvider, "cohere"},
		{"port", config.EnvRedisPort, "abc"},
		{"negative db", config.EnvRedisDB, "-1"},
		{"max rows", config.EnvSnowflakeMaxRows, "lots"},
		{"tls", config.EnvRedisTLS, "maybe"},
		{"ttl", config.EnvResultCacheTTL, "soon"},
		{"zero ttl", config.EnvResultCacheTTL, "0s"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			vars := apiEnv()
			vars[tt.key] = tt.val
			_, err := config.Load(env(vars))
			require.Error(t, err)
		})
	}
}

func TestAda_Config_ValidateAPI(t *testing.T) {
	t.Parallel()

	tests := []struct {
		drop string
		want string
	}{
		{config.EnvRedisHost, "REDIS_HOSTNAME is required"},
		{config.EnvQdrantHost, "QDRANT_HOST is required"},
		{config.EnvOpenAIAPIKey, "LLM_OPENAI_API_KEY is required"},
		{config.EnvSnowflakeAccount, "SNOWFLAKE_ACCOUNT is required"},
		{config.EnvJWKSURI, "MCKID_JWKS_URI is required"},
		{config.EnvAudience, "MCKID_EXPECTED_AUDIENCE is required"},
		{config.EnvIssuer, "MCKID_TOKEN_ISSUER is required"},
		{config.EnvMetadataLocation, "METADATA_LOCATION is required"},
	}
	for _, tt := range tests {
		vars := apiEnv()
		delete(vars, tt.drop)
		c, err := config.Load(env(vars))
		require.NoError(t, err)
		require.EqualError(t, c.ValidateAPI(), tt.want)
	}

	vars := apiEnv()
	vars[config.EnvLLMProvider] = "Anthropic"
	c, err := config.Load(env(vars))
	require.NoError(t, err)
	require.EqualError(t, c.ValidateAPI(), "ANTHROPIC_API_KEY is required")
}

func TestAda_Config_ValidateBootstrap(t *testing.T) {
	t.Parallel()

	vars := map[string]string{
		config.EnvOpenAIAPIKey: "sk-test",
		config.EnvQdrantHost:   "qdrant",
		config.EnvRedisHost:    "redis",
	}
	c, err := config.Load(env(vars))
	require.NoError(t, err)
	require.EqualError(t, c.ValidateBootstrap(), "EXAMPLES is required")

	vars[config.EnvExamples] = "/srv/examples"
	c, err = config.Load(env(vars))
	require.NoError(t, err)
	require.NoError(t, c.ValidateBootstrap())
}

func TestAda_Config_ComponentConfigs(t *testing.T) {
	t.Parallel()

	vars := apiEnv()
	vars[config.EnvRedisDB] = "4"
	vars[config.EnvQdrantAPIKey] = "qk"
	vars[config.EnvEmbeddingDim] = "1024"
	c, err := config.Load(env(vars))
	require.NoError(t, err)

	log := logger.Discard()
	cc := c.Cache(log, -1)
	require.Equal(t, "redis", cc.Host)
	require.Equal(t, 6380, cc.Port)
	require.Equal(t, 4, cc.DB)
	require.NoError(t, cc.Validate())
	require.Equal(t, "redis://redis:6380/4", cc.URL(true))
	require.Equal(t, 2, c.Cache(log, 2).DB)

	q := c.Qdrant(log)
	require.True(t, q.UseTLS)
	require.Equal(t, 6334, q.Port)

	e := c.Embedding(log)
	require.Equal(t, "sk-test", e.APIKey)
	require.Equal(t, 1024, e.Dimension)

	w := c.Warehouse(log)
	require.NoError(t, w.Validate())
	require.Equal(t, "PROCUREMENT", w.Database)
}
