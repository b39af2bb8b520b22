package config

// Environment variable names.
const (
	EnvLLMProvider     = "LLM_PROVIDER"
	EnvLLMModel        = "LLM_MODEL"
	EnvOpenAIAPIKey    = "LLM_OPENAI_API_KEY"
	EnvOpenAIBaseURL   = "OPENAI_BASE_URL"
	EnvAnthropicAPIKey = "ANTHROPIC_API_KEY"
	EnvEmbeddingModel  = "EMBEDDING_MODEL"
	EnvEmbeddingDim    = "EMBEDDING_DIM"

	EnvQdrantHost   = "QDRANT_HOST"
	EnvQdrantPort   = "QDRANT_PORT"
	EnvQdrantAPIKey = "QDRANT_API_KEY"

	EnvRedisHost     = "REDIS_HOSTNAME"
	EnvRedisPort     = "REDIS_PORT"
	EnvRedisPassword = "REDIS_PASSWORD"
	EnvRedisDB       = "REDIS_DB"
	EnvRedisTLS      = "REDIS_TLS"

	EnvSnowflakeAccount   = "SNOWFLAKE_ACCOUNT"
	EnvSnowflakeUser      = "SNOWFLAKE_USER"
	EnvSnowflakePassword  = "SNOWFLAKE_PASSWORD"
	EnvSnowflakeDatabase  = "SNOWFLAKE_DATABASE"
	EnvSnowflakeSchema    = "SNOWFLAKE_SCHEMA"
	EnvSnowflakeWarehouse = "SNOWFLAKE_WAREHOUSE"
	EnvSnowflakeRole      = "SNOWFLAKE_ROLE"
	EnvSnowflakeMaxRows   = "SNOWFLAKE_MAX_ROWS"

	EnvJWKSURI  = "MCKID_JWKS_URI"
	EnvAudience = "MCKID_EXPECTED_AUDIENCE"
	EnvIssuer   = "MCKID_TOKEN_ISSUER"

	EnvMetadataLocation = "METADATA_LOCATION"
	EnvExamples         = "EXAMPLES"
	EnvWrenUIEndpoint   = "WREN_UI_ENDPOINT"
	EnvPostgresURL      = "POSTGRES_URL"
	EnvResultCacheTTL   = "RESULT_CACHE_TTL"
	EnvCategoryTokens   = "CATEGORY_TOKENS"
)

const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// DefaultCategoryTokens are replaced by "[category]" when example file
// names are turned into questions.
var DefaultCategoryTokens = []string{"bearings", "marketing svcs", "cibc", "valves"}
