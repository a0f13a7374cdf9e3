package config

import (
	"os"
	"strconv"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// SQLitePrefix marks a DATABASE_URL that points at a SQLite file
const SQLitePrefix = "sqlite:"

type Config struct {
	Port            string
	Environment     string
	DatabaseURL     string // postgres URL or sqlite:<path>
	TablePrefix     string
	CORSOrigins     string
	SupabaseURL     string // empty = auth disabled, requests run as DefaultUserID
	SupabaseJWKSURL string // Constructed from SupabaseURL + /auth/v1/.well-known/jwks.json
	DefaultUserID   string
	// LLM Configuration
	OpenAIAPIKey  string
	OpenAIBaseURL string
	TavilyAPIKey  string
	Models        map[string]string // agent name -> model override
	// Context editing
	ToolOutputTrimThreshold int
	TurnTrimThreshold       int
	TurnTrimTargetTokens    int
	// Logging
	LogDir      string // empty = stdout only
	LogMaxFiles int
	// Debug flags
	Debug bool // Enables DEBUG features like the synthetic SSE endpoint
}

func Load() *Config {
	env := getEnv("ENVIRONMENT", "dev")
	tablePrefix := getTablePrefix(env)
	supabaseURL := strings.TrimRight(getEnv("SUPABASE_URL", ""), "/")

	jwksURL := ""
	if supabaseURL != "" {
		jwksURL = supabaseURL + "/auth/v1/.well-known/jwks.json"
	}

	models := map[string]string{}
	for agentName, key := range map[string]string{
		"lead":       "LEAD_MODEL",
		"guardrail":  "GUARDRAIL_MODEL",
		"followup":   "FOLLOWUP_MODEL",
		"background": "BACKGROUND_MODEL",
	} {
		if model := os.Getenv(key); model != "" {
			models[agentName] = model
		}
	}

	return &Config{
		Port:            getEnv("PORT", "8080"),
		Environment:     env,
		DatabaseURL:     getEnv("DATABASE_URL", SQLitePrefix+"advisor.db"),
		TablePrefix:     tablePrefix,
		CORSOrigins:     getEnv("CORS_ORIGINS", "http://localhost:3000"),
		SupabaseURL:     supabaseURL,
		SupabaseJWKSURL: jwksURL,
		DefaultUserID:   getEnv("DEFAULT_USER_ID", "local-user"),
		// LLM Configuration
		OpenAIAPIKey:  getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL: getEnv("OPENAI_BASE_URL", ""),
		TavilyAPIKey:  getEnv("TAVILY_API_KEY", ""),
		Models:        models,
		// Context editing
		ToolOutputTrimThreshold: getEnvInt("TOOL_OUTPUT_TRIM_THRESHOLD", 150000),
		TurnTrimThreshold:       getEnvInt("TURN_TRIM_THRESHOLD", 200000),
		TurnTrimTargetTokens:    getEnvInt("TURN_TRIM_TARGET_TOKENS", 50000),
		// Logging
		LogDir:      getEnv("LOG_DIR", ""),
		LogMaxFiles: getEnvInt("LOG_MAX_FILES", 10),
		// Debug flags - default to true in dev/test, false in production
		Debug: getEnv("DEBUG", getDefaultDebug(env)) == "true",
	}
}

// Validate checks the loaded configuration
func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required),
		validation.Field(&c.Environment, validation.In("dev", "test", "prod")),
		validation.Field(&c.DatabaseURL, validation.Required),
		validation.Field(&c.DefaultUserID, validation.Required.When(c.SupabaseURL == "")),
		validation.Field(&c.ToolOutputTrimThreshold, validation.Min(1)),
		validation.Field(&c.TurnTrimThreshold, validation.Min(1)),
		validation.Field(&c.TurnTrimTargetTokens,
			validation.Min(1),
			validation.Max(c.TurnTrimThreshold).Exclusive(),
		),
		validation.Field(&c.LogMaxFiles, validation.Min(1)),
	)
}

// UsesSQLite reports whether DatabaseURL selects the SQLite store
func (c *Config) UsesSQLite() bool {
	return strings.HasPrefix(c.DatabaseURL, SQLitePrefix)
}

// SQLitePath returns the file path of a sqlite: DatabaseURL
func (c *Config) SQLitePath() string {
	return strings.TrimPrefix(c.DatabaseURL, SQLitePrefix)
}

// getDefaultDebug returns the default debug setting based on environment
func getDefaultDebug(env string) string {
	if env == "prod" {
		return "false"
	}
	return "true" // Enable DEBUG in dev/test by default
}

// getTablePrefix returns the table prefix based on environment
func getTablePrefix(env string) string {
	// Allow manual override via TABLE_PREFIX env var
	if prefix := os.Getenv("TABLE_PREFIX"); prefix != "" {
		return prefix
	}

	switch env {
	case "prod":
		return "prod_"
	case "test":
		return "test_"
	default:
		return "dev_"
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return n
}
