package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// LoadENV loads environment variables from .env if GO_ENV is unset or "development"
func LoadENV() error {
	goEnv := os.Getenv("GO_ENV")

	if goEnv == "" || goEnv == "development" {
		err := godotenv.Load()
		if err != nil {
			return err
		}
	}

	return nil
}

type EnviornmentVariable struct {
	GO_ENV       string
	DB_USER_NAME string
	DB_PASSWORD  string
	DB_NAME      string
	DB_HOST      string
	DB_PORT      string
	DB_SSL_MODE  string
	PORT         int

	// Redis Configuration (live job/progress/credential state)
	REDIS_URL      string
	REDIS_PASSWORD string
	REDIS_DB       string

	// Credential pool: comma-separated list of API keys rotated round-robin
	LLM_API_KEYS                 []string
	LLM_BASE_URL                 string
	LLM_MODEL_FLASH              string
	LLM_MODEL_PRO                string
	CREDENTIAL_COOLDOWN_SECONDS  int
	CREDENTIAL_FAILURE_THRESHOLD int
	PER_KEY_CONCURRENCY_LIMIT    int

	// Object storage mirror (optional, S3-compatible)
	SPACES_ENABLED  bool
	SPACES_BUCKET   string
	SPACES_REGION   string
	SPACES_ENDPOINT string
	SPACES_KEY      string
	SPACES_SECRET   string

	// On-disk mirror
	STORAGE_ROOT string

	// PDF chunking
	MAX_PAGES_PER_CHUNK int

	// Token accounting
	FLASH_TOKENS_PER_CHUNK    int
	PRO_TOKENS_PER_CHUNK      int
	DEFAULT_USER_TOKEN_BUDGET int

	// Analysis quality thresholds
	MIN_RELEVANCE_SCORE_DEFAULT int

	// Retry/backoff
	EXTRACTION_MAX_RETRIES              int
	EXTRACTION_RETRY_DELAY_SECONDS      int
	EXTRACTION_RETRY_BACKOFF_MULTIPLIER float64
	EXTRACTION_MAX_BACKOFF_SECONDS      int
	EXTRACTION_CHUNK_TIMEOUT_SECONDS    int

	// Job state TTLs
	EXTRACTION_JOB_TTL_SUCCESS_HOURS int
	EXTRACTION_JOB_TTL_FAILURE_HOURS int
	FILE_TTL_SECONDS                 int

	// Encryption key for credential secrets at rest
	ENCRYPTION_KEY string
}

func Get() (*EnviornmentVariable, error) {

	port, err := strconv.Atoi(os.Getenv("PORT"))
	if err != nil {
		port = 8080
	}

	dbHost := os.Getenv("DB_HOST")
	if dbHost == "" {
		dbHost = "localhost"
	}

	dbPort := os.Getenv("DB_PORT")
	if dbPort == "" {
		dbPort = "5432"
	}

	envVariables := &EnviornmentVariable{
		GO_ENV:       os.Getenv("GO_ENV"),
		DB_USER_NAME: os.Getenv("DB_USER_NAME"),
		DB_PASSWORD:  os.Getenv("DB_PASSWORD"),
		DB_NAME:      os.Getenv("DB_NAME"),
		DB_HOST:      dbHost,
		DB_PORT:      dbPort,
		DB_SSL_MODE:  os.Getenv("DB_SSL_MODE"),
		PORT:         port,

		REDIS_URL:      os.Getenv("REDIS_URL"),
		REDIS_PASSWORD: os.Getenv("REDIS_PASSWORD"),
		REDIS_DB:       os.Getenv("REDIS_DB"),

		LLM_API_KEYS:    splitAndTrim(os.Getenv("LLM_API_KEYS")),
		LLM_BASE_URL:    getEnvStr("LLM_BASE_URL", "https://api.digitalocean.com"),
		LLM_MODEL_FLASH: getEnvStr("LLM_MODEL_FLASH", "flash"),
		LLM_MODEL_PRO:   getEnvStr("LLM_MODEL_PRO", "pro"),

		CREDENTIAL_COOLDOWN_SECONDS:  getEnvInt("CREDENTIAL_COOLDOWN_SECONDS", 600),
		CREDENTIAL_FAILURE_THRESHOLD: getEnvInt("CREDENTIAL_FAILURE_THRESHOLD", 3),
		PER_KEY_CONCURRENCY_LIMIT:    getEnvInt("PER_KEY_CONCURRENCY_LIMIT", 2),

		SPACES_ENABLED:  getEnvBool("SPACES_ENABLED", false),
		SPACES_BUCKET:   os.Getenv("DO_SPACES_BUCKET"),
		SPACES_REGION:   os.Getenv("DO_SPACES_REGION"),
		SPACES_ENDPOINT: os.Getenv("DO_SPACES_ENDPOINT"),
		SPACES_KEY:      os.Getenv("SPACES_ACCESS_KEY"),
		SPACES_SECRET:   os.Getenv("SPACES_SECRET_KEY"),

		STORAGE_ROOT: getEnvStr("STORAGE_ROOT", "./data"),

		MAX_PAGES_PER_CHUNK: getEnvInt("MAX_PAGES_PER_CHUNK", 40),

		FLASH_TOKENS_PER_CHUNK:    getEnvInt("FLASH_TOKENS_PER_CHUNK", 1),
		PRO_TOKENS_PER_CHUNK:      getEnvInt("PRO_TOKENS_PER_CHUNK", 5),
		DEFAULT_USER_TOKEN_BUDGET: getEnvInt("DEFAULT_USER_TOKEN_BUDGET", 500),

		MIN_RELEVANCE_SCORE_DEFAULT: getEnvInt("MIN_RELEVANCE_SCORE_DEFAULT", 50),

		EXTRACTION_MAX_RETRIES:              getEnvInt("EXTRACTION_MAX_RETRIES", 3),
		EXTRACTION_RETRY_DELAY_SECONDS:      getEnvInt("EXTRACTION_RETRY_DELAY_SECONDS", 5),
		EXTRACTION_RETRY_BACKOFF_MULTIPLIER: getEnvFloat("EXTRACTION_RETRY_BACKOFF_MULTIPLIER", 1.5),
		EXTRACTION_MAX_BACKOFF_SECONDS:      getEnvInt("EXTRACTION_MAX_BACKOFF_SECONDS", 30),
		EXTRACTION_CHUNK_TIMEOUT_SECONDS:    getEnvInt("EXTRACTION_CHUNK_TIMEOUT_SECONDS", 180),

		EXTRACTION_JOB_TTL_SUCCESS_HOURS: getEnvInt("EXTRACTION_JOB_TTL_SUCCESS_HOURS", 1),
		EXTRACTION_JOB_TTL_FAILURE_HOURS: getEnvInt("EXTRACTION_JOB_TTL_FAILURE_HOURS", 24),
		FILE_TTL_SECONDS:                 getEnvInt("FILE_TTL_SECONDS", 86400),

		ENCRYPTION_KEY: os.Getenv("ENCRYPTION_KEY"),
	}

	return envVariables, nil
}

func getEnvStr(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

func getEnvInt(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	intVal, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return intVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	floatVal, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return defaultVal
	}
	return floatVal
}

func getEnvBool(key string, defaultVal bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	boolVal, err := strconv.ParseBool(val)
	if err != nil {
		return defaultVal
	}
	return boolVal
}

func splitAndTrim(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
