package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	VectorBackendSQLite   = "sqlite"
	VectorBackendChromem  = "chromem"
	VectorBackendPinecone = "pinecone"

	MemoryScopeUser   = "user"
	MemoryScopeChat   = "chat"
	MemoryScopeGlobal = "global"
)

type Config struct {
	GeminiAPIKey string
	DatabaseURL  string
	HTTPPort     string
	LogMode      string
	JWTSecret    string

	ChatModel           string
	EmbeddingModel      string
	TitleModel          string
	EmbeddingDimensions int

	MemoryTopK   int
	HistoryLimit int
	MemoryScope  string
	TurnTimeout  time.Duration

	VectorBackend     string
	ChromemPath       string
	PineconeAPIKey    string
	PineconeIndexHost string
	PineconeNamespace string

	AllowedOrigins  []string
	ReindexInterval time.Duration
}

var AppConfig Config

// LoadConfig reads .env (if present) and the process environment into AppConfig.
// It reports whether a .env file was found so the caller can log it once a logger exists.
func LoadConfig() (bool, error) {
	dotenv := godotenv.Load() == nil

	AppConfig = Config{
		GeminiAPIKey: getEnv("GEMINI_API_KEY", ""),
		DatabaseURL:  getEnv("DATABASE_URL", "recall_chat.db"),
		HTTPPort:     getEnv("HTTP_PORT", "8080"),
		LogMode:      getEnv("LOG_MODE", "development"),
		JWTSecret:    getEnv("JWT_SECRET", ""),

		ChatModel:           getEnv("CHAT_MODEL", "gemini-2.0-flash"),
		EmbeddingModel:      getEnv("EMBEDDING_MODEL", "text-embedding-004"),
		TitleModel:          getEnv("TITLE_MODEL", "gemini-2.0-flash"),
		EmbeddingDimensions: getEnvAsInt("EMBEDDING_DIMENSIONS", 768),

		MemoryTopK:   getEnvAsInt("MEMORY_TOP_K", 3),
		HistoryLimit: getEnvAsInt("HISTORY_LIMIT", 10),
		MemoryScope:  strings.ToLower(getEnv("MEMORY_SCOPE", MemoryScopeUser)),
		TurnTimeout:  getEnvAsDuration("TURN_TIMEOUT", 60*time.Second),

		VectorBackend:     strings.ToLower(getEnv("VECTOR_BACKEND", VectorBackendSQLite)),
		ChromemPath:       getEnv("CHROMEM_PATH", ""),
		PineconeAPIKey:    getEnv("PINECONE_API_KEY", ""),
		PineconeIndexHost: getEnv("PINECONE_INDEX_HOST", ""),
		PineconeNamespace: getEnv("PINECONE_NAMESPACE", ""),

		AllowedOrigins:  getEnvAsList("ALLOWED_ORIGINS", []string{"http://localhost:5173"}),
		ReindexInterval: getEnvAsDuration("REINDEX_INTERVAL", 40*time.Millisecond),
	}

	return dotenv, AppConfig.Validate()
}

func (c Config) Validate() error {
	var errs []error
	if c.GeminiAPIKey == "" {
		errs = append(errs, errors.New("GEMINI_API_KEY environment variable is required"))
	}
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET environment variable is required"))
	}
	if c.EmbeddingDimensions <= 0 {
		errs = append(errs, fmt.Errorf("EMBEDDING_DIMENSIONS must be positive, got %d", c.EmbeddingDimensions))
	}
	if c.MemoryTopK <= 0 || c.HistoryLimit <= 0 {
		errs = append(errs, errors.New("MEMORY_TOP_K and HISTORY_LIMIT must be positive"))
	}
	switch c.MemoryScope {
	case MemoryScopeUser, MemoryScopeChat, MemoryScopeGlobal:
	default:
		errs = append(errs, fmt.Errorf("unknown MEMORY_SCOPE %q", c.MemoryScope))
	}
	switch c.VectorBackend {
	case VectorBackendSQLite, VectorBackendChromem:
	case VectorBackendPinecone:
		if c.PineconeAPIKey == "" || c.PineconeIndexHost == "" {
			errs = append(errs, errors.New("PINECONE_API_KEY and PINECONE_INDEX_HOST are required for the pinecone backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown VECTOR_BACKEND %q", c.VectorBackend))
	}
	return errors.Join(errs...)
}

func getEnv(key string, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := strings.TrimSpace(getEnv(key, ""))
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
