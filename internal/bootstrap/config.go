package bootstrap

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	ServerAddr string
	LogLevel   string
	BodyLimit  string

	OllamaURL        string
	Model            string
	Models           []string
	ModelTimeout     time.Duration
	ModelTemperature float64
	MaxTokens        int
	LLMLogFile       string

	NumFrames   int
	FrameScale  float64
	FFmpegPath  string
	FFprobePath string
	UploadDir   string

	DatabaseDSN string

	RedisAddr       string
	RedisPassword   string
	RedisDB         int
	ConversationTTL time.Duration
}

func LoadConfig() *Config {
	return &Config{
		ServerAddr: getEnv("SERVER_ADDR", ":8080"),
		LogLevel:   getEnv("LOG_LEVEL", "info"),
		BodyLimit:  getEnv("BODY_LIMIT", "512M"),

		OllamaURL:        getEnv("OLLAMA_URL", "http://localhost:11434"),
		Model:            getEnv("MODEL", "qwen2.5vl:7b"),
		Models:           getEnvList("MODELS"),
		ModelTimeout:     getEnvDuration("MODEL_TIMEOUT", 120*time.Second),
		ModelTemperature: getEnvFloat("MODEL_TEMPERATURE", 0.7),
		MaxTokens:        getEnvInt("MAX_TOKENS", 1000),
		LLMLogFile:       getEnv("LLM_LOG_FILE", ""),

		NumFrames:   getEnvInt("NUM_FRAMES", 16),
		FrameScale:  getEnvFloat("FRAME_SCALE", 1.0),
		FFmpegPath:  getEnv("FFMPEG_PATH", "ffmpeg"),
		FFprobePath: getEnv("FFPROBE_PATH", "ffprobe"),
		UploadDir:   getEnv("UPLOAD_DIR", os.TempDir()),

		DatabaseDSN: getEnv("DATABASE_DSN", ""),

		RedisAddr:       getEnv("REDIS_ADDR", ""),
		RedisPassword:   getEnv("REDIS_PASSWORD", ""),
		RedisDB:         getEnvInt("REDIS_DB", 0),
		ConversationTTL: getEnvDuration("CONVERSATION_TTL", 24*time.Hour),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvList(key string) []string {
	var out []string
	for _, item := range strings.Split(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
