package bootstrap

import (
	"fmt"
	"log/slog"
	"os"
)

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func ProvideLogger(cfg *Config) *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.LogLevel),
	}))
}

// LLMLogger is the dedicated logger for model traffic.
type LLMLogger struct {
	*slog.Logger
}

func ProvideLLMLogger(cfg *Config, log *slog.Logger) (LLMLogger, error) {
	if cfg.LLMLogFile == "" {
		return LLMLogger{log.With("component", "llm")}, nil
	}

	f, err := os.OpenFile(cfg.LLMLogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return LLMLogger{}, fmt.Errorf("open llm log: %w", err)
	}
	return LLMLogger{slog.New(slog.NewJSONHandler(f, &slog.HandlerOptions{Level: slog.LevelDebug}))}, nil
}
