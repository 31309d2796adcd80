package bootstrap

import (
	"context"
	"log/slog"

	"github.com/eleven-am/vision-chat/internal/api"
	"github.com/eleven-am/vision-chat/internal/conversation"
	"github.com/eleven-am/vision-chat/internal/inference"
	"github.com/eleven-am/vision-chat/internal/llmlog"
	"github.com/eleven-am/vision-chat/internal/media"
	"github.com/eleven-am/vision-chat/internal/metrics"
	"github.com/eleven-am/vision-chat/internal/ollama"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
)

func ProvideOllamaClient(cfg *Config) *ollama.Client {
	return ollama.NewClient(ollama.Config{
		URL:         cfg.OllamaURL,
		Model:       cfg.Model,
		Timeout:     cfg.ModelTimeout,
		Temperature: cfg.ModelTemperature,
	})
}

func ProvideModel(client *ollama.Client, llm LLMLogger) inference.Model {
	return llmlog.NewModelDecorator(client, llm.Logger)
}

func ProvideMetrics() *metrics.Metrics {
	return metrics.New(prometheus.DefaultRegisterer)
}

func ProvideManager(
	lc fx.Lifecycle,
	cfg *Config,
	model inference.Model,
	store *conversation.Store,
	history *conversation.History,
	m *metrics.Metrics,
	log *slog.Logger,
) *conversation.Manager {
	mc := conversation.ManagerConfig{
		Model:     model,
		Models:    cfg.Models,
		MaxTokens: cfg.MaxTokens,
		Metrics:   m,
		Log:       log,
	}
	if store != nil {
		mc.Store = store
	}
	if history != nil {
		mc.History = history
	}

	manager := conversation.NewManager(mc)
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return manager.Close()
		},
	})
	return manager
}

func ProvideExtractor(cfg *Config, log *slog.Logger) *media.Extractor {
	reader := media.NewFFmpegReader(media.Config{
		FFmpegPath:  cfg.FFmpegPath,
		FFprobePath: cfg.FFprobePath,
	})
	return media.NewExtractor(reader, log)
}

func ProvideAPIHandler(
	cfg *Config,
	manager *conversation.Manager,
	extractor *media.Extractor,
	client *ollama.Client,
	history *conversation.History,
	log *slog.Logger,
) *api.Handler {
	var lister api.HistoryLister
	if history != nil {
		lister = history
	}

	return api.NewHandler(manager, extractor, client, lister, api.Config{
		UploadDir: cfg.UploadDir,
		NumFrames: cfg.NumFrames,
		Scale:     cfg.FrameScale,
	}, log)
}

var ServicesModule = fx.Options(
	fx.Provide(
		ProvideLogger,
		ProvideLLMLogger,
		ProvideOllamaClient,
		ProvideModel,
		ProvideMetrics,
		ProvideManager,
		ProvideExtractor,
		ProvideAPIHandler,
	),
)
