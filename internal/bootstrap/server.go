package bootstrap

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/eleven-am/vision-chat/internal/api"
	"github.com/eleven-am/vision-chat/internal/metrics"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
)

var defaultCORSConfig = middleware.CORSConfig{
	AllowOrigins: []string{"*"},
	AllowMethods: []string{
		http.MethodGet,
		http.MethodHead,
		http.MethodPost,
		http.MethodDelete,
		http.MethodOptions,
	},
	AllowHeaders: []string{
		"Accept",
		"Content-Type",
		"X-Requested-With",
	},
	MaxAge: 86400,
}

func NewEchoServer(cfg *Config, m *metrics.Metrics) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(defaultCORSConfig))
	e.Use(middleware.BodyLimit(cfg.BodyLimit))
	e.Use(m.Middleware())
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	return e
}

func RegisterRoutes(e *echo.Echo, h *api.Handler) {
	h.RegisterRoutes(e.Group("/api/v1"))
}

func StartServer(lc fx.Lifecycle, e *echo.Echo, cfg *Config, log *slog.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := e.Start(cfg.ServerAddr); err != nil && err != http.ErrServerClosed {
					log.Error("server stopped", "error", err)
				}
			}()
			log.Info("server started", "addr", cfg.ServerAddr, "model", cfg.Model)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return e.Shutdown(ctx)
		},
	})
}

var ServerModule = fx.Options(
	fx.Provide(NewEchoServer),
	fx.Invoke(RegisterRoutes),
	fx.Invoke(StartServer),
)

func Run() {
	fx.New(
		fx.Provide(LoadConfig),
		InfrastructureModule,
		ServicesModule,
		ServerModule,
		HealthModule,
	).Run()
}
