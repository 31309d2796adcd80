package bootstrap

import (
	"github.com/eleven-am/vision-chat/internal/conversation"
	"github.com/eleven-am/vision-chat/internal/health"
	"github.com/eleven-am/vision-chat/internal/ollama"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

const version = "1.0.0"

func ProvideHealthHandler(
	db *gorm.DB,
	redis *redis.Client,
	client *ollama.Client,
	manager *conversation.Manager,
) *health.Handler {
	return health.NewHandler(db, redis, client, manager, version)
}

func RegisterHealthRoutes(e *echo.Echo, h *health.Handler) {
	h.RegisterRoutes(e)
}

var HealthModule = fx.Options(
	fx.Provide(ProvideHealthHandler),
	fx.Invoke(RegisterHealthRoutes),
)
