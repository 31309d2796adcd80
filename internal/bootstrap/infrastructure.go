package bootstrap

import (
	"context"
	"log/slog"

	"github.com/eleven-am/vision-chat/internal/conversation"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ProvideRedisClient returns nil when REDIS_ADDR is unset; snapshots then
// live only in memory.
func ProvideRedisClient(lc fx.Lifecycle, cfg *Config) *redis.Client {
	if cfg.RedisAddr == "" {
		return nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return client.Close()
		},
	})
	return client
}

// ProvideDatabase returns nil when DATABASE_DSN is unset; turn history is
// then disabled.
func ProvideDatabase(cfg *Config) (*gorm.DB, error) {
	if cfg.DatabaseDSN == "" {
		return nil, nil
	}
	return gorm.Open(postgres.Open(cfg.DatabaseDSN), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
}

func ProvideSnapshotStore(client *redis.Client, cfg *Config) *conversation.Store {
	if client == nil {
		return nil
	}
	return conversation.NewStore(client, cfg.ConversationTTL)
}

func ProvideHistory(db *gorm.DB, log *slog.Logger) (*conversation.History, error) {
	if db == nil {
		log.Info("DATABASE_DSN not set, turn history disabled")
		return nil, nil
	}

	history := conversation.NewHistory(db)
	if err := history.Migrate(); err != nil {
		return nil, err
	}
	return history, nil
}

var InfrastructureModule = fx.Options(
	fx.Provide(
		ProvideRedisClient,
		ProvideDatabase,
		ProvideSnapshotStore,
		ProvideHistory,
	),
)
