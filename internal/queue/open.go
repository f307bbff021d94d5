package queue

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/dinnerconnect/notifier/internal/config"
	"github.com/dinnerconnect/notifier/internal/db"
)

// Open builds the backend selected by cfg.QueueBackend. The caller owns the
// returned queue and must Close it on shutdown.
func Open(ctx context.Context, cfg *config.Config, logger *zap.Logger) (Queue, error) {
	logger = logger.With(zap.String("backend", cfg.QueueBackend))

	switch cfg.QueueBackend {
	case config.BackendSQS:
		q, err := NewSQSQueue(ctx, SQSConfig{
			Region:          cfg.AWSRegion,
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretAccessKey,
			QueueURL:        cfg.SQSQueueURL,
			Endpoint:        cfg.SQSEndpoint,
		})
		if err != nil {
			return nil, err
		}
		logger.Info("queue opened", zap.String("queue_url", cfg.SQSQueueURL))
		return q, nil

	case config.BackendPostgres:
		pool, err := db.Connect(ctx, cfg)
		if err != nil {
			return nil, err
		}
		if err := db.Migrate(cfg.MigrationsPath, cfg.DatabaseURL); err != nil {
			pool.Close()
			return nil, err
		}
		logger.Info("queue opened", zap.String("migrations", cfg.MigrationsPath))
		return NewPostgresQueue(pool, cfg.VisibilityTimeout, cfg.DBPollInterval), nil

	case config.BackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("ping redis: %w", err)
		}
		q, err := NewRedisQueue(ctx, client, RedisConfig{
			Stream:     cfg.RedisStream,
			Group:      cfg.RedisGroup,
			Consumer:   cfg.RedisConsumer,
			Visibility: cfg.VisibilityTimeout,
		})
		if err != nil {
			_ = client.Close()
			return nil, err
		}
		logger.Info("queue opened", zap.String("stream", cfg.RedisStream), zap.String("group", cfg.RedisGroup))
		return q, nil

	case config.BackendMemory:
		logger.Warn("using in-process queue; messages do not survive restarts and are not shared between processes")
		return NewMemoryQueue(cfg.MemoryCapacity, cfg.VisibilityTimeout), nil

	default:
		return nil, fmt.Errorf("unknown queue backend %q", cfg.QueueBackend)
	}
}
