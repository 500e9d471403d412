package patterns

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/go-redis/redis/v8"

	"github.com/anomalystack/anomaly-scan/internal/config"
	"github.com/anomalystack/anomaly-scan/internal/models"
	"github.com/anomalystack/anomaly-scan/internal/utils"
)

const redisPatternsKey = "anomaly-scan:patterns"

// RedisStore keeps the pattern library as a Redis list of JSON documents.
// Appends map directly onto RPUSH, which preserves the append-only contract
// without read-modify-write cycles.
type RedisStore struct {
	logger *slog.Logger
	client *redis.Client
}

// NewRedisStore connects and verifies the backend with a ping.
func NewRedisStore(logger *slog.Logger, cfg config.RedisConfig) (*RedisStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}
	return &RedisStore{logger: logger, client: client}, nil
}

func (s *RedisStore) SavePatterns(ctx context.Context, patterns []models.Pattern) error {
	if len(patterns) == 0 {
		return nil
	}
	docs := make([]interface{}, 0, len(patterns))
	for _, p := range patterns {
		data, err := json.Marshal(p)
		if err != nil {
			return utils.NewAppError("patterns.redis.save", utils.KindPersistence, "encode pattern", err)
		}
		docs = append(docs, data)
	}
	if err := s.client.RPush(ctx, redisPatternsKey, docs...).Err(); err != nil {
		return utils.NewAppError("patterns.redis.save", utils.KindPersistence, "append patterns", err)
	}
	return nil
}

func (s *RedisStore) LoadPatterns(ctx context.Context) ([]models.Pattern, error) {
	raw, err := s.client.LRange(ctx, redisPatternsKey, 0, -1).Result()
	if err != nil {
		return nil, utils.NewAppError("patterns.redis.load", utils.KindPersistence, "read patterns", err)
	}
	patterns := make([]models.Pattern, 0, len(raw))
	for _, doc := range raw {
		var p models.Pattern
		if err := json.Unmarshal([]byte(doc), &p); err != nil {
			s.logger.Warn("skipping undecodable pattern document", "error", err)
			continue
		}
		patterns = append(patterns, p)
	}
	return patterns, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
