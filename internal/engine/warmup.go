package engine

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// WarmupSet синхронизирует L1 (RAM) и L2 (Redis set).
// Источник истины: объединение seed (конфиг) и текущего содержимого Redis:
// seed заливается в Redis только если set пуст, а L1 получает все идентификаторы.
func WarmupSet(
	ctx context.Context,
	rdb *redis.Client,
	logger *zap.Logger,
	seed []string,
	redisKey string,
	lockKey string,
	updateL1 func([]string),
) error {
	// 1. Читаем то, что уже есть в Redis (решения операторов переживают рестарт)
	existing, err := rdb.SMembers(ctx, redisKey).Result()
	if err != nil {
		logger.Warn("could not read Redis set, using seed only",
			zap.String("key", redisKey), zap.Error(err))
		updateL1(seed)
		return err
	}
	updateL1(append(existing, seed...))

	if len(existing) > 0 || len(seed) == 0 {
		return nil
	}

	// 2. Распределенная блокировка (SetNX), чтобы только один инстанс заливал seed
	ok, err := rdb.SetNX(ctx, lockKey, "processing", 30*time.Second).Result()
	if err != nil || !ok {
		return nil // Либо ошибка сети, либо другой уже греет кэш
	}

	logger.Info("Redis set is empty, performing warm-up from config",
		zap.String("key", redisKey), zap.Int("count", len(seed)))

	pipe := rdb.Pipeline()
	for _, id := range seed {
		pipe.SAdd(ctx, redisKey, id)
	}
	_, err = pipe.Exec(ctx)
	return err
}
