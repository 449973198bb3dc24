package remediation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/xela07ax/spaceai-agentops/internal/domain"
	"github.com/xela07ax/spaceai-agentops/internal/infra"
	"go.uber.org/zap"
)

const scanCount = 500

var ErrCacheDisabled = errors.New("cache integration is not configured")

// CacheClearer удаляет ключи в пространстве кэша тенанта.
type CacheClearer struct {
	rdb    *redis.Client
	logger *zap.Logger
}

func NewCacheClearer(rdb *redis.Client, logger *zap.Logger) *CacheClearer {
	return &CacheClearer{rdb: rdb, logger: logger.Named("cache")}
}

func (c *CacheClearer) Handle(ctx context.Context, tenantID string, a domain.RemediationAction) domain.ActionOutcome {
	if c.rdb == nil {
		return domain.Failed(ErrCacheDisabled.Error())
	}
	if tenantID == "" {
		return domain.Failed(domain.ErrMissingTenant.Error())
	}
	pattern := cachePattern(tenantID, a.Target)

	deleted, err := c.clear(ctx, pattern)
	if err != nil {
		return domain.Failed(fmt.Sprintf("clear cache %q: %v", pattern, err))
	}
	c.logger.Info("cache cleared", zap.String("tenant_id", tenantID), zap.String("pattern", pattern), zap.Int64("keys", deleted))
	return domain.Done(fmt.Sprintf("Cache cleared: %d keys matching %s", deleted, pattern))
}

// cachePattern ограничивает target пространством тенанта.
// Без glob-символов target трактуется как префикс.
func cachePattern(tenantID, target string) string {
	prefix := infra.CacheKeyPrefix(tenantID)
	target = strings.TrimSpace(target)
	target = strings.TrimPrefix(target, prefix)

	switch {
	case target == "", target == "*", strings.EqualFold(target, "all"):
		return prefix + "*"
	case strings.ContainsAny(target, "*?["):
		return prefix + target
	default:
		return prefix + target + "*"
	}
}

func (c *CacheClearer) clear(ctx context.Context, pattern string) (int64, error) {
	var (
		cursor  uint64
		deleted int64
	)
	for {
		keys, next, err := c.rdb.Scan(ctx, cursor, pattern, scanCount).Result()
		if err != nil {
			return deleted, err
		}
		if len(keys) > 0 {
			n, err := c.rdb.Del(ctx, keys...).Result()
			if err != nil {
				return deleted, err
			}
			deleted += n
		}
		cursor = next
		if cursor == 0 {
			return deleted, nil
		}
	}
}
