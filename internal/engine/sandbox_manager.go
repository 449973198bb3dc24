package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/xela07ax/spaceai-agentops/internal/infra"
	"go.uber.org/zap"
)

// SandboxManager хранит тенантов, для которых корректирующие действия
// только симулируются (dry-run). L1: map в памяти, L2: Redis set,
// изменения приходят через Pub/Sub.
type SandboxManager struct {
	rdb     *redis.Client
	logger  *zap.Logger
	seed    []string
	mu      sync.RWMutex
	tenants map[string]bool
}

func NewSandboxManager(rdb *redis.Client, seed []string, logger *zap.Logger) *SandboxManager {
	return &SandboxManager{
		tenants: make(map[string]bool),
		seed:    seed,
		rdb:     rdb,
		logger:  logger.With(zap.String("mod", "sandbox")),
	}
}

// Init загружает состояние при старте и при каждом переподключении слушателя.
func (sm *SandboxManager) Init(ctx context.Context) error {
	return WarmupSet(ctx, sm.rdb, sm.logger, sm.seed, infra.RedisKeySandboxTenants, infra.RedisKeyLockWarmupSandbox,
		func(items []string) {
			sm.mu.Lock()
			defer sm.mu.Unlock()
			for _, id := range items {
				sm.tenants[id] = true
			}
		})
}

// StartListener подписывается на изменения режима Sandbox в реальном времени.
// Блокирует до отмены ctx.
func (sm *SandboxManager) StartListener(ctx context.Context) {
	ListenStateResilient(ctx, sm.rdb, sm.logger, infra.RedisChanSandbox,
		func() error { return sm.Init(ctx) },
		sm.apply,
	)
}

func (sm *SandboxManager) apply(tenantID string, enabled bool) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if enabled {
		sm.tenants[tenantID] = true
	} else {
		delete(sm.tenants, tenantID)
	}
	sm.logger.Info("sandbox mode changed", zap.String("tenant_id", tenantID), zap.Bool("enabled", enabled))
}

// SetSandbox меняет режим тенанта: Redis set + сигнал для остальных инстансов.
func (sm *SandboxManager) SetSandbox(ctx context.Context, tenantID string, enabled bool) error {
	var err error
	if enabled {
		err = sm.rdb.SAdd(ctx, infra.RedisKeySandboxTenants, tenantID).Err()
	} else {
		err = sm.rdb.SRem(ctx, infra.RedisKeySandboxTenants, tenantID).Err()
	}
	if err != nil {
		return fmt.Errorf("update sandbox set: %w", err)
	}

	// Локально применяем сразу, не дожидаясь своего же сообщения
	sm.apply(tenantID, enabled)

	flag := "off"
	if enabled {
		flag = "on"
	}
	if err := sm.rdb.Publish(ctx, infra.RedisChanSandbox, tenantID+":"+flag).Err(); err != nil {
		return fmt.Errorf("publish sandbox signal: %w", err)
	}
	return nil
}

// IsSandbox: быстрый метод для проверки в горячем пути исполнителя.
func (sm *SandboxManager) IsSandbox(tenantID string) bool {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.tenants[tenantID]
}

// Tenants: снимок для admin API.
func (sm *SandboxManager) Tenants() []string {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	out := make([]string, 0, len(sm.tenants))
	for id := range sm.tenants {
		out = append(out, id)
	}
	return out
}
