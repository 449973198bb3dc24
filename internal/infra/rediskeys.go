package infra

import "fmt"

const (
	// RedisNamespace Базовый префикс для изоляции данных проекта в Redis
	RedisNamespace = "agentops"
)

// Ключи для Sets (состояние)
const (
	RedisKeySandboxTenants     = RedisNamespace + ":tenants:sandbox_set"
	RedisKeyLockWarmupSandbox  = RedisNamespace + ":lock:warmup_sandbox"
	RedisKeyLockRemediationRun = RedisNamespace + ":remediations:execution:"
)

// Каналы Pub/Sub (события)
const (
	// RedisChanRemediationDecisions: решения оператора по действиям, ожидающим подтверждения.
	// Формат сообщения: "<remediationId>:<true|false>".
	RedisChanRemediationDecisions = RedisNamespace + ":remediations:decisions"
	RedisChanSandbox              = RedisNamespace + ":tenants:sandbox-signal"
	RedisChanNotifications        = RedisNamespace + ":notifications"
)

// CacheKeyPrefix: пространство кэша тенанта, которое разрешено чистить действию clear_cache.
func CacheKeyPrefix(tenantID string) string {
	return fmt.Sprintf("%s:cache:%s:", RedisNamespace, tenantID)
}
