package engine

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/spaceai-agentops/internal/infra"
	"go.uber.org/zap"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestSandboxManager_InitSeedsEmptySet(t *testing.T) {
	mr, rdb := newRedis(t)
	sm := NewSandboxManager(rdb, []string{"acme"}, zap.NewNop())

	require.NoError(t, sm.Init(context.Background()))

	assert.True(t, sm.IsSandbox("acme"))
	assert.False(t, sm.IsSandbox("globex"))
	members, err := mr.Members(infra.RedisKeySandboxTenants)
	require.NoError(t, err)
	assert.Equal(t, []string{"acme"}, members)
}

func TestSandboxManager_InitKeepsRedisState(t *testing.T) {
	mr, rdb := newRedis(t)
	_, err := mr.SAdd(infra.RedisKeySandboxTenants, "globex")
	require.NoError(t, err)

	sm := NewSandboxManager(rdb, []string{"acme"}, zap.NewNop())
	require.NoError(t, sm.Init(context.Background()))

	assert.True(t, sm.IsSandbox("globex"))
	assert.True(t, sm.IsSandbox("acme"))
	members, _ := mr.Members(infra.RedisKeySandboxTenants)
	assert.Equal(t, []string{"globex"}, members)
}

func TestSandboxManager_SetSandbox(t *testing.T) {
	mr, rdb := newRedis(t)
	sm := NewSandboxManager(rdb, nil, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, sm.SetSandbox(ctx, "acme", true))
	assert.True(t, sm.IsSandbox("acme"))
	assert.True(t, mr.Exists(infra.RedisKeySandboxTenants))
	assert.ElementsMatch(t, []string{"acme"}, sm.Tenants())

	require.NoError(t, sm.SetSandbox(ctx, "acme", false))
	assert.False(t, sm.IsSandbox("acme"))
}

func TestSandboxManager_ListenerAppliesSignals(t *testing.T) {
	_, rdb := newRedis(t)
	sm := NewSandboxManager(rdb, nil, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		sm.StartListener(ctx)
		close(done)
	}()

	// Ждем, пока подписка поднимется
	require.Eventually(t, func() bool {
		n, _ := rdb.PubSubNumSub(ctx, infra.RedisChanSandbox).Result()
		return n[infra.RedisChanSandbox] > 0
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, rdb.Publish(ctx, infra.RedisChanSandbox, "initech:on").Err())
	assert.Eventually(t, func() bool { return sm.IsSandbox("initech") }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, rdb.Publish(ctx, infra.RedisChanSandbox, "initech:off").Err())
	assert.Eventually(t, func() bool { return !sm.IsSandbox("initech") }, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("listener did not stop")
	}
}
