package audit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/spaceai-agentops/internal/engine"
	"go.uber.org/zap"
)

type memStore struct {
	mu      sync.Mutex
	batches [][]Event
}

func (m *memStore) WriteBatch(_ context.Context, events []Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]Event, len(events))
	copy(cp, events)
	m.batches = append(m.batches, cp)
	return nil
}

func (m *memStore) total() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, b := range m.batches {
		n += len(b)
	}
	return n
}

func TestJournal_FlushesOnStop(t *testing.T) {
	store := &memStore{}
	j := NewJournal(store, 1000, time.Hour, engine.NewMetrics(prometheus.NewRegistry()), zap.NewNop())
	j.Start()

	for i := 0; i < 250; i++ {
		j.Log(NewEvent(KindTask, "t1", "monitoring", "task"))
	}
	j.Stop()

	assert.Equal(t, 250, store.total())
	// 100 + 100 по размеру пачки и остаток на остановке
	assert.Len(t, store.batches, 3)
}

func TestJournal_FlushesOnTicker(t *testing.T) {
	store := &memStore{}
	j := NewJournal(store, 10, 20*time.Millisecond, nil, zap.NewNop())
	j.Start()
	defer j.Stop()

	j.Log(Event{Kind: KindAction, Subject: "scale_up"})

	require.Eventually(t, func() bool { return store.total() == 1 }, time.Second, 10*time.Millisecond)
	store.mu.Lock()
	assert.False(t, store.batches[0][0].Timestamp.IsZero())
	store.mu.Unlock()
}

func TestJournal_LogAfterStopIsDropped(t *testing.T) {
	store := &memStore{}
	j := NewJournal(store, 10, time.Hour, nil, zap.NewNop())
	j.Start()
	j.Stop()
	j.Stop()

	assert.NotPanics(t, func() { j.Log(NewEvent(KindTask, "t1", "rca", "x")) })
	assert.Zero(t, store.total())
}

func TestJournal_OverflowSheds(t *testing.T) {
	store := &memStore{}
	j := NewJournal(store, 2, time.Hour, nil, zap.NewNop())
	// воркер не запущен: буфер заполнится после двух событий
	for i := 0; i < 5; i++ {
		j.Log(NewEvent(KindTask, "t1", "incident", "x"))
	}
	assert.Len(t, j.ch, 2)
}
