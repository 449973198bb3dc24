package audit

/*
Journal: неблокирующий журнал выполнения задач и корректирующих действий.

- Log не ждет БД: событие кладется в буферизованный канал, при переполнении
  сбрасывается в zap (load shedding).
- Воркер копит пачку и пишет ее в Store по таймеру или при заполнении.
- Stop закрывает вход и дожидается финального flush.
*/

import (
	"context"
	"sync"
	"time"

	"github.com/xela07ax/spaceai-agentops/internal/engine"
	"go.uber.org/zap"
)

const batchSize = 100

// Store: куда физически пишутся события.
type Store interface {
	WriteBatch(ctx context.Context, events []Event) error
}

// Auditor: то, что нужно планировщику и исполнителю.
type Auditor interface {
	Log(event Event)
}

type Journal struct {
	ch       chan Event
	store    Store
	interval time.Duration
	metrics  *engine.Metrics
	logger   *zap.Logger
	wg       sync.WaitGroup

	// mu защищает закрытие канала от конкурентного Log
	mu     sync.RWMutex
	closed bool
}

func NewJournal(store Store, bufferSize int, flushInterval time.Duration, metrics *engine.Metrics, logger *zap.Logger) *Journal {
	if bufferSize <= 0 {
		bufferSize = 10000
	}
	if flushInterval <= 0 {
		flushInterval = 500 * time.Millisecond
	}
	if metrics == nil {
		metrics = engine.NewMetrics(nil)
	}
	return &Journal{
		ch:       make(chan Event, bufferSize),
		store:    store,
		interval: flushInterval,
		metrics:  metrics,
		logger:   logger.Named("audit"),
	}
}

func (j *Journal) Start() {
	j.wg.Add(1)
	go j.worker()
}

// Stop запрещает новые события и ждет, пока воркер допишет остаток.
func (j *Journal) Stop() {
	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		return
	}
	j.closed = true
	close(j.ch)
	j.mu.Unlock()

	j.logger.Info("stopping audit journal: flushing buffer")
	j.wg.Wait()
	j.logger.Info("audit journal stopped")
}

func (j *Journal) Log(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.closed {
		j.logger.Warn("audit event dropped: journal is stopped", zap.String("id", event.ID))
		return
	}

	select {
	case j.ch <- event:
		j.metrics.AuditBufferFill.Set(float64(len(j.ch)))
	default:
		j.logger.Error("audit_buffer_overflow",
			zap.String("kind", string(event.Kind)),
			zap.String("subject", event.Subject),
			zap.String("target", event.Target),
			zap.String("status", event.Status),
			zap.String("trace_id", event.TraceID),
		)
	}
}

func (j *Journal) worker() {
	defer j.wg.Done()

	batch := make([]Event, 0, batchSize)
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		// Background: на остановке внешний контекст уже отменен
		if err := j.store.WriteBatch(context.Background(), batch); err != nil {
			j.logger.Error("audit flush failed", zap.Int("events", len(batch)), zap.Error(err))
		}
		batch = batch[:0]
		j.metrics.AuditBufferFill.Set(float64(len(j.ch)))
	}

	for {
		select {
		case event, ok := <-j.ch:
			if !ok {
				flush()
				return
			}
			batch = append(batch, event)
			if len(batch) >= batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

// LogStore пишет события в zap. Используется, когда database.url не задан.
type LogStore struct {
	logger *zap.Logger
}

func NewLogStore(logger *zap.Logger) *LogStore {
	return &LogStore{logger: logger.Named("audit_store")}
}

func (s *LogStore) WriteBatch(_ context.Context, events []Event) error {
	for _, e := range events {
		s.logger.Info("audit",
			zap.String("id", e.ID),
			zap.String("kind", string(e.Kind)),
			zap.String("tenant_id", e.TenantID),
			zap.String("subject", e.Subject),
			zap.String("target", e.Target),
			zap.String("mode", e.Mode),
			zap.String("status", e.Status),
			zap.Int64("duration_ms", e.DurationMs),
			zap.String("error", e.Error),
		)
	}
	return nil
}

// Nop: Auditor для тестов и CLI.
type Nop struct{}

func (Nop) Log(Event) {}
