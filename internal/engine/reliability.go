package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// ReliabilitySettings: параметры обертки. Нулевые значения заменяются дефолтами.
type ReliabilitySettings struct {
	Name           string
	RateLimit      float64
	RateBurst      int
	Attempts       uint
	AttemptTimeout time.Duration
	CBMaxRequests  uint32
	CBInterval     time.Duration
	CBTimeout      time.Duration
}

func (s ReliabilitySettings) withDefaults() ReliabilitySettings {
	if s.Name == "" {
		s.Name = "external"
	}
	if s.RateLimit <= 0 {
		s.RateLimit = 50
	}
	if s.RateBurst <= 0 {
		s.RateBurst = 10
	}
	if s.Attempts == 0 {
		s.Attempts = 3
	}
	if s.AttemptTimeout <= 0 {
		s.AttemptTimeout = 10 * time.Second
	}
	if s.CBMaxRequests == 0 {
		s.CBMaxRequests = 3
	}
	if s.CBInterval <= 0 {
		s.CBInterval = 5 * time.Second
	}
	if s.CBTimeout <= 0 {
		s.CBTimeout = 30 * time.Second
	}
	return s
}

// ReliabilityWrapper защищает внешние вызовы (API платформы, LLM):
// Rate Limiter -> Circuit Breaker -> Retry с таймаутом на попытку.
type ReliabilityWrapper struct {
	name     string
	cb       *gobreaker.CircuitBreaker
	limiter  *rate.Limiter
	attempts uint
	timeout  time.Duration
}

func NewReliabilityWrapper(s ReliabilitySettings, metrics *Metrics) *ReliabilityWrapper {
	s = s.withDefaults()

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        s.Name,
		MaxRequests: s.CBMaxRequests,
		Interval:    s.CBInterval,
		Timeout:     s.CBTimeout, // Время, через которое CB попробует "закрыться"
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			// Более 5 ошибок подряд: открываемся
			return counts.ConsecutiveFailures > 5
		},
		OnStateChange: func(name string, _, to gobreaker.State) {
			if metrics == nil {
				return
			}
			v := 0.0
			if to == gobreaker.StateOpen {
				v = 1
			}
			metrics.CircuitBreakerState.WithLabelValues(name).Set(v)
		},
	})

	return &ReliabilityWrapper{
		name:     s.Name,
		cb:       cb,
		limiter:  rate.NewLimiter(rate.Limit(s.RateLimit), s.RateBurst),
		attempts: s.Attempts,
		timeout:  s.AttemptTimeout,
	}
}

// Do выполняет call с защитой. Каждая попытка получает собственный таймаут.
// PermanentError не повторяется и не открывает предохранитель.
func (w *ReliabilityWrapper) Do(ctx context.Context, call func(ctx context.Context) error) error {
	// 1. Rate Limiter
	if err := w.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%s: rate limit wait: %w", w.name, err)
	}

	var permanent error

	// 2. Circuit Breaker
	_, err := w.cb.Execute(func() (interface{}, error) {
		r := retry.New(
			retry.Context(ctx),
			retry.Attempts(w.attempts),
			retry.DelayType(func(n uint, err error, config retry.DelayContext) time.Duration {
				// Если сторона вернула ThrottleError (Retry-After): ждем сколько просили
				var tErr *ThrottleError
				if errors.As(err, &tErr) && tErr.RetryAfter > 0 {
					return tErr.RetryAfter
				}
				// В остальных случаях (сетевой лаг, 500-ка): экспоненциальный бэкофф
				return retry.BackOffDelay(n, err, config)
			}),
		)

		retryErr := r.Do(func() error {
			tCtx, cancel := context.WithTimeout(ctx, w.timeout)
			defer cancel()

			callErr := call(tCtx)
			if isPermanent(callErr) {
				// 3. Останавливаем повторы: ошибку вернем после выхода из CB
				permanent = callErr
				return nil
			}
			return callErr
		})

		return nil, retryErr
	})

	if permanent != nil {
		return permanent
	}
	if err != nil {
		return fmt.Errorf("%s: %w", w.name, err)
	}
	return nil
}
