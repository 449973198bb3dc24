package engine

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

// Тип для ключа в контексте (избегаем коллизий)
type ctxKey string

const traceIDKey ctxKey = "trace_id"

const TraceHeader = "X-Trace-ID"

// WithTraceID кладет ID в контекст. Пустой id заменяется новым UUID.
func WithTraceID(ctx context.Context, id string) context.Context {
	if id == "" {
		id = uuid.New().String()
	}
	return context.WithValue(ctx, traceIDKey, id)
}

// TraceID безопасно достает ID в любом месте кода
func TraceID(ctx context.Context) string {
	if id, ok := ctx.Value(traceIDKey).(string); ok {
		return id
	}
	return "00000000-0000-0000-0000-000000000000" // Fallback
}

// TracingMiddleware инициализирует Trace-ID для каждого запроса
func TracingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// 1. Берем ID из заголовка (если пришел от прокси) или генерируем новый
		ctx := WithTraceID(r.Context(), r.Header.Get(TraceHeader))

		// 2. Возвращаем в ответе, чтобы клиент тоже знал ID своего запроса
		w.Header().Set(TraceHeader, TraceID(ctx))

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
