// Package remediation планирует и исполняет корректирующие действия по инциденту.
package remediation

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/xela07ax/spaceai-agentops/internal/domain"
)

// Handler исполняет одно действие своего семейства. Ошибки возвращаются в ActionOutcome.
type Handler interface {
	Handle(ctx context.Context, tenantID string, a domain.RemediationAction) domain.ActionOutcome
}

// HandlerFunc: адаптер для функций.
type HandlerFunc func(ctx context.Context, tenantID string, a domain.RemediationAction) domain.ActionOutcome

func (f HandlerFunc) Handle(ctx context.Context, tenantID string, a domain.RemediationAction) domain.ActionOutcome {
	return f(ctx, tenantID, a)
}

// outcome сворачивает пару (message, err) в результат обработчика.
func outcome(msg string, err error) domain.ActionOutcome {
	if err != nil {
		return domain.Failed(err.Error())
	}
	return domain.Done(msg)
}

// resourceRef: namespace/name, извлеченные из свободного текста target.
type resourceRef struct {
	Namespace string
	Name      string
}

func (r resourceRef) String() string { return r.Namespace + "/" + r.Name }

// parseTarget понимает "name", "ns/name" и "ns/kind/name".
// parameters.namespace имеет приоритет над namespace из target.
func parseTarget(a domain.RemediationAction, defaultNS string) (resourceRef, error) {
	target := strings.TrimSpace(a.Target)
	if target == "" {
		return resourceRef{}, fmt.Errorf("%s: empty target", a.Type)
	}

	parts := strings.Split(target, "/")
	ref := resourceRef{Namespace: defaultNS, Name: parts[len(parts)-1]}
	if len(parts) >= 2 {
		ref.Namespace = parts[0]
	}
	if ns, ok := a.Parameters["namespace"].(string); ok && ns != "" {
		ref.Namespace = ns
	}
	if ref.Name == "" || ref.Namespace == "" {
		return resourceRef{}, fmt.Errorf("%s: cannot resolve resource from target %q", a.Type, a.Target)
	}
	return ref, nil
}

// intParam достает целое из parameters (JSON приносит float64 или строку).
func intParam(params map[string]any, key string) (int, bool) {
	switch v := params[key].(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	case int32:
		return int(v), true
	case int64:
		return int(v), true
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		return n, err == nil
	default:
		return 0, false
	}
}
