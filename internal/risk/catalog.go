// Package risk хранит статический каталог корректирующих действий.
// Уровень риска и необходимость апрува задаются здесь и не переопределяются моделью.
package risk

import (
	"github.com/xela07ax/spaceai-agentops/internal/domain"
)

// Family: группа обработчиков, исполняющих действие.
type Family string

const (
	FamilyKubernetes Family = "kubernetes"
	FamilyRollback   Family = "rollback"
	FamilyCache      Family = "cache"
	FamilyService    Family = "service"
	FamilyNone       Family = "" // обработчика нет, действие только через апрув
)

// Entry: строка каталога.
type Entry struct {
	Type             domain.ActionType
	Summary          string
	Risk             domain.RiskLevel
	RequiresApproval bool
	Family           Family
}

// Порядок строк совпадает с порядком в подсказке планировщику.
var catalog = []Entry{
	{domain.ActionRestartService, "Restart a service", domain.RiskMedium, true, FamilyService},
	{domain.ActionScaleUp, "Increase replicas/instances", domain.RiskLow, false, FamilyKubernetes},
	{domain.ActionScaleDown, "Decrease replicas/instances", domain.RiskMedium, true, FamilyKubernetes},
	{domain.ActionRollbackDeployment, "Roll back to previous version", domain.RiskHigh, true, FamilyRollback},
	{domain.ActionClearCache, "Clear application/CDN cache", domain.RiskLow, false, FamilyCache},
	{domain.ActionRestartPod, "Restart a Kubernetes pod", domain.RiskMedium, true, FamilyKubernetes},
	{domain.ActionDrainNode, "Drain a Kubernetes node", domain.RiskHigh, true, FamilyKubernetes},
	{domain.ActionTriggerFailover, "Trigger failover to backup", domain.RiskCritical, true, FamilyNone},
}

var byType = func() map[domain.ActionType]Entry {
	m := make(map[domain.ActionType]Entry, len(catalog))
	for _, e := range catalog {
		m[e.Type] = e
	}
	return m
}()

// Entries возвращает копию каталога в фиксированном порядке.
func Entries() []Entry {
	out := make([]Entry, len(catalog))
	copy(out, catalog)
	return out
}

// Lookup ищет действие в каталоге.
func Lookup(t domain.ActionType) (Entry, bool) {
	e, ok := byType[t]
	return e, ok
}

// Classify возвращает риск и флаг апрува. Неизвестный тип: high и апрув обязателен.
func Classify(t domain.ActionType) (domain.RiskLevel, bool, bool) {
	if e, ok := byType[t]; ok {
		return e.Risk, e.RequiresApproval, true
	}
	return domain.RiskHigh, true, false
}

// Apply проставляет в действие значения из каталога.
func Apply(a domain.RemediationAction) domain.RemediationAction {
	a.Risk, a.RequiresApproval, _ = Classify(a.Type)
	return a
}
