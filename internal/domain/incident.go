package domain

import "time"

// Severity совпадает по значениям с RiskLevel, но относится к инцидентам и выводам LLM.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// ParseSeverity возвращает false для значений вне четырех уровней.
func ParseSeverity(raw string) (Severity, bool) {
	switch s := Severity(raw); s {
	case SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow:
		return s, true
	default:
		return "", false
	}
}

type IncidentStatus string

const (
	IncidentOpen          IncidentStatus = "open"
	IncidentInvestigating IncidentStatus = "investigating"
	IncidentResolved      IncidentStatus = "resolved"
)

// Incident: запись инцидента на стороне платформы.
type Incident struct {
	ID          string         `json:"id,omitempty"`
	TenantID    string         `json:"tenantId"`
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Severity    Severity       `json:"severity"`
	Status      IncidentStatus `json:"status,omitempty"`
	Source      string         `json:"source,omitempty"`
	RootCause   string         `json:"rootCause,omitempty"`
	RCAAnalysis map[string]any `json:"rcaAnalysis,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   *time.Time     `json:"createdAt,omitempty"`
}

// CreatedOr возвращает время создания или fallback, если платформа его не прислала.
func (i Incident) CreatedOr(fallback time.Time) time.Time {
	if i.CreatedAt == nil || i.CreatedAt.IsZero() {
		return fallback
	}
	return *i.CreatedAt
}

// IncidentUpdate: тело PATCH /incidents/{id}. Пустые поля не отправляются.
type IncidentUpdate struct {
	RootCause   string         `json:"rootCause,omitempty"`
	RCAAnalysis map[string]any `json:"rcaAnalysis,omitempty"`
	Status      IncidentStatus `json:"status,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// Insight: структурированный вывод LLM-анализа.
type Insight struct {
	Summary         string   `json:"summary"`
	Severity        Severity `json:"severity"`
	Issues          []string `json:"issues"`
	Recommendations []string `json:"recommendations"`
	Confidence      int      `json:"confidence"`
}

// Website: объект мониторинга.
type Website struct {
	ID       string `json:"id"`
	TenantID string `json:"tenantId,omitempty"`
	Name     string `json:"name"`
	URL      string `json:"url"`
}

// Статусы проверки доступности.
const (
	HealthUp       = "up"
	HealthSlow     = "slow"
	HealthDegraded = "degraded"
	HealthError    = "error"
	HealthDown     = "down"
)

// HealthCheck: результат одной проверки (как хранится на платформе).
type HealthCheck struct {
	ID           string     `json:"id,omitempty"`
	WebsiteID    string     `json:"websiteId"`
	Status       string     `json:"status"`
	StatusCode   int        `json:"statusCode,omitempty"`
	ResponseTime int64      `json:"responseTime,omitempty"`
	ErrorMessage string     `json:"errorMessage,omitempty"`
	SSLValid     *bool      `json:"sslValid,omitempty"`
	SSLExpiresAt *time.Time `json:"sslExpiresAt,omitempty"`
	CheckedAt    *time.Time `json:"checkedAt,omitempty"`
}

// IsFailure: down и error считаются отказом при поиске повторяющихся сбоев.
func (h HealthCheck) IsFailure() bool {
	return h.Status == HealthDown || h.Status == HealthError
}
