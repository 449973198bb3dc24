package remediation

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/xela07ax/spaceai-agentops/internal/domain"
	"github.com/xela07ax/spaceai-agentops/internal/infra"
	"go.uber.org/zap"
)

// Notifier: best-effort уведомление об итогах прогона.
// Ничего не возвращает: сбой доставки не влияет на результат исполнителя.
type Notifier interface {
	Notify(ctx context.Context, tenantID string, incident domain.Incident, report domain.RemediationReport)
}

// Notification: сообщение в канале уведомлений.
type Notification struct {
	TenantID   string    `json:"tenantId"`
	IncidentID string    `json:"incidentId"`
	Title      string    `json:"title"`
	Executed   int       `json:"executed"`
	Failed     int       `json:"failed"`
	Pending    int       `json:"pending"`
	Text       string    `json:"text"`
	SentAt     time.Time `json:"sentAt"`
}

// FormatNotification собирает текст уведомления.
func FormatNotification(incident domain.Incident, report domain.RemediationReport) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Remediation Update for: %s\n", incident.Title)
	if len(report.Executed) > 0 {
		fmt.Fprintf(&sb, "\nExecuted %d actions:\n", len(report.Executed))
		for _, a := range report.Executed {
			fmt.Fprintf(&sb, "  - %s: %s\n", a.Action, a.Target)
		}
	}
	if len(report.Failed) > 0 {
		fmt.Fprintf(&sb, "\nFailed %d actions:\n", len(report.Failed))
		for _, a := range report.Failed {
			fmt.Fprintf(&sb, "  - %s: %s (%s)\n", a.Action, a.Target, a.Error)
		}
	}
	if len(report.PendingApproval) > 0 {
		fmt.Fprintf(&sb, "\nAwaiting approval: %d actions\n", len(report.PendingApproval))
	}
	return sb.String()
}

// RedisNotifier публикует уведомления в Pub/Sub. Без Redis только пишет в лог.
type RedisNotifier struct {
	rdb     *redis.Client
	channel string
	logger  *zap.Logger
}

func NewRedisNotifier(rdb *redis.Client, logger *zap.Logger) *RedisNotifier {
	return &RedisNotifier{rdb: rdb, channel: infra.RedisChanNotifications, logger: logger.Named("notifier")}
}

func (n *RedisNotifier) Notify(ctx context.Context, tenantID string, incident domain.Incident, report domain.RemediationReport) {
	msg := Notification{
		TenantID:   tenantID,
		IncidentID: incident.ID,
		Title:      incident.Title,
		Executed:   len(report.Executed),
		Failed:     len(report.Failed),
		Pending:    len(report.PendingApproval),
		Text:       FormatNotification(incident, report),
		SentAt:     time.Now().UTC(),
	}

	n.logger.Info("remediation update",
		zap.String("tenant_id", tenantID),
		zap.String("incident_id", incident.ID),
		zap.Int("executed", msg.Executed),
		zap.Int("failed", msg.Failed),
		zap.Int("pending", msg.Pending),
	)
	if n.rdb == nil {
		return
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		n.logger.Warn("failed to encode notification", zap.Error(err))
		return
	}
	if err := n.rdb.Publish(ctx, n.channel, payload).Err(); err != nil {
		n.logger.Warn("failed to send notification", zap.String("incident_id", incident.ID), zap.Error(err))
	}
}
