package agent

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/xela07ax/spaceai-agentops/internal/domain"
)

// Thresholds: пороги классификации проверки.
type Thresholds struct {
	SlowAfter     time.Duration // дольше: slow
	DegradedAfter time.Duration // дольше: degraded
	SSLWarnDays   int           // сертификат истекает раньше: issue
	Timeout       time.Duration
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		SlowAfter:     time.Second,
		DegradedAfter: 5 * time.Second,
		SSLWarnDays:   30,
		Timeout:       30 * time.Second,
	}
}

// ProbeResult: одна проверка сайта.
type ProbeResult struct {
	WebsiteID          string     `json:"website_id"`
	URL                string     `json:"url"`
	CheckedAt          time.Time  `json:"checked_at"`
	Status             string     `json:"status"`
	ResponseTime       *int64     `json:"response_time"`
	StatusCode         *int       `json:"status_code"`
	Error              string     `json:"error,omitempty"`
	SSLValid           *bool      `json:"ssl_valid"`
	SSLDaysUntilExpiry *int       `json:"ssl_days_until_expiry"`
	SSLExpiresAt       *time.Time `json:"ssl_expires_at,omitempty"`
}

// HealthCheck: тело POST /websites/{id}/health-checks.
func (r ProbeResult) HealthCheck() domain.HealthCheck {
	hc := domain.HealthCheck{
		WebsiteID:    r.WebsiteID,
		Status:       r.Status,
		ErrorMessage: r.Error,
		SSLValid:     r.SSLValid,
		SSLExpiresAt: r.SSLExpiresAt,
	}
	if r.StatusCode != nil {
		hc.StatusCode = *r.StatusCode
	}
	if r.ResponseTime != nil {
		hc.ResponseTime = *r.ResponseTime
	}
	return hc
}

// Prober выполняет HTTP-проверку и читает срок сертификата из того же TLS-соединения.
type Prober struct {
	client     *http.Client
	thresholds Thresholds
	now        func() time.Time
}

func NewProber(th Thresholds) *Prober {
	if th.Timeout <= 0 {
		th = DefaultThresholds()
	}
	return &Prober{
		client:     &http.Client{Timeout: th.Timeout},
		thresholds: th,
		now:        time.Now,
	}
}

// Classify переводит код ответа и время в статус проверки.
func (p *Prober) Classify(code int, elapsed time.Duration) string {
	switch {
	case code >= 500:
		return domain.HealthDown
	case code >= 400:
		return domain.HealthError
	case elapsed > p.thresholds.DegradedAfter:
		return domain.HealthDegraded
	case elapsed > p.thresholds.SlowAfter:
		return domain.HealthSlow
	default:
		return domain.HealthUp
	}
}

func (p *Prober) Check(ctx context.Context, site domain.Website) ProbeResult {
	start := p.now()
	res := ProbeResult{WebsiteID: site.ID, URL: site.URL, CheckedAt: start.UTC(), Status: "unknown"}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, site.URL, nil)
	if err != nil {
		res.Status = domain.HealthError
		res.Error = err.Error()
		return res
	}

	resp, err := p.client.Do(req)
	if err != nil {
		res.Status, res.Error = classifyTransportError(err)
		if isCertificateError(err) {
			invalid := false
			res.SSLValid = &invalid
		}
		return res
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))

	elapsed := p.now().Sub(start)
	ms := elapsed.Milliseconds()
	code := resp.StatusCode
	res.ResponseTime = &ms
	res.StatusCode = &code
	res.Status = p.Classify(code, elapsed)

	if strings.HasPrefix(strings.ToLower(site.URL), "https://") && resp.TLS != nil && len(resp.TLS.PeerCertificates) > 0 {
		notAfter := resp.TLS.PeerCertificates[0].NotAfter.UTC()
		days := int(notAfter.Sub(p.now()).Hours() / 24)
		valid := true
		res.SSLValid = &valid
		res.SSLDaysUntilExpiry = &days
		res.SSLExpiresAt = &notAfter
	}
	return res
}

func classifyTransportError(err error) (string, string) {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return domain.HealthDown, "Connection timed out"
	}
	var opErr *net.OpError
	var dnsErr *net.DNSError
	if errors.As(err, &opErr) || errors.As(err, &dnsErr) {
		return domain.HealthDown, fmt.Sprintf("Connection failed: %v", err)
	}
	return domain.HealthError, err.Error()
}

func isCertificateError(err error) bool {
	var (
		unknownAuth x509.UnknownAuthorityError
		invalid     x509.CertificateInvalidError
		hostname    x509.HostnameError
		verify      *tls.CertificateVerificationError
	)
	return errors.As(err, &unknownAuth) || errors.As(err, &invalid) || errors.As(err, &hostname) || errors.As(err, &verify)
}
