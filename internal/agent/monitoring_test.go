package agent

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/spaceai-agentops/internal/domain"
	"go.uber.org/zap"
)

func TestProber_Classify(t *testing.T) {
	p := NewProber(DefaultThresholds())
	tests := []struct {
		code    int
		elapsed time.Duration
		want    string
	}{
		{200, 100 * time.Millisecond, domain.HealthUp},
		{200, 2 * time.Second, domain.HealthSlow},
		{200, 6 * time.Second, domain.HealthDegraded},
		{404, 10 * time.Millisecond, domain.HealthError},
		{503, 10 * time.Millisecond, domain.HealthDown},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, p.Classify(tt.code, tt.elapsed), "code=%d elapsed=%s", tt.code, tt.elapsed)
	}
}

func TestProber_Check(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/broken" {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	p := NewProber(DefaultThresholds())

	up := p.Check(context.Background(), domain.Website{ID: "w1", URL: srv.URL + "/"})
	assert.Equal(t, domain.HealthUp, up.Status)
	require.NotNil(t, up.StatusCode)
	assert.Equal(t, http.StatusOK, *up.StatusCode)
	assert.Nil(t, up.SSLDaysUntilExpiry)

	down := p.Check(context.Background(), domain.Website{ID: "w2", URL: srv.URL + "/broken"})
	assert.Equal(t, domain.HealthDown, down.Status)

	// порт закрыт
	closed := httptest.NewServer(http.NotFoundHandler())
	addr := closed.URL
	closed.Close()
	refused := p.Check(context.Background(), domain.Website{ID: "w3", URL: addr})
	assert.Equal(t, domain.HealthDown, refused.Status)
	assert.Contains(t, refused.Error, "Connection failed")
	assert.Nil(t, refused.ResponseTime)
}

func TestProber_CheckTLS(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {}))
	defer srv.Close()

	p := NewProber(DefaultThresholds())
	res := p.Check(context.Background(), domain.Website{ID: "w1", URL: srv.URL})
	assert.Contains(t, []string{domain.HealthError, domain.HealthDown}, res.Status)
	require.NotNil(t, res.SSLValid)
	assert.False(t, *res.SSLValid)

	p.client = srv.Client()
	res = p.Check(context.Background(), domain.Website{ID: "w1", URL: srv.URL})
	assert.Equal(t, domain.HealthUp, res.Status)
	require.NotNil(t, res.SSLValid)
	assert.True(t, *res.SSLValid)
	require.NotNil(t, res.SSLDaysUntilExpiry)
	assert.Greater(t, *res.SSLDaysUntilExpiry, 30)
}

func TestMonitoring_Detect(t *testing.T) {
	m := NewMonitoring(newFakePlatform(), NewProber(DefaultThresholds()), &stubAnalyzer{}, zap.NewNop())
	site := domain.Website{Name: "shop"}
	ms := int64(7200)
	days := func(n int) *int { return &n }

	tests := []struct {
		name string
		res  ProbeResult
		want []Issue
	}{
		{"up", ProbeResult{Status: domain.HealthUp}, nil},
		{"down", ProbeResult{Status: domain.HealthDown},
			[]Issue{{Website: "shop", Issue: "Website is down", Severity: domain.SeverityCritical}}},
		{"degraded", ProbeResult{Status: domain.HealthDegraded, ResponseTime: &ms},
			[]Issue{{Website: "shop", Issue: "High response time: 7200ms", Severity: domain.SeverityHigh}}},
		{"ssl soon", ProbeResult{Status: domain.HealthUp, SSLDaysUntilExpiry: days(20)},
			[]Issue{{Website: "shop", Issue: "SSL expires in 20 days", Severity: domain.SeverityMedium}}},
		{"ssl urgent", ProbeResult{Status: domain.HealthUp, SSLDaysUntilExpiry: days(7)},
			[]Issue{{Website: "shop", Issue: "SSL expires in 7 days", Severity: domain.SeverityHigh}}},
		{"ssl expired", ProbeResult{Status: domain.HealthUp, SSLDaysUntilExpiry: days(-2)},
			[]Issue{{Website: "shop", Issue: "SSL expires in -2 days", Severity: domain.SeverityHigh}}},
		{"ssl fine", ProbeResult{Status: domain.HealthUp, SSLDaysUntilExpiry: days(90)}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, m.detect(site, tt.res))
		})
	}
}

func TestMonitoring_Execute(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/down" {
			w.WriteHeader(http.StatusBadGateway)
		}
	}))
	defer srv.Close()

	api := newFakePlatform()
	api.websites = []domain.Website{
		{ID: "w1", Name: "landing", URL: srv.URL + "/"},
		{ID: "w2", Name: "api", URL: srv.URL + "/down"},
	}
	an := &stubAnalyzer{insight: domain.Insight{Summary: "one site down", Recommendations: []string{"check upstream"}}}
	m := NewMonitoring(api, NewProber(DefaultThresholds()), an, zap.NewNop())

	res, err := m.Execute(context.Background(), domain.AgentContext{TenantID: "t1", Trigger: domain.TriggerScheduled})
	require.NoError(t, err)
	require.True(t, res.Success)

	assert.Equal(t, 2, res.Output["websites_checked"])
	assert.Equal(t, 1, res.Output["issues_detected"])
	assert.Equal(t, []string{"Checked 2 websites"}, res.ActionsTaken)
	assert.Equal(t, []string{"check upstream"}, res.Recommendations)
	assert.Equal(t, []string{"website health monitoring"}, an.analyzed)

	require.Len(t, api.recorded, 2)
	require.Len(t, api.created, 1)
	inc := api.created[0]
	assert.Equal(t, "api: Website is down", inc.Title)
	assert.Equal(t, domain.SeverityCritical, inc.Severity)
	assert.Equal(t, "monitoring_agent", inc.Source)
	assert.Equal(t, "t1", inc.TenantID)
}

func TestMonitoring_SingleWebsite(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	defer srv.Close()

	api := newFakePlatform()
	api.websites = []domain.Website{{ID: "w1", Name: "a", URL: srv.URL}, {ID: "w2", Name: "b", URL: srv.URL}}
	m := NewMonitoring(api, NewProber(DefaultThresholds()), &stubAnalyzer{}, zap.NewNop())

	res, err := m.Execute(context.Background(), domain.AgentContext{TenantID: "t1", WebsiteID: "w2"})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Output["websites_checked"])
	require.Len(t, api.recorded, 1)
	assert.Equal(t, "w2", api.recorded[0].WebsiteID)
}

func TestMonitoring_NoWebsites(t *testing.T) {
	an := &stubAnalyzer{}
	m := NewMonitoring(newFakePlatform(), NewProber(DefaultThresholds()), an, zap.NewNop())

	res, err := m.Execute(context.Background(), domain.AgentContext{TenantID: "t1"})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "No websites configured for monitoring", res.Output["message"])
	assert.Empty(t, an.analyzed)
}
