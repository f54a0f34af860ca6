package app

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/ledger/internal/money"
	"github.com/odyssey-erp/ledger/internal/observability"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("REPORTING_CURRENCY", "eur")
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092, ,kafka-2:9092")
	t.Setenv("REPORT_CACHE_TTL", "5m")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, money.Code("EUR"), cfg.Currency())
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, 5*time.Minute, cfg.ReportCacheTTL)
	assert.Equal(t, "ledger.integrity", cfg.KafkaTopic)
	assert.False(t, cfg.IsProduction())
}

func TestLoadConfigRejectsBadValues(t *testing.T) {
	t.Setenv("REPORTING_CURRENCY", "XYZW")
	_, err := LoadConfig()
	require.ErrorIs(t, err, money.ErrInvalidCurrency)

	t.Setenv("REPORTING_CURRENCY", "USD")
	t.Setenv("RATE_LIMIT_PER_MINUTE", "0")
	_, err = LoadConfig()
	require.Error(t, err)
}

func TestNewLoggerFormats(t *testing.T) {
	var buf bytes.Buffer
	newLogger(&buf, &Config{AppEnv: "production", LogFormat: "json"}).Info("hello")
	assert.Contains(t, buf.String(), `"env":"production"`)
	assert.Contains(t, buf.String(), `"msg":"hello"`)

	buf.Reset()
	newLogger(&buf, &Config{AppEnv: "development"}).Debug("verbose")
	assert.Contains(t, buf.String(), "msg=verbose")
}

type pingFunc func(context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestRouterHealthAndMetrics(t *testing.T) {
	metrics := observability.NewMetrics()
	router := NewRouter(RouterParams{
		Config:  &Config{AppEnv: "test", RateLimitPerMinute: 100},
		Metrics: metrics,
		Checks: map[string]Pinger{
			"postgres": pingFunc(func(context.Context) error { return nil }),
		},
	})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rr.Body.String())
	assert.Equal(t, "DENY", rr.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))
	assert.NotEmpty(t, rr.Header().Get("X-Ratelimit-Limit"))

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"postgres":"ok"}`, rr.Body.String())

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, strings.Contains(rr.Body.String(), `ledger_http_requests_total{code="200",route="/healthz"} 1`), rr.Body.String())
}

func TestReadinessReportsFailingDependency(t *testing.T) {
	router := NewRouter(RouterParams{
		Config: &Config{RateLimitPerMinute: 100},
		Checks: map[string]Pinger{
			"redis":     pingFunc(func(context.Context) error { return errors.New("connection refused") }),
			"gotenberg": pingFunc(func(context.Context) error { return nil }),
		},
	})
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.JSONEq(t, `{"redis":"connection refused","gotenberg":"ok"}`, rr.Body.String())
}

func TestRouterRateLimits(t *testing.T) {
	router := NewRouter(RouterParams{Config: &Config{RateLimitPerMinute: 2}})
	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		codes = append(codes, rr.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}

func TestTestModeFlag(t *testing.T) {
	t.Setenv(testModeEnv, "1")
	RefreshTestMode()
	assert.True(t, InTestMode())
	t.Setenv(testModeEnv, "0")
	RefreshTestMode()
	assert.False(t, InTestMode())
}

func TestNewStatementsServiceLoadsLayouts(t *testing.T) {
	cfg := &Config{ReportingCurrency: "USD"}
	svc, cache, err := NewStatementsService(cfg, nil, nil, prometheus.NewRegistry(), nil)
	require.NoError(t, err)
	assert.Nil(t, cache)
	assert.Equal(t, money.Code("USD"), svc.Currency())

	cfg.ReportLayoutFile = filepath.Join(t.TempDir(), "missing.yaml")
	_, _, err = NewStatementsService(cfg, nil, nil, prometheus.NewRegistry(), nil)
	require.ErrorContains(t, err, "report layouts")
}
