package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fabian4/redirect-gateway/internal/config"
	"github.com/fabian4/redirect-gateway/internal/metrics"
	"github.com/fabian4/redirect-gateway/internal/ratelimit"
	"github.com/fabian4/redirect-gateway/internal/redirect"
)

func newResolver(t *testing.T, rules ...redirect.Rule) *redirect.Resolver {
	t.Helper()
	tbl, err := redirect.NewTable(rules)
	require.NoError(t, err)
	return redirect.NewResolver(tbl)
}

func serve(h http.Handler, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest("GET", target, nil)
	req.RemoteAddr = "203.0.113.10:54321"
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestGateway_Redirect(t *testing.T) {
	gw := NewGateway(newResolver(t,
		redirect.Rule{Pattern: "/old/*", Destination: "/new"},
		redirect.Rule{Pattern: "/tmp", Destination: "https://example.com/t", Status: 307},
	), Options{})

	rr := serve(gw, "http://gw.local/old/deep/page?a=1&b=2")
	assert.Equal(t, http.StatusMovedPermanently, rr.Code)
	assert.Equal(t, "/new?a=1&b=2", rr.Header().Get("Location"))

	rr = serve(gw, "http://gw.local/tmp")
	assert.Equal(t, http.StatusTemporaryRedirect, rr.Code)
	assert.Equal(t, "https://example.com/t", rr.Header().Get("Location"))
}

func TestGateway_NotFound(t *testing.T) {
	gw := NewGateway(newResolver(t, redirect.Rule{Pattern: "/old/*", Destination: "/new"}), Options{})

	rr := serve(gw, "http://gw.local/totally/unmapped/path")
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Empty(t, rr.Header().Get("Location"))
}

func TestGateway_NotFoundPage(t *testing.T) {
	gw := NewGateway(newResolver(t), Options{
		NotFound: config.NotFoundConfig{Page: []byte("<h1>nope</h1>"), ContentType: "text/html; charset=utf-8"},
	})

	rr := serve(gw, "http://gw.local/missing")
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "<h1>nope</h1>", rr.Body.String())
	assert.Equal(t, "text/html; charset=utf-8", rr.Header().Get("Content-Type"))

	req := httptest.NewRequest(http.MethodHead, "http://gw.local/missing", nil)
	head := httptest.NewRecorder()
	gw.ServeHTTP(head, req)
	assert.Equal(t, http.StatusNotFound, head.Code)
	assert.Empty(t, head.Body.String())
}

func TestGateway_RateLimit(t *testing.T) {
	m := metrics.NewRegistry()
	gw := NewGateway(newResolver(t, redirect.Rule{Pattern: "/x", Destination: "/y"}), Options{
		Limiter: ratelimit.NewLimiter(ratelimit.Config{RequestsPerSecond: 0.001, Burst: 1}),
		Metrics: m,
	})

	first := serve(gw, "http://gw.local/x")
	require.Equal(t, http.StatusMovedPermanently, first.Code)

	second := serve(gw, "http://gw.local/x")
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.Equal(t, "1", second.Header().Get("Retry-After"))

	// another client still gets through
	req := httptest.NewRequest("GET", "http://gw.local/x", nil)
	req.RemoteAddr = "198.51.100.1:1"
	rr := httptest.NewRecorder()
	gw.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusMovedPermanently, rr.Code)

	expected := `
# HELP redirect_requests_total Total number of requests by outcome, method and status code
# TYPE redirect_requests_total counter
redirect_requests_total{code="301",method="GET",outcome="redirect"} 2
redirect_requests_total{code="429",method="GET",outcome="rate_limited"} 1
`
	require.NoError(t, testutil.GatherAndCompare(m.Gatherer(), strings.NewReader(expected), "redirect_requests_total"))
}

func TestGateway_Metrics(t *testing.T) {
	m := metrics.NewRegistry()
	gw := NewGateway(newResolver(t,
		redirect.Rule{Pattern: "/old/*", Destination: "/new"},
		redirect.Rule{Pattern: "/x", Destination: "/y"},
	), Options{Metrics: m})

	serve(gw, "http://gw.local/old/a")
	serve(gw, "http://gw.local/old/b")
	serve(gw, "http://gw.local/nope")

	expected := `
# HELP redirect_matches_total Redirects served per table pattern
# TYPE redirect_matches_total counter
redirect_matches_total{code="301",pattern="/old/*"} 2
# HELP redirect_requests_total Total number of requests by outcome, method and status code
# TYPE redirect_requests_total counter
redirect_requests_total{code="301",method="GET",outcome="redirect"} 2
redirect_requests_total{code="404",method="GET",outcome="not_found"} 1
# HELP redirect_table_rules Number of rules in the loaded redirect table
# TYPE redirect_table_rules gauge
redirect_table_rules 2
`
	require.NoError(t, testutil.GatherAndCompare(m.Gatherer(), strings.NewReader(expected),
		"redirect_matches_total", "redirect_requests_total", "redirect_table_rules"))
}

func TestGateway_AccessLog(t *testing.T) {
	var buf bytes.Buffer
	gw := NewGateway(newResolver(t, redirect.Rule{Pattern: "/old/*", Destination: "/new"}), Options{
		AccessLog:       &buf,
		AccessLogConfig: config.AccessLogConfig{Enabled: true, Sampling: 1},
	})

	rr := serve(gw, "http://gw.local/old/page?k=v")
	require.Equal(t, http.StatusMovedPermanently, rr.Code)

	var entry AccessLog
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry), "raw: %s", buf.String())

	assert.Equal(t, "GET", entry.Method)
	assert.Equal(t, "/old/page", entry.Path)
	assert.Equal(t, "k=v", entry.Query)
	assert.Equal(t, 301, entry.Status)
	assert.Equal(t, metrics.OutcomeRedirect, entry.Outcome)
	assert.Equal(t, "/old/*", entry.Pattern)
	assert.Equal(t, "/new?k=v", entry.Location)
	assert.Equal(t, "203.0.113.10:54321", entry.RemoteIP)
	assert.GreaterOrEqual(t, entry.Duration, int64(0))
	assert.False(t, entry.Time.IsZero())
}

func TestGateway_AccessLogFields(t *testing.T) {
	var buf bytes.Buffer
	gw := NewGateway(newResolver(t), Options{
		AccessLog:       &buf,
		AccessLogConfig: config.AccessLogConfig{Enabled: true, Sampling: 1, Fields: []string{"path", "status", "outcome"}},
	})
	serve(gw, "http://gw.local/missing")

	var m map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &m))
	assert.Equal(t, map[string]any{"path": "/missing", "status": float64(404), "outcome": "not_found"}, m)
}

func TestGateway_AccessLogDisabled(t *testing.T) {
	var buf bytes.Buffer
	gw := NewGateway(newResolver(t), Options{
		AccessLog:       &buf,
		AccessLogConfig: config.AccessLogConfig{Enabled: false, Sampling: 1},
	})
	serve(gw, "http://gw.local/missing")
	assert.Zero(t, buf.Len())
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

func TestGateway_AccessLogErrorDoesNotAffectResponse(t *testing.T) {
	logger, hook := logtest.NewNullLogger()
	gw := NewGateway(newResolver(t, redirect.Rule{Pattern: "/x", Destination: "/y"}), Options{
		AccessLog:       failingWriter{},
		AccessLogConfig: config.AccessLogConfig{Enabled: true, Sampling: 1},
		Logger:          logger,
	})

	rr := serve(gw, "http://gw.local/x")
	assert.Equal(t, http.StatusMovedPermanently, rr.Code)
	assert.Equal(t, "/y", rr.Header().Get("Location"))
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, "access log write failed", hook.LastEntry().Message)
}

func TestRoutes(t *testing.T) {
	m := metrics.NewRegistry()
	gw := NewGateway(newResolver(t,
		redirect.Rule{Pattern: "/docs//intro", Destination: "/start"},
	), Options{Metrics: m})
	h := Routes(gw, m, "/metrics")

	rr := serve(h, "http://gw.local/healthz")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ok", rr.Body.String())

	rr = serve(h, "http://gw.local/metrics")
	assert.Equal(t, http.StatusOK, rr.Code)
	body, _ := io.ReadAll(rr.Result().Body)
	assert.Contains(t, string(body), "redirect_table_rules 1")

	// uncleaned path reaches the table
	rr = serve(h, "http://gw.local/docs//intro")
	assert.Equal(t, http.StatusMovedPermanently, rr.Code)
	assert.Equal(t, "/start", rr.Header().Get("Location"))

	// metrics disabled falls through to the gateway
	rr = serve(Routes(gw, nil, ""), "http://gw.local/metrics")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}
