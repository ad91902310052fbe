package handler

import (
	"encoding/json"
	"io"
	"math/rand"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/fabian4/redirect-gateway/internal/config"
	"github.com/fabian4/redirect-gateway/internal/metrics"
	"github.com/fabian4/redirect-gateway/internal/ratelimit"
	"github.com/fabian4/redirect-gateway/internal/redirect"
)

// Options wires the optional collaborators of a Gateway. Zero values disable them.
type Options struct {
	NotFound        config.NotFoundConfig
	Limiter         *ratelimit.Limiter
	AccessLog       io.Writer
	AccessLogConfig config.AccessLogConfig
	Metrics         *metrics.Registry
	Logger          log.FieldLogger
}

// Gateway answers every request with either a redirect from the table or the
// not-found response.
type Gateway struct {
	resolver  *redirect.Resolver
	notFound  http.Handler
	limiter   *ratelimit.Limiter
	accessLog io.Writer
	alc       config.AccessLogConfig
	metrics   *metrics.Registry
	logger    log.FieldLogger
}

func NewGateway(res *redirect.Resolver, o Options) *Gateway {
	if res == nil {
		res = redirect.NewResolver(nil)
	}
	accessLog := o.AccessLog
	if accessLog == nil || !o.AccessLogConfig.Enabled {
		accessLog = io.Discard
	}
	logger := o.Logger
	if logger == nil {
		logger = log.StandardLogger()
	}
	if o.Metrics != nil {
		o.Metrics.SetRules(res.Len())
	}
	return &Gateway{
		resolver:  res,
		notFound:  NotFoundHandler(o.NotFound),
		limiter:   o.Limiter,
		accessLog: accessLog,
		alc:       o.AccessLogConfig,
		metrics:   o.Metrics,
		logger:    logger,
	}
}

var _ http.Handler = (*Gateway)(nil)

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	lw := &loggingResponseWriter{ResponseWriter: w}
	var outcome, pattern, location string
	defer func() {
		status := lw.statusCode
		if status == 0 {
			status = http.StatusOK
		}
		duration := time.Since(start)

		g.writeAccessLog(AccessLog{
			Time:         start,
			Method:       r.Method,
			Host:         r.Host,
			Path:         r.URL.Path,
			Query:        r.URL.RawQuery,
			Protocol:     r.Proto,
			Status:       status,
			Duration:     duration.Milliseconds(),
			RemoteIP:     r.RemoteAddr,
			UserAgent:    r.UserAgent(),
			Referer:      r.Referer(),
			Outcome:      outcome,
			Pattern:      pattern,
			Location:     location,
			BytesWritten: lw.bytes,
		})

		if g.metrics != nil {
			g.metrics.IncRequest(outcome, r.Method, status)
			g.metrics.ObserveDuration(outcome, duration)
			if pattern != "" {
				g.metrics.IncMatch(pattern, status)
			}
		}
	}()

	if g.limiter != nil && !g.limiter.Allow(ratelimit.ClientKey(r)) {
		outcome = metrics.OutcomeRateLimited
		lw.Header().Set("Retry-After", "1")
		http.Error(lw, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
		return
	}

	d := g.resolver.Resolve(r.URL.Path, r.URL.RawQuery)
	if !d.Matched() {
		outcome = metrics.OutcomeNotFound
		g.notFound.ServeHTTP(lw, r)
		return
	}

	outcome = metrics.OutcomeRedirect
	pattern = d.Pattern
	location = d.Destination
	lw.Header().Set("Location", d.Destination)
	lw.WriteHeader(d.StatusCode)
}

func (g *Gateway) writeAccessLog(entry AccessLog) {
	if g.accessLog == io.Discard {
		return
	}
	if g.alc.Sampling > 0 && g.alc.Sampling < 1.0 && rand.Float64() > g.alc.Sampling {
		return
	}

	var out any = entry
	if len(g.alc.Fields) > 0 {
		all := entry.fields()
		m := make(map[string]any, len(g.alc.Fields))
		for _, f := range g.alc.Fields {
			if v, ok := all[f]; ok {
				m[f] = v
			}
		}
		out = m
	}
	if err := json.NewEncoder(g.accessLog).Encode(out); err != nil {
		g.logger.WithError(err).Warn("access log write failed")
	}
}

// NotFoundHandler serves the configured page with 404, or http.NotFound when
// there is none.
func NotFoundHandler(c config.NotFoundConfig) http.Handler {
	if c.Page == nil {
		return http.HandlerFunc(http.NotFound)
	}
	ct := c.ContentType
	if ct == "" {
		ct = "text/html; charset=utf-8"
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Content-Type", ct)
		h.Set("X-Content-Type-Options", "nosniff")
		w.WriteHeader(http.StatusNotFound)
		if r.Method != http.MethodHead {
			_, _ = w.Write(c.Page)
		}
	})
}

type AccessLog struct {
	Time         time.Time `json:"time"`
	Method       string    `json:"method"`
	Host         string    `json:"host"`
	Path         string    `json:"path"`
	Query        string    `json:"query,omitempty"`
	Protocol     string    `json:"protocol"`
	Status       int       `json:"status"`
	Duration     int64     `json:"duration_ms"`
	RemoteIP     string    `json:"remote_ip"`
	UserAgent    string    `json:"user_agent"`
	Referer      string    `json:"referer"`
	Outcome      string    `json:"outcome"`
	Pattern      string    `json:"pattern,omitempty"`
	Location     string    `json:"location,omitempty"`
	BytesWritten int64     `json:"bytes_written"`
}

// fields is keyed by the json names; config.Load validates against the same set.
func (e AccessLog) fields() map[string]any {
	return map[string]any{
		"time":          e.Time,
		"method":        e.Method,
		"host":          e.Host,
		"path":          e.Path,
		"query":         e.Query,
		"protocol":      e.Protocol,
		"status":        e.Status,
		"duration_ms":   e.Duration,
		"remote_ip":     e.RemoteIP,
		"user_agent":    e.UserAgent,
		"referer":       e.Referer,
		"outcome":       e.Outcome,
		"pattern":       e.Pattern,
		"location":      e.Location,
		"bytes_written": e.BytesWritten,
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
	bytes      int64
}

func (w *loggingResponseWriter) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *loggingResponseWriter) Write(b []byte) (int, error) {
	if w.statusCode == 0 {
		w.statusCode = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytes += int64(n)
	return n, err
}

func (w *loggingResponseWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
