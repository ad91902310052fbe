package config

import "time"

type Timeouts struct {
	Read  time.Duration
	Write time.Duration
	Idle  time.Duration
}

// NotFoundConfig controls the response for paths no redirect matches.
type NotFoundConfig struct {
	Page        []byte // nil => plain http.NotFound
	ContentType string
}

// AccessLogConfig selects where and what gets written per request.
type AccessLogConfig struct {
	Enabled  bool
	Output   string   // "stdout" | "stderr" | file path
	Sampling float64  // 0 < s <= 1
	Fields   []string // empty => all fields
}

// RateLimitConfig applies a token bucket per client IP.
type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
}

type MetricsConfig struct {
	Enabled bool
	Path    string
}

type LogConfig struct {
	Level  string // logrus level name
	Format string // "text" | "json"
}
