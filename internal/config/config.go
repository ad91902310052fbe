package config

import (
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/fabian4/redirect-gateway/internal/redirect"
)

type rawConfig struct {
	EntryPoint []struct {
		Name    string `yaml:"name"`
		Address string `yaml:"address"`
	} `yaml:"entrypoint"`
	Redirects  yaml.Node `yaml:"redirects"`
	Duplicates string    `yaml:"duplicates"`
	NotFound   struct {
		Page        string `yaml:"page"`
		ContentType string `yaml:"content_type"`
	} `yaml:"not_found"`
	Timeouts struct {
		Read  string `yaml:"read"`
		Write string `yaml:"write"`
		Idle  string `yaml:"idle"`
	} `yaml:"timeouts"`
	AccessLog struct {
		Enabled  *bool    `yaml:"enabled"`
		Output   string   `yaml:"output"`
		Sampling *float64 `yaml:"sampling"`
		Fields   []string `yaml:"fields"`
	} `yaml:"access_log"`
	RateLimit *struct {
		RequestsPerSecond float64 `yaml:"requests_per_second"`
		Burst             int     `yaml:"burst"`
	} `yaml:"rate_limit"`
	Metrics struct {
		Enabled *bool  `yaml:"enabled"`
		Path    string `yaml:"path"`
	} `yaml:"metrics"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

// rawRule is one entry of the sequence form, or the value of the mapping form.
type rawRule struct {
	From   string `yaml:"from"`
	To     string `yaml:"to"`
	Status int    `yaml:"status"`
}

type Config struct {
	Listen     string
	Redirects  []redirect.Rule // as written, duplicates included
	Duplicates redirect.DuplicatePolicy
	Table      *redirect.Table
	NotFound   NotFoundConfig
	Timeouts   Timeouts
	AccessLog  AccessLogConfig
	RateLimit  *RateLimitConfig
	Metrics    MetricsConfig
	Log        LogConfig
}

var accessLogFields = map[string]bool{
	"time": true, "method": true, "host": true, "path": true, "query": true,
	"protocol": true, "status": true, "duration_ms": true, "remote_ip": true,
	"user_agent": true, "referer": true, "outcome": true, "pattern": true,
	"location": true, "bytes_written": true,
}

// Load reads and validates the YAML config at path. The redirect table is
// compiled here so a bad rule stops the process before it listens.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(b, filepath.Dir(path))
}

// Parse is Load without the file read. Relative paths in the config are
// resolved against baseDir.
func Parse(b []byte, baseDir string) (*Config, error) {
	var rc rawConfig
	if err := yaml.Unmarshal(b, &rc); err != nil {
		return nil, fmt.Errorf("yaml: %w", err)
	}

	// listen
	listen := ":8080"
	if len(rc.EntryPoint) > 0 && strings.TrimSpace(rc.EntryPoint[0].Address) != "" {
		listen = strings.TrimSpace(rc.EntryPoint[0].Address)
	}

	// redirects
	rules, err := parseRedirects(&rc.Redirects)
	if err != nil {
		return nil, err
	}
	policy, err := redirect.ParseDuplicatePolicy(rc.Duplicates)
	if err != nil {
		return nil, fmt.Errorf("duplicates: %v", err)
	}
	table, err := redirect.NewTable(rules, redirect.WithDuplicatePolicy(policy))
	if err != nil {
		return nil, fmt.Errorf("redirects: %w", err)
	}

	// not found page
	var nf NotFoundConfig
	if p := strings.TrimSpace(rc.NotFound.Page); p != "" {
		if !filepath.IsAbs(p) {
			p = filepath.Join(baseDir, p)
		}
		page, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("not_found.page: %w", err)
		}
		nf.Page = page
		nf.ContentType = strings.TrimSpace(rc.NotFound.ContentType)
		if nf.ContentType == "" {
			nf.ContentType = mime.TypeByExtension(filepath.Ext(p))
		}
		if nf.ContentType == "" {
			nf.ContentType = "text/html; charset=utf-8"
		}
	}

	// timeouts
	var timeouts Timeouts
	for _, d := range []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"read", rc.Timeouts.Read, &timeouts.Read},
		{"write", rc.Timeouts.Write, &timeouts.Write},
		{"idle", rc.Timeouts.Idle, &timeouts.Idle},
	} {
		if d.raw == "" {
			continue
		}
		v, err := time.ParseDuration(d.raw)
		if err != nil {
			return nil, fmt.Errorf("timeouts.%s: %v", d.name, err)
		}
		if v < 0 {
			return nil, fmt.Errorf("timeouts.%s: must not be negative", d.name)
		}
		*d.dst = v
	}

	// access log
	alc := AccessLogConfig{Enabled: true, Output: "stdout", Sampling: 1.0}
	if rc.AccessLog.Enabled != nil {
		alc.Enabled = *rc.AccessLog.Enabled
	}
	if o := strings.TrimSpace(rc.AccessLog.Output); o != "" {
		alc.Output = o
	}
	if rc.AccessLog.Sampling != nil {
		s := *rc.AccessLog.Sampling
		if s <= 0 || s > 1 {
			return nil, fmt.Errorf("access_log.sampling: must be in (0, 1], got %g", s)
		}
		alc.Sampling = s
	}
	for i, f := range rc.AccessLog.Fields {
		f = strings.ToLower(strings.TrimSpace(f))
		if !accessLogFields[f] {
			return nil, fmt.Errorf("access_log.fields[%d]: unknown field %q", i, f)
		}
		alc.Fields = append(alc.Fields, f)
	}

	// rate limit
	var rl *RateLimitConfig
	if rc.RateLimit != nil {
		if rc.RateLimit.RequestsPerSecond <= 0 {
			return nil, fmt.Errorf("rate_limit.requests_per_second: must be > 0")
		}
		burst := rc.RateLimit.Burst
		if burst <= 0 {
			burst = int(rc.RateLimit.RequestsPerSecond)
			if burst < 1 {
				burst = 1
			}
		}
		rl = &RateLimitConfig{RequestsPerSecond: rc.RateLimit.RequestsPerSecond, Burst: burst}
	}

	// metrics
	mc := MetricsConfig{Enabled: true, Path: "/metrics"}
	if rc.Metrics.Enabled != nil {
		mc.Enabled = *rc.Metrics.Enabled
	}
	if p := strings.TrimSpace(rc.Metrics.Path); p != "" {
		if !strings.HasPrefix(p, "/") {
			return nil, fmt.Errorf("metrics.path: must start with '/'")
		}
		mc.Path = p
	}

	// log
	lc := LogConfig{Level: "info", Format: "text"}
	if l := strings.TrimSpace(rc.Log.Level); l != "" {
		if _, err := log.ParseLevel(l); err != nil {
			return nil, fmt.Errorf("log.level: %v", err)
		}
		lc.Level = strings.ToLower(l)
	}
	if f := strings.ToLower(strings.TrimSpace(rc.Log.Format)); f != "" {
		switch f {
		case "text", "json":
		default:
			return nil, fmt.Errorf("log.format: unknown format %q", f)
		}
		lc.Format = f
	}

	return &Config{
		Listen:     listen,
		Redirects:  rules,
		Duplicates: policy,
		Table:      table,
		NotFound:   nf,
		Timeouts:   timeouts,
		AccessLog:  alc,
		RateLimit:  rl,
		Metrics:    mc,
		Log:        lc,
	}, nil
}

// parseRedirects accepts either a sequence of {from, to, status} or a mapping
// of pattern -> destination (or pattern -> {to, status}). Both keep document order.
func parseRedirects(n *yaml.Node) ([]redirect.Rule, error) {
	switch n.Kind {
	case 0:
		return nil, nil
	case yaml.ScalarNode:
		if n.Tag == "!!null" {
			return nil, nil
		}
		return nil, fmt.Errorf("redirects: line %d: want a list or a mapping", n.Line)
	case yaml.SequenceNode:
		rules := make([]redirect.Rule, 0, len(n.Content))
		for i, item := range n.Content {
			var rr rawRule
			if err := item.Decode(&rr); err != nil {
				return nil, fmt.Errorf("redirects[%d]: %v", i, err)
			}
			r, err := toRule(rr)
			if err != nil {
				return nil, fmt.Errorf("redirects[%d]: %v", i, err)
			}
			rules = append(rules, r)
		}
		return rules, nil
	case yaml.MappingNode:
		rules := make([]redirect.Rule, 0, len(n.Content)/2)
		for i := 0; i+1 < len(n.Content); i += 2 {
			k, v := n.Content[i], n.Content[i+1]
			if k.Kind != yaml.ScalarNode {
				return nil, fmt.Errorf("redirects: line %d: key must be a string", k.Line)
			}
			rr := rawRule{From: k.Value}
			switch v.Kind {
			case yaml.ScalarNode:
				rr.To = v.Value
			case yaml.MappingNode:
				if err := v.Decode(&rr); err != nil {
					return nil, fmt.Errorf("redirects[%q]: %v", k.Value, err)
				}
				rr.From = k.Value
			default:
				return nil, fmt.Errorf("redirects[%q]: line %d: want destination string or {to, status}", k.Value, v.Line)
			}
			r, err := toRule(rr)
			if err != nil {
				return nil, fmt.Errorf("redirects[%q]: %v", k.Value, err)
			}
			rules = append(rules, r)
		}
		return rules, nil
	default:
		return nil, fmt.Errorf("redirects: line %d: want a list or a mapping", n.Line)
	}
}

// toRule keeps from and to byte for byte; surrounding whitespace is rejected.
func toRule(rr rawRule) (redirect.Rule, error) {
	if rr.From == "" {
		return redirect.Rule{}, fmt.Errorf("from is required")
	}
	if rr.To == "" {
		return redirect.Rule{}, fmt.Errorf("to is required")
	}
	if strings.TrimSpace(rr.From) != rr.From {
		return redirect.Rule{}, fmt.Errorf("from: %q has leading or trailing whitespace", rr.From)
	}
	if strings.TrimSpace(rr.To) != rr.To {
		return redirect.Rule{}, fmt.Errorf("to: %q has leading or trailing whitespace", rr.To)
	}
	return redirect.Rule{Pattern: rr.From, Destination: rr.To, Status: rr.Status}, nil
}
