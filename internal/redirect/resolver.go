package redirect

import (
	"strings"

	log "github.com/sirupsen/logrus"
)

// Decision is the outcome of Resolve. The zero value is NoMatch.
type Decision struct {
	Destination string
	StatusCode  int
	Pattern     string // matched pattern, for diagnostics
}

// NoMatch signals that the caller should continue with not-found handling.
var NoMatch = Decision{}

func (d Decision) Matched() bool { return d.StatusCode != 0 }

// Resolver answers redirect lookups against a fixed table. It holds no
// mutable state and is safe for concurrent use.
type Resolver struct {
	table  *Table
	logger log.FieldLogger
}

type ResolverOption func(*Resolver)

// WithLogger enables a debug line per match. nil disables it.
func WithLogger(l log.FieldLogger) ResolverOption {
	return func(r *Resolver) { r.logger = l }
}

func NewResolver(t *Table, opts ...ResolverOption) *Resolver {
	if t == nil {
		t = &Table{}
	}
	r := &Resolver{table: t}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Resolver) Len() int { return r.table.Len() }

func (r *Resolver) Table() *Table { return r.table }

// Resolve returns the first rule matching path, with rawQuery carried over to
// the destination. rawQuery is the query without the leading '?'.
func (r *Resolver) Resolve(path, rawQuery string) Decision {
	for i := range r.table.entries {
		e := &r.table.entries[i]
		if !e.pattern.Match(path) {
			continue
		}
		r.logMatch(path, e.pattern.String())
		return Decision{
			Destination: withQuery(e.destination, rawQuery),
			StatusCode:  e.status,
			Pattern:     e.pattern.String(),
		}
	}
	return NoMatch
}

func (r *Resolver) logMatch(path, pattern string) {
	if r.logger == nil {
		return
	}
	defer func() { _ = recover() }()
	r.logger.WithFields(log.Fields{"path": path, "pattern": pattern}).Debug("redirect matched")
}

// withQuery appends rawQuery to dst, keeping any query dst already has and
// any fragment at the end.
func withQuery(dst, rawQuery string) string {
	if rawQuery == "" {
		return dst
	}
	frag := ""
	if i := strings.IndexByte(dst, '#'); i >= 0 {
		dst, frag = dst[:i], dst[i:]
	}
	sep := "?"
	if strings.Contains(dst, "?") {
		sep = "&"
		if strings.HasSuffix(dst, "?") || strings.HasSuffix(dst, "&") {
			sep = ""
		}
	}
	return dst + sep + rawQuery + frag
}
