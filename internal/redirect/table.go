package redirect

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

var (
	ErrDuplicatePattern   = errors.New("duplicate pattern")
	ErrInvalidDestination = errors.New("invalid destination")
	ErrInvalidStatus      = errors.New("invalid redirect status")
)

// DefaultStatus is used for rules that do not set one.
const DefaultStatus = http.StatusMovedPermanently

// Rule is one row of a redirect table.
type Rule struct {
	Pattern     string
	Destination string
	Status      int // 0 => DefaultStatus
}

// DuplicatePolicy decides what happens when a pattern is defined twice.
type DuplicatePolicy int

const (
	// RejectDuplicates fails table construction.
	RejectDuplicates DuplicatePolicy = iota
	// LastWins keeps the last destination at the position of the first definition.
	LastWins
)

func (p DuplicatePolicy) String() string {
	switch p {
	case LastWins:
		return "last_wins"
	default:
		return "reject"
	}
}

// ParseDuplicatePolicy accepts "", "reject" and "last_wins".
func ParseDuplicatePolicy(s string) (DuplicatePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "reject":
		return RejectDuplicates, nil
	case "last_wins", "last-wins":
		return LastWins, nil
	}
	return RejectDuplicates, fmt.Errorf("unknown duplicate policy %q", s)
}

type Option func(*options)

type options struct {
	duplicates DuplicatePolicy
}

func WithDuplicatePolicy(p DuplicatePolicy) Option {
	return func(o *options) { o.duplicates = p }
}

type entry struct {
	pattern     *Pattern
	destination string
	status      int
}

// Table is an ordered, immutable list of compiled rules.
type Table struct {
	entries []entry
}

// NewTable validates and compiles rules in definition order.
func NewTable(rules []Rule, opts ...Option) (*Table, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	t := &Table{entries: make([]entry, 0, len(rules))}
	seen := make(map[string]int, len(rules))
	for i, r := range rules {
		p, err := Compile(r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("rule[%d]: %w", i, err)
		}
		if err := validateDestination(r.Destination); err != nil {
			return nil, fmt.Errorf("rule[%d] %q: %w", i, r.Pattern, err)
		}
		status := r.Status
		if status == 0 {
			status = DefaultStatus
		}
		if !isRedirectStatus(status) {
			return nil, fmt.Errorf("rule[%d] %q: %w: %d", i, r.Pattern, ErrInvalidStatus, status)
		}

		e := entry{pattern: p, destination: r.Destination, status: status}
		if j, dup := seen[r.Pattern]; dup {
			if o.duplicates == RejectDuplicates {
				return nil, fmt.Errorf("rule[%d]: %w %q (first defined at rule[%d])", i, ErrDuplicatePattern, r.Pattern, j)
			}
			t.entries[j] = e
			continue
		}
		seen[r.Pattern] = len(t.entries)
		t.entries = append(t.entries, e)
	}
	return t, nil
}

// Len returns the number of distinct rules.
func (t *Table) Len() int { return len(t.entries) }

// Rules returns a copy of the effective rules in match order.
func (t *Table) Rules() []Rule {
	out := make([]Rule, len(t.entries))
	for i, e := range t.entries {
		out[i] = Rule{Pattern: e.pattern.String(), Destination: e.destination, Status: e.status}
	}
	return out
}

func validateDestination(dst string) error {
	if dst == "" {
		return fmt.Errorf("%w: empty", ErrInvalidDestination)
	}
	if strings.HasPrefix(dst, "/") && !strings.HasPrefix(dst, "//") {
		return nil
	}
	u, err := url.Parse(dst)
	if err != nil {
		return fmt.Errorf("%w: %q: %v", ErrInvalidDestination, dst, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: %q must be an absolute path or http(s) URL", ErrInvalidDestination, dst)
	}
	return nil
}

func isRedirectStatus(code int) bool {
	switch code {
	case http.StatusMovedPermanently,
		http.StatusFound,
		http.StatusSeeOther,
		http.StatusTemporaryRedirect,
		http.StatusPermanentRedirect:
		return true
	}
	return false
}
