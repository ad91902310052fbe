package redirect

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// Wildcard matches any run of characters, path separators included.
const Wildcard = "*"

var ErrInvalidPattern = errors.New("invalid pattern")

// Pattern is a compiled redirect source. All characters other than '*' match
// literally; the whole path has to match.
type Pattern struct {
	raw      string
	re       *regexp.Regexp
	literals []string // raw split on '*'
}

// Compile turns a wildcard pattern into an anchored matcher. A run of two or
// more '*' is rejected.
func Compile(pattern string) (*Pattern, error) {
	if pattern == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidPattern)
	}
	if !strings.HasPrefix(pattern, "/") {
		return nil, fmt.Errorf("%w: %q must start with '/'", ErrInvalidPattern, pattern)
	}
	if strings.Contains(pattern, Wildcard+Wildcard) {
		return nil, fmt.Errorf("%w: %q has adjacent wildcards", ErrInvalidPattern, pattern)
	}

	literals := strings.Split(pattern, Wildcard)
	parts := make([]string, len(literals))
	for i, lit := range literals {
		parts[i] = regexp.QuoteMeta(lit)
	}
	re, err := regexp.Compile(`(?s)^` + strings.Join(parts, `.*`) + `$`)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidPattern, pattern, err)
	}
	return &Pattern{raw: pattern, re: re, literals: literals}, nil
}

// MustCompile is like Compile but panics on error. Meant for tests and
// package-level tables.
func MustCompile(pattern string) *Pattern {
	p, err := Compile(pattern)
	if err != nil {
		panic(err)
	}
	return p
}

func (p *Pattern) String() string { return p.raw }

// HasWildcard reports whether the pattern is anything but a literal path.
func (p *Pattern) HasWildcard() bool { return strings.Contains(p.raw, Wildcard) }

// Match reports whether path matches the pattern in full. Matching is
// case-sensitive and byte-exact for literal text.
func (p *Pattern) Match(path string) bool {
	if path == "" {
		return false
	}
	// regexp reads each invalid byte as U+FFFD, which would let a literal
	// U+FFFD in the pattern match it.
	if !utf8.ValidString(path) {
		return matchBytes(p.literals, path)
	}
	return p.re.MatchString(path)
}

// matchBytes matches s against literals joined by wildcards, comparing bytes.
func matchBytes(literals []string, s string) bool {
	if len(literals) == 1 {
		return s == literals[0]
	}
	first, last := literals[0], literals[len(literals)-1]
	if !strings.HasPrefix(s, first) {
		return false
	}
	s = s[len(first):]
	for _, lit := range literals[1 : len(literals)-1] {
		i := strings.Index(s, lit)
		if i < 0 {
			return false
		}
		s = s[i+len(lit):]
	}
	return strings.HasSuffix(s, last)
}
