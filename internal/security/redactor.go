package security

import (
	"cmp"
	"regexp"
	"slices"
	"strings"
	"sync"
)

// RedactPlaceholder replaces every redacted secret.
const RedactPlaceholder = "***REDACTED***"

// Pattern is a named secret format.
type Pattern struct {
	Name string
	Re   *regexp.Regexp
}

// DefaultPatterns returns the secret formats that commonly end up pasted
// into agent conversations or hook traffic.
func DefaultPatterns() []Pattern {
	return []Pattern{
		{"anthropic", regexp.MustCompile(`sk-ant-[a-zA-Z0-9\-]{20,}`)},
		{"openai", regexp.MustCompile(`sk-[a-zA-Z0-9]{20,}`)},
		{"github", regexp.MustCompile(`(ghp_|gho_|ghs_|github_pat_)[a-zA-Z0-9_]{20,}`)},
		{"aws_access_key", regexp.MustCompile(`AKIA[A-Z0-9]{16}`)},
		{"slack", regexp.MustCompile(`xox[abps]-[0-9]+-[a-zA-Z0-9\-]+`)},
		{"bearer", regexp.MustCompile(`(?i)\bbearer\s+[a-z0-9._~+/\-]{16,}=*`)},
		{"jwt", regexp.MustCompile(`eyJ[a-zA-Z0-9_\-]{8,}\.[a-zA-Z0-9_\-]{8,}\.[a-zA-Z0-9_\-]{8,}`)},
		{"private_key", regexp.MustCompile(`-----BEGIN [A-Z ]*PRIVATE KEY-----[\s\S]*?-----END [A-Z ]*PRIVATE KEY-----`)},
	}
}

// Redactor replaces secrets in text with RedactPlaceholder. Secrets are
// recognised by pattern or, for values loaded from configuration, by
// literal match. Literals are grouped by owner so that a module can
// replace its own set on reload. All methods are safe for concurrent use.
type Redactor struct {
	mu       sync.RWMutex
	patterns []Pattern
	groups   map[string][]string
	literals []string
}

// NewRedactor returns a Redactor loaded with DefaultPatterns.
func NewRedactor() *Redactor {
	return &Redactor{patterns: DefaultPatterns()}
}

// AddPattern registers an extra secret format.
func (r *Redactor) AddPattern(name string, re *regexp.Regexp) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.patterns = append(r.patterns, Pattern{Name: name, Re: re})
}

// AddLiteral adds one value to the anonymous group. Empty strings are
// ignored.
func (r *Redactor) AddLiteral(secret string) {
	if secret == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.setGroupLocked("", append(slices.Clone(r.groups[""]), secret))
}

// SetLiterals replaces the literal values owned by owner. Passing no
// values removes the group.
func (r *Redactor) SetLiterals(owner string, secrets ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.setGroupLocked(owner, secrets)
}

func (r *Redactor) setGroupLocked(owner string, secrets []string) {
	if r.groups == nil {
		r.groups = make(map[string][]string)
	}
	kept := slices.DeleteFunc(slices.Clone(secrets), func(s string) bool { return s == "" })
	if len(kept) == 0 {
		delete(r.groups, owner)
	} else {
		r.groups[owner] = kept
	}

	var all []string
	for _, g := range r.groups {
		all = append(all, g...)
	}
	// Longest first so a secret that contains another is replaced whole.
	slices.SortFunc(all, func(a, b string) int {
		return cmp.Or(cmp.Compare(len(b), len(a)), strings.Compare(a, b))
	})
	r.literals = slices.Compact(all)
}

// Redact returns s with every known secret replaced.
func (r *Redactor) Redact(s string) string {
	if s == "" {
		return s
	}
	r.mu.RLock()
	patterns, literals := r.patterns, r.literals
	r.mu.RUnlock()

	for _, p := range patterns {
		s = p.Re.ReplaceAllString(s, RedactPlaceholder)
	}
	for _, lit := range literals {
		if strings.Contains(s, lit) {
			s = strings.ReplaceAll(s, lit, RedactPlaceholder)
		}
	}
	return s
}

// Matches returns the names of the patterns found in s, in pattern order.
// Literal matches are reported as "literal".
func (r *Redactor) Matches(s string) []string {
	r.mu.RLock()
	patterns, literals := r.patterns, r.literals
	r.mu.RUnlock()

	var names []string
	for _, p := range patterns {
		if p.Re.MatchString(s) {
			names = append(names, p.Name)
		}
	}
	for _, lit := range literals {
		if strings.Contains(s, lit) {
			return append(names, "literal")
		}
	}
	return names
}
