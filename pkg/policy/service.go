// Package policy implements pre-flight host validation for user messages:
// candidate hostnames are extracted from free text and checked against a
// policy service before the model is ever invoked. The allow/deny decision
// itself lives behind the Service interface so deployments can delegate it
// to an external component; the shipped implementation is a glob allowlist.
package policy

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/gobwas/glob"
)

// Decision is the outcome of a single host check.
type Decision struct {
	Allowed bool
	Reason  string
}

// Service decides whether a given hostname or URL may be accessed.
type Service interface {
	// IsHostAllowed receives either a full URL ("https://host/path") or a
	// bare host and returns whether access is permitted.
	IsHostAllowed(rawURL string) Decision
}

// Allowlist is a Service backed by glob patterns. A host is allowed when it
// matches at least one pattern; an empty allowlist permits everything.
//
// Patterns match the bare, lowercased host with any "www." prefix removed,
// e.g. "*.example.com", "github.com", "192.168.1.*".
type Allowlist struct {
	raw      []string
	compiled []glob.Glob
}

// NewAllowlist compiles the given patterns. Invalid patterns are rejected.
func NewAllowlist(patterns []string) (*Allowlist, error) {
	list := &Allowlist{}
	for _, pattern := range patterns {
		pattern = strings.TrimSpace(strings.ToLower(pattern))
		if pattern == "" {
			continue
		}
		compiled, err := glob.Compile(pattern, '.')
		if err != nil {
			return nil, fmt.Errorf("invalid allowlist pattern %q: %w", pattern, err)
		}
		list.raw = append(list.raw, pattern)
		list.compiled = append(list.compiled, compiled)
	}
	return list, nil
}

// Patterns returns the compiled pattern sources.
func (a *Allowlist) Patterns() []string {
	out := make([]string, len(a.raw))
	copy(out, a.raw)
	return out
}

// IsHostAllowed implements Service.
func (a *Allowlist) IsHostAllowed(rawURL string) Decision {
	if len(a.compiled) == 0 {
		return Decision{Allowed: true}
	}

	host := hostOf(rawURL)
	if host == "" {
		return Decision{Allowed: false, Reason: fmt.Sprintf("could not determine host for %q", rawURL)}
	}

	for _, g := range a.compiled {
		if g.Match(host) {
			return Decision{Allowed: true}
		}
	}
	return Decision{
		Allowed: false,
		Reason:  fmt.Sprintf("access to %s is not permitted by the host allowlist", host),
	}
}

// hostOf extracts the bare host from a URL or host string: lowercased, port
// and "www." prefix stripped.
func hostOf(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}

	host := raw
	if strings.Contains(raw, "://") {
		if u, err := url.Parse(raw); err == nil && u.Host != "" {
			host = u.Host
		}
	} else if i := strings.IndexAny(raw, "/?#"); i >= 0 {
		host = raw[:i]
	}

	host = strings.ToLower(host)
	if i := strings.LastIndex(host, ":"); i >= 0 && !strings.HasPrefix(host, "[") && isDigits(host[i+1:]) {
		host = host[:i]
	}
	return strings.TrimPrefix(host, "www.")
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
