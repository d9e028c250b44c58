package policy

import (
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strings"

	"github.com/kelvincushman/browserclaw/pkg/logging"
	"github.com/kelvincushman/browserclaw/pkg/types"
)

// Candidate extraction patterns, layered from most to least specific.
var (
	// Protocol-qualified URLs.
	urlPattern = regexp.MustCompile(`(?i)\bhttps?://[^\s<>"'` + "`" + `]+`)

	// Bare domain-like tokens ("example.com", "video.site.co.uk").
	domainPattern = regexp.MustCompile(`(?i)\b(?:[a-z0-9](?:[a-z0-9-]*[a-z0-9])?\.)+[a-z]{2,}\b`)

	// IPv4 literals, optionally with a port.
	ipv4Pattern = regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}(?::\d{1,5})?\b`)
)

// knownPlatforms maps platform name literals to their canonical domains.
// Mentioning the name alone ("open youtube") is treated as a mention of the
// domain.
var knownPlatforms = map[string]string{
	"youtube":   "youtube.com",
	"facebook":  "facebook.com",
	"instagram": "instagram.com",
	"tiktok":    "tiktok.com",
	"twitter":   "twitter.com",
	"reddit":    "reddit.com",
	"twitch":    "twitch.tv",
	"netflix":   "netflix.com",
	"discord":   "discord.com",
	"linkedin":  "linkedin.com",
	"pinterest": "pinterest.com",
	"snapchat":  "snapchat.com",
	"whatsapp":  "whatsapp.com",
	"telegram":  "telegram.org",
}

// indirectPatterns catch attempts to reach a restricted platform through a
// search engine or navigation phrasing without naming its domain, e.g.
// "search google for youtube videos". Each match re-checks the platform's
// canonical domain even when it was never written as a URL.
var indirectPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(?:search|google|bing|look\s+up|find)\b[^.!?\n]*\b(` + platformAlternation() + `)\b`),
	regexp.MustCompile(`(?i)\b(?:go\s+to|navigate\s+to|open|visit|browse\s+to|take\s+me\s+to)\b[^.!?\n]*\b(` + platformAlternation() + `)\b`),
}

func platformAlternation() string {
	names := make([]string, 0, len(knownPlatforms))
	for name := range knownPlatforms {
		names = append(names, regexp.QuoteMeta(name))
	}
	sort.Strings(names)
	return strings.Join(names, "|")
}

// Validator runs host-mention validation for user messages before the model
// is invoked.
type Validator struct {
	service Service
	log     *logging.Logger
}

// NewValidator creates a validator backed by the given policy service.
func NewValidator(service Service) *Validator {
	log, _ := logging.NewLogger("policy")
	return &Validator{service: service, log: log}
}

// Validate scans the message's text parts for host mentions and asks the
// policy service about each candidate. The first disallowed candidate
// short-circuits with a user-facing denial reason. Only user messages are
// validated; everything else is allowed through untouched.
func (v *Validator) Validate(msg *types.Message) (bool, string) {
	if msg == nil || msg.Role != types.RoleUser || v.service == nil {
		return true, ""
	}

	text := msg.Text()
	if strings.TrimSpace(text) == "" {
		return true, ""
	}

	for _, host := range extractCandidates(text) {
		if allowed, reason := v.checkHost(host); !allowed {
			v.log.Infof("denied host mention %q: %s", host, reason)
			return false, reason
		}
	}

	// Second pass: indirect-access heuristics. A platform reachable through
	// search phrasing is checked against its canonical domain even if the
	// domain never appeared in the text.
	for _, host := range indirectMentions(text) {
		if allowed, reason := v.checkHost(host); !allowed {
			v.log.Infof("denied indirect platform mention %q: %s", host, reason)
			return false, reason
		}
	}

	return true, ""
}

// checkHost asks the policy service about a candidate, trying the https
// form, then http, then the bare host before declaring it disallowed. The
// reason from the first denial is kept for the user-facing message.
func (v *Validator) checkHost(host string) (bool, string) {
	var firstReason string
	for _, form := range []string{"https://" + host, "http://" + host, host} {
		decision := v.service.IsHostAllowed(form)
		if decision.Allowed {
			return true, ""
		}
		if firstReason == "" {
			firstReason = decision.Reason
		}
	}
	if firstReason == "" {
		firstReason = fmt.Sprintf("access to %s is not permitted", host)
	}
	return false, firstReason
}

// extractCandidates produces the deduplicated, normalized candidate host
// set for a piece of text: protocol-qualified URLs, bare domain tokens,
// known platform name literals, and IPv4 literals.
func extractCandidates(text string) []string {
	seen := make(map[string]bool)
	var candidates []string
	add := func(host string) {
		host = normalizeHost(host)
		if host == "" || seen[host] {
			return
		}
		seen[host] = true
		candidates = append(candidates, host)
	}

	for _, match := range urlPattern.FindAllString(text, -1) {
		if u, err := url.Parse(match); err == nil && u.Host != "" {
			add(u.Host)
		}
	}
	for _, match := range domainPattern.FindAllString(text, -1) {
		add(match)
	}
	for _, match := range ipv4Pattern.FindAllString(text, -1) {
		add(match)
	}

	lower := strings.ToLower(text)
	for name, domain := range knownPlatforms {
		if containsWord(lower, name) {
			add(domain)
		}
	}

	return candidates
}

// indirectMentions returns canonical domains for platforms reachable via
// the indirect-access heuristics.
func indirectMentions(text string) []string {
	seen := make(map[string]bool)
	var hosts []string
	for _, pattern := range indirectPatterns {
		for _, match := range pattern.FindAllStringSubmatch(text, -1) {
			if len(match) < 2 {
				continue
			}
			domain := knownPlatforms[strings.ToLower(match[1])]
			if domain != "" && !seen[domain] {
				seen[domain] = true
				hosts = append(hosts, domain)
			}
		}
	}
	return hosts
}

// normalizeHost decodes percent-escapes, lowercases, strips a "www." prefix
// and any port suffix.
func normalizeHost(host string) string {
	host = strings.TrimSpace(host)
	if decoded, err := url.QueryUnescape(host); err == nil {
		host = decoded
	}
	return hostOf(host)
}

// containsWord reports whether the word appears in text on its own, not as
// a substring of a longer token.
func containsWord(text, word string) bool {
	idx := 0
	for {
		i := strings.Index(text[idx:], word)
		if i < 0 {
			return false
		}
		start := idx + i
		end := start + len(word)
		beforeOK := start == 0 || !isWordChar(text[start-1])
		afterOK := end == len(text) || !isWordChar(text[end])
		// "youtube.com" is handled by the domain pattern; the literal check
		// only fires for the standalone name.
		if beforeOK && afterOK && (end == len(text) || text[end] != '.') {
			return true
		}
		idx = end
	}
}

func isWordChar(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z' || b >= '0' && b <= '9' || b == '_' || b == '-'
}
