package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kelvincushman/browserclaw/pkg/types"
)

// recordingService tracks every URL queried and denies hosts in its block set.
type recordingService struct {
	queried []string
	blocked map[string]bool
}

func (s *recordingService) IsHostAllowed(rawURL string) Decision {
	s.queried = append(s.queried, rawURL)
	host := hostOf(rawURL)
	if s.blocked[host] {
		return Decision{Allowed: false, Reason: "access to " + host + " is not permitted"}
	}
	return Decision{Allowed: true}
}

func TestExtractCandidates(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{
			name: "protocol qualified url",
			text: "open https://www.Example.com/watch?v=abc please",
			want: []string{"example.com"},
		},
		{
			name: "bare domain token",
			text: "go to youtube.com now",
			want: []string{"youtube.com"},
		},
		{
			name: "ipv4 literal with port",
			text: "connect to 192.168.1.10:8080 directly",
			want: []string{"192.168.1.10"},
		},
		{
			name: "platform name literal",
			text: "I want to watch something on youtube tonight",
			want: []string{"youtube.com"},
		},
		{
			name: "deduplicates across layers",
			text: "youtube https://youtube.com youtube.com",
			want: []string{"youtube.com"},
		},
		{
			name: "no candidates in plain text",
			text: "hello, how are you today",
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, extractCandidates(tt.text))
		})
	}
}

func TestValidateAllowsCleanMessage(t *testing.T) {
	svc := &recordingService{blocked: map[string]bool{}}
	v := NewValidator(svc)

	allowed, reason := v.Validate(types.NewUserMessage("summarize this page for me"))
	assert.True(t, allowed)
	assert.Empty(t, reason)
	assert.Empty(t, svc.queried)
}

func TestValidateDeniesBlockedHost(t *testing.T) {
	svc := &recordingService{blocked: map[string]bool{"youtube.com": true}}
	v := NewValidator(svc)

	allowed, reason := v.Validate(types.NewUserMessage("go to youtube.com"))
	assert.False(t, allowed)
	assert.Contains(t, reason, "youtube.com")
}

func TestValidateFallsThroughURLForms(t *testing.T) {
	// A service that only accepts the bare-host form still results in an
	// allowed verdict: https, then http, then bare host are all tried.
	svc := &formPickyService{acceptForm: "example.com"}
	v := NewValidator(svc)

	allowed, _ := v.Validate(types.NewUserMessage("check example.com"))
	assert.True(t, allowed)
	require.Len(t, svc.queried, 3)
	assert.Equal(t, "https://example.com", svc.queried[0])
	assert.Equal(t, "http://example.com", svc.queried[1])
	assert.Equal(t, "example.com", svc.queried[2])
}

type formPickyService struct {
	queried    []string
	acceptForm string
}

func (s *formPickyService) IsHostAllowed(rawURL string) Decision {
	s.queried = append(s.queried, rawURL)
	if rawURL == s.acceptForm {
		return Decision{Allowed: true}
	}
	return Decision{Allowed: false, Reason: "denied form " + rawURL}
}

func TestIndirectAccessHeuristics(t *testing.T) {
	tests := []struct {
		name   string
		text   string
		denied bool
	}{
		{name: "search engine phrasing", text: "search google for youtube videos of cats", denied: true},
		{name: "navigation phrasing", text: "please navigate to tiktok for me", denied: true},
		{name: "unrelated search", text: "search google for golang tutorials", denied: false},
	}

	svc := &recordingService{blocked: map[string]bool{"youtube.com": true, "tiktok.com": true}}
	v := NewValidator(svc)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			allowed, _ := v.Validate(types.NewUserMessage(tt.text))
			assert.Equal(t, !tt.denied, allowed)
		})
	}
}

func TestValidateSkipsNonUserMessages(t *testing.T) {
	svc := &recordingService{blocked: map[string]bool{"youtube.com": true}}
	v := NewValidator(svc)

	allowed, _ := v.Validate(types.NewAssistantTextMessage("the user asked about youtube.com"))
	assert.True(t, allowed)
	assert.Empty(t, svc.queried)
}

func TestAllowlistGlobs(t *testing.T) {
	list, err := NewAllowlist([]string{"*.example.com", "github.com", "192.168.1.*"})
	require.NoError(t, err)

	assert.True(t, list.IsHostAllowed("https://docs.example.com/page").Allowed)
	assert.True(t, list.IsHostAllowed("github.com").Allowed)
	assert.True(t, list.IsHostAllowed("http://192.168.1.44:9000").Allowed)
	assert.True(t, list.IsHostAllowed("https://www.github.com").Allowed, "www prefix is stripped")

	denied := list.IsHostAllowed("https://youtube.com/watch")
	assert.False(t, denied.Allowed)
	assert.Contains(t, denied.Reason, "youtube.com")
}

func TestEmptyAllowlistPermitsEverything(t *testing.T) {
	list, err := NewAllowlist(nil)
	require.NoError(t, err)
	assert.True(t, list.IsHostAllowed("https://anything.example").Allowed)
}

func TestHostOf(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{raw: "https://www.Example.com/path?q=1", want: "example.com"},
		{raw: "example.com/path", want: "example.com"},
		{raw: "EXAMPLE.COM:8443", want: "example.com"},
		{raw: "192.168.1.10:8080", want: "192.168.1.10"},
		{raw: "www.example.com", want: "example.com"},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			assert.Equal(t, tt.want, hostOf(tt.raw))
		})
	}
}
