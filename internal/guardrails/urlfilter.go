package guardrails

import (
	"context"
	"net/url"
	"regexp"
	"strings"
)

var urlPattern = regexp.MustCompile(`(?i)\b(?:[a-z][a-z0-9+.\-]*://|www\.)[^\s<>"']+`)

// urlFilterCheck trips when the text contains a URL outside the allow list,
// with a disallowed scheme, or with embedded credentials.
type urlFilterCheck struct {
	allow           []string
	schemes         map[string]struct{}
	blockUserinfo   bool
	allowSubdomains bool
}

func newURLFilterCheck(entry ConfigEntry) (Check, error) {
	c := &urlFilterCheck{
		schemes:         map[string]struct{}{},
		blockUserinfo:   entry.Config.BoolDefault("block_userinfo", true),
		allowSubdomains: entry.Config.BoolDefault("allow_subdomains", false),
	}
	for _, a := range entry.Config.Strings("url_allow_list") {
		c.allow = append(c.allow, strings.ToLower(strings.TrimSpace(a)))
	}
	schemes := entry.Config.Strings("allowed_schemes")
	if len(schemes) == 0 {
		schemes = []string{"https"}
	}
	for _, s := range schemes {
		c.schemes[strings.ToLower(strings.TrimSuffix(s, "://"))] = struct{}{}
	}
	return c, nil
}

func (c *urlFilterCheck) Name() string { return NameURLFilter }

func (c *urlFilterCheck) Evaluate(_ context.Context, text string, _ *RunContext) (Verdict, error) {
	detected := []string{}
	blocked := []string{}
	for _, raw := range urlPattern.FindAllString(text, -1) {
		raw = strings.TrimRight(raw, ".,;:!?)")
		detected = append(detected, raw)
		if !c.allowed(raw) {
			blocked = append(blocked, raw)
		}
	}

	return Verdict{
		CheckName: NameURLFilter,
		Tripped:   len(blocked) > 0,
		Diagnostics: Diagnostics{
			GuardrailName: NameURLFilter,
			DetectedURLs:  detected,
			BlockedURLs:   blocked,
		},
	}, nil
}

func (c *urlFilterCheck) allowed(raw string) bool {
	candidate := raw
	if strings.HasPrefix(strings.ToLower(candidate), "www.") {
		candidate = "https://" + candidate
	}
	u, err := url.Parse(candidate)
	if err != nil || u.Hostname() == "" {
		return false
	}
	if _, ok := c.schemes[strings.ToLower(u.Scheme)]; !ok {
		return false
	}
	if c.blockUserinfo && u.User != nil {
		return false
	}

	host := strings.ToLower(u.Hostname())
	for _, a := range c.allow {
		allowHost := a
		if strings.Contains(a, "://") {
			if au, err := url.Parse(a); err == nil {
				allowHost = strings.ToLower(au.Hostname())
			}
		}
		allowHost = strings.TrimPrefix(allowHost, "www.")
		h := strings.TrimPrefix(host, "www.")
		if h == allowHost {
			return true
		}
		if c.allowSubdomains && strings.HasSuffix(h, "."+allowHost) {
			return true
		}
	}
	return false
}
