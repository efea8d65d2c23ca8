package bidi

import (
	"net/url"
	"strings"
)

// URLPattern is a parsed BiDi network.UrlPattern (spec.md §6). It has two
// wire forms: {type:"string", pattern} matches by parsed-URL equality
// after normalisation, and {type:"pattern", protocol?, hostname?, port?,
// pathname?, search?} matches component-wise. Absent components match
// anything; scheme and host comparisons are case-insensitive, the rest
// is case-sensitive.
type URLPattern struct {
	Type     string `json:"type"`
	Pattern  string `json:"pattern,omitempty"`
	Protocol string `json:"protocol,omitempty"`
	Hostname string `json:"hostname,omitempty"`
	Port     string `json:"port,omitempty"`
	Pathname string `json:"pathname,omitempty"`
	Search   string `json:"search,omitempty"`
}

// ParseURLPattern normalises p for later matching. For type "string" it
// pre-parses Pattern into a *url.URL so equality checks are
// normalisation-aware instead of literal string comparison.
func ParseURLPattern(p URLPattern) (*ParsedURLPattern, error) {
	pp := &ParsedURLPattern{raw: p}
	if p.Type == "string" {
		u, err := url.Parse(p.Pattern)
		if err != nil {
			return nil, NewError(ErrorCodeInvalidArgument, "invalid url pattern: "+err.Error())
		}
		pp.stringURL = u
	}
	return pp, nil
}

// ParsedURLPattern is a URLPattern ready for repeated matching.
type ParsedURLPattern struct {
	raw       URLPattern
	stringURL *url.URL
}

// Match reports whether rawURL satisfies the pattern.
func (p *ParsedURLPattern) Match(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	if p.raw.Type == "string" {
		return sameNormalisedURL(p.stringURL, u)
	}
	return matchComponents(p.raw, u)
}

// MatchAny reports whether rawURL matches any of patterns. An empty
// pattern list means "match all" (spec.md §3 Intercept invariant (a)).
func MatchAny(patterns []*ParsedURLPattern, rawURL string) bool {
	if len(patterns) == 0 {
		return true
	}
	for _, p := range patterns {
		if p.Match(rawURL) {
			return true
		}
	}
	return false
}

func sameNormalisedURL(a, b *url.URL) bool {
	if !strings.EqualFold(a.Scheme, b.Scheme) {
		return false
	}
	if !strings.EqualFold(a.Hostname(), b.Hostname()) {
		return false
	}
	if effectivePortString(a) != effectivePortString(b) {
		return false
	}
	return a.EscapedPath() == b.EscapedPath() && a.RawQuery == b.RawQuery
}

func matchComponents(p URLPattern, u *url.URL) bool {
	if p.Protocol != "" && !strings.EqualFold(p.Protocol, u.Scheme) {
		return false
	}
	if p.Hostname != "" && !strings.EqualFold(p.Hostname, u.Hostname()) {
		return false
	}
	if p.Port != "" && p.Port != effectivePortString(u) {
		return false
	}
	if p.Pathname != "" && p.Pathname != u.EscapedPath() {
		return false
	}
	if p.Search != "" && strings.TrimPrefix(p.Search, "?") != strings.TrimPrefix(u.RawQuery, "?") {
		return false
	}
	return true
}

func effectivePortString(u *url.URL) string {
	if p := u.Port(); p != "" {
		return p
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "ws":
		return "80"
	case "https", "wss":
		return "443"
	case "ftp":
		return "21"
	default:
		return ""
	}
}
