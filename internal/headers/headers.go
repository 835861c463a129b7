// Package headers builds the authentication header bundle that replays a
// browser session against the banking API.
package headers

import (
	"net/http"
	"strings"

	"notary-relay/internal/model"
)

// Header is a single lower-case header name and its value.
type Header struct {
	Name  string
	Value string
}

// Bundle is an ordered set of headers. Order is significant: it is the order
// the prover replays them in.
type Bundle []Header

// Get returns the value of the named header, or empty string.
func (b Bundle) Get(name string) string {
	name = strings.ToLower(name)
	for _, h := range b {
		if h.Name == name {
			return h.Value
		}
	}
	return ""
}

// Lines returns the bundle as "name: value" strings.
func (b Bundle) Lines() []string {
	lines := make([]string, 0, len(b))
	for _, h := range b {
		lines = append(lines, h.Name+": "+h.Value)
	}
	return lines
}

// HTTPHeader converts the bundle into an http.Header for a direct request.
func (b Bundle) HTTPHeader() http.Header {
	dst := make(http.Header, len(b))
	for _, h := range b {
		dst.Set(h.Name, h.Value)
	}
	return dst
}

// prune drops entries whose value is empty.
func (b Bundle) prune() Bundle {
	out := b[:0]
	for _, h := range b {
		if h.Value != "" {
			out = append(out, h)
		}
	}
	return out
}

// cookieJar keeps cookie values by name in first-seen order. A repeated name
// overwrites the value but keeps its original position.
type cookieJar struct {
	names  []string
	values map[string]string
}

func newCookieJar(cookies []model.Cookie) *cookieJar {
	j := &cookieJar{values: make(map[string]string, len(cookies))}
	for _, c := range cookies {
		if _, ok := j.values[c.Name]; !ok {
			j.names = append(j.names, c.Name)
		}
		j.values[c.Name] = c.Value
	}
	return j
}

func (j *cookieJar) get(name string) string {
	return j.values[name]
}

func (j *cookieJar) getOr(name, fallback string) string {
	if v := j.values[name]; v != "" {
		return v
	}
	return fallback
}

// header renders the jar as a Cookie header value.
func (j *cookieJar) header() string {
	parts := make([]string, 0, len(j.names))
	for _, n := range j.names {
		parts = append(parts, n+"="+j.values[n])
	}
	return strings.Join(parts, "; ")
}

// Build maps the session cookies and navigator properties onto the fixed set
// of headers the banking web client sends. It returns an empty bundle when
// the tab is not on the banking host. Entries with empty values are pruned.
func Build(tab model.Tab, cookies []model.Cookie, env model.Environment, hostMarker string) Bundle {
	if tab.URL == "" || hostMarker == "" || !strings.Contains(tab.URL, hostMarker) {
		return Bundle{}
	}

	jar := newCookieJar(cookies)

	accept := "*/*"
	if strings.Contains(tab.URL, "/api/") {
		accept = "application/json"
	}

	mobile := "?0"
	if strings.Contains(env.UserAgent, "Mobile") {
		mobile = "?1"
	}

	b := Bundle{
		{"x-device-id", jar.get("revo_device_id")},
		{"sec-ch-ua", ChromeVersion(env.UserAgent)},
		{"x-browser-application", jar.getOr("x_browser_application", "WEB_CLIENT")},
		{"x-timezone", env.TimeZone},
		{"sec-ch-ua-mobile", mobile},
		{"baggage", jar.get("baggage")},
		{"sentry-trace", jar.get("sentry-trace")},
		{"user-agent", env.UserAgent},
		{"accept", accept},
		{"x-client-version", jar.get("x_client_version")},
		{"sec-gpc", "1"},
		{"accept-language", env.Language},
		{"sec-fetch-site", "same-origin"},
		{"sec-fetch-mode", "cors"},
		{"sec-fetch-dest", "empty"},
		{"referer", tab.URL},
		{"cookie", jar.header()},
	}
	return b.prune()
}

// ChromeVersion extracts the version token following "Chrome/" in a user
// agent string, or empty string when absent.
func ChromeVersion(userAgent string) string {
	_, rest, ok := strings.Cut(userAgent, "Chrome/")
	if !ok {
		return ""
	}
	if i := strings.IndexByte(rest, ' '); i >= 0 {
		rest = rest[:i]
	}
	return rest
}

// CurlCommand renders a shell command that replays the request with curl.
// Single quotes in values are escaped for POSIX shells.
func CurlCommand(apiURL string, b Bundle) string {
	return replayCommand("curl", apiURL, b)
}

// ProverCommand renders a shell command that runs the prover locally from a
// source checkout against the request.
func ProverCommand(apiURL string, b Bundle) string {
	return replayCommand("cargo run -r -p prover --", apiURL, b)
}

func replayCommand(prefix, apiURL string, b Bundle) string {
	var sb strings.Builder
	sb.WriteString(prefix)
	for _, line := range b.Lines() {
		sb.WriteString(" -H ")
		sb.WriteString(shellQuote(line))
	}
	sb.WriteByte(' ')
	sb.WriteString(shellQuote(apiURL))
	return sb.String()
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
