package headers

import (
	"strings"
	"testing"

	"notary-relay/internal/model"
)

const chromeUA = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.6778.85 Safari/537.36"

func testEnv() model.Environment {
	return model.Environment{
		UserAgent: chromeUA,
		Language:  "en-GB",
		TimeZone:  "Europe/Warsaw",
	}
}

func TestBuild_FullSession(t *testing.T) {
	tab := model.Tab{URL: "https://app.revolut.com/transactions/t-1"}
	cookies := []model.Cookie{
		{Name: "revo_device_id", Value: "dev-1"},
		{Name: "x_client_version", Value: "100.0"},
		{Name: "session", Value: "abc"},
	}

	b := Build(tab, cookies, testEnv(), "revolut.com")

	tests := []struct {
		name string
		want string
	}{
		{"x-device-id", "dev-1"},
		{"sec-ch-ua", "131.0.6778.85"},
		{"x-browser-application", "WEB_CLIENT"},
		{"x-timezone", "Europe/Warsaw"},
		{"sec-ch-ua-mobile", "?0"},
		{"user-agent", chromeUA},
		{"accept", "*/*"},
		{"x-client-version", "100.0"},
		{"sec-gpc", "1"},
		{"accept-language", "en-GB"},
		{"sec-fetch-site", "same-origin"},
		{"sec-fetch-mode", "cors"},
		{"sec-fetch-dest", "empty"},
		{"referer", "https://app.revolut.com/transactions/t-1"},
		{"cookie", "revo_device_id=dev-1; x_client_version=100.0; session=abc"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := b.Get(tt.name); got != tt.want {
				t.Errorf("%s = %q, want %q", tt.name, got, tt.want)
			}
		})
	}

	if got := b[0].Name; got != "x-device-id" {
		t.Errorf("first header = %q, want x-device-id", got)
	}
	if got := b[len(b)-1].Name; got != "cookie" {
		t.Errorf("last header = %q, want cookie", got)
	}
}

func TestBuild_PrunesEmptyValues(t *testing.T) {
	tab := model.Tab{URL: "https://app.revolut.com/home"}
	cookies := []model.Cookie{
		{Name: "revo_device_id", Value: ""},
		{Name: "baggage", Value: ""},
		{Name: "sentry-trace", Value: ""},
	}

	b := Build(tab, cookies, model.Environment{}, "revolut.com")

	for _, h := range b {
		if h.Value == "" {
			t.Errorf("header %q has empty value", h.Name)
		}
	}
	for _, name := range []string{"x-device-id", "baggage", "sentry-trace", "user-agent", "sec-ch-ua", "x-timezone"} {
		if b.Get(name) != "" {
			t.Errorf("header %q should have been pruned", name)
		}
	}
	// Cookies with empty values still appear in the Cookie header itself.
	if got := b.Get("cookie"); got != "revo_device_id=; baggage=; sentry-trace=" {
		t.Errorf("cookie = %q", got)
	}
}

func TestBuild_OtherHost(t *testing.T) {
	b := Build(model.Tab{URL: "https://example.com/transactions/1"}, nil, testEnv(), "revolut.com")
	if len(b) != 0 {
		t.Errorf("Build() on foreign host = %v, want empty", b)
	}
}

func TestBuild_APIAcceptAndMobile(t *testing.T) {
	env := model.Environment{UserAgent: "Mozilla/5.0 (Linux; Android 14) Chrome/130.0.0.0 Mobile Safari/537.36"}
	b := Build(model.Tab{URL: "https://app.revolut.com/api/retail/x"}, nil, env, "revolut.com")

	if got := b.Get("accept"); got != "application/json" {
		t.Errorf("accept = %q, want application/json", got)
	}
	if got := b.Get("sec-ch-ua-mobile"); got != "?1" {
		t.Errorf("sec-ch-ua-mobile = %q, want ?1", got)
	}
}

func TestBuild_DuplicateCookieKeepsPosition(t *testing.T) {
	cookies := []model.Cookie{
		{Name: "a", Value: "1"},
		{Name: "b", Value: "2"},
		{Name: "a", Value: "3"},
		{Name: "x_browser_application", Value: "MOBILE"},
	}
	b := Build(model.Tab{URL: "https://app.revolut.com/"}, cookies, model.Environment{}, "revolut.com")

	if got := b.Get("cookie"); got != "a=3; b=2; x_browser_application=MOBILE" {
		t.Errorf("cookie = %q", got)
	}
	if got := b.Get("x-browser-application"); got != "MOBILE" {
		t.Errorf("x-browser-application = %q, want MOBILE", got)
	}
}

func TestBundle_LinesAndHTTPHeader(t *testing.T) {
	b := Bundle{{"accept", "*/*"}, {"sec-gpc", "1"}}

	lines := b.Lines()
	if len(lines) != 2 || lines[0] != "accept: */*" || lines[1] != "sec-gpc: 1" {
		t.Errorf("Lines() = %v", lines)
	}

	h := b.HTTPHeader()
	if h.Get("Accept") != "*/*" || h.Get("Sec-Gpc") != "1" {
		t.Errorf("HTTPHeader() = %v", h)
	}
}

func TestChromeVersion(t *testing.T) {
	tests := []struct {
		ua   string
		want string
	}{
		{chromeUA, "131.0.6778.85"},
		{"Mozilla/5.0 Chrome/99.0", "99.0"},
		{"Mozilla/5.0 (Macintosh) Gecko/20100101 Firefox/133.0", ""},
		{"", ""},
	}
	for _, tt := range tests {
		if got := ChromeVersion(tt.ua); got != tt.want {
			t.Errorf("ChromeVersion(%q) = %q, want %q", tt.ua, got, tt.want)
		}
	}
}

func TestCurlCommand(t *testing.T) {
	b := Bundle{{"accept", "*/*"}, {"cookie", "a='x'"}}
	got := CurlCommand("https://app.revolut.com/api/retail/transaction/t1", b)

	want := `curl -H 'accept: */*' -H 'cookie: a='\''x'\''' 'https://app.revolut.com/api/retail/transaction/t1'`
	if got != want {
		t.Errorf("CurlCommand() =\n%s\nwant\n%s", got, want)
	}
	if !strings.HasPrefix(got, "curl ") {
		t.Errorf("CurlCommand() = %q, want curl prefix", got)
	}
}

func TestProverCommand(t *testing.T) {
	b := Bundle{{"accept", "*/*"}, {"x-device-id", "dev-1"}}
	got := ProverCommand("https://app.revolut.com/api/retail/transaction/t1", b)

	want := `cargo run -r -p prover -- -H 'accept: */*' -H 'x-device-id: dev-1' 'https://app.revolut.com/api/retail/transaction/t1'`
	if got != want {
		t.Errorf("ProverCommand() =\n%s\nwant\n%s", got, want)
	}
}
