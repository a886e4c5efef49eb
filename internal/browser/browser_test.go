package browser

import (
	"testing"
	"time"

	"github.com/go-rod/rod/lib/proto"

	crawlerrors "github.com/PentesterFlow/webcrawler/internal/errors"
	"github.com/PentesterFlow/webcrawler/internal/identity"
	"github.com/PentesterFlow/webcrawler/pkg/page"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Engine != EngineChromium {
		t.Errorf("Engine = %s, want %s", cfg.Engine, EngineChromium)
	}
	if !cfg.Headless {
		t.Error("Headless should default to true")
	}
	if cfg.ViewportWidth != 1280 || cfg.ViewportHeight != 800 {
		t.Errorf("Viewport = %dx%d, want 1280x800", cfg.ViewportWidth, cfg.ViewportHeight)
	}
	if cfg.NavigationTimeout() != 30*time.Second {
		t.Errorf("NavigationTimeout() = %v, want 30s", cfg.NavigationTimeout())
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestConfig_NavigationTimeout(t *testing.T) {
	tests := []struct {
		seconds float64
		want    time.Duration
	}{
		{0, 0},
		{1, time.Second},
		{2.5, 2500 * time.Millisecond},
		{30, 30 * time.Second},
	}

	for _, tt := range tests {
		cfg := Config{TimeoutSeconds: tt.seconds}
		if got := cfg.NavigationTimeout(); got != tt.want {
			t.Errorf("NavigationTimeout(%v) = %v, want %v", tt.seconds, got, tt.want)
		}
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{"chromium", func(c *Config) { c.Engine = "chromium" }, false},
		{"chrome alias", func(c *Config) { c.Engine = "Chrome" }, false},
		{"empty engine", func(c *Config) { c.Engine = "" }, false},
		{"firefox", func(c *Config) { c.Engine = "firefox" }, true},
		{"webkit", func(c *Config) { c.Engine = "webkit" }, true},
		{"unknown", func(c *Config) { c.Engine = "lynx" }, true},
		{"negative slow mo", func(c *Config) { c.SlowMoMs = -1 }, true},
		{"negative timeout", func(c *Config) { c.TimeoutSeconds = -1 }, true},
		{"no timeout", func(c *Config) { c.TimeoutSeconds = 0 }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !crawlerrors.IsConfiguration(err) {
				t.Errorf("Validate() error kind = %v, want configuration", crawlerrors.KindOf(err))
			}
		})
	}
}

func TestLifecycleEvent(t *testing.T) {
	tests := []struct {
		ready page.Readiness
		want  proto.PageLifecycleEventName
	}{
		{page.DOMContentLoaded, proto.PageLifecycleEventNameDOMContentLoaded},
		{page.Load, proto.PageLifecycleEventNameLoad},
		{page.NetworkIdle, proto.PageLifecycleEventNameNetworkIdle},
	}

	for _, tt := range tests {
		t.Run(tt.ready.String(), func(t *testing.T) {
			if got := lifecycleEvent(tt.ready); got != tt.want {
				t.Errorf("lifecycleEvent() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestNetworkHeaders(t *testing.T) {
	headers := networkHeaders(map[string]string{
		"Accept":          "text/html",
		"Accept-Language": "en-US",
		"user-agent":      "ignored",
		"Host":            "ignored",
	})

	if len(headers) != 2 {
		t.Fatalf("len = %d, want 2: %v", len(headers), headers)
	}
	if got := headers["Accept"].Str(); got != "text/html" {
		t.Errorf("Accept = %q, want text/html", got)
	}
	if _, ok := headers["user-agent"]; ok {
		t.Error("User-Agent must be applied through the override, not headers")
	}
}

func TestProxyCredentials(t *testing.T) {
	proxy := identity.Proxy{Server: "http://proxy.example.com:8080", Username: "user1", Password: "pass1"}

	tests := []struct {
		name      string
		challenge *proto.FetchAuthChallenge
		want      proto.FetchAuthChallengeResponseResponse
	}{
		{"proxy challenge", &proto.FetchAuthChallenge{Source: proto.FetchAuthChallengeSourceProxy, Origin: "http://proxy.example.com:8080"}, proto.FetchAuthChallengeResponseResponseProvideCredentials},
		{"server challenge", &proto.FetchAuthChallenge{Source: proto.FetchAuthChallengeSourceServer, Origin: "https://example.com"}, proto.FetchAuthChallengeResponseResponseDefault},
		{"no challenge", nil, proto.FetchAuthChallengeResponseResponseDefault},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := proxyCredentials(tt.challenge, proxy)
			if got.Response != tt.want {
				t.Fatalf("Response = %s, want %s", got.Response, tt.want)
			}
			provided := tt.want == proto.FetchAuthChallengeResponseResponseProvideCredentials
			if provided && (got.Username != "user1" || got.Password != "pass1") {
				t.Errorf("credentials = %s/%s, want user1/pass1", got.Username, got.Password)
			}
			if !provided && (got.Username != "" || got.Password != "") {
				t.Error("credentials must not be sent to origin servers")
			}
		})
	}
}
