package identity

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	crawlerrors "github.com/PentesterFlow/webcrawler/internal/errors"
)

var testProxies = []Proxy{
	{Server: "http://a.example.com:8080"},
	{Server: "http://b.example.com:8080", Username: "u", Password: "p"},
	{Server: "socks5://c.example.com:1080"},
}

// =============================================================================
// Pool Tests
// =============================================================================

func TestPool_InitialUsesFirstProxy(t *testing.T) {
	p := NewPool(Config{Proxies: testProxies, Seed: 1})

	id := p.Initial()
	if id.Proxy == nil || id.Proxy.Server != testProxies[0].Server {
		t.Fatalf("Initial().Proxy = %v, want %s", id.Proxy, testProxies[0].Server)
	}
	if id.UserAgent == "" {
		t.Error("Initial().UserAgent should not be empty")
	}
	if p.cursor != 0 {
		t.Errorf("cursor = %d, want 0", p.cursor)
	}
}

func TestPool_InitialPinnedUserAgent(t *testing.T) {
	p := NewPool(Config{UserAgent: "pinned/1.0"})

	if got := p.Initial().UserAgent; got != "pinned/1.0" {
		t.Errorf("Initial().UserAgent = %q, want pinned/1.0", got)
	}
}

func TestPool_InitialStaticProxy(t *testing.T) {
	static := &Proxy{Server: "http://static:3128"}
	p := NewPool(Config{StaticProxy: static})

	id := p.Initial()
	if id.Proxy == nil || id.Proxy.Server != static.Server {
		t.Errorf("Initial().Proxy = %v, want static proxy", id.Proxy)
	}
	if p.HasProxies() {
		t.Error("HasProxies() should be false for a static proxy")
	}
}

func TestPool_NextRoundRobin(t *testing.T) {
	p := NewPool(Config{Proxies: testProxies, Seed: 7})

	id := p.Initial()
	want := []string{
		testProxies[1].Server,
		testProxies[2].Server,
		testProxies[0].Server,
		testProxies[1].Server,
	}
	for i, server := range want {
		id = p.Next(id)
		if id.Proxy.Server != server {
			t.Errorf("rotation %d: Proxy = %s, want %s", i+1, id.Proxy.Server, server)
		}
	}
}

func TestPool_NextUnknownProxyRestarts(t *testing.T) {
	p := NewPool(Config{Proxies: testProxies})

	tests := []struct {
		name    string
		current Identity
	}{
		{"no proxy", Identity{}},
		{"foreign proxy", Identity{Proxy: &Proxy{Server: "http://elsewhere:1"}}},
		{"same server different credentials", Identity{Proxy: &Proxy{Server: testProxies[1].Server}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next := p.Next(tt.current)
			if next.Proxy.Server != testProxies[0].Server {
				t.Errorf("Next().Proxy = %s, want %s", next.Proxy.Server, testProxies[0].Server)
			}
		})
	}
}

func TestPool_NextWithoutProxies(t *testing.T) {
	p := NewPool(Config{})

	if id := p.Next(p.Initial()); id.Proxy != nil {
		t.Errorf("Next().Proxy = %v, want nil", id.Proxy)
	}
}

func TestPool_UserAgentsFromCandidates(t *testing.T) {
	uas := []string{"ua-one", "ua-two", "  ", "ua-three"}
	p := NewPool(Config{UserAgents: uas, Seed: 42})

	allowed := map[string]bool{"ua-one": true, "ua-two": true, "ua-three": true}
	seen := map[string]bool{}
	id := p.Initial()
	for i := 0; i < 200; i++ {
		if !allowed[id.UserAgent] {
			t.Fatalf("UserAgent = %q, not a candidate", id.UserAgent)
		}
		seen[id.UserAgent] = true
		id = p.Next(id)
	}
	if len(seen) != 3 {
		t.Errorf("saw %d distinct user agents, want 3", len(seen))
	}
	if got := len(p.UserAgents()); got != 3 {
		t.Errorf("UserAgents() len = %d, want 3 (blank dropped)", got)
	}
}

func TestPool_DefaultUserAgents(t *testing.T) {
	p := NewPool(Config{})

	if got := len(p.UserAgents()); got != len(DefaultUserAgents()) {
		t.Errorf("UserAgents() len = %d, want %d", got, len(DefaultUserAgents()))
	}
	if len(DefaultUserAgents()) < 5 {
		t.Error("built-in list should hold at least 5 user agents")
	}
}

func TestPool_HeadersMerged(t *testing.T) {
	p := NewPool(Config{ExtraHeaders: map[string]string{"X-Trace": "1", "DNT": "0"}})

	h := p.Initial().Headers
	if h["X-Trace"] != "1" {
		t.Errorf("X-Trace = %q, want 1", h["X-Trace"])
	}
	if h["DNT"] != "0" {
		t.Errorf("DNT = %q, want override 0", h["DNT"])
	}
	if h["Accept-Language"] == "" {
		t.Error("Accept-Language should be set")
	}
	if _, ok := h["User-Agent"]; ok {
		t.Error("User-Agent should not be part of the request headers")
	}
}

func TestIdentity_ProxyServer(t *testing.T) {
	if got := (Identity{}).ProxyServer(); got != "direct" {
		t.Errorf("ProxyServer() = %q, want direct", got)
	}
	if got := (Identity{Proxy: &testProxies[0]}).ProxyServer(); got != testProxies[0].Server {
		t.Errorf("ProxyServer() = %q, want %s", got, testProxies[0].Server)
	}
}

// =============================================================================
// Source Tests
// =============================================================================

func TestParseProxies(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    int
		wantErr bool
	}{
		{"json list", `[{"server":"http://a:1"},{"server":"http://b:2","username":"u","password":"p"}]`, 2, false},
		{"yaml list", "- server: http://a:1\n- server: socks5://b:2\n  username: u\n", 2, false},
		{"empty list", `[]`, 0, false},
		{"missing server", `[{"server":"http://a:1"},{"username":"u"}]`, 0, true},
		{"blank server", `[{"server":"  "}]`, 0, true},
		{"non-string server", `[{"server":8080}]`, 0, true},
		{"non-string password", `[{"server":"http://a:1","password":123}]`, 0, true},
		{"scalar entry", `["http://a:1"]`, 0, true},
		{"mapping at top level", `{"server":"http://a:1"}`, 0, true},
		{"empty input", ``, 0, true},
		{"garbage", `[{`, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseProxies([]byte(tt.input))
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseProxies() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && len(got) != tt.want {
				t.Errorf("ParseProxies() len = %d, want %d", len(got), tt.want)
			}
		})
	}
}

func TestParseProxies_ErrorNamesBothDecoders(t *testing.T) {
	_, err := ParseProxies([]byte(`[{`))
	if err == nil {
		t.Fatal("ParseProxies() error = nil, want parse error")
	}
	for _, part := range []string{"yaml:", "json:"} {
		if !strings.Contains(err.Error(), part) {
			t.Errorf("error %q does not mention %q", err.Error(), part)
		}
	}
}

func TestLoadProxies(t *testing.T) {
	dir := t.TempDir()

	good := filepath.Join(dir, "good.json")
	if err := WriteExampleProxies(good); err != nil {
		t.Fatalf("WriteExampleProxies() error = %v", err)
	}
	proxies, err := LoadProxies(good)
	if err != nil {
		t.Fatalf("LoadProxies() error = %v", err)
	}
	if len(proxies) != 3 {
		t.Fatalf("LoadProxies() len = %d, want 3", len(proxies))
	}
	if proxies[0].Username != "user1" || proxies[1].HasCredentials() {
		t.Errorf("LoadProxies() = %+v, credentials not preserved", proxies)
	}

	bad := filepath.Join(dir, "bad.json")
	os.WriteFile(bad, []byte(`[{"server":"http://a:1"},{"nope":true}]`), 0644)
	if _, err := LoadProxies(bad); !crawlerrors.IsConfiguration(err) {
		t.Errorf("LoadProxies(bad) error = %v, want configuration error", err)
	}

	if _, err := LoadProxies(filepath.Join(dir, "missing.json")); !crawlerrors.IsConfiguration(err) {
		t.Errorf("LoadProxies(missing) error = %v, want configuration error", err)
	}
}

func TestWriteExampleProxies_Format(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "example_proxies.json")
	if err := WriteExampleProxies(path); err != nil {
		t.Fatalf("WriteExampleProxies() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}

	var raw []map[string]string
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("example file is not JSON: %v", err)
	}
	if _, ok := raw[1]["username"]; ok {
		t.Error("entries without credentials should omit username")
	}
}

func TestLoadUserAgents(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "uas.txt")
	os.WriteFile(path, []byte("agent-a\n\n  agent-b  \n\n"), 0644)
	empty := filepath.Join(dir, "empty.txt")
	os.WriteFile(empty, []byte("\n \n"), 0644)

	tests := []struct {
		name string
		path string
		want []string
	}{
		{"file", path, []string{"agent-a", "agent-b"}},
		{"no path", "", DefaultUserAgents()},
		{"missing file", filepath.Join(dir, "missing.txt"), DefaultUserAgents()},
		{"only blank lines", empty, DefaultUserAgents()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := LoadUserAgents(tt.path)
			if err != nil {
				t.Fatalf("LoadUserAgents() error = %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("LoadUserAgents() len = %d, want %d", len(got), len(tt.want))
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("LoadUserAgents()[%d] = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}
