package identity

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	crawlerrors "github.com/PentesterFlow/webcrawler/internal/errors"
)

// DefaultUserAgents returns the built-in user-agent list.
func DefaultUserAgents() []string {
	return []string{
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/96.0.4664.110 Safari/537.36",
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/97.0.4692.71 Safari/537.36",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/96.0.4664.110 Safari/537.36",
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:95.0) Gecko/20100101 Firefox/95.0",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/15.1 Safari/605.1.15",
		"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/96.0.4664.110 Safari/537.36",
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/96.0.4664.110 Safari/537.36 Edg/96.0.1054.62",
	}
}

// RequestHeaders returns the browser-like headers sent with every request,
// merged with extra. User-Agent is not included; sessions apply it through
// the user-agent override.
func RequestHeaders(extra map[string]string) map[string]string {
	headers := map[string]string{
		"Accept":                    "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8",
		"Accept-Language":           "en-US,en;q=0.5",
		"DNT":                       "1",
		"Upgrade-Insecure-Requests": "1",
	}
	for k, v := range extra {
		headers[k] = v
	}
	return headers
}

// LoadUserAgents reads newline-delimited user agents. Blank lines are
// ignored. An empty path, a missing file or a file without entries yields
// the built-in list.
func LoadUserAgents(path string) ([]string, error) {
	if path == "" {
		return DefaultUserAgents(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultUserAgents(), nil
		}
		return nil, crawlerrors.NewConfigurationError(path, "cannot read user-agent file", err)
	}

	return ParseUserAgents(data), nil
}

// ParseUserAgents splits data into user agents, falling back to the
// built-in list when it holds none.
func ParseUserAgents(data []byte) []string {
	var uas []string
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 4096), 1<<20)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			uas = append(uas, line)
		}
	}
	if len(uas) == 0 {
		return DefaultUserAgents()
	}
	return uas
}

// LoadProxies reads a proxy list file. The file holds a sequence of
// mappings with a required "server" and optional "username"/"password".
// Any malformed entry fails the whole load.
func LoadProxies(path string) ([]Proxy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, crawlerrors.NewConfigurationError(path, "proxy file not found", err)
		}
		return nil, crawlerrors.NewConfigurationError(path, "cannot read proxy file", err)
	}

	proxies, err := ParseProxies(data)
	if err != nil {
		return nil, crawlerrors.NewConfigurationError(path, "invalid proxy list", err)
	}
	return proxies, nil
}

// ParseProxies decodes and validates a proxy list (YAML or JSON).
func ParseProxies(data []byte) ([]Proxy, error) {
	var raw []map[string]interface{}

	// Try YAML first, then JSON
	if yerr := yaml.Unmarshal(data, &raw); yerr != nil {
		raw = nil
		if jerr := json.Unmarshal(data, &raw); jerr != nil {
			return nil, fmt.Errorf("proxy list must be a sequence of mappings (yaml: %v; json: %w)", yerr, jerr)
		}
	}
	if raw == nil && len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("proxy list is empty")
	}

	proxies := make([]Proxy, 0, len(raw))
	for i, entry := range raw {
		p, err := proxyFromMap(entry)
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
		proxies = append(proxies, p)
	}
	return proxies, nil
}

func proxyFromMap(entry map[string]interface{}) (Proxy, error) {
	if entry == nil {
		return Proxy{}, fmt.Errorf("each proxy must be a mapping with a 'server' key")
	}

	server, ok := entry["server"].(string)
	if !ok || strings.TrimSpace(server) == "" {
		return Proxy{}, fmt.Errorf("each proxy must have a non-empty 'server' string")
	}

	p := Proxy{Server: strings.TrimSpace(server)}
	for _, field := range []struct {
		key string
		dst *string
	}{
		{"username", &p.Username},
		{"password", &p.Password},
	} {
		v, present := entry[field.key]
		if !present || v == nil {
			continue
		}
		s, ok := v.(string)
		if !ok {
			return Proxy{}, fmt.Errorf("'%s' must be a string", field.key)
		}
		*field.dst = s
	}
	return p, nil
}

// ExampleProxies returns a sample proxy list covering the supported forms.
func ExampleProxies() []Proxy {
	return []Proxy{
		{Server: "http://proxy1.example.com:8080", Username: "user1", Password: "pass1"},
		{Server: "http://proxy2.example.com:8080"},
		{Server: "socks5://proxy3.example.com:1080", Username: "user3", Password: "pass3"},
	}
}

// WriteExampleProxies writes ExampleProxies to path as indented JSON.
func WriteExampleProxies(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}

	data, err := json.MarshalIndent(ExampleProxies(), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal proxies: %w", err)
	}

	return os.WriteFile(path, append(data, '\n'), 0644)
}
