package crawler

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/PentesterFlow/webcrawler/internal/browser"
	crawlerrors "github.com/PentesterFlow/webcrawler/internal/errors"
	"github.com/PentesterFlow/webcrawler/internal/frontier"
	"github.com/PentesterFlow/webcrawler/internal/identity"
	"github.com/PentesterFlow/webcrawler/internal/rotation"
	"github.com/PentesterFlow/webcrawler/internal/state"
	"github.com/PentesterFlow/webcrawler/pkg/extract"
)

// Config holds all crawler configuration.
type Config struct {
	// Maximum link depth from the start URL
	MaxDepth int `json:"max_depth" yaml:"max_depth"`

	// Maximum number of pages processed
	MaxPages int `json:"max_pages" yaml:"max_pages"`

	// Pause after every processed page, in seconds
	RequestInterval float64 `json:"request_interval" yaml:"request_interval"`

	// Wait after navigation for deferred rendering, in milliseconds
	SettleDelayMs int `json:"settle_delay_ms" yaml:"settle_delay_ms"`

	RespectRobotsTxt bool `json:"respect_robots_txt" yaml:"respect_robots_txt"`

	// Directory for reports and screenshots
	OutputDir string `json:"output_dir" yaml:"output_dir"`

	Screenshots bool `json:"screenshots" yaml:"screenshots"`

	// Browser configuration
	Browser browser.Config `json:"browser" yaml:"browser"`

	// User agents, proxies and rotation
	Identity IdentityConfig `json:"identity" yaml:"identity"`

	// Optional navigation rate cap
	RateLimit RateLimitConfig `json:"rate_limit" yaml:"rate_limit"`

	// Checkpointing
	State StateConfig `json:"state" yaml:"state"`

	// Extra report destinations
	Output OutputConfig `json:"output" yaml:"output"`

	// Extraction strategies
	Extraction ExtractionConfig `json:"extraction" yaml:"extraction"`

	// Verbose logging
	Verbose bool `json:"verbose" yaml:"verbose"`

	// Debug mode
	Debug bool `json:"debug" yaml:"debug"`
}

// IdentityConfig configures the identities sessions are opened with.
type IdentityConfig struct {
	// UserAgent pins the user agent of the first session.
	UserAgent string `json:"user_agent,omitempty" yaml:"user_agent,omitempty"`
	// UserAgentFile is a newline-delimited list of user agents.
	UserAgentFile string `json:"user_agent_file,omitempty" yaml:"user_agent_file,omitempty"`
	// Proxy is used for the whole crawl when no proxy list is given.
	Proxy *identity.Proxy `json:"proxy,omitempty" yaml:"proxy,omitempty"`
	// ProxyFile is a JSON or YAML list of proxies to rotate through.
	ProxyFile string `json:"proxy_file,omitempty" yaml:"proxy_file,omitempty"`
	// RotateEvery is the number of pages served by one identity.
	RotateEvery int `json:"rotate_every" yaml:"rotate_every"`
	// ExtraHeaders are sent with every request.
	ExtraHeaders map[string]string `json:"extra_headers,omitempty" yaml:"extra_headers,omitempty"`
}

// RateLimitConfig defines rate limiting configuration.
type RateLimitConfig struct {
	// RequestsPerSecond caps navigations; 0 disables the cap.
	RequestsPerSecond float64 `json:"requests_per_second" yaml:"requests_per_second"`
	Burst             int     `json:"burst" yaml:"burst"`
}

// StateConfig defines state persistence configuration.
type StateConfig struct {
	// FilePath enables checkpointing to a bbolt file.
	FilePath string `json:"file_path,omitempty" yaml:"file_path,omitempty"`
	// Interval is the number of pages between checkpoints.
	Interval int `json:"interval" yaml:"interval"`
}

// OutputConfig defines additional report destinations.
type OutputConfig struct {
	// SQLitePath also stores each run in a SQLite database.
	SQLitePath string `json:"sqlite_path,omitempty" yaml:"sqlite_path,omitempty"`
}

// ExtractionConfig selects the built-in extraction strategies.
type ExtractionConfig struct {
	// Extractor is "default" or "product".
	Extractor string `json:"extractor" yaml:"extractor"`
	// Links is "script" or "html".
	Links string `json:"links" yaml:"links"`
	// PriorityPatterns move matching links to the front of each page's list.
	PriorityPatterns []string `json:"priority_patterns,omitempty" yaml:"priority_patterns,omitempty"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		MaxDepth:         3,
		MaxPages:         100,
		RequestInterval:  1.0,
		SettleDelayMs:    1000,
		RespectRobotsTxt: false,
		OutputDir:        "output",
		Screenshots:      true,
		Browser:          browser.DefaultConfig(),
		Identity: IdentityConfig{
			RotateEvery: rotation.DefaultThreshold,
		},
		State: StateConfig{
			Interval: 10,
		},
		Extraction: ExtractionConfig{
			Extractor: "default",
			Links:     "script",
		},
	}
}

// LoadFromFile loads configuration from a file (JSON or YAML). Fields the
// file omits keep their defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, crawlerrors.NewConfigurationError(path, "failed to read config file", err)
	}

	config, err := decodeConfig(path, data)
	if err != nil {
		return nil, crawlerrors.NewConfigurationError(path, "failed to parse config file", err)
	}
	return config, nil
}

// decodeConfig picks the decoder from the file extension. Other files are
// tried as YAML, then JSON.
func decodeConfig(path string, data []byte) (*Config, error) {
	config := DefaultConfig()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		if err := json.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("json: %w", err)
		}
		return config, nil
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("yaml: %w", err)
		}
		return config, nil
	}

	yamlErr := yaml.Unmarshal(data, config)
	if yamlErr == nil {
		return config, nil
	}
	config = DefaultConfig()
	if jsonErr := json.Unmarshal(data, config); jsonErr != nil {
		return nil, fmt.Errorf("yaml: %v; json: %w", yamlErr, jsonErr)
	}
	return config, nil
}

// SaveToFile saves configuration to a file. A .json extension selects JSON,
// anything else YAML.
func (c *Config) SaveToFile(path string) error {
	var data []byte
	var err error

	if strings.HasSuffix(strings.ToLower(path), ".json") {
		data, err = json.MarshalIndent(c, "", "  ")
	} else {
		data, err = yaml.Marshal(c)
	}

	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0644)
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.MaxDepth < 0 {
		return crawlerrors.NewConfigurationError("max_depth", "max depth must not be negative", nil)
	}

	if c.MaxPages < 1 {
		return crawlerrors.NewConfigurationError("max_pages", "max pages must be at least 1", nil)
	}

	if c.RequestInterval < 0 {
		return crawlerrors.NewConfigurationError("request_interval", "request interval must not be negative", nil)
	}

	if c.SettleDelayMs < 0 {
		return crawlerrors.NewConfigurationError("settle_delay_ms", "settle delay must not be negative", nil)
	}

	if err := c.Browser.Validate(); err != nil {
		return err
	}

	if c.Identity.RotateEvery < 0 {
		return crawlerrors.NewConfigurationError("identity.rotate_every", "rotation threshold must not be negative", nil)
	}

	if c.Identity.Proxy != nil && strings.TrimSpace(c.Identity.Proxy.Server) == "" {
		return crawlerrors.NewConfigurationError("identity.proxy", "proxy requires a server", nil)
	}

	if c.RateLimit.RequestsPerSecond < 0 || c.RateLimit.Burst < 0 {
		return crawlerrors.NewConfigurationError("rate_limit", "rate limit must not be negative", nil)
	}

	if c.State.Interval < 0 {
		return crawlerrors.NewConfigurationError("state.interval", "checkpoint interval must not be negative", nil)
	}

	if _, err := extract.ByName(c.Extraction.Extractor); err != nil {
		return crawlerrors.NewConfigurationError("extraction.extractor", err.Error(), nil)
	}

	if _, err := extract.LinksByName(c.Extraction.Links, nil); err != nil {
		return crawlerrors.NewConfigurationError("extraction.links", err.Error(), nil)
	}

	return nil
}

// Budget returns the crawl budget.
func (c *Config) Budget() frontier.Budget {
	return frontier.Budget{MaxDepth: c.MaxDepth, MaxPages: c.MaxPages}
}

// SettleDelay returns the settle delay as a duration.
func (c *Config) SettleDelay() time.Duration {
	return time.Duration(c.SettleDelayMs) * time.Millisecond
}

// Clone creates a deep copy of the configuration.
func (c *Config) Clone() *Config {
	data, _ := json.Marshal(c)
	clone := &Config{}
	json.Unmarshal(data, clone)
	return clone
}

// ConfigFromCheckpoint returns the configuration a checkpointed run was
// started with. Checkpoints without one yield the defaults.
func ConfigFromCheckpoint(cp *state.Checkpoint) (*Config, error) {
	config := DefaultConfig()
	if cp == nil || len(cp.Config) == 0 {
		return config, nil
	}
	if err := json.Unmarshal(cp.Config, config); err != nil {
		return nil, crawlerrors.NewConfigurationError("state", "checkpoint holds an unreadable configuration", err)
	}
	return config, nil
}
