package webbridge

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
)

// defaultLoadTimeoutMS is the LoadUrlTimeoutValue preference default: how
// long a page load may run before the watchdog reports it failed. Zero or
// negative disables the watchdog.
const defaultLoadTimeoutMS = 20000

// Preferences is the typed, case-insensitive view of shell settings the
// bridge and plugins consult at runtime.
type Preferences struct {
	values map[string]string
}

func NewPreferences() *Preferences {
	return &Preferences{values: make(map[string]string)}
}

// Set stores a preference. Names are case-insensitive.
func (p *Preferences) Set(name, value string) {
	p.values[strings.ToLower(name)] = value
}

func (p *Preferences) String(name, def string) string {
	if v, ok := p.values[strings.ToLower(name)]; ok {
		return v
	}
	return def
}

func (p *Preferences) Int(name string, def int) int {
	v, ok := p.values[strings.ToLower(name)]
	if !ok {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return n
}

func (p *Preferences) Bool(name string, def bool) bool {
	v, ok := p.values[strings.ToLower(name)]
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return b
}

// Millis reads an integer preference expressed in milliseconds.
func (p *Preferences) Millis(name string, def int) time.Duration {
	return time.Duration(p.Int(name, def)) * time.Millisecond
}

// PluginSpec declares one plugin in the shell configuration. The host
// registers a factory for the service name; Onload instantiates it during
// Init instead of on first use.
type PluginSpec struct {
	Service string `yaml:"service"`
	Onload  bool   `yaml:"onload"`
}

// Config is the on-disk shell configuration.
type Config struct {
	// ContentSrc is the start page loaded by LoadStartURL.
	ContentSrc string `yaml:"content_src"`

	// Preferences holds free-form settings, looked up case-insensitively.
	// Recognized by the bridge itself: LoadUrlTimeoutValue (int ms, default
	// 20000, <=0 disables the load watchdog) and DisallowOverscroll (bool,
	// view-level, stored for the host).
	Preferences map[string]string `yaml:"preferences"`

	// AllowNavigation lists URL patterns permitted to load inside the view.
	AllowNavigation []string `yaml:"allow_navigation"`

	// AllowIntents lists URL patterns permitted to leave for the host's
	// external opener.
	AllowIntents []string `yaml:"allow_intents"`

	// Plugins declares the plugin services this shell uses.
	Plugins []PluginSpec `yaml:"plugins"`
}

// DefaultConfig returns a configuration with the blank sentinel as start
// page and no allow-list entries.
func DefaultConfig() *Config {
	return &Config{
		ContentSrc:  "about:blank",
		Preferences: map[string]string{},
	}
}

// LoadConfig reads a YAML configuration file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if cfg.ContentSrc == "" {
		cfg.ContentSrc = "about:blank"
	}
	return cfg, nil
}

// preferences builds the runtime view of the configured settings.
func (c *Config) preferences() *Preferences {
	p := NewPreferences()
	for k, v := range c.Preferences {
		p.Set(k, v)
	}
	return p
}
