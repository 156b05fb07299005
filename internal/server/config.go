package server

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all dashboard configuration.
type Config struct {
	mu sync.RWMutex

	// Controller link and what to poll
	ECU ECUConfig `yaml:"ecu" json:"ecu"`

	// Display preferences
	Display DisplayConfig `yaml:"display" json:"display"`

	// CSV logging
	Logging LoggingConfig `yaml:"logging" json:"logging"`

	// Sample history
	Store StoreConfig `yaml:"store" json:"store"`

	// Server
	Server ServerConfig `yaml:"server" json:"server"`

	path string // file path for save/load
}

type ECUConfig struct {
	Type        string   `yaml:"type" json:"type"`               // "serial" or "fixture"
	PortPath    string   `yaml:"port_path" json:"portPath"`      // e.g. /dev/ttyUSB0
	BaudRate    int      `yaml:"baud_rate" json:"baudRate"`
	Framing     string   `yaml:"framing" json:"framing"`         // "envelope" or "raw"
	TimeoutMs   int      `yaml:"timeout_ms" json:"timeoutMs"`    // reply timeout
	PollHz      int      `yaml:"poll_hz" json:"pollHz"`          // poll cycles per second
	Fixture     string   `yaml:"fixture" json:"fixture"`         // captured pairs, empty for built-in
	Definitions string   `yaml:"definitions" json:"definitions"` // .ec2 or exported .json
	Variables   []string `yaml:"variables" json:"variables"`     // follow list
}

// Timeout returns the reply timeout as a duration.
func (e ECUConfig) Timeout() time.Duration {
	return time.Duration(e.TimeoutMs) * time.Millisecond
}

// Interval returns the time between poll cycles.
func (e ECUConfig) Interval() time.Duration {
	hz := e.PollHz
	if hz <= 0 {
		hz = 10
	}
	return time.Second / time.Duration(hz)
}

type DisplayConfig struct {
	Precision int           `yaml:"precision" json:"precision"` // decimals shown when a scale has none
	Alerts    []AlertConfig `yaml:"alerts" json:"alerts"`
}

// AlertConfig flags a variable outside [Low, High]. A bound equal to the
// other disables the check.
type AlertConfig struct {
	Variable string  `yaml:"variable" json:"variable"`
	Low      float64 `yaml:"low" json:"low"`
	High     float64 `yaml:"high" json:"high"`
}

type LoggingConfig struct {
	Enabled  bool   `yaml:"enabled" json:"enabled"`
	Path     string `yaml:"path" json:"path"`
	Interval int    `yaml:"interval_ms" json:"intervalMs"` // ms between log entries
}

type StoreConfig struct {
	Enabled    bool   `yaml:"enabled" json:"enabled"`
	Path       string `yaml:"path" json:"path"`               // sqlite file
	RetainDays int    `yaml:"retain_days" json:"retainDays"` // 0 keeps everything
}

type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr" json:"listenAddr"`
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		ECU: ECUConfig{
			Type:        "fixture",
			PortPath:    "/dev/ttyUSB0",
			BaudRate:    115200,
			Framing:     "envelope",
			TimeoutMs:   500,
			PollHz:      10,
			Definitions: "/etc/mbe-dash/9A4be52a.ec2",
			Variables: []string{
				"RT_ENGINESPEED",
				"RT_COOLANTTEMP1(LIM)",
				"RT_AIRTEMP1(LIM)",
				"RT_BATTERYVOLTAGE(LIM)",
				"RT_THROTTLESITE1",
			},
		},
		Display: DisplayConfig{
			Precision: 2,
			Alerts: []AlertConfig{
				{Variable: "RT_COOLANTTEMP1(LIM)", Low: -40, High: 105},
				{Variable: "RT_BATTERYVOLTAGE(LIM)", Low: 12.0, High: 15.5},
			},
		},
		Logging: LoggingConfig{
			Enabled:  false,
			Path:     "/var/log/mbe-dash",
			Interval: 100,
		},
		Store: StoreConfig{
			Enabled:    false,
			Path:       "/var/lib/mbe-dash/samples.db",
			RetainDays: 7,
		},
		Server: ServerConfig{
			ListenAddr: ":8080",
		},
	}
}

// LoadConfig reads config from a YAML file, then applies .env and environment
// variable overrides. Falls back to defaults if YAML not found.
func LoadConfig(path string) *Config {
	cfg := DefaultConfig()
	cfg.path = path

	data, err := os.ReadFile(path)
	if err != nil {
		log.Printf("[config] no config at %s, using defaults", path)
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		log.Printf("[config] error parsing %s: %v, using defaults", path, err)
		cfg = DefaultConfig()
		cfg.path = path
	} else {
		log.Printf("[config] loaded from %s", path)
	}

	// Load .env file from the same directory as the config, or from CWD
	for _, ep := range []string{filepath.Join(filepath.Dir(path), ".env"), ".env"} {
		loadEnvFile(ep)
	}

	cfg.applyEnvOverrides()
	return cfg
}

// loadEnvFile reads a simple KEY=VALUE .env file and sets os env vars.
func loadEnvFile(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	log.Printf("[config] loading .env from %s", path)
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, val, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		val = strings.Trim(strings.TrimSpace(val), `"'`)
		// Real env takes precedence
		if os.Getenv(key) == "" {
			os.Setenv(key, val)
		}
	}
}

// applyEnvOverrides reads environment variables and overrides config values.
// Supported: ECU_TYPE, ECU_PORT, ECU_BAUD, ECU_FRAMING, ECU_POLL_HZ,
// ECU_DEFINITIONS, ECU_VARIABLES (comma separated), ECU_FIXTURE, LISTEN_ADDR,
// LOG_ENABLED, LOG_PATH, LOG_INTERVAL_MS, STORE_ENABLED, STORE_PATH
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("ECU_TYPE"); v != "" {
		c.ECU.Type = v
	}
	if v := os.Getenv("ECU_PORT"); v != "" {
		c.ECU.PortPath = v
	}
	if v := os.Getenv("ECU_BAUD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.ECU.BaudRate = n
		}
	}
	if v := os.Getenv("ECU_FRAMING"); v != "" {
		c.ECU.Framing = v
	}
	if v := os.Getenv("ECU_POLL_HZ"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.ECU.PollHz = n
		}
	}
	if v := os.Getenv("ECU_DEFINITIONS"); v != "" {
		c.ECU.Definitions = v
	}
	if v := os.Getenv("ECU_VARIABLES"); v != "" {
		c.ECU.Variables = splitList(v)
	}
	if v := os.Getenv("ECU_FIXTURE"); v != "" {
		c.ECU.Fixture = v
	}
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		c.Server.ListenAddr = v
	}
	// Logging
	if v := os.Getenv("LOG_ENABLED"); v != "" {
		c.Logging.Enabled = isTrue(v)
	}
	if v := os.Getenv("LOG_PATH"); v != "" {
		c.Logging.Path = v
	}
	if v := os.Getenv("LOG_INTERVAL_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Logging.Interval = n
		}
	}
	// Store
	if v := os.Getenv("STORE_ENABLED"); v != "" {
		c.Store.Enabled = isTrue(v)
	}
	if v := os.Getenv("STORE_PATH"); v != "" {
		c.Store.Path = v
	}
}

func isTrue(v string) bool { return v == "1" || v == "true" || v == "yes" }

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Save writes the config to its YAML file.
func (c *Config) Save() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.path == "" {
		c.path = "/etc/mbe-dash/config.yaml"
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(c.path, data, 0644)
}

// ToJSON serializes config for the API.
func (c *Config) ToJSON() ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return json.Marshal(c)
}

// DisplaySnapshot returns a copy of the display settings.
func (c *Config) DisplaySnapshot() DisplayConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d := c.Display
	d.Alerts = append([]AlertConfig(nil), c.Display.Alerts...)
	return d
}

// StoreSnapshot returns a copy of the history store settings.
func (c *Config) StoreSnapshot() StoreConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Store
}

// UpdateFromJSON applies a partial JSON config update by deep-merging
// incoming fields into the existing config. Fields not present in the
// incoming JSON are preserved.
func (c *Config) UpdateFromJSON(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	currentBytes, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal current config: %w", err)
	}
	var base map[string]interface{}
	if err := json.Unmarshal(currentBytes, &base); err != nil {
		return fmt.Errorf("unmarshal current config: %w", err)
	}

	var patch map[string]interface{}
	if err := json.Unmarshal(data, &patch); err != nil {
		return fmt.Errorf("unmarshal patch: %w", err)
	}

	deepMerge(base, patch)

	merged, err := json.Marshal(base)
	if err != nil {
		return fmt.Errorf("marshal merged config: %w", err)
	}
	return json.Unmarshal(merged, c)
}

// deepMerge recursively merges src into dst. For nested maps, values are
// merged rather than replaced. For all other types, src overwrites dst.
func deepMerge(dst, src map[string]interface{}) {
	for key, srcVal := range src {
		if srcMap, ok := srcVal.(map[string]interface{}); ok {
			if dstMap, ok := dst[key].(map[string]interface{}); ok {
				deepMerge(dstMap, srcMap)
				continue
			}
		}
		dst[key] = srcVal
	}
}
