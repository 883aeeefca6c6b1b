package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"
)

// DefaultEndpoint is the scan route of the recipe web app's dev server.
const DefaultEndpoint = "http://localhost:5000/"

// Config holds all configurable scanup settings.
type Config struct {
	Endpoint      string            `json:"endpoint"`
	Accept        string            `json:"accept"`  // picker filter, e.g. "image/*"
	Headers       map[string]string `json:"headers"` // sent with every submission
	Timeout       Duration          `json:"timeout"` // 0 = wait forever
	WatchDebounce Duration          `json:"watch_debounce"`
	StartDir      string            `json:"start_dir"` // where the file browser opens
}

// Duration is a time.Duration written as a string ("30s") in config files.
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("duration must be a string like \"30s\": %w", err)
	}
	if s == "" {
		*d = 0
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Defaults returns sensible default configuration values.
func Defaults() Config {
	return Config{
		Endpoint:      DefaultEndpoint,
		Accept:        "image/*",
		Headers:       map[string]string{},
		WatchDebounce: Duration(500 * time.Millisecond),
		StartDir:      ".",
	}
}

// GlobalPath returns ~/.config/scanup/config.json.
func GlobalPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "scanup", "config.json"), nil
}

// ProjectPath is the per-directory config file.
const ProjectPath = ".scanupconfig"

// LoadGlobal reads ~/.config/scanup/config.json.
// Returns defaults if the file is absent.
func LoadGlobal() (*Config, error) {
	path, err := GlobalPath()
	if err != nil {
		return nil, err
	}
	return loadFile(path, true)
}

// LoadProject reads .scanupconfig in the current working directory.
// Returns nil (no error) if the file is absent.
func LoadProject() (*Config, error) {
	return loadFile(ProjectPath, false)
}

// loadFile reads and parses a JSON config file at path.
// If returnDefaults is true, returns defaults when the file is absent.
// If returnDefaults is false, returns nil when the file is absent.
func loadFile(path string, returnDefaults bool) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			if returnDefaults {
				d := Defaults()
				return &d, nil
			}
			return nil, nil
		}
		return nil, err
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}
	return &cfg, nil
}

// Merge combines global and project configs, with project taking precedence.
// Missing keys fall back to global, then defaults. Headers merge per key.
func Merge(global, project *Config) Config {
	result := Defaults()
	apply(&result, global)
	apply(&result, project)
	return result
}

func apply(dst, src *Config) {
	if src == nil {
		return
	}
	if src.Endpoint != "" {
		dst.Endpoint = src.Endpoint
	}
	if src.Accept != "" {
		dst.Accept = src.Accept
	}
	if src.Timeout != 0 {
		dst.Timeout = src.Timeout
	}
	if src.WatchDebounce != 0 {
		dst.WatchDebounce = src.WatchDebounce
	}
	if src.StartDir != "" {
		dst.StartDir = src.StartDir
	}
	for k, v := range src.Headers {
		dst.Headers[k] = v
	}
}

// Validate checks that the endpoint is an absolute http(s) URL.
func (c Config) Validate() error {
	u, err := url.Parse(c.Endpoint)
	if err != nil {
		return fmt.Errorf("invalid endpoint %q: %w", c.Endpoint, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid endpoint %q: must be an absolute http(s) URL", c.Endpoint)
	}
	if c.Timeout < 0 {
		return fmt.Errorf("invalid timeout %s: must not be negative", c.Timeout.Std())
	}
	return nil
}

// ParseError is returned when a config file exists but cannot be parsed.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	return "failed to parse config file " + e.Path + ": " + e.Err.Error()
}

func (e *ParseError) Unwrap() error {
	return e.Err
}
