package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
)

// Config is the full pincer configuration. Every field has a working
// default; an empty config file (or none at all) yields a usable setup.
type Config struct {
	// Runtime selects the container engine: "docker", "podman", or "auto"
	// (prefer podman, fall back to docker).
	Runtime string `json:"runtime,omitempty"`

	Sandbox SandboxConfig `json:"sandbox,omitempty"`
	Server  ServerConfig  `json:"server,omitempty"`
	Log     LogConfig     `json:"log,omitempty"`

	// Catalog is the path to the tool catalog YAML.
	Catalog string `json:"catalog,omitempty"`

	// Journal is the directory audit journals are written to.
	Journal string `json:"journal,omitempty"`

	// Approvals are patterns pre-approved for every session, e.g. a
	// standing "mcp:ping:*" for harmless reachability checks.
	Approvals []string `json:"approvals,omitempty"`
}

// SandboxConfig tunes the container manager.
type SandboxConfig struct {
	// MaxAttempts caps the retry loop around one tool call.
	MaxAttempts int `json:"maxAttempts,omitempty"`
	// RetryInitialInterval is the delay before the first retry.
	RetryInitialInterval Duration `json:"retryInitialInterval,omitempty"`
	// RetryMaxInterval caps the exponential backoff delay.
	RetryMaxInterval Duration `json:"retryMaxInterval,omitempty"`
	// CallTimeout bounds a single RPC attempt against a sandbox.
	CallTimeout Duration `json:"callTimeout,omitempty"`
	// IdleTimeout is how long a container may sit unused before the
	// sweeper stops it.
	IdleTimeout Duration `json:"idleTimeout,omitempty"`
	// SweepInterval is how often the idle sweeper runs.
	SweepInterval Duration `json:"sweepInterval,omitempty"`
	// AllowedImages restricts which images may be launched. Glob
	// patterns; empty means any image.
	AllowedImages []string `json:"allowedImages,omitempty"`
}

// ServerConfig configures the HTTP control API.
type ServerConfig struct {
	Port       int    `json:"port,omitempty"`
	Hostname   string `json:"hostname,omitempty"`
	EnableCORS bool   `json:"enableCORS,omitempty"`
}

// LogConfig configures logging output.
type LogConfig struct {
	Level  string `json:"level,omitempty"`
	Pretty bool   `json:"pretty,omitempty"`
}

// Duration unmarshals from either a JSON number of milliseconds or a Go
// duration string like "90s".
type Duration time.Duration

func (d *Duration) UnmarshalJSON(data []byte) error {
	var ms float64
	if err := json.Unmarshal(data, &ms); err == nil {
		*d = Duration(time.Duration(ms) * time.Millisecond)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Runtime: "auto",
		Sandbox: SandboxConfig{
			MaxAttempts:          3,
			RetryInitialInterval: Duration(time.Second),
			RetryMaxInterval:     Duration(30 * time.Second),
			CallTimeout:          Duration(5 * time.Minute),
			IdleTimeout:          Duration(10 * time.Minute),
			SweepInterval:        Duration(time.Minute),
		},
		Server: ServerConfig{
			Port:     4180,
			Hostname: "127.0.0.1",
		},
		Log: LogConfig{
			Level: "info",
		},
		Catalog: filepath.Join(GetPaths().Config, "tools.yaml"),
		Journal: filepath.Join(GetPaths().Data, "journal"),
	}
}

// Load builds the configuration: defaults, then the config file (the
// explicit path when given, otherwise the XDG location), then environment
// overrides. A missing file is fine; a present-but-broken file is an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv("PINCER_CONFIG")
	}
	explicit := path != ""
	if path == "" {
		path = filepath.Join(GetPaths().Config, "pincer.jsonc")
		if _, err := os.Stat(path); err != nil {
			path = filepath.Join(GetPaths().Config, "pincer.json")
		}
	}

	if err := loadFile(path, cfg); err != nil {
		if explicit || !os.IsNotExist(err) {
			return nil, fmt.Errorf("loading config %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

// loadFile merges one JSONC config file into cfg, applying {env:} and
// {file:} interpolation relative to the file's directory.
func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	data = jsonc.ToJSON(data)
	data = interpolate(data, filepath.Dir(path))

	return json.Unmarshal(data, cfg)
}

// interpolate processes {env:VAR} and {file:path} placeholders.
func interpolate(data []byte, baseDir string) []byte {
	str := string(data)

	envPattern := regexp.MustCompile(`\{env:([^}]+)\}`)
	str = envPattern.ReplaceAllStringFunc(str, func(match string) string {
		varName := envPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})

	filePattern := regexp.MustCompile(`\{file:([^}]+)\}`)
	str = filePattern.ReplaceAllStringFunc(str, func(match string) string {
		filePath := filePattern.FindStringSubmatch(match)[1]

		if strings.HasPrefix(filePath, "~/") {
			home := os.Getenv("HOME")
			filePath = filepath.Join(home, filePath[2:])
		} else if !filepath.IsAbs(filePath) {
			filePath = filepath.Join(baseDir, filePath)
		}

		content, err := os.ReadFile(filePath)
		if err != nil {
			return match // keep the placeholder if the file is missing
		}

		escaped := strings.ReplaceAll(strings.TrimRight(string(content), "\n"), "\\", "\\\\")
		escaped = strings.ReplaceAll(escaped, "\"", "\\\"")
		escaped = strings.ReplaceAll(escaped, "\n", "\\n")
		escaped = strings.ReplaceAll(escaped, "\r", "\\r")
		escaped = strings.ReplaceAll(escaped, "\t", "\\t")

		return escaped
	})

	return []byte(str)
}

// applyEnvOverrides applies PINCER_* environment variables on top of the
// file-derived configuration.
func applyEnvOverrides(cfg *Config) {
	if rt := os.Getenv("PINCER_RUNTIME"); rt != "" {
		cfg.Runtime = rt
	}
	if port := os.Getenv("PINCER_PORT"); port != "" {
		if n, err := strconv.Atoi(port); err == nil {
			cfg.Server.Port = n
		}
	}
	if host := os.Getenv("PINCER_HOSTNAME"); host != "" {
		cfg.Server.Hostname = host
	}
	if level := os.Getenv("PINCER_LOG_LEVEL"); level != "" {
		cfg.Log.Level = level
	}
	if catalog := os.Getenv("PINCER_CATALOG"); catalog != "" {
		cfg.Catalog = catalog
	}
	if journal := os.Getenv("PINCER_JOURNAL"); journal != "" {
		cfg.Journal = journal
	}
}

// Save writes the configuration to a file.
func Save(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0o644)
}
