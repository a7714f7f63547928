// Package config loads and validates the optional config.yaml file.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// FileName is the configuration file looked up from the working directory
// upward.
const FileName = "config.yaml"

// Default values used when a field is absent or malformed.
const (
	DefaultURL          = "http://localhost:3000"
	DefaultImage        = "reader-app"
	DefaultContainer    = "reader-instance"
	DefaultPort         = 3000
	DefaultNPMDir       = "js"
	DefaultBuildContext = "."
	DefaultStorageDir   = "storage"
	DefaultMaxOutput    = 64 << 20 // 64 MB
)

// Default step timeouts.
const (
	DefaultInstallTimeout     = 300 * time.Second
	DefaultTestTimeout        = 45 * time.Second
	DefaultBuildTimeout       = 60 * time.Second
	DefaultDockerBuildTimeout = 300 * time.Second
	DefaultDockerRunTimeout   = 30 * time.Second
	DefaultPyrightTimeout     = 30 * time.Second
	DefaultDemoTimeout        = 30 * time.Second
	DefaultSpeedtestTimeout   = 60 * time.Second
)

// Config holds the parsed config.yaml.
// All fields are optional; zero values represent defaults.
type Config struct {
	RawURL       string        `yaml:"url"`
	RawImage     string        `yaml:"image"`
	RawContainer string        `yaml:"container"`
	RawPort      int           `yaml:"port"`
	RawNPMDir    string        `yaml:"npm_dir"`
	RawContext   string        `yaml:"build_context"`
	RawStorage   string        `yaml:"storage_dir"`
	RawMaxOutput int           `yaml:"max_output"` // bytes
	LogPrefix    string        `yaml:"log_prefix"`
	Timeouts     TimeoutConfig `yaml:"timeouts"`
}

// TimeoutConfig overrides per-step timeouts, e.g. "45s", "5m".
type TimeoutConfig struct {
	Install     string `yaml:"install"`
	Test        string `yaml:"test"`
	Build       string `yaml:"build"`
	DockerBuild string `yaml:"docker_build"`
	DockerRun   string `yaml:"docker_run"`
	Pyright     string `yaml:"pyright"`
	Demo        string `yaml:"demo"`
	Speedtest   string `yaml:"speedtest"`
}

// URL returns the post-success URL. A missing or malformed value falls back
// to DefaultURL.
func (c *Config) URL() string {
	if c.RawURL == "" {
		return DefaultURL
	}
	u, err := url.Parse(c.RawURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return DefaultURL
	}
	return c.RawURL
}

// Image returns the container image name.
func (c *Config) Image() string {
	return orDefault(c.RawImage, DefaultImage)
}

// Container returns the fixed container name.
func (c *Config) Container() string {
	return orDefault(c.RawContainer, DefaultContainer)
}

// Port returns the port published by the service container.
func (c *Config) Port() int {
	if c.RawPort > 0 && c.RawPort <= 65535 {
		return c.RawPort
	}
	return DefaultPort
}

// NPMDir returns the package manager working directory.
func (c *Config) NPMDir() string {
	return orDefault(c.RawNPMDir, DefaultNPMDir)
}

// BuildContext returns the container build context directory.
func (c *Config) BuildContext() string {
	return orDefault(c.RawContext, DefaultBuildContext)
}

// StorageDir returns the host directory mounted into the container.
func (c *Config) StorageDir() string {
	return orDefault(c.RawStorage, DefaultStorageDir)
}

// MaxOutputBytes returns the configured max captured output or the default.
func (c *Config) MaxOutputBytes() int {
	if c.RawMaxOutput > 0 {
		return c.RawMaxOutput
	}
	return DefaultMaxOutput
}

// InstallTimeout bounds the dependency install.
func (t TimeoutConfig) InstallTimeout() time.Duration {
	return parseDuration(t.Install, DefaultInstallTimeout)
}

// TestTimeout bounds the test run. Kept tight to catch hangs.
func (t TimeoutConfig) TestTimeout() time.Duration {
	return parseDuration(t.Test, DefaultTestTimeout)
}

// BuildTimeout bounds the TypeScript build.
func (t TimeoutConfig) BuildTimeout() time.Duration {
	return parseDuration(t.Build, DefaultBuildTimeout)
}

// DockerBuildTimeout bounds the image build.
func (t TimeoutConfig) DockerBuildTimeout() time.Duration {
	return parseDuration(t.DockerBuild, DefaultDockerBuildTimeout)
}

// DockerRunTimeout bounds the detached container start.
func (t TimeoutConfig) DockerRunTimeout() time.Duration {
	return parseDuration(t.DockerRun, DefaultDockerRunTimeout)
}

// PyrightTimeout bounds the type checker.
func (t TimeoutConfig) PyrightTimeout() time.Duration {
	return parseDuration(t.Pyright, DefaultPyrightTimeout)
}

// DemoTimeout bounds the integration demo script.
func (t TimeoutConfig) DemoTimeout() time.Duration {
	return parseDuration(t.Demo, DefaultDemoTimeout)
}

// SpeedtestTimeout bounds the performance script.
func (t TimeoutConfig) SpeedtestTimeout() time.Duration {
	return parseDuration(t.Speedtest, DefaultSpeedtestTimeout)
}

func parseDuration(raw string, def time.Duration) time.Duration {
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// LoadResult holds the parsed config and the discovered project root.
type LoadResult struct {
	Config *Config
	Root   string // directory containing the config file; falls back to workspace
	Path   string // config file that was read, empty when none was found
}

// Load reads the configuration. When explicit is non-empty that file is read
// directly and the workspace stays the root. Otherwise the project root is
// discovered by walking upward from workspace looking for config.yaml. If no
// file exists, a default Config is returned.
//
// A malformed file returns an error; callers fall back to Default.
func Load(workspace, explicit string) (*LoadResult, error) {
	path := explicit
	root := workspace
	if path == "" {
		found, err := findConfig(workspace)
		if err != nil {
			return &LoadResult{Config: &Config{}, Root: workspace}, nil
		}
		path = found
	}
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	if explicit == "" {
		root = filepath.Dir(path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &LoadResult{Config: &Config{}, Root: root}, nil
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return &LoadResult{Config: cfg, Root: root, Path: path}, nil
}

// Default returns an all-defaults configuration.
func Default() *Config {
	return &Config{}
}

// findConfig walks upward from dir looking for a directory containing
// config.yaml.
func findConfig(dir string) (string, error) {
	dir, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	for {
		candidate := filepath.Join(dir, FileName)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("%s not found", FileName)
		}
		dir = parent
	}
}
