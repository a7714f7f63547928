package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestLoad_FromRoot(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, FileName), "url: http://localhost:8080\nport: 8080\ntimeouts:\n  test: 10s\n")

	res, err := Load(dir, "")
	require.NoError(t, err)
	assert.Equal(t, dir, res.Root)
	assert.Equal(t, "http://localhost:8080", res.Config.URL())
	assert.Equal(t, 8080, res.Config.Port())
	assert.Equal(t, 10*time.Second, res.Config.Timeouts.TestTimeout())
	assert.Equal(t, filepath.Join(dir, FileName), res.Path)
}

func TestLoad_FromSubdirectory(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, FileName), "container: custom\n")

	sub := filepath.Join(root, "js", "src")
	require.NoError(t, os.MkdirAll(sub, 0o755))

	res, err := Load(sub, "")
	require.NoError(t, err)
	assert.Equal(t, root, res.Root)
	assert.Equal(t, "custom", res.Config.Container())
}

func TestLoad_NoConfigFile(t *testing.T) {
	dir := t.TempDir()

	res, err := Load(dir, "")
	require.NoError(t, err)
	assert.Equal(t, dir, res.Root, "fallback to workspace")
	assert.Empty(t, res.Path)
	assert.Equal(t, DefaultURL, res.Config.URL())
}

func TestLoad_ExplicitPath(t *testing.T) {
	dir := t.TempDir()
	other := filepath.Join(t.TempDir(), "pipeline.yaml")
	writeFile(t, other, "image: explicit-image\n")

	res, err := Load(dir, other)
	require.NoError(t, err)
	assert.Equal(t, dir, res.Root, "explicit file does not move the root")
	assert.Equal(t, "explicit-image", res.Config.Image())
}

func TestLoad_ExplicitMissingFile(t *testing.T) {
	dir := t.TempDir()

	res, err := Load(dir, filepath.Join(dir, "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultImage, res.Config.Image())
}

func TestLoad_Malformed(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, FileName), "url: [unterminated\n")

	_, err := Load(dir, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing")
}

func TestURL_MalformedFallsBack(t *testing.T) {
	for _, raw := range []string{"not a url", "localhost:3000", "://broken"} {
		cfg := &Config{RawURL: raw}
		assert.Equal(t, DefaultURL, cfg.URL(), "raw=%q", raw)
	}
}

func TestDefaults(t *testing.T) {
	cfg := Default()
	assert.Equal(t, DefaultImage, cfg.Image())
	assert.Equal(t, DefaultContainer, cfg.Container())
	assert.Equal(t, DefaultPort, cfg.Port())
	assert.Equal(t, DefaultNPMDir, cfg.NPMDir())
	assert.Equal(t, DefaultBuildContext, cfg.BuildContext())
	assert.Equal(t, DefaultStorageDir, cfg.StorageDir())
	assert.Equal(t, DefaultMaxOutput, cfg.MaxOutputBytes())
	assert.Equal(t, DefaultInstallTimeout, cfg.Timeouts.InstallTimeout())
	assert.Equal(t, DefaultTestTimeout, cfg.Timeouts.TestTimeout())
}

func TestPort_OutOfRange(t *testing.T) {
	cfg := &Config{RawPort: 70000}
	assert.Equal(t, DefaultPort, cfg.Port())
}

func TestTimeout_InvalidDuration(t *testing.T) {
	tc := TimeoutConfig{Speedtest: "soon", Demo: "-5s"}
	assert.Equal(t, DefaultSpeedtestTimeout, tc.SpeedtestTimeout())
	assert.Equal(t, DefaultDemoTimeout, tc.DemoTimeout())
}
