package config

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nestedConfig struct {
	Host    string        `env:"TEST_HOST" yaml:"host" default:"localhost"`
	Timeout time.Duration `env:"TEST_TIMEOUT" yaml:"timeout" default:"5s"`
}

type testConfig struct {
	Name    string        `env:"TEST_NAME" yaml:"name" default:"demo"`
	Port    int           `env:"TEST_PORT" yaml:"port" default:"8080"`
	Debug   bool          `env:"TEST_DEBUG" yaml:"debug"`
	Ratio   float64       `env:"TEST_RATIO" yaml:"ratio" default:"0.5"`
	Labels  []string      `env:"TEST_LABELS" yaml:"labels" default:"a,b"`
	Wait    time.Duration `env:"TEST_WAIT" yaml:"wait" default:"30s"`
	Nested  nestedConfig  `yaml:"nested"`
	Secret  string        `env:"TEST_SECRET" yaml:"secret" required:"true"`
}

func TestFromEnvDefaults(t *testing.T) {
	t.Setenv("TEST_SECRET", "s3cret")

	var cfg testConfig
	require.NoError(t, FromEnv(&cfg))

	assert.Equal(t, "demo", cfg.Name)
	assert.Equal(t, 8080, cfg.Port)
	assert.False(t, cfg.Debug)
	assert.Equal(t, 0.5, cfg.Ratio)
	assert.Equal(t, []string{"a", "b"}, cfg.Labels)
	assert.Equal(t, 30*time.Second, cfg.Wait)
	assert.Equal(t, "localhost", cfg.Nested.Host)
	assert.Equal(t, 5*time.Second, cfg.Nested.Timeout)
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("TEST_SECRET", "s3cret")
	t.Setenv("TEST_NAME", "prod")
	t.Setenv("TEST_PORT", "9090")
	t.Setenv("TEST_DEBUG", "true")
	t.Setenv("TEST_LABELS", "x, y ,z")
	t.Setenv("TEST_TIMEOUT", "250ms")

	var cfg testConfig
	require.NoError(t, FromEnv(&cfg))

	assert.Equal(t, "prod", cfg.Name)
	assert.Equal(t, 9090, cfg.Port)
	assert.True(t, cfg.Debug)
	assert.Equal(t, []string{"x", "y", "z"}, cfg.Labels)
	assert.Equal(t, 250*time.Millisecond, cfg.Nested.Timeout)
}

func TestFromEnvRequired(t *testing.T) {
	var cfg testConfig
	err := FromEnv(&cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TEST_SECRET")
}

func TestFromEnvInvalidValue(t *testing.T) {
	t.Setenv("TEST_SECRET", "s3cret")
	t.Setenv("TEST_PORT", "not-a-number")

	var cfg testConfig
	err := FromEnv(&cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TEST_PORT")
}

func TestLoadYAMLFile(t *testing.T) {
	t.Setenv("TEST_SECRET", "s3cret")

	path := filepath.Join(t.TempDir(), "config.yaml")
	content := "name: from-file\nport: 7070\nnested:\n  host: db.internal\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	var cfg testConfig
	require.NoError(t, Load(&cfg, path, false))

	assert.Equal(t, "from-file", cfg.Name)
	assert.Equal(t, 7070, cfg.Port)
	assert.Equal(t, "db.internal", cfg.Nested.Host)
	// Unset fields still pick up defaults.
	assert.Equal(t, 30*time.Second, cfg.Wait)
}

func TestLoadEnvWinsOverFile(t *testing.T) {
	t.Setenv("TEST_SECRET", "s3cret")
	t.Setenv("TEST_PORT", "9999")

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: 7070\n"), 0o600))

	var cfg testConfig
	require.NoError(t, Load(&cfg, path, false))
	assert.Equal(t, 9999, cfg.Port)
}

func TestLoadMissingFile(t *testing.T) {
	t.Setenv("TEST_SECRET", "s3cret")

	var cfg testConfig
	assert.Error(t, Load(&cfg, "/nonexistent/config.yaml", false))
	assert.NoError(t, Load(&cfg, "/nonexistent/config.yaml", true))
}

func ExampleLoad() {
	type serverConfig struct {
		Port int `env:"EXAMPLE_PORT" yaml:"port" default:"8080"`
	}
	var cfg serverConfig
	_ = Load(&cfg, "", false)
	fmt.Println(cfg.Port)
	// Output: 8080
}
