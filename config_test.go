package dov_fixtures

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// inTempDir runs the test from an empty directory so no dov-fixtures.yaml
// gets picked up by accident.
func inTempDir(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()
	original, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(original) })

	for _, name := range []string{"DOV_FIXTURES_BASE_URL", "PYDOV_BASE_URL", "DOV_FIXTURES_OUTPUT_DIR", "DOV_FIXTURES_TIMEOUT", "DOV_FIXTURES_RATE"} {
		t.Setenv(name, "")
	}

	return dir
}

func TestLoadConfig_Defaults(t *testing.T) {
	inTempDir(t)

	cfg, err := LoadConfig(NewViper())

	require.NoError(t, err)
	assert.Equal(t, DefaultBaseURL, cfg.BaseURL)
	assert.Equal(t, filepath.Join("tests", "data"), cfg.OutputDir)
	assert.Equal(t, time.Minute, cfg.Timeout)
	assert.Equal(t, 5.0, cfg.Rate)
	assert.Equal(t, defaultUserAgent, cfg.UserAgent)
	assert.False(t, cfg.NoHistory)
}

func TestLoadConfig_Environment(t *testing.T) {
	inTempDir(t)
	t.Setenv("DOV_FIXTURES_OUTPUT_DIR", "fixtures")
	t.Setenv("DOV_FIXTURES_TIMEOUT", "30s")
	t.Setenv("DOV_FIXTURES_RATE", "0")

	cfg, err := LoadConfig(NewViper())

	require.NoError(t, err)
	assert.Equal(t, "fixtures", cfg.OutputDir)
	assert.Equal(t, 30*time.Second, cfg.Timeout)
	assert.Equal(t, 0.0, cfg.Rate)
}

func TestLoadConfig_PydovBaseURL(t *testing.T) {
	inTempDir(t)
	t.Setenv("PYDOV_BASE_URL", "http://localhost:8080/dov")

	cfg, err := LoadConfig(NewViper())

	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080/dov/", cfg.BaseURL)
}

func TestLoadConfig_OwnVariableWins(t *testing.T) {
	inTempDir(t)
	t.Setenv("PYDOV_BASE_URL", "http://pydov.example/")
	t.Setenv("DOV_FIXTURES_BASE_URL", "http://fixtures.example/")

	cfg, err := LoadConfig(NewViper())

	require.NoError(t, err)
	assert.Equal(t, "http://fixtures.example/", cfg.BaseURL)
}

func TestLoadConfig_File(t *testing.T) {
	dir := inTempDir(t)
	raw := "base-url: https://staging.example/\noutput-dir: out\nno-history: true\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "dov-fixtures.yaml"), []byte(raw), 0644))

	cfg, err := LoadConfig(NewViper())

	require.NoError(t, err)
	assert.Equal(t, "https://staging.example/", cfg.BaseURL)
	assert.Equal(t, "out", cfg.OutputDir)
	assert.True(t, cfg.NoHistory)
}

func TestLoadConfig_InvalidBaseURL(t *testing.T) {
	inTempDir(t)
	t.Setenv("DOV_FIXTURES_BASE_URL", "ftp://files.example/")

	_, err := LoadConfig(NewViper())

	assert.ErrorContains(t, err, "invalid base URL")
}

func TestLoadConfig_NegativeRate(t *testing.T) {
	inTempDir(t)
	t.Setenv("DOV_FIXTURES_RATE", "-1")

	_, err := LoadConfig(NewViper())

	assert.Error(t, err)
}

func TestConfig_Table(t *testing.T) {
	table, err := Config{}.Table()
	require.NoError(t, err)
	assert.NotEmpty(t, table.Datasets)

	_, err = Config{Datasets: filepath.Join(t.TempDir(), "missing.yaml")}.Table()
	assert.Error(t, err)
}
