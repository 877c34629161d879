package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `version: "1"

mongo:
  default:
    uri: mongodb://localhost:27017/
    name: vigil
  reporting:
    uri: mongodb://reports.example.com:27017/
    name: vigil_reports
`

func TestParseValid(t *testing.T) {
	cfg, err := Parse([]byte(sampleConfig))
	require.NoError(t, err)
	assert.Equal(t, "1", cfg.Version)

	store, err := cfg.Store("")
	require.NoError(t, err)
	assert.Equal(t, "mongodb://localhost:27017/", store.URI)
	assert.Equal(t, "vigil", store.Name)

	store, err = cfg.Store("reporting")
	require.NoError(t, err)
	assert.Equal(t, "vigil_reports", store.Name)
}

func TestParseVersionErrors(t *testing.T) {
	_, err := Parse([]byte("mongo:\n  default:\n    uri: x\n"))
	assert.ErrorIs(t, err, ErrMissingVersion)

	_, err = Parse([]byte("version: \"42\"\n"))
	assert.ErrorIs(t, err, ErrUnsupportedVersion)
}

func TestParseUnquotedVersion(t *testing.T) {
	// YAML parses a bare 1 as an integer; it must still match.
	cfg, err := Parse([]byte("version: 1\nmongo:\n  default:\n    uri: x\n    name: y\n"))
	require.NoError(t, err)
	assert.Equal(t, "1", cfg.Version)
}

func TestParseMalformed(t *testing.T) {
	_, err := Parse([]byte("version: \"1\"\nmongo: [not: a map\n"))
	assert.Error(t, err)
}

func TestServiceLookupErrors(t *testing.T) {
	cfg, err := Parse([]byte(sampleConfig))
	require.NoError(t, err)

	_, err = cfg.Service("redis", "")
	assert.ErrorIs(t, err, ErrUnknownService)

	_, err = cfg.Service(ServiceMongo, "nope")
	assert.ErrorIs(t, err, ErrUnknownSection)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vigil.yml")
	require.NoError(t, os.WriteFile(path, []byte(sampleConfig), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "1", cfg.Version)

	_, err = Load(filepath.Join(dir, "missing.yml"))
	assert.Error(t, err)
}
