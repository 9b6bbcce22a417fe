package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	t.Parallel()
	c := Defaults()
	assert.Equal(t, ".capwire/index.db", c.Index.Database)
	assert.Equal(t, []string{"vendor", "testdata", "node_modules"}, c.Index.Exclude)
	assert.Equal(t, ".capwire/scripts", c.Resolve.Scripts)
	assert.Equal(t, "warn", c.Log.Level)
	assert.Equal(t, 300, c.Watch.DebounceMS)
}

func TestLoad_NoFile(t *testing.T) {
	dir := t.TempDir()
	c, err := Load(dir)
	require.NoError(t, err)
	assert.Empty(t, c.Path)
	assert.Equal(t, filepath.Join(dir, ".capwire", "index.db"), c.DatabasePath())
	assert.Equal(t, filepath.Join(dir, ".capwire", "scripts"), c.ScriptsDir())
}

func TestLoad_WalksUp(t *testing.T) {
	root := t.TempDir()
	nested := filepath.Join(root, "pkg", "shapes")
	require.NoError(t, os.MkdirAll(nested, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, FileName), []byte(`
[index]
database = "build/capwire.db"
workers = 2

[log]
level = "debug"
`), 0o644))

	c, err := Load(nested)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, FileName), c.Path)
	assert.Equal(t, root, c.Root)
	assert.Equal(t, filepath.Join(root, "build", "capwire.db"), c.DatabasePath())
	assert.Equal(t, 2, c.Index.Workers)
	assert.Equal(t, "debug", c.Log.Level)
	assert.Equal(t, 300, c.Watch.DebounceMS, "unset keys keep defaults")
}

func TestLoad_EnvOverride(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("CAPWIRE_LOG_LEVEL", "error")
	t.Setenv("CAPWIRE_INDEX_WORKERS", "7")

	c, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "error", c.Log.Level)
	assert.Equal(t, 7, c.Index.Workers)
}

func TestLoad_BadFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte("[index\n"), 0o644))
	_, err := Load(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config")
}

func TestCheckVersion(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name       string
		constraint string
		version    string
		wantErr    string
	}{
		{name: "no constraint", constraint: "", version: "0.1.0"},
		{name: "satisfied", constraint: ">= 0.1, < 1.0", version: "0.3.2"},
		{name: "too old", constraint: ">= 0.4", version: "0.3.2", wantErr: "requires capwire >= 0.4"},
		{name: "bad constraint", constraint: "banana", version: "0.3.2", wantErr: "invalid check.required_version"},
		{name: "bad version", constraint: ">= 0.1", version: "dev", wantErr: "invalid capwire version"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := Defaults()
			c.Check.RequiredVersion = tt.constraint
			err := c.CheckVersion(tt.version)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestExcluded(t *testing.T) {
	t.Parallel()
	c := Defaults()
	assert.True(t, c.Excluded("vendor"))
	assert.True(t, c.Excluded(".git"))
	assert.True(t, c.Excluded("_examples"))
	assert.False(t, c.Excluded("shapes"))
}

func TestWriteDefault(t *testing.T) {
	dir := t.TempDir()
	path, err := WriteDefault(dir, false)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, FileName), path)

	c, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, Defaults().Index, c.Index)
	assert.Equal(t, path, c.Path)

	_, err = WriteDefault(dir, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")

	_, err = WriteDefault(dir, true)
	require.NoError(t, err)
}
