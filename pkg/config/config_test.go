package config

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mprslicer/pkg/volume"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "mpr", cfg.Loader.Scheme)
	assert.Equal(t, 65536, cfg.Loader.HeaderBytes)
	assert.True(t, cfg.Loader.UseRangeRead)
	assert.Equal(t, runtime.NumCPU(), cfg.Processing.NumCores)
	assert.Equal(t, 32<<20, cfg.Cache.MetaDataBytes)

	mode, err := cfg.InterpolationMode()
	require.NoError(t, err)
	assert.Equal(t, volume.Trilinear, mode)
}

func TestLoadConfigMissingFile(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Loader, cfg.Loader)
}

func TestLoadConfigYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
loader:
  headers:
    Authorization: Bearer abc
  useRangeRead: false
processing:
  numCores: 3
  interpolation: nearest
server:
  corsOrigins: [http://viewer.test]
logging:
  logfile: /tmp/mpr.log
  verbose: true
`), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "mpr", cfg.Loader.Scheme, "defaults kept for absent keys")
	assert.Equal(t, "Bearer abc", cfg.Loader.Headers["Authorization"])
	assert.False(t, cfg.Loader.UseRangeRead)
	assert.Equal(t, 3, cfg.Processing.NumCores)
	assert.Equal(t, []string{"http://viewer.test"}, cfg.Server.CORSOrigins)
	assert.Equal(t, "/tmp/mpr.log", cfg.Logging.Logfile)
	assert.True(t, cfg.Logging.Verbose)

	mode, err := cfg.InterpolationMode()
	require.NoError(t, err)
	assert.Equal(t, volume.Nearest, mode)
}

func TestLoadConfigTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[loader]
scheme = "vol"
header_bytes = 4096

[loader.headers]
X-Token = "t"

[cache]
metadata_bytes = 1048576

[logging]
logfile = "mpr.log"
max_log_size = 10
`), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "vol", cfg.Loader.Scheme)
	assert.Equal(t, 4096, cfg.Loader.HeaderBytes)
	assert.Equal(t, "t", cfg.Loader.Headers["X-Token"])
	assert.Equal(t, 1<<20, cfg.Cache.MetaDataBytes)
	assert.Equal(t, 10, cfg.Logging.MaxSize)
	assert.Equal(t, 30, cfg.Logging.MaxAge)
}

func TestLoadConfigInvalid(t *testing.T) {
	dir := t.TempDir()

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("processing: [1, 2"), 0644))
	_, err := LoadConfig(bad)
	assert.Error(t, err)

	interp := filepath.Join(dir, "interp.yaml")
	require.NoError(t, os.WriteFile(interp, []byte("processing:\n  interpolation: cubic\n"), 0644))
	_, err = LoadConfig(interp)
	assert.Error(t, err)

	small := filepath.Join(dir, "small.yaml")
	require.NoError(t, os.WriteFile(small, []byte("cache:\n  metaDataBytes: 524288\n"), 0644))
	_, err = LoadConfig(small)
	assert.Error(t, err)

	scheme := filepath.Join(dir, "scheme.toml")
	require.NoError(t, os.WriteFile(scheme, []byte("[loader]\nscheme = \"\"\n"), 0644))
	_, err = LoadConfig(scheme)
	assert.Error(t, err)
}

func TestSaveAndLoadConfig(t *testing.T) {
	for _, name := range []string{"nested/config.yaml", "nested/config.toml"} {
		t.Run(filepath.Ext(name), func(t *testing.T) {
			path := filepath.Join(t.TempDir(), name)

			cfg := DefaultConfig()
			cfg.Processing.NumCores = 5
			cfg.Loader.Headers["Authorization"] = "Bearer xyz"
			cfg.Server.Address = ":9000"
			require.NoError(t, SaveConfig(cfg, path))

			loaded, err := LoadConfig(path)
			require.NoError(t, err)
			assert.Equal(t, 5, loaded.Processing.NumCores)
			assert.Equal(t, "Bearer xyz", loaded.Loader.Headers["Authorization"])
			assert.Equal(t, ":9000", loaded.Server.Address)
			assert.Equal(t, cfg.Loader.HeaderBytes, loaded.Loader.HeaderBytes)
		})
	}
}

func TestCreateDefaultConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, CreateDefaultConfigFile(path))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Processing, cfg.Processing)
}
