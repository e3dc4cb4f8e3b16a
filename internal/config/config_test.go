package config

import (
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func env(vars map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := vars[k]
		return v, ok
	}
}

func TestLoadYAML(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/etc/treesync.yaml", []byte(`
manifest_url: https://cdn.example/game/manifest.json
target_dir: /srv/game
log_level: debug
download:
  segment_size: 4MiB
  rate_limit: 512KB
  retries: 5
  read_timeout: 15s
`), 0o644))

	cfg, err := Load(fs, "/etc/treesync.yaml")
	require.NoError(t, err)

	assert.Equal(t, "https://cdn.example/game/manifest.json", cfg.ManifestURL)
	assert.Equal(t, "/srv/game", cfg.TargetDir)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "4MiB", cfg.Download.SegmentSize)
	assert.Equal(t, 5, cfg.Download.Retries)
	assert.Equal(t, 15*time.Second, cfg.Download.ReadTimeout)
	// untouched defaults survive
	assert.Equal(t, "8KiB", cfg.Download.BlockSize)

	opts, err := cfg.EngineOptions()
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example/game/", opts.BaseURL)
	assert.Equal(t, int64(4<<20), opts.Download.SegmentSize)
	assert.Equal(t, 8<<10, opts.Download.BlockSize)
	assert.Equal(t, int64(512<<10), opts.Download.RateLimit)
	assert.Equal(t, 64<<10, opts.HashBlockSize)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(afero.NewMemMapFs(), "/nope.yaml")
	require.Error(t, err)
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	err := cfg.ApplyEnv(env(map[string]string{
		"TREESYNC_MANIFEST_URL": "http://mirror/m.yaml",
		"TREESYNC_BASE_URL":     "http://files/",
		"TREESYNC_RETRIES":      "7",
		"TREESYNC_RETRY_DELAY":  "2s",
		"TREESYNC_RATE_LIMIT":   "1MiB",
	}))
	require.NoError(t, err)

	assert.Equal(t, "http://mirror/m.yaml", cfg.ManifestURL)
	assert.Equal(t, 7, cfg.Download.Retries)
	assert.Equal(t, 2*time.Second, cfg.Download.RetryDelay)

	opts, err := cfg.EngineOptions()
	require.NoError(t, err)
	assert.Equal(t, "http://files/", opts.BaseURL)
	assert.Equal(t, int64(1<<20), opts.Download.RateLimit)
}

func TestApplyEnvRejectsBadValues(t *testing.T) {
	cfg := Default()
	require.Error(t, cfg.ApplyEnv(env(map[string]string{"TREESYNC_RETRIES": "many"})))

	cfg = Default()
	require.Error(t, cfg.ApplyEnv(env(map[string]string{"TREESYNC_READ_TIMEOUT": "soon"})))
}

func TestValidate(t *testing.T) {
	valid := Default()
	valid.ManifestURL = "http://mirror/manifest.json"
	require.NoError(t, valid.Validate())

	cases := map[string]func(c *Config){
		"no manifest":    func(c *Config) { c.ManifestURL = "" },
		"ftp manifest":   func(c *Config) { c.ManifestURL = "ftp://mirror/m.json" },
		"bad base":       func(c *Config) { c.BaseURL = "mirror/files" },
		"no target":      func(c *Config) { c.TargetDir = "" },
		"zero retries":   func(c *Config) { c.Download.Retries = 0 },
		"bad segment":    func(c *Config) { c.Download.SegmentSize = "lots" },
		"empty block":    func(c *Config) { c.Download.BlockSize = "" },
		"bad rate limit": func(c *Config) { c.Download.RateLimit = "fast" },
	}

	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := valid
			mutate(&c)
			assert.Error(t, c.Validate())
			_, err := c.EngineOptions()
			assert.Error(t, err)
		})
	}
}

func TestDefaultBaseURL(t *testing.T) {
	assert.Equal(t, "http://h/a/b/", DefaultBaseURL("http://h/a/b/manifest.json?sig=1"))
	assert.Equal(t, "http://h/", DefaultBaseURL("http://h/manifest.json"))
}

func TestStatusTargets(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/treesync.yaml", []byte(`
status:
  targets:
    - auth=login.example:3724
    - world=game.example:8085
  interval: 10s
`), 0o644))

	cfg, err := Load(fs, "/treesync.yaml")
	require.NoError(t, err)
	assert.Equal(t, 10*time.Second, cfg.Status.Interval)
	assert.Equal(t, 2*time.Second, cfg.Status.Timeout)

	targets, err := cfg.HealthTargets()
	require.NoError(t, err)
	require.Len(t, targets, 2)
	assert.Equal(t, "auth", targets[0].Name)
	assert.Equal(t, "game.example:8085", targets[1].Addr)

	require.NoError(t, cfg.ApplyEnv(env(map[string]string{
		"TREESYNC_STATUS_TARGETS": "127.0.0.1:3724, ",
		"TREESYNC_STATUS_TIMEOUT": "500ms",
	})))
	targets, err = cfg.HealthTargets()
	require.NoError(t, err)
	require.Len(t, targets, 1)
	assert.Equal(t, "127.0.0.1:3724", targets[0].Name)
	assert.Equal(t, 500*time.Millisecond, cfg.Status.Timeout)

	cfg.Status.Targets = nil
	_, err = cfg.HealthTargets()
	require.Error(t, err)

	cfg.Status.Targets = []string{"auth=nohost"}
	_, err = cfg.HealthTargets()
	require.Error(t, err)
}
