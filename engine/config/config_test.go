package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/lumen/engine/core"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	assert.NoError(t, Default().Validate())
}

func TestLoadTOML(t *testing.T) {
	path := writeFile(t, "lumen.toml", `
[renderer]
backend = "headless"
frames_in_flight = 3
shadow_policy = "one-frame-lag"

[renderer.post_process]
exposure = 2.0
bloom_iterations = 0

[logging]
level = "debug"
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, BackendHeadless, cfg.Renderer.Backend)
	assert.Equal(t, uint32(3), cfg.Renderer.FramesInFlight)
	assert.Equal(t, ShadowPolicyOneFrameLag, cfg.Renderer.ShadowPolicy)
	assert.Equal(t, float32(2.0), cfg.Renderer.PostProcess.Exposure)
	assert.Equal(t, uint32(0), cfg.Renderer.PostProcess.BloomIterations)
	// untouched fields keep their defaults
	assert.Equal(t, float32(2.2), cfg.Renderer.PostProcess.Gamma)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, "lumen.yaml", `
renderer:
  backend: headless
  width: 64
  height: 32
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, uint32(64), cfg.Renderer.Width)
	assert.Equal(t, uint32(32), cfg.Renderer.Height)
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := writeFile(t, "lumen.toml", "[renderer]\nframes = 2\n")
	_, err := Load(path)
	assert.True(t, errors.Is(err, core.ErrInvalidConfig))
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"zero frames", func(c *Config) { c.Renderer.FramesInFlight = 0 }},
		{"too many frames", func(c *Config) { c.Renderer.FramesInFlight = 4 }},
		{"lag with one frame", func(c *Config) {
			c.Renderer.FramesInFlight = 1
			c.Renderer.ShadowPolicy = ShadowPolicyOneFrameLag
		}},
		{"unknown policy", func(c *Config) { c.Renderer.ShadowPolicy = "never" }},
		{"unknown backend", func(c *Config) { c.Renderer.Backend = "metal" }},
		{"zero gamma", func(c *Config) { c.Renderer.PostProcess.Gamma = 0 }},
		{"negative exposure", func(c *Config) { c.Renderer.PostProcess.Exposure = -1 }},
		{"too much bloom", func(c *Config) { c.Renderer.PostProcess.BloomIterations = 17 }},
		{"empty extent", func(c *Config) { c.Renderer.Width = 0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			assert.True(t, errors.Is(cfg.Validate(), core.ErrInvalidConfig))
		})
	}
}

func TestWatchDeliversTunables(t *testing.T) {
	path := writeFile(t, "lumen.toml", "[renderer.post_process]\nexposure = 1.0\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan PostProcessConfig, 4)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, path, func(p PostProcessConfig) {
			select {
			case got <- p:
			default:
			}
		})
	}()

	// give the watcher time to register before writing
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("[renderer.post_process]\nexposure = 3.5\n"), 0o644))

	select {
	case p := <-got:
		assert.Equal(t, float32(3.5), p.Exposure)
	case <-time.After(5 * time.Second):
		t.Fatal("no tunables delivered")
	}

	cancel()
	require.NoError(t, <-done)
}
