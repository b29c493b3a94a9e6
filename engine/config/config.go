package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/spaghettifunk/lumen/engine/core"
)

type ShadowPolicy string

const (
	// Material samples the shadow map written earlier in the same frame.
	ShadowPolicySameFrame ShadowPolicy = "same-frame"
	// Material samples the shadow map written by the previous frame.
	ShadowPolicyOneFrameLag ShadowPolicy = "one-frame-lag"
)

const (
	BackendVulkan   = "vulkan"
	BackendHeadless = "headless"

	MaxFramesInFlight  = 3
	MaxBloomIterations = 16
)

type Config struct {
	Application ApplicationConfig `toml:"application" yaml:"application"`
	Renderer    RendererConfig    `toml:"renderer" yaml:"renderer"`
	Logging     LoggingConfig     `toml:"logging" yaml:"logging"`
}

type ApplicationConfig struct {
	// The application name used in windowing, if applicable.
	Name string `toml:"name" yaml:"name"`
	// Window starting position, if applicable.
	StartPosX uint32 `toml:"start_pos_x" yaml:"start_pos_x"`
	StartPosY uint32 `toml:"start_pos_y" yaml:"start_pos_y"`
	// Root of the project: shaders and assets are resolved against it.
	ProjectRoot string `toml:"project_root" yaml:"project_root"`
}

type LoggingConfig struct {
	Level string `toml:"level" yaml:"level"`
}

type RendererConfig struct {
	Backend        string       `toml:"backend" yaml:"backend"`
	FramesInFlight uint32       `toml:"frames_in_flight" yaml:"frames_in_flight"`
	Width          uint32       `toml:"width" yaml:"width"`
	Height         uint32       `toml:"height" yaml:"height"`
	ShadowPolicy   ShadowPolicy `toml:"shadow_policy" yaml:"shadow_policy"`
	ShadowMapSize  uint32       `toml:"shadow_map_size" yaml:"shadow_map_size"`
	// Initial capacity of the global mesh buffer, in vertices.
	MeshBufferInitialVertices uint32            `toml:"mesh_buffer_initial_vertices" yaml:"mesh_buffer_initial_vertices"`
	ClearColor                [4]float32        `toml:"clear_color" yaml:"clear_color"`
	PostProcess               PostProcessConfig `toml:"post_process" yaml:"post_process"`
	Pools                     PoolConfig        `toml:"pools" yaml:"pools"`
}

// PostProcessConfig holds the tunables that may change while the engine runs.
type PostProcessConfig struct {
	BloomIterations uint32  `toml:"bloom_iterations" yaml:"bloom_iterations"`
	Exposure        float32 `toml:"exposure" yaml:"exposure"`
	Gamma           float32 `toml:"gamma" yaml:"gamma"`
	BloomThreshold  float32 `toml:"bloom_threshold" yaml:"bloom_threshold"`
	BloomStrength   float32 `toml:"bloom_strength" yaml:"bloom_strength"`
}

type PoolConfig struct {
	MaterialSets     uint32 `toml:"material_sets" yaml:"material_sets"`
	MaterialSamplers uint32 `toml:"material_samplers" yaml:"material_samplers"`
	MaterialUniforms uint32 `toml:"material_uniforms" yaml:"material_uniforms"`
	SkyboxSets       uint32 `toml:"skybox_sets" yaml:"skybox_sets"`
}

func Default() *Config {
	return &Config{
		Application: ApplicationConfig{
			Name:        "Lumen Testbed",
			StartPosX:   100,
			StartPosY:   100,
			ProjectRoot: ".",
		},
		Renderer: RendererConfig{
			Backend:                   BackendVulkan,
			FramesInFlight:            2,
			Width:                     1280,
			Height:                    720,
			ShadowPolicy:              ShadowPolicySameFrame,
			ShadowMapSize:             2048,
			MeshBufferInitialVertices: 65536,
			ClearColor:                [4]float32{0.0, 0.0, 0.0, 1.0},
			PostProcess: PostProcessConfig{
				BloomIterations: 4,
				Exposure:        1.0,
				Gamma:           2.2,
				BloomThreshold:  1.0,
				BloomStrength:   0.04,
			},
			Pools: PoolConfig{
				MaterialSets:     64,
				MaterialSamplers: 64,
				MaterialUniforms: 64,
				SkyboxSets:       2,
			},
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads a configuration file on top of the defaults. The format is picked by extension.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read config %s", path)
	}
	cfg := Default()
	if err := decode(path, data, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(path string, data []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if err := toml.NewDecoder(bytes.NewReader(data)).DisallowUnknownFields().Decode(cfg); err != nil {
			return errors.Wrapf(core.ErrInvalidConfig, "failed to decode %s: %v", path, err)
		}
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil {
			return errors.Wrapf(core.ErrInvalidConfig, "failed to decode %s: %v", path, err)
		}
	default:
		return errors.Wrapf(core.ErrInvalidConfig, "unsupported config extension %q", filepath.Ext(path))
	}
	return nil
}

func (c *Config) Validate() error {
	r := c.Renderer
	switch r.Backend {
	case BackendVulkan, BackendHeadless:
	default:
		return errors.Wrapf(core.ErrInvalidConfig, "unknown renderer backend %q", r.Backend)
	}
	if r.FramesInFlight < 1 || r.FramesInFlight > MaxFramesInFlight {
		return errors.Wrapf(core.ErrInvalidConfig, "frames_in_flight must be in [1,%d], got %d", MaxFramesInFlight, r.FramesInFlight)
	}
	switch r.ShadowPolicy {
	case ShadowPolicySameFrame:
	case ShadowPolicyOneFrameLag:
		if r.FramesInFlight < 2 {
			return errors.Wrapf(core.ErrInvalidConfig, "shadow policy %q needs at least 2 frames in flight", r.ShadowPolicy)
		}
	default:
		return errors.Wrapf(core.ErrInvalidConfig, "unknown shadow policy %q", r.ShadowPolicy)
	}
	if r.Width == 0 || r.Height == 0 {
		return errors.Wrapf(core.ErrInvalidConfig, "invalid extent %dx%d", r.Width, r.Height)
	}
	if r.ShadowMapSize == 0 {
		return errors.Wrap(core.ErrInvalidConfig, "shadow_map_size must be positive")
	}
	if err := r.PostProcess.Validate(); err != nil {
		return err
	}
	if r.Pools.MaterialSets == 0 || r.Pools.SkyboxSets == 0 {
		return errors.Wrap(core.ErrInvalidConfig, "descriptor pools need at least one set")
	}
	return nil
}

func (p PostProcessConfig) Validate() error {
	if p.Exposure <= 0 {
		return errors.Wrapf(core.ErrInvalidConfig, "exposure must be positive, got %f", p.Exposure)
	}
	if p.Gamma <= 0 {
		return errors.Wrapf(core.ErrInvalidConfig, "gamma must be positive, got %f", p.Gamma)
	}
	if p.BloomIterations > MaxBloomIterations {
		return errors.Wrapf(core.ErrInvalidConfig, "bloom_iterations must be in [0,%d], got %d", MaxBloomIterations, p.BloomIterations)
	}
	if p.BloomStrength < 0 || p.BloomThreshold < 0 {
		return errors.Wrap(core.ErrInvalidConfig, "bloom strength and threshold must not be negative")
	}
	return nil
}
