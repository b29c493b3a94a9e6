package systems_test

import (
	"context"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/lumen/engine/config"
	"github.com/spaghettifunk/lumen/engine/renderer"
	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
	"github.com/spaghettifunk/lumen/engine/systems"
)

func managerConfig(t *testing.T, d renderer.Device, policy config.ShadowPolicy) systems.SystemManagerConfig {
	r := config.Default().Renderer
	r.ShadowMapSize = 8
	r.ShadowPolicy = policy
	r.PostProcess.BloomIterations = 1
	return systems.SystemManagerConfig{
		Renderer: r,
		Shaders:  shaders,
		Skybox:   cubemap(t, d),
		Workers:  1,
	}
}

func TestSystemManagerRendersFrames(t *testing.T) {
	for _, policy := range []config.ShadowPolicy{config.ShadowPolicySameFrame, config.ShadowPolicyOneFrameLag} {
		t.Run(string(policy), func(t *testing.T) {
			f := newFixture(t, 2)
			sm, err := systems.NewSystemManager(context.Background(), f.fm, managerConfig(t, f.device, policy))
			require.NoError(t, err)

			assert.Equal(t, []string{"shadow", "scene:begin", "skybox", "material", "grid", "scene:end", "postprocess"}, sm.Chain().Order())
			assert.Len(t, sm.Chain().Systems(), 5)

			mesh, err := sm.Meshes().RegisterModel(triangle("tri"))
			require.NoError(t, err)
			mat, err := sm.Materials().CreateMaterial(systems.DefaultMaterialName, texture(t, f.device, [4]byte{255, 255, 255, 255}), systems.MaterialParams{})
			require.NoError(t, err)
			objects := []metadata.Renderable{{Mesh: mesh, Material: mat, Model: mgl32.Ident4(), CastsShadow: true}}

			for i := 0; i < 4; i++ {
				require.NoError(t, sm.Update())
				_, err := frame(t, f, objects, sm.Render)
				require.NoError(t, err)
			}
			stats := f.device.Stats()
			assert.Equal(t, uint64(4), stats.Presents)
			// resolve, bright pass, one blur, tonemap
			assert.Equal(t, uint64(16), stats.FullscreenDraws)
			assert.Equal(t, 1, sm.Meshes().Rebuilds())
			require.NoError(t, sm.Shutdown())
		})
	}
}
