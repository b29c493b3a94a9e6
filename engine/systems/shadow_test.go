package systems_test

import (
	"context"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/lumen/engine/config"
	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer"
	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
	"github.com/spaghettifunk/lumen/engine/systems"
)

func newShadow(t *testing.T, f *fixture, policy config.ShadowPolicy) *systems.ShadowSystem {
	t.Helper()
	mm := systems.NewMeshManager(f.device, 16)
	t.Cleanup(mm.Destroy)
	ss, err := systems.NewShadowSystem(context.Background(), f.sc, mm, policy, 4)
	require.NoError(t, err)
	t.Cleanup(ss.Destroy)
	return ss
}

func TestShadowPolicyPicksSampledImage(t *testing.T) {
	f := newFixture(t, 3)
	same := newShadow(t, f, config.ShadowPolicySameFrame)
	lag := newShadow(t, f, config.ShadowPolicyOneFrameLag)

	for slot, expected := range []uint32{2, 0, 1} {
		assert.Equal(t, uint32(slot), same.SampledIndex(uint32(slot)))
		assert.Equal(t, expected, lag.SampledIndex(uint32(slot)))
	}
}

func TestOneFrameLagNeedsTwoSlots(t *testing.T) {
	f := newFixture(t, 1)
	mm := systems.NewMeshManager(f.device, 16)
	_, err := systems.NewShadowSystem(context.Background(), f.sc, mm, config.ShadowPolicyOneFrameLag, 4)
	assert.True(t, errors.Is(err, core.ErrInvalidConfig))
}

func TestShadowRingFollowsFrameSlot(t *testing.T) {
	f := newFixture(t, 2)
	ss := newShadow(t, f, config.ShadowPolicySameFrame)

	for i := 0; i < 5; i++ {
		fi, err := frame(t, f, nil, ss.Render)
		require.NoError(t, err)
		assert.Equal(t, fi.SlotIndex, ss.ImageIndex())
		// the map is left ready for the lighting pass
		assert.Equal(t, metadata.ImageLayoutShaderReadOnly, ss.Image(fi.SlotIndex).Layout())
	}
}

func TestShadowUpdateSetsLightSpace(t *testing.T) {
	f := newFixture(t, 1)
	ss := newShadow(t, f, config.ShadowPolicySameFrame)

	ubo := metadata.NewGlobalUBO(camera())
	require.NoError(t, ss.Update(&renderer.FrameInfo{}, &ubo))
	assert.NotEqual(t, mgl32.Ident4(), ubo.LightSpace)

	origin := ubo.LightSpace.Mul4x1(mgl32.Vec4{0, 0, 0, 1})
	depth := origin.Z() / origin.W()
	assert.Greater(t, depth, float32(0))
	assert.Less(t, depth, float32(1))
}
